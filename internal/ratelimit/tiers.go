package ratelimit

import (
	"context"
	"sync"
	"time"

	"txfeed-sol/internal/pubsub"
	"txfeed-sol/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const (
	// TierHashKey 共享存储中的档位快照：userID → tier 名
	TierHashKey = "ratelimit:tiers"
	// TierInvalidateChannel 档位变更广播通道，收到即立刻刷新快照
	TierInvalidateChannel = "ratelimit:tiers:invalidate"

	defaultRefreshInterval = 5 * time.Minute
)

// TierStore 周期刷新的用户档位快照。
// 读路径纯内存；刷新由 ticker 和失效广播双路触发，最终一致。
type TierStore struct {
	mu       sync.RWMutex
	snapshot map[string]string

	rdb      *redis.Client
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewTierStore(rdb *redis.Client, refreshInterval time.Duration) *TierStore {
	if refreshInterval <= 0 {
		refreshInterval = defaultRefreshInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TierStore{
		snapshot: make(map[string]string),
		rdb:      rdb,
		interval: refreshInterval,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// TierOf 实现 TierSource。缺失条目由调用方落到最低档。
func (s *TierStore) TierOf(userID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tier, ok := s.snapshot[userID]
	return tier, ok
}

// Start 拉首份快照后进入刷新循环（ticker + 失效广播）。
func (s *TierStore) Start() {
	defer close(s.done)

	if err := s.refresh(); err != nil {
		logger.Warnf("[tiers] initial snapshot load failed: %v", err)
	}

	sub := pubsub.Subscribe(s.ctx, s.rdb, TierInvalidateChannel)
	defer sub.Close()
	invalidate := sub.Messages()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		case _, ok := <-invalidate:
			if !ok {
				return
			}
		}
		if err := s.refresh(); err != nil {
			logger.Warnf("[tiers] snapshot refresh failed: %v", err)
		}
	}
}

func (s *TierStore) Stop() {
	s.cancel()
	<-s.done
}

func (s *TierStore) refresh() error {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()

	snapshot, err := s.rdb.HGetAll(ctx, TierHashKey).Result()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.snapshot = snapshot
	s.mu.Unlock()
	return nil
}

// Invalidate 发布失效广播，所有进程的快照随之刷新（写侧协作方调用）。
func Invalidate(ctx context.Context, rdb *redis.Client) error {
	return pubsub.Publish(ctx, rdb, TierInvalidateChannel, []byte("refresh"))
}

// StaticTierSource 固定映射实现，测试用。
type StaticTierSource map[string]string

func (s StaticTierSource) TierOf(userID string) (string, bool) {
	tier, ok := s[userID]
	return tier, ok
}
