package tracker

import (
	"context"
	"sync"
	"time"

	"txfeed-sol/internal/pubsub"
	"txfeed-sol/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const (
	// RegistryHashKey 共享存储中的钱包登记表：钱包地址 → 用户 ID
	RegistryHashKey = "tracker:wallets"
	// RegistryInvalidateChannel 登记变更广播通道
	RegistryInvalidateChannel = "tracker:wallets:invalidate"

	defaultRegistryRefresh = time.Minute
)

// WalletSource 钱包地址到用户的映射查询。
type WalletSource interface {
	UserOf(wallet string) (string, bool)
}

// Registry 周期刷新的钱包登记快照，读路径纯内存。
// 写侧（账户服务）改动登记表后发 invalidate 广播催刷。
type Registry struct {
	mu       sync.RWMutex
	snapshot map[string]string

	rdb      *redis.Client
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRegistry(rdb *redis.Client, refreshInterval time.Duration) *Registry {
	if refreshInterval <= 0 {
		refreshInterval = defaultRegistryRefresh
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		snapshot: make(map[string]string),
		rdb:      rdb,
		interval: refreshInterval,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// UserOf 实现 WalletSource。未登记的钱包无人跟踪。
func (r *Registry) UserOf(wallet string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.snapshot[wallet]
	return userID, ok
}

func (r *Registry) Start() {
	defer close(r.done)

	if err := r.refresh(); err != nil {
		logger.Warnf("[tracker] initial wallet registry load failed: %v", err)
	}

	sub := pubsub.Subscribe(r.ctx, r.rdb, RegistryInvalidateChannel)
	defer sub.Close()
	invalidate := sub.Messages()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
		case _, ok := <-invalidate:
			if !ok {
				return
			}
		}
		if err := r.refresh(); err != nil {
			logger.Warnf("[tracker] wallet registry refresh failed: %v", err)
		}
	}
}

func (r *Registry) Stop() {
	r.cancel()
	<-r.done
}

func (r *Registry) refresh() error {
	ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
	defer cancel()

	snapshot, err := r.rdb.HGetAll(ctx, RegistryHashKey).Result()
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.snapshot = snapshot
	r.mu.Unlock()
	return nil
}

// StaticWalletSource 固定映射实现，测试用。
type StaticWalletSource map[string]string

func (s StaticWalletSource) UserOf(wallet string) (string, bool) {
	userID, ok := s[wallet]
	return userID, ok
}
