package svc

import (
	"context"
	"fmt"
	"time"

	"txfeed-sol/internal/alert"
	"txfeed-sol/internal/cache"
	"txfeed-sol/internal/config"
	"txfeed-sol/internal/logic/tracker"
	"txfeed-sol/internal/queue"
	"txfeed-sol/internal/ratelimit"
	"txfeed-sol/pkg/logger"

	"github.com/redis/go-redis/v9"
	"github.com/zeromicro/go-zero/core/service"
)

// WorkerContext 消费进程的资源：单角色队列消费 + 限流配套服务。
type WorkerContext struct {
	Config config.WorkerConfig
	Redis  *redis.Client

	Services []service.Service
}

func NewWorkerContext(c config.WorkerConfig) (*WorkerContext, error) {
	if c.Role == "" {
		return nil, fmt.Errorf("worker role not configured")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     c.RedisConf.Addr,
		Password: c.RedisConf.Password,
		DB:       c.RedisConf.DB,
	})

	retention := 10 * time.Minute
	if c.DedupConf.RetentionS > 0 {
		retention = time.Duration(c.DedupConf.RetentionS) * time.Second
	}
	dedup := cache.NewDedupCache(retention, c.DedupConf.MaxEntries)

	alerter := alert.NewRedisAlerter(rdb)
	producer := queue.NewProducer(rdb)

	var services []service.Service
	var handler queue.Handler

	switch c.Role {
	case queue.RoleWalletTracker:
		tierStore := ratelimit.NewTierStore(rdb, time.Duration(c.RateLimitConf.SnapshotRefreshSec)*time.Second)
		limiter := ratelimit.NewLimiter(
			tierLimits(c.RateLimitConf),
			c.RateLimitConf.DefaultTier,
			tierStore,
			quotaNotify(producer),
		)
		registry := tracker.NewRegistry(rdb, time.Duration(c.TrackerConf.RegistryRefreshSec)*time.Second)

		handler = tracker.NewWalletTracker(registry, dedup, limiter, producer, c.TrackerConf.ExemptUsers)
		services = append(services, tierStore, registry, ratelimit.NewSweeper(limiter))
	default:
		// 其余角色的结算/通知逻辑由各自服务实现，这里先落日志占位
		handler = queue.HandlerFunc(func(_ context.Context, env *queue.Envelope) error {
			logger.Infof("[%s] received %s envelope (v%d)", c.Role, env.Kind, env.Version)
			return nil
		})
	}

	services = append(services, queue.NewConsumer(rdb, c.Role, handler, alerter))

	logger.Infof("worker context ready, role=%s", c.Role)
	return &WorkerContext{
		Config:   c,
		Redis:    rdb,
		Services: services,
	}, nil
}

func (sc *WorkerContext) Close() {
	if sc.Redis != nil {
		_ = sc.Redis.Close()
	}
}

func tierLimits(c config.RateLimitConfig) map[string]ratelimit.TierLimits {
	tiers := make(map[string]ratelimit.TierLimits, len(c.Tiers))
	for name, t := range c.Tiers {
		tiers[name] = ratelimit.TierLimits{Minute: t.Minute, Hour: t.Hour, Day: t.Day}
	}
	return tiers
}

// quotaNotify 限流触发时给用户的一次性提示，通过通知角色送达。
func quotaNotify(producer *queue.Producer) ratelimit.NotifyFunc {
	return func(userID string, until time.Time) {
		payload := queue.UserNotifyPayload{
			UserID: userID,
			Text:   fmt.Sprintf("notification limit reached, delivery paused until %s", until.UTC().Format(time.RFC3339)),
		}
		env, err := queue.NewEnvelope(queue.KindUserNotify, payload)
		if err != nil {
			logger.Errorf("[ratelimit] build quota notice for %s failed: %v", userID, err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := producer.Push(ctx, queue.RoleNotifier, env); err != nil {
			logger.Errorf("[ratelimit] push quota notice for %s failed: %v", userID, err)
		}
	}
}
