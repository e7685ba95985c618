package alert

import (
	"context"
	"encoding/json"
	"time"

	"txfeed-sol/internal/cache"
	"txfeed-sol/internal/pubsub"
	"txfeed-sol/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// Kind 运维告警分类，对应错误分级中需要告警的几类。
type Kind string

const (
	KindTransientConnection   Kind = "transient_connection"
	KindDownstreamUnavailable Kind = "downstream_unavailable"
)

// OpsChannel 运维告警的广播通道名（Redis pub/sub）。
const OpsChannel = "ops:alerts"

// 同一来源的告警在该窗口内只发一次，避免抖动刷屏
const throttleWindow = 5 * time.Minute

// Alerter 面向运维的系统通知出口。告警永远不落到终端用户界面。
type Alerter interface {
	Alert(ctx context.Context, kind Kind, msg string)
}

type payload struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	At      int64  `json:"at"`
}

// RedisAlerter 把告警发布到共享存储的运维通道，同时落日志。
type RedisAlerter struct {
	rdb      *redis.Client
	throttle *cache.DedupCache
}

func NewRedisAlerter(rdb *redis.Client) *RedisAlerter {
	return &RedisAlerter{
		rdb:      rdb,
		throttle: cache.NewDedupCache(throttleWindow, 4096),
	}
}

func (a *RedisAlerter) Alert(ctx context.Context, kind Kind, msg string) {
	logger.Errorf("[ops-alert] %s: %s", kind, msg)
	if a.throttle.SeenOrMark(string(kind) + "|" + msg) {
		return
	}

	body, err := json.Marshal(payload{Kind: kind, Message: msg, At: time.Now().UnixMilli()})
	if err != nil {
		return
	}
	if err := pubsub.Publish(ctx, a.rdb, OpsChannel, body); err != nil {
		// 告警通道本身不可用时只能靠日志兜底
		logger.Warnf("[ops-alert] publish failed: %v", err)
	}
}

// LogAlerter 纯日志实现，测试与无 Redis 场景使用。
type LogAlerter struct{}

func (LogAlerter) Alert(_ context.Context, kind Kind, msg string) {
	logger.Errorf("[ops-alert] %s: %s", kind, msg)
}
