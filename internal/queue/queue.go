package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"txfeed-sol/internal/alert"
	"txfeed-sol/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix    = "queue:"
	popWait      = time.Second // BLPOP 的短轮询等待
	popErrorWait = time.Second // 存储出错后的退避
)

func queueKey(role string) string {
	return keyPrefix + role
}

// Producer 向角色队列尾部追加信封（RPUSH）。
// 多个生产进程可同时写同一个角色队列，FIFO 顺序由共享存储保证。
type Producer struct {
	rdb *redis.Client
}

func NewProducer(rdb *redis.Client) *Producer {
	return &Producer{rdb: rdb}
}

func (p *Producer) Push(ctx context.Context, role string, env *Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	if err := p.rdb.RPush(ctx, queueKey(role), data).Err(); err != nil {
		return fmt.Errorf("push to %s: %w", role, err)
	}
	return nil
}

// Len 返回角色队列当前长度（运维观测用，无背压语义）。
func (p *Producer) Len(ctx context.Context, role string) (int64, error) {
	return p.rdb.LLen(ctx, queueKey(role)).Result()
}

// Handler 单个角色的消息处理器。
// 投递语义是 at-least-once，同一逻辑载荷可能经多条路径重复到达，
// 实现必须幂等（按载荷唯一 ID 判重）。
type Handler interface {
	Handle(ctx context.Context, env *Envelope) error
}

// HandlerFunc 便捷适配器。
type HandlerFunc func(ctx context.Context, env *Envelope) error

func (f HandlerFunc) Handle(ctx context.Context, env *Envelope) error {
	return f(ctx, env)
}

// Consumer 单角色的消费循环：从队列头部阻塞弹出、解析、分派，随后立即
// 继续下一轮，贯穿进程整个生命周期。pop 与处理之间没有事务性 ack，
// 处理中崩溃即丢该条（已知取舍）。
type Consumer struct {
	rdb     *redis.Client
	role    string
	handler Handler
	alerter alert.Alerter

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewConsumer(rdb *redis.Client, role string, handler Handler, alerter alert.Alerter) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		rdb:     rdb,
		role:    role,
		handler: handler,
		alerter: alerter,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

func (c *Consumer) Start() {
	defer close(c.done)
	logger.Infof("[queue:%s] consumer started", c.role)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}
		c.consumeOne()
	}
}

func (c *Consumer) Stop() {
	c.cancel()
	<-c.done
	logger.Infof("[queue:%s] consumer stopped", c.role)
}

func (c *Consumer) consumeOne() {
	vals, err := c.rdb.BLPop(c.ctx, popWait, queueKey(c.role)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
			return // 队列空 / 退出
		}
		logger.Warnf("[queue:%s] pop failed: %v", c.role, err)
		select {
		case <-c.ctx.Done():
		case <-time.After(popErrorWait):
		}
		return
	}
	// BLPOP 返回 [key, value]
	if len(vals) != 2 {
		return
	}

	env, err := DecodeEnvelope([]byte(vals[1]))
	if err != nil {
		// 无法解析的条目丢弃：队列里没有可供重排的位置
		logger.Warnf("[queue:%s] malformed envelope dropped: %v", c.role, err)
		return
	}

	if err := c.handler.Handle(c.ctx, env); err != nil {
		// 处理失败不回队、不重投；下游依赖不可用属于运维告警事件
		logger.Errorf("[queue:%s] handler failed for kind=%s: %v", c.role, env.Kind, err)
		c.alerter.Alert(c.ctx, alert.KindDownstreamUnavailable,
			fmt.Sprintf("queue %s: handler failed for kind=%s: %v", c.role, env.Kind, err))
	}
}
