package pubsub

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// 共享存储广播的薄封装：档位失效与运维告警共用这一层，
// 调用方只关心通道名和字符串载荷。

// Publish 向指定通道广播一条消息。无订阅者时静默丢弃（Redis 语义）。
func Publish(ctx context.Context, rdb *redis.Client, channel string, payload []byte) error {
	return rdb.Publish(ctx, channel, payload).Err()
}

// Subscription 一条通道的订阅句柄。Messages 返回的通道在 Close 后关闭。
type Subscription struct {
	sub *redis.PubSub
	out chan string
}

// Subscribe 订阅通道并启动转发循环。ctx 取消后转发循环退出。
func Subscribe(ctx context.Context, rdb *redis.Client, channel string) *Subscription {
	sub := rdb.Subscribe(ctx, channel)
	s := &Subscription{
		sub: sub,
		out: make(chan string, 16),
	}

	go func() {
		defer close(s.out)
		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case s.out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return s
}

// Messages 接收该订阅的消息载荷。
func (s *Subscription) Messages() <-chan string {
	return s.out
}

// Close 取消订阅。Messages 通道随转发循环退出而关闭。
func (s *Subscription) Close() {
	_ = s.sub.Close()
}
