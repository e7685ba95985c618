package ratelimit

import (
	"context"
	"time"
)

// Sweeper 周期清零服务：代行外部调度器的分/时/日三路触发。
// 固定窗口语义由它保证，Limiter 本身不感知时间边界。
type Sweeper struct {
	limiter *Limiter

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweeper(limiter *Limiter) *Sweeper {
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		limiter: limiter,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	defer close(s.done)

	minuteTicker := time.NewTicker(time.Minute)
	hourTicker := time.NewTicker(time.Hour)
	dayTicker := time.NewTicker(24 * time.Hour)
	defer minuteTicker.Stop()
	defer hourTicker.Stop()
	defer dayTicker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-minuteTicker.C:
			s.limiter.ResetMinute()
		case <-hourTicker.C:
			s.limiter.ResetHour()
		case <-dayTicker.C:
			s.limiter.ResetDay()
		}
	}
}

func (s *Sweeper) Stop() {
	s.cancel()
	<-s.done
}
