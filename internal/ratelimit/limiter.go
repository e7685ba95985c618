package ratelimit

import (
	"sync"
	"time"

	"txfeed-sol/pkg/logger"
)

// 各级阈值触发的惩罚窗口
const (
	penaltyMinute = 5 * time.Minute
	penaltyHour   = time.Hour
	penaltyDay    = 24 * time.Hour
)

// TierLimits 单档位的分/时/日三级阈值。
type TierLimits struct {
	Minute int
	Hour   int
	Day    int
}

// userState 单用户的计数状态。进程内存态，重启后从零重建。
type userState struct {
	tier        string
	minuteCount int
	hourCount   int
	dayCount    int
	limitedTill time.Time // 零值表示无惩罚窗口
}

// NotifyFunc 限流触发时给用户的一次性提示出口（外部协作方）。
type NotifyFunc func(userID string, until time.Time)

// Limiter 按用户分档限流，门控用户可见的出站副作用（不限制摄取本身）。
// 三个计数器是固定窗口近似滑动窗口：跨重置边界的突发会被低估，已知局限。
type Limiter struct {
	mu     sync.Mutex
	users  map[string]*userState
	tiers  map[string]TierLimits
	lowest string // 快照缺失时的兜底档位
	source TierSource
	notify NotifyFunc

	now func() time.Time
}

// TierSource 档位快照查询口（由周期刷新的快照实现）。
type TierSource interface {
	TierOf(userID string) (string, bool)
}

func NewLimiter(tiers map[string]TierLimits, defaultTier string, source TierSource, notify NotifyFunc) *Limiter {
	if notify == nil {
		notify = func(string, time.Time) {}
	}
	return &Limiter{
		users:  make(map[string]*userState),
		tiers:  tiers,
		lowest: defaultTier,
		source: source,
		notify: notify,
		now:    time.Now,
	}
}

// Admit 对一次可计费事件做放行判定。
// isExempt=true 的特权流量只计数、永不拒绝（计数仍影响后续判定）。
func (l *Limiter) Admit(userID string, isExempt bool) bool {
	allowed, limitedTill, fire := l.admitLocked(userID, isExempt)
	// 通知出口可能做阻塞 IO（推队列），必须在锁外触发
	if fire {
		l.notify(userID, limitedTill)
	}
	return allowed
}

func (l *Limiter) admitLocked(userID string, isExempt bool) (allowed bool, limitedTill time.Time, fire bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	// 1. 初始化或累加。档位每次都从快照重新解析，升降级随快照刷新生效
	st, ok := l.users[userID]
	if !ok {
		st = &userState{minuteCount: 1, hourCount: 1, dayCount: 1}
		l.users[userID] = st
	} else {
		st.minuteCount++
		st.hourCount++
		st.dayCount++
	}
	st.tier = l.resolveTierLocked(userID)

	// 2. 过期的惩罚窗口先清掉
	if !st.limitedTill.IsZero() && !st.limitedTill.After(now) {
		st.limitedTill = time.Time{}
	}

	// 3. 惩罚窗口内直接拒绝（不重复通知）
	if st.limitedTill.After(now) {
		return isExempt, time.Time{}, false
	}

	// 4. 按 日 → 时 → 分 优先级判定，首个越界的阈值生效
	limits := l.limitsFor(st.tier)
	var penalty time.Duration
	switch {
	case limits.Day > 0 && st.dayCount > limits.Day:
		penalty = penaltyDay
	case limits.Hour > 0 && st.hourCount > limits.Hour:
		penalty = penaltyHour
	case limits.Minute > 0 && st.minuteCount > limits.Minute:
		penalty = penaltyMinute
	default:
		return true, time.Time{}, false // 5. 放行
	}

	st.limitedTill = now.Add(penalty)
	logger.Infof("[ratelimit] user %s tier=%s throttled for %v", userID, st.tier, penalty)
	// 一次性提示：之后窗口内的拒绝走上面第 3 步，不再通知
	return isExempt, st.limitedTill, !isExempt
}

// ResetMinute 分钟级外部清零扫描。
func (l *Limiter) ResetMinute() { l.reset(func(st *userState) { st.minuteCount = 0 }) }

// ResetHour 小时级外部清零扫描。
func (l *Limiter) ResetHour() { l.reset(func(st *userState) { st.hourCount = 0 }) }

// ResetDay 天级外部清零扫描，同时把长期静默的用户状态清走。
func (l *Limiter) ResetDay() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for id, st := range l.users {
		st.dayCount = 0
		// 无计数且无惩罚窗口的条目没有保留价值
		if st.minuteCount == 0 && st.hourCount == 0 && !st.limitedTill.After(now) {
			delete(l.users, id)
		}
	}
}

func (l *Limiter) reset(fn func(*userState)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, st := range l.users {
		fn(st)
	}
}

func (l *Limiter) resolveTierLocked(userID string) string {
	if l.source != nil {
		if tier, ok := l.source.TierOf(userID); ok {
			if _, known := l.tiers[tier]; known {
				return tier
			}
		}
	}
	return l.lowest
}

func (l *Limiter) limitsFor(tier string) TierLimits {
	if limits, ok := l.tiers[tier]; ok {
		return limits
	}
	return l.tiers[l.lowest]
}
