package cache

import (
	"sync"
	"time"
)

const (
	defaultRetention  = 10 * time.Minute
	defaultMaxEntries = 100_000
)

// DedupCache 有界、按时间淘汰的判重集合：key → 首次出现时间（毫秒）。
// feed 订阅、队列消费、通知投递各自持有独立实例，互不共享。
//
// 容量上限是硬性保护：写满后先按窗口淘汰，仍然超限则按最早出现时间
// 批量剔除最老的一批，保证内存不会被异常流量撑爆。
type DedupCache struct {
	mu        sync.Mutex
	firstSeen map[string]int64 // key → firstSeenAtMillis
	retention time.Duration
	maxSize   int

	now func() time.Time // 便于测试注入时钟
}

func NewDedupCache(retention time.Duration, maxEntries int) *DedupCache {
	if retention <= 0 {
		retention = defaultRetention
	}
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &DedupCache{
		firstSeen: make(map[string]int64),
		retention: retention,
		maxSize:   maxEntries,
		now:       time.Now,
	}
}

// Seen 判断 key 是否在保留窗口内出现过（不修改状态）。
func (c *DedupCache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	at, ok := c.firstSeen[key]
	if !ok {
		return false
	}
	if c.now().UnixMilli()-at > c.retention.Milliseconds() {
		delete(c.firstSeen, key)
		return false
	}
	return true
}

// MarkSeen 记录 key 的首次出现时间；已存在时不刷新（窗口按首见计算）。
func (c *DedupCache) MarkSeen(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key)
}

// SeenOrMark 原子地完成"查过就跳过，没查过就记下"，返回之前是否已出现。
// 这是各热路径的主入口，避免 Seen + MarkSeen 两次加锁间的竞争窗口。
func (c *DedupCache) SeenOrMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	nowMs := c.now().UnixMilli()
	if at, ok := c.firstSeen[key]; ok {
		if nowMs-at <= c.retention.Milliseconds() {
			return true
		}
		// 已过窗口，视为新条目重新计时
	}
	c.markLocked(key)
	return false
}

// EvictOlderThan 按给定窗口清理过期条目，返回清理数量。
func (c *DedupCache) EvictOlderThan(window time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().UnixMilli() - window.Milliseconds()
	evicted := 0
	for key, at := range c.firstSeen {
		if at < cutoff {
			delete(c.firstSeen, key)
			evicted++
		}
	}
	return evicted
}

func (c *DedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.firstSeen)
}

func (c *DedupCache) markLocked(key string) {
	nowMs := c.now().UnixMilli()
	// 窗口内的既有条目保持首见时间，不重复计时；过期条目重新落点
	if at, ok := c.firstSeen[key]; ok && nowMs-at <= c.retention.Milliseconds() {
		return
	}
	if len(c.firstSeen) >= c.maxSize {
		c.shrinkLocked()
	}
	c.firstSeen[key] = nowMs
}

// shrinkLocked 先清过期条目；仍超限时剔除最老的 1/4，保证写入永远可进行。
func (c *DedupCache) shrinkLocked() {
	cutoff := c.now().UnixMilli() - c.retention.Milliseconds()
	for key, at := range c.firstSeen {
		if at < cutoff {
			delete(c.firstSeen, key)
		}
	}
	if len(c.firstSeen) < c.maxSize {
		return
	}

	drop := c.maxSize / 4
	if drop == 0 {
		drop = 1
	}
	// 不追求严格的最老优先，按一次遍历近似淘汰即可（热路径上不做排序）
	for key := range c.firstSeen {
		delete(c.firstSeen, key)
		drop--
		if drop == 0 {
			break
		}
	}
}
