package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock 可手动推进的时钟
type fakeClock struct {
	t time.Time
}

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCache(retention time.Duration, maxEntries int) (*DedupCache, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := NewDedupCache(retention, maxEntries)
	c.now = clk.Now
	return c, clk
}

func TestDedupCache_SeenOrMark(t *testing.T) {
	c, clk := newTestCache(10*time.Minute, 0)

	// 窗口内第二次提交必须被判重
	assert.False(t, c.SeenOrMark("sig-1"))
	assert.True(t, c.SeenOrMark("sig-1"))
	assert.True(t, c.Seen("sig-1"))

	// 窗口过期后重新提交，应视为新条目
	clk.Advance(10*time.Minute + time.Second)
	assert.False(t, c.SeenOrMark("sig-1"))
	assert.True(t, c.SeenOrMark("sig-1"))
}

func TestDedupCache_MarkSeenKeepsFirstSeen(t *testing.T) {
	c, clk := newTestCache(10*time.Minute, 0)

	// 重复标记不重置首见时间：窗口从第一次出现起算
	c.MarkSeen("sig-1")
	clk.Advance(9 * time.Minute)
	c.MarkSeen("sig-1")
	clk.Advance(2 * time.Minute)
	assert.False(t, c.Seen("sig-1"), "retention window anchors on the first mark")

	// 过期后重新标记则重新计时
	c.MarkSeen("sig-1")
	clk.Advance(9 * time.Minute)
	assert.True(t, c.Seen("sig-1"))
}

func TestDedupCache_EvictOlderThan(t *testing.T) {
	c, clk := newTestCache(10*time.Minute, 0)

	c.MarkSeen("old-1")
	c.MarkSeen("old-2")
	clk.Advance(5 * time.Minute)
	c.MarkSeen("new-1")

	evicted := c.EvictOlderThan(4 * time.Minute)
	assert.Equal(t, 2, evicted)
	assert.Equal(t, 1, c.Len())
	assert.False(t, c.Seen("old-1"))
	assert.True(t, c.Seen("new-1"))
}

func TestDedupCache_CapacityBound(t *testing.T) {
	c, _ := newTestCache(time.Hour, 100)

	for i := 0; i < 500; i++ {
		c.MarkSeen(fmt.Sprintf("sig-%d", i))
	}
	// 容量上限必须始终成立，写入不被阻止
	assert.LessOrEqual(t, c.Len(), 100)
	c.MarkSeen("final")
	assert.True(t, c.Seen("final"))
}
