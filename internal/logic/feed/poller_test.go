package feed

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"txfeed-sol/internal/cache"
	"txfeed-sol/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu      sync.Mutex
	sigs    map[string][]string // address → 最近签名
	fetched []string
	fail    map[string]bool
}

func (s *fakeSource) RecentSignatures(_ context.Context, address string, _ int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sigs[address], nil
}

func (s *fakeSource) FetchTransaction(_ context.Context, signature string) (*RawTransaction, uint64, error) {
	s.mu.Lock()
	s.fetched = append(s.fetched, signature)
	s.mu.Unlock()
	if s.fail[signature] {
		return nil, 0, fmt.Errorf("rpc unavailable")
	}
	return &RawTransaction{
		Signatures:  [][]byte{make([]byte, 64)},
		AccountKeys: [][]byte{make([]byte, 32)},
	}, 55, nil
}

func pollChainCfg(addrs ...string) config.ChainConfig {
	return config.ChainConfig{
		ChainID:    "solana-devnet",
		ListenerID: "poll-test",
		Mode:       "poll",
		Poll: config.PollFeedConfig{
			Addresses:    addrs,
			FetchWorkers: 2,
		},
	}
}

func TestPoller_RunOnce(t *testing.T) {
	source := &fakeSource{sigs: map[string][]string{
		"addr1": {"sigA", "sigB"},
		"addr2": {"sigB", "sigC"}, // sigB 两个地址都出现，只拉一次
	}}
	out := make(chan *RawRecord, 16)
	p := NewPoller(pollChainCfg("addr1", "addr2"), source, cache.NewDedupCache(10*time.Minute, 1000), out)

	p.RunOnce()
	assert.Len(t, source.fetched, 3)
	require.Len(t, out, 3)

	rec := <-out
	assert.Equal(t, "solana-devnet", rec.ChainID)
	assert.Equal(t, "poll-test", rec.ListenerID)
	assert.Equal(t, uint64(55), rec.Slot)
	assert.False(t, rec.ReceivedAt.IsZero())

	// 第二轮：所有签名都在判重窗口内，不再拉取
	p.RunOnce()
	assert.Len(t, source.fetched, 3)
	assert.Len(t, out, 2)
}

func TestPoller_FetchFailureDropped(t *testing.T) {
	source := &fakeSource{
		sigs: map[string][]string{"addr1": {"good", "bad"}},
		fail: map[string]bool{"bad": true},
	}
	out := make(chan *RawRecord, 16)
	p := NewPoller(pollChainCfg("addr1"), source, cache.NewDedupCache(10*time.Minute, 1000), out)

	p.RunOnce()
	require.Len(t, out, 1, "failed fetch is dropped without retry")

	// 失败的签名已被标记，不会在下一轮重拉
	p.RunOnce()
	assert.Len(t, source.fetched, 2)
}
