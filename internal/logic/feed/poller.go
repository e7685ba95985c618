package feed

import (
	"context"
	"fmt"
	"time"

	"txfeed-sol/internal/cache"
	"txfeed-sol/internal/config"
	"txfeed-sol/internal/consts"
	"txfeed-sol/pkg/logger"

	sdkclient "github.com/blocto/solana-go-sdk/client"
)

const (
	defaultPollInterval = time.Second
	defaultBatchLimit   = 256
	defaultFetchWorkers = 4
	defaultDedupWindow  = 10 * time.Minute
)

// SignatureSource 轮询上游的最小抓取能力，便于测试替换真实 RPC。
type SignatureSource interface {
	// RecentSignatures 返回某地址最近触达的签名引用（新→旧）。
	RecentSignatures(ctx context.Context, address string, limit int) ([]string, error)
	// FetchTransaction 拉取完整交易并适配为 RawTransaction。
	FetchTransaction(ctx context.Context, signature string) (*RawTransaction, uint64, error)
}

// rpcSource 基于 JSON-RPC 的 SignatureSource 实现。
type rpcSource struct {
	cli *sdkclient.Client
}

func NewRpcSource(endpoint string) SignatureSource {
	return &rpcSource{cli: sdkclient.NewClient(endpoint)}
}

func (s *rpcSource) RecentSignatures(ctx context.Context, address string, limit int) ([]string, error) {
	list, err := s.cli.GetSignaturesForAddressWithConfig(ctx, address, sdkclient.GetSignaturesForAddressConfig{
		Limit: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("getSignaturesForAddress %s: %w", address, err)
	}
	sigs := make([]string, 0, len(list))
	for _, item := range list {
		if item.Err != nil {
			continue // 失败交易不进入管道
		}
		sigs = append(sigs, item.Signature)
	}
	return sigs, nil
}

func (s *rpcSource) FetchTransaction(ctx context.Context, signature string) (*RawTransaction, uint64, error) {
	tx, err := s.cli.GetTransaction(ctx, signature)
	if err != nil {
		return nil, 0, fmt.Errorf("getTransaction %s: %w", signature, err)
	}
	if tx == nil {
		return nil, 0, fmt.Errorf("getTransaction %s: not found", signature)
	}
	raw, err := AdaptRpcTx(tx)
	if err != nil {
		return nil, 0, err
	}
	return raw, tx.Slot, nil
}

// Poller 轮询模式的链上 feed：无订阅能力的上游用固定间隔抓最近签名。
// 每个 tick：先按保留窗口清理判重缓存，再抓取各配置地址最近的一批签名引用，
// 未见过的标记后派发全量拉取 + 适配。单条拉取失败只记日志并丢弃，不重试。
type Poller struct {
	chainCfg config.ChainConfig
	source   SignatureSource
	dedup    *cache.DedupCache
	out      chan<- *RawRecord

	interval    time.Duration
	batchLimit  int
	dedupWindow time.Duration
	workers     int

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPoller(chainCfg config.ChainConfig, source SignatureSource, dedup *cache.DedupCache, out chan<- *RawRecord) *Poller {
	pollCfg := chainCfg.Poll

	interval := defaultPollInterval
	if pollCfg.IntervalMs > 0 {
		interval = time.Duration(pollCfg.IntervalMs) * time.Millisecond
	}
	batchLimit := pollCfg.BatchLimit
	if batchLimit <= 0 {
		batchLimit = defaultBatchLimit
	}
	workers := pollCfg.FetchWorkers
	if workers <= 0 {
		workers = defaultFetchWorkers
		if consts.CpuCount < workers {
			workers = consts.CpuCount
		}
	}
	dedupWindow := defaultDedupWindow
	if pollCfg.DedupWindowS > 0 {
		dedupWindow = time.Duration(pollCfg.DedupWindowS) * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		chainCfg:    chainCfg,
		source:      source,
		dedup:       dedup,
		out:         out,
		interval:    interval,
		batchLimit:  batchLimit,
		dedupWindow: dedupWindow,
		workers:     workers,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

func (p *Poller) Start() {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *Poller) Stop() {
	p.cancel()
	<-p.done
}

// tick 单轮抓取。RunOnce 的内部入口，测试可直接驱动有限次数。
func (p *Poller) tick() {
	p.dedup.EvictOlderThan(p.dedupWindow)

	pending := make([]string, 0, p.batchLimit)
	for _, addr := range p.chainCfg.Poll.Addresses {
		sigs, err := p.source.RecentSignatures(p.ctx, addr, p.batchLimit)
		if err != nil {
			logger.Warnf("[poll:%s] list signatures for %s failed: %v", p.chainCfg.ListenerID, addr, err)
			continue
		}
		for _, sig := range sigs {
			// 判重命中静默跳过；未见过的先标记再派发，避免同 tick 重复拉取
			if p.dedup.SeenOrMark(sig) {
				continue
			}
			pending = append(pending, sig)
		}
	}
	if len(pending) == 0 {
		return
	}

	// 有限并发的全量拉取，抓完本轮再返回
	sem := make(chan struct{}, p.workers)
	for _, sig := range pending {
		select {
		case <-p.ctx.Done():
			return
		case sem <- struct{}{}:
		}
		go func(sig string) {
			defer func() { <-sem }()
			p.fetchAndDispatch(sig)
		}(sig)
	}
	for i := 0; i < p.workers; i++ {
		sem <- struct{}{}
	}
}

// RunOnce 执行一轮抓取，测试专用入口。
func (p *Poller) RunOnce() {
	p.tick()
}

func (p *Poller) fetchAndDispatch(sig string) {
	raw, slot, err := p.source.FetchTransaction(p.ctx, sig)
	if err != nil {
		// 单条失败：记日志后丢弃，不做重试
		logger.Warnf("[poll:%s] fetch %s failed, dropped: %v", p.chainCfg.ListenerID, sig, err)
		return
	}

	rec := &RawRecord{
		ChainID:    p.chainCfg.ChainID,
		ListenerID: p.chainCfg.ListenerID,
		Slot:       slot,
		ReceivedAt: time.Now(),
		Tx:         raw,
	}
	select {
	case p.out <- rec:
	case <-p.ctx.Done():
	}
}
