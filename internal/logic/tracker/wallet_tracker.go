package tracker

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"txfeed-sol/internal/cache"
	"txfeed-sol/internal/logic/domain"
	"txfeed-sol/internal/queue"
	"txfeed-sol/pkg/logger"
)

// Admitter 通知配额闸门（生产环境为 *ratelimit.Limiter）。
type Admitter interface {
	Admit(userID string, isExempt bool) bool
}

// Pusher 通知投递出口（生产环境为 *queue.Producer）。
type Pusher interface {
	Push(ctx context.Context, role string, env *queue.Envelope) error
}

// walletDiff 单个钱包在一笔交易中的余额变化。
type walletDiff struct {
	lamports string            // 带符号的最小单位变化，无变化为空串
	tokens   map[string]string // mint → 带符号变化量
}

// WalletTracker 消费规范化交易，对登记钱包做前后余额对比，
// 有变化则经限流闸门后向通知角色投递 notify.user 消息。
type WalletTracker struct {
	wallets  WalletSource
	dedup    *cache.DedupCache
	limiter  Admitter
	producer Pusher
	exempt   map[string]struct{}
}

func NewWalletTracker(
	wallets WalletSource,
	dedup *cache.DedupCache,
	limiter Admitter,
	producer Pusher,
	exemptUsers []string,
) *WalletTracker {
	exempt := make(map[string]struct{}, len(exemptUsers))
	for _, u := range exemptUsers {
		exempt[u] = struct{}{}
	}
	return &WalletTracker{
		wallets:  wallets,
		dedup:    dedup,
		limiter:  limiter,
		producer: producer,
		exempt:   exempt,
	}
}

// Handle 实现 queue.Handler。处理器按签名判重，可安全重复投递。
func (t *WalletTracker) Handle(ctx context.Context, env *queue.Envelope) error {
	if env.Kind != queue.KindDecodedTx {
		logger.Debugf("[tracker] ignoring envelope kind %s", env.Kind)
		return nil
	}

	var payload queue.DecodedTxPayload
	if err := env.DecodePayload(&payload); err != nil {
		return err
	}
	tx := payload.Tx
	if tx == nil || tx.Signature() == "" {
		return fmt.Errorf("decoded tx payload missing transaction")
	}

	// at-least-once 投递下的重复交易静默丢弃
	if t.dedup.SeenOrMark(tx.Signature()) {
		return nil
	}

	diffs := diffBalances(tx)
	if len(diffs) == 0 {
		return nil
	}

	// 同一用户多个钱包在同一笔交易中变动时只发一条通知
	notified := make(map[string]bool)
	for _, wallet := range sortedWallets(diffs) {
		userID, ok := t.wallets.UserOf(wallet)
		if !ok || notified[userID] {
			continue
		}
		notified[userID] = true

		_, isExempt := t.exempt[userID]
		if !t.limiter.Admit(userID, isExempt) {
			continue
		}

		notify := queue.UserNotifyPayload{
			UserID:    userID,
			Signature: tx.Signature(),
			Text:      formatNotice(wallet, tx, diffs[wallet]),
		}
		env, err := queue.NewEnvelope(queue.KindUserNotify, notify)
		if err != nil {
			logger.Errorf("[tracker] build notify for user %s failed: %v", userID, err)
			continue
		}
		if err := t.producer.Push(ctx, queue.RoleNotifier, env); err != nil {
			return fmt.Errorf("push notify for user %s: %w", userID, err)
		}
	}
	return nil
}

// diffBalances 汇总一笔交易中每个钱包的原生与 token 余额变化。
func diffBalances(tx *domain.CanonicalTransaction) map[string]*walletDiff {
	diffs := make(map[string]*walletDiff)
	touch := func(owner string) *walletDiff {
		d := diffs[owner]
		if d == nil {
			d = &walletDiff{tokens: make(map[string]string)}
			diffs[owner] = d
		}
		return d
	}

	// 原生余额：账户数组与 pre/post 数组按索引对齐
	for i, key := range tx.AccountKeys {
		if i >= len(tx.Meta.PreBalances) || i >= len(tx.Meta.PostBalances) {
			break
		}
		if delta := signedDelta(tx.Meta.PreBalances[i], tx.Meta.PostBalances[i]); delta != "" {
			touch(key.Address).lamports = delta
		}
	}

	// token 余额：pre/post 按 (accountIndex, mint) 配对，缺席侧视为 0
	pre := make(map[string]uint64)
	for _, b := range tx.Meta.PreTokenBalances {
		pre[tokenKey(b)] = parseAmount(b.Amount)
	}
	seen := make(map[string]bool)
	for _, b := range tx.Meta.PostTokenBalances {
		if b.Owner == "" {
			continue
		}
		k := tokenKey(b)
		seen[k] = true
		if delta := signedDelta(pre[k], parseAmount(b.Amount)); delta != "" {
			touch(b.Owner).tokens[b.Mint] = delta
		}
	}
	for _, b := range tx.Meta.PreTokenBalances {
		if b.Owner == "" || seen[tokenKey(b)] {
			continue
		}
		// post 侧缺席：账户被关闭或清零
		if delta := signedDelta(parseAmount(b.Amount), 0); delta != "" {
			touch(b.Owner).tokens[b.Mint] = delta
		}
	}

	return diffs
}

func tokenKey(b domain.TokenBalance) string {
	return strconv.FormatUint(uint64(b.AccountIndex), 10) + "|" + b.Mint
}

func parseAmount(s string) uint64 {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// signedDelta 输出带符号的变化量字符串，无变化返回空串。
// 在无符号域内先比较再相减，避免大数值下的溢出。
func signedDelta(pre, post uint64) string {
	switch {
	case post > pre:
		return "+" + strconv.FormatUint(post-pre, 10)
	case pre > post:
		return "-" + strconv.FormatUint(pre-post, 10)
	default:
		return ""
	}
}

func sortedWallets(diffs map[string]*walletDiff) []string {
	wallets := make([]string, 0, len(diffs))
	for w := range diffs {
		wallets = append(wallets, w)
	}
	sort.Strings(wallets)
	return wallets
}

func formatNotice(wallet string, tx *domain.CanonicalTransaction, d *walletDiff) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "wallet %s balance changed in tx %s", wallet, tx.Signature())
	if d.lamports != "" {
		fmt.Fprintf(&sb, "; lamports %s", d.lamports)
	}
	for _, mint := range sortedKeys(d.tokens) {
		fmt.Fprintf(&sb, "; token %s %s", mint, d.tokens[mint])
	}
	return sb.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
