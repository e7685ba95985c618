package decoder

import (
	"context"
	"fmt"
	"time"

	"txfeed-sol/internal/consts"
	"txfeed-sol/internal/types"

	sdkclient "github.com/blocto/solana-go-sdk/client"
)

// lookupTableMetaLen Address Lookup Table 账户数据的定长头部：
// discriminator(4) + deactivationSlot(8) + lastExtendedSlot(8) +
// lastExtendedSlotStartIndex(1) + authority option(1+32) + padding(2)
const lookupTableMetaLen = 56

// TableResolver 查找表解析能力。作为注入依赖存在，
// 解码核心逻辑可用假实现做单测，不依赖网络。
type TableResolver interface {
	// Resolve 返回查找表当前的完整地址列表（按表内顺序）。
	Resolve(ctx context.Context, table types.Pubkey) ([]types.Pubkey, error)
}

// TableResolverFunc 便捷适配器。
type TableResolverFunc func(ctx context.Context, table types.Pubkey) ([]types.Pubkey, error)

func (f TableResolverFunc) Resolve(ctx context.Context, table types.Pubkey) ([]types.Pubkey, error) {
	return f(ctx, table)
}

// RpcTableResolver 通过 JSON-RPC 拉取查找表账户并解析地址列表。
// 每笔交易逐表串行请求，是已知的吞吐上限（解析结果缓存是后续优化项）。
type RpcTableResolver struct {
	cli     *sdkclient.Client
	timeout time.Duration
}

func NewRpcTableResolver(endpoint string) *RpcTableResolver {
	return &RpcTableResolver{
		cli:     sdkclient.NewClient(endpoint),
		timeout: 5 * time.Second,
	}
}

func (r *RpcTableResolver) Resolve(ctx context.Context, table types.Pubkey) ([]types.Pubkey, error) {
	reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	info, err := r.cli.GetAccountInfo(reqCtx, table.String())
	if err != nil {
		return nil, fmt.Errorf("getAccountInfo %s: %w", table, err)
	}
	if owner := info.Owner.ToBase58(); owner != consts.AddressLookupTableProgramStr {
		return nil, fmt.Errorf("account %s is not a lookup table (owner %s)", table, owner)
	}
	return ParseLookupTableAccount(info.Data)
}

// ParseLookupTableAccount 解析查找表账户数据：定长头部之后是
// 连续的 32 字节地址。尾部不足 32 字节的剩余数据忽略。
func ParseLookupTableAccount(data []byte) ([]types.Pubkey, error) {
	if len(data) < lookupTableMetaLen {
		return nil, fmt.Errorf("lookup table data too short: %d bytes", len(data))
	}
	body := data[lookupTableMetaLen:]
	count := len(body) / 32
	addrs := make([]types.Pubkey, 0, count)
	for i := 0; i < count; i++ {
		var pk types.Pubkey
		copy(pk[:], body[i*32:(i+1)*32])
		addrs = append(addrs, pk)
	}
	return addrs, nil
}
