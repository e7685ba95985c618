package decoder

import (
	"context"

	"txfeed-sol/internal/logic/domain"
	"txfeed-sol/internal/logic/feed"
	"txfeed-sol/internal/types"
	"txfeed-sol/pkg/logger"

	"github.com/mr-tron/base58"
)

// Decoder 把 feed 输出的原始记录转换为规范化交易。
// 除查找表解析（注入的 TableResolver）外为纯函数：不修改共享状态，
// 对畸形输入不 panic——能解出多少解多少，仅在顶层信封不可解析时返回 nil。
type Decoder struct {
	resolver TableResolver
}

func NewDecoder(resolver TableResolver) *Decoder {
	return &Decoder{resolver: resolver}
}

// Decode 解码入口。resolveLookupTables=false 时无任何网络副作用。
func (d *Decoder) Decode(ctx context.Context, rec *feed.RawRecord, resolveLookupTables bool) (out *domain.CanonicalTransaction) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("decode panic, record dropped: %v", r)
			out = nil
		}
	}()

	if rec == nil || rec.Tx == nil || len(rec.Tx.Signatures) == 0 || len(rec.Tx.AccountKeys) == 0 {
		return nil // 顶层信封不可解析
	}
	raw := rec.Tx

	// 签名与 versioned 标记
	signatures := make([]string, 0, len(raw.Signatures))
	for _, sig := range raw.Signatures {
		signatures = append(signatures, base58.Encode(sig))
	}

	// 静态账户：signer/writable 属性完全由头部计数推导
	accountKeys := buildStaticKeys(raw.AccountKeys, raw.Header)

	// 查找表账户：writable 全部在前，readonly 全部在后
	lookupWritable, lookupReadonly := d.resolveLookupKeys(ctx, raw, resolveLookupTables)
	for _, addr := range lookupWritable {
		accountKeys = append(accountKeys, domain.AccountKey{
			Address:    addr,
			IsWritable: true,
			Source:     domain.KeySourceLookupTable,
		})
	}
	for _, addr := range lookupReadonly {
		accountKeys = append(accountKeys, domain.AccountKey{
			Address: addr,
			Source:  domain.KeySourceLookupTable,
		})
	}

	// 指令还原：索引越界的指令丢弃，不让整笔解码失败
	instructions := buildInstructions(raw.Instructions, accountKeys, rec.ListenerID)

	// meta 组装（feed 只投递已成功交易，无错误字段）
	meta := domain.Meta{
		Fee:                  raw.Meta.Fee,
		PreBalances:          raw.Meta.PreBalances,
		PostBalances:         raw.Meta.PostBalances,
		PreTokenBalances:     filterTokenBalances(raw.Meta.PreTokenBalances),
		PostTokenBalances:    filterTokenBalances(raw.Meta.PostTokenBalances),
		LogLines:             raw.Meta.LogMessages,
		ComputeUnitsConsumed: raw.Meta.ComputeUnitsConsumed,
		LoadedAddresses: domain.LoadedAddresses{
			Writable: lookupWritable,
			Readonly: lookupReadonly,
		},
	}

	return &domain.CanonicalTransaction{
		Signatures:   signatures,
		Slot:         rec.Slot,
		IsVersioned:  raw.Versioned,
		AccountKeys:  accountKeys,
		Instructions: instructions,
		Meta:         meta,
		ChainID:      rec.ChainID,
		ListenerID:   rec.ListenerID,
		// feed 此阶段拿不到可信区块时间，用接收时刻作为明确的近似
		ApproxTimestamp: rec.ReceivedAt.UnixMilli(),
	}
}

// buildStaticKeys 构造静态账户段。
// isSigner: i < requiredSignatures。
// isWritable 按头部计数划出的三段互斥区间判定，这一分类决定后续
// 余额差值环节允许把哪些账户视为被签名者改动过。
func buildStaticKeys(keys [][]byte, hdr feed.MessageHeader) []domain.AccountKey {
	total := len(keys)
	out := make([]domain.AccountKey, 0, total)
	for i, key := range keys {
		out = append(out, domain.AccountKey{
			Address:    base58.Encode(key),
			IsSigner:   i < int(hdr.RequiredSignatures),
			IsWritable: isWritableStatic(i, hdr, total),
			Source:     domain.KeySourceStatic,
		})
	}
	return out
}

// isWritableStatic 三段互斥区间：
//   - 可写签名段:   i < required - readonlySigned
//   - 可写非签名段: required <= i < total - readonlyUnsigned
//   - 其余只读
func isWritableStatic(i int, hdr feed.MessageHeader, total int) bool {
	required := int(hdr.RequiredSignatures)
	switch {
	case i < required:
		return i < required-int(hdr.ReadonlySigned)
	case i < total-int(hdr.ReadonlyUnsigned):
		return true
	default:
		return false
	}
}

// resolveLookupKeys 汇总查找表解析出的地址。
// 上游 meta 自带 loaded 集合时直接采用（零网络开销，推送模式的常态）；
// 否则在 resolveLookupTables=true 且注入了 resolver 时逐表解析。
// 解析顺序保证：先收齐所有表的 writable，再收 readonly。
func (d *Decoder) resolveLookupKeys(ctx context.Context, raw *feed.RawTransaction, resolve bool) (writable, readonly []string) {
	if len(raw.Meta.LoadedWritable) > 0 || len(raw.Meta.LoadedReadonly) > 0 {
		return encodeKeys(raw.Meta.LoadedWritable), encodeKeys(raw.Meta.LoadedReadonly)
	}
	if !resolve || d.resolver == nil || len(raw.LookupTables) == 0 {
		return nil, nil
	}

	resolved := make(map[types.Pubkey][]types.Pubkey, len(raw.LookupTables))
	for _, ref := range raw.LookupTables {
		addrs, err := d.resolver.Resolve(ctx, ref.TableAddress)
		if err != nil {
			// 表解析失败只影响引用它的指令（后续按索引越界丢弃）
			logger.Warnf("resolve lookup table %s failed: %v", ref.TableAddress, err)
			continue
		}
		resolved[ref.TableAddress] = addrs
	}

	for _, ref := range raw.LookupTables {
		addrs, ok := resolved[ref.TableAddress]
		if !ok {
			continue
		}
		for _, idx := range ref.WritableIndexes {
			if int(idx) < len(addrs) {
				writable = append(writable, addrs[idx].String())
			}
		}
	}
	for _, ref := range raw.LookupTables {
		addrs, ok := resolved[ref.TableAddress]
		if !ok {
			continue
		}
		for _, idx := range ref.ReadonlyIndexes {
			if int(idx) < len(addrs) {
				readonly = append(readonly, addrs[idx].String())
			}
		}
	}
	return writable, readonly
}

func buildInstructions(raw []feed.CompiledInstruction, accountKeys []domain.AccountKey, listenerID string) []domain.Instruction {
	out := make([]domain.Instruction, 0, len(raw))
	for i, inst := range raw {
		if int(inst.ProgramIDIndex) >= len(accountKeys) {
			logger.Warnf("[%s] instruction %d: program index %d out of range (%d keys), dropped",
				listenerID, i, inst.ProgramIDIndex, len(accountKeys))
			continue
		}
		accounts := make([]string, 0, len(inst.AccountIndexes))
		valid := true
		for _, idx := range inst.AccountIndexes {
			if int(idx) >= len(accountKeys) {
				logger.Warnf("[%s] instruction %d: account index %d out of range (%d keys), dropped",
					listenerID, i, idx, len(accountKeys))
				valid = false
				break
			}
			accounts = append(accounts, accountKeys[idx].Address)
		}
		if !valid {
			continue
		}
		out = append(out, domain.Instruction{
			ProgramAddress:   accountKeys[inst.ProgramIDIndex].Address,
			AccountAddresses: accounts,
			Data:             inst.Data,
		})
	}
	return out
}

// filterTokenBalances 仅保留带 amount 数据的条目（防御性过滤，不报错）
func filterTokenBalances(raw []feed.RawTokenBalance) []domain.TokenBalance {
	out := make([]domain.TokenBalance, 0, len(raw))
	for _, b := range raw {
		if !b.HasAmount {
			continue
		}
		out = append(out, domain.TokenBalance{
			AccountIndex: b.AccountIndex,
			Mint:         b.Mint,
			Owner:        b.Owner,
			Amount:       b.Amount,
			Decimals:     b.Decimals,
		})
	}
	return out
}

func encodeKeys(keys [][]byte) []string {
	if len(keys) == 0 {
		return nil
	}
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, base58.Encode(key))
	}
	return out
}
