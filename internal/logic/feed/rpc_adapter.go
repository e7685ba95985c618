package feed

import (
	"fmt"

	"txfeed-sol/internal/types"

	sdkclient "github.com/blocto/solana-go-sdk/client"
	"github.com/blocto/solana-go-sdk/rpc"
	sdktypes "github.com/blocto/solana-go-sdk/types"
	"github.com/mr-tron/base58"
)

// AdaptRpcTx 将 JSON-RPC 拉取到的交易适配为 RawTransaction。
// 与 AdaptGrpcTx 对应的轮询侧形态搬运；失败的交易在这里直接拒绝。
func AdaptRpcTx(tx *sdkclient.Transaction) (*RawTransaction, error) {
	if tx == nil {
		return nil, fmt.Errorf("nil rpc transaction")
	}
	if tx.Meta == nil {
		return nil, fmt.Errorf("missing transaction meta")
	}
	if tx.Meta.Err != nil {
		return nil, fmt.Errorf("transaction failed on-chain")
	}
	if len(tx.Transaction.Signatures) == 0 {
		return nil, fmt.Errorf("missing signatures")
	}

	msg := tx.Transaction.Message

	raw := &RawTransaction{
		Versioned: msg.Version != sdktypes.MessageVersionLegacy,
		Header: MessageHeader{
			RequiredSignatures: msg.Header.NumRequireSignatures,
			ReadonlySigned:     msg.Header.NumReadonlySignedAccounts,
			ReadonlyUnsigned:   msg.Header.NumReadonlyUnsignedAccounts,
		},
	}

	raw.Signatures = make([][]byte, 0, len(tx.Transaction.Signatures))
	for _, sig := range tx.Transaction.Signatures {
		raw.Signatures = append(raw.Signatures, []byte(sig))
	}

	raw.AccountKeys = make([][]byte, 0, len(msg.Accounts))
	for _, acc := range msg.Accounts {
		raw.AccountKeys = append(raw.AccountKeys, acc.Bytes())
	}

	raw.Instructions = make([]CompiledInstruction, 0, len(msg.Instructions))
	for _, inst := range msg.Instructions {
		accs := make([]uint16, len(inst.Accounts))
		for i, idx := range inst.Accounts {
			accs[i] = uint16(idx)
		}
		raw.Instructions = append(raw.Instructions, CompiledInstruction{
			ProgramIDIndex: uint32(inst.ProgramIDIndex),
			AccountIndexes: accs,
			Data:           inst.Data,
		})
	}

	raw.LookupTables = make([]LookupTableRef, 0, len(msg.AddressLookupTables))
	for _, lookup := range msg.AddressLookupTables {
		table, err := types.TryPubkeyFromBytes(lookup.AccountKey.Bytes())
		if err != nil {
			return nil, fmt.Errorf("invalid lookup table address: %w", err)
		}
		raw.LookupTables = append(raw.LookupTables, LookupTableRef{
			TableAddress:    table,
			WritableIndexes: lookup.WritableIndexes,
			ReadonlyIndexes: lookup.ReadonlyIndexes,
		})
	}

	raw.Meta = adaptRpcMeta(tx.Meta)
	return raw, nil
}

func adaptRpcMeta(meta *sdkclient.TransactionMeta) RawMeta {
	out := RawMeta{
		Fee:         meta.Fee,
		LogMessages: meta.LogMessages,
	}
	out.PreBalances = make([]uint64, 0, len(meta.PreBalances))
	for _, v := range meta.PreBalances {
		out.PreBalances = append(out.PreBalances, uint64(v))
	}
	out.PostBalances = make([]uint64, 0, len(meta.PostBalances))
	for _, v := range meta.PostBalances {
		out.PostBalances = append(out.PostBalances, uint64(v))
	}
	if meta.ComputeUnitsConsumed != nil {
		out.ComputeUnitsConsumed = *meta.ComputeUnitsConsumed
	}
	out.PreTokenBalances = adaptRpcTokenBalances(meta.PreTokenBalances)
	out.PostTokenBalances = adaptRpcTokenBalances(meta.PostTokenBalances)
	out.LoadedWritable = decodeBase58List(meta.LoadedAddresses.Writable)
	out.LoadedReadonly = decodeBase58List(meta.LoadedAddresses.Readonly)
	return out
}

func adaptRpcTokenBalances(list []rpc.TransactionMetaTokenBalance) []RawTokenBalance {
	if len(list) == 0 {
		return nil
	}
	out := make([]RawTokenBalance, 0, len(list))
	for _, b := range list {
		out = append(out, RawTokenBalance{
			AccountIndex: uint32(b.AccountIndex),
			Mint:         b.Mint,
			Owner:        b.Owner,
			ProgramID:    b.ProgramId,
			Amount:       b.UITokenAmount.Amount,
			Decimals:     b.UITokenAmount.Decimals,
			HasAmount:    b.UITokenAmount.Amount != "",
		})
	}
	return out
}

func decodeBase58List(addrs []string) [][]byte {
	if len(addrs) == 0 {
		return nil
	}
	out := make([][]byte, 0, len(addrs))
	for _, s := range addrs {
		data, err := base58.Decode(s)
		if err != nil || len(data) != 32 {
			continue
		}
		out = append(out, data)
	}
	return out
}
