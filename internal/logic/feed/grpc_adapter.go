package feed

import (
	"fmt"

	"txfeed-sol/internal/types"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
)

// IsValidGrpcTx 过滤掉结构不完整或业务上不需要的推送交易。
func IsValidGrpcTx(tx *pb.SubscribeUpdateTransactionInfo) bool {
	if tx == nil || // - nil transaction info
		tx.Transaction == nil || // - missing Transaction field
		tx.Transaction.Message == nil || // - missing Message field in transaction
		len(tx.Transaction.Signatures) == 0 || // - missing transaction signature
		len(tx.Transaction.Signatures[0]) != 64 || // - invalid transaction signature length
		tx.IsVote || // - vote transaction skipped
		tx.Meta == nil || // - missing transaction meta data
		tx.Meta.Err != nil { // - transaction execution failed
		return false
	}
	return true
}

// AdaptGrpcTx 将 gRPC 推送的交易帧适配为传输无关的 RawTransaction。
// 只做形态搬运，不解析语义；推送结构缺字段时返回 error 交由调用方丢弃。
func AdaptGrpcTx(tx *pb.SubscribeUpdateTransactionInfo) (*RawTransaction, error) {
	if !IsValidGrpcTx(tx) {
		return nil, fmt.Errorf("invalid grpc transaction frame")
	}

	msg := tx.Transaction.Message
	if msg.Header == nil {
		return nil, fmt.Errorf("missing message header")
	}

	raw := &RawTransaction{
		Signatures:  tx.Transaction.Signatures,
		Versioned:   msg.Versioned,
		AccountKeys: msg.AccountKeys,
		Header: MessageHeader{
			RequiredSignatures: uint8(msg.Header.NumRequiredSignatures),
			ReadonlySigned:     uint8(msg.Header.NumReadonlySignedAccounts),
			ReadonlyUnsigned:   uint8(msg.Header.NumReadonlyUnsignedAccounts),
		},
	}

	raw.Instructions = make([]CompiledInstruction, 0, len(msg.Instructions))
	for _, inst := range msg.Instructions {
		accs := make([]uint16, len(inst.Accounts))
		for i, idx := range inst.Accounts {
			accs[i] = uint16(idx)
		}
		raw.Instructions = append(raw.Instructions, CompiledInstruction{
			ProgramIDIndex: inst.ProgramIdIndex,
			AccountIndexes: accs,
			Data:           inst.Data,
		})
	}

	raw.LookupTables = make([]LookupTableRef, 0, len(msg.AddressTableLookups))
	for _, lookup := range msg.AddressTableLookups {
		table, err := types.TryPubkeyFromBytes(lookup.AccountKey)
		if err != nil {
			return nil, fmt.Errorf("invalid lookup table address: %w", err)
		}
		raw.LookupTables = append(raw.LookupTables, LookupTableRef{
			TableAddress:    table,
			WritableIndexes: lookup.WritableIndexes,
			ReadonlyIndexes: lookup.ReadonlyIndexes,
		})
	}

	raw.Meta = adaptGrpcMeta(tx.Meta)
	return raw, nil
}

func adaptGrpcMeta(meta *pb.TransactionStatusMeta) RawMeta {
	out := RawMeta{
		Fee:            meta.Fee,
		PreBalances:    meta.PreBalances,
		PostBalances:   meta.PostBalances,
		LogMessages:    meta.LogMessages,
		LoadedWritable: meta.LoadedWritableAddresses,
		LoadedReadonly: meta.LoadedReadonlyAddresses,
	}
	if meta.ComputeUnitsConsumed != nil {
		out.ComputeUnitsConsumed = *meta.ComputeUnitsConsumed
	}
	out.PreTokenBalances = adaptGrpcTokenBalances(meta.PreTokenBalances)
	out.PostTokenBalances = adaptGrpcTokenBalances(meta.PostTokenBalances)
	return out
}

func adaptGrpcTokenBalances(list []*pb.TokenBalance) []RawTokenBalance {
	if len(list) == 0 {
		return nil
	}
	out := make([]RawTokenBalance, 0, len(list))
	for _, b := range list {
		if b == nil {
			continue
		}
		tb := RawTokenBalance{
			AccountIndex: b.AccountIndex,
			Mint:         b.Mint,
			Owner:        b.Owner,
			ProgramID:    b.ProgramId,
		}
		if b.UiTokenAmount != nil {
			tb.Amount = b.UiTokenAmount.Amount
			tb.Decimals = uint8(b.UiTokenAmount.Decimals)
			tb.HasAmount = b.UiTokenAmount.Amount != ""
		}
		out = append(out, tb)
	}
	return out
}
