package feed

import (
	"time"

	"txfeed-sol/internal/types"
)

// MessageHeader 原始 message 头部的三个计数。
// 配合静态账户总数即可推导每个静态账户的 signer/writable 属性。
type MessageHeader struct {
	RequiredSignatures uint8
	ReadonlySigned     uint8
	ReadonlyUnsigned   uint8
}

// CompiledInstruction 原始编译指令：账户以索引形式引用 accountKeys。
type CompiledInstruction struct {
	ProgramIDIndex uint32
	AccountIndexes []uint16
	Data           []byte
}

// LookupTableRef message 中的一条查找表引用，writable / readonly 索引分开记录。
type LookupTableRef struct {
	TableAddress    types.Pubkey
	WritableIndexes []uint8
	ReadonlyIndexes []uint8
}

// RawTokenBalance 执行前/后的一条 token 余额原始条目。
// HasAmount=false 表示上游未带 amount 数据，解码时按防御性过滤跳过。
type RawTokenBalance struct {
	AccountIndex uint32
	Mint         string
	Owner        string
	ProgramID    string
	Amount       string
	Decimals     uint8
	HasAmount    bool
}

// RawMeta 上游携带的交易执行元信息。
// LoadedWritable / LoadedReadonly 在推送模式下由上游直接给出，
// 轮询模式下可能为空（此时依赖查找表解析）。
type RawMeta struct {
	Fee                  uint64
	PreBalances          []uint64
	PostBalances         []uint64
	PreTokenBalances     []RawTokenBalance
	PostTokenBalances    []RawTokenBalance
	LogMessages          []string
	ComputeUnitsConsumed uint64
	LoadedWritable       [][]byte
	LoadedReadonly       [][]byte
}

// RawTransaction 与传输方式无关的原始交易结构。
// gRPC 推送帧与 JSON-RPC 拉取结果都适配成这一种形态后进入解码器。
type RawTransaction struct {
	Signatures   [][]byte
	Versioned    bool
	Header       MessageHeader
	AccountKeys  [][]byte // 仅静态账户
	Instructions []CompiledInstruction
	LookupTables []LookupTableRef
	Meta         RawMeta
}

// RawRecord feed 输出契约：链 ID、监听器 ID、过滤器标签加原始载荷。
// 在订阅/轮询边界创建，随即被解码器消费，不做持久化；
// 下游一律按不可信输入处理。
type RawRecord struct {
	ChainID     string
	ListenerID  string
	FilterLabel string
	Slot        uint64
	ReceivedAt  time.Time
	Tx          *RawTransaction
}

// SignatureBase58 返回首个签名的 base58 形式（判重 key），无签名时返回空串。
func (r *RawRecord) SignatureBase58() string {
	if r == nil || r.Tx == nil || len(r.Tx.Signatures) == 0 {
		return ""
	}
	sig, err := types.TrySignatureFromBytes(r.Tx.Signatures[0])
	if err != nil {
		return ""
	}
	return sig.String()
}
