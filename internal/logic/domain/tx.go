package domain

// KeySource 标记账户 key 的来源：静态 message 账户或查找表解析出的账户。
type KeySource string

const (
	KeySourceStatic      KeySource = "static"
	KeySourceLookupTable KeySource = "lookupTable"
)

// AccountKey 规范化交易中的一个账户条目。
// 顺序约定：静态账户在前，查找表账户在后（writable 先于 readonly）。
type AccountKey struct {
	Address    string    `json:"address"`
	IsSigner   bool      `json:"isSigner"`
	IsWritable bool      `json:"isWritable"`
	Source     KeySource `json:"source"`
}

// Instruction 已解析的指令：程序地址与账户索引均已还原为 base58 地址。
type Instruction struct {
	ProgramAddress   string   `json:"programAddress"`
	AccountAddresses []string `json:"accountAddresses"`
	Data             []byte   `json:"data"`
}

// TokenBalance 交易前/后的单条 token 余额条目（仅保留带 amount 数据的条目）。
type TokenBalance struct {
	AccountIndex uint32 `json:"accountIndex"`
	Mint         string `json:"mint"`
	Owner        string `json:"owner,omitempty"`
	Amount       string `json:"amount"` // 最小单位的十进制字符串
	Decimals     uint8  `json:"decimals"`
}

// LoadedAddresses 查找表加载出的地址集合（与链上 loadedAddresses 语义一致）。
type LoadedAddresses struct {
	Writable []string `json:"writable"`
	Readonly []string `json:"readonly"`
}

// Meta 交易执行元信息。feed 只投递已上链成功的交易，因此不携带错误字段。
type Meta struct {
	Fee                  uint64          `json:"fee"`
	PreBalances          []uint64        `json:"preBalances"`
	PostBalances         []uint64        `json:"postBalances"`
	PreTokenBalances     []TokenBalance  `json:"preTokenBalances"`
	PostTokenBalances    []TokenBalance  `json:"postTokenBalances"`
	LogLines             []string        `json:"logLines"`
	ComputeUnitsConsumed uint64          `json:"computeUnitsConsumed"`
	LoadedAddresses      LoadedAddresses `json:"loadedAddresses"`
}

// CanonicalTransaction 解码器输出的规范化交易表示。
// 由解码器一次性构建，之后不可变；所有权归接收它的队列消费方。
//
// 不变式：AccountKeys 覆盖所有指令与余额条目引用到的索引；
// 静态账户始终在查找表账户之前，查找表账户内部 writable 先于 readonly。
type CanonicalTransaction struct {
	Signatures   []string      `json:"signatures"`
	Slot         uint64        `json:"slot"`
	IsVersioned  bool          `json:"isVersioned"`
	AccountKeys  []AccountKey  `json:"accountKeys"`
	Instructions []Instruction `json:"instructions"`
	Meta         Meta          `json:"meta"`

	ChainID    string `json:"chainId"`
	ListenerID string `json:"listenerId"`

	// ApproxTimestamp 为收到记录时的本机时间（毫秒）。feed 在此阶段拿不到
	// 可信的区块时间，这是一个明确的近似值。
	ApproxTimestamp int64 `json:"approxTimestamp"`
}

// Signature 返回首个签名（交易唯一 ID），无签名时返回空串。
func (tx *CanonicalTransaction) Signature() string {
	if len(tx.Signatures) == 0 {
		return ""
	}
	return tx.Signatures[0]
}
