package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"txfeed-sol/internal/logic/domain"
)

// EnvelopeVersion 当前信封格式版本。消费方必须容忍未知字段与未知 kind，
// 版本号用于后续格式演进时的兼容分支。
const EnvelopeVersion = 1

// 队列角色：每个消费进程拥有一个角色，对应共享存储里一条有序列表。
const (
	RoleWalletTracker = "wallet_tracker"
	RoleSwapSettler   = "swap_settler"
	RoleStakeSettler  = "stake_settler"
	RoleNotifier      = "notifier"
)

// 消息类型标签（tagged union 的判别字段）
const (
	KindDecodedTx  = "tx.decoded"
	KindRawTx      = "tx.raw"
	KindUserNotify = "notify.user"
	KindOpsAlert   = "ops.alert"
)

// Envelope 跨进程队列的线格式：JSON 对象追加到角色列表尾部。
type Envelope struct {
	Version   int             `json:"version"`
	Kind      string          `json:"kind"`
	Timestamp int64           `json:"timestamp"` // 入队时刻（毫秒）
	Payload   json.RawMessage `json:"payload"`
}

// DecodedTxPayload kind=tx.decoded 的载荷。
type DecodedTxPayload struct {
	Tx *domain.CanonicalTransaction `json:"tx"`
}

// RawTxPayload kind=tx.raw 的载荷：未解码开销兜底通道。
type RawTxPayload struct {
	ChainID    string `json:"chainId"`
	ListenerID string `json:"listenerId"`
	Signature  string `json:"signature"`
	Slot       uint64 `json:"slot"`
}

// UserNotifyPayload kind=notify.user 的载荷。
type UserNotifyPayload struct {
	UserID    string `json:"userId"`
	Signature string `json:"signature,omitempty"` // 触发交易，通知侧判重用
	Text      string `json:"text"`
}

// NewEnvelope 序列化 payload 并盖上版本与时间戳。
func NewEnvelope(kind string, payload any) (*Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return &Envelope{
		Version:   EnvelopeVersion,
		Kind:      kind,
		Timestamp: time.Now().UnixMilli(),
		Payload:   body,
	}, nil
}

// Encode 输出入队的最终字节。
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope 解析线格式。未知字段被忽略；kind 留给消费方分派。
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Kind == "" {
		return nil, fmt.Errorf("decode envelope: missing kind")
	}
	return &env, nil
}

// DecodePayload 把信封载荷解析进给定结构（容忍未知/缺失字段）。
func (e *Envelope) DecodePayload(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Kind, err)
	}
	return nil
}
