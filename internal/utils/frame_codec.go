package utils

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// Kafka 消息帧的类型前缀，消费端先读 4 字节再选择反序列化目标。
const (
	FrameKindRawRecord uint32 = 1 // 原始记录帧（未解码）
	FrameKindDecodedTx uint32 = 2 // 规范化交易
)

// EncodeFrame 将消息编码为带类型前缀的二进制帧：
// - 前 4 字节为帧类型（uint32，小端序）
// - 后续为 JSON 序列化数据
func EncodeFrame(kind uint32, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("EncodeFrame: marshal %T: %w", v, err)
	}
	buf := make([]byte, 4, 4+len(body))
	binary.LittleEndian.PutUint32(buf[:4], kind)
	return append(buf, body...), nil
}

// DecodeFrame 拆出帧类型与 JSON 负载，负载的反序列化由调用方完成。
func DecodeFrame(frame []byte) (uint32, []byte, error) {
	if len(frame) < 4 {
		return 0, nil, fmt.Errorf("DecodeFrame: frame too short (%d bytes)", len(frame))
	}
	return binary.LittleEndian.Uint32(frame[:4]), frame[4:], nil
}
