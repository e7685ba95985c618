package types

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// Signature 表示 64 字节的交易签名（ed25519）。
type Signature [64]byte

func (s Signature) String() string {
	return base58.Encode(s[:])
}

// TrySignatureFromBytes 从原始字节构造 Signature，长度不为 64 时返回 error。
func TrySignatureFromBytes(b []byte) (Signature, error) {
	if len(b) != 64 {
		return Signature{}, fmt.Errorf("invalid signature length: got %d, want 64", len(b))
	}
	var s Signature
	copy(s[:], b)
	return s, nil
}

// TrySignatureFromBase58 解析 base58 字符串为 Signature（用于不信任输入路径）。
func TrySignatureFromBase58(str string) (Signature, error) {
	data, err := base58.Decode(str)
	if err != nil {
		return Signature{}, fmt.Errorf("failed to decode base58 signature %q: %w", str, err)
	}
	return TrySignatureFromBytes(data)
}
