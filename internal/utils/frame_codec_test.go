package utils

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	type sample struct {
		Sig  string `json:"sig"`
		Slot uint64 `json:"slot"`
	}

	frame, err := EncodeFrame(FrameKindDecodedTx, sample{Sig: "abc", Slot: 42})
	require.NoError(t, err)

	kind, body, err := DecodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, FrameKindDecodedTx, kind)

	var got sample
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "abc", got.Sig)
	assert.Equal(t, uint64(42), got.Slot)
}

func TestDecodeFrame_TooShort(t *testing.T) {
	_, _, err := DecodeFrame([]byte{1, 2})
	assert.Error(t, err)
}

func TestPartitionHashBytes(t *testing.T) {
	sig := make([]byte, 64)
	for i := range sig {
		sig[i] = byte(i)
	}

	p := PartitionHashBytes(sig, 8)
	assert.Less(t, p, uint32(8))
	// 同一输入稳定落在同一分区
	assert.Equal(t, p, PartitionHashBytes(sig, 8))

	assert.Equal(t, uint32(0), PartitionHashBytes(sig[:16], 8), "short input falls back to partition 0")
	assert.Equal(t, uint32(0), PartitionHashBytes(sig, 0))
}
