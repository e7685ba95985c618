package queue

import (
	"testing"

	"txfeed-sol/internal/logic/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	tx := &domain.CanonicalTransaction{
		Signatures: []string{"sig1"},
		Slot:       42,
		ChainID:    "solana-mainnet",
	}
	env, err := NewEnvelope(KindDecodedTx, DecodedTxPayload{Tx: tx})
	require.NoError(t, err)
	assert.Equal(t, EnvelopeVersion, env.Version)
	assert.NotZero(t, env.Timestamp)

	data, err := env.Encode()
	require.NoError(t, err)

	got, err := DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, KindDecodedTx, got.Kind)
	assert.Equal(t, env.Version, got.Version)

	var payload DecodedTxPayload
	require.NoError(t, got.DecodePayload(&payload))
	require.NotNil(t, payload.Tx)
	assert.Equal(t, "sig1", payload.Tx.Signature())
	assert.Equal(t, uint64(42), payload.Tx.Slot)
}

func TestDecodeEnvelope_UnknownFieldsTolerated(t *testing.T) {
	// 新版本生产者可能带上老消费者不认识的字段
	data := []byte(`{"version":2,"kind":"tx.decoded","timestamp":1,"payload":{"tx":null},"traceId":"abc"}`)
	env, err := DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, 2, env.Version)
	assert.Equal(t, KindDecodedTx, env.Kind)
}

func TestDecodeEnvelope_UnknownKindPassedThrough(t *testing.T) {
	// 未知 kind 由消费方分派时忽略，不在解析层拒绝
	data := []byte(`{"version":1,"kind":"tx.future","timestamp":1,"payload":{}}`)
	env, err := DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, "tx.future", env.Kind)
}

func TestDecodeEnvelope_Malformed(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`not json`))
	assert.Error(t, err)

	_, err = DecodeEnvelope([]byte(`{"version":1,"timestamp":1,"payload":{}}`))
	assert.Error(t, err, "missing kind is rejected")
}
