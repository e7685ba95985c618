package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPubkeyBase58RoundTrip(t *testing.T) {
	const system = "11111111111111111111111111111111"

	pk, err := TryPubkeyFromBase58(system)
	require.NoError(t, err)
	assert.Equal(t, system, pk.String())
	assert.True(t, pk.Equals(Pubkey{}))

	_, err = TryPubkeyFromBase58("not-base58-###")
	assert.Error(t, err)

	_, err = TryPubkeyFromBase58("abc") // 长度不足 32 字节
	assert.Error(t, err)
}

func TestTryPubkeyFromBytes(t *testing.T) {
	b := make([]byte, 32)
	b[0] = 7
	pk, err := TryPubkeyFromBytes(b)
	require.NoError(t, err)
	assert.Equal(t, byte(7), pk[0])

	_, err = TryPubkeyFromBytes(make([]byte, 31))
	assert.Error(t, err)
}

func TestSignatureRoundTrip(t *testing.T) {
	b := make([]byte, 64)
	b[0] = 9
	sig, err := TrySignatureFromBytes(b)
	require.NoError(t, err)

	back, err := TrySignatureFromBase58(sig.String())
	require.NoError(t, err)
	assert.Equal(t, sig, back)

	_, err = TrySignatureFromBytes(make([]byte, 63))
	assert.Error(t, err)
}
