package decoder

import (
	"testing"

	"txfeed-sol/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLookupTableAccount(t *testing.T) {
	var addrA, addrB types.Pubkey
	copy(addrA[:], mkKey(0x11))
	copy(addrB[:], mkKey(0x22))

	data := make([]byte, lookupTableMetaLen)
	data = append(data, addrA[:]...)
	data = append(data, addrB[:]...)

	addrs, err := ParseLookupTableAccount(data)
	require.NoError(t, err)
	require.Len(t, addrs, 2)
	assert.Equal(t, addrA, addrs[0])
	assert.Equal(t, addrB, addrs[1])
}

func TestParseLookupTableAccount_Empty(t *testing.T) {
	addrs, err := ParseLookupTableAccount(make([]byte, lookupTableMetaLen))
	require.NoError(t, err)
	assert.Empty(t, addrs)
}

func TestParseLookupTableAccount_TooShort(t *testing.T) {
	_, err := ParseLookupTableAccount(make([]byte, lookupTableMetaLen-1))
	assert.Error(t, err)
}

func TestParseLookupTableAccount_TrailingBytesIgnored(t *testing.T) {
	var addr types.Pubkey
	copy(addr[:], mkKey(0x33))

	data := make([]byte, lookupTableMetaLen)
	data = append(data, addr[:]...)
	data = append(data, 0xFF, 0xFF) // 不足 32 字节的尾部

	addrs, err := ParseLookupTableAccount(data)
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	assert.Equal(t, addr, addrs[0])
}
