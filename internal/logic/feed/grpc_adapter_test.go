package feed

import (
	"testing"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validGrpcTx() *pb.SubscribeUpdateTransactionInfo {
	sig := make([]byte, 64)
	sig[0] = 1
	key := make([]byte, 32)
	key[0] = 2
	return &pb.SubscribeUpdateTransactionInfo{
		Signature: sig,
		Transaction: &pb.Transaction{
			Signatures: [][]byte{sig},
			Message: &pb.Message{
				Versioned: true,
				Header: &pb.MessageHeader{
					NumRequiredSignatures:       1,
					NumReadonlySignedAccounts:   0,
					NumReadonlyUnsignedAccounts: 0,
				},
				AccountKeys: [][]byte{key},
				Instructions: []*pb.CompiledInstruction{
					{ProgramIdIndex: 0, Accounts: []byte{0}, Data: []byte{9}},
				},
			},
		},
		Meta: &pb.TransactionStatusMeta{
			Fee:          5000,
			PreBalances:  []uint64{100},
			PostBalances: []uint64{95},
		},
	}
}

func TestIsValidGrpcTx(t *testing.T) {
	assert.True(t, IsValidGrpcTx(validGrpcTx()))

	assert.False(t, IsValidGrpcTx(nil))

	tx := validGrpcTx()
	tx.IsVote = true
	assert.False(t, IsValidGrpcTx(tx), "vote transactions are excluded")

	tx = validGrpcTx()
	tx.Meta.Err = &pb.TransactionError{Err: []byte{1}}
	assert.False(t, IsValidGrpcTx(tx), "failed transactions are excluded")

	tx = validGrpcTx()
	tx.Transaction.Signatures = nil
	assert.False(t, IsValidGrpcTx(tx))

	tx = validGrpcTx()
	tx.Transaction.Signatures = [][]byte{{1, 2, 3}}
	assert.False(t, IsValidGrpcTx(tx), "signature must be 64 bytes")

	tx = validGrpcTx()
	tx.Meta = nil
	assert.False(t, IsValidGrpcTx(tx))
}

func TestAdaptGrpcTx(t *testing.T) {
	src := validGrpcTx()
	cu := uint64(1234)
	src.Meta.ComputeUnitsConsumed = &cu
	src.Meta.LoadedWritableAddresses = [][]byte{make([]byte, 32)}
	src.Meta.PreTokenBalances = []*pb.TokenBalance{
		{
			AccountIndex: 1,
			Mint:         "mintA",
			Owner:        "ownerA",
			UiTokenAmount: &pb.UiTokenAmount{
				Amount:   "1000",
				Decimals: 6,
			},
		},
		{AccountIndex: 2, Mint: "mintB"}, // 无 amount 数据
	}

	raw, err := AdaptGrpcTx(src)
	require.NoError(t, err)

	assert.True(t, raw.Versioned)
	assert.Equal(t, MessageHeader{RequiredSignatures: 1}, raw.Header)
	require.Len(t, raw.Instructions, 1)
	assert.Equal(t, uint32(0), raw.Instructions[0].ProgramIDIndex)
	assert.Equal(t, []uint16{0}, raw.Instructions[0].AccountIndexes)
	assert.Equal(t, uint64(1234), raw.Meta.ComputeUnitsConsumed)
	assert.Len(t, raw.Meta.LoadedWritable, 1)

	require.Len(t, raw.Meta.PreTokenBalances, 2)
	assert.True(t, raw.Meta.PreTokenBalances[0].HasAmount)
	assert.Equal(t, "1000", raw.Meta.PreTokenBalances[0].Amount)
	assert.Equal(t, uint8(6), raw.Meta.PreTokenBalances[0].Decimals)
	assert.False(t, raw.Meta.PreTokenBalances[1].HasAmount)
}

func TestAdaptGrpcTx_Invalid(t *testing.T) {
	_, err := AdaptGrpcTx(nil)
	assert.Error(t, err)

	tx := validGrpcTx()
	tx.Transaction.Message.Header = nil
	_, err = AdaptGrpcTx(tx)
	assert.Error(t, err)
}
