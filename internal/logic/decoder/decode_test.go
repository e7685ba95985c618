package decoder

import (
	"context"
	"testing"
	"time"

	"txfeed-sol/internal/logic/domain"
	"txfeed-sol/internal/logic/feed"
	"txfeed-sol/internal/types"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkKey(fill byte) []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = fill
	}
	return key
}

func mkSig(fill byte) []byte {
	sig := make([]byte, 64)
	for i := range sig {
		sig[i] = fill
	}
	return sig
}

func mkRecord(tx *feed.RawTransaction) *feed.RawRecord {
	return &feed.RawRecord{
		ChainID:    "solana-mainnet",
		ListenerID: "test-listener",
		Slot:       12345,
		ReceivedAt: time.UnixMilli(1700000000000),
		Tx:         tx,
	}
}

func TestIsWritableStatic(t *testing.T) {
	// 8 个静态账户：3 个签名者（其中 1 个只读），尾部 2 个只读非签名者
	hdr := feed.MessageHeader{RequiredSignatures: 3, ReadonlySigned: 1, ReadonlyUnsigned: 2}
	total := 8

	expected := []struct {
		signer   bool
		writable bool
	}{
		{true, true},   // 0 可写签名者
		{true, true},   // 1 可写签名段的最后一个
		{true, false},  // 2 只读签名者
		{false, true},  // 3 可写非签名段的第一个
		{false, true},  // 4
		{false, true},  // 5 可写非签名段的最后一个
		{false, false}, // 6 只读非签名者
		{false, false}, // 7
	}
	for i, want := range expected {
		assert.Equal(t, want.signer, i < int(hdr.RequiredSignatures), "signer at index %d", i)
		assert.Equal(t, want.writable, isWritableStatic(i, hdr, total), "writable at index %d", i)
	}
}

func TestIsWritableStatic_AllSignersReadonly(t *testing.T) {
	hdr := feed.MessageHeader{RequiredSignatures: 2, ReadonlySigned: 2, ReadonlyUnsigned: 0}
	assert.False(t, isWritableStatic(0, hdr, 3))
	assert.False(t, isWritableStatic(1, hdr, 3))
	assert.True(t, isWritableStatic(2, hdr, 3))
}

func TestDecode_KeyOrdering(t *testing.T) {
	staticA := mkKey(1)
	staticB := mkKey(2)
	loadedW := mkKey(3)
	loadedR := mkKey(4)

	rec := mkRecord(&feed.RawTransaction{
		Signatures:  [][]byte{mkSig(9)},
		Versioned:   true,
		Header:      feed.MessageHeader{RequiredSignatures: 1, ReadonlySigned: 0, ReadonlyUnsigned: 1},
		AccountKeys: [][]byte{staticA, staticB},
		Meta: feed.RawMeta{
			LoadedWritable: [][]byte{loadedW},
			LoadedReadonly: [][]byte{loadedR},
		},
	})

	tx := NewDecoder(nil).Decode(context.Background(), rec, false)
	require.NotNil(t, tx)
	require.Len(t, tx.AccountKeys, 4)

	// 静态段在前，查找表段 writable 先于 readonly
	assert.Equal(t, domain.AccountKey{
		Address: base58.Encode(staticA), IsSigner: true, IsWritable: true, Source: domain.KeySourceStatic,
	}, tx.AccountKeys[0])
	assert.Equal(t, domain.AccountKey{
		Address: base58.Encode(staticB), Source: domain.KeySourceStatic,
	}, tx.AccountKeys[1])
	assert.Equal(t, domain.AccountKey{
		Address: base58.Encode(loadedW), IsWritable: true, Source: domain.KeySourceLookupTable,
	}, tx.AccountKeys[2])
	assert.Equal(t, domain.AccountKey{
		Address: base58.Encode(loadedR), Source: domain.KeySourceLookupTable,
	}, tx.AccountKeys[3])

	assert.True(t, tx.IsVersioned)
	assert.Equal(t, uint64(12345), tx.Slot)
	assert.Equal(t, int64(1700000000000), tx.ApproxTimestamp)
	assert.Equal(t, []string{base58.Encode(loadedW)}, tx.Meta.LoadedAddresses.Writable)
	assert.Equal(t, []string{base58.Encode(loadedR)}, tx.Meta.LoadedAddresses.Readonly)
}

func TestDecode_ResolverOrdering(t *testing.T) {
	var tableA, tableB types.Pubkey
	copy(tableA[:], mkKey(0xA0))
	copy(tableB[:], mkKey(0xB0))

	tables := map[types.Pubkey][]types.Pubkey{}
	fill := func(table types.Pubkey, n int, base byte) {
		addrs := make([]types.Pubkey, n)
		for i := range addrs {
			copy(addrs[i][:], mkKey(base+byte(i)))
		}
		tables[table] = addrs
	}
	fill(tableA, 3, 0x10)
	fill(tableB, 3, 0x20)

	var calls int
	resolver := TableResolverFunc(func(_ context.Context, table types.Pubkey) ([]types.Pubkey, error) {
		calls++
		return tables[table], nil
	})

	rec := mkRecord(&feed.RawTransaction{
		Signatures:  [][]byte{mkSig(1)},
		Versioned:   true,
		Header:      feed.MessageHeader{RequiredSignatures: 1},
		AccountKeys: [][]byte{mkKey(1)},
		LookupTables: []feed.LookupTableRef{
			{TableAddress: tableA, WritableIndexes: []uint8{0}, ReadonlyIndexes: []uint8{1}},
			{TableAddress: tableB, WritableIndexes: []uint8{2}, ReadonlyIndexes: []uint8{0}},
		},
	})

	tx := NewDecoder(resolver).Decode(context.Background(), rec, true)
	require.NotNil(t, tx)
	require.Len(t, tx.AccountKeys, 5)
	assert.Equal(t, 2, calls, "one resolve per table")

	// 全部表的 writable 收齐后才轮到 readonly
	assert.Equal(t, tables[tableA][0].String(), tx.AccountKeys[1].Address)
	assert.True(t, tx.AccountKeys[1].IsWritable)
	assert.Equal(t, tables[tableB][2].String(), tx.AccountKeys[2].Address)
	assert.True(t, tx.AccountKeys[2].IsWritable)
	assert.Equal(t, tables[tableA][1].String(), tx.AccountKeys[3].Address)
	assert.False(t, tx.AccountKeys[3].IsWritable)
	assert.Equal(t, tables[tableB][0].String(), tx.AccountKeys[4].Address)
	assert.False(t, tx.AccountKeys[4].IsWritable)
}

func TestDecode_MetaLoadedSkipsResolver(t *testing.T) {
	resolver := TableResolverFunc(func(_ context.Context, _ types.Pubkey) ([]types.Pubkey, error) {
		t.Fatal("resolver must not be called when meta carries loaded addresses")
		return nil, nil
	})

	var table types.Pubkey
	copy(table[:], mkKey(0xA0))

	rec := mkRecord(&feed.RawTransaction{
		Signatures:   [][]byte{mkSig(1)},
		Header:       feed.MessageHeader{RequiredSignatures: 1},
		AccountKeys:  [][]byte{mkKey(1)},
		LookupTables: []feed.LookupTableRef{{TableAddress: table, WritableIndexes: []uint8{0}}},
		Meta:         feed.RawMeta{LoadedWritable: [][]byte{mkKey(2)}},
	})

	tx := NewDecoder(resolver).Decode(context.Background(), rec, true)
	require.NotNil(t, tx)
	require.Len(t, tx.AccountKeys, 2)
}

func TestDecode_OutOfRangeInstructionDropped(t *testing.T) {
	rec := mkRecord(&feed.RawTransaction{
		Signatures:  [][]byte{mkSig(1)},
		Header:      feed.MessageHeader{RequiredSignatures: 1},
		AccountKeys: [][]byte{mkKey(1), mkKey(2)},
		Instructions: []feed.CompiledInstruction{
			{ProgramIDIndex: 1, AccountIndexes: []uint16{0}, Data: []byte{1}},
			{ProgramIDIndex: 9, AccountIndexes: []uint16{0}},          // 程序索引越界
			{ProgramIDIndex: 1, AccountIndexes: []uint16{0, 7}},       // 账户索引越界
			{ProgramIDIndex: 0, AccountIndexes: nil, Data: []byte{2}}, // 无账户引用也合法
		},
	})

	tx := NewDecoder(nil).Decode(context.Background(), rec, false)
	require.NotNil(t, tx)
	require.Len(t, tx.Instructions, 2, "out-of-range instructions dropped, decode continues")
	assert.Equal(t, base58.Encode(mkKey(2)), tx.Instructions[0].ProgramAddress)
	assert.Equal(t, []string{base58.Encode(mkKey(1))}, tx.Instructions[0].AccountAddresses)
	assert.Equal(t, base58.Encode(mkKey(1)), tx.Instructions[1].ProgramAddress)
}

func TestDecode_TokenBalanceFilter(t *testing.T) {
	rec := mkRecord(&feed.RawTransaction{
		Signatures:  [][]byte{mkSig(1)},
		Header:      feed.MessageHeader{RequiredSignatures: 1},
		AccountKeys: [][]byte{mkKey(1)},
		Meta: feed.RawMeta{
			PreTokenBalances: []feed.RawTokenBalance{
				{AccountIndex: 1, Mint: "mintA", Owner: "ownerA", Amount: "100", Decimals: 6, HasAmount: true},
				{AccountIndex: 2, Mint: "mintB", Owner: "ownerB", HasAmount: false}, // 无 amount，跳过
			},
			PostTokenBalances: []feed.RawTokenBalance{
				{AccountIndex: 1, Mint: "mintA", Owner: "ownerA", Amount: "250", Decimals: 6, HasAmount: true},
			},
		},
	})

	tx := NewDecoder(nil).Decode(context.Background(), rec, false)
	require.NotNil(t, tx)
	require.Len(t, tx.Meta.PreTokenBalances, 1)
	require.Len(t, tx.Meta.PostTokenBalances, 1)
	assert.Equal(t, "100", tx.Meta.PreTokenBalances[0].Amount)
	assert.Equal(t, "250", tx.Meta.PostTokenBalances[0].Amount)
}

func TestDecode_Idempotent(t *testing.T) {
	rec := mkRecord(&feed.RawTransaction{
		Signatures:  [][]byte{mkSig(1)},
		Header:      feed.MessageHeader{RequiredSignatures: 1, ReadonlyUnsigned: 1},
		AccountKeys: [][]byte{mkKey(1), mkKey(2), mkKey(3)},
		Instructions: []feed.CompiledInstruction{
			{ProgramIDIndex: 2, AccountIndexes: []uint16{0, 1}, Data: []byte{7, 7}},
		},
		Meta: feed.RawMeta{
			Fee:          5000,
			PreBalances:  []uint64{100, 0, 1},
			PostBalances: []uint64{90, 5, 1},
		},
	})

	d := NewDecoder(nil)
	first := d.Decode(context.Background(), rec, false)
	second := d.Decode(context.Background(), rec, false)
	require.NotNil(t, first)
	assert.Equal(t, first, second, "same record decodes to the same canonical form")
}

func TestDecode_UnparseableEnvelope(t *testing.T) {
	d := NewDecoder(nil)
	assert.Nil(t, d.Decode(context.Background(), nil, false))
	assert.Nil(t, d.Decode(context.Background(), &feed.RawRecord{}, false))
	assert.Nil(t, d.Decode(context.Background(), mkRecord(&feed.RawTransaction{
		AccountKeys: [][]byte{mkKey(1)}, // 缺签名
	}), false))
	assert.Nil(t, d.Decode(context.Background(), mkRecord(&feed.RawTransaction{
		Signatures: [][]byte{mkSig(1)}, // 缺静态账户
	}), false))
}
