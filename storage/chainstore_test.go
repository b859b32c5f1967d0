package storage_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oneepicnight/vision-node/core"
	"github.com/oneepicnight/vision-node/crypto"
	"github.com/oneepicnight/vision-node/internal/testutil"
	"github.com/oneepicnight/vision-node/storage"
)

func TestChainKVBlockRoundTrip(t *testing.T) {
	s := storage.NewChainKV(testutil.NewMemDB())

	cb := core.NewCoinbase("miner-addr", 5, 40)
	b := core.NewBlock(40, crypto.Hash([]byte("parent")), "miner-addr",
		1_700_000_000, core.PowLimitBits, []*core.Transaction{cb})
	b.Seal()

	require.False(t, s.HasBlock(b.Hash))
	require.NoError(t, s.PutBlock(b))
	require.True(t, s.HasBlock(b.Hash))

	got, err := s.GetBlock(b.Hash)
	require.NoError(t, err)
	require.Equal(t, b, got)
}

func TestChainKVCanonicalIndex(t *testing.T) {
	s := storage.NewChainKV(testutil.NewMemDB())

	require.NoError(t, s.PutCanonicalHash(7, "aabb"))
	hash, err := s.GetCanonicalHash(7)
	require.NoError(t, err)
	require.Equal(t, "aabb", hash)

	require.NoError(t, s.DeleteCanonicalHash(7))
	_, err = s.GetCanonicalHash(7)
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestChainKVTipDefaultsEmpty(t *testing.T) {
	s := storage.NewChainKV(testutil.NewMemDB())
	tip, err := s.GetTip()
	require.NoError(t, err)
	require.Empty(t, tip, "fresh store reports an empty tip, not an error")

	require.NoError(t, s.SetTip("ccdd"))
	tip, err = s.GetTip()
	require.NoError(t, err)
	require.Equal(t, "ccdd", tip)
}

func TestChainKVSideSet(t *testing.T) {
	s := storage.NewChainKV(testutil.NewMemDB())
	require.False(t, s.IsSide("aa"))
	require.NoError(t, s.PutSide("aa"))
	require.NoError(t, s.PutSide("bb"))
	require.True(t, s.IsSide("aa"))

	hashes, err := s.SideHashes()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"aa", "bb"}, hashes)

	require.NoError(t, s.DeleteSide("aa"))
	require.False(t, s.IsSide("aa"))
}

func TestChainKVUndoRoundTrip(t *testing.T) {
	s := storage.NewChainKV(testutil.NewMemDB())
	undo := &core.BlockUndo{
		Accounts: []core.Account{{Address: "x", Balance: 3, Nonce: 1}},
		Supply:   77,
	}
	require.NoError(t, s.PutUndo("hash", undo))
	got, err := s.GetUndo("hash")
	require.NoError(t, err)
	require.Equal(t, undo, got)

	require.NoError(t, s.DeleteUndo("hash"))
	_, err = s.GetUndo("hash")
	require.ErrorIs(t, err, core.ErrNotFound)
}
