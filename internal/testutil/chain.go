package testutil

import (
	"math/big"
	"testing"

	"github.com/oneepicnight/vision-node/core"
	"github.com/oneepicnight/vision-node/crypto"
	"github.com/oneepicnight/vision-node/events"
	"github.com/oneepicnight/vision-node/storage"
)

// NewChain builds an initialized memory-backed chain with default params.
func NewChain(t *testing.T) (*core.Chain, core.Params) {
	t.Helper()
	return NewChainWithParams(t, core.DefaultParams())
}

// NewChainWithParams builds an initialized memory-backed chain.
func NewChainWithParams(t *testing.T, params core.Params) (*core.Chain, core.Params) {
	t.Helper()
	db := NewMemDB()
	chain := core.NewChain(params, storage.NewChainKV(db), storage.NewStateDB(db), events.NewEmitter())
	if err := chain.Init(); err != nil {
		t.Fatalf("chain init: %v", err)
	}
	return chain, params
}

// MineBlock builds a valid child of parent with a correct coinbase and a
// sealed proof of work, stamped one minute after the parent.
func MineBlock(params core.Params, parent *core.Block, miner string, txs []*core.Transaction) *core.Block {
	return MineBlockAt(params, parent, miner, parent.Header.Timestamp+60, txs)
}

// MineBlockAt is MineBlock with an explicit timestamp, for fork fixtures
// that need distinct headers on the same parent.
func MineBlockAt(params core.Params, parent *core.Block, miner string, ts int64, txs []*core.Transaction) *core.Block {
	height := parent.Header.Height + 1
	em := params.EmissionAt(height)
	var fees uint64
	for _, tx := range txs {
		fees += tx.Fee
	}
	coinbase := core.NewCoinbase(miner, em.Miner+fees, height)
	coinbase.Timestamp = ts
	coinbase.ID = coinbase.HashID()
	all := append([]*core.Transaction{coinbase}, txs...)

	bits := params.PowLimitBits
	block := core.NewBlock(height, parent.Hash, miner, ts, bits, all)
	target := core.CompactToTarget(bits)
	for {
		block.Seal()
		raw, err := crypto.FingerprintToBytes(block.Hash)
		if err == nil && new(big.Int).SetBytes(raw[:]).Cmp(target) <= 0 {
			return block
		}
		block.Header.Nonce++
	}
}

// Checkpoint returns the installed bootstrap checkpoint block of chain.
func Checkpoint(t *testing.T, chain *core.Chain, params core.Params) *core.Block {
	t.Helper()
	b, err := chain.GetBlockByHeight(params.CheckpointHeight)
	if err != nil {
		t.Fatalf("checkpoint block: %v", err)
	}
	return b
}

// ExtendChain mines and admits n empty blocks on the current tip, returning
// the blocks in order.
func ExtendChain(t *testing.T, chain *core.Chain, params core.Params, miner string, n int) []*core.Block {
	t.Helper()
	out := make([]*core.Block, 0, n)
	for i := 0; i < n; i++ {
		b := MineBlock(params, chain.Tip(), miner, nil)
		res, err := chain.Admit(b)
		if err != nil {
			t.Fatalf("admit block %d: %v", b.Header.Height, err)
		}
		if !res.CanonicalChanged() {
			t.Fatalf("block %d not canonical: %s %s", b.Header.Height, res.Status, res.Reason)
		}
		out = append(out, b)
	}
	return out
}
