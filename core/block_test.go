package core_test

import (
	"testing"

	"github.com/oneepicnight/vision-node/core"
	"github.com/oneepicnight/vision-node/crypto"
)

// TestPowHashDeterministic ensures header hashing is stable and sensitive to
// every field.
func TestPowHashDeterministic(t *testing.T) {
	parent := crypto.Hash([]byte("parent"))
	b := core.NewBlock(100, parent, "miner-addr", 1_700_000_000, core.PowLimitBits, nil)
	b.Seal()

	if b.Hash == "" {
		t.Fatal("hash should be set after sealing")
	}
	if b.ComputePowHash() != b.Hash {
		t.Error("ComputePowHash() does not match stored hash")
	}

	mutated := *b
	mutated.Header.Nonce++
	if mutated.ComputePowHash() == b.Hash {
		t.Error("nonce change must change the fingerprint")
	}
}

func TestVerifyIntegrityCatchesTamper(t *testing.T) {
	parent := crypto.Hash([]byte("parent"))
	cb := core.NewCoinbase("miner-addr", 0, 100)
	b := core.NewBlock(100, parent, "miner-addr", 1_700_000_000, core.PowLimitBits, []*core.Transaction{cb})
	b.Seal()
	if err := b.VerifyIntegrity(); err != nil {
		t.Fatalf("sealed block should verify: %v", err)
	}

	b.Header.Timestamp++
	if err := b.VerifyIntegrity(); err == nil {
		t.Error("tampered header should fail integrity")
	}
	b.Header.Timestamp--

	// Swap the tx list without refreshing TxRoot.
	b.Txs = append(b.Txs, core.NewCoinbase("other", 0, 100))
	b.Seal()
	if err := b.VerifyIntegrity(); err == nil {
		t.Error("tx_root mismatch should fail integrity")
	}
}

// TestTransactionSignVerify ensures transaction signing round-trips and
// catches tampering.
func TestTransactionSignVerify(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	tx := core.NewTransaction(pub.Hex(), "deadbeef", 100, 5, 0)
	tx.Sign(priv)

	if tx.ID == "" {
		t.Error("tx ID should be set after signing")
	}
	if err := tx.Verify(); err != nil {
		t.Errorf("Verify failed: %v", err)
	}

	tx.Fee = 999
	if err := tx.Verify(); err == nil {
		t.Error("tampered tx should fail verification")
	}
}

func TestCoinbaseShape(t *testing.T) {
	cb := core.NewCoinbase("miner-addr", 42, 7)
	if !cb.IsCoinbase() {
		t.Error("coinbase not recognized")
	}
	if err := cb.Verify(); err != nil {
		t.Errorf("coinbase should be signature-exempt: %v", err)
	}
	if cb.ID != cb.HashID() {
		t.Error("coinbase ID must be its fingerprint")
	}

	other := core.NewCoinbase("miner-addr", 42, 8)
	if other.ID == cb.ID {
		t.Error("coinbases at different heights must have distinct IDs")
	}
}

func TestSenderAddress(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	tx := core.NewTransaction(pub.Hex(), "deadbeef", 1, 1, 0)
	tx.Sign(priv)
	addr, err := tx.SenderAddress()
	if err != nil {
		t.Fatal(err)
	}
	if addr != pub.Address() {
		t.Errorf("sender address %s, want %s", addr, pub.Address())
	}
}
