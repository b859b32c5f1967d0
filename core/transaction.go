package core

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/oneepicnight/vision-node/crypto"
)

const (
	// CoinbaseSender marks the synthetic sender of a mining reward.
	CoinbaseSender = "coinbase"
	// BootstrapSender marks the unspendable coinbase of a bootstrap-prefix
	// block.
	BootstrapSender = "bootstrap"
)

// Transaction is a fixed-schema value transfer. From holds the sender's full
// hex-encoded ed25519 public key; coinbase transactions use the marker
// senders above and carry no signature.
type Transaction struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	To        string `json:"to"` // recipient address hex
	Amount    uint64 `json:"amount"`
	Fee       uint64 `json:"fee"`
	Nonce     uint64 `json:"nonce"`
	Timestamp int64  `json:"timestamp"` // unix seconds
	Signature string `json:"signature"`
}

// encodeSigningBody returns the canonical binary form of all fields covered
// by the signature: length-prefixed strings, little-endian integers.
func (tx *Transaction) encodeSigningBody() []byte {
	var buf bytes.Buffer
	var scratch [8]byte
	writeStr := func(s string) {
		binary.LittleEndian.PutUint32(scratch[:4], uint32(len(s)))
		buf.Write(scratch[:4])
		buf.WriteString(s)
	}
	writeStr(tx.From)
	writeStr(tx.To)
	binary.LittleEndian.PutUint64(scratch[:], tx.Amount)
	buf.Write(scratch[:])
	binary.LittleEndian.PutUint64(scratch[:], tx.Fee)
	buf.Write(scratch[:])
	binary.LittleEndian.PutUint64(scratch[:], tx.Nonce)
	buf.Write(scratch[:])
	binary.LittleEndian.PutUint64(scratch[:], uint64(tx.Timestamp))
	buf.Write(scratch[:])
	return buf.Bytes()
}

// HashID returns the deterministic fingerprint of the transaction (sans
// signature).
func (tx *Transaction) HashID() string {
	return crypto.Hash(tx.encodeSigningBody())
}

// Sign computes the signature and sets ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	hash := tx.HashID()
	tx.Signature = crypto.Sign(priv, []byte(hash))
	tx.ID = hash
}

// IsCoinbase reports whether the transaction is a mining-reward or
// bootstrap-marker credit.
func (tx *Transaction) IsCoinbase() bool {
	return tx.From == CoinbaseSender || tx.From == BootstrapSender
}

// Verify checks the signature and that From is a valid public key. Coinbase
// transactions are exempt; their shape is checked during block admission.
func (tx *Transaction) Verify() error {
	if tx.IsCoinbase() {
		return nil
	}
	if tx.From == "" {
		return errors.New("missing from field")
	}
	pub, err := crypto.PubKeyFromHex(tx.From)
	if err != nil {
		return fmt.Errorf("invalid from (must be ed25519 pubkey hex): %w", err)
	}
	if tx.ID != tx.HashID() {
		return errors.New("tx id mismatch")
	}
	return crypto.Verify(pub, []byte(tx.HashID()), tx.Signature)
}

// SenderAddress returns the address derived from the sender public key, or
// the marker sender for coinbase transactions.
func (tx *Transaction) SenderAddress() (string, error) {
	if tx.IsCoinbase() {
		return tx.From, nil
	}
	pub, err := crypto.PubKeyFromHex(tx.From)
	if err != nil {
		return "", err
	}
	return pub.Address(), nil
}

// Size returns the encoded byte size used for mempool accounting.
func (tx *Transaction) Size() int {
	return len(tx.encodeSigningBody()) + len(tx.Signature)/2 + len(tx.ID)/2
}

// NewTransaction creates an unsigned transfer with the current timestamp.
func NewTransaction(from, to string, amount, fee, nonce uint64) *Transaction {
	return &Transaction{
		From:      from,
		To:        to,
		Amount:    amount,
		Fee:       fee,
		Nonce:     nonce,
		Timestamp: time.Now().Unix(),
	}
}

// NewCoinbase creates the reward transaction for a mined block. amount must
// equal the miner subsidy plus the block's total fees.
func NewCoinbase(miner string, amount uint64, height uint64) *Transaction {
	tx := &Transaction{
		From:      CoinbaseSender,
		To:        miner,
		Amount:    amount,
		Nonce:     height, // makes each coinbase ID unique
		Timestamp: time.Now().Unix(),
	}
	tx.ID = tx.HashID()
	return tx
}
