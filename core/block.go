package core

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/oneepicnight/vision-node/crypto"
)

// GenesisParent is the canonical all-zeros parent marker for block #0.
const GenesisParent = "0000000000000000000000000000000000000000000000000000000000000000"

// BlockHeader contains the block metadata covered by the PoW fingerprint.
type BlockHeader struct {
	ParentHash string `json:"parent_hash"`
	Height     uint64 `json:"height"`
	Timestamp  int64  `json:"timestamp"` // unix seconds
	TargetBits uint32 `json:"target_bits"`
	Nonce      uint64 `json:"nonce"`
	Miner      string `json:"miner"`   // miner address hex
	TxRoot     string `json:"tx_root"` // fingerprint over ordered tx IDs
}

// Block is a header plus an ordered sequence of transactions. Hash holds the
// block's PoW fingerprint; for bootstrap-prefix blocks it is the compiled-in
// value rather than a recomputed one.
type Block struct {
	Header BlockHeader    `json:"header"`
	Txs    []*Transaction `json:"txs"`
	Hash   string         `json:"hash"`
}

// EncodeHeader returns the canonical binary form of the header: little-endian
// fixed-width integers, raw fingerprint bytes, length-prefixed miner address.
func (h *BlockHeader) EncodeHeader() ([]byte, error) {
	parent, err := crypto.FingerprintToBytes(h.ParentHash)
	if err != nil {
		return nil, fmt.Errorf("parent_hash: %w", err)
	}
	txRoot, err := crypto.FingerprintToBytes(h.TxRoot)
	if err != nil {
		return nil, fmt.Errorf("tx_root: %w", err)
	}
	var buf bytes.Buffer
	buf.Write(parent[:])
	var scratch [8]byte
	binary.LittleEndian.PutUint64(scratch[:], h.Height)
	buf.Write(scratch[:])
	binary.LittleEndian.PutUint64(scratch[:], uint64(h.Timestamp))
	buf.Write(scratch[:])
	binary.LittleEndian.PutUint32(scratch[:4], h.TargetBits)
	buf.Write(scratch[:4])
	binary.LittleEndian.PutUint64(scratch[:], h.Nonce)
	buf.Write(scratch[:])
	miner := []byte(h.Miner)
	binary.LittleEndian.PutUint32(scratch[:4], uint32(len(miner)))
	buf.Write(scratch[:4])
	buf.Write(miner)
	buf.Write(txRoot[:])
	return buf.Bytes(), nil
}

// ComputePowHash returns the PoW fingerprint of the header.
// Returns an empty string if the header is malformed.
func (b *Block) ComputePowHash() string {
	data, err := b.Header.EncodeHeader()
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Seal computes and stores the block's PoW fingerprint.
func (b *Block) Seal() {
	b.Hash = b.ComputePowHash()
}

// VerifyIntegrity checks that the stored fingerprint matches the recomputed
// header fingerprint and that TxRoot covers the actual transaction list.
// Bootstrap-prefix blocks carry fixed fingerprints and are not checked here.
func (b *Block) VerifyIntegrity() error {
	if computed := b.ComputePowHash(); b.Hash != computed {
		return fmt.Errorf("block fingerprint mismatch: stored %s computed %s", b.Hash, computed)
	}
	if txRoot := ComputeTxRoot(b.Txs); b.Header.TxRoot != txRoot {
		return errors.New("tx_root mismatch")
	}
	return nil
}

// ComputeTxRoot builds a deterministic root fingerprint from all transaction
// IDs. Each ID is length-prefixed to prevent boundary ambiguity.
func ComputeTxRoot(txs []*Transaction) string {
	if len(txs) == 0 {
		return crypto.Hash([]byte("empty"))
	}
	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, tx := range txs {
		id := []byte(tx.ID)
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(id)))
		buf.Write(lenBuf[:])
		buf.Write(id)
	}
	return crypto.Hash(buf.Bytes())
}

// NewBlock creates an unsealed block with the given parameters.
func NewBlock(height uint64, parentHash, miner string, timestamp int64, targetBits uint32, txs []*Transaction) *Block {
	return &Block{
		Header: BlockHeader{
			ParentHash: parentHash,
			Height:     height,
			Timestamp:  timestamp,
			TargetBits: targetBits,
			Miner:      miner,
			TxRoot:     ComputeTxRoot(txs),
		},
		Txs: txs,
	}
}
