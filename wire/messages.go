package wire

import (
	"fmt"

	"github.com/oneepicnight/vision-node/core"
)

// Post-handshake message type bytes.
const (
	MsgBlockAnnounce     byte = 0x01
	MsgBlockFetchRequest byte = 0x02
	MsgBlockResponse     byte = 0x03
	MsgTxAnnounce        byte = 0x04
	MsgTxFetchRequest    byte = 0x05
	MsgPing              byte = 0x06
	MsgPong              byte = 0x07
	MsgRangeRequest      byte = 0x08
	MsgRangeResponse     byte = 0x09
)

// ShortIDLen is the truncated txid length carried by BlockAnnounce.
const ShortIDLen = 8

// Message is any post-handshake protocol message.
type Message interface {
	MsgType() byte
	encodePayload(w *writer)
}

// BlockAnnounce advertises a new block by header plus short transaction IDs;
// the receiver fetches the body if the block is unknown.
type BlockAnnounce struct {
	Header   core.BlockHeader
	Hash     string
	ShortIDs [][ShortIDLen]byte
}

func (*BlockAnnounce) MsgType() byte { return MsgBlockAnnounce }

// BlockFetchRequest asks for a full block by fingerprint.
type BlockFetchRequest struct {
	Hash string
}

func (*BlockFetchRequest) MsgType() byte { return MsgBlockFetchRequest }

// BlockResponse carries one full block.
type BlockResponse struct {
	Block *core.Block
}

func (*BlockResponse) MsgType() byte { return MsgBlockResponse }

// TxAnnounce relays one full transaction.
type TxAnnounce struct {
	Tx *core.Transaction
}

func (*TxAnnounce) MsgType() byte { return MsgTxAnnounce }

// TxFetchRequest asks for a transaction by ID.
type TxFetchRequest struct {
	TxID string
}

func (*TxFetchRequest) MsgType() byte { return MsgTxFetchRequest }

// Ping carries a liveness nonce.
type Ping struct {
	Nonce uint64
}

func (*Ping) MsgType() byte { return MsgPing }

// Pong answers a Ping and refreshes the sender's tip observation.
type Pong struct {
	Nonce     uint64
	TipHeight uint64
	TipHash   string
}

func (*Pong) MsgType() byte { return MsgPong }

// RangeRequest asks for canonical blocks in [FromHeight, ToHeight].
type RangeRequest struct {
	FromHeight uint64
	ToHeight   uint64
}

func (*RangeRequest) MsgType() byte { return MsgRangeRequest }

// RangeResponse carries a batch of canonical blocks in ascending order.
type RangeResponse struct {
	Blocks []*core.Block
}

func (*RangeResponse) MsgType() byte { return MsgRangeResponse }

// ---- encoding ----

func encodeHeader(w *writer, h *core.BlockHeader) {
	w.fingerprint(h.ParentHash)
	w.u64(h.Height)
	w.i64(h.Timestamp)
	w.u32(h.TargetBits)
	w.u64(h.Nonce)
	w.str(h.Miner)
	w.fingerprint(h.TxRoot)
}

func decodeHeader(r *reader) core.BlockHeader {
	return core.BlockHeader{
		ParentHash: r.fingerprint(),
		Height:     r.u64(),
		Timestamp:  r.i64(),
		TargetBits: r.u32(),
		Nonce:      r.u64(),
		Miner:      r.str(),
		TxRoot:     r.fingerprint(),
	}
}

func encodeTx(w *writer, tx *core.Transaction) {
	w.fingerprint(tx.ID)
	w.str(tx.From)
	w.str(tx.To)
	w.u64(tx.Amount)
	w.u64(tx.Fee)
	w.u64(tx.Nonce)
	w.i64(tx.Timestamp)
	w.hexBytes(tx.Signature)
}

func decodeTx(r *reader) *core.Transaction {
	return &core.Transaction{
		ID:        r.fingerprint(),
		From:      r.str(),
		To:        r.str(),
		Amount:    r.u64(),
		Fee:       r.u64(),
		Nonce:     r.u64(),
		Timestamp: r.i64(),
		Signature: r.hexBytes(),
	}
}

func encodeBlock(w *writer, b *core.Block) {
	encodeHeader(w, &b.Header)
	w.fingerprint(b.Hash)
	w.u32(uint32(len(b.Txs)))
	for _, tx := range b.Txs {
		encodeTx(w, tx)
	}
}

func decodeBlock(r *reader) *core.Block {
	b := &core.Block{Header: decodeHeader(r)}
	b.Hash = r.fingerprint()
	n := r.u32()
	if r.err != nil {
		return b
	}
	for i := uint32(0); i < n && r.err == nil; i++ {
		b.Txs = append(b.Txs, decodeTx(r))
	}
	return b
}

func (m *BlockAnnounce) encodePayload(w *writer) {
	encodeHeader(w, &m.Header)
	w.fingerprint(m.Hash)
	w.u32(uint32(len(m.ShortIDs)))
	for _, id := range m.ShortIDs {
		w.buf.Write(id[:])
	}
}

func (m *BlockFetchRequest) encodePayload(w *writer) { w.fingerprint(m.Hash) }

func (m *BlockResponse) encodePayload(w *writer) { encodeBlock(w, m.Block) }

func (m *TxAnnounce) encodePayload(w *writer) { encodeTx(w, m.Tx) }

func (m *TxFetchRequest) encodePayload(w *writer) { w.fingerprint(m.TxID) }

func (m *Ping) encodePayload(w *writer) { w.u64(m.Nonce) }

func (m *Pong) encodePayload(w *writer) {
	w.u64(m.Nonce)
	w.u64(m.TipHeight)
	w.fingerprint(m.TipHash)
}

func (m *RangeRequest) encodePayload(w *writer) {
	w.u64(m.FromHeight)
	w.u64(m.ToHeight)
}

func (m *RangeResponse) encodePayload(w *writer) {
	w.u32(uint32(len(m.Blocks)))
	for _, b := range m.Blocks {
		encodeBlock(w, b)
	}
}

// EncodeMessage serializes a message as [type byte][payload].
func EncodeMessage(m Message) ([]byte, error) {
	w := &writer{}
	w.u8(m.MsgType())
	m.encodePayload(w)
	return w.bytes()
}

// DecodeMessage parses a [type byte][payload] frame into its message.
func DecodeMessage(payload []byte) (Message, error) {
	r := newReader(payload)
	typ := r.u8()
	var m Message
	switch typ {
	case MsgBlockAnnounce:
		ann := &BlockAnnounce{Header: decodeHeader(r)}
		ann.Hash = r.fingerprint()
		n := r.u32()
		for i := uint32(0); i < n && r.err == nil; i++ {
			var id [ShortIDLen]byte
			copy(id[:], r.take(ShortIDLen))
			ann.ShortIDs = append(ann.ShortIDs, id)
		}
		m = ann
	case MsgBlockFetchRequest:
		m = &BlockFetchRequest{Hash: r.fingerprint()}
	case MsgBlockResponse:
		m = &BlockResponse{Block: decodeBlock(r)}
	case MsgTxAnnounce:
		m = &TxAnnounce{Tx: decodeTx(r)}
	case MsgTxFetchRequest:
		m = &TxFetchRequest{TxID: r.fingerprint()}
	case MsgPing:
		m = &Ping{Nonce: r.u64()}
	case MsgPong:
		m = &Pong{Nonce: r.u64(), TipHeight: r.u64(), TipHash: r.fingerprint()}
	case MsgRangeRequest:
		m = &RangeRequest{FromHeight: r.u64(), ToHeight: r.u64()}
	case MsgRangeResponse:
		resp := &RangeResponse{}
		n := r.u32()
		for i := uint32(0); i < n && r.err == nil; i++ {
			resp.Blocks = append(resp.Blocks, decodeBlock(r))
		}
		m = resp
	default:
		return nil, fmt.Errorf("%w: %#x", ErrUnknownMessage, typ)
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return m, nil
}

// ShortID returns the truncated relay ID for a txid fingerprint hex.
func ShortID(txID string) [ShortIDLen]byte {
	var out [ShortIDLen]byte
	// txID is hex; take the first 8 raw bytes (16 hex chars).
	for i := 0; i < ShortIDLen && 2*i+1 < len(txID); i++ {
		out[i] = hexNibble(txID[2*i])<<4 | hexNibble(txID[2*i+1])
	}
	return out
}

func hexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}
