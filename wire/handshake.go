package wire

// Handshake is the identity frame exchanged on every new connection, before
// any other message. Both sides validate it field by field; any mismatch
// closes the socket before a single block is exchanged.
type Handshake struct {
	ProtocolVersion  uint32
	ChainID          string // fingerprint hex of the chain-id string
	GenesisHash      string
	NodeNonce        uint64 // self-connection detection
	ChainHeight      uint64
	NodeVersion      uint32
	CheckpointHeight uint64
	CheckpointHash   string
}

// Encode returns the canonical binary form of the handshake.
func (h *Handshake) Encode() ([]byte, error) {
	w := &writer{}
	w.u32(h.ProtocolVersion)
	w.fingerprint(h.ChainID)
	w.fingerprint(h.GenesisHash)
	w.u64(h.NodeNonce)
	w.u64(h.ChainHeight)
	w.u32(h.NodeVersion)
	w.u64(h.CheckpointHeight)
	w.fingerprint(h.CheckpointHash)
	return w.bytes()
}

// DecodeHandshake parses a handshake payload.
func DecodeHandshake(b []byte) (*Handshake, error) {
	r := newReader(b)
	h := &Handshake{
		ProtocolVersion: r.u32(),
		ChainID:         r.fingerprint(),
		GenesisHash:     r.fingerprint(),
	}
	h.NodeNonce = r.u64()
	h.ChainHeight = r.u64()
	h.NodeVersion = r.u32()
	h.CheckpointHeight = r.u64()
	h.CheckpointHash = r.fingerprint()
	if err := r.done(); err != nil {
		return nil, err
	}
	return h, nil
}
