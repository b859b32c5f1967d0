package wire

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello overlay")
	require.NoError(t, WriteFrame(&buf, payload, DefaultMaxFrameSize))

	got, err := ReadFrame(&buf, DefaultMaxFrameSize)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

// Frame length boundaries: zero is rejected, the cap is accepted, one past
// the cap is rejected before allocation.
func TestFrameSizeBoundaries(t *testing.T) {
	const max = MaxHandshakeSize

	zero := make([]byte, 4) // length prefix 0
	_, err := ReadFrame(bytes.NewReader(zero), max)
	require.ErrorIs(t, err, ErrEmptyFrame)

	atMax := make([]byte, 4+max)
	binary.BigEndian.PutUint32(atMax, max)
	got, err := ReadFrame(bytes.NewReader(atMax), max)
	require.NoError(t, err)
	require.Len(t, got, max)

	overMax := make([]byte, 4)
	binary.BigEndian.PutUint32(overMax, max+1)
	_, err = ReadFrame(bytes.NewReader(overMax), max)
	require.ErrorIs(t, err, ErrFrameTooLarge)

	require.ErrorIs(t, WriteFrame(&bytes.Buffer{}, nil, max), ErrEmptyFrame)
	require.ErrorIs(t, WriteFrame(&bytes.Buffer{}, make([]byte, max+1), max), ErrFrameTooLarge)
}

func TestHandshakeRoundTrip(t *testing.T) {
	h := &Handshake{
		ProtocolVersion:  1,
		ChainID:          hexFill("aa"),
		GenesisHash:      hexFill("bb"),
		NodeNonce:        0xdeadbeefcafe,
		ChainHeight:      1234,
		NodeVersion:      10300,
		CheckpointHeight: 32,
		CheckpointHash:   hexFill("cc"),
	}
	payload, err := h.Encode()
	require.NoError(t, err)

	got, err := DecodeHandshake(payload)
	require.NoError(t, err)
	require.Equal(t, h, got)

	// Bit-for-bit: re-encoding reproduces the payload.
	again, err := got.Encode()
	require.NoError(t, err)
	require.Equal(t, payload, again)
}

func TestHandshakeDecodeTruncated(t *testing.T) {
	h := &Handshake{
		ProtocolVersion: 1, ChainID: hexFill("aa"), GenesisHash: hexFill("bb"),
		CheckpointHash: hexFill("cc"),
	}
	payload, err := h.Encode()
	require.NoError(t, err)

	_, err = DecodeHandshake(payload[:len(payload)-1])
	require.ErrorIs(t, err, ErrTruncated)

	_, err = DecodeHandshake(append(payload, 0x00))
	require.ErrorIs(t, err, ErrTrailingBytes)
}

func hexFill(b string) string {
	out := ""
	for i := 0; i < 32; i++ {
		out += b
	}
	return out
}
