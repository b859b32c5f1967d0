// Package wire implements the length-prefixed binary protocol spoken between
// nodes: the handshake frame and the typed messages that follow it. All
// payloads use a canonical fixed-schema encoding: little-endian integers,
// u32-length-prefixed byte strings, raw 32-byte fingerprints. Frames carry a
// u32 big-endian length; the size cap is enforced before any allocation.
package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/oneepicnight/vision-node/crypto"
)

const (
	// MaxHandshakeSize bounds the handshake frame.
	MaxHandshakeSize = 1024
	// DefaultMaxFrameSize bounds every post-handshake frame.
	DefaultMaxFrameSize = 32 << 20
)

var (
	ErrEmptyFrame     = errors.New("zero-length frame")
	ErrFrameTooLarge  = errors.New("frame exceeds size cap")
	ErrTruncated      = errors.New("truncated payload")
	ErrTrailingBytes  = errors.New("trailing bytes after payload")
	ErrUnknownMessage = errors.New("unknown message type")
)

// WriteFrame writes a length-prefixed frame to w.
func WriteFrame(w io.Writer, payload []byte, max uint32) error {
	if len(payload) == 0 {
		return ErrEmptyFrame
	}
	if uint32(len(payload)) > max {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(payload), max)
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads the next length-prefixed frame from r. The declared length
// is checked against max before the payload buffer is allocated.
func ReadFrame(r io.Reader, max uint32) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length == 0 {
		return nil, ErrEmptyFrame
	}
	if length > max {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, max)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ---- canonical payload encoding ----

type writer struct {
	buf bytes.Buffer
	err error
}

func (w *writer) u8(v byte) { w.buf.WriteByte(v) }
func (w *writer) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) i64(v int64) { w.u64(uint64(v)) }

func (w *writer) varBytes(b []byte) {
	w.u32(uint32(len(b)))
	w.buf.Write(b)
}

func (w *writer) str(s string) { w.varBytes([]byte(s)) }

// fingerprint writes the raw 32 bytes of a fingerprint hex string.
func (w *writer) fingerprint(hexStr string) {
	if w.err != nil {
		return
	}
	raw, err := crypto.FingerprintToBytes(hexStr)
	if err != nil {
		w.err = err
		return
	}
	w.buf.Write(raw[:])
}

// hexBytes writes hex-decoded bytes with a length prefix (signatures).
func (w *writer) hexBytes(hexStr string) {
	if w.err != nil {
		return
	}
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		w.err = fmt.Errorf("invalid hex field: %w", err)
		return
	}
	w.varBytes(raw)
}

func (w *writer) bytes() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.buf.Bytes(), nil
}

type reader struct {
	buf []byte
	off int
	err error
}

func newReader(b []byte) *reader { return &reader{buf: b} }

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.err = ErrTruncated
		return nil
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out
}

func (r *reader) u8() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) i64() int64 { return int64(r.u64()) }

func (r *reader) varBytes() []byte {
	n := r.u32()
	if r.err != nil {
		return nil
	}
	if uint64(n) > uint64(len(r.buf)-r.off) {
		r.err = ErrTruncated
		return nil
	}
	return r.take(int(n))
}

func (r *reader) str() string { return string(r.varBytes()) }

func (r *reader) fingerprint() string {
	b := r.take(crypto.FingerprintSize)
	if b == nil {
		return ""
	}
	var raw [crypto.FingerprintSize]byte
	copy(raw[:], b)
	return crypto.FingerprintFromBytes(raw)
}

func (r *reader) hexBytes() string {
	b := r.varBytes()
	if r.err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}

func (r *reader) done() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.buf) {
		return ErrTrailingBytes
	}
	return nil
}
