package p2p

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/oneepicnight/vision-node/wire"
)

const (
	dialTimeout      = 5 * time.Second
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 30 * time.Second
	readTimeout      = 2 * time.Minute
)

// Conn wraps one TCP connection with framed message IO. A Conn binds to a
// peer record for the connection's lifetime; on close the record persists
// and only the transport handle is dropped.
type Conn struct {
	addr string // peer-store key for this connection
	c    net.Conn

	mu     sync.Mutex // serializes writes
	closed bool

	maxFrame uint32
}

// Dial opens an outbound connection to addr within the dial timeout.
func Dial(addr string, maxFrame uint32) (*Conn, error) {
	c, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Conn{addr: addr, c: c, maxFrame: maxFrame}, nil
}

// NewConn wraps an accepted connection.
func NewConn(addr string, c net.Conn, maxFrame uint32) *Conn {
	return &Conn{addr: addr, c: c, maxFrame: maxFrame}
}

// Addr returns the peer-store key for this connection.
func (c *Conn) Addr() string { return c.addr }

// SendMsg writes one framed message.
func (c *Conn) SendMsg(m wire.Message) error {
	payload, err := wire.EncodeMessage(m)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("connection to %s closed", c.addr)
	}
	_ = c.c.SetWriteDeadline(time.Now().Add(writeTimeout))
	return wire.WriteFrame(c.c, payload, c.maxFrame)
}

// ReadMsg reads the next framed message. The read deadline bounds a stalled
// peer; the keepalive ping keeps healthy connections inside it.
func (c *Conn) ReadMsg() (wire.Message, error) {
	_ = c.c.SetReadDeadline(time.Now().Add(readTimeout))
	payload, err := wire.ReadFrame(c.c, c.maxFrame)
	if err != nil {
		return nil, err
	}
	return wire.DecodeMessage(payload)
}

// sendHandshake writes the handshake frame under the handshake deadline.
func (c *Conn) sendHandshake(h *wire.Handshake) error {
	payload, err := h.Encode()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.c.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	return wire.WriteFrame(c.c, payload, wire.MaxHandshakeSize)
}

// readHandshake reads the handshake frame under the handshake deadline.
func (c *Conn) readHandshake() (*wire.Handshake, error) {
	_ = c.c.SetReadDeadline(time.Now().Add(handshakeTimeout))
	payload, err := wire.ReadFrame(c.c, wire.MaxHandshakeSize)
	if err != nil {
		return nil, err
	}
	return wire.DecodeHandshake(payload)
}

// Close terminates the connection. Safe to call more than once.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		_ = c.c.Close()
	}
}
