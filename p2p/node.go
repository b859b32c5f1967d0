package p2p

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/oneepicnight/vision-node/config"
	"github.com/oneepicnight/vision-node/core"
	"github.com/oneepicnight/vision-node/events"
	"github.com/oneepicnight/vision-node/log"
	"github.com/oneepicnight/vision-node/wire"
)

const (
	fanoutBudget   = 16
	relayCacheSize = 4096
	pingPeriod     = 30 * time.Second
	dialPeriod     = 15 * time.Second
	maxRangeSpan   = 512
)

// Node runs the TCP overlay: it accepts inbound connections, dials known
// peers up to the outbound floor, screens every connection with the identity
// handshake, and routes blocks and transactions with anchor-priority fan-out.
type Node struct {
	cfg     *config.Config
	params  core.Params
	chain   *core.Chain
	mempool *core.Mempool
	peers   *Store
	emitter *events.Emitter
	logger  *zap.SugaredLogger

	nonce    uint64
	listener net.Listener

	connsMu sync.RWMutex
	conns   map[string]*Conn
	rr      int // round-robin cursor for non-anchor fan-out

	pingMu sync.Mutex
	pings  map[string]pingMark

	relaySeen *lru.Cache

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type pingMark struct {
	nonce  uint64
	sentAt time.Time
}

// NewNode creates a Node. Call Start to begin listening and dialing.
func NewNode(cfg *config.Config, params core.Params, chain *core.Chain, mempool *core.Mempool, peers *Store, emitter *events.Emitter) *Node {
	seen, _ := lru.New(relayCacheSize)
	var nb [8]byte
	_, _ = rand.Read(nb[:])
	ctx, cancel := context.WithCancel(context.Background())
	return &Node{
		cfg:       cfg,
		params:    params,
		chain:     chain,
		mempool:   mempool,
		peers:     peers,
		emitter:   emitter,
		logger:    log.New("p2p"),
		nonce:     binary.LittleEndian.Uint64(nb[:]),
		conns:     make(map[string]*Conn),
		pings:     make(map[string]pingMark),
		relaySeen: seen,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins accepting connections and dialing known peers.
func (n *Node) Start() error {
	ln, err := net.Listen("tcp", n.cfg.P2PListen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", n.cfg.P2PListen, err)
	}
	n.listener = ln

	// Seed the peer book with the configured anchors that expose a TCP
	// endpoint; the dial loop picks them up.
	for _, seed := range n.cfg.AnchorSeeds {
		if seed.P2PAddress == "" {
			continue
		}
		httpEndpoint := seed.HTTPEndpoint
		n.peers.Upsert(seed.P2PAddress, func(p *PeerInfo) {
			p.Role = RoleAnchor
			p.HTTPEndpoint = httpEndpoint
		})
	}

	n.wg.Add(3)
	go n.acceptLoop()
	go n.dialLoop()
	go n.pingLoop()
	n.logger.Infow("p2p listening", "addr", ln.Addr().String(), "nonce", n.nonce)
	return nil
}

// Stop closes the listener and every connection, then waits for the loops.
func (n *Node) Stop() {
	n.cancel()
	if n.listener != nil {
		_ = n.listener.Close()
	}
	n.connsMu.Lock()
	for _, c := range n.conns {
		c.Close()
	}
	n.connsMu.Unlock()
	n.wg.Wait()
}

// Nonce returns the node's self-connection detection nonce.
func (n *Node) Nonce() uint64 { return n.nonce }

// ListenAddr returns the bound P2P listen address.
func (n *Node) ListenAddr() string {
	if n.listener == nil {
		return ""
	}
	return n.listener.Addr().String()
}

// Peers returns the node's peer store.
func (n *Node) Peers() *Store { return n.peers }

// ConnCount returns the number of live connections.
func (n *Node) ConnCount() int {
	n.connsMu.RLock()
	defer n.connsMu.RUnlock()
	return len(n.conns)
}

// ---- connection establishment ----

func (n *Node) acceptLoop() {
	defer n.wg.Done()
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.ctx.Done():
				return
			default:
				n.logger.Warnw("accept error", "err", err)
				time.Sleep(100 * time.Millisecond)
				continue
			}
		}
		if n.ConnCount() >= n.cfg.MaxPeers {
			n.logger.Infow("max peers reached, rejecting", "remote", conn.RemoteAddr())
			_ = conn.Close()
			continue
		}
		// Inbound peers are keyed by host so reputation survives the
		// ephemeral source port.
		key := hostOf(conn.RemoteAddr().String())
		if n.peers.IsQuarantined(key) {
			n.logger.Infow("rejecting quarantined inbound", "peer", key)
			_ = conn.Close()
			continue
		}
		c := NewConn(key, conn, n.cfg.MaxFrameSize)
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.runInbound(c)
		}()
	}
}

// Connect dials addr, performs the outbound handshake, and registers the
// peer. Quarantine is enforced before the dial.
func (n *Node) Connect(addr string) error {
	if n.peers.IsQuarantined(addr) {
		return fmt.Errorf("peer %s is quarantined", addr)
	}
	n.peers.Upsert(addr, func(p *PeerInfo) {
		p.State = StateConnecting
		p.Direction = DirOutbound
	})
	conn, err := Dial(addr, n.cfg.MaxFrameSize)
	if err != nil {
		n.peers.Upsert(addr, func(p *PeerInfo) { p.LastError = err.Error() })
		return err
	}

	n.peers.Upsert(addr, func(p *PeerInfo) { p.State = StateHandshaking })
	local := localHandshake(n.params, n.nonce, n.chain.Height())
	if err := conn.sendHandshake(local); err != nil {
		conn.Close()
		return fmt.Errorf("send handshake to %s: %w", addr, err)
	}
	remote, err := conn.readHandshake()
	if err != nil {
		conn.Close()
		n.peers.Penalize(addr, n.cfg.Reputation.HandshakePenalty, "Structural")
		return fmt.Errorf("read handshake from %s: %w", addr, err)
	}
	if err := n.screenRemote(conn, remote); err != nil {
		return err
	}
	n.register(conn, remote, DirOutbound)
	return nil
}

func (n *Node) runInbound(conn *Conn) {
	remote, err := conn.readHandshake()
	if err != nil {
		conn.Close()
		n.peers.Penalize(conn.Addr(), n.cfg.Reputation.HandshakePenalty, "Structural")
		return
	}
	// Respond before enforcing: the dialer needs our identity frame to
	// diagnose a mismatch on its side instead of seeing a bare close.
	local := localHandshake(n.params, n.nonce, n.chain.Height())
	if err := conn.sendHandshake(local); err != nil {
		conn.Close()
		return
	}
	if err := n.screenRemote(conn, remote); err != nil {
		return
	}
	n.register(conn, remote, DirInbound)
}

// screenRemote validates the remote identity frame and closes the socket on
// mismatch, penalizing the endpoint.
func (n *Node) screenRemote(conn *Conn, remote *wire.Handshake) error {
	if err := validateHandshake(n.params, n.nonce, remote); err != nil {
		conn.Close()
		n.logger.Infow("handshake rejected", "peer", conn.Addr(), "err", err)
		n.peers.Penalize(conn.Addr(), n.cfg.Reputation.HandshakePenalty, "ProtocolMismatch: "+err.Error())
		return err
	}
	return nil
}

// register binds the connection to its peer record and starts the read loop.
func (n *Node) register(conn *Conn, remote *wire.Handshake, dir Direction) {
	n.peers.Upsert(conn.Addr(), func(p *PeerInfo) {
		p.State = StateActive
		p.Direction = dir
		p.LastSeen = time.Now()
		p.LastError = ""
		p.RemoteTipHeight = remote.ChainHeight
		p.NodeVersion = remote.NodeVersion
	})
	n.connsMu.Lock()
	if old, ok := n.conns[conn.Addr()]; ok {
		old.Close()
	}
	n.conns[conn.Addr()] = conn
	n.connsMu.Unlock()

	n.logger.Infow("peer active", "peer", conn.Addr(), "direction", dir, "remote_height", remote.ChainHeight)
	n.emitter.Emit(events.Event{
		Type: events.EventPeerActive,
		Data: map[string]any{"peer": conn.Addr(), "direction": string(dir)},
	})
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.readLoop(conn)
	}()
}

func (n *Node) readLoop(conn *Conn) {
	defer func() {
		conn.Close()
		n.connsMu.Lock()
		if n.conns[conn.Addr()] == conn {
			delete(n.conns, conn.Addr())
		}
		n.connsMu.Unlock()
		n.peers.Upsert(conn.Addr(), func(p *PeerInfo) {
			if p.State == StateActive {
				p.State = StateConnecting
			}
		})
	}()
	for {
		msg, err := conn.ReadMsg()
		if err != nil {
			select {
			case <-n.ctx.Done():
			default:
				n.logger.Debugw("connection closed", "peer", conn.Addr(), "err", err)
				if isStructural(err) {
					n.peers.Penalize(conn.Addr(), n.cfg.Reputation.HandshakePenalty, "Structural: "+err.Error())
				}
			}
			return
		}
		n.handleMessage(conn, msg)
	}
}

func isStructural(err error) bool {
	for _, structural := range []error{wire.ErrEmptyFrame, wire.ErrFrameTooLarge, wire.ErrTruncated, wire.ErrTrailingBytes, wire.ErrUnknownMessage} {
		if errors.Is(err, structural) {
			return true
		}
	}
	return false
}

// hostOf strips the ephemeral port from an inbound remote address so
// reputation attaches to the host.
func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// ---- dialing and keepalive ----

func (n *Node) dialLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(dialPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.fillOutbound()
		}
	}
}

func (n *Node) fillOutbound() {
	outbound := 0
	n.connsMu.RLock()
	connected := make(map[string]bool, len(n.conns))
	for addr := range n.conns {
		connected[addr] = true
		if info, ok := n.peers.Get(addr); ok && info.Direction == DirOutbound {
			outbound++
		}
	}
	n.connsMu.RUnlock()
	if outbound >= n.cfg.MinOutbound {
		return
	}

	deficit := n.cfg.MinOutbound - outbound
	for _, p := range n.peers.AllSnapshot() {
		if deficit == 0 {
			return
		}
		if connected[p.Address] || p.State == StateQuarantined || p.Direction == DirInbound {
			continue
		}
		addr := p.Address
		deficit--
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.Connect(addr); err != nil {
				n.logger.Debugw("dial failed", "peer", addr, "err", err)
			}
		}()
	}
}

func (n *Node) pingLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.connsMu.RLock()
			conns := make([]*Conn, 0, len(n.conns))
			for _, c := range n.conns {
				conns = append(conns, c)
			}
			n.connsMu.RUnlock()
			for _, c := range conns {
				var nb [8]byte
				_, _ = rand.Read(nb[:])
				nonce := binary.LittleEndian.Uint64(nb[:])
				n.pingMu.Lock()
				n.pings[c.Addr()] = pingMark{nonce: nonce, sentAt: time.Now()}
				n.pingMu.Unlock()
				if err := c.SendMsg(&wire.Ping{Nonce: nonce}); err != nil {
					n.logger.Debugw("ping failed", "peer", c.Addr(), "err", err)
				}
			}
		}
	}
}

// ---- routing ----

// fanoutConns chooses the broadcast set: every anchor first (up to the
// budget), remaining slots filled from the non-anchors by round-robin.
func (n *Node) fanoutConns(budget int) []*Conn {
	n.connsMu.Lock()
	defer n.connsMu.Unlock()

	var anchors, others []*Conn
	addrs := make([]string, 0, len(n.conns))
	for addr := range n.conns {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	for _, addr := range addrs {
		info, ok := n.peers.Get(addr)
		if !ok || info.State != StateActive {
			continue
		}
		if info.Role == RoleAnchor {
			anchors = append(anchors, n.conns[addr])
		} else {
			others = append(others, n.conns[addr])
		}
	}

	out := make([]*Conn, 0, budget)
	for _, c := range anchors {
		if len(out) == budget {
			return out
		}
		out = append(out, c)
	}
	for i := 0; i < len(others) && len(out) < budget; i++ {
		out = append(out, others[(n.rr+i)%len(others)])
	}
	n.rr++
	return out
}

// BroadcastBlock announces a block to the fan-out set. Re-announcements of
// an already-relayed block are suppressed.
func (n *Node) BroadcastBlock(b *core.Block) {
	if ok, _ := n.relaySeen.ContainsOrAdd("b:"+b.Hash, true); ok {
		return
	}
	ann := &wire.BlockAnnounce{Header: b.Header, Hash: b.Hash}
	for _, tx := range b.Txs {
		ann.ShortIDs = append(ann.ShortIDs, wire.ShortID(tx.ID))
	}
	for _, c := range n.fanoutConns(fanoutBudget) {
		conn := c
		go func() {
			if err := conn.SendMsg(ann); err != nil {
				n.logger.Debugw("announce failed", "peer", conn.Addr(), "err", err)
			}
		}()
	}
}

// BroadcastTx relays a transaction to the fan-out set.
func (n *Node) BroadcastTx(tx *core.Transaction) {
	if ok, _ := n.relaySeen.ContainsOrAdd("t:"+tx.ID, true); ok {
		return
	}
	msg := &wire.TxAnnounce{Tx: tx}
	for _, c := range n.fanoutConns(fanoutBudget) {
		conn := c
		go func() {
			if err := conn.SendMsg(msg); err != nil {
				n.logger.Debugw("tx relay failed", "peer", conn.Addr(), "err", err)
			}
		}()
	}
}

// RequestRange asks the lowest-latency active peer for a canonical block
// range. The response is admitted asynchronously by the read loop.
func (n *Node) RequestRange(from, to uint64) (string, error) {
	conn := n.bestConn()
	if conn == nil {
		return "", fmt.Errorf("no active peers")
	}
	if err := conn.SendMsg(&wire.RangeRequest{FromHeight: from, ToHeight: to}); err != nil {
		return "", err
	}
	return conn.Addr(), nil
}

func (n *Node) bestConn() *Conn {
	n.connsMu.RLock()
	defer n.connsMu.RUnlock()
	var best *Conn
	bestLatency := int64(1 << 62)
	for addr, c := range n.conns {
		info, ok := n.peers.Get(addr)
		if !ok || info.State != StateActive {
			continue
		}
		latency := info.LatencyMS
		if latency == 0 {
			latency = 1 << 61 // unmeasured peers sort last but stay usable
		}
		if best == nil || latency < bestLatency {
			best, bestLatency = c, latency
		}
	}
	return best
}
