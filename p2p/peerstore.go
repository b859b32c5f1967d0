// Package p2p implements the gossip overlay: the framed identity handshake,
// the peer store with roles and reputation, anchor-priority block routing,
// and the background auto-sync loop.
package p2p

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/oneepicnight/vision-node/config"
	"github.com/oneepicnight/vision-node/events"
	"github.com/oneepicnight/vision-node/log"
	"github.com/oneepicnight/vision-node/storage"
)

// Role classifies what a peer is on the overlay.
type Role string

const (
	RoleAnchor  Role = "anchor"
	RoleLeaf    Role = "leaf"
	RoleUnknown Role = "unknown"
)

// Direction records who opened the connection.
type Direction string

const (
	DirInbound  Direction = "inbound"
	DirOutbound Direction = "outbound"
)

// PeerState is the lifecycle state of a peer record.
type PeerState string

const (
	StateConnecting  PeerState = "connecting"
	StateHandshaking PeerState = "handshaking"
	StateActive      PeerState = "active"
	StateQuarantined PeerState = "quarantined"
)

// PeerInfo is the durable record for one endpoint. The transport handle
// lives on the connection, not here; on disconnect the record persists.
type PeerInfo struct {
	Address          string    `json:"address"`
	HTTPEndpoint     string    `json:"http_endpoint,omitempty"`
	Role             Role      `json:"role"`
	Direction        Direction `json:"direction"`
	State            PeerState `json:"state"`
	Reputation       int       `json:"reputation"`
	LastSeen         time.Time `json:"last_seen"`
	LastError        string    `json:"last_error,omitempty"`
	RemoteTipHeight  uint64    `json:"remote_tip_height"`
	RemoteTipHash    string    `json:"remote_tip_hash,omitempty"`
	LatencyMS        int64     `json:"latency_ms"`
	NodeVersion      uint32    `json:"node_version"`
	HTTPDiscovered   bool      `json:"http_discovered,omitempty"`
	QuarantinedUntil time.Time `json:"quarantined_until,omitempty"`
}

const keyPrefixPeer = "peer:"

// Store maps endpoint → PeerInfo. Mutations are serialized; snapshot reads
// return a consistent copy. Reputation is persisted across restarts when a
// DB is attached.
type Store struct {
	mu      sync.RWMutex
	peers   map[string]*PeerInfo
	rep     config.Reputation
	coolOff time.Duration
	db      storage.DB // nil in tests
	emitter *events.Emitter
	logger  *zap.SugaredLogger
}

// NewStore creates a peer store with the given reputation arithmetic.
// db may be nil; then nothing is persisted.
func NewStore(rep config.Reputation, coolOff time.Duration, db storage.DB, emitter *events.Emitter) *Store {
	return &Store{
		peers:   make(map[string]*PeerInfo),
		rep:     rep,
		coolOff: coolOff,
		db:      db,
		emitter: emitter,
		logger:  log.New("peers"),
	}
}

// Load restores persisted peer records. Connection-bound state is reset.
func (s *Store) Load() error {
	if s.db == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.db.NewIterator([]byte(keyPrefixPeer))
	defer it.Release()
	for it.Next() {
		var p PeerInfo
		if err := json.Unmarshal(it.Value(), &p); err != nil {
			s.logger.Warnw("drop unreadable peer record", "key", string(it.Key()), "err", err)
			continue
		}
		if p.State != StateQuarantined || time.Now().After(p.QuarantinedUntil) {
			p.State = StateConnecting
		}
		cp := p
		s.peers[p.Address] = &cp
	}
	return it.Error()
}

func (s *Store) persistLocked(p *PeerInfo) {
	if s.db == nil {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := s.db.Set([]byte(keyPrefixPeer+p.Address), data); err != nil {
		s.logger.Warnw("persist peer failed", "peer", p.Address, "err", err)
	}
}

// Upsert inserts or updates the record for address and returns a copy.
// mutate may be nil.
func (s *Store) Upsert(address string, mutate func(*PeerInfo)) PeerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[address]
	if !ok {
		p = &PeerInfo{
			Address:    address,
			Role:       RoleUnknown,
			State:      StateConnecting,
			Reputation: s.rep.Start,
		}
		s.peers[address] = p
	}
	if mutate != nil {
		mutate(p)
	}
	s.persistLocked(p)
	return *p
}

// Get returns a copy of the record for address.
func (s *Store) Get(address string) (PeerInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.peers[address]
	if !ok {
		return PeerInfo{}, false
	}
	return *p, true
}

// Remove evicts the record for address.
func (s *Store) Remove(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, address)
	if s.db != nil {
		_ = s.db.Delete([]byte(keyPrefixPeer + address))
	}
}

// Len returns the number of known peers.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// ActiveSnapshot returns copies of all peers that passed the handshake and
// are not quarantined, for read-only consumers.
func (s *Store) ActiveSnapshot() []PeerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PeerInfo, 0, len(s.peers))
	for _, p := range s.peers {
		if p.State == StateActive {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// AllSnapshot returns copies of every known peer record.
func (s *Store) AllSnapshot() []PeerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PeerInfo, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// BestRemoteHeight returns the maximum remote tip height over active peers.
func (s *Store) BestRemoteHeight() (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best uint64
	found := false
	for _, p := range s.peers {
		if p.State != StateActive {
			continue
		}
		found = true
		if p.RemoteTipHeight > best {
			best = p.RemoteTipHeight
		}
	}
	return best, found
}

// BestHeightQuorum returns the modal remote tip height over active peers,
// or false when no cluster of at least min peers agrees. Consumed only by
// mining eligibility, never by sync.
func (s *Store) BestHeightQuorum(min int) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[uint64]int)
	for _, p := range s.peers {
		if p.State == StateActive && p.RemoteTipHeight > 0 {
			counts[p.RemoteTipHeight]++
		}
	}
	var bestHeight uint64
	bestCount := 0
	for h, n := range counts {
		if n > bestCount || (n == bestCount && h > bestHeight) {
			bestHeight, bestCount = h, n
		}
	}
	if bestCount < min {
		return 0, false
	}
	return bestHeight, true
}

// IsQuarantined reports whether the endpoint is inside its cool-down.
// Enforced symmetrically on inbound accept and outbound dial.
func (s *Store) IsQuarantined(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[address]
	if !ok || p.State != StateQuarantined {
		return false
	}
	if time.Now().After(p.QuarantinedUntil) {
		p.State = StateConnecting
		s.persistLocked(p)
		return false
	}
	return true
}

// MarkQuarantined puts the endpoint into a cool-down of the given duration.
func (s *Store) MarkQuarantined(address string, d time.Duration) {
	s.mu.Lock()
	p, ok := s.peers[address]
	if !ok {
		p = &PeerInfo{Address: address, Role: RoleUnknown, Reputation: s.rep.Start}
		s.peers[address] = p
	}
	p.State = StateQuarantined
	until := time.Now().Add(d)
	p.QuarantinedUntil = until
	s.persistLocked(p)
	s.mu.Unlock()

	s.logger.Warnw("peer quarantined", "peer", address, "until", until)
	if s.emitter != nil {
		s.emitter.Emit(events.Event{
			Type: events.EventPeerQuarantined,
			Data: map[string]any{"peer": address, "until": until},
		})
	}
}

// Penalize lowers the endpoint's reputation and quarantines it when the
// floor is crossed. reason is recorded as LastError.
func (s *Store) Penalize(address string, points int, reason string) {
	s.mu.Lock()
	p, ok := s.peers[address]
	if !ok {
		p = &PeerInfo{Address: address, Role: RoleUnknown, Reputation: s.rep.Start}
		s.peers[address] = p
	}
	p.Reputation -= points
	if p.Reputation < 0 {
		p.Reputation = 0
	}
	p.LastError = reason
	reputation := p.Reputation
	quarantine := reputation < s.rep.QuarantineBelow
	s.persistLocked(p)
	s.mu.Unlock()

	s.logger.Infow("peer penalized", "peer", address, "points", points, "code", reason, "reputation", reputation)
	if quarantine {
		s.MarkQuarantined(address, s.coolOff)
	}
}

// Reward raises the endpoint's reputation by one recovery step after a
// successful interaction window.
func (s *Store) Reward(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[address]
	if !ok {
		return
	}
	p.Reputation += s.rep.RecoveryStep
	if p.Reputation > s.rep.Ceiling {
		p.Reputation = s.rep.Ceiling
	}
	p.LastSeen = time.Now()
	s.persistLocked(p)
}
