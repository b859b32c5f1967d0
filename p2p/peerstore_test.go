package p2p

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oneepicnight/vision-node/config"
	"github.com/oneepicnight/vision-node/events"
	"github.com/oneepicnight/vision-node/internal/testutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.DefaultConfig()
	return NewStore(cfg.Reputation, time.Minute, nil, events.NewEmitter())
}

func activate(s *Store, addr string, height uint64) {
	s.Upsert(addr, func(p *PeerInfo) {
		p.State = StateActive
		p.RemoteTipHeight = height
	})
}

func TestReputationArithmetic(t *testing.T) {
	s := newTestStore(t)
	s.Upsert("1.2.3.4:1000", nil)

	p, _ := s.Get("1.2.3.4:1000")
	require.Equal(t, 50, p.Reputation, "reputation starts at the midpoint")

	s.Penalize("1.2.3.4:1000", 25, "ProtocolMismatch")
	p, _ = s.Get("1.2.3.4:1000")
	require.Equal(t, 25, p.Reputation)
	require.Equal(t, "ProtocolMismatch", p.LastError)

	// Recovery is one step per successful interaction window, capped.
	for i := 0; i < 200; i++ {
		s.Reward("1.2.3.4:1000")
	}
	p, _ = s.Get("1.2.3.4:1000")
	require.Equal(t, 100, p.Reputation, "reputation is capped at the ceiling")
}

func TestPenaltyFloorQuarantines(t *testing.T) {
	s := newTestStore(t)
	s.Upsert("1.2.3.4:1000", nil)

	// One invalid-block penalty (-40) then a handshake penalty (-25) puts
	// the peer below 10.
	s.Penalize("1.2.3.4:1000", 40, "InvalidPow")
	require.False(t, s.IsQuarantined("1.2.3.4:1000"))
	s.Penalize("1.2.3.4:1000", 25, "ProtocolMismatch")
	require.True(t, s.IsQuarantined("1.2.3.4:1000"))

	p, _ := s.Get("1.2.3.4:1000")
	require.Equal(t, StateQuarantined, p.State)
}

func TestQuarantineCoolDownExpires(t *testing.T) {
	cfg := config.DefaultConfig()
	s := NewStore(cfg.Reputation, 10*time.Millisecond, nil, events.NewEmitter())
	s.MarkQuarantined("1.2.3.4:1000", 10*time.Millisecond)
	require.True(t, s.IsQuarantined("1.2.3.4:1000"))

	time.Sleep(20 * time.Millisecond)
	require.False(t, s.IsQuarantined("1.2.3.4:1000"), "cool-down must expire")
}

func TestBestRemoteHeight(t *testing.T) {
	s := newTestStore(t)
	_, ok := s.BestRemoteHeight()
	require.False(t, ok, "no active peers means no height")

	activate(s, "a:1", 100)
	activate(s, "b:1", 250)
	s.Upsert("c:1", func(p *PeerInfo) { p.RemoteTipHeight = 999 }) // not active

	h, ok := s.BestRemoteHeight()
	require.True(t, ok)
	require.Equal(t, uint64(250), h)
}

func TestBestHeightQuorum(t *testing.T) {
	s := newTestStore(t)
	activate(s, "a:1", 100)
	activate(s, "b:1", 100)

	_, ok := s.BestHeightQuorum(3)
	require.False(t, ok, "two agreeing peers are below the quorum floor")

	activate(s, "c:1", 100)
	activate(s, "d:1", 105)
	h, ok := s.BestHeightQuorum(3)
	require.True(t, ok)
	require.Equal(t, uint64(100), h, "the mode wins, not the maximum")
}

func TestPeerPersistence(t *testing.T) {
	db := testutil.NewMemDB()
	cfg := config.DefaultConfig()
	s := NewStore(cfg.Reputation, time.Minute, db, events.NewEmitter())
	s.Upsert("a:1", func(p *PeerInfo) {
		p.Role = RoleAnchor
		p.State = StateActive
	})
	s.Penalize("a:1", 5, "BadTimestamp")

	// A fresh store over the same DB sees the record with its reputation,
	// but not the connection-bound state.
	s2 := NewStore(cfg.Reputation, time.Minute, db, events.NewEmitter())
	require.NoError(t, s2.Load())
	p, ok := s2.Get("a:1")
	require.True(t, ok)
	require.Equal(t, RoleAnchor, p.Role)
	require.Equal(t, 45, p.Reputation)
	require.Equal(t, StateConnecting, p.State)
}
