package backbone

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oneepicnight/vision-node/config"
	"github.com/oneepicnight/vision-node/events"
	"github.com/oneepicnight/vision-node/p2p"
)

func anchorServer(t *testing.T, status StatusResponse, seeds []SeedPeer, delay time.Duration) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(delay)
		_ = json.NewEncoder(w).Encode(status)
	})
	mux.HandleFunc("/seed_peers", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(seeds)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func trackerWith(t *testing.T, endpoints []string) (*Tracker, *p2p.Store) {
	t.Helper()
	cfg := config.DefaultConfig()
	for _, e := range endpoints {
		cfg.AnchorSeeds = append(cfg.AnchorSeeds, config.AnchorSeed{HTTPEndpoint: e})
	}
	peers := p2p.NewStore(cfg.Reputation, cfg.QuarantineDuration(), nil, events.NewEmitter())
	return NewTracker(cfg, peers, events.NewEmitter()), peers
}

func TestProbeSelectsBestAnchor(t *testing.T) {
	fast := anchorServer(t, StatusResponse{TipHeight: 800, TipHash: "aa"}, nil, 0)
	slow := anchorServer(t, StatusResponse{TipHeight: 900, TipHash: "bb"}, nil, 300*time.Millisecond)

	tracker, _ := trackerWith(t, []string{slow.URL, fast.URL})
	tracker.ProbeOnce(context.Background())

	s := tracker.Snapshot()
	require.True(t, s.Connected)
	require.Equal(t, fast.URL, s.BestAnchor, "lower latency wins the ranking")
	require.Equal(t, uint64(800), s.ObservedTipHeight)
	require.Equal(t, "aa", s.ObservedTipHash)
	require.False(t, s.LastOKAt.IsZero())

	h, connected := tracker.TipObservation()
	require.True(t, connected)
	require.Equal(t, uint64(800), h)
}

// Scenario: a total anchor outage is non-fatal. Connected drops, the last
// observation survives for readers that want it.
func TestProbeOutageKeepsLastObservation(t *testing.T) {
	srv := anchorServer(t, StatusResponse{TipHeight: 750, TipHash: "cc"}, nil, 0)
	tracker, _ := trackerWith(t, []string{srv.URL})

	tracker.ProbeOnce(context.Background())
	require.True(t, tracker.Snapshot().Connected)

	srv.Close()
	tracker.ProbeOnce(context.Background())

	s := tracker.Snapshot()
	require.False(t, s.Connected, "connection refused must drop the flag")
	require.Equal(t, uint64(750), s.ObservedTipHeight, "last observation is retained")
	require.NotEmpty(t, s.LastError)

	_, connected := tracker.TipObservation()
	require.False(t, connected, "readers must see disconnected as first-class")
}

func TestProbeNoAnchorsConfigured(t *testing.T) {
	tracker, _ := trackerWith(t, nil)
	tracker.ProbeOnce(context.Background())
	s := tracker.Snapshot()
	require.False(t, s.Connected)
	require.NotEmpty(t, s.LastError)
}

// Healing upserts discovered peers at the reputation midpoint without
// dialing them.
func TestHealUpsertsSeedPeers(t *testing.T) {
	seeds := []SeedPeer{
		{Address: "10.0.0.1:19950", HTTPAddress: "http://10.0.0.1:19951", IsAnchor: true},
		{Address: "10.0.0.2:19950", IsAnchor: false},
		{Address: ""}, // malformed entries are skipped
	}
	srv := anchorServer(t, StatusResponse{TipHeight: 10}, seeds, 0)
	tracker, peers := trackerWith(t, []string{srv.URL})

	// Healing requires a connected backbone.
	tracker.HealOnce(context.Background())
	require.Zero(t, peers.Len(), "no healing while disconnected")

	tracker.ProbeOnce(context.Background())
	tracker.HealOnce(context.Background())

	p, ok := peers.Get("10.0.0.1:19950")
	require.True(t, ok)
	require.True(t, p.HTTPDiscovered)
	require.Equal(t, p2p.RoleAnchor, p.Role)
	require.Equal(t, "http://10.0.0.1:19951", p.HTTPEndpoint)
	require.Equal(t, 50, p.Reputation, "discovered peers start at the midpoint")

	leaf, ok := peers.Get("10.0.0.2:19950")
	require.True(t, ok)
	require.Equal(t, p2p.RoleLeaf, leaf.Role)
	require.NotEqual(t, p2p.StateActive, leaf.State, "healing never opens connections")
}
