package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oneepicnight/vision-node/backbone"
	"github.com/oneepicnight/vision-node/config"
	"github.com/oneepicnight/vision-node/core"
	"github.com/oneepicnight/vision-node/events"
	"github.com/oneepicnight/vision-node/internal/testutil"
	"github.com/oneepicnight/vision-node/p2p"
)

func startServer(t *testing.T, mutate func(*config.Config)) (*Server, *p2p.Store, *core.Chain) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.HTTPListen = "127.0.0.1:0"
	if mutate != nil {
		mutate(cfg)
	}
	chain, params := testutil.NewChain(t)
	emitter := events.NewEmitter()
	peers := p2p.NewStore(cfg.Reputation, cfg.QuarantineDuration(), nil, emitter)
	tracker := backbone.NewTracker(cfg, peers, emitter)

	srv := NewServer(cfg, params, chain, peers, tracker)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Stop() })
	return srv, peers, chain
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestStatusEndpoint(t *testing.T) {
	srv, peers, chain := startServer(t, nil)
	peers.Upsert("a:1", func(p *p2p.PeerInfo) { p.State = p2p.StateActive })

	var status backbone.StatusResponse
	getJSON(t, fmt.Sprintf("http://%s/status", srv.Addr()), &status)

	require.Equal(t, chain.Height(), status.TipHeight)
	require.Equal(t, chain.Tip().Hash, status.TipHash)
	require.Equal(t, uint32(1), status.PeerCount)
	require.Equal(t, core.DefaultParams().NodeVersion, status.NodeVersion)
}

func TestSeedPeersEndpoint(t *testing.T) {
	srv, peers, _ := startServer(t, func(cfg *config.Config) {
		cfg.Role = config.RoleAnchor
		cfg.AdvertisedP2PAddress = "1.2.3.4:19950"
	})
	peers.Upsert("anchor-2:19950", func(p *p2p.PeerInfo) {
		p.State = p2p.StateActive
		p.Direction = p2p.DirOutbound
		p.Role = p2p.RoleAnchor
		p.HTTPEndpoint = "http://anchor-2:19951"
	})
	peers.Upsert("10.9.8.7", func(p *p2p.PeerInfo) {
		p.State = p2p.StateActive
		p.Direction = p2p.DirInbound // not dialable, must be omitted
	})

	var seeds []backbone.SeedPeer
	getJSON(t, fmt.Sprintf("http://%s/seed_peers", srv.Addr()), &seeds)

	require.Len(t, seeds, 2)
	require.Equal(t, "1.2.3.4:19950", seeds[0].Address, "the node advertises itself first")
	require.True(t, seeds[0].IsAnchor)
	require.Equal(t, "anchor-2:19950", seeds[1].Address)
	require.Equal(t, "http://anchor-2:19951", seeds[1].HTTPAddress)
}

func TestMetricsEndpointServes(t *testing.T) {
	srv, _, _ := startServer(t, nil)
	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", srv.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
