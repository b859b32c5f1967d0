package p2p

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oneepicnight/vision-node/config"
	"github.com/oneepicnight/vision-node/core"
	"github.com/oneepicnight/vision-node/crypto"
	"github.com/oneepicnight/vision-node/events"
	"github.com/oneepicnight/vision-node/internal/testutil"
)

type testNode struct {
	node  *Node
	chain *core.Chain
	peers *Store
	cfg   *config.Config
}

func startTestNode(t *testing.T, mutate func(*config.Config, *core.Params)) *testNode {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.P2PListen = "127.0.0.1:0"
	params := core.DefaultParams()
	if mutate != nil {
		mutate(cfg, &params)
	}

	chain, _ := testutil.NewChainWithParams(t, core.DefaultParams())
	emitter := events.NewEmitter()
	peers := NewStore(cfg.Reputation, cfg.QuarantineDuration(), nil, emitter)
	node := NewNode(cfg, params, chain, core.NewMempool(), peers, emitter)
	require.NoError(t, node.Start())
	t.Cleanup(node.Stop)
	return &testNode{node: node, chain: chain, peers: peers, cfg: cfg}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// Two compatible nodes handshake and both sides end up with an Active peer
// carrying the remote tip height.
func TestHandshakeBetweenCompatibleNodes(t *testing.T) {
	a := startTestNode(t, nil)
	b := startTestNode(t, nil)

	require.NoError(t, b.node.Connect(a.node.ListenAddr()))

	info, ok := b.peers.Get(a.node.ListenAddr())
	require.True(t, ok)
	require.Equal(t, StateActive, info.State)
	require.Equal(t, a.chain.Height(), info.RemoteTipHeight)

	waitFor(t, 3*time.Second, "inbound peer active on a", func() bool {
		for _, p := range a.peers.ActiveSnapshot() {
			if p.Direction == DirInbound {
				return true
			}
		}
		return false
	})
}

// Scenario: an incompatible checkpoint closes the connection during the
// handshake; the dialer records a ProtocolMismatch and no blocks move.
func TestIncompatibleCheckpointRejected(t *testing.T) {
	a := startTestNode(t, nil)
	b := startTestNode(t, func(_ *config.Config, params *core.Params) {
		params.CheckpointHash = crypto.Hash([]byte("another network entirely"))
	})

	err := b.node.Connect(a.node.ListenAddr())
	require.Error(t, err)
	require.ErrorIs(t, err, ErrCheckpointMismatch)

	info, ok := b.peers.Get(a.node.ListenAddr())
	require.True(t, ok)
	require.True(t, strings.HasPrefix(info.LastError, "ProtocolMismatch"), "got %q", info.LastError)
	require.Equal(t, b.cfg.Reputation.Start-b.cfg.Reputation.HandshakePenalty, info.Reputation)

	require.Equal(t, core.DefaultParams().CheckpointHeight, a.chain.Height(), "no blocks exchanged")
	require.Empty(t, b.peers.ActiveSnapshot())
}

func TestSelfConnectionRejected(t *testing.T) {
	a := startTestNode(t, nil)
	err := a.node.Connect(a.node.ListenAddr())
	require.Error(t, err)
	require.ErrorIs(t, err, ErrSelfConnection)
}

// A mined block announced on one node reaches the other through the
// announce/fetch/response path.
func TestBlockPropagation(t *testing.T) {
	a := startTestNode(t, nil)
	b := startTestNode(t, nil)
	require.NoError(t, b.node.Connect(a.node.ListenAddr()))

	params := core.DefaultParams()
	miner := crypto.Hash([]byte("miner-a"))[:40]
	block := testutil.MineBlock(params, a.chain.Tip(), miner, nil)
	res, err := a.chain.Admit(block)
	require.NoError(t, err)
	require.True(t, res.CanonicalChanged())
	a.node.BroadcastBlock(block)

	waitFor(t, 5*time.Second, "block to propagate", func() bool {
		return b.chain.Tip().Hash == block.Hash
	})
}

// An invalid block from a peer costs reputation proportional to the offence.
func TestPeerPenalizedForBadBlock(t *testing.T) {
	a := startTestNode(t, nil)
	b := startTestNode(t, nil)
	require.NoError(t, b.node.Connect(a.node.ListenAddr()))

	params := core.DefaultParams()
	miner := crypto.Hash([]byte("miner-a"))[:40]
	block := testutil.MineBlock(params, b.chain.Tip(), miner, nil)
	// Claim a far harder target than the fingerprint satisfies.
	block.Header.TargetBits = 0x1d00ffff
	block.Seal()

	// Feed it through b's admission path as if a had sourced it.
	b.node.connsMu.RLock()
	var conn *Conn
	for _, c := range b.node.conns {
		conn = c
	}
	b.node.connsMu.RUnlock()
	require.NotNil(t, conn)

	before, _ := b.peers.Get(conn.Addr())
	b.node.admitBlockFrom(conn, block)
	after, _ := b.peers.Get(conn.Addr())
	require.Less(t, after.Reputation, before.Reputation)
}
