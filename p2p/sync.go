package p2p

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/oneepicnight/vision-node/config"
	"github.com/oneepicnight/vision-node/core"
	"github.com/oneepicnight/vision-node/log"
)

// syncLogEvery throttles progress logging to one line per N ticks.
const syncLogEvery = 6

// TipObserver reports the control plane's view of the network tip.
// Implemented by backbone.Tracker.
type TipObserver interface {
	// TipObservation returns the observed tip height and whether the
	// backbone is currently connected.
	TipObservation() (uint64, bool)
}

// Syncer is the background pull loop that closes height lag. It runs
// whenever at least one peer has a known height and never consults mining
// eligibility, exchange gating, or quorum.
type Syncer struct {
	cfg      *config.Config
	node     *Node
	chain    *core.Chain
	observer TipObserver
	logger   *zap.SugaredLogger
	ticks    int
}

// NewSyncer creates the auto-sync loop. observer may be nil; then only the
// peer store's best height is consulted.
func NewSyncer(cfg *config.Config, node *Node, chain *core.Chain, observer TipObserver) *Syncer {
	return &Syncer{
		cfg:      cfg,
		node:     node,
		chain:    chain,
		observer: observer,
		logger:   log.New("sync"),
	}
}

// Run executes the loop until ctx is cancelled.
func (s *Syncer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SyncPeriod())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick performs one sync round: read the network tip (backbone observation
// first, peer store fallback), compare to the local tip, and pull a range
// from the best peer when the lag exceeds the window. Partial progress
// counts; any admitted block advances the local tip for the next round.
func (s *Syncer) Tick() {
	s.ticks++
	networkTip, ok := s.networkTip()
	if !ok {
		return // nobody to ask this round
	}
	local := s.chain.Height()
	if local+s.cfg.MaxLagBlocks >= networkTip {
		return
	}
	to := local + s.cfg.SyncBatch
	if to > networkTip {
		to = networkTip
	}
	peer, err := s.node.RequestRange(local+1, to)
	if err != nil {
		s.logger.Debugw("range request failed", "err", err)
		return
	}
	if s.ticks%syncLogEvery == 0 {
		s.logger.Infow("syncing", "local", local, "network", networkTip, "from", local+1, "to", to, "peer", peer)
	}
}

// networkTip resolves the height to chase: the backbone observation when
// connected, else the best active peer height.
func (s *Syncer) networkTip() (uint64, bool) {
	if s.observer != nil {
		if h, connected := s.observer.TipObservation(); connected {
			return h, true
		}
	}
	return s.node.peers.BestRemoteHeight()
}
