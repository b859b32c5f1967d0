package backbone

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/oneepicnight/vision-node/config"
	"github.com/oneepicnight/vision-node/events"
	"github.com/oneepicnight/vision-node/log"
	"github.com/oneepicnight/vision-node/p2p"
)

const probeTimeout = 3 * time.Second

// StatusResponse is the anchor control-plane /status document.
type StatusResponse struct {
	TipHeight   uint64 `json:"tip_height"`
	TipHash     string `json:"tip_hash"`
	PeerCount   uint32 `json:"peer_count"`
	NodeVersion uint32 `json:"node_version"`
}

// SeedPeer is one entry of the anchor /seed_peers document.
type SeedPeer struct {
	Address     string `json:"address"`
	HTTPAddress string `json:"http_address,omitempty"`
	IsAnchor    bool   `json:"is_anchor"`
}

// Tracker runs the probe and healing loops and owns the BackboneState
// snapshot. All other subsystems read it through Snapshot or
// TipObservation.
type Tracker struct {
	cfg     *config.Config
	peers   *p2p.Store
	emitter *events.Emitter
	logger  *zap.SugaredLogger
	client  *http.Client
	state   holder
}

// NewTracker creates the control-plane tracker. peers may be nil in tests
// that exercise probing only.
func NewTracker(cfg *config.Config, peers *p2p.Store, emitter *events.Emitter) *Tracker {
	return &Tracker{
		cfg:     cfg,
		peers:   peers,
		emitter: emitter,
		logger:  log.New("backbone"),
		client:  &http.Client{Timeout: probeTimeout},
	}
}

// Snapshot returns the current backbone observation.
func (t *Tracker) Snapshot() State {
	return t.state.load()
}

// TipObservation implements p2p.TipObserver.
func (t *Tracker) TipObservation() (uint64, bool) {
	s := t.state.load()
	return s.ObservedTipHeight, s.Connected
}

// RunProbeLoop probes every configured anchor once per period until ctx is
// cancelled. Each probe is bounded by its own timeout; a probe that outlives
// its period is abandoned when the next one starts.
func (t *Tracker) RunProbeLoop(ctx context.Context) {
	// Probe immediately so startup does not wait a full period.
	t.ProbeOnce(ctx)
	ticker := time.NewTicker(t.cfg.ProbePeriod())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.ProbeOnce(ctx)
		}
	}
}

type probeResult struct {
	endpoint string
	status   StatusResponse
	latency  time.Duration
	err      error
}

// ProbeOnce queries every anchor endpoint, ranks the responders by
// (latency, -tip_height), and atomically publishes the new observation.
func (t *Tracker) ProbeOnce(ctx context.Context) {
	prev := t.state.load()
	if len(t.cfg.AnchorSeeds) == 0 {
		t.publish(prev, State{LastError: "no anchors configured"})
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, t.cfg.ProbePeriod())
	defer cancel()

	results := make(chan probeResult, len(t.cfg.AnchorSeeds))
	for _, seed := range t.cfg.AnchorSeeds {
		endpoint := seed.HTTPEndpoint
		go func() {
			start := time.Now()
			status, err := t.fetchStatus(probeCtx, endpoint)
			results <- probeResult{endpoint: endpoint, status: status, latency: time.Since(start), err: err}
		}()
	}

	var reachable []probeResult
	var lastErr string
	for range t.cfg.AnchorSeeds {
		r := <-results
		if r.err != nil {
			lastErr = fmt.Sprintf("%s: %v", r.endpoint, r.err)
			continue
		}
		reachable = append(reachable, r)
	}

	next := State{PeerbookSize: t.peerbookSize()}
	if len(reachable) == 0 {
		// Keep the last good observation; only the connectivity flag drops.
		next.ObservedTipHeight = prev.ObservedTipHeight
		next.ObservedTipHash = prev.ObservedTipHash
		next.LastOKAt = prev.LastOKAt
		next.LastError = lastErr
		t.publish(prev, next)
		return
	}

	sort.Slice(reachable, func(i, j int) bool {
		if reachable[i].latency != reachable[j].latency {
			return reachable[i].latency < reachable[j].latency
		}
		return reachable[i].status.TipHeight > reachable[j].status.TipHeight
	})
	best := reachable[0]

	next.Connected = true
	next.BestAnchor = best.endpoint
	next.LatencyMS = best.latency.Milliseconds()
	next.LastOKAt = time.Now()
	next.ObservedTipHeight = best.status.TipHeight
	next.ObservedTipHash = best.status.TipHash
	next.ExchangeReady = true
	t.publish(prev, next)
}

// publish replaces the snapshot and logs state transitions with their cause.
func (t *Tracker) publish(prev, next State) {
	t.state.store(next)
	switch {
	case prev.Connected && !next.Connected:
		t.logger.Warnw("backbone disconnected", "cause", next.LastError)
	case !prev.Connected && next.Connected:
		t.logger.Infow("backbone connected", "anchor", next.BestAnchor, "tip", next.ObservedTipHeight)
	case next.Connected && prev.BestAnchor != next.BestAnchor:
		t.logger.Infow("best anchor changed", "from", prev.BestAnchor, "to", next.BestAnchor)
	default:
		return
	}
	if t.emitter != nil {
		t.emitter.Emit(events.Event{
			Type: events.EventBackboneTransition,
			Data: map[string]any{"connected": next.Connected, "anchor": next.BestAnchor},
		})
	}
}

func (t *Tracker) fetchStatus(ctx context.Context, endpoint string) (StatusResponse, error) {
	var out StatusResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/status", nil)
	if err != nil {
		return out, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode status: %w", err)
	}
	return out, nil
}

func (t *Tracker) peerbookSize() int {
	if t.peers == nil {
		return 0
	}
	return t.peers.Len()
}

// RunHealLoop periodically refills the peer book from the best anchor's seed
// list. It requires a connected backbone and never opens TCP connections —
// the outbound dialer picks the new peers up on its own schedule.
func (t *Tracker) RunHealLoop(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.HealPeriod())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.HealOnce(ctx)
		}
	}
}

// HealOnce fetches /seed_peers from the best anchor and upserts every entry
// at the reputation midpoint, flagged as HTTP-discovered.
func (t *Tracker) HealOnce(ctx context.Context) {
	s := t.state.load()
	if !s.Connected || t.peers == nil {
		return
	}
	seeds, err := t.fetchSeedPeers(ctx, s.BestAnchor)
	if err != nil {
		t.logger.Debugw("seed peer fetch failed", "anchor", s.BestAnchor, "err", err)
		return
	}
	added := 0
	for _, seed := range seeds {
		if seed.Address == "" {
			continue
		}
		sp := seed
		t.peers.Upsert(sp.Address, func(p *p2p.PeerInfo) {
			p.HTTPDiscovered = true
			if sp.HTTPAddress != "" {
				p.HTTPEndpoint = sp.HTTPAddress
			}
			if sp.IsAnchor {
				p.Role = p2p.RoleAnchor
			} else if p.Role == p2p.RoleUnknown {
				p.Role = p2p.RoleLeaf
			}
		})
		added++
	}
	if added > 0 {
		t.logger.Infow("peer book healed", "anchor", s.BestAnchor, "seeds", added)
	}
}

func (t *Tracker) fetchSeedPeers(ctx context.Context, endpoint string) ([]SeedPeer, error) {
	reqCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint+"/seed_peers", nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	var out []SeedPeer
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode seed peers: %w", err)
	}
	return out, nil
}
