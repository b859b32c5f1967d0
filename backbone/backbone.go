// Package backbone implements the control plane: HTTP probes against the
// configured anchors that establish a single authoritative view of the
// network tip, and the peer-healing loop that refills the peer book from the
// best anchor's seed list.
package backbone

import (
	"sync/atomic"
	"time"
)

// State is the process-wide backbone observation. It has a single writer
// (the probe loop) and any number of readers; each write replaces the whole
// snapshot atomically. Stale reads are acceptable. Connected == false is a
// first-class state, not missing data.
type State struct {
	Connected         bool      `json:"connected"`
	BestAnchor        string    `json:"best_anchor,omitempty"`
	LatencyMS         int64     `json:"latency_ms"`
	LastOKAt          time.Time `json:"last_ok_at"`
	ObservedTipHeight uint64    `json:"observed_tip_height"`
	ObservedTipHash   string    `json:"observed_tip_hash,omitempty"`
	PeerbookSize      int       `json:"peerbook_size"`
	ExchangeReady     bool      `json:"exchange_ready"`
	LastError         string    `json:"last_error,omitempty"`
}

// holder wraps the atomically-swapped snapshot pointer.
type holder struct {
	p atomic.Pointer[State]
}

func (h *holder) load() State {
	if s := h.p.Load(); s != nil {
		return *s
	}
	return State{}
}

func (h *holder) store(s State) {
	h.p.Store(&s)
}
