// Package metrics exposes the node's prometheus instruments. Register wires
// the counters to chain and peer events; the HTTP API serves them at
// /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/oneepicnight/vision-node/events"
)

var (
	BlocksAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vision_blocks_accepted_total",
		Help: "Blocks admitted onto the canonical chain.",
	})
	BlocksRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vision_blocks_rejected_total",
		Help: "Blocks rejected by the admission pipeline.",
	})
	Reorgs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vision_reorgs_total",
		Help: "Canonical chain reorganizations.",
	})
	ReorgDepth = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vision_reorg_depth",
		Help:    "Depth of canonical chain reorganizations.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 7),
	})
	PeersQuarantined = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vision_peers_quarantined_total",
		Help: "Peer endpoints placed into quarantine.",
	})
	TipHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vision_tip_height",
		Help: "Height of the canonical tip.",
	})
	BackboneConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vision_backbone_connected",
		Help: "Whether at least one anchor responded to the last probe.",
	})
)

// Register subscribes the instruments to node events.
func Register(emitter *events.Emitter) {
	emitter.Subscribe(events.EventBlockAccepted, func(ev events.Event) {
		BlocksAccepted.Inc()
		if h, ok := ev.Data["height"].(uint64); ok {
			TipHeight.Set(float64(h))
		}
	})
	emitter.Subscribe(events.EventBlockRejected, func(events.Event) {
		BlocksRejected.Inc()
	})
	emitter.Subscribe(events.EventReorg, func(ev events.Event) {
		Reorgs.Inc()
		if d, ok := ev.Data["depth"].(uint64); ok {
			ReorgDepth.Observe(float64(d))
		}
	})
	emitter.Subscribe(events.EventPeerQuarantined, func(events.Event) {
		PeersQuarantined.Inc()
	})
	emitter.Subscribe(events.EventBackboneTransition, func(ev events.Event) {
		if connected, ok := ev.Data["connected"].(bool); ok && connected {
			BackboneConnected.Set(1)
		} else {
			BackboneConnected.Set(0)
		}
	})
}
