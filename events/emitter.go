// Package events is a small synchronous pub/sub broker for node-internal
// transitions: chain progress, peer lifecycle, backbone observation changes.
package events

import (
	"sync"

	"github.com/oneepicnight/vision-node/log"
)

// EventType labels what happened.
type EventType string

const (
	EventBlockAccepted      EventType = "block_accepted"
	EventBlockRejected      EventType = "block_rejected"
	EventReorg              EventType = "reorg"
	EventPeerActive         EventType = "peer_active"
	EventPeerQuarantined    EventType = "peer_quarantined"
	EventBackboneTransition EventType = "backbone_transition"
)

// Event carries a typed payload emitted after a state change.
type Event struct {
	Type EventType      `json:"type"`
	Data map[string]any `json:"data"`
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewEmitter creates an Emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[EventType][]Handler)}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// Emit delivers ev to all subscribers for ev.Type synchronously.
// Each handler is guarded by panic recovery so a misbehaving subscriber
// cannot crash the node or stall admission.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := e.handlers[ev.Type]
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.New("events").Warnw("handler panicked", "type", ev.Type, "panic", r)
				}
			}()
			h(ev)
		}()
	}
}
