// Package egress implements the egress hub: a fan-out point that receives
// every Observation after the core has routed it and dispatches copies to
// registered output sinks, optionally filtered by session key.
package egress

import (
	"log/slog"
	"sync"

	"github.com/gatewright/gatewright/internal/obs"
)

// Sink receives Observations. Sinks must not block: a slow consumer should
// buffer internally (the WS gateway does) or drop.
type Sink func(o obs.Observation)

type registration struct {
	name             string
	sink             Sink
	targetSessionKey string // empty = all sessions
}

// Hub dispatches post-core Observations to registered sinks.
type Hub struct {
	mu    sync.RWMutex
	sinks []registration
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{}
}

// Register adds a sink. targetSessionKey filters dispatch to one session;
// empty receives everything. Returns an unregister func.
func (h *Hub) Register(name string, targetSessionKey string, sink Sink) func() {
	h.mu.Lock()
	reg := registration{name: name, sink: sink, targetSessionKey: targetSessionKey}
	h.sinks = append(h.sinks, reg)
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i := range h.sinks {
			if h.sinks[i].name == name {
				h.sinks = append(h.sinks[:i], h.sinks[i+1:]...)
				return
			}
		}
	}
}

// Dispatch hands one Observation to every matching sink. A panicking sink is
// logged and skipped; it cannot take down the dispatch loop.
func (h *Hub) Dispatch(o obs.Observation) {
	h.mu.RLock()
	sinks := make([]registration, len(h.sinks))
	copy(sinks, h.sinks)
	h.mu.RUnlock()

	for _, reg := range sinks {
		if reg.targetSessionKey != "" && reg.targetSessionKey != o.SessionKey {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("egress: sink panic", "sink", reg.name, "panic", r)
				}
			}()
			reg.sink(o)
		}()
	}
}
