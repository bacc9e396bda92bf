// Package router implements the session router: it resolves a
// deterministic session key for every Observation read off the Bus and
// dispatches it into a per-session bounded FIFO inbox, creating sessions on
// first touch.
package router

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/gatewright/gatewright/internal/bus"
	"github.com/gatewright/gatewright/internal/obs"
)

// MessageRouting selects how MESSAGE observations without an explicit
// session_key are addressed.
type MessageRouting string

const (
	RouteByUser  MessageRouting = "user"
	RouteDefault MessageRouting = "default"
)

// InboxStats tracks a single inbox's lifetime enqueue/drop counts.
type InboxStats struct {
	enqueued atomic.Uint64
	dropped  atomic.Uint64
}

func (s *InboxStats) Enqueued() uint64 { return s.enqueued.Load() }
func (s *InboxStats) Dropped() uint64  { return s.dropped.Load() }

// Inbox is a per-session bounded FIFO. One writer (the Router), one reader
// (that session's Worker) — no locking required beyond the channel itself.
type Inbox struct {
	ch    chan obs.Observation
	Stats InboxStats
}

func newInbox(maxSize int) *Inbox {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Inbox{ch: make(chan obs.Observation, maxSize)}
}

// PutNowait enqueues without blocking. Returns false (drop-newest) if full.
func (ib *Inbox) PutNowait(o obs.Observation) bool {
	select {
	case ib.ch <- o:
		ib.Stats.enqueued.Add(1)
		return true
	default:
		ib.Stats.dropped.Add(1)
		return false
	}
}

// C returns the receive side the owning Worker ranges over.
func (ib *Inbox) C() <-chan obs.Observation { return ib.ch }

// QSize reports the current queue depth.
func (ib *Inbox) QSize() int { return len(ib.ch) }

// Config configures session-key resolution and inbox sizing. New fills
// every zero field with its DefaultConfig() value.
type Config struct {
	InboxMaxSize      int
	SystemSessionKey  string
	DefaultSessionKey string
	MessageRouting    MessageRouting
}

// DefaultConfig is inbox 256, routing "user", system/default session keys.
func DefaultConfig() Config {
	return Config{
		InboxMaxSize:      256,
		SystemSessionKey:  "system",
		DefaultSessionKey: "default",
		MessageRouting:    RouteByUser,
	}
}

// Router owns the session_key -> Inbox map and the routing loop draining
// the Bus.
type Router struct {
	bus *bus.Bus
	cfg Config

	mu      sync.Mutex
	inboxes map[string]*Inbox
	active  map[string]struct{}

	droppedTotal atomic.Uint64
	closed       atomic.Bool

	// OnNewSession, when set, is invoked once per session key the first time
	// an inbox is created for it, outside the Router's lock. The Core uses
	// this to spawn that session's Worker goroutine.
	OnNewSession func(sessionKey string, inbox *Inbox)

	// OnDispatch, when set, is invoked for every Observation after it has
	// been routed (whether enqueued or dropped at a full inbox). The Core
	// hangs the EgressHub and the system-session tap (Nociception, Reflex,
	// fan-out) off this.
	OnDispatch func(sessionKey string, o obs.Observation, enqueued bool)
}

// New creates a Router over the given Bus.
func New(b *bus.Bus, cfg Config) *Router {
	if cfg.InboxMaxSize <= 0 {
		cfg.InboxMaxSize = 256
	}
	if cfg.SystemSessionKey == "" {
		cfg.SystemSessionKey = "system"
	}
	if cfg.DefaultSessionKey == "" {
		cfg.DefaultSessionKey = "default"
	}
	if cfg.MessageRouting == "" {
		cfg.MessageRouting = RouteByUser
	}
	return &Router{
		bus:     b,
		cfg:     cfg,
		inboxes: make(map[string]*Inbox),
		active:  make(map[string]struct{}),
	}
}

// DroppedTotal is the count of Observations dropped because their resolved
// inbox was full.
func (r *Router) DroppedTotal() uint64 { return r.droppedTotal.Load() }

// Close soft-stops Run on its next loop iteration. The bus itself is closed
// by its owner, not by the Router.
func (r *Router) Close() { r.closed.Store(true) }

// ListActiveSessions returns a stable, sorted snapshot of session keys seen
// so far; used by system-session fan-out logic.
func (r *Router) ListActiveSessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.active))
	for sk := range r.active {
		out = append(out, sk)
	}
	sort.Strings(out)
	return out
}

// GetInbox returns (creating if necessary) the inbox for a session key.
func (r *Router) GetInbox(sessionKey string) *Inbox {
	r.mu.Lock()
	ib, created := r.getInboxLocked(sessionKey)
	r.mu.Unlock()
	if created && r.OnNewSession != nil {
		r.OnNewSession(sessionKey, ib)
	}
	return ib
}

func (r *Router) getInboxLocked(sessionKey string) (*Inbox, bool) {
	ib, ok := r.inboxes[sessionKey]
	if !ok {
		ib = newInbox(r.cfg.InboxMaxSize)
		r.inboxes[sessionKey] = ib
		r.active[sessionKey] = struct{}{}
	}
	return ib, !ok
}

// RemoveSession drops the inbox and active flag for a session key; used by
// the Session State store's GC sweep.
func (r *Router) RemoveSession(sessionKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inboxes, sessionKey)
	delete(r.active, sessionKey)
}

// ResolveSessionKey applies the deterministic resolution policy: an
// explicit key wins; MESSAGEs route per-user (or to the default session);
// everything else goes to the system session.
func (r *Router) ResolveSessionKey(o obs.Observation) string {
	if o.SessionKey != "" {
		return o.SessionKey
	}
	if o.Type == obs.TypeMessage {
		if r.cfg.MessageRouting == RouteDefault {
			return r.cfg.DefaultSessionKey
		}
		if actorID := o.Actor.ActorID; actorID != "" {
			return "user:" + actorID
		}
		return r.cfg.DefaultSessionKey
	}
	return r.cfg.SystemSessionKey
}

// Dispatch resolves an Observation's session key, stamps it onto the
// Observation (so every downstream consumer sees the resolved key rather
// than a maybe-empty one), and enqueues it non-blocking. A full inbox drops
// the incoming Observation and bumps dropped_total — never an error.
func (r *Router) Dispatch(o obs.Observation) bool {
	sk := r.ResolveSessionKey(o)
	o.SessionKey = sk
	ib := r.GetInbox(sk)
	enqueued := ib.PutNowait(o)
	if !enqueued {
		r.droppedTotal.Add(1)
	}
	if r.OnDispatch != nil {
		r.OnDispatch(sk, o, enqueued)
	}
	return enqueued
}

// Run drains the Bus until it closes or ctx is cancelled, dispatching each
// Observation into its resolved inbox. Never blocks, never errors on a full
// inbox — drop-newest, exactly like the Bus itself.
func (r *Router) Run(ctx context.Context) {
	for {
		if r.closed.Load() {
			return
		}
		select {
		case o, ok := <-r.bus.Consume():
			if !ok {
				return
			}
			r.Dispatch(o)
		case <-ctx.Done():
			return
		}
	}
}
