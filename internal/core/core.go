// Package core assembles the runtime: Bus, Session Router, per-session
// Workers with their Gate pipelines, the Session State store with idle GC,
// the Nociception and Reflex subscribers on the system session, the
// optional system-tick driver with schedule fan-out, the egress hub, and
// bounded shutdown.
package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/gatewright/gatewright/internal/appconfig"
	"github.com/gatewright/gatewright/internal/bus"
	"github.com/gatewright/gatewright/internal/egress"
	"github.com/gatewright/gatewright/internal/gate"
	"github.com/gatewright/gatewright/internal/gateconfig"
	"github.com/gatewright/gatewright/internal/gatetypes"
	"github.com/gatewright/gatewright/internal/memoryclient"
	"github.com/gatewright/gatewright/internal/metrics"
	"github.com/gatewright/gatewright/internal/nociception"
	"github.com/gatewright/gatewright/internal/orchestrator"
	"github.com/gatewright/gatewright/internal/reflex"
	"github.com/gatewright/gatewright/internal/router"
	"github.com/gatewright/gatewright/internal/sessionstate"
	"github.com/gatewright/gatewright/internal/storage"
	"github.com/gatewright/gatewright/internal/worker"
)

// shutdownTimeout bounds the join on all core goroutines at shutdown.
const shutdownTimeout = 1500 * time.Millisecond

// Options carries the pluggable collaborators. Every field may be nil:
// GateReloader falls back to the built-in defaults, Orchestrator to Echo,
// Memory to a no-op.
type Options struct {
	Config       *appconfig.Config
	GateReloader *gateconfig.Reloader
	Orchestrator orchestrator.Orchestrator
	Memory       memoryclient.Service
	Metrics      *metrics.Metrics
}

type workerHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Core owns the ingress-gate-session-worker-agent-loopback engine.
type Core struct {
	cfg *appconfig.Config

	bus          *bus.Bus
	router       *router.Router
	gateReloader *gateconfig.Reloader
	states       *sessionstate.Store
	metrics      *metrics.Metrics
	noci         *nociception.Nociception
	reflex       *reflex.Controller
	egress       *egress.Hub
	memory       *memoryclient.FailOpen
	costs        *storage.CostTracker
	orch         orchestrator.Orchestrator

	dropPool *gate.Pool
	sinkPool *gate.Pool
	toolPool *gate.Pool

	mu      sync.Mutex
	workers map[string]*workerHandle

	runCtx    context.Context
	runCancel context.CancelFunc
	gcCancel  context.CancelFunc
	tickStop  chan struct{}
	tickOnce  sync.Once
	wg        sync.WaitGroup

	overload atomic.Bool

	// tick-loop counter shadows for metric deltas
	lastBusPublished uint64
	lastBusDropped   uint64
	lastRouterDrops  uint64
}

// New wires a Core from options.
func New(opts Options) *Core {
	cfg := opts.Config
	if cfg == nil {
		cfg = appconfig.Default()
	}

	reloader := opts.GateReloader
	if reloader == nil {
		reloader = gateconfig.NewReloader("", gateconfig.Default())
	}

	orch := opts.Orchestrator
	if orch == nil {
		orch = orchestrator.Echo{}
	}

	b := bus.New(cfg.Core.BusSize)
	r := router.New(b, router.Config{
		InboxMaxSize:      cfg.Core.InboxMaxSize,
		SystemSessionKey:  cfg.Core.SystemSessionKey,
		DefaultSessionKey: cfg.Core.DefaultSessionKey,
		MessageRouting:    router.MessageRouting(cfg.Core.MessageRouting),
	})

	c := &Core{
		cfg:          cfg,
		bus:          b,
		router:       r,
		gateReloader: reloader,
		states:       sessionstate.New(cfg.Core.IdleTTL(), cfg.Core.SystemSessionKey),
		metrics:      opts.Metrics,
		noci: nociception.New(nociception.Config{
			WindowSec:          cfg.Nociception.WindowSeconds,
			BurstThreshold:     cfg.Nociception.BurstThreshold,
			CooldownSec:        cfg.Nociception.CooldownSeconds,
			DropBurstThreshold: cfg.Nociception.DropBurstThreshold,
		}),
		egress:   egress.NewHub(),
		memory:   memoryclient.NewFailOpen(opts.Memory),
		costs:    storage.NewCostTracker(),
		orch:     orch,
		dropPool: gate.NewPool(200),
		sinkPool: gate.NewPool(200),
		toolPool: gate.NewPool(200),
		workers:  make(map[string]*workerHandle),
	}

	allowSuggestions := cfg.Reflex.AgentSuggestionsAllowed()
	c.reflex = reflex.New(reloader, reflex.Config{
		AllowAgentSuggestions:  allowSuggestions,
		SuggestionTTLDefault:   cfg.Reflex.SuggestionTTLDefault,
		SuggestionCooldownSec:  cfg.Reflex.SuggestionCooldownSec,
		AgentOverrideWhitelist: cfg.Reflex.AgentOverrideWhitelist,
	}, cfg.Core.SystemSessionKey)

	r.OnNewSession = c.spawnWorker
	r.OnDispatch = c.onDispatch
	c.states.OnEvict = c.evictSession

	return c
}

// Bus returns the input bus adapters publish into.
func (c *Core) Bus() *bus.Bus { return c.bus }

// Egress returns the hub output sinks register on.
func (c *Core) Egress() *egress.Hub { return c.egress }

// Nociception exposes cooldown queries to the adapter runner.
func (c *Core) Nociception() *nociception.Nociception { return c.noci }

// SetOverload flips the system-health overload signal consulted by every
// Gate hard-bypass stage.
func (c *Core) SetOverload(v bool) { c.overload.Store(v) }

// SystemHealth implements worker.HealthSource.
func (c *Core) SystemHealth() gatetypes.SystemHealth {
	return gatetypes.SystemHealth{Overload: c.overload.Load()}
}

// Start launches the router loop, the GC sweeper, and (when configured) the
// system-tick driver. It returns immediately.
func (c *Core) Start() {
	c.runCtx, c.runCancel = context.WithCancel(context.Background())

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.router.Run(c.runCtx)
	}()

	var gcCtx context.Context
	gcCtx, c.gcCancel = context.WithCancel(context.Background())
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.gcLoop(gcCtx)
	}()

	if tick := c.cfg.Core.SystemTick(); tick > 0 {
		stop := make(chan struct{})
		c.tickStop = stop
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.tickLoop(tick, stop)
		}()
	}

	slog.Info("core started",
		"bus_size", c.cfg.Core.BusSize,
		"inbox_max_size", c.cfg.Core.InboxMaxSize,
		"system_session_key", c.cfg.Core.SystemSessionKey,
		"system_fanout", c.cfg.Core.EnableSystemFanout)
}

// Shutdown closes the Bus, then cancels — in order — the tick driver, the
// GC sweeper, the router loop, and every worker, joining with a bounded
// timeout. Overrunning the timeout is logged, not fatal.
func (c *Core) Shutdown(ctx context.Context) {
	c.bus.Close()

	c.tickOnce.Do(func() {
		if c.tickStop != nil {
			close(c.tickStop)
		}
	})
	if c.gcCancel != nil {
		c.gcCancel()
	}
	c.router.Close()
	if c.runCancel != nil {
		c.runCancel()
	}

	c.mu.Lock()
	handles := make([]*workerHandle, 0, len(c.workers))
	for _, h := range c.workers {
		handles = append(handles, h)
	}
	c.mu.Unlock()
	for _, h := range handles {
		h.cancel()
	}

	deadline := shutdownTimeout
	if d, ok := ctx.Deadline(); ok {
		if until := time.Until(d); until < deadline {
			deadline = until
		}
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		for _, h := range handles {
			<-h.done
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(deadline):
		slog.Warn("core: shutdown join timed out", "timeout", deadline)
	}

	_ = c.memory.Close()
	if c.metrics != nil {
		_ = c.metrics.Shutdown(context.Background())
	}
	slog.Info("core stopped")
}

// spawnWorker is the router's OnNewSession hook: one goroutine, one Gate
// pipeline, one state record per session.
func (c *Core) spawnWorker(sessionKey string, inbox *router.Inbox) {
	now := time.Now().UTC()
	state := c.states.Get(sessionKey, now)

	g := gate.NewWithPools(c.gateReloader, c.cfg.Core.SystemSessionKey, c.gateMetrics(), c.dropPool, c.sinkPool, c.toolPool)

	w := worker.New(worker.Config{
		SessionKey: sessionKey,
		Inbox:      inbox,
		Bus:        c.bus,
		Gate:       g,
		State:      state,
		Orch:       c.orch,
		Memory:     c.memory,
		Health:     c,
		Spend:      c.costs,
	})

	wCtx, cancel := context.WithCancel(context.Background())
	h := &workerHandle{cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	c.workers[sessionKey] = h
	c.mu.Unlock()

	go func() {
		defer close(h.done)
		w.Run(wCtx)
	}()
}

func (c *Core) gateMetrics() gatetypes.Metrics {
	if c.metrics == nil {
		return nil
	}
	return c.metrics
}

// evictSession is the state store's OnEvict hook: cancel the worker, drop
// the inbox, forget the spend.
func (c *Core) evictSession(sessionKey string) {
	c.mu.Lock()
	h := c.workers[sessionKey]
	delete(c.workers, sessionKey)
	c.mu.Unlock()

	if h != nil {
		h.cancel()
	}
	c.router.RemoveSession(sessionKey)
	c.costs.Forget(sessionKey)
	if c.metrics != nil {
		c.metrics.AddSessionGC(1)
	}
	slog.Debug("core: session evicted", "session_key", sessionKey)
}

func (c *Core) gcLoop(ctx context.Context) {
	interval := c.cfg.Core.GCInterval()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.states.Sweep(time.Now().UTC())
		case <-ctx.Done():
			return
		}
	}
}
