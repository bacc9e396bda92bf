package adapters

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gatewright/gatewright/internal/bus"
	"github.com/gatewright/gatewright/internal/obs"
)

// defaultPollInterval is used when an ActiveAdapter reports no interval.
const defaultPollInterval = 5 * time.Second

// Runner supervises a set of adapters over one Bus.
type Runner struct {
	bus       *bus.Bus
	cooldowns Cooldowns // may be nil

	mu       sync.Mutex
	adapters []Adapter
	started  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a Runner over b. cooldowns may be nil (no suppression).
func NewRunner(b *bus.Bus, cooldowns Cooldowns) *Runner {
	return &Runner{bus: b, cooldowns: cooldowns}
}

// Register adds an adapter. Must be called before Start.
func (r *Runner) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters = append(r.adapters, a)
}

// Start starts every registered adapter and begins polling the active ones.
// A failing Start is logged and reported as an ALERT; it does not abort the
// other adapters.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	adapters := append([]Adapter{}, r.adapters...)
	r.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	for _, a := range adapters {
		if err := a.Start(runCtx, r.bus); err != nil {
			slog.Warn("adapters: start failed", "adapter", a.Name(), "error", err)
			r.publishObserveError(a.Name(), err)
			continue
		}
		if active, ok := a.(ActiveAdapter); ok {
			r.wg.Add(1)
			go r.pollLoop(runCtx, active)
		}
		slog.Info("adapters: started", "adapter", a.Name())
	}
}

// Stop cancels the poll loops and stops every adapter.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()

	r.mu.Lock()
	adapters := append([]Adapter{}, r.adapters...)
	r.mu.Unlock()
	for _, a := range adapters {
		if err := a.Stop(); err != nil {
			slog.Warn("adapters: stop failed", "adapter", a.Name(), "error", err)
		}
	}
}

func (r *Runner) pollLoop(ctx context.Context, a ActiveAdapter) {
	defer r.wg.Done()

	interval := a.Interval()
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sourceID := string(obs.SourceExternal) + ":" + a.Name()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.cooldowns != nil && r.cooldowns.IsAdapterDisabled(sourceID, time.Now()) {
				continue
			}
			r.observeOnce(ctx, a)
		}
	}
}

// observeOnce runs one poll, converting any error or panic into an
// adapter_observe_error ALERT — active-adapter failures must never escape.
func (r *Runner) observeOnce(ctx context.Context, a ActiveAdapter) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("adapters: observe_once panic", "adapter", a.Name(), "panic", rec)
			r.publishObserveError(a.Name(), fmt.Errorf("panic: %v", rec))
		}
	}()

	observed, err := a.ObserveOnce(ctx)
	if err != nil {
		r.publishObserveError(a.Name(), err)
		return
	}
	for _, o := range observed {
		r.bus.PublishNowait(o)
	}
}

func (r *Runner) publishObserveError(adapterName string, err error) {
	alert := obs.New(adapterName, obs.SourceExternal,
		obs.Actor{ActorID: "system", ActorType: obs.ActorSystem},
		obs.AlertPayload{
			AlertType: "adapter_observe_error",
			Severity:  obs.SeverityMedium,
			Message:   err.Error(),
		})
	r.bus.PublishNowait(alert)
}
