package schedtick

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gatewright/gatewright/internal/bus"
	"github.com/gatewright/gatewright/internal/obs"
)

// checkInterval is how often the scheduler evaluates its entries. Minute
// resolution only needs a sub-minute check cadence.
const checkInterval = 10 * time.Second

// Scheduler is the schedule-tick adapter. Static entries come from config;
// dynamic entries are loaded from the optional Store at start.
type Scheduler struct {
	store *Store // nil-safe: no persistence without a store

	mu      sync.Mutex
	entries []*Entry

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Scheduler with the given static entries. store may be nil.
func New(store *Store, static []Entry) *Scheduler {
	s := &Scheduler{store: store}
	for i := range static {
		e := static[i]
		s.entries = append(s.entries, &e)
	}
	return s
}

// Name implements the adapter contract.
func (s *Scheduler) Name() string { return "schedule_tick" }

// Add registers (and persists, when a store is present) a dynamic entry.
func (s *Scheduler) Add(entry Entry) error {
	if _, err := compileSpec(entry.Cron); err != nil {
		return err
	}
	if s.store != nil {
		if err := s.store.Create(&entry); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.entries = append(s.entries, &entry)
	s.mu.Unlock()
	return nil
}

// Start implements the adapter contract: it loads persisted entries and
// begins the check loop.
func (s *Scheduler) Start(ctx context.Context, b *bus.Bus) error {
	if s.store != nil {
		persisted, err := s.store.List()
		if err != nil {
			slog.Warn("schedtick: loading persisted schedules failed", "error", err)
		}
		s.mu.Lock()
		for i := range persisted {
			e := persisted[i]
			s.entries = append(s.entries, &e)
		}
		s.mu.Unlock()
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(runCtx, b)
	return nil
}

// Stop implements the adapter contract.
func (s *Scheduler) Stop() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return nil
}

func (s *Scheduler) loop(ctx context.Context, b *bus.Bus) {
	defer close(s.done)

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.fireDue(now, b)
		}
	}
}

// fireDue publishes one SCHEDULE Observation per due entry. Entries with a
// spec that fails to compile are logged once and skipped.
func (s *Scheduler) fireDue(now time.Time, b *bus.Bus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.Cron == "" {
			continue
		}
		if err := e.compile(); err != nil {
			slog.Warn("schedtick: bad schedule spec, entry disabled", "id", e.ID, "cron", e.Cron, "error", err)
			e.sched = nil
			e.Cron = ""
			continue
		}
		if !e.due(now) {
			continue
		}
		e.lastFired = now

		var opts []obs.Option
		if e.SessionKey != "" {
			opts = append(opts, obs.WithSessionKey(e.SessionKey))
		}
		o := obs.New(s.Name(), obs.SourceExternal,
			obs.Actor{ActorID: "system", ActorType: obs.ActorSystem},
			obs.SchedulePayload{ScheduleID: e.ID, Data: e.Data},
			opts...)
		b.PublishNowait(o)
	}
}
