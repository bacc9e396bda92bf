package adapters

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gatewright/gatewright/internal/bus"
	"github.com/gatewright/gatewright/internal/obs"
)

// fakeAdapter is a minimal ActiveAdapter for Runner tests.
type fakeAdapter struct {
	name     string
	interval time.Duration
	observe  func(ctx context.Context) ([]obs.Observation, error)
	stopped  atomic.Bool
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Start(context.Context, *bus.Bus) error { return nil }

func (f *fakeAdapter) Stop() error { f.stopped.Store(true); return nil }

func (f *fakeAdapter) Interval() time.Duration { return f.interval }

func (f *fakeAdapter) ObserveOnce(ctx context.Context) ([]obs.Observation, error) {
	return f.observe(ctx)
}

func drainOne(t *testing.T, b *bus.Bus, timeout time.Duration) obs.Observation {
	t.Helper()
	select {
	case o := <-b.Consume():
		return o
	case <-time.After(timeout):
		t.Fatal("timed out waiting for observation")
		return obs.Observation{}
	}
}

func TestRunner_PollsAndPublishes(t *testing.T) {
	b := bus.New(16)
	defer b.Close()

	fa := &fakeAdapter{
		name:     "poller",
		interval: 10 * time.Millisecond,
		observe: func(context.Context) ([]obs.Observation, error) {
			o := obs.New("poller", obs.SourceExternal,
				obs.Actor{ActorID: "u1", ActorType: obs.ActorUser},
				obs.MessagePayload{Text: "tick"})
			return []obs.Observation{o}, nil
		},
	}

	r := NewRunner(b, nil)
	r.Register(fa)
	r.Start(context.Background())
	defer r.Stop()

	o := drainOne(t, b, time.Second)
	if o.SourceName != "poller" {
		t.Errorf("source = %q, want poller", o.SourceName)
	}
}

func TestRunner_ObserveErrorBecomesAlert(t *testing.T) {
	b := bus.New(16)
	defer b.Close()

	fa := &fakeAdapter{
		name:     "broken",
		interval: 10 * time.Millisecond,
		observe: func(context.Context) ([]obs.Observation, error) {
			return nil, errors.New("imap timeout")
		},
	}

	r := NewRunner(b, nil)
	r.Register(fa)
	r.Start(context.Background())
	defer r.Stop()

	o := drainOne(t, b, time.Second)
	if o.Type != obs.TypeAlert {
		t.Fatalf("type = %q, want ALERT", o.Type)
	}
	ap, ok := o.Payload.(obs.AlertPayload)
	if !ok {
		t.Fatalf("payload type %T", o.Payload)
	}
	if ap.AlertType != "adapter_observe_error" {
		t.Errorf("alert_type = %q", ap.AlertType)
	}
	if ap.Message != "imap timeout" {
		t.Errorf("message = %q", ap.Message)
	}
}

func TestRunner_ObservePanicBecomesAlert(t *testing.T) {
	b := bus.New(16)
	defer b.Close()

	fa := &fakeAdapter{
		name:     "panicky",
		interval: 10 * time.Millisecond,
		observe: func(context.Context) ([]obs.Observation, error) {
			panic("boom")
		},
	}

	r := NewRunner(b, nil)
	r.Register(fa)
	r.Start(context.Background())
	defer r.Stop()

	o := drainOne(t, b, time.Second)
	if o.Type != obs.TypeAlert {
		t.Fatalf("type = %q, want ALERT", o.Type)
	}
}

// frozenCooldowns disables one source id unconditionally.
type frozenCooldowns struct{ disabled string }

func (f frozenCooldowns) IsAdapterDisabled(sourceID string, _ time.Time) bool {
	return sourceID == f.disabled
}

func TestRunner_HonorsCooldown(t *testing.T) {
	b := bus.New(16)
	defer b.Close()

	var polls atomic.Int32
	fa := &fakeAdapter{
		name:     "cooled",
		interval: 10 * time.Millisecond,
		observe: func(context.Context) ([]obs.Observation, error) {
			polls.Add(1)
			return nil, nil
		},
	}

	r := NewRunner(b, frozenCooldowns{disabled: "EXTERNAL:cooled"})
	r.Register(fa)
	r.Start(context.Background())

	time.Sleep(80 * time.Millisecond)
	r.Stop()

	if n := polls.Load(); n != 0 {
		t.Errorf("adapter polled %d times while under cooldown, want 0", n)
	}
	if !fa.stopped.Load() {
		t.Error("adapter was not stopped")
	}
}
