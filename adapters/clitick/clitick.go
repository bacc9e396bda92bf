// Package clitick holds the two simplest reference adapters: a stdin
// MESSAGE reader for interactive demos and a fixed-interval SCHEDULE tick.
package clitick

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gatewright/gatewright/internal/bus"
	"github.com/gatewright/gatewright/internal/obs"
)

// StdinAdapter reads lines from an io.Reader (normally os.Stdin) and
// publishes each as a user MESSAGE Observation.
type StdinAdapter struct {
	ActorID string
	In      io.Reader

	cancel context.CancelFunc
}

// NewStdinAdapter reads from os.Stdin as the given actor.
func NewStdinAdapter(actorID string) *StdinAdapter {
	return &StdinAdapter{ActorID: actorID, In: os.Stdin}
}

func (a *StdinAdapter) Name() string { return "text_input" }

func (a *StdinAdapter) Start(ctx context.Context, b *bus.Bus) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	go func() {
		scanner := bufio.NewScanner(a.In)
		for scanner.Scan() {
			select {
			case <-runCtx.Done():
				return
			default:
			}
			text := strings.TrimSpace(scanner.Text())
			o := obs.New(a.Name(), obs.SourceExternal,
				obs.Actor{ActorID: a.ActorID, ActorType: obs.ActorUser},
				obs.MessagePayload{Text: text})
			b.PublishNowait(o)
		}
	}()
	return nil
}

func (a *StdinAdapter) Stop() error {
	if a.cancel != nil {
		a.cancel()
	}
	return nil
}

// TickAdapter emits a SCHEDULE Observation on a fixed interval, addressed to
// the system session so the core's fan-out logic can copy it to every
// active session.
type TickAdapter struct {
	ScheduleID string
	Every      time.Duration
}

// NewTickAdapter creates a tick named scheduleID firing every interval.
func NewTickAdapter(scheduleID string, every time.Duration) *TickAdapter {
	return &TickAdapter{ScheduleID: scheduleID, Every: every}
}

func (a *TickAdapter) Name() string { return "interval_tick" }

func (a *TickAdapter) Start(context.Context, *bus.Bus) error { return nil }

func (a *TickAdapter) Stop() error { return nil }

func (a *TickAdapter) Interval() time.Duration { return a.Every }

// ObserveOnce implements the active-adapter poll: one SCHEDULE per interval.
func (a *TickAdapter) ObserveOnce(context.Context) ([]obs.Observation, error) {
	o := obs.New(a.Name(), obs.SourceExternal,
		obs.Actor{ActorID: "system", ActorType: obs.ActorSystem},
		obs.SchedulePayload{ScheduleID: a.ScheduleID})
	return []obs.Observation{o}, nil
}
