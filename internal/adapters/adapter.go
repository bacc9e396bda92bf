// Package adapters defines the ingress adapter contract and the Runner
// that supervises adapter lifecycles: start/stop, periodic observe_once
// polling for active adapters, panic/error containment into
// adapter_observe_error ALERTs, and nociception cooldown enforcement.
package adapters

import (
	"context"
	"time"

	"github.com/gatewright/gatewright/internal/bus"
	"github.com/gatewright/gatewright/internal/obs"
)

// Adapter is any Observation producer the Runner supervises. Start is called
// once with the Bus; the adapter may hold it and publish from its own
// goroutines (publish_nowait is thread-safe). Stop must be idempotent.
type Adapter interface {
	Name() string
	Start(ctx context.Context, b *bus.Bus) error
	Stop() error
}

// ActiveAdapter is a polled adapter: the Runner calls ObserveOnce on the
// adapter's interval and publishes whatever it returns. Errors and panics
// inside ObserveOnce never escape the Runner — they become ALERT
// Observations instead.
type ActiveAdapter interface {
	Adapter
	ObserveOnce(ctx context.Context) ([]obs.Observation, error)
	Interval() time.Duration
}

// Cooldowns is the slice of Nociception the Runner consults before polling:
// an adapter under cooldown is skipped until its deadline passes.
type Cooldowns interface {
	IsAdapterDisabled(sourceID string, now time.Time) bool
}
