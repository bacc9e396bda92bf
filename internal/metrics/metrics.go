// Package metrics wires the Gate/Bus/Router/Nociception/Reflex counters
// onto an OpenTelemetry Meter. No exporter is configured here; that is left
// to whatever SDK options cmd/gatewright chooses to layer on at process
// start.
package metrics

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/gatewright/gatewright/internal/gatetypes"
)

// Metrics is the process-wide meter sink. It satisfies gatetypes.Metrics and
// exposes a handful of additional counters the Bus, Router, Nociception, and
// Reflex Controller report into.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	meter    metric.Meter

	processedTotal metric.Int64Counter
	sceneTotal     metric.Int64Counter
	actionTotal    metric.Int64Counter
	droppedTotal   metric.Int64Counter
	sunkTotal      metric.Int64Counter
	deliveredTotal metric.Int64Counter

	busPublishedTotal  metric.Int64Counter
	busDroppedTotal    metric.Int64Counter
	routerDroppedTotal metric.Int64Counter
	sessionGCTotal     metric.Int64Counter

	adaptersCooldownTotal metric.Int64Counter
	dropsOverloadTotal    metric.Int64Counter

	tuningAppliedTotal metric.Int64Counter
}

// New constructs a Metrics instance with one in-process MeterProvider named
// meterName (e.g. "gatewright"). Instrument-creation failures are logged and
// fall back to a nil instrument, which addInt skips.
func New(meterName string) *Metrics {
	mp := sdkmetric.NewMeterProvider()
	meter := mp.Meter(meterName)
	m := &Metrics{provider: mp, meter: meter}

	m.processedTotal = mustCounter(meter, "gatewright.gate.processed_total", "observations the Gate has finalized a decision for")
	m.sceneTotal = mustCounter(meter, "gatewright.gate.scene_total", "decisions by inferred scene")
	m.actionTotal = mustCounter(meter, "gatewright.gate.action_total", "decisions by action")
	m.droppedTotal = mustCounter(meter, "gatewright.gate.dropped_total", "DROP decisions")
	m.sunkTotal = mustCounter(meter, "gatewright.gate.sunk_total", "SINK decisions")
	m.deliveredTotal = mustCounter(meter, "gatewright.gate.delivered_total", "DELIVER decisions")

	m.busPublishedTotal = mustCounter(meter, "gatewright.bus.published_total", "observations published onto the bus")
	m.busDroppedTotal = mustCounter(meter, "gatewright.bus.dropped_total", "observations dropped at bus capacity")
	m.routerDroppedTotal = mustCounter(meter, "gatewright.router.dropped_total", "observations dropped at inbox capacity")
	m.sessionGCTotal = mustCounter(meter, "gatewright.sessionstate.gc_total", "idle sessions evicted by the GC sweep")

	m.adaptersCooldownTotal = mustCounter(meter, "gatewright.nociception.adapters_cooldown_total", "adapter cooldowns asserted")
	m.dropsOverloadTotal = mustCounter(meter, "gatewright.nociception.drops_overload_total", "fan-out suppressions asserted")

	m.tuningAppliedTotal = mustCounter(meter, "gatewright.reflex.tuning_applied_total", "tuning_suggestion applications, accepted or rejected")

	return m
}

func mustCounter(meter metric.Meter, name, help string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(help))
	if err != nil {
		slog.Warn("metrics: failed to create counter, metric will be dropped", "name", name, "error", err)
		return nil
	}
	return c
}

func addInt(ctx context.Context, c metric.Int64Counter, n int64, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	if len(attrs) == 0 {
		c.Add(ctx, n)
		return
	}
	c.Add(ctx, n, metric.WithAttributes(attrs...))
}

// --- gatetypes.Metrics ---

func (m *Metrics) IncProcessed() { addInt(context.Background(), m.processedTotal, 1) }

func (m *Metrics) IncScene(scene gatetypes.Scene) {
	addInt(context.Background(), m.sceneTotal, 1, attribute.String("scene", string(scene)))
}

func (m *Metrics) IncAction(action gatetypes.Action) {
	addInt(context.Background(), m.actionTotal, 1, attribute.String("action", string(action)))
}

func (m *Metrics) IncDropped()   { addInt(context.Background(), m.droppedTotal, 1) }
func (m *Metrics) IncSunk()      { addInt(context.Background(), m.sunkTotal, 1) }
func (m *Metrics) IncDelivered() { addInt(context.Background(), m.deliveredTotal, 1) }

// --- Bus / Router / session GC ---

func (m *Metrics) IncBusPublished() { addInt(context.Background(), m.busPublishedTotal, 1) }
func (m *Metrics) IncBusDropped()   { addInt(context.Background(), m.busDroppedTotal, 1) }
func (m *Metrics) IncRouterDropped(sessionKey string) {
	addInt(context.Background(), m.routerDroppedTotal, 1, attribute.String("session_key", sessionKey))
}
func (m *Metrics) AddSessionGC(n int) { addInt(context.Background(), m.sessionGCTotal, int64(n)) }

// --- Nociception ---

func (m *Metrics) IncAdapterCooldown(sourceID string) {
	addInt(context.Background(), m.adaptersCooldownTotal, 1, attribute.String("source", sourceID))
}
func (m *Metrics) IncDropsOverload() { addInt(context.Background(), m.dropsOverloadTotal, 1) }

// --- Reflex ---

func (m *Metrics) IncTuningApplied(accepted bool) {
	addInt(context.Background(), m.tuningAppliedTotal, 1, attribute.Bool("accepted", accepted))
}

// Shutdown flushes and stops the underlying MeterProvider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}
