// Package nociception implements the pain subsystem: a consumer of ALERT
// observations that turns excess ALERT frequency into adapter cooldowns,
// and excess Bus drop-rate into schedule fan-out suppression.
package nociception

import (
	"sync"
	"time"

	"github.com/gatewright/gatewright/internal/obs"
)

// Config tunes both burst detectors.
type Config struct {
	WindowSec          float64
	BurstThreshold     int
	CooldownSec        float64
	DropBurstThreshold uint64
}

// DefaultConfig picks conservative thresholds; operators tune them through
// the process config.
func DefaultConfig() Config {
	return Config{
		WindowSec:          60,
		BurstThreshold:     5,
		CooldownSec:        120,
		DropBurstThreshold: 20,
	}
}

// sourceWindow is a per-source sliding window of ALERT timestamps.
type sourceWindow struct {
	timestamps    []float64
	disabledUntil float64
}

// Nociception tracks per-source ALERT bursts and Bus drop-rate bursts. It is
// safe for concurrent use; a single instance is normally driven by one
// system-session subscriber goroutine but exposes thread-safe queries for
// adapters checking their own cooldown.
type Nociception struct {
	cfg Config

	mu      sync.Mutex
	sources map[string]*sourceWindow

	fanoutMu            sync.Mutex
	fanoutDisabledUntil float64
	lastDroppedTotal    uint64

	adaptersCooldownTotal uint64
	dropsOverloadTotal    uint64
}

// New constructs a Nociception instance.
func New(cfg Config) *Nociception {
	return &Nociception{cfg: cfg, sources: make(map[string]*sourceWindow)}
}

// HandleAlert records one ALERT observation and returns true if this
// observation just pushed its source over the burst threshold (i.e. a
// cooldown was newly asserted, not merely refreshed).
func (n *Nociception) HandleAlert(o obs.Observation, now time.Time) bool {
	if o.Type != obs.TypeAlert {
		return false
	}
	sourceID := sourceKey(o)
	nowTS := unixSeconds(now)

	n.mu.Lock()
	defer n.mu.Unlock()
	w, ok := n.sources[sourceID]
	if !ok {
		w = &sourceWindow{}
		n.sources[sourceID] = w
	}
	w.timestamps = append(w.timestamps, nowTS)
	cutoff := nowTS - n.cfg.WindowSec
	i := 0
	for i < len(w.timestamps) && w.timestamps[i] < cutoff {
		i++
	}
	if i > 0 {
		w.timestamps = w.timestamps[i:]
	}

	wasDisabled := w.disabledUntil > nowTS
	if len(w.timestamps) >= n.cfg.BurstThreshold {
		w.disabledUntil = nowTS + n.cfg.CooldownSec
		if !wasDisabled {
			n.adaptersCooldownTotal++
			return true
		}
	}
	return false
}

// AdapterDisabledUntil reports the Unix-seconds deadline before which
// sourceID must pause emission, or zero if it has never been cooled down.
// A lapsed cooldown still reports its past deadline.
func (n *Nociception) AdapterDisabledUntil(sourceID string) float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	if w, ok := n.sources[sourceID]; ok {
		return w.disabledUntil
	}
	return 0
}

// IsAdapterDisabled reports whether sourceID is currently under cooldown.
func (n *Nociception) IsAdapterDisabled(sourceID string, now time.Time) bool {
	return n.AdapterDisabledUntil(sourceID) > unixSeconds(now)
}

// CheckDropRate observes the Bus's cumulative dropped_total counter on a
// system-tick cadence; if it has grown by at least DropBurstThreshold since
// the last check, fan-out suppression is asserted for CooldownSec. Returns
// true if suppression was newly asserted this call.
func (n *Nociception) CheckDropRate(droppedTotal uint64, now time.Time) bool {
	nowTS := unixSeconds(now)

	n.fanoutMu.Lock()
	defer n.fanoutMu.Unlock()
	delta := droppedTotal - n.lastDroppedTotal
	n.lastDroppedTotal = droppedTotal

	wasDisabled := n.fanoutDisabledUntil > nowTS
	if delta >= n.cfg.DropBurstThreshold {
		n.fanoutDisabledUntil = nowTS + n.cfg.CooldownSec
		if !wasDisabled {
			n.dropsOverloadTotal++
			return true
		}
	}
	return false
}

// IsFanoutSuppressed reports whether system-session schedule fan-out is
// currently suppressed.
func (n *Nociception) IsFanoutSuppressed(now time.Time) bool {
	n.fanoutMu.Lock()
	defer n.fanoutMu.Unlock()
	return n.fanoutDisabledUntil > unixSeconds(now)
}

// AdaptersCooldownTotal is the lifetime count of cooldowns asserted;
// internal/metrics mirrors it as an OTel counter.
func (n *Nociception) AdaptersCooldownTotal() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.adaptersCooldownTotal
}

func (n *Nociception) DropsOverloadTotal() uint64 {
	n.fanoutMu.Lock()
	defer n.fanoutMu.Unlock()
	return n.dropsOverloadTotal
}

func sourceKey(o obs.Observation) string {
	return string(o.SourceKind) + ":" + o.SourceName
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
