package reflex

import (
	"testing"
	"time"

	"github.com/gatewright/gatewright/internal/gateconfig"
	"github.com/gatewright/gatewright/internal/obs"
)

// fakeProvider is a minimal ConfigProvider: one mutable Config, no file
// backing, for the Controller's unit tests.
type fakeProvider struct {
	cfg gateconfig.Config
}

func (f *fakeProvider) Snapshot() gateconfig.Config { return f.cfg }

func (f *fakeProvider) UpdateOverrides(patch gateconfig.OverridesPatch) bool {
	changed := false
	if patch.EmergencyMode != nil && *patch.EmergencyMode != f.cfg.Overrides.EmergencyMode {
		f.cfg.Overrides.EmergencyMode = *patch.EmergencyMode
		changed = true
	}
	if patch.ForceLowModel != nil && *patch.ForceLowModel != f.cfg.Overrides.ForceLowModel {
		f.cfg.Overrides.ForceLowModel = *patch.ForceLowModel
		changed = true
	}
	return changed
}

func tuningSuggestion(suggested map[string]any, ttlSec any) obs.Observation {
	data := map[string]any{"suggested_overrides": suggested}
	if ttlSec != nil {
		data["ttl_sec"] = ttlSec
	}
	return obs.New("agent:tuner", obs.SourceInternal,
		obs.Actor{ActorID: "agent", ActorType: obs.ActorSystem},
		obs.ControlPayload{Kind: "tuning_suggestion", Data: data})
}

func TestController_AppliesWhitelistedOverride(t *testing.T) {
	p := &fakeProvider{cfg: gateconfig.Default()}
	c := New(p, DefaultConfig(), "system")
	now := time.Now()

	emits := c.HandleObservation(tuningSuggestion(map[string]any{"force_low_model": true}, 30), now)

	if !p.cfg.Overrides.ForceLowModel {
		t.Fatalf("expected force_low_model to be applied")
	}
	if len(emits) != 2 {
		t.Fatalf("want tuning_applied + system_mode_changed, got %d emits", len(emits))
	}
	cp, ok := emits[0].Payload.(obs.ControlPayload)
	if !ok || cp.Kind != "tuning_applied" || cp.Data["accepted"] != true {
		t.Fatalf("want accepted tuning_applied, got %+v", emits[0].Payload)
	}
}

func TestController_RejectsNonWhitelistedKey(t *testing.T) {
	p := &fakeProvider{cfg: gateconfig.Default()}
	c := New(p, DefaultConfig(), "system")

	emits := c.HandleObservation(tuningSuggestion(map[string]any{"emergency_mode": true}, 30), time.Now())

	if p.cfg.Overrides.EmergencyMode {
		t.Fatalf("emergency_mode is not in the whitelist and must not be applied")
	}
	cp, ok := emits[0].Payload.(obs.ControlPayload)
	if !ok || cp.Data["reason"] != "no_allowed_overrides" {
		t.Fatalf("want no_allowed_overrides reason, got %+v", emits[0].Payload)
	}
}

func TestController_CooldownBlocksRapidReapplication(t *testing.T) {
	p := &fakeProvider{cfg: gateconfig.Default()}
	c := New(p, DefaultConfig(), "system")
	now := time.Now()

	c.HandleObservation(tuningSuggestion(map[string]any{"force_low_model": true}, 30), now)
	p.cfg.Overrides.ForceLowModel = false // simulate a revert in between

	emits := c.HandleObservation(tuningSuggestion(map[string]any{"force_low_model": true}, 30), now.Add(time.Second))

	cp, ok := emits[0].Payload.(obs.ControlPayload)
	if !ok || cp.Data["reason"] != "cooldown" {
		t.Fatalf("want cooldown reason within the cooldown window, got %+v", emits[0].Payload)
	}
}

func TestController_TTLExpiryReverts(t *testing.T) {
	p := &fakeProvider{cfg: gateconfig.Default()}
	c := New(p, DefaultConfig(), "system")
	now := time.Now()

	c.HandleObservation(tuningSuggestion(map[string]any{"force_low_model": true}, 1), now)
	if !p.cfg.Overrides.ForceLowModel {
		t.Fatalf("expected force_low_model applied before TTL")
	}

	// Any subsequent call re-evaluates the TTL, even a no-op system tick.
	tick := obs.New("scheduler", obs.SourceInternal, obs.Actor{ActorID: "scheduler", ActorType: obs.ActorSystem},
		obs.SchedulePayload{ScheduleID: "tick"})
	emits := c.HandleObservation(tick, now.Add(2*time.Second))

	if p.cfg.Overrides.ForceLowModel {
		t.Fatalf("expected force_low_model reverted after TTL expiry")
	}
	found := false
	for _, e := range emits {
		if cp, ok := e.Payload.(obs.ControlPayload); ok && cp.Kind == "system_mode_changed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a system_mode_changed emit on TTL revert, got %+v", emits)
	}
}

func TestController_DisabledSuggestionsRejected(t *testing.T) {
	p := &fakeProvider{cfg: gateconfig.Default()}
	cfg := DefaultConfig()
	cfg.AllowAgentSuggestions = false
	c := New(p, cfg, "system")

	emits := c.HandleObservation(tuningSuggestion(map[string]any{"force_low_model": true}, 30), time.Now())

	if p.cfg.Overrides.ForceLowModel {
		t.Fatalf("suggestions are disabled, nothing should apply")
	}
	cp, ok := emits[0].Payload.(obs.ControlPayload)
	if !ok || cp.Data["reason"] != "agent_suggestion_disabled" {
		t.Fatalf("want agent_suggestion_disabled reason, got %+v", emits[0].Payload)
	}
}
