package reflex

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gatewright/gatewright/internal/gateconfig"
	"github.com/gatewright/gatewright/internal/obs"
)

// ConfigProvider is the narrow slice of *gateconfig.Reloader the Controller
// needs: an atomic snapshot read plus the whitelisted partial-patch apply.
type ConfigProvider interface {
	Snapshot() gateconfig.Config
	UpdateOverrides(gateconfig.OverridesPatch) bool
}

// suggestionState tracks the single outstanding agent-suggested override
// window.
type suggestionState struct {
	mu              sync.Mutex
	activeUntilTS   *float64
	lastAppliedTS   *float64
	activeOverrides map[string]any
}

// Controller evaluates CONTROL observations of kind "tuning_suggestion" and
// applies a bounded, whitelisted, cooldown-limited override patch, reverting
// it automatically once its TTL elapses. It is re-evaluated on every
// Observation handed to it (not just tuning_suggestion ones) because the TTL
// check has no other clock to hang off of.
type Controller struct {
	provider         ConfigProvider
	cfg              Config
	systemSessionKey string
	state            suggestionState
}

// New constructs a Controller. systemSessionKey defaults to "system".
func New(provider ConfigProvider, cfg Config, systemSessionKey string) *Controller {
	if systemSessionKey == "" {
		systemSessionKey = "system"
	}
	return &Controller{
		provider:         provider,
		cfg:              cfg,
		systemSessionKey: systemSessionKey,
		state:            suggestionState{activeOverrides: map[string]any{}},
	}
}

// HandleObservation evaluates obs (if it is a tuning_suggestion CONTROL
// observation) and the pending TTL window, returning zero or more CONTROL
// observations to re-publish onto the Bus. It never panics: any internal
// error is caught and turned into a system_reflex_error ALERT.
func (c *Controller) HandleObservation(o obs.Observation, now time.Time) (emits []obs.Observation) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("reflex: handler panic recovered", "panic", r, "obs_id", o.ID)
			emits = append(emits, c.makeAlert("system_reflex_error", fmt.Sprintf("%v", r), nil))
		}
	}()

	if kind, ok := controlKind(o); ok && kind == "tuning_suggestion" {
		emits = append(emits, c.handleTuningSuggestion(o, now)...)
	}
	emits = append(emits, c.evaluateSuggestionTTL(now)...)
	return emits
}

func (c *Controller) handleTuningSuggestion(o obs.Observation, now time.Time) []obs.Observation {
	data := payloadData(o)
	nowTS := extractTS(data, now)

	if !c.cfg.AllowAgentSuggestions {
		return []obs.Observation{c.emitTuningApplied(false, nil, "agent_suggestion_disabled", nowTS)}
	}

	suggested, _ := data["suggested_overrides"].(map[string]any)
	allowed := map[string]any{}
	for k, v := range suggested {
		if c.cfg.allows(k) {
			allowed[k] = v
		}
	}
	if len(allowed) == 0 {
		return []obs.Observation{c.emitTuningApplied(false, nil, "no_allowed_overrides", nowTS)}
	}

	ttl := c.cfg.SuggestionTTLDefault
	if raw, ok := data["ttl_sec"]; ok {
		if f, ok := toFloat(raw); ok {
			ttl = int(f)
		}
	}
	if ttl < 1 {
		ttl = 1
	}
	if ttl > 3600 {
		ttl = 3600
	}

	c.state.mu.Lock()
	if c.state.lastAppliedTS != nil && (nowTS-*c.state.lastAppliedTS) < c.cfg.SuggestionCooldownSec {
		c.state.mu.Unlock()
		return []obs.Observation{c.emitTuningApplied(false, nil, "cooldown", nowTS)}
	}
	c.state.mu.Unlock()

	changed := c.applyOverrides(allowed)

	emits := []obs.Observation{}
	if changed {
		until := nowTS + float64(ttl)
		c.state.mu.Lock()
		c.state.activeUntilTS = &until
		lastApplied := nowTS
		c.state.lastAppliedTS = &lastApplied
		c.state.activeOverrides = allowed
		c.state.mu.Unlock()
		emits = append(emits, c.emitTuningApplied(true, allowed, "agent_suggestion", nowTS))
		emits = append(emits, c.emitSystemModeChanged("agent_suggestion", nowTS))
	} else {
		emits = append(emits, c.emitTuningApplied(false, nil, "agent_suggestion", nowTS))
	}
	return emits
}

// EvaluateTTL runs only the TTL revert check, without considering obs as a
// possible suggestion. The core calls this for non-system-session
// Observations so an expired override reverts on any traffic at all.
func (c *Controller) EvaluateTTL(now time.Time) []obs.Observation {
	return c.evaluateSuggestionTTL(now)
}

func (c *Controller) evaluateSuggestionTTL(now time.Time) []obs.Observation {
	c.state.mu.Lock()
	if c.state.activeUntilTS == nil {
		c.state.mu.Unlock()
		return nil
	}
	nowTS := float64(now.UnixNano()) / 1e9
	if nowTS <= *c.state.activeUntilTS {
		c.state.mu.Unlock()
		return nil
	}
	active := c.state.activeOverrides
	c.state.mu.Unlock()

	revert := map[string]any{}
	for k := range active {
		if k == "force_low_model" {
			revert[k] = false
		}
	}

	changed := c.applyOverrides(revert)

	c.state.mu.Lock()
	c.state.activeUntilTS = nil
	c.state.activeOverrides = map[string]any{}
	c.state.mu.Unlock()

	emits := []obs.Observation{}
	if changed {
		emits = append(emits, c.emitTuningApplied(true, revert, "ttl_expired", nowTS))
		emits = append(emits, c.emitSystemModeChanged("ttl_expired", nowTS))
	} else {
		emits = append(emits, c.emitTuningApplied(false, nil, "ttl_expired", nowTS))
	}
	return emits
}

// applyOverrides translates a whitelisted key/value map into an
// OverridesPatch and applies it atomically via the ConfigProvider. Only
// force_low_model is translated into the patch; every other key is
// ignored, whitelisted or not.
func (c *Controller) applyOverrides(allowed map[string]any) bool {
	patch := gateconfig.OverridesPatch{}
	if v, ok := allowed["force_low_model"]; ok {
		if b, ok := v.(bool); ok {
			patch.ForceLowModel = &b
		}
	}
	return c.provider.UpdateOverrides(patch)
}

func (c *Controller) emitTuningApplied(accepted bool, applied map[string]any, reason string, ts float64) obs.Observation {
	if applied == nil {
		applied = map[string]any{}
	}
	return c.makeControl(map[string]any{
		"kind":              "tuning_applied",
		"scope":             "global",
		"applied_overrides": applied,
		"accepted":          accepted,
		"reason":            reason,
		"ts":                ts,
	})
}

func (c *Controller) emitSystemModeChanged(reason string, ts float64) obs.Observation {
	cfg := c.provider.Snapshot()
	return c.makeControl(map[string]any{
		"kind":  "system_mode_changed",
		"scope": "global",
		"mode": map[string]any{
			"emergency_mode":  cfg.Overrides.EmergencyMode,
			"force_low_model": cfg.Overrides.ForceLowModel,
		},
		"reason": reason,
		"ts":     ts,
	})
}

func (c *Controller) makeControl(payload map[string]any) obs.Observation {
	kind, _ := payload["kind"].(string)
	data := map[string]any{}
	for k, v := range payload {
		if k != "kind" {
			data[k] = v
		}
	}
	return obs.New("system_reflex", obs.SourceInternal,
		obs.Actor{ActorID: "system", ActorType: obs.ActorSystem}, obs.ControlPayload{Kind: kind, Data: data},
		obs.WithSessionKey(c.systemSessionKey))
}

func (c *Controller) makeAlert(alertType, message string, data map[string]any) obs.Observation {
	return obs.New("system_reflex", obs.SourceInternal,
		obs.Actor{ActorID: "system", ActorType: obs.ActorSystem},
		obs.AlertPayload{AlertType: alertType, Severity: obs.SeverityMedium, Message: message, Data: data},
		obs.WithSessionKey(c.systemSessionKey))
}

func controlKind(o obs.Observation) (string, bool) {
	if o.Type != obs.TypeControl {
		return "", false
	}
	cp, ok := o.Payload.(obs.ControlPayload)
	if !ok {
		return "", false
	}
	return cp.Kind, true
}

func payloadData(o obs.Observation) map[string]any {
	switch p := o.Payload.(type) {
	case obs.ControlPayload:
		return p.Data
	case obs.AlertPayload:
		return p.Data
	default:
		return map[string]any{}
	}
}

func extractTS(data map[string]any, now time.Time) float64 {
	if raw, ok := data["ts"]; ok {
		if f, ok := toFloat(raw); ok {
			return f
		}
	}
	return float64(now.UnixNano()) / 1e9
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
