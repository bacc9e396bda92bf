// Package gate implements the Gate pipeline: the staged admission
// classifier that turns one Observation into a GateDecision plus emits and
// pool ingests. Every stage catches its own failures, annotates reasons,
// and never aborts the pipeline.
package gate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gatewright/gatewright/internal/gateconfig"
	"github.com/gatewright/gatewright/internal/gatetypes"
	"github.com/gatewright/gatewright/internal/obs"
)

// ConfigSource is the narrow slice of *gateconfig.Reloader the Gate needs:
// one atomic snapshot read per Observation, so a concurrent config swap can
// never produce a torn read mid-pipeline.
type ConfigSource interface {
	Snapshot() gateconfig.Config
}

// Gate runs the fixed pipeline over one Observation at a time. It is
// single-threaded with respect to one Observation but the dedup map and the
// drop-burst monitor are shared, private, per-instance state across calls,
// so Handle itself must be safe for concurrent callers even though a given
// deployment normally drives it from one Worker goroutine per session.
type Gate struct {
	cfg ConfigSource

	systemSessionKey string
	metrics          gatetypes.Metrics

	DropPool *Pool
	SinkPool *Pool
	ToolPool *Pool

	monitorMu sync.Mutex
	monitor   *dropMonitor
	monitorDE gateconfig.DropEscalation

	dedupMu  sync.Mutex
	dedup    map[string]float64
	dedupCap int
	dedupLRU []string
}

// New constructs a Gate over a config source and a metrics sink. Passing a
// nil metrics is valid; finalize simply skips counter updates.
func New(cfg ConfigSource, systemSessionKey string, metrics gatetypes.Metrics) *Gate {
	return NewWithPools(cfg, systemSessionKey, metrics, NewPool(200), NewPool(200), NewPool(200))
}

// NewWithPools constructs a Gate sharing externally owned audit pools. The
// core gives each session worker its own Gate instance (keeping the dedup
// map and drop monitor per-pipeline) while all instances file into the same
// three process-wide pools.
func NewWithPools(cfg ConfigSource, systemSessionKey string, metrics gatetypes.Metrics, drop, sink, tool *Pool) *Gate {
	if systemSessionKey == "" {
		systemSessionKey = "system"
	}
	return &Gate{
		cfg:              cfg,
		systemSessionKey: systemSessionKey,
		metrics:          metrics,
		DropPool:         drop,
		SinkPool:         sink,
		ToolPool:         tool,
		dedup:            make(map[string]float64),
		dedupCap:         4096,
	}
}

// Handle runs one Observation through the full pipeline and always returns
// a valid GateOutcome — finalize never throws, and the pipeline runner
// itself recovers from any stage panic so a single misbehaving stage can
// never take down the Worker that called it.
func (g *Gate) Handle(o obs.Observation, now time.Time, systemHealth gatetypes.SystemHealth) (outcome gatetypes.GateOutcome) {
	cfg := g.cfg.Snapshot()
	ctx := gatetypes.Context{
		Now:              now,
		SystemSessionKey: g.systemSessionKey,
		Metrics:          g.metrics,
		SystemHealth:     systemHealth,
	}
	w := gatetypes.NewWip()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("gate: pipeline panic recovered", "panic", r, "obs_id", o.ID)
			w.AddReason(fmt.Sprintf("pipeline_panic:%v", r))
			outcome = g.finalize(o, cfg, ctx, w)
		}
	}()

	g.sceneInference(o, w)
	g.hardBypass(o, cfg, ctx, w)
	// Feature/scoring/dedup always run, even once hard bypass has already
	// set a DROP action_hint: the pipeline is a fixed sequence run
	// unconditionally, and dedup in particular must still refresh its
	// last-seen timestamp so a burst of identical empty messages doesn't
	// camp the window open.
	g.featureExtraction(o, w)
	g.scoring(o, cfg, w)
	g.deduplication(o, cfg, ctx, w)
	g.policyMapping(o, cfg, w)
	outcome = g.finalize(o, cfg, ctx, w)
	return outcome
}

// Ingest routes a DROP/SINK Observation into the appropriate audit pool:
// DROP -> drop pool, SINK with scene=tool_result -> tool pool, every other
// SINK -> sink pool. DELIVER never files into a pool.
func (g *Gate) Ingest(o obs.Observation, decision gatetypes.GateDecision) {
	switch decision.Action {
	case gatetypes.ActionDrop:
		g.DropPool.Ingest(o)
	case gatetypes.ActionSink:
		if decision.Scene == gatetypes.SceneToolResult {
			g.ToolPool.Ingest(o)
		} else {
			g.SinkPool.Ingest(o)
		}
	}
}

// --- Scene inference ---

func (g *Gate) sceneInference(o obs.Observation, w *gatetypes.Wip) {
	switch o.Type {
	case obs.TypeAlert:
		w.Scene = gatetypes.SceneAlert
	case obs.TypeSchedule, obs.TypeSystem, obs.TypeControl:
		w.Scene = gatetypes.SceneSystem
	case obs.TypeMessage:
		if mp, ok := o.Payload.(obs.MessagePayload); ok && strings.Contains(mp.Text, "@") {
			w.Scene = gatetypes.SceneGroup
		} else {
			w.Scene = gatetypes.SceneDialogue
		}
	case obs.TypeWorldData:
		w.Scene = gatetypes.SceneToolResult
	default:
		w.Scene = gatetypes.SceneUnknown
	}
}

// --- Hard bypass: overload guard + drop-burst monitor ---

func (g *Gate) ensureMonitor(de gateconfig.DropEscalation) *dropMonitor {
	g.monitorMu.Lock()
	defer g.monitorMu.Unlock()
	if g.monitor == nil || g.monitorDE != de {
		g.monitor = newDropMonitor(de.BurstWindowSec, de.BurstCountThreshold, de.ConsecutiveThreshold)
		g.monitorDE = de
	}
	return g.monitor
}

func (g *Gate) hardBypass(o obs.Observation, cfg gateconfig.Config, ctx gatetypes.Context, w *gatetypes.Wip) {
	defer func() {
		if r := recover(); r != nil {
			w.AddReason(fmt.Sprintf("hard_bypass_error:%v", r))
		}
	}()

	de := cfg.DropEscalation
	monitor := g.ensureMonitor(de)

	if ctx.SystemHealth.Overload {
		w.ActionHint = gatetypes.ActionDrop
		w.AddReason("system_overload")
		w.Emit = append(w.Emit, makePainAlert("gate_overload", obs.SeverityHigh,
			"gate overload detected", map[string]any{"cooldown_seconds": de.CooldownSuggestSec}))
		return
	}

	if o.Type == obs.TypeAlert {
		monitor.resetConsecutive()
		return
	}

	if o.Type == obs.TypeMessage {
		if mp, ok := o.Payload.(obs.MessagePayload); ok {
			if strings.TrimSpace(mp.Text) == "" && len(mp.Attachments) == 0 {
				w.ActionHint = gatetypes.ActionDrop
				w.AddReason("empty_content")
			}
		}
	}

	if w.ActionHint == gatetypes.ActionDrop {
		should := monitor.recordDrop(float64(ctx.Now.UnixNano()) / 1e9)
		if should {
			w.Tags["drop_burst"] = "true"
			w.Emit = append(w.Emit, makePainAlert("drop_burst", obs.SeverityMedium, "drop burst detected", map[string]any{
				"burst_window_sec":      de.BurstWindowSec,
				"burst_count_threshold": de.BurstCountThreshold,
				"consecutive_threshold": de.ConsecutiveThreshold,
				"cooldown_seconds":      de.CooldownSuggestSec,
			}))
		}
	} else {
		monitor.resetConsecutive()
	}
}

// --- Feature extraction ---

func (g *Gate) featureExtraction(o obs.Observation, w *gatetypes.Wip) {
	defer func() {
		if r := recover(); r != nil {
			w.AddReason(fmt.Sprintf("feature_error:%v", r))
		}
	}()

	w.Features["obs_type"] = string(o.Type)
	w.Features["source_name"] = o.SourceName
	w.Features["actor_id"] = o.Actor.ActorID

	switch p := o.Payload.(type) {
	case obs.MessagePayload:
		text := strings.TrimSpace(p.Text)
		w.Features["text_len"] = len(text)
		w.Features["has_mention"] = strings.Contains(text, "@")
		w.Features["has_bot_mention"] = strings.Contains(text, "@bot")
		w.Features["has_question"] = strings.Contains(text, "?")
	case obs.AlertPayload:
		w.Features["alert_severity"] = string(p.Severity)
	}
}

// --- Scoring ---

func (g *Gate) scoring(o obs.Observation, cfg gateconfig.Config, w *gatetypes.Wip) {
	defer func() {
		if r := recover(); r != nil {
			w.AddReason(fmt.Sprintf("score_error:%v", r))
		}
	}()

	score := 0.0
	rules := cfg.Rules

	switch w.Scene {
	case gatetypes.SceneDialogue:
		wt := rules.Dialogue.Weights
		score += wt["base"]
		if b, _ := w.Features["has_mention"].(bool); b {
			score += wt["mention"]
		}
		if b, _ := w.Features["has_question"].(bool); b {
			score += wt["question_mark"]
		}
		textLen, _ := w.Features["text_len"].(int)
		if textLen >= rules.Dialogue.LongTextLen {
			score += wt["long_text"]
		}
		if mp, ok := o.Payload.(obs.MessagePayload); ok {
			lower := strings.ToLower(mp.Text)
			for kw, weight := range rules.Dialogue.Keywords {
				if strings.Contains(lower, kw) {
					score += weight
				}
			}
		}
	case gatetypes.SceneGroup:
		wt := rules.Group.Weights
		score += wt["base"]
		if b, _ := w.Features["has_bot_mention"].(bool); b {
			score += wt["mention"]
		}
		actorID, _ := w.Features["actor_id"].(string)
		if actorID != "" && containsString(rules.Group.WhitelistActors, actorID) {
			score += wt["whitelist_actor"]
		}
	case gatetypes.SceneAlert:
		score += 0.6
	case gatetypes.SceneSystem:
		score += rules.System.Weights["base"]
	case gatetypes.SceneToolCall:
		score += 0.7
	case gatetypes.SceneToolResult:
		score += 0.5
	}

	if textLen, ok := w.Features["text_len"].(int); ok && textLen > 0 {
		nudge := float64(textLen) / 200.0
		if nudge > 0.2 {
			nudge = 0.2
		}
		score += nudge
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	w.Score = score
}

func containsString(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}

// --- Deduplication ---

func (g *Gate) fingerprint(o obs.Observation, scene gatetypes.Scene) string {
	parts := []string{string(scene), o.Actor.ActorID}
	if mp, ok := o.Payload.(obs.MessagePayload); ok {
		parts = append(parts, strings.ToLower(strings.TrimSpace(mp.Text)))
	} else {
		parts = append(parts, string(o.Type))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func (g *Gate) deduplication(o obs.Observation, cfg gateconfig.Config, ctx gatetypes.Context, w *gatetypes.Wip) {
	defer func() {
		if r := recover(); r != nil {
			w.AddReason(fmt.Sprintf("dedup_error:%v", r))
		}
	}()

	scene := w.Scene
	if scene == gatetypes.SceneAlert {
		return
	}
	policy := cfg.ScenePolicy(scene)
	fp := g.fingerprint(o, scene)
	w.Fingerprint = fp

	nowTS := float64(ctx.Now.UnixNano()) / 1e9

	g.dedupMu.Lock()
	defer g.dedupMu.Unlock()
	if last, ok := g.dedup[fp]; ok && (nowTS-last) <= policy.DedupWindowSec {
		w.Tags["dedup"] = "hit"
		w.ActionHint = gatetypes.ActionDrop
		w.AddReason("dedup_hit")
	}
	g.setDedupLocked(fp, nowTS)
}

// setDedupLocked records the fingerprint's last-seen timestamp and evicts
// the oldest entry once the map grows past dedupCap, bounding dedup storage
// growth. Called with dedupMu held.
func (g *Gate) setDedupLocked(fp string, nowTS float64) {
	if _, exists := g.dedup[fp]; !exists {
		g.dedupLRU = append(g.dedupLRU, fp)
		if len(g.dedupLRU) > g.dedupCap {
			evict := g.dedupLRU[0]
			g.dedupLRU = g.dedupLRU[1:]
			delete(g.dedup, evict)
		}
	}
	g.dedup[fp] = nowTS
}

// --- Policy mapping ---

func (g *Gate) policyMapping(o obs.Observation, cfg gateconfig.Config, w *gatetypes.Wip) {
	defer func() {
		if r := recover(); r != nil {
			w.AddReason(fmt.Sprintf("policy_error:%v", r))
		}
	}()

	scene := w.Scene
	policy := cfg.ScenePolicy(scene)
	ov := cfg.Overrides

	// 1. User-dialogue safety valve: takes priority over every override
	// except a DROP already decided in hard bypass.
	if scene == gatetypes.SceneDialogue && o.Type == obs.TypeMessage &&
		o.Actor.ActorType == obs.ActorUser && w.ActionHint != gatetypes.ActionDrop {
		w.ActionHint = gatetypes.ActionDeliver
		w.AddReason("user_dialogue_safe_valve")
		w.ModelTier = policy.DefaultModelTier
		w.ResponsePolicy = policy.DefaultResponsePolicy
		w.Hint = &gatetypes.GateHint{
			ModelTier:      orLow(policy.DefaultModelTier),
			ResponsePolicy: orDefault(policy.DefaultResponsePolicy, "respond_now"),
			Budget:         g.selectBudget(cfg, w.Score, scene),
			ReasonTags:     []string{"user_dialogue_safe_valve"},
		}
		return
	}

	// 2. emergency_mode overrides everything else.
	if ov.EmergencyMode {
		w.ActionHint = gatetypes.ActionSink
		w.ModelTier = gatetypes.ModelLow
		w.ResponsePolicy = policy.DefaultResponsePolicy
		w.AddReason("override=emergency")
		w.Hint = &gatetypes.GateHint{
			ModelTier:      gatetypes.ModelLow,
			ResponsePolicy: "ack",
			Budget: gatetypes.BudgetSpec{
				BudgetLevel: gatetypes.BudgetTiny, TimeMS: 300, MaxTokens: 128,
				EvidenceAllowed: false, MaxToolCalls: 0,
			},
			ReasonTags: []string{"emergency_mode"},
		}
		return
	}

	// 3. drop_sessions / drop_actors — suppressed for the agent's own
	// observations so overrides can't be used to create a delivery loop.
	isAgent := o.IsFromAgent()
	if !isAgent && containsString(ov.DropSessions, o.SessionKey) {
		w.ActionHint = gatetypes.ActionDrop
		w.AddReason("override=drop_session")
		return
	}
	if !isAgent && containsString(ov.DropActors, o.Actor.ActorID) {
		w.ActionHint = gatetypes.ActionDrop
		w.AddReason("override=drop_actor")
		return
	}

	deliverOverride := false
	if !isAgent && containsString(ov.DeliverSessions, o.SessionKey) {
		w.ActionHint = gatetypes.ActionDeliver
		w.ModelTier = policy.DefaultModelTier
		w.ResponsePolicy = policy.DefaultResponsePolicy
		w.AddReason("override=deliver_session")
		deliverOverride = true
	}
	if !isAgent && !deliverOverride && containsString(ov.DeliverActors, o.Actor.ActorID) {
		w.ActionHint = gatetypes.ActionDeliver
		w.ModelTier = policy.DefaultModelTier
		w.ResponsePolicy = policy.DefaultResponsePolicy
		w.AddReason("override=deliver_actor")
		deliverOverride = true
	}

	if !deliverOverride {
		if w.ActionHint != "" {
			w.AddReason("action_hint")
		} else {
			switch {
			case w.Score >= policy.DeliverThreshold:
				w.ActionHint = gatetypes.ActionDeliver
			case w.Score >= policy.SinkThreshold:
				w.ActionHint = gatetypes.ActionSink
			default:
				w.ActionHint = policy.DefaultAction
			}
			w.ModelTier = policy.DefaultModelTier
			w.ResponsePolicy = policy.DefaultResponsePolicy
		}
	}

	// 6. force_low_model only demotes an actual DELIVER.
	if ov.ForceLowModel && w.ActionHint == gatetypes.ActionDeliver {
		w.ModelTier = gatetypes.ModelLow
		w.AddReason("override=force_low_model")
	}

	if w.Hint == nil {
		w.Hint = &gatetypes.GateHint{
			ModelTier:      orLow(w.ModelTier),
			ResponsePolicy: orDefault(w.ResponsePolicy, "respond_now"),
			Budget:         g.selectBudget(cfg, w.Score, scene),
			ReasonTags:     append([]string{}, w.Reasons...),
		}
	}
}

func orLow(t gatetypes.ModelTier) gatetypes.ModelTier {
	if t == "" {
		return gatetypes.ModelLow
	}
	return t
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// selectBudget derives a BudgetSpec from (scene, score). The concrete
// BudgetSpec values come from the operator-configurable budget_profiles
// rather than being hard-coded, so an override still resolves to the
// default profile values when budget_profiles are absent.
func (g *Gate) selectBudget(cfg gateconfig.Config, score float64, scene gatetypes.Scene) gatetypes.BudgetSpec {
	switch scene {
	case gatetypes.SceneAlert:
		return cfg.Budget(gatetypes.BudgetDeep)
	case gatetypes.SceneToolCall:
		return cfg.Budget(gatetypes.BudgetNormal)
	case gatetypes.SceneToolResult:
		b := cfg.Budget(gatetypes.BudgetTiny)
		b.CanSearchKB = false
		b.CanCallTools = false
		b.EvidenceAllowed = false
		b.MaxToolCalls = 0
		return b
	case gatetypes.SceneGroup, gatetypes.SceneDialogue:
		switch {
		case score >= cfg.BudgetThresholds.HighScore:
			return cfg.Budget(gatetypes.BudgetDeep)
		case score >= cfg.BudgetThresholds.MediumScore:
			return cfg.Budget(gatetypes.BudgetNormal)
		default:
			b := cfg.Budget(gatetypes.BudgetTiny)
			b.AutoClarify = true
			return b
		}
	default:
		return cfg.Budget(gatetypes.BudgetTiny)
	}
}

// --- Finalize ---

func (g *Gate) finalize(o obs.Observation, cfg gateconfig.Config, ctx gatetypes.Context, w *gatetypes.Wip) gatetypes.GateOutcome {
	defer func() {
		if r := recover(); r != nil {
			w.AddReason(fmt.Sprintf("finalize_error:%v", r))
		}
	}()

	scene := w.Scene
	if scene == "" {
		scene = gatetypes.SceneUnknown
	}
	action := w.ActionHint
	if action == "" {
		action = gatetypes.ActionSink
	}
	hint := gatetypes.GateHint{}
	if w.Hint != nil {
		hint = *w.Hint
	}

	policy := cfg.ScenePolicy(scene)
	maxReasons := policy.MaxReasons
	reasons := w.Reasons
	if maxReasons > 0 && len(reasons) > maxReasons {
		reasons = reasons[:maxReasons]
	}

	var targetWorker string
	if scene == gatetypes.SceneSystem {
		targetWorker = ctx.SystemSessionKey
	}

	decision := gatetypes.GateDecision{
		Action:         action,
		Scene:          scene,
		SessionKey:     o.SessionKey,
		TargetWorker:   targetWorker,
		ModelTier:      hint.ModelTier,
		ResponsePolicy: hint.ResponsePolicy,
		ToolPolicy:     w.ToolPolicy,
		Score:          w.Score,
		Reasons:        reasons,
		Tags:           w.Tags,
		Fingerprint:    w.Fingerprint,
		Hint:           hint,
	}

	ingest := w.Ingest
	if len(ingest) == 0 {
		switch action {
		case gatetypes.ActionDrop, gatetypes.ActionSink:
			ingest = []obs.Observation{o}
		}
	}

	if g.metrics != nil {
		g.metrics.IncProcessed()
		g.metrics.IncScene(scene)
		g.metrics.IncAction(action)
		switch action {
		case gatetypes.ActionDrop:
			g.metrics.IncDropped()
		case gatetypes.ActionSink:
			g.metrics.IncSunk()
		case gatetypes.ActionDeliver:
			g.metrics.IncDelivered()
		}
	}

	return gatetypes.GateOutcome{Decision: decision, Emit: w.Emit, Ingest: ingest}
}
