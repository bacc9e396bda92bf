// Package gateconfig implements the Gate configuration document: the
// versioned, YAML-loaded scene-policy/rules/overrides document, held behind
// an atomically swappable snapshot.
package gateconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gatewright/gatewright/internal/gatetypes"
)

// DropEscalation tunes the Gate's hard-bypass drop-burst monitor.
type DropEscalation struct {
	BurstWindowSec       float64 `yaml:"burst_window_sec"`
	BurstCountThreshold  int     `yaml:"burst_count_threshold"`
	ConsecutiveThreshold int     `yaml:"consecutive_threshold"`
	CooldownSuggestSec   float64 `yaml:"cooldown_suggest_sec"`
}

func defaultDropEscalation() DropEscalation {
	return DropEscalation{
		BurstWindowSec:       60.0,
		BurstCountThreshold:  5,
		ConsecutiveThreshold: 8,
		CooldownSuggestSec:   300.0,
	}
}

// Overrides is the runtime override snapshot the Reflex Controller and
// operators mutate.
type Overrides struct {
	EmergencyMode   bool     `yaml:"emergency_mode"`
	ForceLowModel   bool     `yaml:"force_low_model"`
	DropSessions    []string `yaml:"drop_sessions"`
	DeliverSessions []string `yaml:"deliver_sessions"`
	DropActors      []string `yaml:"drop_actors"`
	DeliverActors   []string `yaml:"deliver_actors"`
}

// DialogueRules drives DIALOGUE scene scoring.
type DialogueRules struct {
	Weights     map[string]float64 `yaml:"weights"`
	Keywords    map[string]float64 `yaml:"keywords"`
	LongTextLen int                `yaml:"long_text_len"`
}

func defaultDialogueRules() DialogueRules {
	return DialogueRules{
		Weights: map[string]float64{
			"base":          0.10,
			"mention":       0.40,
			"question_mark": 0.15,
			"long_text":     0.10,
		},
		Keywords: map[string]float64{
			"urgent": 0.30,
			"error":  0.25,
			"help":   0.15,
		},
		LongTextLen: 300,
	}
}

// GroupRules drives GROUP scene scoring.
type GroupRules struct {
	Weights         map[string]float64 `yaml:"weights"`
	SampleRate      float64            `yaml:"sample_rate"`
	WhitelistActors []string           `yaml:"whitelist_actors"`
}

func defaultGroupRules() GroupRules {
	return GroupRules{
		Weights: map[string]float64{
			"base":            0.05,
			"mention":         0.60,
			"whitelist_actor": 0.25,
		},
		SampleRate: 0.02,
	}
}

// SystemRules drives SYSTEM scene scoring.
type SystemRules struct {
	Weights map[string]float64 `yaml:"weights"`
}

func defaultSystemRules() SystemRules {
	return SystemRules{Weights: map[string]float64{"base": 0.0}}
}

// Rules groups the per-scene scoring rule sets.
type Rules struct {
	Dialogue DialogueRules `yaml:"dialogue"`
	Group    GroupRules    `yaml:"group"`
	System   SystemRules   `yaml:"system"`
}

func defaultRules() Rules {
	return Rules{
		Dialogue: defaultDialogueRules(),
		Group:    defaultGroupRules(),
		System:   defaultSystemRules(),
	}
}

// ScenePolicy holds the per-scene thresholds/defaults the policy-mapping
// stage consults.
type ScenePolicy struct {
	DeliverThreshold      float64             `yaml:"deliver_threshold"`
	SinkThreshold         float64             `yaml:"sink_threshold"`
	DefaultAction         gatetypes.Action    `yaml:"default_action"`
	DefaultModelTier      gatetypes.ModelTier `yaml:"default_model_tier"`
	DefaultResponsePolicy string              `yaml:"default_response_policy"`
	DedupWindowSec        float64             `yaml:"dedup_window_sec"`
	MaxReasons            int                 `yaml:"max_reasons"`
}

// baseScenePolicy is the fallback for any scene with neither an explicit
// override nor a hard-coded per-scene default below.
func baseScenePolicy() ScenePolicy {
	return ScenePolicy{
		DeliverThreshold:      0.7,
		SinkThreshold:         0.3,
		DefaultAction:         gatetypes.ActionSink,
		DefaultModelTier:      gatetypes.ModelLow,
		DefaultResponsePolicy: "respond_now",
		DedupWindowSec:        30.0,
		MaxReasons:            6,
	}
}

// BudgetThresholds separates dialogue/group scores into deep/normal/tiny
// budget bands.
type BudgetThresholds struct {
	HighScore   float64 `yaml:"high_score"`
	MediumScore float64 `yaml:"medium_score"`
}

func defaultBudgetThresholds() BudgetThresholds {
	return BudgetThresholds{HighScore: 0.7, MediumScore: 0.4}
}

// BudgetProfiles maps each BudgetLevel to its concrete BudgetSpec.
type BudgetProfiles map[gatetypes.BudgetLevel]gatetypes.BudgetSpec

func defaultBudgetProfiles() BudgetProfiles {
	return BudgetProfiles{
		gatetypes.BudgetTiny: {
			BudgetLevel: gatetypes.BudgetTiny, TimeMS: 4000, MaxTokens: 256,
			MaxParallel: 1, EvidenceAllowed: false, MaxToolCalls: 0,
			CanSearchKB: false, CanCallTools: false, AutoClarify: true,
		},
		gatetypes.BudgetNormal: {
			BudgetLevel: gatetypes.BudgetNormal, TimeMS: 15000, MaxTokens: 1200,
			MaxParallel: 2, EvidenceAllowed: true, MaxToolCalls: 3,
			CanSearchKB: true, CanCallTools: true, AutoClarify: false,
		},
		gatetypes.BudgetDeep: {
			BudgetLevel: gatetypes.BudgetDeep, TimeMS: 45000, MaxTokens: 4000,
			MaxParallel: 4, EvidenceAllowed: true, MaxToolCalls: 8,
			CanSearchKB: true, CanCallTools: true, AutoClarify: false,
		},
	}
}

// Config is the full, versioned Gate configuration document.
type Config struct {
	Version          int                             `yaml:"version"`
	DropEscalation   DropEscalation                  `yaml:"drop_escalation"`
	ScenePolicies    map[gatetypes.Scene]ScenePolicy `yaml:"scene_policies"`
	Rules            Rules                           `yaml:"rules"`
	Overrides        Overrides                       `yaml:"overrides"`
	BudgetThresholds BudgetThresholds                `yaml:"budget_thresholds"`
	BudgetProfiles   BudgetProfiles                  `yaml:"budget_profiles"`
}

// Budget resolves the concrete BudgetSpec for a level, falling back to the
// hard-coded default profile for any level a partial document omits.
func (c Config) Budget(level gatetypes.BudgetLevel) gatetypes.BudgetSpec {
	if b, ok := c.BudgetProfiles[level]; ok {
		return b
	}
	return defaultBudgetProfiles()[level]
}

// Default returns the built-in configuration (no scene_policies overrides,
// default rules/drop_escalation, zero overrides) — used when no file is
// supplied and as the fallback behind Load for any section a partial YAML
// document omits.
func Default() Config {
	return Config{
		Version:          1,
		DropEscalation:   defaultDropEscalation(),
		ScenePolicies:    map[gatetypes.Scene]ScenePolicy{},
		Rules:            defaultRules(),
		Overrides:        Overrides{},
		BudgetThresholds: defaultBudgetThresholds(),
		BudgetProfiles:   defaultBudgetProfiles(),
	}
}

// ScenePolicy resolves the effective policy for a scene: an explicit
// scene_policies entry if present, else one of the six hard-coded per-scene
// defaults (alert/system/tool_call/tool_result/group/dialogue), else the
// base policy for anything else (unknown).
func (c Config) ScenePolicy(scene gatetypes.Scene) ScenePolicy {
	if sp, ok := c.ScenePolicies[scene]; ok {
		return sp
	}

	sp := baseScenePolicy()
	switch scene {
	case gatetypes.SceneAlert:
		sp.DeliverThreshold = 0
		sp.SinkThreshold = 0
		sp.DefaultAction = gatetypes.ActionDeliver
		sp.DefaultModelTier = ""
		sp.DefaultResponsePolicy = ""
	case gatetypes.SceneSystem:
		sp.DefaultAction = gatetypes.ActionSink
		sp.DefaultModelTier = ""
	case gatetypes.SceneToolCall:
		sp.DefaultAction = gatetypes.ActionDeliver
		sp.DefaultModelTier = ""
	case gatetypes.SceneToolResult:
		sp.DefaultAction = gatetypes.ActionSink
		sp.DefaultModelTier = ""
	case gatetypes.SceneGroup:
		sp.DefaultAction = gatetypes.ActionSink
		sp.DefaultModelTier = gatetypes.ModelLow
	case gatetypes.SceneDialogue:
		sp.DefaultAction = gatetypes.ActionSink
		sp.DefaultModelTier = gatetypes.ModelLow
	}
	return sp
}

// Load reads and validates a Gate configuration document from path. An
// unsupported version fails the load outright (the caller keeps its
// previous snapshot); omitted sections fall back to Default() as Parse
// describes.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("gateconfig: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes a YAML document into a Config, applying defaults for
// omitted sections. A drop_escalation, budget_thresholds or rules entry
// that is present replaces its default whole, so fields it omits are
// zero (except rules.dialogue.long_text_len); scene_policies entries and
// budget_profiles levels are filled or merged individually. Exported separately from Load so the fsnotify-triggered
// reload path and tests can both reuse it.
func Parse(raw []byte) (Config, error) {
	type wireScenePolicy struct {
		DeliverThreshold      *float64            `yaml:"deliver_threshold"`
		SinkThreshold         *float64            `yaml:"sink_threshold"`
		DefaultAction         gatetypes.Action    `yaml:"default_action"`
		DefaultModelTier      gatetypes.ModelTier `yaml:"default_model_tier"`
		DefaultResponsePolicy string              `yaml:"default_response_policy"`
		DedupWindowSec        *float64            `yaml:"dedup_window_sec"`
		MaxReasons            *int                `yaml:"max_reasons"`
	}
	type wire struct {
		Version          int                                 `yaml:"version"`
		DropEscalation   DropEscalation                      `yaml:"drop_escalation"`
		ScenePolicies    map[gatetypes.Scene]wireScenePolicy `yaml:"scene_policies"`
		Rules            Rules                               `yaml:"rules"`
		Overrides        Overrides                           `yaml:"overrides"`
		BudgetThresholds BudgetThresholds                    `yaml:"budget_thresholds"`
		BudgetProfiles   BudgetProfiles                      `yaml:"budget_profiles"`
	}

	var w wire
	if err := yaml.Unmarshal(raw, &w); err != nil {
		return Config{}, fmt.Errorf("gateconfig: parse: %w", err)
	}

	cfg := Default()
	if w.Version != 0 {
		cfg.Version = w.Version
	}
	if cfg.Version != 1 {
		return Config{}, fmt.Errorf("gateconfig: unsupported config version %d", cfg.Version)
	}

	if w.DropEscalation != (DropEscalation{}) {
		cfg.DropEscalation = w.DropEscalation
	}
	if w.Rules.Dialogue.Weights != nil || w.Rules.Dialogue.Keywords != nil || w.Rules.Dialogue.LongTextLen != 0 {
		cfg.Rules.Dialogue = w.Rules.Dialogue
		if cfg.Rules.Dialogue.LongTextLen == 0 {
			cfg.Rules.Dialogue.LongTextLen = defaultDialogueRules().LongTextLen
		}
	}
	if w.Rules.Group.Weights != nil || w.Rules.Group.WhitelistActors != nil || w.Rules.Group.SampleRate != 0 {
		cfg.Rules.Group = w.Rules.Group
	}
	if w.Rules.System.Weights != nil {
		cfg.Rules.System = w.Rules.System
	}
	cfg.Overrides = w.Overrides

	if w.BudgetThresholds != (BudgetThresholds{}) {
		cfg.BudgetThresholds = w.BudgetThresholds
	}
	if w.BudgetProfiles != nil {
		for level, spec := range w.BudgetProfiles {
			cfg.BudgetProfiles[level] = spec
		}
	}

	for scene, wsp := range w.ScenePolicies {
		sp := ScenePolicy{
			DeliverThreshold:      0.7,
			SinkThreshold:         0.3,
			DefaultAction:         gatetypes.ActionSink,
			DefaultModelTier:      gatetypes.ModelLow,
			DefaultResponsePolicy: "respond_now",
			DedupWindowSec:        30.0,
			MaxReasons:            6,
		}
		if wsp.DeliverThreshold != nil {
			sp.DeliverThreshold = *wsp.DeliverThreshold
		}
		if wsp.SinkThreshold != nil {
			sp.SinkThreshold = *wsp.SinkThreshold
		}
		if wsp.DefaultAction != "" {
			sp.DefaultAction = wsp.DefaultAction
		}
		if wsp.DefaultModelTier != "" {
			sp.DefaultModelTier = wsp.DefaultModelTier
		}
		if wsp.DefaultResponsePolicy != "" {
			sp.DefaultResponsePolicy = wsp.DefaultResponsePolicy
		}
		if wsp.DedupWindowSec != nil {
			sp.DedupWindowSec = *wsp.DedupWindowSec
		}
		if wsp.MaxReasons != nil {
			sp.MaxReasons = *wsp.MaxReasons
		}
		cfg.ScenePolicies[scene] = sp
	}

	return cfg, nil
}
