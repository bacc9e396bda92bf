package gateconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gatewright/gatewright/internal/gatetypes"
)

func TestParse_FullDocument(t *testing.T) {
	doc := `
version: 1
drop_escalation:
  burst_window_sec: 30
  burst_count_threshold: 3
  consecutive_threshold: 4
  cooldown_suggest_sec: 60
overrides:
  emergency_mode: true
  drop_actors: [spammer]
rules:
  dialogue:
    weights: {base: 0.2, mention: 0.5, question_mark: 0.1, long_text: 0.1}
    keywords: {urgent: 0.4}
    long_text_len: 100
scene_policies:
  dialogue:
    deliver_threshold: 0.5
    sink_threshold: 0.2
    default_action: SINK
    dedup_window_sec: 10
budget_thresholds: {high_score: 0.8, medium_score: 0.5}
budget_profiles:
  tiny: {budget_level: tiny, time_ms: 500, max_tokens: 64}
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.DropEscalation.BurstCountThreshold != 3 {
		t.Errorf("burst_count_threshold = %d", cfg.DropEscalation.BurstCountThreshold)
	}
	if !cfg.Overrides.EmergencyMode {
		t.Error("emergency_mode not set")
	}
	if len(cfg.Overrides.DropActors) != 1 || cfg.Overrides.DropActors[0] != "spammer" {
		t.Errorf("drop_actors = %v", cfg.Overrides.DropActors)
	}
	if cfg.Rules.Dialogue.Weights["base"] != 0.2 {
		t.Errorf("dialogue base weight = %v", cfg.Rules.Dialogue.Weights["base"])
	}

	// Omitted fields inside an explicit scene policy fall back to defaults.
	wantPolicy := ScenePolicy{
		DeliverThreshold:      0.5,
		SinkThreshold:         0.2,
		DefaultAction:         gatetypes.ActionSink,
		DefaultModelTier:      gatetypes.ModelLow,
		DefaultResponsePolicy: "respond_now",
		DedupWindowSec:        10,
		MaxReasons:            6,
	}
	if diff := cmp.Diff(wantPolicy, cfg.ScenePolicy(gatetypes.SceneDialogue)); diff != "" {
		t.Errorf("dialogue policy mismatch (-want +got):\n%s", diff)
	}

	if cfg.BudgetThresholds.HighScore != 0.8 {
		t.Errorf("high_score = %v", cfg.BudgetThresholds.HighScore)
	}
}

func TestParse_UnknownVersionFails(t *testing.T) {
	if _, err := Parse([]byte("version: 2\n")); err == nil {
		t.Fatal("expected unsupported-version error")
	}
}

func TestParse_EmptyDocumentUsesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("version: 1\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	alert := cfg.ScenePolicy(gatetypes.SceneAlert)
	if alert.DefaultAction != gatetypes.ActionDeliver {
		t.Errorf("alert default action = %s, want DELIVER", alert.DefaultAction)
	}
	if alert.DeliverThreshold != 0 {
		t.Errorf("alert deliver_threshold = %v, want 0", alert.DeliverThreshold)
	}

	toolResult := cfg.ScenePolicy(gatetypes.SceneToolResult)
	if toolResult.DefaultAction != gatetypes.ActionSink {
		t.Errorf("tool_result default action = %s", toolResult.DefaultAction)
	}

	tiny := cfg.Budget(gatetypes.BudgetTiny)
	if tiny.BudgetLevel != gatetypes.BudgetTiny || tiny.MaxToolCalls != 0 {
		t.Errorf("tiny budget = %+v", tiny)
	}
	deep := cfg.Budget(gatetypes.BudgetDeep)
	if !deep.CanCallTools {
		t.Error("deep budget should allow tools")
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gate.yaml")
	if err := os.WriteFile(path, []byte("version: 1\noverrides:\n  force_low_model: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Overrides.ForceLowModel {
		t.Error("force_low_model not loaded")
	}
}

func TestReloader_KeepsSnapshotOnBadReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gate.yaml")
	if err := os.WriteFile(path, []byte("version: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	initial, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	r := NewReloader(path, initial)

	// Corrupt the file; reload must fail and keep the old snapshot.
	if err := os.WriteFile(path, []byte("version: 99\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := r.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if got := r.Snapshot(); got.Version != 1 {
		t.Errorf("snapshot version = %d, want retained 1", got.Version)
	}
}

func TestReloader_UpdateOverrides(t *testing.T) {
	r := NewReloader("", Default())

	var notified int
	r.OnReload(func(Config) { notified++ })

	on := true
	if !r.UpdateOverrides(OverridesPatch{ForceLowModel: &on}) {
		t.Fatal("expected change to be reported")
	}
	if !r.Snapshot().Overrides.ForceLowModel {
		t.Error("force_low_model not applied")
	}
	if notified != 1 {
		t.Errorf("listeners notified %d times, want 1", notified)
	}

	// Applying the same value again is a no-op.
	if r.UpdateOverrides(OverridesPatch{ForceLowModel: &on}) {
		t.Error("no-op patch reported as change")
	}
}
