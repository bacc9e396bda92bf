package memoryclient

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/gatewright/gatewright/internal/gatetypes"
	"github.com/gatewright/gatewright/internal/obs"
	"github.com/gatewright/gatewright/internal/secrets"
)

func userMessage(text string) obs.Observation {
	return obs.New("text_input", obs.SourceExternal,
		obs.Actor{ActorID: "u1", ActorType: obs.ActorUser},
		obs.MessagePayload{Text: text},
		obs.WithSessionKey("user:u1"))
}

func TestFileStore_AppendEventAndLoad(t *testing.T) {
	fs := NewFileStore(t.TempDir(), nil)
	ctx := context.Background()

	o := userMessage("hello")
	decision := &gatetypes.GateDecision{Action: gatetypes.ActionDeliver, Scene: gatetypes.SceneDialogue, Score: 0.4}

	eventID, err := fs.AppendEvent(ctx, o, "user:u1", decision)
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if eventID == "" {
		t.Fatal("empty event id")
	}

	events, err := fs.LoadEvents("user:u1")
	if err != nil {
		t.Fatalf("LoadEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].EventID != eventID {
		t.Errorf("event id = %q, want %q", events[0].EventID, eventID)
	}
	if events[0].Text != "hello" {
		t.Errorf("text = %q, want hello", events[0].Text)
	}
	if events[0].Gate["action"] != "DELIVER" {
		t.Errorf("gate action = %v, want DELIVER", events[0].Gate["action"])
	}
}

func TestFileStore_TurnLifecycle(t *testing.T) {
	fs := NewFileStore(t.TempDir(), nil)
	ctx := context.Background()

	eventID, err := fs.AppendEvent(ctx, userMessage("hi"), "user:u1", nil)
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	turnID, err := fs.AppendTurn(ctx, "user:u1", eventID)
	if err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	if err := fs.FinishTurn(ctx, turnID, "obs-99", "ok", ""); err != nil {
		t.Fatalf("FinishTurn: %v", err)
	}

	turns, err := fs.LoadTurns("user:u1")
	if err != nil {
		t.Fatalf("LoadTurns: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(turns))
	}
	turn := turns[0]
	if turn.TurnID != turnID {
		t.Errorf("turn id = %q, want %q", turn.TurnID, turnID)
	}
	if turn.InputEventID != eventID {
		t.Errorf("input event = %q, want %q", turn.InputEventID, eventID)
	}
	if turn.Status != "ok" {
		t.Errorf("status = %q, want ok", turn.Status)
	}
	if turn.FinalOutputObsID != "obs-99" {
		t.Errorf("final output = %q, want obs-99", turn.FinalOutputObsID)
	}
	if turn.StartedAt.IsZero() || turn.FinishedAt.IsZero() {
		t.Error("expected both started_at and finished_at to be set")
	}
}

func TestFileStore_FinishUnknownTurn(t *testing.T) {
	fs := NewFileStore(t.TempDir(), nil)
	if err := fs.FinishTurn(context.Background(), "turn_missing", "", "ok", ""); err == nil {
		t.Error("expected error finishing an unknown turn")
	}
}

func TestFileStore_EvidenceEncryption(t *testing.T) {
	dir := t.TempDir()
	enc, err := secrets.NewEncryptor(filepath.Join(dir, ".age-key"))
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}
	fs := NewFileStore(filepath.Join(dir, "memory"), enc)

	o := obs.New("text_input", obs.SourceExternal,
		obs.Actor{ActorID: "u1", ActorType: obs.ActorUser},
		obs.MessagePayload{Text: "with evidence"},
		obs.WithSessionKey("user:u1"),
		obs.WithEvidence(obs.Evidence{RawEventID: "raw-1", RawEventURI: "file:///inbox/raw-1.json"}))

	if _, err := fs.AppendEvent(context.Background(), o, "user:u1", nil); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	events, err := fs.LoadEvents("user:u1")
	if err != nil {
		t.Fatalf("LoadEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	stored := events[0].EvidenceURI
	if !secrets.IsEncrypted(stored) {
		t.Fatalf("evidence uri stored in the clear: %q", stored)
	}
	opened, err := enc.Open(stored)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if opened != "file:///inbox/raw-1.json" {
		t.Errorf("decrypted uri = %q", opened)
	}
}

func TestFailOpen_SwallowsErrors(t *testing.T) {
	fo := NewFailOpen(nil)
	ctx := context.Background()

	if id, err := fo.AppendEvent(ctx, userMessage("x"), "user:u1", nil); err != nil || id != "" {
		t.Errorf("nil-service AppendEvent = (%q, %v), want empty/nil", id, err)
	}
	if err := fo.FinishTurn(ctx, "", "", "ok", ""); err != nil {
		t.Errorf("nil-service FinishTurn = %v", err)
	}

	// A real store with an unknown turn errors internally; FailOpen counts
	// and swallows it.
	fs := NewFileStore(t.TempDir(), nil)
	fo = NewFailOpen(fs)
	if err := fo.FinishTurn(ctx, "turn_missing", "", "ok", ""); err != nil {
		t.Errorf("FinishTurn through FailOpen = %v, want nil", err)
	}
	if fo.ErrorTotal() != 1 {
		t.Errorf("error total = %d, want 1", fo.ErrorTotal())
	}
}
