package schedtick

import (
	"testing"
)

func TestStore_CreateListDelete(t *testing.T) {
	store := NewStore(t.TempDir())

	e1 := &Entry{Cron: "*/5 * * * *", Data: map[string]any{"kind": "digest"}}
	if err := store.Create(e1); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if e1.ID == "" {
		t.Fatal("expected id to be minted")
	}

	e2 := &Entry{ID: "sched_fixed", Cron: "0 9 * * *", SessionKey: "user:u1"}
	if err := store.Create(e2); err != nil {
		t.Fatalf("Create: %v", err)
	}

	entries, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	if err := store.Delete(e1.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	entries, err = store.List()
	if err != nil {
		t.Fatalf("List after delete: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "sched_fixed" {
		t.Fatalf("unexpected entries after delete: %+v", entries)
	}
}

func TestStore_DeleteMissing(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := store.Delete("sched_missing"); err == nil {
		t.Fatal("expected error deleting a missing entry")
	}
}

func TestStore_SurvivesReload(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	if err := store.Create(&Entry{Cron: "0 0 * * *"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	reloaded := NewStore(dir)
	entries, err := reloaded.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry after reload, got %d", len(entries))
	}
}
