package schedtick

import (
	"testing"
	"time"
)

func TestCompileSpec_Valid(t *testing.T) {
	if _, err := compileSpec("*/5 * * * *"); err != nil {
		t.Fatalf("compileSpec: %v", err)
	}
}

func TestCompileSpec_Invalid(t *testing.T) {
	if _, err := compileSpec("not a schedule"); err == nil {
		t.Fatal("expected error for an invalid schedule spec")
	}
	// Six fields (seconds precision) are out: SCHEDULE ticks are
	// minute-grained.
	if _, err := compileSpec("0 0 12 * * *"); err == nil {
		t.Fatal("expected error for a seconds-precision spec")
	}
}

func TestEntry_FireMinute(t *testing.T) {
	e := &Entry{ID: "sched_noon", Cron: "30 14 * * *"}
	if err := e.compile(); err != nil {
		t.Fatalf("compile: %v", err)
	}

	within := time.Date(2025, 6, 15, 14, 30, 45, 0, time.UTC)
	if !e.fireMinute(within) {
		t.Fatal("expected an activation inside the 14:30 minute")
	}

	outside := time.Date(2025, 6, 15, 14, 31, 0, 0, time.UTC)
	if e.fireMinute(outside) {
		t.Fatal("expected no activation at 14:31")
	}
}

func TestEntry_DueHonorsCooldown(t *testing.T) {
	e := &Entry{ID: "sched_test", Cron: "* * * * *"}
	if err := e.compile(); err != nil {
		t.Fatalf("compile: %v", err)
	}

	now := time.Date(2025, 3, 1, 9, 0, 10, 0, time.UTC)
	if !e.due(now) {
		t.Fatal("expected entry due on first check")
	}
	e.lastFired = now

	// Same minute, still inside the cooldown.
	if e.due(now.Add(20 * time.Second)) {
		t.Fatal("expected cooldown to suppress a second firing")
	}

	// Next minute, past the cooldown.
	if !e.due(now.Add(70 * time.Second)) {
		t.Fatal("expected entry due again after cooldown")
	}
}

func TestEntry_UncompiledNeverDue(t *testing.T) {
	e := &Entry{ID: "sched_raw", Cron: "* * * * *"}
	if e.due(time.Now()) {
		t.Fatal("an entry must not fire before its spec is compiled")
	}
}
