package router

import (
	"context"
	"testing"
	"time"

	"github.com/gatewright/gatewright/internal/bus"
	"github.com/gatewright/gatewright/internal/obs"
)

func message(actorID, text string, opts ...obs.Option) obs.Observation {
	return obs.New("text_input", obs.SourceExternal,
		obs.Actor{ActorID: actorID, ActorType: obs.ActorUser},
		obs.MessagePayload{Text: text}, opts...)
}

func TestResolveSessionKey(t *testing.T) {
	b := bus.New(8)
	defer b.Close()
	r := New(b, DefaultConfig())

	tests := []struct {
		name string
		o    obs.Observation
		want string
	}{
		{"explicit key wins", message("u1", "x", obs.WithSessionKey("pinned")), "pinned"},
		{"message routes by user", message("u1", "x"), "user:u1"},
		{"message without actor falls back", message("", "x"), "default"},
		{"non-message routes to system", obs.New("timer", obs.SourceExternal,
			obs.Actor{ActorID: "system", ActorType: obs.ActorSystem},
			obs.SchedulePayload{ScheduleID: "s1"}), "system"},
	}
	for _, tt := range tests {
		if got := r.ResolveSessionKey(tt.o); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestResolveSessionKey_DefaultRouting(t *testing.T) {
	b := bus.New(8)
	defer b.Close()
	cfg := DefaultConfig()
	cfg.MessageRouting = RouteDefault
	r := New(b, cfg)

	if got := r.ResolveSessionKey(message("u1", "x")); got != "default" {
		t.Errorf("got %q, want default under message_routing=default", got)
	}
}

func TestDispatch_StampsSessionKeyAndCreatesInbox(t *testing.T) {
	b := bus.New(8)
	defer b.Close()
	r := New(b, DefaultConfig())

	var newSessions []string
	r.OnNewSession = func(sk string, _ *Inbox) { newSessions = append(newSessions, sk) }

	if !r.Dispatch(message("u1", "hello")) {
		t.Fatal("dispatch failed")
	}

	ib := r.GetInbox("user:u1")
	select {
	case o := <-ib.C():
		if o.SessionKey != "user:u1" {
			t.Errorf("session key not stamped: %q", o.SessionKey)
		}
	default:
		t.Fatal("inbox empty after dispatch")
	}

	if len(newSessions) != 1 || newSessions[0] != "user:u1" {
		t.Errorf("OnNewSession calls = %v, want [user:u1]", newSessions)
	}
}

func TestDispatch_DropNewestOnFullInbox(t *testing.T) {
	b := bus.New(8)
	defer b.Close()
	cfg := DefaultConfig()
	cfg.InboxMaxSize = 1
	r := New(b, cfg)

	r.Dispatch(message("u1", "kept"))
	if r.Dispatch(message("u1", "dropped")) {
		t.Fatal("expected drop on full inbox")
	}

	if r.DroppedTotal() != 1 {
		t.Errorf("dropped_total = %d, want 1", r.DroppedTotal())
	}
	ib := r.GetInbox("user:u1")
	if ib.Stats.Dropped() != 1 {
		t.Errorf("inbox dropped = %d, want 1", ib.Stats.Dropped())
	}

	o := <-ib.C()
	if mp := o.Payload.(obs.MessagePayload); mp.Text != "kept" {
		t.Errorf("oldest not retained: %q", mp.Text)
	}
}

func TestListActiveSessions_SortedSnapshot(t *testing.T) {
	b := bus.New(8)
	defer b.Close()
	r := New(b, DefaultConfig())

	r.Dispatch(message("zeta", "x"))
	r.Dispatch(message("alpha", "x"))

	got := r.ListActiveSessions()
	want := []string{"user:alpha", "user:zeta"}
	if len(got) != len(want) {
		t.Fatalf("sessions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sessions = %v, want %v", got, want)
		}
	}

	r.RemoveSession("user:zeta")
	if got := r.ListActiveSessions(); len(got) != 1 || got[0] != "user:alpha" {
		t.Errorf("after remove: %v", got)
	}
}

func TestRun_DrainsBusInOrder(t *testing.T) {
	b := bus.New(8)
	r := New(b, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	b.PublishNowait(message("u1", "first"))
	b.PublishNowait(message("u1", "second"))

	ib := r.GetInbox("user:u1")
	for _, want := range []string{"first", "second"} {
		select {
		case o := <-ib.C():
			if mp := o.Payload.(obs.MessagePayload); mp.Text != want {
				t.Fatalf("got %q, want %q", mp.Text, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
	b.Close()
}
