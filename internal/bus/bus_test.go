package bus

import (
	"context"
	"testing"

	"github.com/gatewright/gatewright/internal/obs"
)

func msg(text string) obs.Observation {
	return obs.New("text_input", obs.SourceExternal,
		obs.Actor{ActorID: "u1", ActorType: obs.ActorUser},
		obs.MessagePayload{Text: text})
}

func TestPublishNowait_FIFO(t *testing.T) {
	b := New(8)
	defer b.Close()

	for _, text := range []string{"one", "two", "three"} {
		if res := b.PublishNowait(msg(text)); !res.OK {
			t.Fatalf("publish %q failed: %+v", text, res)
		}
	}

	for _, want := range []string{"one", "two", "three"} {
		o := <-b.Consume()
		if mp := o.Payload.(obs.MessagePayload); mp.Text != want {
			t.Fatalf("got %q, want %q", mp.Text, want)
		}
	}
}

func TestPublishNowait_DropNewestOnFull(t *testing.T) {
	b := New(2)
	defer b.Close()

	b.PublishNowait(msg("kept-1"))
	b.PublishNowait(msg("kept-2"))
	res := b.PublishNowait(msg("dropped"))

	if res.OK || !res.Dropped || res.Reason != "full" {
		t.Fatalf("expected drop-newest on full bus, got %+v", res)
	}
	if b.DroppedTotal() != 1 {
		t.Errorf("dropped_total = %d, want 1", b.DroppedTotal())
	}
	if b.PublishedTotal() != 2 {
		t.Errorf("published_total = %d, want 2", b.PublishedTotal())
	}

	// Oldest retained: first consume is still kept-1.
	o := <-b.Consume()
	if mp := o.Payload.(obs.MessagePayload); mp.Text != "kept-1" {
		t.Errorf("head = %q, want kept-1", mp.Text)
	}
}

func TestCounters_Accounting(t *testing.T) {
	b := New(4)
	defer b.Close()

	offered := 10
	for i := 0; i < offered; i++ {
		b.PublishNowait(msg("x"))
	}
	if got := b.PublishedTotal() + b.DroppedTotal(); got != uint64(offered) {
		t.Errorf("published+dropped = %d, want %d", got, offered)
	}
}

func TestClose_DrainsOutstanding(t *testing.T) {
	b := New(4)
	b.PublishNowait(msg("before close"))
	b.Close()

	o, ok := <-b.Consume()
	if !ok {
		t.Fatal("expected queued observation after close")
	}
	if mp := o.Payload.(obs.MessagePayload); mp.Text != "before close" {
		t.Errorf("got %q", mp.Text)
	}

	if _, ok := <-b.Consume(); ok {
		t.Error("expected closed channel after drain")
	}

	if res := b.PublishNowait(msg("after close")); res.OK {
		t.Error("publish after close must fail")
	}
}

func TestPublishWait_RespectsContext(t *testing.T) {
	b := New(1)
	defer b.Close()

	b.PublishNowait(msg("filler"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.PublishWait(ctx, msg("blocked")); err == nil {
		t.Fatal("expected context error on full bus")
	}
}

func TestHistory_ReturnsRecent(t *testing.T) {
	b := New(4)
	defer b.Close()

	b.PublishNowait(msg("a"))
	b.PublishNowait(msg("b"))

	h := b.History(10)
	if len(h) != 2 {
		t.Fatalf("history length = %d, want 2", len(h))
	}
	if mp := h[0].Payload.(obs.MessagePayload); mp.Text != "a" {
		t.Errorf("history[0] = %q, want a (oldest first)", mp.Text)
	}
}
