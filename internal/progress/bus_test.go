package progress

import (
	"fmt"
	"testing"
	"time"
)

func recv(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Ch():
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return Event{}
}

func TestBus_EmitSubscribeOrder(t *testing.T) {
	b := New()
	for i := 1; i <= 3; i++ {
		b.Emit("r1", Event{ProcessedChannels: i, TotalChannels: 3, CurrentChannel: fmt.Sprintf("ch%d", i)})
	}

	sub, err := b.Subscribe("r1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer b.Unsubscribe(sub)

	for i := 1; i <= 3; i++ {
		ev := recv(t, sub)
		if ev.ProcessedChannels != i {
			t.Fatalf("event %d: processed = %d", i, ev.ProcessedChannels)
		}
	}
}

func TestBus_SubscribeUnknown(t *testing.T) {
	b := New()
	if _, err := b.Subscribe("nope"); err != ErrUnknownRequest {
		t.Fatalf("err = %v, want ErrUnknownRequest", err)
	}
}

func TestBus_TouchMakesSubscribable(t *testing.T) {
	b := New()
	b.Touch("r1")
	if _, err := b.Subscribe("r1"); err != nil {
		t.Fatalf("Subscribe after Touch: %v", err)
	}
}

func TestBus_LiveDelivery(t *testing.T) {
	b := New()
	b.Touch("r1")
	sub, err := b.Subscribe("r1")
	if err != nil {
		t.Fatal(err)
	}
	defer b.Unsubscribe(sub)

	b.Emit("r1", Event{ProcessedChannels: 1, TotalChannels: 2, CurrentChannel: "a"})
	ev := recv(t, sub)
	if ev.CurrentChannel != "a" {
		t.Fatalf("currentChannel = %q", ev.CurrentChannel)
	}
}

func TestBus_MultipleSubscribersSeeFullStream(t *testing.T) {
	b := New()
	b.Emit("r1", Event{ProcessedChannels: 1, TotalChannels: 2})

	s1, _ := b.Subscribe("r1")
	s2, _ := b.Subscribe("r1")
	defer b.Unsubscribe(s1)
	defer b.Unsubscribe(s2)

	b.Emit("r1", Event{ProcessedChannels: 2, TotalChannels: 2})

	for _, sub := range []*Subscription{s1, s2} {
		if ev := recv(t, sub); ev.ProcessedChannels != 1 {
			t.Fatalf("first event processed = %d", ev.ProcessedChannels)
		}
		if ev := recv(t, sub); ev.ProcessedChannels != 2 {
			t.Fatalf("second event processed = %d", ev.ProcessedChannels)
		}
	}
}

func TestBus_OverflowDropsOldest(t *testing.T) {
	b := New(WithQueueSize(4))
	for i := 1; i <= 10; i++ {
		b.Emit("r1", Event{ProcessedChannels: i, TotalChannels: 10})
	}

	sub, _ := b.Subscribe("r1")
	defer b.Unsubscribe(sub)

	first := recv(t, sub)
	if first.ProcessedChannels != 7 {
		t.Fatalf("oldest retained = %d, want 7", first.ProcessedChannels)
	}
	var last Event
	for i := 0; i < 3; i++ {
		last = recv(t, sub)
	}
	if last.ProcessedChannels != 10 {
		t.Fatalf("newest retained = %d, want 10 (newest must never drop)", last.ProcessedChannels)
	}
}

func TestBus_CompleteEmitsTerminal(t *testing.T) {
	b := New()
	b.Emit("r1", Event{ProcessedChannels: 2, TotalChannels: 2, CurrentChannel: "done soon"})
	b.Complete("r1")

	sub, _ := b.Subscribe("r1")
	defer b.Unsubscribe(sub)

	recv(t, sub) // progress event
	term := recv(t, sub)
	if !term.Terminal {
		t.Fatal("want terminal event")
	}
	if term.CurrentChannel != CompletionText {
		t.Fatalf("currentChannel = %q, want %q", term.CurrentChannel, CompletionText)
	}
	if term.ProcessedChannels != 2 || term.TotalChannels != 2 {
		t.Fatalf("terminal counters = %d/%d", term.ProcessedChannels, term.TotalChannels)
	}
}

func TestBus_FailEmitsTerminalError(t *testing.T) {
	b := New()
	b.Fail("r1", "upstream exploded")

	sub, _ := b.Subscribe("r1")
	defer b.Unsubscribe(sub)

	term := recv(t, sub)
	if !term.Terminal || term.Error != "upstream exploded" {
		t.Fatalf("terminal = %v, error = %q", term.Terminal, term.Error)
	}
}

func TestBus_EmitAfterTerminalIgnored(t *testing.T) {
	b := New()
	b.Complete("r1")
	b.Emit("r1", Event{ProcessedChannels: 99})

	sub, _ := b.Subscribe("r1")
	defer b.Unsubscribe(sub)

	term := recv(t, sub)
	if !term.Terminal {
		t.Fatal("want terminal event first")
	}
	select {
	case ev := <-sub.Ch():
		t.Fatalf("unexpected event after terminal: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_ReplayWithinGrace(t *testing.T) {
	b := New(WithGracePeriod(500 * time.Millisecond))
	for i := 1; i <= 3; i++ {
		b.Emit("r1", Event{ProcessedChannels: i, TotalChannels: 3})
	}
	b.Complete("r1")

	// A late subscriber inside the grace window replays everything.
	time.Sleep(100 * time.Millisecond)
	sub, err := b.Subscribe("r1")
	if err != nil {
		t.Fatalf("Subscribe within grace: %v", err)
	}
	defer b.Unsubscribe(sub)

	for i := 1; i <= 3; i++ {
		if ev := recv(t, sub); ev.ProcessedChannels != i {
			t.Fatalf("replayed event %d: processed = %d", i, ev.ProcessedChannels)
		}
	}
	if term := recv(t, sub); !term.Terminal {
		t.Fatal("want terminal event after replay")
	}
}

func TestBus_EvictedAfterGrace(t *testing.T) {
	b := New(WithGracePeriod(50 * time.Millisecond))
	b.Complete("r1")

	deadline := time.Now().Add(2 * time.Second)
	for b.Exists("r1") {
		if time.Now().After(deadline) {
			t.Fatal("stream not evicted after grace period")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := b.Subscribe("r1"); err != ErrUnknownRequest {
		t.Fatalf("err = %v, want ErrUnknownRequest after eviction", err)
	}
}

func TestBus_EvictionClosesSubscribers(t *testing.T) {
	b := New(WithGracePeriod(50 * time.Millisecond))
	b.Emit("r1", Event{ProcessedChannels: 1, TotalChannels: 1})
	sub, _ := b.Subscribe("r1")
	b.Complete("r1")

	recv(t, sub) // progress
	recv(t, sub) // terminal

	select {
	case _, ok := <-sub.Ch():
		if ok {
			t.Fatal("expected channel close, got event")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber channel not closed after eviction")
	}
}
