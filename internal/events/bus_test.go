package events

import (
	"testing"
	"time"
)

func TestPublish_FilteredDelivery(t *testing.T) {
	bus := NewBus()
	all := bus.Subscribe(4)
	defer all.Close()
	roles := bus.Subscribe(4, TypeRoleChanged)
	defer roles.Close()

	bus.Publish(Event{Type: TypeMessagesInserted, SessionID: "s1", Count: 2})
	bus.Publish(Event{Type: TypeRoleChanged, Role: "writer"})

	if got := len(all.C()); got != 2 {
		t.Errorf("all subscriber got %d events, want 2", got)
	}
	if got := len(roles.C()); got != 1 {
		t.Fatalf("role subscriber got %d events, want 1", got)
	}
	ev := <-roles.C()
	if ev.Role != "writer" {
		t.Errorf("Role = %q, want %q", ev.Role, "writer")
	}
	if ev.At == 0 {
		t.Error("expected At to be stamped")
	}
}

func TestPublish_NeverBlocks(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(1)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(Event{Type: TypeFileChanged})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if bus.Dropped() != 9 {
		t.Errorf("Dropped = %d, want 9", bus.Dropped())
	}
}

func TestSubscription_Close(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(1)
	if bus.Subscribers() != 1 {
		t.Fatalf("Subscribers = %d, want 1", bus.Subscribers())
	}
	sub.Close()
	sub.Close()
	if bus.Subscribers() != 0 {
		t.Errorf("Subscribers after close = %d, want 0", bus.Subscribers())
	}
	if _, ok := <-sub.C(); ok {
		t.Error("expected closed channel")
	}
	bus.Publish(Event{Type: TypeRoleChanged})
}

func TestNilBus(t *testing.T) {
	var bus *Bus
	bus.Publish(Event{Type: TypeRoleChanged})
	if bus.Subscribers() != 0 || bus.Dropped() != 0 {
		t.Error("nil bus should report zero")
	}
}
