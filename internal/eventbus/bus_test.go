package eventbus

import (
	"testing"
	"time"

	"eventsched/internal/dispatch"
)

func TestPublishFansOut(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubA()
	defer unsubC()

	f := dispatch.Firing{ID: "1", Group: "g", Event: "x", FiredAt: time.Unix(100, 0)}
	b.PublishFiring(f)
	for _, ch := range []<-chan Event{a, c} {
		got := <-ch
		gf, ok := got.Firing()
		if !ok || gf.ID != "1" {
			t.Fatalf("got %+v", got)
		}
		if !got.Time.Equal(f.FiredAt) {
			t.Fatalf("Time = %v, want %v", got.Time, f.FiredAt)
		}
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()
	b.Publish(Event{Type: TypeGroupChanged})
	b.Publish(Event{Type: TypeGroupChanged})
	if b.Dropped() != 1 {
		t.Fatalf("Dropped = %d, want 1", b.Dropped())
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(0)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	if b.Subscribers() != 0 {
		t.Fatalf("Subscribers = %d", b.Subscribers())
	}
	b.Publish(Event{Type: TypeAcknowledged, Data: Ack{FiringID: "x"}})
}

func TestFiringOnOtherType(t *testing.T) {
	t.Parallel()
	if _, ok := (Event{Type: TypeAcknowledged}).Firing(); ok {
		t.Fatal("Firing() should fail for non-fired events")
	}
}
