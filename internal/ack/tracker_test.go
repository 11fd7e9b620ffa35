package ack

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"eventsched/internal/dispatch"
)

func firing(id string, at time.Time) dispatch.Firing {
	return dispatch.Firing{ID: id, Group: "g", Event: "e" + id, FiredAt: at, Acknowledgeable: true}
}

func TestTrackAndAcknowledge(t *testing.T) {
	t.Parallel()
	tr := NewTracker(4)
	now := time.Unix(1000, 0)
	if !tr.Track(firing("a", now)) {
		t.Fatal("acknowledgeable firing not tracked")
	}
	if tr.Track(dispatch.Firing{ID: "b"}) {
		t.Fatal("non-acknowledgeable firing tracked")
	}
	f, err := tr.Acknowledge("a")
	if err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if f.Event != "ea" {
		t.Fatalf("Acknowledge returned %+v", f)
	}
	if _, err := tr.Acknowledge("a"); !errors.Is(err, ErrUnknownFiring) {
		t.Fatalf("second Acknowledge = %v, want ErrUnknownFiring", err)
	}
}

func TestTrackerEvictsOldest(t *testing.T) {
	t.Parallel()
	tr := NewTracker(2)
	now := time.Unix(1000, 0)
	for i := 0; i < 3; i++ {
		tr.Track(firing(fmt.Sprint(i), now.Add(time.Duration(i)*time.Second)))
	}
	p := tr.Pending()
	if len(p) != 2 || p[0].ID != "1" || p[1].ID != "2" {
		t.Fatalf("Pending = %+v", p)
	}
	if tr.Evicted() != 1 {
		t.Fatalf("Evicted = %d, want 1", tr.Evicted())
	}
}

func TestTrackerPrune(t *testing.T) {
	t.Parallel()
	tr := NewTracker(0)
	now := time.Unix(1000, 0)
	tr.Track(firing("old", now.Add(-2*time.Hour)))
	tr.Track(firing("new", now))
	if n := tr.Prune(now.Add(-time.Hour)); n != 1 {
		t.Fatalf("Prune = %d, want 1", n)
	}
	if tr.Len() != 1 {
		t.Fatalf("Len = %d, want 1", tr.Len())
	}
}
