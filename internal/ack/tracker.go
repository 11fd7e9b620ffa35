// Package ack tracks firings that expect an explicit acknowledgement.
// Tracking is advisory: it never blocks rescheduling.
package ack

import (
	"container/list"
	"errors"
	"fmt"
	"sync"
	"time"

	"eventsched/internal/dispatch"
)

var ErrUnknownFiring = errors.New("ack: unknown firing")

const defaultCapacity = 256

// Tracker holds unacknowledged firings, oldest evicted first when full.
type Tracker struct {
	mu      sync.Mutex
	cap     int
	order   *list.List // of dispatch.Firing, oldest at front
	byID    map[string]*list.Element
	evicted uint64
}

func NewTracker(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Tracker{cap: capacity, order: list.New(), byID: map[string]*list.Element{}}
}

// Track records f when it is acknowledgeable. It reports whether f was tracked.
func (t *Tracker) Track(f dispatch.Firing) bool {
	if !f.Acknowledgeable || f.ID == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byID[f.ID]; ok {
		return true
	}
	t.byID[f.ID] = t.order.PushBack(f)
	for t.order.Len() > t.cap {
		front := t.order.Front()
		old := t.order.Remove(front).(dispatch.Firing)
		delete(t.byID, old.ID)
		t.evicted++
	}
	return true
}

// Acknowledge resolves the pending firing id.
func (t *Tracker) Acknowledge(id string) (dispatch.Firing, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	el, ok := t.byID[id]
	if !ok {
		return dispatch.Firing{}, fmt.Errorf("%w: %q", ErrUnknownFiring, id)
	}
	delete(t.byID, id)
	return t.order.Remove(el).(dispatch.Firing), nil
}

// Pending lists unacknowledged firings, oldest first.
func (t *Tracker) Pending() []dispatch.Firing {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]dispatch.Firing, 0, t.order.Len())
	for el := t.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(dispatch.Firing))
	}
	return out
}

// Prune drops firings fired before cutoff and returns how many were dropped.
func (t *Tracker) Prune(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for el := t.order.Front(); el != nil; {
		next := el.Next()
		f := el.Value.(dispatch.Firing)
		if f.FiredAt.Before(cutoff) {
			t.order.Remove(el)
			delete(t.byID, f.ID)
			n++
		}
		el = next
	}
	return n
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.order.Len()
}

// Evicted reports firings dropped because the tracker was full.
func (t *Tracker) Evicted() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.evicted
}
