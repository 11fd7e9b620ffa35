package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a controllable Clock. Timers fire only when the clock is moved
// past their deadline with Advance or Set.
type Fake struct {
	mu      sync.Mutex
	current time.Time
	timers  []*fakeTimer
}

// NewFake returns a clock initialised to start.
func NewFake(start time.Time) *Fake {
	return &Fake{current: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *Fake) NewTimer(d time.Duration) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{f: f, deadline: f.current.Add(d), ch: make(chan time.Time, 1)}
	if d <= 0 {
		t.fired = true
		t.ch <- f.current
		return t
	}
	f.timers = append(f.timers, t)
	return t
}

// Advance moves the clock forward by d and fires due timers.
func (f *Fake) Advance(d time.Duration) time.Time {
	f.mu.Lock()
	f.current = f.current.Add(d)
	now := f.current
	f.fireLocked()
	f.mu.Unlock()
	return now
}

// Set moves the clock to t and fires due timers.
func (f *Fake) Set(t time.Time) time.Time {
	f.mu.Lock()
	f.current = t
	f.fireLocked()
	f.mu.Unlock()
	return t
}

// Waiters reports how many timers are armed.
func (f *Fake) Waiters() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

func (f *Fake) fireLocked() {
	sort.SliceStable(f.timers, func(i, j int) bool { return f.timers[i].deadline.Before(f.timers[j].deadline) })
	keep := f.timers[:0]
	for _, t := range f.timers {
		if t.deadline.After(f.current) {
			keep = append(keep, t)
			continue
		}
		t.fired = true
		select {
		case t.ch <- f.current:
		default:
		}
	}
	for i := len(keep); i < len(f.timers); i++ {
		f.timers[i] = nil
	}
	f.timers = keep
}

func (f *Fake) removeLocked(t *fakeTimer) bool {
	for i, x := range f.timers {
		if x == t {
			f.timers = append(f.timers[:i], f.timers[i+1:]...)
			return true
		}
	}
	return false
}

type fakeTimer struct {
	f        *Fake
	deadline time.Time
	ch       chan time.Time
	fired    bool
}

func (t *fakeTimer) C() <-chan time.Time { return t.ch }

func (t *fakeTimer) Stop() bool {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()
	if t.fired {
		return false
	}
	return t.f.removeLocked(t)
}
