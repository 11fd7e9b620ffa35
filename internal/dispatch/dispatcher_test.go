package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"eventsched/internal/clock"
)

var t0 = time.Date(2019, time.March, 11, 8, 0, 0, 0, time.UTC)

type ownedEvent struct {
	at      time.Time
	every   time.Duration
	enabled bool
	ack     bool
}

// testOwner mimics a group: one-shot or fixed-interval events.
type testOwner struct {
	group string
	d     *Dispatcher

	mu     sync.Mutex
	events map[string]*ownedEvent
}

func newTestOwner(group string, d *Dispatcher) *testOwner {
	o := &testOwner{group: group, d: d, events: map[string]*ownedEvent{}}
	d.Attach(group, o)
	return o
}

func (o *testOwner) add(name string, at time.Time, every time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events[name] = &ownedEvent{at: at, every: every, enabled: true}
	o.d.Register(o.group, name, at)
}

func (o *testOwner) disableSilently(name string) {
	o.mu.Lock()
	o.events[name].enabled = false
	o.mu.Unlock()
}

func (o *testOwner) Advance(name string, due, now time.Time) (Outcome, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.events[name]
	if !ok || !e.enabled || !e.at.Equal(due) {
		return Outcome{}, false
	}
	if e.every <= 0 {
		e.at = time.Time{}
		return Outcome{Acknowledgeable: e.ack}, true
	}
	next := e.at
	for !next.After(now) {
		next = next.Add(e.every)
	}
	e.at = next
	o.d.Register(o.group, name, next)
	return Outcome{Acknowledgeable: e.ack, Next: next}, true
}

type harness struct {
	clk   *clock.Fake
	d     *Dispatcher
	fired chan Firing
}

func newHarness(t *testing.T, cfg Config, handler Handler) *harness {
	t.Helper()
	h := &harness{clk: clock.NewFake(t0), fired: make(chan Firing, 64)}
	if handler == nil {
		handler = HandlerFunc(func(ctx context.Context, f Firing) error {
			h.fired <- f
			return nil
		})
	}
	h.d = New(cfg, handler, WithClock(h.clk))
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("Run did not return after cancel")
		}
	})
}

// settle waits until the loop blocks with a timer armed for its head entry.
func (h *harness) settle(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.d.waiting.Load() && (h.d.Stats().Pending == 0 || h.clk.Waiters() > 0) {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("dispatcher did not settle")
}

func (h *harness) advance(t *testing.T, d time.Duration) {
	t.Helper()
	h.settle(t)
	h.clk.Advance(d)
}

func (h *harness) next(t *testing.T) Firing {
	t.Helper()
	select {
	case f := <-h.fired:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a firing")
		return Firing{}
	}
}

func (h *harness) none(t *testing.T) {
	t.Helper()
	select {
	case f := <-h.fired:
		t.Fatalf("unexpected firing %s/%s", f.Group, f.Event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFiresInTimeOrderWithInsertionTieBreak(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, nil)
	o := newTestOwner("g", h.d)
	o.add("b", t0.Add(2*time.Hour), 0)
	o.add("a", t0.Add(time.Hour), 0)
	o.add("c", t0.Add(2*time.Hour), 0)
	h.start(t)

	h.advance(t, 3*time.Hour)
	for _, want := range []string{"a", "b", "c"} {
		f := h.next(t)
		if f.Event != want {
			t.Fatalf("fired %s, want %s", f.Event, want)
		}
		if f.Reason != ReasonTriggered || f.ID == "" {
			t.Fatalf("firing metadata = %+v", f)
		}
	}
	h.none(t)
	if st := h.d.Stats(); st.Fired != 3 || st.Pending != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestDoesNotFireEarly(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{MaxSleep: 24 * time.Hour}, nil)
	o := newTestOwner("g", h.d)
	o.add("x", t0.Add(30*time.Minute), 0)
	h.start(t)

	h.advance(t, 10*time.Minute)
	h.none(t)
	h.advance(t, 20*time.Minute)
	f := h.next(t)
	if !f.ScheduledAt.Equal(t0.Add(30 * time.Minute)) {
		t.Fatalf("ScheduledAt = %v", f.ScheduledAt)
	}
	if !f.FiredAt.Equal(t0.Add(30 * time.Minute)) {
		t.Fatalf("FiredAt = %v", f.FiredAt)
	}
}

func TestCancelBeforeDue(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, nil)
	o := newTestOwner("g", h.d)
	o.add("x", t0.Add(time.Minute), 0)
	h.start(t)

	h.settle(t)
	h.d.Cancel("g", "x")
	h.d.Cancel("g", "missing")
	h.advance(t, time.Hour)
	h.none(t)
	if n := h.d.Stats().Pending; n != 0 {
		t.Fatalf("Pending = %d, want 0", n)
	}
}

func TestRegisterWakesIdleLoop(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{MaxSleep: 24 * time.Hour}, nil)
	o := newTestOwner("g", h.d)
	h.start(t)
	h.settle(t)
	if h.clk.Waiters() != 0 {
		t.Fatalf("idle loop should not hold a timer, Waiters = %d", h.clk.Waiters())
	}

	o.add("late", t0.Add(5*time.Minute), 0)
	h.advance(t, 5*time.Minute)
	if f := h.next(t); f.Event != "late" {
		t.Fatalf("fired %s, want late", f.Event)
	}
}

func TestRecurringCollapsesMissedOccurrences(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, nil)
	o := newTestOwner("g", h.d)
	o.add("hourly", t0.Add(time.Hour), time.Hour)
	h.start(t)

	h.advance(t, 5*time.Hour+30*time.Minute)
	f := h.next(t)
	if !f.ScheduledAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("ScheduledAt = %v, want first occurrence", f.ScheduledAt)
	}
	h.none(t)

	h.settle(t)
	p := h.d.Pending()
	if len(p) != 1 || !p[0].At.Equal(t0.Add(6*time.Hour)) {
		t.Fatalf("Pending = %+v, want one entry at +6h", p)
	}

	h.advance(t, 30*time.Minute)
	f = h.next(t)
	if !f.ScheduledAt.Equal(t0.Add(6 * time.Hour)) {
		t.Fatalf("ScheduledAt = %v, want +6h", f.ScheduledAt)
	}
}

func TestStaleRegistrationIsSkipped(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, nil)
	o := newTestOwner("g", h.d)
	o.add("x", t0.Add(time.Minute), 0)
	o.disableSilently("x")
	h.start(t)

	h.advance(t, time.Hour)
	h.none(t)
	if st := h.d.Stats(); st.Stale != 1 || st.Fired != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestHandlerPanicAndErrorDoNotStopLoop(t *testing.T) {
	t.Parallel()
	var h *harness
	h = newHarness(t, Config{}, HandlerFunc(func(ctx context.Context, f Firing) error {
		switch f.Event {
		case "boom":
			panic("handler exploded")
		case "fail":
			return errors.New("nope")
		}
		h.fired <- f
		return nil
	}))
	o := newTestOwner("g", h.d)
	o.add("boom", t0.Add(time.Minute), 0)
	o.add("fail", t0.Add(2*time.Minute), 0)
	o.add("ok", t0.Add(3*time.Minute), 0)
	h.start(t)

	h.advance(t, time.Hour)
	if f := h.next(t); f.Event != "ok" {
		t.Fatalf("fired %s, want ok", f.Event)
	}
	if st := h.d.Stats(); st.Failed != 2 {
		t.Fatalf("Failed = %d, want 2", st.Failed)
	}
}

func TestFullQueueDropsFirings(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	h := newHarness(t, Config{Workers: 1, QueueSize: 1}, HandlerFunc(func(ctx context.Context, f Firing) error {
		<-release
		return nil
	}))
	o := newTestOwner("g", h.d)
	for _, name := range []string{"a", "b", "c"} {
		o.add(name, t0.Add(time.Minute), 0)
	}
	h.start(t)
	defer close(release)

	h.advance(t, time.Hour)
	deadline := time.Now().Add(2 * time.Second)
	for {
		st := h.d.Stats()
		if st.Fired+st.Dropped == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("stats = %+v, want fired+dropped = 3", st)
		}
		time.Sleep(time.Millisecond)
	}
	// One firing sits in the worker and one in the queue at most.
	if st := h.d.Stats(); st.Dropped == 0 || st.Fired > 2 {
		t.Fatalf("stats = %+v, want at least one drop", st)
	}
}

func TestAcknowledgeableFlagCarried(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, nil)
	o := newTestOwner("g", h.d)
	o.add("x", t0.Add(time.Minute), 0)
	o.mu.Lock()
	o.events["x"].ack = true
	o.mu.Unlock()
	h.start(t)

	h.advance(t, time.Minute)
	if f := h.next(t); !f.Acknowledgeable {
		t.Fatal("Acknowledgeable not propagated")
	}
}

func TestDetachCancelsGroup(t *testing.T) {
	t.Parallel()
	d := New(Config{}, nil, WithClock(clock.NewFake(t0)))
	a := newTestOwner("a", d)
	b := newTestOwner("b", d)
	a.add("x", t0.Add(time.Minute), 0)
	a.add("y", t0.Add(2*time.Minute), 0)
	b.add("x", t0.Add(3*time.Minute), 0)

	d.Detach("a")
	p := d.Pending()
	if len(p) != 1 || p[0].Group != "b" {
		t.Fatalf("Pending = %+v, want only group b", p)
	}
}

func TestRegisterReplacesExisting(t *testing.T) {
	t.Parallel()
	d := New(Config{}, nil, WithClock(clock.NewFake(t0)))
	d.Register("g", "x", t0.Add(time.Hour))
	d.Register("g", "y", t0.Add(2*time.Hour))
	d.Register("g", "x", t0.Add(3*time.Hour))

	p := d.Pending()
	if len(p) != 2 || p[0].Event != "y" || p[1].Event != "x" {
		t.Fatalf("Pending = %+v, want y then x", p)
	}
	d.Register("g", "y", time.Time{})
	if n := len(d.Pending()); n != 1 {
		t.Fatalf("zero instant should cancel, Pending = %d", n)
	}
}

func TestRunTwice(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{}, nil)
	h.start(t)
	h.settle(t)
	if err := h.d.Run(context.Background()); !errors.Is(err, ErrRunning) {
		t.Fatalf("second Run = %v, want ErrRunning", err)
	}
}

func TestEarlierRegistrationInterruptsArmedWait(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Config{MaxSleep: 24 * time.Hour}, nil)
	o := newTestOwner("g", h.d)
	o.add("late", t0.Add(2*time.Hour), 0)
	h.start(t)
	h.settle(t)
	if h.clk.Waiters() != 1 {
		t.Fatalf("loop should wait on the late timer, Waiters = %d", h.clk.Waiters())
	}

	o.add("early", t0.Add(10*time.Minute), 0)
	h.advance(t, 10*time.Minute)
	f := h.next(t)
	if f.Event != "early" || !f.FiredAt.Equal(t0.Add(10*time.Minute)) {
		t.Fatalf("fired %s at %v, want early at +10m", f.Event, f.FiredAt)
	}
	h.none(t)

	h.advance(t, 110*time.Minute)
	if f := h.next(t); f.Event != "late" {
		t.Fatalf("fired %s, want late", f.Event)
	}
}

func TestPendingConcurrentWithRegister(t *testing.T) {
	t.Parallel()
	d := New(Config{}, nil, WithClock(clock.NewFake(t0)))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			d.Register("g", "a", t0.Add(time.Duration(i%7)*time.Minute))
			d.Register("g", "b", t0.Add(time.Duration(i%5)*time.Minute))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			p := d.Pending()
			for j := 1; j < len(p); j++ {
				if p[j].At.Before(p[j-1].At) {
					t.Errorf("Pending out of order: %+v", p)
					return
				}
			}
		}
	}()
	wg.Wait()
	if n := len(d.Pending()); n != 2 {
		t.Fatalf("Pending = %d entries, want 2", n)
	}
}
