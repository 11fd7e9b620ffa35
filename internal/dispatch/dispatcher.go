package dispatch

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"eventsched/internal/clock"
	logx "eventsched/pkg/logx"
)

// ErrRunning is returned by Run when the loop is already active.
var ErrRunning = errors.New("dispatch: already running")

type Option func(*Dispatcher)

func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.clk = c
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(d *Dispatcher) { d.log = log }
}

// Dispatcher holds pending registrations and fires them on time.
type Dispatcher struct {
	cfg     Config
	handler Handler
	clk     clock.Clock
	log     logx.Logger

	mu     sync.Mutex
	h      entryHeap
	index  map[key]*entry
	owners map[string]Owner
	seq    uint64

	wake    chan struct{}
	running atomic.Bool
	// waiting is set while the loop blocks with nothing left to process.
	waiting atomic.Bool

	fired   atomic.Uint64
	stale   atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// New creates a dispatcher delivering firings to handler.
func New(cfg Config, handler Handler, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cfg:     cfg.withDefaults(),
		handler: handler,
		clk:     clock.Real(),
		index:   map[key]*entry{},
		owners:  map[string]Owner{},
		wake:    make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(d)
	}
	if d.log.IsZero() {
		d.log = logx.Nop()
	}
	d.log = d.log.With(logx.String("comp", "dispatch"))
	return d
}

// Attach makes owner responsible for the registrations of group.
func (d *Dispatcher) Attach(group string, owner Owner) {
	d.mu.Lock()
	d.owners[group] = owner
	d.mu.Unlock()
}

// Detach forgets the owner of group and cancels its registrations.
func (d *Dispatcher) Detach(group string) {
	d.mu.Lock()
	delete(d.owners, group)
	n := d.cancelGroupLocked(group)
	d.mu.Unlock()
	if n > 0 {
		d.signal()
	}
}

// Register schedules (group, event) at at, replacing any previous registration
// of the same pair. A zero instant cancels.
func (d *Dispatcher) Register(group, event string, at time.Time) {
	if at.IsZero() {
		d.Cancel(group, event)
		return
	}
	k := key{group: group, event: event}
	d.mu.Lock()
	d.seq++
	if e, ok := d.index[k]; ok {
		e.at = at
		e.seq = d.seq
		heap.Fix(&d.h, e.index)
	} else {
		e := &entry{key: k, at: at, seq: d.seq}
		heap.Push(&d.h, e)
		d.index[k] = e
	}
	d.mu.Unlock()
	d.signal()
}

// Cancel removes the registration of (group, event). Absent pairs are ignored.
func (d *Dispatcher) Cancel(group, event string) {
	k := key{group: group, event: event}
	d.mu.Lock()
	e, ok := d.index[k]
	if ok {
		heap.Remove(&d.h, e.index)
		delete(d.index, k)
	}
	d.mu.Unlock()
	if ok {
		d.signal()
	}
}

// CancelGroup removes every registration of group.
func (d *Dispatcher) CancelGroup(group string) {
	d.mu.Lock()
	n := d.cancelGroupLocked(group)
	d.mu.Unlock()
	if n > 0 {
		d.signal()
	}
}

func (d *Dispatcher) cancelGroupLocked(group string) int {
	n := 0
	for k, e := range d.index {
		if k.group != group {
			continue
		}
		heap.Remove(&d.h, e.index)
		delete(d.index, k)
		n++
	}
	return n
}

// Pending returns the registrations in firing order.
func (d *Dispatcher) Pending() []Pending {
	type snap struct {
		p   Pending
		seq uint64
	}
	d.mu.Lock()
	snaps := make([]snap, 0, len(d.h))
	for _, e := range d.h {
		snaps = append(snaps, snap{p: Pending{Group: e.group, Event: e.event, At: e.at}, seq: e.seq})
	}
	d.mu.Unlock()

	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].p.At.Equal(snaps[j].p.At) {
			return snaps[i].seq < snaps[j].seq
		}
		return snaps[i].p.At.Before(snaps[j].p.At)
	})
	out := make([]Pending, len(snaps))
	for i, s := range snaps {
		out[i] = s.p
	}
	return out
}

// NextAt reports the instant of the earliest registration.
func (d *Dispatcher) NextAt() (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.h) == 0 {
		return time.Time{}, false
	}
	return d.h[0].at, true
}

func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	n := len(d.h)
	d.mu.Unlock()
	return Stats{
		Pending: n,
		Fired:   d.fired.Load(),
		Stale:   d.stale.Load(),
		Dropped: d.dropped.Load(),
		Failed:  d.failed.Load(),
	}
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run executes the scheduling loop until ctx is canceled. Firings already
// queued are still delivered before Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer d.running.Store(false)

	queue := make(chan Firing, d.cfg.QueueSize)
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range queue {
				d.invoke(ctx, f)
			}
		}()
	}
	defer func() {
		close(queue)
		wg.Wait()
	}()

	d.log.Debug("dispatcher started", logx.Int("workers", d.cfg.Workers), logx.Int("queue", d.cfg.QueueSize))
	for {
		if ctx.Err() != nil {
			return nil
		}
		now := d.clk.Now()
		for _, e := range d.popDue(now) {
			d.fire(e, now, queue)
		}

		var (
			timer clock.Timer
			tc    <-chan time.Time
		)
		if next, ok := d.NextAt(); ok {
			wait := next.Sub(now)
			if wait > d.cfg.MaxSleep {
				wait = d.cfg.MaxSleep
			}
			timer = d.clk.NewTimer(wait)
			tc = timer.C()
		}

		if len(d.wake) == 0 {
			d.waiting.Store(true)
		}
		select {
		case <-ctx.Done():
		case <-d.wake:
		case <-tc:
		}
		d.waiting.Store(false)
		if timer != nil {
			timer.Stop()
		}
	}
}

// popDue removes every entry due at now, in firing order.
func (d *Dispatcher) popDue(now time.Time) []*entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	var due []*entry
	for len(d.h) > 0 && !d.h[0].at.After(now) {
		e := heap.Pop(&d.h).(*entry)
		delete(d.index, e.key)
		due = append(due, e)
	}
	return due
}

func (d *Dispatcher) fire(e *entry, now time.Time, queue chan<- Firing) {
	d.mu.Lock()
	owner := d.owners[e.group]
	d.mu.Unlock()
	if owner == nil {
		d.stale.Add(1)
		return
	}

	out, ok := owner.Advance(e.event, e.at, now)
	if !ok {
		d.stale.Add(1)
		d.log.Debug("stale registration skipped", logx.String("group", e.group), logx.String("event", e.event))
		return
	}

	f := Firing{
		ID:              uuid.NewString(),
		Group:           e.group,
		Event:           e.event,
		ScheduledAt:     e.at,
		FiredAt:         now,
		Reason:          ReasonTriggered,
		Acknowledgeable: out.Acknowledgeable,
	}
	select {
	case queue <- f:
		d.fired.Add(1)
	default:
		d.dropped.Add(1)
		d.log.Warn("callback queue full; firing dropped",
			logx.String("group", f.Group), logx.String("event", f.Event), logx.Time("scheduled_at", f.ScheduledAt))
	}
}

func (d *Dispatcher) invoke(ctx context.Context, f Firing) {
	if d.handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			d.log.Error("event handler panicked",
				logx.String("group", f.Group), logx.String("event", f.Event),
				logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	if err := d.handler.OnEventFired(ctx, f); err != nil {
		d.failed.Add(1)
		d.log.Warn("event handler failed", logx.String("group", f.Group), logx.String("event", f.Event), logx.Err(fmt.Errorf("firing %s: %w", f.ID, err)))
	}
}
