// Package eventbus fans scheduler notifications out to independent consumers
// (notifiers, acknowledgement tracking, the console).
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"eventsched/internal/dispatch"
)

// Type names a notification kind.
type Type string

const (
	// TypeFired carries a dispatch.Firing.
	TypeFired Type = "event.fired"
	// TypeAcknowledged carries an Ack.
	TypeAcknowledged Type = "event.acknowledged"
	// TypeGroupChanged carries a GroupChange.
	TypeGroupChanged Type = "group.changed"
)

// Event is one notification. Publish never blocks: subscribers get buffered
// channels and a slow subscriber loses events.
type Event struct {
	Type Type
	Time time.Time
	Data any
}

// Ack is the payload of TypeAcknowledged.
type Ack struct {
	FiringID string
	Group    string
	Event    string
}

// GroupChange is the payload of TypeGroupChanged.
type GroupChange struct {
	Group  string
	Op     string
	Event  string
	Detail string
}

// Firing returns the payload of a TypeFired event.
func (e Event) Firing() (dispatch.Firing, bool) {
	if e.Type != TypeFired {
		return dispatch.Firing{}, false
	}
	f, ok := e.Data.(dispatch.Firing)
	return f, ok
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fan-out bus. It owns no goroutines.
func New() *MemBus {
	return &MemBus{subs: map[uint64]chan Event{}}
}

type MemBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

var _ Bus = (*MemBus)(nil)

func (b *MemBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// The subscriber may close its channel concurrently.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
				b.dropped.Add(1)
			}
		}()
	}
}

// PublishFiring is shorthand for a TypeFired event.
func (b *MemBus) PublishFiring(f dispatch.Firing) {
	b.Publish(Event{Type: TypeFired, Time: f.FiredAt, Data: f})
}

func (b *MemBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Subscribers reports the current subscriber count.
func (b *MemBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped reports deliveries lost to full subscriber buffers.
func (b *MemBus) Dropped() uint64 { return b.dropped.Load() }
