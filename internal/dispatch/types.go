package dispatch

import (
	"context"
	"fmt"
	"time"
)

// Reason tells why a firing happened.
type Reason int

const (
	// ReasonTriggered is a regular due-time firing.
	ReasonTriggered Reason = iota
)

func (r Reason) String() string {
	switch r {
	case ReasonTriggered:
		return "triggered"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Firing is delivered to the Handler once per occurrence.
type Firing struct {
	ID              string
	Group           string
	Event           string
	ScheduledAt     time.Time
	FiredAt         time.Time
	Reason          Reason
	Acknowledgeable bool
}

// Handler consumes firings.
type Handler interface {
	OnEventFired(ctx context.Context, f Firing) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, f Firing) error

func (fn HandlerFunc) OnEventFired(ctx context.Context, f Firing) error { return fn(ctx, f) }

// Outcome is what an owner reports when it accepts a due entry.
type Outcome struct {
	Acknowledgeable bool
	// Next is the following occurrence; zero when the event is retired.
	Next time.Time
}

// Owner is implemented by event groups.
//
// Advance is called when the registration (event, due) comes due. It returns
// false when the registration is stale (event removed, disabled or rescheduled
// since), in which case nothing fires. Otherwise the owner advances its own
// state relative to now and re-registers the next occurrence before returning.
type Owner interface {
	Advance(event string, due, now time.Time) (Outcome, bool)
}

// Config tunes the dispatcher.
type Config struct {
	// Workers is the number of callback goroutines. 1 keeps callbacks in firing order.
	Workers int
	// QueueSize bounds firings waiting for a worker. A full queue drops firings.
	QueueSize int
	// MaxSleep caps a single wait so wall-clock jumps and suspend are noticed.
	MaxSleep time.Duration
}

const (
	defaultWorkers   = 1
	defaultQueueSize = 64
	defaultMaxSleep  = time.Minute
)

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.MaxSleep <= 0 {
		c.MaxSleep = defaultMaxSleep
	}
	return c
}

// Pending is a snapshot of one registration.
type Pending struct {
	Group string
	Event string
	At    time.Time
}

// Stats are best-effort counters.
type Stats struct {
	Pending int
	Fired   uint64
	Stale   uint64
	Dropped uint64
	Failed  uint64
}
