package schedule

import (
	"time"

	"eventsched/internal/recurrence"
	"eventsched/internal/storage"
)

// Definition describes an event to create.
type Definition struct {
	Name            string
	Description     string
	ScheduledTime   time.Time
	Recurrence      recurrence.Rule
	Acknowledgeable bool
	Persistent      bool
}

// State is the scheduling state of an event.
type State int

const (
	StateArmed State = iota
	StateDisarmed
	StateRetired
)

func (s State) String() string {
	switch s {
	case StateArmed:
		return "armed"
	case StateDisarmed:
		return "disarmed"
	default:
		return "retired"
	}
}

// Event is a snapshot of a scheduled event.
type Event struct {
	Name            string
	Description     string
	ScheduledTime   time.Time
	Recurrence      recurrence.Rule
	Acknowledgeable bool
	Persistent      bool
	Enabled         bool

	// NextFire is derived and never persisted. Zero means nothing is pending.
	NextFire time.Time
	// LastFired is the scheduled instant of the latest firing in this process.
	LastFired time.Time
}

func (e Event) State() State {
	switch {
	case !e.Enabled:
		return StateDisarmed
	case e.NextFire.IsZero():
		return StateRetired
	default:
		return StateArmed
	}
}

func (e Event) record() storage.Record {
	return storage.Record{
		Name:            e.Name,
		Description:     e.Description,
		ScheduledTime:   e.ScheduledTime,
		Recurrence:      e.Recurrence,
		Acknowledgeable: e.Acknowledgeable,
		Persistent:      e.Persistent,
		Enabled:         e.Enabled,
	}
}

func eventFromRecord(r storage.Record, loc *time.Location) Event {
	at := r.ScheduledTime
	if loc != nil {
		at = at.In(loc)
	}
	return Event{
		Name:            r.Name,
		Description:     r.Description,
		ScheduledTime:   at,
		Recurrence:      r.Recurrence,
		Acknowledgeable: r.Acknowledgeable,
		Persistent:      r.Persistent,
		Enabled:         r.Enabled,
	}
}
