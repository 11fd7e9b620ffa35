package recurrence

import (
	"errors"
	"fmt"
	"time"
)

// ErrEmptyRecurrence is returned for a weekly rule without weekdays.
var ErrEmptyRecurrence = errors.New("recurrence: weekly rule requires at least one weekday")

// ErrInvalidKind indicates an unknown rule kind.
var ErrInvalidKind = errors.New("recurrence: invalid kind")

// Kind selects the recurrence policy.
type Kind int

const (
	// KindNone fires once at the anchor instant.
	KindNone Kind = iota
	// KindWeekly fires on every selected weekday at the anchor's time-of-day.
	KindWeekly
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindWeekly:
		return "weekly"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", "none":
		return KindNone, nil
	case "weekly":
		return KindWeekly, nil
	default:
		return KindNone, fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
}

// Rule describes how an event repeats.
type Rule struct {
	Kind Kind
	Days WeekdaySet
}

// None returns the one-shot rule.
func None() Rule { return Rule{Kind: KindNone} }

// Weekly returns a rule firing on days. An empty set is rejected.
func Weekly(days WeekdaySet) (Rule, error) {
	r := Rule{Kind: KindWeekly, Days: days}
	if err := r.Validate(); err != nil {
		return Rule{}, err
	}
	return r, nil
}

// Validate checks the rule invariants.
func (r Rule) Validate() error {
	switch r.Kind {
	case KindNone:
		return nil
	case KindWeekly:
		if r.Days.IsEmpty() {
			return ErrEmptyRecurrence
		}
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrInvalidKind, int(r.Kind))
	}
}

func (r Rule) Recurring() bool { return r.Kind == KindWeekly }

func (r Rule) String() string {
	if r.Kind == KindWeekly {
		return "weekly(" + r.Days.String() + ")"
	}
	return r.Kind.String()
}

// Next returns the first occurrence of rule strictly after after.
//
// For KindNone the anchor itself is the only occurrence. For KindWeekly the
// result is never earlier than anchor, lands on a selected weekday and keeps
// the anchor's wall-clock time-of-day in the anchor's location.
// The second result is false when no occurrence remains.
func Next(rule Rule, anchor, after time.Time) (time.Time, bool) {
	switch rule.Kind {
	case KindNone:
		if anchor.After(after) {
			return anchor, true
		}
		return time.Time{}, false
	case KindWeekly:
		if rule.Days.IsEmpty() {
			return time.Time{}, false
		}
		return nextWeekly(rule.Days, anchor, after)
	default:
		return time.Time{}, false
	}
}

func nextWeekly(days WeekdaySet, anchor, after time.Time) (time.Time, bool) {
	loc := anchor.Location()
	start := after.In(loc)
	if anchor.After(after) {
		start = anchor
	}
	y, m, d := start.Date()
	hh, mm, ss := anchor.Clock()
	ns := anchor.Nanosecond()

	// The start day can already be past the time-of-day, so look at it plus
	// one full week ahead.
	for i := 0; i <= 7; i++ {
		c := time.Date(y, m, d+i, hh, mm, ss, ns, loc)
		if !days.Has(c.Weekday()) {
			continue
		}
		if c.After(after) && !c.Before(anchor) {
			return c, true
		}
	}
	return time.Time{}, false
}
