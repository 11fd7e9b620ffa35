package schedule

import (
	"errors"
	"fmt"

	"eventsched/internal/recurrence"
)

var (
	ErrDuplicateName = errors.New("schedule: duplicate event name")
	ErrEventNotFound = errors.New("schedule: event not found")
	ErrInvalidEvent  = errors.New("schedule: invalid event")
	ErrPersistence   = errors.New("schedule: persistence failure")

	// ErrEmptyRecurrence is recurrence.ErrEmptyRecurrence, re-exported for callers.
	ErrEmptyRecurrence = recurrence.ErrEmptyRecurrence
)

// PersistenceError reports a store failure. The in-memory group keeps the
// mutation; the next successful save reconciles.
type PersistenceError struct {
	Op    string
	Group string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("schedule: %s group %q: %v", e.Op, e.Group, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }
