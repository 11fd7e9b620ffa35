package storage

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/afero"

	"eventsched/internal/recurrence"
)

var (
	ErrClosed        = errors.New("storage: store closed")
	ErrUnknownDriver = errors.New("storage: unknown driver")
)

// Config configures storage.
//
// Driver values:
//   - "memory" (also "" and "none")
//   - "file": Path is a prefix; ".events.snapshot.json" and ".events.journal.jsonl" are derived from it
//   - "sqlite" / "sqlite3": Path is the database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// Fs backs the file driver. nil means the OS filesystem.
	Fs afero.Fs
}

// Record is the persisted form of a scheduled event.
type Record struct {
	Name            string
	Description     string
	ScheduledTime   time.Time
	Recurrence      recurrence.Rule
	Acknowledgeable bool
	Persistent      bool
	Enabled         bool
}

// Store is the EventStore used by schedule groups.
type Store interface {
	// Load returns the persisted records of group in save order.
	Load(ctx context.Context, group string) ([]Record, error)
	// Save replaces the persisted records of group. Non-persistent records are skipped.
	Save(ctx context.Context, group string, records []Record) error
	// RemoveAll erases every record of group.
	RemoveAll(ctx context.Context, group string) error
	Close() error
}

// Compactor is implemented by stores that benefit from periodic maintenance.
type Compactor interface {
	Compact(ctx context.Context) error
}

func persistentOnly(records []Record) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if r.Persistent {
			out = append(out, r)
		}
	}
	return out
}

func cloneRecords(records []Record) []Record {
	if records == nil {
		return nil
	}
	return append([]Record(nil), records...)
}
