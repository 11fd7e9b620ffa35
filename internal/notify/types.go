package notify

import (
	"context"
	"time"

	"eventsched/internal/dispatch"
)

// Config controls the notification pipeline.
type Config struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// Location renders firing times; nil means time.Local.
	Location *time.Location
}

// Message is one notification for every sink.
type Message struct {
	Text   string
	Firing dispatch.Firing
}

// Sink delivers messages somewhere.
type Sink interface {
	Name() string
	Send(ctx context.Context, m Message) error
}

type HistoryItem struct {
	At   time.Time
	Sink string
	Text string
	Err  string
}
