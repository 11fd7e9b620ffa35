package notify

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// ConsoleSink prints one line per message.
type ConsoleSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsoleSink(w io.Writer) *ConsoleSink { return &ConsoleSink{w: w} }

func (c *ConsoleSink) Name() string { return "console" }

func (c *ConsoleSink) Send(ctx context.Context, m Message) error {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.w, m.Text)
	return err
}
