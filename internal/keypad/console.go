package keypad

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Console reads commands from a line-oriented input, one per line:
//
//	1 | press 1     press button 1
//	ack <id>       acknowledge a firing
//	pending        list unacknowledged firings
//	help           list bound buttons
type Console struct {
	router *Router
	out    io.Writer
}

func NewConsole(r *Router, out io.Writer) *Console {
	if out == nil {
		out = io.Discard
	}
	return &Console{router: r, out: out}
}

// Run processes lines from in until EOF or ctx is done.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		case line := <-lines:
			if err := c.Handle(ctx, line); err != nil {
				fmt.Fprintf(c.out, "error: %v\n", err)
			}
		}
	}
}

// Handle executes a single console line.
func (c *Console) Handle(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd := strings.ToLower(fields[0])
	switch {
	case cmd == "press" && len(fields) == 2:
		return c.press(ctx, fields[1])
	case cmd == "ack" && len(fields) == 2:
		if err := c.router.ctrl.Acknowledge(fields[1]); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Acknowledged %s\n", fields[1])
		return nil
	case cmd == "pending":
		for _, f := range c.router.ctrl.PendingAcks() {
			fmt.Fprintf(c.out, "%s %s/%s @ %s\n", f.ID, f.Group, f.Event, f.ScheduledAt.Format("15:04"))
		}
		return nil
	case cmd == "help":
		for _, n := range c.router.Buttons() {
			b, _ := c.router.Binding(n)
			fmt.Fprintf(c.out, "%d: %s\n", n, b.Action)
		}
		return nil
	case len(fields) == 1:
		return c.press(ctx, fields[0])
	default:
		return errors.New("unknown command; try help")
	}
}

func (c *Console) press(ctx context.Context, raw string) error {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid button %q", raw)
	}
	fmt.Fprintf(c.out, "Button %d was pressed.\n", n)
	return c.router.Press(ctx, n)
}
