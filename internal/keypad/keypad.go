// Package keypad maps button presses (or console lines standing in for them)
// to scheduler triggers.
package keypad

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"eventsched/internal/dispatch"
	"eventsched/internal/recurrence"
	"eventsched/internal/schedule"
	logx "eventsched/pkg/logx"
)

var (
	ErrUnboundButton = errors.New("keypad: button not bound")
	ErrUnknownAction = errors.New("keypad: unknown action")
	ErrNothingToAck  = errors.New("keypad: no pending acknowledgement")
)

type Action string

const (
	ActionCreateWeekly Action = "create_weekly"
	ActionClear        Action = "clear"
	ActionQuery        Action = "query"
	ActionForward      Action = "forward"
	ActionAck          Action = "ack"
)

func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionCreateWeekly, ActionClear, ActionQuery, ActionForward, ActionAck:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
}

// WeeklyRequest asks for a weekly event.
type WeeklyRequest struct {
	Name            string
	Description     string
	At              time.Time
	Days            recurrence.WeekdaySet
	Acknowledgeable bool
	Persistent      bool
	// ClearFirst empties the group before creating.
	ClearFirst bool
}

// Controller is the trigger surface the keypad drives.
type Controller interface {
	CreateWeeklyEvent(ctx context.Context, req WeeklyRequest) error
	ClearAllEvents(ctx context.Context) error
	QueryEvent(name string) (schedule.Event, error)
	ForwardRawBytes(ctx context.Context, b []byte) error
	Acknowledge(id string) error
	PendingAcks() []dispatch.Firing
}

// Binding ties a button number to an action.
type Binding struct {
	Button  int
	Action  Action
	Weekly  WeeklyRequest // create_weekly
	Event   string        // query
	Payload []byte        // forward
}

// Router dispatches presses to the controller and echoes results to out.
type Router struct {
	ctrl     Controller
	bindings map[int]Binding
	out      io.Writer
	log      logx.Logger
}

func NewRouter(ctrl Controller, bindings []Binding, out io.Writer, log logx.Logger) (*Router, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if out == nil {
		out = io.Discard
	}
	m := make(map[int]Binding, len(bindings))
	for _, b := range bindings {
		if _, dup := m[b.Button]; dup {
			return nil, fmt.Errorf("keypad: button %d bound twice", b.Button)
		}
		if _, err := ParseAction(string(b.Action)); err != nil {
			return nil, err
		}
		m[b.Button] = b
	}
	return &Router{ctrl: ctrl, bindings: m, out: out, log: log.With(logx.String("comp", "keypad"))}, nil
}

// Buttons lists bound button numbers in ascending order.
func (r *Router) Buttons() []int {
	out := make([]int, 0, len(r.bindings))
	for n := range r.bindings {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

func (r *Router) Binding(button int) (Binding, bool) {
	b, ok := r.bindings[button]
	return b, ok
}

// Press runs the action bound to button.
func (r *Router) Press(ctx context.Context, button int) error {
	b, ok := r.bindings[button]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnboundButton, button)
	}
	r.log.Info("button pressed", logx.Int("button", button), logx.String("action", string(b.Action)))

	switch b.Action {
	case ActionCreateWeekly:
		if err := r.ctrl.CreateWeeklyEvent(ctx, b.Weekly); err != nil {
			return err
		}
		ev, err := r.ctrl.QueryEvent(b.Weekly.Name)
		if err != nil {
			return err
		}
		r.printf("Event %s created for %s (%s)\n", ev.Name, ev.ScheduledTime.Format("15:04"), ev.Recurrence.Days)
	case ActionClear:
		if err := r.ctrl.ClearAllEvents(ctx); err != nil {
			return err
		}
		r.printf("All events cleared\n")
	case ActionQuery:
		ev, err := r.ctrl.QueryEvent(b.Event)
		if err != nil {
			return err
		}
		r.printf("%s\n", Describe(ev))
	case ActionForward:
		if err := r.ctrl.ForwardRawBytes(ctx, b.Payload); err != nil {
			return err
		}
		r.printf("Forwarded %d bytes\n", len(b.Payload))
	case ActionAck:
		pending := r.ctrl.PendingAcks()
		if len(pending) == 0 {
			return ErrNothingToAck
		}
		f := pending[0]
		if err := r.ctrl.Acknowledge(f.ID); err != nil {
			return err
		}
		r.printf("Acknowledged %s (%s)\n", f.Event, f.ID)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, b.Action)
	}
	return nil
}

// Describe renders the query answer for ev.
func Describe(ev schedule.Event) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Event %s is scheduled for %s", ev.Name, ev.ScheduledTime.Format("1/2/2006 15:04"))
	if ev.Recurrence.Recurring() {
		fmt.Fprintf(&sb, ", weekly on %s", ev.Recurrence.Days)
	}
	switch ev.State() {
	case schedule.StateArmed:
		fmt.Fprintf(&sb, ", next %s", ev.NextFire.Format("Mon 1/2/2006 15:04"))
	default:
		fmt.Fprintf(&sb, " (%s)", ev.State())
	}
	return sb.String()
}

func (r *Router) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.out, format, args...)
}
