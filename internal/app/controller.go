package app

import (
	"context"
	"fmt"
	"time"

	"eventsched/internal/ack"
	"eventsched/internal/dispatch"
	"eventsched/internal/eventbus"
	"eventsched/internal/keypad"
	"eventsched/internal/recurrence"
	"eventsched/internal/relay"
	"eventsched/internal/schedule"
	logx "eventsched/pkg/logx"
)

// Controller is the trigger surface driven by the keypad. It acts on one
// group.
type Controller struct {
	group *schedule.Group
	relay *relay.Relay
	acks  *ack.Tracker
	bus   eventbus.Bus
	log   logx.Logger
}

var _ keypad.Controller = (*Controller)(nil)

// CreateWeeklyEvent creates a weekly event. With ClearFirst the group is
// emptied beforehand, so the event is always created fresh.
func (c *Controller) CreateWeeklyEvent(ctx context.Context, req keypad.WeeklyRequest) error {
	rule, err := recurrence.Weekly(req.Days)
	if err != nil {
		return fmt.Errorf("event %q: %w", req.Name, err)
	}
	if req.ClearFirst {
		if err := c.ClearAllEvents(ctx); err != nil {
			return err
		}
	}
	ev, err := c.group.CreateEvent(ctx, schedule.Definition{
		Name:            req.Name,
		Description:     req.Description,
		ScheduledTime:   req.At,
		Recurrence:      rule,
		Acknowledgeable: req.Acknowledgeable,
		Persistent:      req.Persistent,
	})
	if err != nil {
		return err
	}
	c.publishChange("create", ev.Name, ev.Recurrence.String())
	return nil
}

func (c *Controller) ClearAllEvents(ctx context.Context) error {
	if err := c.group.ClearAll(ctx); err != nil {
		return err
	}
	c.publishChange("clear", "", "")
	return nil
}

func (c *Controller) QueryEvent(name string) (schedule.Event, error) {
	return c.group.Get(name)
}

func (c *Controller) ForwardRawBytes(ctx context.Context, b []byte) error {
	return c.relay.Forward(ctx, b)
}

// Acknowledge resolves a pending acknowledgeable firing.
func (c *Controller) Acknowledge(id string) error {
	f, err := c.acks.Acknowledge(id)
	if err != nil {
		return err
	}
	c.log.Info("firing acknowledged", logx.String("id", id), logx.String("event", f.Event))
	c.bus.Publish(eventbus.Event{
		Type: eventbus.TypeAcknowledged,
		Time: time.Now(),
		Data: eventbus.Ack{FiringID: f.ID, Group: f.Group, Event: f.Event},
	})
	return nil
}

func (c *Controller) PendingAcks() []dispatch.Firing {
	return c.acks.Pending()
}

func (c *Controller) publishChange(op, event, detail string) {
	c.bus.Publish(eventbus.Event{
		Type: eventbus.TypeGroupChanged,
		Time: time.Now(),
		Data: eventbus.GroupChange{Group: c.group.Name(), Op: op, Event: event, Detail: detail},
	})
}
