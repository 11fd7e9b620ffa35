package schedule

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"eventsched/internal/clock"
	"eventsched/internal/dispatch"
	"eventsched/internal/recurrence"
	"eventsched/internal/storage"
	logx "eventsched/pkg/logx"
)

// Registrar is the dispatcher surface a group drives.
type Registrar interface {
	Attach(group string, owner dispatch.Owner)
	Detach(group string)
	Register(group, event string, at time.Time)
	Cancel(group, event string)
	CancelGroup(group string)
}

type Option func(*Group)

func WithClock(c clock.Clock) Option {
	return func(g *Group) {
		if c != nil {
			g.clk = c
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(g *Group) { g.log = log }
}

// WithLocation sets the zone loaded anchors are converted to. Weekly rules
// keep the anchor's wall-clock time in this zone.
func WithLocation(loc *time.Location) Option {
	return func(g *Group) {
		if loc != nil {
			g.loc = loc
		}
	}
}

// Group is an EventGroup. It is safe for concurrent use.
type Group struct {
	name  string
	store storage.Store
	reg   Registrar
	clk   clock.Clock
	log   logx.Logger
	loc   *time.Location

	mu     sync.Mutex
	events map[string]*Event
}

var _ dispatch.Owner = (*Group)(nil)

// NewGroup creates an empty group and attaches it to reg.
func NewGroup(name string, store storage.Store, reg Registrar, opts ...Option) *Group {
	g := &Group{
		name:   name,
		store:  store,
		reg:    reg,
		clk:    clock.Real(),
		loc:    time.Local,
		events: map[string]*Event{},
	}
	for _, o := range opts {
		o(g)
	}
	if g.log.IsZero() {
		g.log = logx.Nop()
	}
	g.log = g.log.With(logx.String("comp", "schedule"), logx.String("group", name))
	reg.Attach(name, g)
	return g
}

func (g *Group) Name() string { return g.name }

// CreateEvent adds a new enabled event and arms it.
//
// On a persistence failure the event stays in the group and the returned
// error matches ErrPersistence.
func (g *Group) CreateEvent(ctx context.Context, def Definition) (Event, error) {
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return Event{}, fmt.Errorf("%w: empty name", ErrInvalidEvent)
	}
	if def.ScheduledTime.IsZero() {
		return Event{}, fmt.Errorf("%w: %q has no scheduled time", ErrInvalidEvent, name)
	}
	if err := def.Recurrence.Validate(); err != nil {
		return Event{}, fmt.Errorf("event %q: %w", name, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.events[name]; ok {
		return Event{}, fmt.Errorf("%w: %q in group %q", ErrDuplicateName, name, g.name)
	}

	ev := &Event{
		Name:            name,
		Description:     def.Description,
		ScheduledTime:   def.ScheduledTime,
		Recurrence:      def.Recurrence,
		Acknowledgeable: def.Acknowledgeable,
		Persistent:      def.Persistent,
		Enabled:         true,
	}
	g.events[name] = ev
	g.armLocked(ev, g.clk.Now())
	g.log.Info("event created",
		logx.String("event", name),
		logx.String("recurrence", ev.Recurrence.String()),
		logx.Time("next_fire", ev.NextFire))

	if ev.Persistent {
		if err := g.saveLocked(ctx, "create"); err != nil {
			return *ev, err
		}
	}
	return *ev, nil
}

// RemoveEvent deletes name and cancels its registration.
func (g *Group) RemoveEvent(ctx context.Context, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	ev, ok := g.events[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrEventNotFound, name)
	}
	delete(g.events, name)
	g.reg.Cancel(g.name, name)
	g.log.Info("event removed", logx.String("event", name))
	if ev.Persistent {
		return g.saveLocked(ctx, "remove")
	}
	return nil
}

// ClearAll removes every event, cancels the group's registrations and erases
// its persisted state.
func (g *Group) ClearAll(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := len(g.events)
	g.events = map[string]*Event{}
	g.reg.CancelGroup(g.name)
	g.log.Info("group cleared", logx.Int("removed", n))
	if err := g.store.RemoveAll(ctx, g.name); err != nil {
		return g.persistErr("clear", err)
	}
	return nil
}

// RetrieveAll replaces the group contents with the persisted events and arms
// them relative to the current time. On a load failure the group is unchanged.
func (g *Group) RetrieveAll(ctx context.Context) error {
	records, err := g.store.Load(ctx, g.name)
	if err != nil {
		return g.persistErr("load", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.reg.CancelGroup(g.name)
	g.events = make(map[string]*Event, len(records))
	now := g.clk.Now()
	for _, r := range records {
		if err := r.Recurrence.Validate(); err != nil {
			g.log.Warn("skipping stored event", logx.String("event", r.Name), logx.Err(err))
			continue
		}
		if _, dup := g.events[r.Name]; dup {
			g.log.Warn("skipping duplicate stored event", logx.String("event", r.Name))
			continue
		}
		ev := eventFromRecord(r, g.loc)
		g.events[ev.Name] = &ev
		g.armLocked(&ev, now)
	}
	g.log.Info("group restored", logx.Int("events", len(g.events)))
	return nil
}

// Enable re-arms a disabled event from the current time.
func (g *Group) Enable(ctx context.Context, name string) error {
	return g.setEnabled(ctx, name, true)
}

// Disable keeps the event but stops scheduling it.
func (g *Group) Disable(ctx context.Context, name string) error {
	return g.setEnabled(ctx, name, false)
}

func (g *Group) setEnabled(ctx context.Context, name string, enabled bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	ev, ok := g.events[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrEventNotFound, name)
	}
	if ev.Enabled == enabled {
		return nil
	}
	ev.Enabled = enabled
	g.armLocked(ev, g.clk.Now())
	g.log.Info("event toggled", logx.String("event", name), logx.Bool("enabled", enabled))
	if ev.Persistent {
		op := "disable"
		if enabled {
			op = "enable"
		}
		return g.saveLocked(ctx, op)
	}
	return nil
}

// SetRecurrence reassigns the rule of name and re-arms it.
func (g *Group) SetRecurrence(ctx context.Context, name string, rule recurrence.Rule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("event %q: %w", name, err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	ev, ok := g.events[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrEventNotFound, name)
	}
	ev.Recurrence = rule
	g.armLocked(ev, g.clk.Now())
	if ev.Persistent {
		return g.saveLocked(ctx, "set_recurrence")
	}
	return nil
}

func (g *Group) Contains(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.events[name]
	return ok
}

// Get returns a snapshot of name.
func (g *Group) Get(name string) (Event, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ev, ok := g.events[name]
	if !ok {
		return Event{}, fmt.Errorf("%w: %q", ErrEventNotFound, name)
	}
	return *ev, nil
}

// Events returns snapshots sorted by name.
func (g *Group) Events() []Event {
	g.mu.Lock()
	out := make([]Event, 0, len(g.events))
	for _, ev := range g.events {
		out = append(out, *ev)
	}
	g.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.events)
}

// Sync writes the persistent events to the store.
func (g *Group) Sync(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.saveLocked(ctx, "sync")
}

// Detach cancels every registration and stops receiving firings.
// The in-memory events are kept.
func (g *Group) Detach() {
	g.reg.Detach(g.name)
}

// Advance implements dispatch.Owner.
func (g *Group) Advance(name string, due, now time.Time) (dispatch.Outcome, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ev, ok := g.events[name]
	if !ok || !ev.Enabled || !ev.NextFire.Equal(due) {
		return dispatch.Outcome{}, false
	}
	ev.LastFired = due
	g.armLocked(ev, now)
	if ev.NextFire.IsZero() {
		g.log.Debug("event retired", logx.String("event", name))
	}
	return dispatch.Outcome{Acknowledgeable: ev.Acknowledgeable, Next: ev.NextFire}, true
}

// armLocked recomputes NextFire strictly after now and syncs the registration.
func (g *Group) armLocked(ev *Event, now time.Time) {
	ev.NextFire = time.Time{}
	if ev.Enabled {
		if next, ok := recurrence.Next(ev.Recurrence, ev.ScheduledTime, now); ok {
			ev.NextFire = next
		}
	}
	if ev.NextFire.IsZero() {
		g.reg.Cancel(g.name, ev.Name)
		return
	}
	g.reg.Register(g.name, ev.Name, ev.NextFire)
}

func (g *Group) saveLocked(ctx context.Context, op string) error {
	names := make([]string, 0, len(g.events))
	for name := range g.events {
		names = append(names, name)
	}
	sort.Strings(names)
	records := make([]storage.Record, 0, len(names))
	for _, name := range names {
		ev := g.events[name]
		if ev.Persistent {
			records = append(records, ev.record())
		}
	}
	if err := g.store.Save(ctx, g.name, records); err != nil {
		return g.persistErr(op, err)
	}
	return nil
}

func (g *Group) persistErr(op string, err error) error {
	g.log.Error("persistence failed", logx.String("op", op), logx.Err(err))
	return &PersistenceError{Op: op, Group: g.name, Err: err}
}
