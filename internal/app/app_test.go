package app

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"eventsched/internal/clock"
	"eventsched/internal/config"
	"eventsched/internal/keypad"
	"eventsched/internal/notify"
	"eventsched/internal/schedule"
	"eventsched/internal/storage"
	logx "eventsched/pkg/logx"
)

type recordingSink struct{ got chan notify.Message }

func newRecordingSink() *recordingSink { return &recordingSink{got: make(chan notify.Message, 8)} }

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) Send(_ context.Context, m notify.Message) error {
	r.got <- m
	return nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Logging = config.LoggingConfig{Level: "error", Console: true}
	cfg.Scheduler.Timezone = "UTC"
	cfg.Keypad.Console = false
	cfg.Notify.Console = false
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, clk *clock.Fake, opts ...Option) (*App, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	opts = append([]Option{WithClock(clk), WithIO(nil, &out)}, opts...)
	a, err := NewFromConfig(cfg, opts...)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	return a, &out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestKeypadButtons(t *testing.T) {
	t.Parallel()

	clk := clock.NewFake(time.Date(2019, 3, 11, 9, 0, 0, 0, time.UTC))
	a, out := newTestApp(t, testConfig(), clk)
	defer a.Close()
	ctx := context.Background()
	kp := a.Keypad()
	g, _ := a.Group("main")

	if err := kp.Press(ctx, 1); err != nil {
		t.Fatalf("press 1: %v", err)
	}
	ev, err := g.Get("MyEvent")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if want := time.Date(2019, 3, 11, 10, 30, 0, 0, time.UTC); !ev.NextFire.Equal(want) {
		t.Fatalf("next fire = %v, want %v", ev.NextFire, want)
	}
	if !ev.Persistent || !ev.Enabled {
		t.Fatalf("unexpected flags: %+v", ev)
	}

	// clear_first makes a second press recreate instead of failing.
	if err := kp.Press(ctx, 1); err != nil {
		t.Fatalf("press 1 again: %v", err)
	}
	if g.Len() != 1 {
		t.Fatalf("len = %d, want 1", g.Len())
	}

	out.Reset()
	if err := kp.Press(ctx, 3); err != nil {
		t.Fatalf("press 3: %v", err)
	}
	if !strings.Contains(out.String(), "Event MyEvent is scheduled for 3/11/2019 10:30") {
		t.Fatalf("query output = %q", out.String())
	}

	if err := kp.Press(ctx, 4); err != nil {
		t.Fatalf("press 4: %v", err)
	}
	if got := a.relay.Sent(); got != 5 {
		t.Fatalf("relay sent = %d, want 5", got)
	}

	if err := kp.Press(ctx, 2); err != nil {
		t.Fatalf("press 2: %v", err)
	}
	if g.Len() != 0 {
		t.Fatalf("group not cleared")
	}
	if err := kp.Press(ctx, 3); !errors.Is(err, schedule.ErrEventNotFound) {
		t.Fatalf("query after clear = %v", err)
	}
	if err := kp.Press(ctx, 9); !errors.Is(err, keypad.ErrUnboundButton) {
		t.Fatalf("unbound = %v", err)
	}
}

func TestControllerCreateWeekly(t *testing.T) {
	t.Parallel()

	clk := clock.NewFake(time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC))
	a, _ := newTestApp(t, testConfig(), clk)
	defer a.Close()
	ctx := context.Background()
	c := a.Controller()

	req := keypad.WeeklyRequest{Name: "Gym", At: time.Date(2024, 1, 1, 18, 0, 0, 0, time.UTC)}
	if err := c.CreateWeeklyEvent(ctx, req); !errors.Is(err, schedule.ErrEmptyRecurrence) {
		t.Fatalf("empty days = %v", err)
	}

	binding, _ := a.Keypad().Binding(1)
	req.Days = binding.Weekly.Days
	if err := c.CreateWeeklyEvent(ctx, req); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := c.CreateWeeklyEvent(ctx, req); !errors.Is(err, schedule.ErrDuplicateName) {
		t.Fatalf("duplicate = %v", err)
	}
}

func TestFiringNotifiesAndTracksAck(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Groups = []config.GroupConfig{{
		Name: "main",
		Events: []config.EventConfig{{
			Name:            "Standup",
			At:              "2024-01-01 09:05",
			Acknowledgeable: true,
		}},
	}}
	clk := clock.NewFake(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	sink := newRecordingSink()
	a, _ := newTestApp(t, cfg, clk, WithSinks(sink))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, StopAppStop)
	}()

	waitFor(t, "notify subscription", func() bool { return a.bus.Subscribers() >= 2 })
	waitFor(t, "dispatcher timer", func() bool { return clk.Waiters() > 0 })
	clk.Set(time.Date(2024, 1, 1, 9, 5, 0, 0, time.UTC))

	select {
	case m := <-sink.got:
		if m.Text != "Event Standup, triggered @ 09:05" {
			t.Fatalf("text = %q", m.Text)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no notification")
	}

	waitFor(t, "pending ack", func() bool { return len(a.Controller().PendingAcks()) == 1 })
	id := a.Controller().PendingAcks()[0].ID
	if err := a.Controller().Acknowledge(id); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if n := len(a.Controller().PendingAcks()); n != 0 {
		t.Fatalf("pending after ack = %d", n)
	}

	g, _ := a.Group("main")
	ev, err := g.Get("Standup")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ev.State() != schedule.StateRetired {
		t.Fatalf("one-shot state = %v", ev.State())
	}
}

func TestPersistentEventsSurviveRestart(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	cfg := testConfig()
	cfg.Storage = config.StorageConfig{Driver: "file", Path: "/data/eventsched.json"}
	clk := clock.NewFake(time.Date(2019, 3, 11, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()

	a, _ := newTestApp(t, cfg, clk, WithFs(fs))
	if err := a.Keypad().Press(ctx, 1); err != nil {
		t.Fatalf("press: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b, _ := newTestApp(t, cfg, clk, WithFs(fs))
	defer b.Close()
	if err := b.Restore(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	g, _ := b.Group("main")
	ev, err := g.Get("MyEvent")
	if err != nil {
		t.Fatalf("restored event missing: %v", err)
	}
	if ev.Recurrence.Days.Len() != 3 {
		t.Fatalf("days = %v", ev.Recurrence.Days)
	}
}

func TestRestoreDoesNotWriteStore(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	cfg := testConfig()
	cfg.Storage = config.StorageConfig{Driver: "file", Path: "/data/eventsched.json"}
	cfg.Groups = []config.GroupConfig{{
		Name:   "main",
		Events: []config.EventConfig{{Name: "Standup", At: "2019-03-12 09:05"}},
	}}
	clk := clock.NewFake(time.Date(2019, 3, 11, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()

	stored := func() int {
		t.Helper()
		st, err := storage.Open(storage.Config{Driver: "file", Path: cfg.Storage.Path, Fs: fs}, logx.Nop())
		if err != nil {
			t.Fatalf("open store: %v", err)
		}
		defer st.Close()
		recs, err := st.Load(ctx, "main")
		if err != nil {
			t.Fatalf("load store: %v", err)
		}
		return len(recs)
	}

	a, _ := newTestApp(t, cfg, clk, WithFs(fs))
	if err := a.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if err := a.Seed(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if n := stored(); n != 1 {
		t.Fatalf("seeded records = %d, want 1", n)
	}
	g, _ := a.Group("main")
	if err := g.ClearAll(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if n := stored(); n != 0 {
		t.Fatalf("records after clear = %d, want 0", n)
	}

	b, _ := newTestApp(t, cfg, clk, WithFs(fs))
	defer b.Close()
	if err := b.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if n := stored(); n != 0 {
		t.Fatalf("records after read-only restore = %d, want 0", n)
	}
	g, _ = b.Group("main")
	if g.Len() != 0 {
		t.Fatalf("group len = %d, want 0", g.Len())
	}
}

func TestHousekeepingPrunesAcks(t *testing.T) {
	t.Parallel()

	clk := clock.NewFake(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	a, _ := newTestApp(t, testConfig(), clk)
	defer a.Close()

	a.ackTTL = time.Hour
	_ = a.onFired(context.Background(), firingAt("x", clk.Now()))
	if len(a.acks.Pending()) != 1 {
		t.Fatalf("firing not tracked")
	}
	clk.Advance(2 * time.Hour)
	a.housekeep(context.Background())
	if len(a.acks.Pending()) != 0 {
		t.Fatalf("stale ack not pruned")
	}
}

func TestApplyConfigTogglesNotify(t *testing.T) {
	t.Parallel()

	clk := clock.NewFake(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	a, _ := newTestApp(t, testConfig(), clk)
	defer a.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.notif.Start(ctx)

	next := testConfig()
	next.Notify.Enabled = false
	next.Logging.Level = "warn"
	a.applyConfig(ctx, next)
	if a.cfg.Notify.Enabled || a.cfg.Logging.Level != "warn" {
		t.Fatalf("config not applied: %+v", a.cfg)
	}
	if err := a.notif.Notify(notify.Message{Text: "x"}); !errors.Is(err, notify.ErrDisabled) {
		t.Fatalf("notify after disable = %v", err)
	}
}

func TestNewFromConfigRejectsInvalid(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Storage.Driver = "bogus"
	if _, err := NewFromConfig(cfg); err == nil {
		t.Fatalf("expected validation error")
	}
}
