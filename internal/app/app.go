package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"

	"eventsched/internal/ack"
	"eventsched/internal/clock"
	"eventsched/internal/config"
	"eventsched/internal/dispatch"
	"eventsched/internal/eventbus"
	"eventsched/internal/keypad"
	"eventsched/internal/notify"
	"eventsched/internal/relay"
	"eventsched/internal/runtime/supervisor"
	"eventsched/internal/schedule"
	"eventsched/internal/storage"
	logx "eventsched/pkg/logx"
)

type Option func(*App)

// WithClock replaces the time source of the dispatcher and groups.
func WithClock(c clock.Clock) Option { return func(a *App) { a.clk = c } }

// WithFs backs the file store with fs.
func WithFs(fs afero.Fs) Option { return func(a *App) { a.fs = fs } }

// WithIO sets the keypad console streams.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(a *App) { a.in, a.out = in, out }
}

// WithSinks adds notification sinks next to the configured ones.
func WithSinks(sinks ...notify.Sink) Option {
	return func(a *App) { a.extraSinks = append(a.extraSinks, sinks...) }
}

type App struct {
	cfgm *config.Manager
	cfg  *config.Config
	loc  *time.Location

	clk        clock.Clock
	fs         afero.Fs
	in         io.Reader
	out        io.Writer
	extraSinks []notify.Sink

	sup  *supervisor.Supervisor
	log  logx.Logger
	logs *logx.Service

	store  storage.Store
	disp   *dispatch.Dispatcher
	bus    *eventbus.MemBus
	acks   *ack.Tracker
	ackTTL time.Duration
	notif  *notify.Service
	relay  *relay.Relay
	cron   *cron.Cron
	sd     *sdNotify

	mu     sync.RWMutex
	groups map[string]*schedule.Group
	order  []string

	ctrl    *Controller
	keypad  *keypad.Router
	console *keypad.Console
}

// New loads cfgPath and builds the app. The file is watched for hot reload
// once started.
func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	a, err := NewFromConfig(cfg, opts...)
	if err != nil {
		return nil, err
	}
	a.cfgm = cfgm
	return a, nil
}

// NewFromConfig builds the app from an in-memory config.
func NewFromConfig(cfg *config.Config, opts ...Option) (*App, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	a := &App{
		cfg:    cfg,
		clk:    clock.Real(),
		in:     os.Stdin,
		out:    os.Stdout,
		groups: map[string]*schedule.Group{},
	}
	for _, o := range opts {
		o(a)
	}

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return nil, err
	}
	a.loc = loc

	logSvc, log := logx.NewService(mapLogging(cfg))
	a.logs = logSvc
	a.log = log.With(logx.String("comp", "app"))

	if err := a.build(); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	cfg := a.cfg

	sc, err := mapStorageConfig(cfg, a.fs)
	if err != nil {
		return err
	}
	st, err := storage.Open(sc, a.log)
	if err != nil {
		return err
	}
	a.store = st

	dc, err := mapDispatchConfig(cfg)
	if err != nil {
		return err
	}
	a.disp = dispatch.New(dc, dispatch.HandlerFunc(a.onFired),
		dispatch.WithClock(a.clk),
		dispatch.WithLogger(a.log),
	)

	a.bus = eventbus.New()
	a.acks = ack.NewTracker(cfg.Scheduler.AckCapacity)
	a.ackTTL, err = config.ParseDurationOrDefault("scheduler.ack_ttl", cfg.Scheduler.AckTTL, 24*time.Hour)
	if err != nil {
		return err
	}

	sinks, err := a.buildSinks()
	if err != nil {
		return err
	}
	nc, err := mapNotifyConfig(cfg, a.loc)
	if err != nil {
		return err
	}
	a.notif = notify.New(nc, sinks, a.log)

	rc, err := mapRelayConfig(cfg)
	if err != nil {
		return err
	}
	if a.relay, err = relay.Open(rc, a.log); err != nil {
		return err
	}

	for _, name := range groupNames(cfg) {
		g := schedule.NewGroup(name, a.store, a.disp,
			schedule.WithClock(a.clk),
			schedule.WithLogger(a.log),
			schedule.WithLocation(a.loc),
		)
		a.groups[name] = g
		a.order = append(a.order, name)
	}

	keypadGroup := strings.TrimSpace(cfg.Keypad.Group)
	if keypadGroup == "" {
		keypadGroup = cfg.Scheduler.Group()
	}
	a.ctrl = &Controller{
		group: a.groups[keypadGroup],
		relay: a.relay,
		acks:  a.acks,
		bus:   a.bus,
		log:   a.log.With(logx.String("comp", "controller")),
	}
	bindings, err := mapBindings(cfg, a.loc)
	if err != nil {
		return err
	}
	if a.keypad, err = keypad.NewRouter(a.ctrl, bindings, a.out, a.log); err != nil {
		return err
	}
	a.console = keypad.NewConsole(a.keypad, a.out)
	a.sd = newSdNotify(cfg.Systemd.Notify, cfg.Systemd.Watchdog, a.log)
	return nil
}

func (a *App) buildSinks() ([]notify.Sink, error) {
	var sinks []notify.Sink
	if a.cfg.Notify.Console {
		sinks = append(sinks, notify.NewConsoleSink(a.out))
	}
	if t := a.cfg.Notify.Telegram; t.Enabled {
		ts, err := notify.NewTelegramSink(notify.TelegramConfig{Token: t.Token, ChatID: t.ChatID})
		if err != nil {
			return nil, fmt.Errorf("notify.telegram: %w", err)
		}
		sinks = append(sinks, ts)
	}
	return append(sinks, a.extraSinks...), nil
}

// onFired is the dispatcher callback.
func (a *App) onFired(_ context.Context, f dispatch.Firing) error {
	a.log.Info("event fired",
		logx.String("id", f.ID),
		logx.String("group", f.Group),
		logx.String("event", f.Event),
		logx.Time("scheduled_at", f.ScheduledAt),
		logx.Bool("acknowledgeable", f.Acknowledgeable),
	)
	if f.Acknowledgeable {
		a.acks.Track(f)
	}
	a.bus.PublishFiring(f)
	return nil
}

func (a *App) Controller() *Controller { return a.ctrl }

func (a *App) Keypad() *keypad.Router { return a.keypad }

func (a *App) Dispatcher() *dispatch.Dispatcher { return a.disp }

func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Notifier() *notify.Service { return a.notif }

func (a *App) Location() *time.Location { return a.loc }

// Group returns a configured group by name.
func (a *App) Group(name string) (*schedule.Group, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	g, ok := a.groups[name]
	return g, ok
}

// GroupNames lists groups, default first.
func (a *App) GroupNames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.order...)
}

// Done is closed when the supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Restore loads every group from the store. It never writes to the store.
func (a *App) Restore(ctx context.Context) error {
	for _, name := range a.GroupNames() {
		g, _ := a.Group(name)
		if err := g.RetrieveAll(ctx); err != nil {
			return fmt.Errorf("group %q: %w", name, err)
		}
	}
	return nil
}

// Seed creates configured events that the groups do not hold yet.
// Persistent ones are saved.
func (a *App) Seed(ctx context.Context) error {
	for _, gc := range a.cfg.Groups {
		g, _ := a.Group(strings.TrimSpace(gc.Name))
		for _, ec := range gc.Events {
			if g.Contains(strings.TrimSpace(ec.Name)) {
				continue
			}
			def, err := mapDefinition(ec, a.loc)
			if err != nil {
				return err
			}
			if _, err := g.CreateEvent(ctx, def); err != nil {
				return fmt.Errorf("seed %s/%s: %w", g.Name(), def.Name, err)
			}
			if ec.Disabled {
				if err := g.Disable(ctx, def.Name); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	run := a.sup.Context()

	if err := a.Restore(run); err != nil {
		return err
	}
	if err := a.Seed(run); err != nil {
		return err
	}

	a.sup.Go("dispatch", a.disp.Run)

	a.notif.Start(run)
	a.sup.Go("notify.bus", func(c context.Context) error { return a.notif.Run(c, a.bus) })

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", string(e.Type)), logx.Time("time", e.Time))
			}
		}
	})

	hk, err := a.newHousekeeping(run)
	if err != nil {
		return err
	}
	a.cron = hk
	a.cron.Start()

	if a.cfg.Keypad.Console && a.in != nil {
		a.sup.Go("keypad.console", func(c context.Context) error {
			err := a.console.Run(c, a.in)
			if err != nil {
				a.log.Warn("keypad console stopped", logx.Err(err))
			}
			return nil
		})
	}

	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
			_, err := mapNotifyConfig(cfg, a.loc)
			return err
		})
		sub := a.cfgm.Subscribe(8)
		a.sup.Go0("config.reload", func(c context.Context) {
			defer a.cfgm.Unsubscribe(sub)
			for {
				select {
				case <-c.Done():
					return
				case next, ok := <-sub:
					if !ok {
						return
					}
					a.applyConfig(c, next)
				}
			}
		})
		a.sup.Go("config.watch", a.cfgm.Watch)
	}

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		a.sd.runWatchdog(c, func() bool { return a.sup.Err() == nil })
	})
	a.sd.ready()

	a.log.Info("app started",
		logx.String("groups", strings.Join(a.GroupNames(), ",")),
		logx.Int("pending", len(a.disp.Pending())),
	)
	return nil
}

// applyConfig applies the sections that can change live.
func (a *App) applyConfig(ctx context.Context, next *config.Config) {
	prev := a.cfg
	if restart := config.RestartRequired(prev, next); len(restart) > 0 {
		a.log.Warn("config sections changed; restart required for them to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}
	a.logs.Apply(mapLogging(next))

	nc, err := mapNotifyConfig(next, a.loc)
	if err != nil {
		a.log.Warn("invalid notify config; keeping previous", logx.Err(err))
		return
	}
	wasEnabled := prev.Notify.Enabled
	a.notif.Apply(nc)
	switch {
	case wasEnabled && !nc.Enabled:
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
		a.log.Info("notifications disabled via config")
	case !wasEnabled && nc.Enabled:
		a.notif.Start(ctx)
		a.log.Info("notifications enabled via config")
	}

	merged := *prev
	merged.Logging = next.Logging
	merged.Notify = next.Notify
	a.cfg = &merged
}

// Stop shuts components down in dependency order. Each step is bounded so
// one stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.stopping()
	a.sup.Cancel()

	a.step(ctx, "housekeeping", time.Second, func(c context.Context) error {
		if a.cron == nil {
			return nil
		}
		select {
		case <-a.cron.Stop().Done():
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	a.step(ctx, "groups", 2*time.Second, func(c context.Context) error {
		var errs []error
		for _, name := range a.GroupNames() {
			g, _ := a.Group(name)
			if err := g.Sync(c); err != nil {
				errs = append(errs, err)
			}
			g.Detach()
		}
		return errors.Join(errs...)
	})
	a.step(ctx, "notify", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
	err := a.close()
	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

// close releases the relay and the store.
func (a *App) close() error {
	var errs []error
	if a.relay != nil {
		errs = append(errs, a.relay.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}

// Close releases resources of an app that was never started.
func (a *App) Close() error {
	err := a.close()
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < limit {
			limit = rem
		}
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped (deadline)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
