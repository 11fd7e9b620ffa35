// Package notify turns firings into human-readable notifications and delivers
// them to sinks (console, telegram) through a rate-limited worker pool.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"eventsched/internal/dispatch"
	"eventsched/internal/eventbus"
	rtsup "eventsched/internal/runtime/supervisor"
	logx "eventsched/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notify: disabled")
	ErrQueueFull = errors.New("notify: queue full")
	ErrStopped   = errors.New("notify: stopped")
)

const historyCap = 300

// Service is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	sinks []Sink

	cfg     Config
	limiter *rate.Limiter

	queue chan Message
	sup   *rtsup.Supervisor

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sinks []Sink, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log.With(logx.String("comp", "notify")), sinks: sinks}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start launches the workers. It is a no-op when disabled or already started.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan Message, s.cfg.QueueSize)
	s.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	q, sup, workers := s.queue, s.sup, s.cfg.Workers
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("notify.worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			return c.Err()
		}, rtsup.WithPublishFirstError(true))
	}
}

// Stop closes intake and waits for the queue to drain until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q, sup := s.queue, s.sup
	s.queue, s.sup = nil, nil
	s.mu.Unlock()
	if q == nil {
		return
	}
	close(q)
	if err := sup.Wait(ctx); err != nil && errors.Is(err, context.DeadlineExceeded) {
		sup.Cancel()
	}
}

// Notify queues m for every sink.
func (s *Service) Notify(m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled {
		return ErrDisabled
	}
	if s.queue == nil {
		return ErrStopped
	}
	select {
	case s.queue <- m:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run forwards fired events from bus until ctx is done.
func (s *Service) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			f, ok := ev.Firing()
			if !ok {
				continue
			}
			if err := s.Notify(Message{Text: s.Format(f), Firing: f}); err != nil && !errors.Is(err, ErrDisabled) {
				s.log.Warn("notification not queued", logx.String("event", f.Event), logx.Err(err))
			}
		}
	}
}

// Format renders f as "Event <name>, triggered @ HH:MM".
func (s *Service) Format(f dispatch.Firing) string {
	s.mu.Lock()
	loc := s.cfg.Location
	s.mu.Unlock()
	return fmt.Sprintf("Event %s, triggered @ %s", f.Event, f.ScheduledAt.In(loc).Format("15:04"))
}

func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(item HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > historyCap {
		s.history = s.history[len(s.history)-historyCap:]
	}
	s.hmu.Unlock()
}

func (s *Service) workerLoop(ctx context.Context, q <-chan Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-q:
			if !ok {
				return
			}
			for _, sink := range s.sinks {
				s.sendWithRetry(ctx, sink, m)
			}
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, sink Sink, m Message) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := sink.Send(callCtx, m)
		cancel()
		if err == nil {
			s.appendHistory(HistoryItem{At: time.Now(), Sink: sink.Name(), Text: m.Text})
			return
		}
		lastErr = err
		s.log.Debug("notify send failed", logx.String("sink", sink.Name()), logx.Err(err), logx.Int("attempt", attempt))
		if attempt >= attempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	s.appendHistory(HistoryItem{At: time.Now(), Sink: sink.Name(), Text: m.Text, Err: lastErr.Error()})
	s.log.Warn("notification failed", logx.String("sink", sink.Name()), logx.Err(lastErr))
}

func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			return cfg.RetryMaxDelay
		}
	}
	return d
}
