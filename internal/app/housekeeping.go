package app

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"eventsched/internal/config"
	"eventsched/internal/storage"
	logx "eventsched/pkg/logx"
)

const compactTimeout = 30 * time.Second

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug(msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error(msg, logx.Err(err), logx.Any("kv", kv))
}

// newHousekeeping schedules store compaction and pruning of stale
// acknowledgements. The returned cron is not started.
func (a *App) newHousekeeping(ctx context.Context) (*cron.Cron, error) {
	log := a.log.With(logx.String("comp", "housekeeping"))
	c := cron.New(
		cron.WithLocation(a.loc),
		cron.WithLogger(cronLogger{log: log}),
		cron.WithChain(cron.Recover(cronLogger{log: log}), cron.SkipIfStillRunning(cronLogger{log: log})),
	)
	spec := strings.TrimSpace(a.cfg.Storage.CompactSchedule)
	if spec == "" {
		spec = config.DefaultCompactSchedule
	}
	if _, err := c.AddFunc(spec, func() { a.housekeep(ctx) }); err != nil {
		return nil, err
	}
	return c, nil
}

func (a *App) housekeep(ctx context.Context) {
	if comp, ok := a.store.(storage.Compactor); ok {
		cctx, cancel := context.WithTimeout(ctx, compactTimeout)
		err := comp.Compact(cctx)
		cancel()
		if err != nil {
			a.log.Warn("store compaction failed", logx.Err(err))
		} else {
			a.log.Debug("store compacted")
		}
	}
	if a.ackTTL > 0 {
		if n := a.acks.Prune(a.clk.Now().Add(-a.ackTTL)); n > 0 {
			a.log.Info("stale acknowledgements pruned", logx.Int("count", n))
		}
	}
}
