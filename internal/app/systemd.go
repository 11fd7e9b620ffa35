package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "eventsched/pkg/logx"
)

// sdNotify sends service manager notifications. It is a no-op when
// disabled or when NOTIFY_SOCKET is unset.
type sdNotify struct {
	enabled  bool
	watchdog bool
	log      logx.Logger
	send     func(state string) (bool, error)
	interval func() (time.Duration, error)
}

func newSdNotify(enabled, watchdog bool, log logx.Logger) *sdNotify {
	return &sdNotify{
		enabled:  enabled,
		watchdog: watchdog,
		log:      log.With(logx.String("comp", "systemd")),
		send:     func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		interval: func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) },
	}
}

func (s *sdNotify) notify(state string) {
	if !s.enabled {
		return
	}
	sent, err := s.send(state)
	if err != nil {
		s.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	s.log.Debug("sd_notify", logx.String("state", state), logx.Bool("sent", sent))
}

func (s *sdNotify) ready()    { s.notify(daemon.SdNotifyReady) }
func (s *sdNotify) stopping() { s.notify(daemon.SdNotifyStopping) }

// runWatchdog pings at half the configured WatchdogSec until ctx is done.
// healthy gates each ping.
func (s *sdNotify) runWatchdog(ctx context.Context, healthy func() bool) {
	if !s.enabled || !s.watchdog {
		return
	}
	every, err := s.interval()
	if err != nil || every <= 0 {
		s.log.Debug("watchdog not requested by service manager")
		return
	}
	t := time.NewTicker(every / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if healthy() {
				s.notify(daemon.SdNotifyWatchdog)
			}
		}
	}
}
