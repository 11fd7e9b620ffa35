package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/afero"

	"eventsched/internal/config"
	"eventsched/internal/dispatch"
	"eventsched/internal/keypad"
	"eventsched/internal/notify"
	"eventsched/internal/relay"
	"eventsched/internal/schedule"
	"eventsched/internal/storage"
	logx "eventsched/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config, fs afero.Fs) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
		Fs:          fs,
	}, nil
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	maxSleep, err := config.ParseDurationField("scheduler.max_sleep", cfg.Scheduler.MaxSleep)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		Workers:   cfg.Scheduler.Workers,
		QueueSize: cfg.Scheduler.QueueSize,
		MaxSleep:  maxSleep,
	}, nil
}

func mapNotifyConfig(cfg *config.Config, loc *time.Location) (notify.Config, error) {
	n := cfg.Notify
	base, err := config.ParseDurationField("notify.retry_base", n.RetryBase)
	if err != nil {
		return notify.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("notify.retry_max_delay", n.RetryMaxDelay)
	if err != nil {
		return notify.Config{}, err
	}
	return notify.Config{
		Enabled:       n.Enabled,
		Workers:       n.Workers,
		QueueSize:     n.QueueSize,
		RatePerSec:    n.RatePerSec,
		RetryMax:      n.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		Location:      loc,
	}, nil
}

func mapRelayConfig(cfg *config.Config) (relay.Config, error) {
	dial, err := config.ParseDurationField("relay.dial_timeout", cfg.Relay.DialTimeout)
	if err != nil {
		return relay.Config{}, err
	}
	return relay.Config{
		Driver:      cfg.Relay.Driver,
		Target:      cfg.Relay.Target,
		BytesPerSec: cfg.Relay.BytesPerSec,
		Burst:       cfg.Relay.Burst,
		DialTimeout: dial,
	}, nil
}

// mapDefinition turns a configured event into a group definition.
func mapDefinition(e config.EventConfig, loc *time.Location) (schedule.Definition, error) {
	at, err := config.ParseEventTime(e.At, loc)
	if err != nil {
		return schedule.Definition{}, fmt.Errorf("event %q: %w", e.Name, err)
	}
	rule, err := e.Rule()
	if err != nil {
		return schedule.Definition{}, fmt.Errorf("event %q: %w", e.Name, err)
	}
	return schedule.Definition{
		Name:            strings.TrimSpace(e.Name),
		Description:     e.Description,
		ScheduledTime:   at,
		Recurrence:      rule,
		Acknowledgeable: e.Acknowledgeable,
		Persistent:      e.IsPersistent(),
	}, nil
}

func mapBindings(cfg *config.Config, loc *time.Location) ([]keypad.Binding, error) {
	out := make([]keypad.Binding, 0, len(cfg.Keypad.Buttons))
	for _, b := range cfg.Keypad.Buttons {
		action, err := keypad.ParseAction(b.Action)
		if err != nil {
			return nil, fmt.Errorf("button %d: %w", b.Number, err)
		}
		kb := keypad.Binding{Button: b.Number, Action: action, Event: strings.TrimSpace(b.Event.Name)}
		switch action {
		case keypad.ActionCreateWeekly:
			def, err := mapDefinition(b.Event, loc)
			if err != nil {
				return nil, fmt.Errorf("button %d: %w", b.Number, err)
			}
			kb.Weekly = keypad.WeeklyRequest{
				Name:            def.Name,
				Description:     def.Description,
				At:              def.ScheduledTime,
				Days:            def.Recurrence.Days,
				Acknowledgeable: def.Acknowledgeable,
				Persistent:      def.Persistent,
				ClearFirst:      b.ClearFirst,
			}
		case keypad.ActionForward:
			payload, err := relay.ParsePayload(b.Payload)
			if err != nil {
				return nil, fmt.Errorf("button %d: %w", b.Number, err)
			}
			kb.Payload = payload
		}
		out = append(out, kb)
	}
	return out, nil
}

// groupNames lists the default group first, then configured groups.
func groupNames(cfg *config.Config) []string {
	names := []string{cfg.Scheduler.Group()}
	if g := strings.TrimSpace(cfg.Keypad.Group); g != "" && g != names[0] {
		names = append(names, g)
	}
	for _, g := range cfg.Groups {
		name := strings.TrimSpace(g.Name)
		dup := false
		for _, n := range names {
			if n == name {
				dup = true
				break
			}
		}
		if !dup {
			names = append(names, name)
		}
	}
	return names
}
