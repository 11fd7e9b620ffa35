package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"eventsched/internal/recurrence"
)

// DefaultCompactSchedule runs store maintenance hourly.
const DefaultCompactSchedule = "@every 1h"

var eventTimeLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
}

// Location resolves the scheduler timezone ("" and "local" mean time.Local).
func (s SchedulerConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(s.Timezone)
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}

func (s SchedulerConfig) Group() string {
	if g := strings.TrimSpace(s.DefaultGroup); g != "" {
		return g
	}
	return "main"
}

// ParseEventTime accepts RFC 3339 or a wall-clock layout interpreted in loc.
func ParseEventTime(raw string, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, errors.New("time is required")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range eventTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q (want RFC 3339 or YYYY-MM-DD HH:MM)", raw)
}

// Rule builds the recurrence rule of e.
func (e EventConfig) Rule() (recurrence.Rule, error) {
	if len(e.Weekdays) == 0 {
		return recurrence.None(), nil
	}
	days, err := recurrence.ParseWeekdaySet(e.Weekdays)
	if err != nil {
		return recurrence.Rule{}, err
	}
	return recurrence.Weekly(days)
}

func (e EventConfig) validate(path string, loc *time.Location) error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("%s.name is required", path)
	}
	if _, err := ParseEventTime(e.At, loc); err != nil {
		return fmt.Errorf("%s.at: %w", path, err)
	}
	if _, err := e.Rule(); err != nil {
		return fmt.Errorf("%s.weekdays: %w", path, err)
	}
	return nil
}

// Validate checks cross-field rules. It does not touch the filesystem.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return err
	}
	if cfg.Scheduler.Workers < 0 || cfg.Scheduler.QueueSize < 0 {
		return errors.New("scheduler.workers and scheduler.queue_size must be >= 0")
	}
	for path, raw := range map[string]string{
		"scheduler.max_sleep":    cfg.Scheduler.MaxSleep,
		"scheduler.ack_ttl":      cfg.Scheduler.AckTTL,
		"storage.busy_timeout":   cfg.Storage.BusyTimeout,
		"relay.dial_timeout":     cfg.Relay.DialTimeout,
		"notify.retry_base":      cfg.Notify.RetryBase,
		"notify.retry_max_delay": cfg.Notify.RetryMaxDelay,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "none", "memory":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			return fmt.Errorf("storage.path is required for driver %q", cfg.Storage.Driver)
		}
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}
	if spec := strings.TrimSpace(cfg.Storage.CompactSchedule); spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("storage.compact_schedule: %w", err)
		}
	}

	seenGroups := map[string]bool{}
	for i, g := range cfg.Groups {
		name := strings.TrimSpace(g.Name)
		if name == "" {
			return fmt.Errorf("groups[%d].name is required", i)
		}
		if seenGroups[name] {
			return fmt.Errorf("groups[%d]: duplicate group %q", i, name)
		}
		seenGroups[name] = true
		seenEvents := map[string]bool{}
		for j, e := range g.Events {
			path := fmt.Sprintf("groups[%d].events[%d]", i, j)
			if err := e.validate(path, loc); err != nil {
				return err
			}
			ename := strings.TrimSpace(e.Name)
			if seenEvents[ename] {
				return fmt.Errorf("%s: duplicate event %q", path, ename)
			}
			seenEvents[ename] = true
		}
	}

	seenButtons := map[int]bool{}
	for i, b := range cfg.Keypad.Buttons {
		path := fmt.Sprintf("keypad.buttons[%d]", i)
		if b.Number <= 0 {
			return fmt.Errorf("%s.number must be > 0", path)
		}
		if seenButtons[b.Number] {
			return fmt.Errorf("%s: button %d bound twice", path, b.Number)
		}
		seenButtons[b.Number] = true
		switch strings.ToLower(strings.TrimSpace(b.Action)) {
		case "create_weekly":
			if err := b.Event.validate(path+".event", loc); err != nil {
				return err
			}
			if len(b.Event.Weekdays) == 0 {
				return fmt.Errorf("%s.event.weekdays: %w", path, recurrence.ErrEmptyRecurrence)
			}
		case "query":
			if strings.TrimSpace(b.Event.Name) == "" {
				return fmt.Errorf("%s.event.name is required for query", path)
			}
		case "forward":
			if b.Payload == "" {
				return fmt.Errorf("%s.payload is required for forward", path)
			}
		case "clear", "ack":
		default:
			return fmt.Errorf("%s.action: unknown action %q", path, b.Action)
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Relay.Driver)) {
	case "", "discard", "stdout":
	case "file", "tcp":
		if strings.TrimSpace(cfg.Relay.Target) == "" {
			return fmt.Errorf("relay.target is required for driver %q", cfg.Relay.Driver)
		}
	default:
		return fmt.Errorf("relay.driver: unknown driver %q", cfg.Relay.Driver)
	}

	if t := cfg.Notify.Telegram; t.Enabled && (strings.TrimSpace(t.Token) == "" || t.ChatID == 0) {
		return errors.New("notify.telegram requires token and chat_id when enabled")
	}
	return nil
}
