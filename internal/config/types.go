package config

// Config is the eventsched configuration file.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// JSON and YAML are accepted; unknown keys are rejected.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	Groups    []GroupConfig   `json:"groups,omitempty"`
	Keypad    KeypadConfig    `json:"keypad"`
	Relay     RelayConfig     `json:"relay"`
	Notify    NotifyConfig    `json:"notify"`
	Systemd   SystemdConfig   `json:"systemd"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the dispatcher.
//
// Defaults:
//   - timezone: local
//   - workers: 1 (callbacks stay in firing order)
//   - queue_size: 64
//   - max_sleep: "1m"
//   - default_group: "main"
//   - ack_capacity: 256
//   - ack_ttl: "24h"
type SchedulerConfig struct {
	Timezone     string `json:"timezone,omitempty"`
	Workers      int    `json:"workers,omitempty"`
	QueueSize    int    `json:"queue_size,omitempty"`
	MaxSleep     string `json:"max_sleep,omitempty"`
	DefaultGroup string `json:"default_group,omitempty"`
	AckCapacity  int    `json:"ack_capacity,omitempty"`
	AckTTL       string `json:"ack_ttl,omitempty"`
}

// StorageConfig selects the EventStore.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/eventsched.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	// CompactSchedule is a cron spec for store maintenance (default "@every 1h").
	CompactSchedule string `json:"compact_schedule,omitempty"`
}

// GroupConfig declares a group and the events seeded into it at start when
// they are not already stored.
type GroupConfig struct {
	Name   string        `json:"name"`
	Events []EventConfig `json:"events,omitempty"`
}

// EventConfig describes an event. At accepts RFC 3339 or "2006-01-02 15:04"
// in the scheduler timezone. No weekdays means a one-shot event.
type EventConfig struct {
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	At              string   `json:"at"`
	Weekdays        []string `json:"weekdays,omitempty"`
	Acknowledgeable bool     `json:"acknowledgeable,omitempty"`
	// Persistent defaults to true.
	Persistent *bool `json:"persistent,omitempty"`
	Disabled   bool  `json:"disabled,omitempty"`
}

func (e EventConfig) IsPersistent() bool { return e.Persistent == nil || *e.Persistent }

// KeypadConfig binds buttons to actions. Console enables reading presses
// from stdin.
type KeypadConfig struct {
	Console bool           `json:"console"`
	Group   string         `json:"group,omitempty"`
	Buttons []ButtonConfig `json:"buttons,omitempty"`
}

// ButtonConfig is one binding.
//
// Actions: create_weekly (uses Event), clear, query (uses Event.Name),
// forward (uses Payload: text with Go escapes, or "hex:..."), ack.
type ButtonConfig struct {
	Number     int         `json:"number"`
	Action     string      `json:"action"`
	Event      EventConfig `json:"event,omitempty"`
	ClearFirst bool        `json:"clear_first,omitempty"`
	Payload    string      `json:"payload,omitempty"`
}

// RelayConfig is the ForwardRawBytes target.
type RelayConfig struct {
	Driver      string `json:"driver"` // discard|stdout|file|tcp
	Target      string `json:"target,omitempty"`
	BytesPerSec int    `json:"bytes_per_sec,omitempty"`
	Burst       int    `json:"burst,omitempty"`
	DialTimeout string `json:"dial_timeout,omitempty"`
}

// NotifyConfig controls notifications for fired events.
type NotifyConfig struct {
	Enabled       bool           `json:"enabled"`
	Console       bool           `json:"console"`
	Workers       int            `json:"workers,omitempty"`
	QueueSize     int            `json:"queue_size,omitempty"`
	RatePerSec    int            `json:"rate_per_sec,omitempty"`
	RetryMax      int            `json:"retry_max,omitempty"`
	RetryBase     string         `json:"retry_base,omitempty"`
	RetryMaxDelay string         `json:"retry_max_delay,omitempty"`
	Telegram      NotifyTelegram `json:"telegram"`
}

type NotifyTelegram struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
	ChatID  int64  `json:"chat_id,omitempty"`
}

// SystemdConfig enables sd_notify integration (READY/STOPPING, watchdog).
type SystemdConfig struct {
	Notify   bool `json:"notify"`
	Watchdog bool `json:"watchdog"`
}
