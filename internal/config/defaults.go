package config

// Default returns a working configuration: in-memory storage, console
// notifications and the four demo buttons.
func Default() *Config {
	return &Config{
		Logging:   LoggingConfig{Level: "info", Console: true},
		Scheduler: SchedulerConfig{DefaultGroup: "main"},
		Storage:   StorageConfig{Driver: "memory"},
		Keypad: KeypadConfig{
			Console: true,
			Buttons: []ButtonConfig{
				{Number: 1, Action: "create_weekly", ClearFirst: true, Event: EventConfig{
					Name:        "MyEvent",
					Description: "My first event",
					At:          "2019-03-11 10:30",
					Weekdays:    []string{"monday", "tuesday", "friday"},
				}},
				{Number: 2, Action: "clear"},
				{Number: 3, Action: "query", Event: EventConfig{Name: "MyEvent"}},
				{Number: 4, Action: "forward", Payload: `1234\r`},
			},
		},
		Relay:  RelayConfig{Driver: "discard"},
		Notify: NotifyConfig{Enabled: true, Console: true},
	}
}
