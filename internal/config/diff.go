package config

import (
	"encoding/json"
	"sort"
)

// ChangedSections lists the top-level sections that differ between a and b,
// sorted. A nil side counts as every section changed.
func ChangedSections(a, b *Config) []string {
	sections := map[string][2]any{}
	if a == nil {
		a = &Config{}
	}
	if b == nil {
		b = &Config{}
	}
	sections["logging"] = [2]any{a.Logging, b.Logging}
	sections["scheduler"] = [2]any{a.Scheduler, b.Scheduler}
	sections["storage"] = [2]any{a.Storage, b.Storage}
	sections["groups"] = [2]any{a.Groups, b.Groups}
	sections["keypad"] = [2]any{a.Keypad, b.Keypad}
	sections["relay"] = [2]any{a.Relay, b.Relay}
	sections["notify"] = [2]any{a.Notify, b.Notify}
	sections["systemd"] = [2]any{a.Systemd, b.Systemd}

	var out []string
	for name, pair := range sections {
		if !sameJSON(pair[0], pair[1]) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func sameJSON(a, b any) bool {
	ja, err1 := json.Marshal(a)
	jb, err2 := json.Marshal(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return string(ja) == string(jb)
}

// RestartRequired reports sections changed between a and b that are only
// read at startup. Logging and notify apply live.
func RestartRequired(a, b *Config) []string {
	var out []string
	for _, s := range ChangedSections(a, b) {
		switch s {
		case "logging", "notify":
		default:
			out = append(out, s)
		}
	}
	return out
}
