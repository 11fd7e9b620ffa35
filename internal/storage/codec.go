package storage

import (
	"fmt"
	"time"

	"eventsched/internal/recurrence"
)

// fileEvent is the JSON shape used by the file driver (snapshot and journal).
type fileEvent struct {
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	ScheduledTime   string   `json:"scheduled_time"`
	Recurrence      string   `json:"recurrence"`
	Weekdays        []string `json:"weekdays,omitempty"`
	Acknowledgeable bool     `json:"acknowledgeable"`
	Persistent      bool     `json:"persistent"`
	Enabled         bool     `json:"enabled"`
}

func encodeRecord(r Record) fileEvent {
	fe := fileEvent{
		Name:            r.Name,
		Description:     r.Description,
		ScheduledTime:   r.ScheduledTime.Format(time.RFC3339Nano),
		Recurrence:      r.Recurrence.Kind.String(),
		Acknowledgeable: r.Acknowledgeable,
		Persistent:      r.Persistent,
		Enabled:         r.Enabled,
	}
	if r.Recurrence.Kind == recurrence.KindWeekly {
		fe.Weekdays = r.Recurrence.Days.Names()
	}
	return fe
}

func decodeRecord(fe fileEvent) (Record, error) {
	ts, err := time.Parse(time.RFC3339Nano, fe.ScheduledTime)
	if err != nil {
		return Record{}, fmt.Errorf("event %q: scheduled_time: %w", fe.Name, err)
	}
	rule, err := decodeRule(fe.Recurrence, fe.Weekdays)
	if err != nil {
		return Record{}, fmt.Errorf("event %q: %w", fe.Name, err)
	}
	return Record{
		Name:            fe.Name,
		Description:     fe.Description,
		ScheduledTime:   ts,
		Recurrence:      rule,
		Acknowledgeable: fe.Acknowledgeable,
		Persistent:      fe.Persistent,
		Enabled:         fe.Enabled,
	}, nil
}

func decodeRule(kind string, weekdays []string) (recurrence.Rule, error) {
	k, err := recurrence.ParseKind(kind)
	if err != nil {
		return recurrence.Rule{}, err
	}
	if k == recurrence.KindNone {
		return recurrence.None(), nil
	}
	days, err := recurrence.ParseWeekdaySet(weekdays)
	if err != nil {
		return recurrence.Rule{}, err
	}
	return recurrence.Weekly(days)
}

func encodeRecords(records []Record) []fileEvent {
	out := make([]fileEvent, 0, len(records))
	for _, r := range records {
		out = append(out, encodeRecord(r))
	}
	return out
}

func decodeRecords(events []fileEvent) ([]Record, error) {
	out := make([]Record, 0, len(events))
	for _, fe := range events {
		r, err := decodeRecord(fe)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
