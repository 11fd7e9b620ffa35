// Package calendar exports scheduled events as an iCalendar (RFC 5545) feed.
package calendar

import (
	"fmt"
	"io"
	"time"

	ics "github.com/arran4/golang-ical"

	"eventsched/internal/recurrence"
	"eventsched/internal/schedule"
)

const productID = "-//eventsched//scheduled events//EN"

// Options tune the export.
type Options struct {
	// IncludeDisabled exports disabled events with STATUS:CANCELLED.
	IncludeDisabled bool
	// Stamp is the DTSTAMP value; zero means time.Now().
	Stamp time.Time
}

// Build turns the events of group into a calendar.
func Build(group string, events []schedule.Event, opts Options) *ics.Calendar {
	stamp := opts.Stamp
	if stamp.IsZero() {
		stamp = time.Now()
	}
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(productID)
	cal.SetName(group)

	for _, ev := range events {
		if !ev.Enabled && !opts.IncludeDisabled {
			continue
		}
		ve := cal.AddEvent(UID(group, ev.Name))
		ve.SetDtStampTime(stamp)
		ve.SetSummary(ev.Name)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		setStart(ve, ev.ScheduledTime)
		if rr := recurrence.RRule(ev.Recurrence); rr != "" {
			ve.SetProperty(ics.ComponentPropertyRrule, rr)
		}
		if !ev.Enabled {
			ve.SetProperty(ics.ComponentPropertyStatus, "CANCELLED")
		}
		if ev.Acknowledgeable {
			ve.SetProperty(ics.ComponentPropertyCategories, "ACKNOWLEDGE")
		}
	}
	return cal
}

// Export writes the calendar for group to w.
func Export(w io.Writer, group string, events []schedule.Event, opts Options) error {
	_, err := io.WriteString(w, Build(group, events, opts).Serialize())
	return err
}

// UID is the stable identifier of an event in exported feeds.
func UID(group, name string) string {
	return fmt.Sprintf("%s.%s@eventsched", group, name)
}

// setStart keeps weekly rules on the anchor's wall-clock days: UTC anchors use
// the Z form, others are written as floating local time.
func setStart(ve *ics.VEvent, at time.Time) {
	if at.Location() == time.UTC {
		ve.SetStartAt(at)
		return
	}
	ve.SetProperty(ics.ComponentPropertyDtStart, at.Format("20060102T150405"))
}
