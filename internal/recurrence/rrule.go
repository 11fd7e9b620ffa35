package recurrence

import (
	"time"

	"github.com/teambition/rrule-go"
)

var rruleDays = map[time.Weekday]rrule.Weekday{
	time.Sunday:    rrule.SU,
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
}

// ROption converts a weekly rule into rrule-go options anchored at dtstart.
// ok is false for one-shot rules.
func ROption(rule Rule, dtstart time.Time) (rrule.ROption, bool) {
	if rule.Kind != KindWeekly || rule.Days.IsEmpty() {
		return rrule.ROption{}, false
	}
	days := rule.Days.Days()
	by := make([]rrule.Weekday, 0, len(days))
	for _, d := range days {
		by = append(by, rruleDays[d])
	}
	return rrule.ROption{
		Freq:      rrule.WEEKLY,
		Byweekday: by,
		Dtstart:   dtstart,
	}, true
}

// RRule renders rule as an RFC 5545 RRULE value, e.g. "FREQ=WEEKLY;BYDAY=MO,TU,FR".
// One-shot rules render as "".
func RRule(rule Rule) string {
	opt, ok := ROption(rule, time.Time{})
	if !ok {
		return ""
	}
	return opt.RRuleString()
}
