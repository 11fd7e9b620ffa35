package recurrence

import (
	"fmt"
	"strings"
	"time"
)

// WeekdaySet is a set of weekdays. The zero value is the empty set.
type WeekdaySet struct {
	days [7]bool
}

// NewWeekdaySet returns a set containing days. Out-of-range values are ignored.
func NewWeekdaySet(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s = s.Add(d)
	}
	return s
}

// EveryDay returns the set of all seven weekdays.
func EveryDay() WeekdaySet {
	return NewWeekdaySet(time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday)
}

// Add returns a copy of s that also contains d.
func (s WeekdaySet) Add(d time.Weekday) WeekdaySet {
	if d >= time.Sunday && d <= time.Saturday {
		s.days[d] = true
	}
	return s
}

// Remove returns a copy of s without d.
func (s WeekdaySet) Remove(d time.Weekday) WeekdaySet {
	if d >= time.Sunday && d <= time.Saturday {
		s.days[d] = false
	}
	return s
}

// Union returns the days present in s or o.
func (s WeekdaySet) Union(o WeekdaySet) WeekdaySet {
	for i := range s.days {
		s.days[i] = s.days[i] || o.days[i]
	}
	return s
}

func (s WeekdaySet) Has(d time.Weekday) bool {
	if d < time.Sunday || d > time.Saturday {
		return false
	}
	return s.days[d]
}

func (s WeekdaySet) Len() int {
	n := 0
	for _, ok := range s.days {
		if ok {
			n++
		}
	}
	return n
}

func (s WeekdaySet) IsEmpty() bool { return s.Len() == 0 }

// Days lists the members in Sunday-first order.
func (s WeekdaySet) Days() []time.Weekday {
	out := make([]time.Weekday, 0, 7)
	for i, ok := range s.days {
		if ok {
			out = append(out, time.Weekday(i))
		}
	}
	return out
}

// Names lists the members as lowercase English names ("monday", ...).
func (s WeekdaySet) Names() []string {
	days := s.Days()
	out := make([]string, 0, len(days))
	for _, d := range days {
		out = append(out, strings.ToLower(d.String()))
	}
	return out
}

// String renders the set as "Mon,Tue,Fri" ("-" for the empty set).
func (s WeekdaySet) String() string {
	days := s.Days()
	if len(days) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(days))
	for _, d := range days {
		parts = append(parts, d.String()[:3])
	}
	return strings.Join(parts, ",")
}

// ParseWeekday accepts full or three-letter English names, case-insensitive.
func ParseWeekday(raw string) (time.Weekday, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("recurrence: invalid weekday %q", raw)
}

// ParseWeekdaySet parses every name; an empty input yields the empty set.
func ParseWeekdaySet(names []string) (WeekdaySet, error) {
	var s WeekdaySet
	for _, n := range names {
		d, err := ParseWeekday(n)
		if err != nil {
			return WeekdaySet{}, err
		}
		s = s.Add(d)
	}
	return s, nil
}
