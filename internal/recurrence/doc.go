// Package recurrence computes the next fire instant of a scheduled event.
//
// A Rule is either one-shot (KindNone) or weekly on a set of weekdays
// (KindWeekly). The anchor instant passed to Next fixes both the earliest
// possible occurrence (its date) and the wall-clock time-of-day reused by
// every weekly occurrence.
//
// The package is pure computation: no state, no I/O.
package recurrence
