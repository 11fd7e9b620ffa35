// Package dispatch fires scheduled events at their due instant.
//
// A Dispatcher owns a min-heap of (group, event, instant) registrations and a
// single scheduling goroutine (Run). When an entry comes due the owning group
// is asked to advance it (Owner.Advance); the group decides whether the entry
// is still current and re-registers the next occurrence itself. Accepted
// firings are handed to a Handler on a bounded worker pool.
//
// Lock order is owner before dispatcher: owners call Register/Cancel while
// holding their own lock, and the dispatcher never holds its lock while
// calling an owner or a handler.
package dispatch
