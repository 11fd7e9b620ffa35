// Package schedule implements event groups: named namespaces of scheduled
// events that enforce name uniqueness, enable/disable and bulk clear, persist
// through a storage.Store and register their next fire instants with a
// dispatcher.
package schedule
