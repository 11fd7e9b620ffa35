// Package storage persists scheduled event definitions per group.
//
// Drivers:
//   - "memory": process-local, used by tests and when persistence is disabled
//   - "file": JSON snapshot + append-only journal (afero filesystem)
//   - "sqlite": SQLite database file (modernc.org/sqlite, pure Go)
//
// Only persistent records are ever written. Writes happen synchronously so a
// successful Save survives a crash right after it returns.
package storage
