package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"eventsched/internal/recurrence"
	logx "eventsched/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Load(ctx context.Context, group string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, description, scheduled_at, recurrence, weekdays, acknowledgeable, persistent, enabled
		 FROM events WHERE group_name = ? ORDER BY position`, group)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			name, desc, at, kind, days string
			ack, persistent, enabled   int
		)
		if err := rows.Scan(&name, &desc, &at, &kind, &days, &ack, &persistent, &enabled); err != nil {
			return nil, err
		}
		ts, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("event %q: scheduled_at: %w", name, err)
		}
		rule, err := decodeRule(kind, splitDays(days))
		if err != nil {
			return nil, fmt.Errorf("event %q: %w", name, err)
		}
		out = append(out, Record{
			Name:            name,
			Description:     desc,
			ScheduledTime:   ts,
			Recurrence:      rule,
			Acknowledgeable: ack != 0,
			Persistent:      persistent != 0,
			Enabled:         enabled != 0,
		})
	}
	return out, rows.Err()
}

func (s *sqliteStore) Save(ctx context.Context, group string, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE group_name = ?`, group); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events(group_name, name, position, description, scheduled_at, recurrence, weekdays, acknowledgeable, persistent, enabled)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, r := range persistentOnly(records) {
		days := ""
		if r.Recurrence.Kind == recurrence.KindWeekly {
			days = strings.Join(r.Recurrence.Days.Names(), ",")
		}
		if _, err := stmt.ExecContext(ctx,
			group, r.Name, i, r.Description, r.ScheduledTime.Format(time.RFC3339Nano),
			r.Recurrence.Kind.String(), days,
			boolInt(r.Acknowledgeable), boolInt(r.Persistent), boolInt(r.Enabled),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) RemoveAll(ctx context.Context, group string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE group_name = ?`, group)
	return err
}

// Compact checkpoints the WAL back into the main database file.
func (s *sqliteStore) Compact(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func splitDays(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
