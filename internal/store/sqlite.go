package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver

	"homecal/internal/calendar"
	appLog "homecal/internal/log"
	"homecal/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS events (
	id              TEXT PRIMARY KEY,
	title           TEXT NOT NULL DEFAULT '',
	description     TEXT NOT NULL DEFAULT '',
	location        TEXT NOT NULL DEFAULT '',
	start_at        TEXT NOT NULL,
	end_at          TEXT NOT NULL,
	timezone        TEXT NOT NULL DEFAULT '',
	all_day         INTEGER NOT NULL DEFAULT 0,
	recurrence_rule TEXT NOT NULL DEFAULT '',
	exception_dates TEXT NOT NULL DEFAULT '[]',
	addition_dates  TEXT NOT NULL DEFAULT '[]',
	source          TEXT NOT NULL DEFAULT 'native'
);
CREATE INDEX IF NOT EXISTS idx_events_source ON events(source);
CREATE INDEX IF NOT EXISTS idx_events_start ON events(start_at);
`

// SQLite is the default file-backed Store.
type SQLite struct {
	db   *sql.DB
	path string
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		path = "homecal.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("store: create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	appLog.Debug("store: sqlite ready", "path", path)
	return &SQLite{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *SQLite) Path() string {
	return s.path
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) ListEvents(ctx context.Context, w calendar.Window) ([]model.EventDefinition, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	ws, we := listArgs(w)
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events
		WHERE (recurrence_rule <> '' AND start_at <= ?)
		   OR addition_dates <> '[]'
		   OR (start_at <= ? AND (end_at >= ? OR start_at >= ?))
		ORDER BY start_at, id`, we, we, ws, ws)
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		r, err := scanSQLiteRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	return decodeRows(out), nil
}

func (s *SQLite) GetEvent(ctx context.Context, id string) (model.EventDefinition, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	r, err := scanSQLiteRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.EventDefinition{}, ErrNotFound
	}
	if err != nil {
		return model.EventDefinition{}, err
	}
	def, dropped, err := r.Decode()
	if err != nil {
		return model.EventDefinition{}, err
	}
	for _, d := range dropped {
		appLog.Warn("store: dropping date value", "id", id, "err", d)
	}
	return def, nil
}

func (s *SQLite) PutEvent(ctx context.Context, def model.EventDefinition) error {
	if def.ID == "" {
		return errors.New("store: event id is required")
	}
	return putSQLite(ctx, s.db, EncodeRow(def))
}

func (s *SQLite) DeleteEvent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete event: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) ReplaceSource(ctx context.Context, source string, defs []model.EventDefinition) ([]model.EventDefinition, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE source = ?`, source)
	if err != nil {
		return nil, fmt.Errorf("store: load source %q: %w", source, err)
	}
	var previous []EventRow
	for rows.Next() {
		r, err := scanSQLiteRow(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		previous = append(previous, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: load source %q: %w", source, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE source = ?`, source); err != nil {
		return nil, fmt.Errorf("store: clear source %q: %w", source, err)
	}
	for _, def := range defs {
		row := EncodeRow(def)
		row.Source = source
		if err := putSQLite(ctx, tx, row); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit: %w", err)
	}
	return decodeRows(previous), nil
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func putSQLite(ctx context.Context, db sqlExecer, r EventRow) error {
	exceptions, err := json.Marshal(nonNil(r.ExceptionDates))
	if err != nil {
		return fmt.Errorf("store: marshal exception dates: %w", err)
	}
	additions, err := json.Marshal(nonNil(r.AdditionDates))
	if err != nil {
		return fmt.Errorf("store: marshal addition dates: %w", err)
	}
	_, err = db.ExecContext(ctx, `INSERT INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			location = excluded.location,
			start_at = excluded.start_at,
			end_at = excluded.end_at,
			timezone = excluded.timezone,
			all_day = excluded.all_day,
			recurrence_rule = excluded.recurrence_rule,
			exception_dates = excluded.exception_dates,
			addition_dates = excluded.addition_dates,
			source = excluded.source`,
		r.ID, r.Title, r.Description, r.Location, r.StartAt, r.EndAt, r.Timezone,
		r.AllDay, r.RecurrenceRule, string(exceptions), string(additions), r.Source)
	if err != nil {
		return fmt.Errorf("store: put event %q: %w", r.ID, err)
	}
	return nil
}

func scanSQLiteRow(sc rowScanner) (EventRow, error) {
	var (
		r          EventRow
		exceptions string
		additions  string
	)
	err := sc.Scan(&r.ID, &r.Title, &r.Description, &r.Location, &r.StartAt, &r.EndAt,
		&r.Timezone, &r.AllDay, &r.RecurrenceRule, &exceptions, &additions, &r.Source)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return EventRow{}, err
		}
		return EventRow{}, fmt.Errorf("store: scan event: %w", err)
	}
	if err := unmarshalDates(exceptions, &r.ExceptionDates); err != nil {
		return EventRow{}, fmt.Errorf("store: event %q exception_dates: %w", r.ID, err)
	}
	if err := unmarshalDates(additions, &r.AdditionDates); err != nil {
		return EventRow{}, fmt.Errorf("store: event %q addition_dates: %w", r.ID, err)
	}
	return r, nil
}

func unmarshalDates(raw string, dst *[]string) error {
	if raw == "" || raw == "null" {
		*dst = nil
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
