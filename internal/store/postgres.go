package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"homecal/internal/calendar"
	appLog "homecal/internal/log"
	"homecal/internal/model"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS events (
	id              TEXT PRIMARY KEY,
	title           TEXT NOT NULL DEFAULT '',
	description     TEXT NOT NULL DEFAULT '',
	location        TEXT NOT NULL DEFAULT '',
	start_at        TEXT NOT NULL,
	end_at          TEXT NOT NULL,
	timezone        TEXT NOT NULL DEFAULT '',
	all_day         BOOLEAN NOT NULL DEFAULT FALSE,
	recurrence_rule TEXT NOT NULL DEFAULT '',
	exception_dates TEXT[] NOT NULL DEFAULT '{}',
	addition_dates  TEXT[] NOT NULL DEFAULT '{}',
	source          TEXT NOT NULL DEFAULT 'native'
);
CREATE INDEX IF NOT EXISTS idx_events_source ON events(source);
CREATE INDEX IF NOT EXISTS idx_events_start ON events(start_at);
`

const postgresUpsert = `INSERT INTO events (` + eventColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (id) DO UPDATE SET
		title = EXCLUDED.title,
		description = EXCLUDED.description,
		location = EXCLUDED.location,
		start_at = EXCLUDED.start_at,
		end_at = EXCLUDED.end_at,
		timezone = EXCLUDED.timezone,
		all_day = EXCLUDED.all_day,
		recurrence_rule = EXCLUDED.recurrence_rule,
		exception_dates = EXCLUDED.exception_dates,
		addition_dates = EXCLUDED.addition_dates,
		source = EXCLUDED.source`

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// OpenPostgres connects to dsn and makes sure the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	appLog.Debug("store: postgres ready", "host", cfg.ConnConfig.Host, "database", cfg.ConnConfig.Database)
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) ListEvents(ctx context.Context, w calendar.Window) ([]model.EventDefinition, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	ws, we := listArgs(w)
	rows, err := p.pool.Query(ctx, `SELECT `+eventColumns+` FROM events
		WHERE (recurrence_rule <> '' AND start_at <= $1)
		   OR cardinality(addition_dates) > 0
		   OR (start_at <= $1 AND (end_at >= $2 OR start_at >= $2))
		ORDER BY start_at, id`, we, ws)
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	out, err := collectPostgresRows(rows)
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	return decodeRows(out), nil
}

func (p *Postgres) GetEvent(ctx context.Context, id string) (model.EventDefinition, error) {
	var r EventRow
	err := scanPostgresRow(p.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id), &r)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.EventDefinition{}, ErrNotFound
	}
	if err != nil {
		return model.EventDefinition{}, fmt.Errorf("store: get event: %w", err)
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

func (p *Postgres) PutEvent(ctx context.Context, def model.EventDefinition) error {
	if def.ID == "" {
		return errors.New("store: event id is required")
	}
	if _, err := p.pool.Exec(ctx, postgresUpsert, upsertArgs(EncodeRow(def))...); err != nil {
		return fmt.Errorf("store: put event %q: %w", def.ID, err)
	}
	return nil
}

func (p *Postgres) DeleteEvent(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: delete event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ReplaceSource(ctx context.Context, source string, defs []model.EventDefinition) ([]model.EventDefinition, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `SELECT `+eventColumns+` FROM events WHERE source = $1`, source)
	if err != nil {
		return nil, fmt.Errorf("store: load source %q: %w", source, err)
	}
	previous, err := collectPostgresRows(rows)
	if err != nil {
		return nil, fmt.Errorf("store: load source %q: %w", source, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM events WHERE source = $1`, source); err != nil {
		return nil, fmt.Errorf("store: clear source %q: %w", source, err)
	}

	batch := &pgx.Batch{}
	for _, def := range defs {
		row := EncodeRow(def)
		row.Source = source
		batch.Queue(postgresUpsert, upsertArgs(row)...)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return nil, fmt.Errorf("store: insert source %q: %w", source, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("store: commit: %w", err)
	}
	return decodeRows(previous), nil
}

func upsertArgs(r EventRow) []any {
	return []any{
		r.ID, r.Title, r.Description, r.Location, r.StartAt, r.EndAt, r.Timezone,
		r.AllDay, r.RecurrenceRule, nonNil(r.ExceptionDates), nonNil(r.AdditionDates), r.Source,
	}
}

func collectPostgresRows(rows pgx.Rows) ([]EventRow, error) {
	defer rows.Close()
	var out []EventRow
	for rows.Next() {
		var r EventRow
		if err := scanPostgresRow(rows, &r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanPostgresRow(sc rowScanner, r *EventRow) error {
	return sc.Scan(&r.ID, &r.Title, &r.Description, &r.Location, &r.StartAt, &r.EndAt,
		&r.Timezone, &r.AllDay, &r.RecurrenceRule, &r.ExceptionDates, &r.AdditionDates, &r.Source)
}
