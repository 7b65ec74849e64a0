// Package store persists event definitions and hands them to the calendar
// engine. Rows are decoded and validated once here; the engine only ever
// sees model.EventDefinition values.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"homecal/internal/calendar"
	appLog "homecal/internal/log"
	"homecal/internal/model"
)

// ErrNotFound is returned when an event id has no row.
var ErrNotFound = errors.New("store: event not found")

// Store is the data-access collaborator behind the calendar service.
type Store interface {
	// ListEvents returns every definition that may produce an occurrence
	// inside w. It may return more; the engine filters exactly.
	ListEvents(ctx context.Context, w calendar.Window) ([]model.EventDefinition, error)
	GetEvent(ctx context.Context, id string) (model.EventDefinition, error)
	PutEvent(ctx context.Context, def model.EventDefinition) error
	DeleteEvent(ctx context.Context, id string) error
	// ReplaceSource swaps every row tagged source for defs in one
	// transaction and returns the rows it removed.
	ReplaceSource(ctx context.Context, source string, defs []model.EventDefinition) ([]model.EventDefinition, error)
	Close() error
}

// Drivers accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to the configured backend. For sqlite dsn is a file path.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverSQLite:
		return OpenSQLite(dsn)
	case DriverPostgres, "postgresql", "pgx":
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", driver)
	}
}

// EventRow is the stored shape of an event. Instants are text so rows
// written by other tools can hold zone-less or date-only values.
type EventRow struct {
	ID             string
	Title          string
	Description    string
	Location       string
	StartAt        string
	EndAt          string
	Timezone       string
	AllDay         bool
	RecurrenceRule string
	ExceptionDates []string
	AdditionDates  []string
	Source         string
}

// EncodeRow renders def for storage.
func EncodeRow(def model.EventDefinition) EventRow {
	source := def.Source
	if source == "" {
		source = model.SourceNative
	}
	return EventRow{
		ID:             def.ID,
		Title:          def.Title,
		Description:    def.Description,
		Location:       def.Location,
		StartAt:        calendar.FormatInstant(def.StartAt),
		EndAt:          calendar.FormatInstant(def.EndAt),
		Timezone:       def.Timezone,
		AllDay:         def.AllDay,
		RecurrenceRule: strings.TrimSpace(def.RecurrenceRule),
		ExceptionDates: formatInstants(def.ExceptionDates),
		AdditionDates:  formatInstants(def.AdditionDates),
		Source:         source,
	}
}

func formatInstants(ts []time.Time) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		if t.IsZero() {
			continue
		}
		out = append(out, calendar.FormatInstant(t))
	}
	return out
}

// Decode validates the row. A bad start or end fails the whole row; bad
// exception or addition values are dropped and returned as dropped.
// Zone-less values are read in the event's zone, or UTC when the zone is
// unknown.
func (r EventRow) Decode() (def model.EventDefinition, dropped []error, err error) {
	zone, zerr := calendar.LoadZone(r.Timezone)
	if zerr != nil {
		zone = time.UTC
	}

	start, err := calendar.ParseInstant(r.StartAt, zone)
	if err != nil {
		return model.EventDefinition{}, nil, instantError(err, r.ID, "start_at")
	}
	end, err := calendar.ParseInstant(r.EndAt, zone)
	if err != nil {
		return model.EventDefinition{}, nil, instantError(err, r.ID, "end_at")
	}

	def = model.EventDefinition{
		ID:             r.ID,
		Title:          r.Title,
		Description:    r.Description,
		Location:       r.Location,
		StartAt:        start,
		EndAt:          end,
		Timezone:       r.Timezone,
		AllDay:         r.AllDay,
		RecurrenceRule: r.RecurrenceRule,
		Source:         r.Source,
	}
	def.ExceptionDates, dropped = parseInstants(r.ID, "exception_dates", r.ExceptionDates, zone, dropped)
	def.AdditionDates, dropped = parseInstants(r.ID, "addition_dates", r.AdditionDates, zone, dropped)
	return def, dropped, nil
}

func parseInstants(id, field string, values []string, zone *time.Location, dropped []error) ([]time.Time, []error) {
	if len(values) == 0 {
		return nil, dropped
	}
	out := make([]time.Time, 0, len(values))
	for _, v := range values {
		t, err := calendar.ParseInstant(v, zone)
		if err != nil {
			dropped = append(dropped, instantError(err, id, field))
			continue
		}
		out = append(out, t)
	}
	return out, dropped
}

func instantError(err error, id, field string) error {
	var ie *calendar.InvalidInstantError
	if errors.As(err, &ie) {
		ie.EventID = id
		ie.Field = field
		return ie
	}
	return err
}

// decodeRows decodes rows, logging and skipping the ones that fail.
func decodeRows(rows []EventRow) []model.EventDefinition {
	out := make([]model.EventDefinition, 0, len(rows))
	for _, r := range rows {
		def, dropped, err := r.Decode()
		if err != nil {
			appLog.Error("store: skipping event row", err, "id", r.ID)
			continue
		}
		for _, d := range dropped {
			appLog.Warn("store: dropping date value", "id", r.ID, "err", d)
		}
		out = append(out, def)
	}
	return out
}

// rowScanner is satisfied by *sql.Row(s) and pgx.Row(s).
type rowScanner interface {
	Scan(dest ...any) error
}

const eventColumns = "id, title, description, location, start_at, end_at, timezone, all_day, recurrence_rule, exception_dates, addition_dates, source"

// listArgs returns the UTC text bounds used by ListEvents queries.
func listArgs(w calendar.Window) (start, end string) {
	return calendar.FormatInstant(w.Start), calendar.FormatInstant(w.End)
}
