package calendar

import (
	"errors"
	"sort"
	"time"

	appLog "homecal/internal/log"
	"homecal/internal/model"
)

// Config tunes the engine. Zero values fall back to the package defaults.
type Config struct {
	MaxPerDay          int
	InlineDisplayLimit int
	Lookaround         time.Duration
	MaxPerSeries       int
}

// DefaultConfig returns the stock engine limits.
func DefaultConfig() Config {
	return Config{
		MaxPerDay:          DefaultMaxPerDay,
		InlineDisplayLimit: DefaultInlineDisplayLimit,
		Lookaround:         DefaultLookaround,
		MaxPerSeries:       defaultMaxPerSeries,
	}
}

// Skipped records an event that contributed no occurrences.
type Skipped struct {
	EventID string
	Err     error
}

// ExpandResult is the flat output of Engine.Expand.
type ExpandResult struct {
	Occurrences []model.Occurrence
	// Skipped lists events dropped for a bad rule or bad boundaries.
	Skipped []Skipped
	// Truncated lists event ids that hit MaxPerSeries.
	Truncated []string
}

// Engine materializes occurrences from event definitions. It holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	cfg        Config
	expander   Expander
	aggregator Aggregator
}

// NewEngine builds an Engine from cfg.
func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.MaxPerDay <= 0 {
		cfg.MaxPerDay = def.MaxPerDay
	}
	if cfg.InlineDisplayLimit <= 0 {
		cfg.InlineDisplayLimit = def.InlineDisplayLimit
	}
	if cfg.Lookaround <= 0 {
		cfg.Lookaround = def.Lookaround
	}
	if cfg.MaxPerSeries <= 0 {
		cfg.MaxPerSeries = def.MaxPerSeries
	}
	return &Engine{
		cfg:        cfg,
		expander:   Expander{Lookaround: cfg.Lookaround, MaxPerSeries: cfg.MaxPerSeries},
		aggregator: Aggregator{MaxPerDay: cfg.MaxPerDay, InlineDisplayLimit: cfg.InlineDisplayLimit},
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Expand materializes every occurrence of defs that overlaps w. A reversed
// window is the only error; a bad rule or boundary skips that one event and
// is reported in the result and the log.
func (e *Engine) Expand(defs []model.EventDefinition, w Window) (ExpandResult, error) {
	var res ExpandResult
	if err := w.Validate(); err != nil {
		return res, err
	}

	res.Occurrences = make([]model.Occurrence, 0, len(defs))
	for _, def := range defs {
		occs, truncated, err := e.expandOne(def, w)
		if err != nil {
			res.Skipped = append(res.Skipped, Skipped{EventID: def.ID, Err: err})
			appLog.Error("calendar: skipping event", err, "event_id", def.ID)
			continue
		}
		if truncated {
			res.Truncated = append(res.Truncated, def.ID)
			appLog.Warn("calendar: occurrences truncated", "event_id", def.ID, "cap", e.cfg.MaxPerSeries)
		}
		res.Occurrences = append(res.Occurrences, occs...)
	}

	sort.SliceStable(res.Occurrences, func(i, j int) bool {
		a, b := res.Occurrences[i], res.Occurrences[j]
		if !a.StartsAt.Equal(b.StartsAt) {
			return a.StartsAt.Before(b.StartsAt)
		}
		return a.InstanceID < b.InstanceID
	})
	return res, nil
}

// BuildMonth expands defs over monthKey as seen in zone and groups the
// result by day.
func (e *Engine) BuildMonth(defs []model.EventDefinition, monthKey string, zone *time.Location) (model.MonthAggregate, ExpandResult, error) {
	w, err := MonthWindow(monthKey, zone)
	if err != nil {
		return model.MonthAggregate{}, ExpandResult{}, err
	}
	res, err := e.Expand(defs, w)
	if err != nil {
		return model.MonthAggregate{}, res, err
	}
	agg := e.aggregator.Aggregate(w, res.Occurrences)
	agg.MonthKey = monthKey
	return agg, res, nil
}

// Aggregate exposes the day bucketer with the engine's limits.
func (e *Engine) Aggregate(w Window, occs []model.Occurrence) model.MonthAggregate {
	return e.aggregator.Aggregate(w, occs)
}

func (e *Engine) expandOne(def model.EventDefinition, w Window) ([]model.Occurrence, bool, error) {
	if def.StartAt.IsZero() {
		return nil, false, &InvalidInstantError{EventID: def.ID, Field: "start_at", Err: errors.New("missing")}
	}
	if def.EndAt.IsZero() {
		return nil, false, &InvalidInstantError{EventID: def.ID, Field: "end_at", Err: errors.New("missing")}
	}

	zone, err := LoadZone(def.Timezone)
	if err != nil {
		appLog.Warn("calendar: unknown event timezone, using UTC", "event_id", def.ID, "timezone", def.Timezone)
		zone = time.UTC
	}

	def.ExceptionDates = dropZero(def.ID, "exception_dates", def.ExceptionDates)
	def.AdditionDates = dropZero(def.ID, "addition_dates", def.AdditionDates)

	series := Series{
		Start: def.StartAt.In(zone),
		End:   def.EndAt.In(zone),
	}
	if def.IsRecurring() {
		rule, err := ParseRule(def.RecurrenceRule, series.Start, zone, def.ExceptionDates, def.AdditionDates)
		if err != nil {
			var rpe *RuleParseError
			if errors.As(err, &rpe) {
				rpe.EventID = def.ID
			}
			return nil, false, err
		}
		series.Rule = rule
		series.Exceptions = rule.Exceptions
		series.Additions = rule.Additions
	} else {
		series.Exceptions = normalizeInstants(def.ExceptionDates, zone)
		series.Additions = normalizeInstants(def.AdditionDates, zone)
	}

	starts, truncated := e.expander.Expand(series, w)
	out := make([]model.Occurrence, 0, len(starts))
	for _, st := range starts {
		occ := Materialize(def, st)
		// All-day snapping can move an occurrence back out of the window.
		if !w.Overlaps(occ.StartsAt, occ.EndsAt) {
			continue
		}
		out = append(out, occ)
	}
	return out, truncated, nil
}

func dropZero(eventID, field string, ts []time.Time) []time.Time {
	if len(ts) == 0 {
		return ts
	}
	out := make([]time.Time, 0, len(ts))
	for _, t := range ts {
		if t.IsZero() {
			appLog.Warn("calendar: dropping invalid instant", "event_id", eventID, "field", field)
			continue
		}
		out = append(out, t)
	}
	return out
}
