package calendar

import (
	"context"
	"fmt"
	"time"

	"homecal/internal/cache"
	appLog "homecal/internal/log"
	"homecal/internal/model"
)

// EventSource is the data-access collaborator: it returns every definition
// that may produce an occurrence in w. Ownership and visibility filtering
// happen there.
type EventSource interface {
	ListEvents(ctx context.Context, w Window) ([]model.EventDefinition, error)
}

// MonthCacheKey identifies a month view.
type MonthCacheKey struct {
	Month string
	Zone  string
}

// DayCacheKey identifies a single day projected out of a month view.
type DayCacheKey struct {
	Month string
	Zone  string
	Day   string
}

// Service puts the engine behind a tag-invalidated cache. The zero value is
// not usable; use NewService.
type Service struct {
	engine  *Engine
	source  EventSource
	horizon int

	months *cache.Cache[MonthCacheKey, model.MonthAggregate]
	days   *cache.Cache[DayCacheKey, []model.Occurrence]
}

// ServiceOption configures a Service.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	cacheOpts []cache.Option
	horizon   int
}

// WithCacheOptions passes options (TTL, clock) to both caches.
func WithCacheOptions(opts ...cache.Option) ServiceOption {
	return func(o *serviceOptions) { o.cacheOpts = append(o.cacheOpts, opts...) }
}

// WithInvalidationHorizon sets how far open-ended rules are invalidated.
func WithInvalidationHorizon(months int) ServiceOption {
	return func(o *serviceOptions) { o.horizon = months }
}

// NewService wires an engine to a data source.
func NewService(engine *Engine, source EventSource, opts ...ServiceOption) *Service {
	o := serviceOptions{horizon: DefaultInvalidationHorizon}
	for _, fn := range opts {
		fn(&o)
	}
	return &Service{
		engine:  engine,
		source:  source,
		horizon: o.horizon,
		months:  cache.New[MonthCacheKey, model.MonthAggregate](o.cacheOpts...),
		days:    cache.New[DayCacheKey, []model.Occurrence](o.cacheOpts...),
	}
}

// Engine returns the underlying engine.
func (s *Service) Engine() *Engine {
	return s.engine
}

// Month returns the aggregate for monthKey viewed in zone, computing and
// caching it on a miss.
func (s *Service) Month(ctx context.Context, monthKey, zone string) (model.MonthAggregate, error) {
	loc, err := LoadZone(zone)
	if err != nil {
		return model.MonthAggregate{}, err
	}
	key := MonthCacheKey{Month: monthKey, Zone: loc.String()}
	return s.months.GetOrCompute(key, func() (model.MonthAggregate, []cache.Tag, error) {
		return s.computeMonth(ctx, monthKey, loc)
	})
}

// Day returns one day bucket of the month view. The day key is a local day
// in the occurrences' own zones, as produced by the aggregator.
func (s *Service) Day(ctx context.Context, monthKey, zone, dayKey string) ([]model.Occurrence, error) {
	if _, err := time.Parse(DayKeyLayout, dayKey); err != nil {
		return nil, fmt.Errorf("calendar: invalid day key %q: %w", dayKey, err)
	}
	loc, err := LoadZone(zone)
	if err != nil {
		return nil, err
	}
	key := DayCacheKey{Month: monthKey, Zone: loc.String(), Day: dayKey}
	return s.days.GetOrCompute(key, func() ([]model.Occurrence, []cache.Tag, error) {
		agg, err := s.Month(ctx, monthKey, zone)
		if err != nil {
			return nil, nil, err
		}
		// A day view is derived from its month, so it carries the month's
		// tags and is evicted whenever the month is.
		return agg.Day(dayKey), monthTags(agg, loc), nil
	})
}

func (s *Service) computeMonth(ctx context.Context, monthKey string, loc *time.Location) (model.MonthAggregate, []cache.Tag, error) {
	w, err := MonthWindow(monthKey, loc)
	if err != nil {
		return model.MonthAggregate{}, nil, err
	}

	started := time.Now()
	defs, err := s.source.ListEvents(ctx, w.Buffered(s.engine.Config().Lookaround))
	if err != nil {
		return model.MonthAggregate{}, nil, fmt.Errorf("calendar: list events: %w", err)
	}

	agg, res, err := s.engine.BuildMonth(defs, monthKey, loc)
	if err != nil {
		return model.MonthAggregate{}, nil, err
	}

	appLog.Debug("calendar: month computed",
		"month", monthKey,
		"timezone", loc.String(),
		"definitions", len(defs),
		"occurrences", len(res.Occurrences),
		"skipped", len(res.Skipped),
		"elapsed", time.Since(started),
	)
	return agg, monthTags(agg, loc), nil
}

// monthTags tags a month view with its month and with every day it shows:
// each day of the month in the viewing zone plus each bucket's own-zone day.
func monthTags(agg model.MonthAggregate, loc *time.Location) []cache.Tag {
	tags := []cache.Tag{MonthTag(agg.MonthKey)}
	seen := make(map[cache.Tag]struct{})
	add := func(t cache.Tag) {
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		tags = append(tags, t)
	}

	days, _ := DaysInMonth(agg.MonthKey, loc)
	for _, d := range days {
		add(DayTag(loc.String(), d))
	}
	for _, d := range agg.DayKeys() {
		for _, occ := range agg.Days[d] {
			add(DayTag(zoneName(occ.Timezone), d))
		}
	}
	return tags
}

// InvalidateMonth evicts every cached view of monthKey.
func (s *Service) InvalidateMonth(monthKey string) {
	tag := MonthTag(monthKey)
	n := s.months.Invalidate(tag) + s.days.Invalidate(tag)
	appLog.Debug("calendar: cache invalidated", "tag", tag.String(), "evicted", n)
}

// InvalidateDay evicts cached views that contain dayKey in zone.
func (s *Service) InvalidateDay(zone, dayKey string) {
	tag := DayTag(zone, dayKey)
	n := s.months.Invalidate(tag) + s.days.Invalidate(tag)
	appLog.Debug("calendar: cache invalidated", "tag", tag.String(), "evicted", n)
}

// InvalidateEvent evicts everything a created, updated or deleted
// definition may appear in: every month it can reach and its own start day.
func (s *Service) InvalidateEvent(def model.EventDefinition) {
	for _, m := range AffectedMonths(def, s.horizon) {
		s.InvalidateMonth(m)
	}
	if def.StartAt.IsZero() {
		return
	}
	loc, err := LoadZone(def.Timezone)
	if err != nil {
		loc = time.UTC
	}
	s.InvalidateDay(loc.String(), def.StartAt.In(loc).Format(DayKeyLayout))
}

// zoneName canonicalizes a zone name the way LoadZone reports it.
func zoneName(name string) string {
	loc, err := LoadZone(name)
	if err != nil {
		return time.UTC.String()
	}
	return loc.String()
}

// CacheStats reports month and day cache counters.
func (s *Service) CacheStats() (months, days cache.Stats) {
	return s.months.Stats(), s.days.Stats()
}
