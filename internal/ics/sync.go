package ics

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	appLog "homecal/internal/log"
	"homecal/internal/model"
	"homecal/internal/store"
)

// Invalidator drops cached calendar views an event can appear in.
type Invalidator interface {
	InvalidateEvent(def model.EventDefinition)
}

// FeedReport summarizes one feed of a sync pass.
type FeedReport struct {
	FeedID    string
	Events    int
	Changed   int
	FromCache bool
	Err       error
}

// Syncer imports feeds into the store.
type Syncer struct {
	fetcher     *Fetcher
	store       store.Store
	invalidator Invalidator
}

// NewSyncer wires a fetcher to a store. invalidator may be nil.
func NewSyncer(fetcher *Fetcher, st store.Store, invalidator Invalidator) *Syncer {
	return &Syncer{fetcher: fetcher, store: st, invalidator: invalidator}
}

// Sync fetches every feed, replaces its rows and invalidates views for
// each definition that was added, removed or changed. One failing feed
// does not stop the others; their errors are joined.
func (s *Syncer) Sync(ctx context.Context, feeds []Feed) ([]FeedReport, error) {
	reports := make([]FeedReport, 0, len(feeds))
	var errs []error
	for _, feed := range feeds {
		rep := s.syncOne(ctx, feed)
		if rep.Err != nil {
			errs = append(errs, fmt.Errorf("feed %s: %w", feed.ID, rep.Err))
		}
		reports = append(reports, rep)
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
	}
	return reports, errors.Join(errs...)
}

func (s *Syncer) syncOne(ctx context.Context, feed Feed) FeedReport {
	rep := FeedReport{FeedID: feed.ID}

	res, err := s.fetcher.FetchOne(ctx, feed)
	if err != nil {
		appLog.Error("ics: sync fetch failed", err, "feed", feed.ID, "url", redactURL(feed.URL))
		rep.Err = err
		return rep
	}
	rep.FromCache = res.FromCache

	defs, err := ParseFeed(feed, res.Body)
	if err != nil {
		appLog.Error("ics: sync parse failed", err, "feed", feed.ID)
		rep.Err = err
		return rep
	}
	rep.Events = len(defs)

	previous, err := s.store.ReplaceSource(ctx, feed.SourceTag(), defs)
	if err != nil {
		appLog.Error("ics: sync store failed", err, "feed", feed.ID)
		rep.Err = err
		return rep
	}

	changed := changedDefinitions(previous, defs)
	rep.Changed = len(changed)
	if s.invalidator != nil {
		for _, def := range changed {
			s.invalidator.InvalidateEvent(def)
		}
	}
	appLog.Info("ics: feed synced", "feed", feed.ID, "events", rep.Events, "changed", rep.Changed, "from_cache", rep.FromCache)
	return rep
}

// changedDefinitions returns both versions of every definition that
// differs between before and after, plus the ones only in one side.
func changedDefinitions(before, after []model.EventDefinition) []model.EventDefinition {
	old := make(map[string]model.EventDefinition, len(before))
	for _, d := range before {
		old[d.ID] = d
	}
	var out []model.EventDefinition
	for _, d := range after {
		prev, ok := old[d.ID]
		delete(old, d.ID)
		if ok && reflect.DeepEqual(store.EncodeRow(prev), store.EncodeRow(d)) {
			continue
		}
		if ok {
			out = append(out, prev)
		}
		out = append(out, d)
	}
	for _, d := range before {
		if _, gone := old[d.ID]; gone {
			out = append(out, d)
		}
	}
	return out
}
