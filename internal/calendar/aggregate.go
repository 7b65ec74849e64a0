package calendar

import (
	"sort"

	"homecal/internal/model"
)

const (
	// DefaultMaxPerDay bounds the occurrences stored per day bucket.
	DefaultMaxPerDay = 99
	// DefaultInlineDisplayLimit is the count above which a day reports
	// HasMore.
	DefaultInlineDisplayLimit = 3
)

// Aggregator groups occurrences into day buckets.
type Aggregator struct {
	MaxPerDay          int
	InlineDisplayLimit int
}

func (a Aggregator) maxPerDay() int {
	if a.MaxPerDay <= 0 {
		return DefaultMaxPerDay
	}
	return a.MaxPerDay
}

func (a Aggregator) inlineLimit() int {
	if a.InlineDisplayLimit <= 0 {
		return DefaultInlineDisplayLimit
	}
	return a.InlineDisplayLimit
}

// Aggregate buckets occs by the local day of StartsAt in each occurrence's
// own timezone. Buckets are sorted by start (ties by instance id) and then
// capped at MaxPerDay; summaries keep the uncapped count.
func (a Aggregator) Aggregate(w Window, occs []model.Occurrence) model.MonthAggregate {
	agg := model.MonthAggregate{
		MonthKey:  w.Start.Format(MonthKeyLayout),
		Days:      make(map[string][]model.Occurrence),
		Summaries: make(map[string]model.DaySummary),
	}

	for _, occ := range occs {
		key := DayKey(occ)
		agg.Days[key] = append(agg.Days[key], occ)
	}

	limit := a.maxPerDay()
	inline := a.inlineLimit()
	for key, bucket := range agg.Days {
		sort.SliceStable(bucket, func(i, j int) bool {
			if !bucket[i].StartsAt.Equal(bucket[j].StartsAt) {
				return bucket[i].StartsAt.Before(bucket[j].StartsAt)
			}
			return bucket[i].InstanceID < bucket[j].InstanceID
		})
		count := len(bucket)
		if count > limit {
			bucket = bucket[:limit:limit]
		}
		agg.Days[key] = bucket
		agg.Summaries[key] = model.DaySummary{
			EventCount: count,
			HasMore:    count > inline,
		}
	}
	return agg
}

// DayKey is the local calendar day of occ.StartsAt in occ's own timezone.
// An unknown zone falls back to the zone StartsAt already carries.
func DayKey(occ model.Occurrence) string {
	t := occ.StartsAt
	if occ.Timezone != "" {
		if loc, err := LoadZone(occ.Timezone); err == nil {
			t = t.In(loc)
		}
	}
	return t.Format(DayKeyLayout)
}
