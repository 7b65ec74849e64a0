package calendar

import (
	"time"

	"homecal/internal/cache"
	"homecal/internal/model"
)

// DefaultInvalidationHorizon is how many months past its start an
// open-ended recurring event is assumed to reach.
const DefaultInvalidationHorizon = 24

// Tag families used by the calendar caches.
const (
	TagFamilyMonth = "month"
	TagFamilyDay   = "day"
)

// MonthTag covers every cached view of monthKey, in any zone.
func MonthTag(monthKey string) cache.Tag {
	return cache.Tag{Family: TagFamilyMonth, Key: monthKey}
}

// DayTag covers cached views containing dayKey as seen in zone.
func DayTag(zone, dayKey string) cache.Tag {
	return cache.Tag{Family: TagFamilyDay, Scope: zone, Key: dayKey}
}

// AffectedMonths lists the month keys def can intersect in any viewing
// zone: from its start through its last possible occurrence end, with one
// day of slack each side. Open-ended rules stop horizon months after the
// start. A rule that fails to parse is treated as open-ended.
func AffectedMonths(def model.EventDefinition, horizon int) []string {
	if def.StartAt.IsZero() {
		return nil
	}
	if horizon <= 0 {
		horizon = DefaultInvalidationHorizon
	}
	dur := def.Duration()
	if dur < 0 {
		dur = 0
	}

	first := def.StartAt
	last := def.EndAt
	if last.Before(first) {
		last = first
	}

	if def.IsRecurring() {
		zone, err := LoadZone(def.Timezone)
		if err != nil {
			zone = time.UTC
		}
		rule, err := ParseRule(def.RecurrenceRule, def.StartAt, zone, nil, nil)
		if end, ok := ruleEnd(rule, err); ok {
			if end.Add(dur).After(last) {
				last = end.Add(dur)
			}
		} else {
			last = def.StartAt.AddDate(0, horizon, 0)
		}
	}
	for _, a := range def.AdditionDates {
		if a.IsZero() {
			continue
		}
		if a.Before(first) {
			first = a
		}
		if a.Add(dur).After(last) {
			last = a.Add(dur)
		}
	}

	return monthRange(first.Add(-DefaultLookaround), last.Add(DefaultLookaround))
}

func ruleEnd(rule *Rule, err error) (time.Time, bool) {
	if err != nil || !rule.Finite() {
		return time.Time{}, false
	}
	return rule.Last()
}

// monthRange lists UTC month keys from from's month through to's month.
func monthRange(from, to time.Time) []string {
	from, to = from.UTC(), to.UTC()
	cur := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(to.Year(), to.Month(), 1, 0, 0, 0, 0, time.UTC)
	var out []string
	for !cur.After(end) {
		out = append(out, cur.Format(MonthKeyLayout))
		cur = cur.AddDate(0, 1, 0)
	}
	return out
}
