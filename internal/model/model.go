package model

import (
	"sort"
	"time"
)

// Provenance tags carried in EventDefinition.Source.
const (
	SourceNative   = "native"
	SourceImported = "imported"
)

// EventDefinition is a stored calendar event before recurrence expansion.
// The engine treats it as read-only input; rows are decoded and validated
// once at the data-access boundary (internal/store).
type EventDefinition struct {
	ID string

	Title       string
	Description string
	Location    string

	// StartAt / EndAt bound the first (or only) occurrence.
	StartAt time.Time
	EndAt   time.Time

	// Timezone is the IANA zone that gives the event its local-time meaning.
	// It is independent of the zone a calendar is viewed in.
	Timezone string
	AllDay   bool

	// RecurrenceRule is an RRULE body anchored to StartAt, e.g.
	// "FREQ=WEEKLY;BYDAY=MO". Empty for single events.
	RecurrenceRule string
	ExceptionDates []time.Time
	// AdditionDates produce extra occurrences whether or not a rule is set.
	AdditionDates []time.Time

	Source string
}

// Duration is the length of every occurrence of the event.
func (e EventDefinition) Duration() time.Duration {
	return e.EndAt.Sub(e.StartAt)
}

// IsRecurring reports whether the definition carries a recurrence rule.
func (e EventDefinition) IsRecurring() bool {
	return e.RecurrenceRule != ""
}

// Occurrence is one concrete instance of an EventDefinition.
type Occurrence struct {
	BaseEventID string `json:"base_event_id"`
	// InstanceID is the base id for a plain single event, otherwise
	// "<base id>:<UTC ISO start>".
	InstanceID string `json:"instance_id"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	Timezone    string `json:"timezone"`
	AllDay      bool   `json:"all_day"`
	Source      string `json:"source,omitempty"`

	// StartsAt / EndsAt are expressed in the event's own timezone.
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

// DaySummary is the compact per-day view used by calendar grids.
type DaySummary struct {
	// EventCount is the true number of occurrences, before capping.
	EventCount int  `json:"event_count"`
	HasMore    bool `json:"has_more"`
}

// MonthAggregate groups a month's occurrences by local day.
type MonthAggregate struct {
	MonthKey  string                  `json:"month"`
	Days      map[string][]Occurrence `json:"days"`
	Summaries map[string]DaySummary   `json:"summaries"`
}

// DayKeys returns the day keys that have at least one occurrence, sorted.
func (m MonthAggregate) DayKeys() []string {
	keys := make([]string, 0, len(m.Summaries))
	for k := range m.Summaries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Day returns a copy of one day's stored occurrences.
func (m MonthAggregate) Day(key string) []Occurrence {
	src := m.Days[key]
	out := make([]Occurrence, len(src))
	copy(out, src)
	return out
}
