package calendar

import (
	"time"

	"homecal/internal/model"
)

// InstanceID derives the stable id of an occurrence. A plain single event
// keeps its base id; every rule or addition instance, including the one that
// coincides with the base start, is "<base id>:<UTC ISO start>".
func InstanceID(def model.EventDefinition, start Start) string {
	if start.Kind == KindSingle && start.At.Equal(def.StartAt) &&
		!def.IsRecurring() && len(def.AdditionDates) == 0 {
		return def.ID
	}
	return def.ID + ":" + FormatInstant(start.At)
}

// Materialize turns one enumerated start into an occurrence of def. The
// occurrence keeps def's duration. All-day occurrences start at local
// midnight of start's zone.
func Materialize(def model.EventDefinition, start Start) model.Occurrence {
	startsAt := start.At
	if def.AllDay {
		startsAt = time.Date(startsAt.Year(), startsAt.Month(), startsAt.Day(), 0, 0, 0, 0, startsAt.Location())
	}

	return model.Occurrence{
		BaseEventID: def.ID,
		InstanceID:  InstanceID(def, start),
		Title:       def.Title,
		Description: def.Description,
		Location:    def.Location,
		Timezone:    def.Timezone,
		AllDay:      def.AllDay,
		Source:      def.Source,
		StartsAt:    startsAt,
		EndsAt:      startsAt.Add(def.Duration()),
	}
}
