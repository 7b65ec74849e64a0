package ics

import (
	"io"
	"time"

	ical "github.com/arran4/golang-ical"

	"homecal/internal/calendar"
	"homecal/internal/model"
)

const productID = "-//homecal//calendar export//EN"

// WriteOccurrences serializes materialized occurrences as a PUBLISH
// calendar. Each occurrence becomes one VEVENT without a rule; its UID is
// the instance id and RELATED-TO carries the base event id.
func WriteOccurrences(w io.Writer, name string, occs []model.Occurrence, stamp time.Time) error {
	cal := ical.NewCalendar()
	cal.SetProductId(productID)
	cal.SetMethod(ical.MethodPublish)
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for _, o := range occs {
		ev := cal.AddEvent(o.InstanceID + "@homecal")
		ev.SetDtStampTime(stamp.UTC())
		if o.AllDay {
			zone, err := calendar.LoadZone(o.Timezone)
			if err != nil {
				zone = time.UTC
			}
			ev.SetAllDayStartAt(o.StartsAt.In(zone))
			ev.SetAllDayEndAt(o.EndsAt.In(zone))
		} else {
			ev.SetStartAt(o.StartsAt.UTC())
			ev.SetEndAt(o.EndsAt.UTC())
		}
		if o.Title != "" {
			ev.SetSummary(o.Title)
		}
		if o.Description != "" {
			ev.SetDescription(o.Description)
		}
		if o.Location != "" {
			ev.SetLocation(o.Location)
		}
		ev.AddProperty(ical.ComponentProperty("RELATED-TO"), o.BaseEventID)
	}

	_, err := io.WriteString(w, cal.Serialize())
	return err
}
