package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"homecal/internal/calendar"
	appLog "homecal/internal/log"
	"homecal/internal/model"
)

// Feed is one subscribed iCalendar URL.
type Feed struct {
	// ID is the stable config identifier; stored rows are tagged with it.
	ID  string
	URL string
	// Timezone applies to floating times when the feed has no
	// X-WR-TIMEZONE. Empty means UTC.
	Timezone string
}

// SourceTag is the EventDefinition.Source value for rows imported from f.
func (f Feed) SourceTag() string {
	return model.SourceImported + ":" + f.ID
}

const (
	propRecurrenceID = ical.ComponentProperty("RECURRENCE-ID")
	propRDate        = ical.ComponentProperty("RDATE")
	propDuration     = ical.ComponentProperty("DURATION")
	propStatus       = ical.ComponentProperty("STATUS")
)

// vevent is one VEVENT decoded far enough to merge overrides.
type vevent struct {
	uid       string
	def       model.EventDefinition
	override  time.Time // RECURRENCE-ID, zero for masters
	cancelled bool
}

// ParseFeed converts an iCalendar payload into event definitions.
//
// RRULE, EXDATE and RDATE map onto the rule, exception and addition
// fields. A VEVENT with RECURRENCE-ID becomes an exception on its master
// plus a standalone definition. Malformed VEVENTs are logged and skipped.
func ParseFeed(feed Feed, body []byte) ([]model.EventDefinition, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("ics: empty body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ics: parse %s: %w", feed.ID, err)
	}

	fallback := feedZone(feed, cal)

	var (
		masters   = make(map[string]int)
		events    []vevent
		overrides []vevent
	)
	for _, ve := range cal.Events() {
		ev, perr := parseVEvent(feed, ve, fallback)
		if perr != nil {
			appLog.Error("ics: skipping vevent", perr, "feed", feed.ID)
			continue
		}
		if !ev.override.IsZero() {
			overrides = append(overrides, ev)
			continue
		}
		if ev.cancelled {
			continue
		}
		if _, dup := masters[ev.uid]; dup {
			appLog.Warn("ics: duplicate uid, keeping first", "feed", feed.ID, "uid", ev.uid)
			continue
		}
		masters[ev.uid] = len(events)
		events = append(events, ev)
	}

	out := make([]model.EventDefinition, 0, len(events)+len(overrides))
	for _, ov := range overrides {
		if i, ok := masters[ov.uid]; ok {
			events[i].def.ExceptionDates = append(events[i].def.ExceptionDates, ov.override)
		}
	}
	for _, ev := range events {
		out = append(out, ev.def)
	}
	for _, ov := range overrides {
		if ov.cancelled {
			continue
		}
		ov.def.ID = ov.def.ID + "~" + ov.override.UTC().Format("20060102T150405Z")
		ov.def.RecurrenceRule = ""
		ov.def.ExceptionDates = nil
		ov.def.AdditionDates = nil
		out = append(out, ov.def)
	}

	appLog.Info("ics: feed parsed", "feed", feed.ID, "events", len(events), "overrides", len(overrides))
	return out, nil
}

func feedZone(feed Feed, cal *ical.Calendar) *time.Location {
	name := feed.Timezone
	for _, p := range cal.CalendarProperties {
		if strings.EqualFold(p.IANAToken, "X-WR-TIMEZONE") && strings.TrimSpace(p.Value) != "" {
			name = strings.TrimSpace(p.Value)
			break
		}
	}
	loc, err := calendar.LoadZone(name)
	if err != nil {
		appLog.Warn("ics: unknown feed timezone, using UTC", "feed", feed.ID, "zone", name)
		return time.UTC
	}
	return loc
}

func parseVEvent(feed Feed, ve *ical.VEvent, fallback *time.Location) (vevent, error) {
	var ev vevent

	uid := propValue(ve, ical.ComponentPropertyUniqueId)
	if uid == "" {
		return ev, errors.New("missing UID")
	}
	ev.uid = uid
	ev.cancelled = strings.EqualFold(propValue(ve, propStatus), "CANCELLED")

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return ev, fmt.Errorf("uid %s: missing DTSTART", uid)
	}
	start, allDay, zone, err := parseDateProp(dtStart.Value, dtStart.ICalParameters, fallback)
	if err != nil {
		return ev, fmt.Errorf("uid %s: DTSTART: %w", uid, err)
	}

	var end time.Time
	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
		end, _, _, err = parseDateProp(dtEnd.Value, dtEnd.ICalParameters, zone)
		if err != nil {
			return ev, fmt.Errorf("uid %s: DTEND: %w", uid, err)
		}
	} else if dur := propValue(ve, propDuration); dur != "" {
		d, err := parseDuration(dur)
		if err != nil {
			return ev, fmt.Errorf("uid %s: DURATION: %w", uid, err)
		}
		end = start.Add(d)
	} else if allDay {
		end = start.AddDate(0, 0, 1)
	} else {
		end = start
	}

	ev.def = model.EventDefinition{
		ID:             feed.ID + ":" + uid,
		Title:          propValue(ve, ical.ComponentPropertySummary),
		Description:    propValue(ve, ical.ComponentPropertyDescription),
		Location:       propValue(ve, ical.ComponentPropertyLocation),
		StartAt:        start,
		EndAt:          end,
		Timezone:       zoneName(zone),
		AllDay:         allDay,
		RecurrenceRule: propValue(ve, ical.ComponentPropertyRrule),
		Source:         feed.SourceTag(),
	}
	ev.def.ExceptionDates = parseDateList(ve.GetProperties(ical.ComponentPropertyExdate), zone, uid)
	ev.def.AdditionDates = parseDateList(ve.GetProperties(propRDate), zone, uid)

	if rid := ve.GetProperty(propRecurrenceID); rid != nil {
		t, _, _, err := parseDateProp(rid.Value, rid.ICalParameters, zone)
		if err != nil {
			return ev, fmt.Errorf("uid %s: RECURRENCE-ID: %w", uid, err)
		}
		ev.override = t
	}
	return ev, nil
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

func zoneName(loc *time.Location) string {
	if loc == nil || loc == time.UTC {
		return "UTC"
	}
	return loc.String()
}

// parseDateProp reads a DATE or DATE-TIME value. It returns the zone the
// value was interpreted in: its TZID, UTC for "Z" values, else fallback.
func parseDateProp(value string, params map[string][]string, fallback *time.Location) (time.Time, bool, *time.Location, error) {
	zone := fallback
	if tzids := params[string(ical.ParameterTzid)]; len(tzids) > 0 {
		if loc, err := calendar.LoadZone(strings.Trim(tzids[0], `"`)); err == nil {
			zone = loc
		}
	}
	isDate := false
	if vs := params[string(ical.ParameterValue)]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		isDate = true
	}
	t, allDay, err := parseICSTime(value, zone, isDate)
	if err != nil {
		return time.Time{}, false, nil, err
	}
	if strings.HasSuffix(strings.TrimSpace(value), "Z") {
		zone = time.UTC
	}
	return t, allDay, zone, nil
}

// parseICSTime parses one DATE or DATE-TIME value in zone. Date values
// land on local midnight.
func parseICSTime(v string, zone *time.Location, isDate bool) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, false, errors.New("empty time value")
	case isDate || !strings.Contains(v, "T"):
		t, err := time.ParseInLocation("20060102", v, zone)
		return t, true, err
	case strings.HasSuffix(v, "Z"):
		t, err := time.Parse("20060102T150405Z", v)
		return t, false, err
	default:
		t, err := time.ParseInLocation("20060102T150405", v, zone)
		return t, false, err
	}
}

// parseDateList flattens EXDATE/RDATE properties, which may repeat and
// carry comma separated values. PERIOD values keep their start.
func parseDateList(props []*ical.IANAProperty, zone *time.Location, uid string) []time.Time {
	var out []time.Time
	for _, p := range props {
		local := zone
		if tzids := p.ICalParameters[string(ical.ParameterTzid)]; len(tzids) > 0 {
			if loc, err := calendar.LoadZone(strings.Trim(tzids[0], `"`)); err == nil {
				local = loc
			}
		}
		isDate := false
		if vs := p.ICalParameters[string(ical.ParameterValue)]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			isDate = true
		}
		for _, part := range strings.Split(p.Value, ",") {
			part, _, _ = strings.Cut(strings.TrimSpace(part), "/")
			if part == "" {
				continue
			}
			t, _, err := parseICSTime(part, local, isDate)
			if err != nil {
				appLog.Warn("ics: dropping date value", "uid", uid, "property", p.IANAToken, "value", part)
				continue
			}
			out = append(out, t)
		}
	}
	return out
}

// parseDuration reads the RFC 5545 dur-value subset used for DURATION:
// [+-]P[nW][nD][T[nH][nM][nS]].
func parseDuration(v string) (time.Duration, error) {
	s := strings.ToUpper(strings.TrimSpace(v))
	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	if !strings.HasPrefix(s, "P") || len(s) < 3 {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	s = s[1:]

	var (
		total  time.Duration
		inTime bool
		num    strings.Builder
	)
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num.WriteRune(r)
			continue
		case r == 'T':
			inTime = true
			continue
		}
		n, err := strconv.Atoi(num.String())
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		num.Reset()
		var unit time.Duration
		switch {
		case r == 'W' && !inTime:
			unit = 7 * 24 * time.Hour
		case r == 'D' && !inTime:
			unit = 24 * time.Hour
		case r == 'H' && inTime:
			unit = time.Hour
		case r == 'M' && inTime:
			unit = time.Minute
		case r == 'S' && inTime:
			unit = time.Second
		default:
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		total += time.Duration(n) * unit
	}
	if num.Len() > 0 {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	if neg {
		total = -total
	}
	return total, nil
}
