package calendar

import (
	"fmt"
	"time"
)

const (
	// MonthKeyLayout formats month keys, e.g. "2024-01".
	MonthKeyLayout = "2006-01"
	// DayKeyLayout formats local day keys, e.g. "2024-01-15".
	DayKeyLayout = "2006-01-02"

	// DefaultLookaround widens enumeration on both sides of a query window
	// so occurrences whose own zone shifts them across the window's day
	// boundary are not lost.
	DefaultLookaround = 24 * time.Hour
)

// Window is an inclusive query range [Start, End].
type Window struct {
	Start time.Time
	End   time.Time
}

// Validate rejects a reversed window.
func (w Window) Validate() error {
	if w.End.Before(w.Start) {
		return fmt.Errorf("%w: start=%s end=%s", ErrWindowOrder,
			w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
	}
	return nil
}

// Buffered returns w widened by d on both sides.
func (w Window) Buffered(d time.Duration) Window {
	return Window{Start: w.Start.Add(-d), End: w.End.Add(d)}
}

// Overlaps reports whether the half-open occurrence [start, end) touches w.
// Zero or negative length occurrences count when their start lies in w.
func (w Window) Overlaps(start, end time.Time) bool {
	if start.After(w.End) {
		return false
	}
	if end.After(w.Start) {
		return true
	}
	return !end.After(start) && !start.Before(w.Start)
}

// MonthStart parses a month key as the first local midnight of that month.
func MonthStart(monthKey string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(MonthKeyLayout, monthKey, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("calendar: invalid month key %q: %w", monthKey, err)
	}
	return t, nil
}

// MonthWindow returns the window covering every instant of monthKey as seen
// in loc.
func MonthWindow(monthKey string, loc *time.Location) (Window, error) {
	start, err := MonthStart(monthKey, loc)
	if err != nil {
		return Window{}, err
	}
	return Window{
		Start: start,
		End:   start.AddDate(0, 1, 0).Add(-time.Nanosecond),
	}, nil
}

// MonthKeyOf returns the month key of t as seen in loc.
func MonthKeyOf(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(MonthKeyLayout)
}

// DaysInMonth lists the local day keys of monthKey.
func DaysInMonth(monthKey string, loc *time.Location) ([]string, error) {
	start, err := MonthStart(monthKey, loc)
	if err != nil {
		return nil, err
	}
	next := start.AddDate(0, 1, 0)
	days := make([]string, 0, 31)
	for d := start; d.Before(next); d = d.AddDate(0, 0, 1) {
		days = append(days, d.Format(DayKeyLayout))
	}
	return days, nil
}
