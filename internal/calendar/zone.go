package calendar

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

var zoneCache sync.Map // name -> *time.Location

// LoadZone resolves an IANA zone name. The empty name is UTC. Results are
// memoized because time.LoadLocation reads the zoneinfo database.
func LoadZone(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "UTC" {
		return time.UTC, nil
	}
	if v, ok := zoneCache.Load(name); ok {
		return v.(*time.Location), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("calendar: unknown timezone %q: %w", name, err)
	}
	zoneCache.Store(name, loc)
	return loc, nil
}

// Layouts accepted by ParseInstant, most specific first.
var instantLayouts = []struct {
	layout string
	zoned  bool
}{
	{time.RFC3339Nano, true},
	{"2006-01-02T15:04:05.999999999", false},
	{"2006-01-02T15:04", false},
	{DayKeyLayout, false},
}

// ParseInstant parses a stored date value. Values without an offset are
// read as wall time in zone. Failures are *InvalidInstantError.
func ParseInstant(value string, zone *time.Location) (time.Time, error) {
	if zone == nil {
		zone = time.UTC
	}
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}, &InvalidInstantError{Value: value, Err: fmt.Errorf("empty value")}
	}
	var lastErr error
	for _, l := range instantLayouts {
		var (
			t   time.Time
			err error
		)
		if l.zoned {
			t, err = time.Parse(l.layout, v)
		} else {
			t, err = time.ParseInLocation(l.layout, v, zone)
		}
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, &InvalidInstantError{Value: value, Err: lastErr}
}

// FormatInstant renders t the way instance ids and stored rows expect:
// UTC with millisecond precision.
func FormatInstant(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
