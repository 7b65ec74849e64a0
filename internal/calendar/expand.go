package calendar

import (
	"sort"
	"time"
)

const (
	defaultMaxPerSeries = 5000

	// scanFactor bounds how many rule instants, including those before the
	// window, one series may walk: MaxPerSeries * scanFactor.
	scanFactor = 200
)

// Kind records which path produced a start instant.
type Kind int

const (
	// KindSingle is the base instant of an event without a rule.
	KindSingle Kind = iota
	// KindRecurrence is generated by a recurrence rule.
	KindRecurrence
	// KindAddition comes from an explicit addition date.
	KindAddition
)

func (k Kind) String() string {
	switch k {
	case KindSingle:
		return "single"
	case KindRecurrence:
		return "recurrence"
	case KindAddition:
		return "addition"
	default:
		return "unknown"
	}
}

// Start is one enumerated occurrence start.
type Start struct {
	At   time.Time
	Kind Kind
}

// Series is the expansion input for one event. Start/End carry the base
// occurrence; Rule is nil for single events. Exceptions and Additions are
// expected in the event's zone (ParseRule does this for rule-based series).
type Series struct {
	Start      time.Time
	End        time.Time
	Rule       *Rule
	Exceptions []time.Time
	Additions  []time.Time
}

// Expander enumerates occurrence starts of a series inside a window.
type Expander struct {
	// Lookaround widens rule and addition enumeration on both sides of the
	// window. Zero means DefaultLookaround.
	Lookaround time.Duration

	// MaxPerSeries caps the instants one series may produce per call.
	// Zero means 5000.
	MaxPerSeries int
}

func (x Expander) lookaround() time.Duration {
	if x.Lookaround <= 0 {
		return DefaultLookaround
	}
	return x.Lookaround
}

func (x Expander) maxPerSeries() int {
	if x.MaxPerSeries <= 0 {
		return defaultMaxPerSeries
	}
	return x.MaxPerSeries
}

// Expand returns the starts of s whose occurrence overlaps w, ascending and
// free of duplicates. The second result reports whether MaxPerSeries cut the
// list short, either because the window holds more instants than that or
// because reaching the window took more than MaxPerSeries*200 rule steps.
//
// Rule instants and additions are enumerated over the buffered window; the
// plain base instant of a rule-less series is checked against w directly.
// Additions are evaluated whether or not a rule is present. Any instant equal
// to an exception is dropped.
func (x Expander) Expand(s Series, w Window) ([]Start, bool) {
	dur := s.End.Sub(s.Start)
	buf := w.Buffered(x.lookaround())

	excluded := make(map[int64]struct{}, len(s.Exceptions))
	for _, ex := range s.Exceptions {
		excluded[instantKey(ex)] = struct{}{}
	}
	seen := make(map[int64]struct{})
	limit := x.maxPerSeries()
	truncated := false

	var out []Start
	emit := func(at time.Time, kind Kind) {
		key := instantKey(at)
		if _, ok := excluded[key]; ok {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		if !w.Overlaps(at, at.Add(dur)) {
			return
		}
		if len(out) >= limit {
			truncated = true
			return
		}
		seen[key] = struct{}{}
		out = append(out, Start{At: at, Kind: kind})
	}

	if s.Rule != nil {
		from := buf.Start
		if dur > 0 {
			// Occurrences that started before the buffer may still run into w.
			from = from.Add(-dur)
		}
		budget := limit * scanFactor
		scanned := 0
		s.Rule.Iterate(func(at time.Time) bool {
			if at.After(buf.End) {
				return false
			}
			scanned++
			if scanned > budget {
				truncated = true
				return false
			}
			if at.Before(from) {
				return true
			}
			emit(at, KindRecurrence)
			return !truncated
		})
	} else if w.Overlaps(s.Start, s.End) {
		emit(s.Start, KindSingle)
	}

	for _, at := range s.Additions {
		if !buf.Overlaps(at, at.Add(dur)) {
			continue
		}
		emit(at, KindAddition)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].At.Before(out[j].At)
	})
	return out, truncated
}

// instantKey identifies an instant at whole-second resolution, the
// resolution rule instants and normalized exceptions/additions carry.
func instantKey(t time.Time) int64 {
	return t.Truncate(time.Second).Unix()
}
