package calendar

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// Rule is a parsed recurrence rule anchored to an event's own start and
// zone. Exceptions and additions are normalized into that zone.
type Rule struct {
	Text       string
	Anchor     time.Time
	Zone       *time.Location
	Exceptions []time.Time
	Additions  []time.Time

	until time.Time
	count int
	rr    *rrule.RRule
}

// ParseRule parses an RRULE body ("FREQ=WEEKLY;BYDAY=MO", optionally
// prefixed with "RRULE:") and anchors it at anchor in zone. Errors are
// *RuleParseError without an event id; callers fill it in.
func ParseRule(text string, anchor time.Time, zone *time.Location, exceptions, additions []time.Time) (*Rule, error) {
	if zone == nil {
		zone = time.UTC
	}
	if anchor.IsZero() {
		return nil, &RuleParseError{Rule: text, Err: errors.New("missing anchor")}
	}

	body, err := ruleBody(text)
	if err != nil {
		return nil, &RuleParseError{Rule: text, Err: err}
	}

	opt, err := rrule.StrToROption(body)
	if err != nil {
		return nil, &RuleParseError{Rule: text, Err: err}
	}
	if opt.Interval < 0 {
		return nil, &RuleParseError{Rule: text, Err: fmt.Errorf("interval must be positive, got %d", opt.Interval)}
	}

	// Never let the library fall back to time.Now for DTSTART.
	anchor = anchor.In(zone).Truncate(time.Second)
	opt.Dtstart = anchor

	rr, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, &RuleParseError{Rule: text, Err: err}
	}

	return &Rule{
		Text:       body,
		Anchor:     anchor,
		Zone:       zone,
		Exceptions: normalizeInstants(exceptions, zone),
		Additions:  normalizeInstants(additions, zone),
		until:      opt.Until,
		count:      opt.Count,
		rr:         rr,
	}, nil
}

// ruleBody extracts the RRULE part of a rule string. Multi-line values
// ("DTSTART:...\nRRULE:...\nEXDATE:...") are reduced to the RRULE line
// since the anchor always comes from the event. A bare "FREQ=..." line is
// accepted when no RRULE line is present.
func ruleBody(text string) (string, error) {
	var rruleLine, bareLine string
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		upper := strings.ToUpper(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(upper, "RRULE:"):
			if rruleLine == "" {
				rruleLine = strings.TrimPrefix(upper, "RRULE:")
			}
		case bareLine == "" && upper != "" && !isPropertyLine(upper):
			bareLine = upper
		}
	}
	body := rruleLine
	if body == "" {
		body = bareLine
	}
	body = strings.Trim(body, "; ")
	if body == "" {
		return "", errors.New("empty rule")
	}
	if !strings.HasPrefix(body, "FREQ=") && !strings.Contains(body, ";FREQ=") {
		return "", errors.New("FREQ is required")
	}
	for _, part := range strings.Split(body, ";") {
		key, value, _ := strings.Cut(part, "=")
		if key != "INTERVAL" {
			continue
		}
		// rrule-go silently turns 0 into 1.
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && n == 0 {
			return "", errors.New("interval must be positive, got 0")
		}
	}
	return body, nil
}

// isPropertyLine reports whether line is a content line such as
// "EXDATE:..." or "DTSTART;TZID=...:..." rather than a bare rule body.
func isPropertyLine(line string) bool {
	i := strings.IndexAny(line, ":;=")
	return i > 0 && line[i] != '='
}

// normalizeInstants drops zero values, converts into zone and truncates to
// whole seconds so they compare equal to generated instants.
func normalizeInstants(ts []time.Time, zone *time.Location) []time.Time {
	if len(ts) == 0 {
		return nil
	}
	out := make([]time.Time, 0, len(ts))
	for _, t := range ts {
		if t.IsZero() {
			continue
		}
		out = append(out, t.In(zone).Truncate(time.Second))
	}
	return out
}

// Between returns the rule-generated instants in [after, before], inclusive,
// in the rule's zone. Exceptions are not applied here.
func (r *Rule) Between(after, before time.Time) []time.Time {
	return r.rr.Between(after.In(r.Zone), before.In(r.Zone), true)
}

// Iterate calls fn with each rule instant in ascending order, in the rule's
// zone, until fn returns false or the rule ends.
func (r *Rule) Iterate(fn func(time.Time) bool) {
	next := r.rr.Iterator()
	for {
		at, ok := next()
		if !ok || !fn(at) {
			return
		}
	}
}

// Finite reports whether the rule ends on its own (UNTIL or COUNT).
func (r *Rule) Finite() bool {
	return !r.until.IsZero() || r.count > 0
}

// Last returns the last generated instant of a finite rule.
func (r *Rule) Last() (time.Time, bool) {
	if !r.until.IsZero() {
		return r.until.In(r.Zone), true
	}
	if r.count > 0 {
		all := r.rr.All()
		if len(all) == 0 {
			return time.Time{}, false
		}
		return all[len(all)-1], true
	}
	return time.Time{}, false
}

func (r *Rule) String() string {
	return r.Text
}
