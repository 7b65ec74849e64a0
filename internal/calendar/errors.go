package calendar

import (
	"errors"
	"fmt"
)

var (
	// ErrRuleParse marks a malformed recurrence description.
	ErrRuleParse = errors.New("calendar: invalid recurrence rule")
	// ErrInvalidInstant marks a start/end/exception/addition value that is
	// not a usable instant.
	ErrInvalidInstant = errors.New("calendar: invalid instant")
	// ErrWindowOrder is returned when a query window ends before it starts.
	ErrWindowOrder = errors.New("calendar: window end is before window start")
)

// RuleParseError reports a recurrence rule that could not be parsed. The
// owning event is skipped; other events in the same call are unaffected.
type RuleParseError struct {
	EventID string
	Rule    string
	Err     error
}

func (e *RuleParseError) Error() string {
	if e.EventID == "" {
		return fmt.Sprintf("%v %q: %v", ErrRuleParse, e.Rule, e.Err)
	}
	return fmt.Sprintf("%v %q (event %s): %v", ErrRuleParse, e.Rule, e.EventID, e.Err)
}

func (e *RuleParseError) Unwrap() error { return e.Err }

func (e *RuleParseError) Is(target error) bool { return target == ErrRuleParse }

// InvalidInstantError reports one date value that failed to parse or is
// missing. Field is "start_at", "end_at", "exception_dates" or
// "addition_dates".
type InvalidInstantError struct {
	EventID string
	Field   string
	Value   string
	Err     error
}

func (e *InvalidInstantError) Error() string {
	msg := fmt.Sprintf("%v: %s=%q", ErrInvalidInstant, e.Field, e.Value)
	if e.EventID != "" {
		msg += " (event " + e.EventID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvalidInstantError) Unwrap() error { return e.Err }

func (e *InvalidInstantError) Is(target error) bool { return target == ErrInvalidInstant }
