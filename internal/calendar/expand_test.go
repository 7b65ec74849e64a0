package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func utc(y int, m time.Month, d, h, minute int) time.Time {
	return time.Date(y, m, d, h, minute, 0, 0, time.UTC)
}

func starts(ss []Start) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = s.At.UTC().Format(time.RFC3339)
	}
	return out
}

func rfc(ts ...time.Time) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.UTC().Format(time.RFC3339)
	}
	return out
}

func TestExpander_SingleEvent(t *testing.T) {
	x := Expander{}
	w := Window{Start: utc(2024, 3, 1, 0, 0), End: utc(2024, 3, 31, 23, 59)}

	t.Run("inside window", func(t *testing.T) {
		got, truncated := x.Expand(Series{Start: utc(2024, 3, 5, 14, 0), End: utc(2024, 3, 5, 15, 0)}, w)
		require.Len(t, got, 1)
		assert.False(t, truncated)
		assert.Equal(t, KindSingle, got[0].Kind)
	})

	t.Run("just before window is not buffered in", func(t *testing.T) {
		got, _ := x.Expand(Series{Start: utc(2024, 2, 29, 22, 0), End: utc(2024, 2, 29, 23, 0)}, w)
		assert.Empty(t, got)
	})

	t.Run("ending exactly at window start is excluded", func(t *testing.T) {
		got, _ := x.Expand(Series{Start: utc(2024, 2, 29, 23, 0), End: utc(2024, 3, 1, 0, 0)}, w)
		assert.Empty(t, got)
	})

	t.Run("spanning into window", func(t *testing.T) {
		got, _ := x.Expand(Series{Start: utc(2024, 2, 20, 0, 0), End: utc(2024, 3, 2, 0, 0)}, w)
		assert.Len(t, got, 1)
	})

	t.Run("zero length inside window", func(t *testing.T) {
		got, _ := x.Expand(Series{Start: utc(2024, 3, 5, 14, 0), End: utc(2024, 3, 5, 14, 0)}, w)
		assert.Len(t, got, 1)
	})
}

func TestExpander_AdditionsWithoutRule(t *testing.T) {
	x := Expander{}
	w := Window{Start: utc(2024, 3, 1, 0, 0), End: utc(2024, 3, 31, 23, 59)}
	s := Series{
		Start: utc(2024, 3, 5, 14, 0),
		End:   utc(2024, 3, 5, 15, 0),
		Additions: []time.Time{
			utc(2024, 3, 12, 14, 0),
			utc(2024, 3, 5, 14, 0), // same as base
			utc(2024, 4, 12, 14, 0),
		},
	}

	got, _ := x.Expand(s, w)
	require.Len(t, got, 2)
	assert.Equal(t, KindSingle, got[0].Kind)
	assert.Equal(t, KindAddition, got[1].Kind)
	assert.True(t, got[1].At.Equal(utc(2024, 3, 12, 14, 0)))
}

func TestExpander_AdditionsWhenBaseOutsideWindow(t *testing.T) {
	x := Expander{}
	w := Window{Start: utc(2024, 3, 1, 0, 0), End: utc(2024, 3, 31, 23, 59)}
	s := Series{
		Start:     utc(2024, 2, 5, 14, 0),
		End:       utc(2024, 2, 5, 15, 0),
		Additions: []time.Time{utc(2024, 3, 12, 14, 0)},
	}

	got, _ := x.Expand(s, w)
	require.Len(t, got, 1)
	assert.Equal(t, KindAddition, got[0].Kind)
}

func TestExpander_RuleWithExceptionsAndAdditions(t *testing.T) {
	x := Expander{}
	anchor := utc(2024, 1, 1, 9, 0)
	rule, err := ParseRule("FREQ=DAILY;COUNT=5", anchor, time.UTC,
		[]time.Time{utc(2024, 1, 2, 9, 0), utc(2024, 1, 20, 12, 0)},
		[]time.Time{utc(2024, 1, 3, 9, 0), utc(2024, 1, 10, 9, 0), utc(2024, 1, 20, 12, 0)},
	)
	require.NoError(t, err)

	s := Series{
		Start:      anchor,
		End:        anchor.Add(time.Hour),
		Rule:       rule,
		Exceptions: rule.Exceptions,
		Additions:  rule.Additions,
	}
	w := Window{Start: utc(2024, 1, 1, 0, 0), End: utc(2024, 1, 31, 23, 59)}

	got, truncated := x.Expand(s, w)
	assert.False(t, truncated)
	assert.Equal(t, rfc(
		utc(2024, 1, 1, 9, 0),
		utc(2024, 1, 3, 9, 0), // rule and addition coincide: one instance
		utc(2024, 1, 4, 9, 0),
		utc(2024, 1, 5, 9, 0),
		utc(2024, 1, 10, 9, 0),
	), starts(got))
	assert.Equal(t, KindRecurrence, got[1].Kind)
	assert.Equal(t, KindAddition, got[4].Kind)
}

func TestExpander_LongOccurrenceBeforeBuffer(t *testing.T) {
	x := Expander{}
	anchor := utc(2024, 1, 1, 0, 0)
	rule, err := ParseRule("FREQ=WEEKLY", anchor, time.UTC, nil, nil)
	require.NoError(t, err)

	s := Series{Start: anchor, End: anchor.Add(72 * time.Hour), Rule: rule}
	w := Window{Start: utc(2024, 1, 10, 0, 0), End: utc(2024, 1, 10, 12, 0)}

	got, _ := x.Expand(s, w)
	require.Len(t, got, 1)
	assert.True(t, got[0].At.Equal(utc(2024, 1, 8, 0, 0)))
}

func TestExpander_BufferDoesNotLeakIntoResult(t *testing.T) {
	x := Expander{}
	anchor := utc(2024, 1, 1, 9, 0)
	rule, err := ParseRule("FREQ=DAILY", anchor, time.UTC, nil, nil)
	require.NoError(t, err)

	s := Series{Start: anchor, End: anchor.Add(time.Hour), Rule: rule}
	w := Window{Start: utc(2024, 1, 10, 0, 0), End: utc(2024, 1, 10, 23, 59)}

	got, _ := x.Expand(s, w)
	assert.Equal(t, rfc(utc(2024, 1, 10, 9, 0)), starts(got))
}

func TestExpander_MaxPerSeries(t *testing.T) {
	x := Expander{MaxPerSeries: 10}
	anchor := utc(2024, 1, 1, 0, 0)
	rule, err := ParseRule("FREQ=HOURLY", anchor, time.UTC, nil, nil)
	require.NoError(t, err)

	s := Series{Start: anchor, End: anchor.Add(30 * time.Minute), Rule: rule}
	got, truncated := x.Expand(s, Window{Start: anchor, End: utc(2024, 1, 2, 0, 0)})
	assert.True(t, truncated)
	assert.Len(t, got, 10)
	assert.True(t, got[0].At.Equal(anchor))
}

func TestExpander_MaxPerSeriesStopsEnumeration(t *testing.T) {
	x := Expander{MaxPerSeries: 10}

	t.Run("dense rule over a month", func(t *testing.T) {
		anchor := utc(2024, 3, 1, 0, 0)
		rule, err := ParseRule("FREQ=SECONDLY", anchor, time.UTC, nil, nil)
		require.NoError(t, err)

		start := time.Now()
		got, truncated := x.Expand(Series{Start: anchor, End: anchor, Rule: rule},
			Window{Start: anchor, End: utc(2024, 3, 31, 23, 59)})
		assert.True(t, truncated)
		assert.Len(t, got, 10)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	})

	t.Run("dense rule anchored years before the window", func(t *testing.T) {
		anchor := utc(2010, 1, 1, 0, 0)
		rule, err := ParseRule("FREQ=MINUTELY", anchor, time.UTC, nil, nil)
		require.NoError(t, err)

		start := time.Now()
		_, truncated := x.Expand(Series{Start: anchor, End: anchor.Add(time.Minute), Rule: rule},
			Window{Start: utc(2024, 3, 1, 0, 0), End: utc(2024, 3, 31, 23, 59)})
		assert.True(t, truncated)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	})

	t.Run("sparse rule anchored long ago is not truncated", func(t *testing.T) {
		anchor := utc(1990, 1, 1, 9, 0)
		rule, err := ParseRule("FREQ=DAILY", anchor, time.UTC, nil, nil)
		require.NoError(t, err)

		got, truncated := Expander{}.Expand(Series{Start: anchor, End: anchor.Add(time.Hour), Rule: rule},
			Window{Start: utc(2024, 3, 1, 0, 0), End: utc(2024, 3, 31, 23, 59)})
		assert.False(t, truncated)
		assert.Len(t, got, 31)
	})
}

func TestExpander_Deterministic(t *testing.T) {
	x := Expander{}
	mel := mustZone(t, "Australia/Melbourne")
	anchor := time.Date(2024, 1, 1, 9, 0, 0, 0, mel)
	rule, err := ParseRule("FREQ=WEEKLY;BYDAY=MO,TH", anchor, mel, nil, []time.Time{utc(2024, 1, 20, 0, 0)})
	require.NoError(t, err)

	s := Series{Start: anchor, End: anchor.Add(time.Hour), Rule: rule, Additions: rule.Additions}
	w := Window{Start: utc(2024, 1, 1, 0, 0), End: utc(2024, 2, 1, 0, 0)}

	first, _ := x.Expand(s, w)
	for i := 0; i < 5; i++ {
		again, _ := x.Expand(s, w)
		assert.Equal(t, first, again)
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "single", KindSingle.String())
	assert.Equal(t, "recurrence", KindRecurrence.String())
	assert.Equal(t, "addition", KindAddition.String())
	assert.Equal(t, "unknown", Kind(42).String())
}
