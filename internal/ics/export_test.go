package ics

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homecal/internal/model"
)

func TestWriteOccurrences(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	occs := []model.Occurrence{
		{
			BaseEventID: "dentist",
			InstanceID:  "dentist:2024-03-05T14:00:00.000Z",
			Title:       "Dentist",
			Location:    "Main St",
			Timezone:    "UTC",
			StartsAt:    time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC),
			EndsAt:      time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC),
		},
		{
			BaseEventID: "break",
			InstanceID:  "break",
			Title:       "Spring break",
			Timezone:    "Europe/Berlin",
			AllDay:      true,
			StartsAt:    time.Date(2024, 3, 25, 0, 0, 0, 0, berlin),
			EndsAt:      time.Date(2024, 3, 27, 0, 0, 0, 0, berlin),
		},
	}

	var buf bytes.Buffer
	stamp := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, WriteOccurrences(&buf, "Family", occs, stamp))

	out := buf.String()
	assert.Contains(t, out, "BEGIN:VCALENDAR")
	assert.Contains(t, out, "METHOD:PUBLISH")
	assert.Contains(t, out, "UID:dentist:2024-03-05T14:00:00.000Z@homecal")
	assert.Contains(t, out, "20240305T140000Z")
	assert.Contains(t, out, "SUMMARY:Dentist")
	assert.Contains(t, out, "RELATED-TO:break")
	assert.Contains(t, out, "20240325")

	// The export reads back through the importer.
	defs, err := ParseFeed(Feed{ID: "export"}, buf.Bytes())
	require.NoError(t, err)
	require.Len(t, defs, 2)
	got := byID(defs)
	dentist := got["export:dentist:2024-03-05T14:00:00.000Z@homecal"]
	assert.True(t, dentist.StartAt.Equal(occs[0].StartsAt))
	assert.Equal(t, time.Hour, dentist.Duration())
	assert.True(t, got["export:break@homecal"].AllDay)
}

func TestWriteOccurrences_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteOccurrences(&buf, "", nil, time.Now()))
	assert.Contains(t, buf.String(), "END:VCALENDAR")
}
