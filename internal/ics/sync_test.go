package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homecal/internal/model"
	"homecal/internal/store"
)

type recordingInvalidator struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingInvalidator) InvalidateEvent(def model.EventDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, def.ID)
}

func (r *recordingInvalidator) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.ids
	r.ids = nil
	sort.Strings(out)
	return out
}

const feedV1 = `
BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:a
DTSTAMP:20240101T000000Z
SUMMARY:A
DTSTART:20240305T090000Z
DTEND:20240305T100000Z
END:VEVENT
BEGIN:VEVENT
UID:b
DTSTAMP:20240101T000000Z
SUMMARY:B
DTSTART:20240306T090000Z
DTEND:20240306T100000Z
END:VEVENT
END:VCALENDAR
`

const feedV2 = `
BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:a
DTSTAMP:20240102T000000Z
SUMMARY:A
DTSTART:20240305T090000Z
DTEND:20240305T100000Z
END:VEVENT
BEGIN:VEVENT
UID:c
DTSTAMP:20240102T000000Z
SUMMARY:C
DTSTART:20240307T090000Z
DTEND:20240307T100000Z
END:VEVENT
END:VCALENDAR
`

func TestSyncer_Sync(t *testing.T) {
	var (
		mu   sync.Mutex
		body = feedV1
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		_, _ = w.Write(crlf(body))
	}))
	defer srv.Close()

	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	defer st.Close()

	inv := &recordingInvalidator{}
	syncer := NewSyncer(NewFetcher(t.TempDir(), WithRateLimit(0, 1)), st, inv)
	feeds := []Feed{{ID: "club", URL: srv.URL}}
	ctx := context.Background()

	reports, err := syncer.Sync(ctx, feeds)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, 2, reports[0].Events)
	assert.Equal(t, 2, reports[0].Changed)
	assert.Equal(t, []string{"club:a", "club:b"}, inv.take())

	// Same content: nothing to invalidate.
	reports, err = syncer.Sync(ctx, feeds)
	require.NoError(t, err)
	assert.Equal(t, 0, reports[0].Changed)
	assert.Empty(t, inv.take())

	mu.Lock()
	body = feedV2
	mu.Unlock()

	reports, err = syncer.Sync(ctx, feeds)
	require.NoError(t, err)
	assert.Equal(t, 2, reports[0].Changed)
	assert.Equal(t, []string{"club:b", "club:c"}, inv.take())

	_, err = st.GetEvent(ctx, "club:b")
	assert.ErrorIs(t, err, store.ErrNotFound)
	c, err := st.GetEvent(ctx, "club:c")
	require.NoError(t, err)
	assert.Equal(t, "imported:club", c.Source)
}

func TestSyncer_FeedErrorsDoNotStopOthers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(crlf(feedV1))
	}))
	defer srv.Close()

	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	defer st.Close()

	syncer := NewSyncer(NewFetcher(t.TempDir(), WithRateLimit(0, 1)), st, nil)
	reports, err := syncer.Sync(context.Background(), []Feed{
		{ID: "broken", URL: srv.URL + "/broken"},
		{ID: "good", URL: srv.URL + "/good"},
	})
	require.Error(t, err)
	require.Len(t, reports, 2)
	assert.Error(t, reports[0].Err)
	assert.NoError(t, reports[1].Err)
	assert.Equal(t, 2, reports[1].Events)
}

func TestChangedDefinitions(t *testing.T) {
	a := model.EventDefinition{ID: "a", Title: "A"}
	a2 := model.EventDefinition{ID: "a", Title: "A2"}
	b := model.EventDefinition{ID: "b"}

	got := changedDefinitions([]model.EventDefinition{a, b}, []model.EventDefinition{a2})
	require.Len(t, got, 3)
	assert.Equal(t, "A", got[0].Title)
	assert.Equal(t, "A2", got[1].Title)
	assert.Equal(t, "b", got[2].ID)

	assert.Empty(t, changedDefinitions([]model.EventDefinition{a}, []model.EventDefinition{a}))
}
