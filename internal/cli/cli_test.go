package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"homecal/internal/config"
	"homecal/internal/model"
	"homecal/internal/store"
)

// writeConfig saves a config rooted in a temp dir and returns its path.
func writeConfig(t *testing.T, mutate func(*config.Config)) (string, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Store.Path = filepath.Join(dir, "homecal.db")
	cfg.FeedCacheDir = filepath.Join(dir, "feed-cache")
	cfg.FeedRate = 0
	if mutate != nil {
		mutate(cfg)
	}
	path := filepath.Join(dir, "homecal.yaml")
	require.NoError(t, cfg.Save(path))
	return path, cfg
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	monthZone, monthDay, serveListen = "", "", ""
	hashCost = bcrypt.MinCost

	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func seed(t *testing.T, cfg *config.Config, defs ...model.EventDefinition) {
	t.Helper()
	st, err := store.OpenSQLite(cfg.Store.Path)
	require.NoError(t, err)
	defer st.Close()
	for _, def := range defs {
		require.NoError(t, st.PutEvent(context.Background(), def))
	}
}

func TestMonthCommand(t *testing.T) {
	path, cfg := writeConfig(t, nil)
	seed(t, cfg, model.EventDefinition{
		ID:       "dentist",
		Title:    "Dentist",
		StartAt:  time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC),
		EndAt:    time.Date(2024, 3, 12, 10, 0, 0, 0, time.UTC),
		Timezone: "UTC",
		Source:   model.SourceNative,
	}, model.EventDefinition{
		ID:             "swim",
		Title:          "Swimming",
		StartAt:        time.Date(2024, 3, 4, 17, 0, 0, 0, time.UTC),
		EndAt:          time.Date(2024, 3, 4, 18, 0, 0, 0, time.UTC),
		Timezone:       "UTC",
		RecurrenceRule: "FREQ=WEEKLY;COUNT=2",
		Source:         model.SourceNative,
	})

	out, err := run(t, "", "--config", path, "month", "2024-03", "--tz", "UTC")
	require.NoError(t, err)

	var agg model.MonthAggregate
	require.NoError(t, json.Unmarshal([]byte(out), &agg))
	assert.Equal(t, "2024-03", agg.MonthKey)
	require.Len(t, agg.Days["2024-03-12"], 1)
	assert.Equal(t, "Dentist", agg.Days["2024-03-12"][0].Title)
	assert.Len(t, agg.Days["2024-03-04"], 1)
	assert.Len(t, agg.Days["2024-03-11"], 1)
	assert.Empty(t, agg.Days["2024-03-18"])

	out, err = run(t, "", "--config", path, "month", "--day", "2024-03-11")
	require.NoError(t, err)
	var occs []model.Occurrence
	require.NoError(t, json.Unmarshal([]byte(out), &occs))
	require.Len(t, occs, 1)
	assert.Equal(t, "swim", occs[0].BaseEventID)
}

func TestMonthCommand_Errors(t *testing.T) {
	path, _ := writeConfig(t, nil)

	_, err := run(t, "", "--config", path, "month", "2024-03", "--tz", "Nowhere/Special")
	assert.Error(t, err)

	_, err = run(t, "", "--config", path, "month", "March")
	assert.Error(t, err)

	bad, _ := writeConfig(t, func(c *config.Config) { c.RefreshCron = "whenever" })
	_, err = run(t, "", "--config", bad, "month", "2024-03")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestSyncCommand(t *testing.T) {
	feed := strings.ReplaceAll(`BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//club//EN
BEGIN:VEVENT
UID:match-1
DTSTART:20240315T100000Z
DTEND:20240315T110000Z
SUMMARY:Match
END:VEVENT
END:VCALENDAR
`, "\n", "\r\n")
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/club.ics" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(feed))
	}))
	defer ts.Close()

	path, cfg := writeConfig(t, func(c *config.Config) {
		c.Feeds = []config.FeedConfig{
			{ID: "club", URL: ts.URL + "/club.ics"},
			{ID: "gone", URL: ts.URL + "/gone.ics"},
		}
	})

	out, err := run(t, "", "--config", path, "sync")
	require.Error(t, err)
	assert.Contains(t, out, "club")
	assert.Contains(t, out, "1 events, 1 changed")
	assert.Contains(t, out, "gone")
	assert.Contains(t, out, "failed")

	st, err := store.OpenSQLite(cfg.Store.Path)
	require.NoError(t, err)
	defer st.Close()
	def, err := st.GetEvent(context.Background(), "club:match-1")
	require.NoError(t, err)
	assert.Equal(t, "Match", def.Title)
	assert.Equal(t, "imported:club", def.Source)
}

func TestSyncCommand_NoFeeds(t *testing.T) {
	path, _ := writeConfig(t, nil)
	out, err := run(t, "", "--config", path, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "No feeds configured.")
}

func TestHashPasswordCommand(t *testing.T) {
	out, err := run(t, "correct horse\n", "hash-password")
	require.NoError(t, err)
	hash := strings.TrimSpace(out)
	assert.True(t, strings.HasPrefix(hash, "$2a$"))
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("correct horse")))

	_, err = run(t, "\n", "hash-password")
	assert.EqualError(t, err, "password cannot be empty")
}
