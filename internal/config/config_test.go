package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FirstRunWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "homecal.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoad_PartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "homecal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9000"
timezone: Europe/Berlin
store:
  driver: PostgreSQL
  dsn: postgres://cal@localhost/cal
calendar:
  max_per_day: 20
  lookaround: 36h
  cache_ttl: 10m
feeds:
  - name: school
    url: https://example.com/school.ics
basic_auth:
  username: admin
  password: secret
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://cal@localhost/cal", cfg.Store.Target())
	assert.Equal(t, 20, cfg.Calendar.MaxPerDay)
	assert.Equal(t, 3, cfg.Calendar.InlineDisplayLimit)
	assert.Equal(t, 36*time.Hour, cfg.Calendar.Lookaround)
	assert.Equal(t, 10*time.Minute, cfg.Calendar.CacheTTL)
	assert.Equal(t, "school", cfg.Feeds[0].ID)
	assert.Equal(t, "*/15 * * * *", cfg.RefreshCron)
	require.NotNil(t, cfg.BasicAuth)
	assert.Equal(t, "admin", cfg.BasicAuth.Username)
	assert.NoError(t, cfg.Validate())

	engine := cfg.Calendar.EngineConfig()
	assert.Equal(t, 20, engine.MaxPerDay)
	assert.Equal(t, 36*time.Hour, engine.Lookaround)
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "homecal.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [unterminated"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)

	_, err = Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Timezone = "Nowhere/Special"
	cfg.RefreshCron = "every now and then"
	cfg.Store.Driver = "postgres"
	cfg.Feeds = []FeedConfig{
		{ID: "a", URL: "https://example.com/a.ics"},
		{ID: "a", URL: "https://example.com/b.ics"},
		{URL: ""},
	}
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"timezone", "refresh", "store.dsn", "duplicate id", "id is required", "url is required"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "homecal.yaml")
	cfg := DefaultConfig()
	cfg.Feeds = append(cfg.Feeds, FeedConfig{ID: "club", URL: "https://example.com/club.ics", Timezone: "Europe/London"})
	cfg.BasicAuth = &BasicAuthConfig{Username: "u", Password: "p"}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	assert.Error(t, Save(path, nil))
}
