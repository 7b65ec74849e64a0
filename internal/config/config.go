package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"homecal/internal/calendar"
)

// FeedConfig describes one iCalendar subscription.
type FeedConfig struct {
	// ID tags imported rows; changing it re-imports the feed.
	ID  string `yaml:"id" json:"id"`
	URL string `yaml:"url" json:"url"`
	// Name is a human-friendly label.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
	// Timezone applies to floating times in the feed.
	Timezone string `yaml:"timezone,omitempty" json:"timezone,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
// Password may be plain text or a bcrypt hash ("$2a$..." / "$2b$...").
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// StoreConfig selects the event store backend.
type StoreConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string `yaml:"driver" json:"driver"`
	// Path is the SQLite database file.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
}

// Target returns the driver-specific connection target.
func (s StoreConfig) Target() string {
	if s.Driver == "postgres" {
		return s.DSN
	}
	return s.Path
}

// CalendarConfig tunes the occurrence engine and its caches.
type CalendarConfig struct {
	MaxPerDay          int           `yaml:"max_per_day" json:"max_per_day"`
	InlineDisplayLimit int           `yaml:"inline_display_limit" json:"inline_display_limit"`
	Lookaround         time.Duration `yaml:"lookaround" json:"lookaround"`
	MaxPerSeries       int           `yaml:"max_per_series" json:"max_per_series"`
	// CacheTTL bounds how long a cached month lives; zero keeps entries
	// until invalidated.
	CacheTTL                  time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
	InvalidationHorizonMonths int           `yaml:"invalidation_horizon_months" json:"invalidation_horizon_months"`
}

// EngineConfig converts to the engine's settings.
func (c CalendarConfig) EngineConfig() calendar.Config {
	return calendar.Config{
		MaxPerDay:          c.MaxPerDay,
		InlineDisplayLimit: c.InlineDisplayLimit,
		Lookaround:         c.Lookaround,
		MaxPerSeries:       c.MaxPerSeries,
	}
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the default viewing zone when a request does not name one.
	Timezone string `yaml:"timezone" json:"timezone"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	Store    StoreConfig    `yaml:"store" json:"store"`
	Calendar CalendarConfig `yaml:"calendar" json:"calendar"`

	Feeds []FeedConfig `yaml:"feeds" json:"feeds"`

	// RefreshCron is a standard 5-field cron schedule for feed sync.
	RefreshCron string `yaml:"refresh" json:"refresh"`
	// FeedRate is the maximum number of feed requests per second.
	FeedRate     float64 `yaml:"feed_rate" json:"feed_rate"`
	FeedCacheDir string  `yaml:"feed_cache_dir" json:"feed_cache_dir"`

	// BasicAuth, if set, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	defaults := calendar.DefaultConfig()
	return &Config{
		Listen:   "127.0.0.1:8080",
		Timezone: "UTC",
		LogLevel: "info",
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "./var/homecal.db",
		},
		Calendar: CalendarConfig{
			MaxPerDay:                 defaults.MaxPerDay,
			InlineDisplayLimit:        defaults.InlineDisplayLimit,
			Lookaround:                defaults.Lookaround,
			MaxPerSeries:              defaults.MaxPerSeries,
			InvalidationHorizonMonths: calendar.DefaultInvalidationHorizon,
		},
		Feeds:        []FeedConfig{},
		RefreshCron:  "*/15 * * * *",
		FeedRate:     1,
		FeedCacheDir: "./var/feed-cache",
	}
}

// Normalize fills zero values with defaults so partially written files
// still behave.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}

	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch c.Store.Driver {
	case "":
		c.Store.Driver = d.Store.Driver
	case "postgresql", "pgx":
		c.Store.Driver = "postgres"
	}
	if c.Store.Driver == "sqlite" && c.Store.Path == "" {
		c.Store.Path = d.Store.Path
	}

	if c.Calendar.MaxPerDay <= 0 {
		c.Calendar.MaxPerDay = d.Calendar.MaxPerDay
	}
	if c.Calendar.InlineDisplayLimit <= 0 {
		c.Calendar.InlineDisplayLimit = d.Calendar.InlineDisplayLimit
	}
	if c.Calendar.Lookaround <= 0 {
		c.Calendar.Lookaround = d.Calendar.Lookaround
	}
	if c.Calendar.MaxPerSeries <= 0 {
		c.Calendar.MaxPerSeries = d.Calendar.MaxPerSeries
	}
	if c.Calendar.CacheTTL < 0 {
		c.Calendar.CacheTTL = 0
	}
	if c.Calendar.InvalidationHorizonMonths <= 0 {
		c.Calendar.InvalidationHorizonMonths = d.Calendar.InvalidationHorizonMonths
	}

	if c.Feeds == nil {
		c.Feeds = []FeedConfig{}
	}
	for i := range c.Feeds {
		if c.Feeds[i].ID == "" {
			c.Feeds[i].ID = c.Feeds[i].Name
		}
	}
	if c.RefreshCron == "" {
		c.RefreshCron = d.RefreshCron
	}
	if c.FeedRate < 0 {
		c.FeedRate = 0
	}
	if c.FeedCacheDir == "" {
		c.FeedCacheDir = d.FeedCacheDir
	}
}

// Validate reports settings Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if _, err := calendar.LoadZone(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	switch c.Store.Driver {
	case "sqlite":
	case "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver))
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		errs = append(errs, fmt.Errorf("refresh: %w", err))
	}
	seen := make(map[string]bool, len(c.Feeds))
	for i, f := range c.Feeds {
		switch {
		case f.ID == "":
			errs = append(errs, fmt.Errorf("feeds[%d]: id is required", i))
		case seen[f.ID]:
			errs = append(errs, fmt.Errorf("feeds[%d]: duplicate id %q", i, f.ID))
		}
		seen[f.ID] = true
		if f.URL == "" {
			errs = append(errs, fmt.Errorf("feeds[%d]: url is required", i))
		}
	}
	return errors.Join(errs...)
}

// Load reads the YAML file at path. On first run it writes the defaults
// there (0600) and returns them.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Still hand back the defaults so the caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".homecal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
