// Package cli holds the homecal command tree.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"homecal/internal/cache"
	"homecal/internal/calendar"
	"homecal/internal/config"
	"homecal/internal/ics"
	appLog "homecal/internal/log"
	"homecal/internal/store"
)

const version = "0.1.0"

var (
	configPath string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "homecal",
	Short: "Household calendar server",
	Long: `homecal stores events, imports iCalendar feeds and serves month and day
views with recurring events expanded in each event's own timezone.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/homecal/config.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// Execute runs the command tree.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads and validates the config and applies its log level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	level := appLog.ParseLevel(cfg.LogLevel)
	if debug {
		level = appLog.LevelDebug
	}
	appLog.SetLevel(level)
	return cfg, nil
}

// app is the wired set of collaborators shared by commands.
type app struct {
	cfg    *config.Config
	store  store.Store
	svc    *calendar.Service
	syncer *ics.Syncer
	feeds  []ics.Feed
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.Target())
	if err != nil {
		return nil, err
	}

	var cacheOpts []cache.Option
	if cfg.Calendar.CacheTTL > 0 {
		cacheOpts = append(cacheOpts, cache.WithTTL(cfg.Calendar.CacheTTL))
	}
	svc := calendar.NewService(
		calendar.NewEngine(cfg.Calendar.EngineConfig()),
		st,
		calendar.WithCacheOptions(cacheOpts...),
		calendar.WithInvalidationHorizon(cfg.Calendar.InvalidationHorizonMonths),
	)

	feeds := make([]ics.Feed, 0, len(cfg.Feeds))
	for _, f := range cfg.Feeds {
		feeds = append(feeds, ics.Feed{ID: f.ID, URL: f.URL, Timezone: f.Timezone})
	}
	fetcher := ics.NewFetcher(cfg.FeedCacheDir, ics.WithRateLimit(cfg.FeedRate, 1))

	return &app{
		cfg:    cfg,
		store:  st,
		svc:    svc,
		syncer: ics.NewSyncer(fetcher, st, svc),
		feeds:  feeds,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
