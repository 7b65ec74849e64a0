package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"homecal/internal/calendar"
	appLog "homecal/internal/log"
	"homecal/internal/web"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and the feed refresh schedule",
	Long: `Serve the calendar API. Configured feeds are imported once at startup
and then on the refresh cron schedule, evaluated in the configured timezone.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "override the listen address from the config")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Listen = serveListen
	}

	appLog.Info("homecal starting",
		"version", version,
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"store", cfg.Store.Driver,
		"feeds", len(cfg.Feeds),
		"refresh", cfg.RefreshCron,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if len(a.feeds) > 0 {
		loc, _ := calendar.LoadZone(cfg.Timezone)
		scheduler := cron.New(cron.WithLocation(loc))
		if _, err := scheduler.AddFunc(cfg.RefreshCron, func() { a.syncFeeds(ctx, "schedule") }); err != nil {
			return err
		}
		scheduler.Start()
		defer func() { <-scheduler.Stop().Done() }()

		go a.syncFeeds(ctx, "startup")
	}

	srv := web.NewServer(cfg, a.svc, a.store, web.WithSyncer(a.syncer, a.feeds))
	err = srv.ListenAndServe(ctx)
	appLog.Info("homecal exiting")
	return err
}

// syncFeeds runs one import pass and logs its outcome.
func (a *app) syncFeeds(ctx context.Context, trigger string) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	reports, err := a.syncer.Sync(ctx, a.feeds)
	changed := 0
	for _, r := range reports {
		changed += r.Changed
	}
	if err != nil {
		appLog.Error("feed sync finished with errors", err, "trigger", trigger, "feeds", len(reports), "changed", changed)
		return
	}
	appLog.Info("feed sync finished", "trigger", trigger, "feeds", len(reports), "changed", changed, "took", time.Since(start).Round(time.Millisecond))
}
