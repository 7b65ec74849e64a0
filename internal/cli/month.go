package cli

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"homecal/internal/calendar"
)

var (
	monthZone string
	monthDay  string
)

var monthCmd = &cobra.Command{
	Use:   "month [YYYY-MM]",
	Short: "Print a month view as JSON",
	Long: `Print the month aggregate for YYYY-MM (default: the current month) as
JSON. With --day, print that day's occurrences instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMonth,
}

func init() {
	monthCmd.Flags().StringVar(&monthZone, "tz", "", "display timezone (default: config timezone)")
	monthCmd.Flags().StringVar(&monthDay, "day", "", "print the occurrences of one day (YYYY-MM-DD)")
	rootCmd.AddCommand(monthCmd)
}

func runMonth(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	zone := monthZone
	if zone == "" {
		zone = cfg.Timezone
	}
	loc, err := calendar.LoadZone(zone)
	if err != nil {
		return err
	}

	monthKey := time.Now().In(loc).Format("2006-01")
	if len(args) == 1 {
		monthKey = args[0]
	}
	if monthDay != "" && len(args) == 0 && len(monthDay) >= 7 {
		monthKey = monthDay[:7]
	}

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	if monthDay != "" {
		occs, err := a.svc.Day(cmd.Context(), monthKey, zone, monthDay)
		if err != nil {
			return err
		}
		return enc.Encode(occs)
	}
	agg, err := a.svc.Month(cmd.Context(), monthKey, zone)
	if err != nil {
		return err
	}
	return enc.Encode(agg)
}
