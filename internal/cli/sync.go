package cli

import (
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Import all configured feeds once",
	RunE:  runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if len(a.feeds) == 0 {
		cmd.Println("No feeds configured.")
		return nil
	}

	reports, err := a.syncer.Sync(cmd.Context(), a.feeds)
	for _, r := range reports {
		switch {
		case r.Err != nil:
			cmd.Printf("%-20s  failed: %v\n", r.FeedID, r.Err)
		case r.FromCache:
			cmd.Printf("%-20s  %d events, %d changed (cached copy)\n", r.FeedID, r.Events, r.Changed)
		default:
			cmd.Printf("%-20s  %d events, %d changed\n", r.FeedID, r.Events, r.Changed)
		}
	}
	return err
}
