package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/salomai/salombot/internal/config"
	"github.com/salomai/salombot/pkg/history"
	"github.com/spf13/cobra"
)

var (
	statsUser      int64
	statsPruneDays int
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show interaction history statistics",
	Long: `Show aggregate statistics from the interaction history database:
turn counts by kind, distinct users, failures and character volumes.
Use --user for a single user's numbers and --prune-days to delete
entries older than the given number of days.`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().Int64Var(&statsUser, "user", 0, "show statistics for one Telegram user id")
	statsCmd.Flags().IntVar(&statsPruneDays, "prune-days", 0, "delete entries older than this many days before reporting")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.History.Enabled {
		return fmt.Errorf("interaction history is disabled (history.enabled)")
	}
	if _, err := os.Stat(cfg.History.Path); err != nil {
		return fmt.Errorf("no history database at %s", cfg.History.Path)
	}

	recorder, err := history.Open(cfg.History.Path)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer recorder.Close()

	if statsPruneDays > 0 {
		before := time.Now().AddDate(0, 0, -statsPruneDays)
		pruned, err := recorder.Prune(before)
		if err != nil {
			return fmt.Errorf("failed to prune history: %w", err)
		}
		cmd.Printf("Pruned %d entries older than %d days\n\n", pruned, statsPruneDays)
	}

	var stats history.Stats
	if statsUser != 0 {
		stats, err = recorder.UserStats(statsUser)
		if err != nil {
			return err
		}
		cmd.Printf("Statistics for user %d:\n", statsUser)
	} else {
		stats, err = recorder.Stats()
		if err != nil {
			return err
		}
		cmd.Println("Statistics:")
	}

	cmd.Printf("- entries: %d\n", stats.Entries)
	if statsUser == 0 {
		cmd.Printf("- users: %d\n", stats.Users)
	}
	cmd.Printf("- failures: %d\n", stats.Errors)
	cmd.Printf("- chars in: %d\n", stats.CharsIn)
	cmd.Printf("- chars out: %d\n", stats.CharsOut)

	if len(stats.ByKind) > 0 {
		cmd.Println("- by kind:")
		for _, kc := range stats.ByKind {
			cmd.Printf("  %s: %d\n", kc.Kind, kc.Count)
		}
	}

	return nil
}
