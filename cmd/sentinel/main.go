// Command sentinel runs the watershed change-event correlation engine.
//
// Usage:
//
//	sentinel serve              # HTTP read API plus the cycle scheduler
//	sentinel cycle [--force]    # one poll-and-score cycle, then exit
//	sentinel validate           # check the tuning file and adjacency table
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Watershed change-event correlation and risk scoring",
	Long: `Sentinel polls water-quality and hydrology feeds, deduplicates their change
events into a rolling window, and scores every watershed unit for compound
risk. Configuration comes from the environment (see .env.example).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, cycleCmd, validateCmd)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("sentinel failed", "error", err)
		os.Exit(1)
	}
}
