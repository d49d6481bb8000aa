package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/watershed-sentinel/internal/config"
	"github.com/couchcryptid/watershed-sentinel/internal/observability"
	"github.com/spf13/cobra"
)

var forceCycle bool

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run a single poll-and-score cycle and exit",
	Long: `Run one cycle against the configured adapters and persistence, print the
cycle report, and exit. Intended for cron-style scheduling.`,
	RunE: runCycle,
}

func init() {
	cycleCmd.Flags().BoolVar(&forceCycle, "force", false, "poll every source regardless of backoff")
}

func runCycle(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := observability.NewLogger(cfg)

	a, err := newApp(cfg, logger, observability.NewMetrics())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.pipeline.Warm(ctx)
	rep, err := a.pipeline.RunCycle(ctx, forceCycle)
	if err != nil {
		return fmt.Errorf("cycle: %w", err)
	}

	out := cmd.OutOrStdout()
	if rep.Skipped {
		fmt.Fprintln(out, "cycle skipped: build lease held by another process")
		return nil
	}
	fmt.Fprintf(out, "polled %d sources (%d failed), admitted %d, suppressed %d, geocoded %d\n",
		rep.Polled, rep.Failed, rep.Admitted, rep.Suppressed, rep.Geocoded)
	fmt.Fprintf(out, "scored %d units: %d elevated, %d resolved, %d alerts in %s\n",
		rep.Units, rep.Elevated, rep.Resolved, rep.Alerts, rep.Duration)
	for _, u := range a.pipeline.Snapshot().Units {
		if !u.Level.Elevated() {
			continue
		}
		fmt.Fprintf(out, "  %s  %-8s %8.2f  %v\n", u.UnitID, u.Level, u.Score, u.PatternIDs())
	}
	return nil
}
