package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/tidy/pkg/tidy/engine"
	"github.com/jamesainslie/tidy/pkg/tidy/output"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop ledger detail older than the retention window",
	Long: `Prune removes settled operations older than ledger.retention_days. The
latest operation naming each path is always kept, and pruned operations
still count towards the statistics.`,
	Args: cobra.NoArgs,
	RunE: runPrune,
}

func init() {
	rootCmd.AddCommand(pruneCmd)
}

func runPrune(cmd *cobra.Command, _ []string) error {
	if cfg.RetentionWindow() <= 0 {
		printInfo("Retention is disabled (ledger.retention_days = 0); nothing to prune.")
		return nil
	}

	cfg.Ledger.PruneOnStart = false
	return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
		n, err := e.Prune(ctx)
		if err != nil {
			return err
		}
		stats, err := e.GetStatistics(ctx)
		if err != nil {
			return err
		}
		return render(cmd, &output.Result{Title: fmt.Sprintf("Pruned %d operations", n), Stats: &stats})
	})
}
