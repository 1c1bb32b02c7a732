package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/tidy/pkg/tidy/engine"
	"github.com/jamesainslie/tidy/pkg/tidy/output"
	"github.com/jamesainslie/tidy/pkg/tidy/types"
)

var historyCmd = &cobra.Command{
	Use:   "history [path]",
	Short: "View ledger history",
	Long: `View the operations recorded in the ledger.

With a path, every operation that named the path as source or destination
is shown, oldest first. Without one, the most recent operations are shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one operation",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent runs",
	Args:  cobra.NoArgs,
	RunE:  runHistoryRuns,
}

var historyLimit int

func init() {
	historyCmd.PersistentFlags().IntVarP(&historyLimit, "limit", "l", 20, "maximum number of entries to show (0 for all)")

	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyRunsCmd)
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
		var (
			ops   []types.Operation
			title string
			err   error
		)
		if len(args) == 1 {
			title = "History " + args[0]
			ops, err = e.GetFileHistory(ctx, args[0])
		} else {
			title = "Recent operations"
			ops, err = e.Recent(ctx, historyLimit)
		}
		if err != nil {
			return err
		}
		if ops == nil {
			ops = []types.Operation{}
		}
		return render(cmd, &output.Result{Title: title, Operations: ops})
	})
}

func parseOperationID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid operation id %q", s)
	}
	return id, nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	id, err := parseOperationID(args[0])
	if err != nil {
		return err
	}

	return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
		op, err := e.Operation(ctx, id)
		if err != nil {
			return err
		}
		return render(cmd, &output.Result{Title: fmt.Sprintf("Operation #%d", id), Operations: []types.Operation{op}})
	})
}

func runHistoryRuns(cmd *cobra.Command, _ []string) error {
	return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
		runs, err := e.Runs(ctx, historyLimit)
		if err != nil {
			return err
		}
		if runs == nil {
			runs = []types.Run{}
		}
		return render(cmd, &output.Result{Title: "Runs", Runs: runs})
	})
}
