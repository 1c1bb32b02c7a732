package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/tidy/pkg/tidy/engine"
	"github.com/jamesainslie/tidy/pkg/tidy/output"
	"github.com/jamesainslie/tidy/pkg/tidy/types"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Settle operations left pending by an interrupted run",
	Long: `Reconcile inspects the filesystem for every pending operation. An
operation whose effect is fully visible is marked committed, anything else
is marked failed. Organize and undo refuse to start while operations are
pending.`,
	Args: cobra.NoArgs,
	RunE: runReconcile,
}

var reconcileList bool

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileList, "list", false, "only list pending operations")
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
		if reconcileList {
			pending, err := e.Pending(ctx)
			if err != nil {
				return err
			}
			if pending == nil {
				pending = []types.Operation{}
			}
			return render(cmd, &output.Result{Title: "Pending operations", Operations: pending})
		}

		results, err := e.Reconcile(ctx)
		if err != nil {
			return err
		}

		ops := make([]types.Operation, 0, len(results))
		for _, r := range results {
			op := r.Operation
			op.Status = r.Status
			if r.Reason != "" {
				op.Reason = r.Reason
			}
			ops = append(ops, op)
		}
		return render(cmd, &output.Result{Title: fmt.Sprintf("Reconciled %d operations", len(ops)), Operations: ops})
	})
}
