package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/tidy/pkg/tidy/engine"
	"github.com/jamesainslie/tidy/pkg/tidy/output"
	"github.com/jamesainslie/tidy/pkg/tidy/types"
)

var undoCmd = &cobra.Command{
	Use:   "undo [id]",
	Short: "Undo a recorded operation",
	Long: `Undo reverses an operation recorded in the ledger. Without an id the
most recent reversible operation is undone.

An operation can only be undone while the filesystem still matches what it
left behind. If later operations touched the same paths, --force undoes
those first, newest first.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runUndo,
}

var undoForce bool

func init() {
	undoCmd.Flags().BoolVarP(&undoForce, "force", "f", false, "also undo later operations on the same paths")
	rootCmd.AddCommand(undoCmd)
}

func runUndo(cmd *cobra.Command, args []string) error {
	var id int64
	if len(args) == 1 {
		var err error
		if id, err = parseOperationID(args[0]); err != nil {
			return err
		}
	}

	return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
		var (
			res types.UndoResult
			err error
		)
		if id == 0 {
			res, err = e.UndoLast(ctx)
		} else {
			res, err = e.Undo(ctx, id, undoForce)
		}
		if err != nil {
			return err
		}
		return render(cmd, &output.Result{Undo: &res})
	})
}
