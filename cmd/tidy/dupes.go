package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/tidy/pkg/tidy/engine"
	"github.com/jamesainslie/tidy/pkg/tidy/output"
)

var dupesCmd = &cobra.Command{
	Use:   "dupes [path]",
	Short: "List duplicate documents",
	Long: `List groups of byte-identical documents under a folder, with the copy
that would be kept and the configured action for the others. Nothing is
changed and nothing is recorded.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDupes,
}

func init() {
	rootCmd.AddCommand(dupesCmd)
}

func runDupes(cmd *cobra.Command, args []string) error {
	root := "."
	if len(args) > 0 {
		root = args[0]
	}

	return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
		groups, err := e.FindDuplicates(ctx, root)
		if err != nil {
			return err
		}
		return render(cmd, &output.Result{Title: "Duplicates", Duplicates: groups})
	})
}
