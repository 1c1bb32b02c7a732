package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/tidy/pkg/tidy/engine"
	"github.com/jamesainslie/tidy/pkg/tidy/output"
)

var organizeCmd = &cobra.Command{
	Use:   "organize [path]",
	Short: "Categorize and file documents under a folder",
	Long: `Organize walks a folder, fingerprints and categorizes every document,
resolves duplicates, and files each document into <output>/<Category>/.

Every change is recorded in the ledger before it happens. Use --dry-run to
record the plan without touching any file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runOrganize,
}

func init() {
	addOrganizeFlags(organizeCmd.Flags())
	rootCmd.AddCommand(organizeCmd)
}

func runOrganize(cmd *cobra.Command, args []string) error {
	root := "."
	if len(args) > 0 {
		root = args[0]
	}

	opts, err := organizeOptions(cmd.Flags())
	if err != nil {
		return err
	}

	return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
		summary, runErr := e.Organize(ctx, root, opts)
		if summary == nil {
			return runErr
		}

		res := &output.Result{Title: "Organize", Summary: summary}
		if errors.Is(runErr, context.Canceled) {
			res.Warnings = append(res.Warnings, "interrupted: run 'tidy reconcile' before the next run")
		}
		if err := render(cmd, res); err != nil {
			return err
		}

		if runErr == nil && opts.DryRun {
			printInfo("Dry run recorded. Run without --dry-run to apply.")
		}
		return runErr
	})
}
