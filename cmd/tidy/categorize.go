package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/tidy/pkg/tidy/engine"
	"github.com/jamesainslie/tidy/pkg/tidy/output"
)

var categorizeCmd = &cobra.Command{
	Use:   "categorize <file>",
	Short: "Show the category a document would get",
	Args:  cobra.ExactArgs(1),
	RunE:  runCategorize,
}

func init() {
	rootCmd.AddCommand(categorizeCmd)
}

func runCategorize(cmd *cobra.Command, args []string) error {
	return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
		res, err := e.CategorizeFile(ctx, args[0])
		if err != nil {
			return err
		}
		return render(cmd, &output.Result{
			Categorization: &output.Categorization{Path: args[0], Result: res},
		})
	})
}
