package output

import (
	"bytes"
	"fmt"
	"text/tabwriter"
)

// PlainFormatter formats output as tab-aligned text without styling,
// suitable for scripting and piping.
type PlainFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PlainFormatter) Format(w *bytes.Buffer, r *Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)

	if s := r.Summary; s != nil {
		fmt.Fprintf(tw, "root\t%s\n", s.Root)
		fmt.Fprintf(tw, "dry_run\t%t\n", s.DryRun)
		fmt.Fprintf(tw, "files_processed\t%d\n", s.FilesProcessed)
		fmt.Fprintf(tw, "operations_committed\t%d\n", s.OperationsCommitted)
		fmt.Fprintf(tw, "operations_failed\t%d\n", s.OperationsFailed)
		fmt.Fprintf(tw, "duplicates_found\t%d\n", s.DuplicatesFound)
		for _, name := range sortedKeys(s.CategorizedCounts) {
			fmt.Fprintf(tw, "category\t%s\t%d\n", name, s.CategorizedCounts[name])
		}
		for _, fl := range s.Failures {
			fmt.Fprintf(tw, "failure\t%s\t%s\t%s\n", fl.Stage, fl.Path, fl.Reason)
		}
	}

	if s := r.Stats; s != nil {
		fmt.Fprintf(tw, "total_operations\t%d\n", s.TotalOperations)
		fmt.Fprintf(tw, "storage_reclaimed\t%d\n", s.StorageReclaimed)
		for _, k := range sortedKeys(s.ByType) {
			fmt.Fprintf(tw, "type\t%s\t%d\n", k, s.ByType[k])
		}
		for _, k := range sortedKeys(s.ByCategory) {
			fmt.Fprintf(tw, "category\t%s\t%d\n", k, s.ByCategory[k])
		}
	}

	if c := r.Categorization; c != nil {
		fmt.Fprintf(tw, "%s\t%s\t%.4f\n", c.Path, c.Result.Category, c.Result.Confidence)
	}

	if u := r.Undo; u != nil {
		for _, op := range u.Cascaded {
			fmt.Fprintf(tw, "undone\t%d\t%d\n", op.UndoOf, op.ID)
		}
		fmt.Fprintf(tw, "undone\t%d\t%d\n", u.Target.ID, u.Undo.ID)
	}

	for _, op := range r.Operations {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", op.ID, op.Type, op.Status, op.Source, op.Destination, op.Category)
	}

	for _, g := range r.Duplicates {
		fmt.Fprintf(tw, "%s\tkeep\t%s\n", g.Fingerprint, g.Keeper.Path)
		for _, o := range g.Others {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", g.Fingerprint, g.Action, o.Path)
		}
	}

	for _, run := range r.Runs {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%d\n", run.ID, run.Root, run.DryRun, run.FilesProcessed, run.Operations)
	}

	return tw.Flush()
}

func init() {
	Register("plain", func() Formatter {
		return &PlainFormatter{}
	})
}

// Ensure PlainFormatter implements Formatter.
var _ Formatter = (*PlainFormatter)(nil)
