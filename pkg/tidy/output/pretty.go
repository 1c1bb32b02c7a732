package output

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/tidy/pkg/tidy/types"
)

// PrettyFormatter formats output with colors and styling using lipgloss.
type PrettyFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PrettyFormatter) Format(w *bytes.Buffer, r *Result) error {
	if r.Title != "" {
		w.WriteString(TitleStyle.Render(r.Title))
		w.WriteString("\n\n")
	}

	if r.Summary != nil {
		w.WriteString(f.formatSummary(r.Summary))
	}
	if r.Stats != nil {
		w.WriteString(f.formatStats(r.Stats))
	}
	if r.Categorization != nil {
		w.WriteString(f.formatCategorization(r.Categorization))
	}
	if r.Undo != nil {
		w.WriteString(f.formatUndo(r.Undo))
	}
	if r.Operations != nil {
		w.WriteString(f.formatOperations(r.Operations))
	}
	if r.Duplicates != nil {
		w.WriteString(f.formatDuplicates(r.Duplicates))
	}
	if r.Runs != nil {
		w.WriteString(f.formatRuns(r.Runs))
	}

	if len(r.Warnings) > 0 {
		w.WriteString("\n")
		w.WriteString(WarningStyle.Bold(true).Render("Warnings:"))
		w.WriteString("\n")
		for _, warning := range r.Warnings {
			w.WriteString(WarningStyle.Render("  " + warning))
			w.WriteString("\n")
		}
	}

	return nil
}

func field(label, value string) string {
	return LabelStyle.Render(label+":") + " " + value
}

func (f *PrettyFormatter) formatSummary(s *types.RunSummary) string {
	var sb strings.Builder

	head := []string{field("Root", ValueStyle.Render(s.Root))}
	if s.DryRun {
		head = append(head, WarningStyle.Bold(true).Render("DRY RUN: nothing was changed"))
	}
	if s.Cancelled {
		head = append(head, WarningStyle.Bold(true).Render("Run cancelled; pending operations need reconcile"))
	}
	sb.WriteString(HeaderBox.Render(strings.Join(head, "\n")))
	sb.WriteString("\n")

	if len(s.CategorizedCounts) > 0 {
		sb.WriteString(TableHeaderStyle.Render("  CATEGORY         FILES"))
		sb.WriteString("\n")
		for _, name := range sortedKeys(s.CategorizedCounts) {
			sb.WriteString(fmt.Sprintf("  %-16s %5d\n", name, s.CategorizedCounts[name]))
		}
	}

	if len(s.Failures) > 0 {
		sb.WriteString("\n")
		sb.WriteString(ErrorStyle.Bold(true).Render("Failures:"))
		sb.WriteString("\n")
		for _, fl := range s.Failures {
			sb.WriteString(fmt.Sprintf("  %s %s %s\n",
				ErrorStyle.Render("["+fl.Stage+"]"), PathStyle.Render(fl.Path), MutedStyle.Render(fl.Reason)))
		}
	}

	parts := []string{
		field("Files", ValueStyle.Render(fmt.Sprint(s.FilesProcessed))),
		field("Committed", SuccessStyle.Render(fmt.Sprint(s.OperationsCommitted))),
		field("Failed", failedStyle(s.OperationsFailed).Render(fmt.Sprint(s.OperationsFailed))),
		field("Duplicates", ValueStyle.Render(fmt.Sprintf("%d in %d groups", s.DuplicatesFound, s.DuplicateGroups))),
	}
	if s.Skipped > 0 {
		parts = append(parts, field("Skipped", ValueStyle.Render(fmt.Sprint(s.Skipped))))
	}
	sb.WriteString(FooterBox.Render(strings.Join(parts, "  ")))
	sb.WriteString("\n")

	return sb.String()
}

func failedStyle(n int) lipgloss.Style {
	if n > 0 {
		return ErrorStyle
	}
	return MutedStyle
}

func (f *PrettyFormatter) formatStats(s *types.Statistics) string {
	var sb strings.Builder

	head := []string{
		field("Operations", ValueStyle.Render(fmt.Sprint(s.TotalOperations))),
		field("Runs", ValueStyle.Render(fmt.Sprint(s.Runs))),
		field("Reclaimed", SizeStyle.Render(humanize.IBytes(uint64(max(s.StorageReclaimed, 0))))),
	}
	if s.DryRunOperations > 0 {
		head = append(head, field("Dry-run", MutedStyle.Render(fmt.Sprint(s.DryRunOperations))))
	}
	if s.Pruned > 0 {
		head = append(head, field("Pruned", MutedStyle.Render(fmt.Sprint(s.Pruned))))
	}
	sb.WriteString(HeaderBox.Render(strings.Join(head, "  ")))
	sb.WriteString("\n")

	section := func(title string, m map[string]int64) {
		if len(m) == 0 {
			return
		}
		sb.WriteString(TableHeaderStyle.Render(fmt.Sprintf("  %-16s %8s", title, "COUNT")))
		sb.WriteString("\n")
		for _, k := range sortedKeys(m) {
			sb.WriteString(fmt.Sprintf("  %-16s %8d\n", k, m[k]))
		}
		sb.WriteString("\n")
	}
	section("TYPE", s.ByType)
	section("STATUS", s.ByStatus)
	section("CATEGORY", s.ByCategory)

	return sb.String()
}

func (f *PrettyFormatter) formatCategorization(c *Categorization) string {
	res := c.Result
	lines := []string{
		field("File", PathStyle.Render(c.Path)),
		field("Category", TitleStyle.Render(res.Category)),
		field("Confidence", ValueStyle.Render(fmt.Sprintf("%.0f%%", res.Confidence*100))),
		field("Signals", ValueStyle.Render(fmt.Sprint(res.Signals))),
	}
	if res.Override {
		lines = append(lines, MutedStyle.Render("matched an explicit override"))
	}
	return HeaderBox.Render(strings.Join(lines, "\n")) + "\n"
}

func (f *PrettyFormatter) formatUndo(u *types.UndoResult) string {
	var sb strings.Builder
	for _, op := range u.Cascaded {
		sb.WriteString(MutedStyle.Render(fmt.Sprintf("  undid later #%d first: %s", op.UndoOf, describe(op))))
		sb.WriteString("\n")
	}

	lines := []string{
		SuccessStyle.Bold(true).Render(fmt.Sprintf("Undid #%d (%s)", u.Target.ID, u.Target.Type)),
		describe(u.Undo),
		MutedStyle.Render(fmt.Sprintf("recorded as #%d", u.Undo.ID)),
	}
	sb.WriteString(HeaderBox.Render(strings.Join(lines, "\n")))
	sb.WriteString("\n")
	return sb.String()
}

func describe(op types.Operation) string {
	if op.Destination == "" {
		return fmt.Sprintf("removed %s", PathStyle.Render(op.Source))
	}
	return fmt.Sprintf("%s -> %s", PathStyle.Render(op.Source), PathStyle.Render(op.Destination))
}

func (f *PrettyFormatter) formatOperations(ops []types.Operation) string {
	if len(ops) == 0 {
		return MutedStyle.Render("  No operations recorded\n")
	}

	var sb strings.Builder
	sb.WriteString(TableHeaderStyle.Render(fmt.Sprintf("  %6s  %-10s  %-9s  %-12s  %s", "ID", "TYPE", "STATUS", "WHEN", "PATH")))
	sb.WriteString("\n")

	for _, op := range ops {
		typ := string(op.Type)
		if op.DryRun {
			typ += "*"
		}
		status := statusStyle(string(op.Status)).Render(fmt.Sprintf("%-9s", op.Status))
		when := humanize.Time(op.Timestamp)
		sb.WriteString(fmt.Sprintf("  %6d  %-10s  %s  %-12s  %s", op.ID, typ, status, when, describe(op)))
		if op.Category != "" {
			sb.WriteString(MutedStyle.Render(fmt.Sprintf(" [%s %.2f]", op.Category, op.Confidence)))
		}
		if op.Reason != "" {
			sb.WriteString(" " + MutedStyle.Render(op.Reason))
		}
		sb.WriteString("\n")
	}

	sb.WriteString(MutedStyle.Render("  * dry run"))
	sb.WriteString("\n")
	return sb.String()
}

func (f *PrettyFormatter) formatDuplicates(groups []types.DuplicateGroup) string {
	if len(groups) == 0 {
		return MutedStyle.Render("  No duplicates found\n")
	}

	var (
		sb     strings.Builder
		wasted int64
		extra  int
	)
	for _, g := range groups {
		fp := g.Fingerprint
		if len(fp) > 19 {
			fp = fp[:19]
		}
		sb.WriteString(fmt.Sprintf("%s  %s\n",
			SizeStyle.Render(g.Keeper.HumanSize()), MutedStyle.Render(fp)))
		sb.WriteString(fmt.Sprintf("  %s %s\n", SuccessStyle.Render("keep"), PathStyle.Render(g.Keeper.Path)))
		for _, o := range g.Others {
			sb.WriteString(fmt.Sprintf("  %s %s\n", WarningStyle.Render(fmt.Sprintf("%-4s", g.Action)), PathStyle.Render(o.Path)))
		}
		wasted += g.Wasted()
		extra += len(g.Others)
	}

	footer := strings.Join([]string{
		field("Groups", ValueStyle.Render(fmt.Sprint(len(groups)))),
		field("Duplicates", ValueStyle.Render(fmt.Sprint(extra))),
		field("Reclaimable", SizeStyle.Render(humanize.IBytes(uint64(max(wasted, 0))))),
	}, "  ")
	sb.WriteString(FooterBox.Render(footer))
	sb.WriteString("\n")
	return sb.String()
}

func (f *PrettyFormatter) formatRuns(runs []types.Run) string {
	if len(runs) == 0 {
		return MutedStyle.Render("  No runs recorded\n")
	}

	var sb strings.Builder
	sb.WriteString(TableHeaderStyle.Render(fmt.Sprintf("  %-36s  %-12s  %6s  %5s  %s", "RUN", "STARTED", "FILES", "OPS", "ROOT")))
	sb.WriteString("\n")
	for _, r := range runs {
		root := r.Root
		if r.DryRun {
			root += MutedStyle.Render(" (dry run)")
		}
		if r.EndedAt.IsZero() {
			root += WarningStyle.Render(" (unfinished)")
		}
		sb.WriteString(fmt.Sprintf("  %-36s  %-12s  %6d  %5d  %s\n",
			r.ID, humanize.Time(r.StartedAt), r.FilesProcessed, r.Operations, root))
	}
	return sb.String()
}

func init() {
	Register("pretty", func() Formatter {
		return &PrettyFormatter{}
	})
}

// Ensure PrettyFormatter implements Formatter.
var _ Formatter = (*PrettyFormatter)(nil)
