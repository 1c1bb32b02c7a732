package organizer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/tidy/pkg/tidy/categorize"
	"github.com/jamesainslie/tidy/pkg/tidy/dupes"
	"github.com/jamesainslie/tidy/pkg/tidy/extract"
	"github.com/jamesainslie/tidy/pkg/tidy/fileop"
	"github.com/jamesainslie/tidy/pkg/tidy/fingerprint"
	"github.com/jamesainslie/tidy/pkg/tidy/ledger"
	"github.com/jamesainslie/tidy/pkg/tidy/types"
	"github.com/jamesainslie/tidy/pkg/tidy/undo"
)

var testCategories = []types.CategoryDefinition{
	{Name: "Finance", Keywords: []string{"invoice", "budget"}, Priority: 10},
	{Name: "Work", Keywords: []string{"meeting", "agenda"}},
}

type harness struct {
	root       string
	quarantine string
	ledger     *ledger.Ledger
	operator   *fileop.Operator
	org        *Organizer
}

func newHarness(t *testing.T, action types.DuplicateAction) *harness {
	t.Helper()

	state := t.TempDir()
	l, err := ledger.Open(context.Background(), filepath.Join(state, "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	qdir := filepath.Join(state, "quarantine")
	op := fileop.New(qdir)

	org, err := New(l, op,
		extract.New(extract.Options{}),
		fingerprint.New(fingerprint.SHA256, nil),
		dupes.NewDetector([]string{"inbox"}, action),
		Settings{
			Workers:     4,
			FileTimeout: 10 * time.Second,
			Strategy:    categorize.StrategyKeyword,
			Categories:  testCategories,
			Scoring:     categorize.Options{Threshold: 0.5, FilenameWeight: 3},
			Quarantine:  true,
		})
	require.NoError(t, err)

	return &harness{root: t.TempDir(), quarantine: qdir, ledger: l, operator: op, org: org}
}

func (h *harness) write(t *testing.T, rel, content string) string {
	t.Helper()
	path := filepath.Join(h.root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func snapshot(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			out[path] = string(data)
		} else {
			out[path] = "<dir>"
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestOrganizeMovesCategorizedFiles(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, types.DuplicateQuarantine)

	invoice := h.write(t, "inbox/invoice_2024.pdf", "not really a pdf")
	notes := h.write(t, "notes.txt", "nothing to see here")
	agenda := h.write(t, "docs/plan.txt", "meeting agenda for the meeting")

	summary, err := h.org.Organize(ctx, h.root, Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.FilesProcessed)
	assert.Equal(t, map[string]int{"Finance": 1, "Work": 1, types.Uncategorized: 1}, summary.CategorizedCounts)
	assert.Equal(t, 0, summary.OperationsFailed)
	assert.Empty(t, summary.Failures)
	// three categorize records and two moves
	assert.Equal(t, 5, summary.OperationsCommitted)

	movedInvoice := filepath.Join(h.root, "organized", "Finance", "invoice_2024.pdf")
	assert.FileExists(t, movedInvoice)
	assert.NoFileExists(t, invoice)
	assert.FileExists(t, filepath.Join(h.root, "organized", "Work", "plan.txt"))
	assert.NoFileExists(t, agenda)
	assert.FileExists(t, notes, "uncategorized files stay in place")

	history, err := h.ledger.History(ctx, movedInvoice)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, types.OpMove, history[0].Type)
	assert.Equal(t, types.StatusCommitted, history[0].Status)
	assert.Equal(t, "Finance", history[0].Category)
	assert.InDelta(t, 0.6, history[0].Confidence, 1e-9)
}

func TestOrganizeThenUndoLast(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, types.DuplicateQuarantine)

	src := h.write(t, "inbox/invoice_2024.pdf", "budget figures")
	_, err := h.org.Organize(ctx, h.root, Options{})
	require.NoError(t, err)

	u := undo.New(h.ledger, h.operator)
	result, err := u.UndoLast(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.OpMove, result.Target.Type)
	assert.FileExists(t, src)

	_, err = u.UndoLast(ctx)
	require.ErrorIs(t, err, undo.ErrNothingToUndo)

	pending, err := h.ledger.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDryRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, types.DuplicateQuarantine)

	h.write(t, "invoice_a.txt", "invoice")
	h.write(t, "sub/invoice_a.txt", "another invoice")
	h.write(t, "dup1.txt", "same content")
	h.write(t, "inbox/dup2.txt", "same content")
	h.write(t, "misc.txt", "unrelated")

	before := snapshot(t, h.root)

	first, err := h.org.Organize(ctx, h.root, Options{DryRun: true})
	require.NoError(t, err)
	second, err := h.org.Organize(ctx, h.root, Options{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, before, snapshot(t, h.root))
	assert.True(t, first.DryRun)
	assert.Equal(t, 1, first.DuplicatesFound)
	assert.Equal(t, 1, first.OperationsFailed, "second invoice_a.txt collides")

	_, err = h.ledger.LastUndoable(ctx)
	assert.ErrorIs(t, err, ledger.ErrNotFound, "dry runs leave nothing to undo")

	stats, err := h.ledger.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalOperations)
	assert.Positive(t, stats.DryRunOperations)
}

func TestDryRunMatchesRealRun(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, types.DuplicateQuarantine)

	h.write(t, "invoice_a.txt", "invoice")
	h.write(t, "sub/invoice_a.txt", "another invoice")
	h.write(t, "dup1.txt", "same content")
	h.write(t, "inbox/dup2.txt", "same content")

	dry, err := h.org.Organize(ctx, h.root, Options{DryRun: true})
	require.NoError(t, err)
	applied, err := h.org.Organize(ctx, h.root, Options{})
	require.NoError(t, err)

	assert.Equal(t, dry.OperationsCommitted, applied.OperationsCommitted)
	assert.Equal(t, dry.OperationsFailed, applied.OperationsFailed)
	assert.Equal(t, dry.CategorizedCounts, applied.CategorizedCounts)
	assert.Equal(t, dry.DuplicatesFound, applied.DuplicatesFound)
}

func TestDuplicatesKeepExactlyOne(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, types.DuplicateQuarantine)

	keeper := h.write(t, "photos/a.txt", "identical bytes")
	staged := h.write(t, "inbox/a.txt", "identical bytes")
	deeper := h.write(t, "photos/old/nested/a.txt", "identical bytes")
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(keeper, old, old))

	summary, err := h.org.Organize(ctx, h.root, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.DuplicateGroups)
	assert.Equal(t, 2, summary.DuplicatesFound)

	assert.FileExists(t, keeper)
	assert.NoFileExists(t, staged)
	assert.NoFileExists(t, deeper)

	var quarantined int
	require.NoError(t, filepath.Walk(h.quarantine, func(_ string, info os.FileInfo, err error) error {
		if err == nil && info.Mode().IsRegular() {
			quarantined++
		}
		return err
	}))
	assert.Equal(t, 2, quarantined)

	op, err := h.ledger.LastUndoable(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.OpDelete, op.Type)
	assert.True(t, op.Reversible)
}

func TestDuplicatesSkip(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, types.DuplicateSkip)

	a := h.write(t, "a.txt", "same")
	b := h.write(t, "b.txt", "same")

	summary, err := h.org.Organize(ctx, h.root, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.DuplicatesFound)
	assert.Equal(t, 1, summary.Skipped)
	assert.FileExists(t, a)
	assert.FileExists(t, b)
}

func TestCollisionRecordedAsFailed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, types.DuplicateQuarantine)

	first := h.write(t, "a/budget.txt", "q1 budget")
	second := h.write(t, "b/budget.txt", "q2 budget")

	summary, err := h.org.Organize(ctx, h.root, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.OperationsFailed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, second, summary.Failures[0].Path)
	assert.Contains(t, summary.Failures[0].Reason, "destination exists")

	assert.NoFileExists(t, first)
	assert.FileExists(t, second)

	history, err := h.ledger.History(ctx, second)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	last := history[len(history)-1]
	assert.Equal(t, types.StatusFailed, last.Status)
}

func TestOverridesAndThreshold(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, types.DuplicateQuarantine)

	notes := h.write(t, "notes.txt", "plain")
	invoice := h.write(t, "invoice.txt", "x")

	strict := 0.9
	summary, err := h.org.Organize(ctx, h.root, Options{
		CategoryOverrides:   map[string]string{"notes.*": "Personal"},
		ConfidenceThreshold: &strict,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.CategorizedCounts["Personal"])
	assert.Equal(t, 1, summary.CategorizedCounts[types.Uncategorized])
	assert.FileExists(t, filepath.Join(h.root, "organized", "Personal", "notes.txt"))
	assert.NoFileExists(t, notes)
	assert.FileExists(t, invoice)

	bad := 1.5
	_, err = h.org.Organize(ctx, h.root, Options{ConfidenceThreshold: &bad})
	assert.Error(t, err)
}

func TestAllowUncategorizedAndCopy(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, types.DuplicateQuarantine)

	misc := h.write(t, "misc.txt", "plain")

	_, err := h.org.Organize(ctx, h.root, Options{AllowUncategorized: true, Copy: true})
	require.NoError(t, err)

	assert.FileExists(t, misc)
	assert.FileExists(t, filepath.Join(h.root, "organized", types.Uncategorized, "misc.txt"))

	op, err := h.ledger.LastUndoable(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.OpCopy, op.Type)
}

func TestOrganizeRefusesUnreconciled(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, types.DuplicateQuarantine)
	src := h.write(t, "invoice.txt", "invoice")

	_, err := h.ledger.Begin(ctx, types.Operation{RunID: "crashed", Type: types.OpMove, Source: src, Destination: src + ".moved", Reversible: true})
	require.NoError(t, err)

	_, err = h.org.Organize(ctx, h.root, Options{})
	require.ErrorIs(t, err, ledger.ErrUnreconciledPending)
	assert.FileExists(t, src)

	results, err := h.ledger.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.StatusFailed, results[0].Status)

	_, err = h.org.Organize(ctx, h.root, Options{})
	assert.NoError(t, err)
}

func TestOrganizeCancelled(t *testing.T) {
	h := newHarness(t, types.DuplicateQuarantine)
	h.write(t, "invoice.txt", "invoice")
	before := snapshot(t, h.root)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.org.Organize(ctx, h.root, Options{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, before, snapshot(t, h.root))
}

func TestCategorizeFile(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, types.DuplicateQuarantine)
	path := h.write(t, "q3.txt", "the budget for the next invoice")

	first, err := h.org.CategorizeFile(ctx, path)
	require.NoError(t, err)
	second, err := h.org.CategorizeFile(ctx, path)
	require.NoError(t, err)

	assert.Equal(t, "Finance", first.Category)
	assert.Equal(t, first, second)

	_, err = h.org.CategorizeFile(ctx, h.root)
	assert.Error(t, err)
}

func TestFindDuplicatesIsReadOnly(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, types.DuplicateQuarantine)
	h.write(t, "x/one.bin", "dup")
	h.write(t, "inbox/two.bin", "dup")
	h.write(t, "three.bin", "unique")
	before := snapshot(t, h.root)

	groups, err := h.org.FindDuplicates(ctx, h.root)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, filepath.Join(h.root, "x", "one.bin"), groups[0].Keeper.Path)
	assert.Len(t, groups[0].Others, 1)

	assert.Equal(t, before, snapshot(t, h.root))
	stats, err := h.ledger.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalOperations)
}

func TestOrganizedCopyIsKeeperAcrossRuns(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, types.DuplicateQuarantine)

	h.write(t, "invoice_2024.txt", "invoice total due")
	_, err := h.org.Organize(ctx, h.root, Options{})
	require.NoError(t, err)

	organized := filepath.Join(h.root, "organized", "Finance", "invoice_2024.txt")
	require.FileExists(t, organized)

	copied := h.write(t, "inbox/invoice_2024_copy.txt", "invoice total due")

	groups, err := h.org.FindDuplicates(ctx, h.root)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, organized, groups[0].Keeper.Path)
	require.Len(t, groups[0].Others, 1)
	assert.Equal(t, copied, groups[0].Others[0].Path)

	summary, err := h.org.Organize(ctx, h.root, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.FilesProcessed)
	assert.Equal(t, 1, summary.DuplicatesFound)
	assert.Empty(t, summary.CategorizedCounts)

	assert.FileExists(t, organized)
	assert.NoFileExists(t, copied)
	assert.NoFileExists(t, filepath.Join(h.root, "organized", "Finance", "invoice_2024_copy.txt"))

	op, err := h.ledger.LastUndoable(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.OpDelete, op.Type)
	assert.Equal(t, copied, op.Source)
	assert.Equal(t, "duplicate of "+organized, op.Reason)
}

func TestDuplicatesInsideOutputDirLeftAlone(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, types.DuplicateQuarantine)

	a := h.write(t, "organized/Finance/a.txt", "same")
	b := h.write(t, "organized/Work/a.txt", "same")

	summary, err := h.org.Organize(ctx, h.root, Options{})
	require.NoError(t, err)
	assert.Zero(t, summary.FilesProcessed)
	assert.Zero(t, summary.DuplicatesFound)
	assert.FileExists(t, a)
	assert.FileExists(t, b)

	groups, err := h.org.FindDuplicates(ctx, h.root)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].Others, 1)
}

// stallingHasher never finishes hashing files whose name contains match.
type stallingHasher struct {
	*fingerprint.Hasher
	match string
}

func (s stallingHasher) Sum(ctx context.Context, f types.ManagedFile) (string, error) {
	if strings.Contains(filepath.Base(f.Path), s.match) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return s.Hasher.Sum(ctx, f)
}

// stallingOperator never finishes real actions on sources whose name
// contains match.
type stallingOperator struct {
	*fileop.Operator
	match string
}

func (s stallingOperator) Execute(ctx context.Context, in fileop.Intent, dryRun bool) (fileop.Outcome, error) {
	if !dryRun && strings.Contains(filepath.Base(in.Source), s.match) {
		<-ctx.Done()
		return fileop.Outcome{Intent: in}, ctx.Err()
	}
	return s.Operator.Execute(ctx, in, dryRun)
}

func TestFileTimeoutFailsFileAndContinues(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, types.DuplicateQuarantine)

	org, err := New(h.ledger,
		stallingOperator{Operator: h.operator, match: "stuck"},
		extract.New(extract.Options{}),
		stallingHasher{Hasher: fingerprint.New(fingerprint.SHA256, nil), match: "slow"},
		dupes.NewDetector(nil, types.DuplicateQuarantine),
		Settings{
			Workers:     2,
			FileTimeout: 50 * time.Millisecond,
			Strategy:    categorize.StrategyKeyword,
			Categories:  testCategories,
			Scoring:     categorize.Options{Threshold: 0.5, FilenameWeight: 3},
			Quarantine:  true,
		})
	require.NoError(t, err)

	slow := h.write(t, "slow_invoice.txt", "invoice")
	stuck := h.write(t, "stuck_budget.txt", "budget")
	h.write(t, "team_meeting.txt", "meeting agenda")

	summary, err := org.Organize(ctx, h.root, Options{})
	require.NoError(t, err)

	require.Len(t, summary.Failures, 2)
	byPath := make(map[string]types.Failure)
	for _, f := range summary.Failures {
		byPath[f.Path] = f
	}
	assert.Equal(t, "fingerprint", byPath[slow].Stage)
	assert.Contains(t, byPath[slow].Reason, "deadline exceeded")
	assert.Equal(t, "move", byPath[stuck].Stage)
	assert.Contains(t, byPath[stuck].Reason, "deadline exceeded")
	assert.Equal(t, 1, summary.OperationsFailed)

	assert.FileExists(t, slow)
	assert.FileExists(t, stuck)
	assert.FileExists(t, filepath.Join(h.root, "organized", "Work", "team_meeting.txt"))

	history, err := h.ledger.History(ctx, stuck)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	last := history[len(history)-1]
	assert.Equal(t, types.OpMove, last.Type)
	assert.Equal(t, types.StatusFailed, last.Status)

	pending, err := h.ledger.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
