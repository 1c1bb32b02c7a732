// Package organizer coordinates an organize run: it walks a tree, runs the
// read-only stages in parallel, and then applies every file action one at
// a time through the ledger and the file operator.
package organizer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jamesainslie/tidy/pkg/tidy/categorize"
	"github.com/jamesainslie/tidy/pkg/tidy/extract"
	"github.com/jamesainslie/tidy/pkg/tidy/fileop"
	"github.com/jamesainslie/tidy/pkg/tidy/ledger"
	"github.com/jamesainslie/tidy/pkg/tidy/lock"
	"github.com/jamesainslie/tidy/pkg/tidy/logging"
	"github.com/jamesainslie/tidy/pkg/tidy/scanner"
	"github.com/jamesainslie/tidy/pkg/tidy/types"
)

// DefaultOutputDirName is used under the root when no output directory is
// configured.
const DefaultOutputDirName = "organized"

// DuplicateDetector groups files by fingerprint.
type DuplicateDetector interface {
	Groups(files []types.ManagedFile) []types.DuplicateGroup
}

// Fingerprinter computes content fingerprints.
type Fingerprinter interface {
	Sum(ctx context.Context, f types.ManagedFile) (string, error)
	Forget(path string)
}

// FileOperator carries out file intents.
type FileOperator interface {
	Execute(ctx context.Context, in fileop.Intent, dryRun bool) (fileop.Outcome, error)
	QuarantineDir() string
	QuarantinePath(source string) string
}

// Settings is the immutable configuration of an Organizer.
type Settings struct {
	// OutputDir is where categorized files go. Empty means <root>/organized.
	OutputDir string

	Exclude     []string
	Workers     int
	FileTimeout time.Duration

	// WalkWorkers sizes the directory walk. Zero uses Workers.
	WalkWorkers int

	Strategy   string
	Categories []types.CategoryDefinition
	Scoring    categorize.Options

	// Quarantine turns every delete into a move to quarantine.
	Quarantine bool
}

// Options are per-run choices.
type Options struct {
	DryRun bool

	// CategoryOverrides maps glob patterns to categories for this run, on
	// top of any configured overrides.
	CategoryOverrides map[string]string

	// ConfidenceThreshold replaces the configured threshold when set.
	ConfidenceThreshold *float64

	// AllowUncategorized moves low-confidence files to the Uncategorized
	// folder instead of leaving them in place.
	AllowUncategorized bool

	// Copy organizes by copying instead of moving.
	Copy bool
}

// Organizer runs organize passes.
type Organizer struct {
	ledger    *ledger.Ledger
	op        FileOperator
	extractor *extract.Extractor
	hasher    Fingerprinter
	detector  DuplicateDetector
	settings  Settings
	log       *logging.Logger
}

// New creates an Organizer. It fails if the configured categorizer
// strategy is unknown.
func New(l *ledger.Ledger, op FileOperator, ex *extract.Extractor, h Fingerprinter, d DuplicateDetector, s Settings) (*Organizer, error) {
	if _, err := categorize.New(s.Strategy, s.Categories, s.Scoring); err != nil {
		return nil, err
	}
	if s.Workers < 1 {
		s.Workers = 1
	}
	if s.WalkWorkers < 1 {
		s.WalkWorkers = s.Workers
	}
	if s.FileTimeout <= 0 {
		s.FileTimeout = 30 * time.Second
	}

	return &Organizer{
		ledger:    l,
		op:        op,
		extractor: ex,
		hasher:    h,
		detector:  d,
		settings:  s,
		log:       logging.Get("organizer"),
	}, nil
}

// OutputDir returns the organized destination root for root.
func (o *Organizer) OutputDir(root string) string {
	if o.settings.OutputDir != "" {
		return o.settings.OutputDir
	}
	return filepath.Join(root, DefaultOutputDirName)
}

func (o *Organizer) categorizer(opts Options) (categorize.Categorizer, error) {
	scoring := o.settings.Scoring
	if opts.ConfidenceThreshold != nil {
		t := *opts.ConfidenceThreshold
		if t < 0 || t > 1 {
			return nil, fmt.Errorf("confidence threshold %v outside [0,1]", t)
		}
		scoring.Threshold = t
	}
	if len(opts.CategoryOverrides) > 0 {
		merged := make(map[string]string, len(scoring.Overrides)+len(opts.CategoryOverrides))
		maps.Copy(merged, scoring.Overrides)
		maps.Copy(merged, opts.CategoryOverrides)
		scoring.Overrides = merged
	}
	return categorize.New(o.settings.Strategy, o.settings.Categories, scoring)
}

// Organize runs one organize pass over root. Per-file problems are
// reported in the summary. Ledger failures abort the run and are
// returned along with the partial summary, as is cancellation.
func (o *Organizer) Organize(ctx context.Context, root string, opts Options) (*types.RunSummary, error) {
	root, err := scanner.ResolveRoot(root)
	if err != nil {
		return nil, err
	}

	catz, err := o.categorizer(opts)
	if err != nil {
		return nil, err
	}

	if err := o.ledger.CheckReconciled(ctx); err != nil {
		return nil, err
	}

	lk, err := lock.Acquire(lock.PathFor(o.ledger.Path()))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lk.Release(); err != nil {
			o.log.Warn("failed to release lock", "error", err)
		}
	}()

	run, err := o.ledger.StartRun(ctx, root, opts.DryRun)
	if err != nil {
		return nil, err
	}

	st := &runState{
		run:     run,
		opts:    opts,
		summary: types.NewRunSummary(root, opts.DryRun),
		claimed: make(map[string]bool),
	}
	defer func() {
		if err := o.ledger.FinishRun(context.WithoutCancel(ctx), run.ID, int64(st.summary.FilesProcessed), st.recorded); err != nil {
			o.log.Error("failed to finish run", "run", run.ID, "error", err)
		}
	}()

	log := o.log.With("run", run.ID)
	log.Info("run started", "root", root, "dry_run", opts.DryRun)

	err = o.organize(ctx, st, root, catz)
	if ctx.Err() != nil {
		st.summary.Cancelled = true
		log.Warn("run cancelled", "committed", st.summary.OperationsCommitted)
		return st.summary, ctx.Err()
	}
	if err != nil {
		log.Error("run aborted", "error", err)
		return st.summary, err
	}

	log.Info("run complete",
		"files", st.summary.FilesProcessed,
		"committed", st.summary.OperationsCommitted,
		"failed", st.summary.OperationsFailed,
		"duplicates", st.summary.DuplicatesFound)
	return st.summary, nil
}

func (o *Organizer) organize(ctx context.Context, st *runState, root string, catz categorize.Categorizer) error {
	outDir := o.OutputDir(root)

	scan, err := scanner.New(scanner.Options{
		Root:    root,
		Exclude: o.settings.Exclude,
		Skip:    []string{outDir, o.op.QuarantineDir()},
		Workers: o.settings.WalkWorkers,
	}).Scan(ctx)
	if err != nil {
		return err
	}
	st.summary.FilesProcessed = len(scan.Files)
	st.summary.Failures = append(st.summary.Failures, scan.Errors...)

	analyzed, err := o.analyze(ctx, scan.Files, catz)
	if err != nil {
		return err
	}

	hashed := make([]types.ManagedFile, 0, len(analyzed))
	for _, a := range analyzed {
		if a.err != nil {
			st.summary.AddFailure(a.file.Path, a.stage, a.err)
			continue
		}
		hashed = append(hashed, a.file)
	}

	settled, err := o.organizedFiles(ctx, outDir)
	if err != nil {
		return err
	}

	removed, err := o.handleDuplicates(ctx, st, append(hashed, settled...), outDir)
	if err != nil {
		return err
	}

	for _, a := range analyzed {
		if a.err != nil || removed[a.file.Path] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.place(ctx, st, outDir, a); err != nil {
			return err
		}
	}

	return nil
}

// organizedFiles fingerprints the files already under outDir. They take
// part in duplicate detection as keepers but are never placed again.
func (o *Organizer) organizedFiles(ctx context.Context, outDir string) ([]types.ManagedFile, error) {
	if _, err := os.Stat(outDir); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	scan, err := scanner.New(scanner.Options{
		Root:    outDir,
		Exclude: o.settings.Exclude,
		Skip:    []string{o.op.QuarantineDir()},
		Workers: o.settings.WalkWorkers,
	}).Scan(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		o.log.Warn("cannot scan output directory", "path", outDir, "error", err)
		return nil, nil
	}

	return o.fingerprintAll(ctx, scan.Files)
}

// handleDuplicates applies the duplicate action to every non-keeper and
// returns the paths that no longer exist at their original location.
// Files under outDir are only ever keepers.
func (o *Organizer) handleDuplicates(ctx context.Context, st *runState, files []types.ManagedFile, outDir string) (map[string]bool, error) {
	removed := make(map[string]bool)

	for _, g := range preferOrganized(o.detector.Groups(files), outDir, false) {
		st.summary.DuplicateGroups++
		st.summary.DuplicatesFound += len(g.Others)

		if g.Action == types.DuplicateSkip {
			st.summary.Skipped += len(g.Others)
			continue
		}

		for _, f := range g.Others {
			if err := ctx.Err(); err != nil {
				return removed, err
			}

			in := fileop.Intent{Type: types.OpDelete, Source: f.Path}
			if g.Action == types.DuplicateQuarantine || o.settings.Quarantine {
				in.Destination = o.op.QuarantinePath(f.Path)
			}

			op := types.Operation{
				Fingerprint: f.Fingerprint,
				Size:        f.Size,
				Reversible:  in.Quarantined(),
				Reason:      "duplicate of " + g.Keeper.Path,
			}

			ok, err := o.apply(ctx, st, in, op)
			if err != nil {
				return removed, err
			}
			if ok {
				removed[f.Path] = true
			}
		}
	}

	return removed, nil
}

// preferOrganized makes a file already under outDir the keeper of any
// group that has one, leaving only the files outside outDir as others.
// Groups lying entirely under outDir are dropped unless keepSettled is set.
func preferOrganized(groups []types.DuplicateGroup, outDir string, keepSettled bool) []types.DuplicateGroup {
	out := groups[:0]
	for _, g := range groups {
		var settled, incoming []types.ManagedFile
		for _, m := range g.Members() {
			if within(outDir, m.Path) {
				settled = append(settled, m)
			} else {
				incoming = append(incoming, m)
			}
		}

		switch {
		case len(settled) == 0:
		case len(incoming) == 0:
			if !keepSettled {
				continue
			}
		default:
			g.Keeper, g.Others = settled[0], incoming
		}
		out = append(out, g)
	}
	return out
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// place records the categorization of a file and moves or copies it into
// its category folder.
func (o *Organizer) place(ctx context.Context, st *runState, outDir string, a analysis) error {
	res := a.result

	_, err := o.ledger.Record(ctx, types.Operation{
		RunID:       st.run.ID,
		Type:        types.OpCategorize,
		Source:      a.file.Path,
		Fingerprint: a.file.Fingerprint,
		Size:        a.file.Size,
		Category:    res.Category,
		Confidence:  res.Confidence,
		DryRun:      st.opts.DryRun,
	})
	if err != nil {
		return err
	}
	st.recorded++
	st.summary.OperationsCommitted++
	st.summary.CategorizedCounts[res.Category]++

	if res.IsUncategorized() && !st.opts.AllowUncategorized {
		return nil
	}

	opType := types.OpMove
	if st.opts.Copy {
		opType = types.OpCopy
	}
	in := fileop.Intent{
		Type:        opType,
		Source:      a.file.Path,
		Destination: filepath.Join(outDir, res.Category, filepath.Base(a.file.Path)),
	}

	_, err = o.apply(ctx, st, in, types.Operation{
		Fingerprint: a.file.Fingerprint,
		Size:        a.file.Size,
		Category:    res.Category,
		Confidence:  res.Confidence,
		Reversible:  true,
	})
	return err
}

// apply carries out one intent under the write-ahead protocol: the ledger
// row exists before the filesystem changes. Only ledger failures and
// cancellation are returned; a failed action is recorded and reported.
func (o *Organizer) apply(ctx context.Context, st *runState, in fileop.Intent, op types.Operation) (bool, error) {
	op.RunID = st.run.ID
	op.Type = in.Type
	op.Source = in.Source
	op.Destination = in.Destination
	op.DryRun = st.opts.DryRun

	if st.opts.DryRun {
		return o.simulate(ctx, st, in, op)
	}

	id, err := o.ledger.Begin(ctx, op)
	if err != nil {
		return false, err
	}
	st.recorded++

	fctx, cancel := context.WithTimeout(ctx, o.settings.FileTimeout)
	_, execErr := o.op.Execute(fctx, in, false)
	cancel()

	if execErr != nil {
		if ctx.Err() != nil {
			// left pending for reconcile
			return false, ctx.Err()
		}
		if err := o.ledger.Fail(context.WithoutCancel(ctx), id, execErr.Error()); err != nil {
			return false, err
		}
		st.summary.OperationsFailed++
		st.summary.AddFailure(in.Source, string(in.Type), execErr)
		return false, nil
	}

	if err := o.ledger.Commit(context.WithoutCancel(ctx), id); err != nil {
		return false, err
	}
	st.summary.OperationsCommitted++

	if in.Type != types.OpCopy {
		o.hasher.Forget(in.Source)
	}
	return true, nil
}

// simulate validates in without touching the filesystem and records it as
// a dry-run operation. Destinations claimed earlier in the run count as
// taken so the simulation fails where the real run would.
func (o *Organizer) simulate(ctx context.Context, st *runState, in fileop.Intent, op types.Operation) (bool, error) {
	var simErr error
	if in.Destination != "" && st.claimed[in.Destination] {
		simErr = fmt.Errorf("%w: %s", fileop.ErrDestinationExists, in.Destination)
	} else {
		_, simErr = o.op.Execute(ctx, in, true)
	}

	if simErr != nil {
		if errors.Is(simErr, context.Canceled) || ctx.Err() != nil {
			return false, ctx.Err()
		}
		st.summary.OperationsFailed++
		st.summary.AddFailure(in.Source, string(in.Type), simErr)
		return false, nil
	}

	if in.Destination != "" {
		st.claimed[in.Destination] = true
	}

	if _, err := o.ledger.Record(ctx, op); err != nil {
		return false, err
	}
	st.recorded++
	st.summary.OperationsCommitted++
	return true, nil
}

// runState is the mutable bookkeeping of a single run. It is only touched
// from the serialized write path.
type runState struct {
	run      types.Run
	opts     Options
	summary  *types.RunSummary
	claimed  map[string]bool
	recorded int64
}
