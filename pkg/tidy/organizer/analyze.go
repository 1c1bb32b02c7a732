package organizer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/jamesainslie/tidy/pkg/tidy/categorize"
	"github.com/jamesainslie/tidy/pkg/tidy/scanner"
	"github.com/jamesainslie/tidy/pkg/tidy/types"
)

// analysis is the read-only result for one file.
type analysis struct {
	file   types.ManagedFile
	result types.CategorizationResult
	stage  string
	err    error
}

// analyze fingerprints, samples and categorizes files with bounded
// parallelism. Each file gets its own timeout; a per-file failure is kept
// in its analysis and does not stop the others. Results keep the input
// order.
func (o *Organizer) analyze(ctx context.Context, files []types.ManagedFile, catz categorize.Categorizer) ([]analysis, error) {
	results := make([]analysis, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.settings.Workers)

	for i := range files {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			results[i] = o.analyzeFile(gctx, files[i], catz)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (o *Organizer) analyzeFile(ctx context.Context, f types.ManagedFile, catz categorize.Categorizer) analysis {
	ctx, cancel := context.WithTimeout(ctx, o.settings.FileTimeout)
	defer cancel()

	a := analysis{file: f}

	fp, err := o.hasher.Sum(ctx, f)
	if err != nil {
		a.stage, a.err = "fingerprint", err
		return a
	}
	a.file.Fingerprint = fp

	if catz != nil {
		sample := o.extractor.Extract(ctx, f.Path)
		a.result = catz.Categorize(f.Path, sample)
	}

	return a
}

// fingerprintAll hashes files in parallel, dropping the ones that fail.
func (o *Organizer) fingerprintAll(ctx context.Context, files []types.ManagedFile) ([]types.ManagedFile, error) {
	analyzed, err := o.analyze(ctx, files, nil)
	if err != nil {
		return nil, err
	}

	out := make([]types.ManagedFile, 0, len(analyzed))
	for _, a := range analyzed {
		if a.err != nil {
			o.log.Warn("skipping file", "path", a.file.Path, "stage", a.stage, "error", a.err)
			continue
		}
		out = append(out, a.file)
	}
	return out, nil
}

// FindDuplicates reports duplicate groups under root without changing
// anything or writing to the ledger.
func (o *Organizer) FindDuplicates(ctx context.Context, root string) ([]types.DuplicateGroup, error) {
	root, err := scanner.ResolveRoot(root)
	if err != nil {
		return nil, err
	}

	scan, err := scanner.New(scanner.Options{
		Root:    root,
		Exclude: o.settings.Exclude,
		Skip:    []string{o.op.QuarantineDir()},
		Workers: o.settings.WalkWorkers,
	}).Scan(ctx)
	if err != nil {
		return nil, err
	}

	files, err := o.fingerprintAll(ctx, scan.Files)
	if err != nil {
		return nil, err
	}

	// An output directory outside root still supplies keepers, but its
	// internal duplicates are only reported when root contains it.
	outDir := o.OutputDir(root)
	inside := within(root, outDir)
	if !inside {
		settled, err := o.organizedFiles(ctx, outDir)
		if err != nil {
			return nil, err
		}
		files = append(files, settled...)
	}

	return preferOrganized(o.detector.Groups(files), outDir, inside), nil
}

// CategorizeFile categorizes a single file with the configured settings.
// It is read-only.
func (o *Organizer) CategorizeFile(ctx context.Context, path string) (types.CategorizationResult, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return types.CategorizationResult{}, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return types.CategorizationResult{}, err
	}
	if !info.Mode().IsRegular() {
		return types.CategorizationResult{}, fmt.Errorf("%s is not a regular file", abs)
	}

	catz, err := o.categorizer(Options{})
	if err != nil {
		return types.CategorizationResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, o.settings.FileTimeout)
	defer cancel()

	return catz.Categorize(abs, o.extractor.Extract(ctx, abs)), nil
}
