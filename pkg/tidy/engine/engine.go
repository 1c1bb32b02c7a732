// Package engine wires configuration into the organizer, the undo engine
// and the ledger, and exposes the operations the command line needs.
package engine

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/jamesainslie/tidy/pkg/tidy/categorize"
	"github.com/jamesainslie/tidy/pkg/tidy/config"
	"github.com/jamesainslie/tidy/pkg/tidy/dupes"
	"github.com/jamesainslie/tidy/pkg/tidy/extract"
	"github.com/jamesainslie/tidy/pkg/tidy/fileop"
	"github.com/jamesainslie/tidy/pkg/tidy/fingerprint"
	"github.com/jamesainslie/tidy/pkg/tidy/ledger"
	"github.com/jamesainslie/tidy/pkg/tidy/lock"
	"github.com/jamesainslie/tidy/pkg/tidy/logging"
	"github.com/jamesainslie/tidy/pkg/tidy/organizer"
	"github.com/jamesainslie/tidy/pkg/tidy/tuner"
	"github.com/jamesainslie/tidy/pkg/tidy/types"
	"github.com/jamesainslie/tidy/pkg/tidy/undo"
)

// Engine owns the ledger and every component built on it.
type Engine struct {
	cfg       *config.Config
	ledger    *ledger.Ledger
	cache     *fingerprint.Cache
	organizer *organizer.Organizer
	undo      *undo.Engine
	log       *logging.Logger
}

// New opens the ledger named by cfg and builds the components. When the
// fingerprint cache cannot be opened the engine runs without it. Old
// ledger detail is pruned first if cfg asks for it.
func New(ctx context.Context, cfg *config.Config) (*Engine, error) {
	algo, err := fingerprint.ParseAlgorithm(cfg.Fingerprint.Algorithm)
	if err != nil {
		return nil, err
	}

	l, err := ledger.Open(ctx, cfg.Ledger.Path)
	if err != nil {
		return nil, err
	}

	e := &Engine{cfg: cfg, ledger: l, log: logging.Get("engine")}

	if cfg.Fingerprint.Cache {
		cache, err := fingerprint.OpenCache(cfg.Fingerprint.CachePath)
		if err != nil {
			e.log.Warn("fingerprint cache unavailable", "path", cfg.Fingerprint.CachePath, "error", err)
		} else {
			e.cache = cache
		}
	}

	res, err := tuner.Detect()
	if err != nil {
		e.log.Debug("resource detection incomplete", "error", err)
	}
	plan := tuner.Calculate(res, cfg.MaxBytes()).WithOverride(cfg.Workers)
	e.log.Debug("worker plan", "walk", plan.WalkWorkers, "analyze", plan.AnalyzeWorkers, "cpus", res.CPUCores)

	op := fileop.New(cfg.Delete.QuarantineDir)
	ex := extract.New(extract.Options{
		MaxPages: cfg.Extract.MaxPages,
		MaxBytes: cfg.MaxBytes(),
		Timeout:  cfg.FileTimeout,
	})

	org, err := organizer.New(l, op, ex,
		fingerprint.New(algo, e.cache),
		dupes.NewDetector(cfg.Duplicates.StagingDirs, cfg.DuplicateAction()),
		organizer.Settings{
			OutputDir:   cfg.OutputDir,
			Exclude:     cfg.Exclude,
			Workers:     plan.AnalyzeWorkers,
			WalkWorkers: plan.WalkWorkers,
			FileTimeout: cfg.FileTimeout,
			Strategy:    cfg.Categorizer.Strategy,
			Categories:  cfg.Categories,
			Scoring: categorize.Options{
				Threshold:      cfg.Categorizer.ConfidenceThreshold,
				FilenameWeight: cfg.Categorizer.FilenameWeight,
				Overrides:      cfg.Overrides(),
			},
			Quarantine: cfg.Delete.Quarantine,
		})
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	e.organizer = org
	e.undo = undo.New(l, op)

	if cfg.Ledger.PruneOnStart {
		e.pruneOnStart(ctx)
	}

	return e, nil
}

func (e *Engine) pruneOnStart(ctx context.Context) {
	n, err := e.Prune(ctx)
	switch {
	case errors.Is(err, lock.ErrLocked):
		e.log.Debug("skipping prune, ledger busy")
	case err != nil:
		e.log.Warn("prune failed", "error", err)
	case n > 0:
		e.log.Info("pruned ledger", "operations", n)
	}
}

// Close releases the cache and the ledger.
func (e *Engine) Close() error {
	var errs []error
	if e.cache != nil {
		errs = append(errs, e.cache.Close())
	}
	errs = append(errs, e.ledger.Close())
	return errors.Join(errs...)
}

// Config returns the configuration the engine was built from.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// LedgerPath returns the ledger database path.
func (e *Engine) LedgerPath() string {
	return e.ledger.Path()
}

// OutputDir returns where an organize run over root places files.
func (e *Engine) OutputDir(root string) string {
	return e.organizer.OutputDir(root)
}

// Organize runs one organize pass over root.
func (e *Engine) Organize(ctx context.Context, root string, opts organizer.Options) (*types.RunSummary, error) {
	return e.organizer.Organize(ctx, root, opts)
}

// FindDuplicates lists duplicate groups under root without changing
// anything.
func (e *Engine) FindDuplicates(ctx context.Context, root string) ([]types.DuplicateGroup, error) {
	return e.organizer.FindDuplicates(ctx, root)
}

// CategorizeFile categorizes one file without changing anything.
func (e *Engine) CategorizeFile(ctx context.Context, path string) (types.CategorizationResult, error) {
	return e.organizer.CategorizeFile(ctx, path)
}

// GetFileHistory returns every operation that names path, oldest first.
func (e *Engine) GetFileHistory(ctx context.Context, path string) ([]types.Operation, error) {
	expanded, err := config.ExpandPath(path)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return nil, err
	}
	return e.ledger.History(ctx, abs)
}

// Operation returns one ledger operation.
func (e *Engine) Operation(ctx context.Context, id int64) (types.Operation, error) {
	return e.ledger.Get(ctx, id)
}

// GetStatistics returns aggregate ledger statistics.
func (e *Engine) GetStatistics(ctx context.Context) (types.Statistics, error) {
	return e.ledger.Stats(ctx)
}

// Recent returns the newest operations, newest first.
func (e *Engine) Recent(ctx context.Context, limit int) ([]types.Operation, error) {
	return e.ledger.Recent(ctx, limit)
}

// Runs returns the newest runs, newest first.
func (e *Engine) Runs(ctx context.Context, limit int) ([]types.Run, error) {
	return e.ledger.ListRuns(ctx, limit)
}

// Pending returns operations left pending by an interrupted run.
func (e *Engine) Pending(ctx context.Context) ([]types.Operation, error) {
	return e.ledger.Pending(ctx)
}

// UndoLast reverses the most recent reversible operation.
func (e *Engine) UndoLast(ctx context.Context) (types.UndoResult, error) {
	return e.undo.UndoLast(ctx)
}

// Undo reverses operation id.
func (e *Engine) Undo(ctx context.Context, id int64, force bool) (types.UndoResult, error) {
	return e.undo.Undo(ctx, id, force)
}

// Reconcile settles pending operations against the filesystem.
func (e *Engine) Reconcile(ctx context.Context) ([]ledger.Reconciliation, error) {
	var out []ledger.Reconciliation
	err := e.locked(func() error {
		var err error
		out, err = e.ledger.Reconcile(ctx)
		return err
	})
	return out, err
}

// Prune drops ledger detail older than the configured retention window.
func (e *Engine) Prune(ctx context.Context) (int64, error) {
	var n int64
	err := e.locked(func() error {
		var err error
		n, err = e.ledger.Prune(ctx, e.cfg.RetentionWindow())
		return err
	})
	return n, err
}

// locked runs fn while holding the ledger lock.
func (e *Engine) locked(fn func() error) error {
	lk, err := lock.Acquire(lock.PathFor(e.ledger.Path()))
	if err != nil {
		return err
	}
	defer func() {
		if err := lk.Release(); err != nil {
			e.log.Warn("failed to release lock", "error", err)
		}
	}()

	return fn()
}
