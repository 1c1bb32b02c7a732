package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jamesainslie/tidy/pkg/tidy/types"
)

const opColumns = `id, run_id, type, source, destination, fingerprint, size, category, confidence,
	created_at, status, dry_run, reversible, undo_of, undone_by, reason`

// effective selects operations whose filesystem effect is still in place.
const effective = `status = 'committed' AND dry_run = 0 AND type IN ('move', 'copy', 'delete')`

func scanOperation(s scanner) (types.Operation, error) {
	var (
		op       types.Operation
		dest     sql.NullString
		created  int64
		undoOf   sql.NullInt64
		undoneBy sql.NullInt64
		opType   string
		status   string
	)

	err := s.Scan(&op.ID, &op.RunID, &opType, &op.Source, &dest, &op.Fingerprint, &op.Size,
		&op.Category, &op.Confidence, &created, &status, &op.DryRun, &op.Reversible,
		&undoOf, &undoneBy, &op.Reason)
	if err != nil {
		return types.Operation{}, err
	}

	op.Type = types.OpType(opType)
	op.Status = types.Status(status)
	op.Destination = dest.String
	op.Timestamp = time.Unix(0, created)
	op.UndoOf = undoOf.Int64
	op.UndoneBy = undoneBy.Int64
	return op, nil
}

func scanRun(s scanner) (types.Run, error) {
	var (
		run     types.Run
		started int64
		ended   sql.NullInt64
	)

	err := s.Scan(&run.ID, &run.Root, &started, &ended, &run.DryRun,
		&run.FilesProcessed, &run.Operations, &run.PID)
	if err != nil {
		return types.Run{}, err
	}

	run.StartedAt = time.Unix(0, started)
	if ended.Valid {
		run.EndedAt = time.Unix(0, ended.Int64)
	}
	return run, nil
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

// Get returns the operation with id.
func (l *Ledger) Get(ctx context.Context, id int64) (types.Operation, error) {
	op, err := queryOne(ctx, l.db,
		`SELECT `+opColumns+` FROM operations WHERE id = ?`, []any{id}, scanOperation)
	if err != nil {
		return types.Operation{}, notFound(err, fmt.Sprintf("operation %d", id))
	}
	return op, nil
}

// History returns every operation that names path as source or
// destination, oldest first.
func (l *Ledger) History(ctx context.Context, path string) ([]types.Operation, error) {
	return queryMany(ctx, l.db,
		`SELECT `+opColumns+` FROM operations WHERE source = ? OR destination = ? ORDER BY id`,
		[]any{path, path}, scanOperation)
}

// RunOperations returns the operations recorded by a run, oldest first.
func (l *Ledger) RunOperations(ctx context.Context, runID string) ([]types.Operation, error) {
	return queryMany(ctx, l.db,
		`SELECT `+opColumns+` FROM operations WHERE run_id = ? ORDER BY id`,
		[]any{runID}, scanOperation)
}

// Recent returns the latest operations, newest first. Zero limit returns all.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]types.Operation, error) {
	if limit <= 0 {
		limit = -1
	}
	return queryMany(ctx, l.db,
		`SELECT `+opColumns+` FROM operations ORDER BY id DESC LIMIT ?`,
		[]any{limit}, scanOperation)
}

// Pending returns operations whose outcome was never recorded.
func (l *Ledger) Pending(ctx context.Context) ([]types.Operation, error) {
	return queryMany(ctx, l.db,
		`SELECT `+opColumns+` FROM operations WHERE status = 'pending' ORDER BY id`,
		nil, scanOperation)
}

// CheckReconciled returns ErrUnreconciledPending when pending rows exist.
func (l *Ledger) CheckReconciled(ctx context.Context) error {
	var n int64
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM operations WHERE status = 'pending'`).Scan(&n); err != nil {
		return fmt.Errorf("checking pending operations: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("%w: %d operation(s) need reconcile", ErrUnreconciledPending, n)
	}
	return nil
}

// LastUndoable returns the most recent reversible operation still in
// effect, or ErrNotFound.
func (l *Ledger) LastUndoable(ctx context.Context) (types.Operation, error) {
	op, err := queryOne(ctx, l.db,
		`SELECT `+opColumns+` FROM operations WHERE `+effective+` AND reversible = 1 ORDER BY id DESC LIMIT 1`,
		nil, scanOperation)
	if err != nil {
		return types.Operation{}, notFound(err, "undoable operation")
	}
	return op, nil
}

// LatestForPath returns the most recent operation in effect that touches
// path, or ErrNotFound.
func (l *Ledger) LatestForPath(ctx context.Context, path string) (types.Operation, error) {
	op, err := queryOne(ctx, l.db,
		`SELECT `+opColumns+` FROM operations WHERE `+effective+` AND (source = ? OR destination = ?) ORDER BY id DESC LIMIT 1`,
		[]any{path, path}, scanOperation)
	if err != nil {
		return types.Operation{}, notFound(err, "operation for "+path)
	}
	return op, nil
}

// OperationsAfter returns operations in effect with an id greater than
// id, oldest first.
func (l *Ledger) OperationsAfter(ctx context.Context, id int64) ([]types.Operation, error) {
	return queryMany(ctx, l.db,
		`SELECT `+opColumns+` FROM operations WHERE `+effective+` AND id > ? ORDER BY id`,
		[]any{id}, scanOperation)
}

// GetRun returns the run with id.
func (l *Ledger) GetRun(ctx context.Context, id string) (types.Run, error) {
	run, err := queryOne(ctx, l.db,
		`SELECT id, root, started_at, ended_at, dry_run, files_processed, operations, pid FROM runs WHERE id = ?`,
		[]any{id}, scanRun)
	if err != nil {
		return types.Run{}, notFound(err, "run "+id)
	}
	return run, nil
}

// ListRuns returns runs newest first. Zero limit returns all.
func (l *Ledger) ListRuns(ctx context.Context, limit int) ([]types.Run, error) {
	if limit <= 0 {
		limit = -1
	}
	return queryMany(ctx, l.db,
		`SELECT id, root, started_at, ended_at, dry_run, files_processed, operations, pid
		 FROM runs ORDER BY started_at DESC, id LIMIT ?`,
		[]any{limit}, scanRun)
}

type bucket struct {
	key   string
	count int64
}

func scanBucket(s scanner) (bucket, error) {
	var b bucket
	err := s.Scan(&b.key, &b.count)
	return b, err
}

// Stats aggregates the ledger, including counts folded in by Prune.
// Dry-run operations are counted separately from real ones.
func (l *Ledger) Stats(ctx context.Context) (types.Statistics, error) {
	stats := types.Statistics{
		ByType:     make(map[string]int64),
		ByCategory: make(map[string]int64),
		ByStatus:   make(map[string]int64),
	}

	fill := func(query string, into map[string]int64) error {
		buckets, err := queryMany(ctx, l.db, query, nil, scanBucket)
		if err != nil {
			return err
		}
		for _, b := range buckets {
			into[b.key] += b.count
		}
		return nil
	}

	if err := fill(`SELECT type, COUNT(*) FROM operations WHERE dry_run = 0 GROUP BY type`, stats.ByType); err != nil {
		return stats, fmt.Errorf("counting by type: %w", err)
	}
	if err := fill(`SELECT type, operations FROM pruned_stats WHERE dry_run = 0`, stats.ByType); err != nil {
		return stats, fmt.Errorf("counting pruned: %w", err)
	}
	if err := fill(`SELECT category, COUNT(*) FROM operations
		WHERE dry_run = 0 AND type = 'categorize' AND category != '' GROUP BY category`, stats.ByCategory); err != nil {
		return stats, fmt.Errorf("counting by category: %w", err)
	}
	if err := fill(`SELECT status, COUNT(*) FROM operations WHERE dry_run = 0 GROUP BY status`, stats.ByStatus); err != nil {
		return stats, fmt.Errorf("counting by status: %w", err)
	}
	if err := fill(`SELECT key, operations FROM pruned_counts WHERE dimension = 'category'`, stats.ByCategory); err != nil {
		return stats, fmt.Errorf("counting pruned categories: %w", err)
	}
	if err := fill(`SELECT key, operations FROM pruned_counts WHERE dimension = 'status'`, stats.ByStatus); err != nil {
		return stats, fmt.Errorf("counting pruned statuses: %w", err)
	}

	for _, n := range stats.ByType {
		stats.TotalOperations += n
	}

	row := l.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM operations WHERE dry_run = 1)
				+ (SELECT COALESCE(SUM(operations), 0) FROM pruned_stats WHERE dry_run = 1),
			(SELECT COALESCE(SUM(size), 0) FROM operations WHERE `+effective+` AND type = 'delete')
				+ (SELECT COALESCE(SUM(reclaimed), 0) FROM pruned_stats),
			(SELECT COUNT(*) FROM runs),
			(SELECT COALESCE(SUM(operations), 0) FROM pruned_stats)`)
	if err := row.Scan(&stats.DryRunOperations, &stats.StorageReclaimed, &stats.Runs, &stats.Pruned); err != nil {
		return stats, fmt.Errorf("aggregating ledger: %w", err)
	}

	return stats, nil
}
