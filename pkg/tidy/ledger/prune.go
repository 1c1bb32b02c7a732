package ledger

import (
	"context"
	"database/sql"
	"time"
)

// prunable selects settled rows older than the cutoff, keeping the most
// recent operation that names each path.
const prunable = `
	created_at < ?
	AND status != 'pending'
	AND id NOT IN (SELECT MAX(id) FROM operations GROUP BY source)
	AND id NOT IN (SELECT MAX(id) FROM operations WHERE destination IS NOT NULL GROUP BY destination)`

// foldCategories and foldStatuses add the counts of prunable real
// operations to pruned_counts.
const (
	foldCategories = `
	INSERT INTO pruned_counts (dimension, key, operations)
	SELECT 'category', category, COUNT(*)
	FROM operations
	WHERE dry_run = 0 AND type = 'categorize' AND category != '' AND ` + prunable + `
	GROUP BY category
	ON CONFLICT (dimension, key) DO UPDATE SET
		operations = pruned_counts.operations + excluded.operations`

	foldStatuses = `
	INSERT INTO pruned_counts (dimension, key, operations)
	SELECT 'status', status, COUNT(*)
	FROM operations
	WHERE dry_run = 0 AND ` + prunable + `
	GROUP BY status
	ON CONFLICT (dimension, key) DO UPDATE SET
		operations = pruned_counts.operations + excluded.operations`
)

// Prune removes operation detail older than retention. Counts by type,
// category and status are folded into the pruned totals reported by Stats.
// It returns the number of rows removed. A zero retention disables pruning.
func (l *Ledger) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := l.now().Add(-retention).UnixNano()

	removed, err := withTx(ctx, l.db, func(tx *sql.Tx) (int64, error) {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO pruned_stats (type, dry_run, operations, reclaimed)
			SELECT type, dry_run, COUNT(*),
				COALESCE(SUM(CASE WHEN type = 'delete' AND status = 'committed' AND dry_run = 0 THEN size ELSE 0 END), 0)
			FROM operations
			WHERE `+prunable+`
			GROUP BY type, dry_run
			ON CONFLICT (type, dry_run) DO UPDATE SET
				operations = pruned_stats.operations + excluded.operations,
				reclaimed = pruned_stats.reclaimed + excluded.reclaimed`,
			cutoff)
		if err != nil {
			return 0, err
		}

		for _, fold := range []string{foldCategories, foldStatuses} {
			if _, err := tx.ExecContext(ctx, fold, cutoff); err != nil {
				return 0, err
			}
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM operations WHERE `+prunable, cutoff)
		if err != nil {
			return 0, err
		}
		return res.RowsAffected()
	})
	if err != nil {
		return 0, writeErr("prune", err)
	}

	if removed > 0 {
		l.log.Info("pruned ledger", "rows", removed, "retention", retention)
	}
	return removed, nil
}
