package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/jamesainslie/tidy/pkg/tidy/fingerprint"
	"github.com/jamesainslie/tidy/pkg/tidy/types"
)

// Reconciliation is the verdict for one formerly pending operation.
type Reconciliation struct {
	Operation types.Operation `json:"operation" yaml:"operation"`
	Status    types.Status    `json:"status" yaml:"status"`
	Reason    string          `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Reconcile settles every pending operation by inspecting the filesystem:
// an action whose effect is fully visible is committed, anything else is
// failed. A committed undo also marks its target undone.
func (l *Ledger) Reconcile(ctx context.Context) ([]Reconciliation, error) {
	pending, err := l.Pending(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing pending operations: %w", err)
	}

	results := make([]Reconciliation, 0, len(pending))
	for _, op := range pending {
		status, reason := classify(ctx, op)

		_, err := withTx(ctx, l.db, func(tx *sql.Tx) (struct{}, error) {
			return struct{}{}, l.resolve(ctx, tx, op, status, reason)
		})
		if err != nil {
			return results, writeErr("reconcile", err)
		}

		l.log.Warn("reconciled pending operation", "id", op.ID, "op", op.Type, "source", op.Source, "status", status, "reason", reason)
		results = append(results, Reconciliation{Operation: op, Status: status, Reason: reason})
	}

	return results, nil
}

func (l *Ledger) resolve(ctx context.Context, tx *sql.Tx, op types.Operation, status types.Status, reason string) error {
	if op.Type == types.OpUndo && status == types.StatusCommitted && op.UndoOf != 0 {
		return l.completeUndo(ctx, tx, op.ID, op.UndoOf)
	}

	return execExpectOne(ctx, tx,
		`UPDATE operations SET status = ?, reason = ?, updated_at = ? WHERE id = ? AND status = 'pending'`,
		status, reason, l.stamp(), op.ID)
}

// classify decides the outcome of op from what the filesystem shows now.
func classify(ctx context.Context, op types.Operation) (types.Status, string) {
	srcExists := exists(op.Source)
	dstExists := op.Destination != "" && exists(op.Destination)

	switch {
	case op.Type == types.OpCategorize:
		return types.StatusCommitted, "reconciled: no filesystem effect"

	case op.Type == types.OpCopy:
		if !dstExists {
			return types.StatusFailed, "reconciled: copy destination missing"
		}
		if op.Fingerprint != "" {
			ok, err := fingerprint.Verify(ctx, op.Destination, op.Fingerprint)
			if err != nil || !ok {
				return types.StatusFailed, "reconciled: copy destination does not match source fingerprint"
			}
		}
		return types.StatusCommitted, "reconciled: copy destination verified"

	case op.Destination != "":
		// move, quarantined delete, and undo moves
		if dstExists && !srcExists {
			return types.StatusCommitted, "reconciled: destination present and source gone"
		}
		if srcExists {
			return types.StatusFailed, "reconciled: source unmoved"
		}
		return types.StatusFailed, "reconciled: neither source nor destination present"

	default:
		// hard delete, or an undo that deleted a copy
		if !srcExists {
			return types.StatusCommitted, "reconciled: source removed"
		}
		return types.StatusFailed, "reconciled: source still present"
	}
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil || !errors.Is(err, os.ErrNotExist)
}
