// Package undo reverses committed operations recorded in the ledger. Every
// reversal goes through the same ledger and file operator path as the
// original action and is recorded as a new undo operation.
package undo

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jamesainslie/tidy/pkg/tidy/fileop"
	"github.com/jamesainslie/tidy/pkg/tidy/fingerprint"
	"github.com/jamesainslie/tidy/pkg/tidy/ledger"
	"github.com/jamesainslie/tidy/pkg/tidy/lock"
	"github.com/jamesainslie/tidy/pkg/tidy/logging"
	"github.com/jamesainslie/tidy/pkg/tidy/types"
)

// Undo errors.
var (
	ErrNothingToUndo        = errors.New("no undoable operations")
	ErrPreconditionMismatch = errors.New("filesystem state does not match the operation")
	ErrIrreversible         = errors.New("operation is irreversible")
	ErrNotUndoable          = errors.New("operation cannot be undone")
	ErrLaterOperations      = errors.New("later operations touch the same path")
)

// runRoot is the root recorded for undo runs.
const runRoot = "undo"

// Engine undoes operations.
type Engine struct {
	ledger *ledger.Ledger
	op     *fileop.Operator
	log    *logging.Logger
}

// New creates an undo Engine.
func New(l *ledger.Ledger, op *fileop.Operator) *Engine {
	return &Engine{ledger: l, op: op, log: logging.Get("undo")}
}

// UndoLast reverses the most recent reversible operation still in effect.
func (e *Engine) UndoLast(ctx context.Context) (types.UndoResult, error) {
	release, err := e.prepare(ctx)
	if err != nil {
		return types.UndoResult{}, err
	}
	defer release()

	target, err := e.ledger.LastUndoable(ctx)
	if errors.Is(err, ledger.ErrNotFound) {
		return types.UndoResult{}, ErrNothingToUndo
	}
	if err != nil {
		return types.UndoResult{}, err
	}

	return e.undo(ctx, target, false)
}

// Undo reverses operation id. Unless force is set, id must be the most
// recent operation in effect on each of its paths. With force, later
// operations on those paths are undone first, newest first.
func (e *Engine) Undo(ctx context.Context, id int64, force bool) (types.UndoResult, error) {
	release, err := e.prepare(ctx)
	if err != nil {
		return types.UndoResult{}, err
	}
	defer release()

	target, err := e.ledger.Get(ctx, id)
	if err != nil {
		return types.UndoResult{}, err
	}

	return e.undo(ctx, target, force)
}

func (e *Engine) prepare(ctx context.Context) (func(), error) {
	if err := e.ledger.CheckReconciled(ctx); err != nil {
		return nil, err
	}

	lk, err := lock.Acquire(lock.PathFor(e.ledger.Path()))
	if err != nil {
		return nil, err
	}

	return func() {
		if err := lk.Release(); err != nil {
			e.log.Warn("failed to release lock", "error", err)
		}
	}, nil
}

func (e *Engine) undo(ctx context.Context, target types.Operation, force bool) (types.UndoResult, error) {
	if err := undoable(target); err != nil {
		return types.UndoResult{}, err
	}

	later, err := e.blockers(ctx, target)
	if err != nil {
		return types.UndoResult{}, err
	}

	if len(later) > 0 && !force {
		ids := make([]int64, len(later))
		for i, op := range later {
			ids[i] = op.ID
		}
		return types.UndoResult{}, fmt.Errorf("%w: operation %d is followed by %v; undo those first or force", ErrLaterOperations, target.ID, ids)
	}
	for _, op := range later {
		if err := undoable(op); err != nil {
			return types.UndoResult{}, fmt.Errorf("cannot force past operation %d: %w", op.ID, err)
		}
	}

	run, err := e.ledger.StartRun(ctx, runRoot, false)
	if err != nil {
		return types.UndoResult{}, err
	}

	result := types.UndoResult{Target: target}
	var count int64
	defer func() {
		if err := e.ledger.FinishRun(context.WithoutCancel(ctx), run.ID, 0, count); err != nil {
			e.log.Error("failed to finish undo run", "run", run.ID, "error", err)
		}
	}()

	for i := len(later) - 1; i >= 0; i-- {
		undoOp, err := e.reverse(ctx, run.ID, later[i])
		if err != nil {
			return result, fmt.Errorf("undoing later operation %d: %w", later[i].ID, err)
		}
		count++
		result.Cascaded = append(result.Cascaded, undoOp)
	}

	undoOp, err := e.reverse(ctx, run.ID, target)
	if err != nil {
		return result, err
	}
	count++
	result.Undo = undoOp

	if refreshed, err := e.ledger.Get(ctx, target.ID); err == nil {
		result.Target = refreshed
	}

	return result, nil
}

// blockers returns the operations in effect after target that touch its
// paths, following paths transitively, oldest first.
func (e *Engine) blockers(ctx context.Context, target types.Operation) ([]types.Operation, error) {
	after, err := e.ledger.OperationsAfter(ctx, target.ID)
	if err != nil {
		return nil, err
	}

	paths := make(map[string]bool)
	for _, p := range target.Paths() {
		paths[p] = true
	}

	var later []types.Operation
	for _, op := range after {
		touches := false
		for _, p := range op.Paths() {
			if paths[p] {
				touches = true
				break
			}
		}
		if !touches {
			continue
		}
		for _, p := range op.Paths() {
			paths[p] = true
		}
		later = append(later, op)
	}

	return later, nil
}

func undoable(op types.Operation) error {
	switch {
	case op.DryRun:
		return fmt.Errorf("%w: operation %d was a dry run", ErrNotUndoable, op.ID)
	case op.Type != types.OpMove && op.Type != types.OpCopy && op.Type != types.OpDelete:
		return fmt.Errorf("%w: %s operation %d", ErrNotUndoable, op.Type, op.ID)
	case op.Status == types.StatusUndone:
		return fmt.Errorf("%w: operation %d already undone by %d", ErrNotUndoable, op.ID, op.UndoneBy)
	case op.Status != types.StatusCommitted:
		return fmt.Errorf("%w: operation %d is %s", ErrNotUndoable, op.ID, op.Status)
	case op.Type == types.OpDelete && (!op.Reversible || op.Destination == ""):
		return fmt.Errorf("%w: operation %d deleted %s without quarantine", ErrIrreversible, op.ID, op.Source)
	}
	return nil
}

// inverse returns the action that reverses op after checking that the
// filesystem still shows op's result.
func inverse(ctx context.Context, op types.Operation) (fileop.Intent, error) {
	switch op.Type {
	case types.OpMove, types.OpDelete:
		// a quarantined delete is a move into quarantine
		if !present(op.Destination) {
			return fileop.Intent{}, fmt.Errorf("%w: %s no longer exists", ErrPreconditionMismatch, op.Destination)
		}
		if present(op.Source) {
			return fileop.Intent{}, fmt.Errorf("%w: %s exists again", ErrPreconditionMismatch, op.Source)
		}
		return fileop.Intent{Type: types.OpMove, Source: op.Destination, Destination: op.Source}, nil

	case types.OpCopy:
		if !present(op.Destination) {
			return fileop.Intent{}, fmt.Errorf("%w: copy %s no longer exists", ErrPreconditionMismatch, op.Destination)
		}
		if op.Fingerprint != "" {
			ok, err := fingerprint.Verify(ctx, op.Destination, op.Fingerprint)
			if err != nil {
				return fileop.Intent{}, fmt.Errorf("%w: %w", ErrPreconditionMismatch, err)
			}
			if !ok {
				return fileop.Intent{}, fmt.Errorf("%w: copy %s was modified", ErrPreconditionMismatch, op.Destination)
			}
		}
		return fileop.Intent{Type: types.OpDelete, Source: op.Destination}, nil
	}

	return fileop.Intent{}, fmt.Errorf("%w: %s", ErrNotUndoable, op.Type)
}

// reverse applies the inverse of op under ledger supervision.
func (e *Engine) reverse(ctx context.Context, runID string, op types.Operation) (types.Operation, error) {
	intent, err := inverse(ctx, op)
	if err != nil {
		return types.Operation{}, fmt.Errorf("operation %d: %w", op.ID, err)
	}

	undoOp := types.Operation{
		RunID:       runID,
		Type:        types.OpUndo,
		Source:      intent.Source,
		Destination: intent.Destination,
		Fingerprint: op.Fingerprint,
		Size:        op.Size,
		Category:    op.Category,
		UndoOf:      op.ID,
	}

	id, err := e.ledger.Begin(ctx, undoOp)
	if err != nil {
		return types.Operation{}, err
	}

	if _, err := e.op.Execute(ctx, intent, false); err != nil {
		if ferr := e.ledger.Fail(context.WithoutCancel(ctx), id, err.Error()); ferr != nil {
			return types.Operation{}, errors.Join(err, ferr)
		}
		return types.Operation{}, fmt.Errorf("operation %d: %w", op.ID, err)
	}

	if err := e.ledger.CompleteUndo(ctx, id, op.ID); err != nil {
		return types.Operation{}, err
	}

	e.log.Info("undid operation", "id", op.ID, "undo", id, "op", op.Type, "source", op.Source, "destination", op.Destination)
	return e.ledger.Get(ctx, id)
}

func present(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Lstat(path)
	return err == nil
}
