package undo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/tidy/pkg/tidy/fileop"
	"github.com/jamesainslie/tidy/pkg/tidy/fingerprint"
	"github.com/jamesainslie/tidy/pkg/tidy/ledger"
	"github.com/jamesainslie/tidy/pkg/tidy/lock"
	"github.com/jamesainslie/tidy/pkg/tidy/types"
)

type fixture struct {
	dir    string
	ledger *ledger.Ledger
	op     *fileop.Operator
	engine *Engine
}

func setup(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	l, err := ledger.Open(context.Background(), filepath.Join(dir, "state", "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	op := fileop.New(filepath.Join(dir, "quarantine"))
	return &fixture{dir: dir, ledger: l, op: op, engine: New(l, op)}
}

func (f *fixture) write(t *testing.T, rel, content string) string {
	t.Helper()
	path := filepath.Join(f.dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// apply performs in through the ledger the same way a run does.
func (f *fixture) apply(t *testing.T, in fileop.Intent) int64 {
	t.Helper()
	ctx := context.Background()

	fp, err := fingerprint.New(fingerprint.SHA256, nil).SumFile(ctx, in.Source)
	require.NoError(t, err)

	id, err := f.ledger.Begin(ctx, types.Operation{
		RunID:       "run",
		Type:        in.Type,
		Source:      in.Source,
		Destination: in.Destination,
		Fingerprint: fp,
		Reversible:  in.Type != types.OpDelete || in.Quarantined(),
	})
	require.NoError(t, err)

	_, err = f.op.Execute(ctx, in, false)
	require.NoError(t, err)
	require.NoError(t, f.ledger.Commit(ctx, id))
	return id
}

func TestUndoLastRestoresMove(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	src := f.write(t, "inbox/invoice_2024.pdf", "invoice budget")
	dst := filepath.Join(f.dir, "organized", "Finance", "invoice_2024.pdf")
	id := f.apply(t, fileop.Intent{Type: types.OpMove, Source: src, Destination: dst})

	history, err := f.ledger.History(ctx, src)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, types.OpMove, history[0].Type)
	assert.Equal(t, types.StatusCommitted, history[0].Status)

	result, err := f.engine.UndoLast(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, result.Target.ID)
	assert.Equal(t, types.StatusUndone, result.Target.Status)
	assert.Equal(t, result.Undo.ID, result.Target.UndoneBy)
	assert.Equal(t, types.OpUndo, result.Undo.Type)
	assert.Equal(t, id, result.Undo.UndoOf)
	assert.Equal(t, types.StatusCommitted, result.Undo.Status)

	assert.FileExists(t, src)
	assert.NoFileExists(t, dst)

	history, err = f.ledger.History(ctx, src)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	_, err = f.engine.UndoLast(ctx)
	require.ErrorIs(t, err, ErrNothingToUndo)
	assert.EqualError(t, err, "no undoable operations")

	_, err = os.Stat(lock.PathFor(f.ledger.Path()))
	assert.True(t, os.IsNotExist(err), "lock released")
}

func TestUndoLastRepeatedRestoresAll(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	var sources []string
	for i := range 3 {
		src := f.write(t, fmt.Sprintf("in/file%d.txt", i), fmt.Sprintf("content %d", i))
		dst := filepath.Join(f.dir, "out", filepath.Base(src))
		f.apply(t, fileop.Intent{Type: types.OpMove, Source: src, Destination: dst})
		sources = append(sources, src)
	}

	for range sources {
		_, err := f.engine.UndoLast(ctx)
		require.NoError(t, err)
	}
	for _, src := range sources {
		assert.FileExists(t, src)
	}

	_, err := f.engine.UndoLast(ctx)
	assert.ErrorIs(t, err, ErrNothingToUndo)
}

func TestUndoLastUnwindsMoveChain(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	a := f.write(t, "a/report.txt", "quarterly report")
	b := filepath.Join(f.dir, "b", "report.txt")
	c := filepath.Join(f.dir, "c", "report.txt")
	first := f.apply(t, fileop.Intent{Type: types.OpMove, Source: a, Destination: b})
	second := f.apply(t, fileop.Intent{Type: types.OpMove, Source: b, Destination: c})

	result, err := f.engine.UndoLast(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, result.Target.ID)
	assert.FileExists(t, b)
	assert.NoFileExists(t, c)

	result, err = f.engine.UndoLast(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, result.Target.ID)

	assert.FileExists(t, a)
	assert.NoFileExists(t, b)
	assert.NoFileExists(t, c)
	data, err := os.ReadFile(a)
	require.NoError(t, err)
	assert.Equal(t, "quarterly report", string(data))

	_, err = f.engine.UndoLast(ctx)
	assert.ErrorIs(t, err, ErrNothingToUndo)
}

func TestUndoCopyRemovesCopy(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	src := f.write(t, "a.txt", "data")
	dst := filepath.Join(f.dir, "copies", "a.txt")
	id := f.apply(t, fileop.Intent{Type: types.OpCopy, Source: src, Destination: dst})

	result, err := f.engine.Undo(ctx, id, false)
	require.NoError(t, err)
	assert.Equal(t, dst, result.Undo.Source)
	assert.Empty(t, result.Undo.Destination)
	assert.FileExists(t, src)
	assert.NoFileExists(t, dst)
}

func TestUndoModifiedCopyRefused(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	src := f.write(t, "a.txt", "data")
	dst := filepath.Join(f.dir, "copies", "a.txt")
	id := f.apply(t, fileop.Intent{Type: types.OpCopy, Source: src, Destination: dst})
	require.NoError(t, os.WriteFile(dst, []byte("edited"), 0o644))

	_, err := f.engine.Undo(ctx, id, false)
	require.ErrorIs(t, err, ErrPreconditionMismatch)
	assert.FileExists(t, dst)
}

func TestUndoQuarantineRestores(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	src := f.write(t, "dupes/copy.pdf", "same")
	q := f.op.QuarantinePath(src)
	id := f.apply(t, fileop.Intent{Type: types.OpDelete, Source: src, Destination: q})
	assert.NoFileExists(t, src)

	_, err := f.engine.Undo(ctx, id, false)
	require.NoError(t, err)
	assert.FileExists(t, src)
	assert.NoFileExists(t, q)
}

func TestUndoHardDeleteIrreversible(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	src := f.write(t, "gone.txt", "bye")
	id := f.apply(t, fileop.Intent{Type: types.OpDelete, Source: src})

	_, err := f.engine.Undo(ctx, id, false)
	assert.ErrorIs(t, err, ErrIrreversible)

	// hard deletes are never chosen by UndoLast
	_, err = f.engine.UndoLast(ctx)
	assert.ErrorIs(t, err, ErrNothingToUndo)
}

func TestUndoPreconditionMismatch(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	src := f.write(t, "a.txt", "data")
	dst := filepath.Join(f.dir, "out", "a.txt")
	id := f.apply(t, fileop.Intent{Type: types.OpMove, Source: src, Destination: dst})

	// the user put something back at the original path
	f.write(t, "a.txt", "new")

	_, err := f.engine.Undo(ctx, id, false)
	require.ErrorIs(t, err, ErrPreconditionMismatch)

	op, err := f.ledger.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCommitted, op.Status)
	assert.FileExists(t, dst)
}

func TestUndoOutOfOrderRequiresForce(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	a := f.write(t, "a.txt", "data")
	b := filepath.Join(f.dir, "b", "a.txt")
	c := filepath.Join(f.dir, "c", "a.txt")
	first := f.apply(t, fileop.Intent{Type: types.OpMove, Source: a, Destination: b})
	second := f.apply(t, fileop.Intent{Type: types.OpMove, Source: b, Destination: c})

	_, err := f.engine.Undo(ctx, first, false)
	require.ErrorIs(t, err, ErrLaterOperations)
	assert.FileExists(t, c)

	result, err := f.engine.Undo(ctx, first, true)
	require.NoError(t, err)
	require.Len(t, result.Cascaded, 1)
	assert.Equal(t, second, result.Cascaded[0].UndoOf)
	assert.Equal(t, first, result.Undo.UndoOf)

	assert.FileExists(t, a)
	assert.NoFileExists(t, b)
	assert.NoFileExists(t, c)

	op, err := f.ledger.Get(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, types.StatusUndone, op.Status)
}

func TestUndoRejectsUnsupportedTargets(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	cat, err := f.ledger.Record(ctx, types.Operation{RunID: "run", Type: types.OpCategorize, Source: "/x", Category: "Work"})
	require.NoError(t, err)
	dry, err := f.ledger.Record(ctx, types.Operation{RunID: "run", Type: types.OpMove, Source: "/x", Destination: "/y", DryRun: true, Reversible: true})
	require.NoError(t, err)

	_, err = f.engine.Undo(ctx, cat, false)
	assert.ErrorIs(t, err, ErrNotUndoable)
	_, err = f.engine.Undo(ctx, dry, false)
	assert.ErrorIs(t, err, ErrNotUndoable)

	_, err = f.engine.Undo(ctx, 9999, false)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestUndoRefusesWhilePending(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, err := f.ledger.Begin(ctx, types.Operation{RunID: "run", Type: types.OpMove, Source: "/p", Destination: "/q", Reversible: true})
	require.NoError(t, err)

	_, err = f.engine.UndoLast(ctx)
	assert.ErrorIs(t, err, ledger.ErrUnreconciledPending)
}

func TestUndoRefusesWhileLocked(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	lk, err := lock.Acquire(lock.PathFor(f.ledger.Path()))
	require.NoError(t, err)
	defer lk.Release()

	_, err = f.engine.UndoLast(ctx)
	assert.ErrorIs(t, err, lock.ErrLocked)
}
