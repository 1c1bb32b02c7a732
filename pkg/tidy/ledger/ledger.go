// Package ledger is the durable operation log behind every tidy action.
//
// The ledger follows write-ahead discipline: Begin persists a pending row
// before the filesystem is touched, and Commit or Fail settles it
// afterwards. Rows still pending at startup belong to a process that died
// mid-action and must be reconciled before new work is accepted.
package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/jamesainslie/tidy/pkg/tidy/logging"
	"github.com/jamesainslie/tidy/pkg/tidy/types"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Ledger errors.
var (
	// ErrLedgerWrite means the store could not durably record a change.
	// Runs abort on it since write-ahead safety is lost.
	ErrLedgerWrite = errors.New("ledger write failed")

	// ErrUnreconciledPending blocks new work while pending rows remain.
	ErrUnreconciledPending = errors.New("unreconciled pending operations")

	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotPending is returned when settling a row that is not pending.
	ErrNotPending = errors.New("operation is not pending")
)

func writeErr(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrLedgerWrite, what, err)
}

// Ledger is an SQLite-backed operation log. It is safe for concurrent use;
// writes are serialized through a single connection.
type Ledger struct {
	db   *sql.DB
	path string
	log  *logging.Logger
	now  func() time.Time
}

// Open opens or creates the ledger at path and applies migrations.
func Open(ctx context.Context, path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "synchronous(FULL)")
	q.Set("_txlock", "immediate")
	dsn := "file:" + path + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening ledger %s: %w", path, err)
	}

	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Ledger{
		db:   db,
		path: path,
		log:  logging.Get("ledger"),
		now:  time.Now,
	}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("loading ledger migrations: %w", err)
	}
	defer src.Close()

	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("preparing ledger migrations: %w", err)
	}

	// m.Close would close db, which the ledger keeps using.
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("preparing ledger migrations: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrating ledger: %w", err)
	}
	return nil
}

// Close closes the ledger.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Path returns the database file path.
func (l *Ledger) Path() string {
	return l.path
}

func (l *Ledger) stamp() int64 {
	return l.now().UnixNano()
}

// StartRun records a new run.
func (l *Ledger) StartRun(ctx context.Context, root string, dryRun bool) (types.Run, error) {
	run := types.Run{
		ID:        uuid.NewString(),
		Root:      root,
		StartedAt: time.Unix(0, l.stamp()),
		DryRun:    dryRun,
		PID:       os.Getpid(),
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (id, root, started_at, dry_run, pid) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Root, run.StartedAt.UnixNano(), run.DryRun, run.PID)
	if err != nil {
		return types.Run{}, writeErr("start run", err)
	}

	l.log.Info("run started", "run", run.ID, "root", root, "dry_run", dryRun)
	return run, nil
}

// FinishRun closes a run with its final counts.
func (l *Ledger) FinishRun(ctx context.Context, id string, filesProcessed, operations int64) error {
	err := execExpectOne(ctx, l.db,
		`UPDATE runs SET ended_at = ?, files_processed = ?, operations = ? WHERE id = ?`,
		l.stamp(), filesProcessed, operations, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return writeErr("finish run", err)
	}

	l.log.Info("run finished", "run", id, "files", filesProcessed, "operations", operations)
	return nil
}

// Begin durably records op as pending and returns its id. The caller must
// not touch the filesystem until Begin returns.
func (l *Ledger) Begin(ctx context.Context, op types.Operation) (int64, error) {
	op.Status = types.StatusPending
	id, err := l.insert(ctx, l.db, op)
	if err != nil {
		return 0, writeErr("begin", err)
	}

	l.log.Debug("operation pending", "id", id, "op", op.Type, "source", op.Source, "destination", op.Destination)
	return id, nil
}

// Commit marks a pending operation committed.
func (l *Ledger) Commit(ctx context.Context, id int64) error {
	return l.settle(ctx, id, types.StatusCommitted, "")
}

// Fail marks a pending operation failed with reason.
func (l *Ledger) Fail(ctx context.Context, id int64, reason string) error {
	return l.settle(ctx, id, types.StatusFailed, reason)
}

func (l *Ledger) settle(ctx context.Context, id int64, status types.Status, reason string) error {
	err := execExpectOne(ctx, l.db,
		`UPDATE operations SET status = ?, reason = ?, updated_at = ? WHERE id = ? AND status = 'pending'`,
		status, reason, l.stamp(), id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("operation %d: %w", id, ErrNotPending)
	}
	if err != nil {
		return writeErr(string(status), err)
	}

	l.log.Debug("operation settled", "id", id, "status", status, "reason", reason)
	return nil
}

// Record stores an operation that needs no physical action (categorize
// results and every dry-run operation) as committed immediately.
func (l *Ledger) Record(ctx context.Context, op types.Operation) (int64, error) {
	op.Status = types.StatusCommitted
	id, err := l.insert(ctx, l.db, op)
	if err != nil {
		return 0, writeErr("record", err)
	}
	if op.DryRun {
		l.log.Debug("operation recorded", "id", id, "op", op.Type, "source", op.Source, "dry_run", true)
	}
	return id, nil
}

// CompleteUndo commits a pending undo operation and marks its target
// undone in one transaction.
func (l *Ledger) CompleteUndo(ctx context.Context, undoID, targetID int64) error {
	_, err := withTx(ctx, l.db, func(tx *sql.Tx) (struct{}, error) {
		return struct{}{}, l.completeUndo(ctx, tx, undoID, targetID)
	})
	if err != nil {
		if errors.Is(err, ErrNotPending) || errors.Is(err, ErrNotFound) {
			return err
		}
		return writeErr("complete undo", err)
	}

	l.log.Info("operation undone", "id", targetID, "undo", undoID)
	return nil
}

func (l *Ledger) completeUndo(ctx context.Context, tx *sql.Tx, undoID, targetID int64) error {
	now := l.stamp()

	err := execExpectOne(ctx, tx,
		`UPDATE operations SET status = 'committed', updated_at = ? WHERE id = ? AND status = 'pending' AND type = 'undo'`,
		now, undoID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("undo %d: %w", undoID, ErrNotPending)
	}
	if err != nil {
		return err
	}

	err = execExpectOne(ctx, tx,
		`UPDATE operations SET status = 'undone', undone_by = ?, updated_at = ? WHERE id = ? AND status = 'committed'`,
		undoID, now, targetID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("undo target %d: %w", targetID, ErrNotFound)
	}
	return err
}

func (l *Ledger) insert(ctx context.Context, e executor, op types.Operation) (int64, error) {
	if !op.Type.Valid() {
		return 0, fmt.Errorf("invalid operation type %q", op.Type)
	}

	now := l.stamp()
	res, err := e.ExecContext(ctx, `
		INSERT INTO operations (
			run_id, type, source, destination, fingerprint, size, category, confidence,
			created_at, updated_at, status, dry_run, reversible, undo_of, reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.RunID, op.Type, op.Source, nullString(op.Destination), op.Fingerprint, op.Size,
		op.Category, op.Confidence, now, now, op.Status, op.DryRun, op.Reversible,
		nullInt(op.UndoOf), op.Reason)
	if err != nil {
		return 0, err
	}

	return res.LastInsertId()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}
