// Package fileop is the only code in tidy that mutates the filesystem.
// Every action either runs for real or is simulated for a dry run, and
// existing destinations are never overwritten.
package fileop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jamesainslie/tidy/pkg/tidy/fingerprint"
	"github.com/jamesainslie/tidy/pkg/tidy/logging"
	"github.com/jamesainslie/tidy/pkg/tidy/types"
)

// ErrPrecheckFailed is the base error for rejected operations.
var ErrPrecheckFailed = errors.New("operation precheck failed")

// Precheck failures.
var (
	ErrDestinationExists = fmt.Errorf("%w: destination exists", ErrPrecheckFailed)
	ErrSourceMissing     = fmt.Errorf("%w: source does not exist", ErrPrecheckFailed)
	ErrNotRegular        = fmt.Errorf("%w: source is not a regular file", ErrPrecheckFailed)
	ErrPermission        = fmt.Errorf("%w: permission denied", ErrPrecheckFailed)
	ErrInvalidIntent     = fmt.Errorf("%w: invalid operation", ErrPrecheckFailed)
)

// ErrVerifyFailed indicates a cross-device copy did not match its source.
var ErrVerifyFailed = errors.New("copy verification failed")

const copyChunk = 1 << 20

// Intent describes one filesystem action.
//
// A delete with a Destination is a quarantine: the file is moved there
// instead of being removed, which keeps it recoverable.
type Intent struct {
	Type        types.OpType
	Source      string
	Destination string
}

// Quarantined reports whether a delete keeps the file in quarantine.
func (in Intent) Quarantined() bool {
	return in.Type == types.OpDelete && in.Destination != ""
}

// Outcome reports what Execute did.
type Outcome struct {
	Intent Intent
	DryRun bool

	// Bytes is the size of the source file.
	Bytes int64

	// CrossDevice is set when a move fell back to copy, verify and remove.
	CrossDevice bool
}

// Operator executes intents.
type Operator struct {
	quarantineDir string
	log           *logging.Logger
	now           func() time.Time
}

// New creates an Operator. quarantineDir is where quarantined deletes go.
func New(quarantineDir string) *Operator {
	return &Operator{
		quarantineDir: quarantineDir,
		log:           logging.Get("fileop"),
		now:           time.Now,
	}
}

// QuarantineDir returns the quarantine root.
func (o *Operator) QuarantineDir() string {
	return o.quarantineDir
}

// QuarantinePath returns a fresh quarantine location for source. The
// source's absolute path is preserved under a timestamped directory.
func (o *Operator) QuarantinePath(source string) string {
	stamp := o.now().UTC().Format("20060102T150405.000000000")
	rel := strings.TrimLeft(filepath.ToSlash(filepath.Clean(source)), "/")
	rel = strings.ReplaceAll(rel, ":", "")
	return filepath.Join(o.quarantineDir, stamp, filepath.FromSlash(rel))
}

// Execute validates in and, unless dryRun is set, performs it.
func (o *Operator) Execute(ctx context.Context, in Intent, dryRun bool) (Outcome, error) {
	out := Outcome{Intent: in, DryRun: dryRun}

	info, err := o.Precheck(in)
	if err != nil {
		o.log.Debug("precheck failed", "op", in.Type, "source", in.Source, "destination", in.Destination, "dry_run", dryRun, "error", err)
		return out, err
	}
	out.Bytes = info.Size()

	if dryRun {
		o.log.Info("simulated", "op", in.Type, "source", in.Source, "destination", in.Destination, "dry_run", true)
		return out, nil
	}

	if err := ctx.Err(); err != nil {
		return out, err
	}

	switch {
	case in.Type == types.OpMove, in.Quarantined():
		out.CrossDevice, err = o.move(ctx, in.Source, in.Destination)
	case in.Type == types.OpCopy:
		err = o.copy(ctx, in.Source, in.Destination)
	case in.Type == types.OpDelete:
		err = os.Remove(in.Source)
	}
	if err != nil {
		o.log.Warn("operation failed", "op", in.Type, "source", in.Source, "destination", in.Destination, "error", err)
		return out, fmt.Errorf("%s %s: %w", in.Type, in.Source, err)
	}

	o.log.Info("executed", "op", in.Type, "source", in.Source, "destination", in.Destination, "cross_device", out.CrossDevice)
	return out, nil
}

// Precheck validates an intent against the current filesystem state
// without changing it. It returns the source file info.
func (o *Operator) Precheck(in Intent) (os.FileInfo, error) {
	switch in.Type {
	case types.OpMove, types.OpCopy:
		if in.Destination == "" {
			return nil, fmt.Errorf("%w: %s without destination", ErrInvalidIntent, in.Type)
		}
	case types.OpDelete:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidIntent, in.Type)
	}

	if in.Source == "" {
		return nil, fmt.Errorf("%w: empty source", ErrInvalidIntent)
	}

	info, err := os.Lstat(in.Source)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSourceMissing, in.Source)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrPrecheckFailed, in.Source, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotRegular, in.Source)
	}

	if in.Type != types.OpCopy {
		if err := writable(filepath.Dir(in.Source)); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrPermission, filepath.Dir(in.Source), err)
		}
	} else if err := readable(in.Source); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrPermission, in.Source, err)
	}

	if in.Destination == "" {
		return info, nil
	}

	if filepath.Clean(in.Destination) == filepath.Clean(in.Source) {
		return nil, fmt.Errorf("%w: %s", ErrDestinationExists, in.Destination)
	}
	if _, err := os.Lstat(in.Destination); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrDestinationExists, in.Destination)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s: %w", ErrPrecheckFailed, in.Destination, err)
	}

	dir, err := existingAncestor(filepath.Dir(in.Destination))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrPrecheckFailed, in.Destination, err)
	}
	if err := writable(dir); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrPermission, dir, err)
	}

	return info, nil
}

func (o *Operator) move(ctx context.Context, src, dst string) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return false, fmt.Errorf("creating destination directory: %w", err)
	}

	err := os.Rename(src, dst)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return false, err
	}

	// Across filesystems: copy, verify, then remove the original.
	if err := o.copy(ctx, src, dst); err != nil {
		return true, err
	}
	if err := verify(ctx, src, dst); err != nil {
		_ = os.Remove(dst)
		return true, err
	}
	if err := os.Remove(src); err != nil {
		return true, fmt.Errorf("removing original after copy: %w", err)
	}
	return true, nil
}

func (o *Operator) copy(ctx context.Context, src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%w: %s", ErrDestinationExists, dst)
	}
	if err != nil {
		return err
	}

	if err := copyContext(ctx, out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}

	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

func copyContext(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, copyChunk)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func verify(ctx context.Context, src, dst string) error {
	h := fingerprint.New(fingerprint.SHA256, nil)
	a, err := h.SumFile(ctx, src)
	if err != nil {
		return err
	}
	ok, err := fingerprint.Verify(ctx, dst, a)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrVerifyFailed, dst)
	}
	return nil
}

// existingAncestor walks up from dir to the first directory that exists.
func existingAncestor(dir string) (string, error) {
	for {
		info, err := os.Stat(dir)
		if err == nil {
			if !info.IsDir() {
				return "", fmt.Errorf("%s is not a directory", dir)
			}
			return dir, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", err
		}
		dir = parent
	}
}
