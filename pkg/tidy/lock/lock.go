// Package lock provides the advisory PID lock held by a run or undo for
// its whole duration.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/jamesainslie/tidy/pkg/tidy/logging"
)

// ErrLocked is returned when a live process holds the lock.
var ErrLocked = errors.New("another tidy process holds the lock")

// Lock is a held lock file.
type Lock struct {
	path string
}

// PathFor returns the lock file used for a ledger.
func PathFor(ledgerPath string) string {
	return ledgerPath + ".lock"
}

// Acquire creates the lock file at path containing the current PID. A lock
// left by a dead process is removed and taken over. The PID is written to
// a temporary file that is linked into place, so a lock file is never seen
// without its PID.
func Acquire(path string) (*Lock, error) {
	tmp, err := writeTemp(path)
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp)

	for attempt := 0; attempt < 2; attempt++ {
		err := os.Link(tmp, path)
		if err == nil {
			return &Lock{path: path}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("creating lock file: %w", err)
		}

		pid, err := ReadPID(path)
		if err == nil && IsProcessRunning(pid) {
			return nil, fmt.Errorf("%w (pid %d, %s)", ErrLocked, pid, path)
		}

		logging.Get("lock").Warn("removing stale lock", "path", path, "stale_pid", pid)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("removing stale lock: %w", err)
		}
	}

	return nil, fmt.Errorf("%w: %s keeps reappearing", ErrLocked, path)
}

func writeTemp(path string) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return "", fmt.Errorf("creating lock file: %w", err)
	}
	_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("writing lock file: %w", errors.Join(werr, cerr))
	}
	return f.Name(), nil
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("releasing lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// ReadPID reads the PID stored in a lock file.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, err
	}

	return pid, nil
}

// IsProcessRunning checks if a process with the given PID is running.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
