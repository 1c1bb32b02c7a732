// Package scanner walks a managed directory tree in parallel and collects
// the regular files a run should inspect.
package scanner

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charlievieth/fastwalk"

	"github.com/jamesainslie/tidy/pkg/tidy/logging"
	"github.com/jamesainslie/tidy/pkg/tidy/types"
)

// Options configures a scan.
type Options struct {
	// Root is the directory to walk.
	Root string

	// Exclude contains glob patterns matched against each path component.
	Exclude []string

	// Skip lists directories that are never descended into, such as the
	// output and quarantine directories.
	Skip []string

	// Workers is the number of walker goroutines. Zero uses the fastwalk
	// default.
	Workers int
}

// Result is the outcome of a scan.
type Result struct {
	Root         string
	Files        []types.ManagedFile
	Errors       []types.Failure
	DirsScanned  int64
	FilesScanned int64
	TotalSize    int64
	Elapsed      time.Duration
}

// Scanner performs parallel directory scanning using fastwalk.
type Scanner struct {
	opts Options
	root string
	skip map[string]bool
	log  *logging.Logger

	dirsScanned  atomic.Int64
	filesScanned atomic.Int64
	bytesScanned atomic.Int64

	errors   []types.Failure
	errorsMu sync.Mutex

	results   []types.ManagedFile
	resultsMu sync.Mutex
}

// New creates a Scanner.
func New(opts Options) *Scanner {
	return &Scanner{opts: opts, log: logging.Get("scanner")}
}

// Scan walks the tree and returns the files found, sorted by path. Errors
// on individual entries are collected and do not stop the walk.
func (s *Scanner) Scan(ctx context.Context) (*Result, error) {
	start := time.Now()

	root, err := ResolveRoot(s.opts.Root)
	if err != nil {
		return nil, err
	}
	s.root = root

	s.skip = make(map[string]bool, len(s.opts.Skip))
	for _, dir := range s.opts.Skip {
		if abs, err := filepath.Abs(dir); err == nil {
			s.skip[filepath.Clean(abs)] = true
		}
	}

	conf := fastwalk.Config{
		Follow:     false,
		NumWorkers: s.opts.Workers,
	}

	err = fastwalk.Walk(&conf, root, s.walkCallback(ctx))
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(s.results, func(i, j int) bool { return s.results[i].Path < s.results[j].Path })
	sort.Slice(s.errors, func(i, j int) bool { return s.errors[i].Path < s.errors[j].Path })

	s.log.Debug("scan complete", "root", root, "files", len(s.results), "dirs", s.dirsScanned.Load(), "errors", len(s.errors))

	return &Result{
		Root:         root,
		Files:        s.results,
		Errors:       s.errors,
		DirsScanned:  s.dirsScanned.Load(),
		FilesScanned: s.filesScanned.Load(),
		TotalSize:    s.bytesScanned.Load(),
		Elapsed:      time.Since(start),
	}, nil
}

// ResolveRoot returns the absolute form of root after checking that it is
// a directory.
func ResolveRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", &fs.PathError{Op: "scan", Path: abs, Err: errors.New("not a directory")}
	}

	return abs, nil
}

func (s *Scanner) walkCallback(ctx context.Context) fs.WalkDirFunc {
	return func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			s.addError(path, err)
			return nil
		}

		if d.IsDir() {
			if path != s.root && (s.skip[filepath.Clean(path)] || s.isExcluded(d.Name()) || strings.HasPrefix(d.Name(), ".")) {
				return fastwalk.SkipDir
			}
			s.dirsScanned.Add(1)
			return nil
		}

		if !d.Type().IsRegular() || s.isExcluded(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			s.addError(path, err)
			return nil
		}

		s.filesScanned.Add(1)
		s.bytesScanned.Add(info.Size())

		s.resultsMu.Lock()
		s.results = append(s.results, types.ManagedFile{
			Path:    path,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		s.resultsMu.Unlock()

		return nil
	}
}

// isExcluded reports whether name matches an exclusion pattern.
func (s *Scanner) isExcluded(name string) bool {
	for _, pattern := range s.opts.Exclude {
		if pattern == name {
			return true
		}
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func (s *Scanner) addError(path string, err error) {
	s.errorsMu.Lock()
	s.errors = append(s.errors, types.Failure{Path: path, Stage: "scan", Reason: err.Error()})
	s.errorsMu.Unlock()
}
