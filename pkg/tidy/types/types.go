// Package types provides core data types for the tidy document organizer.
// It includes the managed file, categorization, ledger operation and run
// records shared between the engine packages, along with utility functions
// for parsing and formatting file sizes.
package types

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Size constants for binary (IEC) units.
const (
	KiB int64 = 1024
	MiB int64 = 1024 * KiB
	GiB int64 = 1024 * MiB
	TiB int64 = 1024 * GiB
)

// Uncategorized is the sentinel category for files without a confident match.
const Uncategorized = "Uncategorized"

// ManagedFile is a file inspected during a run. It is derived per run and
// never persisted on its own.
type ManagedFile struct {
	// Path is the absolute path to the file.
	Path string `json:"path" yaml:"path"`

	// Size is the file size in bytes.
	Size int64 `json:"size" yaml:"size"`

	// ModTime is the last modification time of the file.
	ModTime time.Time `json:"mod_time" yaml:"mod_time"`

	// Fingerprint is the content hash, computed once per run.
	Fingerprint string `json:"fingerprint" yaml:"fingerprint"`

	// Sample is the bounded text sample used for categorization.
	Sample string `json:"-" yaml:"-"`
}

// HumanSize returns the file size formatted as a human-readable string.
func (f *ManagedFile) HumanSize() string {
	return FormatSize(f.Size)
}

// CategoryDefinition describes one category a file can be assigned to.
type CategoryDefinition struct {
	Name     string   `json:"name" yaml:"name" mapstructure:"name"`
	Keywords []string `json:"keywords" yaml:"keywords" mapstructure:"keywords"`
	Patterns []string `json:"patterns" yaml:"patterns" mapstructure:"patterns"`

	// Priority only breaks ties between equally confident categories.
	Priority int `json:"priority" yaml:"priority" mapstructure:"priority"`
}

// CategorizationResult is the outcome of categorizing a single file.
type CategorizationResult struct {
	Category   string  `json:"category" yaml:"category"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
	Signals    int     `json:"signals" yaml:"signals"`

	// Override is set when the category came from an explicit override
	// rather than from scoring.
	Override bool `json:"override,omitempty" yaml:"override,omitempty"`
}

// IsUncategorized reports whether the result carries the sentinel category.
func (r CategorizationResult) IsUncategorized() bool {
	return r.Category == Uncategorized
}

// OpType is the kind of operation recorded in the ledger.
type OpType string

// Operation types.
const (
	OpMove       OpType = "move"
	OpCopy       OpType = "copy"
	OpDelete     OpType = "delete"
	OpCategorize OpType = "categorize"
	OpUndo       OpType = "undo"
)

// Valid reports whether t is a known operation type.
func (t OpType) Valid() bool {
	switch t {
	case OpMove, OpCopy, OpDelete, OpCategorize, OpUndo:
		return true
	}
	return false
}

// Status is the lifecycle state of a ledger operation.
type Status string

// Operation statuses.
const (
	StatusPending   Status = "pending"
	StatusCommitted Status = "committed"
	StatusFailed    Status = "failed"
	StatusUndone    Status = "undone"
)

// Operation is the central persisted ledger entity.
type Operation struct {
	ID          int64     `json:"id" yaml:"id"`
	RunID       string    `json:"run_id" yaml:"run_id"`
	Type        OpType    `json:"type" yaml:"type"`
	Source      string    `json:"source" yaml:"source"`
	Destination string    `json:"destination,omitempty" yaml:"destination,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`
	Size        int64     `json:"size" yaml:"size"`
	Category    string    `json:"category,omitempty" yaml:"category,omitempty"`
	Confidence  float64   `json:"confidence" yaml:"confidence"`
	Timestamp   time.Time `json:"timestamp" yaml:"timestamp"`
	Status      Status    `json:"status" yaml:"status"`
	DryRun      bool      `json:"dry_run" yaml:"dry_run"`

	// Reversible is false for hard deletes made without quarantine.
	Reversible bool `json:"reversible" yaml:"reversible"`

	// UndoOf is the target operation ID for undo operations.
	UndoOf int64 `json:"undo_of,omitempty" yaml:"undo_of,omitempty"`

	// UndoneBy is the undo operation that reversed this one.
	UndoneBy int64 `json:"undone_by,omitempty" yaml:"undone_by,omitempty"`

	// Reason holds the failure reason for failed operations.
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Paths returns the filesystem paths an operation touches.
func (o *Operation) Paths() []string {
	if o.Destination == "" {
		return []string{o.Source}
	}
	return []string{o.Source, o.Destination}
}

// Run is a single organizer or undo invocation.
type Run struct {
	ID             string    `json:"id" yaml:"id"`
	Root           string    `json:"root" yaml:"root"`
	StartedAt      time.Time `json:"started_at" yaml:"started_at"`
	EndedAt        time.Time `json:"ended_at,omitempty" yaml:"ended_at,omitempty"`
	DryRun         bool      `json:"dry_run" yaml:"dry_run"`
	FilesProcessed int64     `json:"files_processed" yaml:"files_processed"`
	Operations     int64     `json:"operations" yaml:"operations"`
	PID            int       `json:"pid" yaml:"pid"`
}

// DuplicateAction is what happens to non-keeper members of a duplicate group.
type DuplicateAction string

// Duplicate actions.
const (
	DuplicateSkip       DuplicateAction = "skip"
	DuplicateQuarantine DuplicateAction = "quarantine"
	DuplicateDelete     DuplicateAction = "delete"
)

// ParseDuplicateAction parses a configured duplicate action.
func ParseDuplicateAction(s string) (DuplicateAction, error) {
	switch a := DuplicateAction(strings.ToLower(strings.TrimSpace(s))); a {
	case DuplicateSkip, DuplicateQuarantine, DuplicateDelete:
		return a, nil
	case "":
		return DuplicateQuarantine, nil
	default:
		return "", fmt.Errorf("unknown duplicate action %q", s)
	}
}

// DuplicateGroup is a set of files sharing a fingerprint. It is derived,
// never persisted.
type DuplicateGroup struct {
	Fingerprint string          `json:"fingerprint" yaml:"fingerprint"`
	Size        int64           `json:"size" yaml:"size"`
	Keeper      ManagedFile     `json:"keeper" yaml:"keeper"`
	Others      []ManagedFile   `json:"others" yaml:"others"`
	Action      DuplicateAction `json:"action" yaml:"action"`
}

// Members returns the keeper followed by the other members.
func (g *DuplicateGroup) Members() []ManagedFile {
	return append([]ManagedFile{g.Keeper}, g.Others...)
}

// Wasted returns the bytes held by the non-keeper members.
func (g *DuplicateGroup) Wasted() int64 {
	return g.Size * int64(len(g.Others))
}

// Failure records a per-file error surfaced in a run summary.
type Failure struct {
	Path   string `json:"path" yaml:"path"`
	Stage  string `json:"stage" yaml:"stage"`
	Reason string `json:"reason" yaml:"reason"`
}

// RunSummary is returned by every organize run. It holds no run-unique
// values so repeated dry runs over an unchanged tree compare equal.
type RunSummary struct {
	Root                string         `json:"root" yaml:"root"`
	DryRun              bool           `json:"dry_run" yaml:"dry_run"`
	FilesProcessed      int            `json:"files_processed" yaml:"files_processed"`
	OperationsCommitted int            `json:"operations_committed" yaml:"operations_committed"`
	OperationsFailed    int            `json:"operations_failed" yaml:"operations_failed"`
	CategorizedCounts   map[string]int `json:"categorized_counts" yaml:"categorized_counts"`
	DuplicateGroups     int            `json:"duplicate_groups" yaml:"duplicate_groups"`
	DuplicatesFound     int            `json:"duplicates_found" yaml:"duplicates_found"`
	Skipped             int            `json:"skipped" yaml:"skipped"`
	Cancelled           bool           `json:"cancelled,omitempty" yaml:"cancelled,omitempty"`
	Failures            []Failure      `json:"failures" yaml:"failures"`
}

// NewRunSummary returns an empty summary for root.
func NewRunSummary(root string, dryRun bool) *RunSummary {
	return &RunSummary{
		Root:              root,
		DryRun:            dryRun,
		CategorizedCounts: make(map[string]int),
		Failures:          []Failure{},
	}
}

// AddFailure appends a failure to the summary.
func (s *RunSummary) AddFailure(path, stage string, err error) {
	s.Failures = append(s.Failures, Failure{Path: path, Stage: stage, Reason: err.Error()})
}

// Statistics aggregates the ledger contents.
type Statistics struct {
	TotalOperations  int64            `json:"total_operations" yaml:"total_operations"`
	DryRunOperations int64            `json:"dry_run_operations" yaml:"dry_run_operations"`
	ByType           map[string]int64 `json:"by_type" yaml:"by_type"`
	ByCategory       map[string]int64 `json:"by_category" yaml:"by_category"`
	ByStatus         map[string]int64 `json:"by_status" yaml:"by_status"`
	StorageReclaimed int64            `json:"storage_reclaimed" yaml:"storage_reclaimed"`
	Runs             int64            `json:"runs" yaml:"runs"`
	Pruned           int64            `json:"pruned" yaml:"pruned"`
}

// UndoResult describes a completed undo.
type UndoResult struct {
	Target Operation `json:"target" yaml:"target"`
	Undo   Operation `json:"undo" yaml:"undo"`

	// Cascaded lists later operations that were undone first when forced.
	Cascaded []Operation `json:"cascaded,omitempty" yaml:"cascaded,omitempty"`
}

// sizePattern matches size strings like "100M", "2G", "500K", "1.5GB", etc.
var sizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([KMGT]?(?:i?B)?)\s*$`)

// ErrInvalidSize indicates that the size string could not be parsed.
var ErrInvalidSize = errors.New("invalid size format")

// ErrNegativeSize indicates that a negative size value was provided.
var ErrNegativeSize = errors.New("size cannot be negative")

// ParseSize parses a human-readable size string ("64K", "1.5MiB", "512")
// and returns the size in bytes. Units are binary.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidSize)
	}

	if strings.HasPrefix(s, "-") {
		return 0, ErrNegativeSize
	}

	matches := sizePattern.FindStringSubmatch(s)
	if matches == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	value, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	suffix := strings.ToUpper(matches[2])
	suffix = strings.TrimSuffix(suffix, "IB")
	suffix = strings.TrimSuffix(suffix, "B")

	var multiplier int64
	switch suffix {
	case "":
		multiplier = 1
	case "K":
		multiplier = KiB
	case "M":
		multiplier = MiB
	case "G":
		multiplier = GiB
	case "T":
		multiplier = TiB
	default:
		return 0, fmt.Errorf("%w: unknown suffix %q", ErrInvalidSize, suffix)
	}

	return int64(value * float64(multiplier)), nil
}

// FormatSize converts a size in bytes to a human-readable string using
// binary (IEC) units.
func FormatSize(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.IBytes(uint64(bytes))
}
