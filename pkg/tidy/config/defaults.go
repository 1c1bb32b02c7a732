// Package config provides configuration management for the tidy document organizer.
package config

import (
	"time"

	"github.com/jamesainslie/tidy/pkg/tidy/types"
)

// Default configuration values for tidy.
const (
	// DefaultConfidenceThreshold is the minimum confidence for an automatic move.
	DefaultConfidenceThreshold = 0.5

	// DefaultFilenameWeight is how much one filename pattern match counts
	// relative to one keyword occurrence.
	DefaultFilenameWeight = 3

	// DefaultRetentionDays is how long ledger detail rows are kept.
	DefaultRetentionDays = 90

	// DefaultWorkers bounds parallelism of the read-only stages. Zero sizes
	// the pool from the machine's cores and memory.
	DefaultWorkers = 0

	// DefaultFileTimeout bounds per-file I/O (extraction, hashing, moves).
	DefaultFileTimeout = 30 * time.Second

	// DefaultMaxPages caps extraction from page-oriented documents.
	DefaultMaxPages = 5

	// DefaultMaxBytes caps extraction from plain text files.
	DefaultMaxBytes = "64KiB"

	// DefaultQuarantineDirName holds quarantined files under the data dir.
	DefaultQuarantineDirName = "quarantine"

	// DefaultHashAlgorithm is the content fingerprint algorithm.
	DefaultHashAlgorithm = "sha256"

	// DefaultStrategy selects the keyword-scoring categorizer.
	DefaultStrategy = "keyword"
)

// DefaultStagingDirs are directory names treated as staging areas when
// choosing duplicate keepers.
var DefaultStagingDirs = []string{"inbox", "staging", "downloads"}

// DefaultExclusions are glob patterns skipped while walking.
var DefaultExclusions = []string{".git", ".DS_Store", "*.tmp", "~$*"}

// DefaultCategories is the category table used when none is configured.
var DefaultCategories = []types.CategoryDefinition{
	{
		Name:     "Finance",
		Keywords: []string{"invoice", "budget", "receipt", "tax"},
		Patterns: []string{"*invoice*", "*receipt*"},
		Priority: 30,
	},
	{
		Name:     "Legal",
		Keywords: []string{"agreement", "contract", "liability", "clause"},
		Patterns: []string{"*contract*", "*nda*"},
		Priority: 20,
	},
	{
		Name:     "Work",
		Keywords: []string{"meeting", "project", "report", "agenda"},
		Patterns: []string{"*report*", "*minutes*"},
		Priority: 10,
	},
	{
		Name:     "Personal",
		Keywords: []string{"family", "vacation", "recipe", "birthday"},
		Patterns: []string{"*recipe*", "*vacation*"},
		Priority: 0,
	},
}
