package output

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/tidy/pkg/tidy/types"
)

func sampleSummary() *types.RunSummary {
	s := types.NewRunSummary("/home/user/inbox", true)
	s.FilesProcessed = 3
	s.OperationsCommitted = 4
	s.OperationsFailed = 1
	s.DuplicatesFound = 1
	s.DuplicateGroups = 1
	s.CategorizedCounts["Finance"] = 2
	s.CategorizedCounts[types.Uncategorized] = 1
	s.Failures = append(s.Failures, types.Failure{Path: "/home/user/inbox/b.pdf", Stage: "move", Reason: "destination exists"})
	return s
}

func sampleOps() []types.Operation {
	return []types.Operation{
		{ID: 1, Type: types.OpCategorize, Source: "/in/a.pdf", Category: "Finance", Confidence: 0.6, Status: types.StatusCommitted, Timestamp: time.Now()},
		{ID: 2, Type: types.OpMove, Source: "/in/a.pdf", Destination: "/out/Finance/a.pdf", Status: types.StatusUndone, Timestamp: time.Now()},
	}
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"json", "plain", "pretty", "yaml"}, Available())

	for _, name := range Available() {
		f, err := Get(name)
		require.NoError(t, err, name)
		assert.NotNil(t, f)
	}

	_, err := Get("xml")
	assert.EqualError(t, err, "unknown formatter: xml")

	r := NewRegistry()
	r.Register("x", func() Formatter { return &PlainFormatter{} })
	assert.Equal(t, []string{"x"}, r.Available())
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	err := (&JSONFormatter{}).Format(&buf, &Result{Summary: sampleSummary()})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))

	summary, ok := decoded["summary"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(3), summary["files_processed"])
	assert.Equal(t, true, summary["dry_run"])
	assert.NotContains(t, decoded, "stats")
	assert.NotContains(t, decoded, "operations")
}

func TestYAMLFormatter(t *testing.T) {
	var buf bytes.Buffer
	err := (&YAMLFormatter{}).Format(&buf, &Result{Operations: sampleOps()})
	require.NoError(t, err)

	var decoded struct {
		Operations []struct {
			ID     int64  `yaml:"id"`
			Type   string `yaml:"type"`
			Status string `yaml:"status"`
		} `yaml:"operations"`
	}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded.Operations, 2)
	assert.Equal(t, "move", decoded.Operations[1].Type)
	assert.Equal(t, "undone", decoded.Operations[1].Status)
}

func TestPrettyFormatterSummary(t *testing.T) {
	var buf bytes.Buffer
	err := (&PrettyFormatter{}).Format(&buf, &Result{Title: "Organize", Summary: sampleSummary()})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Organize")
	assert.Contains(t, out, "/home/user/inbox")
	assert.Contains(t, out, "DRY RUN")
	assert.Contains(t, out, "Finance")
	assert.Contains(t, out, "destination exists")
	assert.Contains(t, out, "1 in 1 groups")
}

func TestPrettyFormatterSections(t *testing.T) {
	stats := &types.Statistics{
		TotalOperations:  5,
		ByType:           map[string]int64{"move": 3, "categorize": 2},
		ByStatus:         map[string]int64{"committed": 5},
		ByCategory:       map[string]int64{"Work": 2},
		StorageReclaimed: 2048,
		Runs:             2,
	}
	groups := []types.DuplicateGroup{{
		Fingerprint: "sha256:0123456789abcdef0123",
		Size:        1536,
		Keeper:      types.ManagedFile{Path: "/docs/a.txt", Size: 1536},
		Others:      []types.ManagedFile{{Path: "/inbox/a.txt"}},
		Action:      types.DuplicateQuarantine,
	}}
	undo := &types.UndoResult{
		Target: types.Operation{ID: 2, Type: types.OpMove},
		Undo:   types.Operation{ID: 3, Type: types.OpUndo, Source: "/out/a.pdf", Destination: "/in/a.pdf", UndoOf: 2},
	}

	var buf bytes.Buffer
	err := (&PrettyFormatter{}).Format(&buf, &Result{
		Stats:          stats,
		Operations:     sampleOps(),
		Duplicates:     groups,
		Undo:           undo,
		Categorization: &Categorization{Path: "/in/a.pdf", Result: types.CategorizationResult{Category: "Finance", Confidence: 0.6, Signals: 1}},
		Warnings:       []string{"ledger pruned"},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "2.0 KiB")
	assert.Contains(t, out, "categorize")
	assert.Contains(t, out, "/out/Finance/a.pdf")
	assert.Contains(t, out, "1.5 KiB")
	assert.Contains(t, out, "keep")
	assert.Contains(t, out, "/inbox/a.txt")
	assert.Contains(t, out, "Undid #2 (move)")
	assert.Contains(t, out, "60%")
	assert.Contains(t, out, "ledger pruned")
}

func TestPrettyFormatterEmpty(t *testing.T) {
	var buf bytes.Buffer
	err := (&PrettyFormatter{}).Format(&buf, &Result{Operations: []types.Operation{}, Duplicates: []types.DuplicateGroup{}})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No operations recorded")
	assert.Contains(t, buf.String(), "No duplicates found")
}

func TestPrettyFormatterRuns(t *testing.T) {
	runs := []types.Run{
		{ID: "run-b", Root: "/docs", StartedAt: time.Now(), EndedAt: time.Now(), FilesProcessed: 4, Operations: 6},
		{ID: "run-a", Root: "/docs", StartedAt: time.Now().Add(-time.Hour), DryRun: true},
	}

	var buf bytes.Buffer
	require.NoError(t, (&PrettyFormatter{}).Format(&buf, &Result{Runs: runs}))

	out := buf.String()
	assert.Contains(t, out, "run-b")
	assert.Contains(t, out, "dry run")
	assert.Contains(t, out, "unfinished")

	buf.Reset()
	require.NoError(t, (&PrettyFormatter{}).Format(&buf, &Result{Runs: []types.Run{}}))
	assert.Contains(t, buf.String(), "No runs recorded")
}

func TestPlainFormatter(t *testing.T) {
	var buf bytes.Buffer
	err := (&PlainFormatter{}).Format(&buf, &Result{Summary: sampleSummary(), Operations: sampleOps()})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "files_processed")
	assert.Contains(t, out, "/out/Finance/a.pdf")
	assert.NotContains(t, out, "\x1b[")
}
