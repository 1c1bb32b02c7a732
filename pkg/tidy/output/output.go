// Package output provides formatters for displaying tidy results (run
// summaries, ledger history, runs, statistics, duplicates and undo
// outcomes) in
// several output formats.
//
// The package uses a registry pattern so formatters can be selected by
// name at runtime:
//
//	formatter, err := output.Get("pretty")
//	if err != nil {
//	    return err
//	}
//	var buf bytes.Buffer
//	if err := formatter.Format(&buf, &output.Result{Summary: summary}); err != nil {
//	    return err
//	}
package output

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/jamesainslie/tidy/pkg/tidy/types"
)

// Categorization is a single categorize_file answer.
type Categorization struct {
	Path   string                     `json:"path" yaml:"path"`
	Result types.CategorizationResult `json:"result" yaml:"result"`
}

// Result is what a command hands to a formatter. Only the populated
// sections are rendered.
type Result struct {
	// Title labels the output, e.g. "History /docs/a.pdf".
	Title string `json:"title,omitempty" yaml:"title,omitempty"`

	Summary        *types.RunSummary      `json:"summary,omitempty" yaml:"summary,omitempty"`
	Stats          *types.Statistics      `json:"stats,omitempty" yaml:"stats,omitempty"`
	Operations     []types.Operation      `json:"operations,omitempty" yaml:"operations,omitempty"`
	Duplicates     []types.DuplicateGroup `json:"duplicates,omitempty" yaml:"duplicates,omitempty"`
	Categorization *Categorization        `json:"categorization,omitempty" yaml:"categorization,omitempty"`
	Undo           *types.UndoResult      `json:"undo,omitempty" yaml:"undo,omitempty"`
	Runs           []types.Run            `json:"runs,omitempty" yaml:"runs,omitempty"`

	// Warnings are shown after the main content.
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Formatter renders a Result.
type Formatter interface {
	Format(w *bytes.Buffer, r *Result) error
}

// FormatterFactory is a function that creates a new Formatter instance.
type FormatterFactory func() Formatter

// Registry manages formatter registration and lookup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FormatterFactory
}

// NewRegistry creates a new formatter registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]FormatterFactory),
	}
}

// Register adds a formatter factory to the registry, replacing any
// formatter with the same name.
func (r *Registry) Register(name string, factory FormatterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get returns a new formatter instance by name.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown formatter: %s", name)
	}
	return factory(), nil
}

// Available returns a sorted list of all registered formatter names.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is the global formatter registry.
var DefaultRegistry = NewRegistry()

// Register adds a formatter factory to the default registry.
func Register(name string, factory FormatterFactory) {
	DefaultRegistry.Register(name, factory)
}

// Get returns a new formatter instance from the default registry.
func Get(name string) (Formatter, error) {
	return DefaultRegistry.Get(name)
}

// Available returns all formatter names from the default registry.
func Available() []string {
	return DefaultRegistry.Available()
}

// sortedKeys returns the keys of m in order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
