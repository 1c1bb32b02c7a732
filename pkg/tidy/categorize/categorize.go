// Package categorize assigns files to configured categories with a
// confidence score. Results are a pure function of the filename, the text
// sample and the category table.
package categorize

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/jamesainslie/tidy/pkg/tidy/types"
)

// Strategy names.
const (
	StrategyKeyword   = "keyword"
	StrategyExtension = "extension"
)

// Categorizer decides a category for a file.
type Categorizer interface {
	// Categorize scores name (a base name or path) and sample.
	Categorize(name, sample string) types.CategorizationResult
}

// Options tunes scoring.
type Options struct {
	// Threshold is the minimum confidence for a named category.
	Threshold float64

	// FilenameWeight is the value of one filename signal relative to one
	// keyword occurrence in the text. Values below 1 are treated as 1.
	FilenameWeight int

	// Overrides maps glob patterns to categories. A match bypasses scoring.
	Overrides map[string]string
}

// New returns the categorizer for strategy.
func New(strategy string, categories []types.CategoryDefinition, opts Options) (Categorizer, error) {
	switch strings.ToLower(strategy) {
	case StrategyKeyword, "":
		return NewKeyword(categories, opts), nil
	case StrategyExtension:
		return NewExtension(categories, opts), nil
	default:
		return nil, fmt.Errorf("unknown categorizer strategy %q", strategy)
	}
}

// Keyword scores text keyword occurrences and filename signals.
type Keyword struct {
	scorer
}

// NewKeyword creates a keyword-scoring categorizer.
func NewKeyword(categories []types.CategoryDefinition, opts Options) *Keyword {
	return &Keyword{scorer: newScorer(categories, opts, true)}
}

// Categorize implements Categorizer.
func (k *Keyword) Categorize(name, sample string) types.CategorizationResult {
	return k.categorize(name, sample)
}

// Extension scores filename signals only and ignores the text sample.
type Extension struct {
	scorer
}

// NewExtension creates a filename-only categorizer.
func NewExtension(categories []types.CategoryDefinition, opts Options) *Extension {
	return &Extension{scorer: newScorer(categories, opts, false)}
}

// Categorize implements Categorizer.
func (e *Extension) Categorize(name, _ string) types.CategorizationResult {
	return e.categorize(name, "")
}

type category struct {
	name     string
	keywords []string
	patterns []string
	priority int
}

type override struct {
	pattern  string
	category string
}

type scorer struct {
	categories []category
	overrides  []override
	threshold  float64
	weight     int
	useText    bool
}

func newScorer(defs []types.CategoryDefinition, opts Options, useText bool) scorer {
	s := scorer{
		threshold: opts.Threshold,
		weight:    max(opts.FilenameWeight, 1),
		useText:   useText,
	}

	for _, d := range defs {
		c := category{name: d.Name, priority: d.Priority}
		for _, kw := range d.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				c.keywords = append(c.keywords, kw)
			}
		}
		for _, p := range d.Patterns {
			if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
				c.patterns = append(c.patterns, p)
			}
		}
		s.categories = append(s.categories, c)
	}

	for pattern, cat := range opts.Overrides {
		s.overrides = append(s.overrides, override{pattern: pattern, category: cat})
	}
	sort.Slice(s.overrides, func(i, j int) bool {
		return s.overrides[i].pattern < s.overrides[j].pattern
	})

	return s
}

func (s *scorer) categorize(name, sample string) types.CategorizationResult {
	if cat, ok := s.override(name); ok {
		return types.CategorizationResult{Category: cat, Confidence: 1, Signals: 1, Override: true}
	}

	base := strings.ToLower(filepath.Base(name))
	text := ""
	if s.useText {
		text = strings.ToLower(sample)
	}

	var (
		best      *category
		bestConf  float64
		bestCount int
	)

	for i := range s.categories {
		c := &s.categories[i]
		conf, count := s.score(c, base, text)
		if count == 0 {
			continue
		}
		if best == nil || better(conf, c, bestConf, best) {
			best, bestConf, bestCount = c, conf, count
		}
	}

	if best == nil {
		return types.CategorizationResult{Category: types.Uncategorized}
	}

	result := types.CategorizationResult{
		Category:   best.name,
		Confidence: bestConf,
		Signals:    bestCount,
	}
	if bestConf < s.threshold {
		result.Category = types.Uncategorized
	}
	return result
}

// score returns the confidence for c and the number of signals that fired.
func (s *scorer) score(c *category, base, text string) (float64, int) {
	var matched, count int

	for _, kw := range c.keywords {
		if text != "" {
			n := countWord(text, kw)
			matched += n
			count += n
		}
		if countWord(base, kw) > 0 {
			matched += s.weight
			count++
		}
	}

	for _, p := range c.patterns {
		if ok, _ := filepath.Match(p, base); ok {
			matched += s.weight
			count++
		}
	}

	if matched == 0 {
		return 0, 0
	}

	possible := len(c.keywords) + len(c.patterns)
	conf := float64(matched) / float64(matched+possible)
	return min(max(conf, 0), 1), count
}

func (s *scorer) override(name string) (string, bool) {
	base := filepath.Base(name)
	for _, o := range s.overrides {
		if ok, _ := filepath.Match(o.pattern, base); ok {
			return o.category, true
		}
		if ok, _ := filepath.Match(o.pattern, name); ok {
			return o.category, true
		}
	}
	return "", false
}

// better reports whether candidate c with confidence conf beats the
// current best: higher confidence, then higher priority, then the
// lexicographically first name.
func better(conf float64, c *category, bestConf float64, best *category) bool {
	if conf != bestConf {
		return conf > bestConf
	}
	if c.priority != best.priority {
		return c.priority > best.priority
	}
	return c.name < best.name
}

// countWord counts occurrences of word in text that are not embedded in a
// longer alphanumeric token.
func countWord(text, word string) int {
	if word == "" {
		return 0
	}

	n := 0
	for i := 0; ; {
		j := strings.Index(text[i:], word)
		if j < 0 {
			return n
		}
		start := i + j
		end := start + len(word)
		if boundary(text, start-1) && boundary(text, end) {
			n++
		}
		i = start + 1
	}
}

func boundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	r := rune(s[i])
	return r < 0x80 && !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
