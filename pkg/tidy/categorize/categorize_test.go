package categorize_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/tidy/pkg/tidy/categorize"
	"github.com/jamesainslie/tidy/pkg/tidy/types"
)

var finance = types.CategoryDefinition{Name: "Finance", Keywords: []string{"invoice", "budget"}}

func defaultOpts() categorize.Options {
	return categorize.Options{Threshold: 0.5, FilenameWeight: 3}
}

func TestKeywordFilenameSignal(t *testing.T) {
	c := categorize.NewKeyword([]types.CategoryDefinition{finance}, defaultOpts())

	got := c.Categorize("/staging/invoice_2024.pdf", "")
	assert.Equal(t, "Finance", got.Category)
	assert.InDelta(t, 0.6, got.Confidence, 1e-9)
	assert.Equal(t, 1, got.Signals)
}

func TestKeywordNoSignal(t *testing.T) {
	c := categorize.NewKeyword([]types.CategoryDefinition{finance}, defaultOpts())

	got := c.Categorize("scan001.jpg", "")
	assert.Equal(t, types.Uncategorized, got.Category)
	assert.Zero(t, got.Confidence)
	assert.Zero(t, got.Signals)
	assert.True(t, got.IsUncategorized())
}

func TestKeywordTextOccurrences(t *testing.T) {
	work := types.CategoryDefinition{Name: "Work", Keywords: []string{"meeting", "agenda"}}
	c := categorize.NewKeyword([]types.CategoryDefinition{finance, work}, defaultOpts())

	got := c.Categorize("notes.txt", "Meeting agenda: the MEETING starts at 10")
	assert.Equal(t, "Work", got.Category)
	assert.InDelta(t, 0.6, got.Confidence, 1e-9)
	assert.Equal(t, 3, got.Signals)
}

func TestKeywordBelowThreshold(t *testing.T) {
	cat := types.CategoryDefinition{Name: "Finance", Keywords: []string{"invoice", "budget", "receipt", "tax"}}
	c := categorize.NewKeyword([]types.CategoryDefinition{cat}, defaultOpts())

	got := c.Categorize("letter.txt", "a note about tax")
	assert.Equal(t, types.Uncategorized, got.Category)
	assert.InDelta(t, 0.2, got.Confidence, 1e-9)
	assert.Equal(t, 1, got.Signals)
}

func TestKeywordWholeWordsOnly(t *testing.T) {
	cat := types.CategoryDefinition{Name: "Finance", Keywords: []string{"tax"}}
	c := categorize.NewKeyword([]types.CategoryDefinition{cat}, defaultOpts())

	got := c.Categorize("syntax_guide.txt", "the syntax of taxonomy")
	assert.Equal(t, types.Uncategorized, got.Category)
	assert.Zero(t, got.Signals)
}

func TestPatternMatch(t *testing.T) {
	cat := types.CategoryDefinition{Name: "Legal", Patterns: []string{"*NDA*"}}
	c := categorize.NewKeyword([]types.CategoryDefinition{cat}, defaultOpts())

	got := c.Categorize("acme-nda-signed.pdf", "")
	assert.Equal(t, "Legal", got.Category)
	assert.InDelta(t, 0.75, got.Confidence, 1e-9)
}

func TestTieBreak(t *testing.T) {
	tests := []struct {
		name string
		cats []types.CategoryDefinition
		want string
	}{
		{
			name: "higher priority wins",
			cats: []types.CategoryDefinition{
				{Name: "Alpha", Keywords: []string{"report"}, Priority: 1},
				{Name: "Beta", Keywords: []string{"report"}, Priority: 5},
			},
			want: "Beta",
		},
		{
			name: "equal priority takes first name",
			cats: []types.CategoryDefinition{
				{Name: "Zeta", Keywords: []string{"report"}},
				{Name: "Eta", Keywords: []string{"report"}},
			},
			want: "Eta",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := categorize.NewKeyword(tt.cats, defaultOpts())
			got := c.Categorize("file.txt", "report")
			assert.Equal(t, tt.want, got.Category)
			assert.InDelta(t, 0.5, got.Confidence, 1e-9)
		})
	}
}

func TestDeterministic(t *testing.T) {
	cats := []types.CategoryDefinition{
		finance,
		{Name: "Work", Keywords: []string{"budget", "meeting"}, Priority: 2},
	}
	c := categorize.NewKeyword(cats, defaultOpts())

	first := c.Categorize("q3_budget.xlsx", "budget meeting notes")
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, c.Categorize("q3_budget.xlsx", "budget meeting notes"))
	}
}

func TestOverride(t *testing.T) {
	opts := defaultOpts()
	opts.Overrides = map[string]string{"*.scan.pdf": "Scans"}
	c := categorize.NewKeyword([]types.CategoryDefinition{finance}, opts)

	got := c.Categorize("/inbox/invoice.scan.pdf", "")
	assert.Equal(t, "Scans", got.Category)
	assert.Equal(t, 1.0, got.Confidence)
	assert.True(t, got.Override)
}

func TestExtensionIgnoresText(t *testing.T) {
	work := types.CategoryDefinition{Name: "Work", Keywords: []string{"meeting"}}
	c := categorize.NewExtension([]types.CategoryDefinition{work}, defaultOpts())

	assert.Equal(t, types.Uncategorized, c.Categorize("x.txt", "meeting meeting").Category)

	got := c.Categorize("meeting_notes.txt", "")
	assert.Equal(t, "Work", got.Category)
	assert.InDelta(t, 0.75, got.Confidence, 1e-9)
}

func TestNew(t *testing.T) {
	c, err := categorize.New("", nil, defaultOpts())
	require.NoError(t, err)
	assert.IsType(t, &categorize.Keyword{}, c)

	c, err = categorize.New("extension", nil, defaultOpts())
	require.NoError(t, err)
	assert.IsType(t, &categorize.Extension{}, c)

	_, err = categorize.New("neural", nil, defaultOpts())
	assert.Error(t, err)
}
