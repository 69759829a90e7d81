package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcherIncludeExclude(t *testing.T) {
	m, err := New(Config{
		Includes: []string{"reports/**/*.pdf", "invoices/*.pdf"},
		Excludes: []string{"**/draft-*"},
	})
	require.NoError(t, err)

	assert.True(t, m.Match("reports/2026/q1.pdf"))
	assert.True(t, m.Match("invoices/march.pdf"))
	assert.False(t, m.Match("reports/2026/draft-q1.pdf"))
	assert.False(t, m.Match("photos/beach.jpg"))
}

func TestMatcherEmptyIncludesMatchesAll(t *testing.T) {
	m, err := New(Config{})
	require.NoError(t, err)
	assert.True(t, m.Match("anything/at/all.txt"))
}

func TestMatcherHiddenKeys(t *testing.T) {
	m, err := New(Config{Includes: []string{"**"}})
	require.NoError(t, err)
	assert.False(t, m.Match(".config/settings.json"))
	assert.False(t, m.Match("data/.hidden/file.txt"))

	shown, err := New(Config{Includes: []string{"**"}, IncludeHidden: true})
	require.NoError(t, err)
	assert.True(t, shown.Match(".config/settings.json"))
}

func TestMatcherRejectsInvalidPattern(t *testing.T) {
	_, err := New(Config{Includes: []string{"data/[oops"}})
	require.Error(t, err)

	var patternErr *PatternError
	require.ErrorAs(t, err, &patternErr)
	assert.Equal(t, "data/[oops", patternErr.Pattern)
}

func TestDerivePrefix(t *testing.T) {
	cases := map[string]string{
		"data/2026/**/*.csv": "data/2026/",
		"*.json":             "",
		"exact/path.txt":     "exact/path.txt",
		"logs/app-{a,b}/*":   "logs/",
	}
	for pattern, want := range cases {
		assert.Equal(t, want, DerivePrefix(pattern), pattern)
	}
}

func TestDerivePrefixesSubsumption(t *testing.T) {
	got := DerivePrefixes([]string{"data/**", "data/2026/**", "logs/*.txt"})
	assert.Equal(t, []string{"data/", "logs/"}, got)

	assert.Equal(t, []string{""}, DerivePrefixes([]string{"**/*.json", "data/**"}))
}
