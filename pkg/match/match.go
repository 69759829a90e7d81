// Package match filters object listings with doublestar glob patterns and
// derives static key prefixes so filtered listings stay cheap server-side.
package match

import (
	"errors"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher evaluates include and exclude glob patterns against object keys.
// An object matches when it matches at least one include and no exclude.
// Safe for concurrent use after creation.
type Matcher struct {
	includes      []string
	excludes      []string
	prefixes      []string
	includeHidden bool
}

// Config configures a Matcher.
type Config struct {
	// Includes are glob patterns the key must match, at least one.
	// Empty means match everything.
	Includes []string

	// Excludes are glob patterns the key must not match.
	Excludes []string

	// IncludeHidden keeps keys with dot-prefixed segments. Default false.
	IncludeHidden bool
}

// ErrInvalidPattern reports a pattern doublestar cannot compile.
var ErrInvalidPattern = errors.New("invalid glob pattern")

// PatternError names the offending pattern.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// New validates the patterns and builds a Matcher.
func New(cfg Config) (*Matcher, error) {
	validate := func(patterns []string) error {
		for _, p := range patterns {
			if !doublestar.ValidatePattern(p) {
				return &PatternError{Pattern: p, Err: ErrInvalidPattern}
			}
		}
		return nil
	}
	if err := validate(cfg.Includes); err != nil {
		return nil, err
	}
	if err := validate(cfg.Excludes); err != nil {
		return nil, err
	}

	return &Matcher{
		includes:      cfg.Includes,
		excludes:      cfg.Excludes,
		prefixes:      DerivePrefixes(cfg.Includes),
		includeHidden: cfg.IncludeHidden,
	}, nil
}

// Match reports whether key passes the include/exclude patterns. Keys are
// matched as-is; object keys are opaque strings.
func (m *Matcher) Match(key string) bool {
	if !m.includeHidden && IsHidden(key) {
		return false
	}

	if len(m.includes) > 0 {
		matched := false
		for _, p := range m.includes {
			if ok, _ := doublestar.Match(p, key); ok {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	for _, p := range m.excludes {
		if ok, _ := doublestar.Match(p, key); ok {
			return false
		}
	}
	return true
}

// Prefixes returns the deduplicated static prefixes of the include
// patterns. An empty string in the result means a full listing is needed.
func (m *Matcher) Prefixes() []string {
	return m.prefixes
}

// IsHidden reports whether any path segment of key starts with a dot.
func IsHidden(key string) bool {
	for _, seg := range strings.Split(key, "/") {
		if seg != "" && strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

// DerivePrefix extracts the longest static prefix of a glob pattern,
// truncated to a whole path segment.
//
//	"data/2024/**/*.csv" → "data/2024/"
//	"*.json"             → ""
//	"exact/path.txt"     → "exact/path.txt"
func DerivePrefix(pattern string) string {
	meta := strings.IndexAny(pattern, "*?[{")
	if meta == -1 {
		return pattern
	}
	if meta == 0 {
		return ""
	}
	prefix := pattern[:meta]
	if slash := strings.LastIndex(prefix, "/"); slash >= 0 {
		return prefix[:slash+1]
	}
	return ""
}

// DerivePrefixes derives, deduplicates and sorts static prefixes for a set
// of patterns. A shorter prefix subsumes any prefix it starts.
func DerivePrefixes(patterns []string) []string {
	if len(patterns) == 0 {
		return nil
	}

	prefixes := make([]string, 0, len(patterns))
	for _, p := range patterns {
		prefix := DerivePrefix(p)
		if prefix == "" {
			return []string{""}
		}
		prefixes = append(prefixes, prefix)
	}

	sort.Slice(prefixes, func(i, j int) bool {
		return len(prefixes[i]) < len(prefixes[j])
	})

	kept := make([]string, 0, len(prefixes))
	for _, candidate := range prefixes {
		subsumed := false
		for _, existing := range kept {
			if strings.HasPrefix(candidate, existing) {
				subsumed = true
				break
			}
		}
		if !subsumed {
			kept = append(kept, candidate)
		}
	}
	sort.Strings(kept)
	return kept
}
