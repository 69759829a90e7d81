package match

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lakefront/s3console/pkg/remotestore"
)

// Filter evaluates whether an object from a listing passes filter criteria.
// All criteria operate on fields a List call already returned.
type Filter interface {
	Match(obj remotestore.Object) bool
	String() string
}

// FilterConfig holds filter criteria from CLI flags or profile files.
type FilterConfig struct {
	// MinSize and MaxSize bound object size, human-readable: "1KB", "100MiB".
	MinSize string `json:"minSize,omitempty" yaml:"min_size,omitempty"`
	MaxSize string `json:"maxSize,omitempty" yaml:"max_size,omitempty"`

	// After and Before bound the modification time, ISO 8601.
	After  string `json:"after,omitempty" yaml:"after,omitempty"`
	Before string `json:"before,omitempty" yaml:"before,omitempty"`

	// KeyRegex is applied to keys after glob matching.
	KeyRegex string `json:"keyRegex,omitempty" yaml:"key_regex,omitempty"`
}

var (
	ErrInvalidSize  = errors.New("invalid size value")
	ErrInvalidDate  = errors.New("invalid date value")
	ErrInvalidRegex = errors.New("invalid regex pattern")
)

// SizeFilter bounds object size. A negative bound means unconstrained.
type SizeFilter struct {
	min int64
	max int64
}

// NewSizeFilter parses the size bounds. Returns nil when both are empty.
func NewSizeFilter(minSize, maxSize string) (*SizeFilter, error) {
	if minSize == "" && maxSize == "" {
		return nil, nil
	}

	parse := func(s, which string) (int64, error) {
		if s == "" {
			return -1, nil
		}
		n, err := ParseSize(s)
		if err != nil {
			return 0, fmt.Errorf("%s size: %w", which, err)
		}
		return n, nil
	}

	lo, err := parse(minSize, "min")
	if err != nil {
		return nil, err
	}
	hi, err := parse(maxSize, "max")
	if err != nil {
		return nil, err
	}
	if lo >= 0 && hi >= 0 && lo > hi {
		return nil, fmt.Errorf("%w: bounds inverted (%s > %s)", ErrInvalidSize, minSize, maxSize)
	}
	return &SizeFilter{min: lo, max: hi}, nil
}

func (f *SizeFilter) Match(obj remotestore.Object) bool {
	belowMin := f.min >= 0 && obj.Size < f.min
	aboveMax := f.max >= 0 && obj.Size > f.max
	return !belowMin && !aboveMax
}

func (f *SizeFilter) String() string {
	var parts []string
	if f.min >= 0 {
		parts = append(parts, "min "+FormatSize(f.min))
	}
	if f.max >= 0 {
		parts = append(parts, "max "+FormatSize(f.max))
	}
	return "size(" + strings.Join(parts, ", ") + ")"
}

// DateFilter bounds the modification time. After is inclusive, Before is an
// exclusive end.
type DateFilter struct {
	after  time.Time
	before time.Time
}

// NewDateFilter parses the date bounds. Returns nil when both are empty.
func NewDateFilter(after, before string) (*DateFilter, error) {
	if after == "" && before == "" {
		return nil, nil
	}

	var f DateFilter
	var err error
	if after != "" {
		if f.after, err = ParseDate(after); err != nil {
			return nil, fmt.Errorf("after bound: %w", err)
		}
	}
	if before != "" {
		if f.before, err = ParseDate(before); err != nil {
			return nil, fmt.Errorf("before bound: %w", err)
		}
	}
	if !f.after.IsZero() && !f.before.IsZero() && !f.after.Before(f.before) {
		return nil, fmt.Errorf("%w: empty window (%s .. %s)", ErrInvalidDate, after, before)
	}
	return &f, nil
}

func (f *DateFilter) Match(obj remotestore.Object) bool {
	ts := obj.LastModified
	if !f.after.IsZero() && ts.Before(f.after) {
		return false
	}
	if !f.before.IsZero() && !ts.Before(f.before) {
		return false
	}
	return true
}

func (f *DateFilter) String() string {
	const day = "2006-01-02"
	var parts []string
	if !f.after.IsZero() {
		parts = append(parts, "from "+f.after.Format(day))
	}
	if !f.before.IsZero() {
		parts = append(parts, "until "+f.before.Format(day))
	}
	return "modified(" + strings.Join(parts, ", ") + ")"
}

// RegexFilter matches object keys against a compiled regexp.
type RegexFilter struct {
	re *regexp.Regexp
}

// NewRegexFilter compiles the pattern. Returns nil for an empty pattern.
func NewRegexFilter(pattern string) (*RegexFilter, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRegex, err)
	}
	return &RegexFilter{re: re}, nil
}

func (f *RegexFilter) Match(obj remotestore.Object) bool {
	return f.re.MatchString(obj.Key)
}

func (f *RegexFilter) String() string {
	return "key(" + f.re.String() + ")"
}

// CompositeFilter combines filters with AND semantics.
type CompositeFilter struct {
	filters []Filter
}

// NewFilterFromConfig builds a CompositeFilter from config. Returns nil
// when nothing is configured.
func NewFilterFromConfig(cfg *FilterConfig) (*CompositeFilter, error) {
	if cfg == nil {
		return nil, nil
	}

	build := []func() (Filter, error){
		func() (Filter, error) {
			f, err := NewSizeFilter(cfg.MinSize, cfg.MaxSize)
			if f == nil {
				return nil, err
			}
			return f, err
		},
		func() (Filter, error) {
			f, err := NewDateFilter(cfg.After, cfg.Before)
			if f == nil {
				return nil, err
			}
			return f, err
		},
		func() (Filter, error) {
			f, err := NewRegexFilter(cfg.KeyRegex)
			if f == nil {
				return nil, err
			}
			return f, err
		},
	}

	var filters []Filter
	for _, mk := range build {
		f, err := mk()
		if err != nil {
			return nil, err
		}
		if f != nil {
			filters = append(filters, f)
		}
	}
	if len(filters) == 0 {
		return nil, nil
	}
	return &CompositeFilter{filters: filters}, nil
}

func (f *CompositeFilter) Match(obj remotestore.Object) bool {
	for _, sub := range f.filters {
		if !sub.Match(obj) {
			return false
		}
	}
	return true
}

func (f *CompositeFilter) String() string {
	descs := make([]string, len(f.filters))
	for i, sub := range f.filters {
		descs[i] = sub.String()
	}
	return strings.Join(descs, " and ")
}

// sizeUnits maps unit suffixes to byte multipliers. KB/MB/GB are base-10,
// KiB/MiB/GiB base-2; bare numbers and "B" are bytes.
var sizeUnits = map[string]int64{
	"":    1,
	"B":   1,
	"K":   1000,
	"KB":  1000,
	"M":   1000 * 1000,
	"MB":  1000 * 1000,
	"G":   1000 * 1000 * 1000,
	"GB":  1000 * 1000 * 1000,
	"KI":  1 << 10,
	"KIB": 1 << 10,
	"MI":  1 << 20,
	"MIB": 1 << 20,
	"GI":  1 << 30,
	"GIB": 1 << 30,
}

// ParseSize parses a human-readable size: raw bytes ("1024"), SI ("100MB"),
// or IEC ("100MiB"). Case insensitive. Negative values are rejected.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)

	digits := len(s)
	for i, c := range s {
		if c < '0' || c > '9' {
			digits = i
			break
		}
	}
	if digits == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	n, err := strconv.ParseInt(s[:digits], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}

	unit := strings.ToUpper(strings.TrimSpace(s[digits:]))
	mult, ok := sizeUnits[unit]
	if !ok {
		return 0, fmt.Errorf("%w: unknown unit in %q", ErrInvalidSize, s)
	}
	if mult > 1 && n > (1<<62)/mult {
		return 0, fmt.Errorf("%w: %q overflows", ErrInvalidSize, s)
	}
	return n * mult, nil
}

// FormatSize renders bytes as a short base-2 string for display.
func FormatSize(bytes int64) string {
	steps := []struct {
		limit int64
		unit  string
	}{
		{1 << 30, "GiB"},
		{1 << 20, "MiB"},
		{1 << 10, "KiB"},
	}
	for _, s := range steps {
		if bytes >= s.limit {
			return strconv.FormatFloat(float64(bytes)/float64(s.limit), 'f', 1, 64) + s.unit
		}
	}
	return strconv.FormatInt(bytes, 10) + "B"
}

// ParseDate parses an ISO 8601 date ("2026-01-15") or datetime
// ("2026-01-15T10:30:00Z"), normalized to UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
}
