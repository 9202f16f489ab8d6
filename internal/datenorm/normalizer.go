package datenorm

import (
	"errors"
	"strings"
	"time"
	"unicode"

	"cloud.google.com/go/civil"
	"github.com/hylla/datetrack/internal/domain"
)

// ErrNoLayouts reports an explicitly empty layout list.
var ErrNoLayouts = errors.New("date layouts are required")

// defaultLayouts lists accepted text layouts in priority order.
var defaultLayouts = []string{
	"2006-1-2T15:04:05",
	"2006-1-2",
	"2.1.2006",
	"1/2/2006",
	"2006/1/2",
	"2.1.06",
}

// isoFallbackLayouts covers ISO-8601 forms with time, fraction, or zone suffixes.
var isoFallbackLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// DefaultLayouts returns a copy of the default layout priority list.
func DefaultLayouts() []string {
	return append([]string(nil), defaultLayouts...)
}

// Normalizer converts heterogeneous date representations to calendar dates.
type Normalizer struct {
	layouts []string
}

// New constructs a normalizer. A nil layout list selects the defaults.
func New(layouts []string) (Normalizer, error) {
	if layouts == nil {
		return Normalizer{layouts: DefaultLayouts()}, nil
	}
	out := make([]string, 0, len(layouts))
	for _, layout := range layouts {
		layout = strings.TrimSpace(layout)
		if layout == "" {
			continue
		}
		out = append(out, layout)
	}
	if len(out) == 0 {
		return Normalizer{}, ErrNoLayouts
	}
	return Normalizer{layouts: out}, nil
}

// Default returns a normalizer with the default layouts.
func Default() Normalizer {
	return Normalizer{layouts: DefaultLayouts()}
}

// Layouts returns the configured layouts in priority order.
func (n Normalizer) Layouts() []string {
	return append([]string(nil), n.layouts...)
}

// Normalize extracts a calendar date from a cell value.
func (n Normalizer) Normalize(v domain.CellValue) (civil.Date, bool) {
	switch v.Kind {
	case domain.ValueNativeDate:
		if v.Time.IsZero() {
			return civil.Date{}, false
		}
		return civil.DateOf(v.Time), true
	case domain.ValueISOString, domain.ValueText:
		return n.ParseText(v.Text)
	default:
		return civil.Date{}, false
	}
}

// ParseText parses a textual date after trimming and trailing-noise cleanup.
func (n Normalizer) ParseText(raw string) (civil.Date, bool) {
	s := cleanText(raw)
	if s == "" {
		return civil.Date{}, false
	}
	layouts := n.layouts
	if layouts == nil {
		layouts = defaultLayouts
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return civil.DateOf(t), true
		}
	}
	for _, layout := range isoFallbackLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return civil.DateOf(t), true
		}
	}
	return civil.Date{}, false
}

// ForComparison returns the canonical comparison key for a cell value.
// Parseable values yield YYYY-MM-DD; others fall back to their trimmed text.
// The boolean is false only when the value is absent.
func (n Normalizer) ForComparison(v domain.CellValue) (string, bool) {
	if v.IsAbsent() {
		return "", false
	}
	if d, ok := n.Normalize(v); ok {
		return d.String(), true
	}
	return strings.TrimSpace(v.Raw()), true
}

// StoredForComparison canonicalizes a previously persisted value.
func (n Normalizer) StoredForComparison(stored string) (string, bool) {
	return n.ForComparison(domain.TextValue(stored))
}

// cleanText trims whitespace and strips trailing letters when the text does not end in a digit.
func cleanText(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	runes := []rune(s)
	if unicode.IsDigit(runes[len(runes)-1]) {
		return s
	}
	end := len(runes)
	for end > 0 && unicode.IsLetter(runes[end-1]) {
		end--
	}
	return strings.TrimSpace(string(runes[:end]))
}
