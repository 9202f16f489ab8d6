package domain

import (
	"strings"
	"time"
)

// ValueKind tags which representation a remote cell value arrived in.
type ValueKind int

// ValueKind values accepted at the remote boundary.
const (
	ValueAbsent ValueKind = iota
	ValueNativeDate
	ValueISOString
	ValueText
)

// String returns a stable label for logs.
func (k ValueKind) String() string {
	switch k {
	case ValueNativeDate:
		return "native_date"
	case ValueISOString:
		return "iso_string"
	case ValueText:
		return "text"
	default:
		return "absent"
	}
}

// CellValue is one raw cell value from the remote source.
type CellValue struct {
	Kind ValueKind
	Time time.Time
	Text string
}

// Absent returns the empty cell value.
func Absent() CellValue {
	return CellValue{}
}

// NativeDate wraps a value the remote already decoded as a date or datetime.
func NativeDate(t time.Time) CellValue {
	if t.IsZero() {
		return CellValue{}
	}
	return CellValue{Kind: ValueNativeDate, Time: t}
}

// TextValue wraps a string value, tagging ISO-looking strings separately from locale text.
func TextValue(s string) CellValue {
	if strings.TrimSpace(s) == "" {
		return CellValue{}
	}
	if looksISO(strings.TrimSpace(s)) {
		return CellValue{Kind: ValueISOString, Text: s}
	}
	return CellValue{Kind: ValueText, Text: s}
}

// IsAbsent reports whether the cell carries no usable value.
func (v CellValue) IsAbsent() bool {
	switch v.Kind {
	case ValueNativeDate:
		return v.Time.IsZero()
	case ValueISOString, ValueText:
		return strings.TrimSpace(v.Text) == ""
	default:
		return true
	}
}

// Raw returns the value as text, the way it would be shown or persisted verbatim.
func (v CellValue) Raw() string {
	switch v.Kind {
	case ValueNativeDate:
		return v.Time.Format(time.RFC3339)
	case ValueISOString, ValueText:
		return v.Text
	default:
		return ""
	}
}

// looksISO reports whether s starts with a yyyy-mm-dd prefix.
func looksISO(s string) bool {
	if len(s) < 10 {
		return false
	}
	for i := 0; i < 10; i++ {
		c := s[i]
		switch i {
		case 4, 7:
			if c != '-' {
				return false
			}
		default:
			if c < '0' || c > '9' {
				return false
			}
		}
	}
	return true
}
