package datenorm

import (
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/hylla/datetrack/internal/domain"
)

func TestForComparisonIsRepresentationInsensitive(t *testing.T) {
	n := Default()
	want := "2025-03-01"
	berlin := time.FixedZone("CET", 3600)
	cases := []struct {
		name  string
		value domain.CellValue
	}{
		{name: "native date", value: domain.NativeDate(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))},
		{name: "native datetime with zone", value: domain.NativeDate(time.Date(2025, 3, 1, 23, 30, 0, 0, berlin))},
		{name: "iso date", value: domain.TextValue("2025-03-01")},
		{name: "german date", value: domain.TextValue("01.03.2025")},
		{name: "iso datetime", value: domain.TextValue("2025-03-01T10:15:00")},
		{name: "iso datetime with offset", value: domain.TextValue("2025-03-01T10:15:00+02:00")},
		{name: "iso datetime with fraction", value: domain.TextValue("2025-03-01T10:15:00.250")},
		{name: "padded whitespace", value: domain.TextValue("  2025-03-01  ")},
		{name: "trailing noise", value: domain.TextValue("2025-03-01x")},
		{name: "us date", value: domain.TextValue("03/01/2025")},
		{name: "slashed iso", value: domain.TextValue("2025/03/01")},
		{name: "two digit year", value: domain.TextValue("01.03.25")},
		{name: "unpadded german", value: domain.TextValue("1.3.2025")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := n.ForComparison(tc.value)
			if !ok {
				t.Fatalf("ForComparison(%#v) returned absent", tc.value)
			}
			if got != want {
				t.Fatalf("ForComparison(%#v) = %q, want %q", tc.value, got, want)
			}
			again, _ := n.StoredForComparison(got)
			if again != got {
				t.Fatalf("StoredForComparison(%q) = %q, want idempotent", got, again)
			}
		})
	}
}

func TestAmbiguousSlashDateFollowsLayoutPriority(t *testing.T) {
	d, ok := Default().ParseText("01/02/2025")
	if !ok {
		t.Fatal("expected 01/02/2025 to parse")
	}
	if d != (civil.Date{Year: 2025, Month: time.January, Day: 2}) {
		t.Fatalf("unexpected date %s", d)
	}

	dayFirst, err := New([]string{"2/1/2006"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	d, ok = dayFirst.ParseText("01/02/2025")
	if !ok || d != (civil.Date{Year: 2025, Month: time.February, Day: 1}) {
		t.Fatalf("expected day-first layout to win, got %s ok=%t", d, ok)
	}
}

func TestUnparseableFallsBackToTrimmedText(t *testing.T) {
	n := Default()
	if _, ok := n.Normalize(domain.TextValue("not-a-date")); ok {
		t.Fatal("expected not-a-date to be unparseable")
	}
	got, ok := n.ForComparison(domain.TextValue("  not-a-date "))
	if !ok || got != "not-a-date" {
		t.Fatalf("ForComparison() = %q ok=%t", got, ok)
	}
	if _, ok := n.ParseText("31.02.2025"); ok {
		t.Fatal("expected invalid calendar day to be rejected")
	}
}

func TestAbsentValues(t *testing.T) {
	n := Default()
	for _, v := range []domain.CellValue{domain.Absent(), domain.TextValue(""), domain.NativeDate(time.Time{})} {
		if _, ok := n.ForComparison(v); ok {
			t.Fatalf("expected %#v to be absent", v)
		}
		if _, ok := n.Normalize(v); ok {
			t.Fatalf("expected %#v to have no date", v)
		}
	}
}

func TestCleanTextStripsOnlyTrailingLetters(t *testing.T) {
	cases := map[string]string{
		"2025-10-23x":   "2025-10-23",
		"2025-10-23abc": "2025-10-23",
		"2025-10-23":    "2025-10-23",
		"23.10.2025 ":   "23.10.2025",
		"2025-10-23-":   "2025-10-23-",
		"abc":           "",
	}
	for in, want := range cases {
		if got := cleanText(in); got != want {
			t.Fatalf("cleanText(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewRejectsEmptyLayoutList(t *testing.T) {
	if _, err := New([]string{" ", ""}); !errors.Is(err, ErrNoLayouts) {
		t.Fatalf("expected ErrNoLayouts, got %v", err)
	}
	n, err := New(nil)
	if err != nil {
		t.Fatalf("New(nil) error = %v", err)
	}
	if len(n.Layouts()) != len(DefaultLayouts()) {
		t.Fatalf("expected default layouts, got %#v", n.Layouts())
	}
}
