package domain

import (
	"time"

	"cloud.google.com/go/civil"
)

// Ledger column names in their fixed on-disk order.
const (
	ColumnTimestamp   = "Timestamp"
	ColumnGroup       = "Group"
	ColumnRowID       = "RowID"
	ColumnPhase       = "Phase"
	ColumnDateField   = "DateField"
	ColumnDate        = "Date"
	ColumnUser        = "User"
	ColumnMarketplace = "Marketplace"
)

// LedgerHeader returns the canonical ledger header row.
func LedgerHeader() []string {
	return []string{
		ColumnTimestamp,
		ColumnGroup,
		ColumnRowID,
		ColumnPhase,
		ColumnDateField,
		ColumnDate,
		ColumnUser,
		ColumnMarketplace,
	}
}

// UnmappedPhase is recorded for date fields that have no configured phase number.
const UnmappedPhase = 0

// ChangeRecord represents one detected phase-date change in the append-only ledger.
type ChangeRecord struct {
	DetectedAt  time.Time
	Group       string
	RowID       int64
	Phase       int
	DateField   string
	Date        civil.Date
	User        string
	Marketplace string
}

// Field returns the tracked field identity the record belongs to.
func (r ChangeRecord) Field() TrackedField {
	return TrackedField{Group: r.Group, RowID: r.RowID, FieldName: r.DateField}
}

// RecordFilter narrows ledger reads. Zero values match everything.
type RecordFilter struct {
	From   civil.Date
	To     civil.Date
	Groups []string
	Phase  int
	User   string
	Limit  int
}

// Matches reports whether a record passes the filter.
func (f RecordFilter) Matches(r ChangeRecord) bool {
	if f.From.IsValid() && r.Date.Before(f.From) {
		return false
	}
	if f.To.IsValid() && r.Date.After(f.To) {
		return false
	}
	if len(f.Groups) > 0 {
		found := false
		for _, g := range f.Groups {
			if g == r.Group {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Phase > 0 && r.Phase != f.Phase {
		return false
	}
	if f.User != "" && r.User != f.User {
		return false
	}
	return true
}

// Tail keeps the last Limit records when a limit is set.
func (f RecordFilter) Tail(records []ChangeRecord) []ChangeRecord {
	if f.Limit <= 0 || len(records) <= f.Limit {
		return records
	}
	return records[len(records)-f.Limit:]
}
