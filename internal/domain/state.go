package domain

import (
	"sort"
	"time"
)

// TimestampLayout formats run timestamps in the state file and the ledger.
const TimestampLayout = "2006-01-02 15:04:05"

// State holds the last-seen normalized value for every tracked field plus the last run time.
type State struct {
	LastRun   *time.Time
	Processed map[TrackedField]string
}

// NewState returns an empty state.
func NewState() State {
	return State{Processed: map[TrackedField]string{}}
}

// Get returns the stored value for a field.
func (s State) Get(field TrackedField) (string, bool) {
	if s.Processed == nil {
		return "", false
	}
	v, ok := s.Processed[field]
	return v, ok
}

// Set stores the normalized value for a field.
func (s *State) Set(field TrackedField, value string) {
	if s.Processed == nil {
		s.Processed = map[TrackedField]string{}
	}
	s.Processed[field] = value
}

// Len returns the number of processed entries.
func (s State) Len() int {
	return len(s.Processed)
}

// MarkRun records the run start time.
func (s *State) MarkRun(at time.Time) {
	ts := at.Truncate(time.Second)
	s.LastRun = &ts
}

// Clone returns a deep copy safe to mutate independently.
func (s State) Clone() State {
	out := NewState()
	if s.LastRun != nil {
		ts := *s.LastRun
		out.LastRun = &ts
	}
	for k, v := range s.Processed {
		out.Processed[k] = v
	}
	return out
}

// SortedFields returns processed fields ordered by group, row, and field name.
func (s State) SortedFields() []TrackedField {
	fields := make([]TrackedField, 0, len(s.Processed))
	for f := range s.Processed {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool {
		a, b := fields[i], fields[j]
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		if a.RowID != b.RowID {
			return a.RowID < b.RowID
		}
		return a.FieldName < b.FieldName
	})
	return fields
}
