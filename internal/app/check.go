package app

import (
	"context"
	"fmt"
	"sort"

	"github.com/hylla/datetrack/internal/domain"
	"github.com/pmezard/go-difflib/difflib"
)

// DiffKind classifies one stored-versus-remote difference.
type DiffKind string

// DiffChanged and related constants name difference kinds.
const (
	DiffChanged DiffKind = "changed"
	DiffNew     DiffKind = "new"
	DiffCleared DiffKind = "cleared"
)

// FieldDiff is one field whose stored and current normalized values disagree.
type FieldDiff struct {
	Field   domain.TrackedField
	Kind    DiffKind
	Stored  string
	Current string
}

// CheckReport compares the persisted state with the remote sheets without mutating either.
type CheckReport struct {
	Compared    int
	Differences []FieldDiff
	Errors      []GroupError
	stored      map[domain.TrackedField]string
	current     map[domain.TrackedField]string
}

// Check compares stored values against the current remote snapshot.
// With groups empty every configured group is checked.
func (t *Tracker) Check(ctx context.Context, groups ...string) (CheckReport, error) {
	selected := t.cfg.Groups
	if len(groups) > 0 {
		selected = make([]GroupSource, 0, len(groups))
		for _, name := range groups {
			g, err := t.cfg.Group(name)
			if err != nil {
				return CheckReport{}, err
			}
			selected = append(selected, g)
		}
	}

	state := t.loadState(ctx)
	report := CheckReport{stored: map[domain.TrackedField]string{}, current: map[domain.TrackedField]string{}}
	for _, group := range selected {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		snap, err := t.FetchAllTrackedValues(ctx, group)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, ctxErr
			}
			report.Errors = append(report.Errors, GroupError{Group: group.Name, SheetID: group.SheetID, Err: err})
			continue
		}
		for field, raw := range state.Processed {
			if field.Group != group.Name {
				continue
			}
			if stored, ok := t.norm.StoredForComparison(raw); ok {
				report.stored[field] = stored
			}
		}
		for _, v := range snap.Values {
			if current, ok := t.norm.ForComparison(v.Value); ok {
				report.current[v.Field] = current
			}
		}
	}
	report.Differences = diffValues(report.stored, report.current)
	report.Compared = len(report.current)
	return report, nil
}

// diffValues lists fields whose stored and current values disagree, sorted by key order.
func diffValues(stored, current map[domain.TrackedField]string) []FieldDiff {
	var out []FieldDiff
	for field, cur := range current {
		prev, ok := stored[field]
		switch {
		case !ok:
			out = append(out, FieldDiff{Field: field, Kind: DiffNew, Current: cur})
		case prev != cur:
			out = append(out, FieldDiff{Field: field, Kind: DiffChanged, Stored: prev, Current: cur})
		}
	}
	for field, prev := range stored {
		if _, ok := current[field]; !ok {
			out = append(out, FieldDiff{Field: field, Kind: DiffCleared, Stored: prev})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return fieldLess(out[i].Field, out[j].Field)
	})
	return out
}

// UnifiedDiff renders stored versus current values as a unified diff.
func (r CheckReport) UnifiedDiff() (string, error) {
	diff := difflib.UnifiedDiff{
		A:        renderValues(r.stored),
		B:        renderValues(r.current),
		FromFile: "state",
		ToFile:   "remote",
		Context:  0,
	}
	out, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return "", fmt.Errorf("render diff: %w", err)
	}
	return out, nil
}

// renderValues formats values as sorted "key = value" lines.
func renderValues(values map[domain.TrackedField]string) []string {
	fields := make([]domain.TrackedField, 0, len(values))
	for f := range values {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fieldLess(fields[i], fields[j]) })
	lines := make([]string, 0, len(fields))
	for _, f := range fields {
		lines = append(lines, f.Key()+" = "+values[f]+"\n")
	}
	return lines
}

// fieldLess orders fields by group, row, and field name.
func fieldLess(a, b domain.TrackedField) bool {
	if a.Group != b.Group {
		return a.Group < b.Group
	}
	if a.RowID != b.RowID {
		return a.RowID < b.RowID
	}
	return a.FieldName < b.FieldName
}
