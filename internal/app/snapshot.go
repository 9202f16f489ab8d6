package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hylla/datetrack/internal/domain"
)

// FieldValue is one set tracked date cell with its companion values.
type FieldValue struct {
	Field       domain.TrackedField
	Phase       int
	Value       domain.CellValue
	User        string
	Marketplace string
}

// GroupSnapshot is the current remote view of one entity group.
type GroupSnapshot struct {
	Group          GroupSource
	Rows           int
	Values         []FieldValue
	MissingColumns []string
	Attempts       int
}

// Lookup returns the snapshot value for a field.
func (s GroupSnapshot) Lookup(field domain.TrackedField) (FieldValue, bool) {
	for _, v := range s.Values {
		if v.Field == field {
			return v, true
		}
	}
	return FieldValue{}, false
}

// resolvedField is a phase field whose date column exists in the sheet.
type resolvedField struct {
	PhaseField
	dateColumnID int64
	userColumnID int64
	hasUser      bool
}

// FetchAllTrackedValues reads one sheet and collects every set tracked date cell.
// Missing date columns are reported and skipped.
func (t *Tracker) FetchAllTrackedValues(ctx context.Context, group GroupSource) (GroupSnapshot, error) {
	sheet, attempts, err := t.fetchSheet(ctx, group)
	if err != nil {
		return GroupSnapshot{Group: group, Attempts: attempts}, err
	}
	snap := GroupSnapshot{Group: group, Rows: len(sheet.Rows), Attempts: attempts}
	fields, missing := t.resolveFields(group, sheet)
	snap.MissingColumns = missing

	titles := sheet.ColumnIDsByTitle()
	marketplaceID, hasMarketplace := titles[t.cfg.MarketplaceColumn]
	hasMarketplace = hasMarketplace && t.cfg.MarketplaceColumn != ""

	for _, row := range sheet.Rows {
		marketplace := ""
		if hasMarketplace {
			if cell, ok := row.Cell(marketplaceID); ok {
				marketplace = strings.TrimSpace(cell.DisplayValue)
			}
		}
		for _, f := range fields {
			cell, ok := row.Cell(f.dateColumnID)
			if !ok || cell.Value.IsAbsent() {
				continue
			}
			field, err := domain.NewTrackedField(group.Name, row.ID, f.DateColumn)
			if err != nil {
				t.log.Warn("skipping row with invalid identity", "group", group.Name, "row_id", row.ID, "field", f.DateColumn, "err", err)
				continue
			}
			user := ""
			if f.hasUser {
				if userCell, ok := row.Cell(f.userColumnID); ok {
					user = strings.TrimSpace(userCell.DisplayValue)
				}
			}
			snap.Values = append(snap.Values, FieldValue{
				Field:       field,
				Phase:       f.Phase,
				Value:       cell.Value,
				User:        user,
				Marketplace: marketplace,
			})
		}
	}
	return snap, nil
}

// FetchFieldValue reads the current value of a single tracked field.
// The boolean is false when the column, row, or cell is absent.
func (t *Tracker) FetchFieldValue(ctx context.Context, group GroupSource, rowID int64, fieldName string) (domain.CellValue, bool, error) {
	sheet, _, err := t.fetchSheet(ctx, group)
	if err != nil {
		return domain.CellValue{}, false, err
	}
	columnID, ok := sheet.ColumnIDsByTitle()[fieldName]
	if !ok {
		t.log.Warn("tracked date column not in sheet", "group", group.Name, "column", fieldName)
		return domain.CellValue{}, false, nil
	}
	row, ok := sheet.FindRow(rowID)
	if !ok {
		return domain.CellValue{}, false, nil
	}
	cell, ok := row.Cell(columnID)
	if !ok || cell.Value.IsAbsent() {
		return domain.CellValue{}, false, nil
	}
	return cell.Value, true, nil
}

// fetchSheet reads a group sheet under the retry policy.
func (t *Tracker) fetchSheet(ctx context.Context, group GroupSource) (domain.Sheet, int, error) {
	var sheet domain.Sheet
	res, err := t.cfg.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		got, err := t.source.GetSheet(ctx, group.SheetID)
		if err != nil {
			if attempt < t.cfg.Retry.MaxAttempts && !errors.Is(err, context.Canceled) {
				t.log.Warn("sheet fetch failed, retrying", "group", group.Name, "sheet_id", group.SheetID, "attempt", attempt, "err", err)
			}
			return err
		}
		sheet = got
		return nil
	})
	if err != nil {
		return domain.Sheet{}, res.Attempts, fmt.Errorf("fetch sheet %s (%d): %w", group.Name, group.SheetID, err)
	}
	return sheet, res.Attempts, nil
}

// resolveFields matches configured phase fields against the sheet's column titles.
func (t *Tracker) resolveFields(group GroupSource, sheet domain.Sheet) ([]resolvedField, []string) {
	titles := sheet.ColumnIDsByTitle()
	fields := make([]resolvedField, 0, len(t.cfg.PhaseFields))
	var missing []string
	for _, pf := range t.cfg.PhaseFields {
		dateID, ok := titles[pf.DateColumn]
		if !ok {
			missing = append(missing, pf.DateColumn)
			t.log.Warn("tracked date column not in sheet", "group", group.Name, "column", pf.DateColumn)
			continue
		}
		rf := resolvedField{PhaseField: pf, dateColumnID: dateID}
		if pf.UserColumn != "" {
			if userID, ok := titles[pf.UserColumn]; ok {
				rf.userColumnID = userID
				rf.hasUser = true
			} else {
				missing = append(missing, pf.UserColumn)
				t.log.Warn("user column not in sheet", "group", group.Name, "column", pf.UserColumn)
			}
		}
		fields = append(fields, rf)
	}
	return fields, missing
}
