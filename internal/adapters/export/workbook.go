package export

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hylla/datetrack/internal/app"
	"github.com/hylla/datetrack/internal/domain"
	"github.com/xuri/excelize/v2"
)

// Sheet names written by WriteWorkbook.
const (
	SheetChanges = "Changes"
	SheetSummary = "Summary"
	SheetUsers   = "Users"
	SheetGroups  = "Groups"
	SheetPhases  = "Phases"
	SheetMarkets = "Marketplaces"
)

// Workbook holds the data written to one xlsx export.
type Workbook struct {
	Records     []domain.ChangeRecord
	Stats       app.Stats
	GeneratedAt time.Time
	Location    *time.Location
}

// WriteWorkbook renders the ledger rows and period stats as xlsx into w.
func WriteWorkbook(w io.Writer, wb Workbook) error {
	f, err := build(wb)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

// SaveWorkbook writes the workbook to path, creating parent directories.
func SaveWorkbook(path string, wb Workbook) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("export path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	f, err := build(wb)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save xlsx %s: %w", path, err)
	}
	return nil
}

// build assembles every sheet.
func build(wb Workbook) (*excelize.File, error) {
	loc := wb.Location
	if loc == nil {
		loc = time.Local
	}
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetChanges); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("create header style: %w", err)
	}

	rows := make([][]any, 0, len(wb.Records)+1)
	rows = append(rows, toAny(domain.LedgerHeader()))
	for _, r := range wb.Records {
		rows = append(rows, []any{
			r.DetectedAt.In(loc).Format(domain.TimestampLayout),
			r.Group,
			r.RowID,
			r.Phase,
			r.DateField,
			r.Date.String(),
			r.User,
			r.Marketplace,
		})
	}
	if err := writeRows(f, SheetChanges, rows, header); err != nil {
		_ = f.Close()
		return nil, err
	}

	generated := wb.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}
	summary := [][]any{
		{"Metric", "Value"},
		{"Period", wb.Stats.Period.Label},
		{"From", wb.Stats.Period.From.String()},
		{"To", wb.Stats.Period.To.String()},
		{"Total changes", wb.Stats.Total},
		{"Active users", wb.Stats.ActiveUsers},
		{"Active groups", wb.Stats.ActiveGroups},
		{"Generated", generated.In(loc).Format(domain.TimestampLayout)},
	}
	for _, sheet := range []struct {
		name string
		rows [][]any
	}{
		{SheetSummary, summary},
		{SheetUsers, countRows("User", wb.Stats.ByUser)},
		{SheetGroups, countRows("Group", wb.Stats.ByGroup)},
		{SheetPhases, countRows("Phase", wb.Stats.ByPhase)},
		{SheetMarkets, countRows("Marketplace", wb.Stats.ByMarketplace)},
	} {
		if _, err := f.NewSheet(sheet.name); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("create sheet %s: %w", sheet.name, err)
		}
		if err := writeRows(f, sheet.name, sheet.rows, header); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	f.SetActiveSheet(0)
	return f, nil
}

// writeRows writes rows starting at A1 and bolds the first one.
func writeRows(f *excelize.File, sheet string, rows [][]any, headerStyle int) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	if len(rows) > 0 {
		if err := f.SetRowStyle(sheet, 1, 1, headerStyle); err != nil {
			return fmt.Errorf("style %s header: %w", sheet, err)
		}
	}
	return nil
}

// countRows renders tallies under a two-column header.
func countRows(label string, counts []app.Count) [][]any {
	rows := [][]any{{label, "Changes"}}
	for _, c := range counts {
		rows = append(rows, []any{c.Key, c.Count})
	}
	return rows
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
