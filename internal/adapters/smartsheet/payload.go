package smartsheet

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/hylla/datetrack/internal/domain"
)

// Column types whose values Smartsheet serializes as dates.
const (
	columnTypeDate             = "DATE"
	columnTypeDateTime         = "DATETIME"
	columnTypeAbstractDateTime = "ABSTRACT_DATETIME"
)

// sheetPayload mirrors the subset of the sheet resource the tracker reads.
type sheetPayload struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	TotalRowCount int             `json:"totalRowCount"`
	Columns       []columnPayload `json:"columns"`
	Rows          []rowPayload    `json:"rows"`
}

type columnPayload struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

type rowPayload struct {
	ID    int64         `json:"id"`
	Cells []cellPayload `json:"cells"`
}

type cellPayload struct {
	ColumnID     int64           `json:"columnId"`
	Value        json.RawMessage `json:"value"`
	DisplayValue string          `json:"displayValue"`
}

// toDomain converts the payload, tagging date-typed cells as native dates.
func (p sheetPayload) toDomain() domain.Sheet {
	types := make(map[int64]string, len(p.Columns))
	sheet := domain.Sheet{
		ID:       p.ID,
		Name:     p.Name,
		TotalRow: p.TotalRowCount,
		Columns:  make([]domain.SheetColumn, 0, len(p.Columns)),
		Rows:     make([]domain.SheetRow, 0, len(p.Rows)),
	}
	for _, col := range p.Columns {
		types[col.ID] = col.Type
		sheet.Columns = append(sheet.Columns, domain.SheetColumn{ID: col.ID, Title: col.Title, Type: col.Type})
	}
	for _, row := range p.Rows {
		out := domain.SheetRow{ID: row.ID, Cells: make([]domain.SheetCell, 0, len(row.Cells))}
		for _, cell := range row.Cells {
			out.Cells = append(out.Cells, domain.SheetCell{
				ColumnID:     cell.ColumnID,
				Value:        decodeCellValue(cell.Value, types[cell.ColumnID]),
				DisplayValue: cell.DisplayValue,
			})
		}
		sheet.Rows = append(sheet.Rows, out)
	}
	return sheet
}

// decodeCellValue turns a raw JSON cell value into a tagged domain value.
func decodeCellValue(raw json.RawMessage, columnType string) domain.CellValue {
	if len(raw) == 0 || string(raw) == "null" {
		return domain.Absent()
	}
	var v any
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return domain.TextValue(string(raw))
	}
	switch typed := v.(type) {
	case string:
		if isDateColumn(columnType) {
			if t, ok := parseNativeDate(typed); ok {
				return domain.NativeDate(t)
			}
		}
		return domain.TextValue(typed)
	case json.Number:
		return domain.TextValue(typed.String())
	case bool:
		if typed {
			return domain.TextValue("true")
		}
		return domain.TextValue("false")
	default:
		return domain.TextValue(string(raw))
	}
}

// isDateColumn reports whether the column type carries native dates.
func isDateColumn(columnType string) bool {
	switch strings.ToUpper(strings.TrimSpace(columnType)) {
	case columnTypeDate, columnTypeDateTime, columnTypeAbstractDateTime:
		return true
	default:
		return false
	}
}

// parseNativeDate parses the wire forms Smartsheet uses for date-typed cells.
func parseNativeDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02", time.RFC3339Nano, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
