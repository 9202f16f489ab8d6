package domain

// Sheet is the remote snapshot of one entity group: its columns and rows.
type Sheet struct {
	ID       int64
	Name     string
	Columns  []SheetColumn
	Rows     []SheetRow
	TotalRow int
}

// SheetColumn describes one remote column.
type SheetColumn struct {
	ID    int64
	Title string
	Type  string
}

// SheetRow is one remote row and its cells.
type SheetRow struct {
	ID    int64
	Cells []SheetCell
}

// SheetCell holds a raw value plus the display form the remote renders for it.
type SheetCell struct {
	ColumnID     int64
	Value        CellValue
	DisplayValue string
}

// ColumnIDsByTitle maps column titles to ids. Duplicate titles keep the first column.
func (s Sheet) ColumnIDsByTitle() map[string]int64 {
	out := make(map[string]int64, len(s.Columns))
	for _, col := range s.Columns {
		if _, ok := out[col.Title]; ok {
			continue
		}
		out[col.Title] = col.ID
	}
	return out
}

// FindRow returns the row with the given id.
func (s Sheet) FindRow(rowID int64) (SheetRow, bool) {
	for _, row := range s.Rows {
		if row.ID == rowID {
			return row, true
		}
	}
	return SheetRow{}, false
}

// Cell returns the cell for a column id.
func (r SheetRow) Cell(columnID int64) (SheetCell, bool) {
	for _, cell := range r.Cells {
		if cell.ColumnID == columnID {
			return cell, true
		}
	}
	return SheetCell{}, false
}
