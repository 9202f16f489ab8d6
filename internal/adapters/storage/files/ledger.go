package files

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/hylla/datetrack/internal/app"
	"github.com/hylla/datetrack/internal/domain"
)

// DefaultLedgerFile is the ledger file name inside the data directory.
const DefaultLedgerFile = "change_history.csv"

// Ledger is the append-only CSV change history.
type Ledger struct {
	path string
	loc  *time.Location
}

// NewLedger constructs a CSV ledger. Timestamps are written and read in loc (local when nil).
func NewLedger(path string, loc *time.Location) (*Ledger, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("ledger path is required")
	}
	if loc == nil {
		loc = time.Local
	}
	return &Ledger{path: path, loc: loc}, nil
}

// Path returns the ledger file path.
func (l *Ledger) Path() string {
	return l.path
}

// EnsureInitialized creates the ledger with its header when absent or empty.
func (l *Ledger) EnsureInitialized(_ context.Context) error {
	info, err := os.Stat(l.path)
	switch {
	case err == nil && info.Size() > 0:
		return nil
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("stat ledger: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	return writeFileAtomic(l.path, headerBytes(), 0o644)
}

// Append writes records in one write call. Existing rows are never touched.
func (l *Ledger) Append(_ context.Context, records []domain.ChangeRecord) error {
	if len(records) == 0 {
		return nil
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, r := range records {
		if err := w.Write(l.encode(r)); err != nil {
			return fmt.Errorf("encode ledger row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode ledger rows: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return fmt.Errorf("append ledger: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync ledger: %w", err)
	}
	return f.Close()
}

// Truncate replaces the ledger with just its header.
func (l *Ledger) Truncate(_ context.Context) error {
	return writeFileAtomic(l.path, headerBytes(), 0o644)
}

// Records reads the ledger by header name and returns matching rows in file order.
// Rows that cannot be parsed are skipped.
func (l *Ledger) Records(_ context.Context, filter domain.RecordFilter) ([]domain.ChangeRecord, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, app.ErrLedgerMissing
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()
	return l.decode(f, filter)
}

// decode parses CSV rows from r.
func (l *Ledger) decode(r io.Reader, filter domain.RecordFilter) ([]domain.ChangeRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if _, ok := index[name]; !ok {
			index[name] = i
		}
	}

	var out []domain.ChangeRecord
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				continue
			}
			return nil, fmt.Errorf("read ledger: %w", err)
		}
		rec, ok := l.parseRow(index, row)
		if !ok || !filter.Matches(rec) {
			continue
		}
		out = append(out, rec)
	}
	return filter.Tail(out), nil
}

// parseRow maps one CSV row onto a record using the header index.
func (l *Ledger) parseRow(index map[string]int, row []string) (domain.ChangeRecord, bool) {
	get := func(name string) string {
		i, ok := index[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	var rec domain.ChangeRecord
	date, err := civil.ParseDate(get(domain.ColumnDate))
	if err != nil {
		return rec, false
	}
	rowID, err := strconv.ParseInt(get(domain.ColumnRowID), 10, 64)
	if err != nil {
		return rec, false
	}
	phase := domain.UnmappedPhase
	if raw := get(domain.ColumnPhase); raw != "" {
		if phase, err = strconv.Atoi(raw); err != nil {
			return rec, false
		}
	}
	if ts := get(domain.ColumnTimestamp); ts != "" {
		if at, err := time.ParseInLocation(domain.TimestampLayout, ts, l.loc); err == nil {
			rec.DetectedAt = at
		}
	}
	rec.Group = get(domain.ColumnGroup)
	rec.RowID = rowID
	rec.Phase = phase
	rec.DateField = get(domain.ColumnDateField)
	rec.Date = date
	rec.User = get(domain.ColumnUser)
	rec.Marketplace = get(domain.ColumnMarketplace)
	return rec, true
}

// encode renders a record in header order.
func (l *Ledger) encode(r domain.ChangeRecord) []string {
	return []string{
		r.DetectedAt.In(l.loc).Format(domain.TimestampLayout),
		r.Group,
		strconv.FormatInt(r.RowID, 10),
		strconv.Itoa(r.Phase),
		r.DateField,
		r.Date.String(),
		r.User,
		r.Marketplace,
	}
}

// headerBytes renders the canonical header line.
func headerBytes() []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(domain.LedgerHeader())
	w.Flush()
	return buf.Bytes()
}
