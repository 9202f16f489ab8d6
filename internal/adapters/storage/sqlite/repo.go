package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"cloud.google.com/go/civil"
	"github.com/hylla/datetrack/internal/app"
	"github.com/hylla/datetrack/internal/domain"
	_ "modernc.org/sqlite"
)

// driverName defines a package constant value.
const driverName = "sqlite"

// memorySeq keeps in-memory databases opened by one process apart.
var memorySeq atomic.Int64

// Repository stores tracker state and the change ledger in one sqlite database.
type Repository struct {
	db *sql.DB
}

// Open opens the database at path, creating parent directories and tables as needed.
func Open(path string) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// OpenInMemory opens in memory.
func OpenInMemory() (*Repository, error) {
	dsn := fmt.Sprintf("file:datetrack-%d?mode=memory&cache=shared", memorySeq.Add(1))
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	db.SetMaxOpenConns(1)
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Close closes the underlying database.
func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// migrate creates tables and indexes when missing.
func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS state_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			last_run TEXT,
			saved_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS processed (
			group_name TEXT NOT NULL,
			row_id INTEGER NOT NULL,
			field_name TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (group_name, row_id, field_name)
		);`,
		`CREATE TABLE IF NOT EXISTS change_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			detected_at TEXT NOT NULL,
			group_name TEXT NOT NULL,
			row_id INTEGER NOT NULL,
			phase INTEGER NOT NULL DEFAULT 0,
			date_field TEXT NOT NULL,
			change_date TEXT NOT NULL,
			user_name TEXT NOT NULL DEFAULT '',
			marketplace TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_change_records_date ON change_records(change_date, id);`,
		`CREATE INDEX IF NOT EXISTS idx_change_records_group ON change_records(group_name, id);`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// Load returns the stored state. A database that was never saved yields app.ErrStateMissing.
func (r *Repository) Load(ctx context.Context) (domain.State, error) {
	state := domain.NewState()
	var lastRun sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT last_run FROM state_meta WHERE id = 1`).Scan(&lastRun)
	if errors.Is(err, sql.ErrNoRows) {
		return state, app.ErrStateMissing
	}
	if err != nil {
		return domain.NewState(), fmt.Errorf("%w: read state_meta: %v", app.ErrStateCorrupt, err)
	}
	state.LastRun = parseNullTS(lastRun)

	rows, err := r.db.QueryContext(ctx, `SELECT group_name, row_id, field_name, value FROM processed`)
	if err != nil {
		return domain.NewState(), fmt.Errorf("%w: read processed: %v", app.ErrStateCorrupt, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			field domain.TrackedField
			value string
		)
		if err := rows.Scan(&field.Group, &field.RowID, &field.FieldName, &value); err != nil {
			return domain.NewState(), fmt.Errorf("%w: scan processed: %v", app.ErrStateCorrupt, err)
		}
		state.Set(field, value)
	}
	if err := rows.Err(); err != nil {
		return domain.NewState(), fmt.Errorf("%w: read processed: %v", app.ErrStateCorrupt, err)
	}
	return state, nil
}

// Save replaces the stored state in one transaction.
func (r *Repository) Save(ctx context.Context, state domain.State) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save state: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM processed`); err != nil {
		return fmt.Errorf("clear processed: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO processed(group_name, row_id, field_name, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare processed insert: %w", err)
	}
	defer stmt.Close()
	for _, field := range state.SortedFields() {
		if _, err = stmt.ExecContext(ctx, field.Group, field.RowID, field.FieldName, state.Processed[field]); err != nil {
			return fmt.Errorf("insert processed %s: %w", field.Key(), err)
		}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO state_meta(id, last_run, saved_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_run = excluded.last_run, saved_at = excluded.saved_at
	`, nullableTS(state.LastRun), ts(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert state_meta: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save state: %w", err)
	}
	return nil
}

// EnsureInitialized verifies the ledger table is reachable.
func (r *Repository) EnsureInitialized(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return r.migrate(ctx)
}

// Append inserts records in one transaction so a batch lands entirely or not at all.
func (r *Repository) Append(ctx context.Context, records []domain.ChangeRecord) (err error) {
	if len(records) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, rec := range records {
		if err = insertChangeRecord(ctx, tx, rec); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// Truncate removes every ledger record.
func (r *Repository) Truncate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM change_records`); err != nil {
		return fmt.Errorf("truncate change_records: %w", err)
	}
	return nil
}

// Records returns matching records in insertion order.
func (r *Repository) Records(ctx context.Context, filter domain.RecordFilter) ([]domain.ChangeRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.From.IsValid() {
		where = append(where, "change_date >= ?")
		args = append(args, filter.From.String())
	}
	if filter.To.IsValid() {
		where = append(where, "change_date <= ?")
		args = append(args, filter.To.String())
	}
	if len(filter.Groups) > 0 {
		where = append(where, "group_name IN (?"+strings.Repeat(", ?", len(filter.Groups)-1)+")")
		for _, g := range filter.Groups {
			args = append(args, g)
		}
	}
	if filter.Phase > 0 {
		where = append(where, "phase = ?")
		args = append(args, filter.Phase)
	}
	if filter.User != "" {
		where = append(where, "user_name = ?")
		args = append(args, filter.User)
	}

	query := `SELECT detected_at, group_name, row_id, phase, date_field, change_date, user_name, marketplace FROM change_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query change_records: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ChangeRecord, 0)
	for rows.Next() {
		var (
			rec         domain.ChangeRecord
			detectedRaw string
			dateRaw     string
		)
		if err := rows.Scan(&detectedRaw, &rec.Group, &rec.RowID, &rec.Phase, &rec.DateField, &dateRaw, &rec.User, &rec.Marketplace); err != nil {
			return nil, fmt.Errorf("scan change_records: %w", err)
		}
		date, err := civil.ParseDate(dateRaw)
		if err != nil {
			continue
		}
		rec.Date = date
		rec.DetectedAt = parseTS(detectedRaw)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// execerContext represents a write-only DB contract used by DB and Tx implementations.
type execerContext interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}

// insertChangeRecord inserts one ledger record.
func insertChangeRecord(ctx context.Context, execer execerContext, rec domain.ChangeRecord) error {
	_, err := execer.ExecContext(ctx, `
		INSERT INTO change_records(detected_at, group_name, row_id, phase, date_field, change_date, user_name, marketplace)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ts(rec.DetectedAt),
		rec.Group,
		rec.RowID,
		rec.Phase,
		rec.DateField,
		rec.Date.String(),
		rec.User,
		rec.Marketplace,
	)
	if err != nil {
		return fmt.Errorf("insert change record %s: %w", rec.Field().Key(), err)
	}
	return nil
}

// ts handles ts.
func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// nullableTS handles nullable ts.
func nullableTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return ts(*t)
}

// parseTS parses input into a normalized form.
func parseTS(v string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

// parseNullTS parses input into a normalized form.
func parseNullTS(v sql.NullString) *time.Time {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil
	}
	ts := parseTS(v.String)
	if ts.IsZero() {
		return nil
	}
	return &ts
}
