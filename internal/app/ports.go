package app

import (
	"context"

	"github.com/hylla/datetrack/internal/domain"
)

// SheetSource fetches one remote sheet with all of its rows and columns.
type SheetSource interface {
	GetSheet(context.Context, int64) (domain.Sheet, error)
}

// Pinger verifies remote credentials without reading sheet data.
type Pinger interface {
	Ping(context.Context) error
}

// StateStore loads and persists the tracker state.
// Load returns an empty state together with ErrStateMissing or ErrStateCorrupt
// when no usable state exists.
type StateStore interface {
	Load(context.Context) (domain.State, error)
	Save(context.Context, domain.State) error
}

// Ledger is the append-only change history.
type Ledger interface {
	EnsureInitialized(context.Context) error
	Append(context.Context, []domain.ChangeRecord) error
	Truncate(context.Context) error
}

// HistoryReader reads ledger records for reporting consumers.
// Records returns ErrLedgerMissing when the ledger was never initialized.
type HistoryReader interface {
	Records(context.Context, domain.RecordFilter) ([]domain.ChangeRecord, error)
}

// Logger receives structured key/value log events.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

// RunObserver receives a summary after every detection run.
type RunObserver interface {
	ObserveRun(RunResult)
}

// nopLogger discards all log events.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
