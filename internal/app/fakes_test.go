package app

import (
	"context"
	"errors"
	"time"

	"github.com/hylla/datetrack/internal/domain"
	"github.com/hylla/datetrack/internal/retry"
)

const (
	colKontrolle = int64(1)
	colKVon      = int64(2)
	colAmazon    = int64(3)
	colBEAm      = int64(4)
	colBEVon     = int64(5)
)

type fakeSource struct {
	sheets map[int64]domain.Sheet
	errs   map[int64]error
	calls  map[int64]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{sheets: map[int64]domain.Sheet{}, errs: map[int64]error{}, calls: map[int64]int{}}
}

func (f *fakeSource) GetSheet(_ context.Context, id int64) (domain.Sheet, error) {
	f.calls[id]++
	if err, ok := f.errs[id]; ok {
		return domain.Sheet{}, err
	}
	sheet, ok := f.sheets[id]
	if !ok {
		return domain.Sheet{}, errors.New("no such sheet")
	}
	return sheet, nil
}

type fakeStateStore struct {
	state   domain.State
	loadErr error
	saveErr error
	saves   int
}

func (f *fakeStateStore) Load(context.Context) (domain.State, error) {
	if f.loadErr != nil {
		return domain.NewState(), f.loadErr
	}
	return f.state.Clone(), nil
}

func (f *fakeStateStore) Save(_ context.Context, s domain.State) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves++
	f.state = s.Clone()
	return nil
}

type fakeLedger struct {
	initialized bool
	records     []domain.ChangeRecord
	appends     int
	appendErr   error
	truncateErr error
	truncated   int
}

func (f *fakeLedger) EnsureInitialized(context.Context) error {
	f.initialized = true
	return nil
}

func (f *fakeLedger) Append(_ context.Context, records []domain.ChangeRecord) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appends++
	f.records = append(f.records, records...)
	return nil
}

func (f *fakeLedger) Truncate(context.Context) error {
	if f.truncateErr != nil {
		return f.truncateErr
	}
	f.truncated++
	f.records = nil
	return nil
}

func (f *fakeLedger) Records(_ context.Context, filter domain.RecordFilter) ([]domain.ChangeRecord, error) {
	if !f.initialized {
		return nil, ErrLedgerMissing
	}
	var out []domain.ChangeRecord
	for _, r := range f.records {
		if filter.Matches(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

type recordingLogger struct {
	warns  []string
	errors []string
}

func (l *recordingLogger) Debug(string, ...any) {}

func (l *recordingLogger) Info(string, ...any) {}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.warns = append(l.warns, msg)
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.errors = append(l.errors, msg)
}

type recordingObserver struct {
	runs []RunResult
}

func (o *recordingObserver) ObserveRun(r RunResult) { o.runs = append(o.runs, r) }

// phaseSheet builds a sheet with the Kontrolle/BE phase columns and the given rows.
func phaseSheet(id int64, rows ...domain.SheetRow) domain.Sheet {
	return domain.Sheet{
		ID: id,
		Columns: []domain.SheetColumn{
			{ID: colKontrolle, Title: "Kontrolle", Type: "DATE"},
			{ID: colKVon, Title: "K von", Type: "CONTACT_LIST"},
			{ID: colAmazon, Title: "Amazon", Type: "TEXT_NUMBER"},
			{ID: colBEAm, Title: "BE am", Type: "DATE"},
			{ID: colBEVon, Title: "BE von", Type: "CONTACT_LIST"},
		},
		Rows: rows,
	}
}

func row(id int64, cells ...domain.SheetCell) domain.SheetRow {
	return domain.SheetRow{ID: id, Cells: cells}
}

func textCell(col int64, v string) domain.SheetCell {
	return domain.SheetCell{ColumnID: col, Value: domain.TextValue(v), DisplayValue: v}
}

func displayCell(col int64, display string) domain.SheetCell {
	return domain.SheetCell{ColumnID: col, Value: domain.TextValue(display), DisplayValue: display}
}

func testConfig(groups ...GroupSource) TrackerConfig {
	return TrackerConfig{
		Groups: groups,
		PhaseFields: []PhaseField{
			{DateColumn: "Kontrolle", UserColumn: "K von", Phase: 1},
			{DateColumn: "BE am", UserColumn: "BE von", Phase: 2},
		},
		MarketplaceColumn: "Amazon",
		Retry: retry.Policy{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			Multiplier:   2,
			MaxDelay:     5 * time.Second,
			Sleep:        func(context.Context, time.Duration) error { return nil },
		},
	}
}

type harness struct {
	source   *fakeSource
	store    *fakeStateStore
	ledger   *fakeLedger
	logger   *recordingLogger
	observer *recordingObserver
	tracker  *Tracker
	now      time.Time
}

func newHarness(cfg TrackerConfig) (*harness, error) {
	h := &harness{
		source:   newFakeSource(),
		store:    &fakeStateStore{state: domain.NewState()},
		ledger:   &fakeLedger{},
		logger:   &recordingLogger{},
		observer: &recordingObserver{},
		now:      time.Date(2025, 3, 2, 6, 0, 0, 0, time.UTC),
	}
	tracker, err := NewTracker(cfg, Deps{
		Source:   h.source,
		State:    h.store,
		Ledger:   h.ledger,
		Logger:   h.logger,
		Observer: h.observer,
		Clock:    func() time.Time { return h.now },
		IDGen:    func() string { return "run-1" },
	})
	if err != nil {
		return nil, err
	}
	h.tracker = tracker
	return h, nil
}
