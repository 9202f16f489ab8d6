package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/hylla/datetrack/internal/domain"
	"github.com/hylla/datetrack/internal/retry"
)

var groupG = GroupSource{Name: "G", SheetID: 10}

func TestRunRecordsFirstObservation(t *testing.T) {
	h, err := newHarness(testConfig(groupG))
	if err != nil {
		t.Fatalf("newHarness() error = %v", err)
	}
	h.source.sheets[10] = phaseSheet(10, row(101,
		textCell(colKontrolle, "2025-03-01"),
		displayCell(colKVon, "DM"),
		displayCell(colAmazon, " DE "),
	))

	res, err := h.tracker.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.ChangesFound != 1 || res.GroupsProcessed != 1 || res.Failed() {
		t.Fatalf("unexpected result %#v", res)
	}
	if len(h.ledger.records) != 1 {
		t.Fatalf("expected 1 ledger record, got %d", len(h.ledger.records))
	}
	rec := h.ledger.records[0]
	want := domain.ChangeRecord{
		DetectedAt:  h.now,
		Group:       "G",
		RowID:       101,
		Phase:       1,
		DateField:   "Kontrolle",
		Date:        civil.Date{Year: 2025, Month: time.March, Day: 1},
		User:        "DM",
		Marketplace: "DE",
	}
	if rec != want {
		t.Fatalf("record = %#v, want %#v", rec, want)
	}
	field := domain.TrackedField{Group: "G", RowID: 101, FieldName: "Kontrolle"}
	if got, _ := h.store.state.Get(field); got != "2025-03-01" {
		t.Fatalf("state[%s] = %q", field.Key(), got)
	}
	if h.store.state.LastRun == nil || !h.store.state.LastRun.Equal(h.now) {
		t.Fatalf("expected last run %v, got %v", h.now, h.store.state.LastRun)
	}
	if len(h.logger.warns) == 0 {
		t.Fatal("expected empty-state warning")
	}
	if len(h.observer.runs) != 1 || h.observer.runs[0].RunID != "run-1" {
		t.Fatalf("expected observed run, got %#v", h.observer.runs)
	}
}

func TestRunTwiceIsStable(t *testing.T) {
	h, err := newHarness(testConfig(groupG))
	if err != nil {
		t.Fatalf("newHarness() error = %v", err)
	}
	h.source.sheets[10] = phaseSheet(10,
		row(101, textCell(colKontrolle, "2025-03-01"), textCell(colBEAm, "05.03.2025")),
		row(102, domain.SheetCell{ColumnID: colBEAm, Value: domain.NativeDate(time.Date(2025, 3, 7, 9, 0, 0, 0, time.UTC))}),
	)

	first, err := h.tracker.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if first.ChangesFound != 3 {
		t.Fatalf("expected 3 first-run changes, got %d", first.ChangesFound)
	}
	before := h.store.state.Clone()

	h.now = h.now.Add(24 * time.Hour)
	second, err := h.tracker.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if second.ChangesFound != 0 {
		t.Fatalf("expected no changes on second run, got %d", second.ChangesFound)
	}
	if len(h.ledger.records) != 3 || h.ledger.appends != 1 {
		t.Fatalf("expected ledger untouched, got %d records %d appends", len(h.ledger.records), h.ledger.appends)
	}
	if h.store.state.Len() != before.Len() {
		t.Fatalf("processed size changed: %d vs %d", h.store.state.Len(), before.Len())
	}
	for field, value := range before.Processed {
		if got, _ := h.store.state.Get(field); got != value {
			t.Fatalf("state[%s] = %q, want %q", field.Key(), got, value)
		}
	}
	if !h.store.state.LastRun.Equal(h.now) {
		t.Fatalf("expected last run to advance, got %v", h.store.state.LastRun)
	}
}

func TestRunIgnoresFormatOnlyDifferences(t *testing.T) {
	h, err := newHarness(testConfig(groupG))
	if err != nil {
		t.Fatalf("newHarness() error = %v", err)
	}
	field := domain.TrackedField{Group: "G", RowID: 101, FieldName: "Kontrolle"}
	h.store.state.Set(field, "2025-03-01")
	h.source.sheets[10] = phaseSheet(10, row(101, textCell(colKontrolle, "01.03.2025")))

	res, err := h.tracker.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.ChangesFound != 0 || len(h.ledger.records) != 0 {
		t.Fatalf("expected zero changes, got %d", res.ChangesFound)
	}
}

func TestRunComparesLegacyStoredValues(t *testing.T) {
	h, err := newHarness(testConfig(groupG))
	if err != nil {
		t.Fatalf("newHarness() error = %v", err)
	}
	field := domain.TrackedField{Group: "G", RowID: 101, FieldName: "Kontrolle"}
	h.store.state.Set(field, "2025-03-01T00:00:00")
	h.source.sheets[10] = phaseSheet(10, row(101, domain.SheetCell{
		ColumnID: colKontrolle,
		Value:    domain.NativeDate(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)),
	}))

	res, err := h.tracker.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.ChangesFound != 0 {
		t.Fatalf("expected zero changes, got %d", res.ChangesFound)
	}
}

func TestRunRecordsChangedDate(t *testing.T) {
	h, err := newHarness(testConfig(groupG))
	if err != nil {
		t.Fatalf("newHarness() error = %v", err)
	}
	field := domain.TrackedField{Group: "G", RowID: 101, FieldName: "BE am"}
	h.store.state.Set(field, "2025-03-01")
	h.source.sheets[10] = phaseSheet(10, row(101, textCell(colBEAm, "2025-03-04"), displayCell(colBEVon, "EK")))

	res, err := h.tracker.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.ChangesFound != 1 {
		t.Fatalf("expected one change, got %d", res.ChangesFound)
	}
	rec := h.ledger.records[0]
	if rec.Phase != 2 || rec.User != "EK" || rec.Date.Day != 4 || rec.Marketplace != "" {
		t.Fatalf("unexpected record %#v", rec)
	}
	if got, _ := h.store.state.Get(field); got != "2025-03-04" {
		t.Fatalf("state not updated, got %q", got)
	}
}

func TestRunSkipsUnparseableDates(t *testing.T) {
	h, err := newHarness(testConfig(groupG))
	if err != nil {
		t.Fatalf("newHarness() error = %v", err)
	}
	field := domain.TrackedField{Group: "G", RowID: 101, FieldName: "Kontrolle"}
	h.source.sheets[10] = phaseSheet(10, row(101, textCell(colKontrolle, "not-a-date")))

	res, err := h.tracker.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.ChangesFound != 0 || res.Unparseable != 1 || res.Failed() {
		t.Fatalf("unexpected result %#v", res)
	}
	if len(h.ledger.records) != 0 {
		t.Fatalf("expected no records, got %#v", h.ledger.records)
	}
	if _, ok := h.store.state.Get(field); ok {
		t.Fatal("expected state untouched for unparseable value")
	}
	found := false
	for _, w := range h.logger.warns {
		if w == "unparseable date skipped" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected unparseable warning, got %v", h.logger.warns)
	}
}

func TestRunIsolatesGroupFailures(t *testing.T) {
	groupA := GroupSource{Name: "A", SheetID: 1}
	groupB := GroupSource{Name: "B", SheetID: 2}
	h, err := newHarness(testConfig(groupA, groupB))
	if err != nil {
		t.Fatalf("newHarness() error = %v", err)
	}
	h.source.errs[1] = errors.New("connection reset")
	h.source.sheets[2] = phaseSheet(2, row(7, textCell(colKontrolle, "2025-03-01")))

	res, err := h.tracker.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.ChangesFound != 1 || res.GroupsProcessed != 1 {
		t.Fatalf("unexpected result %#v", res)
	}
	if len(res.Errors) != 1 || res.Errors[0].Group != "A" {
		t.Fatalf("expected one error for group A, got %#v", res.Errors)
	}
	if h.source.calls[1] != 3 {
		t.Fatalf("expected 3 attempts for failing group, got %d", h.source.calls[1])
	}
	if len(h.ledger.records) != 1 || h.ledger.records[0].Group != "B" {
		t.Fatalf("expected B record in ledger, got %#v", h.ledger.records)
	}
	if _, ok := h.store.state.Get(domain.TrackedField{Group: "B", RowID: 7, FieldName: "Kontrolle"}); !ok {
		t.Fatal("expected B change persisted to state")
	}
}

func TestRunDoesNotRetryPermanentFailures(t *testing.T) {
	h, err := newHarness(testConfig(groupG))
	if err != nil {
		t.Fatalf("newHarness() error = %v", err)
	}
	h.source.errs[10] = retry.Permanent(errors.New("forbidden"))

	res, err := h.tracker.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if h.source.calls[10] != 1 || len(res.Errors) != 1 {
		t.Fatalf("expected one attempt and one error, got calls=%d errors=%d", h.source.calls[10], len(res.Errors))
	}
	if h.store.saves != 1 {
		t.Fatalf("expected state saved despite group failure, got %d saves", h.store.saves)
	}
}

func TestRunKeepsStateWhenAppendFails(t *testing.T) {
	h, err := newHarness(testConfig(groupG))
	if err != nil {
		t.Fatalf("newHarness() error = %v", err)
	}
	h.ledger.appendErr = errors.New("disk full")
	h.source.sheets[10] = phaseSheet(10, row(101, textCell(colKontrolle, "2025-03-01")))

	res, err := h.tracker.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.ChangesFound != 0 || len(res.Errors) != 1 {
		t.Fatalf("unexpected result %#v", res)
	}
	if h.store.state.Len() != 0 {
		t.Fatal("expected unrecorded change to stay out of state")
	}
}

func TestRunReportsSaveFailure(t *testing.T) {
	h, err := newHarness(testConfig(groupG))
	if err != nil {
		t.Fatalf("newHarness() error = %v", err)
	}
	h.store.saveErr = errors.New("read-only filesystem")
	h.source.sheets[10] = phaseSheet(10, row(101, textCell(colKontrolle, "2025-03-01")))

	res, err := h.tracker.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.SaveErr == nil || !res.Failed() || res.ChangesFound != 1 {
		t.Fatalf("unexpected result %#v", res)
	}
	if len(h.logger.errors) == 0 {
		t.Fatal("expected save failure to be logged")
	}
}

func TestRunTreatsCorruptStateAsEmpty(t *testing.T) {
	h, err := newHarness(testConfig(groupG))
	if err != nil {
		t.Fatalf("newHarness() error = %v", err)
	}
	h.store.loadErr = ErrStateCorrupt
	h.source.sheets[10] = phaseSheet(10, row(101, textCell(colKontrolle, "2025-03-01")))

	res, err := h.tracker.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.ChangesFound != 1 {
		t.Fatalf("expected re-detection from empty state, got %d", res.ChangesFound)
	}
}

func TestRunCancelledSkipsSave(t *testing.T) {
	h, err := newHarness(testConfig(groupG))
	if err != nil {
		t.Fatalf("newHarness() error = %v", err)
	}
	h.source.sheets[10] = phaseSheet(10, row(101, textCell(colKontrolle, "2025-03-01")))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := h.tracker.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if h.store.saves != 0 {
		t.Fatal("expected no save after cancellation")
	}
}

func TestRunRecordsUnmappedPhaseAsZero(t *testing.T) {
	cfg := testConfig(groupG)
	cfg.PhaseFields = append(cfg.PhaseFields, PhaseField{DateColumn: "Amazon", Phase: domain.UnmappedPhase})
	h, err := newHarness(cfg)
	if err != nil {
		t.Fatalf("newHarness() error = %v", err)
	}
	h.source.sheets[10] = phaseSheet(10, row(101, textCell(colAmazon, "2025-03-01")))

	if _, err := h.tracker.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(h.ledger.records) != 1 || h.ledger.records[0].Phase != 0 {
		t.Fatalf("expected phase 0 record, got %#v", h.ledger.records)
	}
}

func TestMissingColumnsAreSkipped(t *testing.T) {
	h, err := newHarness(testConfig(groupG))
	if err != nil {
		t.Fatalf("newHarness() error = %v", err)
	}
	sheet := domain.Sheet{
		ID:      10,
		Columns: []domain.SheetColumn{{ID: colKontrolle, Title: "Kontrolle"}},
		Rows:    []domain.SheetRow{row(101, textCell(colKontrolle, "2025-03-01"))},
	}
	h.source.sheets[10] = sheet

	snap, err := h.tracker.FetchAllTrackedValues(context.Background(), groupG)
	if err != nil {
		t.Fatalf("FetchAllTrackedValues() error = %v", err)
	}
	if len(snap.Values) != 1 || snap.Values[0].User != "" {
		t.Fatalf("unexpected values %#v", snap.Values)
	}
	if len(snap.MissingColumns) != 2 {
		t.Fatalf("expected K von and BE am missing, got %v", snap.MissingColumns)
	}

	v, ok, err := h.tracker.FetchFieldValue(context.Background(), groupG, 101, "Kontrolle")
	if err != nil || !ok || v.Text != "2025-03-01" {
		t.Fatalf("FetchFieldValue() = %#v, %t, %v", v, ok, err)
	}
	warnsBefore := len(h.logger.warns)
	if v, ok, err := h.tracker.FetchFieldValue(context.Background(), groupG, 101, "BE am"); err != nil || ok || !v.IsAbsent() {
		t.Fatalf("expected absent value for missing column, got %#v ok=%t err=%v", v, ok, err)
	}
	if len(h.logger.warns) != warnsBefore+1 {
		t.Fatalf("expected one warning for the missing column, got %v", h.logger.warns[warnsBefore:])
	}
	if _, ok, err := h.tracker.FetchFieldValue(context.Background(), groupG, 999, "Kontrolle"); err != nil || ok {
		t.Fatalf("expected absent row, got ok=%t err=%v", ok, err)
	}
}

func TestBootstrapRecordsEverySetField(t *testing.T) {
	h, err := newHarness(testConfig(groupG))
	if err != nil {
		t.Fatalf("newHarness() error = %v", err)
	}
	h.store.state.Set(domain.TrackedField{Group: "G", RowID: 101, FieldName: "Kontrolle"}, "2025-03-01")
	h.source.sheets[10] = phaseSheet(10, row(101, textCell(colKontrolle, "2025-03-01"), textCell(colBEAm, "2025-03-02")))

	res, err := h.tracker.Bootstrap(context.Background())
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if res.Mode != RunModeBootstrap || res.ChangesFound != 2 {
		t.Fatalf("unexpected result %#v", res)
	}
}

func TestNewTrackerValidatesConfig(t *testing.T) {
	cfg := testConfig()
	if _, err := newHarness(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	cfg = testConfig(groupG, groupG)
	if _, err := newHarness(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected duplicate group rejection, got %v", err)
	}
	cfg = testConfig(GroupSource{Name: "A:B", SheetID: 1})
	if _, err := newHarness(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected separator rejection, got %v", err)
	}
	cfg = testConfig(groupG)
	cfg.DateLayouts = []string{""}
	if _, err := newHarness(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected empty layouts rejection, got %v", err)
	}
}
