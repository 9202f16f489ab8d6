package metrics

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hylla/datetrack/internal/app"
	"github.com/hylla/datetrack/internal/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type stubReports struct {
	records    []domain.ChangeRecord
	historyErr error
	state      domain.State
	stateErr   error
}

func (s *stubReports) History(context.Context, domain.RecordFilter) ([]domain.ChangeRecord, error) {
	return s.records, s.historyErr
}

func (s *stubReports) State(context.Context) (domain.State, error) {
	return s.state, s.stateErr
}

func TestRegisterReportsExposesLedgerAndState(t *testing.T) {
	lastRun := time.Date(2025, 3, 2, 6, 0, 0, 0, time.UTC)
	state := domain.NewState()
	state.Set(domain.TrackedField{Group: "NA", RowID: 1, FieldName: "Kontrolle"}, "2025-03-01")
	state.MarkRun(lastRun)
	src := &stubReports{
		records: []domain.ChangeRecord{
			{Group: "NA", RowID: 1, DetectedAt: lastRun.Add(-time.Hour)},
			{Group: "NA", RowID: 2, DetectedAt: lastRun},
			{Group: "NF", RowID: 3, DetectedAt: lastRun.Add(-2 * time.Hour)},
		},
		state: state,
	}
	rec := NewRecorder()
	if err := rec.RegisterReports(src); err != nil {
		t.Fatalf("RegisterReports() error = %v", err)
	}

	expected := `
# HELP datetrack_ledger_records Change records in the ledger by group.
# TYPE datetrack_ledger_records gauge
datetrack_ledger_records{group="NA"} 2
datetrack_ledger_records{group="NF"} 1
# HELP datetrack_state_entries Tracked fields in the persisted state.
# TYPE datetrack_state_entries gauge
datetrack_state_entries 1
`
	if err := testutil.GatherAndCompare(rec.Registry(), strings.NewReader(expected), "datetrack_ledger_records", "datetrack_state_entries"); err != nil {
		t.Fatalf("GatherAndCompare() error = %v", err)
	}

	families, err := rec.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	got := map[string]float64{}
	for _, mf := range families {
		if len(mf.GetMetric()) == 1 && mf.GetMetric()[0].GetGauge() != nil {
			got[mf.GetName()] = mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	if got["datetrack_state_last_run_timestamp_seconds"] != float64(lastRun.Unix()) {
		t.Fatalf("state last run = %v", got["datetrack_state_last_run_timestamp_seconds"])
	}
	if got["datetrack_ledger_last_change_timestamp_seconds"] != float64(lastRun.Unix()) {
		t.Fatalf("last change = %v", got["datetrack_ledger_last_change_timestamp_seconds"])
	}
}

func TestRegisterReportsHandlesMissingAndFailingSources(t *testing.T) {
	src := &stubReports{historyErr: errors.New("permission denied"), stateErr: app.ErrStateMissing}
	rec := NewRecorder()
	if err := rec.RegisterReports(src); err != nil {
		t.Fatalf("RegisterReports() error = %v", err)
	}
	expected := `
# HELP datetrack_report_scrape_errors Sources that could not be read during this scrape.
# TYPE datetrack_report_scrape_errors gauge
datetrack_report_scrape_errors{source="ledger"} 1
datetrack_report_scrape_errors{source="state"} 0
# HELP datetrack_state_entries Tracked fields in the persisted state.
# TYPE datetrack_state_entries gauge
datetrack_state_entries 0
`
	if err := testutil.GatherAndCompare(rec.Registry(), strings.NewReader(expected), "datetrack_report_scrape_errors", "datetrack_state_entries"); err != nil {
		t.Fatalf("GatherAndCompare() error = %v", err)
	}
	if err := NewRecorder().RegisterReports(nil); err == nil {
		t.Fatal("expected error for nil source")
	}
}
