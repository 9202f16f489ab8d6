package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hylla/datetrack/internal/adapters/server/common"
)

// stubReportReader provides deterministic report responses for handler tests.
type stubReportReader struct {
	changes     common.ChangesResponse
	stats       common.StatsResponse
	state       common.StateResponse
	err         error
	lastChanges common.ChangesRequest
	lastStats   common.StatsRequest
	lastState   common.StateRequest
}

func (s *stubReportReader) Changes(_ context.Context, req common.ChangesRequest) (common.ChangesResponse, error) {
	s.lastChanges = req
	return s.changes, s.err
}

func (s *stubReportReader) Stats(_ context.Context, req common.StatsRequest) (common.StatsResponse, error) {
	s.lastStats = req
	return s.stats, s.err
}

func (s *stubReportReader) State(_ context.Context, req common.StateRequest) (common.StateResponse, error) {
	s.lastState = req
	return s.state, s.err
}

// TestHandlerChangesParsesQuery verifies query parameters reach the report reader.
func TestHandlerChangesParsesQuery(t *testing.T) {
	reports := &stubReportReader{changes: common.ChangesResponse{Count: 1, Changes: []common.Change{{Group: "NA", RowID: 1, Date: "2025-03-03"}}}}
	handler := NewHandler(reports)

	req := httptest.NewRequest(http.MethodGet, "/changes?from=2025-03-01&to=2025-03-09&group=NA,NF&group=NT&phase=2&user=DM&limit=10", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var got common.ChangesResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.Count != 1 || got.Changes[0].Date != "2025-03-03" {
		t.Fatalf("unexpected body %#v", got)
	}
	last := reports.lastChanges
	if last.From != "2025-03-01" || last.To != "2025-03-09" || len(last.Groups) != 3 || last.Phase != 2 || last.User != "DM" || last.Limit != 10 {
		t.Fatalf("unexpected request %#v", last)
	}
}

// TestHandlerStatsAndState verifies the stats and state routes.
func TestHandlerStatsAndState(t *testing.T) {
	reports := &stubReportReader{
		stats: common.StatsResponse{Period: "2025-W10", Total: 4},
		state: common.StateResponse{Entries: 2},
	}
	handler := NewHandler(reports)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats?period=2025-W10", nil))
	if rec.Code != http.StatusOK || reports.lastStats.Period != "2025-W10" {
		t.Fatalf("stats status = %d, request %#v", rec.Code, reports.lastStats)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/state/?view=full&group=NA", nil))
	if rec.Code != http.StatusOK || !reports.lastState.Full || reports.lastState.Group != "NA" {
		t.Fatalf("state status = %d, request %#v", rec.Code, reports.lastState)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/state?view=everything", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

// TestHandlerErrorMapping verifies structured status mapping for report errors.
func TestHandlerErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "not found", err: common.ErrNotFound, status: http.StatusNotFound, code: "not_found"},
		{name: "invalid", err: common.ErrInvalidRequest, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "internal", err: errors.New("disk on fire"), status: http.StatusInternalServerError, code: "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewHandler(&stubReportReader{err: tc.err})
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/changes", nil))
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
			var envelope ErrorEnvelope
			if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if envelope.Error.Code != tc.code {
				t.Fatalf("code = %q, want %q", envelope.Error.Code, tc.code)
			}
		})
	}
}

// TestHandlerRejectsBadInput verifies routing and parameter failures.
func TestHandlerRejectsBadInput(t *testing.T) {
	handler := NewHandler(&stubReportReader{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/changes", nil))
	if rec.Code != http.StatusMethodNotAllowed || rec.Header().Get("Allow") != http.MethodGet {
		t.Fatalf("status = %d allow = %q", rec.Code, rec.Header().Get("Allow"))
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/changes?limit=ten", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	rec = httptest.NewRecorder()
	NewHandler(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
