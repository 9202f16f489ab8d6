// Package httpapi provides the REST HTTP adapter for the server surfaces.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/hylla/datetrack/internal/adapters/server/common"
)

// Handler serves the versioned API subrouter mounted under `/api/v1`.
type Handler struct {
	reports common.ReportReader
}

// APIError represents one structured API failure response.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Hint    string         `json:"hint,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// ErrorEnvelope wraps one structured API error.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// NewHandler constructs one HTTP API adapter.
func NewHandler(reports common.ReportReader) *Handler {
	return &Handler{reports: reports}
}

// ServeHTTP routes one versioned API request to the matching handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := normalizePath(r.URL.Path)
	var serve func(http.ResponseWriter, *http.Request)
	switch path {
	case "changes":
		serve = h.handleChanges
	case "stats":
		serve = h.handleStats
	case "state":
		serve = h.handleState
	default:
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: "endpoint not found",
		})
		return
	}
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}
	if h.reports == nil {
		writeJSONError(w, http.StatusServiceUnavailable, APIError{
			Code:    "service_unavailable",
			Message: "report service is not configured",
		})
		return
	}
	serve(w, r)
}

// handleChanges serves GET `/changes`.
func (h *Handler) handleChanges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := common.ChangesRequest{
		From: q.Get("from"),
		To:   q.Get("to"),
		User: q.Get("user"),
	}
	for _, raw := range q["group"] {
		req.Groups = append(req.Groups, strings.Split(raw, ",")...)
	}
	var err error
	if req.Phase, err = intParam(q.Get("phase")); err != nil {
		writeErrorFrom(w, fmt.Errorf("phase: %w", err))
		return
	}
	if req.Limit, err = intParam(q.Get("limit")); err != nil {
		writeErrorFrom(w, fmt.Errorf("limit: %w", err))
		return
	}
	changes, err := h.reports.Changes(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, changes)
}

// handleStats serves GET `/stats`.
func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.reports.Stats(r.Context(), common.StatsRequest{Period: r.URL.Query().Get("period")})
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleState serves GET `/state`.
func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := common.StateRequest{Group: q.Get("group")}
	if raw := strings.TrimSpace(q.Get("view")); raw != "" {
		switch raw {
		case "summary":
		case "full":
			req.Full = true
		default:
			writeErrorFrom(w, fmt.Errorf("view must be summary or full: %w", common.ErrInvalidRequest))
			return
		}
	}
	state, err := h.reports.State(r.Context(), req)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// intParam parses one optional integer query value.
func intParam(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number: %w", raw, common.ErrInvalidRequest)
	}
	return v, nil
}

// normalizePath canonicalizes one request path for route matching.
func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	path = strings.Trim(path, "/")
	return path
}

// writeErrorFrom maps adapter errors into structured HTTP responses.
func writeErrorFrom(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: "unknown error",
		})
	case errors.Is(err, common.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:    "not_found",
			Message: err.Error(),
			Hint:    "Run `datetrack track` or `datetrack bootstrap` to create the ledger and state.",
		})
	case errors.Is(err, common.ErrInvalidRequest):
		writeJSONError(w, http.StatusBadRequest, APIError{
			Code:    "invalid_request",
			Message: err.Error(),
		})
	default:
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:    "internal_error",
			Message: err.Error(),
		})
	}
}

// writeMethodNotAllowed writes a structured 405 response with `Allow` headers.
func writeMethodNotAllowed(w http.ResponseWriter, methods ...string) {
	if len(methods) > 0 {
		w.Header().Set("Allow", strings.Join(methods, ", "))
	}
	writeJSONError(w, http.StatusMethodNotAllowed, APIError{
		Code:    "method_not_allowed",
		Message: "method not allowed",
	})
}

// writeJSONError writes one structured error envelope.
func writeJSONError(w http.ResponseWriter, statusCode int, apiErr APIError) {
	writeJSON(w, statusCode, ErrorEnvelope{Error: apiErr})
}

// writeJSON writes one JSON response envelope.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":{"code":"encode_error","message":"%s"}}`, err.Error()), http.StatusInternalServerError)
	}
}
