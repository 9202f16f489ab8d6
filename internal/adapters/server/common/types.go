// Package common provides transport-agnostic server contracts used by HTTP and MCP adapters.
package common

import (
	"context"
	"errors"
	"time"

	"github.com/hylla/datetrack/internal/app"
	"github.com/hylla/datetrack/internal/domain"
)

// ErrInvalidRequest reports malformed query input.
var ErrInvalidRequest = errors.New("invalid request")

// ErrNotFound reports that the requested data does not exist yet.
var ErrNotFound = errors.New("not found")

// ChangesRequest filters ledger records. Dates use YYYY-MM-DD.
type ChangesRequest struct {
	From   string   `json:"from,omitempty"`
	To     string   `json:"to,omitempty"`
	Groups []string `json:"groups,omitempty"`
	Phase  int      `json:"phase,omitempty"`
	User   string   `json:"user,omitempty"`
	Limit  int      `json:"limit,omitempty"`
}

// Change is the transport view of one ledger record.
type Change struct {
	DetectedAt  time.Time `json:"detected_at"`
	Group       string    `json:"group"`
	RowID       int64     `json:"row_id"`
	Phase       int       `json:"phase"`
	DateField   string    `json:"date_field"`
	Date        string    `json:"date"`
	User        string    `json:"user,omitempty"`
	Marketplace string    `json:"marketplace,omitempty"`
}

// ChangesResponse lists matching records in ledger order.
type ChangesResponse struct {
	Count   int      `json:"count"`
	Changes []Change `json:"changes"`
}

// StatsRequest selects a period as "YYYY-Www", "YYYY-MM", or "from..to".
// An empty period selects the previous completed week.
type StatsRequest struct {
	Period string `json:"period,omitempty"`
}

// StatsResponse reports aggregated counts for one period.
type StatsResponse struct {
	Period        string      `json:"period"`
	From          string      `json:"from"`
	To            string      `json:"to"`
	Total         int         `json:"total_changes"`
	ActiveUsers   int         `json:"active_users"`
	ActiveGroups  int         `json:"active_groups"`
	ByUser        []app.Count `json:"users"`
	ByGroup       []app.Count `json:"groups"`
	ByPhase       []app.Count `json:"phases"`
	ByMarketplace []app.Count `json:"marketplaces"`
}

// StateRequest narrows the state view. Full includes every processed value.
type StateRequest struct {
	Group string `json:"group,omitempty"`
	Full  bool   `json:"full,omitempty"`
}

// StateResponse summarizes the persisted tracker state.
type StateResponse struct {
	LastRun   *time.Time        `json:"last_run,omitempty"`
	Entries   int               `json:"entries"`
	Groups    []app.Count       `json:"groups"`
	Processed map[string]string `json:"processed,omitempty"`
}

// ReportReader serves read-only reporting queries.
type ReportReader interface {
	Changes(context.Context, ChangesRequest) (ChangesResponse, error)
	Stats(context.Context, StatsRequest) (StatsResponse, error)
	State(context.Context, StateRequest) (StateResponse, error)
}

// ChangeFromRecord converts one ledger record to its transport view.
func ChangeFromRecord(r domain.ChangeRecord) Change {
	return Change{
		DetectedAt:  r.DetectedAt,
		Group:       r.Group,
		RowID:       r.RowID,
		Phase:       r.Phase,
		DateField:   r.DateField,
		Date:        r.Date.String(),
		User:        r.User,
		Marketplace: r.Marketplace,
	}
}
