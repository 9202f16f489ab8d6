package common

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/hylla/datetrack/internal/app"
	"github.com/hylla/datetrack/internal/domain"
)

// maxChangesLimit caps one changes response.
const maxChangesLimit = 5000

// AppServiceAdapter maps transport contracts onto app.Reporter queries.
type AppServiceAdapter struct {
	reporter *app.Reporter
	now      func() time.Time
}

// NewAppServiceAdapter builds one common adapter over a reporter.
func NewAppServiceAdapter(reporter *app.Reporter, now func() time.Time) *AppServiceAdapter {
	if now == nil {
		now = time.Now
	}
	return &AppServiceAdapter{reporter: reporter, now: now}
}

// Changes lists ledger records matching the request.
func (a *AppServiceAdapter) Changes(ctx context.Context, in ChangesRequest) (ChangesResponse, error) {
	if a == nil || a.reporter == nil {
		return ChangesResponse{}, fmt.Errorf("app service adapter is not configured: %w", ErrInvalidRequest)
	}
	filter, err := normalizeChangesRequest(in)
	if err != nil {
		return ChangesResponse{}, err
	}
	records, err := a.reporter.History(ctx, filter)
	if err != nil {
		return ChangesResponse{}, mapAppError("list changes", err)
	}
	out := ChangesResponse{Count: len(records), Changes: make([]Change, 0, len(records))}
	for _, r := range records {
		out.Changes = append(out.Changes, ChangeFromRecord(r))
	}
	return out, nil
}

// Stats aggregates ledger records over the requested period.
func (a *AppServiceAdapter) Stats(ctx context.Context, in StatsRequest) (StatsResponse, error) {
	if a == nil || a.reporter == nil {
		return StatsResponse{}, fmt.Errorf("app service adapter is not configured: %w", ErrInvalidRequest)
	}
	period := app.PreviousWeek(a.now())
	if raw := strings.TrimSpace(in.Period); raw != "" {
		parsed, err := app.ParsePeriod(raw)
		if err != nil {
			return StatsResponse{}, fmt.Errorf("parse period: %w", errors.Join(ErrInvalidRequest, err))
		}
		period = parsed
	}
	stats, err := a.reporter.Stats(ctx, period)
	if err != nil {
		return StatsResponse{}, mapAppError("aggregate stats", err)
	}
	return StatsResponse{
		Period:        period.Label,
		From:          period.From.String(),
		To:            period.To.String(),
		Total:         stats.Total,
		ActiveUsers:   stats.ActiveUsers,
		ActiveGroups:  stats.ActiveGroups,
		ByUser:        stats.ByUser,
		ByGroup:       stats.ByGroup,
		ByPhase:       stats.ByPhase,
		ByMarketplace: stats.ByMarketplace,
	}, nil
}

// State summarizes persisted tracker state.
func (a *AppServiceAdapter) State(ctx context.Context, in StateRequest) (StateResponse, error) {
	if a == nil || a.reporter == nil {
		return StateResponse{}, fmt.Errorf("app service adapter is not configured: %w", ErrInvalidRequest)
	}
	state, err := a.reporter.State(ctx)
	if err != nil {
		return StateResponse{}, mapAppError("load state", err)
	}
	group := strings.TrimSpace(in.Group)
	counts := map[string]int{}
	out := StateResponse{LastRun: state.LastRun}
	if in.Full {
		out.Processed = map[string]string{}
	}
	for _, field := range state.SortedFields() {
		if group != "" && field.Group != group {
			continue
		}
		out.Entries++
		counts[field.Group]++
		if in.Full {
			out.Processed[field.Key()] = state.Processed[field]
		}
	}
	out.Groups = make([]app.Count, 0, len(counts))
	for k, v := range counts {
		out.Groups = append(out.Groups, app.Count{Key: k, Count: v})
	}
	sort.Slice(out.Groups, func(i, j int) bool { return out.Groups[i].Key < out.Groups[j].Key })
	return out, nil
}

// normalizeChangesRequest validates and converts transport filters.
func normalizeChangesRequest(in ChangesRequest) (domain.RecordFilter, error) {
	var filter domain.RecordFilter
	if raw := strings.TrimSpace(in.From); raw != "" {
		d, err := civil.ParseDate(raw)
		if err != nil {
			return filter, fmt.Errorf("from %q: %w", raw, ErrInvalidRequest)
		}
		filter.From = d
	}
	if raw := strings.TrimSpace(in.To); raw != "" {
		d, err := civil.ParseDate(raw)
		if err != nil {
			return filter, fmt.Errorf("to %q: %w", raw, ErrInvalidRequest)
		}
		filter.To = d
	}
	if filter.From.IsValid() && filter.To.IsValid() && filter.To.Before(filter.From) {
		return filter, fmt.Errorf("to before from: %w", ErrInvalidRequest)
	}
	for _, g := range in.Groups {
		if g = strings.TrimSpace(g); g != "" {
			filter.Groups = append(filter.Groups, g)
		}
	}
	if in.Phase < 0 {
		return filter, fmt.Errorf("phase must be >= 0: %w", ErrInvalidRequest)
	}
	filter.Phase = in.Phase
	filter.User = strings.TrimSpace(in.User)
	switch {
	case in.Limit < 0:
		return filter, fmt.Errorf("limit must be >= 0: %w", ErrInvalidRequest)
	case in.Limit == 0 || in.Limit > maxChangesLimit:
		filter.Limit = maxChangesLimit
	default:
		filter.Limit = in.Limit
	}
	return filter, nil
}

// mapAppError maps app errors onto transport errors.
func mapAppError(operation string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, app.ErrLedgerMissing), errors.Is(err, app.ErrStateMissing):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrNotFound, err))
	case errors.Is(err, app.ErrInvalidPeriod), errors.Is(err, app.ErrUnknownGroup):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrInvalidRequest, err))
	default:
		return fmt.Errorf("%s: %w", operation, err)
	}
}
