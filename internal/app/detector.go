package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hylla/datetrack/internal/domain"
)

// RunMode identifies which entry point produced a run.
type RunMode string

// RunModeTrack and related constants name detection entry points.
const (
	RunModeTrack     RunMode = "track"
	RunModeBootstrap RunMode = "bootstrap"
	RunModeReset     RunMode = "reset"
)

// GroupError records a group that could not be processed.
type GroupError struct {
	Group   string
	SheetID int64
	Err     error
}

// Error formats the group failure.
func (e GroupError) Error() string {
	return fmt.Sprintf("group %s: %v", e.Group, e.Err)
}

// Unwrap exposes the underlying failure.
func (e GroupError) Unwrap() error {
	return e.Err
}

// RunResult summarizes one detection run.
type RunResult struct {
	RunID           string
	Mode            RunMode
	StartedAt       time.Time
	Duration        time.Duration
	ChangesFound    int
	GroupsProcessed int
	FieldsSeen      int
	Unparseable     int
	Errors          []GroupError
	SaveErr         error
}

// Failed reports whether any group or the state save failed.
func (r RunResult) Failed() bool {
	return len(r.Errors) > 0 || r.SaveErr != nil
}

// Run performs one incremental detection pass over every configured group.
// Group failures are collected in the result; only ledger initialization
// failures and cancellation are returned as errors, and both skip the save.
func (t *Tracker) Run(ctx context.Context) (RunResult, error) {
	state := t.loadState(ctx)
	if state.Len() == 0 {
		t.log.Warn("state has no processed entries; every set field will be recorded")
	}
	return t.detect(ctx, RunModeTrack, state)
}

// Bootstrap empties the state and runs detection so every set field is recorded once.
func (t *Tracker) Bootstrap(ctx context.Context) (RunResult, error) {
	t.log.Info("bootstrap: starting from empty state")
	return t.detect(ctx, RunModeBootstrap, domain.NewState())
}

// detect runs the per-group detection loop starting from state.
func (t *Tracker) detect(ctx context.Context, mode RunMode, state domain.State) (RunResult, error) {
	started := t.clock()
	res := RunResult{RunID: t.idGen(), Mode: mode, StartedAt: started}
	log := t.log

	if err := t.ledger.EnsureInitialized(ctx); err != nil {
		return t.finish(res), fmt.Errorf("initialize ledger: %w", err)
	}
	log.Info("run started", "run_id", res.RunID, "mode", mode, "groups", len(t.cfg.Groups), "processed", state.Len())

	for _, group := range t.cfg.Groups {
		if err := ctx.Err(); err != nil {
			return t.finish(res), err
		}
		snap, err := t.FetchAllTrackedValues(ctx, group)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return t.finish(res), ctxErr
			}
			log.Error("group failed", "group", group.Name, "sheet_id", group.SheetID, "attempts", snap.Attempts, "err", err)
			res.Errors = append(res.Errors, GroupError{Group: group.Name, SheetID: group.SheetID, Err: err})
			continue
		}

		records, updates, unparseable := t.compare(snap, state, started)
		res.FieldsSeen += len(snap.Values)
		res.Unparseable += unparseable
		if len(records) > 0 {
			if err := t.ledger.Append(ctx, records); err != nil {
				log.Error("ledger append failed", "group", group.Name, "records", len(records), "err", err)
				res.Errors = append(res.Errors, GroupError{Group: group.Name, SheetID: group.SheetID, Err: fmt.Errorf("append ledger: %w", err)})
				continue
			}
		}
		for field, value := range updates {
			state.Set(field, value)
		}
		res.ChangesFound += len(records)
		res.GroupsProcessed++
		log.Info("group processed", "group", group.Name, "rows", snap.Rows, "changes", len(records))
	}

	state.MarkRun(started)
	if err := t.state.Save(ctx, state); err != nil {
		log.Error("state save failed; next run will re-detect this run's changes", "err", err)
		res.SaveErr = err
	}
	res = t.finish(res)
	log.Info("run finished", "run_id", res.RunID, "changes", res.ChangesFound, "groups", res.GroupsProcessed, "errors", len(res.Errors), "duration", res.Duration)
	return res, nil
}

// compare derives ledger records and state updates for one group snapshot.
func (t *Tracker) compare(snap GroupSnapshot, state domain.State, detectedAt time.Time) ([]domain.ChangeRecord, map[domain.TrackedField]string, int) {
	var (
		records     []domain.ChangeRecord
		updates     = map[domain.TrackedField]string{}
		unparseable int
	)
	for _, v := range snap.Values {
		current, ok := t.norm.ForComparison(v.Value)
		if !ok {
			continue
		}
		if stored, has := state.Get(v.Field); has {
			if previous, ok := t.norm.StoredForComparison(stored); ok && previous == current {
				continue
			}
		}
		date, ok := t.norm.Normalize(v.Value)
		if !ok {
			unparseable++
			t.log.Warn("unparseable date skipped", "field", v.Field.Key(), "value", v.Value.Raw(), "kind", v.Value.Kind)
			continue
		}
		if v.Phase == domain.UnmappedPhase {
			t.log.Debug("date field has no phase mapping", "field", v.Field.FieldName)
		}
		records = append(records, domain.ChangeRecord{
			DetectedAt:  detectedAt,
			Group:       v.Field.Group,
			RowID:       v.Field.RowID,
			Phase:       v.Phase,
			DateField:   v.Field.FieldName,
			Date:        date,
			User:        v.User,
			Marketplace: v.Marketplace,
		})
		updates[v.Field] = current
	}
	return records, updates, unparseable
}

// loadState loads persisted state, falling back to empty on any failure.
func (t *Tracker) loadState(ctx context.Context) domain.State {
	state, err := t.state.Load(ctx)
	switch {
	case err == nil:
		return state
	case errors.Is(err, ErrStateMissing):
		t.log.Info("no state file yet; starting empty")
	default:
		t.log.Warn("state unreadable; starting empty", "err", err)
	}
	return domain.NewState()
}

// finish stamps the duration and notifies the observer.
func (t *Tracker) finish(res RunResult) RunResult {
	res.Duration = t.clock().Sub(res.StartedAt)
	if t.observer != nil {
		t.observer.ObserveRun(res)
	}
	return res
}
