package app

import (
	"context"
	"fmt"
)

// ResetResult summarizes a reset to the current remote snapshot.
type ResetResult struct {
	StateEntries    int
	GroupsProcessed int
	Carried         int
	Errors          []GroupError
}

// Reset replaces the processed map with the current remote snapshot, then truncates
// the ledger to its header. Entries of groups that cannot be fetched are carried
// over from the previous state. A failed save leaves the ledger untouched.
func (t *Tracker) Reset(ctx context.Context) (ResetResult, error) {
	started := t.clock()
	previous := t.loadState(ctx)
	next := previous.Clone()
	next.Processed = nil

	var res ResetResult
	for _, group := range t.cfg.Groups {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		snap, err := t.FetchAllTrackedValues(ctx, group)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			t.log.Error("reset: group failed; keeping previous entries", "group", group.Name, "err", err)
			res.Errors = append(res.Errors, GroupError{Group: group.Name, SheetID: group.SheetID, Err: err})
			for field, value := range previous.Processed {
				if field.Group == group.Name {
					next.Set(field, value)
					res.Carried++
				}
			}
			continue
		}
		for _, v := range snap.Values {
			current, ok := t.norm.ForComparison(v.Value)
			if !ok {
				continue
			}
			next.Set(v.Field, current)
		}
		res.GroupsProcessed++
	}

	next.MarkRun(started)
	if err := t.state.Save(ctx, next); err != nil {
		return res, fmt.Errorf("save state: %w", err)
	}
	res.StateEntries = next.Len()
	if err := t.ledger.Truncate(ctx); err != nil {
		t.log.Error("reset: state saved but ledger still holds pre-reset rows", "entries", res.StateEntries, "err", err)
		return res, fmt.Errorf("state saved but ledger not truncated: %w", err)
	}
	t.log.Info("reset complete", "entries", res.StateEntries, "groups", res.GroupsProcessed, "carried", res.Carried, "errors", len(res.Errors))
	return res, nil
}
