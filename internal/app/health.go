package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"cloud.google.com/go/civil"
	"github.com/hylla/datetrack/internal/domain"
)

// CheckStatus is the outcome of one health check.
type CheckStatus string

// CheckPassed and related constants name check outcomes.
const (
	CheckPassed  CheckStatus = "passed"
	CheckWarning CheckStatus = "warning"
	CheckFailed  CheckStatus = "failed"
	CheckSkipped CheckStatus = "skipped"
)

// HealthStatus is the aggregate outcome of a health report.
type HealthStatus string

// HealthHealthy and related constants name aggregate outcomes.
const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// StaleAfter is how old the last run may be before the state check warns.
const StaleAfter = 25 * time.Hour

// CheckResult is one named health check outcome.
type CheckResult struct {
	Name    string         `json:"name"`
	Status  CheckStatus    `json:"status"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// HealthCheck is a named probe.
type HealthCheck struct {
	Name  string
	Probe func(context.Context) CheckResult
}

// HealthReport aggregates check results.
type HealthReport struct {
	Status    HealthStatus  `json:"overall_status"`
	CheckedAt time.Time     `json:"timestamp"`
	Checks    []CheckResult `json:"checks"`
}

// ExitCode maps the aggregate status to a process exit code.
func (r HealthReport) ExitCode() int {
	switch r.Status {
	case HealthHealthy:
		return 0
	case HealthDegraded:
		return 1
	default:
		return 2
	}
}

// RunHealthChecks executes checks in order. Any failure is unhealthy; any warning is degraded.
func RunHealthChecks(ctx context.Context, now time.Time, checks ...HealthCheck) HealthReport {
	report := HealthReport{Status: HealthHealthy, CheckedAt: now}
	for _, check := range checks {
		res := check.Probe(ctx)
		res.Name = check.Name
		report.Checks = append(report.Checks, res)
		switch res.Status {
		case CheckFailed:
			report.Status = HealthUnhealthy
		case CheckWarning:
			if report.Status == HealthHealthy {
				report.Status = HealthDegraded
			}
		}
	}
	return report
}

// EnvironmentCheck fails when the API token is empty.
func EnvironmentCheck(tokenEnv, token string) HealthCheck {
	return HealthCheck{Name: "environment", Probe: func(context.Context) CheckResult {
		if token == "" {
			return CheckResult{Status: CheckFailed, Message: tokenEnv + " is not set"}
		}
		return CheckResult{Status: CheckPassed, Message: "API token present"}
	}}
}

// DirectoriesCheck warns when any runtime directory is missing.
func DirectoriesCheck(dirs map[string]string) HealthCheck {
	return HealthCheck{Name: "directories", Probe: func(context.Context) CheckResult {
		var missing []string
		for name, dir := range dirs {
			info, err := os.Stat(dir)
			if err != nil || !info.IsDir() {
				missing = append(missing, name+"="+dir)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return CheckResult{Status: CheckWarning, Message: fmt.Sprintf("%d directories missing", len(missing)), Details: map[string]any{"missing": missing}}
		}
		return CheckResult{Status: CheckPassed, Message: "all directories exist"}
	}}
}

// ConfigurationCheck reports the configured groups and phase fields.
func ConfigurationCheck(cfg TrackerConfig, expectedGroups int) HealthCheck {
	return HealthCheck{Name: "configuration", Probe: func(context.Context) CheckResult {
		if err := cfg.Validate(); err != nil {
			return CheckResult{Status: CheckFailed, Message: err.Error()}
		}
		details := map[string]any{
			"groups":       cfg.GroupNames(),
			"phase_fields": len(cfg.PhaseFields),
		}
		if expectedGroups > 0 && len(cfg.Groups) < expectedGroups {
			return CheckResult{Status: CheckWarning, Message: fmt.Sprintf("only %d of %d groups configured", len(cfg.Groups), expectedGroups), Details: details}
		}
		return CheckResult{Status: CheckPassed, Message: "configuration is valid", Details: details}
	}}
}

// StateFileCheck inspects the persisted state and warns when the last run is stale.
func StateFileCheck(store StateStore, clock Clock) HealthCheck {
	return HealthCheck{Name: "state_file", Probe: func(ctx context.Context) CheckResult {
		state, err := store.Load(ctx)
		switch {
		case errors.Is(err, ErrStateMissing):
			return CheckResult{Status: CheckWarning, Message: "state file not found"}
		case err != nil:
			return CheckResult{Status: CheckFailed, Message: err.Error()}
		}
		details := map[string]any{"processed_items": state.Len()}
		if state.LastRun == nil {
			return CheckResult{Status: CheckWarning, Message: "state has never recorded a run", Details: details}
		}
		age := clock().Sub(*state.LastRun)
		details["last_run"] = state.LastRun.Format(domain.TimestampLayout)
		details["is_recent"] = age < StaleAfter
		if age >= StaleAfter {
			return CheckResult{Status: CheckWarning, Message: fmt.Sprintf("last run was %s ago", age.Truncate(time.Minute)), Details: details}
		}
		return CheckResult{Status: CheckPassed, Message: "state file is valid", Details: details}
	}}
}

// LedgerCheck counts ledger records overall and for the last seven days.
func LedgerCheck(history HistoryReader, clock Clock) HealthCheck {
	return HealthCheck{Name: "changes_file", Probe: func(ctx context.Context) CheckResult {
		records, err := history.Records(ctx, domain.RecordFilter{})
		switch {
		case errors.Is(err, ErrLedgerMissing):
			return CheckResult{Status: CheckWarning, Message: "change history not found"}
		case err != nil:
			return CheckResult{Status: CheckFailed, Message: err.Error()}
		}
		cutoff := civil.DateOf(clock()).AddDays(-7)
		recent := 0
		for _, r := range records {
			if !r.Date.Before(cutoff) {
				recent++
			}
		}
		return CheckResult{Status: CheckPassed, Message: "change history is valid", Details: map[string]any{
			"total_records":     len(records),
			"recent_changes_7d": recent,
		}}
	}}
}

// APICheck verifies the remote credentials.
func APICheck(pinger Pinger) HealthCheck {
	return HealthCheck{Name: "smartsheet_api", Probe: func(ctx context.Context) CheckResult {
		if pinger == nil {
			return CheckResult{Status: CheckSkipped, Message: "no API client available"}
		}
		if err := pinger.Ping(ctx); err != nil {
			return CheckResult{Status: CheckFailed, Message: err.Error()}
		}
		return CheckResult{Status: CheckPassed, Message: "API reachable"}
	}}
}

// SheetAccessCheck fetches every configured sheet once; partial access only warns.
func SheetAccessCheck(source SheetSource, groups []GroupSource) HealthCheck {
	return HealthCheck{Name: "sheet_access", Probe: func(ctx context.Context) CheckResult {
		if source == nil {
			return CheckResult{Status: CheckSkipped, Message: "no API client available"}
		}
		var accessible, inaccessible []string
		for _, g := range groups {
			if _, err := source.GetSheet(ctx, g.SheetID); err != nil {
				inaccessible = append(inaccessible, g.Name+": "+err.Error())
				continue
			}
			accessible = append(accessible, g.Name)
		}
		details := map[string]any{"accessible": accessible}
		if len(inaccessible) > 0 {
			details["inaccessible"] = inaccessible
			return CheckResult{Status: CheckWarning, Message: fmt.Sprintf("cannot access %d of %d sheets", len(inaccessible), len(groups)), Details: details}
		}
		return CheckResult{Status: CheckPassed, Message: fmt.Sprintf("all %d sheets accessible", len(groups)), Details: details}
	}}
}
