package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/hylla/datetrack/internal/adapters/export"
	serveradapter "github.com/hylla/datetrack/internal/adapters/server"
	servercommon "github.com/hylla/datetrack/internal/adapters/server/common"
	"github.com/hylla/datetrack/internal/app"
	"github.com/hylla/datetrack/internal/config"
	"github.com/hylla/datetrack/internal/domain"
	"github.com/hylla/datetrack/internal/metrics"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// expectedGroupCount is the number of groups a complete deployment tracks.
const expectedGroupCount = 7

// serveCommandRunner starts the HTTP+MCP serve flow.
var serveCommandRunner = func(ctx context.Context, cfg serveradapter.Config, deps serveradapter.Dependencies) error {
	return serveradapter.Run(ctx, cfg, deps)
}

// newTrackCommand runs one incremental detection pass.
func newTrackCommand(opts *rootOptions) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "track",
		Short: "Detect phase-date changes since the last run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.runDetection(cmd.Context(), app.RunModeTrack, strict)
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when any group or the state save fails")
	return cmd
}

// newBootstrapCommand runs detection against an empty state.
func newBootstrapCommand(opts *rootOptions) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Record every current date as a change, ignoring the stored state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.runDetection(cmd.Context(), app.RunModeBootstrap, strict)
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when any group or the state save fails")
	return cmd
}

// runDetection drives track and bootstrap and publishes run metrics.
func (o *rootOptions) runDetection(ctx context.Context, mode app.RunMode, strict bool) error {
	recorder := metrics.NewRecorder()
	return o.withTracker(string(mode), recorder, func(env *runtimeEnv, tracker *app.Tracker, _ *storageSet) error {
		var (
			res app.RunResult
			err error
		)
		if mode == app.RunModeBootstrap {
			res, err = tracker.Bootstrap(ctx)
		} else {
			res, err = tracker.Run(ctx)
		}
		if path := strings.TrimSpace(env.cfg.Metrics.TextfilePath); path != "" {
			if writeErr := recorder.WriteTextfile(path); writeErr != nil {
				env.logger.Warn("metrics textfile write failed", "path", path, "err", writeErr)
			}
		}
		if err != nil {
			return fmt.Errorf("run %s: %w", mode, err)
		}

		_, _ = fmt.Fprintf(env.stdout, "%s %s: %d changes, %d groups processed, %d fields seen in %s\n",
			res.Mode, res.RunID, res.ChangesFound, res.GroupsProcessed, res.FieldsSeen, res.Duration.Round(time.Millisecond))
		for _, gerr := range res.Errors {
			_, _ = fmt.Fprintf(env.stdout, "  failed %s\n", gerr.Error())
		}
		if res.SaveErr != nil {
			_, _ = fmt.Fprintf(env.stdout, "  state not saved: %v\n", res.SaveErr)
		}
		if strict && res.Failed() {
			failure := fmt.Errorf("%s finished with %d group errors", mode, len(res.Errors))
			if res.SaveErr != nil {
				failure = fmt.Errorf("%s: state not saved: %w", mode, res.SaveErr)
			}
			return &exitCodeError{code: 1, err: failure}
		}
		return nil
	})
}

// newResetCommand rebuilds state from the remote snapshot and truncates the ledger.
func newResetCommand(opts *rootOptions) *cobra.Command {
	var confirmed bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Replace the state with the current remote values and clear the change history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !confirmed {
				return errors.New("reset truncates the change history; pass --yes to confirm")
			}
			return opts.withTracker("reset", nil, func(env *runtimeEnv, tracker *app.Tracker, _ *storageSet) error {
				res, err := tracker.Reset(cmd.Context())
				if err != nil {
					return fmt.Errorf("reset: %w", err)
				}
				_, _ = fmt.Fprintf(env.stdout, "reset: %d state entries from %d groups, %d carried over\n",
					res.StateEntries, res.GroupsProcessed, res.Carried)
				for _, gerr := range res.Errors {
					_, _ = fmt.Fprintf(env.stdout, "  failed %s\n", gerr.Error())
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&confirmed, "yes", false, "confirm the reset")
	return cmd
}

// newCheckCommand compares stored state with remote values.
func newCheckCommand(opts *rootOptions) *cobra.Command {
	var (
		groups   []string
		showDiff bool
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Compare stored values with the current remote values without changing anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withTracker("check", nil, func(env *runtimeEnv, tracker *app.Tracker, _ *storageSet) error {
				report, err := tracker.Check(cmd.Context(), groups...)
				if err != nil {
					return fmt.Errorf("check: %w", err)
				}
				_, _ = fmt.Fprintf(env.stdout, "compared %d fields, %d differences\n", report.Compared, len(report.Differences))
				for _, diff := range report.Differences {
					_, _ = fmt.Fprintf(env.stdout, "  %-8s %s: %q -> %q\n", diff.Kind, diff.Field.Key(), diff.Stored, diff.Current)
				}
				for _, gerr := range report.Errors {
					_, _ = fmt.Fprintf(env.stdout, "  failed %s\n", gerr.Error())
				}
				if showDiff && len(report.Differences) > 0 {
					unified, err := report.UnifiedDiff()
					if err != nil {
						return err
					}
					_, _ = fmt.Fprint(env.stdout, unified)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&groups, "group", nil, "restrict to these groups (repeatable)")
	cmd.Flags().BoolVar(&showDiff, "diff", false, "print a unified diff of stored versus remote values")
	return cmd
}

// historyFlags holds the ledger filter flags.
type historyFlags struct {
	from   string
	to     string
	groups []string
	phase  int
	user   string
	limit  int
}

// filter converts flags into a record filter.
func (f historyFlags) filter() (domain.RecordFilter, error) {
	out := domain.RecordFilter{Groups: f.groups, Phase: f.phase, User: strings.TrimSpace(f.user), Limit: f.limit}
	if f.limit < 0 {
		return out, errors.New("--limit must be >= 0")
	}
	var err error
	if s := strings.TrimSpace(f.from); s != "" {
		if out.From, err = civil.ParseDate(s); err != nil {
			return out, fmt.Errorf("--from: %w", err)
		}
	}
	if s := strings.TrimSpace(f.to); s != "" {
		if out.To, err = civil.ParseDate(s); err != nil {
			return out, fmt.Errorf("--to: %w", err)
		}
	}
	return out, nil
}

// newHistoryCommand prints ledger records.
func newHistoryCommand(opts *rootOptions) *cobra.Command {
	var (
		flags  historyFlags
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recorded changes from the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := flags.filter()
			if err != nil {
				return err
			}
			return opts.withReporter(func(env *runtimeEnv, reporter *app.Reporter) error {
				records, err := reporter.History(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if asJSON {
					changes := make([]servercommon.Change, 0, len(records))
					for _, r := range records {
						changes = append(changes, servercommon.ChangeFromRecord(r))
					}
					return writeJSON(env.stdout, servercommon.ChangesResponse{Count: len(changes), Changes: changes})
				}
				renderHistory(env.stdout, env.cfg, records)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&flags.from, "from", "", "earliest change date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&flags.to, "to", "", "latest change date (YYYY-MM-DD)")
	cmd.Flags().StringSliceVar(&flags.groups, "group", nil, "restrict to these groups (repeatable)")
	cmd.Flags().IntVar(&flags.phase, "phase", 0, "restrict to one phase number")
	cmd.Flags().StringVar(&flags.user, "user", "", "restrict to one user")
	cmd.Flags().IntVar(&flags.limit, "limit", 0, "print only the most recent N matches")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

// resolvePeriod parses a period flag; empty selects the previous week.
func resolvePeriod(raw string, previousMonth bool, now time.Time) (app.Period, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw != "":
		return app.ParsePeriod(raw)
	case previousMonth:
		return app.PreviousMonth(now), nil
	default:
		return app.PreviousWeek(now), nil
	}
}

// newStatsCommand aggregates the ledger over a period.
func newStatsCommand(opts *rootOptions) *cobra.Command {
	var (
		period    string
		lastMonth bool
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Count changes by user, group, phase, and marketplace for a period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := resolvePeriod(period, lastMonth, time.Now())
			if err != nil {
				return err
			}
			return opts.withReporter(func(env *runtimeEnv, reporter *app.Reporter) error {
				stats, err := reporter.Stats(cmd.Context(), p)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(env.stdout, statsPayload(stats))
				}
				return renderStats(env.stdout, env.cfg, stats)
			})
		},
	}
	cmd.Flags().StringVar(&period, "period", "", "YYYY-Www, YYYY-MM, or YYYY-MM-DD..YYYY-MM-DD (default: previous week)")
	cmd.Flags().BoolVar(&lastMonth, "previous-month", false, "use the previous calendar month")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

// statsPayload converts stats into the shared transport shape.
func statsPayload(stats app.Stats) servercommon.StatsResponse {
	return servercommon.StatsResponse{
		Period:        stats.Period.Label,
		From:          stats.Period.From.String(),
		To:            stats.Period.To.String(),
		Total:         stats.Total,
		ActiveUsers:   stats.ActiveUsers,
		ActiveGroups:  stats.ActiveGroups,
		ByUser:        stats.ByUser,
		ByGroup:       stats.ByGroup,
		ByPhase:       stats.ByPhase,
		ByMarketplace: stats.ByMarketplace,
	}
}

// newExportCommand writes ledger rows and period stats to an xlsx workbook.
func newExportCommand(opts *rootOptions) *cobra.Command {
	var (
		period    string
		lastMonth bool
		outPath   string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the changes and stats of a period to an xlsx workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			now := time.Now()
			p, err := resolvePeriod(period, lastMonth, now)
			if err != nil {
				return err
			}
			return opts.withReporter(func(env *runtimeEnv, reporter *app.Reporter) error {
				records, err := reporter.History(cmd.Context(), p.Filter())
				if err != nil {
					return err
				}
				wb := export.Workbook{Records: records, Stats: app.Aggregate(records, p), GeneratedAt: now}
				if outPath == "-" {
					return export.WriteWorkbook(env.stdout, wb)
				}
				target := strings.TrimSpace(outPath)
				if target == "" {
					target = defaultReportPath(env.paths.ReportDir, p.Label)
				}
				if err := export.SaveWorkbook(target, wb); err != nil {
					return err
				}
				env.logger.Info("export written", "path", target, "records", len(records), "period", p.Label)
				_, _ = fmt.Fprintf(env.stdout, "wrote %d changes for %s to %s\n", len(records), p.Label, target)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&period, "period", "", "YYYY-Www, YYYY-MM, or YYYY-MM-DD..YYYY-MM-DD (default: previous week)")
	cmd.Flags().BoolVar(&lastMonth, "previous-month", false, "use the previous calendar month")
	cmd.Flags().StringVar(&outPath, "out", "", "output path ('-' for stdout; default: report dir)")
	return cmd
}

// newHealthCommand runs the health probes.
func newHealthCommand(opts *rootOptions) *cobra.Command {
	var (
		asJSON  bool
		offline bool
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check configuration, storage, and API access (exit 0 healthy, 1 degraded, 2 unhealthy)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := opts.load()
			if err != nil {
				return err
			}
			defer env.close()
			st, err := env.openStorage()
			if err != nil {
				return err
			}
			defer func() { _ = st.close() }()

			trackerCfg := env.cfg.Tracker()
			checks := []app.HealthCheck{
				app.EnvironmentCheck(env.cfg.Smartsheet.TokenEnv, env.apiToken()),
				app.ConfigurationCheck(trackerCfg, expectedGroupCount),
				app.DirectoriesCheck(env.runtimeDirs()),
				app.StateFileCheck(st.state, time.Now),
				app.LedgerCheck(st.history, time.Now),
			}
			if !offline {
				client, clientErr := env.newClient()
				if clientErr != nil {
					checks = append(checks, app.APICheck(nil), app.SheetAccessCheck(nil, trackerCfg.Groups))
				} else {
					checks = append(checks, app.APICheck(client), app.SheetAccessCheck(client, trackerCfg.Groups))
				}
			}
			report := app.RunHealthChecks(cmd.Context(), time.Now(), checks...)
			env.logger.Info("health checked", "status", report.Status)

			if asJSON {
				if err := writeJSON(env.stdout, report); err != nil {
					return err
				}
			} else {
				renderHealth(env.stdout, report)
			}
			if code := report.ExitCode(); code != 0 {
				return &exitCodeError{code: code, err: fmt.Errorf("health: %s", report.Status)}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	cmd.Flags().BoolVar(&offline, "offline", false, "skip API and sheet access probes")
	return cmd
}

// runtimeDirs lists the directories the tracker writes to.
func (e *runtimeEnv) runtimeDirs() map[string]string {
	dirs := map[string]string{"config": filepath.Dir(e.configPath)}
	if e.cfg.Storage.Backend == config.StorageSQLite {
		dirs["data"] = filepath.Dir(e.cfg.Storage.DBPath)
	} else {
		dirs["data"] = filepath.Dir(e.cfg.Storage.StatePath)
	}
	if e.cfg.Logging.File {
		dirs["logs"] = e.cfg.Logging.Dir
	}
	return dirs
}

// newServeCommand serves the read-only HTTP API, MCP tools, and metrics.
func newServeCommand(opts *rootOptions) *cobra.Command {
	var (
		httpBind    string
		apiEndpoint string
		mcpEndpoint string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the change history over HTTP and MCP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := opts.load()
			if err != nil {
				return err
			}
			defer env.close()
			st, err := env.openStorage()
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := st.close(); closeErr != nil {
					env.logger.Warn("storage close failed", "err", closeErr)
				}
			}()

			deps := serveradapter.Dependencies{Logger: env.logger}
			history := st.history
			if st.ledgerPath != "" {
				cache := servercommon.NewCachedHistory(st.history)
				history = cache
				deps.Cache = cache
				deps.LedgerPath = st.ledgerPath
			}
			reporter := app.NewReporter(history, st.state)
			deps.Reports = servercommon.NewAppServiceAdapter(reporter, time.Now)
			recorder := metrics.NewRecorder()
			if err := recorder.RegisterReports(reporter); err != nil {
				return fmt.Errorf("register report metrics: %w", err)
			}
			deps.Metrics = recorder.Handler()

			cfg := serveradapter.Config{
				HTTPBind:      firstNonEmpty(httpBind, env.cfg.Server.Bind),
				APIEndpoint:   firstNonEmpty(apiEndpoint, env.cfg.Server.APIEndpoint),
				MCPEndpoint:   firstNonEmpty(mcpEndpoint, env.cfg.Server.MCPEndpoint),
				ServerName:    opts.appName,
				ServerVersion: version,
			}
			env.logger.Info("command flow start", "command", "serve")
			if err := serveCommandRunner(cmd.Context(), cfg, deps); err != nil {
				env.logger.Error("command flow failed", "command", "serve", "err", err)
				return fmt.Errorf("run serve command: %w", err)
			}
			env.logger.Info("command flow complete", "command", "serve")
			return nil
		},
	}
	cmd.Flags().StringVar(&httpBind, "http", "", "HTTP listen address (default: [server] bind)")
	cmd.Flags().StringVar(&apiEndpoint, "api-endpoint", "", "HTTP API base endpoint")
	cmd.Flags().StringVar(&mcpEndpoint, "mcp-endpoint", "", "MCP streamable HTTP endpoint")
	return cmd
}

// newInitCommand writes the default configuration and creates runtime directories.
func newInitCommand(opts *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file and create the data directories",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			paths, err := opts.resolvePaths()
			if err != nil {
				return err
			}
			configPath := opts.resolveConfigPath(paths)
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("config %s already exists; pass --force to overwrite", configPath)
			}
			if err := config.EnsureConfigDir(configPath); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			encoded, err := toml.Marshal(config.Default(paths))
			if err != nil {
				return fmt.Errorf("encode default config: %w", err)
			}
			if err := os.WriteFile(configPath, encoded, 0o644); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			for role, dir := range paths.Dirs() {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("create %s dir %s: %w", role, dir, err)
				}
			}
			_, _ = fmt.Fprintf(opts.stdout, "wrote %s\n", configPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

// newPathsCommand prints resolved runtime paths.
func newPathsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print resolved config and data paths",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			paths, err := opts.resolvePaths()
			if err != nil {
				return err
			}
			out := opts.stdout
			_, _ = fmt.Fprintf(out, "app: %s\n", opts.appName)
			_, _ = fmt.Fprintf(out, "dev_mode: %t\n", opts.devMode)
			_, _ = fmt.Fprintf(out, "config: %s\n", opts.resolveConfigPath(paths))
			_, _ = fmt.Fprintf(out, "env_file: %s\n", firstNonEmpty(opts.envFile, paths.EnvPath))
			_, _ = fmt.Fprintf(out, "data_dir: %s\n", paths.DataDir)
			_, _ = fmt.Fprintf(out, "state: %s\n", paths.StatePath)
			_, _ = fmt.Fprintf(out, "ledger: %s\n", paths.LedgerPath)
			_, _ = fmt.Fprintf(out, "db: %s\n", paths.DBPath)
			_, _ = fmt.Fprintf(out, "logs: %s\n", paths.LogDir)
			_, _ = fmt.Fprintf(out, "reports: %s\n", paths.ReportDir)
			_, _ = fmt.Fprintf(out, "metrics: %s\n", paths.TextfilePath)
			return nil
		},
	}
}

// withReporter opens storage read-only for reporting commands.
func (o *rootOptions) withReporter(fn func(env *runtimeEnv, reporter *app.Reporter) error) error {
	env, err := o.load()
	if err != nil {
		return err
	}
	defer env.close()
	st, err := env.openStorage()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.close(); closeErr != nil {
			env.logger.Warn("storage close failed", "err", closeErr)
		}
	}()
	return fn(env, app.NewReporter(st.history, st.state))
}

// writeJSON writes one indented JSON document.
func writeJSON(w io.Writer, payload any) error {
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	encoded = append(encoded, '\n')
	_, err = w.Write(encoded)
	return err
}

// firstNonEmpty returns the first value that is not blank.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
