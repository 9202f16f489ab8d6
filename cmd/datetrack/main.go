package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/google/uuid"
	"github.com/hylla/datetrack/internal/adapters/smartsheet"
	"github.com/hylla/datetrack/internal/adapters/storage/files"
	"github.com/hylla/datetrack/internal/adapters/storage/sqlite"
	"github.com/hylla/datetrack/internal/app"
	"github.com/hylla/datetrack/internal/config"
	"github.com/hylla/datetrack/internal/logging"
	"github.com/hylla/datetrack/internal/platform"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// version stores a package-level helper value.
var version = "dev"

// main handles main.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		var exitErr *exitCodeError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		os.Exit(1)
	}
}

// exitCodeError carries a specific process exit code.
type exitCodeError struct {
	code int
	err  error
}

// Error returns the wrapped message.
func (e *exitCodeError) Error() string {
	return e.err.Error()
}

// Unwrap exposes the wrapped error.
func (e *exitCodeError) Unwrap() error {
	return e.err
}

// run runs the requested command flow.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return fang.Execute(ctx, root, fang.WithVersion(version), fang.WithoutManpage())
}

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configPath string
	envFile    string
	appName    string
	devMode    bool
	logLevel   string
	stdout     io.Writer
	stderr     io.Writer
}

// newRootCommand builds the command tree.
func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stdout: stdout, stderr: stderr}
	appName := platform.AppName
	if envApp := strings.TrimSpace(os.Getenv("DATETRACK_APP_NAME")); envApp != "" {
		appName = envApp
	}
	defaultDevMode := false
	if envDev, ok := parseBoolEnv("DATETRACK_DEV_MODE"); ok {
		defaultDevMode = envDev
	}

	root := &cobra.Command{
		Use:   "datetrack",
		Short: "Track phase-date changes in Smartsheet sheets",
		Long: "datetrack compares the tracked phase-date columns of every configured sheet with the\n" +
			"last persisted snapshot and appends each new or changed date to a change ledger.",
		SilenceUsage: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to config TOML")
	flags.StringVar(&opts.envFile, "env-file", "", "path to a .env file holding the API token")
	flags.StringVar(&opts.appName, "app", appName, "application name for config/data path resolution")
	flags.BoolVar(&opts.devMode, "dev", defaultDevMode, "use dev mode paths (<app>-dev)")
	flags.StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newTrackCommand(opts),
		newBootstrapCommand(opts),
		newResetCommand(opts),
		newCheckCommand(opts),
		newHistoryCommand(opts),
		newStatsCommand(opts),
		newExportCommand(opts),
		newHealthCommand(opts),
		newServeCommand(opts),
		newInitCommand(opts),
		newPathsCommand(opts),
	)
	return root
}

// runtimeEnv is the resolved configuration and logger for one command.
type runtimeEnv struct {
	paths      platform.Paths
	configPath string
	cfg        config.Config
	logger     *logging.Logger
	stdout     io.Writer
	stderr     io.Writer
}

// resolvePaths resolves platform paths from flags.
func (o *rootOptions) resolvePaths() (platform.Paths, error) {
	return platform.Default(platform.Options{
		AppName: o.appName,
		DevMode: o.devMode,
	})
}

// resolveConfigPath applies flag, environment, and default precedence.
func (o *rootOptions) resolveConfigPath(paths platform.Paths) string {
	if strings.TrimSpace(o.configPath) != "" {
		return o.configPath
	}
	if envPath := strings.TrimSpace(os.Getenv("DATETRACK_CONFIG")); envPath != "" {
		return envPath
	}
	return paths.ConfigPath
}

// load resolves paths, the .env file, config, and the logger.
func (o *rootOptions) load() (*runtimeEnv, error) {
	paths, err := o.resolvePaths()
	if err != nil {
		return nil, err
	}
	envFile := strings.TrimSpace(o.envFile)
	if envFile == "" {
		envFile = paths.EnvPath
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file %q: %w", envFile, err)
	}

	configPath := o.resolveConfigPath(paths)
	cfg, err := config.Load(configPath, config.Default(paths))
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", configPath, err)
	}
	if level := strings.TrimSpace(o.logLevel); level != "" {
		cfg.Logging.Level = level
	}

	logDir := ""
	if cfg.Logging.File {
		logDir = cfg.Logging.Dir
	}
	logger, err := logging.New(o.stderr, logging.Options{
		AppName: o.appName,
		Level:   cfg.Logging.Level,
		Dir:     logDir,
		Now:     time.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("configure runtime logger: %w", err)
	}
	logger.Debug("runtime paths resolved", "config_path", configPath, "data_dir", paths.DataDir, "backend", cfg.Storage.Backend)
	if path := logger.FilePath(); path != "" {
		logger.Debug("file logging enabled", "path", path)
	}
	return &runtimeEnv{
		paths:      paths,
		configPath: configPath,
		cfg:        cfg,
		logger:     logger,
		stdout:     o.stdout,
		stderr:     o.stderr,
	}, nil
}

// close releases the logger.
func (e *runtimeEnv) close() {
	if err := e.logger.Close(); err != nil {
		_, _ = fmt.Fprintf(e.stderr, "warning: close runtime log sink: %v\n", err)
	}
}

// storageSet bundles the ports backed by the configured storage backend.
type storageSet struct {
	state   app.StateStore
	ledger  app.Ledger
	history app.HistoryReader
	// ledgerPath is set for the files backend only.
	ledgerPath string
	closeFn    func() error
}

// close releases backend resources.
func (s *storageSet) close() error {
	if s == nil || s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}

// openStorage opens the configured state and ledger backend.
func (e *runtimeEnv) openStorage() (*storageSet, error) {
	cfg := e.cfg.Storage
	switch cfg.Backend {
	case config.StorageSQLite:
		e.logger.Debug("opening sqlite repository", "db_path", cfg.DBPath)
		repo, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			e.logger.Error("sqlite open failed", "db_path", cfg.DBPath, "err", err)
			return nil, fmt.Errorf("open sqlite repository: %w", err)
		}
		return &storageSet{state: repo, ledger: repo, history: repo, closeFn: repo.Close}, nil
	default:
		state, err := files.NewStateStore(cfg.StatePath, nil)
		if err != nil {
			return nil, err
		}
		ledger, err := files.NewLedger(cfg.LedgerPath, nil)
		if err != nil {
			return nil, err
		}
		return &storageSet{state: state, ledger: ledger, history: ledger, ledgerPath: ledger.Path()}, nil
	}
}

// apiToken reads the configured token environment variable.
func (e *runtimeEnv) apiToken() string {
	return strings.TrimSpace(os.Getenv(e.cfg.Smartsheet.TokenEnv))
}

// newClient builds the Smartsheet client shared for one command.
func (e *runtimeEnv) newClient() (*smartsheet.Client, error) {
	client, err := smartsheet.NewClient(smartsheet.Options{
		BaseURL:           e.cfg.Smartsheet.BaseURL,
		Token:             e.apiToken(),
		RequestsPerMinute: e.cfg.Smartsheet.RequestsPerMinute,
		Timeout:           e.cfg.Smartsheet.Timeout.Std(),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.cfg.Smartsheet.TokenEnv, err)
	}
	return client, nil
}

// newTracker wires a tracker over the client and storage.
func (e *runtimeEnv) newTracker(source app.SheetSource, st *storageSet, observer app.RunObserver) (*app.Tracker, error) {
	return app.NewTracker(e.cfg.Tracker(), app.Deps{
		Source:   source,
		State:    st.state,
		Ledger:   st.ledger,
		Logger:   e.logger,
		Observer: observer,
		Clock:    time.Now,
		IDGen:    uuid.NewString,
	})
}

// withTracker opens storage and the client, then calls fn with a ready tracker.
func (o *rootOptions) withTracker(command string, observer app.RunObserver, fn func(env *runtimeEnv, tracker *app.Tracker, st *storageSet) error) error {
	env, err := o.load()
	if err != nil {
		return err
	}
	defer env.close()

	client, err := env.newClient()
	if err != nil {
		env.logger.Error("smartsheet client unavailable", "command", command, "err", err)
		return err
	}
	st, err := env.openStorage()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.close(); closeErr != nil {
			env.logger.Warn("storage close failed", "err", closeErr)
		}
	}()

	tracker, err := env.newTracker(client, st, observer)
	if err != nil {
		return fmt.Errorf("configure tracker: %w", err)
	}
	env.logger.Info("command flow start", "command", command)
	if err := fn(env, tracker, st); err != nil {
		env.logger.Error("command flow failed", "command", command, "err", err)
		return err
	}
	env.logger.Info("command flow complete", "command", command)
	return nil
}

// parseBoolEnv parses input into a normalized form.
func parseBoolEnv(name string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

// defaultReportPath names an export file inside the report directory.
func defaultReportPath(dir, period string) string {
	return filepath.Join(dir, "datetrack-"+strings.ReplaceAll(period, "..", "_")+".xlsx")
}
