package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hylla/datetrack/internal/app"
	"github.com/hylla/datetrack/internal/datenorm"
	"github.com/hylla/datetrack/internal/platform"
	"github.com/hylla/datetrack/internal/retry"
	toml "github.com/pelletier/go-toml/v2"
)

type StorageBackend string

const (
	StorageFiles  StorageBackend = "files"
	StorageSQLite StorageBackend = "sqlite"
)

// DefaultTokenEnv names the environment variable holding the API token.
const DefaultTokenEnv = "SMARTSHEET_TOKEN"

type Config struct {
	Smartsheet  SmartsheetConfig   `toml:"smartsheet"`
	Groups      []GroupConfig      `toml:"groups"`
	PhaseFields []PhaseFieldConfig `toml:"phase_fields"`
	Tracking    TrackingConfig     `toml:"tracking"`
	Dates       DatesConfig        `toml:"dates"`
	Retry       RetryConfig        `toml:"retry"`
	Storage     StorageConfig      `toml:"storage"`
	Metrics     MetricsConfig      `toml:"metrics"`
	Logging     LoggingConfig      `toml:"logging"`
	Server      ServerConfig       `toml:"server"`
}

type SmartsheetConfig struct {
	BaseURL           string   `toml:"base_url"`
	TokenEnv          string   `toml:"token_env"`
	RequestsPerMinute int      `toml:"requests_per_minute"`
	Timeout           Duration `toml:"timeout"`
}

type GroupConfig struct {
	Name    string `toml:"name"`
	SheetID int64  `toml:"sheet_id"`
	Color   string `toml:"color"`
}

type PhaseFieldConfig struct {
	DateColumn  string `toml:"date_column"`
	UserColumn  string `toml:"user_column"`
	Phase       int    `toml:"phase"`
	DisplayName string `toml:"display_name"`
}

type TrackingConfig struct {
	MarketplaceColumn string `toml:"marketplace_column"`
}

type DatesConfig struct {
	Layouts []string `toml:"layouts"`
}

type RetryConfig struct {
	MaxAttempts  int      `toml:"max_attempts"`
	InitialDelay Duration `toml:"initial_delay"`
	Multiplier   float64  `toml:"multiplier"`
	MaxDelay     Duration `toml:"max_delay"`
}

type StorageConfig struct {
	Backend    StorageBackend `toml:"backend"`
	StatePath  string         `toml:"state_path"`
	LedgerPath string         `toml:"ledger_path"`
	DBPath     string         `toml:"db_path"`
}

type MetricsConfig struct {
	TextfilePath string `toml:"textfile_path"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
	// File enables a logfmt file sink in Dir next to the console output.
	File bool   `toml:"file"`
	Dir  string `toml:"dir"`
}

type ServerConfig struct {
	Bind        string `toml:"bind"`
	APIEndpoint string `toml:"api_endpoint"`
	MCPEndpoint string `toml:"mcp_endpoint"`
}

// Duration decodes TOML strings such as "2s" or "1m30s".
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText renders the duration in Go syntax.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func defaultGroups() []GroupConfig {
	return []GroupConfig{
		{Name: "NA", SheetID: 6141179298008964, Color: "#E63946"},
		{Name: "NF", SheetID: 615755411312516, Color: "#457B9D"},
		{Name: "NH", SheetID: 123340632051588, Color: "#2A9D8F"},
		{Name: "NP", SheetID: 3009924800925572, Color: "#F4A261"},
		{Name: "NT", SheetID: 2199739350077316, Color: "#9D4EDD"},
		{Name: "NV", SheetID: 8955413669040004, Color: "#00B4D8"},
		{Name: "NM", SheetID: 4275419734822788, Color: "#E9C46A"},
	}
}

func defaultPhaseFields() []PhaseFieldConfig {
	return []PhaseFieldConfig{
		{DateColumn: "Kontrolle", UserColumn: "K von", Phase: 1, DisplayName: "Kontrolle"},
		{DateColumn: "BE am", UserColumn: "BE von", Phase: 2, DisplayName: "BE"},
		{DateColumn: "K am", UserColumn: "K2 von", Phase: 3, DisplayName: "K2"},
		{DateColumn: "C am", UserColumn: "C von", Phase: 4, DisplayName: "C"},
		{DateColumn: "Reopen C2 am", UserColumn: "Reopen C2 von", Phase: 5, DisplayName: "Reopen C2"},
	}
}

// Default returns the built-in configuration rooted at paths.
func Default(paths platform.Paths) Config {
	policy := retry.DefaultPolicy()
	return Config{
		Smartsheet: SmartsheetConfig{
			BaseURL:           "https://api.smartsheet.com/2.0",
			TokenEnv:          DefaultTokenEnv,
			RequestsPerMinute: 240,
			Timeout:           Duration(60 * time.Second),
		},
		Groups:      defaultGroups(),
		PhaseFields: defaultPhaseFields(),
		Tracking: TrackingConfig{
			MarketplaceColumn: "Amazon",
		},
		Dates: DatesConfig{
			Layouts: datenorm.DefaultLayouts(),
		},
		Retry: RetryConfig{
			MaxAttempts:  policy.MaxAttempts,
			InitialDelay: Duration(policy.InitialDelay),
			Multiplier:   policy.Multiplier,
			MaxDelay:     Duration(policy.MaxDelay),
		},
		Storage: StorageConfig{
			Backend:    StorageFiles,
			StatePath:  paths.StatePath,
			LedgerPath: paths.LedgerPath,
			DBPath:     paths.DBPath,
		},
		Metrics: MetricsConfig{
			TextfilePath: paths.TextfilePath,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  true,
			Dir:   paths.LogDir,
		},
		Server: ServerConfig{
			Bind:        "127.0.0.1:8787",
			APIEndpoint: "/api/v1",
			MCPEndpoint: "/mcp",
		},
	}
}

// Load decodes path over defaults. A missing or empty file yields the defaults.
// Lists present in the file replace the default lists instead of extending them.
func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(content) == 0 {
		return cfg, nil
	}

	cfg.Groups = nil
	cfg.PhaseFields = nil
	cfg.Dates.Layouts = nil
	if err := toml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode toml: %w", err)
	}
	if cfg.Groups == nil {
		cfg.Groups = append([]GroupConfig(nil), defaults.Groups...)
	}
	if cfg.PhaseFields == nil {
		cfg.PhaseFields = append([]PhaseFieldConfig(nil), defaults.PhaseFields...)
	}
	if cfg.Dates.Layouts == nil {
		cfg.Dates.Layouts = append([]string(nil), defaults.Dates.Layouts...)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Smartsheet.TokenEnv) == "" {
		return errors.New("smartsheet.token_env is required")
	}
	if c.Smartsheet.RequestsPerMinute < 0 {
		return errors.New("smartsheet.requests_per_minute must be >= 0")
	}
	if c.Smartsheet.Timeout < 0 {
		return errors.New("smartsheet.timeout must be >= 0")
	}

	switch c.Storage.Backend {
	case StorageFiles:
		if strings.TrimSpace(c.Storage.StatePath) == "" {
			return errors.New("storage.state_path is required")
		}
		if strings.TrimSpace(c.Storage.LedgerPath) == "" {
			return errors.New("storage.ledger_path is required")
		}
	case StorageSQLite:
		if strings.TrimSpace(c.Storage.DBPath) == "" {
			return errors.New("storage.db_path is required")
		}
	default:
		return fmt.Errorf("invalid storage.backend: %q", c.Storage.Backend)
	}

	switch strings.TrimSpace(strings.ToLower(c.Logging.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}
	if c.Logging.File && strings.TrimSpace(c.Logging.Dir) == "" {
		return errors.New("logging.dir is required when logging.file is enabled")
	}

	for i, g := range c.Groups {
		if color := strings.TrimSpace(g.Color); color != "" && !strings.HasPrefix(color, "#") {
			return fmt.Errorf("groups[%d].color must be a hex value: %q", i, g.Color)
		}
	}
	for _, endpoint := range []string{c.Server.APIEndpoint, c.Server.MCPEndpoint} {
		if !strings.HasPrefix(strings.TrimSpace(endpoint), "/") {
			return fmt.Errorf("server endpoint must start with /: %q", endpoint)
		}
	}

	if err := c.Tracker().Validate(); err != nil {
		return err
	}
	return nil
}

// Tracker converts the file configuration into the tracker's run parameters.
func (c Config) Tracker() app.TrackerConfig {
	out := app.TrackerConfig{
		Groups:            make([]app.GroupSource, 0, len(c.Groups)),
		PhaseFields:       make([]app.PhaseField, 0, len(c.PhaseFields)),
		MarketplaceColumn: strings.TrimSpace(c.Tracking.MarketplaceColumn),
		DateLayouts:       append([]string(nil), c.Dates.Layouts...),
		Retry: retry.Policy{
			MaxAttempts:  c.Retry.MaxAttempts,
			InitialDelay: c.Retry.InitialDelay.Std(),
			Multiplier:   c.Retry.Multiplier,
			MaxDelay:     c.Retry.MaxDelay.Std(),
		},
	}
	for _, g := range c.Groups {
		out.Groups = append(out.Groups, app.GroupSource{Name: strings.TrimSpace(g.Name), SheetID: g.SheetID})
	}
	for _, f := range c.PhaseFields {
		out.PhaseFields = append(out.PhaseFields, app.PhaseField{
			DateColumn: strings.TrimSpace(f.DateColumn),
			UserColumn: strings.TrimSpace(f.UserColumn),
			Phase:      f.Phase,
		})
	}
	return out
}

// GroupColor returns the configured color for a group, or "" when none is set.
func (c Config) GroupColor(name string) string {
	for _, g := range c.Groups {
		if g.Name == name {
			return strings.TrimSpace(g.Color)
		}
	}
	return ""
}

// PhaseLabel returns the display name for a phase number.
func (c Config) PhaseLabel(phase int) string {
	for _, f := range c.PhaseFields {
		if f.Phase == phase && strings.TrimSpace(f.DisplayName) != "" {
			return f.DisplayName
		}
	}
	return fmt.Sprintf("Phase %d", phase)
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
