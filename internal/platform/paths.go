package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// AppName is the default application directory name.
const AppName = "datetrack"

// DataDirEnv relocates every data file (state, ledger, database, reports) to one directory.
const DataDirEnv = "DATETRACK_DATA_DIR"

// Paths holds every file and directory location the tracker uses.
type Paths struct {
	ConfigPath   string
	EnvPath      string
	DataDir      string
	StatePath    string
	LedgerPath   string
	DBPath       string
	LogDir       string
	ReportDir    string
	TextfilePath string
}

// Dirs returns the directories that should exist, keyed by role.
func (p Paths) Dirs() map[string]string {
	return map[string]string{
		"config":  filepath.Dir(p.ConfigPath),
		"data":    p.DataDir,
		"logs":    p.LogDir,
		"reports": p.ReportDir,
		"metrics": filepath.Dir(p.TextfilePath),
	}
}

// Options defines optional settings for configuration.
type Options struct {
	AppName string
	DevMode bool
}

// Base carries the host facts directory roles resolve from.
type Base struct {
	GOOS string
	Home string
	// UserConfig is os.UserConfigDir: ~/.config, ~/Library/Application Support, or %AppData%.
	UserConfig string
	Getenv     func(string) string
}

// role is one class of file the tracker writes.
type role int

const (
	// roleConfig holds config.toml and the .env token file.
	roleConfig role = iota
	// roleData holds the state, ledger, database, and reports.
	roleData
	// roleRuntime holds logs and the metrics textfile.
	roleRuntime
)

// roleEnv names the variable that overrides a role root on each OS.
var roleEnv = map[string]map[role]string{
	"linux": {
		roleConfig:  "XDG_CONFIG_HOME",
		roleData:    "XDG_DATA_HOME",
		roleRuntime: "XDG_STATE_HOME",
	},
	"windows": {
		roleConfig:  "APPDATA",
		roleData:    "LOCALAPPDATA",
		roleRuntime: "LOCALAPPDATA",
	},
}

// root returns the base directory of r before the app name is appended.
func (b Base) root(r role) (string, error) {
	if name := roleEnv[b.GOOS][r]; name != "" && b.Getenv != nil {
		if v := strings.TrimSpace(b.Getenv(name)); v != "" {
			return v, nil
		}
	}
	if b.GOOS == "linux" && r != roleConfig {
		if b.Home == "" {
			return "", errors.New("home dir is required without XDG overrides")
		}
		if r == roleData {
			return filepath.Join(b.Home, ".local", "share"), nil
		}
		return filepath.Join(b.Home, ".local", "state"), nil
	}
	if b.UserConfig == "" {
		return "", errors.New("user config dir is required")
	}
	return b.UserConfig, nil
}

// Default resolves paths for the running host.
func Default(opts Options) (Paths, error) {
	appName := strings.TrimSpace(opts.AppName)
	if appName == "" {
		appName = AppName
	}
	if opts.DevMode {
		appName += "-dev"
	}
	userConfig, err := os.UserConfigDir()
	if err != nil {
		return Paths{}, fmt.Errorf("user config dir: %w", err)
	}
	home, _ := os.UserHomeDir()
	return Resolve(Base{GOOS: runtime.GOOS, Home: home, UserConfig: userConfig, Getenv: os.Getenv}, appName)
}

// Resolve lays out every tracker file under the config, data, and runtime roots of base.
func Resolve(base Base, appName string) (Paths, error) {
	appName = strings.TrimSpace(appName)
	if appName == "" {
		return Paths{}, errors.New("empty app name")
	}
	roots := map[role]string{}
	for _, r := range []role{roleConfig, roleData, roleRuntime} {
		dir, err := base.root(r)
		if err != nil {
			return Paths{}, err
		}
		roots[r] = filepath.Join(dir, appName)
	}
	if base.Getenv != nil {
		if v := strings.TrimSpace(base.Getenv(DataDirEnv)); v != "" {
			roots[roleData] = v
		}
	}

	configDir, dataDir, runtimeDir := roots[roleConfig], roots[roleData], roots[roleRuntime]
	return Paths{
		ConfigPath:   filepath.Join(configDir, "config.toml"),
		EnvPath:      filepath.Join(configDir, ".env"),
		DataDir:      dataDir,
		StatePath:    filepath.Join(dataDir, "tracker_state.json"),
		LedgerPath:   filepath.Join(dataDir, "change_history.csv"),
		DBPath:       filepath.Join(dataDir, appName+".db"),
		ReportDir:    filepath.Join(dataDir, "reports"),
		LogDir:       filepath.Join(runtimeDir, "logs"),
		TextfilePath: filepath.Join(runtimeDir, "metrics", appName+".prom"),
	}, nil
}
