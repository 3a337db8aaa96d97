// Package config loads the Orchestrator's run parameters (spec.md §6
// "Environment inputs") from defaults, global/project config files, and
// environment variables, in that priority order.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Paths contains the standard directories for ArcadiaForge's own
// global state (distinct from a project's .arcadia/ directory, which
// holds per-project state per spec.md §6's "Per-project layout").
type Paths struct {
	Data   string // ~/.local/share/arcadiaforge
	Config string // ~/.config/arcadiaforge
	Cache  string // ~/.cache/arcadiaforge
	State  string // ~/.local/state/arcadiaforge
}

// GetPaths returns the standard paths for ArcadiaForge's global state.
func GetPaths() *Paths {
	return &Paths{
		Data:   filepath.Join(getEnvOrDefault("XDG_DATA_HOME", defaultDataHome()), "arcadiaforge"),
		Config: filepath.Join(getEnvOrDefault("XDG_CONFIG_HOME", defaultConfigHome()), "arcadiaforge"),
		Cache:  filepath.Join(getEnvOrDefault("XDG_CACHE_HOME", defaultCacheHome()), "arcadiaforge"),
		State:  filepath.Join(getEnvOrDefault("XDG_STATE_HOME", defaultStateHome()), "arcadiaforge"),
	}
}

// EnsurePaths creates all required directories.
func (p *Paths) EnsurePaths() error {
	for _, dir := range []string{p.Data, p.Config, p.Cache, p.State} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultDataHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "share")
}

func defaultConfigHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".config")
}

func defaultCacheHome() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "cache")
	}
	return filepath.Join(os.Getenv("HOME"), ".cache")
}

func defaultStateHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "state")
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	return filepath.Join(GetPaths().Config, "config.json")
}

// ProjectConfigPath returns the path to a project's config file
// (spec.md §6's "<project>/.arcadia/" layout).
func ProjectConfigPath(directory string) string {
	return filepath.Join(directory, ".arcadia", "config.json")
}
