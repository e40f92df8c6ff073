// Package config loads the runtime's configuration: global and per-project
// JSONC documents merged with environment-variable overrides, plus the
// on-disk layout for durable state.
package config

import (
	"os"
	"path/filepath"
	goruntime "runtime"
)

// Paths contains the standard filesystem locations for runtime data.
type Paths struct {
	Data   string // ~/.local/share/agent-runtime
	Config string // ~/.config/agent-runtime
	State  string // ~/.local/state/agent-runtime
}

// GetPaths returns the standard paths for runtime data.
func GetPaths() *Paths {
	return &Paths{
		Data:   filepath.Join(getEnvOrDefault("XDG_DATA_HOME", defaultDataHome()), "agent-runtime"),
		Config: filepath.Join(getEnvOrDefault("XDG_CONFIG_HOME", defaultConfigHome()), "agent-runtime"),
		State:  filepath.Join(getEnvOrDefault("XDG_STATE_HOME", defaultStateHome()), "agent-runtime"),
	}
}

// EnsurePaths creates all required directories.
func (p *Paths) EnsurePaths() error {
	for _, dir := range []string{p.Data, p.Config, p.State} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// SessionsPath is `sessions/`.
func (p *Paths) SessionsPath() string { return filepath.Join(p.Data, "sessions") }

// TasksPath is `tasks/`.
func (p *Paths) TasksPath() string { return filepath.Join(p.Data, "tasks") }

// WorkspacePath is `workspace/`.
func (p *Paths) WorkspacePath() string { return filepath.Join(p.Data, "workspace") }

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultDataHome() string {
	if goruntime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "share")
}

func defaultConfigHome() string {
	if goruntime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".config")
}

func defaultStateHome() string {
	if goruntime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "state")
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	return filepath.Join(GetPaths().Config, "runtime.jsonc")
}

// ProjectConfigPath returns the path to the project config file.
func ProjectConfigPath(directory string) string {
	return filepath.Join(directory, ".agent-runtime", "runtime.jsonc")
}

// GlobalTemplatesPath returns the path to the global prompt-template
// document.
func GlobalTemplatesPath() string {
	return filepath.Join(GetPaths().Config, "templates.yaml")
}

// ProjectTemplatesPath returns the path to the project prompt-template
// document.
func ProjectTemplatesPath(directory string) string {
	return filepath.Join(directory, ".agent-runtime", "templates.yaml")
}
