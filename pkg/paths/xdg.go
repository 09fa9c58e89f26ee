// Package paths provides XDG-compliant path resolution for airlock.
//
// Resolution order:
// 1. AIRLOCK_HOME (portable root) → $AIRLOCK_HOME/{config,data,state,cache,run}
// 2. XDG env vars → $XDG_*_HOME/airlock
// 3. Platform defaults → ~/.config/airlock, ~/.local/share/airlock, etc.
package paths

import (
	"os"
	"path/filepath"
)

const appName = "airlock"

func baseDir(portable, xdgVar string, fallback ...string) string {
	if home := os.Getenv("AIRLOCK_HOME"); home != "" {
		return filepath.Join(home, portable)
	}
	if dir := os.Getenv(xdgVar); dir != "" {
		return filepath.Join(dir, appName)
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		parts := append([]string{homeDir}, fallback...)
		return filepath.Join(append(parts, appName)...)
	}
	return ""
}

// ConfigDir returns the airlock configuration directory.
// Used for airlock.yml / airlock.toml.
func ConfigDir() string {
	return baseDir("config", "XDG_CONFIG_HOME", ".config")
}

// DataDir returns the airlock data directory.
// Workspaces live here unless configured elsewhere.
func DataDir() string {
	return baseDir("data", "XDG_DATA_HOME", ".local", "share")
}

// StateDir returns the airlock state directory.
// Used for the session registry, logs and the daemon pid file.
func StateDir() string {
	return baseDir("state", "XDG_STATE_HOME", ".local", "state")
}

// CacheDir returns the airlock cache directory.
func CacheDir() string {
	return baseDir("cache", "XDG_CACHE_HOME", ".cache")
}

// RuntimeDir returns the directory for sockets.
// Uses XDG_RUNTIME_DIR when available (Linux), falls back to StateDir (macOS).
func RuntimeDir() string {
	if home := os.Getenv("AIRLOCK_HOME"); home != "" {
		return filepath.Join(home, "run")
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, appName)
	}
	return StateDir()
}

// WorkspacesDir returns the default root for session workspaces.
func WorkspacesDir() string {
	return filepath.Join(DataDir(), "workspaces")
}

// RegistryPath returns the default session registry file.
func RegistryPath() string {
	return filepath.Join(StateDir(), "sessions.json")
}

// SocketPath returns the path to the airlock daemon unix socket.
func SocketPath() string {
	return filepath.Join(RuntimeDir(), "airlockd.sock")
}

// PidFilePath returns the path to the airlock daemon PID file.
func PidFilePath() string {
	return filepath.Join(StateDir(), "airlockd.pid")
}

// LogDir returns the directory for dated component log files.
func LogDir() string {
	return filepath.Join(StateDir(), "logs")
}

// EnsureDirs creates all airlock directories if they don't exist.
func EnsureDirs() error {
	dirs := []string{
		ConfigDir(),
		DataDir(),
		StateDir(),
		CacheDir(),
		RuntimeDir(),
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
