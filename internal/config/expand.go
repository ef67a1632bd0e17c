package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandTilde replaces ~ or ~/path with the user's home directory.
// Does not support ~username syntax - just ~ for the current user.
func ExpandTilde(path string) string {
	if path == "" {
		return path
	}

	// Handle ~/path
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(getHome(), path[2:])
	}

	// Handle standalone ~
	if path == "~" {
		return getHome()
	}

	return path
}

// Expand replaces variables in a string with their values.
// Supported variables:
//   - ${USER} - current username
//   - ${HOME} - user's home directory
//
// Note: Does NOT expand ~ - use ExpandPath for filesystem paths.
func Expand(s string) string {
	if s == "" {
		return s
	}

	result := s

	if strings.Contains(result, "${USER}") {
		result = strings.ReplaceAll(result, "${USER}", getUser())
	}

	if strings.Contains(result, "${HOME}") {
		result = strings.ReplaceAll(result, "${HOME}", getHome())
	}

	return result
}

// ExpandPath applies Expand and ExpandTilde and cleans the result.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	return filepath.Clean(ExpandTilde(Expand(p)))
}

// expandPaths rewrites every path field of cfg in place.
func expandPaths(cfg *Config) {
	cfg.Log.Path = ExpandPath(cfg.Log.Path)
	cfg.Backup.Root = ExpandPath(cfg.Backup.Root)
	cfg.Backup.ImportRoot = ExpandPath(cfg.Backup.ImportRoot)
	for i, s := range cfg.Backup.Sources {
		cfg.Backup.Sources[i] = ExpandPath(s)
	}
}

// getUser returns the current username for ${USER} expansion.
func getUser() string {
	// Try USER env var first (most common)
	if user := os.Getenv("USER"); user != "" {
		return user
	}

	// Try LOGNAME (POSIX standard)
	if user := os.Getenv("LOGNAME"); user != "" {
		return user
	}

	// Try USERNAME (Windows)
	if user := os.Getenv("USERNAME"); user != "" {
		return user
	}

	return "user"
}

// getHome returns the home directory for ${HOME} expansion.
func getHome() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}

	// Fallback to HOME env var
	if home := os.Getenv("HOME"); home != "" {
		return home
	}

	return "~"
}

// stateHome follows XDG_STATE_HOME, defaulting to ~/.local/state.
func stateHome() string {
	if d := os.Getenv("XDG_STATE_HOME"); d != "" {
		return d
	}
	return filepath.Join(getHome(), ".local", "state")
}

// dataHome follows XDG_DATA_HOME, defaulting to ~/.local/share.
func dataHome() string {
	if d := os.Getenv("XDG_DATA_HOME"); d != "" {
		return d
	}
	return filepath.Join(getHome(), ".local", "share")
}

// configHome follows XDG_CONFIG_HOME, defaulting to ~/.config.
func configHome() string {
	if d := os.Getenv("XDG_CONFIG_HOME"); d != "" {
		return d
	}
	return filepath.Join(getHome(), ".config")
}
