package config

import (
	"path/filepath"
	"sort"
	"time"
)

// CurrentConfigVersion is the schema version for the config file.
// Increment when making breaking changes to the config structure.
const CurrentConfigVersion = 1

// Config represents the complete meshctl configuration file.
type Config struct {
	Version  int                      `yaml:"version" mapstructure:"version"`
	Log      LogConfig                `yaml:"log" mapstructure:"log"`
	Cache    CacheConfig              `yaml:"cache" mapstructure:"cache"`
	Runner   RunnerConfig             `yaml:"runner" mapstructure:"runner"`
	Services map[string]ServiceConfig `yaml:"services" mapstructure:"services"`
	Backup   BackupConfig             `yaml:"backup" mapstructure:"backup"`
}

// LogConfig controls the rotating log file.
type LogConfig struct {
	// Path is the active log file. Rotated copies sit next to it as .1, .2, ...
	Path string `yaml:"path" mapstructure:"path"`

	// MaxSize in bytes triggers rotation before the next write.
	MaxSize int64 `yaml:"max_size" mapstructure:"max_size"`

	// Keep is how many rotated copies survive.
	Keep int `yaml:"keep" mapstructure:"keep"`

	// Level is the minimum level written: debug, info, warn or error.
	Level string `yaml:"level" mapstructure:"level"`
}

// CacheConfig controls how long status queries are reused.
type CacheConfig struct {
	// TTL applies to liveness checks shown on the dashboard.
	TTL time.Duration `yaml:"ttl" mapstructure:"ttl"`

	// VersionTTL applies to installed-version lookups.
	VersionTTL time.Duration `yaml:"version_ttl" mapstructure:"version_ttl"`
}

// RunnerConfig holds the defaults for every external command.
type RunnerConfig struct {
	// Timeout bounds each attempt; the child is killed when it expires.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// MaxAttempts bounds total launches per command.
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`

	// BackoffBase is the first retry delay; it doubles per attempt.
	BackoffBase time.Duration `yaml:"backoff_base" mapstructure:"backoff_base"`

	// BackoffCap is the largest retry delay.
	BackoffCap time.Duration `yaml:"backoff_cap" mapstructure:"backoff_cap"`
}

// ServiceConfig describes one managed service. Every command is an
// argument list; nothing is run through a shell.
type ServiceConfig struct {
	Alive        []string      `yaml:"alive" mapstructure:"alive"`
	Start        []string      `yaml:"start" mapstructure:"start"`
	Stop         []string      `yaml:"stop" mapstructure:"stop"`
	Version      []string      `yaml:"version" mapstructure:"version"`
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	MaxWait      time.Duration `yaml:"max_wait" mapstructure:"max_wait"`
}

// BackupConfig controls snapshots and archive import.
type BackupConfig struct {
	// Root holds one directory per snapshot.
	Root string `yaml:"root" mapstructure:"root"`

	// Keep is the retention bound applied by 'backup prune' and after
	// 'backup create' and 'backup import'.
	Keep int `yaml:"keep" mapstructure:"keep"`

	// Sources are the directories captured by a snapshot.
	Sources []string `yaml:"sources" mapstructure:"sources"`

	// ImportRoot receives the directories of an imported archive.
	ImportRoot string `yaml:"import_root" mapstructure:"import_root"`

	// LockTimeout is how long to wait for another meshctl holding the
	// backup directory.
	LockTimeout time.Duration `yaml:"lock_timeout" mapstructure:"lock_timeout"`

	// LockStale is when a held lock is considered abandoned.
	LockStale time.Duration `yaml:"lock_stale" mapstructure:"lock_stale"`

	// ExpectedDirs are the top-level directories a genuine export carries.
	ExpectedDirs []string `yaml:"expected_dirs" mapstructure:"expected_dirs"`
}

// ExpectedConfigDirs are the configuration directories of the Reticulum
// stack, relative to the home directory.
var ExpectedConfigDirs = []string{".reticulum", ".nomadnetwork", ".lxmf", ".rnsh"}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	home := getHome()

	sources := make([]string, len(ExpectedConfigDirs))
	for i, d := range ExpectedConfigDirs {
		sources[i] = filepath.Join(home, d)
	}

	return &Config{
		Version: CurrentConfigVersion,
		Log: LogConfig{
			Path:    filepath.Join(stateHome(), "meshctl", "meshctl.log"),
			MaxSize: 1 << 20,
			Keep:    3,
			Level:   "info",
		},
		Cache: CacheConfig{
			TTL:        5 * time.Second,
			VersionTTL: 10 * time.Minute,
		},
		Runner: RunnerConfig{
			Timeout:     30 * time.Second,
			MaxAttempts: 3,
			BackoffBase: time.Second,
			BackoffCap:  30 * time.Second,
		},
		Services: map[string]ServiceConfig{
			"rnsd": defaultService("rnsd"),
			"lxmd": defaultService("lxmd"),
		},
		Backup: BackupConfig{
			Root:         filepath.Join(dataHome(), "meshctl", "backups"),
			Keep:         3,
			Sources:      sources,
			ImportRoot:   home,
			LockTimeout:  30 * time.Second,
			LockStale:    10 * time.Minute,
			ExpectedDirs: append([]string(nil), ExpectedConfigDirs...),
		},
	}
}

// defaultService manages name as a systemd user unit and probes it by
// exact process name.
func defaultService(name string) ServiceConfig {
	return ServiceConfig{
		Alive:        []string{"pgrep", "-x", name},
		Start:        []string{"systemctl", "--user", "start", name},
		Stop:         []string{"systemctl", "--user", "stop", name},
		Version:      []string{name, "--version"},
		PollInterval: 500 * time.Millisecond,
		MaxWait:      15 * time.Second,
	}
}

// ServiceNames returns the configured service names in sorted order.
func (c *Config) ServiceNames() []string {
	names := make([]string, 0, len(c.Services))
	for name := range c.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
