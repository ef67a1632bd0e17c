package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/rileyhilliard/meshctl/internal/errors"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. MESHCTL_RUNNER_TIMEOUT.
	EnvPrefix = "MESHCTL"
	// ConfigDirName is the directory under the XDG config home.
	ConfigDirName = "meshctl"
	// ConfigFileName is the config file name.
	ConfigFileName = "config.yaml"
)

// DefaultPath returns where meshctl looks for its config file.
func DefaultPath() string {
	return filepath.Join(configHome(), ConfigDirName, ConfigFileName)
}

// Load reads config from the specified path.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				"Config file not found",
				"Run 'meshctl init' to create a config file, or specify one with --config")
		}
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to read config file",
			"Check the file exists and is valid YAML")
	}

	return parseConfig(v, path)
}

// Find locates the config file using the search order:
// 1. Explicit path (from --config flag)
// 2. $MESHCTL_CONFIG
// 3. $XDG_CONFIG_HOME/meshctl/config.yaml (~/.config/meshctl/config.yaml)
//
// Returns the path to the config file, or empty string if not found.
func Find(explicit string) (string, error) {
	if explicit == "" {
		explicit = os.Getenv(EnvPrefix + "_CONFIG")
	}

	// Explicit path takes precedence
	if explicit != "" {
		explicit = ExpandPath(explicit)
		if _, err := os.Stat(explicit); err != nil {
			if os.IsNotExist(err) {
				return "", errors.WrapWithCode(err, errors.ErrConfig,
					"Specified config file not found: "+explicit,
					"Check the path is correct")
			}
			return "", errors.WrapWithCode(err, errors.ErrConfig,
				"Cannot access config file: "+explicit,
				"Check file permissions")
		}
		return explicit, nil
	}

	if p := DefaultPath(); fileExists(p) {
		return p, nil
	}
	return "", nil
}

// LoadOrDefault loads config from the found path, or returns defaults if
// none exists. Environment overrides apply either way.
func LoadOrDefault(explicit string) (*Config, string, error) {
	path, err := Find(explicit)
	if err != nil {
		return nil, "", err
	}

	if path == "" {
		cfg, err := parseConfig(newViper(), "defaults")
		return cfg, "", err
	}

	cfg, err := Load(path)
	return cfg, path, err
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())
	return v
}

// parseConfig converts viper config to our Config struct with defaults merged in.
func parseConfig(v *viper.Viper, path string) (*Config, error) {
	cfg := &Config{}

	// Unmarshal into config
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Invalid config format",
			"Check the YAML syntax in "+path)
	}

	expandPaths(cfg)
	return cfg, nil
}

// setDefaults registers every default as a viper default, so a file that
// sets one field of a section (or one field of a default service) keeps
// the rest, and environment overrides are seen by Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("version", d.Version)

	v.SetDefault("log.path", d.Log.Path)
	v.SetDefault("log.max_size", d.Log.MaxSize)
	v.SetDefault("log.keep", d.Log.Keep)
	v.SetDefault("log.level", d.Log.Level)

	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.version_ttl", d.Cache.VersionTTL)

	v.SetDefault("runner.timeout", d.Runner.Timeout)
	v.SetDefault("runner.max_attempts", d.Runner.MaxAttempts)
	v.SetDefault("runner.backoff_base", d.Runner.BackoffBase)
	v.SetDefault("runner.backoff_cap", d.Runner.BackoffCap)

	for name, s := range d.Services {
		prefix := "services." + name + "."
		v.SetDefault(prefix+"alive", s.Alive)
		v.SetDefault(prefix+"start", s.Start)
		v.SetDefault(prefix+"stop", s.Stop)
		v.SetDefault(prefix+"version", s.Version)
		v.SetDefault(prefix+"poll_interval", s.PollInterval)
		v.SetDefault(prefix+"max_wait", s.MaxWait)
	}

	v.SetDefault("backup.root", d.Backup.Root)
	v.SetDefault("backup.keep", d.Backup.Keep)
	v.SetDefault("backup.sources", d.Backup.Sources)
	v.SetDefault("backup.import_root", d.Backup.ImportRoot)
	v.SetDefault("backup.lock_timeout", d.Backup.LockTimeout)
	v.SetDefault("backup.lock_stale", d.Backup.LockStale)
	v.SetDefault("backup.expected_dirs", d.Backup.ExpectedDirs)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
