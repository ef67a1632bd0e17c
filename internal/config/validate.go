package config

import (
	"fmt"
	"strings"

	"github.com/rileyhilliard/meshctl/internal/errors"
)

var validLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the config for errors and returns structured error messages.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New(errors.ErrConfig,
			"Config is nil",
			"This is unexpected - try reloading the configuration.")
	}

	// Check version
	if cfg.Version > CurrentConfigVersion {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("This config is from the future (version %d, but meshctl only knows up to %d)", cfg.Version, CurrentConfigVersion),
			"Upgrade meshctl, or regenerate the file with 'meshctl init --force'.")
	}

	if err := validateLog(cfg.Log); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(), "Check the 'log' section in your config.")
	}

	if err := validateRunner(cfg.Runner); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(), "Check the 'runner' section in your config.")
	}

	if cfg.Cache.TTL < 0 || cfg.Cache.VersionTTL < 0 {
		return errors.New(errors.ErrConfig,
			"Cache TTLs can't be negative",
			"Use 0 to disable caching, or a duration like 5s.")
	}

	for _, name := range cfg.ServiceNames() {
		if err := validateService(name, cfg.Services[name]); err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig, err.Error(),
				fmt.Sprintf("Check services.%s in your config.", name))
		}
	}

	if err := validateBackup(cfg.Backup); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(), "Check the 'backup' section in your config.")
	}

	return nil
}

func validateLog(l LogConfig) error {
	if l.Path == "" {
		return fmt.Errorf("log.path is empty")
	}
	if l.MaxSize <= 0 {
		return fmt.Errorf("log.max_size must be positive, got %d", l.MaxSize)
	}
	if l.Keep < 0 {
		return fmt.Errorf("log.keep can't be negative, got %d", l.Keep)
	}
	if !validLevels[strings.ToLower(l.Level)] {
		return fmt.Errorf("log.level '%s' is not one of debug, info, warn, error", l.Level)
	}
	return nil
}

func validateRunner(r RunnerConfig) error {
	if r.Timeout <= 0 {
		return fmt.Errorf("runner.timeout must be positive, got %s", r.Timeout)
	}
	if r.MaxAttempts < 1 {
		return fmt.Errorf("runner.max_attempts must be at least 1, got %d", r.MaxAttempts)
	}
	if r.BackoffBase < 0 {
		return fmt.Errorf("runner.backoff_base can't be negative, got %s", r.BackoffBase)
	}
	if r.BackoffCap < r.BackoffBase {
		return fmt.Errorf("runner.backoff_cap (%s) is below backoff_base (%s)", r.BackoffCap, r.BackoffBase)
	}
	return nil
}

func validateService(name string, s ServiceConfig) error {
	if strings.ContainsAny(name, " /\t") {
		return fmt.Errorf("service name '%s' can't contain spaces or slashes", name)
	}
	if err := validateArgv(name, "alive", s.Alive, true); err != nil {
		return err
	}
	for field, argv := range map[string][]string{"start": s.Start, "stop": s.Stop, "version": s.Version} {
		if err := validateArgv(name, field, argv, false); err != nil {
			return err
		}
	}
	if s.PollInterval <= 0 {
		return fmt.Errorf("services.%s.poll_interval must be positive, got %s", name, s.PollInterval)
	}
	if s.MaxWait < s.PollInterval {
		return fmt.Errorf("services.%s.max_wait (%s) is shorter than poll_interval (%s)", name, s.MaxWait, s.PollInterval)
	}
	return nil
}

// validateArgv rejects argument lists that look like a shell command line
// squeezed into one element.
func validateArgv(service, field string, argv []string, required bool) error {
	if len(argv) == 0 {
		if required {
			return fmt.Errorf("services.%s.%s is empty", service, field)
		}
		return nil
	}
	if strings.TrimSpace(argv[0]) == "" {
		return fmt.Errorf("services.%s.%s has an empty program name", service, field)
	}
	if strings.ContainsAny(argv[0], " \t") {
		return fmt.Errorf("services.%s.%s[0] is '%s'; list the program and each argument separately, e.g. [systemctl, --user, start, rnsd]",
			service, field, argv[0])
	}
	return nil
}

func validateBackup(b BackupConfig) error {
	if b.Root == "" {
		return fmt.Errorf("backup.root is empty")
	}
	if b.Keep < 0 {
		return fmt.Errorf("backup.keep can't be negative, got %d", b.Keep)
	}
	if b.LockTimeout <= 0 {
		return fmt.Errorf("backup.lock_timeout must be positive, got %s", b.LockTimeout)
	}
	if b.LockStale < 0 {
		return fmt.Errorf("backup.lock_stale can't be negative, got %s", b.LockStale)
	}
	seen := make(map[string]string)
	for _, s := range b.Sources {
		base := baseName(s)
		if prev, ok := seen[base]; ok {
			return fmt.Errorf("backup.sources %s and %s share the name '%s'", prev, s, base)
		}
		seen[base] = s
	}
	for _, d := range b.ExpectedDirs {
		if d == "" || strings.ContainsAny(d, `/\`) {
			return fmt.Errorf("backup.expected_dirs entry '%s' must be a single directory name", d)
		}
	}
	return nil
}

func baseName(p string) string {
	p = strings.TrimRight(p, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
