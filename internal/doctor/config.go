package doctor

import (
	"context"
	"fmt"

	"github.com/rileyhilliard/meshctl/internal/config"
)

// ConfigCheck verifies that the config file loads and validates. Running
// on built-in defaults is a warning that 'init' can fix.
type ConfigCheck struct {
	ConfigPath string // Explicit path, or empty to search
}

func (c *ConfigCheck) Name() string     { return "config" }
func (c *ConfigCheck) Category() string { return CategoryConfig }

func (c *ConfigCheck) Run(context.Context) CheckResult {
	path, err := config.Find(c.ConfigPath)
	if err != nil {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    fmt.Sprintf("Error finding config: %v", firstLine(err)),
			Suggestion: "Check the --config path and file permissions.",
		}
	}
	if path == "" {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusWarn,
			Message:    "No config file, using built-in defaults",
			Suggestion: fmt.Sprintf("Run 'meshctl init' to write %s.", config.DefaultPath()),
			Fixable:    true,
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    fmt.Sprintf("Failed to load %s", path),
			Suggestion: firstLine(err),
		}
	}
	if err := config.Validate(cfg); err != nil {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    fmt.Sprintf("%s is invalid", path),
			Suggestion: firstLine(err),
		}
	}

	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: fmt.Sprintf("Config %s (%d service%s)", path, len(cfg.Services), pluralize(len(cfg.Services))),
	}
}

// Fix writes the default config when none exists.
func (c *ConfigCheck) Fix() error {
	path, err := config.Find(c.ConfigPath)
	if err != nil || path != "" {
		return err
	}
	target := c.ConfigPath
	if target == "" {
		target = config.DefaultPath()
	}
	return config.WriteFile(config.ExpandPath(target), config.DefaultConfig(), false)
}
