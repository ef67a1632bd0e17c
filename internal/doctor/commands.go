package doctor

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rileyhilliard/meshctl/internal/errors"
)

// CommandCheck verifies that the program a configured command runs can be
// found in PATH.
type CommandCheck struct {
	// Owner is what the command belongs to, e.g. "rnsd alive" or "backup".
	Owner string
	Argv  []string
	// Required commands fail when missing; others only warn.
	Required bool
	// LookPath defaults to exec.LookPath.
	LookPath func(file string) (string, error)
}

func (c *CommandCheck) Name() string {
	return "command_" + strings.ReplaceAll(c.Owner, " ", "_")
}

func (c *CommandCheck) Category() string { return CategoryCommands }

func (c *CommandCheck) Run(context.Context) CheckResult {
	if len(c.Argv) == 0 {
		return CheckResult{
			Name:    c.Name(),
			Status:  StatusPass,
			Message: fmt.Sprintf("%s: not configured", c.Owner),
		}
	}

	lookPath := c.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	path, err := lookPath(c.Argv[0])
	if err != nil {
		status := StatusWarn
		if c.Required {
			status = StatusFail
		}
		return CheckResult{
			Name:       c.Name(),
			Status:     status,
			Message:    fmt.Sprintf("%s: '%s' not found in PATH", c.Owner, c.Argv[0]),
			Suggestion: "Install it, or point the command at its full path in your config.",
		}
	}

	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: fmt.Sprintf("%s: %s", c.Owner, path),
	}
}

func (c *CommandCheck) Fix() error {
	return nil
}

// firstLine keeps the headline of a structured error.
func firstLine(err error) string {
	var e *errors.Error
	if errors.As(err, &e) {
		return e.Message
	}
	s := err.Error()
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
