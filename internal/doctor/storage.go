package doctor

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rileyhilliard/meshctl/internal/lock"
)

// DirCheck verifies that a directory meshctl writes to exists and is
// writable. A missing directory is fixable.
type DirCheck struct {
	Label string
	Path  string
}

func (c *DirCheck) Name() string     { return "dir_" + c.Label }
func (c *DirCheck) Category() string { return CategoryStorage }

func (c *DirCheck) Run(context.Context) CheckResult {
	st, err := os.Stat(c.Path)
	switch {
	case os.IsNotExist(err):
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusWarn,
			Message:    fmt.Sprintf("%s directory %s doesn't exist yet", c.Label, c.Path),
			Suggestion: "It is created on first use, or run with --fix.",
			Fixable:    true,
		}
	case err != nil:
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    fmt.Sprintf("Can't read %s directory %s", c.Label, c.Path),
			Suggestion: err.Error(),
		}
	case !st.IsDir():
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    fmt.Sprintf("%s path %s is not a directory", c.Label, c.Path),
			Suggestion: "Move the file away or change the path in your config.",
		}
	}

	probe, err := os.CreateTemp(c.Path, ".meshctl-doctor-")
	if err != nil {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    fmt.Sprintf("%s directory %s is not writable", c.Label, c.Path),
			Suggestion: "Check its owner and permissions.",
		}
	}
	probe.Close()
	os.Remove(probe.Name())

	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: fmt.Sprintf("%s directory %s", c.Label, c.Path),
	}
}

// Fix creates the directory.
func (c *DirCheck) Fix() error {
	return os.MkdirAll(c.Path, 0o700)
}

// LockCheck reports a held backup lock. An abandoned lock is fixable.
type LockCheck struct {
	Dir   string
	Stale time.Duration
}

func (c *LockCheck) Name() string     { return "backup_lock" }
func (c *LockCheck) Category() string { return CategoryStorage }

func (c *LockCheck) Run(context.Context) CheckResult {
	if !lock.Held(c.Dir) {
		return CheckResult{
			Name:    c.Name(),
			Status:  StatusPass,
			Message: "Backup store is not locked",
		}
	}

	holder := lock.Holder(c.Dir)
	if lock.Abandoned(c.Dir, c.Stale) {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusWarn,
			Message:    fmt.Sprintf("Backup store has an abandoned lock held by %s", holder),
			Suggestion: "Run with --fix or 'meshctl backup unlock' to remove it.",
			Fixable:    true,
		}
	}
	return CheckResult{
		Name:       c.Name(),
		Status:     StatusWarn,
		Message:    fmt.Sprintf("Backup store is locked by %s", holder),
		Suggestion: "Another meshctl is working on the backups; wait for it to finish.",
	}
}

// Fix removes the lock only when it is abandoned.
func (c *LockCheck) Fix() error {
	if !lock.Abandoned(c.Dir, c.Stale) {
		return nil
	}
	return lock.ForceRelease(c.Dir)
}
