//go:build unix

package exec

import (
	"os/exec"
	"syscall"
)

// setProcessGroup puts the child in its own process group and makes
// context cancellation kill the whole group, so helpers spawned by the
// child cannot outlive the timeout.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
