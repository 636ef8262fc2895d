//go:build unix

package supervise

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcessGroup places the child in its own process group so a kill
// reaches any helpers the fold binary forks.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killGroup sends SIGKILL to the whole process group, falling back to
// the single process if the group signal fails.
func killGroup(pid int) error {
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil {
		return unix.Kill(pid, unix.SIGKILL)
	}
	return nil
}
