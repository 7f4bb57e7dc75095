//go:build unix

package terraform

import (
	"os/exec"
	"syscall"
)

// killProcessGroup runs the command in its own process group and kills
// the whole group on cancellation, so providers spawned by terraform do
// not outlive it.
func killProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
