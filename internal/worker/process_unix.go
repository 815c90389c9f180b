//go:build unix

package worker

import (
	"os/exec"
	"syscall"
)

// stopGroup runs the child in its own process group and terminates the whole
// group on cancellation, so tools the child started go down with it. The
// command's WaitDelay remains the SIGKILL backstop for the child itself.
func stopGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
}

// killGroup removes whatever is left of the child's process group.
func killGroup(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
