//go:build !windows

package compiler

import (
	"os/exec"
	"syscall"
)

// setProcessGroup launches the engine in its own process group so a
// Ctrl-C delivered to the daemon does not indiscriminately kill it; the
// daemon signals the group explicitly in killProcessGroup/Exit instead.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup sends SIGKILL to the whole process group.
func killProcessGroup(cmd *exec.Cmd) {
	pgid := cmd.Process.Pid
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
}

// interruptProcessGroup sends SIGINT to the whole process group: the
// same signal a foreground Ctrl-C would deliver, giving the engine's
// own interrupt handler a chance to run and report itself before the
// daemon escalates to killProcessGroup.
func interruptProcessGroup(cmd *exec.Cmd) {
	pgid := cmd.Process.Pid
	_ = syscall.Kill(-pgid, syscall.SIGINT)
}
