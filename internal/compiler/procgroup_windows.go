//go:build windows

package compiler

import "os/exec"

// setProcessGroup is a no-op on Windows; process-group style interrupt
// isolation is handled by CREATE_NEW_PROCESS_GROUP at a higher layer if
// ever needed, which this daemon does not currently set up.
func setProcessGroup(cmd *exec.Cmd) {}

// killProcessGroup kills just the direct child process on Windows.
func killProcessGroup(cmd *exec.Cmd) {
	_ = cmd.Process.Kill()
}

// interruptProcessGroup has no soft equivalent on Windows without the
// console-control-event machinery setProcessGroup above doesn't set up,
// so it falls straight through to the hard kill.
func interruptProcessGroup(cmd *exec.Cmd) {
	_ = cmd.Process.Kill()
}
