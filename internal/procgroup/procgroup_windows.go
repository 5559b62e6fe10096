//go:build windows

package procgroup

import (
	"os"
	"os/exec"
	"syscall"
	"time"
)

// Kill maps SIGKILL to Process.Kill(); Windows has no graceful SIGTERM
// equivalent for an arbitrary process tree, so SIGTERM is a no-op here and
// Terminate's grace window simply elapses before the SIGKILL escalation.
func Kill(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if sig == sigkill {
		return cmd.Process.Kill()
	}
	return nil
}

func set(cmd *exec.Cmd) {
	// No-op: Windows job objects would be the equivalent, out of scope here.
}

func killGroup(pid int, grace, timeout time.Duration) error {
	if pid <= 0 {
		return nil
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return proc.Kill()
}
