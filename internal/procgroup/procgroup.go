// Package procgroup manages OS process groups for subprocesses the
// pipeline spawns (ssh port-forwarders, codec subprocesses). Grounded on
// the teacher's internal/procgroup: start every managed subprocess in its
// own process group so a single Kill/Terminate call reaps the whole tree,
// and tunnel teardown never leaves an orphaned child behind.
package procgroup

import (
	"errors"
	"os/exec"
	"syscall"
	"time"
)

const (
	sigterm = syscall.SIGTERM
	sigkill = syscall.SIGKILL
)

// ErrProcessNotFound names a kill that targets a process group that no
// longer exists. Kill and KillGroup do not return it: they treat a missing
// group as already reaped and return nil.
var ErrProcessNotFound = errors.New("procgroup: process not found")

// ErrKillFailed is returned when neither SIGTERM nor SIGKILL succeeded in
// reaping the process group within the caller's bounded timeout.
var ErrKillFailed = errors.New("procgroup: kill operation failed")

// Set configures cmd to start as the leader of a new process group.
// Mandatory before Kill/Terminate/KillGroup will work as a group reaper.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// KillGroup terminates an entire process group tree by pid, trying SIGTERM
// first and escalating to SIGKILL after grace, bounded by timeout.
func KillGroup(pid int, grace, timeout time.Duration) error {
	return killGroup(pid, grace, timeout)
}
