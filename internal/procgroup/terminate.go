package procgroup

import (
	"os/exec"
	"strings"
	"time"

	"github.com/Joshi004/moments-pipeline/internal/metrics"
)

// Terminate gracefully stops a process group: SIGTERM, wait for exit via
// waitCh, escalate to SIGKILL after grace. Safe to call on a nil command
// (returns nil); always drains waitCh so the caller's goroutine doesn't
// leak, never raises.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if err := Kill(cmd, sigterm); err == nil {
		metrics.IncProcTerminate("SIGTERM", "sent")
	} else if isAlreadyExited(err) {
		metrics.IncProcTerminate("SIGTERM", "esrch")
	} else {
		metrics.IncProcTerminate("SIGTERM", "error")
	}

	select {
	case err := <-waitCh:
		if err == nil {
			metrics.IncProcWait("exit0")
		} else {
			metrics.IncProcWait("exit_nonzero")
		}
		return err
	case <-time.After(grace):
	}

	if err := Kill(cmd, sigkill); err == nil {
		metrics.IncProcTerminate("SIGKILL", "sent")
	} else if isAlreadyExited(err) {
		metrics.IncProcTerminate("SIGKILL", "esrch")
	} else {
		metrics.IncProcTerminate("SIGKILL", "error")
	}

	err := <-waitCh
	if err == nil {
		metrics.IncProcWait("forced_exit0")
	} else {
		metrics.IncProcWait("forced_error")
	}
	return err
}

func isAlreadyExited(err error) bool {
	return strings.Contains(err.Error(), "process already finished") ||
		strings.Contains(err.Error(), "no such process")
}
