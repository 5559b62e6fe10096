package tunnel

import (
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/Joshi004/moments-pipeline/internal/domain"
	"github.com/Joshi004/moments-pipeline/internal/procgroup"
)

// defaultSSHBin is the system ssh client used when Manager.SSHBin is
// unset, matching the spec's "secure shell port forward or equivalent."
const defaultSSHBin = "ssh"

// newForwarderCmd builds the `ssh -N -L local:remote_host:remote_port
// user@host` command for a descriptor, started in its own process group
// so procgroup.KillGroup can reap the whole tree on release. sshBin lets
// callers point at a wrapper (e.g. a non-standard ssh path, or a fake
// forwarder in tests) the same way FFmpegExtractor exposes FFmpegBin.
func newForwarderCmd(sshBin string, d domain.ModelDescriptor) *exec.Cmd {
	if sshBin == "" {
		sshBin = defaultSSHBin
	}
	forward := fmt.Sprintf("%d:%s:%d", d.LocalPort, d.RemoteHost, d.RemotePort)
	target := d.SSHHost
	if d.SSHUser != "" {
		target = d.SSHUser + "@" + d.SSHHost
	}
	cmd := exec.Command(sshBin,
		"-N", // no remote command, forward only
		"-o", "ExitOnForwardFailure=yes",
		"-o", "StrictHostKeyChecking=accept-new",
		"-L", forward,
		target,
	)
	procgroup.Set(cmd)
	return cmd
}

// forwarderProc is a running ssh forwarder subprocess, mirroring the
// teacher's ffmpeg.Runner: a mutex-guarded *exec.Cmd plus a buffered exit
// channel so terminate() never blocks on a subprocess that already died.
type forwarderProc struct {
	mu    sync.Mutex
	cmd   *exec.Cmd
	pid   int
	exitC chan error
}

// startForwarder spawns the forwarder for d and returns once the process
// has started (not once the tunnel is ready — readiness is probed
// separately by the Manager).
func startForwarder(sshBin string, d domain.ModelDescriptor) (*forwarderProc, error) {
	cmd := newForwarderCmd(sshBin, d)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &forwarderProc{cmd: cmd, pid: cmd.Process.Pid, exitC: make(chan error, 1)}
	go func() {
		p.exitC <- cmd.Wait()
	}()
	return p, nil
}

// terminate stops the forwarder's process group, tolerating a process
// that has already exited on its own.
func (p *forwarderProc) terminate(grace time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pid == 0 {
		return
	}
	_ = procgroup.KillGroup(p.pid, grace, grace+2*time.Second)
	select {
	case <-p.exitC:
	case <-time.After(grace + 2*time.Second):
	}
	p.pid = 0
}
