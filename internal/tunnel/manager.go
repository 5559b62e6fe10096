// Package tunnel is the Tunnel Manager: scoped acquisition of a local
// network forward to a remote inference endpoint, with readiness probing,
// lifecycle scoping, and port management. Grounded on the teacher's
// internal/procgroup (process-group lifetime) and
// internal/pipeline/exec/ffmpeg.Runner (mutex-guarded *exec.Cmd, a
// buffered result channel, start/exit metrics) — generalized from
// "supervise one ffmpeg subprocess" to "supervise one ssh port-forward
// subprocess per model key, serialized per key."
package tunnel

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/Joshi004/moments-pipeline/internal/log"
	"github.com/Joshi004/moments-pipeline/internal/metrics"
	"github.com/Joshi004/moments-pipeline/internal/procgroup"
	"github.com/Joshi004/moments-pipeline/internal/registry"
)

// DefaultReadinessTimeout and DefaultReadinessInterval are the spec's
// bounded readiness-probe defaults.
const (
	DefaultReadinessTimeout  = 30 * time.Second
	DefaultReadinessInterval = 500 * time.Millisecond
	DefaultKillGrace         = 3 * time.Second
	DefaultKillTimeout       = 5 * time.Second
)

// Manager acquires and tears down tunnels to remote inference endpoints.
type Manager struct {
	Registry *registry.Registry

	// SSHBin overrides the ssh client binary; empty uses "ssh" from PATH.
	// Exposed the same way stage.FFmpegExtractor exposes FFmpegBin, so
	// ops can point at a wrapper and tests can point at a fake forwarder.
	SSHBin string

	ReadinessTimeout  time.Duration
	ReadinessInterval time.Duration
	KillGrace         time.Duration
	KillTimeout       time.Duration

	keyMu sync.Mutex
	locks map[string]*sync.Mutex

	portMu     sync.Mutex
	portOwners map[int]int // local_port -> last pid we spawned there, for attribution-based cleanup
}

// New returns a Manager bound to a Model Registry.
func New(reg *registry.Registry) *Manager {
	return &Manager{
		Registry:          reg,
		ReadinessTimeout:  DefaultReadinessTimeout,
		ReadinessInterval: DefaultReadinessInterval,
		KillGrace:         DefaultKillGrace,
		KillTimeout:       DefaultKillTimeout,
		locks:             make(map[string]*sync.Mutex),
		portOwners:        make(map[int]int),
	}
}

// Handle is a scoped acquisition of a local endpoint forwarded to a remote
// inference service. Callers must call Release on every exit path —
// normal return, error, or cancellation.
type Handle struct {
	BaseURL  string
	modelKey string
	cmd      *forwarderProc
	release  func()
	once     sync.Once
}

// Release terminates the forwarder and its OS resources. Idempotent and
// never raises — the spec requires release to be safe to call more than
// once and to never panic, matching procgroup.Terminate's contract.
func (h *Handle) Release() {
	h.once.Do(func() {
		if h.release != nil {
			h.release()
		}
	})
}

func (m *Manager) keyLock(modelKey string) *sync.Mutex {
	m.keyMu.Lock()
	defer m.keyMu.Unlock()
	l, ok := m.locks[modelKey]
	if !ok {
		l = &sync.Mutex{}
		m.locks[modelKey] = l
	}
	return l
}

// Acquire resolves modelKey's descriptor, starts a forwarder, waits for
// readiness, and returns a Handle. Acquisitions for the same model_key are
// serialized on this worker; acquisitions for different keys proceed in
// parallel.
func (m *Manager) Acquire(ctx context.Context, modelKey string) (*Handle, error) {
	lock := m.keyLock(modelKey)
	lock.Lock()
	defer lock.Unlock()

	logger := log.WithComponent("tunnel")

	d, err := m.Registry.Resolve(ctx, modelKey, "tunnel.Acquire")
	if err != nil {
		metrics.TunnelAcquireTotal.WithLabelValues(modelKey, "resolve_error").Inc()
		return nil, err
	}

	if err := m.ensurePortFree(ctx, d.LocalPort); err != nil {
		metrics.TunnelAcquireTotal.WithLabelValues(modelKey, "port_in_use").Inc()
		return nil, err
	}

	proc, err := startForwarder(m.SSHBin, d)
	if err != nil {
		metrics.TunnelAcquireTotal.WithLabelValues(modelKey, "spawn_error").Inc()
		return nil, fmt.Errorf("tunnel: start forwarder for %s: %w", modelKey, err)
	}
	m.recordPortOwner(d.LocalPort, proc.pid)

	if err := waitReady(ctx, d.LocalPort, m.readinessTimeout(), m.readinessInterval()); err != nil {
		proc.terminate(m.killGrace())
		metrics.TunnelAcquireTotal.WithLabelValues(modelKey, "readiness_timeout").Inc()
		return nil, fmt.Errorf("%w: model_key=%s port=%d", ErrReadinessTimeout, modelKey, d.LocalPort)
	}

	metrics.TunnelAcquireTotal.WithLabelValues(modelKey, "ok").Inc()
	metrics.TunnelActive.Inc()
	logger.Info().Str("model_key", modelKey).Int("local_port", d.LocalPort).Msg("tunnel ready")

	h := &Handle{
		BaseURL:  fmt.Sprintf("http://127.0.0.1:%d", d.LocalPort),
		modelKey: modelKey,
		cmd:      proc,
	}
	h.release = func() {
		proc.terminate(m.killGrace())
		metrics.TunnelActive.Dec()
		logger.Info().Str("model_key", modelKey).Msg("tunnel released")
	}
	return h, nil
}

// ensurePortFree checks whether local_port is already accepting
// connections from a previously orphaned forwarder we can attribute to
// ourselves, kills it, and retries once. Fails with ErrLocalPortInUse if
// still blocked.
func (m *Manager) ensurePortFree(ctx context.Context, port int) error {
	if !portOpen(port) {
		return nil
	}

	m.portMu.Lock()
	pid, attributable := m.portOwners[port]
	m.portMu.Unlock()

	if attributable {
		_ = procgroup.KillGroup(pid, m.killGrace(), m.killTimeout())
	}

	// Give the OS a moment to release the socket, then check once more.
	deadline := time.Now().Add(m.killTimeout())
	for time.Now().Before(deadline) {
		if !portOpen(port) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}

	if portOpen(port) {
		return fmt.Errorf("%w: port=%d", ErrLocalPortInUse, port)
	}
	return nil
}

func (m *Manager) recordPortOwner(port, pid int) {
	m.portMu.Lock()
	defer m.portMu.Unlock()
	m.portOwners[port] = pid
}

func portOpen(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 200*time.Millisecond)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func waitReady(ctx context.Context, port int, timeout, interval time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if portOpen(port) {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrReadinessTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (m *Manager) readinessTimeout() time.Duration {
	if m.ReadinessTimeout > 0 {
		return m.ReadinessTimeout
	}
	return DefaultReadinessTimeout
}

func (m *Manager) readinessInterval() time.Duration {
	if m.ReadinessInterval > 0 {
		return m.ReadinessInterval
	}
	return DefaultReadinessInterval
}

func (m *Manager) killGrace() time.Duration {
	if m.KillGrace > 0 {
		return m.KillGrace
	}
	return DefaultKillGrace
}

func (m *Manager) killTimeout() time.Duration {
	if m.KillTimeout > 0 {
		return m.KillTimeout
	}
	return DefaultKillTimeout
}
