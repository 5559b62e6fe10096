package tunnel

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Joshi004/moments-pipeline/internal/coordstore"
	"github.com/Joshi004/moments-pipeline/internal/domain"
	"github.com/Joshi004/moments-pipeline/internal/registry"
)

// fakeSSHScript writes a standin for the system ssh client: it parses the
// "-L local:host:port" forward argument out of its own argv and opens a
// real listener on the local port, simulating a ready tunnel, until
// killed. Grounded on procgroup's real-subprocess test style rather than
// a mock, since Acquire's readiness probe dials a real TCP socket.
func fakeSSHScript(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-ssh.py")
	script := `#!/usr/bin/env python3
import socket, sys, time

def main():
    args = sys.argv[1:]
    port = None
    for i, a in enumerate(args):
        if a == "-L" and i + 1 < len(args):
            port = int(args[i + 1].split(":")[0])
    if port is None:
        sys.exit(2)
    s = socket.socket(socket.AF_INET, socket.SOCK_STREAM)
    s.setsockopt(socket.SOL_SOCKET, socket.SO_REUSEADDR, 1)
    s.bind(("127.0.0.1", port))
    s.listen(5)
    while True:
        time.sleep(3600)

if __name__ == "__main__":
    main()
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return registry.New(coordstore.FromRedisClient(rdb))
}

func TestAcquire_ReadyTunnelReturnsDialableBaseURL(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	port := freePort(t)
	require.NoError(t, reg.Update(ctx, "gen-a", domain.ModelDescriptor{
		ModelKey: "gen-a", SSHHost: "bastion", RemoteHost: "127.0.0.1", RemotePort: 9999, LocalPort: port,
	}))

	m := New(reg)
	m.SSHBin = fakeSSHScript(t)
	m.ReadinessInterval = 20 * time.Millisecond
	m.ReadinessTimeout = 2 * time.Second
	m.KillGrace = 200 * time.Millisecond
	m.KillTimeout = time.Second

	h, err := m.Acquire(ctx, "gen-a")
	require.NoError(t, err)
	require.NotNil(t, h)
	defer h.Release()

	assert.Equal(t, "http://127.0.0.1:"+strconv.Itoa(port), h.BaseURL)
	assert.True(t, portOpen(port))
}

func TestAcquire_ReleaseIsIdempotentAndFreesThePort(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	port := freePort(t)
	require.NoError(t, reg.Update(ctx, "gen-a", domain.ModelDescriptor{
		ModelKey: "gen-a", SSHHost: "bastion", RemoteHost: "127.0.0.1", RemotePort: 9999, LocalPort: port,
	}))

	m := New(reg)
	m.SSHBin = fakeSSHScript(t)
	m.ReadinessInterval = 20 * time.Millisecond
	m.ReadinessTimeout = 2 * time.Second
	m.KillGrace = 200 * time.Millisecond
	m.KillTimeout = time.Second

	h, err := m.Acquire(ctx, "gen-a")
	require.NoError(t, err)

	h.Release()
	h.Release() // must not panic or double-free

	require.Eventually(t, func() bool { return !portOpen(port) }, 2*time.Second, 20*time.Millisecond)
}

func TestAcquire_UnregisteredModelKeyFails(t *testing.T) {
	reg := newTestRegistry(t)
	m := New(reg)
	_, err := m.Acquire(context.Background(), "does-not-exist")
	assert.Error(t, err)
}

func TestAcquire_ReadinessTimeoutWhenForwarderNeverOpensThePort(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	port := freePort(t)
	require.NoError(t, reg.Update(ctx, "gen-a", domain.ModelDescriptor{
		ModelKey: "gen-a", SSHHost: "bastion", RemoteHost: "127.0.0.1", RemotePort: 9999, LocalPort: port,
	}))

	m := New(reg)
	m.SSHBin = "sleep" // a process that starts but never binds the local port
	m.ReadinessInterval = 10 * time.Millisecond
	m.ReadinessTimeout = 150 * time.Millisecond
	m.KillGrace = 50 * time.Millisecond
	m.KillTimeout = 200 * time.Millisecond

	_, err := m.Acquire(ctx, "gen-a")
	assert.ErrorIs(t, err, ErrReadinessTimeout)
}

func TestAcquire_PortInUseByUnattributableProcessFails(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	port := l.Addr().(*net.TCPAddr).Port

	require.NoError(t, reg.Update(ctx, "gen-a", domain.ModelDescriptor{
		ModelKey: "gen-a", SSHHost: "bastion", RemoteHost: "127.0.0.1", RemotePort: 9999, LocalPort: port,
	}))

	m := New(reg)
	m.KillGrace = 30 * time.Millisecond
	m.KillTimeout = 100 * time.Millisecond

	_, err = m.Acquire(ctx, "gen-a")
	assert.ErrorIs(t, err, ErrLocalPortInUse)
}

func TestAcquire_ReacquiresTheSameModelKeyAfterRelease(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	port := freePort(t)
	require.NoError(t, reg.Update(ctx, "gen-a", domain.ModelDescriptor{
		ModelKey: "gen-a", SSHHost: "bastion", RemoteHost: "127.0.0.1", RemotePort: 9999, LocalPort: port,
	}))

	m := New(reg)
	m.SSHBin = fakeSSHScript(t)
	m.ReadinessInterval = 20 * time.Millisecond
	m.ReadinessTimeout = 2 * time.Second
	m.KillGrace = 200 * time.Millisecond
	m.KillTimeout = time.Second

	h, err := m.Acquire(ctx, "gen-a")
	require.NoError(t, err)
	h.Release()

	require.Eventually(t, func() bool { return !portOpen(port) }, 2*time.Second, 20*time.Millisecond)

	h2, err := m.Acquire(ctx, "gen-a")
	require.NoError(t, err)
	defer h2.Release()
	assert.Equal(t, h.BaseURL, h2.BaseURL)
}
