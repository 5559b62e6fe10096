package stages

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/Joshi004/moments-pipeline/internal/coordstore"
	"github.com/Joshi004/moments-pipeline/internal/registry"
	"github.com/Joshi004/moments-pipeline/internal/tunnel"
)

// fakeSSHProxyScript stands in for the system ssh client in tests that
// need a tunnel stage to actually round-trip through: it parses its own
// "-L local:remote_host:remote_port" argument and proxies every local
// connection to that remote address, the same shape as a real ssh -L
// forward, so Transcribe/MomentGeneration/Refinement can hit a real
// httptest backend through deps.Tunnels.Acquire without mocking the
// tunnel itself.
func fakeSSHProxyScript(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-ssh-proxy.py")
	script := `#!/usr/bin/env python3
import socket, sys, threading

def pipe(src, dst):
    try:
        while True:
            data = src.recv(4096)
            if not data:
                break
            dst.sendall(data)
    except OSError:
        pass
    finally:
        try:
            dst.shutdown(socket.SHUT_WR)
        except OSError:
            pass

def handle(conn, remote_host, remote_port):
    try:
        upstream = socket.create_connection((remote_host, remote_port), timeout=5)
    except OSError:
        conn.close()
        return
    t1 = threading.Thread(target=pipe, args=(conn, upstream), daemon=True)
    t2 = threading.Thread(target=pipe, args=(upstream, conn), daemon=True)
    t1.start()
    t2.start()
    t1.join()
    t2.join()
    conn.close()
    upstream.close()

def main():
    args = sys.argv[1:]
    local_port = remote_host = remote_port = None
    for i, a in enumerate(args):
        if a == "-L" and i + 1 < len(args):
            parts = args[i + 1].split(":")
            local_port = int(parts[0])
            remote_host = parts[1]
            remote_port = int(parts[2])
    if local_port is None:
        sys.exit(2)
    srv = socket.socket(socket.AF_INET, socket.SOCK_STREAM)
    srv.setsockopt(socket.SOL_SOCKET, socket.SO_REUSEADDR, 1)
    srv.bind(("127.0.0.1", local_port))
    srv.listen(20)
    while True:
        conn, _ = srv.accept()
        threading.Thread(target=handle, args=(conn, remote_host, remote_port), daemon=True).start()

if __name__ == "__main__":
    main()
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func freeLocalPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func newTestModelRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return registry.New(coordstore.FromRedisClient(rdb))
}

func newTestTunnelManager(t *testing.T, reg *registry.Registry) *tunnel.Manager {
	t.Helper()
	m := tunnel.New(reg)
	m.SSHBin = fakeSSHProxyScript(t)
	m.ReadinessInterval = 20 * time.Millisecond
	m.ReadinessTimeout = 3 * time.Second
	m.KillGrace = 200 * time.Millisecond
	m.KillTimeout = time.Second
	return m
}
