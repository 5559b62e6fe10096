package coordstore

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// newTestClient starts an in-process miniredis instance and returns a
// Client wrapping it, alongside the miniredis handle for fast-forwarding
// TTLs in tests that need it.
func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return FromRedisClient(rdb), mr
}
