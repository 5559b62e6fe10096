// Package coordstore is the typed accessor over the coordination store's
// key-value/hash/stream/sorted-set primitives. Components reach the store
// through the methods here; outside this package only internal/lock imports
// github.com/redis/go-redis/v9, for its Lua scripts. Connection setup mirrors the
// teacher's internal/cache/redis.go (dial/read/write timeouts, pool size,
// Ping-based health check).
package coordstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Joshi004/moments-pipeline/internal/log"
)

// ErrNotFound is returned by Get-style accessors when a key is absent.
var ErrNotFound = errors.New("coordstore: not found")

// Config holds Redis connection configuration.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// DefaultConfig returns the spec's default endpoint.
func DefaultConfig() Config {
	return Config{Addr: "localhost:6379"}
}

// Client wraps a go-redis client with the fixed key layout and primitive
// set the pipeline needs: SETNX+EX, hash get/set/incr, stream
// append/read-group/ack/claim-idle, sorted-set add/range.
type Client struct {
	rdb    *redis.Client
	logger zerolog.Logger
}

// New dials Redis and verifies connectivity with a bounded Ping.
func New(cfg Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     16,
		MinIdleConns: 4,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("coordstore: connect: %w", err)
	}

	logger := log.WithComponent("coordstore")
	logger.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("connected to coordination store")

	return &Client{rdb: rdb, logger: logger}, nil
}

// FromRedisClient wraps an already-constructed *redis.Client (used by
// tests against miniredis, where dialing is done by the test harness).
func FromRedisClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb, logger: log.WithComponent("coordstore")}
}

// Close releases the underlying connection pool.
func (c *Client) Close() error { return c.rdb.Close() }

// HealthCheck verifies the coordination store is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Raw exposes the underlying client for components (lock manager) that
// need Lua scripting beyond the typed surface below.
func (c *Client) Raw() *redis.Client { return c.rdb }

// --- string primitives ---

// SetNX atomically sets key to val with a TTL iff it does not already exist.
func (c *Client) SetNX(ctx context.Context, key, val string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, key, val, ttl).Result()
}

// Get returns a string value, ErrNotFound if absent.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

// Del deletes one or more keys.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

// Expire refreshes a key's TTL.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.Expire(ctx, key, ttl).Result()
}

// --- hash primitives ---

// HSet writes one or more fields on a hash.
func (c *Client) HSet(ctx context.Context, key string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return c.rdb.HSet(ctx, key, fields).Err()
}

// HGetAll returns every field on a hash (empty map if the hash is absent).
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return c.rdb.HGetAll(ctx, key).Result()
}

// HIncrBy atomically increments an integer hash field.
func (c *Client) HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error) {
	return c.rdb.HIncrBy(ctx, key, field, incr).Result()
}

// --- stream primitives ---

// XAdd appends an entry to a stream, returning the assigned entry id.
func (c *Client) XAdd(ctx context.Context, stream string, values map[string]any) (string, error) {
	return c.rdb.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}).Result()
}

// EnsureGroup idempotently creates the consumer group at the stream's tail,
// creating the stream itself (MKSTREAM) if it doesn't yet exist.
func (c *Client) EnsureGroup(ctx context.Context, stream, group string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && isBusyGroupErr(err) {
		return nil
	}
	return err
}

func isBusyGroupErr(err error) bool {
	return err != nil && (err.Error() == "BUSYGROUP Consumer Group name already exists" ||
		len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP")
}

// StreamEntry is one message read from a consumer group.
type StreamEntry struct {
	ID     string
	Values map[string]any
}

// ReadGroup performs a blocking multi-read against a consumer group.
func (c *Client) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]StreamEntry, error) {
	res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []StreamEntry
	for _, s := range res {
		for _, m := range s.Messages {
			out = append(out, StreamEntry{ID: m.ID, Values: m.Values})
		}
	}
	return out, nil
}

// ReclaimIdle claims pending entries idle longer than minIdle, covering
// worker crashes mid-run.
func (c *Client) ReclaimIdle(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]StreamEntry, error) {
	msgs, _, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]StreamEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, StreamEntry{ID: m.ID, Values: m.Values})
	}
	return out, nil
}

// Ack removes an entry from the group's pending entries list.
func (c *Client) Ack(ctx context.Context, stream, group, entryID string) error {
	return c.rdb.XAck(ctx, stream, group, entryID).Err()
}

// --- sorted-set primitives ---

// ZAdd adds a member scored by epoch milliseconds.
func (c *Client) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return c.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

// ZRevRangeByScoreLimit returns up to limit members in descending score order.
func (c *Client) ZRevRangeByScoreLimit(ctx context.Context, key string, limit int64) ([]string, error) {
	return c.rdb.ZRevRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    "+inf",
		Offset: 0,
		Count:  limit,
	}).Result()
}

// --- set primitives (model registry) ---

// SAdd adds members to a set.
func (c *Client) SAdd(ctx context.Context, key string, members ...any) error {
	return c.rdb.SAdd(ctx, key, members...).Err()
}

// SMembers returns every member of a set.
func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	return c.rdb.SMembers(ctx, key).Result()
}

// SCard returns the number of members in a set (used to decide whether the
// model registry needs seeding).
func (c *Client) SCard(ctx context.Context, key string) (int64, error) {
	return c.rdb.SCard(ctx, key).Result()
}
