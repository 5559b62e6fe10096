// Package lock implements the per-subject mutual-exclusion lock with TTL
// and a fencing token, generalizing the teacher's
// internal/pipeline/store.Lease / TryAcquireLease / RenewLease /
// ReleaseLease (already exactly this shape) onto coordstore's SETNX+EX and
// a compare-and-delete Lua script for safe release.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Joshi004/moments-pipeline/internal/coordstore"
)

// ErrLockHeld is returned by Acquire when another holder already owns the lock.
var ErrLockHeld = errors.New("lock: held by another owner")

// ErrLockLost is returned by Refresh when the fencing token no longer matches.
var ErrLockLost = errors.New("lock: fencing token mismatch, lost ownership")

// DefaultTTL is the spec's default lock lifetime.
const DefaultTTL = 30 * time.Minute

// Handle is a held lock; callers must Release it on every exit path.
type Handle struct {
	SubjectID string
	Token     string
	ttl       time.Duration
}

// NewHandle reconstructs a Handle for a lock acquired elsewhere (e.g. by
// the enqueue adapter in a different process), given the fencing token
// that acquisition produced. Used by the worker to assert and refresh
// ownership of a lock it did not itself Acquire.
func NewHandle(subjectID, token string, ttl time.Duration) *Handle {
	return &Handle{SubjectID: subjectID, Token: token, ttl: ttl}
}

// Manager acquires and releases subject locks against the coordination store.
type Manager struct {
	store *coordstore.Client
}

// New returns a lock Manager bound to the given coordination store.
func New(store *coordstore.Client) *Manager {
	return &Manager{store: store}
}

// Acquire attempts a single-writer lock on subjectID with a fresh fencing
// token. Returns ErrLockHeld if another owner already holds it.
func (m *Manager) Acquire(ctx context.Context, subjectID string, ttl time.Duration) (*Handle, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	token := uuid.New().String()
	key := coordstore.KeyLock(subjectID)
	ok, err := m.store.SetNX(ctx, key, token, ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Handle{SubjectID: subjectID, Token: token, ttl: ttl}, nil
}

// releaseScript deletes the key only if the stored value still matches the
// caller's fencing token (compare-and-delete).
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// renewScript extends the TTL only if the fencing token still matches.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)

// Refresh extends the lock's TTL iff the fencing token still matches.
func (m *Manager) Refresh(ctx context.Context, h *Handle) error {
	if h == nil {
		return ErrLockLost
	}
	ttl := h.ttl
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	key := coordstore.KeyLock(h.SubjectID)
	res, err := renewScript.Run(ctx, m.store.Raw(), []string{key}, h.Token, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if res == 0 {
		return ErrLockLost
	}
	return nil
}

// Release deletes the lock iff the fencing token matches. Safe to call more
// than once; a second call is a silent no-op.
func (m *Manager) Release(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	key := coordstore.KeyLock(h.SubjectID)
	_, err := releaseScript.Run(ctx, m.store.Raw(), []string{key}, h.Token).Result()
	return err
}

// IsHeld reports whether any holder currently owns the subject's lock.
func (m *Manager) IsHeld(ctx context.Context, subjectID string) (bool, error) {
	_, err := m.store.Get(ctx, coordstore.KeyLock(subjectID))
	if errors.Is(err, coordstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
