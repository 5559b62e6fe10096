package enqueue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Joshi004/moments-pipeline/internal/coordstore"
	"github.com/Joshi004/moments-pipeline/internal/domain"
	"github.com/Joshi004/moments-pipeline/internal/lock"
	"github.com/Joshi004/moments-pipeline/internal/queue"
	"github.com/Joshi004/moments-pipeline/internal/registry"
	repomemory "github.com/Joshi004/moments-pipeline/internal/repository/memory"
	"github.com/Joshi004/moments-pipeline/internal/status"
)

func newTestAdapter(t *testing.T) (*Adapter, *coordstore.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := coordstore.FromRedisClient(rdb)

	reg := registry.New(store)
	ctx := context.Background()
	require.NoError(t, reg.Update(ctx, "gen-a", domain.ModelDescriptor{ModelID: "a"}))
	require.NoError(t, reg.Update(ctx, "ref-a", domain.ModelDescriptor{ModelID: "b"}))

	repo := repomemory.New()
	lockMgr := lock.New(store)
	statusMgr := status.New(store)
	dispatcher := queue.New(store, "test-stream")

	return New(repo, reg, lockMgr, statusMgr, dispatcher), store
}

func validConfig() domain.RunConfig {
	return domain.RunConfig{GenerationModel: "gen-a", RefinementModel: "ref-a"}
}

func TestSubmit_HappyPathEnqueuesAndHoldsLock(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx := context.Background()

	accepted, err := a.Submit(ctx, "subj-1", validConfig())
	require.NoError(t, err)
	assert.NotEmpty(t, accepted.RunID)

	held, err := a.Lock.IsHeld(ctx, "subj-1")
	require.NoError(t, err)
	assert.True(t, held, "Submit must hand the lock off to the worker, not release it")

	snap, err := a.GetStatus(ctx, "subj-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, domain.RunQueued, snap.State)

	require.NoError(t, a.Queue.EnsureGroup(ctx, "g"))
	entries, err := a.Queue.Read(ctx, "g", "c1", 1, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, accepted.RunID, entries[0].RunID)
	assert.NotEmpty(t, entries[0].LockToken)
}

func TestSubmit_RejectsMissingModelKeys(t *testing.T) {
	a, _ := newTestAdapter(t)
	_, err := a.Submit(context.Background(), "subj-1", domain.RunConfig{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSubmit_RejectsUnregisteredModelKey(t *testing.T) {
	a, _ := newTestAdapter(t)
	cfg := validConfig()
	cfg.GenerationModel = "does-not-exist"
	_, err := a.Submit(context.Background(), "subj-1", cfg)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSubmit_RejectsNegativePadding(t *testing.T) {
	a, _ := newTestAdapter(t)
	cfg := validConfig()
	cfg.PaddingLeftSeconds = -1
	_, err := a.Submit(context.Background(), "subj-1", cfg)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSubmit_RejectsMaxMomentsBelowMin(t *testing.T) {
	a, _ := newTestAdapter(t)
	cfg := validConfig()
	minM, maxM := 5, 2
	cfg.MinMoments = &minM
	cfg.MaxMoments = &maxM
	_, err := a.Submit(context.Background(), "subj-1", cfg)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSubmit_ConflictsWhenSubjectAlreadyLocked(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx := context.Background()

	_, err := a.Submit(ctx, "subj-1", validConfig())
	require.NoError(t, err)

	_, err = a.Submit(ctx, "subj-1", validConfig())
	assert.ErrorIs(t, err, ErrConflict)
}

func TestGetStatus_FallsBackToHistoryWhenNoActiveRun(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx := context.Background()

	run := domain.NewPipelineRun("run-1", "subj-1", validConfig())
	run.State = domain.RunCompleted
	run.CompletedAt = time.Now()
	require.NoError(t, a.Status.Archive(ctx, run))

	snap, err := a.GetStatus(ctx, "subj-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, domain.RunCompleted, snap.State)
}

func TestGetStatus_NilWhenNeverRun(t *testing.T) {
	a, _ := newTestAdapter(t)
	snap, err := a.GetStatus(context.Background(), "never-run")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestCancel_SetsCancelFlag(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx := context.Background()
	require.NoError(t, a.Cancel(ctx, "subj-1"))

	requested, err := a.Status.IsCancelRequested(ctx, "subj-1")
	require.NoError(t, err)
	assert.True(t, requested)
}

func TestHistory_ReturnsSnapshotsMostRecentFirst(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx := context.Background()

	base := time.Now()
	for i, id := range []string{"run-1", "run-2"} {
		run := domain.NewPipelineRun(id, "subj-1", validConfig())
		run.State = domain.RunCompleted
		run.CompletedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, a.Status.Archive(ctx, run))
	}

	snaps, err := a.History(ctx, "subj-1", 10)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "run-2", snaps[0].RunID)
	assert.Equal(t, "run-1", snaps[1].RunID)
}
