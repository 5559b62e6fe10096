package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Joshi004/moments-pipeline/internal/config"
)

func newTestSnapshot(t *testing.T, mr *miniredis.Miniredis) Snapshot {
	t.Helper()
	snap := config.Default()
	snap.CoordStoreAddr = mr.Addr()
	snap.Stream = "test:requests"
	snap.Group = "test-workers"
	snap.Consumer = "test-worker-1"
	snap.ModelSeedPath = ""
	return snap
}

func TestBuild_WiresEveryComponentAndTheRunsGovernorCapacity(t *testing.T) {
	mr := miniredis.RunT(t)
	snap := newTestSnapshot(t, mr)
	snap.MaxConcurrent = 3

	c, err := Build(context.Background(), snap)
	require.NoError(t, err)
	defer c.Store.Close()

	assert.NotNil(t, c.Lock)
	assert.NotNil(t, c.Status)
	assert.NotNil(t, c.Registry)
	assert.NotNil(t, c.Queue)
	assert.NotNil(t, c.Governor)
	assert.NotNil(t, c.Tunnels)
	assert.NotNil(t, c.Telemetry)
	assert.NotNil(t, c.Deps)
	assert.NotNil(t, c.Orchestrator)
	assert.NotNil(t, c.Enqueue)
	require.Len(t, c.Stages, 8, "the pipeline is a fixed eight-stage list")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 3; i++ {
		permit, err := c.Governor.Acquire(ctx, "runs")
		require.NoError(t, err, "MaxConcurrent=3 must grant three runs permits")
		defer permit.Release()
	}
	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	_, err = c.Governor.Acquire(short, "runs")
	assert.Error(t, err, "a fourth runs permit must wait while MaxConcurrent=3 are held")
}

func TestBuild_WorkerAndSweeperInheritContainerConfig(t *testing.T) {
	mr := miniredis.RunT(t)
	snap := newTestSnapshot(t, mr)

	c, err := Build(context.Background(), snap)
	require.NoError(t, err)
	defer c.Store.Close()

	w := c.Worker()
	assert.Equal(t, snap.Group, w.Group)
	assert.Equal(t, snap.Consumer, w.Consumer)
	assert.Same(t, c.Orchestrator, w.Orchestrator)

	s := c.Sweeper()
	assert.Equal(t, snap.Group, s.Group)
	assert.Equal(t, snap.Consumer, s.Consumer)
}

func TestBuild_FailsWhenCoordStoreIsUnreachable(t *testing.T) {
	snap := config.Default()
	snap.CoordStoreAddr = "127.0.0.1:1" // nothing listens here
	_, err := Build(context.Background(), snap)
	assert.Error(t, err)
}
