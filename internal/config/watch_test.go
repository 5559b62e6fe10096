package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Joshi004/moments-pipeline/internal/domain"
)

type fakeRegistry struct {
	mu      sync.Mutex
	updates map[string]domain.ModelDescriptor
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{updates: make(map[string]domain.ModelDescriptor)}
}

func (f *fakeRegistry) Update(ctx context.Context, key string, d domain.ModelDescriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates[key] = d
	return nil
}

func (f *fakeRegistry) snapshot() map[string]domain.ModelDescriptor {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]domain.ModelDescriptor, len(f.updates))
	for k, v := range f.updates {
		out[k] = v
	}
	return out
}

func TestWatchModelSeed_EmptyPathIsANoop(t *testing.T) {
	assert.NoError(t, WatchModelSeed(context.Background(), "", newFakeRegistry()))
}

func TestWatchModelSeed_ReloadsOnFileWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models:\n  - model_key: gen-a\n    model_id: v1\n"), 0o644))

	reg := newFakeRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, WatchModelSeed(ctx, path, reg))

	require.NoError(t, os.WriteFile(path, []byte("models:\n  - model_key: gen-a\n    model_id: v2\n"), 0o644))

	require.Eventually(t, func() bool {
		snap := reg.snapshot()
		d, ok := snap["gen-a"]
		return ok && d.ModelID == "v2"
	}, 2*time.Second, 20*time.Millisecond, "watcher must reload and apply the updated seed on write")
}
