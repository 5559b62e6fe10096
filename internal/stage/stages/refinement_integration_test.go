package stages

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Joshi004/moments-pipeline/internal/domain"
	repomemory "github.com/Joshi004/moments-pipeline/internal/repository/memory"
	"github.com/Joshi004/moments-pipeline/internal/stage"
)

func TestRefinement_Run_TightensWindowsThroughTunnel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": `{"start_time":2,"end_time":4}`}},
			},
		})
	}))
	defer srv.Close()

	reg := newTestModelRegistry(t)
	ctx := context.Background()
	_, remotePort, err := splitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	localPort := freeLocalPort(t)
	require.NoError(t, reg.Update(ctx, "ref-a", domain.ModelDescriptor{
		ModelKey: "ref-a", SSHHost: "bastion", RemoteHost: "127.0.0.1",
		RemotePort: remotePort, LocalPort: localPort, ModelID: "m1",
	}))

	repo := repomemory.New()
	persisted, err := repo.PutMoments(ctx, "run-1", []domain.Moment{{StartTime: 1, EndTime: 5, Title: "intro"}})
	require.NoError(t, err)

	deps := &stage.Deps{
		Repo:     repo,
		Tunnels:  newTestTunnelManager(t, reg),
		Breakers: stage.NewBreakerSet(),
	}
	rc := &stage.RunContext{
		Run:     domain.NewPipelineRun("run-1", "subj-1", domain.RunConfig{RefinementModel: "ref-a"}),
		Moments: persisted,
	}

	require.NoError(t, Refinement{}.Run(ctx, deps, rc))
	require.Len(t, rc.Moments, 1)
	assert.True(t, rc.Moments[0].IsRefined)
	assert.Equal(t, 2.0, rc.Moments[0].StartTime)
	assert.Equal(t, 4.0, rc.Moments[0].EndTime)
}

func TestRefinement_Run_PerMomentParseFailureIsRecoverable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "no json at all"}},
			},
		})
	}))
	defer srv.Close()

	reg := newTestModelRegistry(t)
	ctx := context.Background()
	_, remotePort, err := splitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	localPort := freeLocalPort(t)
	require.NoError(t, reg.Update(ctx, "ref-a", domain.ModelDescriptor{
		ModelKey: "ref-a", SSHHost: "bastion", RemoteHost: "127.0.0.1",
		RemotePort: remotePort, LocalPort: localPort, ModelID: "m1",
	}))

	repo := repomemory.New()
	persisted, err := repo.PutMoments(ctx, "run-1", []domain.Moment{{StartTime: 1, EndTime: 5, Title: "intro"}})
	require.NoError(t, err)

	deps := &stage.Deps{
		Repo:     repo,
		Tunnels:  newTestTunnelManager(t, reg),
		Breakers: stage.NewBreakerSet(),
	}
	rc := &stage.RunContext{
		Run:     domain.NewPipelineRun("run-1", "subj-1", domain.RunConfig{RefinementModel: "ref-a"}),
		Moments: persisted,
	}

	err = Refinement{}.Run(ctx, deps, rc)
	require.True(t, stage.IsRecoverable(err), "an unparseable refinement response must be recoverable, not fail the stage")
	require.Len(t, rc.Moments, 1)
	assert.False(t, rc.Moments[0].IsRefined)
	assert.Equal(t, 1, rc.RefinementFailures)
}
