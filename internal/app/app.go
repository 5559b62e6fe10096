// Package app wires every component into one running worker process: the
// coordination store connection, the lock/status/registry/queue managers,
// the concurrency governor, the stage dependency set, the fixed eight-stage
// pipeline, and the orchestrator and worker loop that drive it. Grounded on
// the teacher's cmd/daemon wiring files (pipeline_wiring.go, api_wiring.go):
// plain constructor functions threaded together in one place rather than a
// reflection-based DI framework.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/Joshi004/moments-pipeline/internal/concurrency"
	"github.com/Joshi004/moments-pipeline/internal/config"
	"github.com/Joshi004/moments-pipeline/internal/coordstore"
	"github.com/Joshi004/moments-pipeline/internal/enqueue"
	"github.com/Joshi004/moments-pipeline/internal/lock"
	"github.com/Joshi004/moments-pipeline/internal/log"
	"github.com/Joshi004/moments-pipeline/internal/objectstore/memory"
	"github.com/Joshi004/moments-pipeline/internal/orchestrator"
	"github.com/Joshi004/moments-pipeline/internal/queue"
	"github.com/Joshi004/moments-pipeline/internal/registry"
	repomemory "github.com/Joshi004/moments-pipeline/internal/repository/memory"
	"github.com/Joshi004/moments-pipeline/internal/stage"
	"github.com/Joshi004/moments-pipeline/internal/stage/stages"
	"github.com/Joshi004/moments-pipeline/internal/status"
	"github.com/Joshi004/moments-pipeline/internal/telemetry"
	"github.com/Joshi004/moments-pipeline/internal/tunnel"
	"github.com/Joshi004/moments-pipeline/internal/workerproc"
)

// Container holds every long-lived component a worker process or an
// operator CLI needs. Fields are exported so cmd/ entrypoints can reach
// the pieces they individually need (e.g. pipelinectl only needs Enqueue).
type Container struct {
	Config Snapshot

	Store     *coordstore.Client
	Lock      *lock.Manager
	Status    *status.Manager
	Registry  *registry.Registry
	Queue     *queue.Dispatcher
	Governor  *concurrency.Governor
	Tunnels   *tunnel.Manager
	Telemetry *telemetry.Provider

	Deps         *stage.Deps
	Stages       []stage.Stage
	Orchestrator *orchestrator.Orchestrator
	Enqueue      *enqueue.Adapter
}

// Snapshot is an alias so callers need only import internal/app.
type Snapshot = config.Snapshot

// Build constructs every component from cfg and connects to the
// coordination store. The caller owns Store.Close() on the returned
// Container.
func Build(ctx context.Context, cfg Snapshot) (*Container, error) {
	store, err := coordstore.New(coordstore.Config{
		Addr:     cfg.CoordStoreAddr,
		Password: cfg.CoordStorePassword,
		DB:       cfg.CoordStoreDB,
	})
	if err != nil {
		return nil, fmt.Errorf("app: connect coordination store: %w", err)
	}

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:      cfg.TelemetryEnabled,
		ServiceName:  "moments-worker",
		Environment:  cfg.TelemetryEnvironment,
		ExporterType: cfg.TelemetryExporterType,
		Endpoint:     cfg.TelemetryEndpoint,
		SamplingRate: cfg.TelemetrySamplingRate,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}

	lockMgr := lock.New(store)
	statusMgr := status.New(store)
	reg := registry.New(store)
	dispatcher := queue.New(store, cfg.Stream)
	tunnels := tunnel.New(reg)

	capacities := map[concurrency.Resource]int64{}
	if cfg.MaxConcurrent > 0 {
		capacities[concurrency.ResourceRuns] = int64(cfg.MaxConcurrent)
	}
	governor := concurrency.New(capacities)

	seed, err := config.LoadModelSeed(cfg.ModelSeedPath)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("app: load model seed: %w", err)
	}
	if err := reg.SeedIfEmpty(ctx, seed); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("app: seed model registry: %w", err)
	}
	if cfg.ModelSeedPath != "" {
		if err := config.WatchModelSeed(ctx, cfg.ModelSeedPath, reg); err != nil {
			log.WithComponent("app").Warn().Err(err).Str("path", cfg.ModelSeedPath).
				Msg("model seed file watch disabled")
		}
	}

	repo := repomemory.New()
	objects := memory.New()

	deps := &stage.Deps{
		Repo:       repo,
		Objects:    objects,
		Registry:   reg,
		Tunnels:    tunnels,
		Governor:   governor,
		Breakers:   stage.NewBreakerSet(),
		Downloader: stages.NewHTTPDownloader(),
		Extractor:  stages.NewFFmpegExtractor(),
	}

	pipeline := []stage.Stage{
		stages.Download{},
		stages.AudioExtract{},
		stages.AudioUpload{},
		stages.Transcribe{},
		stages.MomentGeneration{},
		stages.ClipExtract{},
		stages.ClipUpload{},
		stages.Refinement{},
	}

	orch := orchestrator.New(statusMgr, lockMgr, reg, deps, pipeline)
	adapter := enqueue.New(repo, reg, lockMgr, statusMgr, dispatcher)

	return &Container{
		Config:       cfg,
		Store:        store,
		Lock:         lockMgr,
		Status:       statusMgr,
		Registry:     reg,
		Queue:        dispatcher,
		Governor:     governor,
		Tunnels:      tunnels,
		Telemetry:    tp,
		Deps:         deps,
		Stages:       pipeline,
		Orchestrator: orch,
		Enqueue:      adapter,
	}, nil
}

// Worker builds the worker-process loop over the container's components.
func (c *Container) Worker() *workerproc.Worker {
	return &workerproc.Worker{
		Queue:         c.Queue,
		Group:         c.Config.Group,
		Consumer:      c.Config.Consumer,
		Governor:      c.Governor,
		Registry:      c.Registry,
		Repo:          c.Deps.Repo,
		Orchestrator:  c.Orchestrator,
		WorkDir:       c.Config.WorkDir,
		LockTTL:       lockTTL(c.Config),
		ShutdownGrace: c.Config.ShutdownGrace,
	}
}

// Sweeper builds the idle-reclaim ticker over the container's queue.
func (c *Container) Sweeper() *workerproc.Sweeper {
	return &workerproc.Sweeper{
		Queue:    c.Queue,
		Group:    c.Config.Group,
		Consumer: c.Config.Consumer,
		Interval: queueReclaimInterval(c.Config),
		MinIdle:  c.Config.ReclaimIdle,
	}
}

func lockTTL(cfg Snapshot) time.Duration {
	if cfg.LockTTLSeconds <= 0 {
		return lock.DefaultTTL
	}
	return time.Duration(cfg.LockTTLSeconds) * time.Second
}

func queueReclaimInterval(cfg Snapshot) time.Duration {
	if cfg.ReclaimIdle <= 0 {
		return queue.DefaultReclaimIdle
	}
	return cfg.ReclaimIdle
}
