// Package workerproc is the Worker Process loop: block-read one stream
// entry at a time, govern parallelism with the concurrency Governor,
// validate and invoke the orchestrator, acknowledge on terminal outcome.
// Grounded on the teacher's Orchestrator.Run select loop over
// subStart.C()/subStop.C(), generalized from an in-process event bus to a
// blocking Redis Streams read and from "one goroutine per session" to
// "one goroutine per dequeued run, governed by a semaphore."
package workerproc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Joshi004/moments-pipeline/internal/concurrency"
	"github.com/Joshi004/moments-pipeline/internal/domain"
	"github.com/Joshi004/moments-pipeline/internal/lock"
	"github.com/Joshi004/moments-pipeline/internal/log"
	"github.com/Joshi004/moments-pipeline/internal/orchestrator"
	"github.com/Joshi004/moments-pipeline/internal/queue"
	"github.com/Joshi004/moments-pipeline/internal/registry"
	"github.com/Joshi004/moments-pipeline/internal/repository"
)

// Worker reads run submissions off the queue and drives each through the
// orchestrator, bounded by the runs resource in the concurrency Governor.
type Worker struct {
	Queue        *queue.Dispatcher
	Group        string
	Consumer     string
	Governor     *concurrency.Governor
	Registry     *registry.Registry
	Repo         repository.Repository
	Orchestrator *orchestrator.Orchestrator
	WorkDir      string
	LockTTL      time.Duration
	ShutdownGrace time.Duration

	wg sync.WaitGroup
}

// Run ensures the consumer group exists, then loops reading and
// dispatching entries until ctx is cancelled. On cancellation it stops
// accepting new entries and waits up to ShutdownGrace for in-flight runs
// to finish before returning.
func (w *Worker) Run(ctx context.Context) error {
	logger := log.WithComponent("workerproc")

	if err := w.Queue.EnsureGroup(ctx, w.Group); err != nil {
		return fmt.Errorf("workerproc: ensure group: %w", err)
	}

	for {
		if ctx.Err() != nil {
			break
		}

		entries, err := w.Queue.Read(ctx, w.Group, w.Consumer, 1, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Warn().Err(err).Msg("stream read failed")
			continue
		}
		for _, e := range entries {
			permit, err := w.Governor.Acquire(ctx, concurrency.ResourceRuns)
			if err != nil {
				// Cancelled while waiting for a run slot; let the entry
				// stay unacknowledged, a reclaim will hand it to another
				// worker or a restarted one.
				continue
			}
			w.wg.Add(1)
			go func(entry queue.Entry, permit *concurrency.Permit) {
				defer w.wg.Done()
				defer permit.Release()
				w.handle(ctx, entry)
			}(e, permit)
		}
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	grace := w.ShutdownGrace
	if grace <= 0 {
		grace = 30 * time.Second
	}
	select {
	case <-done:
	case <-time.After(grace):
		logger.Warn().Msg("shutdown grace window elapsed with runs still in flight")
	}
	return nil
}

func (w *Worker) handle(ctx context.Context, e queue.Entry) {
	logger := log.WithComponent("workerproc")

	for _, modelKey := range []string{e.Config.GenerationModel, e.Config.RefinementModel} {
		if _, err := w.Registry.Resolve(ctx, modelKey, "workerproc"); err != nil {
			logger.Error().Err(err).Str("run_id", e.RunID).Msg("invalid model key, dropping entry")
			_ = w.Queue.Ack(ctx, w.Group, e.ID)
			return
		}
	}

	// The subject (with its source_url) must already be registered by the
	// upload flow the web layer owns, out of this core's scope; a missing
	// subject here means the submission referenced an unknown id.
	subject, err := w.Repo.GetSubject(ctx, e.SubjectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logger.Error().Str("subject_id", e.SubjectID).Msg("unknown subject, dropping entry")
		} else {
			logger.Error().Err(err).Str("subject_id", e.SubjectID).Msg("failed to load subject, dropping entry")
		}
		_ = w.Queue.Ack(ctx, w.Group, e.ID)
		return
	}

	run := domain.NewPipelineRun(e.RunID, e.SubjectID, e.Config)
	lockHandle := lock.NewHandle(e.SubjectID, e.LockToken, w.LockTTL)

	runDir, err := os.MkdirTemp(w.WorkDir, "run-"+e.RunID+"-")
	if err != nil {
		logger.Error().Err(err).Str("run_id", e.RunID).Msg("failed to create run work dir")
		_ = w.Queue.Ack(ctx, w.Group, e.ID)
		return
	}
	defer os.RemoveAll(runDir)

	// Execute's error is non-nil only when the run's terminal state could
	// not be archived; an unacked entry is left for a sweeper reclaim
	// rather than acked and lost from history.
	state, err := w.Orchestrator.Execute(ctx, run, subject, lockHandle, runDir)
	if err != nil {
		logger.Error().Err(err).Str("run_id", e.RunID).Str("state", string(state)).Msg("run terminal state was not archived, leaving entry for reclaim")
		return
	}
	logger.Info().Str("run_id", e.RunID).Str("state", string(state)).Msg("run reached terminal state")

	if err := w.Repo.PutRunHistory(ctx, run); err != nil {
		logger.Warn().Err(err).Str("run_id", e.RunID).Msg("failed to persist run history, leaving entry for reclaim")
		return
	}
	_ = w.Queue.Ack(ctx, w.Group, e.ID)
}
