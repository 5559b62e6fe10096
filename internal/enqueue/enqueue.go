// Package enqueue is the adapter the web layer calls: submit, status,
// cancel and history, all described in spec.md §4.12. Grounded on the
// teacher's session/pipeline start-request validation in
// internal/pipeline/worker/orchestrator.go's handleStart (validate,
// acquire lease, initialize state, publish) generalized from an in-process
// event bus publish to a durable Redis Streams append.
package enqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Joshi004/moments-pipeline/internal/domain"
	"github.com/Joshi004/moments-pipeline/internal/lock"
	"github.com/Joshi004/moments-pipeline/internal/queue"
	"github.com/Joshi004/moments-pipeline/internal/registry"
	"github.com/Joshi004/moments-pipeline/internal/repository"
	"github.com/Joshi004/moments-pipeline/internal/status"
)

// ErrValidation is returned when the caller's config fails validation.
var ErrValidation = errors.New("enqueue: validation failed")

// ErrConflict is returned when the subject already has an active run.
var ErrConflict = errors.New("enqueue: subject already has an active run")

// Adapter exposes the four operations the web layer needs.
type Adapter struct {
	Repo     repository.Repository
	Registry *registry.Registry
	Lock     *lock.Manager
	Status   *status.Manager
	Queue    *queue.Dispatcher
}

// New builds an Adapter from its collaborators.
func New(repo repository.Repository, reg *registry.Registry, lk *lock.Manager, st *status.Manager, q *queue.Dispatcher) *Adapter {
	return &Adapter{Repo: repo, Registry: reg, Lock: lk, Status: st, Queue: q}
}

// RunAccepted is returned by Submit on success.
type RunAccepted struct {
	RunID string
}

// Submit validates cfg, acquires the subject's lock, and enqueues a new run.
// Returns ErrValidation for a malformed config, ErrConflict if the subject
// already has an active run.
func (a *Adapter) Submit(ctx context.Context, subjectID string, cfg domain.RunConfig) (*RunAccepted, error) {
	if err := a.validate(ctx, cfg); err != nil {
		return nil, err
	}

	handle, err := a.Lock.Acquire(ctx, subjectID, lock.DefaultTTL)
	if err != nil {
		if errors.Is(err, lock.ErrLockHeld) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("enqueue: acquire lock: %w", err)
	}

	runID := uuid.New().String()
	run := domain.NewPipelineRun(runID, subjectID, cfg)

	if err := a.Status.InitializeQueued(ctx, run); err != nil {
		_ = a.Lock.Release(ctx, handle)
		return nil, fmt.Errorf("enqueue: initialize status: %w", err)
	}

	entry := queue.Entry{RunID: runID, SubjectID: subjectID, Config: cfg, RequestedAt: time.Now(), LockToken: handle.Token}
	if _, err := a.Queue.Append(ctx, entry); err != nil {
		_ = a.Lock.Release(ctx, handle)
		return nil, fmt.Errorf("enqueue: append to queue: %w", err)
	}

	// The lock stays held for the worker that picks up this entry; it is
	// released by the orchestrator at the end of Execute, not here.
	return &RunAccepted{RunID: runID}, nil
}

func (a *Adapter) validate(ctx context.Context, cfg domain.RunConfig) error {
	if cfg.GenerationModel == "" || cfg.RefinementModel == "" {
		return fmt.Errorf("%w: generation_model and refinement_model are required", ErrValidation)
	}
	if _, err := a.Registry.Resolve(ctx, cfg.GenerationModel, "enqueue.Submit"); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if _, err := a.Registry.Resolve(ctx, cfg.RefinementModel, "enqueue.Submit"); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if cfg.PaddingLeftSeconds < 0 || cfg.PaddingRightSeconds < 0 {
		return fmt.Errorf("%w: padding seconds must be non-negative", ErrValidation)
	}
	if cfg.MinMoments != nil && *cfg.MinMoments < 0 {
		return fmt.Errorf("%w: min_moments must be non-negative", ErrValidation)
	}
	if cfg.MaxMoments != nil && cfg.MinMoments != nil && *cfg.MaxMoments < *cfg.MinMoments {
		return fmt.Errorf("%w: max_moments must be >= min_moments", ErrValidation)
	}
	if cfg.MinMomentLength != nil && *cfg.MinMomentLength <= 0 {
		return fmt.Errorf("%w: min_moment_length must be positive", ErrValidation)
	}
	if cfg.MaxMomentLength != nil && cfg.MinMomentLength != nil && *cfg.MaxMomentLength < *cfg.MinMomentLength {
		return fmt.Errorf("%w: max_moment_length must be >= min_moment_length", ErrValidation)
	}
	return nil
}

// GetStatus reads the subject's live status, falling back to the latest
// archived run if no run is currently active.
func (a *Adapter) GetStatus(ctx context.Context, subjectID string) (*status.Snapshot, error) {
	snap, err := a.Status.ReadActive(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	if snap != nil {
		return snap, nil
	}
	history, err := a.Status.History(ctx, subjectID, 1)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, nil
	}
	return snapshotFromRun(history[0]), nil
}

// Cancel sets the subject's cancellation flag. Idempotent.
func (a *Adapter) Cancel(ctx context.Context, subjectID string) error {
	return a.Status.RequestCancel(ctx, subjectID)
}

// History returns up to limit archived runs for a subject, most recent first.
func (a *Adapter) History(ctx context.Context, subjectID string, limit int64) ([]*status.Snapshot, error) {
	runs, err := a.Status.History(ctx, subjectID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*status.Snapshot, 0, len(runs))
	for _, r := range runs {
		out = append(out, snapshotFromRun(r))
	}
	return out, nil
}

func snapshotFromRun(run *domain.PipelineRun) *status.Snapshot {
	snap := &status.Snapshot{
		RunID:        run.RunID,
		State:        run.State,
		CurrentStage: run.CurrentStage,
		ErrorStage:   run.ErrorStage,
		ErrorMessage: run.ErrorMessage,
		Stages:       make(map[domain.StageID]domain.StageState, len(run.Stages)),
	}
	if !run.QueuedAt.IsZero() {
		snap.QueuedAt = run.QueuedAt.Format(time.RFC3339Nano)
	}
	if !run.StartedAt.IsZero() {
		snap.StartedAt = run.StartedAt.Format(time.RFC3339Nano)
	}
	if !run.CompletedAt.IsZero() {
		snap.CompletedAt = run.CompletedAt.Format(time.RFC3339Nano)
	}
	for id, sub := range run.Stages {
		snap.Stages[id] = sub.State
	}
	return snap
}
