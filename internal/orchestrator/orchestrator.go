// Package orchestrator drives one pipeline run through the fixed eight
// stages, generalizing the teacher's Orchestrator.handleStart: assert lock
// ownership and refresh it at every boundary, check cooperative
// cancellation at every boundary, run the stage under its governed
// permit, merge its outputs, and on each exit path call finalize once and
// then release the lock.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Joshi004/moments-pipeline/internal/domain"
	"github.com/Joshi004/moments-pipeline/internal/lock"
	"github.com/Joshi004/moments-pipeline/internal/log"
	"github.com/Joshi004/moments-pipeline/internal/registry"
	"github.com/Joshi004/moments-pipeline/internal/stage"
	"github.com/Joshi004/moments-pipeline/internal/status"
	"github.com/Joshi004/moments-pipeline/internal/telemetry"
)

// Orchestrator runs PipelineRuns against a fixed stage list.
type Orchestrator struct {
	Status   *status.Manager
	Lock     *lock.Manager
	Registry *registry.Registry
	Deps     *stage.Deps
	Stages   []stage.Stage
}

// New builds an Orchestrator over the spec's fixed eight-stage list.
func New(st *status.Manager, lk *lock.Manager, reg *registry.Registry, deps *stage.Deps, stages []stage.Stage) *Orchestrator {
	return &Orchestrator{Status: st, Lock: lk, Registry: reg, Deps: deps, Stages: stages}
}

// Execute runs run to a terminal state, returning the final RunState.
// lockHandle must already be held by the caller for run.SubjectID; Execute
// refreshes and ultimately releases it. The returned error is non-nil
// only when the run's terminal state could not be archived into history —
// every other failure (unresolvable model key, stage error, cancellation)
// is fully reflected in the returned RunState and run.ErrorStage/
// ErrorMessage instead.
func (o *Orchestrator) Execute(ctx context.Context, run *domain.PipelineRun, subject *domain.Subject, lockHandle *lock.Handle, workDir string) (domain.RunState, error) {
	logger := log.WithComponent("orchestrator")

	tracer := telemetry.Tracer("moments.orchestrator")
	ctx, span := tracer.Start(ctx, "pipeline.run", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("run.id", run.RunID),
		attribute.String("subject.id", run.SubjectID),
	)
	defer span.End()

	rc := &stage.RunContext{
		Run:     run,
		Subject: subject,
		WorkDir: workDir,
	}

	if err := o.resolveDescriptors(ctx, rc); err != nil {
		run.State = domain.RunFailed
		run.ErrorMessage = err.Error()
		run.CompletedAt = time.Now()
		logger.Error().Err(err).Str("run_id", run.RunID).Msg("failed to resolve model descriptors")
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve model descriptors")
		_ = o.Status.SetState(ctx, run.SubjectID, run.State)
		archErr := o.finalize(ctx, run)
		_ = o.Lock.Release(ctx, lockHandle)
		return run.State, archErr
	}

	run.State = domain.RunRunning
	run.StartedAt = time.Now()
	if err := o.Status.SetState(ctx, run.SubjectID, domain.RunRunning); err != nil {
		logger.Warn().Err(err).Msg("failed to record running state")
	}

	cancelled := false
	hadRecoverable := false

stageLoop:
	for _, st := range o.Stages {
		if o.cancelRequested(ctx, run.SubjectID) {
			cancelled = true
			break
		}

		run.CurrentStage = st.Name()
		if skip, reason := st.ShouldSkip(ctx, o.Deps, rc); skip {
			run.Stages[st.Name()] = &domain.StageSubState{State: domain.StageSkipped, SkipReason: reason}
			_ = o.Status.MarkStageSkipped(ctx, run.SubjectID, st.Name(), reason)
			continue
		}

		var permit interface{ Release() }
		if ra, ok := st.(stage.ResourceAware); ok {
			p, err := o.Deps.Governor.Acquire(ctx, ra.Resource())
			if err != nil {
				cancelled = true
				break stageLoop
			}
			permit = p
		}

		if err := o.Lock.Refresh(ctx, lockHandle); err != nil {
			if permit != nil {
				permit.Release()
			}
			run.State = domain.RunFailed
			run.ErrorStage = st.Name()
			run.ErrorMessage = err.Error()
			_ = o.Status.SetError(ctx, run.SubjectID, st.Name(), err)
			break stageLoop
		}
		_ = o.Status.MarkStageStarted(ctx, run.SubjectID, st.Name())

		stageCtx, stageSpan := tracer.Start(ctx, "stage."+string(st.Name()), trace.WithSpanKind(trace.SpanKindInternal))
		err := st.Run(stageCtx, o.Deps, rc)
		if permit != nil {
			permit.Release()
		}

		if err == nil {
			stageSpan.SetStatus(codes.Ok, "")
			stageSpan.End()
			run.Stages[st.Name()] = &domain.StageSubState{State: domain.StageCompleted}
			_ = o.Status.MarkStageCompleted(ctx, run.SubjectID, st.Name())
			continue
		}

		if stage.IsRecoverable(err) {
			hadRecoverable = true
			stageSpan.RecordError(err)
			stageSpan.SetStatus(codes.Ok, "recoverable: "+err.Error())
			stageSpan.End()
			run.Stages[st.Name()] = &domain.StageSubState{State: domain.StageCompleted}
			_ = o.Status.MarkStageCompleted(ctx, run.SubjectID, st.Name())
			logger.Warn().Str("stage", string(st.Name())).Err(err).Msg("recoverable stage error")
			continue
		}

		stageSpan.RecordError(err)
		stageSpan.SetStatus(codes.Error, err.Error())
		stageSpan.End()
		run.Stages[st.Name()] = &domain.StageSubState{State: domain.StageFailed, Error: err.Error()}
		_ = o.Status.MarkStageFailed(ctx, run.SubjectID, st.Name(), err)
		run.ErrorStage = st.Name()
		run.ErrorMessage = err.Error()
		_ = o.Status.SetError(ctx, run.SubjectID, st.Name(), err)
		break stageLoop
	}

	run.Totals["clip_failures"] = rc.ClipFailures
	run.Totals["refinement_failures"] = rc.RefinementFailures

	switch {
	case cancelled:
		run.State = domain.RunCancelled
	case run.ErrorStage != "":
		run.State = domain.RunFailed
	case hadRecoverable:
		run.State = domain.RunPartial
	default:
		run.State = domain.RunCompleted
	}

	run.CompletedAt = time.Now()
	span.SetAttributes(attribute.String("run.state", string(run.State)))
	if run.State == domain.RunFailed {
		span.SetStatus(codes.Error, run.ErrorMessage)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	_ = o.Status.SetState(ctx, run.SubjectID, run.State)
	archErr := o.finalize(ctx, run)
	_ = o.Lock.Release(ctx, lockHandle)

	return run.State, archErr
}

// resolveDescriptors looks up the run's configured model keys before the
// stage loop begins; a missing model key is fatal and never reaches a stage.
func (o *Orchestrator) resolveDescriptors(ctx context.Context, rc *stage.RunContext) error {
	gen, err := o.Registry.Resolve(ctx, rc.Run.Config.GenerationModel, "orchestrator")
	if err != nil {
		return fmt.Errorf("orchestrator: resolve generation model: %w", err)
	}
	rc.GenerationDescriptor = gen

	ref, err := o.Registry.Resolve(ctx, rc.Run.Config.RefinementModel, "orchestrator")
	if err != nil {
		return fmt.Errorf("orchestrator: resolve refinement model: %w", err)
	}
	rc.RefinementDescriptor = ref
	return nil
}

func (o *Orchestrator) cancelRequested(ctx context.Context, subjectID string) bool {
	requested, err := o.Status.IsCancelRequested(ctx, subjectID)
	if err != nil {
		return false
	}
	return requested
}

// finalize is the orchestrator's single terminal archive call site. Its
// returned error is the caller's only signal that the run's terminal
// state was not durably archived — callers that ack a delivery queue
// entry on this signal must not do so when it is non-nil.
func (o *Orchestrator) finalize(ctx context.Context, run *domain.PipelineRun) error {
	if err := o.Status.Archive(ctx, run); err != nil {
		log.WithComponent("orchestrator").Error().Err(err).Str("run_id", run.RunID).Msg("failed to archive run")
		return err
	}
	return nil
}

