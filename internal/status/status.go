// Package status is the Status Manager: it writes the per-subject active
// run hash, records per-stage sub-state transitions (without checking their
// order), and reads the
// cancellation flag. Generalizes the teacher's FSM transition helpers in
// internal/pipeline/worker/orchestrator.go (transitionStarting,
// transitionReady, recordTransition + the fsmTransitions counter) from one
// top-level session state to a run state plus eight stage sub-states.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Joshi004/moments-pipeline/internal/coordstore"
	"github.com/Joshi004/moments-pipeline/internal/domain"
	"github.com/Joshi004/moments-pipeline/internal/metrics"
)

// ErrMalformedWriter names a status write by a caller that does not hold
// the subject lock. No Manager method checks lock ownership, so none of
// them returns it.
var ErrMalformedWriter = errors.New("status: writer does not hold the subject lock")

// DefaultCancelTTL is the spec's default cancellation-flag lifetime.
const DefaultCancelTTL = 5 * time.Minute

// Manager writes and reads run/stage status against the coordination store.
type Manager struct {
	store *coordstore.Client
}

// New returns a status Manager bound to the given coordination store.
func New(store *coordstore.Client) *Manager {
	return &Manager{store: store}
}

// InitializeQueued writes the initial active-status hash for a freshly
// enqueued run, state=queued, all stages pending.
func (m *Manager) InitializeQueued(ctx context.Context, run *domain.PipelineRun) error {
	fields := map[string]any{
		"run_id":     run.RunID,
		"state":      string(domain.RunQueued),
		"queued_at":  run.QueuedAt.Format(time.RFC3339Nano),
	}
	for _, s := range domain.StageOrder {
		fields[string(s)+"_state"] = string(domain.StagePending)
	}
	return m.store.HSet(ctx, coordstore.KeyActive(run.SubjectID), fields)
}

// SetState sets the top-level run state field.
func (m *Manager) SetState(ctx context.Context, subjectID string, state domain.RunState) error {
	fields := map[string]any{"state": string(state)}
	switch state {
	case domain.RunRunning:
		fields["started_at"] = time.Now().Format(time.RFC3339Nano)
	}
	if state.IsTerminal() {
		fields["completed_at"] = time.Now().Format(time.RFC3339Nano)
		metrics.RunOutcomeTotal.WithLabelValues(string(state)).Inc()
	}
	return m.store.HSet(ctx, coordstore.KeyActive(subjectID), fields)
}

// SetCurrentStage records which stage is presently executing.
func (m *Manager) SetCurrentStage(ctx context.Context, subjectID string, stage domain.StageID) error {
	return m.store.HSet(ctx, coordstore.KeyActive(subjectID), map[string]any{"current_stage": string(stage)})
}

// SetError records the fatal failure location and message on a run.
func (m *Manager) SetError(ctx context.Context, subjectID string, stage domain.StageID, err error) error {
	return m.store.HSet(ctx, coordstore.KeyActive(subjectID), map[string]any{
		"error_stage":   string(stage),
		"error_message": err.Error(),
	})
}

// MarkStageStarted transitions a stage pending -> running.
func (m *Manager) MarkStageStarted(ctx context.Context, subjectID string, stage domain.StageID) error {
	metrics.StageTransitionTotal.WithLabelValues(string(stage), string(domain.StageRunning)).Inc()
	return m.store.HSet(ctx, coordstore.KeyActive(subjectID), map[string]any{
		fmt.Sprintf("%s_state", stage):      string(domain.StageRunning),
		fmt.Sprintf("%s_started_at", stage): time.Now().Format(time.RFC3339Nano),
	})
}

// MarkStageCompleted transitions a stage running -> completed.
func (m *Manager) MarkStageCompleted(ctx context.Context, subjectID string, stage domain.StageID) error {
	metrics.StageTransitionTotal.WithLabelValues(string(stage), string(domain.StageCompleted)).Inc()
	return m.store.HSet(ctx, coordstore.KeyActive(subjectID), map[string]any{
		fmt.Sprintf("%s_state", stage):        string(domain.StageCompleted),
		fmt.Sprintf("%s_completed_at", stage): time.Now().Format(time.RFC3339Nano),
	})
}

// MarkStageSkipped transitions a stage pending -> skipped, recording why.
func (m *Manager) MarkStageSkipped(ctx context.Context, subjectID string, stage domain.StageID, reason string) error {
	metrics.StageTransitionTotal.WithLabelValues(string(stage), string(domain.StageSkipped)).Inc()
	return m.store.HSet(ctx, coordstore.KeyActive(subjectID), map[string]any{
		fmt.Sprintf("%s_state", stage):  string(domain.StageSkipped),
		fmt.Sprintf("%s_error", stage):  "",
		fmt.Sprintf("%s_skip_reason", stage): reason,
	})
}

// MarkStageFailed transitions a stage running -> failed, recording err.
func (m *Manager) MarkStageFailed(ctx context.Context, subjectID string, stage domain.StageID, err error) error {
	metrics.StageTransitionTotal.WithLabelValues(string(stage), string(domain.StageFailed)).Inc()
	return m.store.HSet(ctx, coordstore.KeyActive(subjectID), map[string]any{
		fmt.Sprintf("%s_state", stage):        string(domain.StageFailed),
		fmt.Sprintf("%s_completed_at", stage): time.Now().Format(time.RFC3339Nano),
		fmt.Sprintf("%s_error", stage):        err.Error(),
	})
}

// RequestCancel sets the cancellation flag for a subject with the spec's
// default TTL. Idempotent.
func (m *Manager) RequestCancel(ctx context.Context, subjectID string) error {
	_, err := m.store.SetNX(ctx, coordstore.KeyCancel(subjectID), "1", DefaultCancelTTL)
	if err != nil {
		return err
	}
	// SetNX is a no-op if already set; refresh the TTL so repeated cancel
	// calls keep the flag alive for the full window from the latest call.
	_, err = m.store.Expire(ctx, coordstore.KeyCancel(subjectID), DefaultCancelTTL)
	return err
}

// IsCancelRequested reads the cancel key. Called at every stage boundary
// and designated in-stage checkpoints.
func (m *Manager) IsCancelRequested(ctx context.Context, subjectID string) (bool, error) {
	_, err := m.store.Get(ctx, coordstore.KeyCancel(subjectID))
	if errors.Is(err, coordstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Snapshot is the user-visible view of a run's status, read by the
// enqueue adapter's status()/history() operations.
type Snapshot struct {
	RunID        string                              `json:"run_id"`
	State        domain.RunState                     `json:"state"`
	CurrentStage domain.StageID                       `json:"current_stage,omitempty"`
	QueuedAt     string                               `json:"queued_at,omitempty"`
	StartedAt    string                               `json:"started_at,omitempty"`
	CompletedAt  string                               `json:"completed_at,omitempty"`
	ErrorStage   domain.StageID                       `json:"error_stage,omitempty"`
	ErrorMessage string                               `json:"error_message,omitempty"`
	Stages       map[domain.StageID]domain.StageState `json:"stages,omitempty"`
}

// ReadActive reads the live active-status hash for a subject, returning
// (nil, nil) if no run is currently active.
func (m *Manager) ReadActive(ctx context.Context, subjectID string) (*Snapshot, error) {
	fields, err := m.store.HGetAll(ctx, coordstore.KeyActive(subjectID))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return snapshotFromFields(fields), nil
}

func snapshotFromFields(fields map[string]string) *Snapshot {
	s := &Snapshot{
		RunID:        fields["run_id"],
		State:        domain.RunState(fields["state"]),
		CurrentStage: domain.StageID(fields["current_stage"]),
		QueuedAt:     fields["queued_at"],
		StartedAt:    fields["started_at"],
		CompletedAt:  fields["completed_at"],
		ErrorStage:   domain.StageID(fields["error_stage"]),
		ErrorMessage: fields["error_message"],
		Stages:       map[domain.StageID]domain.StageState{},
	}
	for _, stage := range domain.StageOrder {
		if v, ok := fields[string(stage)+"_state"]; ok {
			s.Stages[stage] = domain.StageState(v)
		}
	}
	return s
}

// Archive writes the archived run-snapshot hash, adds it to the subject's
// history sorted-set, and deletes the active-status hash — the orchestrator's
// single terminal archive point (spec.md's noted double-archive defect is
// resolved by having exactly one call site for this).
func (m *Manager) Archive(ctx context.Context, run *domain.PipelineRun) error {
	raw, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("status: marshal run snapshot: %w", err)
	}
	if err := m.store.HSet(ctx, coordstore.KeyRunArchive(run.RunID), map[string]any{"run": string(raw)}); err != nil {
		return fmt.Errorf("status: write archive: %w", err)
	}
	if _, err := m.store.Expire(ctx, coordstore.KeyRunArchive(run.RunID), 24*time.Hour); err != nil {
		return fmt.Errorf("status: set archive ttl: %w", err)
	}
	score := float64(run.CompletedAt.UnixMilli())
	if err := m.store.ZAdd(ctx, coordstore.KeyHistory(run.SubjectID), score, run.RunID); err != nil {
		return fmt.Errorf("status: index history: %w", err)
	}
	if err := m.store.Del(ctx, coordstore.KeyActive(run.SubjectID)); err != nil {
		return fmt.Errorf("status: delete active hash: %w", err)
	}
	return nil
}

// History returns up to limit archived runs for a subject, most recent first.
func (m *Manager) History(ctx context.Context, subjectID string, limit int64) ([]*domain.PipelineRun, error) {
	ids, err := m.store.ZRevRangeByScoreLimit(ctx, coordstore.KeyHistory(subjectID), limit)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.PipelineRun, 0, len(ids))
	for _, id := range ids {
		fields, err := m.store.HGetAll(ctx, coordstore.KeyRunArchive(id))
		if err != nil {
			return nil, err
		}
		raw, ok := fields["run"]
		if !ok {
			continue
		}
		var run domain.PipelineRun
		if err := json.Unmarshal([]byte(raw), &run); err != nil {
			return nil, fmt.Errorf("status: decode archived run %s: %w", id, err)
		}
		out = append(out, &run)
	}
	return out, nil
}
