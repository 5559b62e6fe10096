// Package repository is the persistence boundary for relational records
// the pipeline reads and writes — subjects, transcripts, moments, clips,
// generation configs and run history. Grounded on the teacher's
// internal/pipeline/store.StateStore: an interface with CRUD/Update(fn)
// methods, a memory implementation for tests, and a production
// implementation left to the deployer. The relational schema itself is
// explicitly out of scope (spec.md Non-goals); this package only defines
// the boundary an orchestrator and its stages call through.
package repository

import (
	"context"
	"errors"

	"github.com/Joshi004/moments-pipeline/internal/domain"
)

// ErrNotFound is returned when a lookup by id finds no record.
var ErrNotFound = errors.New("repository: not found")

// Repository is the full persistence surface the pipeline depends on.
type Repository interface {
	GetSubject(ctx context.Context, subjectID string) (*domain.Subject, error)
	PutSubject(ctx context.Context, subj *domain.Subject) error

	PutTranscript(ctx context.Context, t *domain.TranscriptRecord) (int64, error)
	GetTranscript(ctx context.Context, id int64) (*domain.TranscriptRecord, error)

	PutGenerationConfig(ctx context.Context, g *domain.GenerationConfigRecord) (int64, error)

	PutMoments(ctx context.Context, runID string, moments []domain.Moment) ([]domain.Moment, error)
	ListMoments(ctx context.Context, runID string) ([]domain.Moment, error)
	UpdateMoment(ctx context.Context, id int64, fn func(*domain.Moment) error) (*domain.Moment, error)
	ReplaceWithRefined(ctx context.Context, runID string, original []domain.Moment, refined []domain.Moment) ([]domain.Moment, error)

	PutClip(ctx context.Context, c *domain.ClipRecord) (int64, error)
	GetClipByMoment(ctx context.Context, momentID int64) (*domain.ClipRecord, error)

	PutRunHistory(ctx context.Context, run *domain.PipelineRun) error
	ListRunHistory(ctx context.Context, subjectID string, limit int) ([]*domain.PipelineRun, error)
}
