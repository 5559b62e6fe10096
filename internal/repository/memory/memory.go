// Package memory is an in-memory Repository for tests and local
// iteration. Not durable. Grounded on the teacher's
// internal/pipeline/store.MemoryStore — a mutex-guarded set of maps with
// monotonic id counters, matching its read/Update(fn)/replace shape.
package memory

import (
	"context"
	"sync"

	"github.com/Joshi004/moments-pipeline/internal/domain"
	"github.com/Joshi004/moments-pipeline/internal/repository"
)

// Store is an in-memory repository.Repository.
type Store struct {
	mu sync.RWMutex

	subjects     map[string]*domain.Subject
	transcripts  map[int64]*domain.TranscriptRecord
	genConfigs   map[int64]*domain.GenerationConfigRecord
	moments      map[int64]*domain.Moment
	clips        map[int64]*domain.ClipRecord
	runHistory   map[string][]*domain.PipelineRun

	nextTranscriptID int64
	nextGenConfigID  int64
	nextMomentID     int64
	nextClipID       int64
}

// New returns an empty Store. Seed subjects via PutSubject before use.
func New() *Store {
	return &Store{
		subjects:    make(map[string]*domain.Subject),
		transcripts: make(map[int64]*domain.TranscriptRecord),
		genConfigs:  make(map[int64]*domain.GenerationConfigRecord),
		moments:     make(map[int64]*domain.Moment),
		clips:       make(map[int64]*domain.ClipRecord),
		runHistory:  make(map[string][]*domain.PipelineRun),
	}
}

// PutSubject creates or replaces a subject record. Used both by tests
// seeding fixtures and by the Download stage persisting newly discovered
// media metadata.
func (s *Store) PutSubject(ctx context.Context, subj *domain.Subject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *subj
	s.subjects[subj.SubjectID] = &cp
	return nil
}

func (s *Store) GetSubject(ctx context.Context, subjectID string) (*domain.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subj, ok := s.subjects[subjectID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *subj
	return &cp, nil
}

func (s *Store) PutTranscript(ctx context.Context, t *domain.TranscriptRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTranscriptID++
	id := s.nextTranscriptID
	cp := *t
	cp.ID = id
	s.transcripts[id] = &cp
	return id, nil
}

func (s *Store) GetTranscript(ctx context.Context, id int64) (*domain.TranscriptRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transcripts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) PutGenerationConfig(ctx context.Context, g *domain.GenerationConfigRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextGenConfigID++
	id := s.nextGenConfigID
	cp := *g
	cp.ID = id
	s.genConfigs[id] = &cp
	return id, nil
}

func (s *Store) PutMoments(ctx context.Context, runID string, moments []domain.Moment) ([]domain.Moment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Moment, len(moments))
	for i, m := range moments {
		s.nextMomentID++
		m.ID = s.nextMomentID
		m.RunID = runID
		cp := m
		s.moments[m.ID] = &cp
		out[i] = m
	}
	return out, nil
}

func (s *Store) ListMoments(ctx context.Context, runID string) ([]domain.Moment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Moment
	for _, m := range s.moments {
		if m.RunID == runID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *Store) UpdateMoment(ctx context.Context, id int64, fn func(*domain.Moment) error) (*domain.Moment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.moments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *m
	if err := fn(&cp); err != nil {
		return nil, err
	}
	s.moments[id] = &cp
	out := cp
	return &out, nil
}

// ReplaceWithRefined supersedes original moments with refined ones in a
// single critical section: each refined moment is inserted pointing back
// at its parent via ParentID, and the originals are kept (not deleted)
// with IsRefined false, so ListMoments still returns them for provenance.
func (s *Store) ReplaceWithRefined(ctx context.Context, runID string, original []domain.Moment, refined []domain.Moment) ([]domain.Moment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range original {
		if m, ok := s.moments[o.ID]; ok {
			m.IsRefined = false
		}
	}
	out := make([]domain.Moment, 0, len(refined))
	for _, r := range refined {
		s.nextMomentID++
		r.ID = s.nextMomentID
		r.RunID = runID
		r.IsRefined = true
		cp := r
		s.moments[r.ID] = &cp
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) PutClip(ctx context.Context, c *domain.ClipRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextClipID++
	id := s.nextClipID
	cp := *c
	cp.ID = id
	s.clips[id] = &cp
	return id, nil
}

func (s *Store) GetClipByMoment(ctx context.Context, momentID int64) (*domain.ClipRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clips {
		if c.MomentID == momentID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) PutRunHistory(ctx context.Context, run *domain.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.runHistory[run.SubjectID] = append(s.runHistory[run.SubjectID], &cp)
	return nil
}

func (s *Store) ListRunHistory(ctx context.Context, subjectID string, limit int) ([]*domain.PipelineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := s.runHistory[subjectID]
	if limit <= 0 || limit > len(runs) {
		limit = len(runs)
	}
	out := make([]*domain.PipelineRun, limit)
	// most recent first
	for i := 0; i < limit; i++ {
		src := runs[len(runs)-1-i]
		cp := *src
		out[i] = &cp
	}
	return out, nil
}

var _ repository.Repository = (*Store)(nil)
