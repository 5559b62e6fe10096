package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Joshi004/moments-pipeline/internal/domain"
	"github.com/Joshi004/moments-pipeline/internal/repository"
)

func TestSubject_PutThenGetReturnsACopy(t *testing.T) {
	s := New()
	ctx := context.Background()

	subj := &domain.Subject{SubjectID: "s1", SourceURL: "https://example.test/v.mp4"}
	require.NoError(t, s.PutSubject(ctx, subj))

	got, err := s.GetSubject(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/v.mp4", got.SourceURL)

	got.SourceURL = "mutated"
	got2, err := s.GetSubject(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/v.mp4", got2.SourceURL, "returned records must be defensive copies")
}

func TestGetSubject_MissingReturnsErrNotFound(t *testing.T) {
	s := New()
	_, err := s.GetSubject(context.Background(), "absent")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestPutMoments_AssignsSequentialIDs(t *testing.T) {
	s := New()
	ctx := context.Background()

	out, err := s.PutMoments(ctx, "run-1", []domain.Moment{{Title: "a"}, {Title: "b"}})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.NotEqual(t, out[0].ID, out[1].ID)
	assert.Equal(t, "run-1", out[0].RunID)

	listed, err := s.ListMoments(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

func TestUpdateMoment_AppliesFnAndPersists(t *testing.T) {
	s := New()
	ctx := context.Background()

	out, err := s.PutMoments(ctx, "run-1", []domain.Moment{{Title: "a"}})
	require.NoError(t, err)
	id := out[0].ID

	updated, err := s.UpdateMoment(ctx, id, func(m *domain.Moment) error {
		m.ClipFailed = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, updated.ClipFailed)

	listed, err := s.ListMoments(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.True(t, listed[0].ClipFailed)
}

func TestUpdateMoment_MissingReturnsErrNotFound(t *testing.T) {
	s := New()
	_, err := s.UpdateMoment(context.Background(), 999, func(m *domain.Moment) error { return nil })
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestReplaceWithRefined_InsertsRefinedAndUnflagsOriginal(t *testing.T) {
	s := New()
	ctx := context.Background()

	out, err := s.PutMoments(ctx, "run-1", []domain.Moment{{Title: "a", StartTime: 1, EndTime: 5}})
	require.NoError(t, err)
	original := out[0]

	refined, err := s.ReplaceWithRefined(ctx, "run-1", []domain.Moment{original}, []domain.Moment{
		{Title: "a", StartTime: 2, EndTime: 4, ParentID: original.ID},
	})
	require.NoError(t, err)
	require.Len(t, refined, 1)
	assert.True(t, refined[0].IsRefined)
	assert.NotEqual(t, original.ID, refined[0].ID)
	assert.Equal(t, original.ID, refined[0].ParentID)

	listed, err := s.ListMoments(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, listed, 2, "the original is kept alongside its refinement")
	for _, m := range listed {
		if m.ID == original.ID {
			assert.False(t, m.IsRefined)
		}
	}
}

func TestClip_PutThenGetByMoment(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, err := s.PutClip(ctx, &domain.ClipRecord{MomentID: 42, CloudURL: "s3://bucket/clip.mp4"})
	require.NoError(t, err)
	assert.NotZero(t, id)

	got, err := s.GetClipByMoment(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/clip.mp4", got.CloudURL)
}

func TestGetClipByMoment_MissingReturnsErrNotFound(t *testing.T) {
	s := New()
	_, err := s.GetClipByMoment(context.Background(), 1)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestTranscriptAndGenerationConfig_PutThenGet(t *testing.T) {
	s := New()
	ctx := context.Background()

	tid, err := s.PutTranscript(ctx, &domain.TranscriptRecord{RunID: "run-1", FullText: "hello"})
	require.NoError(t, err)
	tr, err := s.GetTranscript(ctx, tid)
	require.NoError(t, err)
	assert.Equal(t, "hello", tr.FullText)

	gid, err := s.PutGenerationConfig(ctx, &domain.GenerationConfigRecord{RunID: "run-1", Prompt: "p"})
	require.NoError(t, err)
	assert.NotZero(t, gid)
}

func TestRunHistory_ListedMostRecentFirstAndRespectsLimit(t *testing.T) {
	s := New()
	ctx := context.Background()

	for _, id := range []string{"run-1", "run-2", "run-3"} {
		require.NoError(t, s.PutRunHistory(ctx, &domain.PipelineRun{RunID: id, SubjectID: "subj-1"}))
	}

	all, err := s.ListRunHistory(ctx, "subj-1", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "run-3", all[0].RunID)
	assert.Equal(t, "run-1", all[2].RunID)

	limited, err := s.ListRunHistory(ctx, "subj-1", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "run-3", limited[0].RunID)
	assert.Equal(t, "run-2", limited[1].RunID)
}
