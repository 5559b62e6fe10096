package stages

import (
	"context"
	"fmt"

	"github.com/Joshi004/moments-pipeline/internal/concurrency"
	"github.com/Joshi004/moments-pipeline/internal/domain"
	"github.com/Joshi004/moments-pipeline/internal/stage"
)

// Transcribe calls the transcription service through a tunnel to the
// generation model's endpoint and persists the transcript record.
// Grounded on spec.md §4.9 stage 4 and §4.4's transcribe operation.
type Transcribe struct{}

func (Transcribe) Name() domain.StageID { return domain.StageTranscribe }

func (Transcribe) Resource() concurrency.Resource { return concurrency.ResourceTranscription }

func (Transcribe) ShouldSkip(ctx context.Context, deps *stage.Deps, rc *stage.RunContext) (bool, string) {
	return false, ""
}

func (t Transcribe) Run(ctx context.Context, deps *stage.Deps, rc *stage.RunContext) error {
	if rc.LocalAudioPath == "" {
		return fmt.Errorf("transcribe: no extracted audio in run context")
	}
	modelKey := rc.Run.Config.GenerationModel

	handle, err := deps.Tunnels.Acquire(ctx, modelKey)
	if err != nil {
		return fmt.Errorf("transcribe: acquire tunnel for %s: %w", modelKey, err)
	}
	defer handle.Release()

	audio, err := readFile(rc.LocalAudioPath)
	if err != nil {
		return fmt.Errorf("transcribe: read audio: %w", err)
	}

	client := deps.InferenceClientFor(modelKey, handle)
	result, err := client.Transcribe(ctx, rc.GenerationDescriptor.ModelID, audio, "audio.wav")
	if err != nil {
		return fmt.Errorf("transcribe: %w", err)
	}

	record := &domain.TranscriptRecord{
		RunID:             rc.Run.RunID,
		FullText:          result.Text,
		WordTimestamps:    result.Words,
		SegmentTimestamps: result.Segments,
	}
	id, err := deps.Repo.PutTranscript(ctx, record)
	if err != nil {
		return fmt.Errorf("transcribe: persist transcript: %w", err)
	}
	record.ID = id
	rc.TranscriptID = id
	rc.Transcript = record
	return nil
}
