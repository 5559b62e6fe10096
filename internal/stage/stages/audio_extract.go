package stages

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/Joshi004/moments-pipeline/internal/concurrency"
	"github.com/Joshi004/moments-pipeline/internal/domain"
	"github.com/Joshi004/moments-pipeline/internal/stage"
)

// AudioExtract runs the codec subprocess that produces a wav from the
// downloaded media. Grounded on spec.md §4.9 stage 2; transcoding itself
// is a named external collaborator (Non-goals), reached only through
// stage.MediaExtractor.
type AudioExtract struct{}

func (AudioExtract) Name() domain.StageID { return domain.StageAudioExtract }

func (AudioExtract) Resource() concurrency.Resource { return concurrency.ResourceAudioExtract }

func (AudioExtract) ShouldSkip(ctx context.Context, deps *stage.Deps, rc *stage.RunContext) (bool, string) {
	return false, ""
}

func (AudioExtract) Run(ctx context.Context, deps *stage.Deps, rc *stage.RunContext) error {
	if rc.LocalMediaPath == "" {
		return fmt.Errorf("audio_extract: no downloaded media in run context")
	}
	destPath := filepath.Join(rc.WorkDir, rc.Run.RunID+"-audio.wav")
	if err := deps.Extractor.ExtractAudio(ctx, rc.LocalMediaPath, destPath); err != nil {
		return fmt.Errorf("audio_extract: %w", err)
	}
	rc.LocalAudioPath = destPath
	return nil
}
