package stages

import (
	"context"
	"fmt"

	"github.com/Joshi004/moments-pipeline/internal/domain"
	"github.com/Joshi004/moments-pipeline/internal/stage"
)

// AudioUpload puts the extracted audio artifact in the object store and
// produces a signed URL for the transcription call. Grounded on spec.md
// §4.9 stage 3. No governed resource — uploads are I/O-bound and not
// named in §4.8's capacity table.
type AudioUpload struct{}

func (AudioUpload) Name() domain.StageID { return domain.StageAudioUpload }

func (AudioUpload) ShouldSkip(ctx context.Context, deps *stage.Deps, rc *stage.RunContext) (bool, string) {
	return false, ""
}

func (AudioUpload) Run(ctx context.Context, deps *stage.Deps, rc *stage.RunContext) error {
	if rc.LocalAudioPath == "" {
		return fmt.Errorf("audio_upload: no extracted audio in run context")
	}
	content, err := readFile(rc.LocalAudioPath)
	if err != nil {
		return fmt.Errorf("audio_upload: read extracted audio: %w", err)
	}
	key := rc.Run.RunID + "/audio.wav"
	if _, err := deps.Objects.Put(ctx, key, content, "audio/wav"); err != nil {
		return fmt.Errorf("audio_upload: %w", err)
	}
	signed, err := deps.Objects.SignedURL(ctx, key, int64(3600))
	if err != nil {
		return fmt.Errorf("audio_upload: sign url: %w", err)
	}
	rc.AudioURL = signed
	return nil
}
