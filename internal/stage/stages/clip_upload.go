package stages

import (
	"context"
	"fmt"

	"github.com/Joshi004/moments-pipeline/internal/domain"
	"github.com/Joshi004/moments-pipeline/internal/stage"
)

// ClipUpload puts every successfully extracted clip in the object store
// and persists a ClipRecord. Grounded on spec.md §4.9 stage 7; shares
// ClipExtract's skip rule since there is nothing to upload when clip
// extraction itself was skipped. Not governed: uploads are I/O-bound,
// not named in §4.8's capacity table.
type ClipUpload struct{}

func (ClipUpload) Name() domain.StageID { return domain.StageClipUpload }

func (ClipUpload) ShouldSkip(ctx context.Context, deps *stage.Deps, rc *stage.RunContext) (bool, string) {
	if !rc.RefinementDescriptor.SupportsVideo {
		return true, "refinement model does not support video"
	}
	return false, ""
}

func (ClipUpload) Run(ctx context.Context, deps *stage.Deps, rc *stage.RunContext) error {
	var failed int
	for i := range rc.Moments {
		m := &rc.Moments[i]
		if m.ClipFailed || m.LocalClipPath == "" {
			continue
		}
		content, err := readFile(m.LocalClipPath)
		if err != nil {
			m.ClipFailed = true
			rc.ClipFailures++
			failed++
			continue
		}
		key := fmt.Sprintf("%s/moment-%d.mp4", rc.Run.RunID, m.ID)
		url, err := deps.Objects.Put(ctx, key, content, "video/mp4")
		if err != nil {
			m.ClipFailed = true
			rc.ClipFailures++
			failed++
			continue
		}
		m.ClipURL = url
		if _, err := deps.Repo.PutClip(ctx, &domain.ClipRecord{
			MomentID:     m.ID,
			PaddingLeft:  rc.Run.Config.PaddingLeftSeconds,
			PaddingRight: rc.Run.Config.PaddingRightSeconds,
			CloudURL:     url,
		}); err != nil {
			return fmt.Errorf("clip_upload: persist clip record: %w", err)
		}
		momentID, clipURL := m.ID, m.ClipURL
		if _, err := deps.Repo.UpdateMoment(ctx, momentID, func(stored *domain.Moment) error {
			stored.ClipURL = clipURL
			return nil
		}); err != nil {
			return fmt.Errorf("clip_upload: update moment: %w", err)
		}
	}
	if failed > 0 {
		return &stage.RecoverableError{Err: fmt.Errorf("clip_upload: %d clips failed to upload", failed)}
	}
	return nil
}
