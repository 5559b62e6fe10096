package stages

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/Joshi004/moments-pipeline/internal/domain"
	"github.com/Joshi004/moments-pipeline/internal/stage"
)

// Download fetches the subject's source URL to a local temp path,
// extracts media metadata, uploads it to the object store, and persists
// subject metadata if new. Grounded on spec.md §4.9 stage 1. Not
// resource-governed: the worker-level runs permit already bounds how
// many downloads execute concurrently, and download has no entry of its
// own in spec.md §4.8's capacity table.
type Download struct{}

func (Download) Name() domain.StageID { return domain.StageDownload }

// ShouldSkip returns true when the subject already has a registered
// cloud URL and no re-download was requested — re-download isn't
// wired as a run option yet, so this only fires on resume flows where
// rc.Subject was pre-populated with a CloudURL by the caller.
func (Download) ShouldSkip(ctx context.Context, deps *stage.Deps, rc *stage.RunContext) (bool, string) {
	if rc.Subject != nil && rc.Subject.CloudURL != "" {
		return true, "subject already has a registered cloud URL"
	}
	return false, ""
}

func (Download) Run(ctx context.Context, deps *stage.Deps, rc *stage.RunContext) error {
	if rc.Subject == nil {
		return fmt.Errorf("download: run context has no subject")
	}
	destPath := filepath.Join(rc.WorkDir, rc.Run.RunID+"-source")

	if _, err := deps.Downloader.Download(ctx, rc.Subject.SourceURL, destPath); err != nil {
		return fmt.Errorf("download: fetch source: %w", err)
	}
	rc.LocalMediaPath = destPath

	info, err := deps.Extractor.Probe(ctx, destPath)
	if err != nil {
		return fmt.Errorf("download: probe media: %w", err)
	}
	rc.MediaDurationSeconds = float64(info.DurationMS) / 1000.0

	content, err := readFile(destPath)
	if err != nil {
		return fmt.Errorf("download: read fetched media: %w", err)
	}
	cloudURL, err := deps.Objects.Put(ctx, rc.Run.RunID+"/source", content, "application/octet-stream")
	if err != nil {
		return fmt.Errorf("download: upload source: %w", err)
	}

	rc.Subject.DurationMS = info.DurationMS
	rc.Subject.Codecs = info.Codecs
	rc.Subject.Resolution = info.Resolution
	rc.Subject.FPS = info.FPS
	rc.Subject.Bytes = int64(len(content))
	rc.Subject.CloudURL = cloudURL

	if err := deps.Repo.PutSubject(ctx, rc.Subject); err != nil {
		return fmt.Errorf("download: persist subject metadata: %w", err)
	}
	return nil
}
