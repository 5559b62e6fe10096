package stages

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Joshi004/moments-pipeline/internal/concurrency"
	"github.com/Joshi004/moments-pipeline/internal/domain"
	"github.com/Joshi004/moments-pipeline/internal/stage"
	"github.com/Joshi004/moments-pipeline/internal/telemetry"
)

// clipExtractFanout bounds how many moments a single ClipExtract invocation
// cuts concurrently. The governed concurrency.ResourceClipExtract permit
// held by the orchestrator for the duration of this stage already caps how
// many runs extract clips at once; this is the further per-run fan-out.
const clipExtractFanout = 4

// ClipExtract cuts one media clip per generated moment, padded per the
// run's configured padding seconds and clamped to media bounds. Grounded
// on spec.md §4.9 stage 6 and the invariant that a refinement model
// lacking video capability means clip extraction is skipped, never
// failed. A single moment's extraction failure is recoverable: it is
// tallied and the moment is marked failed, the stage itself does not
// fail.
type ClipExtract struct{}

func (ClipExtract) Name() domain.StageID { return domain.StageClipExtract }

func (ClipExtract) Resource() concurrency.Resource { return concurrency.ResourceClipExtract }

func (ClipExtract) ShouldSkip(ctx context.Context, deps *stage.Deps, rc *stage.RunContext) (bool, string) {
	if !rc.RefinementDescriptor.SupportsVideo {
		return true, "refinement model does not support video"
	}
	return false, ""
}

func (ClipExtract) Run(ctx context.Context, deps *stage.Deps, rc *stage.RunContext) error {
	if rc.LocalMediaPath == "" {
		return fmt.Errorf("clip_extract: no downloaded media in run context")
	}

	padLeft := rc.Run.Config.PaddingLeftSeconds
	padRight := rc.Run.Config.PaddingRightSeconds

	sem := make(chan struct{}, clipExtractFanout)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var failed int

	for i := range rc.Moments {
		m := &rc.Moments[i]
		wg.Add(1)
		sem <- struct{}{}
		go func(m *domain.Moment) {
			defer wg.Done()
			defer func() { <-sem }()

			start, end := paddedWindow(m.StartTime, m.EndTime, padLeft, padRight, rc.MediaDurationSeconds)
			destPath := filepath.Join(rc.WorkDir, fmt.Sprintf("%s-moment-%d.mp4", rc.Run.RunID, m.ID))

			tracer := telemetry.Tracer("moments.clip_extract")
			spanCtx, span := tracer.Start(ctx, "clip.extract", trace.WithSpanKind(trace.SpanKindInternal))
			span.SetAttributes(
				attribute.Int64("moment.id", m.ID),
				attribute.Float64("clip.start_seconds", start),
				attribute.Float64("clip.end_seconds", end),
			)
			if err := deps.Extractor.ExtractClip(spanCtx, rc.LocalMediaPath, destPath, start, end); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "ffmpeg extraction failed")
				span.End()
				mu.Lock()
				m.ClipFailed = true
				rc.ClipFailures++
				failed++
				mu.Unlock()
				return
			}
			span.SetStatus(codes.Ok, "")
			span.End()
			mu.Lock()
			m.LocalClipPath = destPath
			mu.Unlock()
		}(m)
	}
	wg.Wait()

	if failed > 0 {
		return &stage.RecoverableError{Err: fmt.Errorf("clip_extract: %d of %d moments failed to cut", failed, len(rc.Moments))}
	}
	return nil
}

// paddedWindow applies left/right padding seconds and clamps to
// [0, mediaDurationSeconds) when the duration is known.
func paddedWindow(start, end, padLeft, padRight, mediaDurationSeconds float64) (float64, float64) {
	start -= padLeft
	end += padRight
	if start < 0 {
		start = 0
	}
	if mediaDurationSeconds > 0 && end > mediaDurationSeconds {
		end = mediaDurationSeconds
	}
	return start, end
}
