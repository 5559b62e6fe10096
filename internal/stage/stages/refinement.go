package stages

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Joshi004/moments-pipeline/internal/concurrency"
	"github.com/Joshi004/moments-pipeline/internal/domain"
	"github.com/Joshi004/moments-pipeline/internal/inference"
	"github.com/Joshi004/moments-pipeline/internal/stage"
	"github.com/Joshi004/moments-pipeline/internal/telemetry"
)

// Refinement asks the refinement model to tighten each moment's window,
// optionally pointing it at the extracted clip when the model supports
// video. Grounded on spec.md §4.9 stage 8. A single moment's refinement
// failure is recoverable: the original moment is left untouched and the
// failure is tallied, the stage itself does not fail.
type Refinement struct{}

func (Refinement) Name() domain.StageID { return domain.StageRefinement }

func (Refinement) Resource() concurrency.Resource { return concurrency.ResourceRefinement }

func (Refinement) ShouldSkip(ctx context.Context, deps *stage.Deps, rc *stage.RunContext) (bool, string) {
	return false, ""
}

func (Refinement) Run(ctx context.Context, deps *stage.Deps, rc *stage.RunContext) error {
	modelKey := rc.Run.Config.RefinementModel

	tracer := telemetry.Tracer("moments.refinement")
	tunnelCtx, tunnelSpan := tracer.Start(ctx, "inference.acquire_tunnel", trace.WithSpanKind(trace.SpanKindInternal))
	tunnelSpan.SetAttributes(attribute.String("model.key", modelKey))
	handle, err := deps.Tunnels.Acquire(tunnelCtx, modelKey)
	if err != nil {
		tunnelSpan.RecordError(err)
		tunnelSpan.SetStatus(codes.Error, "tunnel acquire failed")
		tunnelSpan.End()
		return fmt.Errorf("refinement: acquire tunnel for %s: %w", modelKey, err)
	}
	tunnelSpan.SetStatus(codes.Ok, "")
	tunnelSpan.End()
	defer handle.Release()

	client := deps.InferenceClientFor(modelKey, handle)

	originals := make([]domain.Moment, 0, len(rc.Moments))
	refined := make([]domain.Moment, 0, len(rc.Moments))
	unrefined := make([]domain.Moment, 0, len(rc.Moments))
	var failed int

	for _, m := range rc.Moments {
		prompt := buildRefinementPrompt(m, rc.RefinementDescriptor.SupportsVideo)
		messages := []inference.ChatMessage{{Role: "user", Content: prompt}}

		chatCtx, chatSpan := tracer.Start(ctx, "inference.chat_complete", trace.WithSpanKind(trace.SpanKindClient))
		chatSpan.SetAttributes(
			attribute.String("model.key", modelKey),
			attribute.String("model.id", rc.RefinementDescriptor.ModelID),
			attribute.Int64("moment.id", m.ID),
		)
		text, err := client.ChatComplete(chatCtx, rc.RefinementDescriptor.ModelID, messages, rc.Run.Config.GenerationParams)
		if err != nil {
			chatSpan.RecordError(err)
			chatSpan.SetStatus(codes.Error, "chat completion failed")
			chatSpan.End()
			rc.RefinementFailures++
			failed++
			unrefined = append(unrefined, m)
			continue
		}
		start, end, err := inference.ParseRefinement(text)
		if err != nil || end <= start {
			chatSpan.RecordError(fmt.Errorf("refinement: parse model response"))
			chatSpan.SetStatus(codes.Error, "unparseable refinement response")
			chatSpan.End()
			rc.RefinementFailures++
			failed++
			unrefined = append(unrefined, m)
			continue
		}
		chatSpan.SetStatus(codes.Ok, "")
		chatSpan.End()
		originals = append(originals, m)
		refined = append(refined, domain.Moment{
			StartTime: start,
			EndTime:   end,
			Title:     m.Title,
			IsRefined: true,
			ParentID:  m.ID,
		})
	}

	if len(originals) == 0 {
		if failed > 0 {
			return &stage.RecoverableError{Err: fmt.Errorf("refinement: all %d moments failed to refine", failed)}
		}
		return nil
	}

	result, err := deps.Repo.ReplaceWithRefined(ctx, rc.Run.RunID, originals, refined)
	if err != nil {
		return fmt.Errorf("refinement: persist refined moments: %w", err)
	}
	rc.Moments = append(result, unrefined...)

	if failed > 0 {
		return &stage.RecoverableError{Err: fmt.Errorf("refinement: %d of %d moments failed to refine", failed, len(rc.Moments))}
	}
	return nil
}

func buildRefinementPrompt(m domain.Moment, includeClip bool) string {
	prompt := fmt.Sprintf(
		"Tighten this highlight window to its most precise start and end time in seconds.\n"+
			"Current window: [%.2f, %.2f], title: %q.\n"+
			"Respond with a single JSON object: {\"start_time\":seconds,\"end_time\":seconds}.\n",
		m.StartTime, m.EndTime, m.Title,
	)
	if includeClip && m.ClipURL != "" {
		prompt += fmt.Sprintf("Clip reference: %s\n", m.ClipURL)
	}
	return prompt
}
