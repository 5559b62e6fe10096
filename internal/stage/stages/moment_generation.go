package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/Joshi004/moments-pipeline/internal/concurrency"
	"github.com/Joshi004/moments-pipeline/internal/domain"
	"github.com/Joshi004/moments-pipeline/internal/inference"
	"github.com/Joshi004/moments-pipeline/internal/stage"
)

// MomentGeneration builds a generation prompt from the transcript, calls
// the generation model via tunnel, parses the moment list, and persists
// the prompt, generation config and moment records. Grounded on spec.md
// §4.9 stage 5.
type MomentGeneration struct{}

func (MomentGeneration) Name() domain.StageID { return domain.StageMomentGeneration }

func (MomentGeneration) Resource() concurrency.Resource { return concurrency.ResourceMomentGen }

func (MomentGeneration) ShouldSkip(ctx context.Context, deps *stage.Deps, rc *stage.RunContext) (bool, string) {
	return false, ""
}

func (MomentGeneration) Run(ctx context.Context, deps *stage.Deps, rc *stage.RunContext) error {
	modelKey := rc.Run.Config.GenerationModel
	prompt := buildGenerationPrompt(rc)

	handle, err := deps.Tunnels.Acquire(ctx, modelKey)
	if err != nil {
		return fmt.Errorf("moment_generation: acquire tunnel for %s: %w", modelKey, err)
	}
	defer handle.Release()

	client := deps.InferenceClientFor(modelKey, handle)
	messages := []inference.ChatMessage{{Role: "user", Content: prompt}}
	text, err := client.ChatComplete(ctx, rc.GenerationDescriptor.ModelID, messages, rc.Run.Config.GenerationParams)
	if err != nil {
		return fmt.Errorf("moment_generation: chat_complete: %w", err)
	}

	moments, err := inference.ParseMoments(text)
	if err != nil {
		return fmt.Errorf("moment_generation: %w", err)
	}
	moments = dropInvalidMoments(moments, rc.MediaDurationSeconds)
	moments = applyMomentBounds(moments, rc.Run.Config)

	genConfig := &domain.GenerationConfigRecord{
		RunID:          rc.Run.RunID,
		Prompt:         prompt,
		Model:          rc.GenerationDescriptor.ModelID,
		SamplingParams: rc.Run.Config.GenerationParams,
	}
	genConfigID, err := deps.Repo.PutGenerationConfig(ctx, genConfig)
	if err != nil {
		return fmt.Errorf("moment_generation: persist generation config: %w", err)
	}
	rc.GenerationConfigID = genConfigID

	persisted, err := deps.Repo.PutMoments(ctx, rc.Run.RunID, moments)
	if err != nil {
		return fmt.Errorf("moment_generation: persist moments: %w", err)
	}
	rc.Moments = persisted
	return nil
}

func buildGenerationPrompt(rc *stage.RunContext) string {
	var sb strings.Builder
	sb.WriteString("Identify the most interesting highlight moments in this video given its transcript.\n")
	sb.WriteString("Respond with a JSON array of objects: {\"start_time\":seconds,\"end_time\":seconds,\"title\":string}.\n\n")
	if rc.Transcript != nil {
		for _, seg := range rc.Transcript.SegmentTimestamps {
			fmt.Fprintf(&sb, "[%.1f-%.1f] %s\n", seg.Start, seg.End, seg.Text)
		}
	}
	return sb.String()
}

// dropInvalidMoments enforces spec.md §6's "start_time < end_time is
// enforced; invalid entries are dropped (not fatal)" and clamps windows
// that run past the known media duration.
func dropInvalidMoments(moments []domain.Moment, mediaDurationSeconds float64) []domain.Moment {
	out := moments[:0]
	for _, m := range moments {
		if m.StartTime < 0 || m.EndTime <= m.StartTime {
			continue
		}
		if mediaDurationSeconds > 0 && m.EndTime > mediaDurationSeconds {
			m.EndTime = mediaDurationSeconds
		}
		if m.EndTime <= m.StartTime {
			continue
		}
		out = append(out, m)
	}
	return out
}

// applyMomentBounds trims the candidate list to the caller's configured
// min/max moment count and length bounds, preferring the earliest
// candidates when trimming for count.
func applyMomentBounds(moments []domain.Moment, cfg domain.RunConfig) []domain.Moment {
	if cfg.MinMomentLength != nil || cfg.MaxMomentLength != nil {
		filtered := moments[:0]
		for _, m := range moments {
			length := m.EndTime - m.StartTime
			if cfg.MinMomentLength != nil && length < *cfg.MinMomentLength {
				continue
			}
			if cfg.MaxMomentLength != nil && length > *cfg.MaxMomentLength {
				continue
			}
			filtered = append(filtered, m)
		}
		moments = filtered
	}
	if cfg.MaxMoments != nil && len(moments) > *cfg.MaxMoments {
		moments = moments[:*cfg.MaxMoments]
	}
	return moments
}
