// Package stage is the Stage Runtime: the polymorphic stage abstraction
// the orchestrator drives. Grounded on spec.md §4.9's tagged-variant plus
// capability-interface design ({name, requires, should_skip, run}), which
// in Go terms is a small interface implemented once per stage, the same
// shape the teacher uses for exec.Factory producing a Transcoder
// interface rather than a concrete ffmpeg type.
package stage

import (
	"context"
	"errors"
	"time"

	"github.com/Joshi004/moments-pipeline/internal/concurrency"
	"github.com/Joshi004/moments-pipeline/internal/domain"
	"github.com/Joshi004/moments-pipeline/internal/inference"
	"github.com/Joshi004/moments-pipeline/internal/objectstore"
	"github.com/Joshi004/moments-pipeline/internal/registry"
	"github.com/Joshi004/moments-pipeline/internal/repository"
	"github.com/Joshi004/moments-pipeline/internal/resilience"
	"github.com/Joshi004/moments-pipeline/internal/tunnel"
)

// RunContext is the only medium by which stage outputs flow forward;
// stages must not reach around it into package-level or global state.
type RunContext struct {
	Run     *domain.PipelineRun
	Subject *domain.Subject

	GenerationDescriptor domain.ModelDescriptor
	RefinementDescriptor domain.ModelDescriptor

	WorkDir        string
	LocalMediaPath string
	LocalAudioPath string
	AudioURL       string

	MediaDurationSeconds float64

	TranscriptID       int64
	Transcript         *domain.TranscriptRecord
	GenerationConfigID int64

	Moments []domain.Moment

	// ClipFailures and RefinementFailures count per-item recoverable
	// errors within ClipExtract/ClipUpload and Refinement, surfaced in
	// Run.Totals so a partial outcome is explainable.
	ClipFailures       int
	RefinementFailures int
}

// Deps is the dependency container every stage runs against. Built once
// by internal/app and threaded through by the orchestrator — never a
// package-level singleton.
type Deps struct {
	Repo      repository.Repository
	Objects   objectstore.Store
	Registry  *registry.Registry
	Tunnels   *tunnel.Manager
	Governor  *concurrency.Governor
	Breakers  *BreakerSet
	Downloader Downloader
	Extractor  MediaExtractor
}

// Downloader fetches a subject's source into a local temp path and
// reports basic media metadata. Implemented over net/http for plain URLs;
// stages depend on the interface so tests can substitute a fake.
type Downloader interface {
	Download(ctx context.Context, sourceURL, destPath string) (domain.Subject, error)
}

// MediaExtractor shells out to a codec subprocess, mirroring the
// teacher's exec.Runner boundary (transcoding is a black-box operation
// returning a local file path per spec.md's Non-goals).
type MediaExtractor interface {
	Probe(ctx context.Context, mediaPath string) (MediaInfo, error)
	ExtractAudio(ctx context.Context, mediaPath, destPath string) error
	ExtractClip(ctx context.Context, mediaPath, destPath string, startSeconds, endSeconds float64) error
}

// MediaInfo is the subset of container metadata Download persists onto
// the Subject record.
type MediaInfo struct {
	DurationMS int64
	Codecs     string
	Resolution string
	FPS        float64
}

// InferenceClientFor returns an inference.Client bound to handle's base
// URL, wrapped in this model_key's shared circuit breaker.
func (d *Deps) InferenceClientFor(modelKey string, handle *tunnel.Handle) *inference.Client {
	return inference.New(handle.BaseURL, d.Breakers.For(modelKey))
}

// BreakerSet lazily creates and shares one circuit breaker per model_key
// so failures across requests and across runs accumulate in one window.
type BreakerSet struct {
	breakers map[string]*resilience.CircuitBreaker
	new      func(name string) *resilience.CircuitBreaker
}

// NewBreakerSet builds a set using the spec's inference defaults: trip
// after 3 failures within 5 attempts over a 60s window, 30s reset probe.
func NewBreakerSet() *BreakerSet {
	return &BreakerSet{
		breakers: make(map[string]*resilience.CircuitBreaker),
		new: func(name string) *resilience.CircuitBreaker {
			return resilience.NewCircuitBreaker(name, 3, 5, 60*time.Second, 30*time.Second)
		},
	}
}

// For returns the shared breaker for modelKey, creating it on first use.
func (b *BreakerSet) For(modelKey string) *resilience.CircuitBreaker {
	if cb, ok := b.breakers[modelKey]; ok {
		return cb
	}
	cb := b.new(modelKey)
	b.breakers[modelKey] = cb
	return cb
}

// Stage is the capability interface spec.md §4.9 names: a declared name,
// a skip predicate evaluated before any resource acquisition, and the run
// logic itself.
type Stage interface {
	Name() domain.StageID
	ShouldSkip(ctx context.Context, deps *Deps, rc *RunContext) (bool, string)
	Run(ctx context.Context, deps *Deps, rc *RunContext) error
}

// ResourceAware is implemented by stages that acquire a concurrency-governor
// pool before running; Resource names that pool. Stages with no governed
// resource (Download, AudioUpload, ClipUpload) do not implement it, and the
// orchestrator runs them without acquiring a permit.
type ResourceAware interface {
	Resource() concurrency.Resource
}

// RecoverableError marks a per-item failure (one clip, one refinement)
// that must not fail the whole stage — spec.md §4.10's "Recoverable"
// error kind. The stage continues with the next item; the run ends
// `partial` instead of `failed`.
type RecoverableError struct {
	Err error
}

func (e *RecoverableError) Error() string { return e.Err.Error() }
func (e *RecoverableError) Unwrap() error { return e.Err }

// IsRecoverable reports whether err (or anything it wraps) is a
// RecoverableError.
func IsRecoverable(err error) bool {
	var r *RecoverableError
	return errors.As(err, &r)
}
