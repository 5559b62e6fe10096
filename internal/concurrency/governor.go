// Package concurrency is the Concurrency Governor: process-global counting
// semaphores limiting parallel work across all runs on this worker.
// Generalizes the teacher's single-resource tuner-slot leases
// (Orchestrator.TunerSlots / acquireTunerLease) to a named set of
// golang.org/x/sync/semaphore.Weighted instances — already
// context-cancellable, which is exactly the "waiter-fair,
// cancellation-aware" requirement the spec names.
package concurrency

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Joshi004/moments-pipeline/internal/metrics"
)

// Resource names the governed pools, matching spec.md §4.8.
type Resource string

const (
	ResourceRuns          Resource = "runs"
	ResourceAudioExtract  Resource = "audio_extraction"
	ResourceTranscription Resource = "transcription"
	ResourceMomentGen     Resource = "moment_generation"
	ResourceClipExtract   Resource = "clip_extraction"
	ResourceRefinement    Resource = "moment_refinement"
)

// DefaultCapacities are the spec's default per-resource capacities.
var DefaultCapacities = map[Resource]int64{
	ResourceRuns:          2,
	ResourceAudioExtract:  2,
	ResourceTranscription: 2,
	ResourceMomentGen:     2,
	ResourceClipExtract:   4,
	ResourceRefinement:    1,
}

// ErrCancelled is returned by Acquire when ctx is done before a permit was
// granted; no permit is reserved in that case.
var ErrCancelled = errors.New("concurrency: acquire cancelled before permit granted")

// Governor owns one weighted semaphore per governed resource.
type Governor struct {
	sems map[Resource]*semaphore.Weighted
}

// New builds a Governor from the given capacities, falling back to
// DefaultCapacities for any resource not present in the map.
func New(capacities map[Resource]int64) *Governor {
	g := &Governor{sems: make(map[Resource]*semaphore.Weighted, len(DefaultCapacities))}
	for r, def := range DefaultCapacities {
		cap := def
		if v, ok := capacities[r]; ok && v > 0 {
			cap = v
		}
		g.sems[r] = semaphore.NewWeighted(cap)
	}
	return g
}

// Permit is a held semaphore slot; callers must Release it on every exit path.
type Permit struct {
	resource Resource
	sem      *semaphore.Weighted
}

// Release frees the permit. Safe to call at most once.
func (p *Permit) Release() {
	if p == nil || p.sem == nil {
		return
	}
	p.sem.Release(1)
}

// Acquire blocks for a single slot on resource, honoring ctx cancellation.
// If the caller's run is cancelled while waiting, the acquire unblocks and
// returns ErrCancelled without reserving a permit.
func (g *Governor) Acquire(ctx context.Context, resource Resource) (*Permit, error) {
	sem, ok := g.sems[resource]
	if !ok {
		sem = semaphore.NewWeighted(1)
		g.sems[resource] = sem
	}
	start := time.Now()
	err := sem.Acquire(ctx, 1)
	metrics.ConcurrencyWaitSeconds.WithLabelValues(string(resource)).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, ErrCancelled
	}
	return &Permit{resource: resource, sem: sem}, nil
}
