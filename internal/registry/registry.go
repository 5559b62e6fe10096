// Package registry is the Model Registry: it persists and serves
// per-model connection descriptors under the coordination store's
// model:config:* namespace, seeding defaults on first use the way the
// teacher's Orchestrator.Run flushes stale leases before serving
// (§4.2 of SPEC_FULL.md).
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Joshi004/moments-pipeline/internal/coordstore"
	"github.com/Joshi004/moments-pipeline/internal/domain"
	"github.com/Joshi004/moments-pipeline/internal/log"
)

// ErrModelNotRegistered is raised when a referenced model key is absent.
var ErrModelNotRegistered = errors.New("registry: model not registered")

// Registry serves ModelDescriptor records from the coordination store.
type Registry struct {
	store *coordstore.Client
}

// New returns a Registry bound to the given coordination store.
func New(store *coordstore.Client) *Registry {
	return &Registry{store: store}
}

// SeedIfEmpty populates the registry with defaults iff model:config:_keys
// is currently empty, so a fresh coordination store boots with usable
// descriptors instead of failing every enqueue with ModelNotRegistered.
func (r *Registry) SeedIfEmpty(ctx context.Context, defaults []domain.ModelDescriptor) error {
	n, err := r.store.SCard(ctx, coordstore.KeyModelConfigKeys)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	logger := log.WithComponent("registry")
	for _, d := range defaults {
		if err := r.Update(ctx, d.ModelKey, d); err != nil {
			return fmt.Errorf("registry: seed %s: %w", d.ModelKey, err)
		}
	}
	logger.Info().Int("count", len(defaults)).Msg("seeded default model descriptors")
	return nil
}

// Get returns the descriptor for key, or ErrModelNotRegistered.
func (r *Registry) Get(ctx context.Context, key string) (domain.ModelDescriptor, error) {
	fields, err := r.store.HGetAll(ctx, coordstore.KeyModelConfig(key))
	if err != nil {
		return domain.ModelDescriptor{}, err
	}
	raw, ok := fields["descriptor"]
	if !ok || raw == "" {
		return domain.ModelDescriptor{}, fmt.Errorf("%w: %s", ErrModelNotRegistered, key)
	}
	var d domain.ModelDescriptor
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return domain.ModelDescriptor{}, fmt.Errorf("registry: decode %s: %w", key, err)
	}
	return d, nil
}

// List returns every registered descriptor.
func (r *Registry) List(ctx context.Context) ([]domain.ModelDescriptor, error) {
	keys, err := r.store.SMembers(ctx, coordstore.KeyModelConfigKeys)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ModelDescriptor, 0, len(keys))
	for _, k := range keys {
		d, err := r.Get(ctx, k)
		if err != nil {
			if errors.Is(err, ErrModelNotRegistered) {
				continue
			}
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Update writes (creating or replacing) the descriptor for key.
func (r *Registry) Update(ctx context.Context, key string, d domain.ModelDescriptor) error {
	d.ModelKey = key
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if err := r.store.HSet(ctx, coordstore.KeyModelConfig(key), map[string]any{"descriptor": string(raw)}); err != nil {
		return err
	}
	return r.store.SAdd(ctx, coordstore.KeyModelConfigKeys, key)
}

// Resolve looks up key and wraps ErrModelNotRegistered with the requesting
// stage name, matching the spec's "fails with ModelNotRegistered" contract
// at both enqueue-time (validation) and mid-run (fatal) call sites.
func (r *Registry) Resolve(ctx context.Context, key, requester string) (domain.ModelDescriptor, error) {
	d, err := r.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrModelNotRegistered) {
			return domain.ModelDescriptor{}, fmt.Errorf("%w: %s (requested by %s)", ErrModelNotRegistered, key, requester)
		}
		return domain.ModelDescriptor{}, err
	}
	return d, nil
}
