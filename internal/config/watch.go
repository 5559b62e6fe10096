package config

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"github.com/Joshi004/moments-pipeline/internal/domain"
)

// RegistryUpdater is the subset of registry.Registry the watcher needs;
// kept as a narrow interface so this package doesn't import registry.
type RegistryUpdater interface {
	Update(ctx context.Context, key string, d domain.ModelDescriptor) error
}

// WatchModelSeed watches path for writes and re-applies its model
// descriptors to reg on every change, until ctx is cancelled. Grounded on
// the teacher's fsnotify-based config watch: one watcher goroutine, a
// debounce-free re-read on every Write/Create event, errors logged and
// swallowed rather than propagated (a bad edit shouldn't crash the worker).
func WatchModelSeed(ctx context.Context, path string, reg RegistryUpdater) error {
	if path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				reloadModelSeed(ctx, path, reg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn().Err(err).Msg("model seed watch error")
			}
		}
	}()
	return nil
}

func reloadModelSeed(ctx context.Context, path string, reg RegistryUpdater) {
	models, err := LoadModelSeed(path)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("failed to reload model seed")
		return
	}
	for _, d := range models {
		if err := reg.Update(ctx, d.ModelKey, d); err != nil {
			logger.Warn().Err(err).Str("model_key", d.ModelKey).Msg("failed to apply reloaded model descriptor")
		}
	}
	logger.Info().Int("count", len(models)).Str("path", path).Msg("reloaded model seed")
}
