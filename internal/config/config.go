// Package config loads the worker's settings: a YAML base file, a
// thin env-var overlay, and a default model-registry seed file watched
// with fsnotify for hot reload. Grounded on the teacher's config loader
// (YAML base + env override, same override-wins precedence) and its
// fsnotify-based watch of on-disk config for zero-restart updates.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Joshi004/moments-pipeline/internal/domain"
	"github.com/Joshi004/moments-pipeline/internal/log"
)

// Snapshot is the fully resolved configuration for one worker process.
type Snapshot struct {
	CoordStoreAddr     string        `yaml:"coord_store_addr"`
	CoordStorePassword string        `yaml:"coord_store_password"`
	CoordStoreDB       int           `yaml:"coord_store_db"`

	Stream          string        `yaml:"stream"`
	Group           string        `yaml:"group"`
	Consumer        string        `yaml:"consumer"`
	MaxConcurrent   int           `yaml:"max_concurrent"`
	ReclaimIdle     time.Duration `yaml:"-"`
	ReclaimIdleMS   int64         `yaml:"reclaim_idle_ms"`
	LockTTLSeconds  int64         `yaml:"lock_ttl_seconds"`

	WorkDir         string `yaml:"work_dir"`
	ModelSeedPath   string `yaml:"model_seed_path"`

	ShutdownGrace time.Duration `yaml:"-"`
	ShutdownGraceSeconds int64  `yaml:"shutdown_grace_seconds"`

	TelemetryEnabled      bool    `yaml:"telemetry_enabled"`
	TelemetryExporterType string  `yaml:"telemetry_exporter_type"`
	TelemetryEndpoint     string  `yaml:"telemetry_endpoint"`
	TelemetrySamplingRate float64 `yaml:"telemetry_sampling_rate"`
	TelemetryEnvironment  string  `yaml:"telemetry_environment"`
}

// Default returns the spec's defaults before any file/env overlay.
func Default() Snapshot {
	return Snapshot{
		CoordStoreAddr:       "localhost:6379",
		Stream:               "pipeline:requests",
		Group:                "pipeline_workers",
		MaxConcurrent:        2,
		ReclaimIdleMS:        60000,
		LockTTLSeconds:       1800,
		WorkDir:              os.TempDir(),
		ShutdownGraceSeconds: 30,
		TelemetryEnabled:     false,
		TelemetryExporterType: "grpc",
		TelemetrySamplingRate: 1.0,
		TelemetryEnvironment:  "development",
	}
}

// Load reads a YAML file (if path is non-empty and exists), applies an env
// overlay, fills in derived duration fields and a host-pid consumer name
// default.
func Load(path string) (Snapshot, error) {
	snap := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Snapshot{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(raw, &snap); err != nil {
			return Snapshot{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverlay(&snap)

	if snap.Consumer == "" {
		host, _ := os.Hostname()
		snap.Consumer = fmt.Sprintf("worker-%s-%d", host, os.Getpid())
	}
	snap.ReclaimIdle = time.Duration(snap.ReclaimIdleMS) * time.Millisecond
	snap.ShutdownGrace = time.Duration(snap.ShutdownGraceSeconds) * time.Second

	return snap, nil
}

// applyEnvOverlay lets deployment env vars win over file values, matching
// the teacher's "env overrides file" precedence.
func applyEnvOverlay(s *Snapshot) {
	if v := os.Getenv("MOMENTS_COORD_STORE_ADDR"); v != "" {
		s.CoordStoreAddr = v
	}
	if v := os.Getenv("MOMENTS_COORD_STORE_PASSWORD"); v != "" {
		s.CoordStorePassword = v
	}
	if v := os.Getenv("MOMENTS_COORD_STORE_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.CoordStoreDB = n
		}
	}
	if v := os.Getenv("MOMENTS_STREAM"); v != "" {
		s.Stream = v
	}
	if v := os.Getenv("MOMENTS_GROUP"); v != "" {
		s.Group = v
	}
	if v := os.Getenv("MOMENTS_CONSUMER"); v != "" {
		s.Consumer = v
	}
	if v := os.Getenv("MOMENTS_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.MaxConcurrent = n
		}
	}
	if v := os.Getenv("MOMENTS_RECLAIM_IDLE_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			s.ReclaimIdleMS = n
		}
	}
	if v := os.Getenv("MOMENTS_LOCK_TTL_SECONDS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			s.LockTTLSeconds = n
		}
	}
	if v := os.Getenv("MOMENTS_WORK_DIR"); v != "" {
		s.WorkDir = v
	}
	if v := os.Getenv("MOMENTS_MODEL_SEED_PATH"); v != "" {
		s.ModelSeedPath = v
	}
	if v := os.Getenv("MOMENTS_TELEMETRY_ENABLED"); v != "" {
		s.TelemetryEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("MOMENTS_TELEMETRY_EXPORTER_TYPE"); v != "" {
		s.TelemetryExporterType = v
	}
	if v := os.Getenv("MOMENTS_TELEMETRY_ENDPOINT"); v != "" {
		s.TelemetryEndpoint = v
	}
}

// modelSeedFile is the on-disk shape of a model registry seed.
type modelSeedFile struct {
	Models []domain.ModelDescriptor `yaml:"models"`
}

// LoadModelSeed reads the model descriptors a fresh registry should be
// seeded with. Returns an empty slice if path is empty or missing.
func LoadModelSeed(path string) ([]domain.ModelDescriptor, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: read model seed %s: %w", path, err)
	}
	var f modelSeedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("config: parse model seed %s: %w", path, err)
	}
	return f.Models, nil
}

// logger is used by the watch helper in watch.go; declared here so both
// files share one component-scoped logger instance.
var logger = log.WithComponent("config")
