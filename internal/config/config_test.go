package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_NoPathReturnsDefaultsWithDerivedFields(t *testing.T) {
	snap, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().MaxConcurrent, snap.MaxConcurrent)
	assert.Equal(t, 60*time.Second, snap.ReclaimIdle)
	assert.Equal(t, 30*time.Second, snap.ShutdownGrace)
	assert.NotEmpty(t, snap.Consumer, "a missing consumer name must be derived from host+pid")
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	snap, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Stream, snap.Stream)
}

func TestLoad_FileValuesOverrideDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.yaml")
	require.NoError(t, writeFile(path, `
stream: custom-stream
group: custom-group
max_concurrent: 7
reclaim_idle_ms: 5000
`))

	snap, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "custom-stream", snap.Stream)
	assert.Equal(t, "custom-group", snap.Group)
	assert.Equal(t, 7, snap.MaxConcurrent)
	assert.Equal(t, 5*time.Second, snap.ReclaimIdle)
}

func TestLoad_EnvOverlayWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.yaml")
	require.NoError(t, writeFile(path, "max_concurrent: 3\n"))

	t.Setenv("MOMENTS_MAX_CONCURRENT", "9")
	snap, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, snap.MaxConcurrent)
}

func TestLoad_EnvOverlayAppliesWithNoFile(t *testing.T) {
	t.Setenv("MOMENTS_STREAM", "env-stream")
	t.Setenv("MOMENTS_CONSUMER", "env-consumer")
	snap, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "env-stream", snap.Stream)
	assert.Equal(t, "env-consumer", snap.Consumer)
}

func TestLoad_InvalidIntEnvVarIsIgnored(t *testing.T) {
	t.Setenv("MOMENTS_MAX_CONCURRENT", "not-a-number")
	snap, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().MaxConcurrent, snap.MaxConcurrent)
}

func TestLoad_TelemetryEnvOverlayAppliesOverFileDefaults(t *testing.T) {
	t.Setenv("MOMENTS_TELEMETRY_ENABLED", "true")
	t.Setenv("MOMENTS_TELEMETRY_EXPORTER_TYPE", "http")
	t.Setenv("MOMENTS_TELEMETRY_ENDPOINT", "collector:4318")

	snap, err := Load("")
	require.NoError(t, err)
	assert.True(t, snap.TelemetryEnabled)
	assert.Equal(t, "http", snap.TelemetryExporterType)
	assert.Equal(t, "collector:4318", snap.TelemetryEndpoint)
}

func TestLoad_MalformedYAMLReturnsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, writeFile(path, "not: [valid: yaml"))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadModelSeed_EmptyPathReturnsNil(t *testing.T) {
	models, err := LoadModelSeed("")
	require.NoError(t, err)
	assert.Nil(t, models)
}

func TestLoadModelSeed_MissingFileReturnsNil(t *testing.T) {
	models, err := LoadModelSeed(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Nil(t, models)
}

func TestLoadModelSeed_ParsesModelsList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seed.yaml")
	require.NoError(t, writeFile(path, `
models:
  - model_key: gen-a
    model_id: qwen-vl
    supports_video: true
  - model_key: ref-a
    model_id: qwen-text
`))

	models, err := LoadModelSeed(path)
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "gen-a", models[0].ModelKey)
	assert.True(t, models[0].SupportsVideo)
	assert.Equal(t, "ref-a", models[1].ModelKey)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
