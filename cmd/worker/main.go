// Command worker runs one Worker Process: it consumes run submissions off
// the coordination store's request stream and drives each through the
// eight-stage pipeline via the orchestrator. Flag and signal handling is
// grounded on the teacher's cmd/daemon/main.go (flag.Parse, then
// signal.NotifyContext for graceful shutdown).
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Joshi004/moments-pipeline/internal/app"
	"github.com/Joshi004/moments-pipeline/internal/config"
	xglog "github.com/Joshi004/moments-pipeline/internal/log"
)

const (
	exitOK = iota
	exitFatalInit
	exitInvalidConfig
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to worker config file (YAML)")
	stream := flag.String("stream", "", "override the request stream name")
	group := flag.String("group", "", "override the consumer group name")
	consumer := flag.String("consumer", "", "override this worker's consumer name")
	maxConcurrent := flag.Int("max-concurrent", 0, "override the concurrent-runs capacity")
	reclaimIdleMS := flag.Int64("reclaim-idle-ms", 0, "override the idle-reclaim threshold in milliseconds")
	lockTTLSeconds := flag.Int64("lock-ttl-seconds", 0, "override the subject lock TTL in seconds")
	metricsAddr := flag.String("metrics-addr", ":9090", "listen address for the /metrics endpoint")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	xglog.Configure(xglog.Config{Level: *logLevel, Service: "moments-worker"})
	logger := xglog.WithComponent("main")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error().Err(err).Str("config_path", *configPath).Msg("failed to load configuration")
		return exitInvalidConfig
	}
	applyFlagOverrides(&cfg, *stream, *group, *consumer, *maxConcurrent, *reclaimIdleMS, *lockTTLSeconds)

	if cfg.MaxConcurrent <= 0 {
		logger.Error().Int("max_concurrent", cfg.MaxConcurrent).Msg("max_concurrent must be positive")
		return exitInvalidConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := app.Build(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize worker dependencies")
		return exitFatalInit
	}
	defer func() {
		if err := container.Store.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing coordination store connection")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("error shutting down telemetry provider")
		}
	}()

	metricsSrv := &http.Server{Addr: *metricsAddr, Handler: promhttp.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn().Err(err).Msg("metrics server stopped")
		}
	}()

	logger.Info().
		Str("stream", cfg.Stream).
		Str("group", cfg.Group).
		Str("consumer", cfg.Consumer).
		Int("max_concurrent", cfg.MaxConcurrent).
		Msg("worker starting")

	go container.Sweeper().Run(ctx)

	runErr := container.Worker().Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("error shutting down metrics server")
	}

	if runErr != nil {
		logger.Error().Err(runErr).Msg("worker loop exited with error")
		return exitFatalInit
	}

	logger.Info().Msg("worker shut down cleanly")
	return exitOK
}

func applyFlagOverrides(cfg *config.Snapshot, stream, group, consumer string, maxConcurrent int, reclaimIdleMS, lockTTLSeconds int64) {
	if stream != "" {
		cfg.Stream = stream
	}
	if group != "" {
		cfg.Group = group
	}
	if consumer != "" {
		cfg.Consumer = consumer
	}
	if maxConcurrent > 0 {
		cfg.MaxConcurrent = maxConcurrent
	}
	if reclaimIdleMS > 0 {
		cfg.ReclaimIdleMS = reclaimIdleMS
		cfg.ReclaimIdle = time.Duration(reclaimIdleMS) * time.Millisecond
	}
	if lockTTLSeconds > 0 {
		cfg.LockTTLSeconds = lockTTLSeconds
	}
}

