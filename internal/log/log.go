// Package log provides the structured logger shared by every component of
// the pipeline. It wraps zerolog behind a small, process-global facade;
// apart from internal/coordstore, call sites do not import zerolog directly.
package log

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config captures options for configuring the global logger.
type Config struct {
	Level   string    // "debug", "info", "warn", "error" (default "info")
	Output  io.Writer // defaults to os.Stdout
	Service string    // attached to every log entry (default "moments-pipeline")
	Version string
}

var (
	mu          sync.RWMutex
	base        zerolog.Logger
	initialized bool
)

// Configure initializes the global zerolog logger.
func Configure(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	level := zerolog.InfoLevel
	if cfg.Level != "" {
		if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	writer := cfg.Output
	if writer == nil {
		writer = os.Stdout
	}

	service := cfg.Service
	if service == "" {
		service = "moments-pipeline"
	}

	base = zerolog.New(writer).With().
		Timestamp().
		Str("service", service).
		Str("version", cfg.Version).
		Logger()

	initialized = true
}

func ensureInitialized() {
	mu.RLock()
	if initialized {
		mu.RUnlock()
		return
	}
	mu.RUnlock()
	Configure(Config{})
}

func logger() zerolog.Logger {
	ensureInitialized()
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// L returns a pointer to a copy of the global logger.
func L() *zerolog.Logger {
	l := logger()
	return &l
}

// WithComponent returns a child logger annotated with a component name.
func WithComponent(component string) zerolog.Logger {
	return logger().With().Str("component", component).Logger()
}

type ctxKey int

const (
	ctxKeyRunID ctxKey = iota
	ctxKeySubjectID
)

// ContextWithRunID attaches a run id to the context for downstream logging.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ctxKeyRunID, runID)
}

// ContextWithSubjectID attaches a subject id to the context.
func ContextWithSubjectID(ctx context.Context, subjectID string) context.Context {
	return context.WithValue(ctx, ctxKeySubjectID, subjectID)
}

// RunIDFromContext extracts the run id, or "" if unset.
func RunIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRunID).(string); ok {
		return v
	}
	return ""
}

// WithContext returns a logger enriched with the run/subject ids carried on ctx.
func WithContext(ctx context.Context, l zerolog.Logger) zerolog.Logger {
	ev := l.With()
	if rid := RunIDFromContext(ctx); rid != "" {
		ev = ev.Str("run_id", rid)
	}
	if sid, ok := ctx.Value(ctxKeySubjectID).(string); ok && sid != "" {
		ev = ev.Str("subject_id", sid)
	}
	return ev.Logger()
}

// NewRequestID generates a fresh correlation id for a CLI invocation or
// enqueue request that doesn't yet have a run id.
func NewRequestID() string {
	return uuid.New().String()
}
