// Package metrics defines the Prometheus instrumentation surface shared by
// every component, grounded on the teacher's promauto-per-package idiom
// (internal/pipeline/worker/metrics.go, internal/pipeline/exec/ffmpeg's
// start/exit counters).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunOutcomeTotal counts terminal run outcomes by state.
	RunOutcomeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_run_outcome_total",
		Help: "Total number of pipeline runs reaching a terminal state, by state.",
	}, []string{"state"})

	// StageTransitionTotal counts stage state transitions.
	StageTransitionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_stage_transition_total",
		Help: "Total number of stage state transitions, by stage and resulting state.",
	}, []string{"stage", "state"})

	// LockAcquireTotal counts lock acquisition attempts by outcome.
	LockAcquireTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_lock_acquire_total",
		Help: "Total number of subject lock acquisition attempts, by outcome.",
	}, []string{"outcome"})

	// TunnelAcquireTotal counts tunnel acquisitions by outcome.
	TunnelAcquireTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_tunnel_acquire_total",
		Help: "Total number of tunnel acquisitions, by model_key and outcome.",
	}, []string{"model_key", "outcome"})

	// TunnelActive tracks the number of live forwarder processes.
	TunnelActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_tunnel_active",
		Help: "Number of currently live tunnel forwarder processes.",
	})

	// ProcTerminateTotal counts process-group termination signal outcomes.
	ProcTerminateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_proc_terminate_total",
		Help: "Total number of process-group termination signals sent, by signal and outcome.",
	}, []string{"signal", "outcome"})

	// InferenceCallTotal counts inference client calls by kind and outcome.
	InferenceCallTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_inference_call_total",
		Help: "Total number of inference client calls, by kind (chat|transcribe) and outcome.",
	}, []string{"kind", "outcome"})

	// QueueReclaimTotal counts stream entries reclaimed from idle consumers.
	QueueReclaimTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_queue_reclaim_total",
		Help: "Total number of stream entries reclaimed from idle consumers.",
	})

	// ConcurrencyWaitSeconds observes time spent waiting on a governor permit.
	ConcurrencyWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "pipeline_concurrency_wait_seconds",
		Help: "Time spent waiting to acquire a concurrency-governor permit, by resource.",
	}, []string{"resource"})

	// CircuitBreakerStateChange counts resilience circuit breaker transitions.
	CircuitBreakerStateChange = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_circuit_breaker_state_total",
		Help: "Total number of circuit breaker state transitions, by breaker name and new state.",
	}, []string{"name", "state"})
)

// IncProcTerminate records a process-group termination signal outcome.
func IncProcTerminate(signal, outcome string) {
	ProcTerminateTotal.WithLabelValues(signal, outcome).Inc()
}

// procWaitTotal counts the final Wait() outcome after a Terminate() call.
var procWaitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pipeline_proc_wait_total",
	Help: "Total number of process-group Wait() outcomes observed after Terminate, by outcome.",
}, []string{"outcome"})

// IncProcWait records the final Wait() outcome after a Terminate() call.
func IncProcWait(outcome string) {
	procWaitTotal.WithLabelValues(outcome).Inc()
}
