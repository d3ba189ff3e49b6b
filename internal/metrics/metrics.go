// Package metrics exposes Prometheus collectors for the orchestrator.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shotrio",
		Name:      "turns_total",
		Help:      "Assistant turns by completion reason.",
	}, []string{"reason"})

	iterationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shotrio",
		Name:      "loop_iterations_total",
		Help:      "Model calls made by the orchestration loop.",
	})

	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shotrio",
		Name:      "operations_dispatched_total",
		Help:      "Dispatched operations by name and success.",
	}, []string{"operation", "success"})

	pendingActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shotrio",
		Name:      "pending_actions_total",
		Help:      "Pending actions created by operation.",
	}, []string{"operation"})

	modelStreamSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "shotrio",
		Name:      "model_stream_seconds",
		Help:      "Time spent consuming one model stream.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
	})
)

// TurnCompleted counts a finished turn.
func TurnCompleted(reason string) {
	turnsTotal.WithLabelValues(reason).Inc()
}

// IterationStarted counts one model call.
func IterationStarted() {
	iterationsTotal.Inc()
}

// OperationDispatched counts one dispatch.
func OperationDispatched(operation string, success bool) {
	dispatchTotal.WithLabelValues(operation, strconv.FormatBool(success)).Inc()
}

// PendingActionCreated counts one gated invocation.
func PendingActionCreated(operation string) {
	pendingActionsTotal.WithLabelValues(operation).Inc()
}

// ObserveModelStream records how long a model stream took.
func ObserveModelStream(d time.Duration) {
	modelStreamSeconds.Observe(d.Seconds())
}
