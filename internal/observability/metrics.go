// Package observability exposes the process-wide Prometheus metrics for the
// runtime: invocation outcomes and latency, stream activity, background task
// load and health transitions.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type runtimeMetrics struct {
	invocationsTotal   *prometheus.CounterVec
	invocationDuration prometheus.Histogram

	streamEventsTotal prometheus.Counter
	streamErrorsTotal prometheus.Counter

	activeTasks  prometheus.Gauge
	taskDuration *prometheus.HistogramVec

	healthTransitionsTotal *prometheus.CounterVec
	debugActionsTotal      *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *runtimeMetrics
)

func getMetrics() *runtimeMetrics {
	metricsOnce.Do(func() {
		m := &runtimeMetrics{
			invocationsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "invocations_total",
					Help: "Total invocations by outcome.",
				},
				[]string{"outcome"},
			),
			invocationDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "invocation_duration_seconds",
					Help:    "Invocation handling duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			streamEventsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "stream_events_total",
					Help: "Total streamed response events written.",
				},
			),
			streamErrorsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "stream_errors_total",
					Help: "Total streams terminated by an error event.",
				},
			),
			activeTasks: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_tasks",
					Help: "Current tracked background task count.",
				},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "task_duration_seconds",
					Help:    "Background task duration in seconds by task name.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"task"},
			),
			healthTransitionsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "health_transitions_total",
					Help: "Total health status transitions by new status.",
				},
				[]string{"to"},
			),
			debugActionsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "debug_actions_total",
					Help: "Total debug actions received by action name.",
				},
				[]string{"action"},
			),
		}

		prometheus.MustRegister(
			m.invocationsTotal,
			m.invocationDuration,
			m.streamEventsTotal,
			m.streamErrorsTotal,
			m.activeTasks,
			m.taskDuration,
			m.healthTransitionsTotal,
			m.debugActionsTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordInvocation(outcome string, duration time.Duration) {
	m := getMetrics()
	m.invocationsTotal.WithLabelValues(outcome).Inc()
	m.invocationDuration.Observe(duration.Seconds())
}

func RecordStreamEvent() {
	getMetrics().streamEventsTotal.Inc()
}

func RecordStreamError() {
	getMetrics().streamErrorsTotal.Inc()
}

func SetActiveTasks(count int) {
	getMetrics().activeTasks.Set(float64(count))
}

func RecordTaskCompletion(task string, duration time.Duration) {
	getMetrics().taskDuration.WithLabelValues(task).Observe(duration.Seconds())
}

func RecordHealthTransition(to string) {
	getMetrics().healthTransitionsTotal.WithLabelValues(to).Inc()
}

func RecordDebugAction(action string) {
	getMetrics().debugActionsTotal.WithLabelValues(action).Inc()
}
