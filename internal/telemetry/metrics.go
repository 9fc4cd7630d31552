package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the Prometheus collectors of the engine. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	transitions         *prometheus.CounterVec
	conflicts           *prometheus.CounterVec
	workflows           *prometheus.CounterVec
	persistenceFailures *prometheus.CounterVec
	droppedEvents       *prometheus.CounterVec
	operationDuration   *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stagegrid_stage_transitions_total",
			Help: "Stage status transitions by source and target status",
		}, []string{"from", "to"}),
		conflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stagegrid_conflicts_detected_total",
			Help: "Schedule conflicts found by kind",
		}, []string{"kind"}),
		workflows: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stagegrid_workflows_created_total",
			Help: "Default workflows created by job type and result",
		}, []string{"job_type", "result"}),
		persistenceFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stagegrid_persistence_failures_total",
			Help: "Failed persistence gateway calls by operation",
		}, []string{"op"}),
		droppedEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stagegrid_notify_events_dropped_total",
			Help: "Events not published because the notification rate was exceeded",
		}, []string{"type"}),
		operationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stagegrid_operation_duration_seconds",
			Help:    "Engine operation latency",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1},
		}, []string{"op"}),
	}
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the process-wide Metrics registered with
// prometheus.DefaultRegisterer.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// Transition counts one status change.
func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// Conflict counts one detected conflict.
func (m *Metrics) Conflict(kind string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(kind).Inc()
}

// WorkflowCreated counts one workflow creation attempt.
func (m *Metrics) WorkflowCreated(jobType string, ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.workflows.WithLabelValues(jobType, result).Inc()
}

// PersistenceFailure counts one failed gateway call.
func (m *Metrics) PersistenceFailure(op string) {
	if m == nil {
		return
	}
	m.persistenceFailures.WithLabelValues(op).Inc()
}

// EventDropped counts one event lost to the notification rate limit.
func (m *Metrics) EventDropped(eventType string) {
	if m == nil {
		return
	}
	m.droppedEvents.WithLabelValues(eventType).Inc()
}

// ObserveOperation records the latency of an engine operation in seconds.
func (m *Metrics) ObserveOperation(op string, seconds float64) {
	if m == nil {
		return
	}
	m.operationDuration.WithLabelValues(op).Observe(seconds)
}
