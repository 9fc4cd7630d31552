package telemetry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestLoggerWithTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	t.Run("no span leaves logger unchanged", func(t *testing.T) {
		assert.Same(t, logger, LoggerWithTrace(context.Background(), logger))
	})

	t.Run("valid span adds ids", func(t *testing.T) {
		tp := sdktrace.NewTracerProvider()
		defer tp.Shutdown(context.Background())
		ctx, span := Tracer(tp).Start(context.Background(), "test")
		defer span.End()

		LoggerWithTrace(ctx, logger).Info("hello")
		assert.Contains(t, buf.String(), "trace_id="+span.SpanContext().TraceID().String())
		assert.Contains(t, buf.String(), "span_id="+span.SpanContext().SpanID().String())
	})
}

func TestEnd_RecordsStatus(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())

	_, ok := Tracer(tp).Start(context.Background(), "ok")
	End(ok, nil)
	_, failed := Tracer(tp).Start(context.Background(), "failed")
	End(failed, errors.New("boom"))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "boom", spans[1].Status().Description)
	assert.Len(t, spans[1].Events(), 1, "error must be recorded as an event")
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.Transition("Scheduled", "Ready")
	m.Transition("Scheduled", "Ready")
	m.Conflict("resource-overlap")
	m.WorkflowCreated("bracket", false)
	m.PersistenceFailure("save_stage")
	m.ObserveOperation("start_stage", 0.002)
	m.EventDropped("stage.progress")

	assert.Equal(t, 2.0, promtest.ToFloat64(m.transitions.WithLabelValues("Scheduled", "Ready")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.conflicts.WithLabelValues("resource-overlap")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.workflows.WithLabelValues("bracket", "failure")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.persistenceFailures.WithLabelValues("save_stage")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.droppedEvents.WithLabelValues("stage.progress")))
	count, err := promtest.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 6, count)
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Transition("a", "b")
		m.Conflict("x")
		m.WorkflowCreated("t", true)
		m.PersistenceFailure("op")
		m.ObserveOperation("op", 1)
		m.EventDropped("t")
	})
}
