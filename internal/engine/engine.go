package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/specialistvlad/stagegrid/internal/conflict"
	"github.com/specialistvlad/stagegrid/internal/ctxlog"
	"github.com/specialistvlad/stagegrid/internal/job"
	"github.com/specialistvlad/stagegrid/internal/lifecycle"
	"github.com/specialistvlad/stagegrid/internal/notify"
	"github.com/specialistvlad/stagegrid/internal/scheduler"
	"github.com/specialistvlad/stagegrid/internal/stage"
	"github.com/specialistvlad/stagegrid/internal/stageid"
	"github.com/specialistvlad/stagegrid/internal/stagestore"
	"github.com/specialistvlad/stagegrid/internal/telemetry"
	"github.com/specialistvlad/stagegrid/internal/workflow"
)

// Engine is safe for concurrent use.
type Engine struct {
	store     stagestore.Store
	builder   *workflow.Builder
	detector  *conflict.Detector
	lifecycle *lifecycle.Controller
	scheduler *scheduler.DefaultScheduler
	publisher notify.Publisher
	metrics   *telemetry.Metrics
	tracer    trace.Tracer
	now       func() time.Time

	jobs      sync.Map // stageid.JobID -> *job.Job
	stageJobs sync.Map // stageid.ID -> stageid.JobID
	hydration singleflight.Group
	resources *keyedMutex
	// topology is held while a dependency is added, so a cycle check that
	// walks several jobs sees a fixed set of edges.
	topology sync.Mutex
}

type options struct {
	directory      conflict.ResourceDirectory
	publisher      notify.Publisher
	metrics        *telemetry.Metrics
	tracerProvider trace.TracerProvider
	now            func() time.Time
}

// Option configures an Engine.
type Option func(*options)

// WithResourceDirectory sets the directory consulted for resource
// availability. The default accepts every resource.
func WithResourceDirectory(d conflict.ResourceDirectory) Option {
	return func(o *options) { o.directory = d }
}

// WithPublisher sets the event publisher. The default discards events.
func WithPublisher(p notify.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithMetrics sets the Prometheus collectors. The default records nothing.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracerProvider sets the tracer provider. The default is the global
// OpenTelemetry provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithClock replaces time.Now for lifecycle timestamps and events.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates an engine over store using the templates in catalog.
func New(store stagestore.Store, catalog *workflow.Catalog, opts ...Option) *Engine {
	o := options{publisher: notify.Nop{}, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{
		store:     store,
		builder:   workflow.NewBuilder(catalog),
		lifecycle: lifecycle.New(lifecycle.WithClock(o.now), lifecycle.WithMetrics(o.metrics)),
		publisher: o.publisher,
		metrics:   o.metrics,
		tracer:    telemetry.Tracer(o.tracerProvider),
		now:       o.now,
		resources: newKeyedMutex(),
	}
	e.detector = conflict.NewDetector(o.directory, conflict.BookingsFunc(e.stagesOnResource), o.metrics)
	e.scheduler = scheduler.New(e)
	return e
}

// Catalog returns the workflow templates the engine builds from.
func (e *Engine) Catalog() *workflow.Catalog { return e.builder.Catalog() }

// SetCatalog replaces the workflow templates. Workflows already created are
// not affected.
func (e *Engine) SetCatalog(c *workflow.Catalog) { e.builder.SetCatalog(c) }

// begin opens a span for op and returns a context carrying it plus a
// trace-correlated logger. The returned function ends the span and records
// the latency; pass it the operation's final error.
func (e *Engine) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "engine."+op, trace.WithAttributes(attrs...))
	ctx = ctxlog.WithLogger(ctx, telemetry.LoggerWithTrace(ctx, ctxlog.FromContext(ctx)).With("op", op))
	return ctx, func(err error) {
		e.metrics.ObserveOperation(op, time.Since(start).Seconds())
		if err != nil {
			ctxlog.FromContext(ctx).Debug("Operation failed.", "error", err)
		}
		telemetry.End(span, err)
	}
}

// publish sends events after a commit. Failures are logged, never returned.
func (e *Engine) publish(ctx context.Context, events ...notify.Event) {
	for _, ev := range events {
		if ev.At.IsZero() {
			ev.At = e.now().UTC()
		}
		if err := e.publisher.Publish(ctx, ev); err != nil {
			ctxlog.FromContext(ctx).Warn("Failed to publish event.", "type", ev.Type, "stage", ev.StageID, "error", err)
		}
	}
}

func transitionEvents(jobID stageid.JobID, r lifecycle.Result) []notify.Event {
	events := make([]notify.Event, 0, len(r.Transitions))
	for _, t := range r.Transitions {
		events = append(events, notify.Event{
			Type:    notify.TypeStageTransition,
			JobID:   jobID,
			StageID: t.StageID,
			From:    t.From.String(),
			To:      t.To.String(),
		})
	}
	return events
}

// loadJob returns the in-memory job, hydrating it from the store on first
// use. When create is false an unknown job yields a *stage.NotFoundError and
// is not cached.
func (e *Engine) loadJob(ctx context.Context, jobID stageid.JobID, create bool) (*job.Job, error) {
	if v, ok := e.jobs.Load(jobID); ok {
		return v.(*job.Job), nil
	}

	v, err, shared := e.hydration.Do(string(jobID), func() (any, error) {
		if v, ok := e.jobs.Load(jobID); ok {
			return v, nil
		}
		stages, err := e.store.LoadStagesForJob(ctx, jobID)
		if err != nil {
			e.metrics.PersistenceFailure("load_stages_for_job")
			return nil, err
		}
		if len(stages) == 0 {
			return (*job.Job)(nil), nil
		}
		deps, links, err := e.loadDependencyRecords(ctx, jobID, stages)
		if err != nil {
			return nil, err
		}
		j, err := job.FromRecords(jobID, stages, deps, links...)
		if err != nil {
			return nil, err
		}
		actual, _ := e.jobs.LoadOrStore(jobID, j)
		for _, st := range stages {
			e.stageJobs.Store(st.ID, jobID)
		}
		ctxlog.FromContext(ctx).Debug("Job hydrated.", "job", jobID, "stages", len(stages), "dependencies", len(deps))
		return actual, nil
	})
	if err != nil {
		return nil, fmt.Errorf("hydrate job %s: %w", jobID, err)
	}
	if shared {
		ctxlog.FromContext(ctx).Debug("Shared job hydration.", "job", jobID)
	}

	if j, _ := v.(*job.Job); j != nil {
		return j, nil
	}
	if !create {
		return nil, &stage.NotFoundError{Kind: "job", ID: string(jobID)}
	}
	actual, _ := e.jobs.LoadOrStore(jobID, job.New(jobID))
	return actual.(*job.Job), nil
}

// loadDependencyRecords returns every dependency naming a stage of the job,
// in either role, and a link for each named stage of another job.
func (e *Engine) loadDependencyRecords(ctx context.Context, jobID stageid.JobID, stages []stage.Stage) ([]stage.Dependency, []job.Link, error) {
	own := make(map[stageid.ID]bool, len(stages))
	for _, st := range stages {
		own[st.ID] = true
	}

	seen := make(map[stageid.ID]bool)
	var deps []stage.Dependency
	for _, st := range stages {
		out, err := e.store.LoadDependencies(ctx, st.ID)
		if err != nil {
			e.metrics.PersistenceFailure("load_dependencies")
			return nil, nil, err
		}
		in, err := e.store.LoadDependents(ctx, st.ID)
		if err != nil {
			e.metrics.PersistenceFailure("load_dependents")
			return nil, nil, err
		}
		for _, d := range append(out, in...) {
			if !seen[d.ID] {
				seen[d.ID] = true
				deps = append(deps, d)
			}
		}
	}

	linked := make(map[stageid.ID]bool)
	var links []job.Link
	for _, d := range deps {
		for _, id := range []stageid.ID{d.DependentID, d.RequiredID} {
			if own[id] || linked[id] {
				continue
			}
			other, err := e.store.LoadStage(ctx, id)
			if err != nil {
				e.metrics.PersistenceFailure("load_stage")
				return nil, nil, fmt.Errorf("dependency %s of job %s: %w", d.ID, jobID, err)
			}
			linked[id] = true
			links = append(links, job.Link{StageID: id, JobID: other.JobID, Completed: other.Status == stage.StatusCompleted})
		}
	}
	return deps, links, nil
}

// jobOf returns the job owning a stage.
func (e *Engine) jobOf(ctx context.Context, id stageid.ID) (*job.Job, error) {
	if id.IsZero() {
		return nil, &stage.ValidationError{Subject: "request", Problems: []string{"stage id is required"}}
	}
	if v, ok := e.stageJobs.Load(id); ok {
		return e.loadJob(ctx, v.(stageid.JobID), false)
	}
	st, err := e.store.LoadStage(ctx, id)
	if err != nil {
		if !errors.Is(err, stage.ErrNotFound) {
			e.metrics.PersistenceFailure("load_stage")
		}
		return nil, err
	}
	return e.loadJob(ctx, st.JobID, false)
}

// Snapshot returns the current state of a job. It implements
// scheduler.SnapshotSource.
func (e *Engine) Snapshot(ctx context.Context, jobID stageid.JobID) (*job.State, error) {
	j, err := e.loadJob(ctx, jobID, false)
	if err != nil {
		return nil, err
	}
	return j.Snapshot(), nil
}

func validJobID(jobID stageid.JobID) error {
	if _, err := stageid.ParseJob(string(jobID)); err != nil {
		return &stage.ValidationError{Subject: "job id", Problems: []string{err.Error()}}
	}
	return nil
}
