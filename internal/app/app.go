package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/time/rate"

	"github.com/specialistvlad/stagegrid/internal/badgerstore"
	"github.com/specialistvlad/stagegrid/internal/config"
	"github.com/specialistvlad/stagegrid/internal/conflict"
	"github.com/specialistvlad/stagegrid/internal/ctxlog"
	"github.com/specialistvlad/stagegrid/internal/engine"
	"github.com/specialistvlad/stagegrid/internal/inmemorystore"
	"github.com/specialistvlad/stagegrid/internal/notify"
	"github.com/specialistvlad/stagegrid/internal/stagestore"
	"github.com/specialistvlad/stagegrid/internal/telemetry"
	"github.com/specialistvlad/stagegrid/internal/workflow"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	ctx    context.Context
	config *Config
	logger *slog.Logger

	// mu guards model and catalog, which Reload replaces.
	mu        sync.RWMutex
	model     *config.Model
	catalog   *workflow.Catalog
	directory *conflict.StaticDirectory

	store    stagestore.Store
	registry *prometheus.Registry
	events   *notify.Recorder
	engine   *engine.Engine

	httpServer *http.Server
	closers    []func() error
}

// NewApp is the constructor for the main application. It loads the
// templates, opens the store and builds the engine. The returned App must be
// closed.
func NewApp(ctx context.Context, outW io.Writer, appConfig *Config) (_ *App, err error) {
	logger := NewLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Debug("Logger configured successfully.")

	a := &App{
		ctx:      ctx,
		config:   appConfig,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		events:   &notify.Recorder{},
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.model, a.catalog, err = loadTemplates(ctx, appConfig.TemplatesPaths, appConfig.Variables)
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}
	a.directory, err = a.model.Directory(appConfig.StrictResources)
	if err != nil {
		return nil, err
	}
	logger.Debug("Templates loaded.", "job_types", a.catalog.JobTypes(), "resources", len(a.model.Resources))

	if err := a.openStore(); err != nil {
		return nil, err
	}

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(a.registry)

	publisher, err := a.publisher(ctx, metrics)
	if err != nil {
		return nil, err
	}

	tp, err := newTracerProvider(appConfig.TraceExporter, outW)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { return tp.Shutdown(context.WithoutCancel(ctx)) })

	a.engine = engine.New(a.store, a.catalog,
		engine.WithResourceDirectory(a.directory),
		engine.WithPublisher(publisher),
		engine.WithMetrics(metrics),
		engine.WithTracerProvider(tp),
	)
	logger.Debug("Engine ready.")
	return a, nil
}

func (a *App) openStore() error {
	if a.config.DBPath == "" {
		a.logger.Debug("Using in-memory store.")
		a.store = inmemorystore.New()
		return nil
	}
	cfg := badgerstore.DefaultConfig(a.config.DBPath)
	cfg.Logger = a.logger.With("component", "badger")
	s, err := badgerstore.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open store at %s: %w", a.config.DBPath, err)
	}
	a.logger.Debug("Using BadgerDB store.", "path", a.config.DBPath)
	a.store = s
	a.closers = append(a.closers, s.Close)
	return nil
}

func (a *App) publisher(ctx context.Context, metrics *telemetry.Metrics) (notify.Publisher, error) {
	if a.config.NotifyURL == "" {
		return a.events, nil
	}
	sio, err := notify.DialSocketIO(ctx, notify.SocketIOOptions{
		URL:                a.config.NotifyURL,
		Namespace:          a.config.NotifyNamespace,
		EventName:          a.config.NotifyEvent,
		InsecureSkipVerify: a.config.NotifyInsecure,
		ConnectTimeout:     a.config.NotifyConnectTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect event publisher: %w", err)
	}
	a.closers = append(a.closers, sio.Close)

	var remote notify.Publisher = sio
	if r := a.config.NotifyRate; r > 0 {
		remote = notify.NewThrottled(sio, rate.NewLimiter(rate.Limit(r), max(1, int(r))), metrics)
	}
	return notify.Multi{a.events, remote}, nil
}

// newTracerProvider builds the tracer provider. The "stdout" exporter writes
// finished spans to w.
func newTracerProvider(exporter string, w io.Writer) (*sdktrace.TracerProvider, error) {
	res := resource.NewSchemaless(attribute.String("service.name", "stagegrid"))
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	switch exporter {
	case "", "none":
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", exporter)
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

// Context returns the application context carrying its logger.
func (a *App) Context() context.Context { return a.ctx }

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger { return a.logger }

// Engine returns the scheduling engine.
func (a *App) Engine() *engine.Engine { return a.engine }

// Model returns the loaded configuration model.
func (a *App) Model() *config.Model {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.model
}

// Catalog returns the workflow templates.
func (a *App) Catalog() *workflow.Catalog {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.catalog
}

// Events returns the events published since the App was created.
func (a *App) Events() []notify.Event { return a.events.Events() }

// Registry returns the Prometheus registry the engine reports to.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// Close releases the store, the publisher and the tracer provider, newest
// first.
func (a *App) Close() error {
	var errs []error
	if err := a.closeHealthCheckServer(); err != nil {
		errs = append(errs, err)
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
