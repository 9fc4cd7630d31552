package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/specialistvlad/stagegrid/internal/app"
	"github.com/specialistvlad/stagegrid/internal/stage"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Exit codes.
const (
	ExitFailure  = 1
	ExitUsage    = 2
	ExitNotFound = 3
	// ExitRejected is returned when the engine refused an operation: a
	// conflict, a cycle, a blocked start or deletion, an illegal transition.
	ExitRejected = 4
)

// exitCode maps an operation error to a process exit code.
func exitCode(err error) int {
	switch {
	case errors.Is(err, stage.ErrValidation):
		return ExitUsage
	case errors.Is(err, stage.ErrNotFound):
		return ExitNotFound
	case errors.Is(err, stage.ErrResourceConflict),
		errors.Is(err, stage.ErrCycle),
		errors.Is(err, stage.ErrDependencyNotSatisfied),
		errors.Is(err, stage.ErrInvalidTransition),
		errors.Is(err, stage.ErrDeletionBlocked):
		return ExitRejected
	default:
		return ExitFailure
	}
}

// options are the persistent flags shared by every command.
type options struct {
	db              string
	templates       []string
	vars            []string
	strictResources bool
	logLevel        string
	logFormat       string
	output          string
	notifyURL       string
	notifyNamespace string
	notifyEvent     string
	notifyInsecure  bool
	notifyRate      float64
	trace           string
	metricsPort     int
}

// config turns the flags into a validated app configuration.
func (o *options) config() (*app.Config, error) {
	vars := make(map[string]string, len(o.vars))
	for _, kv := range o.vars {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return nil, &ExitError{Code: ExitUsage, Message: fmt.Sprintf("invalid --var %q: expected name=value", kv)}
		}
		vars[name] = value
	}

	cfg := app.DefaultConfig()
	cfg.DBPath = o.db
	cfg.TemplatesPaths = o.templates
	cfg.Variables = vars
	cfg.StrictResources = o.strictResources
	cfg.LogLevel = strings.ToLower(o.logLevel)
	cfg.LogFormat = strings.ToLower(o.logFormat)
	cfg.NotifyURL = o.notifyURL
	cfg.NotifyNamespace = o.notifyNamespace
	cfg.NotifyEvent = o.notifyEvent
	cfg.NotifyInsecure = o.notifyInsecure
	cfg.NotifyRate = o.notifyRate
	cfg.TraceExporter = strings.ToLower(o.trace)
	cfg.MetricsPort = o.metricsPort

	valid, err := app.NewConfig(cfg)
	if err != nil {
		return nil, &ExitError{Code: ExitUsage, Message: err.Error()}
	}
	return valid, nil
}

// NewRootCommand builds the command tree. Command results go to out, logs
// go to errOut.
func NewRootCommand(out, errOut io.Writer) *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:   "stagegrid",
		Short: "Stage dependency and scheduling engine for production jobs.",
		Long: `stagegrid lays out production jobs as stages on shared resources, keeps
their dependencies acyclic, rejects double bookings and walks every stage
through its lifecycle.

State is kept in a BadgerDB directory (--db), or in memory when omitted.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &ExitError{Code: ExitUsage, Message: err.Error()}
	})

	f := root.PersistentFlags()
	f.StringVar(&o.db, "db", "", "BadgerDB directory. Empty keeps state in memory for this run only.")
	f.StringArrayVarP(&o.templates, "templates", "t", nil, "Template file or directory (.hcl, .yaml, .yml). Repeatable.")
	f.StringArrayVar(&o.vars, "var", nil, "Template variable override as name=value. Repeatable.")
	f.BoolVar(&o.strictResources, "strict-resources", false, "Reject resources not declared in the templates.")
	f.StringVar(&o.logLevel, "log-level", "info", "Logging level: debug, info, warn, error.")
	f.StringVar(&o.logFormat, "log-format", "text", "Log output format: text, json, or auto (text on a terminal, JSON otherwise).")
	f.StringVarP(&o.output, "output", "o", "text", "Result format: text, json or yaml.")
	f.StringVar(&o.notifyURL, "notify-url", "", "socket.io server receiving stage events.")
	f.StringVar(&o.notifyNamespace, "notify-namespace", "/", "socket.io namespace for events.")
	f.StringVar(&o.notifyEvent, "notify-event", "", "socket.io event name. Defaults to stagegrid.")
	f.BoolVar(&o.notifyInsecure, "notify-insecure", false, "Skip TLS verification for --notify-url.")
	f.Float64Var(&o.notifyRate, "notify-rate", 0, "Maximum events per second sent to --notify-url. 0 is unlimited.")
	f.StringVar(&o.trace, "trace", "none", "Span exporter: none, or stdout to print spans to stderr.")

	root.AddCommand(
		newWorkflowCommand(o),
		newStageCommand(o),
		newDependencyCommand(o),
		newJobCommand(o),
		newConflictsCommand(o),
		newTemplatesCommand(o),
		newServeCommand(o),
	)
	return root
}

// withApp builds the application for one command and closes it afterwards.
func withApp(cmd *cobra.Command, o *options, fn func(a *app.App) error) (err error) {
	cfg, err := o.config()
	if err != nil {
		return err
	}
	a, err := app.NewApp(cmd.Context(), cmd.ErrOrStderr(), cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(a)
}

// Execute runs the command line and converts failures into an *ExitError.
func Execute(ctx context.Context, args []string, out, errOut io.Writer) error {
	root := NewRootCommand(out, errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	if msg := err.Error(); strings.HasPrefix(msg, "unknown command") || strings.HasPrefix(msg, "required flag") {
		return &ExitError{Code: ExitUsage, Message: err.Error()}
	}
	return &ExitError{Code: exitCode(err), Message: err.Error()}
}

// exactArgs is cobra.ExactArgs reporting a usage error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return &ExitError{Code: ExitUsage, Message: err.Error()}
		}
		return nil
	}
}
