package app

import (
	"time"

	"github.com/specialistvlad/stagegrid/internal/stage"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// DBPath is the BadgerDB directory. Empty keeps state in memory.
	DBPath string `validate:"omitempty,max=4096"`
	// TemplatesPaths are files or directories holding .hcl, .yaml or .yml
	// template definitions. Empty uses the built-in templates.
	TemplatesPaths []string `validate:"dive,required"`
	// Variables override `variable` defaults in HCL templates.
	Variables map[string]string
	// StrictResources rejects resources not declared in configuration.
	StrictResources bool

	// LogFormat "auto" writes text to a terminal and JSON otherwise.
	LogFormat string `validate:"oneof=text json auto"`
	LogLevel  string `validate:"oneof=debug info warn error"`
	// TraceExporter is "none" or "stdout", which writes spans next to the logs.
	TraceExporter string `validate:"oneof=none stdout"`

	// MetricsPort serves /health and /metrics. Zero disables the server.
	MetricsPort int `validate:"gte=0,lte=65535"`

	NotifyURL            string        `validate:"omitempty,url"`
	NotifyNamespace      string        `validate:"omitempty,startswith=/"`
	NotifyEvent          string        `validate:"omitempty,max=128"`
	NotifyConnectTimeout time.Duration `validate:"gte=0"`
	// NotifyRate caps events per second sent to NotifyURL. Zero is unlimited.
	NotifyRate float64 `validate:"finite,gte=0"`
	// NotifyInsecure skips TLS verification.
	NotifyInsecure bool
}

// DefaultConfig returns the defaults used by the CLI.
func DefaultConfig() Config {
	return Config{
		LogFormat:            "text",
		LogLevel:             "info",
		TraceExporter:        "none",
		NotifyNamespace:      "/",
		NotifyConnectTimeout: 15 * time.Second,
	}
}

// NewConfig validates cfg and returns a copy. Every problem is reported in
// one *stage.ValidationError.
func NewConfig(cfg Config) (*Config, error) {
	if err := stage.Struct("configuration", cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
