package config

import "context"

// Loader is the interface for a format-specific configuration loader.
type Loader interface {
	// Load reads every file of its format found under paths and merges them
	// into one model. Paths that do not exist are skipped.
	Load(ctx context.Context, paths ...string) (*Model, error)

	// Extensions lists the file extensions the loader reads, with the dot.
	Extensions() []string
}
