// Package stagestore defines the persistence gateway the engine reads and
// writes stage and dependency records through.
//
// # Why Stage Store Exists
//
// The engine keeps the authoritative working copy of every hydrated job in
// memory, but it never owns durable state. Every mutation is written through
// a Store first and only becomes visible in memory once the write succeeded.
// This keeps the engine free of storage concerns:
//   - **Clarity:** Lifecycle rules live in the engine, record layout lives in the store
//   - **Flexibility:** In-memory (tests, CLI dry runs) and BadgerDB backends are swappable
//   - **Failure Semantics:** Storage errors are returned to the caller unchanged
//
// # Optional Capabilities
//
// A Store may also implement ResourceIndex, which lets the conflict detector
// see stages of jobs that are not hydrated, and BatchWriter, which lets the
// engine commit a whole workflow plan atomically. Callers discover both with a
// type assertion.
package stagestore

import (
	"context"

	"github.com/specialistvlad/stagegrid/internal/stage"
	"github.com/specialistvlad/stagegrid/internal/stageid"
)

// Store is the persistence gateway for stages and dependencies.
//
// # Thread-Safety Requirements
//
// Implementations MUST be safe for concurrent use. The engine serialises
// writes per job, but different jobs are written concurrently.
type Store interface {
	// LoadStagesForJob returns every stage of the job, in no particular order.
	// An unknown job yields an empty slice, not an error.
	LoadStagesForJob(ctx context.Context, jobID stageid.JobID) ([]stage.Stage, error)

	// LoadStage returns a single stage. A missing stage is reported with
	// *stage.NotFoundError.
	LoadStage(ctx context.Context, id stageid.ID) (stage.Stage, error)

	// LoadDependencies returns the dependencies where stageID is the
	// dependent.
	LoadDependencies(ctx context.Context, stageID stageid.ID) ([]stage.Dependency, error)

	// LoadDependents returns the dependencies where stageID is the required
	// stage.
	LoadDependents(ctx context.Context, stageID stageid.ID) ([]stage.Dependency, error)

	// SaveStage inserts or replaces a stage record.
	SaveStage(ctx context.Context, s stage.Stage) error

	// SaveDependency inserts or replaces a dependency record.
	SaveDependency(ctx context.Context, d stage.Dependency) error

	// DeleteDependency removes a dependency record. Deleting a missing
	// record is not an error.
	DeleteDependency(ctx context.Context, id stageid.ID) error

	// DeleteStage removes a stage record. Deleting a missing record is not an
	// error.
	DeleteStage(ctx context.Context, id stageid.ID) error
}

// ResourceIndex is implemented by stores that can list stages by resource.
type ResourceIndex interface {
	LoadStagesForResource(ctx context.Context, resource string) ([]stage.Stage, error)
}

// Plan is a set of records committed together.
type Plan struct {
	Stages       []stage.Stage
	Dependencies []stage.Dependency
}

// BatchWriter is implemented by stores that can commit a Plan atomically:
// either every record is written or none is.
type BatchWriter interface {
	SavePlan(ctx context.Context, p Plan) error
}
