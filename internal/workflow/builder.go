package workflow

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/specialistvlad/stagegrid/internal/ctxlog"
	"github.com/specialistvlad/stagegrid/internal/stage"
	"github.com/specialistvlad/stagegrid/internal/stageid"
)

// Plan is a fully built default workflow that has not been committed yet.
type Plan struct {
	JobID        stageid.JobID
	JobType      string
	Stages       []stage.Stage
	// Dependencies link every stage but the first to its predecessor.
	Dependencies []stage.Dependency
}

// Builder materialises templates into plans. The catalog may be swapped
// while plans are being built; each build reads one catalog.
type Builder struct {
	catalog atomic.Pointer[Catalog]
}

// NewBuilder creates a builder over an immutable catalog.
func NewBuilder(catalog *Catalog) *Builder {
	b := &Builder{}
	b.catalog.Store(catalog)
	return b
}

// Catalog returns the catalog the builder reads from.
func (b *Builder) Catalog() *Catalog { return b.catalog.Load() }

// SetCatalog replaces the catalog for subsequent builds.
func (b *Builder) SetCatalog(c *Catalog) { b.catalog.Store(c) }

// BuildDefaultStages lays out the template for jobType starting at start.
// Stage i starts when stage i-1 ends, execution orders run 1..n and every
// consecutive pair is linked by a mandatory finish-to-start dependency.
// On any error the partial plan is discarded and nothing is returned.
func (b *Builder) BuildDefaultStages(ctx context.Context, jobID stageid.JobID, jobType string, start time.Time) (*Plan, error) {
	logger := ctxlog.FromContext(ctx)

	tmpl, ok := b.Catalog().Lookup(jobType)
	if !ok {
		return nil, &stage.NotFoundError{Kind: "workflow template", ID: jobType}
	}
	if start.IsZero() {
		return nil, &stage.ValidationError{Subject: "workflow " + jobType, Problems: []string{"start time is required"}}
	}

	plan := &Plan{
		JobID:   jobID,
		JobType: jobType,
		Stages:  make([]stage.Stage, 0, len(tmpl.Steps)),
	}

	cursor := start
	for i, step := range tmpl.Steps {
		end := cursor.Add(hours(step.DurationHours))
		st := stage.Stage{
			ID:             stageid.New(),
			JobID:          jobID,
			Name:           step.Name,
			Resource:       step.Department,
			ScheduledStart: cursor,
			ScheduledEnd:   end,
			EstimatedHours: step.DurationHours,
			Status:         stage.StatusScheduled,
			ExecutionOrder: i + 1,
			Priority:       step.Priority,
		}
		if err := st.Validate(); err != nil {
			return nil, fmt.Errorf("build stage %q of %q: %w", step.Name, jobType, err)
		}
		if i > 0 {
			plan.Dependencies = append(plan.Dependencies, stage.NewDependency(st.ID, plan.Stages[i-1].ID, true))
		}
		plan.Stages = append(plan.Stages, st)
		cursor = end
	}

	logger.Debug("Workflow plan built.", "job", jobID, "job_type", jobType, "stages", len(plan.Stages))
	return plan, nil
}

// hours converts fractional hours to a duration rounded to the second.
func hours(h float64) time.Duration {
	return time.Duration(math.Round(h*3600)) * time.Second
}
