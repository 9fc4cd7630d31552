package engine

import (
	"context"
	"time"

	"github.com/specialistvlad/stagegrid/internal/progress"
	"github.com/specialistvlad/stagegrid/internal/stage"
	"github.com/specialistvlad/stagegrid/internal/stageid"
)

// Queries read the published job snapshot and never wait for writers.

// Stage returns one stage.
func (e *Engine) Stage(ctx context.Context, id stageid.ID) (stage.Stage, error) {
	j, err := e.jobOf(ctx, id)
	if err != nil {
		return stage.Stage{}, err
	}
	return j.Snapshot().MustStage(id)
}

// JobStages returns the stages of a job in execution order.
func (e *Engine) JobStages(ctx context.Context, jobID stageid.JobID) ([]stage.Stage, error) {
	state, err := e.Snapshot(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return state.Stages(), nil
}

// JobDependencies returns the dependencies of a job.
func (e *Engine) JobDependencies(ctx context.Context, jobID stageid.JobID) ([]stage.Dependency, error) {
	state, err := e.Snapshot(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return state.Dependencies(), nil
}

// GetCompletionPercent returns the hour-weighted completion of a job.
func (e *Engine) GetCompletionPercent(ctx context.Context, jobID stageid.JobID) (float64, error) {
	stages, err := e.JobStages(ctx, jobID)
	if err != nil {
		return 0, err
	}
	return progress.JobCompletionPercent(stages), nil
}

// JobDuration returns the span from the earliest scheduled start to the
// latest scheduled end of a job.
func (e *Engine) JobDuration(ctx context.Context, jobID stageid.JobID) (time.Duration, error) {
	stages, err := e.JobStages(ctx, jobID)
	if err != nil {
		return 0, err
	}
	return progress.JobDuration(stages), nil
}

// JobSummary aggregates the state of a job.
func (e *Engine) JobSummary(ctx context.Context, jobID stageid.JobID) (progress.Summary, error) {
	stages, err := e.JobStages(ctx, jobID)
	if err != nil {
		return progress.Summary{}, err
	}
	return progress.Summarize(stages), nil
}

// ReadyStages returns the stages of a job that may start now.
func (e *Engine) ReadyStages(ctx context.Context, jobID stageid.JobID) ([]stage.Stage, error) {
	return e.scheduler.ReadyStages(ctx, jobID)
}

// NextStage returns the ready stage with the highest priority.
func (e *Engine) NextStage(ctx context.Context, jobID stageid.JobID) (stage.Stage, bool, error) {
	return e.scheduler.Next(ctx, jobID)
}
