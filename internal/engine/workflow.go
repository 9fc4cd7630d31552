package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/specialistvlad/stagegrid/internal/conflict"
	"github.com/specialistvlad/stagegrid/internal/ctxlog"
	"github.com/specialistvlad/stagegrid/internal/job"
	"github.com/specialistvlad/stagegrid/internal/lifecycle"
	"github.com/specialistvlad/stagegrid/internal/notify"
	"github.com/specialistvlad/stagegrid/internal/stage"
	"github.com/specialistvlad/stagegrid/internal/stageid"
	"github.com/specialistvlad/stagegrid/internal/stagestore"
)

// CreateDefaultWorkflow lays out the template of jobType for a job without
// stages, checks the whole schedule for conflicts and commits every stage and
// dependency at once. Root stages come back Ready, the rest Scheduled.
func (e *Engine) CreateDefaultWorkflow(ctx context.Context, jobID stageid.JobID, jobType string, start time.Time) (stages []stage.Stage, err error) {
	ctx, end := e.begin(ctx, "create_default_workflow",
		attribute.String("job.id", string(jobID)),
		attribute.String("job.type", jobType),
	)
	defer func() {
		e.metrics.WorkflowCreated(jobType, err == nil)
		end(err)
	}()

	if err := validJobID(jobID); err != nil {
		return nil, err
	}
	plan, err := e.builder.BuildDefaultStages(ctx, jobID, jobType, start)
	if err != nil {
		return nil, err
	}
	j, err := e.loadJob(ctx, jobID, true)
	if err != nil {
		return nil, err
	}

	var (
		promoted lifecycle.Result
		release  func()
	)
	defer func() {
		if release != nil {
			release()
		}
	}()

	err = j.Update(func(d *job.Draft) error {
		if d.Len() > 0 {
			return &stage.ValidationError{
				Subject:  "job " + string(jobID),
				Problems: []string{fmt.Sprintf("already has %d stages", d.Len())},
			}
		}
		for _, st := range plan.Stages {
			if err := d.PutStage(st); err != nil {
				return err
			}
		}
		for _, dep := range plan.Dependencies {
			if err := d.AddDependency(dep); err != nil {
				return err
			}
		}

		resources := make([]string, len(plan.Stages))
		candidates := make([]conflict.Candidate, len(plan.Stages))
		for i, st := range plan.Stages {
			resources[i] = st.Resource
			candidates[i] = conflict.Candidate{
				StageID:  st.ID,
				Resource: st.Resource,
				Start:    st.ScheduledStart,
				End:      st.ScheduledEnd,
			}
		}
		release = e.resources.LockAll(resources...)

		found, err := e.detector.FindConflictsAll(ctx, candidates)
		if err != nil {
			return err
		}
		if len(found) > 0 {
			return conflict.AsError(found[0].StageID, found[0].Resource, found)
		}

		promoted, err = e.lifecycle.PromoteReady(ctx, d)
		if err != nil {
			return err
		}
		stages = d.Stages()
		return e.commitPlan(ctx, stagestore.Plan{Stages: stages, Dependencies: d.Dependencies()})
	})
	if err != nil {
		return nil, err
	}

	for _, st := range stages {
		e.stageJobs.Store(st.ID, jobID)
	}
	e.lifecycle.Observe(ctx, promoted)

	events := []notify.Event{{Type: notify.TypeWorkflowCreated, JobID: jobID, Detail: jobType}}
	e.publish(ctx, append(events, transitionEvents(jobID, promoted)...)...)

	ctxlog.FromContext(ctx).Info("Default workflow created.", "job", jobID, "job_type", jobType, "stages", len(stages))
	return stages, nil
}
