package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/specialistvlad/stagegrid/internal/job"
	"github.com/specialistvlad/stagegrid/internal/lifecycle"
	"github.com/specialistvlad/stagegrid/internal/notify"
	"github.com/specialistvlad/stagegrid/internal/stage"
	"github.com/specialistvlad/stagegrid/internal/stageid"
)

// transitionFunc is one lifecycle controller call on a draft.
type transitionFunc func(ctx context.Context, d *job.Draft) (lifecycle.Result, error)

// applyLifecycle runs fn in the job's critical section, persists what it
// changed and only then publishes the new job state and the events.
func (e *Engine) applyLifecycle(ctx context.Context, j *job.Job, fn transitionFunc, extra ...notify.Event) (lifecycle.Result, error) {
	var res lifecycle.Result
	err := j.Update(func(d *job.Draft) error {
		before := j.Snapshot()
		var err error
		res, err = fn(ctx, d)
		if err != nil {
			return err
		}
		return e.saveStages(ctx, before, res.Changed)
	})
	if err != nil {
		return lifecycle.Result{}, err
	}
	e.lifecycle.Observe(ctx, res)
	e.publish(ctx, append(transitionEvents(j.ID(), res), extra...)...)
	return res, nil
}

// StartStage moves a stage to InProgress. It fails with
// *stage.DependencyNotSatisfiedError while a mandatory required stage is
// incomplete and with *stage.InvalidTransitionError unless the stage is
// Scheduled or Ready.
func (e *Engine) StartStage(ctx context.Context, stageID stageid.ID, operator string) (err error) {
	ctx, end := e.begin(ctx, "start_stage", attribute.String("stage.id", stageID.String()))
	defer func() { end(err) }()

	j, err := e.jobOf(ctx, stageID)
	if err != nil {
		return err
	}
	_, err = e.applyLifecycle(ctx, j, func(ctx context.Context, d *job.Draft) (lifecycle.Result, error) {
		return e.lifecycle.Start(ctx, d, stageID, operator)
	})
	return err
}

// CompleteStage finishes an InProgress stage, records its actual cost and
// promotes every dependent that became ready, in its own job and in jobs
// linked to it. Reads, decision and writes happen as one unit under the locks
// of all those jobs.
func (e *Engine) CompleteStage(ctx context.Context, stageID stageid.ID, actualCost float64) (err error) {
	ctx, end := e.begin(ctx, "complete_stage", attribute.String("stage.id", stageID.String()))
	defer func() { end(err) }()

	j, err := e.jobOf(ctx, stageID)
	if err != nil {
		return err
	}
	linked := func(s *job.State) []stageid.JobID {
		return linkJobs(j.ID(), s.LinkedRequiredBy(stageID, false))
	}

	type jobResult struct {
		jobID stageid.JobID
		res   lifecycle.Result
	}
	var results []jobResult
	err = e.updateLinked(ctx, j, linked, func(drafts map[stageid.JobID]*job.Draft, before priorStages) error {
		results = nil
		res, err := e.lifecycle.Complete(ctx, drafts[j.ID()], stageID, actualCost)
		if err != nil {
			return err
		}
		results = append(results, jobResult{j.ID(), res})
		changed := res.Changed

		for _, id := range sortedJobIDs(linked(drafts[j.ID()].State)) {
			res, err := e.lifecycle.LinkCompleted(ctx, drafts[id], stageID)
			if err != nil {
				return err
			}
			results = append(results, jobResult{id, res})
			changed = append(changed, res.Changed...)
		}
		return e.saveStages(ctx, before, changed)
	})
	if err != nil {
		return err
	}

	for _, r := range results {
		e.lifecycle.Observe(ctx, r.res)
		e.publish(ctx, transitionEvents(r.jobID, r.res)...)
	}
	return nil
}

// UpdateProgress sets the progress percentage of an InProgress stage,
// clamped to [0, 100].
func (e *Engine) UpdateProgress(ctx context.Context, stageID stageid.ID, percent float64) (err error) {
	ctx, end := e.begin(ctx, "update_progress", attribute.String("stage.id", stageID.String()))
	defer func() { end(err) }()

	j, err := e.jobOf(ctx, stageID)
	if err != nil {
		return err
	}
	var progress float64
	_, err = e.applyLifecycle(ctx, j, func(ctx context.Context, d *job.Draft) (lifecycle.Result, error) {
		res, err := e.lifecycle.UpdateProgress(ctx, d, stageID, percent)
		if err == nil {
			progress = res.Changed[0].Progress
		}
		return res, err
	})
	if err != nil {
		return err
	}
	e.publish(ctx, notify.Event{Type: notify.TypeStageProgress, JobID: j.ID(), StageID: stageID, Progress: progress})
	return nil
}

// CancelStage cancels a non-terminal stage. Dependents are not touched.
func (e *Engine) CancelStage(ctx context.Context, stageID stageid.ID) (err error) {
	ctx, end := e.begin(ctx, "cancel_stage", attribute.String("stage.id", stageID.String()))
	defer func() { end(err) }()

	j, err := e.jobOf(ctx, stageID)
	if err != nil {
		return err
	}
	_, err = e.applyLifecycle(ctx, j, func(ctx context.Context, d *job.Draft) (lifecycle.Result, error) {
		return e.lifecycle.Cancel(ctx, d, stageID)
	})
	return err
}

// PromoteReady promotes every Scheduled stage of the job whose mandatory
// dependencies are all Completed and returns the promoted stages.
func (e *Engine) PromoteReady(ctx context.Context, jobID stageid.JobID) (promoted []stage.Stage, err error) {
	ctx, end := e.begin(ctx, "promote_ready", attribute.String("job.id", string(jobID)))
	defer func() { end(err) }()

	j, err := e.loadJob(ctx, jobID, false)
	if err != nil {
		return nil, err
	}
	res, err := e.applyLifecycle(ctx, j, func(ctx context.Context, d *job.Draft) (lifecycle.Result, error) {
		return e.lifecycle.PromoteReady(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	return res.Changed, nil
}
