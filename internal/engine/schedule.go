package engine

import (
	"context"
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

// StageRequest describes a stage placed individually on a job.
type StageRequest struct {
	JobID    stageid.JobID
	Name     string
	Resource string
	Start    time.Time
	End      time.Time
	// EstimatedHours defaults to the length of the window.
	EstimatedHours float64
	Priority       int
	// ExecutionOrder defaults to one past the job's highest order.
	ExecutionOrder int
}

// stagesOnResource lists the bookings of a resource. Hydrated jobs answer
// from their published snapshot; the rest come from the store's resource
// index when it has one.
func (e *Engine) stagesOnResource(ctx context.Context, resource string) ([]stage.Stage, error) {
	hydrated := make(map[stageid.JobID]bool)
	var out []stage.Stage
	e.jobs.Range(func(k, v any) bool {
		hydrated[k.(stageid.JobID)] = true
		for _, st := range v.(*job.Job).Snapshot().Stages() {
			if st.Resource == resource {
				out = append(out, st)
			}
		}
		return true
	})

	idx, ok := e.store.(stagestore.ResourceIndex)
	if !ok {
		return out, nil
	}
	stored, err := idx.LoadStagesForResource(ctx, resource)
	if err != nil {
		e.metrics.PersistenceFailure("load_stages_for_resource")
		return nil, err
	}
	for _, st := range stored {
		if !hydrated[st.JobID] {
			out = append(out, st)
		}
	}
	return out, nil
}

// GetConflicts returns every reason the candidate placement cannot be
// committed, or nil. When the candidate names an existing stage and carries
// no dependencies, its mandatory dependencies are taken from its job.
func (e *Engine) GetConflicts(ctx context.Context, c conflict.Candidate) (reasons []string, err error) {
	ctx, end := e.begin(ctx, "get_conflicts", attribute.String("resource", c.Resource))
	defer func() { end(err) }()

	if !c.StageID.IsZero() && c.Requires == nil && c.RequiredBy == nil {
		j, err := e.jobOf(ctx, c.StageID)
		if err != nil {
			return nil, err
		}
		c.Requires, c.RequiredBy, err = e.dependencyTiming(ctx, j.Snapshot(), c.StageID)
		if err != nil {
			return nil, err
		}
	}
	return e.detector.ValidateSchedule(ctx, c)
}

// ScheduleStage adds a single stage to a job, creating the job when it has
// no stages yet. The placement must be free of conflicts. A stage without
// dependencies comes back Ready.
func (e *Engine) ScheduleStage(ctx context.Context, req StageRequest) (created stage.Stage, err error) {
	ctx, end := e.begin(ctx, "schedule_stage",
		attribute.String("job.id", string(req.JobID)),
		attribute.String("resource", req.Resource),
	)
	defer func() { end(err) }()

	if err := validJobID(req.JobID); err != nil {
		return stage.Stage{}, err
	}
	j, err := e.loadJob(ctx, req.JobID, true)
	if err != nil {
		return stage.Stage{}, err
	}

	st := stage.Stage{
		ID:             stageid.New(),
		JobID:          req.JobID,
		Name:           req.Name,
		Resource:       req.Resource,
		ScheduledStart: req.Start.UTC(),
		ScheduledEnd:   req.End.UTC(),
		EstimatedHours: req.EstimatedHours,
		Status:         stage.StatusScheduled,
		ExecutionOrder: req.ExecutionOrder,
		Priority:       req.Priority,
	}
	if st.EstimatedHours == 0 {
		st.EstimatedHours = st.Duration().Hours()
	}

	var (
		res     lifecycle.Result
		release func()
	)
	defer func() {
		if release != nil {
			release()
		}
	}()

	err = j.Update(func(d *job.Draft) error {
		before := j.Snapshot()
		if st.ExecutionOrder == 0 {
			st.ExecutionOrder = d.NextExecutionOrder()
		}
		release = e.resources.LockAll(st.Resource)
		if err := e.checkPlacement(ctx, conflict.Candidate{
			StageID:  st.ID,
			Resource: st.Resource,
			Start:    st.ScheduledStart,
			End:      st.ScheduledEnd,
		}); err != nil {
			return err
		}
		if err := d.PutStage(st); err != nil {
			return err
		}
		var err error
		res, err = e.lifecycle.Reconcile(ctx, d, st.ID)
		if err != nil {
			return err
		}
		created, _ = d.Stage(st.ID)
		return e.saveStages(ctx, before, append([]stage.Stage{created}, res.Changed...))
	})
	if err != nil {
		return stage.Stage{}, err
	}

	e.stageJobs.Store(created.ID, created.JobID)
	e.lifecycle.Observe(ctx, res)
	events := []notify.Event{{Type: notify.TypeStageScheduled, JobID: created.JobID, StageID: created.ID, Detail: created.Resource}}
	e.publish(ctx, append(events, transitionEvents(created.JobID, res)...)...)
	ctxlog.FromContext(ctx).Info("Stage scheduled.", "job", created.JobID, "stage", created.ID, "resource", created.Resource)
	return created, nil
}

// RescheduleStage moves a Scheduled or Ready stage to a new window on its
// resource. The new window is checked like a new placement, including the
// timing of the stage's mandatory dependencies.
func (e *Engine) RescheduleStage(ctx context.Context, stageID stageid.ID, start, end time.Time) (moved stage.Stage, err error) {
	ctx, endSpan := e.begin(ctx, "reschedule_stage", attribute.String("stage.id", stageID.String()))
	defer func() { endSpan(err) }()

	j, err := e.jobOf(ctx, stageID)
	if err != nil {
		return stage.Stage{}, err
	}

	var release func()
	defer func() {
		if release != nil {
			release()
		}
	}()

	err = j.Update(func(d *job.Draft) error {
		before := j.Snapshot()
		st, err := d.MustStage(stageID)
		if err != nil {
			return err
		}
		if !st.Status.IsPreExecution() {
			return &stage.InvalidTransitionError{StageID: stageID, Op: "reschedule", From: st.Status}
		}
		st.ScheduledStart, st.ScheduledEnd = start.UTC(), end.UTC()

		requires, requiredBy, err := e.dependencyTiming(ctx, d.State, st.ID)
		if err != nil {
			return err
		}
		release = e.resources.LockAll(st.Resource)
		if err := e.checkPlacement(ctx, conflict.Candidate{
			StageID:    st.ID,
			Resource:   st.Resource,
			Start:      st.ScheduledStart,
			End:        st.ScheduledEnd,
			Requires:   requires,
			RequiredBy: requiredBy,
		}); err != nil {
			return err
		}
		if err := d.PutStage(st); err != nil {
			return err
		}
		moved = st
		return e.saveStages(ctx, before, []stage.Stage{st})
	})
	if err != nil {
		return stage.Stage{}, err
	}

	e.publish(ctx, notify.Event{Type: notify.TypeStageScheduled, JobID: moved.JobID, StageID: moved.ID, Detail: moved.Resource})
	ctxlog.FromContext(ctx).Info("Stage rescheduled.", "stage", moved.ID, "start", moved.ScheduledStart, "end", moved.ScheduledEnd)
	return moved, nil
}

func (e *Engine) checkPlacement(ctx context.Context, c conflict.Candidate) error {
	found, err := e.detector.FindConflicts(ctx, c)
	if err != nil {
		return err
	}
	if len(found) > 0 {
		return conflict.AsError(c.StageID, c.Resource, found)
	}
	return nil
}
