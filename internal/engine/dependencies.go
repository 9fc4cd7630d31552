package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/specialistvlad/stagegrid/internal/ctxlog"
	"github.com/specialistvlad/stagegrid/internal/job"
	"github.com/specialistvlad/stagegrid/internal/lifecycle"
	"github.com/specialistvlad/stagegrid/internal/notify"
	"github.com/specialistvlad/stagegrid/internal/stage"
	"github.com/specialistvlad/stagegrid/internal/stageid"
)

// AddDependency makes dependentID wait for requiredID. The dependent must not
// have started. Stages of different jobs may depend on each other only when
// they share a resource; both jobs then hold the dependency and a link to the
// other stage. An edge that would close a cycle, inside one job or through
// other jobs, is rejected with *stage.CycleError and leaves every job
// unchanged. Adding an existing pair again updates its mandatory flag.
func (e *Engine) AddDependency(ctx context.Context, dependentID, requiredID stageid.ID, mandatory bool) (err error) {
	ctx, end := e.begin(ctx, "add_dependency",
		attribute.String("stage.dependent", dependentID.String()),
		attribute.String("stage.required", requiredID.String()),
		attribute.Bool("mandatory", mandatory),
	)
	defer func() { end(err) }()

	e.topology.Lock()
	defer e.topology.Unlock()

	jd, err := e.jobOf(ctx, dependentID)
	if err != nil {
		return err
	}
	jr, err := e.jobOf(ctx, requiredID)
	if err != nil {
		return err
	}
	crossJob := jd.ID() != jr.ID()

	var (
		dep stage.Dependency
		res lifecycle.Result
	)
	err = job.UpdateAll([]*job.Job{jd, jr}, func(drafts map[stageid.JobID]*job.Draft) error {
		dd, rd := drafts[jd.ID()], drafts[jr.ID()]
		before := jd.Snapshot()
		st, err := dd.MustStage(dependentID)
		if err != nil {
			return err
		}
		required, err := rd.MustStage(requiredID)
		if err != nil {
			return err
		}
		if !st.Status.IsPreExecution() {
			return &stage.InvalidTransitionError{StageID: dependentID, Op: "add dependency to", From: st.Status}
		}
		if crossJob && st.Resource != required.Resource {
			return &stage.ValidationError{
				Subject: "dependency",
				Problems: []string{fmt.Sprintf("stage %s of job %s uses resource %q and stage %s of job %s uses %q; stages of different jobs must share a resource",
					dependentID, jd.ID(), st.Resource, requiredID, jr.ID(), required.Resource)},
			}
		}

		path, err := e.requiredPath(ctx, requiredID, dependentID, jr.ID(), drafts)
		if err != nil {
			return err
		}
		if path != nil {
			return &stage.CycleError{DependentID: dependentID, RequiredID: requiredID, Path: path}
		}

		dep = stage.NewDependency(dependentID, requiredID, mandatory)
		prev, existed := dd.Dependency(dependentID, requiredID)
		if existed {
			dep.ID = prev.ID
		}
		if crossJob {
			if err := dd.PutLink(job.Link{StageID: requiredID, JobID: jr.ID(), Completed: required.Status == stage.StatusCompleted}); err != nil {
				return err
			}
			if err := rd.PutLink(job.Link{StageID: dependentID, JobID: jd.ID()}); err != nil {
				return err
			}
			if err := rd.AddDependency(dep); err != nil {
				return err
			}
		}
		if err := dd.AddDependency(dep); err != nil {
			return err
		}
		res, err = e.lifecycle.Reconcile(ctx, dd, dependentID)
		if err != nil {
			return err
		}

		if err := e.store.SaveDependency(ctx, dep); err != nil {
			e.metrics.PersistenceFailure("save_dependency")
			return err
		}
		if err := e.saveStages(ctx, before, res.Changed); err != nil {
			undo := func(ctx context.Context) error { return e.store.DeleteDependency(ctx, dep.ID) }
			if existed {
				undo = func(ctx context.Context) error { return e.store.SaveDependency(ctx, prev) }
			}
			e.compensate(ctx, []func(context.Context) error{undo})
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.lifecycle.Observe(ctx, res)
	events := []notify.Event{{Type: notify.TypeDependencyAdded, JobID: jd.ID(), StageID: dependentID, Detail: requiredID.String()}}
	if crossJob {
		events = append(events, notify.Event{Type: notify.TypeDependencyAdded, JobID: jr.ID(), StageID: dependentID, Detail: requiredID.String()})
	}
	e.publish(ctx, append(events, transitionEvents(jd.ID(), res)...)...)
	ctxlog.FromContext(ctx).Info("Dependency added.", "dependent", dependentID, "required", requiredID, "mandatory", mandatory, "cross_job", crossJob)
	return nil
}

// RemoveDependency drops the edge dependentID -> requiredID from every job
// holding it. A Scheduled dependent that no longer waits for anything is
// promoted.
func (e *Engine) RemoveDependency(ctx context.Context, dependentID, requiredID stageid.ID) (err error) {
	ctx, end := e.begin(ctx, "remove_dependency",
		attribute.String("stage.dependent", dependentID.String()),
		attribute.String("stage.required", requiredID.String()),
	)
	defer func() { end(err) }()

	j, err := e.jobOf(ctx, dependentID)
	if err != nil {
		return err
	}
	linked := func(s *job.State) []stageid.JobID {
		if l, ok := s.Link(requiredID); ok {
			return []stageid.JobID{l.JobID}
		}
		return nil
	}

	var res lifecycle.Result
	err = e.updateLinked(ctx, j, linked, func(drafts map[stageid.JobID]*job.Draft, before priorStages) error {
		d := drafts[j.ID()]
		dep, ok := d.Dependency(dependentID, requiredID)
		if !ok {
			return &stage.NotFoundError{Kind: "dependency", ID: dependentID.String() + " -> " + requiredID.String()}
		}
		if l, ok := d.Link(requiredID); ok {
			if _, err := drafts[l.JobID].RemoveDependency(dep.ID); err != nil {
				return err
			}
		}
		if _, err := d.RemoveDependency(dep.ID); err != nil {
			return err
		}
		var err error
		res, err = e.lifecycle.Reconcile(ctx, d, dependentID)
		if err != nil {
			return err
		}

		if err := e.store.DeleteDependency(ctx, dep.ID); err != nil {
			e.metrics.PersistenceFailure("delete_dependency")
			return err
		}
		if err := e.saveStages(ctx, before, res.Changed); err != nil {
			e.compensate(ctx, []func(context.Context) error{
				func(ctx context.Context) error { return e.store.SaveDependency(ctx, dep) },
			})
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.lifecycle.Observe(ctx, res)
	events := []notify.Event{{Type: notify.TypeDependencyRemoved, JobID: j.ID(), StageID: dependentID, Detail: requiredID.String()}}
	e.publish(ctx, append(events, transitionEvents(j.ID(), res)...)...)
	ctxlog.FromContext(ctx).Info("Dependency removed.", "dependent", dependentID, "required", requiredID)
	return nil
}

// DeleteStage removes a stage that has not started. It fails with
// *stage.DeletionBlockedError while any dependency, from this job or another,
// still requires the stage. The dependencies where the stage is the dependent
// are removed with it.
func (e *Engine) DeleteStage(ctx context.Context, stageID stageid.ID) (err error) {
	ctx, end := e.begin(ctx, "delete_stage", attribute.String("stage.id", stageID.String()))
	defer func() { end(err) }()

	j, err := e.jobOf(ctx, stageID)
	if err != nil {
		return err
	}
	linked := func(s *job.State) []stageid.JobID {
		return linkJobs(j.ID(), s.LinkedRequires(stageID, false))
	}

	err = e.updateLinked(ctx, j, linked, func(drafts map[stageid.JobID]*job.Draft, _ priorStages) error {
		d := drafts[j.ID()]
		links := d.LinkedRequires(stageID, false)
		st, err := d.MustStage(stageID)
		if err != nil {
			return err
		}
		if dependents := d.DependentIDs(stageID); len(dependents) > 0 {
			return &stage.DeletionBlockedError{StageID: stageID, Dependents: dependents}
		}
		if !st.Status.IsPreExecution() || st.Started() {
			return &stage.InvalidTransitionError{StageID: stageID, Op: "delete", From: st.Status}
		}
		removed, err := d.RemoveStage(stageID)
		if err != nil {
			return err
		}
		for _, l := range links {
			other := drafts[l.JobID]
			if dep, ok := other.Dependency(stageID, l.StageID); ok {
				if _, err := other.RemoveDependency(dep.ID); err != nil {
					return err
				}
			}
		}

		var undo []func(context.Context) error
		for _, dep := range removed {
			if err := e.store.DeleteDependency(ctx, dep.ID); err != nil {
				e.metrics.PersistenceFailure("delete_dependency")
				e.compensate(ctx, undo)
				return err
			}
			undo = append(undo, func(ctx context.Context) error { return e.store.SaveDependency(ctx, dep) })
		}
		if err := e.store.DeleteStage(ctx, stageID); err != nil {
			e.metrics.PersistenceFailure("delete_stage")
			e.compensate(ctx, undo)
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.stageJobs.Delete(stageID)
	e.publish(ctx, notify.Event{Type: notify.TypeStageDeleted, JobID: j.ID(), StageID: stageID})
	ctxlog.FromContext(ctx).Info("Stage deleted.", "job", j.ID(), "stage", stageID)
	return nil
}
