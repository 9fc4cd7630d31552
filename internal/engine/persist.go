package engine

import (
	"context"

	"github.com/specialistvlad/stagegrid/internal/ctxlog"
	"github.com/specialistvlad/stagegrid/internal/stage"
	"github.com/specialistvlad/stagegrid/internal/stageid"
	"github.com/specialistvlad/stagegrid/internal/stagestore"
)

// commitPlan writes new records all-or-nothing. A BatchWriter store commits
// in one transaction; otherwise records are written one by one and every
// record already written is deleted again when a later write fails. The
// store's error is returned unchanged.
func (e *Engine) commitPlan(ctx context.Context, p stagestore.Plan) error {
	if bw, ok := e.store.(stagestore.BatchWriter); ok {
		if err := bw.SavePlan(ctx, p); err != nil {
			e.metrics.PersistenceFailure("save_plan")
			return err
		}
		return nil
	}

	var undo []func(context.Context) error
	rollback := func(op string, err error) error {
		e.metrics.PersistenceFailure(op)
		e.compensate(ctx, undo)
		return err
	}

	for _, st := range p.Stages {
		if err := e.store.SaveStage(ctx, st); err != nil {
			return rollback("save_stage", err)
		}
		undo = append(undo, func(ctx context.Context) error { return e.store.DeleteStage(ctx, st.ID) })
	}
	for _, d := range p.Dependencies {
		if err := e.store.SaveDependency(ctx, d); err != nil {
			return rollback("save_dependency", err)
		}
		undo = append(undo, func(ctx context.Context) error { return e.store.DeleteDependency(ctx, d.ID) })
	}
	return nil
}

// committedStages looks up the version of a stage before an update.
type committedStages interface {
	Stage(id stageid.ID) (stage.Stage, bool)
}

// saveStages writes updated versions of existing or new stages. On a partial
// failure the stages already written are put back to their version in
// before, or deleted when before does not know them.
func (e *Engine) saveStages(ctx context.Context, before committedStages, changed []stage.Stage) error {
	changed = latestVersions(changed)
	if len(changed) == 0 {
		return nil
	}
	if bw, ok := e.store.(stagestore.BatchWriter); ok && len(changed) > 1 {
		if err := bw.SavePlan(ctx, stagestore.Plan{Stages: changed}); err != nil {
			e.metrics.PersistenceFailure("save_plan")
			return err
		}
		return nil
	}

	var undo []func(context.Context) error
	for _, st := range changed {
		if err := e.store.SaveStage(ctx, st); err != nil {
			e.metrics.PersistenceFailure("save_stage")
			e.compensate(ctx, undo)
			return err
		}
		undo = append(undo, e.restoreStage(before, st))
	}
	return nil
}

func (e *Engine) restoreStage(before committedStages, st stage.Stage) func(context.Context) error {
	prev, ok := before.Stage(st.ID)
	if !ok {
		return func(ctx context.Context) error { return e.store.DeleteStage(ctx, st.ID) }
	}
	return func(ctx context.Context) error { return e.store.SaveStage(ctx, prev) }
}

// compensate runs undo steps newest first. Their failures are logged; the
// caller already holds the error that matters.
func (e *Engine) compensate(ctx context.Context, undo []func(context.Context) error) {
	logger := ctxlog.FromContext(ctx)
	// Compensation must run even when the caller's context is done.
	ctx = context.WithoutCancel(ctx)
	for i := len(undo) - 1; i >= 0; i-- {
		if err := undo[i](ctx); err != nil {
			e.metrics.PersistenceFailure("compensate")
			logger.Error("Failed to compensate a partial write.", "error", err)
		}
	}
	if len(undo) > 0 {
		logger.Warn("Partial write rolled back.", "records", len(undo))
	}
}

// latestVersions keeps the last version of every stage, in first-seen order.
func latestVersions(stages []stage.Stage) []stage.Stage {
	pos := make(map[string]int, len(stages))
	out := make([]stage.Stage, 0, len(stages))
	for _, st := range stages {
		if i, ok := pos[string(st.ID)]; ok {
			out[i] = st
			continue
		}
		pos[string(st.ID)] = len(out)
		out = append(out, st)
	}
	return out
}
