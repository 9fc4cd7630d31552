package scheduler

import (
	"cmp"
	"context"
	"slices"

	"github.com/specialistvlad/stagegrid/internal/ctxlog"
	"github.com/specialistvlad/stagegrid/internal/job"
	"github.com/specialistvlad/stagegrid/internal/stage"
	"github.com/specialistvlad/stagegrid/internal/stageid"
)

// Scheduler lists startable stages of a job.
type Scheduler interface {
	// ReadyStages returns every startable stage of the job in execution
	// order.
	ReadyStages(ctx context.Context, jobID stageid.JobID) ([]stage.Stage, error)

	// Next returns the startable stage with the highest priority, ties
	// broken by execution order. ok is false when nothing can start.
	Next(ctx context.Context, jobID stageid.JobID) (st stage.Stage, ok bool, err error)
}

// SnapshotSource yields the current state of a job.
type SnapshotSource interface {
	Snapshot(ctx context.Context, jobID stageid.JobID) (*job.State, error)
}

// DefaultScheduler is the reference implementation of the Scheduler
// interface. It is stateless and safe for concurrent use.
type DefaultScheduler struct {
	source SnapshotSource
}

var _ Scheduler = (*DefaultScheduler)(nil)

// New creates a new default scheduler reading from source.
func New(source SnapshotSource) *DefaultScheduler {
	return &DefaultScheduler{source: source}
}

// ReadyStages implements the Scheduler interface.
func (s *DefaultScheduler) ReadyStages(ctx context.Context, jobID stageid.JobID) ([]stage.Stage, error) {
	state, err := s.source.Snapshot(ctx, jobID)
	if err != nil {
		return nil, err
	}
	ready := Startable(state)
	ctxlog.FromContext(ctx).Debug("Ready stages computed.", "job", jobID, "ready", len(ready))
	return ready, nil
}

// Next implements the Scheduler interface.
func (s *DefaultScheduler) Next(ctx context.Context, jobID stageid.JobID) (stage.Stage, bool, error) {
	ready, err := s.ReadyStages(ctx, jobID)
	if err != nil || len(ready) == 0 {
		return stage.Stage{}, false, err
	}
	best := slices.MinFunc(ready, func(a, b stage.Stage) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		return stage.ByExecutionOrder(a, b)
	})
	return best, true, nil
}

// Startable returns the stages of state that may start now, in execution
// order.
func Startable(state *job.State) []stage.Stage {
	var out []stage.Stage
	for _, st := range state.Stages() {
		if !st.Status.IsPreExecution() {
			continue
		}
		if ok, err := state.IsReady(st.ID); err == nil && ok {
			out = append(out, st)
		}
	}
	return out
}
