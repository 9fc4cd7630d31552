package engine

import (
	"context"
	"errors"
	"slices"

	"github.com/specialistvlad/stagegrid/internal/job"
	"github.com/specialistvlad/stagegrid/internal/stage"
	"github.com/specialistvlad/stagegrid/internal/stageid"
)

// errLinksChanged aborts a multi-job update whose set of linked jobs moved
// between the snapshot and the locks.
var errLinksChanged = errors.New("linked jobs changed")

// linkedJobsFunc names the other jobs an update of a job has to lock.
type linkedJobsFunc func(s *job.State) []stageid.JobID

// updateLinked runs fn on drafts of j and of every job linked names, with
// the states of those jobs before the update. The jobs are locked together
// in id order. linked is evaluated on the snapshot to pick the jobs and again
// on the locked draft; when they disagree the locks are released and the
// update starts over.
func (e *Engine) updateLinked(ctx context.Context, j *job.Job, linked linkedJobsFunc, fn func(drafts map[stageid.JobID]*job.Draft, before priorStages) error) error {
	for {
		want := sortedJobIDs(linked(j.Snapshot()))
		jobs := []*job.Job{j}
		for _, id := range want {
			other, err := e.loadJob(ctx, id, false)
			if err != nil {
				return err
			}
			jobs = append(jobs, other)
		}

		err := job.UpdateAll(jobs, func(drafts map[stageid.JobID]*job.Draft) error {
			if !slices.Equal(want, sortedJobIDs(linked(drafts[j.ID()].State))) {
				return errLinksChanged
			}
			before := make(priorStages, len(jobs))
			for i, locked := range jobs {
				before[i] = locked.Snapshot()
			}
			return fn(drafts, before)
		})
		if !errors.Is(err, errLinksChanged) {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func sortedJobIDs(ids []stageid.JobID) []stageid.JobID {
	ids = slices.Clone(ids)
	slices.Sort(ids)
	return slices.Compact(ids)
}

// linkJobs returns the jobs of links, excluding self.
func linkJobs(self stageid.JobID, links []job.Link) []stageid.JobID {
	var out []stageid.JobID
	for _, l := range links {
		if l.JobID != self {
			out = append(out, l.JobID)
		}
	}
	return out
}

// linkedStages resolves links to the current records in their own jobs.
func (e *Engine) linkedStages(ctx context.Context, links []job.Link) ([]stage.Stage, error) {
	out := make([]stage.Stage, 0, len(links))
	for _, l := range links {
		other, err := e.loadJob(ctx, l.JobID, false)
		if err != nil {
			return nil, err
		}
		st, err := other.Snapshot().MustStage(l.StageID)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// dependencyTiming returns the stages id waits for and the stages waiting for
// id through mandatory dependencies, stages of other jobs included.
func (e *Engine) dependencyTiming(ctx context.Context, s *job.State, id stageid.ID) (requires, requiredBy []stage.Stage, err error) {
	linkedRequires, err := e.linkedStages(ctx, s.LinkedRequires(id, true))
	if err != nil {
		return nil, nil, err
	}
	linkedRequiredBy, err := e.linkedStages(ctx, s.LinkedRequiredBy(id, true))
	if err != nil {
		return nil, nil, err
	}
	return append(s.Requires(id, true), linkedRequires...), append(s.RequiredBy(id, true), linkedRequiredBy...), nil
}

// requiredPath follows dependencies from `from` towards the stages it
// requires, crossing into other jobs through links, and returns the route to
// `to` or nil. views supplies the states of locked jobs; other jobs are read
// from their published snapshot.
func (e *Engine) requiredPath(ctx context.Context, from, to stageid.ID, fromJob stageid.JobID, views map[stageid.JobID]*job.Draft) ([]stageid.ID, error) {
	state := func(jobID stageid.JobID) (*job.State, error) {
		if d, ok := views[jobID]; ok {
			return d.State, nil
		}
		j, err := e.loadJob(ctx, jobID, false)
		if err != nil {
			return nil, err
		}
		return j.Snapshot(), nil
	}

	owner := map[stageid.ID]stageid.JobID{from: fromJob}
	parent := map[stageid.ID]stageid.ID{}
	stack := []stageid.ID{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == to {
			var path []stageid.ID
			for at := n; ; at = parent[at] {
				path = append(path, at)
				if at == from {
					break
				}
			}
			slices.Reverse(path)
			return path, nil
		}

		s, err := state(owner[n])
		if err != nil {
			return nil, err
		}
		for _, next := range s.RequiredIDs(n) {
			if _, seen := owner[next]; seen {
				continue
			}
			nextJob := owner[n]
			if l, ok := s.Link(next); ok {
				nextJob = l.JobID
			}
			owner[next] = nextJob
			parent[next] = n
			stack = append(stack, next)
		}
	}
	return nil, nil
}

// priorStages looks a stage up in the states committed before an update.
type priorStages []*job.State

// Stage returns the committed version of a stage.
func (p priorStages) Stage(id stageid.ID) (stage.Stage, bool) {
	for _, s := range p {
		if st, ok := s.Stage(id); ok {
			return st, true
		}
	}
	return stage.Stage{}, false
}
