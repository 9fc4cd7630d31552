package job

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/specialistvlad/stagegrid/internal/stage"
	"github.com/specialistvlad/stagegrid/internal/stageid"
)

// Job is the aggregate root for one job's stages and dependencies.
type Job struct {
	mu    sync.Mutex
	state atomic.Pointer[State]
}

// New creates an empty job.
func New(id stageid.JobID) *Job {
	j := &Job{}
	j.state.Store(emptyState(id))
	return j
}

// FromRecords rebuilds a job from persisted records. Dependencies must name
// stages of the job or of links; one that names neither, or that would close
// a cycle, is rejected.
func FromRecords(id stageid.JobID, stages []stage.Stage, deps []stage.Dependency, links ...Link) (*Job, error) {
	s := emptyState(id)
	d := &Draft{State: s}
	for _, st := range stages {
		if err := d.PutStage(st); err != nil {
			return nil, fmt.Errorf("hydrate job %s: %w", id, err)
		}
	}
	for _, l := range links {
		if err := d.PutLink(l); err != nil {
			return nil, fmt.Errorf("hydrate job %s: %w", id, err)
		}
	}
	for _, dep := range deps {
		if err := d.AddDependency(dep); err != nil {
			return nil, fmt.Errorf("hydrate job %s: %w", id, err)
		}
	}
	j := &Job{}
	j.state.Store(s)
	return j, nil
}

// ID returns the job id.
func (j *Job) ID() stageid.JobID { return j.Snapshot().ID() }

// Snapshot returns the latest published state without blocking.
func (j *Job) Snapshot() *State { return j.state.Load() }

// Update runs fn against a private draft of the current state under the
// job's writer lock. The draft is published only when fn returns nil.
func (j *Job) Update(fn func(d *Draft) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	d := &Draft{State: j.state.Load().clone()}
	if err := fn(d); err != nil {
		return err
	}
	d.version++
	j.state.Store(d.State)
	return nil
}

// UpdateAll is Update over several jobs at once. The jobs are locked in id
// order and fn gets one draft per distinct job, keyed by job id. Either every
// draft is published or none is.
func UpdateAll(jobs []*Job, fn func(drafts map[stageid.JobID]*Draft) error) error {
	sorted := slices.Clone(jobs)
	slices.SortFunc(sorted, func(a, b *Job) int { return cmp.Compare(a.ID(), b.ID()) })
	sorted = slices.CompactFunc(sorted, func(a, b *Job) bool { return a.ID() == b.ID() })

	for _, j := range sorted {
		j.mu.Lock()
		defer j.mu.Unlock()
	}

	drafts := make(map[stageid.JobID]*Draft, len(sorted))
	for _, j := range sorted {
		drafts[j.ID()] = &Draft{State: j.state.Load().clone()}
	}
	if err := fn(drafts); err != nil {
		return err
	}
	for _, j := range sorted {
		d := drafts[j.ID()]
		d.version++
		j.state.Store(d.State)
	}
	return nil
}

// Draft is the mutable working copy handed to Update callbacks. Reads see
// the draft's own changes.
type Draft struct {
	*State
}

// PutStage inserts or replaces a stage. The stage must belong to the job,
// pass validation and not reuse another stage's execution order.
func (d *Draft) PutStage(st stage.Stage) error {
	if st.JobID != d.id {
		return &stage.ValidationError{
			Subject:  "stage " + st.ID.String(),
			Problems: []string{fmt.Sprintf("belongs to job %s, not %s", st.JobID, d.id)},
		}
	}
	if err := st.Validate(); err != nil {
		return err
	}
	for id, other := range d.stages {
		if id != st.ID && other.ExecutionOrder == st.ExecutionOrder {
			return &stage.ValidationError{
				Subject:  "stage " + st.ID.String(),
				Problems: []string{fmt.Sprintf("execution order %d is already used by stage %s", st.ExecutionOrder, id)},
			}
		}
	}
	if _, ok := d.links[st.ID]; ok {
		return &stage.ValidationError{
			Subject:  "stage " + st.ID.String(),
			Problems: []string{"is already linked from another job"},
		}
	}
	d.graph.AddNode(st.ID)
	d.stages[st.ID] = st.Clone()
	return nil
}

// PutLink inserts or replaces a link to a stage of another job.
func (d *Draft) PutLink(l Link) error {
	var problems []string
	if l.StageID.IsZero() {
		problems = append(problems, "stage id is required")
	}
	if l.JobID == d.id {
		problems = append(problems, fmt.Sprintf("stage belongs to job %s itself", d.id))
	}
	if _, ok := d.stages[l.StageID]; ok {
		problems = append(problems, fmt.Sprintf("stage is part of job %s", d.id))
	}
	if len(problems) > 0 {
		return &stage.ValidationError{Subject: "link " + l.StageID.String(), Problems: problems}
	}
	d.graph.AddNode(l.StageID)
	d.links[l.StageID] = l
	return nil
}

// CompleteLink marks a linked stage Completed. It reports false when id is
// not linked.
func (d *Draft) CompleteLink(id stageid.ID) bool {
	l, ok := d.links[id]
	if !ok {
		return false
	}
	l.Completed = true
	d.links[id] = l
	return true
}

// pruneLink forgets a linked stage once no dependency names it.
func (d *Draft) pruneLink(id stageid.ID) {
	if _, ok := d.links[id]; !ok {
		return
	}
	if len(d.RequiredIDs(id)) > 0 || len(d.DependentIDs(id)) > 0 {
		return
	}
	if err := d.graph.RemoveNode(id); err == nil {
		delete(d.links, id)
	}
}

// AddDependency records dep and its graph edge. Each stage must belong to
// the job or be linked, and at least one must belong to the job. If an edge
// between the same pair exists, its record is replaced.
func (d *Draft) AddDependency(dep stage.Dependency) error {
	if err := dep.Validate(); err != nil {
		return err
	}
	_, ownsDependent := d.stages[dep.DependentID]
	_, ownsRequired := d.stages[dep.RequiredID]
	if !ownsDependent && !ownsRequired {
		return &stage.ValidationError{
			Subject:  "dependency " + dep.ID.String(),
			Problems: []string{fmt.Sprintf("names no stage of job %s", d.id)},
		}
	}
	for _, id := range []stageid.ID{dep.DependentID, dep.RequiredID} {
		_, local := d.stages[id]
		_, linked := d.links[id]
		if !local && !linked {
			return &stage.ValidationError{
				Subject:  "dependency " + dep.ID.String(),
				Problems: []string{fmt.Sprintf("stage %s is not part of job %s", id, d.id)},
			}
		}
	}
	if err := d.graph.AddEdge(dep.DependentID, dep.RequiredID, dep.Mandatory); err != nil {
		return err
	}
	if prev, ok := d.Dependency(dep.DependentID, dep.RequiredID); ok && prev.ID != dep.ID {
		delete(d.deps, prev.ID)
	}
	d.deps[dep.ID] = dep
	return nil
}

// RemoveDependency drops a dependency record and its edge.
func (d *Draft) RemoveDependency(id stageid.ID) (stage.Dependency, error) {
	dep, ok := d.deps[id]
	if !ok {
		return stage.Dependency{}, stage.NewNotFound("dependency", id)
	}
	if err := d.graph.RemoveEdge(dep.DependentID, dep.RequiredID); err != nil {
		return stage.Dependency{}, err
	}
	delete(d.deps, id)
	d.pruneLink(dep.DependentID)
	d.pruneLink(dep.RequiredID)
	return dep, nil
}

// RemoveStage drops a stage together with the dependencies where it is the
// dependent. It fails with *stage.DeletionBlockedError while another stage
// requires it. The removed dependency records are returned.
func (d *Draft) RemoveStage(id stageid.ID) ([]stage.Dependency, error) {
	if _, ok := d.stages[id]; !ok {
		return nil, stage.NewNotFound("stage", id)
	}
	if err := d.graph.RemoveNode(id); err != nil {
		return nil, err
	}
	var removed []stage.Dependency
	for depID, dep := range d.deps {
		if dep.DependentID == id {
			removed = append(removed, dep)
			delete(d.deps, depID)
		}
	}
	delete(d.stages, id)
	for _, dep := range removed {
		d.pruneLink(dep.RequiredID)
	}
	slices.SortFunc(removed, func(a, b stage.Dependency) int { return cmp.Compare(a.ID, b.ID) })
	return removed, nil
}
