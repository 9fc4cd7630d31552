package job

import (
	"cmp"
	"slices"

	"github.com/specialistvlad/stagegrid/internal/dag"
	"github.com/specialistvlad/stagegrid/internal/stage"
	"github.com/specialistvlad/stagegrid/internal/stageid"
)

// State is an immutable view of a job. Do not mutate anything reachable
// from it.
type State struct {
	id      stageid.JobID
	version uint64
	stages  map[stageid.ID]stage.Stage
	deps    map[stageid.ID]stage.Dependency
	links   map[stageid.ID]Link
	graph   *dag.Graph
}

// Link is a stage of another job that a dependency of this job names. The
// graph holds it as a node so readiness and cycle checks can see the edge.
type Link struct {
	StageID stageid.ID
	JobID   stageid.JobID
	// Completed mirrors the linked stage's status. It only matters when the
	// linked stage is the required end of a dependency.
	Completed bool
}

func emptyState(id stageid.JobID) *State {
	return &State{
		id:     id,
		stages: make(map[stageid.ID]stage.Stage),
		deps:   make(map[stageid.ID]stage.Dependency),
		links:  make(map[stageid.ID]Link),
		graph:  dag.New(),
	}
}

func (s *State) clone() *State {
	c := &State{
		id:      s.id,
		version: s.version,
		stages:  make(map[stageid.ID]stage.Stage, len(s.stages)),
		deps:    make(map[stageid.ID]stage.Dependency, len(s.deps)),
		links:   make(map[stageid.ID]Link, len(s.links)),
		graph:   s.graph.Clone(),
	}
	for k, v := range s.stages {
		c.stages[k] = v.Clone()
	}
	for k, v := range s.deps {
		c.deps[k] = v
	}
	for k, v := range s.links {
		c.links[k] = v
	}
	return c
}

// ID returns the job id.
func (s *State) ID() stageid.JobID { return s.id }

// Version increases by one with every published update.
func (s *State) Version() uint64 { return s.version }

// Len returns the number of stages.
func (s *State) Len() int { return len(s.stages) }

// Stage returns a copy of one stage.
func (s *State) Stage(id stageid.ID) (stage.Stage, bool) {
	st, ok := s.stages[id]
	if !ok {
		return stage.Stage{}, false
	}
	return st.Clone(), true
}

// MustStage is Stage for ids the caller knows exist; unknown ids yield a
// *stage.NotFoundError.
func (s *State) MustStage(id stageid.ID) (stage.Stage, error) {
	st, ok := s.Stage(id)
	if !ok {
		return stage.Stage{}, stage.NewNotFound("stage", id)
	}
	return st, nil
}

// Stages returns copies of every stage ordered by execution order.
func (s *State) Stages() []stage.Stage {
	out := make([]stage.Stage, 0, len(s.stages))
	for _, st := range s.stages {
		out = append(out, st.Clone())
	}
	slices.SortFunc(out, stage.ByExecutionOrder)
	return out
}

// Dependencies returns every dependency record ordered by dependent's
// execution order, then required's.
func (s *State) Dependencies() []stage.Dependency {
	out := make([]stage.Dependency, 0, len(s.deps))
	for _, d := range s.deps {
		out = append(out, d)
	}
	order := func(id stageid.ID) int { return s.stages[id].ExecutionOrder }
	slices.SortFunc(out, func(a, b stage.Dependency) int {
		if c := order(a.DependentID) - order(b.DependentID); c != 0 {
			return c
		}
		return order(a.RequiredID) - order(b.RequiredID)
	})
	return out
}

// Dependency returns the record linking dependent to required.
func (s *State) Dependency(dependentID, requiredID stageid.ID) (stage.Dependency, bool) {
	for _, d := range s.deps {
		if d.DependentID == dependentID && d.RequiredID == requiredID {
			return d, true
		}
	}
	return stage.Dependency{}, false
}

// DependencyByID returns a dependency record by its id.
func (s *State) DependencyByID(id stageid.ID) (stage.Dependency, bool) {
	d, ok := s.deps[id]
	return d, ok
}

// Link returns the linked stage of another job with the given id.
func (s *State) Link(id stageid.ID) (Link, bool) {
	l, ok := s.links[id]
	return l, ok
}

// Links returns every linked stage ordered by id.
func (s *State) Links() []Link {
	out := make([]Link, 0, len(s.links))
	for _, l := range s.links {
		out = append(out, l)
	}
	slices.SortFunc(out, func(a, b Link) int { return cmp.Compare(a.StageID, b.StageID) })
	return out
}

// Completed reports whether the stage, or the linked stage, is Completed.
func (s *State) Completed(id stageid.ID) bool {
	if st, ok := s.stages[id]; ok {
		return st.Status == stage.StatusCompleted
	}
	return s.links[id].Completed
}

// Blocking lists the mandatory required stages of id that are not Completed.
func (s *State) Blocking(id stageid.ID) ([]stageid.ID, error) {
	return s.graph.Blocking(id, s.Completed)
}

// IsReady reports whether every mandatory required stage of id is Completed.
func (s *State) IsReady(id stageid.ID) (bool, error) {
	return s.graph.IsReady(id, s.Completed)
}

// Requires returns the stages of this job that id depends on, mandatory ones
// only when mandatoryOnly is set.
func (s *State) Requires(id stageid.ID, mandatoryOnly bool) []stage.Stage {
	edges, err := s.graph.DependenciesOf(id)
	if err != nil {
		return nil
	}
	var out []stage.Stage
	for _, e := range edges {
		if st, ok := s.stages[e.Required]; ok && (!mandatoryOnly || e.Mandatory) {
			out = append(out, st.Clone())
		}
	}
	return out
}

// RequiredBy returns the stages of this job that depend on id, mandatory
// ones only when mandatoryOnly is set.
func (s *State) RequiredBy(id stageid.ID, mandatoryOnly bool) []stage.Stage {
	edges, err := s.graph.DependentsOf(id)
	if err != nil {
		return nil
	}
	var out []stage.Stage
	for _, e := range edges {
		if st, ok := s.stages[e.Dependent]; ok && (!mandatoryOnly || e.Mandatory) {
			out = append(out, st.Clone())
		}
	}
	return out
}

// LinkedRequires returns the linked stages id depends on, mandatory ones
// only when mandatoryOnly is set.
func (s *State) LinkedRequires(id stageid.ID, mandatoryOnly bool) []Link {
	edges, err := s.graph.DependenciesOf(id)
	if err != nil {
		return nil
	}
	var out []Link
	for _, e := range edges {
		if l, ok := s.links[e.Required]; ok && (!mandatoryOnly || e.Mandatory) {
			out = append(out, l)
		}
	}
	return out
}

// LinkedRequiredBy returns the linked stages that depend on id, mandatory
// ones only when mandatoryOnly is set.
func (s *State) LinkedRequiredBy(id stageid.ID, mandatoryOnly bool) []Link {
	edges, err := s.graph.DependentsOf(id)
	if err != nil {
		return nil
	}
	var out []Link
	for _, e := range edges {
		if l, ok := s.links[e.Dependent]; ok && (!mandatoryOnly || e.Mandatory) {
			out = append(out, l)
		}
	}
	return out
}

// RequiredIDs returns the ids of every stage id depends on, linked stages
// included.
func (s *State) RequiredIDs(id stageid.ID) []stageid.ID {
	edges, err := s.graph.DependenciesOf(id)
	if err != nil {
		return nil
	}
	out := make([]stageid.ID, len(edges))
	for i, e := range edges {
		out[i] = e.Required
	}
	return out
}

// DependentIDs returns the ids of every stage that depends on id, linked
// stages included.
func (s *State) DependentIDs(id stageid.ID) []stageid.ID {
	edges, err := s.graph.DependentsOf(id)
	if err != nil {
		return nil
	}
	out := make([]stageid.ID, len(edges))
	for i, e := range edges {
		out[i] = e.Dependent
	}
	return out
}

// NextExecutionOrder returns one past the highest execution order in use.
func (s *State) NextExecutionOrder() int {
	next := 1
	for _, st := range s.stages {
		if st.ExecutionOrder >= next {
			next = st.ExecutionOrder + 1
		}
	}
	return next
}

// TopologicalStages returns the stages in dependency order, ties broken by
// execution order. Linked stages are left out.
func (s *State) TopologicalStages() ([]stage.Stage, error) {
	ids, err := s.graph.TopologicalOrder(func(a, b stageid.ID) int {
		return s.stages[a].ExecutionOrder - s.stages[b].ExecutionOrder
	})
	if err != nil {
		return nil, err
	}
	out := make([]stage.Stage, 0, len(s.stages))
	for _, id := range ids {
		if st, ok := s.stages[id]; ok {
			out = append(out, st.Clone())
		}
	}
	return out, nil
}
