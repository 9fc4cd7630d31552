package dag

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/specialistvlad/stagegrid/internal/stage"
	"github.com/specialistvlad/stagegrid/internal/stageid"
)

// New creates and returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{
		index: make(map[stageid.ID]int),
	}
}

// AddNode registers a stage. If the stage is already present the call does
// nothing.
func (g *Graph) AddNode(id stageid.ID) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.addNodeLocked(id)
}

func (g *Graph) addNodeLocked(id stageid.ID) int {
	if i, ok := g.index[id]; ok {
		return i
	}
	s := slot{
		id:         id,
		live:       true,
		deps:       make(map[int]bool),
		dependents: make(map[int]struct{}),
	}
	var i int
	if n := len(g.free); n > 0 {
		i = g.free[n-1]
		g.free = g.free[:n-1]
		g.slots[i] = s
	} else {
		i = len(g.slots)
		g.slots = append(g.slots, s)
	}
	g.index[id] = i
	return i
}

// HasNode reports whether the stage is registered.
func (g *Graph) HasNode(id stageid.ID) bool {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	_, ok := g.index[id]
	return ok
}

// Len returns the number of registered stages.
func (g *Graph) Len() int {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return len(g.index)
}

// AddEdge records that dependentID depends on requiredID.
//
// It fails with *stage.CycleError when requiredID already reaches dependentID
// (a self-loop is always a cycle) and with *stage.NotFoundError when either
// stage is unknown. Re-adding an existing edge only updates its mandatory flag.
func (g *Graph) AddEdge(dependentID, requiredID stageid.ID, mandatory bool) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	di, ok := g.index[dependentID]
	if !ok {
		return stage.NewNotFound("stage", dependentID)
	}
	ri, ok := g.index[requiredID]
	if !ok {
		return stage.NewNotFound("stage", requiredID)
	}
	if di == ri {
		return &stage.CycleError{DependentID: dependentID, RequiredID: requiredID}
	}

	if _, exists := g.slots[di].deps[ri]; exists {
		g.slots[di].deps[ri] = mandatory
		return nil
	}

	if path := g.pathLocked(ri, di); path != nil {
		return &stage.CycleError{DependentID: dependentID, RequiredID: requiredID, Path: g.idsLocked(path)}
	}

	g.slots[di].deps[ri] = mandatory
	g.slots[ri].dependents[di] = struct{}{}
	return nil
}

// pathLocked searches the dependency edges from `from` for `to` with an
// explicit stack and returns the slot path from..to, or nil.
func (g *Graph) pathLocked(from, to int) []int {
	parent := make([]int, len(g.slots))
	visited := make([]bool, len(g.slots))
	for i := range parent {
		parent[i] = -1
	}

	stack := []int{from}
	visited[from] = true
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == to {
			var path []int
			for at := to; at != -1; at = parent[at] {
				path = append(path, at)
			}
			slices.Reverse(path)
			return path
		}
		for next := range g.slots[cur].deps {
			if !visited[next] {
				visited[next] = true
				parent[next] = cur
				stack = append(stack, next)
			}
		}
	}
	return nil
}

func (g *Graph) idsLocked(path []int) []stageid.ID {
	ids := make([]stageid.ID, len(path))
	for i, p := range path {
		ids[i] = g.slots[p].id
	}
	return ids
}

// RemoveEdge drops the dependency of dependentID on requiredID.
func (g *Graph) RemoveEdge(dependentID, requiredID stageid.ID) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	di, ok := g.index[dependentID]
	if !ok {
		return stage.NewNotFound("stage", dependentID)
	}
	ri, ok := g.index[requiredID]
	if !ok {
		return stage.NewNotFound("stage", requiredID)
	}
	if _, exists := g.slots[di].deps[ri]; !exists {
		return &stage.NotFoundError{Kind: "dependency", ID: fmt.Sprintf("%s -> %s", dependentID, requiredID)}
	}
	delete(g.slots[di].deps, ri)
	delete(g.slots[ri].dependents, di)
	return nil
}

// RemoveNode unregisters a stage together with every edge where it is the
// dependent. It fails with *stage.DeletionBlockedError while some other stage
// still requires it.
func (g *Graph) RemoveNode(id stageid.ID) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	i, ok := g.index[id]
	if !ok {
		return stage.NewNotFound("stage", id)
	}
	if len(g.slots[i].dependents) > 0 {
		dependents := make([]stageid.ID, 0, len(g.slots[i].dependents))
		for d := range g.slots[i].dependents {
			dependents = append(dependents, g.slots[d].id)
		}
		return &stage.DeletionBlockedError{StageID: id, Dependents: stageid.Sort(dependents)}
	}

	for r := range g.slots[i].deps {
		delete(g.slots[r].dependents, i)
	}
	g.slots[i] = slot{}
	g.free = append(g.free, i)
	delete(g.index, id)
	return nil
}

// DependenciesOf returns the edges where id is the dependent, ordered by the
// required stage id.
func (g *Graph) DependenciesOf(id stageid.ID) ([]Edge, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	i, ok := g.index[id]
	if !ok {
		return nil, stage.NewNotFound("stage", id)
	}
	edges := make([]Edge, 0, len(g.slots[i].deps))
	for r, mandatory := range g.slots[i].deps {
		edges = append(edges, Edge{Dependent: id, Required: g.slots[r].id, Mandatory: mandatory})
	}
	slices.SortFunc(edges, func(a, b Edge) int { return cmp.Compare(a.Required, b.Required) })
	return edges, nil
}

// DependentsOf returns the edges where id is the required stage, ordered by
// the dependent stage id.
func (g *Graph) DependentsOf(id stageid.ID) ([]Edge, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	i, ok := g.index[id]
	if !ok {
		return nil, stage.NewNotFound("stage", id)
	}
	edges := make([]Edge, 0, len(g.slots[i].dependents))
	for d := range g.slots[i].dependents {
		edges = append(edges, Edge{Dependent: g.slots[d].id, Required: id, Mandatory: g.slots[d].deps[i]})
	}
	slices.SortFunc(edges, func(a, b Edge) int { return cmp.Compare(a.Dependent, b.Dependent) })
	return edges, nil
}

// Blocking returns the mandatory required stages of id that are not completed.
func (g *Graph) Blocking(id stageid.ID, completed CompletedFunc) ([]stageid.ID, error) {
	deps, err := g.DependenciesOf(id)
	if err != nil {
		return nil, err
	}
	var blocking []stageid.ID
	for _, e := range deps {
		if e.Mandatory && !completed(e.Required) {
			blocking = append(blocking, e.Required)
		}
	}
	return blocking, nil
}

// IsReady reports whether every mandatory required stage of id is completed.
// A stage without mandatory dependencies is trivially ready.
func (g *Graph) IsReady(id stageid.ID, completed CompletedFunc) (bool, error) {
	blocking, err := g.Blocking(id, completed)
	if err != nil {
		return false, err
	}
	return len(blocking) == 0, nil
}

// Nodes returns every registered stage id in lexical order.
func (g *Graph) Nodes() []stageid.ID {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	ids := make([]stageid.ID, 0, len(g.index))
	for id := range g.index {
		ids = append(ids, id)
	}
	return stageid.Sort(ids)
}

// Edges returns every edge, ordered by dependent then required id.
func (g *Graph) Edges() []Edge {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	var edges []Edge
	for _, s := range g.slots {
		if !s.live {
			continue
		}
		for r, mandatory := range s.deps {
			edges = append(edges, Edge{Dependent: s.id, Required: g.slots[r].id, Mandatory: mandatory})
		}
	}
	slices.SortFunc(edges, func(a, b Edge) int {
		if c := cmp.Compare(a.Dependent, b.Dependent); c != 0 {
			return c
		}
		return cmp.Compare(a.Required, b.Required)
	})
	return edges
}

// TopologicalOrder returns the stages so that every required stage precedes
// its dependents. Among stages that are free at the same time, less decides
// the order; a nil less falls back to the stage id.
func (g *Graph) TopologicalOrder(less func(a, b stageid.ID) int) ([]stageid.ID, error) {
	if less == nil {
		less = func(a, b stageid.ID) int { return cmp.Compare(a, b) }
	}

	g.mutex.RLock()
	defer g.mutex.RUnlock()

	pending := make(map[int]int, len(g.index))
	var ready []int
	for _, i := range g.index {
		pending[i] = len(g.slots[i].deps)
		if pending[i] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]stageid.ID, 0, len(g.index))
	for len(ready) > 0 {
		slices.SortFunc(ready, func(a, b int) int { return less(g.slots[a].id, g.slots[b].id) })
		cur := ready[0]
		ready = ready[1:]
		order = append(order, g.slots[cur].id)
		for d := range g.slots[cur].dependents {
			pending[d]--
			if pending[d] == 0 {
				ready = append(ready, d)
			}
		}
	}

	if len(order) != len(g.index) {
		return nil, fmt.Errorf("dependency graph is inconsistent: %d of %d stages ordered", len(order), len(g.index))
	}
	return order, nil
}

// Clone returns an independent deep copy of the graph.
func (g *Graph) Clone() *Graph {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	c := &Graph{
		index: make(map[stageid.ID]int, len(g.index)),
		slots: make([]slot, len(g.slots)),
		free:  slices.Clone(g.free),
	}
	for id, i := range g.index {
		c.index[id] = i
	}
	for i, s := range g.slots {
		if !s.live {
			continue
		}
		cs := slot{
			id:         s.id,
			live:       true,
			deps:       make(map[int]bool, len(s.deps)),
			dependents: make(map[int]struct{}, len(s.dependents)),
		}
		for k, v := range s.deps {
			cs.deps[k] = v
		}
		for k := range s.dependents {
			cs.dependents[k] = struct{}{}
		}
		c.slots[i] = cs
	}
	return c
}
