package dag

import (
	"sync"

	"github.com/specialistvlad/stagegrid/internal/stageid"
)

// Graph is a collection of stages and their dependency edges, representing a
// DAG. All operations on the graph are concurrency-safe.
type Graph struct {
	// mutex protects every field below.
	mutex sync.RWMutex
	// index maps a stage id to its slot.
	index map[stageid.ID]int
	// slots is the arena. Removed slots are recycled through free.
	slots []slot
	free  []int
}

// slot is a single vertex. It is un-exported to enforce interaction with the
// graph via the public API (using stage ids), not by direct manipulation.
type slot struct {
	id   stageid.ID
	live bool
	// deps maps each required slot to the mandatory flag of the edge.
	deps map[int]bool
	// dependents is the reverse adjacency of deps.
	dependents map[int]struct{}
}

// Edge is a read-only view of one dependency: Dependent may not start before
// Required has completed, unless the edge is advisory (Mandatory == false).
type Edge struct {
	Dependent stageid.ID
	Required  stageid.ID
	Mandatory bool
}

// CompletedFunc reports whether a stage has Completed. The graph does not
// store statuses; readiness queries take them from the caller's snapshot.
type CompletedFunc func(id stageid.ID) bool
