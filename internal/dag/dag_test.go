package dag

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/specialistvlad/stagegrid/internal/stage"
	"github.com/specialistvlad/stagegrid/internal/stageid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ids returns n fresh stage ids registered in g.
func ids(g *Graph, n int) []stageid.ID {
	out := make([]stageid.ID, n)
	for i := range out {
		out[i] = stageid.New()
		g.AddNode(out[i])
	}
	return out
}

func completedSet(done ...stageid.ID) CompletedFunc {
	set := make(map[stageid.ID]bool, len(done))
	for _, id := range done {
		set[id] = true
	}
	return func(id stageid.ID) bool { return set[id] }
}

func TestNew(t *testing.T) {
	g := New()
	require.NotNil(t, g)
	assert.NotNil(t, g.index)
	assert.Zero(t, g.Len())
}

func TestAddNode(t *testing.T) {
	g := New()
	a := stageid.New()

	g.AddNode(a)
	assert.Equal(t, 1, g.Len())
	assert.True(t, g.HasNode(a))

	g.AddNode(a) // Test idempotency
	assert.Equal(t, 1, g.Len())
}

func TestAddEdge(t *testing.T) {
	t.Run("success case", func(t *testing.T) {
		g := New()
		n := ids(g, 2)

		require.NoError(t, g.AddEdge(n[1], n[0], true)) // n1 depends on n0

		deps, err := g.DependenciesOf(n[1])
		require.NoError(t, err)
		assert.Equal(t, []Edge{{Dependent: n[1], Required: n[0], Mandatory: true}}, deps)

		dependents, err := g.DependentsOf(n[0])
		require.NoError(t, err)
		assert.Equal(t, []Edge{{Dependent: n[1], Required: n[0], Mandatory: true}}, dependents)
	})

	t.Run("re-adding is idempotent and updates the flag", func(t *testing.T) {
		g := New()
		n := ids(g, 2)
		require.NoError(t, g.AddEdge(n[1], n[0], true))
		require.NoError(t, g.AddEdge(n[1], n[0], false))

		edges := g.Edges()
		require.Len(t, edges, 1)
		assert.False(t, edges[0].Mandatory)
	})

	t.Run("error cases", func(t *testing.T) {
		g := New()
		n := ids(g, 1)
		missing := stageid.New()

		var nf *stage.NotFoundError
		assert.ErrorAs(t, g.AddEdge(missing, n[0], true), &nf)
		assert.ErrorAs(t, g.AddEdge(n[0], missing, true), &nf)

		var cyc *stage.CycleError
		require.ErrorAs(t, g.AddEdge(n[0], n[0], true), &cyc)
		assert.ErrorContains(t, cyc, "cannot depend on itself")
	})
}

func TestAddEdge_RejectsCycles(t *testing.T) {
	t.Run("direct cycle", func(t *testing.T) {
		g := New()
		n := ids(g, 2)
		require.NoError(t, g.AddEdge(n[1], n[0], true))

		err := g.AddEdge(n[0], n[1], true)
		var cyc *stage.CycleError
		require.ErrorAs(t, err, &cyc)
		assert.Equal(t, []stageid.ID{n[1], n[0]}, cyc.Path)
	})

	t.Run("longer cycle through advisory edges", func(t *testing.T) {
		g := New()
		n := ids(g, 4)
		require.NoError(t, g.AddEdge(n[1], n[0], true))
		require.NoError(t, g.AddEdge(n[2], n[1], false))
		require.NoError(t, g.AddEdge(n[3], n[2], true))

		err := g.AddEdge(n[0], n[3], true)
		var cyc *stage.CycleError
		require.ErrorAs(t, err, &cyc)
		assert.Equal(t, []stageid.ID{n[3], n[2], n[1], n[0]}, cyc.Path)
		assert.Len(t, g.Edges(), 3, "rejected insertion must not change the graph")
	})

	t.Run("diamond is not a cycle", func(t *testing.T) {
		g := New()
		n := ids(g, 4)
		require.NoError(t, g.AddEdge(n[1], n[0], true))
		require.NoError(t, g.AddEdge(n[2], n[0], true))
		require.NoError(t, g.AddEdge(n[3], n[1], true))
		require.NoError(t, g.AddEdge(n[3], n[2], true))
		require.NoError(t, g.AddEdge(n[3], n[0], true)) // Transitive edge
	})
}

// TestAddEdge_RandomSequencesStayAcyclic inserts random edges and checks after
// every step that a full topological order still exists.
func TestAddEdge_RandomSequencesStayAcyclic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 20; round++ {
		g := New()
		n := ids(g, 12)
		for i := 0; i < 60; i++ {
			a, b := n[rng.Intn(len(n))], n[rng.Intn(len(n))]
			before := g.Edges()
			err := g.AddEdge(a, b, rng.Intn(2) == 0)
			if err != nil {
				require.ErrorIs(t, err, stage.ErrCycle)
				require.Equal(t, len(before), len(g.Edges()))
			}
			order, err := g.TopologicalOrder(nil)
			require.NoError(t, err, "round %d step %d", round, i)
			require.Len(t, order, len(n))
		}
	}
}

func TestIsReady(t *testing.T) {
	g := New()
	n := ids(g, 4)
	a, b, c, advisory := n[0], n[1], n[2], n[3]
	require.NoError(t, g.AddEdge(c, a, true))
	require.NoError(t, g.AddEdge(c, b, true))
	require.NoError(t, g.AddEdge(c, advisory, false))

	ready, err := g.IsReady(a, completedSet())
	require.NoError(t, err)
	assert.True(t, ready, "stage without dependencies is trivially ready")

	ready, err = g.IsReady(c, completedSet(a))
	require.NoError(t, err)
	assert.False(t, ready)

	blocking, err := g.Blocking(c, completedSet(a))
	require.NoError(t, err)
	assert.Equal(t, []stageid.ID{b}, blocking)

	ready, err = g.IsReady(c, completedSet(a, b))
	require.NoError(t, err)
	assert.True(t, ready, "advisory dependency must not gate")

	_, err = g.IsReady(stageid.New(), completedSet())
	assert.ErrorIs(t, err, stage.ErrNotFound)
}

func TestRemoveNode(t *testing.T) {
	g := New()
	n := ids(g, 3)
	require.NoError(t, g.AddEdge(n[1], n[0], true))
	require.NoError(t, g.AddEdge(n[2], n[1], true))

	var blocked *stage.DeletionBlockedError
	require.ErrorAs(t, g.RemoveNode(n[0]), &blocked)
	assert.Equal(t, []stageid.ID{n[1]}, blocked.Dependents)

	require.NoError(t, g.RemoveNode(n[2]))
	assert.False(t, g.HasNode(n[2]))

	require.NoError(t, g.RemoveNode(n[1]))
	require.NoError(t, g.RemoveNode(n[0]))
	assert.Zero(t, g.Len())
	assert.Empty(t, g.Edges())

	// Recycled slots must start clean.
	m := ids(g, 3)
	require.NoError(t, g.AddEdge(m[1], m[0], true))
	deps, err := g.DependenciesOf(m[2])
	require.NoError(t, err)
	assert.Empty(t, deps)
}

func TestRemoveEdge(t *testing.T) {
	g := New()
	n := ids(g, 2)
	require.NoError(t, g.AddEdge(n[1], n[0], true))

	require.NoError(t, g.RemoveEdge(n[1], n[0]))
	assert.Empty(t, g.Edges())
	assert.ErrorIs(t, g.RemoveEdge(n[1], n[0]), stage.ErrNotFound)
	require.NoError(t, g.RemoveNode(n[0]))
}

func TestTopologicalOrder_UsesTieBreak(t *testing.T) {
	g := New()
	n := ids(g, 3)
	rank := map[stageid.ID]int{n[0]: 3, n[1]: 1, n[2]: 2}
	require.NoError(t, g.AddEdge(n[1], n[0], true))

	order, err := g.TopologicalOrder(func(a, b stageid.ID) int { return rank[a] - rank[b] })
	require.NoError(t, err)
	// n1 ranks first but must wait for n0.
	assert.Equal(t, []stageid.ID{n[2], n[0], n[1]}, order)
}

func TestClone_IsIndependent(t *testing.T) {
	g := New()
	n := ids(g, 3)
	require.NoError(t, g.AddEdge(n[1], n[0], true))

	c := g.Clone()
	require.NoError(t, c.AddEdge(n[2], n[1], true))
	require.NoError(t, c.RemoveEdge(n[1], n[0]))

	assert.Len(t, g.Edges(), 1)
	assert.Equal(t, Edge{Dependent: n[1], Required: n[0], Mandatory: true}, g.Edges()[0])
	assert.Len(t, c.Edges(), 1)
}

func TestGraph_ConcurrentAccess(t *testing.T) {
	g := New()
	root := stageid.New()
	g.AddNode(root)

	numGoroutines := 50
	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := range numGoroutines {
		go func(i int) {
			defer wg.Done()
			id := stageid.New()
			g.AddNode(id)
			if err := g.AddEdge(id, root, i%2 == 0); err != nil {
				t.Errorf("edge %d: %v", i, err)
			}
			_, _ = g.IsReady(id, completedSet(root))
		}(i)
	}
	wg.Wait()

	dependents, err := g.DependentsOf(root)
	require.NoError(t, err)
	assert.Len(t, dependents, numGoroutines)
	assert.Equal(t, numGoroutines+1, g.Len(), fmt.Sprintf("nodes: %v", g.Nodes()))
}
