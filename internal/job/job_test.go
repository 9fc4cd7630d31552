package job

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/specialistvlad/stagegrid/internal/stage"
	"github.com/specialistvlad/stagegrid/internal/stageid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jobID stageid.JobID = "job-1"

func newStage(order int) stage.Stage {
	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC).Add(time.Duration(order-1) * time.Hour)
	return stage.Stage{
		ID:             stageid.New(),
		JobID:          jobID,
		Name:           "step",
		Resource:       "printing",
		ScheduledStart: start,
		ScheduledEnd:   start.Add(time.Hour),
		EstimatedHours: 1,
		Status:         stage.StatusScheduled,
		ExecutionOrder: order,
	}
}

func TestUpdate_PublishesOnSuccessOnly(t *testing.T) {
	j := New(jobID)
	a := newStage(1)

	before := j.Snapshot()
	err := j.Update(func(d *Draft) error {
		require.NoError(t, d.PutStage(a))
		return errors.New("persistence failed")
	})
	require.Error(t, err)
	assert.Same(t, before, j.Snapshot(), "failed update must not publish")
	assert.Zero(t, j.Snapshot().Len())

	require.NoError(t, j.Update(func(d *Draft) error { return d.PutStage(a) }))
	snap := j.Snapshot()
	assert.Equal(t, 1, snap.Len())
	assert.Equal(t, uint64(1), snap.Version())
	assert.Zero(t, before.Len(), "old snapshots stay unchanged")
}

func TestDraft_PutStageValidation(t *testing.T) {
	j := New(jobID)
	a, b := newStage(1), newStage(1)
	foreign := newStage(2)
	foreign.JobID = "job-2"

	err := j.Update(func(d *Draft) error {
		require.NoError(t, d.PutStage(a))
		return d.PutStage(b)
	})
	var verr *stage.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), "execution order 1 is already used")

	err = j.Update(func(d *Draft) error { return d.PutStage(foreign) })
	assert.ErrorIs(t, err, stage.ErrValidation)
}

func TestDraft_Dependencies(t *testing.T) {
	a, b, c := newStage(1), newStage(2), newStage(3)
	ab := stage.NewDependency(b.ID, a.ID, true)
	bc := stage.NewDependency(c.ID, b.ID, true)
	j, err := FromRecords(jobID, []stage.Stage{a, b, c}, []stage.Dependency{ab, bc})
	require.NoError(t, err)

	snap := j.Snapshot()
	assert.Equal(t, []stage.Dependency{ab, bc}, snap.Dependencies())
	ready, err := snap.IsReady(b.ID)
	require.NoError(t, err)
	assert.False(t, ready)
	assert.Equal(t, []stageid.ID{c.ID}, snap.DependentIDs(b.ID))
	assert.Equal(t, 4, snap.NextExecutionOrder())

	err = j.Update(func(d *Draft) error {
		return d.AddDependency(stage.NewDependency(a.ID, c.ID, true))
	})
	assert.ErrorIs(t, err, stage.ErrCycle)

	err = j.Update(func(d *Draft) error {
		_, err := d.RemoveStage(a.ID)
		return err
	})
	var blocked *stage.DeletionBlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, []stageid.ID{b.ID}, blocked.Dependents)

	var removed []stage.Dependency
	require.NoError(t, j.Update(func(d *Draft) error {
		var err error
		removed, err = d.RemoveStage(c.ID)
		return err
	}))
	assert.Equal(t, []stage.Dependency{bc}, removed)
	_, ok := j.Snapshot().DependencyByID(bc.ID)
	assert.False(t, ok)
}

func TestDraft_ReplacingEdgeKeepsOneRecord(t *testing.T) {
	a, b := newStage(1), newStage(2)
	j, err := FromRecords(jobID, []stage.Stage{a, b}, []stage.Dependency{stage.NewDependency(b.ID, a.ID, true)})
	require.NoError(t, err)

	advisory := stage.NewDependency(b.ID, a.ID, false)
	require.NoError(t, j.Update(func(d *Draft) error { return d.AddDependency(advisory) }))

	deps := j.Snapshot().Dependencies()
	require.Len(t, deps, 1)
	assert.Equal(t, advisory, deps[0])
	ready, err := j.Snapshot().IsReady(b.ID)
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestFromRecords_RejectsForeignStages(t *testing.T) {
	a := newStage(1)
	_, err := FromRecords(jobID, []stage.Stage{a}, []stage.Dependency{stage.NewDependency(a.ID, stageid.New(), true)})
	assert.ErrorIs(t, err, stage.ErrValidation)
}

func TestUpdate_ConcurrentWritersAreSerialised(t *testing.T) {
	j := New(jobID)
	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := j.Update(func(d *Draft) error {
				st := newStage(d.NextExecutionOrder())
				return d.PutStage(st)
			})
			if err != nil {
				t.Errorf("update: %v", err)
			}
			_ = j.Snapshot().Stages()
		}()
	}
	wg.Wait()

	snap := j.Snapshot()
	assert.Equal(t, 50, snap.Len())
	assert.Equal(t, uint64(50), snap.Version())
	for i, st := range snap.Stages() {
		assert.Equal(t, i+1, st.ExecutionOrder)
	}
}

func TestLinks(t *testing.T) {
	a, b := newStage(1), newStage(2)
	remote := Link{StageID: stageid.New(), JobID: "job-2"}
	dep := stage.NewDependency(a.ID, remote.StageID, true)

	j, err := FromRecords(jobID, []stage.Stage{a, b}, []stage.Dependency{dep}, remote)
	require.NoError(t, err)

	snap := j.Snapshot()
	assert.Equal(t, []Link{remote}, snap.Links())
	assert.Equal(t, 2, snap.Len(), "links are not stages")
	assert.Equal(t, []Link{remote}, snap.LinkedRequires(a.ID, true))
	assert.Empty(t, snap.Requires(a.ID, true))
	blocking, err := snap.Blocking(a.ID)
	require.NoError(t, err)
	assert.Equal(t, []stageid.ID{remote.StageID}, blocking)

	t.Run("completing the link unblocks", func(t *testing.T) {
		require.NoError(t, j.Update(func(d *Draft) error {
			assert.False(t, d.CompleteLink(stageid.New()))
			assert.True(t, d.CompleteLink(remote.StageID))
			return nil
		}))
		ready, err := j.Snapshot().IsReady(a.ID)
		require.NoError(t, err)
		assert.True(t, ready)
	})

	t.Run("topological order skips links", func(t *testing.T) {
		stages, err := j.Snapshot().TopologicalStages()
		require.NoError(t, err)
		assert.Len(t, stages, 2)
	})

	t.Run("removing the last dependency forgets the link", func(t *testing.T) {
		require.NoError(t, j.Update(func(d *Draft) error {
			_, err := d.RemoveDependency(dep.ID)
			return err
		}))
		_, ok := j.Snapshot().Link(remote.StageID)
		assert.False(t, ok)
	})

	t.Run("invalid links", func(t *testing.T) {
		err := j.Update(func(d *Draft) error { return d.PutLink(Link{StageID: a.ID, JobID: "job-2"}) })
		assert.ErrorIs(t, err, stage.ErrValidation)
		err = j.Update(func(d *Draft) error { return d.PutLink(Link{StageID: stageid.New(), JobID: jobID}) })
		assert.ErrorIs(t, err, stage.ErrValidation)
	})

	t.Run("a dependency between two links is rejected", func(t *testing.T) {
		x, y := Link{StageID: stageid.New(), JobID: "job-2"}, Link{StageID: stageid.New(), JobID: "job-3"}
		err := j.Update(func(d *Draft) error {
			require.NoError(t, d.PutLink(x))
			require.NoError(t, d.PutLink(y))
			return d.AddDependency(stage.NewDependency(x.StageID, y.StageID, true))
		})
		assert.ErrorIs(t, err, stage.ErrValidation)
	})
}

func TestRemoveStage_ForgetsLinkOfRemovedDependency(t *testing.T) {
	a := newStage(1)
	remote := Link{StageID: stageid.New(), JobID: "job-2"}
	j, err := FromRecords(jobID, []stage.Stage{a}, []stage.Dependency{stage.NewDependency(a.ID, remote.StageID, true)}, remote)
	require.NoError(t, err)

	require.NoError(t, j.Update(func(d *Draft) error {
		_, err := d.RemoveStage(a.ID)
		return err
	}))
	assert.Empty(t, j.Snapshot().Links())
}

func TestUpdateAll(t *testing.T) {
	one, two := New("job-1"), New("job-2")
	a := newStage(1)
	b := newStage(1)
	b.JobID = "job-2"

	err := UpdateAll([]*Job{two, one, two}, func(drafts map[stageid.JobID]*Draft) error {
		require.Len(t, drafts, 2)
		require.NoError(t, drafts["job-1"].PutStage(a))
		require.NoError(t, drafts["job-2"].PutStage(b))
		return errors.New("persistence failed")
	})
	require.Error(t, err)
	assert.Zero(t, one.Snapshot().Len())
	assert.Zero(t, two.Snapshot().Len())

	require.NoError(t, UpdateAll([]*Job{two, one}, func(drafts map[stageid.JobID]*Draft) error {
		if err := drafts["job-1"].PutStage(a); err != nil {
			return err
		}
		return drafts["job-2"].PutStage(b)
	}))
	assert.Equal(t, 1, one.Snapshot().Len())
	assert.Equal(t, uint64(1), two.Snapshot().Version())

	t.Run("opposite orders do not deadlock", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				assert.NoError(t, UpdateAll([]*Job{one, two}, func(map[stageid.JobID]*Draft) error { return nil }))
			}()
			go func() {
				defer wg.Done()
				assert.NoError(t, UpdateAll([]*Job{two, one}, func(map[stageid.JobID]*Draft) error { return nil }))
			}()
		}
		wg.Wait()
		assert.Equal(t, uint64(101), one.Snapshot().Version())
	})
}
