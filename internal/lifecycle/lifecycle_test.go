package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/specialistvlad/stagegrid/internal/job"
	"github.com/specialistvlad/stagegrid/internal/stage"
	"github.com/specialistvlad/stagegrid/internal/stageid"
	"github.com/specialistvlad/stagegrid/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jobID stageid.JobID = "job-1"

var fixedNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

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

// fixture builds a job where c depends on a and b (both mandatory) and
// returns the job and the three stages.
func fixture(t *testing.T) (*job.Job, stage.Stage, stage.Stage, stage.Stage) {
	t.Helper()
	a, b, c := newStage(1), newStage(2), newStage(3)
	j, err := job.FromRecords(jobID, []stage.Stage{a, b, c}, []stage.Dependency{
		stage.NewDependency(c.ID, a.ID, true),
		stage.NewDependency(c.ID, b.ID, true),
	})
	require.NoError(t, err)
	return j, a, b, c
}

func apply(t *testing.T, j *job.Job, fn func(d *job.Draft) (Result, error)) (Result, error) {
	t.Helper()
	var res Result
	err := j.Update(func(d *job.Draft) error {
		var err error
		res, err = fn(d)
		return err
	})
	return res, err
}

func status(t *testing.T, j *job.Job, id stageid.ID) stage.Status {
	t.Helper()
	st, ok := j.Snapshot().Stage(id)
	require.True(t, ok)
	return st.Status
}

func TestStart(t *testing.T) {
	ctrl := New(WithClock(func() time.Time { return fixedNow }))
	ctx := context.Background()
	j, a, _, c := fixture(t)

	t.Run("blocked stage is rejected", func(t *testing.T) {
		_, err := apply(t, j, func(d *job.Draft) (Result, error) { return ctrl.Start(ctx, d, c.ID, "ana") })
		var dns *stage.DependencyNotSatisfiedError
		require.ErrorAs(t, err, &dns)
		assert.Len(t, dns.Blocking, 2)
		assert.Equal(t, stage.StatusScheduled, status(t, j, c.ID))
	})

	t.Run("root stage starts", func(t *testing.T) {
		res, err := apply(t, j, func(d *job.Draft) (Result, error) { return ctrl.Start(ctx, d, a.ID, "ana") })
		require.NoError(t, err)
		require.Len(t, res.Changed, 1)
		got := res.Changed[0]
		assert.Equal(t, stage.StatusInProgress, got.Status)
		assert.Equal(t, "ana", got.Operator)
		require.NotNil(t, got.StartedAt)
		assert.Equal(t, fixedNow, *got.StartedAt)
		assert.Equal(t, []Transition{{StageID: a.ID, From: stage.StatusScheduled, To: stage.StatusInProgress}}, res.Transitions)
	})

	t.Run("second start names the current state", func(t *testing.T) {
		_, err := apply(t, j, func(d *job.Draft) (Result, error) { return ctrl.Start(ctx, d, a.ID, "ana") })
		var it *stage.InvalidTransitionError
		require.ErrorAs(t, err, &it)
		assert.Equal(t, stage.StatusInProgress, it.From)
		assert.Contains(t, it.Error(), "already InProgress")
	})

	t.Run("unknown stage", func(t *testing.T) {
		_, err := apply(t, j, func(d *job.Draft) (Result, error) { return ctrl.Start(ctx, d, stageid.New(), "") })
		assert.ErrorIs(t, err, stage.ErrNotFound)
	})
}

func TestComplete_PromotesOnlyFullyUnblockedDependents(t *testing.T) {
	ctrl := New()
	ctx := context.Background()
	j, a, b, c := fixture(t)

	run := func(id stageid.ID) Result {
		_, err := apply(t, j, func(d *job.Draft) (Result, error) { return ctrl.Start(ctx, d, id, "op") })
		require.NoError(t, err)
		res, err := apply(t, j, func(d *job.Draft) (Result, error) { return ctrl.Complete(ctx, d, id, 10) })
		require.NoError(t, err)
		return res
	}

	res := run(a.ID)
	assert.Len(t, res.Changed, 1)
	assert.Equal(t, stage.StatusScheduled, status(t, j, c.ID), "c still waits for b")

	completedA, _ := j.Snapshot().Stage(a.ID)
	assert.Equal(t, 100.0, completedA.Progress)
	require.NotNil(t, completedA.ActualCost)
	assert.Equal(t, 10.0, *completedA.ActualCost)

	res = run(b.ID)
	require.Len(t, res.Changed, 2)
	assert.Equal(t, c.ID, res.Changed[1].ID)
	assert.Equal(t, stage.StatusReady, status(t, j, c.ID))

	_, err := apply(t, j, func(d *job.Draft) (Result, error) { return ctrl.Complete(ctx, d, b.ID, 1) })
	var it *stage.InvalidTransitionError
	require.ErrorAs(t, err, &it)
	assert.Contains(t, it.Error(), "already Completed")
}

func TestComplete_RequiresInProgress(t *testing.T) {
	ctrl := New()
	j, a, _, _ := fixture(t)
	_, err := apply(t, j, func(d *job.Draft) (Result, error) { return ctrl.Complete(context.Background(), d, a.ID, 0) })
	assert.ErrorIs(t, err, stage.ErrInvalidTransition)

	_, err = apply(t, j, func(d *job.Draft) (Result, error) { return ctrl.Start(context.Background(), d, a.ID, "") })
	require.NoError(t, err)
	_, err = apply(t, j, func(d *job.Draft) (Result, error) { return ctrl.Complete(context.Background(), d, a.ID, -1) })
	assert.ErrorIs(t, err, stage.ErrValidation)
}

func TestUpdateProgress(t *testing.T) {
	ctrl := New()
	ctx := context.Background()
	j, a, _, _ := fixture(t)

	_, err := apply(t, j, func(d *job.Draft) (Result, error) { return ctrl.UpdateProgress(ctx, d, a.ID, 10) })
	assert.ErrorIs(t, err, stage.ErrInvalidTransition)

	_, err = apply(t, j, func(d *job.Draft) (Result, error) { return ctrl.Start(ctx, d, a.ID, "") })
	require.NoError(t, err)

	for _, tc := range []struct{ in, want float64 }{{42, 42}, {-5, 0}, {250, 100}} {
		res, err := apply(t, j, func(d *job.Draft) (Result, error) { return ctrl.UpdateProgress(ctx, d, a.ID, tc.in) })
		require.NoError(t, err)
		assert.Equal(t, tc.want, res.Changed[0].Progress)
		assert.Empty(t, res.Transitions)
	}
	assert.Equal(t, stage.StatusInProgress, status(t, j, a.ID), "100 percent does not complete")
}

func TestCancel_DoesNotCascade(t *testing.T) {
	ctrl := New()
	ctx := context.Background()
	j, a, _, c := fixture(t)

	res, err := apply(t, j, func(d *job.Draft) (Result, error) { return ctrl.Cancel(ctx, d, a.ID) })
	require.NoError(t, err)
	require.Len(t, res.Changed, 1)
	assert.NotNil(t, res.Changed[0].CancelledAt)
	assert.Equal(t, stage.StatusScheduled, status(t, j, c.ID))

	_, err = apply(t, j, func(d *job.Draft) (Result, error) { return ctrl.Cancel(ctx, d, a.ID) })
	var it *stage.InvalidTransitionError
	require.ErrorAs(t, err, &it)
	assert.Contains(t, it.Error(), "already Cancelled")

	_, err = apply(t, j, func(d *job.Draft) (Result, error) { return ctrl.Start(ctx, d, c.ID, "") })
	assert.ErrorIs(t, err, stage.ErrDependencyNotSatisfied)
}

func TestPromoteReadyAndReconcile(t *testing.T) {
	ctrl := New()
	ctx := context.Background()
	j, a, b, c := fixture(t)

	res, err := apply(t, j, func(d *job.Draft) (Result, error) { return ctrl.PromoteReady(ctx, d) })
	require.NoError(t, err)
	require.Len(t, res.Changed, 2)
	assert.Equal(t, a.ID, res.Changed[0].ID)
	assert.Equal(t, b.ID, res.Changed[1].ID)
	assert.Equal(t, stage.StatusScheduled, status(t, j, c.ID))

	// b gains a new mandatory dependency on a, so it is no longer ready.
	res, err = apply(t, j, func(d *job.Draft) (Result, error) {
		if err := d.AddDependency(stage.NewDependency(b.ID, a.ID, true)); err != nil {
			return Result{}, err
		}
		return ctrl.Reconcile(ctx, d, b.ID)
	})
	require.NoError(t, err)
	assert.Equal(t, []Transition{{StageID: b.ID, From: stage.StatusReady, To: stage.StatusScheduled}}, res.Transitions)

	// Removing it again lets b become ready.
	res, err = apply(t, j, func(d *job.Draft) (Result, error) {
		dep, _ := d.Dependency(b.ID, a.ID)
		if _, err := d.RemoveDependency(dep.ID); err != nil {
			return Result{}, err
		}
		return ctrl.Reconcile(ctx, d, b.ID)
	})
	require.NoError(t, err)
	assert.Equal(t, stage.StatusReady, status(t, j, b.ID))
}

func TestObserve_CountsTransitions(t *testing.T) {
	reg := prometheus.NewRegistry()
	ctrl := New(WithMetrics(telemetry.NewMetrics(reg)))
	ctrl.Observe(context.Background(), Result{Transitions: []Transition{
		{From: stage.StatusScheduled, To: stage.StatusReady},
		{From: stage.StatusScheduled, To: stage.StatusReady},
	}})

	count, err := promtest.GatherAndCount(reg, "stagegrid_stage_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// TestComplete_ConcurrentCompletionsPromoteOnce completes two required stages
// in parallel and checks the shared dependent is promoted exactly once.
func TestComplete_ConcurrentCompletionsPromoteOnce(t *testing.T) {
	ctrl := New()
	ctx := context.Background()
	for round := 0; round < 20; round++ {
		j, a, b, c := fixture(t)
		for _, id := range []stageid.ID{a.ID, b.ID} {
			_, err := apply(t, j, func(d *job.Draft) (Result, error) { return ctrl.Start(ctx, d, id, "") })
			require.NoError(t, err)
		}

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			promoted int
		)
		for _, id := range []stageid.ID{a.ID, b.ID} {
			wg.Add(1)
			go func(id stageid.ID) {
				defer wg.Done()
				var res Result
				err := j.Update(func(d *job.Draft) error {
					var err error
					res, err = ctrl.Complete(ctx, d, id, 0)
					return err
				})
				if err != nil {
					t.Errorf("complete: %v", err)
					return
				}
				mu.Lock()
				defer mu.Unlock()
				for _, tr := range res.Transitions {
					if tr.StageID == c.ID {
						promoted++
					}
				}
			}(id)
		}
		wg.Wait()

		assert.Equal(t, 1, promoted)
		assert.Equal(t, stage.StatusReady, status(t, j, c.ID))
	}
}

func TestLinkCompleted_PromotesDependentsOfAnotherJob(t *testing.T) {
	ctrl := New()
	ctx := context.Background()

	a := newStage(1)
	a.Status = stage.StatusInProgress
	x := newStage(1)
	x.JobID = "job-2"
	dep := stage.NewDependency(x.ID, a.ID, true)

	owner, err := job.FromRecords(jobID, []stage.Stage{a}, []stage.Dependency{dep}, job.Link{StageID: x.ID, JobID: "job-2"})
	require.NoError(t, err)
	waiting, err := job.FromRecords("job-2", []stage.Stage{x}, []stage.Dependency{dep}, job.Link{StageID: a.ID, JobID: jobID})
	require.NoError(t, err)

	res, err := apply(t, owner, func(d *job.Draft) (Result, error) { return ctrl.Complete(ctx, d, a.ID, 1) })
	require.NoError(t, err)
	assert.Len(t, res.Changed, 1, "the dependent of the other job is not touched here")

	res, err = apply(t, waiting, func(d *job.Draft) (Result, error) { return ctrl.LinkCompleted(ctx, d, a.ID) })
	require.NoError(t, err)
	require.Len(t, res.Transitions, 1)
	assert.Equal(t, Transition{StageID: x.ID, From: stage.StatusScheduled, To: stage.StatusReady}, res.Transitions[0])
	assert.Equal(t, stage.StatusReady, status(t, waiting, x.ID))

	_, err = apply(t, waiting, func(d *job.Draft) (Result, error) { return ctrl.LinkCompleted(ctx, d, stageid.New()) })
	assert.ErrorIs(t, err, stage.ErrNotFound)
}
