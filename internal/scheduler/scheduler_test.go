package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/specialistvlad/stagegrid/internal/job"
	"github.com/specialistvlad/stagegrid/internal/stage"
	"github.com/specialistvlad/stagegrid/internal/stageid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sourceFunc func(ctx context.Context, jobID stageid.JobID) (*job.State, error)

func (f sourceFunc) Snapshot(ctx context.Context, jobID stageid.JobID) (*job.State, error) {
	return f(ctx, jobID)
}

func newStage(order int, status stage.Status, priority int) stage.Stage {
	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC).Add(time.Duration(order) * time.Hour)
	return stage.Stage{
		ID:             stageid.New(),
		JobID:          "job-1",
		Name:           "step",
		Resource:       "printing",
		ScheduledStart: start,
		ScheduledEnd:   start.Add(time.Hour),
		EstimatedHours: 1,
		Status:         status,
		ExecutionOrder: order,
		Priority:       priority,
	}
}

func TestReadyStages(t *testing.T) {
	done := newStage(1, stage.StatusCompleted, 0)
	unblocked := newStage(2, stage.StatusScheduled, 0)
	blocked := newStage(3, stage.StatusScheduled, 0)
	running := newStage(4, stage.StatusInProgress, 0)
	free := newStage(5, stage.StatusReady, 3)

	j, err := job.FromRecords("job-1",
		[]stage.Stage{done, unblocked, blocked, running, free},
		[]stage.Dependency{
			stage.NewDependency(unblocked.ID, done.ID, true),
			stage.NewDependency(blocked.ID, unblocked.ID, true),
		})
	require.NoError(t, err)

	s := New(sourceFunc(func(context.Context, stageid.JobID) (*job.State, error) { return j.Snapshot(), nil }))

	ready, err := s.ReadyStages(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, ready, 2)
	assert.Equal(t, unblocked.ID, ready[0].ID)
	assert.Equal(t, free.ID, ready[1].ID)

	next, ok, err := s.Next(context.Background(), "job-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, free.ID, next.ID, "higher priority wins")
}

func TestNext_NothingReady(t *testing.T) {
	s := New(sourceFunc(func(_ context.Context, id stageid.JobID) (*job.State, error) { return job.New(id).Snapshot(), nil }))
	_, ok, err := s.Next(context.Background(), "job-empty")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReadyStages_PropagatesSourceError(t *testing.T) {
	boom := errors.New("store offline")
	s := New(sourceFunc(func(context.Context, stageid.JobID) (*job.State, error) { return nil, boom }))
	_, err := s.ReadyStages(context.Background(), "job-1")
	assert.ErrorIs(t, err, boom)
}
