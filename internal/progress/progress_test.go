package progress

import (
	"testing"
	"time"

	"github.com/specialistvlad/stagegrid/internal/stage"
	"github.com/stretchr/testify/assert"
)

var base = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func st(hours float64, status stage.Status, progress float64, from, to int) stage.Stage {
	return stage.Stage{
		EstimatedHours: hours,
		Status:         status,
		Progress:       progress,
		ScheduledStart: base.Add(time.Duration(from) * time.Hour),
		ScheduledEnd:   base.Add(time.Duration(to) * time.Hour),
	}
}

func TestJobCompletionPercent(t *testing.T) {
	testCases := []struct {
		name   string
		stages []stage.Stage
		want   float64
	}{
		{
			name: "weighted mix",
			stages: []stage.Stage{
				st(2, stage.StatusCompleted, 100, 0, 2),
				st(3, stage.StatusInProgress, 50, 2, 5),
				st(1, stage.StatusScheduled, 0, 5, 6),
			},
			want: 58.333333,
		},
		{name: "no stages", want: 0},
		{name: "zero weight", stages: []stage.Stage{st(0, stage.StatusCompleted, 100, 0, 1)}, want: 0},
		{
			name: "cancelled counts as weight without progress",
			stages: []stage.Stage{
				st(1, stage.StatusCompleted, 100, 0, 1),
				st(1, stage.StatusCancelled, 0, 1, 2),
			},
			want: 50,
		},
		{
			name:   "progress outside a running stage is ignored",
			stages: []stage.Stage{st(4, stage.StatusReady, 80, 0, 4)},
			want:   0,
		},
		{
			name:   "all completed",
			stages: []stage.Stage{st(2, stage.StatusCompleted, 100, 0, 2), st(1, stage.StatusCompleted, 100, 2, 3)},
			want:   100,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, JobCompletionPercent(tc.stages), 0.001)
		})
	}
}

func TestJobDuration(t *testing.T) {
	assert.Zero(t, JobDuration(nil))
	stages := []stage.Stage{
		st(1, stage.StatusScheduled, 0, 5, 6),
		st(2, stage.StatusScheduled, 0, 0, 2),
		st(3, stage.StatusScheduled, 0, 2, 9),
	}
	assert.Equal(t, 9*time.Hour, JobDuration(stages))
}

func TestSummarize(t *testing.T) {
	cost := 40.0
	done := st(2, stage.StatusCompleted, 100, 0, 2)
	done.ActualCost = &cost
	sum := Summarize([]stage.Stage{
		done,
		st(3, stage.StatusInProgress, 50, 2, 5),
		st(1, stage.StatusScheduled, 0, 5, 6),
	})

	assert.Equal(t, 3, sum.Stages)
	assert.Equal(t, 1, sum.ByStatus[stage.StatusCompleted])
	assert.Equal(t, 1, sum.ByStatus[stage.StatusInProgress])
	assert.Equal(t, 6.0, sum.EstimatedHours)
	assert.Equal(t, 40.0, sum.ActualCost)
	assert.Equal(t, base, sum.Start)
	assert.Equal(t, 6*time.Hour, sum.Duration)
	assert.InDelta(t, 58.33, sum.CompletionPercent, 0.01)
	assert.False(t, sum.Done())

	assert.True(t, Summarize([]stage.Stage{done}).Done())
	assert.False(t, Summarize(nil).Done())
}
