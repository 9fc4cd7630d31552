package conflict

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/specialistvlad/stagegrid/internal/stage"
	"github.com/specialistvlad/stagegrid/internal/stageid"
	"github.com/specialistvlad/stagegrid/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(hour int) time.Time { return day.Add(time.Duration(hour) * time.Hour) }

func booked(resource string, from, to int, status stage.Status) stage.Stage {
	return stage.Stage{
		ID:             stageid.New(),
		JobID:          "job-existing",
		Name:           "machine",
		Resource:       resource,
		ScheduledStart: at(from),
		ScheduledEnd:   at(to),
		EstimatedHours: float64(to - from),
		Status:         status,
		ExecutionOrder: 1,
	}
}

func staticBookings(stages ...stage.Stage) Bookings {
	return BookingsFunc(func(_ context.Context, resource string) ([]stage.Stage, error) {
		var out []stage.Stage
		for _, s := range stages {
			if s.Resource == resource {
				out = append(out, s)
			}
		}
		return out, nil
	})
}

func kinds(conflicts []Conflict) []Kind {
	out := make([]Kind, len(conflicts))
	for i, c := range conflicts {
		out[i] = c.Kind
	}
	return out
}

func TestOverlaps(t *testing.T) {
	testCases := []struct {
		name                   string
		aFrom, aTo, bFrom, bTo int
		want                   bool
	}{
		{"partial overlap", 8, 10, 9, 11, true},
		{"touching endpoints", 8, 10, 10, 12, false},
		{"containment", 8, 12, 9, 10, true},
		{"disjoint", 8, 9, 11, 12, false},
		{"identical", 8, 10, 8, 10, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Overlaps(at(tc.aFrom), at(tc.aTo), at(tc.bFrom), at(tc.bTo)))
			assert.Equal(t, tc.want, Overlaps(at(tc.bFrom), at(tc.bTo), at(tc.aFrom), at(tc.aTo)), "must be symmetric")
		})
	}
}

func TestFindConflicts_ResourceOverlap(t *testing.T) {
	a := booked("M1", 8, 10, stage.StatusScheduled)
	d := NewDetector(nil, staticBookings(a), nil)
	ctx := context.Background()

	found, err := d.FindConflicts(ctx, Candidate{StageID: stageid.New(), Resource: "M1", Start: at(9), End: at(11)})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, KindResourceOverlap, found[0].Kind)
	assert.Equal(t, a.ID, found[0].OtherID)
	assert.Contains(t, found[0].Reason, a.ID.String())

	found, err = d.FindConflicts(ctx, Candidate{StageID: stageid.New(), Resource: "M1", Start: at(10), End: at(12)})
	require.NoError(t, err)
	assert.Empty(t, found, "touching intervals do not conflict")

	found, err = d.FindConflicts(ctx, Candidate{StageID: stageid.New(), Resource: "M2", Start: at(9), End: at(11)})
	require.NoError(t, err)
	assert.Empty(t, found, "other resources are independent")
}

func TestFindConflicts_IgnoresFinishedAndSelf(t *testing.T) {
	done := booked("M1", 8, 10, stage.StatusCompleted)
	cancelled := booked("M1", 8, 10, stage.StatusCancelled)
	self := booked("M1", 8, 10, stage.StatusReady)
	d := NewDetector(nil, staticBookings(done, cancelled, self), nil)

	found, err := d.FindConflicts(context.Background(), Candidate{StageID: self.ID, Resource: "M1", Start: at(9), End: at(11)})
	require.NoError(t, err)
	assert.Empty(t, found)

	running := booked("M1", 8, 10, stage.StatusInProgress)
	d = NewDetector(nil, staticBookings(running), nil)
	found, err = d.FindConflicts(context.Background(), Candidate{Resource: "M1", Start: at(9), End: at(11)})
	require.NoError(t, err)
	assert.Equal(t, []Kind{KindResourceOverlap}, kinds(found))
}

func TestFindConflicts_DependencyTiming(t *testing.T) {
	required := booked("printing", 8, 11, stage.StatusScheduled)
	dependent := booked("inspection", 12, 13, stage.StatusScheduled)
	d := NewDetector(nil, staticBookings(), nil)

	found, err := d.FindConflicts(context.Background(), Candidate{
		StageID:    stageid.New(),
		Resource:   "coating",
		Start:      at(10),
		End:        at(13),
		Requires:   []stage.Stage{required},
		RequiredBy: []stage.Stage{dependent},
	})
	require.NoError(t, err)
	assert.Equal(t, []Kind{KindDependencyTiming, KindDependencyTiming}, kinds(found))
	assert.Equal(t, required.ID, found[0].OtherID)
	assert.Equal(t, dependent.ID, found[1].OtherID)

	found, err = d.FindConflicts(context.Background(), Candidate{
		Resource:   "coating",
		Start:      at(11),
		End:        at(12),
		Requires:   []stage.Stage{required},
		RequiredBy: []stage.Stage{dependent},
	})
	require.NoError(t, err)
	assert.Empty(t, found, "end == start of the next stage is allowed")
}

func TestFindConflicts_UnavailableResourceSkipsOverlap(t *testing.T) {
	dir := NewStaticDirectory(map[string]bool{"M1": false}, false)
	d := NewDetector(dir, staticBookings(booked("M1", 8, 10, stage.StatusScheduled)), nil)

	found, err := d.FindConflicts(context.Background(), Candidate{Resource: "M1", Start: at(9), End: at(11)})
	require.NoError(t, err)
	assert.Equal(t, []Kind{KindResourceUnavailable}, kinds(found))

	dir.SetAvailable("M1", true)
	found, err = d.FindConflicts(context.Background(), Candidate{Resource: "M1", Start: at(9), End: at(11)})
	require.NoError(t, err)
	assert.Equal(t, []Kind{KindResourceOverlap}, kinds(found))
}

func TestFindConflicts_InvalidWindowAndErrors(t *testing.T) {
	d := NewDetector(nil, nil, nil)
	found, err := d.FindConflicts(context.Background(), Candidate{Resource: "M1", Start: at(10), End: at(10)})
	require.NoError(t, err)
	assert.Equal(t, []Kind{KindInvalidWindow}, kinds(found))

	boom := errors.New("directory offline")
	d = NewDetector(failingDirectory{boom}, nil, nil)
	_, err = d.FindConflicts(context.Background(), Candidate{Resource: "M1", Start: at(9), End: at(10)})
	assert.ErrorIs(t, err, boom)
}

func TestFindConflictsAll_ChecksCandidatesAgainstEachOther(t *testing.T) {
	d := NewDetector(nil, staticBookings(), nil)
	found, err := d.FindConflictsAll(context.Background(), []Candidate{
		{StageID: stageid.New(), Resource: "M1", Start: at(8), End: at(10)},
		{StageID: stageid.New(), Resource: "M1", Start: at(9), End: at(11)},
		{StageID: stageid.New(), Resource: "M2", Start: at(9), End: at(11)},
	})
	require.NoError(t, err)
	assert.Equal(t, []Kind{KindResourceOverlap}, kinds(found))
}

func TestValidateSchedule(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	d := NewDetector(nil, staticBookings(booked("M1", 8, 10, stage.StatusScheduled)), metrics)

	reasons, err := d.ValidateSchedule(context.Background(), Candidate{Resource: "M1", Start: at(10), End: at(12)})
	require.NoError(t, err)
	assert.Nil(t, reasons)

	reasons, err = d.ValidateSchedule(context.Background(), Candidate{Resource: "M1", Start: at(7), End: at(9)})
	require.NoError(t, err)
	require.Len(t, reasons, 1)
	assert.Contains(t, reasons[0], `resource "M1" is booked`)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "stagegrid_conflicts_detected_total", families[0].GetName())
}

func TestAsError(t *testing.T) {
	assert.NoError(t, AsError("x", "M1", nil))

	err := AsError("x", "M1", []Conflict{{Reason: "one"}, {Reason: "two"}})
	var rc *stage.ResourceConflictError
	require.ErrorAs(t, err, &rc)
	assert.Equal(t, []string{"one", "two"}, rc.Reasons)
	assert.ErrorIs(t, err, stage.ErrResourceConflict)

	t.Run("invalid window alone is a validation error", func(t *testing.T) {
		err := AsError("x", "M1", []Conflict{{Kind: KindInvalidWindow, Reason: "bad window"}})
		var verr *stage.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, []string{"bad window"}, verr.Problems)
		assert.NotErrorIs(t, err, stage.ErrResourceConflict)
	})

	t.Run("invalid window with a real conflict stays a conflict", func(t *testing.T) {
		err := AsError("x", "M1", []Conflict{
			{Kind: KindInvalidWindow, Reason: "bad window"},
			{Kind: KindResourceUnavailable, Reason: "offline"},
		})
		var rc *stage.ResourceConflictError
		require.ErrorAs(t, err, &rc)
		assert.Equal(t, []string{"bad window", "offline"}, rc.Reasons)
	})
}

func TestStaticDirectory_Strict(t *testing.T) {
	ctx := context.Background()
	open := NewStaticDirectory(nil, false)
	ok, err := open.IsResourceAvailable(ctx, "anything")
	require.NoError(t, err)
	assert.True(t, ok)

	strict := NewStaticDirectory(map[string]bool{"M1": true}, true)
	ok, _ = strict.IsResourceAvailable(ctx, "M1")
	assert.True(t, ok)
	ok, _ = strict.IsResourceAvailable(ctx, "M2")
	assert.False(t, ok)
}

func TestStaticDirectory_Replace(t *testing.T) {
	ctx := context.Background()
	d := NewStaticDirectory(map[string]bool{"M1": true}, true)
	d.Replace(map[string]bool{"M2": true})

	ok, _ := d.IsResourceAvailable(ctx, "M1")
	assert.False(t, ok, "M1 is no longer declared")
	ok, _ = d.IsResourceAvailable(ctx, "M2")
	assert.True(t, ok)
}

type failingDirectory struct{ err error }

func (f failingDirectory) IsResourceAvailable(context.Context, string) (bool, error) {
	return false, f.err
}
