package testutil

import (
	"time"

	"github.com/specialistvlad/stagegrid/internal/stage"
	"github.com/specialistvlad/stagegrid/internal/stageid"
	"github.com/specialistvlad/stagegrid/internal/workflow"
)

// Day is the reference date of the fixtures: 2026-03-02 00:00 UTC.
var Day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

// At returns Day at the given hour.
func At(hour int) time.Time { return Day.Add(time.Duration(hour) * time.Hour) }

// StageOption customises a fixture stage.
type StageOption func(*stage.Stage)

// NewStage returns a valid Scheduled stage of job on resource, booked from
// hour from to hour to of Day.
func NewStage(job stageid.JobID, resource string, from, to int, opts ...StageOption) stage.Stage {
	st := stage.Stage{
		ID:             stageid.New(),
		JobID:          job,
		Name:           resource,
		Resource:       resource,
		ScheduledStart: At(from),
		ScheduledEnd:   At(to),
		EstimatedHours: float64(to - from),
		Status:         stage.StatusScheduled,
		ExecutionOrder: 1,
	}
	for _, opt := range opts {
		opt(&st)
	}
	return st
}

// WithStatus sets the status.
func WithStatus(s stage.Status) StageOption {
	return func(st *stage.Stage) { st.Status = s }
}

// WithOrder sets the execution order.
func WithOrder(n int) StageOption {
	return func(st *stage.Stage) { st.ExecutionOrder = n }
}

// WithName sets the name.
func WithName(name string) StageOption {
	return func(st *stage.Stage) { st.Name = name }
}

// ThreeStepCatalog holds a single "bracket" template: print 2h on
// printing, machine 3h on machining, inspect 1h on qa.
func ThreeStepCatalog() *workflow.Catalog {
	c, err := workflow.NewCatalog([]workflow.Template{{
		JobType: "bracket",
		Steps: []workflow.Step{
			{Name: "print", Department: "printing", DurationHours: 2},
			{Name: "machine", Department: "machining", DurationHours: 3},
			{Name: "inspect", Department: "qa", DurationHours: 1},
		},
	}})
	if err != nil {
		panic(err)
	}
	return c
}
