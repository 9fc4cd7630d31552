// Package stage defines the data model of the scheduling engine: stages,
// dependencies, the closed set of lifecycle statuses with their transition
// table, and the typed errors every other package returns.
package stage

import (
	"time"

	"github.com/specialistvlad/stagegrid/internal/stageid"
)

// Stage is one schedulable unit of work within a job.
type Stage struct {
	ID    stageid.ID    `json:"id" yaml:"id" validate:"required"`
	JobID stageid.JobID `json:"job_id" yaml:"job_id" validate:"required"`
	// Name is the stage type within the job, e.g. "print" or "inspect".
	Name string `json:"name" yaml:"name" validate:"required,max=128"`
	// Resource is the department or machine the stage books.
	Resource       string    `json:"resource" yaml:"resource" validate:"required,max=128"`
	ScheduledStart time.Time `json:"scheduled_start" yaml:"scheduled_start" validate:"required"`
	ScheduledEnd   time.Time `json:"scheduled_end" yaml:"scheduled_end" validate:"required,gtfield=ScheduledStart"`
	EstimatedHours float64   `json:"estimated_hours" yaml:"estimated_hours" validate:"finite,gte=0"`
	Status         Status    `json:"status" yaml:"status" validate:"required"`
	ExecutionOrder int       `json:"execution_order" yaml:"execution_order" validate:"gte=1"`
	// Progress is meaningful only while the stage is InProgress.
	Progress   float64  `json:"progress" yaml:"progress" validate:"finite,gte=0,lte=100"`
	Priority   int      `json:"priority" yaml:"priority"`
	ActualCost *float64 `json:"actual_cost,omitempty" yaml:"actual_cost,omitempty" validate:"omitempty,finite,gte=0"`

	Operator    string     `json:"operator,omitempty" yaml:"operator,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty" yaml:"cancelled_at,omitempty"`
}

// Duration is the length of the scheduled window.
func (s Stage) Duration() time.Duration {
	return s.ScheduledEnd.Sub(s.ScheduledStart)
}

// Started reports whether the stage ever entered InProgress.
func (s Stage) Started() bool {
	return s.StartedAt != nil
}

// Clone returns a deep copy; pointer fields are not shared with s.
func (s Stage) Clone() Stage {
	c := s
	if s.ActualCost != nil {
		v := *s.ActualCost
		c.ActualCost = &v
	}
	c.StartedAt = cloneTime(s.StartedAt)
	c.CompletedAt = cloneTime(s.CompletedAt)
	c.CancelledAt = cloneTime(s.CancelledAt)
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// ByExecutionOrder sorts stages by their execution order.
func ByExecutionOrder(a, b Stage) int {
	return a.ExecutionOrder - b.ExecutionOrder
}
