// Package progress aggregates stage state into job-level figures.
package progress

import (
	"time"

	"github.com/specialistvlad/stagegrid/internal/stage"
)

// JobCompletionPercent weights every stage by its estimated hours. A
// Completed stage contributes its full weight, an InProgress stage its weight
// scaled by its progress, anything else nothing. The result is in [0, 100]
// and is 0 when the total weight is 0.
func JobCompletionPercent(stages []stage.Stage) float64 {
	var total, done float64
	for _, s := range stages {
		w := s.EstimatedHours
		if w <= 0 {
			continue
		}
		total += w
		switch s.Status {
		case stage.StatusCompleted:
			done += w
		case stage.StatusInProgress:
			done += w * clamp(s.Progress) / 100
		}
	}
	if total == 0 {
		return 0
	}
	return done / total * 100
}

// JobDuration is the span from the earliest scheduled start to the latest
// scheduled end, or 0 for no stages.
func JobDuration(stages []stage.Stage) time.Duration {
	start, end, ok := Window(stages)
	if !ok {
		return 0
	}
	return end.Sub(start)
}

// Window returns the earliest scheduled start and the latest scheduled end.
func Window(stages []stage.Stage) (start, end time.Time, ok bool) {
	for i, s := range stages {
		if i == 0 || s.ScheduledStart.Before(start) {
			start = s.ScheduledStart
		}
		if i == 0 || s.ScheduledEnd.After(end) {
			end = s.ScheduledEnd
		}
	}
	return start, end, len(stages) > 0
}

// Summary is a point-in-time digest of a job.
type Summary struct {
	Stages            int                  `json:"stages" yaml:"stages"`
	ByStatus          map[stage.Status]int `json:"by_status" yaml:"by_status"`
	CompletionPercent float64              `json:"completion_percent" yaml:"completion_percent"`
	EstimatedHours    float64              `json:"estimated_hours" yaml:"estimated_hours"`
	ActualCost        float64              `json:"actual_cost" yaml:"actual_cost"`
	Start             time.Time            `json:"start,omitzero" yaml:"start,omitempty"`
	End               time.Time            `json:"end,omitzero" yaml:"end,omitempty"`
	Duration          time.Duration        `json:"duration" yaml:"duration"`
}

// Done reports whether every stage reached a terminal status.
func (s Summary) Done() bool {
	return s.Stages > 0 && s.ByStatus[stage.StatusCompleted]+s.ByStatus[stage.StatusCancelled] == s.Stages
}

// Summarize computes every figure of a Summary in one pass over stages.
func Summarize(stages []stage.Stage) Summary {
	sum := Summary{
		Stages:            len(stages),
		ByStatus:          make(map[stage.Status]int, len(stage.AllStatuses())),
		CompletionPercent: JobCompletionPercent(stages),
	}
	for _, s := range stages {
		sum.ByStatus[s.Status]++
		sum.EstimatedHours += s.EstimatedHours
		if s.ActualCost != nil {
			sum.ActualCost += *s.ActualCost
		}
	}
	if start, end, ok := Window(stages); ok {
		sum.Start, sum.End, sum.Duration = start, end, end.Sub(start)
	}
	return sum
}

func clamp(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
