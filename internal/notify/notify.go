// Package notify publishes stage lifecycle events to interested parties.
// Events are sent after the change they describe has been committed; a
// failed publish never undoes a change.
package notify

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/specialistvlad/stagegrid/internal/stageid"
)

// Event types.
const (
	TypeWorkflowCreated   = "workflow.created"
	TypeStageScheduled    = "stage.scheduled"
	TypeStageTransition   = "stage.transition"
	TypeStageProgress     = "stage.progress"
	TypeStageDeleted      = "stage.deleted"
	TypeDependencyAdded   = "dependency.added"
	TypeDependencyRemoved = "dependency.removed"
)

// Event describes one committed change.
type Event struct {
	Type     string        `json:"type"`
	JobID    stageid.JobID `json:"job_id"`
	StageID  stageid.ID    `json:"stage_id,omitempty"`
	From     string        `json:"from,omitempty"`
	To       string        `json:"to,omitempty"`
	Progress float64       `json:"progress,omitempty"`
	Detail   string        `json:"detail,omitempty"`
	At       time.Time     `json:"at"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

// Recorder keeps every event in memory. It is used by tests and by the CLI
// to echo what a command changed.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// OfType returns the recorded events of one type.
func (r *Recorder) OfType(typ string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// Multi fans an event out to several publishers and returns the first error.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, e Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
