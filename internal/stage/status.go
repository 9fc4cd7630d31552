package stage

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a stage.
//
// The zero value is StatusUnknown and is never a valid persisted state.
type Status uint8

const (
	// StatusUnknown is the zero value; it appears only for corrupt or
	// uninitialised records.
	StatusUnknown Status = iota
	// StatusScheduled is the initial state: the stage has a time window but
	// some mandatory dependency may still be outstanding.
	StatusScheduled
	// StatusReady means every mandatory dependency is Completed and the stage
	// has not started.
	StatusReady
	// StatusInProgress means an operator started the stage.
	StatusInProgress
	// StatusCompleted is terminal.
	StatusCompleted
	// StatusCancelled is terminal.
	StatusCancelled
)

var statusNames = [...]string{
	StatusUnknown:    "Unknown",
	StatusScheduled:  "Scheduled",
	StatusReady:      "Ready",
	StatusInProgress: "InProgress",
	StatusCompleted:  "Completed",
	StatusCancelled:  "Cancelled",
}

// transitions is the complete table of legal status moves. Anything absent
// is illegal.
var transitions = map[Status][]Status{
	StatusScheduled:  {StatusReady, StatusInProgress, StatusCancelled},
	StatusReady:      {StatusScheduled, StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

// AllStatuses lists the valid statuses in lifecycle order.
func AllStatuses() []Status {
	return []Status{StatusScheduled, StatusReady, StatusInProgress, StatusCompleted, StatusCancelled}
}

// String implements fmt.Stringer.
func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Valid reports whether s is one of the five lifecycle states.
func (s Status) Valid() bool {
	return s >= StatusScheduled && s <= StatusCancelled
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// IsPreExecution reports whether the stage has not started yet.
func (s Status) IsPreExecution() bool {
	return s == StatusScheduled || s == StatusReady
}

// OccupiesResource reports whether a stage in this status books its resource
// for its scheduled window.
func (s Status) OccupiesResource() bool {
	return s == StatusScheduled || s == StatusReady || s == StatusInProgress
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseStatus accepts the canonical names case-insensitively, plus the
// snake and kebab spellings of InProgress.
func ParseStatus(s string) (Status, error) {
	norm := strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.TrimSpace(s)))
	for _, st := range AllStatuses() {
		if strings.ToLower(st.String()) == norm {
			return st, nil
		}
	}
	return StatusUnknown, fmt.Errorf("unknown stage status %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	st, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = st
	return nil
}
