package stage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/specialistvlad/stagegrid/internal/stageid"
)

// Sentinel kinds. Every typed error below unwraps to exactly one of them, so
// callers can branch with errors.Is and still reach the details with errors.As.
var (
	ErrCycle                  = errors.New("dependency cycle")
	ErrDependencyNotSatisfied = errors.New("dependency not satisfied")
	ErrResourceConflict       = errors.New("resource conflict")
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrNotFound               = errors.New("not found")
	ErrDeletionBlocked        = errors.New("deletion blocked")
	ErrValidation             = errors.New("validation failed")
)

// CycleError is returned when inserting DependentID -> RequiredID would close
// a cycle. Path lists the existing route from RequiredID back to DependentID.
type CycleError struct {
	DependentID stageid.ID
	RequiredID  stageid.ID
	Path        []stageid.ID
}

func (e *CycleError) Error() string {
	if e.DependentID == e.RequiredID {
		return fmt.Sprintf("stage %s cannot depend on itself", e.DependentID)
	}
	msg := fmt.Sprintf("dependency %s -> %s would create a cycle", e.DependentID, e.RequiredID)
	if len(e.Path) > 0 {
		msg += ": " + joinIDs(e.Path, " -> ")
	}
	return msg
}

func (e *CycleError) Unwrap() error { return ErrCycle }

// DependencyNotSatisfiedError is returned when a stage is started while some
// mandatory required stage has not Completed.
type DependencyNotSatisfiedError struct {
	StageID  stageid.ID
	Blocking []stageid.ID
}

func (e *DependencyNotSatisfiedError) Error() string {
	return fmt.Sprintf("stage %s is blocked by incomplete stages: %s", e.StageID, joinIDs(e.Blocking, ", "))
}

func (e *DependencyNotSatisfiedError) Unwrap() error { return ErrDependencyNotSatisfied }

// ResourceConflictError carries every reason a placement was rejected.
type ResourceConflictError struct {
	StageID  stageid.ID
	Resource string
	Reasons  []string
}

func (e *ResourceConflictError) Error() string {
	return fmt.Sprintf("stage %s cannot be scheduled on %q: %s", e.StageID, e.Resource, strings.Join(e.Reasons, "; "))
}

func (e *ResourceConflictError) Unwrap() error { return ErrResourceConflict }

// InvalidTransitionError reports an illegal lifecycle move. Op names the
// attempted operation ("start", "complete", "delete", ...).
type InvalidTransitionError struct {
	StageID stageid.ID
	Op      string
	From    Status
	To      Status
}

func (e *InvalidTransitionError) Error() string {
	switch {
	case e.From == e.To:
		return fmt.Sprintf("cannot %s stage %s: already %s", e.Op, e.StageID, e.From)
	case e.To == StatusUnknown:
		return fmt.Sprintf("cannot %s stage %s: status is %s", e.Op, e.StageID, e.From)
	default:
		return fmt.Sprintf("cannot %s stage %s: %s -> %s is not allowed", e.Op, e.StageID, e.From, e.To)
	}
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// NotFoundError reports an unknown stage, dependency, job or template.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// DeletionBlockedError is returned when a stage is still the required side of
// at least one dependency.
type DeletionBlockedError struct {
	StageID    stageid.ID
	Dependents []stageid.ID
}

func (e *DeletionBlockedError) Error() string {
	return fmt.Sprintf("stage %s is still required by: %s", e.StageID, joinIDs(e.Dependents, ", "))
}

func (e *DeletionBlockedError) Unwrap() error { return ErrDeletionBlocked }

// ValidationError lists every problem found on a record or request.
type ValidationError struct {
	Subject  string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Subject, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewNotFound is shorthand for a stage NotFoundError.
func NewNotFound(kind string, id fmt.Stringer) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id.String()}
}

func joinIDs(ids []stageid.ID, sep string) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, sep)
}
