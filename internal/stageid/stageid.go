// Package stageid defines the identifiers used throughout the engine: stage
// and dependency ids (UUIDs) and caller-supplied job ids.
package stageid

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// ID identifies a stage or a dependency record. Its canonical form is a
// lower-case hyphenated UUID.
type ID string

// JobID identifies a job. Job ids come from the caller (an order number, an
// ERP reference) and are only required to be non-empty and path-safe.
type JobID string

// ErrEmpty is returned when parsing an empty identifier.
var ErrEmpty = errors.New("identifier must not be empty")

// New returns a fresh random ID.
func New() ID {
	return ID(uuid.NewString())
}

// Parse validates s and returns its canonical ID form.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrEmpty
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid id %q: %w", s, err)
	}
	return ID(u.String()), nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String implements fmt.Stringer.
func (id ID) String() string { return string(id) }

// IsZero reports whether the id is unset.
func (id ID) IsZero() bool { return id == "" }

// ParseJob validates a caller-supplied job id.
func ParseJob(s string) (JobID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrEmpty
	}
	if strings.ContainsAny(s, "/\x00") {
		return "", fmt.Errorf("invalid job id %q: must not contain '/' or NUL", s)
	}
	return JobID(s), nil
}

// String implements fmt.Stringer.
func (j JobID) String() string { return string(j) }

// Sort orders ids lexically in place and returns them.
func Sort(ids []ID) []ID {
	slices.Sort(ids)
	return ids
}
