package conflict

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/specialistvlad/stagegrid/internal/ctxlog"
	"github.com/specialistvlad/stagegrid/internal/stage"
	"github.com/specialistvlad/stagegrid/internal/stageid"
	"github.com/specialistvlad/stagegrid/internal/telemetry"
)

// Kind classifies a conflict.
type Kind string

const (
	KindResourceOverlap     Kind = "resource-overlap"
	KindDependencyTiming    Kind = "dependency-timing"
	KindResourceUnavailable Kind = "resource-unavailable"
	KindInvalidWindow       Kind = "invalid-window"
)

// timeLayout is used in conflict reasons.
const timeLayout = "2006-01-02 15:04"

// Conflict is one problem with a candidate placement.
type Conflict struct {
	Kind Kind
	// StageID is the candidate; it may be empty for a stage not created yet.
	StageID stageid.ID
	// OtherID is the stage the candidate collides with, if any.
	OtherID  stageid.ID
	Resource string
	Reason   string
}

// Candidate is a proposed placement of a stage.
type Candidate struct {
	// StageID identifies the stage being rescheduled. Existing bookings with
	// this id are ignored. Empty for a new stage.
	StageID  stageid.ID
	Resource string
	Start    time.Time
	End      time.Time
	// Requires holds the stages the candidate depends on through mandatory
	// dependencies. Each must end no later than Start.
	Requires []stage.Stage
	// RequiredBy holds the stages that depend on the candidate through
	// mandatory dependencies. Each must start no earlier than End.
	RequiredBy []stage.Stage
}

// Bookings lists the stages already placed on a resource. The detector
// filters them by status itself.
type Bookings interface {
	StagesOnResource(ctx context.Context, resource string) ([]stage.Stage, error)
}

// BookingsFunc adapts a function to Bookings.
type BookingsFunc func(ctx context.Context, resource string) ([]stage.Stage, error)

// StagesOnResource implements Bookings.
func (f BookingsFunc) StagesOnResource(ctx context.Context, resource string) ([]stage.Stage, error) {
	return f(ctx, resource)
}

// Detector finds conflicts for candidate placements.
type Detector struct {
	directory ResourceDirectory
	bookings  Bookings
	metrics   *telemetry.Metrics
}

// NewDetector creates a detector. A nil directory accepts every resource; a
// nil metrics records nothing.
func NewDetector(directory ResourceDirectory, bookings Bookings, metrics *telemetry.Metrics) *Detector {
	if directory == nil {
		directory = AllAvailable{}
	}
	return &Detector{directory: directory, bookings: bookings, metrics: metrics}
}

// Overlaps reports whether [aStart, aEnd) and [bStart, bEnd) intersect.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// FindConflicts returns every conflict of c, or an empty slice.
func (d *Detector) FindConflicts(ctx context.Context, c Candidate) ([]Conflict, error) {
	return d.findAll(ctx, []Candidate{c})
}

// FindConflictsAll checks several candidates that are meant to be committed
// together. Besides the checks of FindConflicts, candidates on the same
// resource are checked against each other.
func (d *Detector) FindConflictsAll(ctx context.Context, candidates []Candidate) ([]Conflict, error) {
	return d.findAll(ctx, candidates)
}

func (d *Detector) findAll(ctx context.Context, candidates []Candidate) ([]Conflict, error) {
	logger := ctxlog.FromContext(ctx)
	var out []Conflict

	for i, c := range candidates {
		found, err := d.check(ctx, c)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)

		for _, other := range candidates[i+1:] {
			if other.Resource == c.Resource && Overlaps(c.Start, c.End, other.Start, other.End) {
				out = append(out, Conflict{
					Kind:     KindResourceOverlap,
					StageID:  c.StageID,
					OtherID:  other.StageID,
					Resource: c.Resource,
					Reason: fmt.Sprintf("resource %q: proposed window %s overlaps proposed window %s",
						c.Resource, window(c.Start, c.End), window(other.Start, other.End)),
				})
			}
		}
	}

	for _, cf := range out {
		d.metrics.Conflict(string(cf.Kind))
	}
	if len(out) > 0 {
		logger.Debug("Schedule conflicts found.", "count", len(out))
	}
	return out, nil
}

func (d *Detector) check(ctx context.Context, c Candidate) ([]Conflict, error) {
	var out []Conflict

	if !c.Start.Before(c.End) {
		out = append(out, Conflict{
			Kind:     KindInvalidWindow,
			StageID:  c.StageID,
			Resource: c.Resource,
			Reason:   fmt.Sprintf("scheduled start %s is not before scheduled end %s", c.Start.Format(timeLayout), c.End.Format(timeLayout)),
		})
	}

	available, err := d.directory.IsResourceAvailable(ctx, c.Resource)
	if err != nil {
		return nil, fmt.Errorf("check availability of resource %q: %w", c.Resource, err)
	}
	if !available {
		out = append(out, Conflict{
			Kind:     KindResourceUnavailable,
			StageID:  c.StageID,
			Resource: c.Resource,
			Reason:   fmt.Sprintf("resource %q is not available for scheduling", c.Resource),
		})
	} else if d.bookings != nil {
		booked, err := d.bookings.StagesOnResource(ctx, c.Resource)
		if err != nil {
			return nil, fmt.Errorf("load bookings of resource %q: %w", c.Resource, err)
		}
		slices.SortFunc(booked, func(a, b stage.Stage) int { return a.ScheduledStart.Compare(b.ScheduledStart) })
		for _, b := range booked {
			if b.ID == c.StageID || b.Resource != c.Resource || !b.Status.OccupiesResource() {
				continue
			}
			if Overlaps(c.Start, c.End, b.ScheduledStart, b.ScheduledEnd) {
				out = append(out, Conflict{
					Kind:     KindResourceOverlap,
					StageID:  c.StageID,
					OtherID:  b.ID,
					Resource: c.Resource,
					Reason: fmt.Sprintf("resource %q is booked by stage %s (%s, job %s) during %s",
						c.Resource, b.ID, b.Name, b.JobID, window(b.ScheduledStart, b.ScheduledEnd)),
				})
			}
		}
	}

	for _, req := range c.Requires {
		if req.ScheduledEnd.After(c.Start) {
			out = append(out, Conflict{
				Kind:     KindDependencyTiming,
				StageID:  c.StageID,
				OtherID:  req.ID,
				Resource: c.Resource,
				Reason: fmt.Sprintf("required stage %s (%s) ends at %s, after the proposed start %s",
					req.ID, req.Name, req.ScheduledEnd.Format(timeLayout), c.Start.Format(timeLayout)),
			})
		}
	}
	for _, dep := range c.RequiredBy {
		if dep.ScheduledStart.Before(c.End) {
			out = append(out, Conflict{
				Kind:     KindDependencyTiming,
				StageID:  c.StageID,
				OtherID:  dep.ID,
				Resource: c.Resource,
				Reason: fmt.Sprintf("dependent stage %s (%s) starts at %s, before the proposed end %s",
					dep.ID, dep.Name, dep.ScheduledStart.Format(timeLayout), c.End.Format(timeLayout)),
			})
		}
	}

	if len(out) > 0 {
		ctxlog.FromContext(ctx).Debug("Candidate rejected.", slog.String("stage", c.StageID.String()), slog.String("resource", c.Resource), slog.Int("conflicts", len(out)))
	}
	return out, nil
}

// ValidateSchedule returns nil when c has no conflicts and otherwise the
// human-readable reason of every conflict.
func (d *Detector) ValidateSchedule(ctx context.Context, c Candidate) ([]string, error) {
	found, err := d.FindConflicts(ctx, c)
	if err != nil {
		return nil, err
	}
	return Reasons(found), nil
}

// Reasons extracts the reason strings, or nil for no conflicts.
func Reasons(conflicts []Conflict) []string {
	if len(conflicts) == 0 {
		return nil
	}
	out := make([]string, len(conflicts))
	for i, c := range conflicts {
		out[i] = c.Reason
	}
	return out
}

// AsError converts a non-empty conflict list into an error. A list holding
// only invalid windows is a malformed request and becomes a
// *stage.ValidationError; anything else is a *stage.ResourceConflictError.
func AsError(stageID stageid.ID, resource string, conflicts []Conflict) error {
	if len(conflicts) == 0 {
		return nil
	}
	invalidOnly := !slices.ContainsFunc(conflicts, func(c Conflict) bool { return c.Kind != KindInvalidWindow })
	if invalidOnly {
		subject := "schedule"
		if !stageID.IsZero() {
			subject = "schedule of stage " + stageID.String()
		}
		return &stage.ValidationError{Subject: subject, Problems: Reasons(conflicts)}
	}
	return &stage.ResourceConflictError{StageID: stageID, Resource: resource, Reasons: Reasons(conflicts)}
}

func window(start, end time.Time) string {
	return fmt.Sprintf("[%s, %s)", start.Format(timeLayout), end.Format(timeLayout))
}
