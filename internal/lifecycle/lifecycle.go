// Package lifecycle drives stage status through
// Scheduled -> Ready -> InProgress -> Completed, with Cancelled reachable from
// every non-terminal state.
//
// The controller works on a job.Draft inside the job's critical section and
// returns what changed. Nothing is persisted here; the caller writes the
// changed stages and only then publishes the draft and reports the
// transitions with Observe.
package lifecycle

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/specialistvlad/stagegrid/internal/ctxlog"
	"github.com/specialistvlad/stagegrid/internal/job"
	"github.com/specialistvlad/stagegrid/internal/stage"
	"github.com/specialistvlad/stagegrid/internal/stageid"
	"github.com/specialistvlad/stagegrid/internal/telemetry"
)

// Transition is one status change.
type Transition struct {
	StageID stageid.ID
	From    stage.Status
	To      stage.Status
}

// Result lists the stages an operation changed, in the order they changed,
// and the status transitions among those changes.
type Result struct {
	Changed     []stage.Stage
	Transitions []Transition
}

func (r *Result) record(before stage.Status, st stage.Stage) {
	r.Changed = append(r.Changed, st)
	if before != st.Status {
		r.Transitions = append(r.Transitions, Transition{StageID: st.ID, From: before, To: st.Status})
	}
}

// Controller implements the stage state machine.
type Controller struct {
	now     func() time.Time
	metrics *telemetry.Metrics
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithMetrics sets the metrics that Observe reports to.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// New creates a controller.
func New(opts ...Option) *Controller {
	c := &Controller{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Observe reports committed transitions to metrics and the log.
func (c *Controller) Observe(ctx context.Context, r Result) {
	logger := ctxlog.FromContext(ctx)
	for _, t := range r.Transitions {
		c.metrics.Transition(t.From.String(), t.To.String())
		logger.Info("Stage status changed.", "stage", t.StageID, "from", t.From, "to", t.To)
	}
}

func (c *Controller) timestamp() *time.Time {
	t := c.now().UTC()
	return &t
}

// Start moves a Scheduled or Ready stage to InProgress. It fails with
// *stage.DependencyNotSatisfiedError while any mandatory required stage is
// not Completed and with *stage.InvalidTransitionError from any other status.
func (c *Controller) Start(ctx context.Context, d *job.Draft, id stageid.ID, operator string) (Result, error) {
	st, err := d.MustStage(id)
	if err != nil {
		return Result{}, err
	}
	blocking, err := d.Blocking(id)
	if err != nil {
		return Result{}, err
	}
	if len(blocking) > 0 {
		return Result{}, &stage.DependencyNotSatisfiedError{StageID: id, Blocking: blocking}
	}
	if !st.Status.IsPreExecution() {
		return Result{}, &stage.InvalidTransitionError{StageID: id, Op: "start", From: st.Status, To: stage.StatusInProgress}
	}

	before := st.Status
	st.Status = stage.StatusInProgress
	st.StartedAt = c.timestamp()
	st.Operator = operator
	st.Progress = 0
	if err := d.PutStage(st); err != nil {
		return Result{}, err
	}

	var r Result
	r.record(before, st)
	ctxlog.FromContext(ctx).Debug("Stage start applied.", "stage", id, "operator", operator)
	return r, nil
}

// Complete finishes an InProgress stage and promotes every Scheduled
// dependent of the job whose mandatory dependencies are now all Completed.
// Dependents in other jobs are promoted through LinkCompleted on their own
// drafts.
func (c *Controller) Complete(ctx context.Context, d *job.Draft, id stageid.ID, actualCost float64) (Result, error) {
	st, err := d.MustStage(id)
	if err != nil {
		return Result{}, err
	}
	if st.Status != stage.StatusInProgress {
		return Result{}, &stage.InvalidTransitionError{StageID: id, Op: "complete", From: st.Status, To: stage.StatusCompleted}
	}
	if math.IsNaN(actualCost) || math.IsInf(actualCost, 0) || actualCost < 0 {
		return Result{}, &stage.ValidationError{Subject: "stage " + id.String(), Problems: []string{fmt.Sprintf("actual cost %v must be a non-negative number", actualCost)}}
	}

	st.Status = stage.StatusCompleted
	st.CompletedAt = c.timestamp()
	st.ActualCost = &actualCost
	st.Progress = 100
	if err := d.PutStage(st); err != nil {
		return Result{}, err
	}

	var r Result
	r.record(stage.StatusInProgress, st)

	if err := c.promoteDependents(d, id, &r); err != nil {
		return Result{}, err
	}
	ctxlog.FromContext(ctx).Debug("Stage completion applied.", "stage", id, "promoted", len(r.Changed)-1)
	return r, nil
}

// LinkCompleted records that a linked stage of another job has Completed and
// promotes the dependents in d that it unblocks.
func (c *Controller) LinkCompleted(ctx context.Context, d *job.Draft, id stageid.ID) (Result, error) {
	if !d.CompleteLink(id) {
		return Result{}, stage.NewNotFound("linked stage", id)
	}
	var r Result
	if err := c.promoteDependents(d, id, &r); err != nil {
		return Result{}, err
	}
	ctxlog.FromContext(ctx).Debug("Linked stage completion applied.", "job", d.ID(), "stage", id, "promoted", len(r.Changed))
	return r, nil
}

func (c *Controller) promoteDependents(d *job.Draft, id stageid.ID, r *Result) error {
	for _, depID := range d.DependentIDs(id) {
		if _, linked := d.Link(depID); linked {
			continue
		}
		promoted, err := c.promote(d, depID)
		if err != nil {
			return err
		}
		if promoted != nil {
			r.record(stage.StatusScheduled, *promoted)
		}
	}
	return nil
}

// promote moves a Scheduled stage to Ready when it has become ready. It
// returns nil when nothing changed.
func (c *Controller) promote(d *job.Draft, id stageid.ID) (*stage.Stage, error) {
	st, err := d.MustStage(id)
	if err != nil {
		return nil, err
	}
	if st.Status != stage.StatusScheduled {
		return nil, nil
	}
	ready, err := d.IsReady(id)
	if err != nil || !ready {
		return nil, err
	}
	st.Status = stage.StatusReady
	if err := d.PutStage(st); err != nil {
		return nil, err
	}
	return &st, nil
}

// UpdateProgress sets the progress of an InProgress stage, clamped to
// [0, 100]. Reaching 100 does not complete the stage.
func (c *Controller) UpdateProgress(ctx context.Context, d *job.Draft, id stageid.ID, percent float64) (Result, error) {
	st, err := d.MustStage(id)
	if err != nil {
		return Result{}, err
	}
	if st.Status != stage.StatusInProgress {
		return Result{}, &stage.InvalidTransitionError{StageID: id, Op: "update progress of", From: st.Status}
	}
	if math.IsNaN(percent) {
		return Result{}, &stage.ValidationError{Subject: "stage " + id.String(), Problems: []string{"progress must be a number"}}
	}
	st.Progress = math.Min(100, math.Max(0, percent))
	if err := d.PutStage(st); err != nil {
		return Result{}, err
	}

	var r Result
	r.record(st.Status, st)
	return r, nil
}

// Cancel moves any non-terminal stage to Cancelled. Dependents are left as
// they are; a dependent blocked by the cancelled stage stays Scheduled.
func (c *Controller) Cancel(ctx context.Context, d *job.Draft, id stageid.ID) (Result, error) {
	st, err := d.MustStage(id)
	if err != nil {
		return Result{}, err
	}
	if !stage.CanTransition(st.Status, stage.StatusCancelled) {
		return Result{}, &stage.InvalidTransitionError{StageID: id, Op: "cancel", From: st.Status, To: stage.StatusCancelled}
	}
	before := st.Status
	st.Status = stage.StatusCancelled
	st.CancelledAt = c.timestamp()
	if err := d.PutStage(st); err != nil {
		return Result{}, err
	}

	var r Result
	r.record(before, st)
	ctxlog.FromContext(ctx).Debug("Stage cancellation applied.", "stage", id, "was", before)
	return r, nil
}

// PromoteReady promotes every Scheduled stage of the job whose mandatory
// dependencies are all Completed, in execution order.
func (c *Controller) PromoteReady(ctx context.Context, d *job.Draft) (Result, error) {
	var r Result
	for _, st := range d.Stages() {
		promoted, err := c.promote(d, st.ID)
		if err != nil {
			return Result{}, err
		}
		if promoted != nil {
			r.record(stage.StatusScheduled, *promoted)
		}
	}
	return r, nil
}

// Reconcile aligns a pre-execution stage with its readiness after its
// dependencies changed: a Ready stage that gained an unmet mandatory
// dependency drops back to Scheduled, and a Scheduled stage that became ready
// is promoted. Other statuses are left alone.
func (c *Controller) Reconcile(ctx context.Context, d *job.Draft, id stageid.ID) (Result, error) {
	st, err := d.MustStage(id)
	if err != nil {
		return Result{}, err
	}
	var r Result
	switch st.Status {
	case stage.StatusScheduled:
		promoted, err := c.promote(d, id)
		if err != nil {
			return Result{}, err
		}
		if promoted != nil {
			r.record(stage.StatusScheduled, *promoted)
		}
	case stage.StatusReady:
		ready, err := d.IsReady(id)
		if err != nil {
			return Result{}, err
		}
		if !ready {
			st.Status = stage.StatusScheduled
			if err := d.PutStage(st); err != nil {
				return Result{}, err
			}
			r.record(stage.StatusReady, st)
		}
	}
	return r, nil
}
