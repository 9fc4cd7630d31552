package notify

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/specialistvlad/stagegrid/internal/telemetry"
)

// ErrDropped is returned by Throttled.Publish for an event over the rate.
var ErrDropped = errors.New("event dropped by rate limit")

// Throttled forwards events to another publisher no faster than its limiter
// allows. Publish never waits: an event the limiter does not admit right
// away is counted and dropped.
type Throttled struct {
	next    Publisher
	limiter *rate.Limiter
	metrics *telemetry.Metrics
}

// NewThrottled wraps next with limiter. Dropped events are counted on
// metrics, which may be nil.
func NewThrottled(next Publisher, limiter *rate.Limiter, metrics *telemetry.Metrics) *Throttled {
	return &Throttled{next: next, limiter: limiter, metrics: metrics}
}

// Publish implements Publisher.
func (t *Throttled) Publish(ctx context.Context, e Event) error {
	if !t.limiter.Allow() {
		t.metrics.EventDropped(e.Type)
		return fmt.Errorf("throttle %s event: %w", e.Type, ErrDropped)
	}
	return t.next.Publish(ctx, e)
}
