// Package engine is the caller-facing API of the scheduling engine. It wires
// the job aggregates, the lifecycle controller, the conflict detector and the
// workflow builder to a persistence gateway, and publishes an event for every
// committed change.
//
// # Consistency
//
// Every mutation of a job runs inside that job's critical section
// (job.Job.Update). Schedule commits additionally hold the locks of every
// resource they book, taken after the job lock and in sorted order, so two
// jobs can never double-book a resource concurrently. A change that touches
// jobs linked by a cross-job dependency locks all of them in job-id order,
// and dependency insertions are serialised so the cycle check can walk
// through other jobs. The in-memory state
// changes only after the store accepted the write; when a multi-record write
// fails halfway, the records already written are compensated before the
// original error is returned.
//
// Reads are served from atomically published job snapshots and never block
// writers. A job not yet in memory is hydrated from the store once; concurrent
// hydrations of the same job share one load.
package engine
