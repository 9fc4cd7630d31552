// Package job implements the job aggregate: the set of stages one job owns,
// its dependency records and the dependency graph over them.
//
// # Concurrency Model
//
// A Job publishes an immutable *State through an atomic pointer. Readers call
// Snapshot and never block. Writers call Update, which serialises on the
// job's mutex, hands the callback a Draft cloned from the current state and
// publishes the draft only when the callback returns nil. A failed callback
// (for example a persistence error) leaves the published state untouched.
// UpdateAll does the same for several jobs, locking them in job-id order.
//
// # Links
//
// A dependency between stages of two jobs is held by both. Each side keeps a
// Link to the other job's stage: a graph node that carries only the owning
// job and whether the stage has Completed.
package job
