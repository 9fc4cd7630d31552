// Package scheduler answers "what can start now" for a job.
//
// A stage is startable when it is Scheduled or Ready and every mandatory
// required stage is Completed. The scheduler only reads job snapshots; it
// never changes a stage's status. Promotion to Ready is the lifecycle
// controller's job.
package scheduler
