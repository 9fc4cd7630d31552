// Package inmemorystore provides a thread-safe, in-memory implementation
// of the stagestore.Store and stagestore.ResourceIndex interfaces. It is
// suitable for development, testing, or any scenario where stage records do
// not need to outlive the process.
package inmemorystore
