// Package config defines the format-agnostic configuration model: the
// workflow templates the engine lays out and the resources the conflict
// detector may book. Concrete loaders for HCL and YAML live in their own
// packages and all produce a *Model.
package config
