// Package dag holds the dependency graph of a job's stages. It is the only
// owner of dependency edges: other packages register stages, insert and
// remove edges, and query readiness through its API, never through shared
// collections.
//
// Stages are mapped to small integer slots so traversal works on slices and
// index maps instead of pointers. Every insertion is checked for cycles with
// an iterative depth-first search, so the graph is acyclic at all times and a
// rejected insertion leaves it untouched.
package dag
