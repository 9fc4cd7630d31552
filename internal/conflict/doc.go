// Package conflict finds scheduling problems for a proposed stage placement:
// overlapping bookings of the same resource, dependency timing violations,
// resources the directory reports as unavailable and malformed windows.
//
// Intervals are half-open, [start, end). Two bookings that only touch at an
// endpoint do not overlap.
//
// The detector has no side effects. It never mutates the stages it inspects;
// callers decide whether a non-empty result blocks a commit.
package conflict
