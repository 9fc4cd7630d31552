package conflict

import (
	"context"
	"sync"
)

// ResourceDirectory reports whether a resource may be booked at all.
type ResourceDirectory interface {
	IsResourceAvailable(ctx context.Context, resource string) (bool, error)
}

// StaticDirectory is a ResourceDirectory backed by a fixed table, typically
// built from configuration. Unknown resources are available unless Strict is
// set.
type StaticDirectory struct {
	mu      sync.RWMutex
	entries map[string]bool
	strict  bool
}

var _ ResourceDirectory = (*StaticDirectory)(nil)

// NewStaticDirectory creates a directory from name -> available entries.
func NewStaticDirectory(entries map[string]bool, strict bool) *StaticDirectory {
	d := &StaticDirectory{entries: make(map[string]bool, len(entries)), strict: strict}
	for name, ok := range entries {
		d.entries[name] = ok
	}
	return d
}

// IsResourceAvailable implements ResourceDirectory.
func (d *StaticDirectory) IsResourceAvailable(_ context.Context, resource string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ok, known := d.entries[resource]
	if !known {
		return !d.strict, nil
	}
	return ok, nil
}

// SetAvailable marks a resource available or unavailable.
func (d *StaticDirectory) SetAvailable(resource string, available bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[resource] = available
}

// Replace swaps the whole table, keeping the strict setting.
func (d *StaticDirectory) Replace(entries map[string]bool) {
	fresh := make(map[string]bool, len(entries))
	for name, ok := range entries {
		fresh[name] = ok
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = fresh
}

// AllAvailable is a ResourceDirectory that accepts every resource.
type AllAvailable struct{}

// IsResourceAvailable implements ResourceDirectory.
func (AllAvailable) IsResourceAvailable(context.Context, string) (bool, error) { return true, nil }
