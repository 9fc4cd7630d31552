package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/specialistvlad/stagegrid/internal/stage"
	"github.com/specialistvlad/stagegrid/internal/stageid"
	"github.com/specialistvlad/stagegrid/internal/stagestore"
)

// ErrInjected is returned by FaultyStore when a fault fires.
var ErrInjected = errors.New("injected store failure")

// FaultyStore wraps a store and fails chosen operations. It deliberately
// hides any BatchWriter of the wrapped store, so the engine takes its
// record-by-record path.
type FaultyStore struct {
	stagestore.Store

	mu sync.Mutex
	// failOn maps an operation name to the 1-based call that fails.
	failOn map[string]int
	calls  map[string]int
}

var (
	_ stagestore.Store         = (*FaultyStore)(nil)
	_ stagestore.ResourceIndex = (*FaultyStore)(nil)
)

// NewFaultyStore wraps inner. Without faults it behaves exactly like inner.
func NewFaultyStore(inner stagestore.Store) *FaultyStore {
	return &FaultyStore{Store: inner, failOn: map[string]int{}, calls: map[string]int{}}
}

// FailNth makes the nth call of op from now on fail; the calls before and
// after it succeed. op is one of "SaveStage", "SaveDependency",
// "DeleteDependency", "DeleteStage".
func (f *FaultyStore) FailNth(op string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn[op] = n
	f.calls[op] = 0
}

// Heal removes every fault.
func (f *FaultyStore) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.failOn)
}

// Calls returns how many times op was called.
func (f *FaultyStore) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *FaultyStore) fault(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if n, ok := f.failOn[op]; ok && f.calls[op] == n {
		return ErrInjected
	}
	return nil
}

// SaveStage implements stagestore.Store.
func (f *FaultyStore) SaveStage(ctx context.Context, s stage.Stage) error {
	if err := f.fault("SaveStage"); err != nil {
		return err
	}
	return f.Store.SaveStage(ctx, s)
}

// SaveDependency implements stagestore.Store.
func (f *FaultyStore) SaveDependency(ctx context.Context, d stage.Dependency) error {
	if err := f.fault("SaveDependency"); err != nil {
		return err
	}
	return f.Store.SaveDependency(ctx, d)
}

// DeleteDependency implements stagestore.Store.
func (f *FaultyStore) DeleteDependency(ctx context.Context, id stageid.ID) error {
	if err := f.fault("DeleteDependency"); err != nil {
		return err
	}
	return f.Store.DeleteDependency(ctx, id)
}

// DeleteStage implements stagestore.Store.
func (f *FaultyStore) DeleteStage(ctx context.Context, id stageid.ID) error {
	if err := f.fault("DeleteStage"); err != nil {
		return err
	}
	return f.Store.DeleteStage(ctx, id)
}

// LoadStagesForResource forwards to the wrapped store when it keeps a
// resource index.
func (f *FaultyStore) LoadStagesForResource(ctx context.Context, resource string) ([]stage.Stage, error) {
	if idx, ok := f.Store.(stagestore.ResourceIndex); ok {
		return idx.LoadStagesForResource(ctx, resource)
	}
	return nil, nil
}
