package inmemorystore

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/specialistvlad/stagegrid/internal/stage"
	"github.com/specialistvlad/stagegrid/internal/stageid"
	"github.com/specialistvlad/stagegrid/internal/stagestore"
)

// Store is an in-memory implementation of stagestore.Store using sync.Map
// for fine-grained concurrent access without global lock contention.
//
// The store maintains two independent sync.Maps:
//   - stages: Maps stage IDs to stage.Stage records
//   - dependencies: Maps dependency IDs to stage.Dependency records
//
// Records are cloned on the way in and on the way out, so callers never
// share pointer fields with the store.
type Store struct {
	stages       sync.Map // Key: stageid.ID, Value: stage.Stage
	dependencies sync.Map // Key: stageid.ID, Value: stage.Dependency
}

var (
	_ stagestore.Store         = (*Store)(nil)
	_ stagestore.ResourceIndex = (*Store)(nil)
)

// New creates a new, empty in-memory stage store.
func New() *Store {
	return &Store{}
}

// LoadStagesForJob returns every stage of the job ordered by execution order.
func (s *Store) LoadStagesForJob(ctx context.Context, jobID stageid.JobID) ([]stage.Stage, error) {
	return s.collect(func(st stage.Stage) bool { return st.JobID == jobID }), nil
}

// LoadStagesForResource returns every stage booked on the resource.
func (s *Store) LoadStagesForResource(ctx context.Context, resource string) ([]stage.Stage, error) {
	return s.collect(func(st stage.Stage) bool { return st.Resource == resource }), nil
}

func (s *Store) collect(keep func(stage.Stage) bool) []stage.Stage {
	var out []stage.Stage
	s.stages.Range(func(_, v any) bool {
		if st := v.(stage.Stage); keep(st) {
			out = append(out, st.Clone())
		}
		return true
	})
	slices.SortFunc(out, func(a, b stage.Stage) int {
		if a.JobID != b.JobID {
			return strings.Compare(string(a.JobID), string(b.JobID))
		}
		return stage.ByExecutionOrder(a, b)
	})
	return out
}

// LoadStage returns the stage with the given id.
func (s *Store) LoadStage(ctx context.Context, id stageid.ID) (stage.Stage, error) {
	v, ok := s.stages.Load(id)
	if !ok {
		return stage.Stage{}, stage.NewNotFound("stage", id)
	}
	return v.(stage.Stage).Clone(), nil
}

// LoadDependencies returns the dependencies where stageID is the dependent.
func (s *Store) LoadDependencies(ctx context.Context, stageID stageid.ID) ([]stage.Dependency, error) {
	var out []stage.Dependency
	s.dependencies.Range(func(_, v any) bool {
		if d := v.(stage.Dependency); d.DependentID == stageID {
			out = append(out, d)
		}
		return true
	})
	slices.SortFunc(out, func(a, b stage.Dependency) int {
		return strings.Compare(string(a.RequiredID), string(b.RequiredID))
	})
	return out, nil
}

// LoadDependents returns the dependencies where stageID is the required
// stage.
func (s *Store) LoadDependents(ctx context.Context, stageID stageid.ID) ([]stage.Dependency, error) {
	var out []stage.Dependency
	s.dependencies.Range(func(_, v any) bool {
		if d := v.(stage.Dependency); d.RequiredID == stageID {
			out = append(out, d)
		}
		return true
	})
	slices.SortFunc(out, func(a, b stage.Dependency) int {
		return strings.Compare(string(a.DependentID), string(b.DependentID))
	})
	return out, nil
}

// SaveStage inserts or replaces a stage record.
func (s *Store) SaveStage(ctx context.Context, st stage.Stage) error {
	s.stages.Store(st.ID, st.Clone())
	return nil
}

// SaveDependency inserts or replaces a dependency record.
func (s *Store) SaveDependency(ctx context.Context, d stage.Dependency) error {
	s.dependencies.Store(d.ID, d)
	return nil
}

// DeleteDependency removes a dependency record.
func (s *Store) DeleteDependency(ctx context.Context, id stageid.ID) error {
	s.dependencies.Delete(id)
	return nil
}

// DeleteStage removes a stage record.
func (s *Store) DeleteStage(ctx context.Context, id stageid.ID) error {
	s.stages.Delete(id)
	return nil
}
