package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/specialistvlad/stagegrid/internal/stage"
	"github.com/specialistvlad/stagegrid/internal/stageid"
	"github.com/specialistvlad/stagegrid/internal/stagestore"
)

const sep = "\x00"

var (
	_ stagestore.Store         = (*Store)(nil)
	_ stagestore.ResourceIndex = (*Store)(nil)
	_ stagestore.BatchWriter   = (*Store)(nil)
)

// Store is a BadgerDB-backed stagestore.Store.
type Store struct {
	db *badger.DB

	stopGC    chan struct{}
	gcDone    chan struct{}
	closeOnce sync.Once
}

// Open opens (or creates) the database described by cfg and starts value log
// GC when configured. Callers must Close the store.
func Open(cfg Config) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		if cfg.GCDiscardRatio <= 0 || cfg.GCDiscardRatio >= 1 {
			db.Close()
			return nil, fmt.Errorf("gc discard ratio must be between 0 and 1, got %v", cfg.GCDiscardRatio)
		}
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go gcLoop(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger, s.stopGC, s.gcDone)
	}
	return s, nil
}

// Close stops garbage collection and closes the database. Safe to call more
// than once.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.stopGC != nil {
			close(s.stopGC)
			<-s.gcDone
		}
		err = s.db.Close()
	})
	return err
}

func stageKey(id stageid.ID) []byte { return []byte("s" + sep + string(id)) }
func depKey(id stageid.ID) []byte   { return []byte("d" + sep + string(id)) }

func jobIndexKey(job stageid.JobID, id stageid.ID) []byte {
	return []byte("j" + sep + string(job) + sep + string(id))
}

func resourceIndexKey(resource string, id stageid.ID) []byte {
	return []byte("r" + sep + resource + sep + string(id))
}

func dependentIndexKey(dependent, dep stageid.ID) []byte {
	return []byte("o" + sep + string(dependent) + sep + string(dep))
}

func requiredIndexKey(required, dep stageid.ID) []byte {
	return []byte("i" + sep + string(required) + sep + string(dep))
}

// LoadStagesForJob returns every stage of the job ordered by execution order.
func (s *Store) LoadStagesForJob(ctx context.Context, jobID stageid.JobID) ([]stage.Stage, error) {
	return s.loadIndexedStages(ctx, "j"+sep+string(jobID)+sep)
}

// LoadStagesForResource returns every stage booked on the resource.
func (s *Store) LoadStagesForResource(ctx context.Context, resource string) ([]stage.Stage, error) {
	return s.loadIndexedStages(ctx, "r"+sep+resource+sep)
}

func (s *Store) loadIndexedStages(ctx context.Context, prefix string) ([]stage.Stage, error) {
	var out []stage.Stage
	err := s.db.View(func(txn *badger.Txn) error {
		ids, err := scanSuffixes(txn, prefix)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			var st stage.Stage
			found, err := getJSON(txn, stageKey(stageid.ID(id)), &st)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("index entry %q points to missing stage", id)
			}
			out = append(out, st)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b stage.Stage) int {
		if a.JobID != b.JobID {
			return strings.Compare(string(a.JobID), string(b.JobID))
		}
		return stage.ByExecutionOrder(a, b)
	})
	return out, nil
}

// LoadStage returns the stage with the given id.
func (s *Store) LoadStage(ctx context.Context, id stageid.ID) (stage.Stage, error) {
	var st stage.Stage
	err := s.db.View(func(txn *badger.Txn) error {
		found, err := getJSON(txn, stageKey(id), &st)
		if err != nil {
			return err
		}
		if !found {
			return stage.NewNotFound("stage", id)
		}
		return nil
	})
	return st, err
}

// LoadDependencies returns the dependencies where stageID is the dependent.
func (s *Store) LoadDependencies(ctx context.Context, stageID stageid.ID) ([]stage.Dependency, error) {
	out, err := s.loadIndexedDependencies("o" + sep + string(stageID) + sep)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b stage.Dependency) int {
		return strings.Compare(string(a.RequiredID), string(b.RequiredID))
	})
	return out, nil
}

// LoadDependents returns the dependencies where stageID is the required
// stage.
func (s *Store) LoadDependents(ctx context.Context, stageID stageid.ID) ([]stage.Dependency, error) {
	out, err := s.loadIndexedDependencies("i" + sep + string(stageID) + sep)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b stage.Dependency) int {
		return strings.Compare(string(a.DependentID), string(b.DependentID))
	})
	return out, nil
}

func (s *Store) loadIndexedDependencies(prefix string) ([]stage.Dependency, error) {
	var out []stage.Dependency
	err := s.db.View(func(txn *badger.Txn) error {
		ids, err := scanSuffixes(txn, prefix)
		if err != nil {
			return err
		}
		for _, id := range ids {
			var d stage.Dependency
			found, err := getJSON(txn, depKey(stageid.ID(id)), &d)
			if err != nil {
				return err
			}
			if found {
				out = append(out, d)
			}
		}
		return nil
	})
	return out, err
}

// SaveStage inserts or replaces a stage record and keeps the job and resource
// indexes in step.
func (s *Store) SaveStage(ctx context.Context, st stage.Stage) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return putStage(txn, st)
	})
}

// SaveDependency inserts or replaces a dependency record.
func (s *Store) SaveDependency(ctx context.Context, d stage.Dependency) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return putDependency(txn, d)
	})
}

// SavePlan writes every stage and dependency of p in a single transaction.
func (s *Store) SavePlan(ctx context.Context, p stagestore.Plan) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, st := range p.Stages {
			if err := putStage(txn, st); err != nil {
				return err
			}
		}
		for _, d := range p.Dependencies {
			if err := putDependency(txn, d); err != nil {
				return err
			}
		}
		return ctx.Err()
	})
}

// DeleteDependency removes a dependency record.
func (s *Store) DeleteDependency(ctx context.Context, id stageid.ID) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var d stage.Dependency
		found, err := getJSON(txn, depKey(id), &d)
		if err != nil || !found {
			return err
		}
		if err := txn.Delete(dependentIndexKey(d.DependentID, d.ID)); err != nil {
			return err
		}
		if err := txn.Delete(requiredIndexKey(d.RequiredID, d.ID)); err != nil {
			return err
		}
		return txn.Delete(depKey(id))
	})
}

// DeleteStage removes a stage record and its index entries.
func (s *Store) DeleteStage(ctx context.Context, id stageid.ID) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var st stage.Stage
		found, err := getJSON(txn, stageKey(id), &st)
		if err != nil || !found {
			return err
		}
		for _, k := range [][]byte{jobIndexKey(st.JobID, id), resourceIndexKey(st.Resource, id), stageKey(id)} {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func putStage(txn *badger.Txn, st stage.Stage) error {
	var prev stage.Stage
	found, err := getJSON(txn, stageKey(st.ID), &prev)
	if err != nil {
		return err
	}
	if found {
		if prev.JobID != st.JobID {
			if err := txn.Delete(jobIndexKey(prev.JobID, st.ID)); err != nil {
				return err
			}
		}
		if prev.Resource != st.Resource {
			if err := txn.Delete(resourceIndexKey(prev.Resource, st.ID)); err != nil {
				return err
			}
		}
	}
	if err := setJSON(txn, stageKey(st.ID), st); err != nil {
		return err
	}
	if err := txn.Set(jobIndexKey(st.JobID, st.ID), nil); err != nil {
		return err
	}
	return txn.Set(resourceIndexKey(st.Resource, st.ID), nil)
}

func putDependency(txn *badger.Txn, d stage.Dependency) error {
	if err := setJSON(txn, depKey(d.ID), d); err != nil {
		return err
	}
	if err := txn.Set(dependentIndexKey(d.DependentID, d.ID), nil); err != nil {
		return err
	}
	return txn.Set(requiredIndexKey(d.RequiredID, d.ID), nil)
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return txn.Set(key, data)
}

// getJSON decodes the value at key into v. A missing key is reported as
// found == false with a nil error.
func getJSON(txn *badger.Txn, key []byte, v any) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
	if err != nil {
		return false, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

// scanSuffixes returns the key remainders after prefix for every key that
// starts with it.
func scanSuffixes(txn *badger.Txn, prefix string) ([]string, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = []byte(prefix)

	it := txn.NewIterator(opts)
	defer it.Close()

	var out []string
	for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
		out = append(out, string(it.Item().Key()[len(prefix):]))
	}
	return out, nil
}
