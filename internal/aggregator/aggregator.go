// Package aggregator implements the worker-local and global reduction
// values of spec.md §3 (AggregatorSet) and §4.4.
package aggregator

import (
	"sync"
)

// Reducer is a commutative, associative reduction with an identity value,
// registered under a name by the master-compute phase and broadcast with
// the finalized values (spec.md §4.4). Initial must return a pointer, the
// same convention graph.TypeRegistry uses for its New*Value constructors,
// so a Codec can decode a wire-transmitted partial directly into it.
type Reducer struct {
	Initial func() any
	Combine func(a, b any) any
}

// kind distinguishes the two aggregator namespaces of spec.md §3.
type kind int

const (
	transient kind = iota
	persistent
)

type entry struct {
	kind    kind
	reducer Reducer

	mu       sync.Mutex
	partial  any  // this worker's accumulated value for the superstep in progress
	hasValue bool // whether partial has been touched this superstep

	finalized any // the broadcast value visible to compute calls this superstep
}

// Service is a single worker's aggregator bookkeeping: partials
// accumulated locally across concurrently-running partition workers, and
// the finalized values broadcast at the start of the previous superstep.
type Service struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New constructs an empty aggregator service.
func New() *Service {
	return &Service{entries: make(map[string]*entry)}
}

// Register declares an aggregator under name with the given reducer.
// Registration happens in the master-compute phase and is broadcast with
// the values (spec.md §4.4); here it is idempotent so a late broadcast
// replay is harmless.
func (s *Service) Register(name string, r Reducer, persist bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; ok {
		return
	}
	k := transient
	if persist {
		k = persistent
	}
	s.entries[name] = &entry{kind: k, reducer: r, finalized: r.Initial()}
}

// Aggregate combines delta into name's worker-local partial for the
// superstep in progress. Safe for concurrent calls from different
// partition workers (spec.md §5: "lock-free per-aggregator partials kept
// thread-local and merged at barrier" — here serialized per-aggregator,
// which is equivalent under the commutative/associative contract).
func (s *Service) Aggregate(name string, delta any) {
	e := s.entryFor(name)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.hasValue {
		e.partial = delta
		e.hasValue = true
		return
	}
	e.partial = e.reducer.Combine(e.partial, delta)
}

func (s *Service) entryFor(name string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[name]
}

// GetValue returns the finalized value from the previous superstep — reads
// during a superstep never see this superstep's still-accumulating
// partials (spec.md §4.4).
func (s *Service) GetValue(name string) (any, bool) {
	e := s.entryFor(name)
	if e == nil {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finalized, true
}

// Partials returns this worker's local partial for every aggregator with a
// contribution this superstep, for shipping to the owning worker at barrier
// time. It does not clear them; ResetTransient does that for transient
// aggregators.
func (s *Service) Partials() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any)
	for name, e := range s.entries {
		e.mu.Lock()
		if e.hasValue {
			out[name] = e.partial
		}
		e.mu.Unlock()
	}
	return out
}

// ResetTransient clears the worker-local partial for every transient
// aggregator, called once its contribution has been shipped to the owner.
// Persistent aggregators keep accumulating across supersteps.
func (s *Service) ResetTransient() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.kind != transient {
			continue
		}
		e.mu.Lock()
		e.partial = nil
		e.hasValue = false
		e.mu.Unlock()
	}
}

// MergeOwner combines a contribution from one worker into the aggregator
// this worker owns, serialized per aggregator name (spec.md §5). Called on
// the owning worker only.
func (s *Service) MergeOwner(name string, contribution any) {
	e := s.entryFor(name)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finalized = e.reducer.Combine(e.finalized, contribution)
}

// Finalize is called by the owner once all workers' contributions for
// this superstep have merged in, producing the value the master broadcasts
// at the start of the next superstep. It returns the merged value and
// leaves it in place: the accumulator is not reset, so a later MergeOwner
// combines into it.
func (s *Service) Finalize(name string) (any, bool) {
	e := s.entryFor(name)
	if e == nil {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	v := e.finalized
	return v, true
}

// Snapshot returns every aggregator's current finalized value, keyed by
// name, for checkpointing (spec.md §4.6, §6).
func (s *Service) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.entries))
	for name, e := range s.entries {
		e.mu.Lock()
		out[name] = e.finalized
		e.mu.Unlock()
	}
	return out
}

// ApplyBroadcast installs a master-broadcast finalized value, making it
// visible to GetValue for the superstep about to run.
func (s *Service) ApplyBroadcast(name string, value any) {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok {
		e = &entry{kind: transient}
		s.entries[name] = e
	}
	s.mu.Unlock()
	e.mu.Lock()
	e.finalized = value
	e.mu.Unlock()
}
