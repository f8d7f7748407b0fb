package partition

import (
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/szhu33/bspgraph/internal/graph"
)

// Layout selects which Partition implementation new partitions use —
// PARTITION_CLASS in spec.md §6.
type Layout int

const (
	LayoutMap Layout = iota
	LayoutByteArray
)

// Store is the contract shared by the resident and disk-backed variants
// (spec.md §4.1): add, get, remove, delete, has, iterate, count.
type Store interface {
	// Add merges into an existing partition of the same id if one exists;
	// on conflict within the merge, the most recently inserted vertex for
	// a given vertex id wins (spec.md §8 Open Questions: last-write-wins).
	Add(p Partition) error
	// Get returns a live reference; concurrent Get on the same id is
	// serialized.
	Get(id graph.PartitionID) (Partition, error)
	// Remove detaches and returns the partition; the caller takes
	// ownership and it is no longer held by the store.
	Remove(id graph.PartitionID) (Partition, bool, error)
	// Delete discards the partition and any backing storage for it.
	Delete(id graph.PartitionID) error
	Has(id graph.PartitionID) bool
	// Iterate yields each resident-or-not id exactly once, in an order
	// that is unspecified but stable within a superstep.
	Iterate(fn func(id graph.PartitionID) bool)
	Count() int
	NewPartition(id graph.PartitionID) Partition
}

func newPartition(layout Layout, id graph.PartitionID, codec graph.Codec) Partition {
	if layout == LayoutByteArray {
		return NewByteArray(id, codec)
	}
	return NewMap(id, codec)
}

func mergePartition(dst, src Partition) {
	src.Iterate(func(v *graph.Vertex) bool {
		dst.Put(v) // last-write-wins: src was added after dst existed.
		return true
	})
}

// residentStore holds every partition in memory, protected by per-id
// locking for Get/Add composition, per spec.md §4.1/§5.
type residentStore struct {
	mu         sync.Mutex
	partitions map[graph.PartitionID]Partition
	locks      map[graph.PartitionID]*sync.Mutex
	layout     Layout
	codec      graph.Codec
	log        *logrus.Entry
}

// NewResident constructs the all-in-memory partition store.
func NewResident(layout Layout, codec graph.Codec, log *logrus.Entry) Store {
	return &residentStore{
		partitions: make(map[graph.PartitionID]Partition),
		locks:      make(map[graph.PartitionID]*sync.Mutex),
		layout:     layout,
		codec:      codec,
		log:        log,
	}
}

func (s *residentStore) NewPartition(id graph.PartitionID) Partition {
	return newPartition(s.layout, id, s.codec)
}

func (s *residentStore) idLock(id graph.PartitionID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *residentStore) Add(p Partition) error {
	lock := s.idLock(p.ID())
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	existing, ok := s.partitions[p.ID()]
	if !ok {
		s.partitions[p.ID()] = p
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	mergePartition(existing, p)
	return nil
}

func (s *residentStore) Get(id graph.PartitionID) (Partition, error) {
	lock := s.idLock(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partitions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (s *residentStore) Remove(id graph.PartitionID) (Partition, bool, error) {
	lock := s.idLock(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partitions[id]
	if ok {
		delete(s.partitions, id)
	}
	return p, ok, nil
}

func (s *residentStore) Delete(id graph.PartitionID) error {
	_, _, err := s.Remove(id)
	return err
}

func (s *residentStore) Has(id graph.PartitionID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.partitions[id]
	return ok
}

func (s *residentStore) Iterate(fn func(id graph.PartitionID) bool) {
	s.mu.Lock()
	ids := make([]graph.PartitionID, 0, len(s.partitions))
	for id := range s.partitions {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		if !fn(id) {
			return
		}
	}
}

func (s *residentStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.partitions)
}
