package partition

import (
	"container/list"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/szhu33/bspgraph/internal/graph"
)

// diskBackedStore holds at most K partitions resident; add/get beyond that
// evicts the least-recently-used resident partition to a stable per-
// partition file (spec.md §4.1, §6: "partition-<id>.bin"). Eviction runs
// inside the same critical section as the insertion that triggered it;
// concurrent Gets on a non-resident partition deduplicate to one load.
type diskBackedStore struct {
	mu       sync.Mutex
	dir      string
	cap      int
	layout   Layout
	codec    graph.Codec
	log      *logrus.Entry

	resident map[graph.PartitionID]*list.Element // -> lruList element
	lruList  *list.List                          // front = most recently used
	onDisk   map[graph.PartitionID]bool
	known    map[graph.PartitionID]bool // every id ever added, for Count/Has/Iterate
	loading  map[graph.PartitionID]*sync.WaitGroup
}

type lruEntry struct {
	id graph.PartitionID
	p  Partition
}

// NewDiskBacked constructs the disk-backed store. dir must exist or be
// creatable; cap is K from MAX_PARTITIONS_IN_MEMORY and must be >= 1.
func NewDiskBacked(dir string, cap int, layout Layout, codec graph.Codec, log *logrus.Entry) (Store, error) {
	if cap < 1 {
		return nil, fmt.Errorf("partition: disk-backed store cap must be >= 1, got %d", cap)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("partition: create spill dir %q: %w", dir, err)
	}
	return &diskBackedStore{
		dir:      dir,
		cap:      cap,
		layout:   layout,
		codec:    codec,
		log:      log,
		resident: make(map[graph.PartitionID]*list.Element),
		lruList:  list.New(),
		onDisk:   make(map[graph.PartitionID]bool),
		known:    make(map[graph.PartitionID]bool),
		loading:  make(map[graph.PartitionID]*sync.WaitGroup),
	}, nil
}

func (s *diskBackedStore) NewPartition(id graph.PartitionID) Partition {
	return newPartition(s.layout, id, s.codec)
}

func (s *diskBackedStore) spillPath(id graph.PartitionID) string {
	return filepath.Join(s.dir, fmt.Sprintf("partition-%d.bin", id))
}

// touch moves id to the front of the LRU list, evicting the tail if this
// insertion pushed resident count over cap. Caller holds s.mu.
func (s *diskBackedStore) touch(id graph.PartitionID, p Partition) {
	if el, ok := s.resident[id]; ok {
		el.Value.(*lruEntry).p = p
		s.lruList.MoveToFront(el)
		return
	}
	el := s.lruList.PushFront(&lruEntry{id: id, p: p})
	s.resident[id] = el
	s.known[id] = true
	delete(s.onDisk, id)

	for s.lruList.Len() > s.cap {
		s.evictOldest()
	}
}

// evictOldest serializes the LRU-tail partition to disk and drops its
// resident entry. Caller holds s.mu.
func (s *diskBackedStore) evictOldest() {
	tail := s.lruList.Back()
	if tail == nil {
		return
	}
	entry := tail.Value.(*lruEntry)
	s.lruList.Remove(tail)
	delete(s.resident, entry.id)

	f, err := os.Create(s.spillPath(entry.id))
	if err != nil {
		s.log.WithError(err).WithField("partition", entry.id).Error("spill partition to disk failed")
		return
	}
	defer f.Close()
	if err := entry.p.WriteTo(f); err != nil {
		s.log.WithError(err).WithField("partition", entry.id).Error("spill partition write failed")
		return
	}
	s.onDisk[entry.id] = true
}

func (s *diskBackedStore) Add(p Partition) error {
	s.mu.Lock()
	if el, ok := s.resident[p.ID()]; ok {
		existing := el.Value.(*lruEntry).p
		s.mu.Unlock()
		mergePartition(existing, p)
		s.mu.Lock()
		s.touch(p.ID(), existing)
		s.mu.Unlock()
		return nil
	}
	if s.onDisk[p.ID()] {
		s.mu.Unlock()
		existing, err := s.Get(p.ID())
		if err != nil {
			return err
		}
		mergePartition(existing, p)
		s.mu.Lock()
		s.touch(p.ID(), existing)
		s.mu.Unlock()
		return nil
	}
	s.touch(p.ID(), p)
	s.mu.Unlock()
	return nil
}

func (s *diskBackedStore) Get(id graph.PartitionID) (Partition, error) {
	s.mu.Lock()
	if el, ok := s.resident[id]; ok {
		p := el.Value.(*lruEntry).p
		s.lruList.MoveToFront(el)
		s.mu.Unlock()
		return p, nil
	}
	if !s.onDisk[id] {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	// Concurrent Gets on a non-resident partition deduplicate: exactly one
	// load occurs, everyone else waits on the same WaitGroup.
	if wg, loading := s.loading[id]; loading {
		s.mu.Unlock()
		wg.Wait()
		return s.Get(id)
	}
	wg := &sync.WaitGroup{}
	wg.Add(1)
	s.loading[id] = wg
	s.mu.Unlock()

	p := newPartition(s.layout, id, s.codec)
	f, err := os.Open(s.spillPath(id))
	if err != nil {
		s.finishLoad(id, wg)
		return nil, fmt.Errorf("partition: load %d from disk: %w", id, err)
	}
	readErr := p.ReadFrom(f)
	f.Close()
	if readErr != nil {
		s.finishLoad(id, wg)
		return nil, fmt.Errorf("partition: decode %d from disk: %w", id, readErr)
	}

	s.mu.Lock()
	s.touch(id, p)
	s.mu.Unlock()
	s.finishLoad(id, wg)
	return p, nil
}

func (s *diskBackedStore) finishLoad(id graph.PartitionID, wg *sync.WaitGroup) {
	s.mu.Lock()
	delete(s.loading, id)
	s.mu.Unlock()
	wg.Done()
}

func (s *diskBackedStore) Remove(id graph.PartitionID) (Partition, bool, error) {
	s.mu.Lock()
	if el, ok := s.resident[id]; ok {
		p := el.Value.(*lruEntry).p
		s.lruList.Remove(el)
		delete(s.resident, id)
		delete(s.known, id)
		s.mu.Unlock()
		return p, true, nil
	}
	onDisk := s.onDisk[id]
	s.mu.Unlock()
	if !onDisk {
		return nil, false, nil
	}
	p, err := s.Get(id)
	if err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	if el, ok := s.resident[id]; ok {
		s.lruList.Remove(el)
		delete(s.resident, id)
	}
	delete(s.known, id)
	delete(s.onDisk, id)
	s.mu.Unlock()
	os.Remove(s.spillPath(id))
	return p, true, nil
}

func (s *diskBackedStore) Delete(id graph.PartitionID) error {
	s.mu.Lock()
	if el, ok := s.resident[id]; ok {
		s.lruList.Remove(el)
		delete(s.resident, id)
	}
	delete(s.known, id)
	wasOnDisk := s.onDisk[id]
	delete(s.onDisk, id)
	s.mu.Unlock()
	if wasOnDisk {
		return os.Remove(s.spillPath(id))
	}
	return nil
}

func (s *diskBackedStore) Has(id graph.PartitionID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.known[id]
}

func (s *diskBackedStore) Iterate(fn func(id graph.PartitionID) bool) {
	s.mu.Lock()
	ids := make([]graph.PartitionID, 0, len(s.known))
	for id := range s.known {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		if !fn(id) {
			return
		}
	}
}

func (s *diskBackedStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.known)
}
