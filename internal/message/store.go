// Package message implements the per-superstep message inbox (spec.md §3
// MessageInbox, §4.2 Message store): the next-superstep inbox accumulates
// writes while the current superstep's frozen inbox is read, and swap()
// atomically rolls one into the other at the barrier.
package message

import (
	"sync"

	"github.com/szhu33/bspgraph/internal/graph"
)

// Store is the double-buffered message inbox. It never drops a message
// addressed to an absent vertex; whether such a vertex is created is decided
// by mutation.Resolver's CreateOnMessage (RESOLVER_CREATE_VERTEX_ON_MESSAGES
// in spec.md §6), not by the store.
type Store struct {
	mu       sync.Mutex
	combiner *graph.Combiner

	// next accumulates messages for the superstep about to run; current is
	// the frozen inbox being read by this superstep's compute calls.
	next    map[graph.PartitionID]map[graph.VertexID][]any
	current map[graph.PartitionID]map[graph.VertexID][]any

	// vertexLocks serializes the append/combine path per destination
	// vertex, per spec.md §5.
	vertexLocks map[graph.VertexID]*sync.Mutex
}

// New constructs a message store. combiner may be nil, in which case the
// store keeps an append-only sequence per vertex.
func New(combiner *graph.Combiner) *Store {
	return &Store{
		combiner:    combiner,
		next:        make(map[graph.PartitionID]map[graph.VertexID][]any),
		current:     make(map[graph.PartitionID]map[graph.VertexID][]any),
		vertexLocks: make(map[graph.VertexID]*sync.Mutex),
	}
}

func (s *Store) lockFor(id graph.VertexID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.vertexLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.vertexLocks[id] = l
	}
	return l
}

// AddMessage appends (or combines) a message for vertexId, bound for
// partitionId's next-superstep inbox. Concurrent adds to the same vertex
// from different partition workers are safe.
func (s *Store) AddMessage(partitionID graph.PartitionID, vertexID graph.VertexID, msg any) {
	lock := s.lockFor(vertexID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	byVertex, ok := s.next[partitionID]
	if !ok {
		byVertex = make(map[graph.VertexID][]any)
		s.next[partitionID] = byVertex
	}

	if s.combiner != nil {
		existing, ok := byVertex[vertexID]
		if !ok || len(existing) == 0 {
			byVertex[vertexID] = []any{msg}
			return
		}
		byVertex[vertexID][0] = s.combiner.Combine(existing[0], msg)
		return
	}
	byVertex[vertexID] = append(byVertex[vertexID], msg)
}

// GetMessages returns a borrowed, already-synchronized snapshot of the
// messages addressed to vertexID in the current (frozen) superstep. The
// returned slice must not be mutated by the caller.
func (s *Store) GetMessages(partitionID graph.PartitionID, vertexID graph.VertexID) []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	byVertex, ok := s.current[partitionID]
	if !ok {
		return nil
	}
	return byVertex[vertexID]
}

// GetDestinationVertices returns every vertex id in partitionID that has at
// least one pending message in the current superstep's frozen inbox —
// used by the superstep controller to reactivate halted vertices that
// received mail.
func (s *Store) GetDestinationVertices(partitionID graph.PartitionID) []graph.VertexID {
	s.mu.Lock()
	defer s.mu.Unlock()
	byVertex, ok := s.current[partitionID]
	if !ok {
		return nil
	}
	ids := make([]graph.VertexID, 0, len(byVertex))
	for id, msgs := range byVertex {
		if len(msgs) > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// PendingMessages returns the messages waiting in the *next*-superstep
// inbox for vertexID — the inbox being built by the superstep that just
// finished, not yet rolled into current by Swap. The mutation resolver
// runs between COMPUTE and Swap (spec.md §4.3/§4.6), so it must consult
// this buffer, not GetMessages's current one, to see a message just sent
// to a vertex that doesn't exist yet.
func (s *Store) PendingMessages(partitionID graph.PartitionID, vertexID graph.VertexID) []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	byVertex, ok := s.next[partitionID]
	if !ok {
		return nil
	}
	return byVertex[vertexID]
}

// PendingDestinationVertices is GetDestinationVertices's counterpart over
// the pre-Swap next-superstep inbox, for the same reason PendingMessages
// exists: the mutation resolver's create-on-message check must see a
// message that has not rolled into current yet.
func (s *Store) PendingDestinationVertices(partitionID graph.PartitionID) []graph.VertexID {
	s.mu.Lock()
	defer s.mu.Unlock()
	byVertex, ok := s.next[partitionID]
	if !ok {
		return nil
	}
	ids := make([]graph.VertexID, 0, len(byVertex))
	for id, msgs := range byVertex {
		if len(msgs) > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// ClearPartition drops every current-superstep message for partitionID,
// after the superstep controller has finished delivering them.
func (s *Store) ClearPartition(partitionID graph.PartitionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.current, partitionID)
}

// Swap atomically rolls the next-superstep inbox into the current slot and
// clears what had been current — the "barrier law" pivot point of
// spec.md §8: no vertex observes a superstep-s message before superstep
// s+1.
func (s *Store) Swap() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = s.next
	s.next = make(map[graph.PartitionID]map[graph.VertexID][]any)
}

// Entry is one next-superstep inbox message, flattened out of the
// partition/vertex nesting for checkpointing.
type Entry struct {
	PartitionID graph.PartitionID
	VertexID    graph.VertexID
	Value       any
}

// Snapshot flattens the entire next-superstep inbox into a slice of
// Entry, for checkpoint serialization (spec.md §4.6, §6).
func (s *Store) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for pid, byVertex := range s.next {
		for vid, msgs := range byVertex {
			for _, m := range msgs {
				out = append(out, Entry{PartitionID: pid, VertexID: vid, Value: m})
			}
		}
	}
	return out
}

// CurrentSnapshot flattens the frozen current-superstep inbox into a
// slice of Entry. A checkpoint is always written after ROLL_MESSAGES
// (spec.md §4.6: Swap runs before Checkpointer.Save), at which point
// current — not next, which Swap just reset to empty — holds the inbox
// the superstep about to run will read; that is the inbox a checkpoint
// must persist for a restart to see the same messages.
func (s *Store) CurrentSnapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for pid, byVertex := range s.current {
		for vid, msgs := range byVertex {
			for _, m := range msgs {
				out = append(out, Entry{PartitionID: pid, VertexID: vid, Value: m})
			}
		}
	}
	return out
}

// TotalPending returns the number of vertices with at least one pending
// message in the next-superstep inbox, used for the halting law (spec.md
// §8): the job halts only once no messages are in flight.
func (s *Store) TotalPending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, byVertex := range s.next {
		for _, msgs := range byVertex {
			if len(msgs) > 0 {
				total++
			}
		}
	}
	return total
}
