// Package mutation implements the vertex mutation buffer and resolver of
// spec.md §3 (MutationBuffer) and §4.3.
package mutation

import (
	"sort"
	"sync"

	"github.com/szhu33/bspgraph/internal/graph"
)

// Changeset accumulates the pending add/remove requests for one vertex id
// between supersteps.
type Changeset struct {
	AddedVertices []*graph.Vertex
	RemoveVertex  int // count; >0 means at least one removeVertexRequest arrived
	AddedEdges    []graph.Edge
	RemovedEdges  []graph.VertexID // targets to remove the first matching edge of
}

// Buffer is a concurrent mapping vertex-id -> Changeset, drained exactly
// once between supersteps by a Resolver.
type Buffer struct {
	mu   sync.Mutex
	sets map[graph.VertexID]*Changeset
}

// New constructs an empty mutation buffer.
func New() *Buffer {
	return &Buffer{sets: make(map[graph.VertexID]*Changeset)}
}

func (b *Buffer) changesetFor(id graph.VertexID) *Changeset {
	b.mu.Lock()
	defer b.mu.Unlock()
	cs, ok := b.sets[id]
	if !ok {
		cs = &Changeset{}
		b.sets[id] = cs
	}
	return cs
}

// AddVertex buffers a request to add v, keyed by v.ID.
func (b *Buffer) AddVertex(v *graph.Vertex) {
	cs := b.changesetFor(v.ID)
	b.mu.Lock()
	cs.AddedVertices = append(cs.AddedVertices, v)
	b.mu.Unlock()
}

// RemoveVertex buffers a request to remove id.
func (b *Buffer) RemoveVertex(id graph.VertexID) {
	cs := b.changesetFor(id)
	b.mu.Lock()
	cs.RemoveVertex++
	b.mu.Unlock()
}

// AddEdge buffers a request to add an edge from source.
func (b *Buffer) AddEdge(source graph.VertexID, e graph.Edge) {
	cs := b.changesetFor(source)
	b.mu.Lock()
	cs.AddedEdges = append(cs.AddedEdges, e)
	b.mu.Unlock()
}

// RemoveEdge buffers a request to remove the first edge from source to
// target.
func (b *Buffer) RemoveEdge(source, target graph.VertexID) {
	cs := b.changesetFor(source)
	b.mu.Lock()
	cs.RemovedEdges = append(cs.RemovedEdges, target)
	b.mu.Unlock()
}

// Ids returns every vertex id with a pending changeset, in sorted order —
// the resolver must iterate deterministically (spec.md §4.3).
func (b *Buffer) Ids() []graph.VertexID {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]graph.VertexID, 0, len(b.sets))
	for id := range b.sets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Take removes and returns the changeset for id, or nil if none is
// pending.
func (b *Buffer) Take(id graph.VertexID) *Changeset {
	b.mu.Lock()
	defer b.mu.Unlock()
	cs, ok := b.sets[id]
	if !ok {
		return nil
	}
	delete(b.sets, id)
	return cs
}

// Drain removes and returns every pending changeset — used once the whole
// buffer needs to be iterated (spec.md §5: "whole-buffer iteration occurs
// only during APPLY_MUTATIONS when no compute threads are active").
func (b *Buffer) Drain() map[graph.VertexID]*Changeset {
	b.mu.Lock()
	defer b.mu.Unlock()
	drained := b.sets
	b.sets = make(map[graph.VertexID]*Changeset)
	return drained
}
