// Package graph defines the vertex-centric data model: vertices, edges,
// and the capability object (TypeRegistry) that replaces reflected
// class instantiation for vertex/edge/message values.
package graph

// VertexID is totally ordered, comparable, and trivially serializable —
// the three invariants spec.md §3 places on vertex identity. A dense int64
// keeps partition hashing and sorted-iteration (required by the mutation
// resolver) cheap, the same tradeoff the teacher's worker made with plain
// int ids.
type VertexID = int64

// PartitionID is a dense non-negative integer per spec.md §3.
type PartitionID = int32

// Edge is a directed (source implicit, target, value) triple.
type Edge struct {
	Target VertexID
	Value  any
}

// Vertex is this worker's view of a single graph vertex. A Vertex is
// uniquely owned by one Partition at a time; callers receive a borrowed
// pointer valid only for the duration of a compute call or store
// operation — never retain one past that.
type Vertex struct {
	ID     VertexID
	Value  any
	Edges  []Edge
	Halted bool
}

// Clone returns a deep-enough copy for the serialized byte-array partition
// layout to decode into without aliasing the original's edge slice.
func (v *Vertex) Clone() *Vertex {
	c := &Vertex{ID: v.ID, Value: v.Value, Halted: v.Halted}
	c.Edges = make([]Edge, len(v.Edges))
	copy(c.Edges, v.Edges)
	return c
}

// RemoveEdge removes the first edge to target, reporting whether one was
// found. Multi-edges to the same target are permitted; only the first
// match is removed, per spec.md §3.
func (v *Vertex) RemoveEdge(target VertexID) bool {
	for i, e := range v.Edges {
		if e.Target == target {
			v.Edges = append(v.Edges[:i], v.Edges[i+1:]...)
			return true
		}
	}
	return false
}
