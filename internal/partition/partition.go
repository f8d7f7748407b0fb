// Package partition implements the Partition and Partition Store
// components of spec.md §3/§4.1: the object that owns a worker's share of
// the graph, and the two store variants (resident, disk-backed) that hold
// many of them.
package partition

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/szhu33/bspgraph/internal/graph"
)

// Partition is the common capability set Design Notes §9 asks for in place
// of a deep vertex-class hierarchy: iterate, put, lookup, serialize. Both
// physical layouts (object map, serialized byte-array) implement it, and
// user compute code only ever sees this interface.
type Partition interface {
	ID() graph.PartitionID
	Put(v *graph.Vertex)
	Get(id graph.VertexID) (*graph.Vertex, bool)
	Delete(id graph.VertexID)
	Has(id graph.VertexID) bool
	// Iterate calls fn for every vertex in sorted-id order (required by the
	// mutation resolver, spec.md §4.3, for deterministic application).
	Iterate(fn func(v *graph.Vertex) bool)
	VertexCount() int
	EdgeCount() int
	WriteTo(w io.Writer) error
	ReadFrom(r io.Reader) error
}

// mapPartition is the direct object-map layout: a live map of *graph.Vertex,
// chosen by PARTITION_CLASS when memory pressure is not the bottleneck.
type mapPartition struct {
	mu       sync.RWMutex
	id       graph.PartitionID
	vertices map[graph.VertexID]*graph.Vertex
	edges    int
	codec    graph.Codec
}

// NewMap constructs the object-map partition layout.
func NewMap(id graph.PartitionID, codec graph.Codec) Partition {
	return &mapPartition{
		id:       id,
		vertices: make(map[graph.VertexID]*graph.Vertex),
		codec:    codec,
	}
}

func (p *mapPartition) ID() graph.PartitionID { return p.id }

func (p *mapPartition) Put(v *graph.Vertex) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if old, ok := p.vertices[v.ID]; ok {
		p.edges -= len(old.Edges)
	}
	p.vertices[v.ID] = v
	p.edges += len(v.Edges)
}

func (p *mapPartition) Get(id graph.VertexID) (*graph.Vertex, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.vertices[id]
	return v, ok
}

func (p *mapPartition) Delete(id graph.VertexID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if old, ok := p.vertices[id]; ok {
		p.edges -= len(old.Edges)
		delete(p.vertices, id)
	}
}

func (p *mapPartition) Has(id graph.VertexID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.vertices[id]
	return ok
}

func (p *mapPartition) Iterate(fn func(v *graph.Vertex) bool) {
	p.mu.RLock()
	ids := make([]graph.VertexID, 0, len(p.vertices))
	for id := range p.vertices {
		ids = append(ids, id)
	}
	p.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		p.mu.RLock()
		v, ok := p.vertices[id]
		p.mu.RUnlock()
		if !ok {
			continue
		}
		if !fn(v) {
			return
		}
	}
}

func (p *mapPartition) VertexCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.vertices)
}

func (p *mapPartition) EdgeCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.edges
}

// on-disk/wire layout for a partition, shared by both Partition
// implementations so that WriteTo/ReadFrom round-trip across layouts:
//
//	int32 partitionID
//	int32 vertexCount
//	for each vertex:
//	  int64 id
//	  uint32 valueLen, valueBytes
//	  int32  edgeCount
//	  for each edge: int64 target, uint32 valueLen, valueBytes
//	  byte   halted
func (p *mapPartition) WriteTo(w io.Writer) error {
	var vertices []*graph.Vertex
	p.Iterate(func(v *graph.Vertex) bool { vertices = append(vertices, v); return true })
	return writePartition(w, p.id, vertices, p.codec)
}

func (p *mapPartition) ReadFrom(r io.Reader) error {
	id, vertices, err := readPartition(r, p.codec)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.id = id
	p.vertices = make(map[graph.VertexID]*graph.Vertex, len(vertices))
	p.edges = 0
	for _, v := range vertices {
		p.vertices[v.ID] = v
		p.edges += len(v.Edges)
	}
	return nil
}

func writePartition(w io.Writer, id graph.PartitionID, vertices []*graph.Vertex, codec graph.Codec) error {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(id))
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(vertices)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	sort.Slice(vertices, func(i, j int) bool { return vertices[i].ID < vertices[j].ID })
	for _, v := range vertices {
		if err := writeVertex(w, v, codec); err != nil {
			return fmt.Errorf("partition %d: write vertex %d: %w", id, v.ID, err)
		}
	}
	return nil
}

func readPartition(r io.Reader, codec graph.Codec) (graph.PartitionID, []*graph.Vertex, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	id := graph.PartitionID(binary.BigEndian.Uint32(hdr[0:4]))
	count := binary.BigEndian.Uint32(hdr[4:8])
	vertices := make([]*graph.Vertex, 0, count)
	for i := uint32(0); i < count; i++ {
		v, err := readVertex(r, codec)
		if err != nil {
			return 0, nil, fmt.Errorf("partition %d: read vertex %d: %w", id, i, err)
		}
		vertices = append(vertices, v)
	}
	return id, vertices, nil
}

func writeVertex(w io.Writer, v *graph.Vertex, codec graph.Codec) error {
	var idBuf [8]byte
	binary.BigEndian.PutUint64(idBuf[:], uint64(v.ID))
	if _, err := w.Write(idBuf[:]); err != nil {
		return err
	}
	valBytes, err := codec.Encode(v.Value)
	if err != nil {
		return err
	}
	if err := writeLenPrefixed(w, valBytes); err != nil {
		return err
	}
	var cntBuf [4]byte
	binary.BigEndian.PutUint32(cntBuf[:], uint32(len(v.Edges)))
	if _, err := w.Write(cntBuf[:]); err != nil {
		return err
	}
	for _, e := range v.Edges {
		var tgtBuf [8]byte
		binary.BigEndian.PutUint64(tgtBuf[:], uint64(e.Target))
		if _, err := w.Write(tgtBuf[:]); err != nil {
			return err
		}
		evBytes, err := codec.Encode(e.Value)
		if err != nil {
			return err
		}
		if err := writeLenPrefixed(w, evBytes); err != nil {
			return err
		}
	}
	halted := byte(0)
	if v.Halted {
		halted = 1
	}
	_, err = w.Write([]byte{halted})
	return err
}

func readVertex(r io.Reader, codec graph.Codec) (*graph.Vertex, error) {
	var idBuf [8]byte
	if _, err := io.ReadFull(r, idBuf[:]); err != nil {
		return nil, err
	}
	v := &graph.Vertex{ID: graph.VertexID(binary.BigEndian.Uint64(idBuf[:]))}

	valBytes, err := readLenPrefixed(r)
	if err != nil {
		return nil, err
	}
	var value any
	if err := codec.Decode(valBytes, &value); err != nil {
		return nil, err
	}
	v.Value = value

	var cntBuf [4]byte
	if _, err := io.ReadFull(r, cntBuf[:]); err != nil {
		return nil, err
	}
	edgeCount := binary.BigEndian.Uint32(cntBuf[:])
	v.Edges = make([]graph.Edge, edgeCount)
	for i := range v.Edges {
		var tgtBuf [8]byte
		if _, err := io.ReadFull(r, tgtBuf[:]); err != nil {
			return nil, err
		}
		evBytes, err := readLenPrefixed(r)
		if err != nil {
			return nil, err
		}
		var ev any
		if err := codec.Decode(evBytes, &ev); err != nil {
			return nil, err
		}
		v.Edges[i] = graph.Edge{Target: graph.VertexID(binary.BigEndian.Uint64(tgtBuf[:])), Value: ev}
	}

	var haltedBuf [1]byte
	if _, err := io.ReadFull(r, haltedBuf[:]); err != nil {
		return nil, err
	}
	v.Halted = haltedBuf[0] == 1
	return v, nil
}

func writeLenPrefixed(w io.Writer, b []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readLenPrefixed(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
