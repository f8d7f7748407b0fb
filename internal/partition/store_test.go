package partition

import (
	"bytes"
	"testing"

	"github.com/szhu33/bspgraph/internal/codec"
	"github.com/szhu33/bspgraph/internal/graph"
)

func TestResidentStoreAddGetRoundTrip(t *testing.T) {
	s := NewResident(LayoutMap, codec.Msgpack{}, nil)
	p := s.NewPartition(1)
	p.Put(&graph.Vertex{ID: 10, Value: 1.0})

	if err := s.Add(p); err != nil {
		t.Fatalf("add: %v", err)
	}
	got, err := s.Get(1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	v, ok := got.Get(10)
	if !ok {
		t.Fatalf("expected vertex 10 to be present")
	}
	if v.Value.(float64) != 1.0 {
		t.Fatalf("got value %v, want 1.0", v.Value)
	}
}

func TestResidentStoreGetMissingReturnsErrNotFound(t *testing.T) {
	s := NewResident(LayoutMap, codec.Msgpack{}, nil)
	if _, err := s.Get(42); err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestResidentStoreAddMergesOnConflictLastWriteWins(t *testing.T) {
	s := NewResident(LayoutMap, codec.Msgpack{}, nil)

	first := s.NewPartition(1)
	first.Put(&graph.Vertex{ID: 10, Value: "old"})
	if err := s.Add(first); err != nil {
		t.Fatalf("add first: %v", err)
	}

	second := s.NewPartition(1)
	second.Put(&graph.Vertex{ID: 10, Value: "new"})
	second.Put(&graph.Vertex{ID: 11, Value: "fresh"})
	if err := s.Add(second); err != nil {
		t.Fatalf("add second: %v", err)
	}

	merged, err := s.Get(1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	v, _ := merged.Get(10)
	if v.Value != "new" {
		t.Fatalf("got %v, want last-write-wins value %q", v.Value, "new")
	}
	if merged.VertexCount() != 2 {
		t.Fatalf("got %d vertices after merge, want 2", merged.VertexCount())
	}
}

func TestMapPartitionWriteToReadFromRoundTrips(t *testing.T) {
	c := codec.Msgpack{}
	p := NewMap(5, c)
	p.Put(&graph.Vertex{ID: 1, Value: 1.0, Edges: []graph.Edge{{Target: 2, Value: 0.5}}})
	p.Put(&graph.Vertex{ID: 2, Value: 2.0})

	var buf bytes.Buffer
	if err := p.WriteTo(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}

	restored := NewMap(0, c)
	if err := restored.ReadFrom(&buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if restored.ID() != 5 {
		t.Fatalf("got restored id %d, want 5", restored.ID())
	}
	v1, ok := restored.Get(1)
	if !ok {
		t.Fatalf("expected vertex 1 after restore")
	}
	if v1.Value.(float64) != 1.0 {
		t.Fatalf("got vertex 1 value %v, want 1.0", v1.Value)
	}
	if len(v1.Edges) != 1 || v1.Edges[0].Target != 2 {
		t.Fatalf("got edges %+v, want one edge to 2", v1.Edges)
	}
	if restored.VertexCount() != 2 {
		t.Fatalf("got %d vertices after restore, want 2", restored.VertexCount())
	}
}

func TestByteArrayPartitionWriteToReadFromRoundTrips(t *testing.T) {
	c := codec.Msgpack{}
	p := NewByteArray(7, c)
	p.Put(&graph.Vertex{ID: 1, Value: "hello"})

	var buf bytes.Buffer
	if err := p.WriteTo(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}

	restored := NewByteArray(0, c)
	if err := restored.ReadFrom(&buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	v, ok := restored.Get(1)
	if !ok {
		t.Fatalf("expected vertex 1 after restore")
	}
	if v.Value != "hello" {
		t.Fatalf("got %v, want hello", v.Value)
	}
}
