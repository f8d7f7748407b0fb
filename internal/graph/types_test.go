package graph

import (
	"testing"

	"github.com/szhu33/bspgraph/internal/codec"
)

func floatRegistry() *TypeRegistry {
	return &TypeRegistry{
		NewVertexValue:  func() any { v := new(float64); return v },
		NewEdgeValue:    func() any { v := new(float64); return v },
		NewMessageValue: func() any { v := new(float64); return v },
		Codec:           codec.Msgpack{},
	}
}

func TestDecodeVertexValueReturnsPointer(t *testing.T) {
	r := floatRegistry()
	encoded, err := r.Codec.Encode(3.5)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := r.DecodeVertexValue(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	p, ok := decoded.(*float64)
	if !ok {
		t.Fatalf("got %T, want *float64", decoded)
	}
	if *p != 3.5 {
		t.Fatalf("got %v, want 3.5", *p)
	}
}

func TestDecodeMessageValueDereferences(t *testing.T) {
	r := floatRegistry()
	encoded, err := r.Codec.Encode(1.25)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := r.DecodeMessageValue(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	v, ok := decoded.(float64)
	if !ok {
		t.Fatalf("got %T, want float64 (dereferenced), not a pointer", decoded)
	}
	if v != 1.25 {
		t.Fatalf("got %v, want 1.25", v)
	}
}

func TestCombinerSumsMessages(t *testing.T) {
	c := &Combiner{
		Initial: func() any { return 0.0 },
		Combine: func(a, b any) any { return a.(float64) + b.(float64) },
	}
	acc := c.Initial()
	acc = c.Combine(acc, 2.0)
	acc = c.Combine(acc, 5.0)
	if acc.(float64) != 7.0 {
		t.Fatalf("got %v, want 7", acc)
	}
}

func TestVertexCloneIsIndependent(t *testing.T) {
	v := &Vertex{ID: 1, Value: 10.0, Edges: []Edge{{Target: 2}, {Target: 3}}}
	clone := v.Clone()
	clone.Edges[0].Target = 99
	if v.Edges[0].Target == 99 {
		t.Fatalf("mutating clone's edges mutated the original")
	}
}

func TestVertexRemoveEdge(t *testing.T) {
	v := &Vertex{ID: 1, Edges: []Edge{{Target: 2}, {Target: 3}, {Target: 4}}}
	if !v.RemoveEdge(3) {
		t.Fatalf("expected RemoveEdge(3) to report removal")
	}
	if len(v.Edges) != 2 {
		t.Fatalf("got %d edges, want 2", len(v.Edges))
	}
	for _, e := range v.Edges {
		if e.Target == 3 {
			t.Fatalf("edge with target 3 still present after RemoveEdge")
		}
	}
	if v.RemoveEdge(999) {
		t.Fatalf("RemoveEdge on absent target should report false")
	}
}
