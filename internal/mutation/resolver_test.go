package mutation

import (
	"testing"

	"github.com/szhu33/bspgraph/internal/codec"
	"github.com/szhu33/bspgraph/internal/graph"
	"github.com/szhu33/bspgraph/internal/message"
	"github.com/szhu33/bspgraph/internal/partassign"
	"github.com/szhu33/bspgraph/internal/partition"
)

func newResolver(createOnMessage bool) (*Resolver, partition.Store) {
	store := partition.NewResident(partition.LayoutMap, codec.Msgpack{}, nil)
	r := &Resolver{
		Store:           store,
		Registry:        &graph.TypeRegistry{NewVertexValue: func() any { v := 0.0; return &v }, Codec: codec.Msgpack{}},
		Partitioner:     partassign.FNV,
		NumPartitions:   4,
		CreateOnMessage: createOnMessage,
		Log:             nil,
	}
	return r, store
}

func getVertex(t *testing.T, store partition.Store, partitioner partassign.Func, numPartitions int, id graph.VertexID) (*graph.Vertex, bool) {
	pid := partitioner(id, numPartitions)
	p, err := store.Get(pid)
	if err != nil {
		return nil, false
	}
	return p.Get(id)
}

func TestResolverAddsVertex(t *testing.T) {
	r, store := newResolver(false)
	buf := New()
	buf.AddVertex(&graph.Vertex{ID: 1, Value: "x"})

	msgs := message.New(nil)
	if err := r.Apply(buf, msgs); err != nil {
		t.Fatalf("apply: %v", err)
	}

	v, ok := getVertex(t, store, r.Partitioner, r.NumPartitions, 1)
	if !ok {
		t.Fatalf("expected vertex 1 to have been added")
	}
	if v.Value != "x" {
		t.Fatalf("got %v, want x", v.Value)
	}
}

func TestResolverDuplicateAddKeepsFirstAndWarns(t *testing.T) {
	r, store := newResolver(false)
	buf := New()
	buf.AddVertex(&graph.Vertex{ID: 1, Value: "first"})
	buf.AddVertex(&graph.Vertex{ID: 1, Value: "second"})

	msgs := message.New(nil)
	if err := r.Apply(buf, msgs); err == nil {
		t.Fatalf("expected a warning about the dropped duplicate add")
	}

	v, _ := getVertex(t, store, r.Partitioner, r.NumPartitions, 1)
	if v.Value != "first" {
		t.Fatalf("got %v, want the first add to win", v.Value)
	}
}

func TestResolverRemoveVertexDeletesIt(t *testing.T) {
	r, store := newResolver(false)

	seed := New()
	seed.AddVertex(&graph.Vertex{ID: 1, Value: "x"})
	if err := r.Apply(seed, message.New(nil)); err != nil {
		t.Fatalf("seed apply: %v", err)
	}

	remove := New()
	remove.RemoveVertex(1)
	if err := r.Apply(remove, message.New(nil)); err != nil {
		t.Fatalf("remove apply: %v", err)
	}

	if _, ok := getVertex(t, store, r.Partitioner, r.NumPartitions, 1); ok {
		t.Fatalf("expected vertex 1 to be gone after removeVertex")
	}
}

func TestResolverRemoveEdgeWithNoMatchWarns(t *testing.T) {
	r, _ := newResolver(false)

	seed := New()
	seed.AddVertex(&graph.Vertex{ID: 1, Value: "x"})
	if err := r.Apply(seed, message.New(nil)); err != nil {
		t.Fatalf("seed apply: %v", err)
	}

	buf := New()
	buf.RemoveEdge(1, 99)
	if err := r.Apply(buf, message.New(nil)); err == nil {
		t.Fatalf("expected a warning about the missing edge")
	}
}

func TestResolverCreatesVertexOnMessageWhenEnabled(t *testing.T) {
	r, store := newResolver(true)
	msgs := message.New(nil)

	// Apply runs before Swap in the real controller (spec.md §4.6): the
	// message just sent this superstep sits in the pre-Swap next buffer,
	// which PendingDestinationVertices/PendingMessages read directly.
	pid := r.Partitioner(5, r.NumPartitions)
	msgs.AddMessage(pid, 5, 1.0)

	if err := r.Apply(New(), msgs); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if _, ok := getVertex(t, store, r.Partitioner, r.NumPartitions, 5); !ok {
		t.Fatalf("expected vertex 5 to be created for its pending message")
	}
}

func TestResolverDoesNotCreateVertexOnMessageWhenDisabled(t *testing.T) {
	r, store := newResolver(false)
	msgs := message.New(nil)

	pid := r.Partitioner(5, r.NumPartitions)
	msgs.AddMessage(pid, 5, 1.0)

	if err := r.Apply(New(), msgs); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if _, ok := getVertex(t, store, r.Partitioner, r.NumPartitions, 5); ok {
		t.Fatalf("expected vertex 5 to stay absent when RESOLVER_CREATE_VERTEX_ON_MESSAGE is off")
	}
}
