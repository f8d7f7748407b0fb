package rpc

import (
	"bytes"
	"testing"
)

func TestVertexPayloadRoundTrips(t *testing.T) {
	p := VertexPayload{
		PartitionID: 2,
		Vertices: []VertexRecord{
			{
				ID:    10,
				Value: []byte("v10"),
				Edges: []EdgeRecord{
					{Target: 11, Value: []byte("e1")},
					{Target: 12, Value: nil},
				},
			},
			{ID: 20, Value: []byte("v20")},
		},
	}

	got, err := DecodeVertexPayload(EncodeVertexPayload(p))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.PartitionID != p.PartitionID {
		t.Fatalf("got partition %d, want %d", got.PartitionID, p.PartitionID)
	}
	if len(got.Vertices) != 2 {
		t.Fatalf("got %d vertices, want 2", len(got.Vertices))
	}
	if !bytes.Equal(got.Vertices[0].Value, []byte("v10")) {
		t.Fatalf("got value %q, want v10", got.Vertices[0].Value)
	}
	if len(got.Vertices[0].Edges) != 2 || got.Vertices[0].Edges[0].Target != 11 {
		t.Fatalf("edges did not round-trip: %+v", got.Vertices[0].Edges)
	}
}

func TestWorkerMessagesPayloadRoundTrips(t *testing.T) {
	p := WorkerMessagesPayload{
		Partitions: []PartitionMessages{
			{
				PartitionID: 0,
				Vertices: []VertexMessages{
					{VertexID: 1, Messages: [][]byte{[]byte("m1"), []byte("m2")}},
					{VertexID: 2, Messages: [][]byte{[]byte("m3")}},
				},
			},
		},
	}

	got, err := DecodeWorkerMessagesPayload(EncodeWorkerMessagesPayload(p))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Partitions) != 1 || len(got.Partitions[0].Vertices) != 2 {
		t.Fatalf("got %+v", got)
	}
	if len(got.Partitions[0].Vertices[0].Messages) != 2 {
		t.Fatalf("got %d messages for vertex 1, want 2", len(got.Partitions[0].Vertices[0].Messages))
	}
	if !bytes.Equal(got.Partitions[0].Vertices[0].Messages[1], []byte("m2")) {
		t.Fatalf("got %q, want m2", got.Partitions[0].Vertices[0].Messages[1])
	}
}

func TestPartitionMutationsPayloadRoundTrips(t *testing.T) {
	p := PartitionMutationsPayload{
		PartitionID: 3,
		Mutations: []VertexMutation{
			{
				VertexID:           5,
				AddedVertices:      []VertexRecord{{ID: 50, Value: []byte("new")}},
				RemoveVertexCount:  1,
				AddedEdges:         []EdgeRecord{{Target: 6, Value: []byte("w")}},
				RemovedEdgeTargets: []int64{7, 8},
			},
		},
	}

	got, err := DecodePartitionMutationsPayload(EncodePartitionMutationsPayload(p))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.PartitionID != 3 {
		t.Fatalf("got partition %d, want 3", got.PartitionID)
	}
	if len(got.Mutations) != 1 {
		t.Fatalf("got %d mutations, want 1", len(got.Mutations))
	}
	m := got.Mutations[0]
	if m.RemoveVertexCount != 1 {
		t.Fatalf("got remove count %d, want 1", m.RemoveVertexCount)
	}
	if len(m.AddedVertices) != 1 || m.AddedVertices[0].ID != 50 {
		t.Fatalf("added vertices did not round-trip: %+v", m.AddedVertices)
	}
	if len(m.RemovedEdgeTargets) != 2 || m.RemovedEdgeTargets[1] != 8 {
		t.Fatalf("removed edge targets did not round-trip: %+v", m.RemovedEdgeTargets)
	}
}

func TestAggregatorsPayloadRoundTrips(t *testing.T) {
	p := AggregatorsPayload{
		Aggregators: []AggregatorRecord{
			{Name: "sum", ClassID: "float64", Value: []byte{1, 2, 3}},
			{Name: "max", ClassID: "int64", Value: []byte{4, 5}},
		},
	}

	got, err := DecodeAggregatorsPayload(EncodeAggregatorsPayload(p))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Aggregators) != 2 {
		t.Fatalf("got %d aggregators, want 2", len(got.Aggregators))
	}
	if got.Aggregators[0].Name != "sum" || got.Aggregators[0].ClassID != "float64" {
		t.Fatalf("got %+v", got.Aggregators[0])
	}
	if got.Aggregators[1].Name != "max" || !bytes.Equal(got.Aggregators[1].Value, []byte{4, 5}) {
		t.Fatalf("got %+v", got.Aggregators[1])
	}
}

func TestDecodeVertexPayloadOnEmptyBytesFails(t *testing.T) {
	if _, err := DecodeVertexPayload(nil); err == nil {
		t.Fatalf("expected an error decoding an empty vertex payload")
	}
}
