package rpc

import (
	"bytes"
	"encoding/binary"
	"io"
)

// Payload encodings for the request types spec.md §6 describes in detail.
// Vertex/partition ids are written as fixed 8/4-byte big-endian integers;
// "length-prefixed bytes" fields carry an opaque, already-codec-encoded
// value (see internal/graph.Codec) so the wire format never needs to know
// concrete vertex/edge/message value types.

// VertexRecord is one vertex as carried by TypeSendVertex.
type VertexRecord struct {
	ID    int64
	Value []byte
	Edges []EdgeRecord
}

// EdgeRecord is one edge as carried by TypeSendVertex / mutation payloads.
type EdgeRecord struct {
	Target int64
	Value  []byte
}

// VertexPayload is the TypeSendVertex body: partition-id, vertex-count,
// then each vertex.
type VertexPayload struct {
	PartitionID int32
	Vertices    []VertexRecord
}

func EncodeVertexPayload(p VertexPayload) []byte {
	var buf bytes.Buffer
	writeInt32(&buf, p.PartitionID)
	writeUint32(&buf, uint32(len(p.Vertices)))
	for _, v := range p.Vertices {
		writeVertexRecord(&buf, v)
	}
	return buf.Bytes()
}

func DecodeVertexPayload(b []byte) (VertexPayload, error) {
	r := bytes.NewReader(b)
	pid, err := readInt32(r)
	if err != nil {
		return VertexPayload{}, err
	}
	count, err := readUint32(r)
	if err != nil {
		return VertexPayload{}, err
	}
	vertices := make([]VertexRecord, count)
	for i := range vertices {
		v, err := readVertexRecord(r)
		if err != nil {
			return VertexPayload{}, err
		}
		vertices[i] = v
	}
	return VertexPayload{PartitionID: pid, Vertices: vertices}, nil
}

func writeVertexRecord(w io.Writer, v VertexRecord) {
	writeInt64(w, v.ID)
	writeLenPrefixed(w, v.Value)
	writeUint32(w, uint32(len(v.Edges)))
	for _, e := range v.Edges {
		writeInt64(w, e.Target)
		writeLenPrefixed(w, e.Value)
	}
}

func readVertexRecord(r io.Reader) (VertexRecord, error) {
	id, err := readInt64(r)
	if err != nil {
		return VertexRecord{}, err
	}
	value, err := readLenPrefixed(r)
	if err != nil {
		return VertexRecord{}, err
	}
	edgeCount, err := readUint32(r)
	if err != nil {
		return VertexRecord{}, err
	}
	edges := make([]EdgeRecord, edgeCount)
	for i := range edges {
		target, err := readInt64(r)
		if err != nil {
			return VertexRecord{}, err
		}
		val, err := readLenPrefixed(r)
		if err != nil {
			return VertexRecord{}, err
		}
		edges[i] = EdgeRecord{Target: target, Value: val}
	}
	return VertexRecord{ID: id, Value: value, Edges: edges}, nil
}

// VertexMessages is one destination vertex's message list within a
// partition, as carried by TypeSendWorkerMessages.
type VertexMessages struct {
	VertexID int64
	Messages [][]byte
}

// PartitionMessages groups VertexMessages under their destination
// partition id.
type PartitionMessages struct {
	PartitionID int32
	Vertices    []VertexMessages
}

// WorkerMessagesPayload is the TypeSendWorkerMessages body: list of
// (partition-id, list of (vertex-id, list of message bytes)).
type WorkerMessagesPayload struct {
	Partitions []PartitionMessages
}

func EncodeWorkerMessagesPayload(p WorkerMessagesPayload) []byte {
	var buf bytes.Buffer
	writeUint32(&buf, uint32(len(p.Partitions)))
	for _, part := range p.Partitions {
		writeInt32(&buf, part.PartitionID)
		writeUint32(&buf, uint32(len(part.Vertices)))
		for _, vm := range part.Vertices {
			writeInt64(&buf, vm.VertexID)
			writeUint32(&buf, uint32(len(vm.Messages)))
			for _, m := range vm.Messages {
				writeLenPrefixed(&buf, m)
			}
		}
	}
	return buf.Bytes()
}

func DecodeWorkerMessagesPayload(b []byte) (WorkerMessagesPayload, error) {
	r := bytes.NewReader(b)
	partCount, err := readUint32(r)
	if err != nil {
		return WorkerMessagesPayload{}, err
	}
	parts := make([]PartitionMessages, partCount)
	for i := range parts {
		pid, err := readInt32(r)
		if err != nil {
			return WorkerMessagesPayload{}, err
		}
		vCount, err := readUint32(r)
		if err != nil {
			return WorkerMessagesPayload{}, err
		}
		verts := make([]VertexMessages, vCount)
		for j := range verts {
			vid, err := readInt64(r)
			if err != nil {
				return WorkerMessagesPayload{}, err
			}
			mCount, err := readUint32(r)
			if err != nil {
				return WorkerMessagesPayload{}, err
			}
			msgs := make([][]byte, mCount)
			for k := range msgs {
				msgs[k], err = readLenPrefixed(r)
				if err != nil {
					return WorkerMessagesPayload{}, err
				}
			}
			verts[j] = VertexMessages{VertexID: vid, Messages: msgs}
		}
		parts[i] = PartitionMessages{PartitionID: pid, Vertices: verts}
	}
	return WorkerMessagesPayload{Partitions: parts}, nil
}

// VertexMutation is one vertex's changeset as carried by
// TypeSendPartitionMutations.
type VertexMutation struct {
	VertexID           int64
	AddedVertices      []VertexRecord
	RemoveVertexCount  uint32
	AddedEdges         []EdgeRecord
	RemovedEdgeTargets []int64
}

// PartitionMutationsPayload is the TypeSendPartitionMutations body:
// partition-id then list of (vertex-id, changeset).
type PartitionMutationsPayload struct {
	PartitionID int32
	Mutations   []VertexMutation
}

func EncodePartitionMutationsPayload(p PartitionMutationsPayload) []byte {
	var buf bytes.Buffer
	writeInt32(&buf, p.PartitionID)
	writeUint32(&buf, uint32(len(p.Mutations)))
	for _, m := range p.Mutations {
		writeInt64(&buf, m.VertexID)
		writeUint32(&buf, uint32(len(m.AddedVertices)))
		for _, v := range m.AddedVertices {
			writeVertexRecord(&buf, v)
		}
		writeUint32(&buf, m.RemoveVertexCount)
		writeUint32(&buf, uint32(len(m.AddedEdges)))
		for _, e := range m.AddedEdges {
			writeInt64(&buf, e.Target)
			writeLenPrefixed(&buf, e.Value)
		}
		writeUint32(&buf, uint32(len(m.RemovedEdgeTargets)))
		for _, t := range m.RemovedEdgeTargets {
			writeInt64(&buf, t)
		}
	}
	return buf.Bytes()
}

func DecodePartitionMutationsPayload(b []byte) (PartitionMutationsPayload, error) {
	r := bytes.NewReader(b)
	pid, err := readInt32(r)
	if err != nil {
		return PartitionMutationsPayload{}, err
	}
	count, err := readUint32(r)
	if err != nil {
		return PartitionMutationsPayload{}, err
	}
	muts := make([]VertexMutation, count)
	for i := range muts {
		vid, err := readInt64(r)
		if err != nil {
			return PartitionMutationsPayload{}, err
		}
		addedCount, err := readUint32(r)
		if err != nil {
			return PartitionMutationsPayload{}, err
		}
		added := make([]VertexRecord, addedCount)
		for j := range added {
			added[j], err = readVertexRecord(r)
			if err != nil {
				return PartitionMutationsPayload{}, err
			}
		}
		removeCount, err := readUint32(r)
		if err != nil {
			return PartitionMutationsPayload{}, err
		}
		edgeAddCount, err := readUint32(r)
		if err != nil {
			return PartitionMutationsPayload{}, err
		}
		edgesAdded := make([]EdgeRecord, edgeAddCount)
		for j := range edgesAdded {
			target, err := readInt64(r)
			if err != nil {
				return PartitionMutationsPayload{}, err
			}
			val, err := readLenPrefixed(r)
			if err != nil {
				return PartitionMutationsPayload{}, err
			}
			edgesAdded[j] = EdgeRecord{Target: target, Value: val}
		}
		edgeRemoveCount, err := readUint32(r)
		if err != nil {
			return PartitionMutationsPayload{}, err
		}
		removed := make([]int64, edgeRemoveCount)
		for j := range removed {
			removed[j], err = readInt64(r)
			if err != nil {
				return PartitionMutationsPayload{}, err
			}
		}
		muts[i] = VertexMutation{
			VertexID:           vid,
			AddedVertices:      added,
			RemoveVertexCount:  removeCount,
			AddedEdges:         edgesAdded,
			RemovedEdgeTargets: removed,
		}
	}
	return PartitionMutationsPayload{PartitionID: pid, Mutations: muts}, nil
}

// AggregatorRecord is one aggregator's broadcast value, as carried by
// TypeSendAggregatorsToWorker.
type AggregatorRecord struct {
	Name    string
	ClassID string
	Value   []byte
}

// AggregatorsPayload is the TypeSendAggregatorsToWorker body: 4-byte
// count, then per aggregator (UTF name, UTF class identifier, value
// bytes).
type AggregatorsPayload struct {
	Aggregators []AggregatorRecord
}

func EncodeAggregatorsPayload(p AggregatorsPayload) []byte {
	var buf bytes.Buffer
	writeUint32(&buf, uint32(len(p.Aggregators)))
	for _, a := range p.Aggregators {
		writeUTF(&buf, a.Name)
		writeUTF(&buf, a.ClassID)
		writeLenPrefixed(&buf, a.Value)
	}
	return buf.Bytes()
}

func DecodeAggregatorsPayload(b []byte) (AggregatorsPayload, error) {
	r := bytes.NewReader(b)
	count, err := readUint32(r)
	if err != nil {
		return AggregatorsPayload{}, err
	}
	aggs := make([]AggregatorRecord, count)
	for i := range aggs {
		name, err := readUTF(r)
		if err != nil {
			return AggregatorsPayload{}, err
		}
		class, err := readUTF(r)
		if err != nil {
			return AggregatorsPayload{}, err
		}
		val, err := readLenPrefixed(r)
		if err != nil {
			return AggregatorsPayload{}, err
		}
		aggs[i] = AggregatorRecord{Name: name, ClassID: class, Value: val}
	}
	return AggregatorsPayload{Aggregators: aggs}, nil
}

// --- low level helpers shared by all payload encodings ---

func writeInt32(w io.Writer, v int32)  { writeUint32(w, uint32(v)) }
func writeInt64(w io.Writer, v int64)  { writeUint64(w, uint64(v)) }

func writeUint32(w io.Writer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.Write(b[:])
}

func writeUint64(w io.Writer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.Write(b[:])
}

func writeLenPrefixed(w io.Writer, b []byte) {
	writeUint32(w, uint32(len(b)))
	w.Write(b)
}

func writeUTF(w io.Writer, s string) {
	writeLenPrefixed(w, []byte(s))
}

func readInt32(r io.Reader) (int32, error) {
	v, err := readUint32(r)
	return int32(v), err
}

func readInt64(r io.Reader) (int64, error) {
	v, err := readUint64(r)
	return int64(v), err
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func readLenPrefixed(r io.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func readUTF(r io.Reader) (string, error) {
	b, err := readLenPrefixed(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
