// Package dispatch batches vertex-addressed outgoing work — messages and
// mutation requests — by destination partition and flushes each
// destination's batch as a single RPC request once it crosses a soft size
// threshold or FlushAll is called at the FLUSH_REQUESTS boundary of the
// superstep state machine (spec.md §4.2, §5).
package dispatch

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/szhu33/bspgraph/internal/graph"
	"github.com/szhu33/bspgraph/internal/rpc"
)

// PartitionLocator answers which worker currently owns a partition. The
// master's global partition-assignment table (out of scope per spec.md
// §1) is the source of truth; the dispatcher only needs to ask it.
type PartitionLocator func(id graph.PartitionID) (workerID uint32, err error)

// defaultSoftBatchBytes is the soft per-destination-partition batch size
// before a flush is forced: 64 KiB, sixteen times rpc.compressThreshold
// (4096 bytes), so a full batch is always a zstd candidate.
const defaultSoftBatchBytes = 1 << 16

type pendingMutation struct {
	vertexID           graph.VertexID
	addedVertices      []rpc.VertexRecord
	removeVertexCount  uint32
	addedEdges         []rpc.EdgeRecord
	removedEdgeTargets []int64
}

// Outbox accumulates one worker's outgoing messages and mutation requests,
// grouped by destination partition, and flushes each group as a single
// framed request via an rpc.Client.
type Outbox struct {
	client        *rpc.Client
	locator       PartitionLocator
	registry      *graph.TypeRegistry
	softBatchSize int
	log           *logrus.Entry

	mu            sync.Mutex
	messages      map[graph.PartitionID]map[graph.VertexID][][]byte
	messageBytes  map[graph.PartitionID]int
	mutations     map[graph.PartitionID]map[graph.VertexID]*pendingMutation
	mutationBytes map[graph.PartitionID]int
}

// New constructs an Outbox. softBatchSize <= 0 uses defaultSoftBatchBytes.
func New(client *rpc.Client, locator PartitionLocator, registry *graph.TypeRegistry, softBatchSize int, log *logrus.Entry) *Outbox {
	if softBatchSize <= 0 {
		softBatchSize = defaultSoftBatchBytes
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Outbox{
		client:        client,
		locator:       locator,
		registry:      registry,
		softBatchSize: softBatchSize,
		log:           log,
		messages:      make(map[graph.PartitionID]map[graph.VertexID][][]byte),
		messageBytes:  make(map[graph.PartitionID]int),
		mutations:     make(map[graph.PartitionID]map[graph.VertexID]*pendingMutation),
		mutationBytes: make(map[graph.PartitionID]int),
	}
}

// EnqueueMessage encodes value with the configured message codec and
// buffers it for destination (partitionID, vertexID), flushing the whole
// partition's message batch if it has grown past the soft threshold.
func (o *Outbox) EnqueueMessage(partitionID graph.PartitionID, vertexID graph.VertexID, value any) error {
	encoded, err := o.registry.Codec.Encode(value)
	if err != nil {
		return fmt.Errorf("dispatch: encode message: %w", err)
	}

	o.mu.Lock()
	byVertex, ok := o.messages[partitionID]
	if !ok {
		byVertex = make(map[graph.VertexID][][]byte)
		o.messages[partitionID] = byVertex
	}
	byVertex[vertexID] = append(byVertex[vertexID], encoded)
	o.messageBytes[partitionID] += len(encoded) + 8
	overflow := o.messageBytes[partitionID] >= o.softBatchSize
	o.mu.Unlock()

	if overflow {
		return o.flushMessages(partitionID)
	}
	return nil
}

func (o *Outbox) mutationFor(partitionID graph.PartitionID, vertexID graph.VertexID) *pendingMutation {
	byVertex, ok := o.mutations[partitionID]
	if !ok {
		byVertex = make(map[graph.VertexID]*pendingMutation)
		o.mutations[partitionID] = byVertex
	}
	m, ok := byVertex[vertexID]
	if !ok {
		m = &pendingMutation{vertexID: vertexID}
		byVertex[vertexID] = m
	}
	return m
}

// EnqueueAddVertex buffers an addVertexRequest for v, destined for
// partitionID.
func (o *Outbox) EnqueueAddVertex(partitionID graph.PartitionID, v *graph.Vertex) error {
	rec, size, err := o.encodeVertexRecord(v)
	if err != nil {
		return err
	}
	o.mu.Lock()
	m := o.mutationFor(partitionID, v.ID)
	m.addedVertices = append(m.addedVertices, rec)
	o.mutationBytes[partitionID] += size
	overflow := o.mutationBytes[partitionID] >= o.softBatchSize
	o.mu.Unlock()
	if overflow {
		return o.flushMutations(partitionID)
	}
	return nil
}

// EnqueueRemoveVertex buffers a removeVertexRequest for vertexID.
func (o *Outbox) EnqueueRemoveVertex(partitionID graph.PartitionID, vertexID graph.VertexID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m := o.mutationFor(partitionID, vertexID)
	m.removeVertexCount++
	o.mutationBytes[partitionID] += 4
}

// EnqueueAddEdge buffers an addEdgeRequest from source to e.Target.
func (o *Outbox) EnqueueAddEdge(partitionID graph.PartitionID, source graph.VertexID, e graph.Edge) error {
	encoded, err := o.registry.Codec.Encode(e.Value)
	if err != nil {
		return fmt.Errorf("dispatch: encode edge value: %w", err)
	}
	o.mu.Lock()
	m := o.mutationFor(partitionID, source)
	m.addedEdges = append(m.addedEdges, rpc.EdgeRecord{Target: e.Target, Value: encoded})
	o.mutationBytes[partitionID] += 8 + len(encoded)
	overflow := o.mutationBytes[partitionID] >= o.softBatchSize
	o.mu.Unlock()
	if overflow {
		return o.flushMutations(partitionID)
	}
	return nil
}

// EnqueueRemoveEdge buffers a removeEdgeRequest from source to target.
func (o *Outbox) EnqueueRemoveEdge(partitionID graph.PartitionID, source, target graph.VertexID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m := o.mutationFor(partitionID, source)
	m.removedEdgeTargets = append(m.removedEdgeTargets, target)
	o.mutationBytes[partitionID] += 8
}

func (o *Outbox) encodeVertexRecord(v *graph.Vertex) (rpc.VertexRecord, int, error) {
	valBytes, err := o.registry.Codec.Encode(v.Value)
	if err != nil {
		return rpc.VertexRecord{}, 0, fmt.Errorf("dispatch: encode vertex value: %w", err)
	}
	edges := make([]rpc.EdgeRecord, len(v.Edges))
	size := 8 + len(valBytes) + 4
	for i, e := range v.Edges {
		eb, err := o.registry.Codec.Encode(e.Value)
		if err != nil {
			return rpc.VertexRecord{}, 0, fmt.Errorf("dispatch: encode edge value: %w", err)
		}
		edges[i] = rpc.EdgeRecord{Target: e.Target, Value: eb}
		size += 8 + len(eb)
	}
	return rpc.VertexRecord{ID: v.ID, Value: valBytes, Edges: edges}, size, nil
}

// flushMessages sends and clears the buffered message batch for
// partitionID, if any.
func (o *Outbox) flushMessages(partitionID graph.PartitionID) error {
	o.mu.Lock()
	byVertex, ok := o.messages[partitionID]
	if !ok || len(byVertex) == 0 {
		o.mu.Unlock()
		return nil
	}
	delete(o.messages, partitionID)
	delete(o.messageBytes, partitionID)
	o.mu.Unlock()

	vertices := make([]rpc.VertexMessages, 0, len(byVertex))
	for id, msgs := range byVertex {
		vertices = append(vertices, rpc.VertexMessages{VertexID: id, Messages: msgs})
	}
	payload := rpc.EncodeWorkerMessagesPayload(rpc.WorkerMessagesPayload{
		Partitions: []rpc.PartitionMessages{{PartitionID: partitionID, Vertices: vertices}},
	})

	workerID, err := o.locator(partitionID)
	if err != nil {
		return fmt.Errorf("dispatch: locate owner of partition %d: %w", partitionID, err)
	}
	return o.client.SendWritableRequest(workerID, rpc.TypeSendWorkerMessages, payload)
}

// flushMutations sends and clears the buffered mutation batch for
// partitionID, if any.
func (o *Outbox) flushMutations(partitionID graph.PartitionID) error {
	o.mu.Lock()
	byVertex, ok := o.mutations[partitionID]
	if !ok || len(byVertex) == 0 {
		o.mu.Unlock()
		return nil
	}
	delete(o.mutations, partitionID)
	delete(o.mutationBytes, partitionID)
	o.mu.Unlock()

	muts := make([]rpc.VertexMutation, 0, len(byVertex))
	for id, m := range byVertex {
		muts = append(muts, rpc.VertexMutation{
			VertexID:           id,
			AddedVertices:      m.addedVertices,
			RemoveVertexCount:  m.removeVertexCount,
			AddedEdges:         m.addedEdges,
			RemovedEdgeTargets: m.removedEdgeTargets,
		})
	}
	payload := rpc.EncodePartitionMutationsPayload(rpc.PartitionMutationsPayload{
		PartitionID: partitionID,
		Mutations:   muts,
	})

	workerID, err := o.locator(partitionID)
	if err != nil {
		return fmt.Errorf("dispatch: locate owner of partition %d: %w", partitionID, err)
	}
	return o.client.SendWritableRequest(workerID, rpc.TypeSendPartitionMutations, payload)
}

// FlushAll flushes every pending message and mutation batch across every
// destination partition, then blocks until every request this Outbox has
// ever sent via its Client has been acknowledged — the FLUSH_REQUESTS ->
// BARRIER transition of spec.md §5.
func (o *Outbox) FlushAll() error {
	o.mu.Lock()
	msgPids := make([]graph.PartitionID, 0, len(o.messages))
	for pid := range o.messages {
		msgPids = append(msgPids, pid)
	}
	mutPids := make([]graph.PartitionID, 0, len(o.mutations))
	for pid := range o.mutations {
		mutPids = append(mutPids, pid)
	}
	o.mu.Unlock()

	for _, pid := range msgPids {
		if err := o.flushMessages(pid); err != nil {
			return err
		}
	}
	for _, pid := range mutPids {
		if err := o.flushMutations(pid); err != nil {
			return err
		}
	}
	o.client.WaitAllRequests()
	return nil
}
