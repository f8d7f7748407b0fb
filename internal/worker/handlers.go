package worker

import (
	"fmt"

	"github.com/szhu33/bspgraph/internal/aggregator"
	"github.com/szhu33/bspgraph/internal/graph"
	"github.com/szhu33/bspgraph/internal/rpc"
)

// registerHandlers binds every rpc.RequestType this worker accepts to a
// Handler that decodes the request's payload and applies it to the local
// message store, mutation buffer, or partition store — the server-side
// half of dispatch.Outbox's batched sends (spec.md §4.5).
//
// TypeAddVertex/TypeRemoveVertex/TypeAddEdge/TypeRemoveEdge are part of
// the wire vocabulary but have no handler here: dispatch.Outbox always
// coalesces individual mutation requests into TypeSendPartitionMutations
// before sending, so nothing in this worker ever emits the unbatched
// forms. A peer sending one anyway gets a logged protocol violation from
// rpc.Server, which is the right behavior for a request type this build
// never produces.
func (w *Worker) registerHandlers() {
	w.RPCServer.RegisterHandler(rpc.TypeSendVertex, w.handleSendVertex)
	w.RPCServer.RegisterHandler(rpc.TypeSendWorkerMessages, w.handleSendWorkerMessages)
	w.RPCServer.RegisterHandler(rpc.TypeSendPartitionMutations, w.handleSendPartitionMutations)
	w.RPCServer.RegisterHandler(rpc.TypeSendAggregatorsToWorker, w.handleSendAggregatorsToWorker)
	w.RPCServer.RegisterHandler(rpc.TypeFlush, w.handleFlush)
}

// handleSendVertex adopts a vertex shipped to this worker, e.g. during
// VERTEX_EXCHANGE when the input-splits assignment landed a vertex on the
// wrong worker and it was forwarded to its true owner.
func (w *Worker) handleSendVertex(_ rpc.Header, payload []byte) error {
	decoded, err := rpc.DecodeVertexPayload(payload)
	if err != nil {
		return fmt.Errorf("worker: decode send-vertex payload: %w", err)
	}
	p, err := w.ownedPartition(decoded.PartitionID)
	if err != nil {
		return err
	}
	for _, rec := range decoded.Vertices {
		v, err := w.decodeVertexRecord(rec)
		if err != nil {
			return err
		}
		p.Put(v)
	}
	return nil
}

// handleSendWorkerMessages delivers a batch of remote messages into this
// worker's next-superstep inbox.
func (w *Worker) handleSendWorkerMessages(_ rpc.Header, payload []byte) error {
	decoded, err := rpc.DecodeWorkerMessagesPayload(payload)
	if err != nil {
		return fmt.Errorf("worker: decode send-worker-messages payload: %w", err)
	}
	for _, part := range decoded.Partitions {
		for _, vm := range part.Vertices {
			for _, raw := range vm.Messages {
				msg, err := w.Registry.DecodeMessageValue(raw)
				if err != nil {
					return fmt.Errorf("worker: decode message for vertex %d: %w", vm.VertexID, err)
				}
				w.Messages.AddMessage(part.PartitionID, vm.VertexID, msg)
			}
		}
	}
	return nil
}

// handleSendPartitionMutations buffers a batch of remote mutation requests
// into this worker's mutation buffer, to be applied at the next
// APPLY_MUTATIONS phase alongside locally originated ones (spec.md §4.3).
func (w *Worker) handleSendPartitionMutations(_ rpc.Header, payload []byte) error {
	decoded, err := rpc.DecodePartitionMutationsPayload(payload)
	if err != nil {
		return fmt.Errorf("worker: decode send-partition-mutations payload: %w", err)
	}
	for _, m := range decoded.Mutations {
		for _, rec := range m.AddedVertices {
			v, err := w.decodeVertexRecord(rec)
			if err != nil {
				return err
			}
			w.Mutations.AddVertex(v)
		}
		for i := uint32(0); i < m.RemoveVertexCount; i++ {
			w.Mutations.RemoveVertex(m.VertexID)
		}
		for _, e := range m.AddedEdges {
			value, err := w.Registry.DecodeEdgeValue(e.Value)
			if err != nil {
				return fmt.Errorf("worker: decode added-edge value for vertex %d: %w", m.VertexID, err)
			}
			w.Mutations.AddEdge(m.VertexID, graph.Edge{Target: e.Target, Value: value})
		}
		for _, target := range m.RemovedEdgeTargets {
			w.Mutations.RemoveEdge(m.VertexID, target)
		}
	}
	return nil
}

// handleSendAggregatorsToWorker installs a set of finalized aggregator
// values broadcast to this worker, used when a job is driven by an
// external coordinator that pushes aggregator state directly over RPC
// instead of through the Badger-backed Barrier (spec.md §4.4, §6).
func (w *Worker) handleSendAggregatorsToWorker(_ rpc.Header, payload []byte) error {
	decoded, err := rpc.DecodeAggregatorsPayload(payload)
	if err != nil {
		return fmt.Errorf("worker: decode send-aggregators-to-worker payload: %w", err)
	}
	for _, rec := range decoded.Aggregators {
		reducer, ok := w.reducerFor(rec.Name)
		if !ok {
			continue
		}
		v := reducer.Initial()
		if err := w.Registry.Codec.Decode(rec.Value, v); err != nil {
			return fmt.Errorf("worker: decode aggregator %q: %w", rec.Name, err)
		}
		w.Aggregators.ApplyBroadcast(rec.Name, v)
	}
	return nil
}

// handleFlush is a no-op acknowledgement point: a sender sends TypeFlush
// last and waits for its ack (spec.md §4.5). The ack shows that every
// earlier frame on that connection was read; since handlers run on the
// dispatch pool, handlers of earlier requests may still be running.
func (w *Worker) handleFlush(rpc.Header, []byte) error {
	return nil
}

func (w *Worker) decodeVertexRecord(rec rpc.VertexRecord) (*graph.Vertex, error) {
	value, err := w.Registry.DecodeVertexValue(rec.Value)
	if err != nil {
		return nil, fmt.Errorf("worker: decode vertex %d value: %w", rec.ID, err)
	}
	edges := make([]graph.Edge, len(rec.Edges))
	for i, e := range rec.Edges {
		ev, err := w.Registry.DecodeEdgeValue(e.Value)
		if err != nil {
			return nil, fmt.Errorf("worker: decode vertex %d edge to %d: %w", rec.ID, e.Target, err)
		}
		edges[i] = graph.Edge{Target: e.Target, Value: ev}
	}
	return &graph.Vertex{ID: rec.ID, Value: value, Edges: edges}, nil
}

func (w *Worker) ownedPartition(pid graph.PartitionID) (partitionPutter, error) {
	p, err := w.Partitions.Get(pid)
	if err != nil {
		p = w.Partitions.NewPartition(pid)
		if addErr := w.Partitions.Add(p); addErr != nil {
			return nil, fmt.Errorf("worker: add partition %d: %w", pid, addErr)
		}
	}
	return p, nil
}

// partitionPutter is the narrow slice of partition.Partition the
// send-vertex handler needs.
type partitionPutter interface {
	Put(v *graph.Vertex)
}

func (w *Worker) reducerFor(name string) (aggregator.Reducer, bool) {
	r, ok := w.reducers[name]
	return r, ok
}
