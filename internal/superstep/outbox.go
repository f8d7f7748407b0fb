package superstep

import (
	"github.com/szhu33/bspgraph/internal/dispatch"
	"github.com/szhu33/bspgraph/internal/graph"
	"github.com/szhu33/bspgraph/internal/message"
	"github.com/szhu33/bspgraph/internal/mutation"
)

// Outbox routes a vertex program's side effects either straight into this
// worker's own message/mutation stores, when the destination partition is
// locally owned, or into the remote dispatch.Outbox otherwise — the
// compute call itself never needs to know which.
type Outbox struct {
	localOwner func(graph.PartitionID) bool

	messages  *message.Store
	mutations *mutation.Buffer

	remote *dispatch.Outbox
}

func newOutbox(localOwner func(graph.PartitionID) bool, messages *message.Store, mutations *mutation.Buffer, remote *dispatch.Outbox) *Outbox {
	return &Outbox{localOwner: localOwner, messages: messages, mutations: mutations, remote: remote}
}

func (o *Outbox) sendMessage(pid graph.PartitionID, target graph.VertexID, msg any) error {
	if o.localOwner(pid) {
		o.messages.AddMessage(pid, target, msg)
		return nil
	}
	return o.remote.EnqueueMessage(pid, target, msg)
}

func (o *Outbox) addVertex(pid graph.PartitionID, v *graph.Vertex) error {
	if o.localOwner(pid) {
		o.mutations.AddVertex(v)
		return nil
	}
	return o.remote.EnqueueAddVertex(pid, v)
}

func (o *Outbox) removeVertex(pid graph.PartitionID, id graph.VertexID) {
	if o.localOwner(pid) {
		o.mutations.RemoveVertex(id)
		return
	}
	o.remote.EnqueueRemoveVertex(pid, id)
}

func (o *Outbox) addEdge(pid graph.PartitionID, source graph.VertexID, e graph.Edge) error {
	if o.localOwner(pid) {
		o.mutations.AddEdge(source, e)
		return nil
	}
	return o.remote.EnqueueAddEdge(pid, source, e)
}

func (o *Outbox) removeEdge(pid graph.PartitionID, source, target graph.VertexID) {
	if o.localOwner(pid) {
		o.mutations.RemoveEdge(source, target)
		return
	}
	o.remote.EnqueueRemoveEdge(pid, source, target)
}
