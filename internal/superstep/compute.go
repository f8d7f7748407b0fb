// Package superstep drives one worker through the BSP state machine of
// spec.md §4.6: SETUP -> INPUT_SPLITS -> VERTEX_EXCHANGE -> COMPUTE ->
// FLUSH_REQUESTS -> BARRIER -> (APPLY_MUTATIONS, ROLL_MESSAGES,
// FINALIZE_AGGREGATORS) -> NEXT_SUPERSTEP or TERMINATE.
package superstep

import (
	"github.com/szhu33/bspgraph/internal/graph"
)

// ComputeFunc is a user vertex program: invoked once per active vertex
// per superstep. It may read ctx.Messages(), mutate v in place, send
// messages, request graph mutations, and vote to halt.
type ComputeFunc func(ctx *ComputeContext, v *graph.Vertex)

// ComputeContext carries per-compute-call state: the messages addressed to this
// vertex this superstep, and the side-effecting operations a vertex
// program is allowed to perform.
type ComputeContext struct {
	superstep int64
	messages  []any

	outbox      *Outbox
	aggregators aggregatorSink
	partitioner func(graph.VertexID) graph.PartitionID

	halted bool
}

// aggregatorSink is the slice of aggregator.Service a ComputeContext
// needs, kept narrow so superstep doesn't import aggregator directly for
// every call site.
type aggregatorSink interface {
	Aggregate(name string, delta any)
	GetValue(name string) (any, bool)
}

func newComputeContext(superstep int64, messages []any, outbox *Outbox, aggregators aggregatorSink, partitioner func(graph.VertexID) graph.PartitionID) *ComputeContext {
	return &ComputeContext{
		superstep:   superstep,
		messages:    messages,
		outbox:      outbox,
		aggregators: aggregators,
		partitioner: partitioner,
	}
}

// Superstep returns the current superstep counter.
func (c *ComputeContext) Superstep() int64 { return c.superstep }

// Messages returns the messages addressed to this vertex this superstep.
// The returned slice must not be retained past the compute call.
func (c *ComputeContext) Messages() []any { return c.messages }

// SendMessageTo buffers a message for delivery to target at the start of
// the next superstep.
func (c *ComputeContext) SendMessageTo(target graph.VertexID, msg any) error {
	return c.outbox.sendMessage(c.partitioner(target), target, msg)
}

// VoteToHalt marks this vertex as halted; it flips back to active if a
// message is delivered to it before the job terminates (spec.md §3).
func (c *ComputeContext) VoteToHalt() { c.halted = true }

// Aggregate combines delta into this worker's local partial for name.
func (c *ComputeContext) Aggregate(name string, delta any) { c.aggregators.Aggregate(name, delta) }

// GetAggregatedValue returns the value finalized at the end of the
// previous superstep.
func (c *ComputeContext) GetAggregatedValue(name string) (any, bool) {
	return c.aggregators.GetValue(name)
}

// AddVertexRequest buffers a request to add v, to be resolved at the next
// APPLY_MUTATIONS phase.
func (c *ComputeContext) AddVertexRequest(v *graph.Vertex) error {
	return c.outbox.addVertex(c.partitioner(v.ID), v)
}

// RemoveVertexRequest buffers a request to remove id.
func (c *ComputeContext) RemoveVertexRequest(id graph.VertexID) {
	c.outbox.removeVertex(c.partitioner(id), id)
}

// AddEdgeRequest buffers a request to add an edge from source.
func (c *ComputeContext) AddEdgeRequest(source graph.VertexID, e graph.Edge) error {
	return c.outbox.addEdge(c.partitioner(source), source, e)
}

// RemoveEdgeRequest buffers a request to remove the first edge from
// source to target.
func (c *ComputeContext) RemoveEdgeRequest(source, target graph.VertexID) {
	c.outbox.removeEdge(c.partitioner(source), source, target)
}
