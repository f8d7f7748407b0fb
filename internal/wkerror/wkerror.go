// Package wkerror defines the fatal worker error taxonomy of spec.md §7:
// a kind, the underlying cause, and the vertex/partition context it
// happened in, so the superstep controller can record a single root cause
// and exit non-zero rather than let a bare error obscure where a job died.
package wkerror

import "fmt"

// Kind classifies a fatal worker error, per spec.md §7.
type Kind string

const (
	// InvalidInput: a reader-produced vertex is missing required fields
	// (e.g. no id).
	InvalidInput Kind = "invalid_input"
	// Deserialization: a request payload could not be decoded.
	Deserialization Kind = "deserialization"
	// IO: a disk or network operation failed. IO errors inside the RPC
	// layer are retried locally before ever reaching this taxonomy; an
	// IO WorkerError means retries were exhausted or the failure was
	// outside the RPC layer (checkpoint write, partition spill).
	IO Kind = "io"
	// UserCompute: the vertex program panicked or returned in a way the
	// controller cannot reconcile with the superstep it was run in.
	UserCompute Kind = "user_compute"
	// ProtocolViolation: an unknown request type or an out-of-order frame
	// arrived on a connection.
	ProtocolViolation Kind = "protocol_violation"
	// CoordinationLost: the external coordination service became
	// unreachable.
	CoordinationLost Kind = "coordination_lost"
)

// Error is a fatal worker error: a kind, its cause, and the vertex or
// partition context it occurred in. Everything that isn't an IO or
// network error inside the RPC layer (which retries locally, per spec.md
// §7) bubbles up as one of these to the superstep controller.
type Error struct {
	Kind        Kind
	Cause       error
	PartitionID int32
	VertexID    int64
	// HasVertex distinguishes "vertex id 0" from "no vertex context".
	HasVertex bool
}

// New constructs a WorkerError with no vertex/partition context.
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// WithPartition attaches partition context to an error.
func (e *Error) WithPartition(partitionID int32) *Error {
	e.PartitionID = partitionID
	return e
}

// WithVertex attaches vertex context to an error.
func (e *Error) WithVertex(vertexID int64) *Error {
	e.VertexID = vertexID
	e.HasVertex = true
	return e
}

func (e *Error) Error() string {
	if e.HasVertex {
		return fmt.Sprintf("worker: %s (partition %d, vertex %d): %v", e.Kind, e.PartitionID, e.VertexID, e.Cause)
	}
	return fmt.Sprintf("worker: %s (partition %d): %v", e.Kind, e.PartitionID, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}
