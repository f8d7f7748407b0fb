// Package partassign computes which partition a vertex id belongs to.
// Grounded on the teacher's util.HashToVMIdx, which FNV-hashed a vertex id
// string to pick a worker index; generalized here to pick a PartitionID
// out of numPartitions instead of a fixed worker count, and exposed as a
// replaceable function value rather than a hardcoded call site.
package partassign

import (
	"hash/fnv"
	"strconv"

	"github.com/szhu33/bspgraph/internal/graph"
)

// Func maps a vertex id to one of numPartitions partitions. The master's
// global partition-assignment algorithm (out of scope per spec.md §1) is
// what actually owns a PartitionID -> worker binding; this is the smaller,
// in-scope piece: given that a vertex must land in one of this job's
// partitions, which one.
type Func func(id graph.VertexID, numPartitions int) graph.PartitionID

// FNV is the default partitioner. No library in the pack provides a
// general-purpose consistent partitioner for arbitrary ids, so this stays
// on the standard library hash/fnv, exactly as the teacher used it.
func FNV(id graph.VertexID, numPartitions int) graph.PartitionID {
	if numPartitions <= 0 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(strconv.FormatInt(id, 10)))
	return graph.PartitionID(h.Sum32() % uint32(numPartitions))
}
