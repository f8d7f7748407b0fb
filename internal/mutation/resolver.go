package mutation

import (
	"sort"
	"strconv"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/szhu33/bspgraph/internal/graph"
	"github.com/szhu33/bspgraph/internal/message"
	"github.com/szhu33/bspgraph/internal/partassign"
	"github.com/szhu33/bspgraph/internal/partition"
)

// Resolver applies a drained mutation Buffer to the partition Store between
// supersteps, per the deterministic five-step order of spec.md §4.3.
type Resolver struct {
	Store           partition.Store
	Registry        *graph.TypeRegistry
	Partitioner     partassign.Func
	NumPartitions   int
	CreateOnMessage bool
	Log             *logrus.Entry
}

// Apply walks buf (union'ed with every vertex id that has a pending
// message in msgs, for every partition id below NumPartitions) in sorted
// id order and applies the deterministic resolution. Warnings (dropped
// duplicate adds, missing edges to remove) are collected, not fatal.
//
// Apply runs between COMPUTE and Swap (spec.md §4.3/§4.6: APPLY_MUTATIONS
// happens before ROLL_MESSAGES), so the inbox it must consult for
// create-on-message is msgs' pre-Swap next buffer — the messages just
// sent this superstep, about to become the next superstep's frozen
// inbox — not the current buffer, which still holds the superstep that
// was just consumed.
func (r *Resolver) Apply(buf *Buffer, msgs *message.Store) error {
	drained := buf.Drain()

	ids := make(map[graph.VertexID]bool, len(drained))
	for id := range drained {
		ids[id] = true
	}
	if r.CreateOnMessage {
		for pid := 0; pid < r.NumPartitions; pid++ {
			for _, id := range msgs.PendingDestinationVertices(graph.PartitionID(pid)) {
				ids[id] = true
			}
		}
	}

	sorted := make([]graph.VertexID, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var warnings *multierror.Error
	for _, id := range sorted {
		cs := drained[id]
		if cs == nil {
			cs = &Changeset{}
		}
		if err := r.applyOne(id, cs, msgs); err != nil {
			warnings = multierror.Append(warnings, err)
		}
	}
	if warnings != nil {
		return warnings.ErrorOrNil()
	}
	return nil
}

func (r *Resolver) applyOne(id graph.VertexID, cs *Changeset, msgs *message.Store) error {
	pid := r.Partitioner(id, r.NumPartitions)
	p, err := r.Store.Get(pid)
	if err != nil {
		p = r.Store.NewPartition(pid)
		if addErr := r.Store.Add(p); addErr != nil {
			return addErr
		}
	}

	v, exists := p.Get(id)

	// Step 1: prune edges.
	var warnings *multierror.Error
	if exists {
		for _, target := range cs.RemovedEdges {
			if !v.RemoveEdge(target) {
				warnings = multierror.Append(warnings, &Warning{
					VertexID: id, Msg: "removeEdge: no edge to target " + strconv.FormatInt(target, 10),
				})
			}
		}
	} else if len(cs.RemovedEdges) > 0 {
		for range cs.RemovedEdges {
			warnings = multierror.Append(warnings, &Warning{
				VertexID: id, Msg: "removeEdge: vertex does not exist",
			})
		}
	}

	// Step 2: removeVertex requests null the vertex.
	if cs.RemoveVertex > 0 && exists {
		p.Delete(id)
		v = nil
		exists = false
	} else if cs.RemoveVertex > 0 {
		v = nil
		exists = false
	}

	// Step 3: adopt an added vertex, or synthesize a default one.
	if !exists {
		if len(cs.AddedVertices) > 0 {
			v = cs.AddedVertices[0]
			exists = true
			for _, dropped := range cs.AddedVertices[1:] {
				warnings = multierror.Append(warnings, &Warning{
					VertexID: dropped.ID, Msg: "addVertex: duplicate add for same id dropped",
				})
			}
		} else {
			hasPendingMsg := len(msgs.PendingMessages(pid, id)) > 0
			needsCreate := (r.CreateOnMessage && hasPendingMsg) || len(cs.AddedEdges) > 0
			if needsCreate {
				v = &graph.Vertex{ID: id, Value: r.Registry.NewVertexValue()}
				exists = true
			}
		}
	} else if len(cs.AddedVertices) > 0 {
		// Step 4: vertex already exists, addVertex requests are ignored.
		for _, dropped := range cs.AddedVertices {
			warnings = multierror.Append(warnings, &Warning{
				VertexID: dropped.ID, Msg: "addVertex: vertex already exists, request ignored",
			})
		}
	}

	// Step 5: apply added edges.
	if exists && len(cs.AddedEdges) > 0 {
		v.Edges = append(v.Edges, cs.AddedEdges...)
	}

	if exists {
		p.Put(v)
	}

	if warnings != nil {
		log := r.Log
		if log == nil {
			log = logrus.NewEntry(logrus.StandardLogger())
		}
		for _, w := range warnings.Errors {
			log.WithField("vertex", id).Warn(w)
		}
		return warnings.ErrorOrNil()
	}
	return nil
}

// Warning is a non-fatal resolver event: a dropped duplicate add, or a
// removeEdge with no matching target.
type Warning struct {
	VertexID graph.VertexID
	Msg      string
}

func (w *Warning) Error() string { return w.Msg }
