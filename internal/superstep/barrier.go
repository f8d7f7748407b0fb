package superstep

import (
	"context"
	"fmt"
	"time"

	"github.com/szhu33/bspgraph/internal/coordination"
	"github.com/szhu33/bspgraph/internal/graph"
)

// LocalReport is what one worker publishes to the coordination service at
// the end of COMPUTE: its contribution to the halting law and to every
// aggregator (spec.md §4.6, §8 Barrier law).
type LocalReport struct {
	WorkerID         uint32
	ActiveVertices   int64
	MessagesInFlight int64
	AggregatorValues map[string][]byte
}

// GlobalReport is the barrier's output: every worker's contribution
// combined, readable by every worker once the barrier completes.
type GlobalReport struct {
	TotalActiveVertices   int64
	TotalMessagesInFlight int64
	PerWorker             []LocalReport
}

// Barrier implements the superstep boundary synchronization of spec.md
// §6 on top of an opaque coordination.Service: each worker publishes an
// ephemeral "arrived" node under the superstep's barrier prefix and reads
// back every peer's node once all NumWorkers have arrived.
type Barrier struct {
	Coord      coordination.Service
	Codec      graph.Codec
	JobID      string
	NumWorkers int
	TTL        time.Duration
}

func (b *Barrier) key(superstep int64, workerID uint32) string {
	return fmt.Sprintf("jobs/%s/barrier/%d/%d", b.JobID, superstep, workerID)
}

func (b *Barrier) prefix(superstep int64) string {
	return fmt.Sprintf("jobs/%s/barrier/%d/", b.JobID, superstep)
}

// Sync publishes local and blocks until every worker's report for this
// superstep is visible, returning the combined GlobalReport.
func (b *Barrier) Sync(ctx context.Context, superstep int64, local LocalReport) (GlobalReport, error) {
	encoded, err := b.Codec.Encode(local)
	if err != nil {
		return GlobalReport{}, fmt.Errorf("superstep: encode barrier report: %w", err)
	}
	ttl := b.TTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := b.Coord.CreateEphemeral(ctx, b.key(superstep, local.WorkerID), encoded, ttl); err != nil {
		return GlobalReport{}, fmt.Errorf("superstep: publish barrier report: %w", err)
	}

	reports := make(map[uint32]LocalReport, b.NumWorkers)
	reports[local.WorkerID] = local

	// First collect whatever peers have already arrived without waiting.
	for w := uint32(0); w < uint32(b.NumWorkers); w++ {
		if _, ok := reports[w]; ok {
			continue
		}
		if r, ok := b.tryRead(ctx, superstep, w); ok {
			reports[w] = r
		}
	}
	if len(reports) == b.NumWorkers {
		return combine(reports), nil
	}

	events, err := b.Coord.Watch(ctx, b.prefix(superstep))
	if err != nil {
		return GlobalReport{}, fmt.Errorf("superstep: watch barrier prefix: %w", err)
	}
	// A report published between the reads above and the watch becoming
	// live produces no event, so missing peers are also re-read periodically.
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for len(reports) < b.NumWorkers {
		select {
		case <-ctx.Done():
			return GlobalReport{}, ctx.Err()
		case <-ticker.C:
			for w := uint32(0); w < uint32(b.NumWorkers); w++ {
				if _, ok := reports[w]; ok {
					continue
				}
				if r, ok := b.tryRead(ctx, superstep, w); ok {
					reports[w] = r
				}
			}
		case evt, ok := <-events:
			if !ok {
				return GlobalReport{}, fmt.Errorf("superstep: barrier watch closed before all %d workers arrived", b.NumWorkers)
			}
			if evt.Type != coordination.EventPut {
				continue
			}
			var r LocalReport
			if err := b.Codec.Decode(evt.Value, &r); err != nil {
				continue
			}
			reports[r.WorkerID] = r
		}
	}
	return combine(reports), nil
}

func (b *Barrier) tryRead(ctx context.Context, superstep int64, workerID uint32) (LocalReport, bool) {
	val, err := b.Coord.Read(ctx, b.key(superstep, workerID))
	if err != nil {
		return LocalReport{}, false
	}
	var r LocalReport
	if err := b.Codec.Decode(val, &r); err != nil {
		return LocalReport{}, false
	}
	return r, true
}

func combine(reports map[uint32]LocalReport) GlobalReport {
	g := GlobalReport{PerWorker: make([]LocalReport, 0, len(reports))}
	for _, r := range reports {
		g.TotalActiveVertices += r.ActiveVertices
		g.TotalMessagesInFlight += r.MessagesInFlight
		g.PerWorker = append(g.PerWorker, r)
	}
	return g
}
