package superstep

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/szhu33/bspgraph/internal/aggregator"
	"github.com/szhu33/bspgraph/internal/checkpoint"
	"github.com/szhu33/bspgraph/internal/dispatch"
	"github.com/szhu33/bspgraph/internal/graph"
	"github.com/szhu33/bspgraph/internal/message"
	"github.com/szhu33/bspgraph/internal/mutation"
	"github.com/szhu33/bspgraph/internal/partassign"
	"github.com/szhu33/bspgraph/internal/partition"
	"github.com/szhu33/bspgraph/internal/wkerror"
)

// Checkpointer persists a worker's partitions, next-superstep inbox, and
// aggregator values (spec.md §4.6, §6). Implemented by internal/checkpoint.
type Checkpointer interface {
	Save(ctx context.Context, superstep int64, partitions partition.Store, messages *message.Store, aggregators *aggregator.Service) error
}

// Restorer rehydrates a worker's checkpointed state for a restart, per
// spec.md §6 RESTART_SUPERSTEP. Implemented by internal/checkpoint.
type Restorer interface {
	Restore(superstep int64, partitions partition.Store, newPartition func(graph.PartitionID) partition.Partition) (checkpoint.Restored, error)
}

// Config wires together one worker's partition/message/mutation/aggregator
// stores, its vertex program, and the barrier it synchronizes through.
type Config struct {
	WorkerID uint32

	Partitions  partition.Store
	Messages    *message.Store
	Mutations   *mutation.Buffer
	Resolver    *mutation.Resolver
	Aggregators *aggregator.Service
	Reducers    map[string]aggregator.Reducer

	Dispatch      *dispatch.Outbox
	Registry      *graph.TypeRegistry
	Partitioner   partassign.Func
	NumPartitions int

	PoolSize int // T, the fixed compute thread pool size, spec.md §5
	Compute  ComputeFunc
	Observers []MasterObserver

	Barrier *Barrier

	Checkpointer        Checkpointer
	CheckpointFrequency int64 // C; <=0 disables, spec.md §4.6

	// Restorer and RestartFrom resume a job from a prior checkpoint instead
	// of a fresh input split, per spec.md §6 RESTART_SUPERSTEP. RestartFrom
	// <= 0 means start fresh from vertices passed to Run.
	Restorer    Restorer
	RestartFrom int64

	Log *logrus.Entry
}

// Controller drives one worker through the superstep state machine of
// spec.md §4.6.
type Controller struct {
	Config

	owned   map[graph.PartitionID]bool
	ownedMu sync.RWMutex
}

// New constructs a Controller and registers cfg.Reducers with the
// aggregator service.
func New(cfg Config) *Controller {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	if cfg.Log == nil {
		cfg.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	c := &Controller{Config: cfg, owned: make(map[graph.PartitionID]bool)}
	for name, r := range cfg.Reducers {
		cfg.Aggregators.Register(name, r, false)
	}
	return c
}

func (c *Controller) localOwner(pid graph.PartitionID) bool {
	c.ownedMu.RLock()
	defer c.ownedMu.RUnlock()
	return c.owned[pid]
}

// LoadVertices seeds this worker's partitions from a vertex input split
// (spec.md §4.6 INPUT_SPLITS / VERTEX_EXCHANGE); the input format driver
// itself is an external collaborator, so this takes an already-materialized
// slice.
func (c *Controller) LoadVertices(vertices []*graph.Vertex) error {
	byPartition := make(map[graph.PartitionID][]*graph.Vertex)
	for _, v := range vertices {
		pid := c.Partitioner(v.ID, c.NumPartitions)
		byPartition[pid] = append(byPartition[pid], v)
	}
	for pid, vs := range byPartition {
		p, err := c.Partitions.Get(pid)
		if err != nil {
			p = c.Partitions.NewPartition(pid)
			if err := c.Partitions.Add(p); err != nil {
				return fmt.Errorf("superstep: add partition %d: %w", pid, err)
			}
		}
		for _, v := range vs {
			p.Put(v)
		}
		c.ownedMu.Lock()
		c.owned[pid] = true
		c.ownedMu.Unlock()
	}
	return nil
}

// Run executes INPUT_SPLITS once, then COMPUTE...BARRIER supersteps until
// the halting law is satisfied (spec.md §8) or ctx is canceled.
func (c *Controller) Run(ctx context.Context, vertices []*graph.Vertex) error {
	c.firePreApplication()
	defer c.firePostApplication()

	superstep := int64(0)
	if c.RestartFrom > 0 && c.Restorer != nil {
		c.firePreSuperstep(c.RestartFrom)
		if err := c.restoreFrom(c.RestartFrom); err != nil {
			c.firePostSuperstep(c.RestartFrom)
			return fmt.Errorf("restore from checkpoint %d: %w", c.RestartFrom, err)
		}
		superstep = c.RestartFrom
		c.firePostSuperstep(superstep)
	} else {
		c.firePreSuperstep(superstep)
		if err := c.LoadVertices(vertices); err != nil {
			c.firePostSuperstep(superstep)
			return err
		}
		c.firePostSuperstep(superstep)
	}

	for {
		superstep++
		c.firePreSuperstep(superstep)

		active, err := c.runCompute(ctx, superstep)
		if err != nil {
			c.firePostSuperstep(superstep)
			return fmt.Errorf("superstep %d: compute: %w", superstep, err)
		}

		if err := c.Dispatch.FlushAll(); err != nil {
			c.firePostSuperstep(superstep)
			return wkerror.New(wkerror.IO, fmt.Errorf("superstep %d: flush requests: %w", superstep, err))
		}

		local := LocalReport{
			WorkerID:         c.WorkerID,
			ActiveVertices:   active,
			MessagesInFlight: int64(c.Messages.TotalPending()),
			AggregatorValues: c.encodeLocalPartials(),
		}
		global, err := c.Barrier.Sync(ctx, superstep, local)
		if err != nil {
			c.firePostSuperstep(superstep)
			return wkerror.New(wkerror.CoordinationLost, fmt.Errorf("superstep %d: barrier: %w", superstep, err))
		}

		if err := c.Resolver.Apply(c.Mutations, c.Messages); err != nil {
			c.Log.WithError(err).Warn("mutation resolver reported warnings")
		}
		c.Messages.Swap()
		c.Aggregators.ResetTransient()
		c.finalizeAggregators(global)

		if c.Checkpointer != nil && c.CheckpointFrequency > 0 && superstep%c.CheckpointFrequency == 0 {
			if err := c.Checkpointer.Save(ctx, superstep, c.Partitions, c.Messages, c.Aggregators); err != nil {
				c.Log.WithError(err).Error("checkpoint write failed, will retry next interval")
			}
		}

		c.firePostSuperstep(superstep)

		if global.TotalActiveVertices == 0 && global.TotalMessagesInFlight == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// restoreFrom rehydrates partitions, the next-superstep inbox, and
// finalized aggregator values from the checkpoint written after superstep,
// and marks every partition the checkpoint restored as locally owned so
// runCompute picks them up as it would any other superstep.
func (c *Controller) restoreFrom(superstep int64) error {
	restored, err := c.Restorer.Restore(superstep, c.Partitions, c.Partitions.NewPartition)
	if err != nil {
		return err
	}
	c.Partitions.Iterate(func(pid graph.PartitionID) bool {
		c.ownedMu.Lock()
		c.owned[pid] = true
		c.ownedMu.Unlock()
		return true
	})
	for _, e := range restored.Inbox {
		c.Messages.AddMessage(e.PartitionID, e.VertexID, e.Value)
	}
	// AddMessage always writes into next; the compute loop that is about
	// to run reads current. Swap rolls the restored entries into current
	// so the first post-restart superstep actually sees them, the same
	// way a normal superstep's ROLL_MESSAGES hands its next buffer to the
	// one that follows.
	c.Messages.Swap()
	for name, v := range restored.Aggregators {
		c.Aggregators.ApplyBroadcast(name, v)
	}
	return nil
}

// runCompute dispatches every locally owned partition to the fixed
// compute pool, running the user program for every vertex that is active
// or has mail this superstep, and returns this worker's active-vertex
// count (spec.md §4.6).
func (c *Controller) runCompute(ctx context.Context, superstep int64) (int64, error) {
	pids := c.ownedPartitionIDs()

	jobs := make(chan graph.PartitionID, len(pids))
	for _, pid := range pids {
		jobs <- pid
	}
	close(jobs)

	var active atomic.Int64
	var firstErr atomic.Value // error
	var wg sync.WaitGroup

	poolSize := c.PoolSize
	if poolSize > len(pids) && len(pids) > 0 {
		poolSize = len(pids)
	}
	if poolSize <= 0 {
		poolSize = 1
	}

	for i := 0; i < poolSize; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pid := range jobs {
				n, err := c.computePartition(superstep, pid)
				if err != nil {
					firstErr.Store(err)
					continue
				}
				active.Add(n)
			}
		}()
	}
	wg.Wait()

	if v := firstErr.Load(); v != nil {
		return 0, v.(error)
	}
	_ = ctx
	return active.Load(), nil
}

func (c *Controller) computePartition(superstep int64, pid graph.PartitionID) (int64, error) {
	p, err := c.Partitions.Get(pid)
	if err != nil {
		return 0, wkerror.New(wkerror.IO, err).WithPartition(int32(pid))
	}

	outbox := newOutbox(c.localOwner, c.Messages, c.Mutations, c.Dispatch)
	partitioner := func(id graph.VertexID) graph.PartitionID { return c.Partitioner(id, c.NumPartitions) }

	activeIDs := c.activeVertexIDs(p, pid)
	var active int64
	for _, id := range activeIDs {
		v, ok := p.Get(id)
		if !ok {
			continue
		}
		msgs := c.Messages.GetMessages(pid, id)
		if len(msgs) > 0 {
			v.Halted = false
		}
		if v.Halted {
			continue
		}

		cctx := newComputeContext(superstep, msgs, outbox, c.Aggregators, partitioner)
		if err := c.runVertex(cctx, v, pid); err != nil {
			return active, err
		}
		v.Halted = cctx.halted
		p.Put(v)
		if !v.Halted {
			active++
		}
	}
	return active, nil
}

// runVertex calls the user compute function, converting a panic inside it
// into a UserCompute WorkerError (spec.md §7) instead of crashing the
// compute pool goroutine.
func (c *Controller) runVertex(cctx *ComputeContext, v *graph.Vertex, pid graph.PartitionID) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = wkerror.New(wkerror.UserCompute, fmt.Errorf("panic: %v", r)).
				WithPartition(int32(pid)).WithVertex(int64(v.ID))
		}
	}()
	c.Compute(cctx, v)
	return nil
}

// activeVertexIDs returns, in sorted order, every vertex id in p that is
// either not halted or has a pending message this superstep.
func (c *Controller) activeVertexIDs(p partition.Partition, pid graph.PartitionID) []graph.VertexID {
	seen := make(map[graph.VertexID]bool)
	p.Iterate(func(v *graph.Vertex) bool {
		if !v.Halted {
			seen[v.ID] = true
		}
		return true
	})
	for _, id := range c.Messages.GetDestinationVertices(pid) {
		seen[id] = true
	}
	ids := make([]graph.VertexID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (c *Controller) ownedPartitionIDs() []graph.PartitionID {
	c.ownedMu.RLock()
	defer c.ownedMu.RUnlock()
	ids := make([]graph.PartitionID, 0, len(c.owned))
	for id := range c.owned {
		ids = append(ids, id)
	}
	return ids
}

// encodeLocalPartials snapshots this worker's aggregator partials for the
// superstep just finished, keyed by name, for shipping through the
// barrier.
func (c *Controller) encodeLocalPartials() map[string][]byte {
	out := make(map[string][]byte)
	for name, partial := range c.Aggregators.Partials() {
		encoded, err := c.Registry.Codec.Encode(partial)
		if err != nil {
			c.Log.WithError(err).WithField("aggregator", name).Warn("failed to encode aggregator partial")
			continue
		}
		out[name] = encoded
	}
	return out
}

// finalizeAggregators combines every worker's partial for this superstep
// into the finalized value visible to compute calls next superstep
// (spec.md §4.4, §8 Aggregator law). Because the barrier already hands
// every worker every peer's partials, each worker performs the same
// deterministic reduction independently rather than routing through a
// single elected owner — equivalent under the commutative/associative
// contract and avoids needing master-side owner election, which is out of
// scope per spec.md §1.
func (c *Controller) finalizeAggregators(global GlobalReport) {
	byName := make(map[string][]any)
	for _, report := range global.PerWorker {
		for name, encoded := range report.AggregatorValues {
			reducer, ok := c.Reducers[name]
			if !ok {
				continue
			}
			v := reducer.Initial()
			if err := c.Registry.Codec.Decode(encoded, v); err != nil {
				c.Log.WithError(err).WithField("aggregator", name).Warn("failed to decode aggregator partial")
				continue
			}
			byName[name] = append(byName[name], v)
		}
	}
	for name, values := range byName {
		reducer := c.Reducers[name]
		acc := reducer.Initial()
		for _, v := range values {
			acc = reducer.Combine(acc, v)
		}
		c.Aggregators.ApplyBroadcast(name, acc)
	}
}
