// Package worker assembles one process's partition store, message store,
// mutation buffer/resolver, aggregator service, RPC client/server, request
// dispatcher, and superstep controller into the "server data" spec.md
// §4.5 says every RPC handler executes against.
package worker

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/szhu33/bspgraph/internal/aggregator"
	"github.com/szhu33/bspgraph/internal/checkpoint"
	"github.com/szhu33/bspgraph/internal/codec"
	"github.com/szhu33/bspgraph/internal/config"
	"github.com/szhu33/bspgraph/internal/coordination"
	"github.com/szhu33/bspgraph/internal/dispatch"
	"github.com/szhu33/bspgraph/internal/graph"
	"github.com/szhu33/bspgraph/internal/message"
	"github.com/szhu33/bspgraph/internal/mutation"
	"github.com/szhu33/bspgraph/internal/partassign"
	"github.com/szhu33/bspgraph/internal/partition"
	"github.com/szhu33/bspgraph/internal/rpc"
	"github.com/szhu33/bspgraph/internal/superstep"
)

// Worker is one process's share of a BSP job: the partition/message/
// mutation/aggregator stores, the RPC client and server that move work
// between peers, and the superstep controller that drives it all.
type Worker struct {
	Config config.Config
	Log    *logrus.Entry

	Partitions  partition.Store
	Messages    *message.Store
	Mutations   *mutation.Buffer
	Resolver    *mutation.Resolver
	Aggregators *aggregator.Service

	Registry *graph.TypeRegistry

	RPCServer *rpc.Server
	RPCClient *rpc.Client
	Outbox    *dispatch.Outbox

	Coord   coordination.Service
	Barrier *superstep.Barrier

	Checkpoint *checkpoint.Manager

	Controller *superstep.Controller

	reducers map[string]aggregator.Reducer
}

// Options gathers everything New needs that isn't derivable from
// config.Config alone: the job-specific type registry, compute function,
// aggregator reducers, message combiner, and observers.
type Options struct {
	Config      config.Config
	Registry    *graph.TypeRegistry
	Combiner    *graph.Combiner
	Compute     superstep.ComputeFunc
	Reducers    map[string]aggregator.Reducer
	Observers   []superstep.MasterObserver
	Coord       coordination.Service
	Partitioner partassign.Func
	Log         *logrus.Entry
}

// New wires one worker's full component graph and registers its RPC
// handlers, but does not start listening — call Start for that.
func New(opts Options) (*Worker, error) {
	cfg := opts.Config
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.Partitioner == nil {
		opts.Partitioner = partassign.FNV
	}

	layout := partition.LayoutMap
	if cfg.PartitionClass == config.PartitionLayoutByteArray {
		layout = partition.LayoutByteArray
	}

	var partitions partition.Store
	var err error
	if cfg.UseOutOfCoreGraph {
		partitions, err = partition.NewDiskBacked(cfg.SpillDirectory, cfg.MaxPartitionsInMemory, layout, opts.Registry.Codec, log)
		if err != nil {
			return nil, fmt.Errorf("worker: disk-backed partition store: %w", err)
		}
	} else {
		partitions = partition.NewResident(layout, opts.Registry.Codec, log)
	}

	messages := message.New(opts.Combiner)
	mutations := mutation.New()
	aggregators := aggregator.New()
	resolver := &mutation.Resolver{
		Store:           partitions,
		Registry:        opts.Registry,
		Partitioner:     opts.Partitioner,
		NumPartitions:   cfg.NumPartitions,
		CreateOnMessage: cfg.ResolverCreateVertexOnMessage,
		Log:             log,
	}

	rpcClient := rpc.NewClient(rpc.ClientConfig{
		LocalWorkerID:         cfg.WorkerID,
		Resolve:               resolverFromConfig(cfg),
		MaxOutstandingPerPeer: cfg.MaxOutstandingRequestsPerPeer,
		MaxAttempts:           cfg.RequestMaxAttempts,
		BaseBackoff:           cfg.RequestBaseBackoff,
		Log:                   log,
	})

	locator := func(pid graph.PartitionID) (uint32, error) {
		return ownerOf(cfg, pid), nil
	}
	outbox := dispatch.New(rpcClient, locator, opts.Registry, 0, log)

	rpcServer := rpc.NewServer(rpc.ServerConfig{
		ListenAddr:       cfg.ListenAddr,
		DispatchPoolSize: cfg.DispatchPoolSize,
		Log:              log,
	})

	w := &Worker{
		Config:      cfg,
		Log:         log,
		Partitions:  partitions,
		Messages:    messages,
		Mutations:   mutations,
		Resolver:    resolver,
		Aggregators: aggregators,
		Registry:    opts.Registry,
		RPCServer:   rpcServer,
		RPCClient:   rpcClient,
		Outbox:      outbox,
		Coord:       opts.Coord,
		reducers:    opts.Reducers,
	}
	w.registerHandlers()

	if cfg.CheckpointDirectory != "" {
		w.Checkpoint = &checkpoint.Manager{Root: cfg.CheckpointDirectory, WorkerID: cfg.WorkerID, Log: log}
	}

	if opts.Coord != nil {
		w.Barrier = &superstep.Barrier{
			Coord:      opts.Coord,
			Codec:      codec.Msgpack{},
			JobID:      cfg.JobID,
			NumWorkers: cfg.NumWorkers,
		}
	}

	w.Controller = superstep.New(superstep.Config{
		WorkerID:            cfg.WorkerID,
		Partitions:          partitions,
		Messages:            messages,
		Mutations:           mutations,
		Resolver:            resolver,
		Aggregators:         aggregators,
		Reducers:            opts.Reducers,
		Dispatch:            outbox,
		Registry:            opts.Registry,
		Partitioner:         opts.Partitioner,
		NumPartitions:       cfg.NumPartitions,
		PoolSize:            cfg.ComputePoolSize,
		Compute:             opts.Compute,
		Observers:           opts.Observers,
		Barrier:             w.Barrier,
		Checkpointer:        checkpointerOrNil(w.Checkpoint),
		CheckpointFrequency: cfg.CheckpointFrequency,
		Restorer:            restorerOrNil(w.Checkpoint),
		RestartFrom:         cfg.RestartSuperstep,
		Log:                 log,
	})

	return w, nil
}

// checkpointerOrNil adapts a possibly-nil *checkpoint.Manager to the
// possibly-nil superstep.Checkpointer interface without a typed-nil
// interface trap.
func checkpointerOrNil(m *checkpoint.Manager) superstep.Checkpointer {
	if m == nil {
		return nil
	}
	return m
}

// restorerOrNil mirrors checkpointerOrNil for the restart-from-checkpoint
// path: a nil *checkpoint.Manager must become a nil superstep.Restorer, not
// a non-nil interface wrapping a nil pointer.
func restorerOrNil(m *checkpoint.Manager) superstep.Restorer {
	if m == nil {
		return nil
	}
	return m
}

func resolverFromConfig(cfg config.Config) rpc.Resolver {
	return func(workerID uint32) (string, error) {
		addr, ok := cfg.PeerAddrs[workerID]
		if !ok {
			return "", fmt.Errorf("worker: no address configured for peer %d", workerID)
		}
		return addr, nil
	}
}

// ownerOf stands in for the master's global partition-assignment
// algorithm (out of scope per spec.md §1): partitions are striped evenly
// across configured workers by id.
func ownerOf(cfg config.Config, pid graph.PartitionID) uint32 {
	if cfg.NumWorkers <= 0 {
		return 0
	}
	return uint32(pid) % uint32(cfg.NumWorkers)
}

// Start begins listening for peer RPC connections.
func (w *Worker) Start() error {
	return w.RPCServer.Start()
}

// Stop closes the RPC server and blocks until in-flight handlers drain.
func (w *Worker) Stop() error {
	err := w.RPCServer.Stop()
	w.RPCServer.Wait()
	return err
}

// Run loads vertices and drives the superstep controller to completion or
// cancellation. On successful completion, if the job was configured to
// clean up checkpoints, it removes every superstep-<n> directory under the
// checkpoint root, including files other workers wrote there.
func (w *Worker) Run(ctx context.Context, vertices []*graph.Vertex) error {
	if err := w.Controller.Run(ctx, vertices); err != nil {
		return err
	}
	if w.Checkpoint != nil && w.Config.CleanupCheckpointsAfterSuccess {
		if err := w.Checkpoint.Cleanup(); err != nil {
			w.Log.WithError(err).Warn("checkpoint cleanup failed")
		}
	}
	return nil
}
