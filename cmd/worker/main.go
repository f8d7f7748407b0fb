// Command worker runs one BSP worker process: it loads its job
// configuration, wires the partition/message/mutation/aggregator/RPC
// stack, loads its share of the input dataset, and drives the superstep
// controller to completion.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/szhu33/bspgraph/internal/aggregator"
	"github.com/szhu33/bspgraph/internal/codec"
	"github.com/szhu33/bspgraph/internal/config"
	"github.com/szhu33/bspgraph/internal/coordination"
	"github.com/szhu33/bspgraph/internal/graph"
	"github.com/szhu33/bspgraph/internal/inputformat"
	"github.com/szhu33/bspgraph/internal/superstep"
	"github.com/szhu33/bspgraph/internal/worker"

	"github.com/szhu33/bspgraph/examples/pagerank"
	"github.com/szhu33/bspgraph/examples/sssp"
)

func main() {
	var (
		configPath string
		appName    string
		dataset    string
		sourceID   int64
	)

	root := &cobra.Command{
		Use:   "worker",
		Short: "run one worker process of a bulk-synchronous-parallel graph computation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, appName, dataset, sourceID)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to the worker's YAML config file (required)")
	root.Flags().StringVar(&appName, "app", "pagerank", "application to run: pagerank or sssp")
	root.Flags().StringVar(&dataset, "dataset", "", "path to an edge-list input file (required unless restart_superstep is set)")
	root.Flags().Int64Var(&sourceID, "source", 0, "source vertex id, sssp only")
	root.MarkFlagRequired("config")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		logrus.WithError(err).Fatal("worker exited with error")
	}
}

func run(ctx context.Context, configPath, appName, dataset string, sourceID int64) error {
	log := logrus.NewEntry(logrus.StandardLogger())

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	registry, combiner, compute, reducers, err := buildApplication(appName, codec.Msgpack{}, sourceID)
	if err != nil {
		return err
	}

	var coord coordination.Service
	if cfg.CoordinationDir != "" {
		coord, err = coordination.NewBadgerCoordinator(coordination.BadgerConfig{Dir: cfg.CoordinationDir, Log: log})
		if err != nil {
			return fmt.Errorf("worker: open coordination store: %w", err)
		}
		defer coord.Close()
	}

	w, err := worker.New(worker.Options{
		Config:    cfg,
		Registry:  registry,
		Combiner:  combiner,
		Compute:   compute,
		Reducers:  reducers,
		Observers: []superstep.MasterObserver{loggingObserver{log: log}},
		Coord:     coord,
		Log:       log,
	})
	if err != nil {
		return fmt.Errorf("worker: build worker: %w", err)
	}

	if err := w.Start(); err != nil {
		return fmt.Errorf("worker: start rpc server: %w", err)
	}
	defer w.Stop()

	var vertices []*graph.Vertex
	if cfg.RestartSuperstep <= 0 {
		if dataset == "" {
			return fmt.Errorf("worker: --dataset is required when not restarting from a checkpoint")
		}
		vertices, err = inputformat.ReadEdgeList(dataset)
		if err != nil {
			return fmt.Errorf("worker: load dataset: %w", err)
		}
	}

	log.WithFields(logrus.Fields{
		"worker_id":        cfg.WorkerID,
		"app":              appName,
		"vertices":         len(vertices),
		"restart_superstep": cfg.RestartSuperstep,
	}).Info("starting job")

	if err := w.Run(ctx, vertices); err != nil {
		return fmt.Errorf("worker: run: %w", err)
	}
	log.Info("job complete")
	return nil
}

func buildApplication(name string, c codec.Msgpack, sourceID int64) (*graph.TypeRegistry, *graph.Combiner, superstep.ComputeFunc, map[string]aggregator.Reducer, error) {
	switch name {
	case "pagerank":
		return pagerank.NewTypeRegistry(c), pagerank.SumCombiner, pagerank.Compute,
			map[string]aggregator.Reducer{pagerank.NumVerticesAggregator: pagerank.NumVerticesReducer}, nil
	case "sssp":
		return sssp.NewTypeRegistry(c), sssp.MinCombiner, sssp.NewCompute(sssp.Config{SourceID: sourceID}),
			nil, nil
	default:
		return nil, nil, nil, nil, fmt.Errorf("worker: unknown application %q", name)
	}
}

// loggingObserver logs the start and end of the job and every superstep,
// the same coarse progress reporting the teacher's worker printed to
// stdout at each phase transition.
type loggingObserver struct {
	log *logrus.Entry
}

func (o loggingObserver) PreApplication()  { o.log.Info("application starting") }
func (o loggingObserver) PostApplication() { o.log.Info("application finished") }
func (o loggingObserver) PreSuperstep(superstep int64) {
	o.log.WithField("superstep", superstep).Debug("superstep starting")
}
func (o loggingObserver) PostSuperstep(superstep int64) {
	o.log.WithField("superstep", superstep).Debug("superstep finished")
}
