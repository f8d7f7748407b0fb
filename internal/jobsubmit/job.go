// Package jobsubmit describes a BSP job submission: which application to
// run and where its input dataset lives, as a plain value replacing the
// teacher's bespoke protobuf-over-TCP master/client channel. No RPC request
// type carries a Job, and no other package of this module reads one.
package jobsubmit

import (
	"fmt"

	"github.com/google/uuid"
)

// Job is what a client submits to start a run: an application name (one
// of the registered examples, e.g. "pagerank" or "sssp") and the location
// of its input dataset. The one loader this module has for a dataset is
// internal/inputformat's edge-list reader.
type Job struct {
	ID              string
	Application     string
	DatasetLocation string
	NumWorkers      int
	NumPartitions   int
}

// New assigns a fresh job id to a submission.
func New(application, datasetLocation string, numWorkers, numPartitions int) Job {
	return Job{
		ID:              uuid.NewString(),
		Application:     application,
		DatasetLocation: datasetLocation,
		NumWorkers:      numWorkers,
		NumPartitions:   numPartitions,
	}
}

// Validate reports whether a Job is well-formed enough to submit.
func (j Job) Validate() error {
	if j.Application == "" {
		return fmt.Errorf("jobsubmit: application name is required")
	}
	if j.DatasetLocation == "" {
		return fmt.Errorf("jobsubmit: dataset location is required")
	}
	if j.NumWorkers <= 0 {
		return fmt.Errorf("jobsubmit: num workers must be positive, got %d", j.NumWorkers)
	}
	if j.NumPartitions <= 0 {
		return fmt.Errorf("jobsubmit: num partitions must be positive, got %d", j.NumPartitions)
	}
	return nil
}
