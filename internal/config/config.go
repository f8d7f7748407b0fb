// Package config loads the recognized configuration keys of spec.md §6
// from a YAML file via gopkg.in/yaml.v3, on top of the values of Default().
// cmd/worker's flags choose the file, the application and the dataset; no
// flag overrides a key read from the file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PartitionLayout mirrors partition.Layout without importing it, so this
// package stays leaf-level and partition can import config if it ever
// needs to (currently it doesn't).
type PartitionLayout string

const (
	PartitionLayoutMap       PartitionLayout = "map"
	PartitionLayoutByteArray PartitionLayout = "byte-array"
)

// Config is the worker's job configuration, covering every key spec.md
// §6 names.
type Config struct {
	// WorkerID identifies this worker among its peers.
	WorkerID uint32 `yaml:"worker_id"`
	// NumWorkers is the total worker count this job's partitions are
	// spread across.
	NumWorkers int `yaml:"num_workers"`
	// NumPartitions is the number of logical partitions this job divides
	// its vertex set into, independent of worker count.
	NumPartitions int `yaml:"num_partitions"`
	// ListenAddr is this worker's RPC server bind address.
	ListenAddr string `yaml:"listen_addr"`
	// PeerAddrs maps worker id to RPC dial address for every peer,
	// standing in for the master's global partition-assignment service
	// (out of scope per spec.md §1) for local/test deployments.
	PeerAddrs map[uint32]string `yaml:"peer_addrs"`

	// UseOutOfCoreGraph selects the disk-backed partition store.
	UseOutOfCoreGraph bool `yaml:"use_out_of_core_graph"`
	// MaxPartitionsInMemory is K, the disk-backed store's resident cap.
	MaxPartitionsInMemory int `yaml:"max_partitions_in_memory"`
	// PartitionClass selects the object-map or serialized byte-array
	// partition layout.
	PartitionClass PartitionLayout `yaml:"partition_class"`
	// SpillDirectory holds partition-<id>.bin spill files for the
	// disk-backed store.
	SpillDirectory string `yaml:"spill_directory"`

	// CheckpointDirectory is the root checkpoints are written under as
	// superstep-<n>/worker-<id>.ckpt.
	CheckpointDirectory string `yaml:"checkpoint_directory"`
	// CheckpointFrequency is C; C<=0 disables checkpointing.
	CheckpointFrequency int64 `yaml:"checkpoint_frequency"`
	// CleanupCheckpointsAfterSuccess removes every superstep-<n> checkpoint
	// directory under CheckpointDirectory once a job completes successfully.
	CleanupCheckpointsAfterSuccess bool `yaml:"cleanup_checkpoints_after_success"`
	// RestartSuperstep, if >0, resumes from that superstep's checkpoint
	// instead of starting fresh.
	RestartSuperstep int64 `yaml:"restart_superstep"`

	// MaxOutstandingRequestsPerPeer bounds the RPC client's per-peer
	// backpressure window.
	MaxOutstandingRequestsPerPeer int `yaml:"max_outstanding_requests_per_peer"`
	// RequestMaxAttempts bounds per-request retry attempts before a
	// destination is marked unreachable.
	RequestMaxAttempts int `yaml:"request_max_attempts"`
	// RequestBaseBackoff is the first retry delay; later attempts double
	// it.
	RequestBaseBackoff time.Duration `yaml:"request_base_backoff"`

	// ResolverCreateVertexOnMessage enables RESOLVER_CREATE_VERTEX_ON_MESSAGES:
	// a message addressed to an absent vertex materializes it instead of
	// waiting for an explicit addVertexRequest.
	ResolverCreateVertexOnMessage bool `yaml:"resolver_create_vertex_on_message"`

	// ComputePoolSize is T, the fixed compute thread pool size.
	ComputePoolSize int `yaml:"compute_pool_size"`
	// DispatchPoolSize sizes the RPC server's handler-dispatch pool.
	DispatchPoolSize int `yaml:"dispatch_pool_size"`

	// CoordinationDir is where the in-process Badger-backed coordination
	// service keeps its data.
	CoordinationDir string `yaml:"coordination_dir"`
	// JobID namespaces this job's coordination-service keys from any
	// other job sharing the same coordination backend.
	JobID string `yaml:"job_id"`
}

// Default returns a Config with every size/timing knob set to a sane
// single-worker-friendly value; callers still must set WorkerID, JobID,
// and the partition/type-registry choices for their job.
func Default() Config {
	return Config{
		NumWorkers:                    1,
		NumPartitions:                 1,
		MaxPartitionsInMemory:         8,
		PartitionClass:                PartitionLayoutMap,
		CheckpointFrequency:           0,
		MaxOutstandingRequestsPerPeer: 64,
		RequestMaxAttempts:            5,
		RequestBaseBackoff:            50 * time.Millisecond,
		ComputePoolSize:               4,
		DispatchPoolSize:              8,
	}
}

// Load reads and parses a YAML config file at path, starting from
// Default() so an incomplete file still produces a usable Config.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
