// Package coordination implements the small key/value coordination
// service spec.md §6 asks every worker to share: ephemeral keys
// (auto-expiring, used for liveness/barrier membership) and persistent
// keys (survive worker restarts, used for checkpoint pointers and job
// metadata), with a watch mechanism for barrier/membership notification.
package coordination

import (
	"context"
	"time"
)

// Service is the coordination-service contract of spec.md §6. The master's
// own global view of worker membership (out of scope per spec.md §1) is
// built on top of this, not the other way around.
type Service interface {
	// CreateEphemeral writes key=value with ttl; the key disappears on its
	// own if this process dies before ttl elapses, used for liveness
	// registration and barrier-arrival markers.
	CreateEphemeral(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// CreatePersistent writes key=value with no expiry.
	CreatePersistent(ctx context.Context, key string, value []byte) error
	// Read returns the current value for key, or ErrNotFound.
	Read(ctx context.Context, key string) ([]byte, error)
	// Delete removes key; deleting an already-absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Watch streams an Event each time a key under prefix is created,
	// updated, or deleted, until ctx is canceled.
	Watch(ctx context.Context, prefix string) (<-chan Event, error)
	Close() error
}

// EventType distinguishes the three notifications Watch can deliver.
type EventType int

const (
	EventPut EventType = iota
	EventDelete
	EventExpire
)

// Event is one notification from Watch.
type Event struct {
	Type  EventType
	Key   string
	Value []byte
}
