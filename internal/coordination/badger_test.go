package coordination

import (
	"context"
	"testing"
	"time"
)

func newInMemoryCoordinator(t *testing.T) *BadgerCoordinator {
	c, err := NewBadgerCoordinator(BadgerConfig{InMemory: true})
	if err != nil {
		t.Fatalf("open in-memory coordinator: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCreatePersistentThenReadRoundTrips(t *testing.T) {
	c := newInMemoryCoordinator(t)
	ctx := context.Background()

	if err := c.CreatePersistent(ctx, "job/1/status", []byte("running")); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := c.Read(ctx, "job/1/status")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "running" {
		t.Fatalf("got %q, want running", got)
	}
}

func TestReadMissingKeyReturnsErrNotFound(t *testing.T) {
	c := newInMemoryCoordinator(t)
	if _, err := c.Read(context.Background(), "does/not/exist"); err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestDeleteRemovesKey(t *testing.T) {
	c := newInMemoryCoordinator(t)
	ctx := context.Background()
	if err := c.CreatePersistent(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := c.Read(ctx, "k"); err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound after delete", err)
	}
}

func TestDeleteOfMissingKeyIsNotAnError(t *testing.T) {
	c := newInMemoryCoordinator(t)
	if err := c.Delete(context.Background(), "never/existed"); err != nil {
		t.Fatalf("delete of a missing key should be a no-op, got %v", err)
	}
}

func TestCreateEphemeralExpires(t *testing.T) {
	c := newInMemoryCoordinator(t)
	ctx := context.Background()

	if err := c.CreateEphemeral(ctx, "lease/worker-1", []byte("alive"), 30*time.Millisecond); err != nil {
		t.Fatalf("create ephemeral: %v", err)
	}
	if _, err := c.Read(ctx, "lease/worker-1"); err != nil {
		t.Fatalf("expected the lease to be readable before its ttl elapses: %v", err)
	}

	time.Sleep(150 * time.Millisecond)
	if _, err := c.Read(ctx, "lease/worker-1"); err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound once the ttl has elapsed", err)
	}
}
