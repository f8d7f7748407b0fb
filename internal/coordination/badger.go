package coordination

import (
	"context"
	"errors"
	"log"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/pb"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned by Read for an absent or expired key.
var ErrNotFound = errors.New("coordination: not found")

// BadgerCoordinator is a single-process-local Service backed by
// BadgerDB, used when a job runs without an external coordination
// cluster: ephemeral keys ride Badger's own TTL/value-log GC, persistent
// keys are plain entries, and Watch rides badger.DB.Subscribe.
type BadgerCoordinator struct {
	db *badger.DB
}

// BadgerConfig configures the on-disk or in-memory Badger instance.
type BadgerConfig struct {
	Dir      string
	InMemory bool
	Log      *logrus.Entry
}

// NewBadgerCoordinator opens (or creates) the Badger-backed coordination
// store at cfg.Dir.
func NewBadgerCoordinator(cfg BadgerConfig) (*BadgerCoordinator, error) {
	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(badgerLogAdapter{log: cfg.Log})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerCoordinator{db: db}, nil
}

func (c *BadgerCoordinator) CreateEphemeral(_ context.Context, key string, value []byte, ttl time.Duration) error {
	return c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
}

func (c *BadgerCoordinator) CreatePersistent(_ context.Context, key string, value []byte) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

func (c *BadgerCoordinator) Read(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return out, err
}

func (c *BadgerCoordinator) Delete(_ context.Context, key string) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

// Watch subscribes to every key under prefix and translates Badger's own
// key-value update stream into coordination Events. The returned channel
// is closed once ctx is canceled or the subscription ends.
func (c *BadgerCoordinator) Watch(ctx context.Context, prefix string) (<-chan Event, error) {
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		err := c.db.Subscribe(ctx, func(kvs *badger.KVList) error {
			for _, kv := range kvs.Kv {
				evt := Event{Key: string(kv.Key), Value: kv.Value}
				switch {
				case kv.GetExpiresAt() != 0 && time.Unix(int64(kv.GetExpiresAt()), 0).Before(time.Now()):
					evt.Type = EventExpire
				case len(kv.Value) == 0:
					evt.Type = EventDelete
				default:
					evt.Type = EventPut
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		}, []pb.Match{{Prefix: []byte(prefix)}})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("coordination: watch subscription on prefix %q ended: %v", prefix, err)
		}
	}()
	return out, nil
}

func (c *BadgerCoordinator) Close() error {
	return c.db.Close()
}

// badgerLogAdapter routes Badger's internal logging through logrus,
// suppressing info/debug noise the way the coordination service's caller
// configures its own verbosity.
type badgerLogAdapter struct {
	log *logrus.Entry
}

func (a badgerLogAdapter) entry() *logrus.Entry {
	if a.log != nil {
		return a.log
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

func (a badgerLogAdapter) Errorf(f string, v ...interface{})   { a.entry().Errorf(f, v...) }
func (a badgerLogAdapter) Warningf(f string, v ...interface{}) { a.entry().Warnf(f, v...) }
func (a badgerLogAdapter) Infof(string, ...interface{})        {}
func (a badgerLogAdapter) Debugf(string, ...interface{})       {}
