package storage

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// DB is the Pebble-backed key/value store shared by the exchange, the
// application (nonces) and the block store. Each component owns a key prefix.
// Pebble is safe for concurrent use; reads only ever observe committed data.
type DB struct {
	db *pebble.DB
}

// Open opens (or creates) a Pebble database at the given path
func Open(dbPath string) (*DB, error) {
	opts := &pebble.Options{
		Cache:                       pebble.NewCache(128 << 20), // 128MB cache
		MemTableSize:                64 << 20,                   // 64MB memtable
		MaxConcurrentCompactions:    func() int { return 3 },
		L0CompactionThreshold:       2,
		L0StopWritesThreshold:       12,
		LBaseMaxBytes:               64 << 20,
		MaxOpenFiles:                1000,
		BytesPerSync:                512 << 10,
		DisableAutomaticCompactions: false,
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", dbPath, err)
	}
	return &DB{db: db}, nil
}

// OpenInMemory opens a Pebble database backed by an in-memory filesystem.
// Used by tests and by the node when no data directory is configured.
func OpenInMemory() (*DB, error) {
	db, err := pebble.Open("hyperswap", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory pebble db: %w", err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error { return d.db.Close() }

// Get returns a copy of the committed value for key.
// The bool is false when the key does not exist.
func (d *DB) Get(key []byte) ([]byte, bool, error) {
	return get(d.db.Get(key))
}

// Set writes a single key outside of any transaction.
func (d *DB) Set(key, value []byte) error {
	return d.db.Set(key, value, pebble.Sync)
}

// ErrStopIteration ends an Iterate early without reporting an error.
var ErrStopIteration = errors.New("stop iteration")

// Iterate calls fn for every committed key with the given prefix, in key order.
// Key and value slices are only valid for the duration of the call.
func (d *DB) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	return d.IterateFrom(prefix, prefix, fn)
}

// IterateFrom is Iterate starting at the first key >= start.
func (d *DB) IterateFrom(prefix, start []byte, fn func(key, value []byte) error) error {
	lower := prefix
	if bytes.Compare(start, prefix) > 0 {
		lower = start
	}
	iter, err := d.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: KeyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			if errors.Is(err, ErrStopIteration) {
				return nil
			}
			return err
		}
	}
	return iter.Error()
}

// NewTxn starts an atomic read-write transaction.
// Reads through the txn see its own staged writes; nothing is visible to
// other readers until Commit.
func (d *DB) NewTxn() *Txn {
	return &Txn{batch: d.db.NewIndexedBatch()}
}

// Txn wraps an indexed Pebble batch.
type Txn struct {
	batch  *pebble.Batch
	closed bool
}

func (t *Txn) Get(key []byte) ([]byte, bool, error) {
	return get(t.batch.Get(key))
}

func (t *Txn) Set(key, value []byte) error {
	return t.batch.Set(key, value, nil)
}

func (t *Txn) Delete(key []byte) error {
	return t.batch.Delete(key, nil)
}

// Empty reports whether the txn has staged no writes.
func (t *Txn) Empty() bool {
	return t.batch.Empty()
}

// Commit writes every staged change atomically and releases the txn.
func (t *Txn) Commit() error {
	if t.closed {
		return errors.New("txn already closed")
	}
	err := t.batch.Commit(pebble.Sync)
	t.Discard()
	return err
}

// Discard drops all staged changes. Safe to call more than once and after Commit.
func (t *Txn) Discard() {
	if t.closed {
		return
	}
	t.closed = true
	_ = t.batch.Close()
}

func get(data []byte, closer interface{ Close() error }, err error) ([]byte, bool, error) {
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get key: %w", err)
	}
	defer closer.Close()

	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}
