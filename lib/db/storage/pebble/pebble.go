package pebble

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/txKV/lib/db/storage"
	"github.com/cockroachdb/pebble"
)

// Store is a storage.Storage backed by pebble
type Store struct {
	db        *pebble.DB
	writeOpts *pebble.WriteOptions

	// Close takes the write lock and drains in-flight operations
	closed atomic.Bool
	mu     sync.RWMutex
}

var _ storage.Storage = (*Store)(nil)

// Open creates or opens a pebble database at path
func Open(path string, opts ...Option) (*Store, error) {
	cfg := DefaultConfig()
	for _, o := range opts {
		o(cfg)
	}

	cache := pebble.NewCache(cfg.CacheSize)
	defer cache.Unref()

	pOpts := &pebble.Options{
		Cache:        cache,
		MaxOpenFiles: cfg.MaxOpenFiles,
	}
	if cfg.FS != nil {
		pOpts.FS = cfg.FS
	}

	db, err := pebble.Open(path, pOpts)
	if err != nil {
		return nil, fmt.Errorf("pebble: failed to open %s: %w", path, err)
	}

	writeOpts := pebble.NoSync
	if cfg.SyncWrites {
		writeOpts = pebble.Sync
	}

	return &Store{db: db, writeOpts: writeOpts}, nil
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

func (s *Store) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}
	return get(s.db, key)
}

func (s *Store) Scan(start, end []byte, reverse bool, fn func(key, value []byte) bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return storage.ErrClosed
	}
	return scan(s.db, start, end, reverse, fn)
}

func get(r pebble.Reader, key []byte) ([]byte, error) {
	v, closer, err := r.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return bytes.Clone(v), nil
}

func scan(r pebble.Reader, start, end []byte, reverse bool, fn func(key, value []byte) bool) error {
	iter := r.NewIter(&pebble.IterOptions{LowerBound: start, UpperBound: end})

	if reverse {
		for valid := iter.Last(); valid; valid = iter.Prev() {
			if !fn(iter.Key(), iter.Value()) {
				break
			}
		}
	} else {
		for valid := iter.First(); valid; valid = iter.Next() {
			if !fn(iter.Key(), iter.Value()) {
				break
			}
		}
	}

	if err := iter.Error(); err != nil {
		_ = iter.Close()
		return err
	}
	return iter.Close()
}

// --------------------------------------------------------------------------
// Snapshots
// --------------------------------------------------------------------------

type snapshot struct {
	snap   *pebble.Snapshot
	closed atomic.Bool
}

func (s *Store) NewSnapshot() (storage.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}
	return &snapshot{snap: s.db.NewSnapshot()}, nil
}

func (s *snapshot) Get(key []byte) ([]byte, error) {
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}
	return get(s.snap, key)
}

func (s *snapshot) Scan(start, end []byte, reverse bool, fn func(key, value []byte) bool) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	return scan(s.snap, start, end, reverse, fn)
}

func (s *snapshot) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.snap.Close()
}

// --------------------------------------------------------------------------
// Batches
// --------------------------------------------------------------------------

type batch struct {
	store *Store
	b     *pebble.Batch
	done  bool
}

func (s *Store) NewBatch() storage.Batch {
	return &batch{store: s, b: s.db.NewBatch()}
}

func (b *batch) Set(key, value []byte) error {
	if b.done {
		return storage.ErrBatchClosed
	}
	return b.b.Set(key, value, nil)
}

func (b *batch) Delete(key []byte) error {
	if b.done {
		return storage.ErrBatchClosed
	}
	return b.b.Delete(key, nil)
}

func (b *batch) Commit() error {
	if b.done {
		return storage.ErrBatchClosed
	}
	b.done = true
	defer b.b.Close()

	b.store.mu.RLock()
	defer b.store.mu.RUnlock()
	if b.store.closed.Load() {
		return storage.ErrClosed
	}
	return b.b.Commit(b.store.writeOpts)
}

func (b *batch) Close() error {
	if b.done {
		return nil
	}
	b.done = true
	return b.b.Close()
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
