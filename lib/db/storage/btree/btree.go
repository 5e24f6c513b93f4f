package btree

import (
	"bytes"
	"sync"

	"github.com/ValentinKolb/txKV/lib/db/storage"
	"github.com/google/btree"
)

const degree = 32

type item struct {
	key   []byte
	value []byte
}

func less(a, b item) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// Store is an in-memory storage.Storage. Snapshots are O(1) copy-on-write clones.
type Store struct {
	mu     sync.RWMutex
	tree   *btree.BTreeG[item]
	closed bool
}

var _ storage.Storage = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{tree: btree.NewG[item](degree, less)}
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

func (s *Store) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}
	return get(s.tree, key)
}

func (s *Store) Scan(start, end []byte, reverse bool, fn func(key, value []byte) bool) error {
	tree, err := s.clone()
	if err != nil {
		return err
	}
	scan(tree, start, end, reverse, fn)
	return nil
}

func (s *Store) NewSnapshot() (storage.Snapshot, error) {
	tree, err := s.clone()
	if err != nil {
		return nil, err
	}
	return &snapshot{tree: tree}, nil
}

func (s *Store) clone() (*btree.BTreeG[item], error) {
	// Clone marks the shared nodes read-only, so it needs the write lock
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storage.ErrClosed
	}
	return s.tree.Clone(), nil
}

func get(tree *btree.BTreeG[item], key []byte) ([]byte, error) {
	it, ok := tree.Get(item{key: key})
	if !ok {
		return nil, storage.ErrNotFound
	}
	return bytes.Clone(it.value), nil
}

func scan(tree *btree.BTreeG[item], start, end []byte, reverse bool, fn func(key, value []byte) bool) {
	if !reverse {
		visit := func(it item) bool {
			if end != nil && bytes.Compare(it.key, end) >= 0 {
				return false
			}
			return fn(it.key, it.value)
		}
		if start == nil {
			tree.Ascend(visit)
		} else {
			tree.AscendGreaterOrEqual(item{key: start}, visit)
		}
		return
	}

	visit := func(it item) bool {
		if end != nil && bytes.Compare(it.key, end) >= 0 {
			return true // skip the exclusive upper bound
		}
		if start != nil && bytes.Compare(it.key, start) < 0 {
			return false
		}
		return fn(it.key, it.value)
	}
	if end == nil {
		tree.Descend(visit)
	} else {
		tree.DescendLessOrEqual(item{key: end}, visit)
	}
}

// --------------------------------------------------------------------------
// Writes
// --------------------------------------------------------------------------

func (s *Store) NewBatch() storage.Batch {
	return &batch{store: s}
}

type op struct {
	key    []byte
	value  []byte
	delete bool
}

type batch struct {
	store *Store
	ops   []op
	done  bool
}

func (b *batch) Set(key, value []byte) error {
	if b.done {
		return storage.ErrBatchClosed
	}
	b.ops = append(b.ops, op{key: bytes.Clone(key), value: bytes.Clone(value)})
	return nil
}

func (b *batch) Delete(key []byte) error {
	if b.done {
		return storage.ErrBatchClosed
	}
	b.ops = append(b.ops, op{key: bytes.Clone(key), delete: true})
	return nil
}

func (b *batch) Commit() error {
	if b.done {
		return storage.ErrBatchClosed
	}
	b.done = true

	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	if b.store.closed {
		return storage.ErrClosed
	}
	for _, o := range b.ops {
		if o.delete {
			b.store.tree.Delete(item{key: o.key})
		} else {
			b.store.tree.ReplaceOrInsert(item{key: o.key, value: o.value})
		}
	}
	b.ops = nil
	return nil
}

func (b *batch) Close() error {
	b.done = true
	b.ops = nil
	return nil
}

// --------------------------------------------------------------------------
// Snapshot and Lifecycle
// --------------------------------------------------------------------------

type snapshot struct {
	tree *btree.BTreeG[item]
}

func (s *snapshot) Get(key []byte) ([]byte, error) {
	if s.tree == nil {
		return nil, storage.ErrClosed
	}
	return get(s.tree, key)
}

func (s *snapshot) Scan(start, end []byte, reverse bool, fn func(key, value []byte) bool) error {
	if s.tree == nil {
		return storage.ErrClosed
	}
	scan(s.tree, start, end, reverse, fn)
	return nil
}

func (s *snapshot) Close() error {
	s.tree = nil
	return nil
}

// Len returns the number of stored keys
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.tree.Clear(false)
	return nil
}
