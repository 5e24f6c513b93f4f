package storage

import "errors"

var (
	ErrNotFound    = errors.New("storage: key not found")
	ErrClosed      = errors.New("storage: closed")
	ErrBatchClosed = errors.New("storage: batch already committed or closed")
)

// Reader provides point and range reads.
// Range scans cover [start, end), a nil start or end leaves that side unbounded.
// Slices passed to fn are only valid during the callback.
type Reader interface {
	Get(key []byte) ([]byte, error)
	Scan(start, end []byte, reverse bool, fn func(key, value []byte) bool) error
}

// Snapshot is a consistent point-in-time view
type Snapshot interface {
	Reader
	Close() error
}

// Batch collects writes that are applied atomically by Commit
type Batch interface {
	Set(key, value []byte) error
	Delete(key []byte) error
	Commit() error
	Close() error
}

// Storage is an ordered byte key-value store
type Storage interface {
	Reader
	NewSnapshot() (Snapshot, error)
	NewBatch() Batch
	Close() error
}
