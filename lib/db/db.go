package db

import (
	"context"
	"encoding/hex"
	"errors"
	"time"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplBTree  Implementation = "btree"
	ImplPebble Implementation = "pebble"
	ImplRaft   Implementation = "raft"
	ImplRemote Implementation = "remote"
)

// Feature represents database features as bit flags
type Feature uint64

const (
	FeatureSnapshotRead        Feature = 1 << iota // Support for SnapshotRead operations
	FeatureAtomicWrite                             // Support for AtomicWrite operations
	FeatureWatch                                   // Support for Watch streams
	FeatureQueue                                   // Support for Enqueue and DequeueNextMessage
	FeatureExpiry                                  // Support for entries with an expiration time
	FeatureEventualConsistency                     // Eventual reads may be served by a stale replica
	FeatureSnapshot                                // Support for Save and Load
)

func (f Feature) String() string {
	switch f {
	case FeatureSnapshotRead:
		return "SnapshotRead"
	case FeatureAtomicWrite:
		return "AtomicWrite"
	case FeatureWatch:
		return "Watch"
	case FeatureQueue:
		return "Queue"
	case FeatureExpiry:
		return "Expiry"
	case FeatureEventualConsistency:
		return "EventualConsistency"
	case FeatureSnapshot:
		return "Snapshot"
	default:
		return "Unknown"
	}
}

type DatabaseInfo struct {
	SizeBytes         int            `json:"size_bytes"`
	DbType            Implementation `json:"db_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

var (
	// ErrClosed is returned by all operations on a closed database
	ErrClosed = errors.New("database is closed")
)

// --------------------------------------------------------------------------
// Values and Versionstamps
// --------------------------------------------------------------------------

// ValueKind identifies the variant of a Value
type ValueKind uint8

const (
	// ValueSerialized is an opaque value serialized by the host runtime
	ValueSerialized ValueKind = iota + 1
	ValueBytes
	ValueU64
)

func (k ValueKind) String() string {
	switch k {
	case ValueSerialized:
		return "serialized"
	case ValueBytes:
		return "bytes"
	case ValueU64:
		return "u64"
	default:
		return "unknown"
	}
}

// Value is the closed sum type of storable values.
// Data is used by ValueSerialized and ValueBytes, U64 by ValueU64.
type Value struct {
	Kind ValueKind
	Data []byte
	U64  uint64
}

func SerializedValue(b []byte) Value { return Value{Kind: ValueSerialized, Data: b} }
func BytesValue(b []byte) Value      { return Value{Kind: ValueBytes, Data: b} }
func U64Value(v uint64) Value        { return Value{Kind: ValueU64, U64: v} }

// Size returns the size of the value as counted against the value and mutation budgets
func (v Value) Size() int {
	if v.Kind == ValueU64 {
		return 8
	}
	return len(v.Data)
}

// VersionstampSize is the length of a versionstamp in bytes
const VersionstampSize = 10

// Versionstamp identifies a committed write. Versionstamps increase monotonically.
type Versionstamp [VersionstampSize]byte

// String returns the 20 character lowercase hex form of the versionstamp
func (v Versionstamp) String() string {
	return hex.EncodeToString(v[:])
}

// Entry is a key-value pair together with the versionstamp of the write that created it
type Entry struct {
	Key          []byte
	Value        Value
	Versionstamp Versionstamp
}

// --------------------------------------------------------------------------
// Read Types
// --------------------------------------------------------------------------

// Consistency is the consistency level of a read
type Consistency uint8

const (
	ConsistencyStrong Consistency = iota
	ConsistencyEventual
)

func (c Consistency) String() string {
	if c == ConsistencyEventual {
		return "eventual"
	}
	return "strong"
}

// ReadRange is a half-open byte range [Start, End) with a limit and direction
type ReadRange struct {
	Start   []byte
	End     []byte
	Limit   uint32
	Reverse bool
}

type SnapshotReadOptions struct {
	Consistency Consistency
}

// ReadRangeOutput holds the entries of one ReadRange in scan order
type ReadRangeOutput struct {
	Entries []Entry
}

// --------------------------------------------------------------------------
// Write Types
// --------------------------------------------------------------------------

// Check asserts that a key currently has the given versionstamp (nil = key absent)
type Check struct {
	Key          []byte
	Versionstamp *Versionstamp
}

type MutationKind uint8

const (
	MutationSet MutationKind = iota + 1
	MutationDelete
	MutationSum
	MutationMin
	MutationMax
	MutationSetSuffixVersionstampedKey
)

func (k MutationKind) String() string {
	switch k {
	case MutationSet:
		return "set"
	case MutationDelete:
		return "delete"
	case MutationSum:
		return "sum"
	case MutationMin:
		return "min"
	case MutationMax:
		return "max"
	case MutationSetSuffixVersionstampedKey:
		return "setSuffixVersionstampedKey"
	default:
		return "unknown"
	}
}

// HasValue reports whether mutations of this kind carry a value
func (k MutationKind) HasValue() bool {
	return k != MutationDelete
}

// Mutation is a single write. Value is nil for MutationDelete, ExpireAt nil means no expiry.
type Mutation struct {
	Key      []byte
	Kind     MutationKind
	Value    *Value
	ExpireAt *time.Time
}

// Enqueue schedules a queue message for delivery at Deadline.
// A nil BackoffSchedule selects the default schedule of the backend.
type Enqueue struct {
	Payload           []byte
	Deadline          time.Time
	KeysIfUndelivered [][]byte
	BackoffSchedule   []uint32
}

// AtomicWrite is applied all-or-nothing. If any check fails nothing is written.
type AtomicWrite struct {
	Checks    []Check
	Mutations []Mutation
	Enqueues  []Enqueue
}

// CommitResult is returned for a successful atomic write
type CommitResult struct {
	Versionstamp Versionstamp
}

// --------------------------------------------------------------------------
// Watch and Queue Types
// --------------------------------------------------------------------------

// WatchKeyOutput reports whether a watched key changed since the previous poll.
// Entry is nil if the key changed to absent.
type WatchKeyOutput struct {
	Changed bool
	Entry   *Entry
}

// WatchStream yields one []WatchKeyOutput per poll (same order as the watched keys).
// Next returns io.EOF when the stream has ended.
type WatchStream interface {
	Next(ctx context.Context) ([]WatchKeyOutput, error)
	Close() error
}

// QueueMessageHandle represents a dequeued message that has to be acknowledged with Finish
type QueueMessageHandle interface {
	// TakePayload returns the message payload
	TakePayload(ctx context.Context) ([]byte, error)

	// Finish acknowledges the message. success=false triggers a redelivery according to the backoff schedule.
	Finish(ctx context.Context, success bool) error
}

// --------------------------------------------------------------------------
// Database Interface
// --------------------------------------------------------------------------

// Database defines the contract every storage backend must satisfy.
// All operations are safe for concurrent use.
type Database interface {

	// --------------------------------------------------------------------------
	// Read Operations
	// --------------------------------------------------------------------------

	// SnapshotRead reads all ranges from one consistent snapshot.
	// The result has one ReadRangeOutput per range, in input order.
	SnapshotRead(ctx context.Context, ranges []ReadRange, opts SnapshotReadOptions) ([]ReadRangeOutput, error)

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// AtomicWrite applies the write all-or-nothing.
	// A nil CommitResult with a nil error means that a check failed.
	AtomicWrite(ctx context.Context, write AtomicWrite) (*CommitResult, error)

	// --------------------------------------------------------------------------
	// Watch and Queue Operations
	// --------------------------------------------------------------------------

	// Watch returns a stream of change notifications for the given keys
	Watch(keys [][]byte) WatchStream

	// DequeueNextMessage blocks until a queue message is ready.
	// It returns (nil, nil) if the database is closed while waiting.
	DequeueNextMessage(ctx context.Context) (QueueMessageHandle, error)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the database implementation supports the specified feature.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the database.
	GetInfo() (info DatabaseInfo)

	// Close closes the database. Pending dequeues return no message and watch streams end.
	Close() (err error)
}
