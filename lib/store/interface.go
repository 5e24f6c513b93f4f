package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ValentinKolb/txKV/lib/db"
	"github.com/ValentinKolb/txKV/lib/keycodec"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// DBFactory opens the database behind a path.
// This is used to abstract the creation of the db from the store implementation.
type DBFactory func(ctx context.Context, path string) (db.Database, error)

// ResourceID identifies an open database, watch or dequeued message of a store
type ResourceID uint32

// IStore is the request layer of txKV. It validates structured requests, converts
// them into byte level operations and manages the resources handed out to callers.
// All methods return a *Error on failure.
type IStore interface {
	// OpenDatabase opens the database at path and returns its resource id
	OpenDatabase(ctx context.Context, path string) (rid ResourceID, err error)

	// Close closes any resource. Closing a database ends all of its watches and
	// pending dequeues, the backend is closed once no request uses it anymore.
	Close(rid ResourceID) (err error)

	// SnapshotRead reads all ranges from one consistent snapshot.
	// The result contains one slice of entries per range, in input order.
	SnapshotRead(ctx context.Context, rid ResourceID, ranges []RangeRequest, consistency db.Consistency) (result [][]Entry, err error)

	// AtomicWrite applies the request all-or-nothing and returns the versionstamp
	// of the commit. A nil versionstamp means that a check failed.
	AtomicWrite(ctx context.Context, rid ResourceID, req AtomicWriteRequest) (versionstamp *string, err error)

	// EncodeCursor returns the cursor that continues a read of the selector after boundary
	EncodeCursor(prefix, start, end, boundary keycodec.Key) (cursor string, err error)

	// Watch opens a watch on up to MaxWatchedKeys keys and returns its resource id
	Watch(rid ResourceID, keys []keycodec.Key) (wid ResourceID, err error)

	// WatchNext waits for the next change of a watch. ok is false once the watch
	// or its database is closed.
	WatchNext(ctx context.Context, wid ResourceID) (entries []WatchEntry, ok bool, err error)

	// DequeueNextMessage waits for the next queue message. A nil message is
	// returned if the database is unknown or gets closed.
	DequeueNextMessage(ctx context.Context, rid ResourceID) (msg *DequeuedMessage, err error)

	// FinishDequeuedMessage acknowledges a dequeued message. With success=false the
	// message is redelivered according to its backoff schedule.
	FinishDequeuedMessage(ctx context.Context, hid ResourceID, success bool) (err error)
}

// --------------------------------------------------------------------------
// Request Types
// --------------------------------------------------------------------------

// RangeRequest selects a range of keys. Nil keys are absent, see selector.Resolve
// for the valid combinations.
type RangeRequest struct {
	Prefix  keycodec.Key
	Start   keycodec.Key
	End     keycodec.Key
	Limit   uint32
	Reverse bool
	Cursor  *string
}

// CheckRequest asserts the versionstamp of a key. A nil Versionstamp asserts that
// the key does not exist.
type CheckRequest struct {
	Key          keycodec.Key
	Versionstamp *string
}

// MutationRequest is a single write. Kind is one of set, delete, sum, min, max
// and setSuffixVersionstampedKey. ExpireIn is in milliseconds.
type MutationRequest struct {
	Key      keycodec.Key
	Kind     string
	Value    *db.Value
	ExpireIn *uint64
}

// EnqueueRequest schedules a queue message DelayMs milliseconds from now.
// A nil BackoffSchedule selects the default schedule of the backend.
type EnqueueRequest struct {
	Payload           []byte
	DelayMs           uint64
	KeysIfUndelivered []keycodec.Key
	BackoffSchedule   []uint32
}

type AtomicWriteRequest struct {
	Checks    []CheckRequest
	Mutations []MutationRequest
	Enqueues  []EnqueueRequest
}

// --------------------------------------------------------------------------
// Result Types
// --------------------------------------------------------------------------

// Entry is a decoded key-value pair with the hex versionstamp of its last write
type Entry struct {
	Key          keycodec.Key
	Value        db.Value
	Versionstamp string
}

// WatchEntry reports one watched key. Entry is nil if the key is absent or unchanged.
type WatchEntry struct {
	Changed bool
	Entry   *Entry
}

type DequeuedMessage struct {
	Payload []byte
	Handle  ResourceID
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error wraps a return code and a message. Backend errors are kept in Err.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message
	Err  error   // The backend error, if any
}

// Error implements the error interface. It returns the bare message so callers
// can match on the documented texts.
func (e *Error) Error() string {
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

func typeError(format string, args ...any) *Error {
	return &Error{Code: RetCTypeError, Msg: fmt.Sprintf(format, args...)}
}

func badResource(rid ResourceID) *Error {
	return &Error{Code: RetCBadResource, Msg: fmt.Sprintf("bad resource id %d", rid)}
}

func internalError(err error) *Error {
	return &Error{Code: RetCInternalError, Msg: err.Error(), Err: err}
}

// IsTypeError reports whether err is a validation error
func IsTypeError(err error) bool {
	return hasCode(err, RetCTypeError)
}

// IsBadResource reports whether err refers to an unknown or closed resource
func IsBadResource(err error) bool {
	return hasCode(err, RetCBadResource)
}

func hasCode(err error, code RetCode) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by underlying database.
	RetCTypeError                           // 3: The request was rejected by validation.
	RetCBadResource                         // 4: The resource id is unknown or of the wrong kind.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCTypeError:
		return "TypeError"
	case RetCBadResource:
		return "BadResource"
	default:
		return "Unknown"
	}
}
