package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/ValentinKolb/txKV/lib/db"
	"github.com/ValentinKolb/txKV/lib/db/engine"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Snapshot reads
	Ranges      []db.ReadRange       `json:"ranges,omitempty"`      // Used for: SnapshotRead (request)
	Consistency db.Consistency       `json:"consistency,omitempty"` // Used for: SnapshotRead (request)
	Outputs     []db.ReadRangeOutput `json:"outputs,omitempty"`     // Used for: SnapshotRead (response)

	// Atomic writes
	Write        *WriteRequest    `json:"write,omitempty"`        // Used for: AtomicWrite (request)
	Versionstamp *db.Versionstamp `json:"versionstamp,omitempty"` // Used for: AtomicWrite (response), nil = check failed

	// Watches
	Keys    [][]byte            `json:"keys,omitempty"`    // Used for: Watch (request)
	Changes []db.WatchKeyOutput `json:"changes,omitempty"` // Used for: WatchNext (response)

	// Queue
	Payload []byte `json:"payload,omitempty"` // Used for: Dequeue (response)
	Success bool   `json:"success,omitempty"` // Used for: Finish (request)

	// ID of a watch stream or dequeued message, used for: Watch (response), WatchNext, WatchClose, Dequeue (response), Finish
	ID uint64 `json:"id,omitempty"`

	// WaitMs bounds how long the server blocks in WatchNext and Dequeue
	WaitMs int64 `json:"wait_ms,omitempty"`

	// Database info
	Info *InfoResponse `json:"info,omitempty"` // Used for: Info (response)

	// Response only fields
	Ok      bool      `json:"ok,omitempty"`       // WatchNext and Dequeue: false = nothing happened while waiting
	Err     string    `json:"err,omitempty"`      // Empty if no error, otherwise contains the error message
	ErrCode ErrorCode `json:"err_code,omitempty"` // Classifies Err
}

// InfoResponse is the wire form of db.DatabaseInfo, metadata is transported as json
type InfoResponse struct {
	SizeBytes int               `json:"size_bytes"`
	DbType    db.Implementation `json:"db_type"`
	Features  db.Feature        `json:"features"`
	Metadata  []byte            `json:"metadata,omitempty"`
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewSnapshotReadRequest creates a new SnapshotRead request
func NewSnapshotReadRequest(ranges []db.ReadRange, consistency db.Consistency) *Message {
	return &Message{
		MsgType:     MsgTSnapshotRead,
		Ranges:      ranges,
		Consistency: consistency,
	}
}

// NewSnapshotReadResponse creates a new SnapshotRead response
func NewSnapshotReadResponse(outputs []db.ReadRangeOutput, err error) *Message {
	return withError(&Message{
		MsgType: MsgTSnapshotRead,
		Outputs: outputs,
	}, err)
}

// NewAtomicWriteRequest creates a new AtomicWrite request
func NewAtomicWriteRequest(write db.AtomicWrite) *Message {
	return &Message{
		MsgType: MsgTAtomicWrite,
		Write:   FromAtomicWrite(write),
	}
}

// NewAtomicWriteResponse creates a new AtomicWrite response
func NewAtomicWriteResponse(commit *db.CommitResult, err error) *Message {
	msg := &Message{MsgType: MsgTAtomicWrite}
	if commit != nil {
		msg.Versionstamp = &commit.Versionstamp
	}
	return withError(msg, err)
}

// NewWatchRequest creates a new Watch request
func NewWatchRequest(keys [][]byte) *Message {
	return &Message{
		MsgType: MsgTWatch,
		Keys:    keys,
	}
}

// NewWatchResponse creates a new Watch response
func NewWatchResponse(id uint64, err error) *Message {
	return withError(&Message{
		MsgType: MsgTWatch,
		ID:      id,
	}, err)
}

// NewWatchNextRequest creates a new WatchNext request
func NewWatchNextRequest(id uint64, waitMs int64) *Message {
	return &Message{
		MsgType: MsgTWatchNext,
		ID:      id,
		WaitMs:  waitMs,
	}
}

// NewWatchNextResponse creates a new WatchNext response
func NewWatchNextResponse(changes []db.WatchKeyOutput, ok bool, err error) *Message {
	return withError(&Message{
		MsgType: MsgTWatchNext,
		Changes: changes,
		Ok:      ok,
	}, err)
}

// NewWatchCloseRequest creates a new WatchClose request
func NewWatchCloseRequest(id uint64) *Message {
	return &Message{
		MsgType: MsgTWatchClose,
		ID:      id,
	}
}

// NewWatchCloseResponse creates a new WatchClose response
func NewWatchCloseResponse(err error) *Message {
	return withError(&Message{MsgType: MsgTWatchClose}, err)
}

// NewDequeueRequest creates a new Dequeue request
func NewDequeueRequest(waitMs int64) *Message {
	return &Message{
		MsgType: MsgTDequeue,
		WaitMs:  waitMs,
	}
}

// NewDequeueResponse creates a new Dequeue response
func NewDequeueResponse(id uint64, payload []byte, ok bool, err error) *Message {
	return withError(&Message{
		MsgType: MsgTDequeue,
		ID:      id,
		Payload: payload,
		Ok:      ok,
	}, err)
}

// NewFinishRequest creates a new Finish request
func NewFinishRequest(id uint64, success bool) *Message {
	return &Message{
		MsgType: MsgTFinish,
		ID:      id,
		Success: success,
	}
}

// NewFinishResponse creates a new Finish response
func NewFinishResponse(err error) *Message {
	return withError(&Message{MsgType: MsgTFinish}, err)
}

// NewInfoRequest creates a new Info request
func NewInfoRequest() *Message {
	return &Message{MsgType: MsgTInfo}
}

// NewInfoResponse creates a new Info response
func NewInfoResponse(info db.DatabaseInfo) *Message {
	resp := &InfoResponse{
		SizeBytes: info.SizeBytes,
		DbType:    info.DbType,
	}
	for _, f := range info.SupportedFeatures {
		resp.Features |= f
	}
	if info.Metadata != nil {
		meta, err := json.Marshal(info.Metadata)
		if err != nil {
			return NewErrorResponse(ErrCodeInternal, fmt.Sprintf("failed to encode metadata: %v", err))
		}
		resp.Metadata = meta
	}
	return &Message{MsgType: MsgTInfo, Info: resp}
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(code ErrorCode, err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
		ErrCode: code,
	}
}

func withError(msg *Message, err error) *Message {
	if err != nil {
		msg.Err = err.Error()
		msg.ErrCode = CodeOf(err)
	}
	return msg
}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

// ErrorCode classifies the error of a response so clients can restore sentinel errors
type ErrorCode uint8

const (
	ErrCodeNone          ErrorCode = iota
	ErrCodeInternal                // backend or transport failure
	ErrCodeClosed                  // database is closed
	ErrCodeNotFound                // unknown watch stream or queue message
	ErrCodeShardNotFound           // no shard with the requested id
	ErrCodeBadRequest              // request could not be decoded or is of an unknown type
	ErrCodeEOF                     // watch stream has ended
)

// CodeOf returns the error code for err
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return ErrCodeNone
	case errors.Is(err, db.ErrClosed):
		return ErrCodeClosed
	case errors.Is(err, engine.ErrMessageNotFound):
		return ErrCodeNotFound
	case errors.Is(err, io.EOF):
		return ErrCodeEOF
	default:
		return ErrCodeInternal
	}
}

// RemoteError is an error returned by a server
type RemoteError struct {
	Code ErrorCode
	Msg  string
}

func (e *RemoteError) Error() string {
	return e.Msg
}

// Unwrap restores the sentinel errors of the db packages
func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case ErrCodeClosed:
		return db.ErrClosed
	case ErrCodeNotFound:
		return engine.ErrMessageNotFound
	case ErrCodeEOF:
		return io.EOF
	default:
		return nil
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

var messageTypeNames = map[MessageType]string{
	MsgTUnknown:      "unknown",
	MsgTSuccess:      "success",
	MsgTError:        "error",
	MsgTSnapshotRead: "snapshot_read",
	MsgTAtomicWrite:  "atomic_write",
	MsgTWatch:        "watch",
	MsgTWatchNext:    "watch_next",
	MsgTWatchClose:   "watch_close",
	MsgTDequeue:      "dequeue",
	MsgTFinish:       "finish",
	MsgTInfo:         "info",
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for typ, name := range messageTypeNames {
		if name == s {
			*t = typ
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// db.Database operations

	MsgTSnapshotRead // Read ranges from one snapshot
	MsgTAtomicWrite  // Apply an atomic write
	MsgTWatch        // Open a watch stream
	MsgTWatchNext    // Poll a watch stream
	MsgTWatchClose   // Close a watch stream
	MsgTDequeue      // Dequeue the next queue message
	MsgTFinish       // Finish a dequeued message
	MsgTInfo         // Database info and features
)
