package internal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/txKV/lib/db"
)

// CommandType defines the possible state transitions of the state machine.
type CommandType uint8

const (
	CommandTAtomicWrite    CommandType = iota + 1 // Apply an atomic write.
	CommandTClaim                                 // Lease the next ready queue message.
	CommandTFinish                                // End the lease of a queue message.
	CommandTCollectGarbage                        // Delete expired entries and redeliver expired leases.
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTAtomicWrite:
		return "AtomicWrite"
	case CommandTClaim:
		return "Claim"
	case CommandTFinish:
		return "Finish"
	case CommandTCollectGarbage:
		return "CollectGarbage"
	default:
		return fmt.Sprintf("Unknown(%d)", ct)
	}
}

// ResultCode is returned in sm.Result.Value
type ResultCode uint64

const (
	ResultOK          ResultCode = iota // Data holds the command specific result
	ResultCheckFailed                   // an atomic write check did not match
	ResultNotFound                      // the queue message is not leased
	ResultError                         // Data holds the error message
)

// Command represents a command to be executed by the state machine (a single entry in the raft log).
// Timestamp is taken by the proposer so every replica applies the command at the same time.
type Command struct {
	Type      CommandType
	Timestamp int64 // unix milliseconds
	MessageID uint64
	Success   bool
	Write     db.AtomicWrite
}

// Time returns the command timestamp
func (command *Command) Time() time.Time {
	return time.UnixMilli(command.Timestamp)
}

var errTruncated = errors.New("command data truncated")

// --------------------------------------------------------------------------
// Serialization
// --------------------------------------------------------------------------

// Serialize serializes a command into a byte array with the format:
// 1 byte for the command type,
// 8 bytes for the timestamp (big endian),
// 8 bytes for the message id (big endian),
// 1 byte for the success flag,
// N bytes for the atomic write (only for CommandTAtomicWrite)
func (command *Command) Serialize() []byte {
	out := make([]byte, 18, 18+64)
	out[0] = byte(command.Type)
	binary.BigEndian.PutUint64(out[1:9], uint64(command.Timestamp))
	binary.BigEndian.PutUint64(out[9:17], command.MessageID)
	if command.Success {
		out[17] = 1
	}
	if command.Type == CommandTAtomicWrite {
		out = appendAtomicWrite(out, &command.Write)
	}
	return out
}

// Deserialize extracts all Command fields from a byte array.
func (command *Command) Deserialize(data []byte) error {
	if len(data) < 18 {
		return fmt.Errorf("data too short for command")
	}
	command.Type = CommandType(data[0])
	command.Timestamp = int64(binary.BigEndian.Uint64(data[1:9]))
	command.MessageID = binary.BigEndian.Uint64(data[9:17])
	command.Success = data[17] == 1
	command.Write = db.AtomicWrite{}

	if command.Type != CommandTAtomicWrite {
		return nil
	}
	r := &reader{b: data[18:]}
	command.Write = r.atomicWrite()
	if r.err != nil {
		return r.err
	}
	if len(r.b) != 0 {
		return fmt.Errorf("%d trailing bytes after command", len(r.b))
	}
	return nil
}

func appendBytes(out, b []byte) []byte {
	out = binary.AppendUvarint(out, uint64(len(b)))
	return append(out, b...)
}

func appendBool(out []byte, b bool) []byte {
	if b {
		return append(out, 1)
	}
	return append(out, 0)
}

func appendAtomicWrite(out []byte, w *db.AtomicWrite) []byte {
	out = binary.AppendUvarint(out, uint64(len(w.Checks)))
	for _, c := range w.Checks {
		out = appendBytes(out, c.Key)
		out = appendBool(out, c.Versionstamp != nil)
		if c.Versionstamp != nil {
			out = append(out, c.Versionstamp[:]...)
		}
	}

	out = binary.AppendUvarint(out, uint64(len(w.Mutations)))
	for _, m := range w.Mutations {
		out = appendBytes(out, m.Key)
		out = append(out, byte(m.Kind))
		out = appendBool(out, m.Value != nil)
		if m.Value != nil {
			out = append(out, byte(m.Value.Kind))
			if m.Value.Kind == db.ValueU64 {
				out = binary.BigEndian.AppendUint64(out, m.Value.U64)
			} else {
				out = appendBytes(out, m.Value.Data)
			}
		}
		out = appendBool(out, m.ExpireAt != nil)
		if m.ExpireAt != nil {
			out = binary.BigEndian.AppendUint64(out, uint64(m.ExpireAt.UnixMilli()))
		}
	}

	out = binary.AppendUvarint(out, uint64(len(w.Enqueues)))
	for _, q := range w.Enqueues {
		out = appendBytes(out, q.Payload)
		out = binary.BigEndian.AppendUint64(out, uint64(q.Deadline.UnixMilli()))
		out = binary.AppendUvarint(out, uint64(len(q.KeysIfUndelivered)))
		for _, k := range q.KeysIfUndelivered {
			out = appendBytes(out, k)
		}
		// nil selects the default schedule and must survive the round trip
		out = appendBool(out, q.BackoffSchedule != nil)
		if q.BackoffSchedule != nil {
			out = binary.AppendUvarint(out, uint64(len(q.BackoffSchedule)))
			for _, d := range q.BackoffSchedule {
				out = binary.AppendUvarint(out, uint64(d))
			}
		}
	}
	return out
}

// --------------------------------------------------------------------------
// Deserialization helpers
// --------------------------------------------------------------------------

// reader keeps the first error, all reads after an error return zero values
type reader struct {
	b   []byte
	err error
}

func (r *reader) fail() {
	if r.err == nil {
		r.err = errTruncated
	}
	r.b = nil
}

func (r *reader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.b)
	if n <= 0 {
		r.fail()
		return 0
	}
	r.b = r.b[n:]
	return v
}

// count reads a length prefix that has to fit in the remaining data
func (r *reader) count() int {
	n := r.uvarint()
	if n > uint64(len(r.b)) {
		r.fail()
		return 0
	}
	return int(n)
}

func (r *reader) byte() byte {
	if r.err != nil || len(r.b) < 1 {
		r.fail()
		return 0
	}
	v := r.b[0]
	r.b = r.b[1:]
	return v
}

func (r *reader) bool() bool {
	return r.byte() == 1
}

func (r *reader) uint64() uint64 {
	if r.err != nil || len(r.b) < 8 {
		r.fail()
		return 0
	}
	v := binary.BigEndian.Uint64(r.b)
	r.b = r.b[8:]
	return v
}

func (r *reader) bytes() []byte {
	n := r.count()
	if r.err != nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, r.b[:n])
	r.b = r.b[n:]
	return out
}

func (r *reader) atomicWrite() db.AtomicWrite {
	var w db.AtomicWrite

	for n := r.count(); n > 0 && r.err == nil; n-- {
		c := db.Check{Key: r.bytes()}
		if r.bool() {
			var vs db.Versionstamp
			if len(r.b) < db.VersionstampSize {
				r.fail()
				break
			}
			copy(vs[:], r.b[:db.VersionstampSize])
			r.b = r.b[db.VersionstampSize:]
			c.Versionstamp = &vs
		}
		w.Checks = append(w.Checks, c)
	}

	for n := r.count(); n > 0 && r.err == nil; n-- {
		m := db.Mutation{Key: r.bytes(), Kind: db.MutationKind(r.byte())}
		if r.bool() {
			v := db.Value{Kind: db.ValueKind(r.byte())}
			if v.Kind == db.ValueU64 {
				v.U64 = r.uint64()
			} else {
				v.Data = r.bytes()
			}
			m.Value = &v
		}
		if r.bool() {
			t := time.UnixMilli(int64(r.uint64()))
			m.ExpireAt = &t
		}
		w.Mutations = append(w.Mutations, m)
	}

	for n := r.count(); n > 0 && r.err == nil; n-- {
		q := db.Enqueue{Payload: r.bytes(), Deadline: time.UnixMilli(int64(r.uint64()))}
		for k := r.count(); k > 0 && r.err == nil; k-- {
			q.KeysIfUndelivered = append(q.KeysIfUndelivered, r.bytes())
		}
		if r.bool() {
			q.BackoffSchedule = make([]uint32, 0)
			for k := r.count(); k > 0 && r.err == nil; k-- {
				q.BackoffSchedule = append(q.BackoffSchedule, uint32(r.uvarint()))
			}
		}
		w.Enqueues = append(w.Enqueues, q)
	}

	return w
}

// --------------------------------------------------------------------------
// Results
// --------------------------------------------------------------------------

// EncodeClaim encodes a claimed message as 8 bytes id (big endian) followed by the payload
func EncodeClaim(id uint64, payload []byte) []byte {
	out := binary.BigEndian.AppendUint64(make([]byte, 0, 8+len(payload)), id)
	return append(out, payload...)
}

// DecodeClaim is the inverse of EncodeClaim
func DecodeClaim(data []byte) (uint64, []byte, error) {
	if len(data) < 8 {
		return 0, nil, errTruncated
	}
	return binary.BigEndian.Uint64(data[:8]), data[8:], nil
}
