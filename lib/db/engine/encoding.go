package engine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/txKV/lib/db"
)

// --------------------------------------------------------------------------
// Keyspace
// --------------------------------------------------------------------------

// The engine splits the storage keyspace by a one byte prefix:
//
//	d|key                 data record
//	x|expire_at|key       expiry index (expire_at as unix ms, big-endian)
//	q|ready_at|id         queue messages waiting for delivery
//	r|id                  queue messages leased to a consumer
//	m|name                metadata
const (
	prefixData    = 'd'
	prefixExpiry  = 'x'
	prefixQueue   = 'q'
	prefixRunning = 'r'
	prefixMeta    = 'm'
)

var (
	metaVersionKey  = []byte{prefixMeta, 'v', 'e', 'r', 's', 'i', 'o', 'n'}
	metaQueueSeqKey = []byte{prefixMeta, 'q', 's', 'e', 'q'}

	errCorruptRecord = errors.New("engine: corrupt record")
)

func dataKey(key []byte) []byte {
	out := make([]byte, 0, 1+len(key))
	out = append(out, prefixData)
	return append(out, key...)
}

func expiryKey(expireAt int64, key []byte) []byte {
	out := make([]byte, 0, 9+len(key))
	out = append(out, prefixExpiry)
	out = binary.BigEndian.AppendUint64(out, uint64(expireAt))
	return append(out, key...)
}

func queueKey(readyAt int64, id uint64) []byte {
	out := make([]byte, 0, 17)
	out = append(out, prefixQueue)
	out = binary.BigEndian.AppendUint64(out, uint64(readyAt))
	return binary.BigEndian.AppendUint64(out, id)
}

func parseQueueKey(k []byte) (readyAt int64, id uint64, err error) {
	if len(k) != 17 || k[0] != prefixQueue {
		return 0, 0, errCorruptRecord
	}
	return int64(binary.BigEndian.Uint64(k[1:9])), binary.BigEndian.Uint64(k[9:17]), nil
}

func runningKey(id uint64) []byte {
	out := make([]byte, 0, 9)
	out = append(out, prefixRunning)
	return binary.BigEndian.AppendUint64(out, id)
}

// prefixEnd returns the exclusive upper bound of all keys starting with the one byte prefix p
func prefixEnd(p byte) []byte {
	return []byte{p + 1}
}

// versionstampFor derives the versionstamp of a commit version:
// 8 byte big-endian version followed by two zero bytes
func versionstampFor(version uint64) db.Versionstamp {
	var vs db.Versionstamp
	binary.BigEndian.PutUint64(vs[:8], version)
	return vs
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// --------------------------------------------------------------------------
// Data Records
// --------------------------------------------------------------------------

// dataRecord is the stored form of an entry:
// [kind 1][versionstamp 10][expire_at 8 (0 = never)][payload]
type dataRecord struct {
	value        db.Value
	versionstamp db.Versionstamp
	expireAt     int64
}

func (r *dataRecord) expired(nowMs int64) bool {
	return r.expireAt != 0 && r.expireAt <= nowMs
}

func (r *dataRecord) encode() []byte {
	out := make([]byte, 0, 19+r.value.Size())
	out = append(out, byte(r.value.Kind))
	out = append(out, r.versionstamp[:]...)
	out = binary.BigEndian.AppendUint64(out, uint64(r.expireAt))
	if r.value.Kind == db.ValueU64 {
		return binary.LittleEndian.AppendUint64(out, r.value.U64)
	}
	return append(out, r.value.Data...)
}

func decodeDataRecord(b []byte) (*dataRecord, error) {
	if len(b) < 19 {
		return nil, errCorruptRecord
	}
	r := &dataRecord{value: db.Value{Kind: db.ValueKind(b[0])}}
	copy(r.versionstamp[:], b[1:11])
	r.expireAt = int64(binary.BigEndian.Uint64(b[11:19]))
	payload := b[19:]

	switch r.value.Kind {
	case db.ValueU64:
		if len(payload) != 8 {
			return nil, errCorruptRecord
		}
		r.value.U64 = binary.LittleEndian.Uint64(payload)
	case db.ValueSerialized, db.ValueBytes:
		r.value.Data = append([]byte(nil), payload...)
	default:
		return nil, fmt.Errorf("%w: unknown value kind %d", errCorruptRecord, b[0])
	}
	return r, nil
}

// --------------------------------------------------------------------------
// Queue Records
// --------------------------------------------------------------------------

// messageRecord is the stored form of a queue message
type messageRecord struct {
	payload           []byte
	keysIfUndelivered [][]byte
	backoffSchedule   []uint32
}

func (m *messageRecord) encode() []byte {
	out := binary.AppendUvarint(nil, uint64(len(m.payload)))
	out = append(out, m.payload...)
	out = binary.AppendUvarint(out, uint64(len(m.keysIfUndelivered)))
	for _, k := range m.keysIfUndelivered {
		out = binary.AppendUvarint(out, uint64(len(k)))
		out = append(out, k...)
	}
	out = binary.AppendUvarint(out, uint64(len(m.backoffSchedule)))
	for _, d := range m.backoffSchedule {
		out = binary.AppendUvarint(out, uint64(d))
	}
	return out
}

type byteReader struct {
	b   []byte
	err error
}

func (r *byteReader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.b)
	if n <= 0 {
		r.err = errCorruptRecord
		return 0
	}
	r.b = r.b[n:]
	return v
}

func (r *byteReader) bytes() []byte {
	n := r.uvarint()
	if r.err != nil {
		return nil
	}
	if uint64(len(r.b)) < n {
		r.err = errCorruptRecord
		return nil
	}
	out := append([]byte(nil), r.b[:n]...)
	r.b = r.b[n:]
	return out
}

func decodeMessageRecord(b []byte) (*messageRecord, error) {
	r := &byteReader{b: b}
	m := &messageRecord{payload: r.bytes()}
	for n := r.uvarint(); n > 0 && r.err == nil; n-- {
		m.keysIfUndelivered = append(m.keysIfUndelivered, r.bytes())
	}
	for n := r.uvarint(); n > 0 && r.err == nil; n-- {
		m.backoffSchedule = append(m.backoffSchedule, uint32(r.uvarint()))
	}
	if r.err != nil {
		return nil, r.err
	}
	return m, nil
}

// running records are prefixed with the lease deadline
func encodeRunning(leaseDeadline int64, m *messageRecord) []byte {
	out := binary.BigEndian.AppendUint64(nil, uint64(leaseDeadline))
	return append(out, m.encode()...)
}

func decodeRunning(b []byte) (int64, *messageRecord, error) {
	if len(b) < 8 {
		return 0, nil, errCorruptRecord
	}
	m, err := decodeMessageRecord(b[8:])
	if err != nil {
		return 0, nil, err
	}
	return int64(binary.BigEndian.Uint64(b[:8])), m, nil
}
