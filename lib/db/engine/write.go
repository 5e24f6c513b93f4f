package engine

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/txKV/lib/db"
	"github.com/ValentinKolb/txKV/lib/db/storage"
	"github.com/ValentinKolb/txKV/lib/keycodec"
)

// --------------------------------------------------------------------------
// Transactions
// --------------------------------------------------------------------------

// txn collects the changes of one state transition.
// Reads see the changes made earlier in the same txn.
//
// Thread-safety: a txn must only be used with e.mu held.
type txn struct {
	e       *Engine
	batch   storage.Batch
	version uint64
	now     time.Time
	nowMs   int64

	pending map[string]*dataRecord // data key -> record (nil = deleted)

	// side effects applied after a successful commit
	usedVersion  bool
	dataChanged  bool
	queueChanged bool
	queueSeq     uint64
	leaseSet     map[uint64]int64
	leaseRemove  []uint64
}

func (e *Engine) begin(version uint64, now time.Time) *txn {
	return &txn{
		e:        e,
		batch:    e.store.NewBatch(),
		version:  version,
		now:      now,
		nowMs:    toMillis(now),
		pending:  make(map[string]*dataRecord),
		queueSeq: e.queueSeq,
		leaseSet: make(map[uint64]int64),
	}
}

// get returns the live record for a key, nil if the key is absent or expired
func (t *txn) get(key []byte) (*dataRecord, error) {
	if rec, ok := t.pending[string(key)]; ok {
		if rec != nil && rec.expired(t.nowMs) {
			return nil, nil
		}
		return rec, nil
	}
	rec, err := t.getStored(key)
	if err != nil || rec == nil || rec.expired(t.nowMs) {
		return nil, err
	}
	return rec, nil
}

// getStored returns the stored record including expired ones
func (t *txn) getStored(key []byte) (*dataRecord, error) {
	raw, err := t.e.store.Get(dataKey(key))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, mapStorageErr(err)
	}
	return decodeDataRecord(raw)
}

func (t *txn) put(key []byte, value db.Value, expireAt int64) error {
	if err := t.dropExpiryIndex(key); err != nil {
		return err
	}
	rec := &dataRecord{
		value:        value,
		versionstamp: versionstampFor(t.version),
		expireAt:     expireAt,
	}
	if err := t.batch.Set(dataKey(key), rec.encode()); err != nil {
		return err
	}
	if expireAt != 0 {
		if err := t.batch.Set(expiryKey(expireAt, key), nil); err != nil {
			return err
		}
	}
	t.pending[string(key)] = rec
	t.usedVersion = true
	t.dataChanged = true
	return nil
}

func (t *txn) delete(key []byte) error {
	if err := t.dropExpiryIndex(key); err != nil {
		return err
	}
	if err := t.batch.Delete(dataKey(key)); err != nil {
		return err
	}
	t.pending[string(key)] = nil
	t.dataChanged = true
	return nil
}

// dropExpiryIndex removes the expiry index entry of the currently stored record
func (t *txn) dropExpiryIndex(key []byte) error {
	if _, ok := t.pending[string(key)]; ok {
		// a previous write in this txn already dropped the stored index entry
		if rec := t.pending[string(key)]; rec != nil && rec.expireAt != 0 {
			return t.batch.Delete(expiryKey(rec.expireAt, key))
		}
		return nil
	}
	rec, err := t.getStored(key)
	if err != nil || rec == nil || rec.expireAt == 0 {
		return err
	}
	return t.batch.Delete(expiryKey(rec.expireAt, key))
}

// commit writes the batch and applies the side effects to the engine
func (t *txn) commit() error {
	e := t.e
	if t.usedVersion {
		if err := t.batch.Set(metaVersionKey, binary.BigEndian.AppendUint64(nil, t.version)); err != nil {
			return err
		}
	}
	if t.queueSeq != e.queueSeq {
		if err := t.batch.Set(metaQueueSeqKey, binary.BigEndian.AppendUint64(nil, t.queueSeq)); err != nil {
			return err
		}
	}
	if err := t.batch.Commit(); err != nil {
		return mapStorageErr(err)
	}

	if t.usedVersion {
		e.version = t.version
	}
	e.queueSeq = t.queueSeq
	for _, id := range t.leaseRemove {
		e.leases.Remove(id)
	}
	for id, deadline := range t.leaseSet {
		e.leases.Set(id, uint64(deadline))
	}
	if t.dataChanged {
		e.watchers.notify()
	}
	if t.queueChanged {
		e.queue.notify()
	}
	return nil
}

func (t *txn) abort() {
	_ = t.batch.Close()
}

// --------------------------------------------------------------------------
// Database Interface - Write Operations
// --------------------------------------------------------------------------

// AtomicWrite applies the write with the next local version
func (e *Engine) AtomicWrite(ctx context.Context, w db.AtomicWrite) (*db.CommitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isClosed() {
		return nil, db.ErrClosed
	}
	return e.applyLocked(w, e.version+1, e.now())
}

// Apply applies the write with an externally assigned version and time.
// The version must be greater than every previously applied version.
// It is used by replicated engines to apply writes deterministically.
func (e *Engine) Apply(w db.AtomicWrite, version uint64, now time.Time) (*db.CommitResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isClosed() {
		return nil, db.ErrClosed
	}
	if version <= e.version {
		return nil, fmt.Errorf("engine: version %d is not greater than the current version %d", version, e.version)
	}
	return e.applyLocked(w, version, now)
}

func (e *Engine) applyLocked(w db.AtomicWrite, version uint64, now time.Time) (*db.CommitResult, error) {
	t := e.begin(version, now)

	// checks
	for _, c := range w.Checks {
		rec, err := t.get(c.Key)
		if err != nil {
			t.abort()
			return nil, err
		}
		if !checkMatches(rec, c.Versionstamp) {
			t.abort()
			return nil, nil
		}
	}

	// mutations
	for _, m := range w.Mutations {
		if err := t.mutate(m); err != nil {
			t.abort()
			return nil, err
		}
	}

	// enqueues
	for _, q := range w.Enqueues {
		if err := t.enqueue(q); err != nil {
			t.abort()
			return nil, err
		}
	}

	t.usedVersion = true
	if err := t.commit(); err != nil {
		return nil, err
	}
	return &db.CommitResult{Versionstamp: versionstampFor(version)}, nil
}

func checkMatches(rec *dataRecord, expected *db.Versionstamp) bool {
	if expected == nil {
		return rec == nil
	}
	return rec != nil && rec.versionstamp == *expected
}

func (t *txn) mutate(m db.Mutation) error {
	var expireAt int64
	if m.ExpireAt != nil {
		expireAt = toMillis(*m.ExpireAt)
	}

	switch m.Kind {
	case db.MutationSet:
		if m.Value == nil {
			return fmt.Errorf("mutation '%s' requires a value", m.Kind)
		}
		return t.put(m.Key, *m.Value, expireAt)

	case db.MutationDelete:
		return t.delete(m.Key)

	case db.MutationSum, db.MutationMin, db.MutationMax:
		if m.Value == nil || m.Value.Kind != db.ValueU64 {
			return fmt.Errorf("Failed to perform '%s' mutation on a non-U64 operand", m.Kind)
		}
		current, err := t.get(m.Key)
		if err != nil {
			return err
		}
		result := m.Value.U64
		if current != nil {
			if current.value.Kind != db.ValueU64 {
				return fmt.Errorf("Failed to perform '%s' mutation on a non-U64 value in the database", m.Kind)
			}
			result = combineU64(m.Kind, current.value.U64, m.Value.U64)
		}
		return t.put(m.Key, db.U64Value(result), expireAt)

	case db.MutationSetSuffixVersionstampedKey:
		if m.Value == nil {
			return fmt.Errorf("mutation '%s' requires a value", m.Kind)
		}
		key, err := keycodec.AppendPart(bytes.Clone(m.Key), keycodec.String(versionstampFor(t.version).String()))
		if err != nil {
			return err
		}
		return t.put(key, *m.Value, expireAt)

	default:
		return fmt.Errorf("unknown mutation kind %d", m.Kind)
	}
}

func combineU64(kind db.MutationKind, current, operand uint64) uint64 {
	switch kind {
	case db.MutationSum:
		return current + operand // wraps around
	case db.MutationMin:
		return min(current, operand)
	default:
		return max(current, operand)
	}
}
