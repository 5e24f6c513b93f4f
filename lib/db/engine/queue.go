package engine

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/ValentinKolb/txKV/lib/db"
	"github.com/ValentinKolb/txKV/lib/db/storage"
)

// ClaimedMessage is a queue message leased to a consumer
type ClaimedMessage struct {
	ID      uint64
	Payload []byte
}

// --------------------------------------------------------------------------
// Queue transitions (used inside txns)
// --------------------------------------------------------------------------

func (t *txn) enqueue(q db.Enqueue) error {
	backoff := q.BackoffSchedule
	if backoff == nil {
		backoff = DefaultBackoffSchedule
	}
	msg := &messageRecord{
		payload:           q.Payload,
		keysIfUndelivered: q.KeysIfUndelivered,
		backoffSchedule:   backoff,
	}

	t.queueSeq++
	readyAt := toMillis(q.Deadline)
	if readyAt < 0 {
		readyAt = 0
	}
	if err := t.batch.Set(queueKey(readyAt, t.queueSeq), msg.encode()); err != nil {
		return err
	}
	t.queueChanged = true
	return nil
}

// claim leases the first ready message, nil if none is ready
func (t *txn) claim() (*ClaimedMessage, error) {
	var key, value []byte
	upper := queueKey(t.nowMs+1, 0)
	err := t.e.store.Scan([]byte{prefixQueue}, upper, false, func(k, v []byte) bool {
		key, value = append([]byte(nil), k...), append([]byte(nil), v...)
		return false
	})
	if err != nil {
		return nil, mapStorageErr(err)
	}
	if key == nil {
		return nil, nil
	}

	_, id, err := parseQueueKey(key)
	if err != nil {
		return nil, err
	}
	msg, err := decodeMessageRecord(value)
	if err != nil {
		return nil, err
	}

	deadline := t.nowMs + t.e.leaseTimeout.Milliseconds()
	if err := t.batch.Delete(key); err != nil {
		return nil, err
	}
	if err := t.batch.Set(runningKey(id), encodeRunning(deadline, msg)); err != nil {
		return nil, err
	}
	t.leaseSet[id] = deadline

	return &ClaimedMessage{ID: id, Payload: msg.payload}, nil
}

// finish ends the lease of a message.
// On failure the message is requeued with the next backoff delay, if the
// schedule is exhausted its payload is written to the keys_if_undelivered.
func (t *txn) finish(id uint64, success bool) error {
	raw, err := t.e.store.Get(runningKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return ErrMessageNotFound
	}
	if err != nil {
		return mapStorageErr(err)
	}
	_, msg, err := decodeRunning(raw)
	if err != nil {
		return err
	}

	if err := t.batch.Delete(runningKey(id)); err != nil {
		return err
	}
	t.leaseRemove = append(t.leaseRemove, id)

	if success {
		return nil
	}

	if len(msg.backoffSchedule) > 0 {
		delay := int64(msg.backoffSchedule[0])
		msg.backoffSchedule = msg.backoffSchedule[1:]
		t.queueChanged = true
		return t.batch.Set(queueKey(t.nowMs+delay, id), msg.encode())
	}

	log.Debugf("queue message %d exhausted its backoff schedule, writing %d undelivered keys", id, len(msg.keysIfUndelivered))
	for _, key := range msg.keysIfUndelivered {
		if err := t.put(key, db.SerializedValue(msg.payload), 0); err != nil {
			return err
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Exported queue operations (used by replicated engines)
// --------------------------------------------------------------------------

// Claim leases the next ready message at the given time, nil if none is ready.
// version is used if the transition has to write versioned entries.
func (e *Engine) Claim(version uint64, now time.Time) (*ClaimedMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isClosed() {
		return nil, db.ErrClosed
	}
	t := e.begin(max(version, e.version), now)
	msg, err := t.claim()
	if err != nil || msg == nil {
		t.abort()
		return nil, err
	}
	return msg, t.commit()
}

// Finish ends the lease of a message, see txn.finish
func (e *Engine) Finish(id uint64, success bool, version uint64, now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isClosed() {
		return db.ErrClosed
	}
	t := e.begin(max(version, e.version+1), now)
	if err := t.finish(id, success); err != nil {
		t.abort()
		return err
	}
	return t.commit()
}

// WaitReady blocks until a queued message may be ready, ctx is done or the engine is closed
func (e *Engine) WaitReady(ctx context.Context) error {
	wake := e.queue.wait()

	var next []byte
	err := e.store.Scan([]byte{prefixQueue}, prefixEnd(prefixQueue), false, func(k, _ []byte) bool {
		next = append([]byte(nil), k...)
		return false
	})
	if err != nil {
		return mapStorageErr(err)
	}

	// nothing queued: wait for an enqueue, poll occasionally for leases expiring elsewhere
	wait := e.leaseTimeout
	if next != nil {
		readyAt := int64(binary.BigEndian.Uint64(next[1:9]))
		wait = time.Duration(readyAt-toMillis(e.now())) * time.Millisecond
		if wait <= 0 {
			return nil
		}
	}
	return e.sleep(ctx, wait, wake)
}

// --------------------------------------------------------------------------
// Database Interface - Queue Operations
// --------------------------------------------------------------------------

// DequeueNextMessage blocks until a message is ready. It returns (nil, nil) once the engine is closed.
func (e *Engine) DequeueNextMessage(ctx context.Context) (db.QueueMessageHandle, error) {
	for {
		msg, err := e.Claim(0, e.now())
		if errors.Is(err, db.ErrClosed) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return &messageHandle{e: e, msg: msg}, nil
		}

		if err := e.WaitReady(ctx); errors.Is(err, db.ErrClosed) {
			return nil, nil
		} else if err != nil {
			return nil, err
		}
	}
}

type messageHandle struct {
	e   *Engine
	msg *ClaimedMessage
}

func (h *messageHandle) TakePayload(_ context.Context) ([]byte, error) {
	return h.msg.Payload, nil
}

func (h *messageHandle) Finish(ctx context.Context, success bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return h.e.Finish(h.msg.ID, success, 0, h.e.now())
}
