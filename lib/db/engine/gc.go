package engine

import (
	"encoding/binary"
	"time"
)

// --------------------------------------------------------------------------
// Garbage Collection
// --------------------------------------------------------------------------

// garbageCollector periodically runs CollectGarbage until the engine is closed
func (e *Engine) garbageCollector() {
	defer close(e.gcDone)

	ticker := time.NewTicker(e.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.closed:
			return
		case <-ticker.C:
			if err := e.CollectGarbage(0, e.now()); err != nil {
				log.Warningf("garbage collection failed: %v", err)
			}
		}
	}
}

// CollectGarbage deletes expired entries and redelivers messages whose lease has expired.
// version is used if redelivery has to write undelivered keys (0 = next local version).
func (e *Engine) CollectGarbage(version uint64, now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isClosed() {
		return nil
	}

	t := e.begin(max(version, e.version+1), now)

	// expired entries (the expiry index is ordered by expiration time)
	var expired [][]byte
	err := e.store.Scan([]byte{prefixExpiry}, expiryKey(t.nowMs+1, nil), false, func(k, _ []byte) bool {
		expired = append(expired, append([]byte(nil), k...))
		return true
	})
	if err != nil {
		t.abort()
		return mapStorageErr(err)
	}
	for _, k := range expired {
		expireAt := int64(binary.BigEndian.Uint64(k[1:9]))
		key := k[9:]

		// the entry may have been overwritten, only delete if the record still expires at this time
		rec, err := t.getStored(key)
		if err != nil {
			t.abort()
			return err
		}
		if err := t.batch.Delete(k); err != nil {
			t.abort()
			return err
		}
		if rec != nil && rec.expireAt == expireAt {
			if err := t.batch.Delete(dataKey(key)); err != nil {
				t.abort()
				return err
			}
			t.dataChanged = true
		}
	}

	// expired leases
	for _, id := range e.expiredLeases(t.nowMs) {
		log.Debugf("lease of queue message %d expired, redelivering", id)
		if err := t.finish(id, false); err != nil && err != ErrMessageNotFound {
			t.abort()
			return err
		}
	}

	if len(expired) == 0 && len(t.leaseRemove) == 0 {
		t.abort()
		return nil
	}
	return t.commit()
}

// expiredLeases returns the ids of all messages whose lease expired.
// The ids stay in the heap until the redelivery is committed.
func (e *Engine) expiredLeases(nowMs int64) []uint64 {
	ids := e.leases.PopExpired(uint64(nowMs))
	for _, id := range ids {
		e.leases.Set(id, uint64(nowMs))
	}
	return ids
}
