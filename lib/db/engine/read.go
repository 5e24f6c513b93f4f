package engine

import (
	"context"

	"github.com/ValentinKolb/txKV/lib/db"
	"github.com/ValentinKolb/txKV/lib/db/storage"
)

// --------------------------------------------------------------------------
// Database Interface - Read Operations
// --------------------------------------------------------------------------

// SnapshotRead reads all ranges from one storage snapshot.
// The engine is always strongly consistent, the consistency option is ignored.
func (e *Engine) SnapshotRead(ctx context.Context, ranges []db.ReadRange, _ db.SnapshotReadOptions) ([]db.ReadRangeOutput, error) {
	if e.isClosed() {
		return nil, db.ErrClosed
	}
	snap, err := e.store.NewSnapshot()
	if err != nil {
		return nil, mapStorageErr(err)
	}
	defer snap.Close()

	nowMs := toMillis(e.now())
	out := make([]db.ReadRangeOutput, len(ranges))
	for i, r := range ranges {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entries, err := readRange(snap, r, nowMs)
		if err != nil {
			return nil, err
		}
		out[i] = db.ReadRangeOutput{Entries: entries}
	}
	return out, nil
}

func readRange(r storage.Reader, rr db.ReadRange, nowMs int64) ([]db.Entry, error) {
	entries := make([]db.Entry, 0)
	if rr.Limit == 0 {
		return entries, nil
	}

	var decodeErr error
	err := r.Scan(dataKey(rr.Start), dataKey(rr.End), rr.Reverse, func(k, v []byte) bool {
		rec, err := decodeDataRecord(v)
		if err != nil {
			decodeErr = err
			return false
		}
		if rec.expired(nowMs) {
			return true
		}
		entries = append(entries, db.Entry{
			Key:          append([]byte(nil), k[1:]...),
			Value:        rec.value,
			Versionstamp: rec.versionstamp,
		})
		return uint32(len(entries)) < rr.Limit
	})
	if err != nil {
		return nil, mapStorageErr(err)
	}
	return entries, decodeErr
}

// readKeys reads the live entries of the given keys (nil for absent keys) from one snapshot
func (e *Engine) readKeys(keys [][]byte) ([]*db.Entry, error) {
	snap, err := e.store.NewSnapshot()
	if err != nil {
		return nil, mapStorageErr(err)
	}
	defer snap.Close()

	nowMs := toMillis(e.now())
	out := make([]*db.Entry, len(keys))
	for i, key := range keys {
		raw, err := snap.Get(dataKey(key))
		if err == storage.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, mapStorageErr(err)
		}
		rec, err := decodeDataRecord(raw)
		if err != nil {
			return nil, err
		}
		if rec.expired(nowMs) {
			continue
		}
		out[i] = &db.Entry{Key: key, Value: rec.value, Versionstamp: rec.versionstamp}
	}
	return out, nil
}
