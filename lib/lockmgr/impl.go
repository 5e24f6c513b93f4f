package lockmgr

import (
	"context"

	"github.com/ValentinKolb/txKV/lib/db"
	"github.com/ValentinKolb/txKV/lib/keycodec"
	"github.com/ValentinKolb/txKV/lib/store"
	"github.com/google/uuid"
)

type lockMgrImpl struct {
	store store.IStore
	rid   store.ResourceID
}

// NewLockManager returns a lock manager that keeps its locks in the database rid of s
func NewLockManager(s store.IStore, rid store.ResourceID) ILockManager {
	return &lockMgrImpl{
		store: s,
		rid:   rid,
	}
}

func (lm *lockMgrImpl) AcquireLock(ctx context.Context, key keycodec.Key, timeoutMs uint64) (bool, string, error) {
	ownerID := uuid.NewString()
	value := db.BytesValue([]byte(ownerID))

	mutation := store.MutationRequest{Key: key, Kind: "set", Value: &value}
	if timeoutMs > 0 {
		mutation.ExpireIn = &timeoutMs
	}

	// the write only commits if nobody holds the lock
	vs, err := lm.store.AtomicWrite(ctx, lm.rid, store.AtomicWriteRequest{
		Checks:    []store.CheckRequest{{Key: key}},
		Mutations: []store.MutationRequest{mutation},
	})
	if err != nil {
		return false, "", err
	}
	if vs == nil {
		return false, "", nil
	}
	return true, ownerID, nil
}

func (lm *lockMgrImpl) ReleaseLock(ctx context.Context, key keycodec.Key, ownerID string) (bool, error) {
	result, err := lm.store.SnapshotRead(ctx, lm.rid, []store.RangeRequest{{Start: key, Limit: 1}}, db.ConsistencyStrong)
	if err != nil {
		return false, err
	}
	if len(result[0]) == 0 {
		return true, nil
	}

	entry := result[0][0]
	if entry.Value.Kind != db.ValueBytes || string(entry.Value.Data) != ownerID {
		return false, nil
	}

	// delete only the version we just compared
	vs, err := lm.store.AtomicWrite(ctx, lm.rid, store.AtomicWriteRequest{
		Checks:    []store.CheckRequest{{Key: key, Versionstamp: &entry.Versionstamp}},
		Mutations: []store.MutationRequest{{Key: key, Kind: "delete"}},
	})
	if err != nil {
		return false, err
	}
	return vs != nil, nil
}
