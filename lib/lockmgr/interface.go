package lockmgr

import (
	"context"

	"github.com/ValentinKolb/txKV/lib/keycodec"
)

// ILockManager defines the interface for a lock provider.
type ILockManager interface {
	// AcquireLock acquires the lock for the given key. A timeout > 0 (in milliseconds)
	// lets the lock expire if it is never released.
	// Returns whether the lock was acquired and the owner ID needed to release it.
	AcquireLock(ctx context.Context, key keycodec.Key, timeoutMs uint64) (ok bool, ownerID string, err error)

	// ReleaseLock releases the lock for the given key if it is held by ownerID.
	// The method also returns true if the lock did not exist.
	ReleaseLock(ctx context.Context, key keycodec.Key, ownerID string) (ok bool, err error)
}
