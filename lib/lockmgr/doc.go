// Package lockmgr implements locks on top of a store.IStore database.
//
// The lock manager keeps no state besides the store and the database id, so
// any number of managers can be created for the same database and all of them
// see the same locks.
//
// Locks are plain entries:
//
//   - AcquireLock commits an atomic write that checks the key is absent and sets
//     it to a new uuid owner ID. A timeout is stored as expire_in, so a crashed
//     holder cannot block the lock forever.
//
//   - ReleaseLock reads the entry, compares the owner ID and deletes it with a
//     versionstamp check, so a lock that expired and was taken by someone else
//     in the meantime is left alone.
//
// Usage Example:
//
//	locks := lockmgr.NewLockManager(s, rid)
//	key := keycodec.Key{keycodec.String("lock"), keycodec.String("resource:123")}
//
//	ok, owner, err := locks.AcquireLock(ctx, key, 30_000)
//	if err != nil || !ok {
//	    return err
//	}
//	defer locks.ReleaseLock(ctx, key, owner)
package lockmgr
