// Package engine implements the db.Database interface on top of an ordered
// byte store (see the storage package).
//
// Transactions:
//   - All state transitions (atomic writes, queue claims and finishes, garbage
//     collection) run under one mutex and are written as one storage batch.
//     Two writes that check the same key can therefore never both succeed.
//   - Every atomic write is assigned the next commit version. The versionstamp
//     of the write is the 8 byte big-endian version followed by two zero bytes.
//   - Replicated engines (see engines/raftdb) assign versions and timestamps
//     themselves with Apply, Claim, Finish and CollectGarbage so that every
//     replica reaches the same state.
//
// Expiration:
//   - Expired entries are invisible to reads and checks immediately.
//     The garbage collector removes them through an expiry index ordered by
//     expiration time.
//
// Queue:
//   - Messages wait in a queue ordered by their ready time. A dequeued message
//     is leased. Finishing it successfully deletes it, a failed finish or an
//     expired lease redelivers it after the next backoff delay. Once the
//     backoff schedule is exhausted the payload is written to every
//     keys_if_undelivered key.
//
// Watches:
//   - Every commit notifies waiting watch streams. A stream compares the
//     versionstamps of its keys with the last reported state.
//
// Persistence:
//   - Save and Load stream the complete keyspace. They are used for Raft
//     snapshots and backups.
package engine
