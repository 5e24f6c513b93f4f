// Package internal provides the raft log format of the raftdb package.
//
// Commands are the state transitions proposed to the raft shard: atomic
// writes, queue claims and finishes and garbage collection runs. Every
// command carries the proposer's timestamp so that expiry and queue
// deadlines are evaluated identically on every replica. Commands use a
// compact binary encoding:
//
//   - 1 byte: Command type
//   - 8 bytes: Timestamp (unix milliseconds, big endian)
//   - 8 bytes: Message id (big endian, only CommandTFinish)
//   - 1 byte: Success flag (only CommandTFinish)
//   - N bytes: Atomic write (only CommandTAtomicWrite), length-prefixed
//     checks, mutations and enqueues
//
// Queries are executed locally on the state machine and therefore do not
// require serialization.
package internal
