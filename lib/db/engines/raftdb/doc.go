// Package raftdb implements a replicated db.Database on top of a Dragonboat
// RAFT shard. Every replica runs a local engine.Engine inside a concurrent
// state machine.
//
// Write Operations:
//
//	Atomic writes, queue claims, queue finishes and garbage collection runs
//	are serialized into commands (see the internal package) and proposed via
//	SyncPropose. Each command carries the proposer's timestamp and is applied
//	with its raft log index as version. All replicas therefore assign the same
//	versionstamps and evaluate expiry and queue deadlines identically.
//
// Read Operations:
//
//   - Strong reads use SyncRead and are linearizable.
//   - Eventual reads use StaleRead on the local replica.
//
// Watches and Queues:
//
//	Watch streams observe the local replica and report a change once the
//	replica applied it. DequeueNextMessage proposes claims and waits on the
//	local replica for the next message to become ready.
//
// Garbage Collection:
//
//	The local engines never collect garbage on their own. The replica that
//	currently leads the shard proposes a collection command once per interval.
//
// Snapshotting and Recovery:
//
//	PrepareSnapshot captures an engine checkpoint at the current log index,
//	SaveSnapshot streams it without blocking updates. RecoverFromSnapshot
//	replaces the engine state and continues with the following log entries.
//
// Usage:
//
//	nh, err := dragonboat.NewNodeHost(nodeHostConfig)
//	if err != nil { ... }
//
//	database, err := raftdb.Start(nh, members, false, shardConfig, raftdb.Options{
//		Timeout: 5 * time.Second,
//	})
//	if err != nil { ... }
//	defer database.Close()
package raftdb
