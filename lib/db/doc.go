// Package db defines the contract between the request layer and the storage
// backends of txKV.
//
// The package focuses on:
//   - The Database interface that every backend implements
//   - The shared value, read, write, watch and queue types
//   - Feature discovery through capability flags
//
// Key Components:
//
//   - Database Interface: snapshot reads over byte ranges, all-or-nothing atomic
//     writes with versionstamp checks, key watches and a work queue with
//     explicit acknowledgment.
//
//   - Value: the closed sum type of storable values (Serialized, Bytes, U64).
//     Sum, Min and Max mutations are only defined for U64 values.
//
//   - Versionstamp: a 10 byte identifier of a committed write. Versionstamps
//     increase monotonically within one database. Their text form is 20
//     lowercase hex characters.
//
// Note on Keys:
//   - Keys are opaque byte strings at this layer. The request layer encodes
//     structured keys with the keycodec package before they reach a backend.
//   - Ranges are half-open: [Start, End).
//
// Note on Expiry:
//   - Entries with an expiration time in the past must never be returned by
//     reads, even if the backend has not yet collected them.
//
// Related Packages:
//
// The engine package (github.com/ValentinKolb/txKV/lib/db/engine) implements
// Database on top of any ordered byte store from the storage package
// (in-memory btree or pebble). The engines/raftdb package replicates an engine
// with Raft. The testing package (github.com/ValentinKolb/txKV/lib/db/testing)
// provides a conformance suite and benchmarks for all implementations.
package db
