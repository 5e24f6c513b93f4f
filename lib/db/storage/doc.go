// Package storage defines the ordered byte store that the transactional
// engine is built on.
//
// Implementations:
//   - btree: in-memory store on a copy-on-write B-tree (github.com/google/btree)
//   - pebble: persistent LSM store (github.com/cockroachdb/pebble)
//
// Implementations only have to provide atomic batches and consistent
// snapshots. Serialization of concurrent transactions is done by the engine.
package storage
