// Package rpc serves txKV databases over the network. A server hosts one
// db.Database per shard id, the client side implements db.Database on top of a
// transport, so the store layer can open a remote shard like a local database.
//
// The package is organized into several subpackages:
//
//   - common: The Message protocol, wire types, configuration structures and the
//     zerolog backed logger factory.
//
//   - transport: Network communication with pluggable implementations
//     (TCP, Unix sockets, HTTP, QUIC).
//
//   - serializer: Message serialization (JSON, GOB).
//
//   - client: The db.Database implementation backed by a remote shard.
//
//   - server: Hosts memory, pebble and raft shards and keeps the watch streams
//     and queue handles of its clients.
package rpc
