// Package transport defines the contract between the RPC layer and the wire.
//
// A client transport sends opaque request bytes for a shard and returns the
// opaque response bytes. A server transport receives such requests and hands
// them to a ServerHandleFunc. Serialization happens above this layer.
//
// Implementations live in the sub packages:
//
//   - tcp and unix: framed sockets built on the base package
//   - http: one POST per request, served by a chi router
//   - quic: one QUIC stream per request
package transport
