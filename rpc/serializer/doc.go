// Package serializer provides message serialization for the txKV RPC system.
// It defines a common interface and two implementations for converting
// common.Message values to bytes and back.
//
// Key Components:
//
//   - IRPCSerializer: Core interface that all serializer implementations must satisfy.
//
//   - jsonSerializerImpl: JSON encoding. Message types are written by name, which
//     makes captured traffic readable. This is the default.
//
//   - gobSerializerImpl: Go's gob encoding. It produces smaller payloads for
//     messages with many entries but can only be read by Go clients.
//
// Note on empty slices:
//
//	gob does not distinguish nil and empty slices. Everything in common.Message
//	where the difference matters (the backoff schedule of an enqueue) carries an
//	explicit flag, so both serializers transport the same information.
//
// Thread Safety:
//
//	All serializer implementations are safe for concurrent use across multiple
//	goroutines without additional synchronization.
package serializer
