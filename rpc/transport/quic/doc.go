// Package quic implements the RPC transport over QUIC.
//
// Each request opens a new bidirectional stream. The client writes the shard
// id as 8 big endian bytes followed by the serialized message and closes its
// send side. The server answers on the same stream and closes it. Streams are
// multiplexed over one connection per endpoint, which is redialed once it
// dies.
//
// The server generates a self-signed ed25519 certificate on start and only
// speaks TLS 1.3 with the "txkv" ALPN. Clients do not verify the certificate.
package quic
