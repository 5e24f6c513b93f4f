// Package http implements the RPC transport over plain HTTP.
//
// The server is a chi router. Every request is a POST to /{shardId} whose
// body is the serialized message, the response body is the serialized reply.
// The router also serves GET /health and GET /metrics, the latter in the
// Prometheus text format. With log level debug every request is logged.
//
// The client posts to the configured endpoints round robin. Endpoints without
// a scheme are treated as http://. A failed request is retried on the next
// endpoint up to RetryCount times.
package http
