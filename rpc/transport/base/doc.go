// Package base provides the socket transport shared by the tcp and unix
// packages. Protocol specific dialing and listening is injected through
// IClientConnector and IServerConnector.
//
// Every request travels in a frame:
//
//	8 bytes shard id | 8 bytes request id | 4 bytes length | payload
//
// The response carries the same request id, so many requests can be in flight
// on one connection. The client keeps ConnectionsPerEndpoint connections per
// endpoint and picks one round robin. Connections are dialed lazily. A read
// error drops the connection and fails every request waiting on it, and the
// next request dials again. Failed requests are retried RetryCount times with
// exponential backoff.
//
// The server reads frames on one goroutine per connection and hands them to a
// bounded set of workers (WorkersPerConn). Read buffers come from a sync.Pool.
// There is no idle read deadline because clients keep connections open
// between long polls.
package base
