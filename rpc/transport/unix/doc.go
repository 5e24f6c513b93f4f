// Package unix implements the socket based RPC transport over Unix domain
// sockets for clients and servers on the same machine.
//
// The connectors plug into the base package, which provides framing, the
// connection pool and request multiplexing. A stale socket file at the
// endpoint path is removed before the server binds.
//
// The default server buffer size is 64 KB.
package unix
