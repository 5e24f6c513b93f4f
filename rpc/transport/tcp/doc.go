// Package tcp implements the socket based RPC transport over TCP.
//
// It provides the TCP connectors for the base package. Framing, connection
// pooling and request multiplexing are inherited from there. Accepted and
// dialed connections are tuned with the TCPConf and SocketConf settings of
// the transport configuration (no delay, keep-alive, linger, buffer sizes).
//
// The default server buffer size is 512 KB.
package tcp
