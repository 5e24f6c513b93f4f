package transport

import (
	"github.com/ValentinKolb/txKV/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc serves one serialized request for a shard and returns the
// serialized response. Watch and dequeue requests block up to their wait time,
// so transports call it from a goroutine per request.
type ServerHandleFunc func(shardId uint64, req []byte) (resp []byte)

// IRPCServerTransport accepts requests from the network and hands them to the handler
type IRPCServerTransport interface {
	// RegisterHandler sets the handler, it is called before Listen
	RegisterHandler(handler ServerHandleFunc)
	// Listen binds config.Transport.Endpoint and serves until Close is called
	Listen(config common.ServerConfig) error
	// Close stops accepting requests, Listen returns nil afterwards
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport delivers requests to a server. Implementations are safe
// for concurrent use, a slow long poll does not block other requests.
type IRPCClientTransport interface {
	// Connect prepares the connections to config.Transport.Endpoints
	Connect(config common.ClientConfig) error
	// Send delivers the request to the shard and waits for its response
	Send(shardId uint64, req []byte) (resp []byte, err error)
	// Close releases all connections, pending Sends fail
	Close() error
}
