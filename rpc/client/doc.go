// Package client implements db.Database on top of a remote shard.
//
// NewRPCDatabase connects the transport and returns a database whose
// operations are sent as messages to the server. Error responses come back as
// *common.RemoteError, which unwraps to db.ErrClosed,
// engine.ErrMessageNotFound and io.EOF where the server reported those.
//
// Watch streams and dequeues long poll the server. Each poll blocks at most one
// second (or half the request timeout) on the server, the client repeats the
// poll until something happens, the context is done or the database is
// closed. Closing the database ends all watch streams and makes pending
// dequeues return no message.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  TimeoutSecond: 5,
//	  Transport: common.ClientTransportConfig{
//	    Endpoints:  []string{"localhost:8080"},
//	    RetryCount: 3,
//	  },
//	}
//
//	database, err := client.NewRPCDatabase(100, config, tcp.NewTCPClientTransport(), serializer.NewGOBSerializer())
//
// The database is safe for concurrent use.
package client
