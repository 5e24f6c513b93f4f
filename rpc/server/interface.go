package server

import (
	"github.com/ValentinKolb/txKV/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters
// It is responsible for handling requests and responses
type IRPCServerAdapter interface {
	// Handle handles a request for the given shard and returns a response
	// If an error occurs, it should be set in the response
	Handle(req *common.Message, shard *serverShard) (resp *common.Message)
}
