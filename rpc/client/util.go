package client

import (
	"fmt"

	"github.com/ValentinKolb/txKV/rpc/common"
	"github.com/ValentinKolb/txKV/rpc/serializer"
	"github.com/ValentinKolb/txKV/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")
)

// rpcClientAdapter stores everything needed to talk to one shard
type rpcClientAdapter struct {
	shardId    uint64
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// call sends one request to the shard and decodes the response.
// Error responses become a *common.RemoteError, which unwraps to the db sentinel errors.
func (a *rpcClientAdapter) call(req *common.Message) (*common.Message, error) {
	reqBytes, err := a.serializer.Serialize(*req)
	if err != nil {
		return nil, err
	}

	respBytes, err := a.transport.Send(a.shardId, reqBytes)
	if err != nil {
		return nil, err
	}

	resp := &common.Message{}
	if err := a.serializer.Deserialize(respBytes, resp); err != nil {
		return nil, fmt.Errorf("rpc: failed to decode %s response: %w", req.MsgType, err)
	}

	switch {
	case resp.MsgType == common.MsgTError || resp.Err != "":
		return nil, &common.RemoteError{Code: resp.ErrCode, Msg: resp.Err}
	case resp.MsgType != req.MsgType:
		return nil, fmt.Errorf("rpc: unexpected message type %s, expected %s", resp.MsgType, req.MsgType)
	default:
		return resp, nil
	}
}
