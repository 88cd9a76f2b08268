package client

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/dSlab/lib/slab"
	"github.com/ValentinKolb/dSlab/rpc/common"
	"github.com/ValentinKolb/dSlab/rpc/serializer"
	"github.com/ValentinKolb/dSlab/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")
)

// rpcClientAdapter is a struct that stores all data needed for an implementation if an RPC client
// Used by the RPCSlab with composition pattern
type rpcClientAdapter struct {
	shardId    uint64
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// invokeRPCRequest is a helper function used for all RPC Clients to send requests
// It takes a shard ID, a request message, a transport layer and a serializer as parameters
// It returns a response message and an error if any occurs
// This method also checks if the response is an error response and if the type of the response is the expected type.
// Errors reported by the remote slab are returned as *slab.Error with their original return code.
func invokeRPCRequest(shardId uint64, req *common.Message, transport transport.IRPCClientTransport, serializer serializer.IRPCSerializer) (*common.Message, error) {
	// Serialize the request
	reqBytes, err := serializer.Serialize(*req)
	if err != nil {
		return nil, err
	}

	// Send the handler
	respBytes, err := transport.Send(shardId, reqBytes)
	if err != nil {
		return nil, err
	}

	// Deserialize the response
	resp := &common.Message{}
	err = serializer.Deserialize(respBytes, resp)
	if err != nil {
		return nil, fmt.Errorf("RPC SlabAdapter - Error: %s", err)
	}

	// Errors of the slab carry their return code
	if resp.Err != "" && resp.Code != 0 {
		return nil, slab.NewError(slab.RetCode(resp.Code), resp.Err)
	}

	// Check if the response is an error response
	if resp.MsgType == common.MsgTError || resp.Err != "" {
		return nil, fmt.Errorf("RPC SlabAdapter - Error: %s", resp.Err)
	}

	// Check if the type of the response is the expected type
	if resp.MsgType != req.MsgType {
		return nil, fmt.Errorf("RPC SlabAdapter - Unexpected message type: %s, exected %s", resp.MsgType, req.MsgType)
	}

	// Return the response
	return resp, nil
}

// invokeJSON sends a request and decodes the JSON payload of the response into out
func invokeJSON(a *rpcClientAdapter, req *common.Message, out interface{}) error {
	resp, err := invokeRPCRequest(a.shardId, req, a.transport, a.serializer)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Value, out); err != nil {
		return slab.NewError(slab.RetCInternalError, fmt.Sprintf("decode %s response: %v", req.MsgType, err))
	}
	return nil
}
