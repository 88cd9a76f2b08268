package server

import (
	"github.com/ValentinKolb/dSlab/lib/slab"
	"github.com/ValentinKolb/dSlab/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters
// It is responsible for handling requests and responses
type IRPCServerAdapter interface {
	// Handle handles a request and returns a response
	// It takes a Message and the slab service of the shard as parameters.
	// It returns a Message as a response
	// If an error occurs, it should be set in the response together with its return code
	Handle(req *common.Message, svc slab.IService) (resp *common.Message)
}
