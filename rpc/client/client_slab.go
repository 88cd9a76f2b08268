package client

import (
	"encoding/json"

	"github.com/ValentinKolb/dSlab/lib/ident"
	"github.com/ValentinKolb/dSlab/lib/peering"
	"github.com/ValentinKolb/dSlab/lib/record"
	"github.com/ValentinKolb/dSlab/lib/slab"
	"github.com/ValentinKolb/dSlab/rpc/common"
	"github.com/ValentinKolb/dSlab/rpc/serializer"
	"github.com/ValentinKolb/dSlab/rpc/transport"
)

// NewRPCSlab creates a new RPC slab service
// The function takes a shard ID, a config, a transport and a serializer as parameters
// It returns a slab.IService and an error
func NewRPCSlab(
	shardId uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (slab.IService, error) {

	// Connect the transport
	err := transport.Connect(config)
	if err != nil {
		return nil, err
	}

	return &rpcSlab{
		rpcClientAdapter{
			shardId:    shardId,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}, nil
}

type rpcSlab struct {
	rpcClientAdapter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see slab/interface.go)
// --------------------------------------------------------------------------

func (c *rpcSlab) Create(initial map[string]record.Value) (ident.RecordID, error) {
	payload, err := encode(initial)
	if err != nil {
		return "", err
	}
	resp, err := invokeRPCRequest(c.shardId, common.NewCreateRequest(payload), c.transport, c.serializer)
	if err != nil {
		return "", err
	}
	return ident.RecordID(resp.RecordID), nil
}

func (c *rpcSlab) Set(id ident.RecordID, values map[string]record.Value) (memo record.Memo, err error) {
	payload, err := encode(values)
	if err != nil {
		return memo, err
	}
	err = invokeJSON(&c.rpcClientAdapter, common.NewSetRequest(string(id), payload), &memo)
	return memo, err
}

func (c *rpcSlab) ApplyMemo(memo record.Memo) (record.Outcome, error) {
	payload, err := encode(memo)
	if err != nil {
		return 0, err
	}
	resp, err := invokeRPCRequest(c.shardId, common.NewApplyMemoRequest(string(memo.ID.Record), payload), c.transport, c.serializer)
	if err != nil {
		return 0, err
	}
	return record.Outcome(resp.Arg), nil
}

func (c *rpcSlab) Value(id ident.RecordID) (values map[string]record.Value, err error) {
	err = invokeJSON(&c.rpcClientAdapter, common.NewValueRequest(string(id)), &values)
	return values, err
}

func (c *rpcSlab) Envelope(id ident.RecordID, includeLocal bool) (record.Envelope, error) {
	resp, err := invokeRPCRequest(c.shardId, common.NewEnvelopeRequest(string(id), includeLocal), c.transport, c.serializer)
	if err != nil {
		return record.Envelope{}, err
	}
	env, err := record.DecodeEnvelope(resp.Value)
	return env, slab.ToError(err)
}

func (c *rpcSlab) Import(env record.Envelope) error {
	payload, err := encode(env)
	if err != nil {
		return err
	}
	_, err = invokeRPCRequest(c.shardId, common.NewImportRequest(payload), c.transport, c.serializer)
	return err
}

func (c *rpcSlab) MemosSince(id ident.RecordID, seq uint64) (memos []record.Memo, err error) {
	err = invokeJSON(&c.rpcClientAdapter, common.NewMemosSinceRequest(string(id), seq), &memos)
	return memos, err
}

func (c *rpcSlab) RegisterPeerings(id ident.RecordID, entries peering.Peerings) error {
	payload, err := encode(entries)
	if err != nil {
		return err
	}
	_, err = invokeRPCRequest(c.shardId, common.NewRegisterPeeringsRequest(string(id), payload), c.transport, c.serializer)
	return err
}

func (c *rpcSlab) PeersOf(id ident.RecordID, replicaOnly bool) (nodes []ident.NodeID, err error) {
	err = invokeJSON(&c.rpcClientAdapter, common.NewPeersOfRequest(string(id), replicaOnly), &nodes)
	return nodes, err
}

func (c *rpcSlab) DesiredReplicas(id ident.RecordID) (int, error) {
	resp, err := invokeRPCRequest(c.shardId, common.NewDesiredRequest(string(id)), c.transport, c.serializer)
	if err != nil {
		return 0, err
	}
	return int(resp.Arg), nil
}

func (c *rpcSlab) SetTargetReplicas(id ident.RecordID, n int) error {
	// negative values are sent as two's complement and rejected by the slab
	_, err := invokeRPCRequest(c.shardId, common.NewSetTargetRequest(string(id), uint64(int64(n))), c.transport, c.serializer)
	return err
}

func (c *rpcSlab) SetEvicting(id ident.RecordID, flag bool) error {
	_, err := invokeRPCRequest(c.shardId, common.NewSetEvictingRequest(string(id), flag), c.transport, c.serializer)
	return err
}

func (c *rpcSlab) NoteReplicaRequested(id ident.RecordID, node ident.NodeID) error {
	_, err := invokeRPCRequest(c.shardId, common.NewNoteRequestedRequest(string(id), uint64(node)), c.transport, c.serializer)
	return err
}

func (c *rpcSlab) TryRetire(id ident.RecordID) (bool, error) {
	resp, err := invokeRPCRequest(c.shardId, common.NewTryRetireRequest(string(id)), c.transport, c.serializer)
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (c *rpcSlab) Status(id ident.RecordID) (status record.Status, err error) {
	err = invokeJSON(&c.rpcClientAdapter, common.NewStatusRequest(string(id)), &status)
	return status, err
}

func (c *rpcSlab) Records() (ids []ident.RecordID, err error) {
	err = invokeJSON(&c.rpcClientAdapter, common.NewRecordsRequest(), &ids)
	return ids, err
}

func (c *rpcSlab) Info() (info slab.Info, err error) {
	err = invokeJSON(&c.rpcClientAdapter, common.NewInfoRequest(), &info)
	return info, err
}

// encode marshals a request payload, failures are reported as invalid operations
func encode(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, slab.ToError(err)
	}
	return data, nil
}
