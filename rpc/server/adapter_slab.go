package server

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/dSlab/lib/ident"
	"github.com/ValentinKolb/dSlab/lib/peering"
	"github.com/ValentinKolb/dSlab/lib/record"
	"github.com/ValentinKolb/dSlab/lib/slab"
	"github.com/ValentinKolb/dSlab/rpc/common"
	"github.com/pkg/errors"
)

func NewSlabServerAdapter() IRPCServerAdapter {
	return &slabServerAdapterImpl{}
}

type slabServerAdapterImpl struct{}

func (adapter *slabServerAdapterImpl) Handle(req *common.Message, svc slab.IService) *common.Message {
	if svc == nil {
		return common.NewErrorResponse("handler: slab service is nil")
	}

	id := ident.RecordID(req.RecordID)

	switch req.MsgType {
	case common.MsgTSlabCreate:
		var values map[string]record.Value
		if err := decode(req.Value, &values); err != nil {
			return failed(common.NewCreateResponse("", nil), err)
		}
		created, err := svc.Create(values)
		return failed(common.NewCreateResponse(string(created), nil), err)

	case common.MsgTSlabSet:
		var values map[string]record.Value
		if err := decode(req.Value, &values); err != nil {
			return failed(common.NewSetResponse(nil, nil), err)
		}
		memo, err := svc.Set(id, values)
		if err != nil {
			return failed(common.NewSetResponse(nil, nil), err)
		}
		return encoded(common.NewSetResponse, memo)

	case common.MsgTSlabApplyMemo:
		var memo record.Memo
		if err := decode(req.Value, &memo); err != nil {
			return failed(common.NewApplyMemoResponse(0, nil), err)
		}
		outcome, err := svc.ApplyMemo(memo)
		return failed(common.NewApplyMemoResponse(uint64(outcome), nil), err)

	case common.MsgTSlabValue:
		values, err := svc.Value(id)
		if err != nil {
			return failed(common.NewValueResponse(nil, nil), err)
		}
		return encoded(common.NewValueResponse, values)

	case common.MsgTSlabEnvelope:
		env, err := svc.Envelope(id, req.Ok)
		if err != nil {
			return failed(common.NewEnvelopeResponse(nil, nil), err)
		}
		return encoded(common.NewEnvelopeResponse, env)

	case common.MsgTSlabImport:
		env, err := record.DecodeEnvelope(req.Value)
		if err != nil {
			return failed(common.NewImportResponse(nil), err)
		}
		return failed(common.NewImportResponse(nil), svc.Import(env))

	case common.MsgTSlabMemosSince:
		memos, err := svc.MemosSince(id, req.Seq)
		if err != nil {
			return failed(common.NewMemosSinceResponse(nil, nil), err)
		}
		return encoded(common.NewMemosSinceResponse, memos)

	case common.MsgTSlabRegisterPeerings:
		var entries peering.Peerings
		if err := decode(req.Value, &entries); err != nil {
			return failed(common.NewRegisterPeeringsResponse(nil), err)
		}
		return failed(common.NewRegisterPeeringsResponse(nil), svc.RegisterPeerings(id, entries))

	case common.MsgTSlabPeersOf:
		nodes, err := svc.PeersOf(id, req.Ok)
		if err != nil {
			return failed(common.NewPeersOfResponse(nil, nil), err)
		}
		return encoded(common.NewPeersOfResponse, nodes)

	case common.MsgTSlabDesired:
		n, err := svc.DesiredReplicas(id)
		return failed(common.NewDesiredResponse(uint64(n), nil), err)

	case common.MsgTSlabSetTarget:
		// negative targets travel as two's complement
		return failed(common.NewSetTargetResponse(nil), svc.SetTargetReplicas(id, int(int64(req.Arg))))

	case common.MsgTSlabSetEvicting:
		return failed(common.NewSetEvictingResponse(nil), svc.SetEvicting(id, req.Ok))

	case common.MsgTSlabNoteRequested:
		return failed(common.NewNoteRequestedResponse(nil), svc.NoteReplicaRequested(id, ident.NodeID(req.Arg)))

	case common.MsgTSlabTryRetire:
		retired, err := svc.TryRetire(id)
		return failed(common.NewTryRetireResponse(retired, nil), err)

	case common.MsgTSlabStatus:
		status, err := svc.Status(id)
		if err != nil {
			return failed(common.NewStatusResponse(nil, nil), err)
		}
		return encoded(common.NewStatusResponse, status)

	case common.MsgTSlabRecords:
		ids, err := svc.Records()
		if err != nil {
			return failed(common.NewRecordsResponse(nil, nil), err)
		}
		return encoded(common.NewRecordsResponse, ids)

	case common.MsgTSlabInfo:
		info, err := svc.Info()
		if err != nil {
			return failed(common.NewInfoResponse(nil, nil), err)
		}
		return encoded(common.NewInfoResponse, info)

	default:
		return common.NewErrorResponse(
			fmt.Sprintf("RPC SlabAdapter - Unsupported message type: %s", req.MsgType),
		)
	}
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

// decode unmarshals a JSON payload, errors are reported as invalid operations
func decode(data []byte, v interface{}) error {
	if len(data) == 0 {
		return errors.Wrap(slab.ErrInvalidOperation, "missing payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		if errors.Is(err, record.ErrInvalidReference) {
			return err
		}
		return errors.Wrapf(slab.ErrInvalidOperation, "decode payload: %v", err)
	}
	return nil
}

// encoded marshals a result into the response built by factory
func encoded[T any](factory func([]byte, error) *common.Message, result T) *common.Message {
	data, err := json.Marshal(result)
	if err != nil {
		return failed(factory(nil, nil), errors.Wrapf(slab.ErrInternal, "encode result: %v", err))
	}
	return factory(data, nil)
}

// failed sets the error message and return code of a response (nil errors are ignored)
func failed(resp *common.Message, err error) *common.Message {
	if err == nil {
		return resp
	}
	code := slab.CodeOf(err)
	var se *slab.Error
	if errors.As(err, &se) {
		resp.Err = se.Msg
	} else {
		resp.Err = err.Error()
	}
	return resp.WithCode(uint64(code))
}
