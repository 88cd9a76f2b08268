package rslab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dSlab/lib/ident"
	"github.com/ValentinKolb/dSlab/lib/peering"
	"github.com/ValentinKolb/dSlab/lib/record"
	"github.com/ValentinKolb/dSlab/lib/slab"
	"github.com/ValentinKolb/dSlab/lib/slab/rslab/internal"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/logger"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

var (
	retries = 5
	log     = logger.GetLogger("rslab")
)

// serviceImpl is the raft backed implementation of slab.IService.
// It encapsulates a Dragonboat NodeHost which is used to communicate with the state machine.
type serviceImpl struct {
	nh      *dragonboat.NodeHost
	shardID uint64
	cs      *client.Session
	timeout time.Duration
}

// NewReplicatedService creates a new slab service whose slab is replicated by
// raft across all replicas of the shard.
func NewReplicatedService(nh *dragonboat.NodeHost, shardID uint64, timeout time.Duration) slab.IService {
	return &serviceImpl{
		nh:      nh,
		shardID: shardID,
		cs:      nh.GetNoOPSession(shardID),
		timeout: timeout,
	}
}

// --------------------------------------------------------------------------
// Internal write and read operations (used by interface methods)
// --------------------------------------------------------------------------

// write proposes a Command via SyncPropose and returns the result payload.
// It returns a *slab.Error if an error occurs.
func (s *serviceImpl) write(cmd internal.Command) ([]byte, error) {
	for i := 0; i < retries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)

		res, err := s.nh.SyncPropose(ctx, s.cs, cmd.Serialize())
		cancel()

		// Check for system busy errors
		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(s.timeout / 10)
			continue
		}

		if err != nil {
			return nil, slab.NewError(slab.RetCInternalError, err.Error())
		}
		return resultData(res)
	}
	return nil, slab.NewError(slab.RetCInternalError, "timeout")
}

// resultData converts a state machine result into its payload or a *slab.Error.
func resultData(res sm.Result) ([]byte, error) {
	if res.Value != uint64(slab.RetCSuccess) {
		return nil, slab.NewError(slab.RetCode(res.Value), string(res.Data))
	}
	return res.Data, nil
}

// writeJSON encodes a payload into the command before proposing it.
func (s *serviceImpl) writeJSON(cmd internal.Command, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, slab.NewError(slab.RetCInvalidOperation, fmt.Sprintf("encode %s payload: %v", cmd.Type, err))
	}
	cmd.Value = data
	return s.write(cmd)
}

// read is a generic helper function that queries the state machine
// and attempts to convert the response into the expected type R.
//
// This function uses the SyncRead function (dragonboat) by default to query the state machine.
// If linearizability is not required, the stale parameter can be set to true to use the faster StaleRead function.
//
// If the read operation fails due to a system busy error, the function retries up to 5 times.
func read[R any](r *serviceImpl, q internal.Query, stale bool) (R, error) {
	var zero R
	for i := 0; i < retries; i++ {

		var res interface{}
		var err error

		// Query the state machine, use StaleRead if stale is set otherwise use SyncRead (default)
		if stale {
			res, err = r.nh.StaleRead(r.shardID, q)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			res, err = r.nh.SyncRead(ctx, r.shardID, q)
			cancel()
		}

		// Check for system busy errors
		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncRead: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(r.timeout / 10)
			continue
		}

		if err != nil {
			var se *slab.Error
			if errors.As(err, &se) {
				return zero, se
			}
			return zero, slab.NewError(slab.RetCInternalError, err.Error())
		}

		// The state machine is expected to return the response in the expected type R.
		casted, ok := res.(R)
		if !ok {
			return zero, slab.NewError(slab.RetCInternalError,
				fmt.Sprintf("unexpected type: received %T, expected %T", res, zero))
		}
		return casted, nil
	}
	return zero, slab.NewError(slab.RetCInternalError, "timeout")
}

// --------------------------------------------------------------------------
// Interface Methods (docs see slab/interface.go)
// --------------------------------------------------------------------------

func (s *serviceImpl) Create(initial map[string]record.Value) (ident.RecordID, error) {
	data, err := s.writeJSON(internal.Command{Type: internal.CommandTCreate}, initial)
	if err != nil {
		return "", err
	}
	return ident.RecordID(data), nil
}

func (s *serviceImpl) Set(id ident.RecordID, values map[string]record.Value) (record.Memo, error) {
	data, err := s.writeJSON(internal.Command{Type: internal.CommandTSet, Record: string(id)}, values)
	if err != nil {
		return record.Memo{}, err
	}
	var memo record.Memo
	if err := json.Unmarshal(data, &memo); err != nil {
		return record.Memo{}, slab.NewError(slab.RetCInternalError, fmt.Sprintf("decode memo: %v", err))
	}
	return memo, nil
}

func (s *serviceImpl) ApplyMemo(memo record.Memo) (record.Outcome, error) {
	data, err := s.writeJSON(internal.Command{Type: internal.CommandTApplyMemo, Record: string(memo.ID.Record)}, memo)
	if err != nil {
		return 0, err
	}
	if len(data) != 1 {
		return 0, slab.NewError(slab.RetCInternalError, "missing memo outcome")
	}
	return record.Outcome(data[0]), nil
}

func (s *serviceImpl) Value(id ident.RecordID) (map[string]record.Value, error) {
	return read[map[string]record.Value](s, internal.Query{Type: internal.QueryTValue, Record: string(id)}, false)
}

func (s *serviceImpl) Envelope(id ident.RecordID, includeLocal bool) (record.Envelope, error) {
	return read[record.Envelope](s, internal.Query{Type: internal.QueryTEnvelope, Record: string(id), Flag: includeLocal}, false)
}

func (s *serviceImpl) Import(env record.Envelope) error {
	_, err := s.writeJSON(internal.Command{Type: internal.CommandTImport, Record: string(env.ID)}, env)
	return err
}

func (s *serviceImpl) MemosSince(id ident.RecordID, seq uint64) ([]record.Memo, error) {
	return read[[]record.Memo](s, internal.Query{Type: internal.QueryTMemosSince, Record: string(id), Seq: seq}, false)
}

func (s *serviceImpl) RegisterPeerings(id ident.RecordID, entries peering.Peerings) error {
	if !id.Valid() {
		return slab.NewError(slab.RetCInvalidReference, fmt.Sprintf("register peerings for %q: %v", id, record.ErrInvalidReference))
	}
	_, err := s.writeJSON(internal.Command{Type: internal.CommandTRegisterPeerings, Record: string(id)}, entries)
	return err
}

func (s *serviceImpl) PeersOf(id ident.RecordID, replicaOnly bool) ([]ident.NodeID, error) {
	return read[[]ident.NodeID](s, internal.Query{Type: internal.QueryTPeersOf, Record: string(id), Flag: replicaOnly}, false)
}

func (s *serviceImpl) DesiredReplicas(id ident.RecordID) (int, error) {
	return read[int](s, internal.Query{Type: internal.QueryTDesiredReplicas, Record: string(id)}, false)
}

func (s *serviceImpl) SetTargetReplicas(id ident.RecordID, n int) error {
	if n < 0 {
		return slab.NewError(slab.RetCInvalidOperation, fmt.Sprintf("target %d for %s: %v", n, id, record.ErrInvalidTarget))
	}
	_, err := s.write(internal.Command{Type: internal.CommandTSetTargetReplicas, Record: string(id), Arg: uint64(n)})
	return err
}

func (s *serviceImpl) SetEvicting(id ident.RecordID, flag bool) error {
	var arg uint64
	if flag {
		arg = 1
	}
	_, err := s.write(internal.Command{Type: internal.CommandTSetEvicting, Record: string(id), Arg: arg})
	return err
}

func (s *serviceImpl) NoteReplicaRequested(id ident.RecordID, node ident.NodeID) error {
	_, err := s.write(internal.Command{Type: internal.CommandTNoteReplicaRequested, Record: string(id), Arg: uint64(node)})
	return err
}

func (s *serviceImpl) TryRetire(id ident.RecordID) (bool, error) {
	data, err := s.write(internal.Command{Type: internal.CommandTTryRetire, Record: string(id)})
	if err != nil {
		return false, err
	}
	return len(data) == 1 && data[0] == 1, nil
}

func (s *serviceImpl) Status(id ident.RecordID) (record.Status, error) {
	return read[record.Status](s, internal.Query{Type: internal.QueryTStatus, Record: string(id)}, false)
}

func (s *serviceImpl) Records() ([]ident.RecordID, error) {
	return read[[]ident.RecordID](s, internal.Query{Type: internal.QueryTRecords}, false)
}

func (s *serviceImpl) Info() (slab.Info, error) {
	return read[slab.Info](
		s,
		internal.Query{Type: internal.QueryTInfo},
		true, // Note: allow for stale reads
	)
}
