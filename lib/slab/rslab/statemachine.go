package rslab

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/dSlab/lib/ident"
	"github.com/ValentinKolb/dSlab/lib/peering"
	"github.com/ValentinKolb/dSlab/lib/record"
	"github.com/ValentinKolb/dSlab/lib/slab"
	"github.com/ValentinKolb/dSlab/lib/slab/rslab/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// SlabStateMachine is a state machine implementation for Dragonboat RAFT.
// Every replica of the shard holds the same slab; commands are applied in log order.
type SlabStateMachine struct {
	replicaID uint64
	shardID   uint64
	slab      *slab.Slab
}

// CreateStateMachineFactory returns a function that can be used by dragonboat to create a new state machine for a node host.
// The factory pattern is used to enable the caller to pass an interchangeable slabFactory
func CreateStateMachineFactory(slabFactory slab.SlabFactory) func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		return &SlabStateMachine{
			replicaID: replicaID,
			shardID:   shardID,
			slab:      slabFactory(),
		}
	}
}

// Lookup handles read-only queries by mapping each Query operation to the corresponding slab method.
func (fsm *SlabStateMachine) Lookup(itf interface{}) (interface{}, error) {
	q, ok := itf.(internal.Query)
	if !ok {
		return nil, slab.NewError(slab.RetCInternalError, fmt.Sprintf("invalid Query type: %T", itf))
	}
	id := ident.RecordID(q.Record)

	var (
		res interface{}
		err error
	)
	switch q.Type {
	case internal.QueryTValue:
		res, err = fsm.slab.Value(id)
	case internal.QueryTEnvelope:
		res, err = fsm.slab.Envelope(id, q.Flag)
	case internal.QueryTMemosSince:
		res, err = fsm.slab.MemosSince(id, q.Seq)
	case internal.QueryTPeersOf:
		res = fsm.slab.PeersOf(id, q.Flag)
	case internal.QueryTDesiredReplicas:
		res, err = fsm.slab.DesiredReplicas(id)
	case internal.QueryTStatus:
		res, err = fsm.slab.Status(id)
	case internal.QueryTRecords:
		res = fsm.slab.Records()
	case internal.QueryTInfo:
		res = fsm.slab.Info()
	default:
		return nil, slab.NewError(slab.RetCInvalidOperation, fmt.Sprintf("unknown Query operation: %d", q.Type))
	}
	if err != nil {
		return nil, slab.ToError(err)
	}
	return res, nil
}

// Update handles write commands on the slab.
// All write operations are serialized into []byte and are accessible via the entries struct
func (fsm *SlabStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {

	// Nothing to do
	if len(entries) == 0 {
		return entries, nil
	}

	// Stats
	start := time.Now()

	cmd := internal.Command{}
	for idx, e := range entries {
		if len(e.Cmd) == 0 {
			entries[idx].Result = sm.Result{Value: uint64(slab.RetCInvalidOperation), Data: []byte("empty command ignored")}
			continue
		}
		if err := cmd.Deserialize(e.Cmd); err != nil {
			entries[idx].Result = sm.Result{Value: uint64(slab.RetCInternalError), Data: []byte(fmt.Sprintf("failed to deserialize command: %v", err))}
			continue
		}

		data, err := fsm.apply(&cmd)
		if err != nil {
			se := slab.ToError(err).(*slab.Error)
			entries[idx].Result = sm.Result{Value: uint64(se.Code), Data: []byte(se.Msg)}
			continue
		}
		entries[idx].Result = sm.Result{Value: uint64(slab.RetCSuccess), Data: data}
	}

	// Log if the update took long
	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("State machine took long to update. Batch updated %d entries, took %.2fms:", len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

// apply executes a single command and returns the result payload.
func (fsm *SlabStateMachine) apply(cmd *internal.Command) ([]byte, error) {
	id := ident.RecordID(cmd.Record)

	switch cmd.Type {
	case internal.CommandTCreate:
		var values map[string]record.Value
		if err := decodePayload(cmd, &values); err != nil {
			return nil, err
		}
		created, err := fsm.slab.Create(values)
		return []byte(created), err

	case internal.CommandTSet:
		var values map[string]record.Value
		if err := decodePayload(cmd, &values); err != nil {
			return nil, err
		}
		memo, err := fsm.slab.Set(id, values)
		if err != nil {
			return nil, err
		}
		return json.Marshal(memo)

	case internal.CommandTApplyMemo:
		var memo record.Memo
		if err := decodePayload(cmd, &memo); err != nil {
			return nil, err
		}
		out, err := fsm.slab.ApplyMemo(memo)
		return []byte{byte(out)}, err

	case internal.CommandTImport:
		var env record.Envelope
		if err := decodePayload(cmd, &env); err != nil {
			return nil, err
		}
		return nil, fsm.slab.Import(env)

	case internal.CommandTRegisterPeerings:
		var entries peering.Peerings
		if err := decodePayload(cmd, &entries); err != nil {
			return nil, err
		}
		fsm.slab.RegisterPeerings(id, entries)
		return nil, nil

	case internal.CommandTSetTargetReplicas:
		return nil, fsm.slab.SetTargetReplicas(id, int(cmd.Arg))

	case internal.CommandTSetEvicting:
		return nil, fsm.slab.SetEvicting(id, cmd.Arg != 0)

	case internal.CommandTNoteReplicaRequested:
		return nil, fsm.slab.NoteReplicaRequested(id, ident.NodeID(cmd.Arg))

	case internal.CommandTTryRetire:
		ok, err := fsm.slab.TryRetire(id)
		if ok {
			return []byte{1}, err
		}
		return []byte{0}, err

	default:
		return nil, slab.NewError(slab.RetCInvalidOperation, fmt.Sprintf("unknown Command operation: %s", cmd.Type))
	}
}

// decodePayload unmarshals the JSON payload of a command.
func decodePayload(cmd *internal.Command, v interface{}) error {
	if len(cmd.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(cmd.Value, v); err != nil {
		return slab.NewError(slab.RetCInvalidOperation, fmt.Sprintf("%s: invalid payload: %v", cmd.Type, err))
	}
	return nil
}

// PrepareSnapshot captures the slab. Dragonboat never runs Update concurrently
// with it, so the copy holds exactly the entries up to the snapshot index.
// Commands are not idempotent: a replayed Set issues a new memo.
func (fsm *SlabStateMachine) PrepareSnapshot() (interface{}, error) {
	return fsm.slab.Capture(), nil
}

// SaveSnapshot writes the slab captured by PrepareSnapshot to the writer
func (fsm *SlabStateMachine) SaveSnapshot(ctx interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	snap, ok := ctx.(*slab.Snapshot)
	if !ok {
		return slab.NewError(slab.RetCInternalError, fmt.Sprintf("invalid snapshot context: %T", ctx))
	}
	return snap.Write(writer)
}

// RecoverFromSnapshot replaces the slab's state with the snapshot.
func (fsm *SlabStateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	return fsm.slab.Load(r)
}

// Close performs any necessary cleanup.
func (fsm *SlabStateMachine) Close() error {
	log.Infof("closing state machine of shard %d (replica %d)", fsm.shardID, fsm.replicaID)
	return nil
}
