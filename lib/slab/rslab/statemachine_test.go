package rslab

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/ValentinKolb/dSlab/lib/ident"
	"github.com/ValentinKolb/dSlab/lib/peering"
	"github.com/ValentinKolb/dSlab/lib/record"
	"github.com/ValentinKolb/dSlab/lib/slab"
	"github.com/ValentinKolb/dSlab/lib/slab/rslab/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMachine(t *testing.T) *SlabStateMachine {
	t.Helper()
	factory := CreateStateMachineFactory(func() *slab.Slab {
		return slab.New("raft-slab", record.DefaultOptions())
	})
	fsm, ok := factory(1, 1).(*SlabStateMachine)
	require.True(t, ok)
	return fsm
}

// propose applies commands as one raft batch and returns the results.
func propose(t *testing.T, fsm *SlabStateMachine, cmds ...internal.Command) []sm.Result {
	t.Helper()
	entries := make([]sm.Entry, len(cmds))
	for i, cmd := range cmds {
		entries[i] = sm.Entry{Index: uint64(i + 1), Cmd: cmd.Serialize()}
	}
	out, err := fsm.Update(entries)
	require.NoError(t, err)

	results := make([]sm.Result, len(out))
	for i, e := range out {
		results[i] = e.Result
	}
	return results
}

func jsonPayload(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func createRecord(t *testing.T, fsm *SlabStateMachine, values map[string]record.Value) ident.RecordID {
	t.Helper()
	res := propose(t, fsm, internal.Command{Type: internal.CommandTCreate, Value: jsonPayload(t, values)})
	require.Equal(t, uint64(slab.RetCSuccess), res[0].Value, string(res[0].Data))
	return ident.RecordID(res[0].Data)
}

func lookup[R any](t *testing.T, fsm *SlabStateMachine, q internal.Query) R {
	t.Helper()
	res, err := fsm.Lookup(q)
	require.NoError(t, err)
	casted, ok := res.(R)
	require.True(t, ok, "unexpected type %T", res)
	return casted
}

func TestCreateSetLookup(t *testing.T) {
	fsm := newTestMachine(t)
	id := createRecord(t, fsm, map[string]record.Value{"a": record.Number(1)})
	assert.True(t, id.Valid())

	res := propose(t, fsm, internal.Command{
		Type:   internal.CommandTSet,
		Record: string(id),
		Value:  jsonPayload(t, map[string]record.Value{"b": record.String("x")}),
	})
	require.Equal(t, uint64(slab.RetCSuccess), res[0].Value)

	var memo record.Memo
	require.NoError(t, json.Unmarshal(res[0].Data, &memo))
	assert.Equal(t, ident.MemoID{Record: id, Seq: 2}, memo.ID)

	value := lookup[map[string]record.Value](t, fsm, internal.Query{Type: internal.QueryTValue, Record: string(id)})
	assert.Equal(t, map[string]any{"a": float64(1), "b": "x"}, record.Plain(value))

	desired := lookup[int](t, fsm, internal.Query{Type: internal.QueryTDesiredReplicas, Record: string(id)})
	assert.Equal(t, 1, desired)

	ids := lookup[[]ident.RecordID](t, fsm, internal.Query{Type: internal.QueryTRecords})
	assert.Equal(t, []ident.RecordID{id}, ids)
}

func TestDeterministicIDs(t *testing.T) {
	a, b := newTestMachine(t), newTestMachine(t)
	for i := 0; i < 3; i++ {
		assert.Equal(t, createRecord(t, a, nil), createRecord(t, b, nil))
	}
}

func TestUpdateErrorsCarryCodes(t *testing.T) {
	fsm := newTestMachine(t)
	missing := ident.NewRecordID(ident.NodeIDFromName("raft-slab"), 77)

	res := propose(t, fsm,
		internal.Command{Type: internal.CommandTTryRetire, Record: string(missing)},
		internal.Command{Type: internal.CommandTSet, Record: string(missing), Value: []byte("{broken")},
		internal.Command{Type: internal.CommandType(99)},
		internal.Command{Type: internal.CommandTCreate, Value: jsonPayload(t, map[string]record.Value{"$x": record.String("no")})},
	)

	assert.Equal(t, uint64(slab.RetCNotFound), res[0].Value)
	assert.Equal(t, uint64(slab.RetCInvalidOperation), res[1].Value)
	assert.Equal(t, uint64(slab.RetCInvalidOperation), res[2].Value)
	assert.Equal(t, uint64(slab.RetCInvalidReference), res[3].Value)

	// an empty command is rejected without touching the slab
	out, err := fsm.Update([]sm.Entry{{Index: 10}})
	require.NoError(t, err)
	assert.Equal(t, uint64(slab.RetCInvalidOperation), out[0].Result.Value)
}

func TestLookupErrors(t *testing.T) {
	fsm := newTestMachine(t)

	_, err := fsm.Lookup("not a query")
	assert.Error(t, err)

	_, err = fsm.Lookup(internal.Query{Type: internal.QueryTStatus, Record: "a.1"})
	assert.True(t, errors.Is(err, slab.ErrNotFound))
}

func TestReplicaLifecycle(t *testing.T) {
	host := newTestMachine(t)
	id := createRecord(t, host, map[string]record.Value{"k": record.Bool(true)})
	env := lookup[record.Envelope](t, host, internal.Query{Type: internal.QueryTEnvelope, Record: string(id), Flag: true})
	memos := lookup[[]record.Memo](t, host, internal.Query{Type: internal.QueryTMemosSince, Record: string(id)})

	replicaSlab := slab.New("replica", record.DefaultOptions())
	replica := CreateStateMachineFactory(func() *slab.Slab { return replicaSlab })(2, 1).(*SlabStateMachine)

	self := replicaSlab.ID()
	other := ident.NodeIDFromName("replica-2")
	res := propose(t, replica,
		internal.Command{Type: internal.CommandTImport, Record: string(id), Value: jsonPayload(t, env)},
		internal.Command{Type: internal.CommandTApplyMemo, Record: string(id), Value: jsonPayload(t, memos[0])},
		internal.Command{Type: internal.CommandTApplyMemo, Record: string(id), Value: jsonPayload(t, memos[0])},
		internal.Command{Type: internal.CommandTRegisterPeerings, Record: string(id), Value: jsonPayload(t, peering.Peerings{self: peering.KindReplica})},
		internal.Command{Type: internal.CommandTSetEvicting, Record: string(id), Arg: 1},
		internal.Command{Type: internal.CommandTTryRetire, Record: string(id)},
		internal.Command{Type: internal.CommandTNoteReplicaRequested, Record: string(id), Arg: uint64(other)},
		internal.Command{Type: internal.CommandTRegisterPeerings, Record: string(id), Value: jsonPayload(t, peering.Peerings{other: peering.KindReplica})},
		internal.Command{Type: internal.CommandTTryRetire, Record: string(id)},
	)
	for i, r := range res {
		require.Equal(t, uint64(slab.RetCSuccess), r.Value, "command %d: %s", i, r.Data)
	}
	assert.Equal(t, []byte{byte(record.OutcomeApplied)}, res[1].Data)
	assert.Equal(t, []byte{byte(record.OutcomeDuplicate)}, res[2].Data)
	assert.Equal(t, []byte{0}, res[5].Data, "no replacement yet")
	assert.Equal(t, []byte{1}, res[8].Data, "replacement landed")

	st := lookup[record.Status](t, replica, internal.Query{Type: internal.QueryTStatus, Record: string(id)})
	assert.Equal(t, record.StateRetired, st.State)

	info := lookup[slab.Info](t, replica, internal.Query{Type: internal.QueryTInfo})
	assert.Equal(t, uint64(2), info.MemosReceived)
	assert.Equal(t, uint64(1), info.MemosRedundant)
}

func TestSnapshotRoundTrip(t *testing.T) {
	fsm := newTestMachine(t)
	id := createRecord(t, fsm, map[string]record.Value{"a": record.String("b")})

	ctx, err := fsm.PrepareSnapshot()
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, fsm.SaveSnapshot(ctx, &buf, nil, nil))

	restored := newTestMachine(t)
	require.NoError(t, restored.RecoverFromSnapshot(&buf, nil, nil))

	value := lookup[map[string]record.Value](t, restored, internal.Query{Type: internal.QueryTValue, Record: string(id)})
	assert.Equal(t, record.String("b"), value["a"])

	// the next id continues after the restored counter
	next := createRecord(t, restored, nil)
	assert.NotEqual(t, id, next)
	require.NoError(t, restored.Close())
}

func TestSnapshotHoldsOnlyPreparedEntries(t *testing.T) {
	fsm := newTestMachine(t)
	id := createRecord(t, fsm, map[string]record.Value{"a": record.Number(1)})

	ctx, err := fsm.PrepareSnapshot()
	require.NoError(t, err)

	// applied after the snapshot index, replayed from the log on recovery
	set := internal.Command{
		Type:   internal.CommandTSet,
		Record: string(id),
		Value:  jsonPayload(t, map[string]record.Value{"a": record.Number(2)}),
	}
	res := propose(t, fsm, set)
	require.Equal(t, uint64(slab.RetCSuccess), res[0].Value, string(res[0].Data))

	var buf bytes.Buffer
	require.NoError(t, fsm.SaveSnapshot(ctx, &buf, nil, nil))

	restored := newTestMachine(t)
	require.NoError(t, restored.RecoverFromSnapshot(&buf, nil, nil))
	st := lookup[record.Status](t, restored, internal.Query{Type: internal.QueryTStatus, Record: string(id)})
	assert.Equal(t, uint64(2), st.NextSeq)

	res = propose(t, restored, set)
	require.Equal(t, uint64(slab.RetCSuccess), res[0].Value, string(res[0].Data))

	want := lookup[record.Status](t, fsm, internal.Query{Type: internal.QueryTStatus, Record: string(id)})
	got := lookup[record.Status](t, restored, internal.Query{Type: internal.QueryTStatus, Record: string(id)})
	assert.Equal(t, want.NextSeq, got.NextSeq)
	assert.Equal(t,
		lookup[map[string]record.Value](t, fsm, internal.Query{Type: internal.QueryTValue, Record: string(id)}),
		lookup[map[string]record.Value](t, restored, internal.Query{Type: internal.QueryTValue, Record: string(id)}))
}

func TestSaveSnapshotRejectsMissingCapture(t *testing.T) {
	fsm := newTestMachine(t)
	var buf bytes.Buffer
	assert.Error(t, fsm.SaveSnapshot(nil, &buf, nil, nil))
}
