package record

import (
	"testing"

	"github.com/ValentinKolb/dSlab/lib/ident"
	"github.com/ValentinKolb/dSlab/lib/peering"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nodeID(name string) ident.NodeID {
	return ident.NodeIDFromName(name)
}

// replicaSetup creates a record on a host and a replica of it on another node.
func replicaSetup(t *testing.T) (host *Record, replica *Record, replicaNode *testNode) {
	t.Helper()
	host, _ = issueMemos(t, 2)

	replicaNode = newTestNode("replica-1")
	replica = importShell(t, replicaNode, host.EnvelopeFor(true))
	replicaNode.RegisterPeerings(replica.ID(), peering.Peerings{replicaNode.ID(): peering.KindReplica})
	return host, replica, replicaNode
}

func TestDesiredReplicasScenarios(t *testing.T) {
	tests := []struct {
		name     string
		replicas int
		target   int
		evicting bool
		want     int
	}{
		{"A: no replica yet", 0, 1, false, 1},
		{"B: over replicated", 2, 1, false, 0},
		{"C: evicting reserves headroom", 1, 1, true, 1},
		{"satisfied", 1, 1, false, 0},
		{"target zero", 0, 0, false, 0},
		{"target zero evicting", 0, 0, true, 1},
		{"far over target while evicting", 5, 1, true, 0},
		{"target three", 1, 3, false, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := newTestNode("host")
			r, err := Create(node, nil)
			require.NoError(t, err)
			require.NoError(t, r.SetTargetReplicas(tt.target))

			for i := 0; i < tt.replicas; i++ {
				node.RegisterPeerings(r.ID(), peering.Peerings{ident.NodeID(1000 + i): peering.KindReplica})
			}
			require.NoError(t, r.SetEvicting(tt.evicting))

			assert.Equal(t, tt.want, r.DesiredReplicas())
		})
	}
}

func TestDesiredReplicasEvictingOffset(t *testing.T) {
	node := newTestNode("host")
	r, err := Create(node, nil)
	require.NoError(t, err)

	for replicas := 0; replicas < 4; replicas++ {
		for target := 0; target < 4; target++ {
			require.NoError(t, r.SetTargetReplicas(target))

			require.NoError(t, r.SetEvicting(false))
			idle := r.DesiredReplicas()
			require.NoError(t, r.SetEvicting(true))
			evicting := r.DesiredReplicas()

			assert.GreaterOrEqual(t, idle, 0)
			assert.GreaterOrEqual(t, evicting, 0)
			if target > replicas {
				assert.Equal(t, target-replicas, idle)
				assert.Equal(t, idle+1, evicting)
			} else {
				assert.Equal(t, 0, idle)
				assert.Equal(t, max(0, target-replicas+1), evicting)
			}
		}
		node.RegisterPeerings(r.ID(), peering.Peerings{ident.NodeID(500 + replicas): peering.KindReplica})
	}
}

func TestHostAndReferenceDoNotCount(t *testing.T) {
	node := newTestNode("host")
	r, err := Create(node, nil)
	require.NoError(t, err)

	node.RegisterPeerings(r.ID(), peering.Peerings{
		nodeID("other-host"): peering.KindHost,
		nodeID("referrer"):   peering.KindReference,
	})
	assert.Equal(t, 1, r.DesiredReplicas())
}

func TestSetTargetReplicasRejectsNegative(t *testing.T) {
	r, err := Create(newTestNode("host"), nil)
	require.NoError(t, err)

	assert.True(t, errors.Is(r.SetTargetReplicas(-1), ErrInvalidTarget))
	assert.Equal(t, 1, r.TargetReplicas())
}

func TestEvictionSafety(t *testing.T) {
	_, replica, replicaNode := replicaSetup(t)
	replicaCount := func() int {
		return len(replicaNode.PeersOf(replica.ID(), true))
	}

	require.Equal(t, 0, replica.DesiredReplicas())
	require.NoError(t, replica.SetEvicting(true))
	assert.Equal(t, StateEvicting, replica.State())
	assert.Equal(t, 1, replica.DesiredReplicas())

	ok, err := replica.TryRetire()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, replicaCount(), replica.TargetReplicas())

	// a requested replica is not a landed replica
	next := nodeID("replica-2")
	replica.NoteReplicaRequested(next)
	assert.Equal(t, 1, replica.DesiredReplicas())
	assert.Equal(t, []ident.NodeID{next}, replica.Requested())

	ok, err = replica.TryRetire()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, StateEvicting, replica.State())
	assert.GreaterOrEqual(t, replicaCount(), replica.TargetReplicas())

	// the replacement lands
	replicaNode.RegisterPeerings(replica.ID(), peering.Peerings{next: peering.KindReplica})
	assert.Equal(t, 0, replica.DesiredReplicas())
	assert.Empty(t, replica.Requested())

	ok, err = replica.TryRetire()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, StateRetired, replica.State())
	assert.GreaterOrEqual(t, replicaCount(), replica.TargetReplicas())

	_, stillPeered := replicaNode.table.KindOf(replica.ID(), replicaNode.ID())
	assert.False(t, stillPeered)
}

func TestEvictionAbortKeepsCopy(t *testing.T) {
	_, replica, _ := replicaSetup(t)
	value := replica.Value()

	require.NoError(t, replica.SetEvicting(true))
	ok, err := replica.TryRetire()
	require.NoError(t, err)
	require.False(t, ok)

	// a stalled eviction stays visible until it is cleared explicitly
	assert.Equal(t, StateEvicting, replica.State())

	require.NoError(t, replica.SetEvicting(false))
	assert.Equal(t, StateActive, replica.State())
	assert.Equal(t, value, replica.Value())
}

func TestTryRetireRequiresEvicting(t *testing.T) {
	_, replica, _ := replicaSetup(t)
	_, err := replica.TryRetire()
	assert.True(t, errors.Is(err, ErrNotEvicting))
}

func TestTryRetireLastCopy(t *testing.T) {
	node := newTestNode("replica")
	rid := ident.NewRecordID(nodeID("gone"), 1)
	r := importShell(t, node, Envelope{ID: rid, Peerings: peering.Peerings{
		node.ID():          peering.KindReplica,
		nodeID("referrer"): peering.KindReference,
	}})
	require.NoError(t, r.SetTargetReplicas(0))
	require.NoError(t, r.SetEvicting(true))
	require.Equal(t, 0, r.DesiredReplicas())

	// a reference is not a copy
	_, err := r.TryRetire()
	assert.True(t, errors.Is(err, ErrLastCopy))
	assert.Equal(t, StateEvicting, r.State())

	node.RegisterPeerings(rid, peering.Peerings{nodeID("gone"): peering.KindHost})
	ok, err := r.TryRetire()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTryRetireLastHost(t *testing.T) {
	node := newTestNode("host")
	r, err := Create(node, nil)
	require.NoError(t, err)

	node.RegisterPeerings(r.ID(), peering.Peerings{
		nodeID("replica-1"): peering.KindReplica,
		nodeID("replica-2"): peering.KindReplica,
	})
	require.NoError(t, r.SetEvicting(true))

	_, err = r.TryRetire()
	assert.True(t, errors.Is(err, ErrLastHost))
	assert.Equal(t, StateEvicting, r.State())

	// promote a replica
	node.RegisterPeerings(r.ID(), peering.Peerings{nodeID("replica-1"): peering.KindHost})
	node.RegisterPeerings(r.ID(), peering.Peerings{nodeID("replica-3"): peering.KindReplica})
	ok, err := r.TryRetire()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRetiredRejectsMutations(t *testing.T) {
	host, replica, replicaNode := replicaSetup(t)
	replicaNode.RegisterPeerings(replica.ID(), peering.Peerings{nodeID("replica-2"): peering.KindReplica})

	require.NoError(t, replica.SetEvicting(true))
	ok, err := replica.TryRetire()
	require.NoError(t, err)
	require.True(t, ok)

	assert.Empty(t, replica.Value())
	assert.Equal(t, 0, replica.DesiredReplicas())

	m, err := host.Set(map[string]any{"after": true})
	require.NoError(t, err)

	_, err = replica.ApplyMemo(m)
	assert.True(t, errors.Is(err, ErrRecordRetired))
	assert.True(t, errors.Is(replica.SetEvicting(false), ErrRecordRetired))
	assert.True(t, errors.Is(replica.SetTargetReplicas(2), ErrRecordRetired))
	_, err = replica.TryRetire()
	assert.True(t, errors.Is(err, ErrRecordRetired))
	_, err = replica.MemosSince(0)
	assert.True(t, errors.Is(err, ErrRecordRetired))

	// the node still knows the record
	stored, found := replicaNode.GetRecord(replica.ID())
	require.True(t, found)
	assert.Equal(t, StateRetired, stored.Status().State)
}

func TestStatus(t *testing.T) {
	_, replica, replicaNode := replicaSetup(t)
	replica.NoteReplicaRequested(nodeID("replica-2"))

	st := replica.Status()
	assert.Equal(t, replica.ID(), st.ID)
	assert.Equal(t, StateActive, st.State)
	assert.Equal(t, peering.KindReplica, st.Kind)
	assert.Equal(t, 1, st.Target)
	assert.Equal(t, 1, st.Replicas)
	assert.Equal(t, 0, st.Desired)
	assert.Equal(t, uint64(1), st.NextSeq)
	assert.Equal(t, []ident.NodeID{nodeID("replica-2")}, st.Requested)
	assert.Equal(t, replicaNode.ID(), replica.Node().ID())
}
