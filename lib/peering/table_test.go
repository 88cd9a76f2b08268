package peering

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/ValentinKolb/dSlab/lib/ident"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	rec   = ident.NewRecordID(1, 1)
	nodeA = ident.NodeID(10)
	nodeB = ident.NodeID(20)
	nodeC = ident.NodeID(30)
)

func TestRegisterPeeringsLastWriteWins(t *testing.T) {
	table := NewTable()

	table.RegisterPeerings(rec, Peerings{nodeA: KindHost, nodeB: KindReference})
	table.RegisterPeerings(rec, Peerings{nodeB: KindReplica})

	kind, ok := table.KindOf(rec, nodeB)
	require.True(t, ok)
	assert.Equal(t, KindReplica, kind)
	assert.Equal(t, 2, table.Len())
}

func TestReferenceNeverDowngradesCopy(t *testing.T) {
	table := NewTable()

	table.RegisterPeerings(rec, Peerings{nodeA: KindHost, nodeB: KindReplica})
	table.RegisterPeerings(rec, Peerings{nodeA: KindReference, nodeB: KindReference, nodeC: KindReference})

	p := table.PeeringsFor(rec, 0, true)
	assert.Equal(t, Peerings{nodeA: KindHost, nodeB: KindReplica, nodeC: KindReference}, p)
}

func TestPeersOf(t *testing.T) {
	table := NewTable()
	table.RegisterPeerings(rec, Peerings{nodeC: KindReplica, nodeA: KindHost, nodeB: KindReplica})

	assert.Equal(t, []ident.NodeID{nodeA, nodeB, nodeC}, table.PeersOf(rec, false))
	assert.Equal(t, []ident.NodeID{nodeB, nodeC}, table.PeersOf(rec, true))
	assert.Empty(t, table.PeersOf(ident.NewRecordID(9, 9), false))
}

func TestPeeringsForLocalFilter(t *testing.T) {
	table := NewTable()
	table.RegisterPeerings(rec, Peerings{nodeA: KindHost, nodeB: KindReplica})

	assert.Equal(t, Peerings{nodeA: KindHost, nodeB: KindReplica}, table.PeeringsFor(rec, nodeA, true))
	assert.Equal(t, Peerings{nodeB: KindReplica}, table.PeeringsFor(rec, nodeA, false))

	// the returned map is a copy
	p := table.PeeringsFor(rec, nodeA, true)
	p[nodeC] = KindReplica
	_, ok := table.KindOf(rec, nodeC)
	assert.False(t, ok)
}

func TestRemove(t *testing.T) {
	table := NewTable()
	table.RegisterPeerings(rec, Peerings{nodeA: KindHost})

	assert.Equal(t, KindHost, table.Remove(rec, nodeA))
	assert.Equal(t, KindUnknown, table.Remove(rec, nodeA))
	assert.Empty(t, table.Records())
}

func TestRecordsSorted(t *testing.T) {
	table := NewTable()
	r2 := ident.NewRecordID(2, 1)
	table.RegisterPeerings(r2, Peerings{nodeA: KindHost})
	table.RegisterPeerings(rec, Peerings{nodeA: KindHost})

	assert.Equal(t, []ident.RecordID{rec, r2}, table.Records())
}

func TestConcurrentRegistration(t *testing.T) {
	table := NewTable()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := ident.NewRecordID(ident.NodeID(i%5+1), 1)
			table.RegisterPeerings(id, Peerings{ident.NodeID(i): KindReplica})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, table.Len())
	assert.Len(t, table.Records(), 5)
}

func TestKindJSON(t *testing.T) {
	data, err := json.Marshal(Peerings{nodeA: KindHost, nodeB: KindReference})
	require.NoError(t, err)
	assert.JSONEq(t, `{"10":"host","20":"reference"}`, string(data))

	var back Peerings
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, Peerings{nodeA: KindHost, nodeB: KindReference}, back)

	var k Kind
	assert.Error(t, json.Unmarshal([]byte(`"owner"`), &k))
}
