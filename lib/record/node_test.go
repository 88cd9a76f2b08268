package record

import (
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dSlab/lib/ident"
	"github.com/ValentinKolb/dSlab/lib/peering"
)

// testNode is a minimal in-memory Node used by the package tests.
type testNode struct {
	id      ident.NodeID
	opts    Options
	counter atomic.Uint64
	table   *peering.Table

	mu      sync.Mutex
	records map[ident.RecordID]*Record
}

func newTestNode(name string) *testNode {
	return &testNode{
		id:      ident.NodeIDFromName(name),
		opts:    DefaultOptions(),
		table:   peering.NewTable(),
		records: make(map[ident.RecordID]*Record),
	}
}

func (n *testNode) ID() ident.NodeID { return n.id }

func (n *testNode) GenChildID() ident.RecordID {
	return ident.NewRecordID(n.id, n.counter.Add(1))
}

func (n *testNode) RecordOptions() Options { return n.opts }

func (n *testNode) PutRecord(r *Record) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.records[r.ID()] = r
}

func (n *testNode) GetRecord(id ident.RecordID) (*Record, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	r, ok := n.records[id]
	return r, ok
}

func (n *testNode) RegisterPeerings(id ident.RecordID, entries peering.Peerings) {
	n.table.RegisterPeerings(id, entries)
}

func (n *testNode) RemovePeering(id ident.RecordID, node ident.NodeID) {
	n.table.Remove(id, node)
}

func (n *testNode) PeersOf(id ident.RecordID, replicaOnly bool) []ident.NodeID {
	return n.table.PeersOf(id, replicaOnly)
}

func (n *testNode) PeeringsFor(id ident.RecordID, includeLocal bool) peering.Peerings {
	return n.table.PeeringsFor(id, n.id, includeLocal)
}
