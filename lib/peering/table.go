package peering

import (
	"sort"
	"sync"

	"github.com/ValentinKolb/dSlab/lib/ident"
	"github.com/puzpuzpuz/xsync/v3"
)

// Peerings maps a node to its relationship with a single record.
type Peerings map[ident.NodeID]Kind

// Clone returns an independent copy of the mapping.
func (p Peerings) Clone() Peerings {
	out := make(Peerings, len(p))
	for node, kind := range p {
		out[node] = kind
	}
	return out
}

// recordPeerings holds the topology of one record.
// The mutex serializes all updates for the same record id.
type recordPeerings struct {
	mu    sync.RWMutex
	nodes Peerings
}

// Table is the peering table of one node. It maps record ids to the set of
// (node, kind) pairs known for that record.
//
// Thread-safety: updates for different record ids proceed concurrently,
// updates for the same record id are serialized.
type Table struct {
	records *xsync.MapOf[ident.RecordID, *recordPeerings]
}

// NewTable creates an empty peering table.
func NewTable() *Table {
	return &Table{
		records: xsync.NewMapOf[ident.RecordID, *recordPeerings](),
	}
}

// entry returns the peerings of a record, creating them if requested.
func (t *Table) entry(id ident.RecordID, create bool) *recordPeerings {
	if !create {
		rp, _ := t.records.Load(id)
		return rp
	}
	rp, _ := t.records.LoadOrCompute(id, func() *recordPeerings {
		return &recordPeerings{nodes: make(Peerings)}
	})
	return rp
}

// RegisterPeerings merges a batch of node->kind entries for the record.
// Last write wins per (record, node) pair, with one exception: a reference
// never downgrades a node that already holds a copy of the record.
func (t *Table) RegisterPeerings(id ident.RecordID, entries Peerings) {
	if len(entries) == 0 {
		return
	}
	rp := t.entry(id, true)

	rp.mu.Lock()
	defer rp.mu.Unlock()

	for node, kind := range entries {
		if kind == KindUnknown {
			continue
		}
		if current, ok := rp.nodes[node]; ok && kind == KindReference && current.HoldsCopy() {
			continue
		}
		rp.nodes[node] = kind
	}
}

// Remove drops the relationship of a node to a record.
// It returns the kind that was removed (KindUnknown if there was none).
func (t *Table) Remove(id ident.RecordID, node ident.NodeID) Kind {
	rp := t.entry(id, false)
	if rp == nil {
		return KindUnknown
	}

	rp.mu.Lock()
	defer rp.mu.Unlock()

	kind, ok := rp.nodes[node]
	if !ok {
		return KindUnknown
	}
	delete(rp.nodes, node)
	return kind
}

// PeersOf returns the nodes that have any relationship to the record, or only
// the REPLICA nodes if replicaOnly is set. The result is sorted.
func (t *Table) PeersOf(id ident.RecordID, replicaOnly bool) []ident.NodeID {
	rp := t.entry(id, false)
	if rp == nil {
		return []ident.NodeID{}
	}

	rp.mu.RLock()
	defer rp.mu.RUnlock()

	nodes := make([]ident.NodeID, 0, len(rp.nodes))
	for node, kind := range rp.nodes {
		if replicaOnly && kind != KindReplica {
			continue
		}
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
	return nodes
}

// PeeringsFor returns a copy of the full relationship map of the record.
// The entry of the local node is left out unless includeLocal is set.
func (t *Table) PeeringsFor(id ident.RecordID, local ident.NodeID, includeLocal bool) Peerings {
	rp := t.entry(id, false)
	if rp == nil {
		return Peerings{}
	}

	rp.mu.RLock()
	defer rp.mu.RUnlock()

	out := rp.nodes.Clone()
	if !includeLocal {
		delete(out, local)
	}
	return out
}

// KindOf returns the relationship of a node to a record.
func (t *Table) KindOf(id ident.RecordID, node ident.NodeID) (Kind, bool) {
	rp := t.entry(id, false)
	if rp == nil {
		return KindUnknown, false
	}

	rp.mu.RLock()
	defer rp.mu.RUnlock()

	kind, ok := rp.nodes[node]
	return kind, ok
}

// Records returns the ids of all records with at least one known relationship.
func (t *Table) Records() []ident.RecordID {
	ids := make([]ident.RecordID, 0, t.records.Size())
	t.records.Range(func(id ident.RecordID, rp *recordPeerings) bool {
		rp.mu.RLock()
		n := len(rp.nodes)
		rp.mu.RUnlock()
		if n > 0 {
			ids = append(ids, id)
		}
		return true
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of (record, node) pairs in the table.
func (t *Table) Len() int {
	total := 0
	t.records.Range(func(_ ident.RecordID, rp *recordPeerings) bool {
		rp.mu.RLock()
		total += len(rp.nodes)
		rp.mu.RUnlock()
		return true
	})
	return total
}
