package record

import (
	"github.com/ValentinKolb/dSlab/lib/ident"
	"github.com/ValentinKolb/dSlab/lib/peering"
)

// Node is the storage node (slab) a record lives on. It allocates record ids,
// stores records and owns the peering table records read their topology from.
type Node interface {
	// ID returns the id of the node.
	ID() ident.NodeID
	// GenChildID allocates a fresh record id scoped to this node.
	GenChildID() ident.RecordID
	// RecordOptions returns the options for records created on or imported into this node.
	RecordOptions() Options

	// PutRecord stores the record on the node.
	PutRecord(r *Record)
	// GetRecord returns the record with the given id.
	GetRecord(id ident.RecordID) (r *Record, ok bool)

	// RegisterPeerings merges node->kind entries into the peering table (last write wins).
	RegisterPeerings(id ident.RecordID, entries peering.Peerings)
	// RemovePeering drops the relationship of a node to a record.
	RemovePeering(id ident.RecordID, node ident.NodeID)
	// PeersOf returns the nodes related to the record (only REPLICA nodes if replicaOnly is set).
	PeersOf(id ident.RecordID, replicaOnly bool) []ident.NodeID
	// PeeringsFor returns the relationship map of the record, with or without this node's own entry.
	PeeringsFor(id ident.RecordID, includeLocal bool) peering.Peerings
}
