// Package peering implements the per-node peering table.
//
// The table answers two questions for every record a node knows about:
// which nodes have a relationship to the record, and of which kind. The
// kinds are
//
//   - KindHost: the node is an authoritative origin of the record's memo stream
//   - KindReplica: the node keeps a full copy current through memo propagation
//   - KindReference: the node holds some other record whose value points at
//     this one; it does not imply a local copy
//
// A (record, node) pair carries at most one kind. Registering a new kind for
// a pair replaces the old one, except that KindReference never replaces
// KindHost or KindReplica.
//
// The number of KindReplica entries for a record is the main input of the
// replica controller in the record package.
package peering
