// Package ident defines the identifiers shared by every layer of dSlab:
// node ids, record ids and memo ids.
//
// Record ids are minted by the owning node and embed that node's id together
// with a per-node counter, both rendered in base 36 and joined by a dot:
//
//	<node>.<counter>       e.g. "2bd9k1x4o0hrt.1z"
//
// Memo ids are a structured (record id, sequence) tuple. Their textual form
// appends the sequence number in base 36 after a dash:
//
//	<record>-<sequence>    e.g. "2bd9k1x4o0hrt.1z-a"
//
// A record id never contains a dash, so the last dash of a memo id always
// separates the record id from the sequence number.
package ident
