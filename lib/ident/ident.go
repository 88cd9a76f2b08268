package ident

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	idBase         = 36
	recordIDSep    = "."
	memoIDSep      = "-"
	maxRecordIDLen = 64
)

// --------------------------------------------------------------------------
// Node IDs
// --------------------------------------------------------------------------

// NodeID identifies a slab (storage node).
type NodeID uint64

// NodeIDFromName derives a stable node id from a human-readable node name
// (e.g. "node-1"). The same name always yields the same id.
func NodeIDFromName(name string) NodeID {
	return NodeID(xxhash.Sum64String(name))
}

// ParseNodeID parses the decimal form produced by NodeID.String.
func ParseNodeID(s string) (NodeID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid node id %q: %w", s, err)
	}
	return NodeID(v), nil
}

func (n NodeID) String() string {
	return strconv.FormatUint(uint64(n), 10)
}

// --------------------------------------------------------------------------
// Record IDs
// --------------------------------------------------------------------------

// RecordID is the globally unique identifier of a record.
type RecordID string

// NewRecordID builds the record id for the given owning node and counter value.
func NewRecordID(node NodeID, counter uint64) RecordID {
	return RecordID(strconv.FormatUint(uint64(node), idBase) + recordIDSep + strconv.FormatUint(counter, idBase))
}

// ParseRecordID splits a record id into the owning node and its counter.
func ParseRecordID(s string) (NodeID, uint64, error) {
	if s == "" || len(s) > maxRecordIDLen {
		return 0, 0, fmt.Errorf("invalid record id %q: bad length", s)
	}
	nodePart, counterPart, ok := strings.Cut(s, recordIDSep)
	if !ok {
		return 0, 0, fmt.Errorf("invalid record id %q: missing separator", s)
	}
	node, err := strconv.ParseUint(nodePart, idBase, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid record id %q: %w", s, err)
	}
	counter, err := strconv.ParseUint(counterPart, idBase, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid record id %q: %w", s, err)
	}
	// strconv accepts upper case digits, the canonical form is lower case only
	if s != string(NewRecordID(NodeID(node), counter)) {
		return 0, 0, fmt.Errorf("invalid record id %q: not in canonical form", s)
	}
	return NodeID(node), counter, nil
}

// Valid reports whether the id is a well-formed record id.
func (id RecordID) Valid() bool {
	_, _, err := ParseRecordID(string(id))
	return err == nil
}

// Owner returns the node that minted the id (zero if the id is malformed).
func (id RecordID) Owner() NodeID {
	node, _, _ := ParseRecordID(string(id))
	return node
}

func (id RecordID) String() string {
	return string(id)
}

// --------------------------------------------------------------------------
// Memo IDs
// --------------------------------------------------------------------------

// MemoID identifies a memo: the owning record plus its per-record sequence number.
type MemoID struct {
	Record RecordID
	Seq    uint64
}

// ParseMemoID parses the textual form produced by MemoID.String.
func ParseMemoID(s string) (MemoID, error) {
	idx := strings.LastIndex(s, memoIDSep)
	if idx <= 0 {
		return MemoID{}, fmt.Errorf("invalid memo id %q: missing separator", s)
	}
	rid := RecordID(s[:idx])
	if !rid.Valid() {
		return MemoID{}, fmt.Errorf("invalid memo id %q: bad record id", s)
	}
	seq, err := strconv.ParseUint(s[idx+1:], idBase, 64)
	if err != nil {
		return MemoID{}, fmt.Errorf("invalid memo id %q: %w", s, err)
	}
	m := MemoID{Record: rid, Seq: seq}
	if s != m.String() {
		return MemoID{}, fmt.Errorf("invalid memo id %q: not in canonical form", s)
	}
	return m, nil
}

func (m MemoID) String() string {
	return string(m.Record) + memoIDSep + strconv.FormatUint(m.Seq, idBase)
}

// MarshalText encodes the memo id in its textual form.
func (m MemoID) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes the textual form of a memo id.
func (m *MemoID) UnmarshalText(text []byte) error {
	parsed, err := ParseMemoID(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Less orders memo ids by record id first and sequence number second.
func (m MemoID) Less(other MemoID) bool {
	if m.Record != other.Record {
		return m.Record < other.Record
	}
	return m.Seq < other.Seq
}
