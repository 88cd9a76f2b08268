package slab

import (
	"fmt"

	"github.com/ValentinKolb/dSlab/lib/ident"
	"github.com/ValentinKolb/dSlab/lib/peering"
	"github.com/ValentinKolb/dSlab/lib/record"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// SlabFactory is a function type that creates the slab used by a service.
// This is used to abstract the creation of the slab from the service implementation.
type SlabFactory func() *Slab

// IService is the interface for interacting with a slab, locally, through raft
// or over RPC. All operations return an error (nil on success). Errors
// crossing a process boundary are *Error values that still match the
// sentinels of the record package with errors.Is.
type IService interface {
	// Create creates a new record hosted by the slab and returns its id.
	// Keys starting with "$" must hold a record reference.
	Create(initial map[string]record.Value) (id ident.RecordID, err error)
	// Set issues a new memo for a record hosted by the slab and returns it for propagation.
	Set(id ident.RecordID, values map[string]record.Value) (memo record.Memo, err error)
	// ApplyMemo applies a memo received from a host.
	ApplyMemo(memo record.Memo) (outcome record.Outcome, err error)
	// Value returns the materialized value of a record.
	Value(id ident.RecordID) (value map[string]record.Value, err error)
	// Envelope returns the identity and topology of a record.
	Envelope(id ident.RecordID, includeLocal bool) (env record.Envelope, err error)
	// Import stores a record shell from an envelope (or merges its peerings into an existing record).
	Import(env record.Envelope) (err error)
	// MemosSince returns the applied memos of a record with a sequence number greater than seq.
	MemosSince(id ident.RecordID, seq uint64) (memos []record.Memo, err error)
	// RegisterPeerings merges node->kind entries for a record into the peering table.
	RegisterPeerings(id ident.RecordID, entries peering.Peerings) (err error)
	// PeersOf returns the nodes related to a record (only REPLICA nodes if replicaOnly is set).
	PeersOf(id ident.RecordID, replicaOnly bool) (nodes []ident.NodeID, err error)
	// DesiredReplicas returns how many additional replicas a record needs.
	DesiredReplicas(id ident.RecordID) (n int, err error)
	// SetTargetReplicas changes the desired replica count of a record.
	SetTargetReplicas(id ident.RecordID, n int) (err error)
	// SetEvicting sets or clears the eviction intent of the slab for a record.
	SetEvicting(id ident.RecordID, flag bool) (err error)
	// NoteReplicaRequested remembers that a replica of the record was requested from a node.
	NoteReplicaRequested(id ident.RecordID, node ident.NodeID) (err error)
	// TryRetire drops the slab's copy of a record if its eviction can complete.
	TryRetire(id ident.RecordID) (retired bool, err error)
	// Status returns the replication state of a record.
	Status(id ident.RecordID) (status record.Status, err error)
	// Records returns the ids of all records stored on the slab, retired ones excluded.
	Records() (ids []ident.RecordID, err error)
	// Info returns metadata about the slab.
	// It is not guaranteed that all fields are up-to-date!
	Info() (info Info, err error)
}

// Info describes a slab.
type Info struct {
	NodeID          ident.NodeID `json:"node_id"`
	Name            string       `json:"name"`
	Records         uint64       `json:"records"`
	Retired         uint64       `json:"retired"`
	Peerings        uint64       `json:"peerings"`
	MemosReceived   uint64       `json:"memos_received"`
	MemosRedundant  uint64       `json:"memos_redundant"`
	MemosBuffered   uint64       `json:"memos_buffered"`
	UnderReplicated uint64       `json:"under_replicated"`
	DefaultTarget   int          `json:"default_target"`
	MaxGap          uint64       `json:"max_gap"`
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("SlabError (code %s): %s", e.Code, e.Msg)
}

// Unwrap returns the sentinel error matching the return code, so that
// errors.Is works on errors received from a remote slab.
func (e *Error) Unwrap() error {
	return sentinelFor(e.Code, e.Msg)
}

// NewError creates a new SlabError with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess          RetCode = iota // 0: Command executed successfully.
	RetCInternalError                   // 1: Command failed due to an internal error.
	RetCInvalidOperation                // 2: Invalid operation (bad arguments, not a host, not evicting, ...).
	RetCNotFound                        // 3: The record is not stored on the slab.
	RetCRetired                         // 4: The record was retired on the slab.
	RetCInvalidReference                // 5: A value claims to be a record reference but is none.
	RetCGapTooLarge                     // 6: A memo arrived too far ahead of the next expected sequence number.
	RetCLastCopy                        // 7: Retiring would drop the last copy or the last host of a record.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCNotFound:
		return "NotFound"
	case RetCRetired:
		return "Retired"
	case RetCInvalidReference:
		return "InvalidReference"
	case RetCGapTooLarge:
		return "GapTooLarge"
	case RetCLastCopy:
		return "LastCopy"
	default:
		return fmt.Sprintf("Unknown(%d)", uint64(c))
	}
}
