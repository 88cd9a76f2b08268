package common

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// General fields
	RecordID string `json:"record_id,omitempty"` // Used for: every record operation
	Seq      uint64 `json:"seq,omitempty"`       // Used for: MemosSince (request)
	Arg      uint64 `json:"arg,omitempty"`       // Used for: SetTarget, NoteRequested (request), ApplyMemo, Desired (response)
	Value    []byte `json:"value,omitempty"`     // JSON payload: values, memos, envelopes, peerings, status, info

	// Flag is a boolean argument (request) or result (response).
	// Used for: Envelope (include local), PeersOf (replica only), SetEvicting, TryRetire (response)
	Ok bool `json:"ok,omitempty"`

	// Response only fields
	Err  string `json:"err,omitempty"`  // Empty if no error, otherwise contains the error message
	Code uint64 `json:"code,omitempty"` // Return code of the slab error (see slab.RetCode)

	// Meta information
	Meta []byte `json:"meta,omitempty"` // Unused, can be used for additional Adapters
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewCreateRequest creates a new Create request, values is the JSON encoded initial value
func NewCreateRequest(values []byte) *Message {
	return &Message{
		MsgType: MsgTSlabCreate,
		Value:   values,
	}
}

// NewCreateResponse creates a new Create response
func NewCreateResponse(id string, err error) *Message {
	return withErr(&Message{
		MsgType:  MsgTSlabCreate,
		RecordID: id,
	}, err)
}

// NewSetRequest creates a new Set request
func NewSetRequest(id string, values []byte) *Message {
	return &Message{
		MsgType:  MsgTSlabSet,
		RecordID: id,
		Value:    values,
	}
}

// NewSetResponse creates a new Set response, memo is the JSON encoded memo
func NewSetResponse(memo []byte, err error) *Message {
	return withErr(&Message{
		MsgType: MsgTSlabSet,
		Value:   memo,
	}, err)
}

// NewApplyMemoRequest creates a new ApplyMemo request
func NewApplyMemoRequest(id string, memo []byte) *Message {
	return &Message{
		MsgType:  MsgTSlabApplyMemo,
		RecordID: id,
		Value:    memo,
	}
}

// NewApplyMemoResponse creates a new ApplyMemo response carrying the outcome
func NewApplyMemoResponse(outcome uint64, err error) *Message {
	return withErr(&Message{
		MsgType: MsgTSlabApplyMemo,
		Arg:     outcome,
	}, err)
}

// NewValueRequest creates a new Value request
func NewValueRequest(id string) *Message {
	return &Message{
		MsgType:  MsgTSlabValue,
		RecordID: id,
	}
}

// NewValueResponse creates a new Value response
func NewValueResponse(values []byte, err error) *Message {
	return withErr(&Message{
		MsgType: MsgTSlabValue,
		Value:   values,
	}, err)
}

// NewEnvelopeRequest creates a new Envelope request
func NewEnvelopeRequest(id string, includeLocal bool) *Message {
	return &Message{
		MsgType:  MsgTSlabEnvelope,
		RecordID: id,
		Ok:       includeLocal,
	}
}

// NewEnvelopeResponse creates a new Envelope response, env is the serialized envelope
func NewEnvelopeResponse(env []byte, err error) *Message {
	return withErr(&Message{
		MsgType: MsgTSlabEnvelope,
		Value:   env,
	}, err)
}

// NewImportRequest creates a new Import request
func NewImportRequest(env []byte) *Message {
	return &Message{
		MsgType: MsgTSlabImport,
		Value:   env,
	}
}

// NewImportResponse creates a new Import response
func NewImportResponse(err error) *Message {
	return withErr(&Message{MsgType: MsgTSlabImport}, err)
}

// NewMemosSinceRequest creates a new MemosSince request
func NewMemosSinceRequest(id string, seq uint64) *Message {
	return &Message{
		MsgType:  MsgTSlabMemosSince,
		RecordID: id,
		Seq:      seq,
	}
}

// NewMemosSinceResponse creates a new MemosSince response
func NewMemosSinceResponse(memos []byte, err error) *Message {
	return withErr(&Message{
		MsgType: MsgTSlabMemosSince,
		Value:   memos,
	}, err)
}

// NewRegisterPeeringsRequest creates a new RegisterPeerings request
func NewRegisterPeeringsRequest(id string, entries []byte) *Message {
	return &Message{
		MsgType:  MsgTSlabRegisterPeerings,
		RecordID: id,
		Value:    entries,
	}
}

// NewRegisterPeeringsResponse creates a new RegisterPeerings response
func NewRegisterPeeringsResponse(err error) *Message {
	return withErr(&Message{MsgType: MsgTSlabRegisterPeerings}, err)
}

// NewPeersOfRequest creates a new PeersOf request
func NewPeersOfRequest(id string, replicaOnly bool) *Message {
	return &Message{
		MsgType:  MsgTSlabPeersOf,
		RecordID: id,
		Ok:       replicaOnly,
	}
}

// NewPeersOfResponse creates a new PeersOf response
func NewPeersOfResponse(nodes []byte, err error) *Message {
	return withErr(&Message{
		MsgType: MsgTSlabPeersOf,
		Value:   nodes,
	}, err)
}

// NewDesiredRequest creates a new DesiredReplicas request
func NewDesiredRequest(id string) *Message {
	return &Message{
		MsgType:  MsgTSlabDesired,
		RecordID: id,
	}
}

// NewDesiredResponse creates a new DesiredReplicas response
func NewDesiredResponse(n uint64, err error) *Message {
	return withErr(&Message{
		MsgType: MsgTSlabDesired,
		Arg:     n,
	}, err)
}

// NewSetTargetRequest creates a new SetTargetReplicas request
func NewSetTargetRequest(id string, n uint64) *Message {
	return &Message{
		MsgType:  MsgTSlabSetTarget,
		RecordID: id,
		Arg:      n,
	}
}

// NewSetTargetResponse creates a new SetTargetReplicas response
func NewSetTargetResponse(err error) *Message {
	return withErr(&Message{MsgType: MsgTSlabSetTarget}, err)
}

// NewSetEvictingRequest creates a new SetEvicting request
func NewSetEvictingRequest(id string, flag bool) *Message {
	return &Message{
		MsgType:  MsgTSlabSetEvicting,
		RecordID: id,
		Ok:       flag,
	}
}

// NewSetEvictingResponse creates a new SetEvicting response
func NewSetEvictingResponse(err error) *Message {
	return withErr(&Message{MsgType: MsgTSlabSetEvicting}, err)
}

// NewNoteRequestedRequest creates a new NoteReplicaRequested request
func NewNoteRequestedRequest(id string, node uint64) *Message {
	return &Message{
		MsgType:  MsgTSlabNoteRequested,
		RecordID: id,
		Arg:      node,
	}
}

// NewNoteRequestedResponse creates a new NoteReplicaRequested response
func NewNoteRequestedResponse(err error) *Message {
	return withErr(&Message{MsgType: MsgTSlabNoteRequested}, err)
}

// NewTryRetireRequest creates a new TryRetire request
func NewTryRetireRequest(id string) *Message {
	return &Message{
		MsgType:  MsgTSlabTryRetire,
		RecordID: id,
	}
}

// NewTryRetireResponse creates a new TryRetire response
func NewTryRetireResponse(retired bool, err error) *Message {
	return withErr(&Message{
		MsgType: MsgTSlabTryRetire,
		Ok:      retired,
	}, err)
}

// NewStatusRequest creates a new Status request
func NewStatusRequest(id string) *Message {
	return &Message{
		MsgType:  MsgTSlabStatus,
		RecordID: id,
	}
}

// NewStatusResponse creates a new Status response
func NewStatusResponse(status []byte, err error) *Message {
	return withErr(&Message{
		MsgType: MsgTSlabStatus,
		Value:   status,
	}, err)
}

// NewRecordsRequest creates a new Records request
func NewRecordsRequest() *Message {
	return &Message{MsgType: MsgTSlabRecords}
}

// NewRecordsResponse creates a new Records response
func NewRecordsResponse(ids []byte, err error) *Message {
	return withErr(&Message{
		MsgType: MsgTSlabRecords,
		Value:   ids,
	}, err)
}

// NewInfoRequest creates a new Info request
func NewInfoRequest() *Message {
	return &Message{MsgType: MsgTSlabInfo}
}

// NewInfoResponse creates a new Info response
func NewInfoResponse(info []byte, err error) *Message {
	return withErr(&Message{
		MsgType: MsgTSlabInfo,
		Value:   info,
	}, err)
}

// NewCustomRequest creates a new Custom request
func NewCustomRequest(meta []byte) *Message {
	return &Message{
		MsgType: MsgTCustom,
		Meta:    meta,
	}
}

// NewCustomResponse creates a new Custom response
func NewCustomResponse(meta []byte, err error) *Message {
	return withErr(&Message{
		MsgType: MsgTCustom,
		Meta:    meta,
	}, err)
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
	}
}

// WithCode sets the return code of a response
func (m *Message) WithCode(code uint64) *Message {
	m.Code = code
	return m
}

func withErr(msg *Message, err error) *Message {
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

var msgTypeNames = map[MessageType]string{
	MsgTUnknown:              "unknown",
	MsgTSuccess:              "success",
	MsgTError:                "error",
	MsgTSlabCreate:           "create",
	MsgTSlabSet:              "set",
	MsgTSlabApplyMemo:        "applyMemo",
	MsgTSlabValue:            "value",
	MsgTSlabEnvelope:         "envelope",
	MsgTSlabImport:           "import",
	MsgTSlabMemosSince:       "memosSince",
	MsgTSlabRegisterPeerings: "registerPeerings",
	MsgTSlabPeersOf:          "peersOf",
	MsgTSlabDesired:          "desired",
	MsgTSlabSetTarget:        "setTarget",
	MsgTSlabSetEvicting:      "setEvicting",
	MsgTSlabNoteRequested:    "noteRequested",
	MsgTSlabTryRetire:        "tryRetire",
	MsgTSlabStatus:           "status",
	MsgTSlabRecords:          "records",
	MsgTSlabInfo:             "info",
	MsgTCustom:               "custom",
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if name, ok := msgTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	for msgType, name := range msgTypeNames {
		if name == s {
			*t = msgType
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// slab.IService operations

	MsgTSlabCreate           // Create a record
	MsgTSlabSet              // Issue a memo on a hosted record
	MsgTSlabApplyMemo        // Apply a memo received from a host
	MsgTSlabValue            // Read the materialized value of a record
	MsgTSlabEnvelope         // Export the envelope of a record
	MsgTSlabImport           // Import a record from an envelope
	MsgTSlabMemosSince       // Read the memo log of a record
	MsgTSlabRegisterPeerings // Merge peerings into the peering table
	MsgTSlabPeersOf          // List the peers of a record
	MsgTSlabDesired          // Read the desired replica count
	MsgTSlabSetTarget        // Change the target replica count
	MsgTSlabSetEvicting      // Set or clear the eviction intent
	MsgTSlabNoteRequested    // Remember a requested replica
	MsgTSlabTryRetire        // Try to retire the local copy
	MsgTSlabStatus           // Read the replication status of a record
	MsgTSlabRecords          // List the records of the slab
	MsgTSlabInfo             // Read slab metadata

	// Custom operations

	MsgTCustom // Custom operation type
)
