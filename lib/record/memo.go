package record

import (
	"github.com/ValentinKolb/dSlab/lib/ident"
)

// Memo is an immutable, sequenced mutation of one record.
// The payload replaces the values of the keys it contains; other keys are untouched.
type Memo struct {
	ID      ident.MemoID     `json:"id"`
	Payload map[string]Value `json:"v"`
	// Refs lists the records whose handles were normalized into this memo.
	// Every node applying the memo registers a REFERENCE peering for them.
	Refs []ident.RecordID `json:"refs,omitempty"`
}

// NewMemo creates a memo for the given record and sequence number.
func NewMemo(id ident.RecordID, seq uint64, payload map[string]Value, refs ...ident.RecordID) Memo {
	return Memo{
		ID:      ident.MemoID{Record: id, Seq: seq},
		Payload: cloneValues(payload),
		Refs:    refs,
	}
}

// Outcome describes what ApplyMemo did with a memo.
type Outcome uint8

const (
	OutcomeApplied   Outcome = iota + 1 // folded into the value
	OutcomeBuffered                     // ahead of the next expected sequence number, kept until the gap is filled
	OutcomeDuplicate                    // already applied or already buffered, nothing changed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeBuffered:
		return "buffered"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// memoLess orders buffered memos by sequence number.
func memoLess(a, b interface{}) bool {
	return a.(*Memo).ID.Seq < b.(*Memo).ID.Seq
}
