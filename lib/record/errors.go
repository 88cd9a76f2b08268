package record

import "github.com/pkg/errors"

var (
	// ErrInvalidReference is returned if a value claims to be a record
	// reference but holds neither a record handle nor a well-formed record id.
	ErrInvalidReference = errors.New("invalid record reference")

	// ErrUnsupportedValue is returned for values that have no Value variant.
	ErrUnsupportedValue = errors.New("unsupported value type")

	// ErrGapTooLarge is returned if a memo arrives so far ahead of the next
	// expected sequence number that it cannot be buffered.
	ErrGapTooLarge = errors.New("memo sequence gap too large")

	// ErrRecordRetired is returned for every mutation of a record whose local
	// copy was dropped after a completed eviction.
	ErrRecordRetired = errors.New("record retired on this node")

	// ErrMemoMismatch is returned if a memo is applied to a record it does not belong to.
	ErrMemoMismatch = errors.New("memo belongs to a different record")

	// ErrNotHost is returned if a node that is not a host of the record tries to issue a memo.
	ErrNotHost = errors.New("node is not a host of the record")

	// ErrNotEvicting is returned by TryRetire if no eviction is in progress.
	ErrNotEvicting = errors.New("record is not evicting")

	// ErrLastCopy is returned by TryRetire if no other node holds a copy of the record.
	ErrLastCopy = errors.New("cannot retire the last copy of a record")

	// ErrLastHost is returned by TryRetire if this node is the only host of the record.
	ErrLastHost = errors.New("cannot retire the last host of a record")

	// ErrMalformedEnvelope is returned if a serialized record cannot be decoded.
	ErrMalformedEnvelope = errors.New("malformed record envelope")

	// ErrInvalidTarget is returned for a negative target replica count.
	ErrInvalidTarget = errors.New("target replica count must not be negative")
)
