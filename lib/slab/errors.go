package slab

import (
	"strings"

	"github.com/ValentinKolb/dSlab/lib/record"
	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned if a record is not stored on the slab.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidOperation is the fallback sentinel for RetCInvalidOperation.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrInternal is the sentinel for RetCInternalError.
	ErrInternal = errors.New("internal error")
)

// sentinels lists the errors a return code can stand for. The first entry is
// the fallback if the message does not identify a more specific one.
var sentinels = map[RetCode][]error{
	RetCInternalError: {ErrInternal},
	RetCInvalidOperation: {
		ErrInvalidOperation,
		record.ErrNotHost,
		record.ErrNotEvicting,
		record.ErrMemoMismatch,
		record.ErrInvalidTarget,
		record.ErrMalformedEnvelope,
		record.ErrUnsupportedValue,
	},
	RetCNotFound:         {ErrNotFound},
	RetCRetired:          {record.ErrRecordRetired},
	RetCInvalidReference: {record.ErrInvalidReference},
	RetCGapTooLarge:      {record.ErrGapTooLarge},
	RetCLastCopy:         {record.ErrLastCopy, record.ErrLastHost},
}

// CodeOf returns the return code for an error produced by a slab or a record.
func CodeOf(err error) RetCode {
	var se *Error
	switch {
	case err == nil:
		return RetCSuccess
	case errors.As(err, &se):
		return se.Code
	case errors.Is(err, ErrNotFound):
		return RetCNotFound
	case errors.Is(err, record.ErrRecordRetired):
		return RetCRetired
	case errors.Is(err, record.ErrInvalidReference):
		return RetCInvalidReference
	case errors.Is(err, record.ErrGapTooLarge):
		return RetCGapTooLarge
	case errors.Is(err, record.ErrLastCopy), errors.Is(err, record.ErrLastHost):
		return RetCLastCopy
	case errors.Is(err, ErrInternal):
		return RetCInternalError
	}
	for _, s := range sentinels[RetCInvalidOperation] {
		if errors.Is(err, s) {
			return RetCInvalidOperation
		}
	}
	return RetCInternalError
}

// ToError converts any error into a *Error (nil stays nil).
func ToError(err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return NewError(CodeOf(err), err.Error())
}

// FromCode returns the sentinel error for a return code.
func FromCode(code RetCode) error {
	return sentinelFor(code, "")
}

// sentinelFor picks the sentinel whose text ends the message, falling back
// to the first sentinel of the code.
func sentinelFor(code RetCode, msg string) error {
	candidates, ok := sentinels[code]
	if !ok {
		return nil
	}
	for _, s := range candidates {
		if msg != "" && strings.HasSuffix(msg, s.Error()) {
			return s
		}
	}
	return candidates[0]
}
