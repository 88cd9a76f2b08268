package peering

import (
	"encoding/json"
	"fmt"
)

// Kind is the relationship a node holds to a record.
type Kind uint8

const (
	KindUnknown   Kind = iota
	KindHost           // authoritative origin of the record's memo stream
	KindReplica        // full, independently queryable copy kept current by memos
	KindReference      // the node holds another record whose value points at this one
)

func (k Kind) String() string {
	switch k {
	case KindHost:
		return "host"
	case KindReplica:
		return "replica"
	case KindReference:
		return "reference"
	default:
		return "unknown"
	}
}

// ParseKind converts the string form of a Kind back into a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "host":
		return KindHost, nil
	case "replica":
		return KindReplica, nil
	case "reference":
		return KindReference, nil
	default:
		return KindUnknown, fmt.Errorf("unknown peering kind: %s", s)
	}
}

// HoldsCopy reports whether the kind implies a full local copy of the record.
func (k Kind) HoldsCopy() bool {
	return k == KindHost || k == KindReplica
}

// MarshalJSON encodes the kind as its string form.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes the string form of a kind.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == KindUnknown.String() {
		*k = KindUnknown
		return nil
	}
	parsed, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
