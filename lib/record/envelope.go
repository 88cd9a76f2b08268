package record

import (
	"encoding/json"

	"github.com/ValentinKolb/dSlab/lib/ident"
	"github.com/ValentinKolb/dSlab/lib/peering"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

const (
	envelopeIDField       = "id"
	envelopePeeringsField = "p"
)

// Envelope is the exchange format of a record: its identity and topology.
// It never carries the value, which is rebuilt on the receiving node by
// replaying memos.
type Envelope struct {
	ID       ident.RecordID   `json:"id"`
	Peerings peering.Peerings `json:"p"`
}

// EnvelopeFor returns the envelope of the record. The local node's own entry
// is included if includeLocal is set.
func (r *Record) EnvelopeFor(includeLocal bool) Envelope {
	return Envelope{
		ID:       r.id,
		Peerings: r.node.PeeringsFor(r.id, includeLocal),
	}
}

// Serialize encodes the record's envelope including the local node's entry.
func (r *Record) Serialize() ([]byte, error) {
	return json.Marshal(r.EnvelopeFor(true))
}

// DecodeEnvelope validates and decodes a serialized envelope. The data must
// be a JSON object with exactly the fields "id" (a record id) and "p"
// (node id -> peering kind).
func DecodeEnvelope(data []byte) (Envelope, error) {
	if !gjson.ValidBytes(data) {
		return Envelope{}, errors.Wrap(ErrMalformedEnvelope, "invalid json")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return Envelope{}, errors.Wrap(ErrMalformedEnvelope, "not an object")
	}

	var fieldErr error
	var sawID, sawP bool
	root.ForEach(func(key, value gjson.Result) bool {
		switch key.String() {
		case envelopeIDField:
			if sawID {
				fieldErr = errors.Wrap(ErrMalformedEnvelope, "duplicate field id")
				break
			}
			sawID = true
			if value.Type != gjson.String {
				fieldErr = errors.Wrap(ErrMalformedEnvelope, "id is not a string")
			} else if !ident.RecordID(value.String()).Valid() {
				fieldErr = errors.Wrapf(ErrMalformedEnvelope, "invalid record id %q", value.String())
			}
		case envelopePeeringsField:
			if sawP {
				fieldErr = errors.Wrap(ErrMalformedEnvelope, "duplicate field p")
				break
			}
			sawP = true
			if !value.IsObject() {
				fieldErr = errors.Wrap(ErrMalformedEnvelope, "p is not an object")
				break
			}
			value.ForEach(func(node, kind gjson.Result) bool {
				if _, err := ident.ParseNodeID(node.String()); err != nil {
					fieldErr = errors.Wrapf(ErrMalformedEnvelope, "invalid node id %q", node.String())
					return false
				}
				if _, err := peering.ParseKind(kind.String()); err != nil || kind.Type != gjson.String {
					fieldErr = errors.Wrapf(ErrMalformedEnvelope, "invalid peering kind %s", kind.Raw)
					return false
				}
				return true
			})
		default:
			fieldErr = errors.Wrapf(ErrMalformedEnvelope, "unexpected field %q", key.String())
		}
		return fieldErr == nil
	})
	if fieldErr != nil {
		return Envelope{}, fieldErr
	}
	if !sawID || !sawP {
		return Envelope{}, errors.Wrapf(ErrMalformedEnvelope, "expected fields %q and %q", envelopeIDField, envelopePeeringsField)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, errors.Wrapf(ErrMalformedEnvelope, "decode: %v", err)
	}
	if env.Peerings == nil {
		env.Peerings = peering.Peerings{}
	}
	return env, nil
}

// Deserialize reconstructs a record shell from a serialized envelope. The
// peerings are registered with the node and the record is stored with an
// empty value; callers replay memos to materialize it. If the node already
// holds the record the peerings are merged and the existing record is returned.
func Deserialize(node Node, data []byte) (*Record, error) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	return Import(node, env)
}

// Import is Deserialize for an already decoded envelope. A record the node
// has retired is not revived: nothing is registered and ErrRecordRetired is returned.
func Import(node Node, env Envelope) (*Record, error) {
	existing, ok := node.GetRecord(env.ID)
	if ok && existing.State() == StateRetired {
		return nil, errors.Wrapf(ErrRecordRetired, "import %s", env.ID)
	}

	node.RegisterPeerings(env.ID, env.Peerings)
	if ok {
		return existing, nil
	}
	r := newRecord(node, env.ID)
	node.PutRecord(r)
	log.Debugf("imported record %s with %d peerings", env.ID, len(env.Peerings))
	return r, nil
}
