package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ValentinKolb/dSlab/lib/ident"
	"github.com/pkg/errors"
)

// --------------------------------------------------------------------------
// Value Kinds
// --------------------------------------------------------------------------

// ValueKind tags the variant held by a Value.
type ValueKind uint8

const (
	ValueNull ValueKind = iota
	ValueString
	ValueNumber
	ValueBool
	ValueMap // nested key->value mapping
	ValueRef // reference to another record (by id)
)

func (k ValueKind) String() string {
	switch k {
	case ValueNull:
		return "null"
	case ValueString:
		return "string"
	case ValueNumber:
		return "number"
	case ValueBool:
		return "bool"
	case ValueMap:
		return "map"
	case ValueRef:
		return "ref"
	default:
		return fmt.Sprintf("Unknown(%d)", k)
	}
}

// --------------------------------------------------------------------------
// Value
// --------------------------------------------------------------------------

// Value is a single entry of a record's materialized value: a scalar, a
// nested mapping or a reference to another record. The zero Value is null.
type Value struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
	m    map[string]Value
	ref  ident.RecordID
}

func Null() Value                        { return Value{} }
func String(s string) Value              { return Value{kind: ValueString, str: s} }
func Number(n float64) Value             { return Value{kind: ValueNumber, num: n} }
func Bool(b bool) Value                  { return Value{kind: ValueBool, b: b} }
func Ref(id ident.RecordID) Value        { return Value{kind: ValueRef, ref: id} }
func Map(entries map[string]Value) Value { return Value{kind: ValueMap, m: cloneValues(entries)} }

func (v Value) Kind() ValueKind { return v.kind }

// Str returns the string held by the value.
func (v Value) Str() (string, bool) { return v.str, v.kind == ValueString }

// Num returns the number held by the value.
func (v Value) Num() (float64, bool) { return v.num, v.kind == ValueNumber }

// Bool returns the boolean held by the value.
func (v Value) Bool() (bool, bool) { return v.b, v.kind == ValueBool }

// Map returns a copy of the nested mapping held by the value.
func (v Value) Map() (map[string]Value, bool) {
	if v.kind != ValueMap {
		return nil, false
	}
	return cloneValues(v.m), true
}

// Ref returns the id of the referenced record.
func (v Value) Ref() (ident.RecordID, bool) { return v.ref, v.kind == ValueRef }

// Interface converts the value into plain Go types (references become
// ident.RecordID). It is intended for display and tests.
func (v Value) Interface() any {
	switch v.kind {
	case ValueString:
		return v.str
	case ValueNumber:
		return v.num
	case ValueBool:
		return v.b
	case ValueMap:
		return Plain(v.m)
	case ValueRef:
		return v.ref
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.kind {
	case ValueString:
		return fmt.Sprintf("%q", v.str)
	case ValueRef:
		return "ref(" + string(v.ref) + ")"
	default:
		return fmt.Sprintf("%v", v.Interface())
	}
}

// Plain converts a value mapping into plain Go types, see Value.Interface.
func Plain(values map[string]Value) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v.Interface()
	}
	return out
}

// FromPlain converts plain Go values (e.g. decoded JSON) into a value mapping.
// It accepts the same inputs as Create and Set.
func FromPlain(in map[string]any) (map[string]Value, error) {
	out, _, err := normalize(in)
	return out, err
}

// cloneValues deep-copies a value mapping (nil stays nil).
func cloneValues(values map[string]Value) map[string]Value {
	if values == nil {
		return nil
	}
	out := make(map[string]Value, len(values))
	for k, v := range values {
		if v.kind == ValueMap {
			v.m = cloneValues(v.m)
		}
		out[k] = v
	}
	return out
}

// --------------------------------------------------------------------------
// JSON encoding
// --------------------------------------------------------------------------

// wireValue is the tagged JSON form of a Value. Exactly one field is set,
// a null value is encoded as JSON null.
type wireValue struct {
	S *string          `json:"s,omitempty"`
	N *float64         `json:"n,omitempty"`
	B *bool            `json:"b,omitempty"`
	M map[string]Value `json:"m,omitempty"`
	R *ident.RecordID  `json:"r,omitempty"`
}

// MarshalJSON encodes the value in its tagged form, e.g. {"s":"abc"} or {"r":"1.2"}.
func (v Value) MarshalJSON() ([]byte, error) {
	var w wireValue
	switch v.kind {
	case ValueNull:
		return []byte("null"), nil
	case ValueString:
		w.S = &v.str
	case ValueNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return nil, fmt.Errorf("cannot encode number %v", v.num)
		}
		w.N = &v.num
	case ValueBool:
		w.B = &v.b
	case ValueMap:
		w.M = v.m
		if w.M == nil {
			w.M = map[string]Value{}
		}
		// omitempty would drop an empty map
		if len(w.M) == 0 {
			return []byte(`{"m":{}}`), nil
		}
	case ValueRef:
		w.R = &v.ref
	default:
		return nil, fmt.Errorf("cannot encode value of kind %s", v.kind)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the tagged form written by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = Value{}
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 1 {
		return fmt.Errorf("tagged value must have exactly one field, got %d", len(raw))
	}

	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	switch {
	case w.S != nil:
		*v = String(*w.S)
	case w.N != nil:
		*v = Number(*w.N)
	case w.B != nil:
		*v = Bool(*w.B)
	case w.R != nil:
		if !w.R.Valid() {
			return errors.Wrapf(ErrInvalidReference, "malformed record id %q", *w.R)
		}
		*v = Ref(*w.R)
	case raw["m"] != nil:
		if w.M == nil {
			w.M = map[string]Value{}
		}
		*v = Value{kind: ValueMap, m: w.M}
	default:
		return fmt.Errorf("unknown value tag in %s", string(data))
	}
	return nil
}

// --------------------------------------------------------------------------
// Normalization of caller supplied values
// --------------------------------------------------------------------------

// isRefKey reports whether a key claims to hold a record reference.
func isRefKey(key string) bool {
	return strings.HasPrefix(key, "$")
}

// normalize converts caller supplied values into Values. Record handles are
// replaced by references; their ids are returned so that the caller can
// register the matching REFERENCE peerings. The returned ids are sorted and
// free of duplicates.
//
// Accepted inputs: nil, Value, *Record, ident.RecordID, string, bool, all
// integer and float types, map[string]any and map[string]Value. A key
// starting with "$" must hold a *Record, an ident.RecordID, a well-formed id
// string or a reference Value; anything else is an ErrInvalidReference.
func normalize(in map[string]any) (map[string]Value, []ident.RecordID, error) {
	refs := make(map[ident.RecordID]struct{})
	out, err := normalizeMap(in, refs, "")
	if err != nil {
		return nil, nil, err
	}

	if len(refs) == 0 {
		return out, nil, nil
	}
	ids := make([]ident.RecordID, 0, len(refs))
	for id := range refs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return out, ids, nil
}

func normalizeMap(in map[string]any, refs map[ident.RecordID]struct{}, path string) (map[string]Value, error) {
	out := make(map[string]Value, len(in))
	for key, raw := range in {
		v, err := normalizeValue(key, raw, refs, path+key)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

func normalizeValue(key string, raw any, refs map[ident.RecordID]struct{}, path string) (Value, error) {
	if isRefKey(key) {
		return normalizeRef(raw, refs, path)
	}

	switch val := raw.(type) {
	case nil:
		return Null(), nil
	case *Record:
		if val == nil {
			return Value{}, errors.Wrapf(ErrInvalidReference, "key %s: nil record handle", path)
		}
		refs[val.ID()] = struct{}{}
		return Ref(val.ID()), nil
	case ident.RecordID:
		if !val.Valid() {
			return Value{}, errors.Wrapf(ErrInvalidReference, "key %s: malformed record id %q", path, val)
		}
		return Ref(val), nil
	case Value:
		if id, ok := val.Ref(); ok && !id.Valid() {
			return Value{}, errors.Wrapf(ErrInvalidReference, "key %s: malformed record id %q", path, id)
		}
		return Value{kind: val.kind, str: val.str, num: val.num, b: val.b, m: cloneValues(val.m), ref: val.ref}, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case float64:
		return Number(val), nil
	case float32:
		return Number(float64(val)), nil
	case int:
		return Number(float64(val)), nil
	case int32:
		return Number(float64(val)), nil
	case int64:
		return Number(float64(val)), nil
	case uint:
		return Number(float64(val)), nil
	case uint32:
		return Number(float64(val)), nil
	case uint64:
		return Number(float64(val)), nil
	case map[string]Value:
		return Map(val), nil
	case map[string]any:
		nested, err := normalizeMap(val, refs, path+".")
		if err != nil {
			return Value{}, err
		}
		return Value{kind: ValueMap, m: nested}, nil
	default:
		return Value{}, errors.Wrapf(ErrUnsupportedValue, "key %s: %T", path, raw)
	}
}

// normalizeRef handles a value stored under a "$" key.
func normalizeRef(raw any, refs map[ident.RecordID]struct{}, path string) (Value, error) {
	switch val := raw.(type) {
	case *Record:
		if val == nil {
			return Value{}, errors.Wrapf(ErrInvalidReference, "key %s: nil record handle", path)
		}
		refs[val.ID()] = struct{}{}
		return Ref(val.ID()), nil
	case ident.RecordID:
		if val.Valid() {
			return Ref(val), nil
		}
	case string:
		if id := ident.RecordID(val); id.Valid() {
			return Ref(id), nil
		}
	case Value:
		if id, ok := val.Ref(); ok && id.Valid() {
			return val, nil
		}
	}
	return Value{}, errors.Wrapf(ErrInvalidReference, "key %s: need a record handle or a record id, got %T", path, raw)
}
