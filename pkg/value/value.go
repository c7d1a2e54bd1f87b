// Package value provides the tagged-union value type used for open key/value
// bags on a conversation context (misc data, framework data, annotations).
//
// A Value is always one of a fixed set of kinds so that encoding and decoding
// is deterministic across every serializer and storage backend.
package value

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
)

// Kind identifies the concrete type held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindList
	KindMap
)

var kindNames = map[Kind]string{
	KindNull:   "null",
	KindBool:   "bool",
	KindInt:    "int",
	KindFloat:  "float",
	KindString: "string",
	KindBytes:  "bytes",
	KindList:   "list",
	KindMap:    "map",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

func parseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return KindNull, fmt.Errorf("unknown value kind %q", s)
}

// Value is an immutable tagged union. The zero Value is Null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	raw  []byte
	list []Value
	m    map[string]Value
}

// Bag is an open mapping of string keys to values.
type Bag map[string]Value

func Null() Value { return Value{} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Int(i int64) Value { return Value{kind: KindInt, i: i} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }
func String(s string) Value { return Value{kind: KindString, s: s} }

// Bytes copies b into a new bytes Value.
func Bytes(b []byte) Value {
	return Value{kind: KindBytes, raw: append([]byte{}, b...)}
}

// List builds a list Value. A nil argument produces an empty list.
func List(items ...Value) Value {
	return Value{kind: KindList, list: append([]Value{}, items...)}
}

// Map builds a map Value. A nil argument produces an empty map.
func Map(m map[string]Value) Value {
	out := make(map[string]Value, len(m))
	maps.Copy(out, m)
	return Value{kind: KindMap, m: out}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) AsBool() bool { return v.b }
func (v Value) AsInt() int64 { return v.i }
func (v Value) AsFloat() float64 { return v.f }
func (v Value) AsString() string { return v.s }

// AsBytes returns a copy of the held bytes.
func (v Value) AsBytes() []byte { return append([]byte{}, v.raw...) }

// AsList returns a copy of the held list.
func (v Value) AsList() []Value { return slices.Clone(v.list) }

// AsMap returns a copy of the held map.
func (v Value) AsMap() map[string]Value { return maps.Clone(v.m) }

// Equal reports structural equality. Floats compare by bit pattern so that
// NaN payloads survive a round trip check.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}

	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return math.Float64bits(v.f) == math.Float64bits(o.f)
	case KindString:
		return v.s == o.s
	case KindBytes:
		return bytes.Equal(v.raw, o.raw)
	case KindList:
		return slices.EqualFunc(v.list, o.list, Value.Equal)
	case KindMap:
		return maps.EqualFunc(v.m, o.m, Value.Equal)
	}
	return false
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.s)
	case KindBytes:
		return "b64:" + base64.StdEncoding.EncodeToString(v.raw)
	case KindList:
		return fmt.Sprint(v.list)
	case KindMap:
		return fmt.Sprint(v.m)
	}
	return v.kind.String()
}

// Equal reports whether two bags hold the same keys with equal values.
// A nil bag equals an empty one.
func (b Bag) Equal(o Bag) bool {
	return maps.EqualFunc(b, o, Value.Equal)
}

// Clone returns a shallow copy of the bag. Values are immutable so a shallow
// copy is a full copy.
func (b Bag) Clone() Bag {
	if b == nil {
		return nil
	}
	return maps.Clone(b)
}

// wireValue is the JSON shape of a Value: the kind tag plus a payload whose
// JSON type depends on the kind.
type wireValue struct {
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON encodes the value with an explicit kind tag so that ints,
// floats and bytes never collapse into one another.
func (v Value) MarshalJSON() ([]byte, error) {
	var (
		payload any
		err     error
	)

	switch v.kind {
	case KindNull:
		return json.Marshal(wireValue{Kind: v.kind.String()})
	case KindBool:
		payload = v.b
	case KindInt:
		// Strings keep the full int64 range exact for decoders that go
		// through float64.
		payload = strconv.FormatInt(v.i, 10)
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			payload = strconv.FormatFloat(v.f, 'g', -1, 64)
		} else {
			payload = v.f
		}
	case KindString:
		payload = v.s
	case KindBytes:
		payload = v.raw
	case KindList:
		payload = v.list
	case KindMap:
		payload = v.m
	default:
		return nil, fmt.Errorf("cannot encode %s", v.kind)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireValue{Kind: v.kind.String(), Value: raw})
}

// UnmarshalJSON decodes a value produced by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	kind, err := parseKind(w.Kind)
	if err != nil {
		return err
	}

	out := Value{kind: kind}
	switch kind {
	case KindNull:
	case KindBool:
		err = json.Unmarshal(w.Value, &out.b)
	case KindInt:
		var s string
		if err = json.Unmarshal(w.Value, &s); err == nil {
			out.i, err = strconv.ParseInt(s, 10, 64)
		}
	case KindFloat:
		if len(w.Value) > 0 && w.Value[0] == '"' {
			var s string
			if err = json.Unmarshal(w.Value, &s); err == nil {
				out.f, err = strconv.ParseFloat(s, 64)
			}
		} else {
			err = json.Unmarshal(w.Value, &out.f)
		}
	case KindString:
		err = json.Unmarshal(w.Value, &out.s)
	case KindBytes:
		out.raw = []byte{}
		err = json.Unmarshal(w.Value, &out.raw)
	case KindList:
		out.list = []Value{}
		err = json.Unmarshal(w.Value, &out.list)
	case KindMap:
		out.m = map[string]Value{}
		err = json.Unmarshal(w.Value, &out.m)
	}
	if err != nil {
		return fmt.Errorf("decoding %s value: %w", kind, err)
	}

	*v = out
	return nil
}

// GobEncode lets Value travel through encoding/gob despite its unexported
// fields.
func (v Value) GobEncode() ([]byte, error) {
	return v.MarshalJSON()
}

// GobDecode is the inverse of GobEncode.
func (v *Value) GobDecode(data []byte) error {
	return v.UnmarshalJSON(data)
}
