package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"
	"unicode/utf16"
)

// Value is a sealed interface over the field value types a fact may carry.
// Only Null, String, Int, Bool, Array and Object implement it.
// There is no float type: a float has more than one textual form and would
// make fact hashes unstable.
type Value interface {
	value()
}

// Null is the absent value. It is accepted when decoding stored JSON and is
// returned by projections of missing fields, but it never hashes.
type Null struct{}

func (Null) value() {}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String is a string field value.
type String string

func (String) value() {}

// Int is an integer field value. Always int64.
type Int int64

func (Int) value() {}

// Bool is a boolean field value.
type Bool bool

func (Bool) value() {}

// Array is an ordered list of values.
type Array []Value

func (Array) value() {}

// Object maps string keys to values.
// Use SortedKeys for deterministic iteration.
type Object map[string]Value

func (Object) value() {}

// Pair is a key/value pair for typed Object construction.
type Pair struct {
	Key   string
	Value Value
}

// P is shorthand for Pair.
func P(key string, v Value) Pair {
	return Pair{Key: key, Value: v}
}

// NewObject builds an Object from pairs. Later pairs win on duplicate keys.
func NewObject(pairs ...Pair) Object {
	obj := make(Object, len(pairs))
	for _, p := range pairs {
		obj[p.Key] = p.Value
	}
	return obj
}

// SortedKeys returns keys in RFC 8785 order (UTF-16 code units).
// Go's string comparison orders by UTF-8 bytes, which differs for
// characters outside the BMP.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, CompareKeys)
	return keys
}

// CompareKeys compares two strings by UTF-16 code units.
func CompareKeys(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}

// Clone returns a deep copy of v. Scalars are returned as is.
func Clone(v Value) Value {
	switch val := v.(type) {
	case Array:
		out := make(Array, len(val))
		for i, elem := range val {
			out[i] = Clone(elem)
		}
		return out
	case Object:
		return val.Clone()
	default:
		return v
	}
}

// Clone returns a deep copy of the object. A nil object clones to an empty one.
func (obj Object) Clone() Object {
	out := make(Object, len(obj))
	for k, v := range obj {
		out[k] = Clone(v)
	}
	return out
}

// Equal reports whether a and b are structurally identical.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case Null:
		_, ok := b.(Null)
		return ok
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Int:
		bv, ok := b.(Int)
		return ok && av == bv
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Array:
		bv, ok := b.(Array)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Object:
		bv, ok := b.(Object)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, ok := bv[k]
			if !ok || !Equal(v, other) {
				return false
			}
		}
		return true
	}
	return false
}

// FromAny converts a decoded YAML, JSON or CUE value to a Value.
// Integral float64 values (YAML and JSON decode numbers that way) become Int;
// fractional ones and nil are rejected.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null is not a valid field value")
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, fmt.Errorf("integer out of range: %d", val)
		}
		return Int(val), nil
	case float64:
		if val != math.Trunc(val) || val > math.MaxInt64 || val < math.MinInt64 {
			return nil, fmt.Errorf("floats are not valid field values: %v", val)
		}
		return Int(int64(val)), nil
	case json.Number:
		s := string(val)
		if strings.ContainsAny(s, ".eE") {
			return nil, fmt.Errorf("floats are not valid field values: %s", s)
		}
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("integer out of range: %s", s)
		}
		return Int(n), nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			conv, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = conv
		}
		return arr, nil
	case map[string]any:
		return ObjectFromMap(val)
	default:
		return nil, fmt.Errorf("unsupported field value type %T", v)
	}
}

// ObjectFromMap converts a decoded map to an Object.
func ObjectFromMap(m map[string]any) (Object, error) {
	obj := make(Object, len(m))
	for k, elem := range m {
		conv, err := FromAny(elem)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		obj[k] = conv
	}
	return obj, nil
}

// ToAny converts a Value back to plain Go values for display.
func ToAny(v Value) any {
	switch val := v.(type) {
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Bool:
		return bool(val)
	case Array:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToAny(elem)
		}
		return out
	case Object:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = ToAny(elem)
		}
		return out
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler for Object.
func (obj *Object) UnmarshalJSON(data []byte) error {
	v, err := Decode(data)
	if err != nil {
		return err
	}
	o, ok := v.(Object)
	if !ok {
		return fmt.Errorf("expected JSON object, got %T", v)
	}
	*obj = o
	return nil
}

// MarshalJSON renders the object with sorted keys. It is not the canonical
// form; use Marshal for hashing.
func (obj Object) MarshalJSON() ([]byte, error) {
	return encode(obj)
}

// MarshalJSON implements json.Marshaler for Array.
func (arr Array) MarshalJSON() ([]byte, error) {
	return encode(arr)
}

func encode(v Value) ([]byte, error) {
	switch val := v.(type) {
	case Null:
		return []byte("null"), nil
	case String:
		return json.Marshal(string(val))
	case Int:
		return json.Marshal(int64(val))
	case Bool:
		return json.Marshal(bool(val))
	case Array:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := encode(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case Object:
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range val.SortedKeys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			b, err := encode(val[k])
			if err != nil {
				return nil, fmt.Errorf("%q: %w", k, err)
			}
			buf.Write(b)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown value type %T", v)
	}
}

// Decode parses JSON into a Value. JSON null decodes to Null so that stored
// projections round-trip; floats are rejected.
func Decode(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return decodeAny(raw)
}

func decodeAny(raw any) (Value, error) {
	switch val := raw.(type) {
	case nil:
		return Null{}, nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			conv, err := decodeAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = conv
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			conv, err := decodeAny(elem)
			if err != nil {
				return nil, fmt.Errorf("%q: %w", k, err)
			}
			obj[k] = conv
		}
		return obj, nil
	default:
		return FromAny(raw)
	}
}
