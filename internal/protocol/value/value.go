package value

import (
	"fmt"
	"math"
	"sort"

	"github.com/danmuck/kbclient/internal/protocol"
)

// Kind is the encoded type tag of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindUint
	KindInt
	KindFloat32
	KindFloat64
	KindString
	KindBinary
	KindArray
	KindMap
	KindExt
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "nil"
	case KindBool:
		return "bool"
	case KindUint:
		return "uint64"
	case KindInt:
		return "int64"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindString:
		return "string"
	case KindBinary:
		return "binary"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	case KindExt:
		return "ext"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is one decoded msgpack value. Non-negative integers carry KindUint and
// negative ones KindInt regardless of their encoded width.
type Value struct {
	kind    Kind
	b       bool
	u       uint64
	i       int64
	f       float64
	s       string
	raw     []byte
	items   []Value
	entries map[string]Value
	keys    []string
}

func Null() Value               { return Value{kind: KindNull} }
func Bool(v bool) Value         { return Value{kind: KindBool, b: v} }
func Uint(v uint64) Value       { return Value{kind: KindUint, u: v} }
func Float32(v float32) Value   { return Value{kind: KindFloat32, f: float64(v)} }
func Float64(v float64) Value   { return Value{kind: KindFloat64, f: v} }
func String(v string) Value     { return Value{kind: KindString, s: v} }
func Binary(v []byte) Value     { return Value{kind: KindBinary, raw: v} }
func Array(items []Value) Value { return Value{kind: KindArray, items: items} }

func Int(v int64) Value {
	if v >= 0 {
		return Uint(uint64(v))
	}
	return Value{kind: KindInt, i: v}
}

// Map builds a map value; keys keeps the encoded order.
func Map(entries map[string]Value, keys []string) Value {
	if keys == nil {
		keys = make([]string, 0, len(entries))
		for k := range entries {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}
	return Value{kind: KindMap, entries: entries, keys: keys}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) mismatch(want string) error {
	return &protocol.TypeMismatchError{Want: want, Got: v.Describe()}
}

// Bool returns the value as bool.
func (v Value) Bool() (bool, error) {
	if v.kind != KindBool {
		return false, v.mismatch("bool")
	}
	return v.b, nil
}

// Int64 returns an integer value that is representable as int64.
func (v Value) Int64() (int64, error) {
	switch v.kind {
	case KindInt:
		return v.i, nil
	case KindUint:
		if v.u > math.MaxInt64 {
			return 0, v.mismatch("int64")
		}
		return int64(v.u), nil
	default:
		return 0, v.mismatch("int64")
	}
}

// Uint64 returns a non-negative integer value.
func (v Value) Uint64() (uint64, error) {
	if v.kind != KindUint {
		return 0, v.mismatch("uint64")
	}
	return v.u, nil
}

// Float32 returns a value encoded as a 32-bit float.
func (v Value) Float32() (float32, error) {
	if v.kind != KindFloat32 {
		return 0, v.mismatch("float32")
	}
	return float32(v.f), nil
}

// Float64 returns a value encoded as a 64-bit float.
func (v Value) Float64() (float64, error) {
	if v.kind != KindFloat64 {
		return 0, v.mismatch("float64")
	}
	return v.f, nil
}

// Str returns the value as string. Binary values are not strings.
func (v Value) Str() (string, error) {
	if v.kind != KindString {
		return "", v.mismatch("string")
	}
	return v.s, nil
}

// Bytes returns a copy of a binary value.
func (v Value) Bytes() ([]byte, error) {
	if v.kind != KindBinary {
		return nil, v.mismatch("binary")
	}
	buf := make([]byte, len(v.raw))
	copy(buf, v.raw)
	return buf, nil
}

// Items returns the elements of an array value.
func (v Value) Items() ([]Value, error) {
	if v.kind != KindArray {
		return nil, v.mismatch("array")
	}
	return v.items, nil
}

// Entries returns the entries of a map value.
func (v Value) Entries() (map[string]Value, error) {
	if v.kind != KindMap {
		return nil, v.mismatch("map")
	}
	return v.entries, nil
}

// Keys returns map keys in encoded order, or nil for non-map values.
func (v Value) Keys() []string {
	if v.kind != KindMap {
		return nil
	}
	out := make([]string, len(v.keys))
	copy(out, v.keys)
	return out
}

// Get looks up a key of a map value.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	item, ok := v.entries[key]
	return item, ok
}

// Len is the element count of arrays, maps, strings and binaries; 0 otherwise.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.items)
	case KindMap:
		return len(v.entries)
	case KindString:
		return len(v.s)
	case KindBinary, KindExt:
		return len(v.raw)
	default:
		return 0
	}
}

// Any converts the value into plain Go values (map[string]any, []any, ...).
func (v Value) Any() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindUint:
		return v.u
	case KindInt:
		return v.i
	case KindFloat32:
		return float32(v.f)
	case KindFloat64:
		return v.f
	case KindString:
		return v.s
	case KindBinary, KindExt:
		return v.raw
	case KindArray:
		out := make([]any, len(v.items))
		for i, item := range v.items {
			out[i] = item.Any()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.entries))
		for k, item := range v.entries {
			out[k] = item.Any()
		}
		return out
	default:
		return nil
	}
}

// Container names the container type: "" for scalars, "array-like" for
// arrays and binaries, "map" for maps, "ext" for extensions.
func (v Value) Container() string {
	switch v.kind {
	case KindArray, KindBinary:
		return "array-like"
	case KindMap:
		return "map"
	case KindExt:
		return "ext"
	default:
		return ""
	}
}

// ElemType names the scalar type, or the element type of a container. Empty
// arrays report "unknown".
func (v Value) ElemType() string {
	switch v.kind {
	case KindArray:
		if len(v.items) == 0 {
			return "unknown"
		}
		return v.items[0].kind.String()
	case KindBinary:
		return "char"
	case KindMap, KindExt:
		return "undefined"
	default:
		return v.kind.String()
	}
}

// Shape is [len] for containers and nil for scalars.
func (v Value) Shape() []int {
	switch v.kind {
	case KindArray, KindMap, KindBinary:
		return []int{v.Len()}
	default:
		return nil
	}
}

// Describe renders the encoded type for error messages.
func (v Value) Describe() string {
	if c := v.Container(); c != "" {
		return fmt.Sprintf("%s of %s", c, v.ElemType())
	}
	return v.kind.String()
}
