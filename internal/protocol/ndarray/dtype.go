package ndarray

import (
	"strings"

	"github.com/danmuck/kbclient/internal/protocol"
)

// Dtype is the declared element type of an array payload.
type Dtype uint8

const (
	Invalid Dtype = iota
	Bool
	Uint8
	Uint16
	Uint32
	Uint64
	Int8
	Int16
	Int32
	Int64
	Float32
	Float64
)

var dtypeNames = [...]string{
	Invalid: "invalid",
	Bool:    "bool",
	Uint8:   "uint8",
	Uint16:  "uint16",
	Uint32:  "uint32",
	Uint64:  "uint64",
	Int8:    "int8",
	Int16:   "int16",
	Int32:   "int32",
	Int64:   "int64",
	Float32: "float32",
	Float64: "float64",
}

var dtypeSizes = [...]int{
	Bool:    1,
	Uint8:   1,
	Uint16:  2,
	Uint32:  4,
	Uint64:  8,
	Int8:    1,
	Int16:   2,
	Int32:   4,
	Int64:   8,
	Float32: 4,
	Float64: 8,
}

// dtypeAliases maps the names bridge servers emit (numpy names, numpy type
// strings, C type names, bit-width shorthands) onto the closed set. A bare
// "u8" or "i8" is the bit-width shorthand for a one-byte integer.
var dtypeAliases = map[string]Dtype{
	"bool": Bool, "bool_": Bool, "b1": Bool, "?": Bool,
	"uint8": Uint8, "u1": Uint8, "uint8_t": Uint8, "B": Uint8, "u8": Uint8,
	"uint16": Uint16, "u2": Uint16, "uint16_t": Uint16, "H": Uint16, "u16": Uint16,
	"uint32": Uint32, "u4": Uint32, "uint32_t": Uint32, "I": Uint32, "u32": Uint32,
	"uint64": Uint64, "uint64_t": Uint64, "Q": Uint64, "u64": Uint64,
	"int8": Int8, "i1": Int8, "int8_t": Int8, "b": Int8, "i8": Int8,
	"int16": Int16, "i2": Int16, "int16_t": Int16, "h": Int16, "i16": Int16,
	"int32": Int32, "i4": Int32, "int32_t": Int32, "i": Int32, "i32": Int32,
	"int64": Int64, "int64_t": Int64, "q": Int64, "i64": Int64,
	"float32": Float32, "f4": Float32, "float": Float32, "f": Float32, "single": Float32, "f32": Float32,
	"float64": Float64, "f8": Float64, "double": Float64, "d": Float64, "f64": Float64,
}

func (d Dtype) String() string {
	if int(d) < len(dtypeNames) {
		return dtypeNames[d]
	}
	return dtypeNames[Invalid]
}

// Size is the element size in bytes; 0 for Invalid.
func (d Dtype) Size() int {
	if int(d) < len(dtypeSizes) {
		return dtypeSizes[d]
	}
	return 0
}

func (d Dtype) Valid() bool {
	return d > Invalid && d <= Float64
}

// prefixedTypeStrings holds numpy type strings whose meaning differs from the
// bare shorthand once a byte-order prefix marks them as byte counts.
var prefixedTypeStrings = map[string]Dtype{
	"u8": Uint64,
	"i8": Int64,
}

// ParseDtype normalizes a dtype name. Byte-order prefixes are accepted only
// when they denote little-endian or not-applicable ("<", "|", "=").
func ParseDtype(name string) (Dtype, error) {
	key := strings.TrimSpace(name)
	if len(key) > 1 {
		switch key[0] {
		case '<', '|', '=':
			key = key[1:]
			if d, ok := prefixedTypeStrings[key]; ok {
				return d, nil
			}
		}
	}
	if d, ok := dtypeAliases[key]; ok {
		return d, nil
	}
	if d, ok := dtypeAliases[strings.ToLower(key)]; ok && len(key) > 1 {
		return d, nil
	}
	return Invalid, &protocol.UnknownDtypeError{Dtype: name}
}

// Element is the set of Go types an array view can be cast to.
type Element interface {
	bool | uint8 | uint16 | uint32 | uint64 | int8 | int16 | int32 | int64 | float32 | float64
}

// DtypeOf returns the dtype matching T.
func DtypeOf[T Element]() Dtype {
	var zero T
	switch any(zero).(type) {
	case bool:
		return Bool
	case uint8:
		return Uint8
	case uint16:
		return Uint16
	case uint32:
		return Uint32
	case uint64:
		return Uint64
	case int8:
		return Int8
	case int16:
		return Int16
	case int32:
		return Int32
	case int64:
		return Int64
	case float32:
		return Float32
	case float64:
		return Float64
	default:
		return Invalid
	}
}
