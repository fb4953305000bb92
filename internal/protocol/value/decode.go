package value

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/kbclient/internal/protocol"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// MaxDepth bounds container nesting while decoding.
const MaxDepth = 64

// Decode fully decodes one msgpack value from b. Trailing bytes are rejected.
func Decode(b []byte) (Value, error) {
	r := bytes.NewReader(b)
	dec := msgpack.NewDecoder(r)
	v, err := decodeValue(dec, 0)
	if err != nil {
		return Value{}, err
	}
	if r.Len() != 0 {
		return Value{}, fmt.Errorf("%w: %d trailing bytes", protocol.ErrMalformedValue, r.Len())
	}
	return v, nil
}

// DecodeMap decodes b and requires the top-level value to be a map.
func DecodeMap(b []byte) (Value, error) {
	v, err := Decode(b)
	if err != nil {
		return Value{}, err
	}
	if v.kind != KindMap {
		return Value{}, fmt.Errorf("%w: top-level %s is not a map", protocol.ErrMalformedValue, v.kind)
	}
	return v, nil
}

func decodeValue(dec *msgpack.Decoder, depth int) (Value, error) {
	if depth > MaxDepth {
		return Value{}, fmt.Errorf("%w: nesting deeper than %d", protocol.ErrMalformedValue, MaxDepth)
	}
	c, err := dec.PeekCode()
	if err != nil {
		return Value{}, malformed(err)
	}

	switch {
	case c == msgpcode.Nil:
		if err := dec.DecodeNil(); err != nil {
			return Value{}, malformed(err)
		}
		return Null(), nil
	case c == msgpcode.False || c == msgpcode.True:
		b, err := dec.DecodeBool()
		if err != nil {
			return Value{}, malformed(err)
		}
		return Bool(b), nil
	case c == msgpcode.Float:
		f, err := dec.DecodeFloat32()
		if err != nil {
			return Value{}, malformed(err)
		}
		return Float32(f), nil
	case c == msgpcode.Double:
		f, err := dec.DecodeFloat64()
		if err != nil {
			return Value{}, malformed(err)
		}
		return Float64(f), nil
	case c <= msgpcode.PosFixedNumHigh,
		c == msgpcode.Uint8, c == msgpcode.Uint16, c == msgpcode.Uint32, c == msgpcode.Uint64:
		u, err := dec.DecodeUint64()
		if err != nil {
			return Value{}, malformed(err)
		}
		return Uint(u), nil
	case c >= msgpcode.NegFixedNumLow,
		c == msgpcode.Int8, c == msgpcode.Int16, c == msgpcode.Int32, c == msgpcode.Int64:
		i, err := dec.DecodeInt64()
		if err != nil {
			return Value{}, malformed(err)
		}
		return Int(i), nil
	case msgpcode.IsString(c):
		s, err := dec.DecodeString()
		if err != nil {
			return Value{}, malformed(err)
		}
		return String(s), nil
	case msgpcode.IsBin(c):
		b, err := dec.DecodeBytes()
		if err != nil {
			return Value{}, malformed(err)
		}
		return Binary(b), nil
	case msgpcode.IsFixedArray(c) || c == msgpcode.Array16 || c == msgpcode.Array32:
		return decodeArray(dec, depth)
	case msgpcode.IsFixedMap(c) || c == msgpcode.Map16 || c == msgpcode.Map32:
		return decodeMap(dec, depth)
	case msgpcode.IsExt(c):
		raw, err := dec.DecodeRaw()
		if err != nil {
			return Value{}, malformed(err)
		}
		return Value{kind: KindExt, raw: raw}, nil
	default:
		return Value{}, fmt.Errorf("%w: unexpected code 0x%02x", protocol.ErrMalformedValue, c)
	}
}

func decodeArray(dec *msgpack.Decoder, depth int) (Value, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return Value{}, malformed(err)
	}
	if n < 0 {
		return Null(), nil
	}
	items := make([]Value, 0, min(n, 1024))
	for i := 0; i < n; i++ {
		item, err := decodeValue(dec, depth+1)
		if err != nil {
			return Value{}, err
		}
		items = append(items, item)
	}
	return Array(items), nil
}

func decodeMap(dec *msgpack.Decoder, depth int) (Value, error) {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return Value{}, malformed(err)
	}
	if n < 0 {
		return Null(), nil
	}
	entries := make(map[string]Value, min(n, 1024))
	keys := make([]string, 0, min(n, 1024))
	for i := 0; i < n; i++ {
		key, err := decodeKey(dec)
		if err != nil {
			return Value{}, err
		}
		item, err := decodeValue(dec, depth+1)
		if err != nil {
			return Value{}, err
		}
		if _, dup := entries[key]; !dup {
			keys = append(keys, key)
		}
		entries[key] = item
	}
	return Map(entries, keys), nil
}

// decodeKey accepts str and bin keys; older bridge servers pack keys as bin.
func decodeKey(dec *msgpack.Decoder) (string, error) {
	c, err := dec.PeekCode()
	if err != nil {
		return "", malformed(err)
	}
	switch {
	case msgpcode.IsString(c):
		s, err := dec.DecodeString()
		if err != nil {
			return "", malformed(err)
		}
		return s, nil
	case msgpcode.IsBin(c):
		b, err := dec.DecodeBytes()
		if err != nil {
			return "", malformed(err)
		}
		return string(b), nil
	default:
		return "", fmt.Errorf("%w: map key code 0x%02x is not a string", protocol.ErrMalformedValue, c)
	}
}

func malformed(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated", protocol.ErrMalformedValue)
	}
	return fmt.Errorf("%w: %v", protocol.ErrMalformedValue, err)
}
