package ndarray

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"

	"github.com/danmuck/kbclient/internal/protocol"
)

// Bridge payloads are little-endian.
var hostLittleEndian = func() bool {
	x := uint16(1)
	return *(*byte)(unsafe.Pointer(&x)) == 1
}()

// Slice exposes the bytes v covers in buf as []T. The dtype must equal
// DtypeOf[T](). The result aliases buf when the host is little-endian and the
// payload is aligned for T; otherwise it is a decoded copy.
func Slice[T Element](v View, buf []byte) ([]T, error) {
	want := DtypeOf[T]()
	if v.dtype != want {
		return nil, &protocol.TypeMismatchError{Path: v.path, Want: want.String(), Got: v.dtype.String()}
	}
	b, err := v.Bytes(buf)
	if err != nil {
		return nil, err
	}
	if v.count == 0 {
		return []T{}, nil
	}
	if want == Bool {
		for i, c := range b {
			if c > 1 {
				return nil, fmt.Errorf("%w: %q byte %d holds 0x%02x", protocol.ErrInvalidContent, v.path, i, c)
			}
		}
	}
	if !aliasable[T](b) {
		return decodeCopy[T](b, v.count), nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b))), v.count), nil
}

// Aliased reports whether Slice would return a zero-copy result for v.
func Aliased[T Element](v View, buf []byte) bool {
	b, err := v.Bytes(buf)
	if err != nil || v.dtype != DtypeOf[T]() {
		return false
	}
	return aliasable[T](b)
}

func aliasable[T Element](b []byte) bool {
	var zero T
	if unsafe.Sizeof(zero) > 1 && !hostLittleEndian {
		return false
	}
	if len(b) == 0 {
		return true
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))%unsafe.Alignof(zero) == 0
}

func decodeCopy[T Element](b []byte, n int) []T {
	out := make([]T, n)
	le := binary.LittleEndian
	switch p := any(out).(type) {
	case []bool:
		for i := range p {
			p[i] = b[i] == 1
		}
	case []uint8:
		copy(p, b)
	case []int8:
		for i := range p {
			p[i] = int8(b[i])
		}
	case []uint16:
		for i := range p {
			p[i] = le.Uint16(b[2*i:])
		}
	case []int16:
		for i := range p {
			p[i] = int16(le.Uint16(b[2*i:]))
		}
	case []uint32:
		for i := range p {
			p[i] = le.Uint32(b[4*i:])
		}
	case []int32:
		for i := range p {
			p[i] = int32(le.Uint32(b[4*i:]))
		}
	case []uint64:
		for i := range p {
			p[i] = le.Uint64(b[8*i:])
		}
	case []int64:
		for i := range p {
			p[i] = int64(le.Uint64(b[8*i:]))
		}
	case []float32:
		for i := range p {
			p[i] = math.Float32frombits(le.Uint32(b[4*i:]))
		}
	case []float64:
		for i := range p {
			p[i] = math.Float64frombits(le.Uint64(b[8*i:]))
		}
	}
	return out
}
