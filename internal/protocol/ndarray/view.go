package ndarray

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/danmuck/kbclient/internal/protocol"
)

// Count returns the product of shape. Shapes must be non-empty with
// non-negative entries; a product that does not fit an int is an error.
func Count(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, fmt.Errorf("%w: empty shape", protocol.ErrInvalidShape)
	}
	var n uint64 = 1
	for i, dim := range shape {
		if dim < 0 {
			return 0, fmt.Errorf("%w: negative dimension %d at axis %d", protocol.ErrInvalidShape, dim, i)
		}
		hi, lo := bits.Mul64(n, uint64(dim))
		if hi != 0 || lo > math.MaxInt {
			return 0, fmt.Errorf("%w: %v", protocol.ErrShapeOverflow, shape)
		}
		n = lo
	}
	return int(n), nil
}

// ByteSize returns count*dtype.Size() with the same overflow rules as Count.
func ByteSize(count int, dtype Dtype) (int, error) {
	if !dtype.Valid() {
		return 0, &protocol.UnknownDtypeError{Dtype: dtype.String()}
	}
	hi, lo := bits.Mul64(uint64(count), uint64(dtype.Size()))
	if hi != 0 || lo > math.MaxInt {
		return 0, fmt.Errorf("%w: %d elements of %s", protocol.ErrShapeOverflow, count, dtype)
	}
	return int(lo), nil
}

// View borrows an array payload out of a frame owned elsewhere. Frame is an
// index into the owner's frame arena; the view never holds the bytes.
type View struct {
	Frame  int
	Offset int
	Length int

	shape []int
	dtype Dtype
	path  string
	count int
}

// NewView builds a view after checking that length matches shape and dtype.
func NewView(frameIdx, offset, length int, shape []int, dtype Dtype, path string) (View, error) {
	count, err := Count(shape)
	if err != nil {
		return View{}, err
	}
	nbytes, err := ByteSize(count, dtype)
	if err != nil {
		return View{}, err
	}
	if length != nbytes {
		return View{}, fmt.Errorf("%w: %q declares %v %s (%d bytes), payload has %d bytes",
			protocol.ErrArrayLengthMismatch, path, shape, dtype, nbytes, length)
	}
	s := make([]int, len(shape))
	copy(s, shape)
	return View{
		Frame:  frameIdx,
		Offset: offset,
		Length: length,
		shape:  s,
		dtype:  dtype,
		path:   path,
		count:  count,
	}, nil
}

func (v View) Dtype() Dtype { return v.dtype }
func (v View) Path() string { return v.path }
func (v View) Len() int     { return v.count }

// Shape returns a copy of the declared shape.
func (v View) Shape() []int {
	out := make([]int, len(v.shape))
	copy(out, v.shape)
	return out
}

// Bytes returns the raw payload slice of buf that the view covers.
func (v View) Bytes(buf []byte) ([]byte, error) {
	end := v.Offset + v.Length
	if v.Offset < 0 || end < v.Offset || end > len(buf) {
		return nil, fmt.Errorf("%w: view [%d:%d] outside %d-byte frame",
			protocol.ErrArrayLengthMismatch, v.Offset, end, len(buf))
	}
	return buf[v.Offset:end:end], nil
}
