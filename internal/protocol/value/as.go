package value

import (
	"fmt"

	"github.com/danmuck/kbclient/internal/protocol"
)

// As casts v to T. The encoded type must match T exactly; integers are the only
// family that crosses tags, and only when the value is representable.
//
// Supported targets: bool, int64, uint64, float32, float64, string, []byte,
// []bool, []int64, []uint64, []float32, []float64, []string, []Value, []any,
// map[string]Value, map[string]any and Value itself.
func As[T any](v Value) (T, error) {
	var out T
	var err error
	switch p := any(&out).(type) {
	case *Value:
		*p = v
	case *bool:
		*p, err = v.Bool()
	case *int64:
		*p, err = v.Int64()
	case *uint64:
		*p, err = v.Uint64()
	case *float32:
		*p, err = v.Float32()
	case *float64:
		*p, err = v.Float64()
	case *string:
		*p, err = v.Str()
	case *[]byte:
		*p, err = v.Bytes()
	case *[]bool:
		*p, err = sliceOf(v, "[]bool", Value.Bool)
	case *[]int64:
		*p, err = sliceOf(v, "[]int64", Value.Int64)
	case *[]uint64:
		*p, err = sliceOf(v, "[]uint64", Value.Uint64)
	case *[]float32:
		*p, err = sliceOf(v, "[]float32", Value.Float32)
	case *[]float64:
		*p, err = sliceOf(v, "[]float64", Value.Float64)
	case *[]string:
		*p, err = sliceOf(v, "[]string", Value.Str)
	case *[]Value:
		*p, err = v.Items()
	case *[]any:
		if v.kind != KindArray {
			return out, v.mismatch("[]any")
		}
		*p = v.Any().([]any)
	case *map[string]Value:
		*p, err = v.Entries()
	case *map[string]any:
		if v.kind != KindMap {
			return out, v.mismatch("map[string]any")
		}
		*p = v.Any().(map[string]any)
	default:
		return out, &protocol.TypeMismatchError{
			Want: fmt.Sprintf("%T", out),
			Got:  v.Describe() + " (unsupported target)",
		}
	}
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func sliceOf[E any](v Value, want string, get func(Value) (E, error)) ([]E, error) {
	if v.kind != KindArray {
		return nil, v.mismatch(want)
	}
	out := make([]E, len(v.items))
	for i, item := range v.items {
		e, err := get(item)
		if err != nil {
			return nil, &protocol.TypeMismatchError{Want: want, Got: fmt.Sprintf("array with %s at [%d]", item.Describe(), i)}
		}
		out[i] = e
	}
	return out, nil
}
