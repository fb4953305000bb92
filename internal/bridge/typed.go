package bridge

import (
	"errors"

	"github.com/danmuck/kbclient/internal/protocol"
	"github.com/danmuck/kbclient/internal/protocol/ndarray"
	"github.com/danmuck/kbclient/internal/protocol/value"
)

// Field reads a structured field as T. The encoded type must match T; a
// mismatch leaves the bundle untouched.
func Field[T any](b *SourceBundle, path string) (T, error) {
	var zero T
	v, err := b.Value(path)
	if err != nil {
		return zero, err
	}
	out, err := value.As[T](v)
	if err != nil {
		return zero, withPath(err, path)
	}
	return out, nil
}

// Metadata reads a metadata entry as T.
func Metadata[T any](b *SourceBundle, key string) (T, error) {
	var zero T
	v, err := b.MetadataValue(key)
	if err != nil {
		return zero, err
	}
	out, err := value.As[T](v)
	if err != nil {
		return zero, withPath(err, key)
	}
	return out, nil
}

// Array exposes an array payload as []T of length product(shape). T must be
// the declared dtype. The slice aliases the bundle's frame when possible and
// must not be used after Release. Array is safe to call concurrently with
// Release; it either returns the data or ErrBundleReleased.
func Array[T ndarray.Element](b *SourceBundle, path string) ([]T, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	view, err := b.view(path)
	if err != nil {
		return nil, err
	}
	return ndarray.Slice[T](view, b.frames[view.Frame])
}

func withPath(err error, path string) error {
	var mismatch *protocol.TypeMismatchError
	if errors.As(err, &mismatch) && mismatch.Path == "" {
		return &protocol.TypeMismatchError{Path: path, Want: mismatch.Want, Got: mismatch.Got}
	}
	return err
}
