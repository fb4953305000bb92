package bridge

import (
	"errors"
	"fmt"
)

var (
	ErrFieldNotFound  = errors.New("bridge: field not found")
	ErrArrayNotFound  = errors.New("bridge: array not found")
	ErrBundleReleased = errors.New("bridge: bundle released")
)

// NotFoundError names the source and path of a failed lookup. It unwraps to
// ErrFieldNotFound or ErrArrayNotFound.
type NotFoundError struct {
	Err    error
	Source string
	Path   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%v: %q in source %q", e.Err, e.Path, e.Source)
}

func (e *NotFoundError) Unwrap() error { return e.Err }
