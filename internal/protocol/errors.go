package protocol

import (
	"errors"
	"fmt"
)

// ErrProtocol matches every structural violation of the bridge reply contract.
var ErrProtocol = errors.New("protocol: malformed reply")

var (
	ErrOddFrameCount            = newProtocolError("odd frame count")
	ErrTooManyFrames            = newProtocolError("too many frames")
	ErrFrameTooLarge            = newProtocolError("frame too large")
	ErrMissingField             = newProtocolError("missing header field")
	ErrInvalidHeaderField       = newProtocolError("invalid header field")
	ErrUnknownContentKind       = newProtocolError("unknown content kind")
	ErrUnknownDtype             = newProtocolError("unknown dtype")
	ErrInvalidShape             = newProtocolError("invalid shape")
	ErrShapeOverflow            = newProtocolError("shape product overflows")
	ErrInvalidContent           = newProtocolError("invalid content frame")
	ErrArrayLengthMismatch      = newProtocolError("array length mismatch")
	ErrDuplicateStructuredBlock = newProtocolError("duplicate structured block")
	ErrDuplicateArrayPath       = newProtocolError("duplicate array path")
	ErrMalformedValue           = newProtocolError("malformed msgpack value")
)

// ErrTypeMismatch is returned by typed accessors when the requested type does not
// match the encoded or declared one. It never invalidates the owning bundle.
var ErrTypeMismatch = errors.New("protocol: type mismatch")

type protocolError struct {
	msg string
}

func newProtocolError(msg string) error {
	return &protocolError{msg: msg}
}

func (e *protocolError) Error() string {
	return "protocol: " + e.msg
}

func (e *protocolError) Is(target error) bool {
	return target == ErrProtocol
}

// MissingFieldError indicates a required header field was not present.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("protocol: missing required header field %q", e.Field)
}

func (e *MissingFieldError) Is(target error) bool {
	return target == ErrMissingField || target == ErrProtocol
}

// UnknownContentKindError carries the content tag that was not recognized.
type UnknownContentKindError struct {
	Tag string
}

func (e *UnknownContentKindError) Error() string {
	return fmt.Sprintf("protocol: unknown data content %q", e.Tag)
}

func (e *UnknownContentKindError) Is(target error) bool {
	return target == ErrUnknownContentKind || target == ErrProtocol
}

// UnknownDtypeError carries the dtype name that could not be normalized.
type UnknownDtypeError struct {
	Dtype string
}

func (e *UnknownDtypeError) Error() string {
	return fmt.Sprintf("protocol: unknown dtype %q", e.Dtype)
}

func (e *UnknownDtypeError) Is(target error) bool {
	return target == ErrUnknownDtype || target == ErrProtocol
}

// TypeMismatchError describes a failed typed access.
type TypeMismatchError struct {
	Path string
	Want string
	Got  string
}

func (e *TypeMismatchError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("protocol: type mismatch: want %s, got %s", e.Want, e.Got)
	}
	return fmt.Sprintf("protocol: type mismatch at %q: want %s, got %s", e.Path, e.Want, e.Got)
}

func (e *TypeMismatchError) Is(target error) bool {
	return target == ErrTypeMismatch
}
