// Package header parses the msgpack header frame that leads every
// (header, content) pair of a bridge reply.
package header

import (
	"errors"
	"fmt"
	"math"

	"github.com/danmuck/kbclient/internal/protocol"
	"github.com/danmuck/kbclient/internal/protocol/frame"
	"github.com/danmuck/kbclient/internal/protocol/ndarray"
	"github.com/danmuck/kbclient/internal/protocol/value"
)

// Header keys.
const (
	KeySource   = "source"
	KeyContent  = "content"
	KeyMetadata = "metadata"
	KeyShape    = "shape"
	KeyDtype    = "dtype"
	KeyPath     = "path"
)

// Content tags.
const (
	ContentMsgpack   = "msgpack"
	ContentArray     = "array"
	ContentImageData = "ImageData"
)

// Kind classifies the content frame that follows a header.
type Kind uint8

const (
	Structured Kind = iota + 1
	Array
)

func (k Kind) String() string {
	switch k {
	case Structured:
		return "structured"
	case Array:
		return "array"
	default:
		return "unknown"
	}
}

// Header is the decoded header frame. Array fields are zero for structured
// content.
type Header struct {
	Source   string
	Content  string
	Kind     Kind
	Metadata map[string]value.Value

	Shape  []int
	Dtype  ndarray.Dtype
	Path   string
	Count  int
	NBytes int
}

// ClassifyContent maps a content tag onto its Kind.
func ClassifyContent(tag string) (Kind, error) {
	switch tag {
	case ContentMsgpack:
		return Structured, nil
	case ContentArray, ContentImageData:
		return Array, nil
	default:
		return 0, &protocol.UnknownContentKindError{Tag: tag}
	}
}

// Parse decodes and validates a header frame.
func Parse(f frame.Frame) (Header, error) {
	root, err := value.DecodeMap(f)
	if err != nil {
		return Header{}, err
	}

	var h Header
	if h.Source, err = requiredString(root, KeySource); err != nil {
		return Header{}, err
	}
	if h.Content, err = requiredString(root, KeyContent); err != nil {
		return Header{}, err
	}
	if h.Kind, err = ClassifyContent(h.Content); err != nil {
		return Header{}, err
	}
	if h.Metadata, err = metadata(root); err != nil {
		return Header{}, err
	}
	if h.Kind == Structured {
		return h, nil
	}

	if h.Path, err = requiredString(root, KeyPath); err != nil {
		return Header{}, err
	}
	name, err := requiredString(root, KeyDtype)
	if err != nil {
		return Header{}, err
	}
	if h.Dtype, err = ndarray.ParseDtype(name); err != nil {
		return Header{}, err
	}
	if h.Shape, err = shape(root); err != nil {
		return Header{}, err
	}
	if h.Count, err = ndarray.Count(h.Shape); err != nil {
		return Header{}, fmt.Errorf("%w (path %q)", err, h.Path)
	}
	if h.NBytes, err = ndarray.ByteSize(h.Count, h.Dtype); err != nil {
		return Header{}, err
	}
	return h, nil
}

func requiredString(root value.Value, key string) (string, error) {
	raw, ok := root.Get(key)
	if !ok {
		return "", &protocol.MissingFieldError{Field: key}
	}
	s, err := raw.Str()
	if err != nil {
		return "", invalidField(key, err)
	}
	return s, nil
}

func metadata(root value.Value) (map[string]value.Value, error) {
	raw, ok := root.Get(KeyMetadata)
	if !ok || raw.IsNull() {
		return nil, nil
	}
	entries, err := raw.Entries()
	if err != nil {
		return nil, invalidField(KeyMetadata, err)
	}
	out := make(map[string]value.Value, len(entries))
	for k, v := range entries {
		out[k] = v
	}
	return out, nil
}

func shape(root value.Value) ([]int, error) {
	raw, ok := root.Get(KeyShape)
	if !ok {
		return nil, &protocol.MissingFieldError{Field: KeyShape}
	}
	items, err := raw.Items()
	if err != nil {
		return nil, invalidField(KeyShape, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: empty shape", protocol.ErrInvalidShape)
	}
	out := make([]int, len(items))
	for i, item := range items {
		var n uint64
		switch item.Kind() {
		case value.KindUint:
			n, _ = item.Uint64()
		case value.KindInt:
			v, _ := item.Int64()
			return nil, fmt.Errorf("%w: negative dimension %d at axis %d", protocol.ErrInvalidShape, v, i)
		default:
			return nil, fmt.Errorf("%w: axis %d is %s", protocol.ErrInvalidShape, i, item.Describe())
		}
		if n > math.MaxInt {
			return nil, fmt.Errorf("%w: dimension %d at axis %d", protocol.ErrShapeOverflow, n, i)
		}
		out[i] = int(n)
	}
	return out, nil
}

func invalidField(key string, err error) error {
	var mismatch *protocol.TypeMismatchError
	if errors.As(err, &mismatch) {
		return fmt.Errorf("%w: %q is %s, want %s", protocol.ErrInvalidHeaderField, key, mismatch.Got, mismatch.Want)
	}
	return fmt.Errorf("%w: %q: %v", protocol.ErrInvalidHeaderField, key, err)
}
