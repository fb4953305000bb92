package bridge

import (
	"fmt"

	"github.com/danmuck/kbclient/internal/protocol"
	"github.com/danmuck/kbclient/internal/protocol/frame"
	"github.com/danmuck/kbclient/internal/protocol/header"
	"github.com/danmuck/kbclient/internal/protocol/ndarray"
	"github.com/danmuck/kbclient/internal/protocol/value"
)

// block is the run of consecutive pairs for one source currently being
// aggregated.
type block struct {
	source     string
	structured bool
}

// aggregator folds (header, content) pairs into one bundle per source.
type aggregator struct {
	data    Data
	current *block
}

// Decode classifies and aggregates a raw reply. Any protocol error discards
// the whole reply; no partial Data is returned.
func Decode(reply frame.RawReply, limits frame.Limits) (Data, error) {
	pairs, err := frame.Pairs(reply, limits)
	if err != nil {
		return nil, err
	}
	agg := &aggregator{data: make(Data)}
	for _, p := range pairs {
		if err := agg.add(p); err != nil {
			return nil, fmt.Errorf("pair %d: %w", p.Index, err)
		}
	}
	return agg.data, nil
}

func (a *aggregator) add(p frame.Pair) error {
	h, err := header.Parse(p.Header)
	if err != nil {
		return err
	}
	switch h.Kind {
	case header.Structured:
		return a.addStructured(h, p)
	case header.Array:
		return a.addArray(h, p)
	default:
		return &protocol.UnknownContentKindError{Tag: h.Content}
	}
}

// enter switches the current block to source, starting a new block when the
// source changes or when newStructured would be a second structured part of
// the same block.
func (a *aggregator) enter(source string, newStructured bool) (*SourceBundle, error) {
	if a.current != nil && a.current.source == source {
		if newStructured && a.current.structured {
			return nil, fmt.Errorf("%w: source %q sent two structured blocks back to back",
				protocol.ErrDuplicateStructuredBlock, source)
		}
	} else {
		a.current = &block{source: source}
	}
	if newStructured {
		a.current.structured = true
	}
	b, ok := a.data[source]
	if !ok {
		b = newSourceBundle(source)
		a.data[source] = b
	}
	return b, nil
}

func (a *aggregator) addStructured(h header.Header, p frame.Pair) error {
	content, err := value.DecodeMap(p.Content)
	if err != nil {
		return fmt.Errorf("%w: source %q: %w", protocol.ErrInvalidContent, h.Source, err)
	}
	b, err := a.enter(h.Source, true)
	if err != nil {
		return err
	}
	entries, _ := content.Entries()
	for _, key := range content.Keys() {
		if _, dup := b.fields[key]; dup {
			return fmt.Errorf("%w: source %q repeats field %q",
				protocol.ErrDuplicateStructuredBlock, h.Source, key)
		}
		b.fields[key] = entries[key]
	}
	mergeMetadata(b, h.Metadata)
	b.adopt(p.Header)
	b.adopt(p.Content)
	return nil
}

func (a *aggregator) addArray(h header.Header, p frame.Pair) error {
	b, err := a.enter(h.Source, false)
	if err != nil {
		return err
	}
	if _, dup := b.arrays[h.Path]; dup {
		return fmt.Errorf("%w: source %q path %q", protocol.ErrDuplicateArrayPath, h.Source, h.Path)
	}
	b.adopt(p.Header)
	idx := b.adopt(p.Content)
	view, err := ndarray.NewView(idx, 0, p.Content.Len(), h.Shape, h.Dtype, h.Path)
	if err != nil {
		return err
	}
	b.arrays[h.Path] = view
	mergeMetadata(b, h.Metadata)
	return nil
}

func mergeMetadata(b *SourceBundle, md map[string]value.Value) {
	for k, v := range md {
		b.metadata[k] = v
	}
}
