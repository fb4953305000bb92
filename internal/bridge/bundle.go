package bridge

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/danmuck/kbclient/internal/protocol/frame"
	"github.com/danmuck/kbclient/internal/protocol/ndarray"
	"github.com/danmuck/kbclient/internal/protocol/value"
)

// MetadataTrainID is the metadata key carrying the train id.
const MetadataTrainID = "timestamp.tid"

// SourceBundle is everything one reply carried for a single source. It owns
// the frames its array views point into; views stay valid until Release.
type SourceBundle struct {
	source string

	frames   []frame.Frame
	metadata map[string]value.Value
	fields   map[string]value.Value
	arrays   map[string]ndarray.View
	bytes    int

	// mu guards the arena and maps against a concurrent Release.
	mu       sync.RWMutex
	released atomic.Bool
}

func newSourceBundle(source string) *SourceBundle {
	return &SourceBundle{
		source:   source,
		metadata: make(map[string]value.Value),
		fields:   make(map[string]value.Value),
		arrays:   make(map[string]ndarray.View),
	}
}

func (b *SourceBundle) Source() string { return b.source }

// adopt appends f to the arena and returns its index.
func (b *SourceBundle) adopt(f frame.Frame) int {
	b.frames = append(b.frames, f)
	b.bytes += f.Len()
	return len(b.frames) - 1
}

// BytesReceived is the total size of the header and content frames of this
// source.
func (b *SourceBundle) BytesReceived() int {
	return b.bytes
}

// Released reports whether Release was called.
func (b *SourceBundle) Released() bool {
	return b.released.Load()
}

// Release drops the frame arena. Every accessor fails with ErrBundleReleased
// afterwards, so no view can outlive the bytes it points into.
func (b *SourceBundle) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released.Swap(true) {
		return
	}
	b.frames = nil
	b.metadata = nil
	b.fields = nil
	b.arrays = nil
}

// Paths lists structured field paths in sorted order.
func (b *SourceBundle) Paths() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.Released() {
		return nil
	}
	return sortedKeys(b.fields)
}

// ArrayPaths lists array paths in sorted order.
func (b *SourceBundle) ArrayPaths() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.Released() {
		return nil
	}
	return sortedKeys(b.arrays)
}

func (b *SourceBundle) MetadataKeys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.Released() {
		return nil
	}
	return sortedKeys(b.metadata)
}

// Value returns the raw decoded value of a structured field.
func (b *SourceBundle) Value(path string) (value.Value, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.Released() {
		return value.Value{}, ErrBundleReleased
	}
	v, ok := lookup(b.fields, path)
	if !ok {
		return value.Value{}, &NotFoundError{Err: ErrFieldNotFound, Source: b.source, Path: path}
	}
	return v, nil
}

// MetadataValue returns the raw decoded value of a metadata key.
func (b *SourceBundle) MetadataValue(key string) (value.Value, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.Released() {
		return value.Value{}, ErrBundleReleased
	}
	v, ok := lookup(b.metadata, key)
	if !ok {
		return value.Value{}, &NotFoundError{Err: ErrFieldNotFound, Source: b.source, Path: key}
	}
	return v, nil
}

// View returns the array view registered under path.
func (b *SourceBundle) View(path string) (ndarray.View, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.view(path)
}

func (b *SourceBundle) view(path string) (ndarray.View, error) {
	if b.Released() {
		return ndarray.View{}, ErrBundleReleased
	}
	v, ok := b.arrays[path]
	if !ok {
		return ndarray.View{}, &NotFoundError{Err: ErrArrayNotFound, Source: b.source, Path: path}
	}
	return v, nil
}

// Shape returns the declared shape of an array.
func (b *SourceBundle) Shape(path string) ([]int, bool) {
	v, err := b.View(path)
	if err != nil {
		return nil, false
	}
	return v.Shape(), true
}

// Dtype returns the declared dtype of an array.
func (b *SourceBundle) Dtype(path string) (ndarray.Dtype, bool) {
	v, err := b.View(path)
	if err != nil {
		return ndarray.Invalid, false
	}
	return v.Dtype(), true
}

// TrainID reads timestamp.tid from the metadata.
func (b *SourceBundle) TrainID() (uint64, bool) {
	v, err := b.MetadataValue(MetadataTrainID)
	if err != nil {
		return 0, false
	}
	tid, err := v.Uint64()
	if err != nil {
		return 0, false
	}
	return tid, true
}

// lookup matches path exactly first, then walks dotted segments through
// nested maps.
func lookup(m map[string]value.Value, path string) (value.Value, bool) {
	if v, ok := m[path]; ok {
		return v, true
	}
	head, rest, ok := strings.Cut(path, ".")
	for ok {
		if v, found := m[head]; found {
			if inner, err := v.Entries(); err == nil {
				if got, found := lookup(inner, rest); found {
					return got, true
				}
			}
		}
		var next string
		next, rest, ok = strings.Cut(rest, ".")
		head = head + "." + next
	}
	return value.Value{}, false
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Data maps source names to their bundles for one reply.
type Data map[string]*SourceBundle

// Sources lists source names in sorted order.
func (d Data) Sources() []string {
	return sortedKeys(d)
}

func (d Data) BytesReceived() int {
	n := 0
	for _, b := range d {
		n += b.BytesReceived()
	}
	return n
}

// TrainID returns the first train id found in sorted source order.
func (d Data) TrainID() (uint64, bool) {
	for _, src := range d.Sources() {
		if tid, ok := d[src].TrainID(); ok {
			return tid, true
		}
	}
	return 0, false
}

// Release releases every bundle.
func (d Data) Release() {
	for _, b := range d {
		b.Release()
	}
}
