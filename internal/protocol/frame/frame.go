package frame

import (
	"fmt"

	"github.com/danmuck/kbclient/internal/protocol"
)

// Frame is one opaque byte buffer of a multipart reply. It is treated as
// immutable once received.
type Frame []byte

// Len returns the frame size in bytes.
func (f Frame) Len() int {
	return len(f)
}

// RawReply is the ordered frame sequence received for one request.
type RawReply []Frame

// BytesReceived sums the frame sizes of the reply.
func (r RawReply) BytesReceived() int {
	total := 0
	for _, f := range r {
		total += len(f)
	}
	return total
}

// FromParts wraps transport frames without copying them.
func FromParts(parts [][]byte) RawReply {
	out := make(RawReply, len(parts))
	for i, p := range parts {
		out[i] = Frame(p)
	}
	return out
}

// Pair is one (header, content) unit of a reply.
type Pair struct {
	Index   int
	Header  Frame
	Content Frame
}

// Limits constrains reply decode memory use.
type Limits struct {
	MaxFrames     int
	MaxFrameBytes uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxFrames:     1 << 16,
		MaxFrameBytes: 4 << 30,
	}
}

// Pairs splits a reply into (header, content) pairs in arrival order. It does
// not look inside the frames.
func Pairs(reply RawReply, limits Limits) ([]Pair, error) {
	n := len(reply)
	if n%2 != 0 {
		return nil, fmt.Errorf("%w: got %d frames", protocol.ErrOddFrameCount, n)
	}
	if limits.MaxFrames > 0 && n > limits.MaxFrames {
		return nil, fmt.Errorf("%w: %d > %d", protocol.ErrTooManyFrames, n, limits.MaxFrames)
	}
	pairs := make([]Pair, 0, n/2)
	for i := 0; i < n; i += 2 {
		for _, f := range reply[i : i+2] {
			if limits.MaxFrameBytes > 0 && uint64(len(f)) > limits.MaxFrameBytes {
				return nil, fmt.Errorf("%w: %d bytes", protocol.ErrFrameTooLarge, len(f))
			}
		}
		pairs = append(pairs, Pair{Index: i / 2, Header: reply[i], Content: reply[i+1]})
	}
	return pairs, nil
}
