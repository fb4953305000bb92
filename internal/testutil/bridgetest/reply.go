// Package bridgetest builds bridge replies and runs an in-process bridge
// server for tests.
package bridgetest

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

// Marshal encodes v or fails the test.
func Marshal(t testing.TB, v any) []byte {
	t.Helper()
	b, err := msgpack.Marshal(v)
	if err != nil {
		t.Fatalf("bridgetest marshal: %v", err)
	}
	return b
}

// StructuredPair returns a (header, content) pair carrying fields as a
// msgpack map. metadata may be nil.
func StructuredPair(t testing.TB, source string, fields map[string]any, metadata map[string]any) [][]byte {
	t.Helper()
	hdr := map[string]any{"source": source, "content": "msgpack"}
	if metadata != nil {
		hdr["metadata"] = metadata
	}
	return [][]byte{Marshal(t, hdr), Marshal(t, fields)}
}

// ArrayPair returns a (header, content) pair whose content is payload.
func ArrayPair(t testing.TB, source, path, dtype string, shape []int, payload []byte) [][]byte {
	t.Helper()
	hdr := map[string]any{
		"source":  source,
		"content": "array",
		"path":    path,
		"dtype":   dtype,
		"shape":   shape,
	}
	return [][]byte{Marshal(t, hdr), payload}
}

// Reply concatenates pairs into one multipart message.
func Reply(pairs ...[][]byte) [][]byte {
	var out [][]byte
	for _, p := range pairs {
		out = append(out, p...)
	}
	return out
}

// TrainMetadata is the metadata block bridge servers attach to every source.
func TrainMetadata(source string, tid uint64) map[string]any {
	return map[string]any{
		"source":         source,
		"timestamp.tid":  tid,
		"timestamp.sec":  uint64(1700000000),
		"timestamp.frac": "000000000000000000",
	}
}

func Float32s(vals ...float32) []byte {
	b := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v))
	}
	return b
}

func Uint16s(vals ...uint16) []byte {
	b := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint16(b[2*i:], v)
	}
	return b
}
