package bridge

import (
	"fmt"
	"strings"

	"github.com/danmuck/kbclient/internal/protocol/frame"
	"github.com/danmuck/kbclient/internal/protocol/header"
	"github.com/danmuck/kbclient/internal/protocol/value"
)

const messageSeparator = "\n----------new message----------\n"

// Summary renders, per source, the bytes received and a
// "path, container, container shape, type" row for every metadata entry,
// structured field and array.
func Summary(data Data) string {
	var sb strings.Builder
	for _, src := range data.Sources() {
		b := data[src]
		fmt.Fprintf(&sb, "source: %s\n", src)
		fmt.Fprintf(&sb, "Total bytes received: %d\n\n", b.BytesReceived())
		sb.WriteString("path, container, container shape, type\n")

		sb.WriteString("\nmetadata\n" + strings.Repeat("-", 8) + "\n")
		for _, key := range b.MetadataKeys() {
			writeValueRow(&sb, key, b.metadata[key])
		}

		sb.WriteString("\ndata\n" + strings.Repeat("-", 4) + "\n")
		for _, path := range b.Paths() {
			writeValueRow(&sb, path, b.fields[path])
		}

		sb.WriteString("\narray\n" + strings.Repeat("-", 5) + "\n")
		for _, path := range b.ArrayPaths() {
			v := b.arrays[path]
			fmt.Fprintf(&sb, "%s, array, %s, %s\n", path, shapeString(v.Shape()), v.Dtype())
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func writeValueRow(sb *strings.Builder, path string, v value.Value) {
	fmt.Fprintf(sb, "%s, %s, %s, %s", path, v.Container(), shapeString(v.Shape()), v.ElemType())
	if c := v.Container(); c == "map" || c == "ext" {
		sb.WriteString(" (unexpected container)")
	}
	sb.WriteString("\n")
}

func shapeString(shape []int) string {
	parts := make([]string, len(shape))
	for i, n := range shape {
		parts[i] = fmt.Sprint(n)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Dump renders every frame of reply as an indented msgpack tree. Array
// payloads are shown by size only. Frames that do not decode are reported
// inline rather than failing the dump.
func Dump(reply frame.RawReply) string {
	var sb strings.Builder
	rawNext := false
	for _, f := range reply {
		sb.WriteString(messageSeparator)
		if rawNext {
			fmt.Fprintf(&sb, "(array payload, %d bytes)", f.Len())
			rawNext = false
			continue
		}
		v, err := value.Decode(f)
		if err != nil {
			fmt.Fprintf(&sb, "(undecodable frame, %d bytes: %v)", f.Len(), err)
			continue
		}
		sb.WriteString(value.Format(v))
		if h, err := header.Parse(f); err == nil && h.Kind == header.Array {
			rawNext = true
		}
	}
	return sb.String()
}
