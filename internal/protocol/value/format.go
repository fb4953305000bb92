package value

import (
	"strconv"
	"strings"
)

const indentUnit = "    "

// Format renders v as an indented tree. Map entries go one per line; binary
// payloads are elided as "(bin)".
func Format(v Value) string {
	var sb strings.Builder
	writeValue(&sb, v, 0)
	return sb.String()
}

func writeValue(sb *strings.Builder, v Value, level int) {
	switch v.kind {
	case KindNull:
		sb.WriteString("null")
	case KindBool:
		sb.WriteString(strconv.FormatBool(v.b))
	case KindUint:
		sb.WriteString(strconv.FormatUint(v.u, 10))
	case KindInt:
		sb.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat32:
		sb.WriteString(strconv.FormatFloat(v.f, 'g', -1, 32))
	case KindFloat64:
		sb.WriteString(strconv.FormatFloat(v.f, 'g', -1, 64))
	case KindString:
		sb.WriteString(strconv.Quote(v.s))
	case KindBinary:
		sb.WriteString("(bin)")
	case KindExt:
		sb.WriteString("(ext)")
	case KindArray:
		sb.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeValue(sb, item, level+1)
		}
		sb.WriteByte(']')
	case KindMap:
		for _, k := range v.keys {
			sb.WriteByte('\n')
			sb.WriteString(strings.Repeat(indentUnit, level))
			sb.WriteString(k)
			sb.WriteString(": ")
			writeValue(sb, v.entries[k], level+1)
		}
	}
}
