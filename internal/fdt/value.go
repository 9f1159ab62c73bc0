package fdt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// Kind identifies which member of a Value is populated.
type Kind uint8

const (
	KindEmpty Kind = iota
	KindString
	KindStrings
	KindCells
	KindBytes
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindString:
		return "string"
	case KindStrings:
		return "strings"
	case KindCells:
		return "cells"
	case KindBytes:
		return "bytes"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Value is a device-tree property value. Exactly one representation is held;
// the zero Value is an empty (presence-only) property.
type Value struct {
	kind    Kind
	strings []string
	cells   []uint32
	raw     []byte
}

// Empty returns a presence-only value.
func Empty() Value { return Value{} }

// String returns a single NUL-terminated string value.
func String(s string) Value {
	return Value{kind: KindString, strings: []string{s}}
}

// Strings returns a string-list value.
func Strings(values ...string) Value {
	return Value{kind: KindStrings, strings: append([]string(nil), values...)}
}

// U32 returns a single-cell value.
func U32(v uint32) Value { return Cells(v) }

// U64 returns a two-cell value holding v high word first.
func U64(v uint64) Value { return Cells(uint32(v>>32), uint32(v)) }

// Cells returns an array of big-endian 32-bit cells.
func Cells(values ...uint32) Value {
	return Value{kind: KindCells, cells: append([]uint32(nil), values...)}
}

// Bytes returns an opaque value. Values read back from a blob use this kind.
func Bytes(data []byte) Value {
	return Value{kind: KindBytes, raw: append([]byte(nil), data...)}
}

// Kind reports the populated representation.
func (v Value) Kind() Kind { return v.kind }

// Cells returns the value as big-endian cells. Opaque values are decoded when
// their length is a multiple of four.
func (v Value) Cells() ([]uint32, bool) {
	switch v.kind {
	case KindCells:
		return append([]uint32(nil), v.cells...), true
	case KindBytes:
		if len(v.raw)%4 != 0 {
			return nil, false
		}
		out := make([]uint32, len(v.raw)/4)
		for i := range out {
			out[i] = binary.BigEndian.Uint32(v.raw[i*4:])
		}
		return out, true
	default:
		return nil, false
	}
}

// U32 returns the value of a single-cell property.
func (v Value) U32() (uint32, bool) {
	cells, ok := v.Cells()
	if !ok || len(cells) != 1 {
		return 0, false
	}
	return cells[0], true
}

// Strings returns the value as a string list.
func (v Value) Strings() ([]string, bool) {
	switch v.kind {
	case KindString, KindStrings:
		return append([]string(nil), v.strings...), true
	case KindBytes:
		if len(v.raw) == 0 || v.raw[len(v.raw)-1] != 0 {
			return nil, false
		}
		return strings.Split(string(v.raw[:len(v.raw)-1]), "\x00"), true
	default:
		return nil, false
	}
}

// Str returns the value of a single-string property.
func (v Value) Str() (string, bool) {
	list, ok := v.Strings()
	if !ok || len(list) != 1 {
		return "", false
	}
	return list[0], true
}

// Encode returns the on-blob representation of the value.
func (v Value) Encode() []byte {
	switch v.kind {
	case KindString, KindStrings:
		var buf bytes.Buffer
		for _, s := range v.strings {
			buf.WriteString(s)
			buf.WriteByte(0)
		}
		return buf.Bytes()
	case KindCells:
		data := make([]byte, len(v.cells)*4)
		for i, c := range v.cells {
			binary.BigEndian.PutUint32(data[i*4:], c)
		}
		return data
	case KindBytes:
		return append([]byte(nil), v.raw...)
	default:
		return nil
	}
}

// Equal reports whether two values encode to the same bytes.
func (v Value) Equal(o Value) bool {
	return bytes.Equal(v.Encode(), o.Encode())
}

func (v Value) String() string {
	switch v.kind {
	case KindEmpty:
		return "<empty>"
	case KindString, KindStrings:
		quoted := make([]string, len(v.strings))
		for i, s := range v.strings {
			quoted[i] = fmt.Sprintf("%q", s)
		}
		return strings.Join(quoted, ", ")
	case KindCells:
		parts := make([]string, len(v.cells))
		for i, c := range v.cells {
			parts[i] = fmt.Sprintf("0x%x", c)
		}
		return "<" + strings.Join(parts, " ") + ">"
	default:
		return fmt.Sprintf("[% x]", v.raw)
	}
}
