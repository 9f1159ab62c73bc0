package fdt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformed is returned for blobs that are not valid FDTs.
var ErrMalformed = errors.New("fdt: malformed blob")

// Header is the fixed header at the start of every blob.
type Header struct {
	Magic           uint32
	TotalSize       uint32
	OffDtStruct     uint32
	OffDtStrings    uint32
	OffMemRsvmap    uint32
	Version         uint32
	LastCompVersion uint32
	BootCPUIDPhys   uint32
	SizeDtStrings   uint32
	SizeDtStruct    uint32
}

// ReadHeader decodes and sanity checks the header of blob.
func ReadHeader(blob []byte) (Header, error) {
	var h Header
	if len(blob) < fdtHeaderSize {
		return h, fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformed, len(blob))
	}
	if err := binary.Read(bytes.NewReader(blob[:fdtHeaderSize]), binary.BigEndian, &h); err != nil {
		return h, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if h.Magic != fdtMagic {
		return h, fmt.Errorf("%w: bad magic 0x%08x", ErrMalformed, h.Magic)
	}
	if h.LastCompVersion > fdtVersion || h.Version < fdtLastCompVer {
		return h, fmt.Errorf("%w: unsupported version %d (compatible %d)", ErrMalformed, h.Version, h.LastCompVersion)
	}
	if uint64(h.TotalSize) > uint64(len(blob)) {
		return h, fmt.Errorf("%w: total size %d exceeds %d bytes", ErrMalformed, h.TotalSize, len(blob))
	}
	if uint64(h.OffDtStruct)+uint64(h.SizeDtStruct) > uint64(h.TotalSize) ||
		uint64(h.OffDtStrings)+uint64(h.SizeDtStrings) > uint64(h.TotalSize) {
		return h, fmt.Errorf("%w: block outside blob", ErrMalformed)
	}
	return h, nil
}

// Parse decodes blob into a node tree. Property values are returned as
// KindBytes since the blob carries no type information.
func Parse(blob []byte) (*Node, error) {
	h, err := ReadHeader(blob)
	if err != nil {
		return nil, err
	}
	p := &parser{
		structure: blob[h.OffDtStruct : h.OffDtStruct+h.SizeDtStruct],
		strings:   blob[h.OffDtStrings : h.OffDtStrings+h.SizeDtStrings],
	}
	return p.parse()
}

type parser struct {
	structure []byte
	strings   []byte
	off       int
}

func (p *parser) u32() (uint32, error) {
	if p.off+4 > len(p.structure) {
		return 0, fmt.Errorf("%w: truncated structure block at 0x%x", ErrMalformed, p.off)
	}
	v := binary.BigEndian.Uint32(p.structure[p.off:])
	p.off += 4
	return v, nil
}

func (p *parser) align() {
	p.off = (p.off + 3) &^ 3
}

func (p *parser) cstring(buf []byte, off int) (string, int, error) {
	if off < 0 || off >= len(buf) {
		return "", 0, fmt.Errorf("%w: string offset 0x%x out of range", ErrMalformed, off)
	}
	end := bytes.IndexByte(buf[off:], 0)
	if end < 0 {
		return "", 0, fmt.Errorf("%w: unterminated string at 0x%x", ErrMalformed, off)
	}
	return string(buf[off : off+end]), off + end + 1, nil
}

func (p *parser) parse() (*Node, error) {
	var (
		root  *Node
		stack []*Node
	)
	for {
		tok, err := p.u32()
		if err != nil {
			return nil, err
		}
		switch tok {
		case fdtBeginNode:
			name, next, err := p.cstring(p.structure, p.off)
			if err != nil {
				return nil, err
			}
			p.off = next
			p.align()
			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("%w: multiple root nodes", ErrMalformed)
				}
				root = NewRoot()
				stack = append(stack, root)
				continue
			}
			child, err := stack[len(stack)-1].AppendSubnode(name)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			stack = append(stack, child)
		case fdtEndNode:
			if len(stack) == 0 {
				return nil, fmt.Errorf("%w: unexpected end of node", ErrMalformed)
			}
			stack = stack[:len(stack)-1]
		case fdtProp:
			if len(stack) == 0 {
				return nil, fmt.Errorf("%w: property outside of a node", ErrMalformed)
			}
			size, err := p.u32()
			if err != nil {
				return nil, err
			}
			nameOff, err := p.u32()
			if err != nil {
				return nil, err
			}
			if uint64(p.off)+uint64(size) > uint64(len(p.structure)) {
				return nil, fmt.Errorf("%w: property value overruns structure block", ErrMalformed)
			}
			name, _, err := p.cstring(p.strings, int(nameOff))
			if err != nil {
				return nil, err
			}
			data := p.structure[p.off : p.off+int(size)]
			p.off += int(size)
			p.align()
			if size == 0 {
				stack[len(stack)-1].SetProp(name, Empty())
			} else {
				stack[len(stack)-1].SetProp(name, Bytes(data))
			}
		case fdtNop:
		case fdtEnd:
			if root == nil || len(stack) != 0 {
				return nil, fmt.Errorf("%w: end token inside a node", ErrMalformed)
			}
			return root, nil
		default:
			return nil, fmt.Errorf("%w: unknown token 0x%x at 0x%x", ErrMalformed, tok, p.off-4)
		}
	}
}
