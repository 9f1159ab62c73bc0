package fdt

import (
	"encoding/binary"
	"errors"
)

const (
	fdtMagic       = 0xd00dfeed
	fdtVersion     = 17
	fdtLastCompVer = 16
	fdtHeaderSize  = 0x28

	fdtBeginNode = 0x00000001
	fdtEndNode   = 0x00000002
	fdtProp      = 0x00000003
	fdtNop       = 0x00000004
	fdtEnd       = 0x00000009
)

var errUnbalanced = errors.New("fdt: unbalanced begin/end node")

// Builder constructs a Flattened Device Tree blob token by token.
type Builder struct {
	structure []byte
	strings   []byte
	stringOff map[string]uint32
	depth     int
}

// NewBuilder creates a new FDT builder.
func NewBuilder() *Builder {
	return &Builder{
		stringOff: make(map[string]uint32),
	}
}

// BeginNode starts a new node with the given name.
func (b *Builder) BeginNode(name string) {
	b.appendU32(fdtBeginNode)
	b.appendBytes(append([]byte(name), 0))
	b.depth++
}

// EndNode ends the current node.
func (b *Builder) EndNode() {
	b.appendU32(fdtEndNode)
	b.depth--
}

// AddProperty adds a property with an already encoded value.
func (b *Builder) AddProperty(name string, data []byte) {
	b.appendU32(fdtProp)
	b.appendU32(uint32(len(data)))
	b.appendU32(b.addString(name))
	b.appendBytes(data)
}

// Build generates the final FDT blob.
func (b *Builder) Build() ([]byte, error) {
	if b.depth != 0 {
		return nil, errUnbalanced
	}
	b.appendU32(fdtEnd)

	memRsvmapOff := uint32(fdtHeaderSize)
	memRsvmapSize := uint32(16) // terminating all-zero entry
	structOff := memRsvmapOff + memRsvmapSize
	structSize := uint32(len(b.structure))
	stringsOff := structOff + structSize
	stringsSize := uint32(len(b.strings))
	totalSize := stringsOff + stringsSize

	blob := make([]byte, totalSize)
	header := blob[:fdtHeaderSize]
	binary.BigEndian.PutUint32(header[0:], fdtMagic)
	binary.BigEndian.PutUint32(header[4:], totalSize)
	binary.BigEndian.PutUint32(header[8:], structOff)
	binary.BigEndian.PutUint32(header[12:], stringsOff)
	binary.BigEndian.PutUint32(header[16:], memRsvmapOff)
	binary.BigEndian.PutUint32(header[20:], fdtVersion)
	binary.BigEndian.PutUint32(header[24:], fdtLastCompVer)
	binary.BigEndian.PutUint32(header[28:], 0)
	binary.BigEndian.PutUint32(header[32:], stringsSize)
	binary.BigEndian.PutUint32(header[36:], structSize)

	copy(blob[structOff:], b.structure)
	copy(blob[stringsOff:], b.strings)

	return blob, nil
}

func (b *Builder) appendU32(v uint32) {
	b.structure = binary.BigEndian.AppendUint32(b.structure, v)
}

func (b *Builder) appendBytes(data []byte) {
	b.structure = append(b.structure, data...)
	for len(b.structure)%4 != 0 {
		b.structure = append(b.structure, 0)
	}
}

func (b *Builder) addString(name string) uint32 {
	if off, ok := b.stringOff[name]; ok {
		return off
	}
	off := uint32(len(b.strings))
	b.stringOff[name] = off
	b.strings = append(b.strings, name...)
	b.strings = append(b.strings, 0)
	return off
}
