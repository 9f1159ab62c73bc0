// Package loader reads firmware, kernel and initrd images and decides where
// they live in guest physical memory.
package loader

import (
	"bytes"
	"compress/gzip"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
)

var ErrEmptyImage = errors.New("loader: image is empty")

// Segment is a span of bytes to be copied to a physical address.
type Segment struct {
	Addr uint64
	Data []byte
}

// End returns the first address past the segment.
func (s Segment) End() uint64 { return s.Addr + uint64(len(s.Data)) }

// Image is a loadable program: its segments and the address execution
// starts at.
type Image struct {
	Format   string
	Segments []Segment
	Entry    uint64
}

// Start returns the lowest address the image occupies.
func (i *Image) Start() uint64 {
	if len(i.Segments) == 0 {
		return 0
	}
	start := i.Segments[0].Addr
	for _, s := range i.Segments[1:] {
		start = min(start, s.Addr)
	}
	return start
}

// End returns the first address past the highest segment.
func (i *Image) End() uint64 {
	var end uint64
	for _, s := range i.Segments {
		end = max(end, s.End())
	}
	return end
}

// Size returns the number of bytes the image places in memory.
func (i *Image) Size() uint64 {
	var n uint64
	for _, s := range i.Segments {
		n += uint64(len(s.Data))
	}
	return n
}

// Load reads an image. ELF files are placed at their physical load
// addresses; flat images, optionally gzip-compressed, are placed at addr and
// entered at addr.
func Load(reader io.ReaderAt, size int64, addr uint64) (*Image, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: invalid size %d", ErrEmptyImage, size)
	}

	payload := make([]byte, size)
	n, err := reader.ReadAt(payload, 0)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read image: %w", err)
	}
	payload = payload[:n]
	if len(payload) == 0 {
		return nil, ErrEmptyImage
	}

	if bytes.HasPrefix(payload, []byte(elf.ELFMAG)) {
		return loadELF(payload)
	}

	format := "flat"
	// Check if gzip compressed
	if len(payload) >= 2 && payload[0] == 0x1f && payload[1] == 0x8b {
		decompressed, err := decompressGzip(payload)
		if err != nil {
			return nil, fmt.Errorf("decompress image: %w", err)
		}
		payload = decompressed
		format = "gzip"
	}

	return &Image{
		Format:   format,
		Segments: []Segment{{Addr: addr, Data: payload}},
		Entry:    addr,
	}, nil
}

// LoadFile opens path and loads it with Load.
func LoadFile(path string, addr uint64) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	img, err := Load(f, info.Size(), addr)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return img, nil
}

func loadELF(payload []byte) (*Image, error) {
	f, err := elf.NewFile(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("parse elf: %w", err)
	}
	defer f.Close()

	if f.Machine != elf.EM_RISCV {
		return nil, fmt.Errorf("elf machine %s is not RISC-V", f.Machine)
	}

	img := &Image{Format: "elf", Entry: f.Entry}
	for idx, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Memsz == 0 {
			continue
		}
		if prog.Filesz > prog.Memsz {
			return nil, fmt.Errorf("elf segment %d: file size 0x%x exceeds memory size 0x%x", idx, prog.Filesz, prog.Memsz)
		}
		data := make([]byte, prog.Memsz)
		if _, err := prog.ReadAt(data[:prog.Filesz], 0); err != nil && err != io.EOF {
			return nil, fmt.Errorf("read elf segment %d: %w", idx, err)
		}
		img.Segments = append(img.Segments, Segment{Addr: prog.Paddr, Data: data})
	}
	if len(img.Segments) == 0 {
		return nil, fmt.Errorf("%w: elf has no loadable segments", ErrEmptyImage)
	}
	return img, nil
}

// decompressGzip decompresses a gzip-compressed byte slice.
func decompressGzip(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}
