// Package image is an in-memory machine model: a sparse physical address
// space that records mapped regions, interrupt wiring and the blobs placed
// into memory while a board is assembled.
package image

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/tinyrange/ratona/internal/memmap"
)

var (
	ErrOverlap  = errors.New("image: placement overlaps")
	ErrUnmapped = errors.New("image: address not backed by memory")
	ErrSealed   = errors.New("image: space is sealed")
	ErrNoISA    = errors.New("image: no ISA string for hart")
)

// Mapping is a region registered with the space.
type Mapping struct {
	Name string
	Base uint64
	Size uint64
	Kind memmap.Kind
}

// End returns the first address past the mapping.
func (m Mapping) End() uint64 { return m.Base + m.Size }

// Blob is a named byte string placed at a fixed physical address.
type Blob struct {
	Name string
	Addr uint64
	Data []byte
}

// End returns the first address past the blob.
func (b Blob) End() uint64 { return b.Addr + uint64(len(b.Data)) }

// Line is an interrupt source wired to a controller input.
type Line struct {
	Controller string
	Line       uint32
	Device     string
}

// Snapshot is a consistent copy of a space's contents.
type Snapshot struct {
	Regions []Mapping
	Blobs   []Blob
	Lines   []Line
}

// Space is a sparse physical address space. It is safe for concurrent use.
type Space struct {
	mu sync.Mutex

	regions []Mapping
	blobs   []Blob
	lines   []Line
	isa     map[int]string
	defISA  string
	sealed  bool
}

// NewSpace returns an empty space whose harts report defaultISA unless
// overridden with SetISA.
func NewSpace(defaultISA string) *Space {
	return &Space{
		isa:    make(map[int]string),
		defISA: defaultISA,
	}
}

// SetISA overrides the ISA string reported for one hart.
func (s *Space) SetISA(hart int, isa string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isa[hart] = isa
}

// ISAString returns the ISA string of a hart.
func (s *Space) ISAString(hart int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if hart < 0 {
		return "", fmt.Errorf("%w %d", ErrNoISA, hart)
	}
	if isa, ok := s.isa[hart]; ok {
		return isa, nil
	}
	if s.defISA == "" {
		return "", fmt.Errorf("%w %d", ErrNoISA, hart)
	}
	return s.defISA, nil
}

// RegisterMemoryRegion maps a region. Regions may not overlap each other.
func (s *Space) RegisterMemoryRegion(name string, base, size uint64, kind memmap.Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sealed {
		return ErrSealed
	}
	if size == 0 {
		return fmt.Errorf("image: region %s has zero size", name)
	}
	m := Mapping{Name: name, Base: base, Size: size, Kind: kind}
	if m.End()-1 < base {
		return fmt.Errorf("image: region %s wraps the address space", name)
	}
	for _, r := range s.regions {
		if r.Name == name {
			return fmt.Errorf("image: region %s registered twice", name)
		}
		if base < r.End() && r.Base < m.End() {
			return fmt.Errorf("%w: region %s [0x%x-0x%x) and %s [0x%x-0x%x)",
				ErrOverlap, name, base, m.End(), r.Name, r.Base, r.End())
		}
	}

	s.regions = append(s.regions, m)
	sort.Slice(s.regions, func(i, j int) bool { return s.regions[i].Base < s.regions[j].Base })
	return nil
}

// ConnectInterruptLine wires device to input line of controller. The
// controller must be a registered region and each input takes one device.
func (s *Space) ConnectInterruptLine(controller string, line uint32, device string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sealed {
		return ErrSealed
	}
	if _, ok := s.regionLocked(controller); !ok {
		return fmt.Errorf("image: interrupt controller %s is not mapped", controller)
	}
	if line == 0 {
		return fmt.Errorf("image: line 0 of %s is reserved", controller)
	}
	for _, l := range s.lines {
		if l.Controller == controller && l.Line == line {
			return fmt.Errorf("image: %s line %d already connected to %s", controller, line, l.Device)
		}
	}
	s.lines = append(s.lines, Line{Controller: controller, Line: line, Device: device})
	return nil
}

// LoadBlobFixed places data at addr. The blob must lie inside one RAM or ROM
// region and must not overlap a blob placed earlier.
func (s *Space) LoadBlobFixed(name string, data []byte, addr uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sealed {
		return ErrSealed
	}
	size := uint64(len(data))
	if size == 0 {
		return fmt.Errorf("image: blob %s is empty", name)
	}
	b := Blob{Name: name, Addr: addr, Data: append([]byte(nil), data...)}
	if b.End()-1 < addr {
		return fmt.Errorf("%w: blob %s wraps the address space", ErrUnmapped, name)
	}

	backed := false
	for _, r := range s.regions {
		if r.Kind != memmap.MMIO && addr >= r.Base && b.End() <= r.End() {
			backed = true
			break
		}
	}
	if !backed {
		return fmt.Errorf("%w: blob %s [0x%x-0x%x)", ErrUnmapped, name, addr, b.End())
	}

	for _, other := range s.blobs {
		if addr < other.End() && other.Addr < b.End() {
			return fmt.Errorf("%w: blob %s [0x%x-0x%x) and %s [0x%x-0x%x)",
				ErrOverlap, name, addr, b.End(), other.Name, other.Addr, other.End())
		}
	}

	s.blobs = append(s.blobs, b)
	return nil
}

// Seal stops further changes. Every placement made before Seal is visible to
// readers of Snapshot and ReadAt.
func (s *Space) Seal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed = true
}

// Sealed reports whether Seal has been called.
func (s *Space) Sealed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sealed
}

// Region returns the mapping with the given name.
func (s *Space) Region(name string) (Mapping, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regionLocked(name)
}

func (s *Space) regionLocked(name string) (Mapping, bool) {
	for _, r := range s.regions {
		if r.Name == name {
			return r, true
		}
	}
	return Mapping{}, false
}

// Blob returns the blob with the given name.
func (s *Space) Blob(name string) (Blob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.blobs {
		if b.Name == name {
			return Blob{Name: b.Name, Addr: b.Addr, Data: append([]byte(nil), b.Data...)}, true
		}
	}
	return Blob{}, false
}

// Snapshot copies the current contents. Blobs are ordered by placement.
func (s *Space) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Regions: append([]Mapping(nil), s.regions...),
		Lines:   append([]Line(nil), s.lines...),
		Blobs:   make([]Blob, len(s.blobs)),
	}
	for i, b := range s.blobs {
		snap.Blobs[i] = Blob{Name: b.Name, Addr: b.Addr, Data: append([]byte(nil), b.Data...)}
	}
	return snap
}

// ReadAt reads physical memory starting at off. Backed bytes that no blob
// covers read as zero. Reading stops with io.EOF at the first address that
// is not backed by a RAM or ROM region.
func (s *Space) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("image: negative offset %d", off)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	addr := uint64(off)
	n := 0
	for n < len(p) {
		r, ok := s.backingLocked(addr)
		if !ok {
			if n == 0 {
				return 0, fmt.Errorf("%w: 0x%x", ErrUnmapped, addr)
			}
			return n, io.EOF
		}
		chunk := min(uint64(len(p)-n), r.End()-addr)
		dst := p[n : n+int(chunk)]
		clear(dst)
		for _, b := range s.blobs {
			lo := max(addr, b.Addr)
			hi := min(addr+chunk, b.End())
			if lo < hi {
				copy(dst[lo-addr:hi-addr], b.Data[lo-b.Addr:hi-b.Addr])
			}
		}
		n += int(chunk)
		addr += chunk
	}
	return n, nil
}

// Contents returns size bytes of the region called name.
func (s *Space) Contents(name string) ([]byte, error) {
	r, ok := s.Region(name)
	if !ok {
		return nil, fmt.Errorf("image: no region %s", name)
	}
	if r.Kind == memmap.MMIO {
		return nil, fmt.Errorf("%w: region %s is device memory", ErrUnmapped, name)
	}
	buf := make([]byte, r.Size)
	if _, err := s.ReadAt(buf, int64(r.Base)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *Space) backingLocked(addr uint64) (Mapping, bool) {
	for _, r := range s.regions {
		if r.Kind != memmap.MMIO && addr >= r.Base && addr < r.End() {
			return r, true
		}
	}
	return Mapping{}, false
}
