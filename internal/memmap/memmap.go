// Package memmap describes the physical address map of the Ratona board.
//
// The table is the single source of truth for every address placed in the
// device tree or the boot ROM. It is built once and only queried afterwards.
package memmap

import (
	"errors"
	"fmt"
	"sort"
)

// ErrConfiguration is wrapped by every error caused by an invalid board
// configuration (as opposed to an internal defect).
var ErrConfiguration = errors.New("configuration error")

var (
	ErrZeroMemory = fmt.Errorf("%w: memory size must be non-zero", ErrConfiguration)
	ErrOverlap    = fmt.Errorf("%w: memory regions overlap", ErrConfiguration)
	ErrWrap       = fmt.Errorf("%w: memory region wraps the address space", ErrConfiguration)
	ErrDuplicate  = fmt.Errorf("%w: duplicate region name", ErrConfiguration)
)

// Region names of the Ratona board.
const (
	Debug   = "debug"
	MROM    = "mrom"
	BootROM = "bootrom"
	CLINT   = "clint"
	PLIC    = "plic"
	UART0   = "uart0"
	QSPI0   = "qspi0"
	DRAM    = "dram"
)

// Kind says what backs a region.
type Kind int

const (
	RAM Kind = iota
	ROM
	MMIO
)

func (k Kind) String() string {
	switch k {
	case RAM:
		return "ram"
	case ROM:
		return "rom"
	case MMIO:
		return "mmio"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Region is a named span of the physical address space.
type Region struct {
	Name string
	Base uint64
	Size uint64
	Kind Kind
}

// End returns the first address past the region.
func (r Region) End() uint64 { return r.Base + r.Size }

// Contains reports whether [addr, addr+size) lies inside the region.
func (r Region) Contains(addr, size uint64) bool {
	if addr < r.Base {
		return false
	}
	off := addr - r.Base
	return off <= r.Size && size <= r.Size-off
}

// Overlaps reports whether two non-empty regions share any address.
func (r Region) Overlaps(o Region) bool {
	if r.Size == 0 || o.Size == 0 {
		return false
	}
	return r.Base < o.End() && o.Base < r.End()
}

func (r Region) String() string {
	return fmt.Sprintf("%s[0x%x-0x%x)", r.Name, r.Base, r.End())
}

// board lists the fixed regions. The DRAM size is substituted at runtime.
var board = []Region{
	{Name: Debug, Base: 0x0, Size: 0x100, Kind: MMIO},
	{Name: MROM, Base: 0x1000, Size: 0xf000, Kind: ROM},
	{Name: BootROM, Base: 0x10000, Size: 0x10000, Kind: RAM},
	{Name: CLINT, Base: 0x2000000, Size: 0x10000, Kind: MMIO},
	{Name: PLIC, Base: 0xc000000, Size: 0x4000000, Kind: MMIO},
	{Name: UART0, Base: 0x64000000, Size: 0x1000, Kind: MMIO},
	{Name: QSPI0, Base: 0x64001000, Size: 0x1000, Kind: MMIO},
	{Name: DRAM, Base: 0x80000000, Size: 0, Kind: RAM},
}

// Table is an immutable, ordered set of regions.
type Table struct {
	regions []Region
	byName  map[string]int
}

// New returns the Ratona memory map with ramSize bytes of DRAM.
func New(ramSize uint64) (*Table, error) {
	if ramSize == 0 {
		return nil, ErrZeroMemory
	}
	regions := make([]Region, len(board))
	copy(regions, board)
	for i := range regions {
		if regions[i].Name == DRAM {
			regions[i].Size = ramSize
		}
	}
	return NewFromRegions(regions)
}

// NewFromRegions validates an arbitrary region list and returns it as a table.
// Declaration order is preserved.
func NewFromRegions(regions []Region) (*Table, error) {
	t := &Table{
		regions: make([]Region, len(regions)),
		byName:  make(map[string]int, len(regions)),
	}
	copy(t.regions, regions)

	for i, r := range t.regions {
		if _, ok := t.byName[r.Name]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicate, r.Name)
		}
		if r.Size != 0 && r.End()-1 < r.Base {
			return nil, fmt.Errorf("%w: %s", ErrWrap, r)
		}
		t.byName[r.Name] = i
	}

	sorted := make([]Region, 0, len(t.regions))
	for _, r := range t.regions {
		if r.Size != 0 {
			sorted = append(sorted, r)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Base < sorted[j].Base })
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].Overlaps(sorted[i]) {
			return nil, fmt.Errorf("%w: %s and %s", ErrOverlap, sorted[i-1], sorted[i])
		}
	}

	return t, nil
}

// Lookup returns the region with the given name.
func (t *Table) Lookup(name string) (Region, bool) {
	i, ok := t.byName[name]
	if !ok {
		return Region{}, false
	}
	return t.regions[i], true
}

// MustLookup is Lookup for names that are part of the board definition.
func (t *Table) MustLookup(name string) Region {
	r, ok := t.Lookup(name)
	if !ok {
		panic(fmt.Sprintf("memmap: no region %q", name))
	}
	return r
}

// Regions returns a copy of the table in declaration order.
func (t *Table) Regions() []Region {
	return append([]Region(nil), t.regions...)
}
