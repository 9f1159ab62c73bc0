// Package board assembles a Ratona machine on a Platform: it registers the
// memory map, wires interrupt lines, builds or loads the device tree, places
// firmware, kernel and initrd, and writes the boot ROM.
package board

import (
	"github.com/tinyrange/ratona/internal/memmap"
)

// ErrConfiguration is wrapped by every error caused by invalid input.
var ErrConfiguration = memmap.ErrConfiguration

// RegionKind says what backs a registered region.
type RegionKind = memmap.Kind

const (
	RegionRAM  = memmap.RAM
	RegionROM  = memmap.ROM
	RegionMMIO = memmap.MMIO
)

// Platform is the machine the board is assembled on.
type Platform interface {
	// RegisterMemoryRegion maps a region of the physical address space.
	RegisterMemoryRegion(name string, base, size uint64, kind RegionKind) error
	// ConnectInterruptLine wires device to input line of controller.
	ConnectInterruptLine(controller string, line uint32, device string) error
	// ISAString returns the ISA string the given hart implements.
	ISAString(hart int) (string, error)
	// LoadBlobFixed places data at a physical address.
	LoadBlobFixed(name string, data []byte, addr uint64) error
}

// Error represents a board operation error with structured information.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return e.Op + " " + e.Path + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}
