package loader

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	miB = 1 << 20
	giB = 1 << 30

	fdtAlign = 2 * miB
	// fdtCeiling keeps the device tree reachable from 32-bit code.
	fdtCeiling = 3 * giB

	initrdMaxOffset = 128 * miB
)

func alignUp(v, align uint64) uint64   { return (v + align - 1) &^ (align - 1) }
func alignDown(v, align uint64) uint64 { return v &^ (align - 1) }

// KernelStart returns where a kernel is placed after firmware ending at
// firmwareEnd: the next 4 MiB boundary on 32-bit harts (megapage size) and
// the next 2 MiB boundary on 64-bit harts.
func KernelStart(firmwareEnd uint64, is32 bool) uint64 {
	if is32 {
		return alignUp(firmwareEnd, 4*miB)
	}
	return alignUp(firmwareEnd, 2*miB)
}

// FDTAddress places a device tree of fdtSize bytes as high in DRAM as
// possible while staying below 3 GiB when DRAM starts below it, aligned down
// to 2 MiB.
func FDTAddress(dramBase, dramSize uint64, fdtSize int) (uint64, error) {
	if fdtSize <= 0 {
		return 0, fmt.Errorf("loader: invalid device tree size %d", fdtSize)
	}
	end := dramBase + dramSize
	if dramBase < fdtCeiling {
		end = min(end, fdtCeiling)
	}
	if end-dramBase < uint64(fdtSize) {
		return 0, fmt.Errorf("loader: device tree of %d bytes does not fit in DRAM", fdtSize)
	}
	addr := alignDown(end-uint64(fdtSize), fdtAlign)
	if addr < dramBase {
		return 0, fmt.Errorf("loader: no 2 MiB aligned slot for a %d byte device tree", fdtSize)
	}
	return addr, nil
}

// InitrdStart returns where the initrd goes: far enough past the kernel that
// decompression does not clobber it, half of memory on small boards and
// 128 MiB past the kernel otherwise.
func InitrdStart(kernelEntry, memSize uint64) uint64 {
	return kernelEntry + min(memSize/2, initrdMaxOffset)
}

// DefaultFirmwareName is the OpenSBI fw_dynamic build for the hart width.
func DefaultFirmwareName(is32 bool) string {
	if is32 {
		return "opensbi-riscv32-generic-fw_dynamic.bin"
	}
	return "opensbi-riscv64-generic-fw_dynamic.bin"
}

// FindFirmware resolves name: paths containing a separator are used as is,
// bare names are searched for in dirs.
func FindFirmware(name string, dirs []string) (string, error) {
	if filepath.Base(name) != name {
		if _, err := os.Stat(name); err != nil {
			return "", fmt.Errorf("firmware %s: %w", name, err)
		}
		return name, nil
	}
	for _, dir := range dirs {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	if _, err := os.Stat(name); err == nil {
		return name, nil
	}
	return "", fmt.Errorf("firmware %s not found in %v", name, dirs)
}
