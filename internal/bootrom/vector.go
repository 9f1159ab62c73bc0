// Package bootrom composes the contents of the Ratona mask ROM: the reset
// vector every hart starts at and the firmware information block it hands to
// the firmware.
package bootrom

import (
	"encoding/binary"
	"fmt"

	"github.com/tinyrange/ratona/internal/asm"
	"github.com/tinyrange/ratona/internal/asm/riscv"
)

const (
	// VectorWords is the length of the boot vector in 32-bit words.
	VectorWords = 12
	// VectorSize is the length of the boot vector in bytes.
	VectorSize = VectorWords * 4

	// ResetOffset is where harts start executing, just past the MSEL word.
	ResetOffset = 4
)

const (
	labelPC       asm.Label = "pc"
	labelEntry    asm.Label = "start"
	labelFDT      asm.Label = "fdt_laddr"
	labelFirmware asm.Label = "fw_dyn"
)

// BootVector is the reset vector image in word order.
type BootVector [VectorWords]uint32

// SplitAddress returns the low and high words of addr.
func SplitAddress(addr uint64) (lo, hi uint32) {
	return uint32(addr), uint32(addr >> 32)
}

// JoinAddress is the inverse of SplitAddress.
func JoinAddress(lo, hi uint32) uint64 {
	return uint64(hi)<<32 | uint64(lo)
}

// program returns the reset vector for the given addresses. Every hart runs
// it: a0 holds the hart id, a1 the device tree and a2 the firmware info block
// when the jump to entry is taken.
func program(entry, fdtAddr uint64, is32 bool) asm.Fragment {
	return asm.Group{
		riscv.Word(0), // MSEL pin state
		asm.MarkLabel(labelPC),
		riscv.Auipc(riscv.T0, 0),
		riscv.AddiLabel(riscv.A2, riscv.T0, labelFirmware, labelPC),
		riscv.Csrr(riscv.A0, riscv.CSRMHartID),
		riscv.LoadLabel(riscv.A1, riscv.T0, labelFDT, labelPC, !is32),
		riscv.LoadLabel(riscv.T0, riscv.T0, labelEntry, labelPC, !is32),
		riscv.Jr(riscv.T0),
		asm.MarkLabel(labelEntry),
		riscv.Dword(entry),
		asm.MarkLabel(labelFDT),
		riscv.Dword(fdtAddr),
		riscv.Word(0),
		asm.MarkLabel(labelFirmware),
	}
}

// Compose builds the reset vector that jumps to entry with the device tree at
// fdtAddr. On 32-bit targets only the low word of entry is kept.
func Compose(entry, fdtAddr uint64, is32 bool) BootVector {
	if is32 {
		entry = uint64(uint32(entry))
	}
	prog, err := riscv.EmitProgram(program(entry, fdtAddr, is32))
	if err != nil {
		// The program is fixed; only a broken encoder can fail here.
		panic(fmt.Sprintf("bootrom: assemble reset vector: %v", err))
	}
	code := prog.Bytes()
	if len(code) != VectorSize {
		panic(fmt.Sprintf("bootrom: reset vector is %d bytes, want %d", len(code), VectorSize))
	}

	var v BootVector
	for i := range v {
		v[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	return v
}

// Entry returns the entry address stored in the vector.
func (v BootVector) Entry() uint64 { return JoinAddress(v[7], v[8]) }

// FDT returns the device tree address stored in the vector.
func (v BootVector) FDT() uint64 { return JoinAddress(v[9], v[10]) }

// Bytes returns the vector in little-endian byte order, ready to be copied
// to the mask ROM.
func (v BootVector) Bytes() []byte {
	out := make([]byte, 0, VectorSize)
	for _, w := range v {
		out = binary.LittleEndian.AppendUint32(out, w)
	}
	return out
}
