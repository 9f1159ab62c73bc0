package bootrom

import (
	"encoding/binary"
	"fmt"
)

// Firmware dynamic information block consumed by OpenSBI's fw_dynamic.
const (
	FirmwareInfoMagic   = 0x4942534f // "OSBI"
	FirmwareInfoVersion = 2
)

// Privilege mode the firmware switches to before jumping to NextAddr.
const (
	NextModeUser       = 0
	NextModeSupervisor = 1
	NextModeMachine    = 3
)

// FirmwareInfo describes where the firmware should continue booting.
type FirmwareInfo struct {
	NextAddr uint64
	NextMode uint64
	Options  uint64
	BootHart uint64
}

// NewFirmwareInfo returns the block handing control to next in
// supervisor mode. A zero next leaves the choice to the firmware.
func NewFirmwareInfo(next uint64) FirmwareInfo {
	return FirmwareInfo{NextAddr: next, NextMode: NextModeSupervisor}
}

// Size returns the encoded size for the target word width.
func (FirmwareInfo) Size(is32 bool) int {
	if is32 {
		return 6 * 4
	}
	return 6 * 8
}

// Bytes encodes the block little-endian with XLEN-sized fields.
func (f FirmwareInfo) Bytes(is32 bool) []byte {
	fields := []uint64{FirmwareInfoMagic, FirmwareInfoVersion, f.NextAddr, f.NextMode, f.Options, f.BootHart}
	out := make([]byte, 0, f.Size(is32))
	for _, v := range fields {
		if is32 {
			out = binary.LittleEndian.AppendUint32(out, uint32(v))
		} else {
			out = binary.LittleEndian.AppendUint64(out, v)
		}
	}
	return out
}

// Image returns the mask ROM contents: the reset vector followed by the
// firmware info block the vector points a2 at.
func Image(v BootVector, info FirmwareInfo, is32 bool, romSize uint64) ([]byte, error) {
	need := uint64(VectorSize + info.Size(is32))
	if need > romSize {
		return nil, fmt.Errorf("bootrom: %d bytes do not fit a 0x%x byte ROM", need, romSize)
	}
	return append(v.Bytes(), info.Bytes(is32)...), nil
}
