package board

import (
	"strings"

	"github.com/tinyrange/ratona/internal/devtree"
)

// PLIC register layout.
const (
	PLICNumPriorities = 7
	PLICPriorityBase  = 0x00
	PLICPendingBase   = 0x1000
	PLICEnableBase    = 0x2000
	PLICEnableStride  = 0x80
	PLICContextBase   = 0x200000
	PLICContextStride = 0x1000
)

// PLICConfig is the register layout and hart topology of the PLIC.
type PLICConfig struct {
	Base          uint64 `yaml:"base" cbor:"1,keyasint"`
	Size          uint64 `yaml:"size" cbor:"2,keyasint"`
	NumSources    uint32 `yaml:"numSources" cbor:"3,keyasint"`
	NumPriorities uint32 `yaml:"numPriorities" cbor:"4,keyasint"`
	PriorityBase  uint64 `yaml:"priorityBase" cbor:"5,keyasint"`
	PendingBase   uint64 `yaml:"pendingBase" cbor:"6,keyasint"`
	EnableBase    uint64 `yaml:"enableBase" cbor:"7,keyasint"`
	EnableStride  uint64 `yaml:"enableStride" cbor:"8,keyasint"`
	ContextBase   uint64 `yaml:"contextBase" cbor:"9,keyasint"`
	ContextStride uint64 `yaml:"contextStride" cbor:"10,keyasint"`
	// HartConfig lists the privilege modes with a PLIC context, per hart.
	HartConfig string `yaml:"hartConfig" cbor:"11,keyasint"`
}

// HartConfigString returns the context topology for cpus harts that each
// take machine and supervisor external interrupts.
func HartConfigString(cpus int) string {
	modes := make([]string, cpus)
	for i := range modes {
		modes[i] = "MS"
	}
	return strings.Join(modes, ",")
}

// Contexts returns the number of interrupt contexts the topology implies.
func (p PLICConfig) Contexts() int {
	if p.HartConfig == "" {
		return 0
	}
	n := 0
	for _, hart := range strings.Split(p.HartConfig, ",") {
		n += len(hart)
	}
	return n
}

// ContextAddr returns the threshold/claim register block of context ctx.
func (p PLICConfig) ContextAddr(ctx int) uint64 {
	return p.Base + p.ContextBase + uint64(ctx)*p.ContextStride
}

// EnableAddr returns the enable bitmap of context ctx.
func (p PLICConfig) EnableAddr(ctx int) uint64 {
	return p.Base + p.EnableBase + uint64(ctx)*p.EnableStride
}

func newPLICConfig(base, size uint64, cpus int) PLICConfig {
	return PLICConfig{
		Base:          base,
		Size:          size,
		NumSources:    devtree.PLICNumSources,
		NumPriorities: PLICNumPriorities,
		PriorityBase:  PLICPriorityBase,
		PendingBase:   PLICPendingBase,
		EnableBase:    PLICEnableBase,
		EnableStride:  PLICEnableStride,
		ContextBase:   PLICContextBase,
		ContextStride: PLICContextStride,
		HartConfig:    HartConfigString(cpus),
	}
}
