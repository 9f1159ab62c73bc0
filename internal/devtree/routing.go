package devtree

import (
	"fmt"

	"github.com/tinyrange/ratona/internal/fdt"
)

// LineKind classifies an interrupt line delivered to a hart's local
// interrupt controller.
type LineKind uint8

const (
	SoftwareInterrupt LineKind = iota
	TimerInterrupt
	ExternalInterruptMachineMode
	ExternalInterruptSupervisorMode
)

// Code returns the mcause interrupt number firmware expects for the line.
func (k LineKind) Code() uint32 {
	switch k {
	case SoftwareInterrupt:
		return 3
	case TimerInterrupt:
		return 7
	case ExternalInterruptMachineMode:
		return 11
	case ExternalInterruptSupervisorMode:
		return 9
	default:
		panic(fmt.Sprintf("devtree: unknown line kind %d", k))
	}
}

func (k LineKind) String() string {
	switch k {
	case SoftwareInterrupt:
		return "software"
	case TimerInterrupt:
		return "timer"
	case ExternalInterruptMachineMode:
		return "external-m"
	case ExternalInterruptSupervisorMode:
		return "external-s"
	default:
		return fmt.Sprintf("LineKind(%d)", uint8(k))
	}
}

// InterruptBinding routes one line kind to a hart-local controller.
type InterruptBinding struct {
	Controller fdt.Handle
	Kind       LineKind
}

// CoreLocalBindings returns the CLINT routing: software then timer for every
// core, in the order of cores.
func CoreLocalBindings(cores []fdt.Handle) []InterruptBinding {
	return perCore(cores, SoftwareInterrupt, TimerInterrupt)
}

// ExternalBindings returns the PLIC routing: the machine-mode then the
// supervisor-mode external line for every core.
func ExternalBindings(cores []fdt.Handle) []InterruptBinding {
	return perCore(cores, ExternalInterruptMachineMode, ExternalInterruptSupervisorMode)
}

func perCore(cores []fdt.Handle, kinds ...LineKind) []InterruptBinding {
	out := make([]InterruptBinding, 0, len(cores)*len(kinds))
	for _, h := range cores {
		for _, k := range kinds {
			out = append(out, InterruptBinding{Controller: h, Kind: k})
		}
	}
	return out
}

// Flatten encodes bindings as interrupts-extended cells: (handle, code) per
// binding.
func Flatten(bindings []InterruptBinding) []uint32 {
	cells := make([]uint32, 0, len(bindings)*2)
	for _, b := range bindings {
		cells = append(cells, uint32(b.Controller), b.Kind.Code())
	}
	return cells
}
