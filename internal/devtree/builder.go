// Package devtree builds the Ratona board's device tree: clocks, memory,
// harts with their local interrupt controllers, the CLINT and PLIC, and the
// SPI, boot ROM and UART peripherals.
package devtree

import (
	"fmt"

	"github.com/tinyrange/ratona/internal/fdt"
	"github.com/tinyrange/ratona/internal/memmap"
)

// Board constants shared with firmware.
const (
	HFClkFrequency    = 50000000
	RTCClkFrequency   = 1000000
	TimebaseFrequency = 1000000

	PLICNumSources = 54
	UART0IRQ       = 4
	QSPI0IRQ       = 51

	// MaxCPUs is the number of harts the CLINT can address: one mtimecmp
	// per hart between 0x4000 and mtime at 0xbff8.
	MaxCPUs = 4095

	mmcMaxFrequency = 20000000
)

// Handle labels recorded by Build.
const (
	LabelHFClk  = "hfclk"
	LabelRTCClk = "rtcclk"
	LabelPLIC   = "plic"
)

var (
	clintCompat = []string{"sifive,clint0", "riscv,clint0"}
	plicCompat  = []string{"sifive,plic-1.0.0", "riscv,plic0"}
)

// Config describes the hart topology the tree is built for.
type Config struct {
	CPUCount int
	Is32Bit  bool
	// ISA holds the riscv,isa string of every hart, indexed by hart id.
	ISA    []string
	Memory *memmap.Table
}

func (c Config) validate() error {
	if c.CPUCount < 1 {
		return fmt.Errorf("%w: cpu count must be at least 1, got %d", memmap.ErrConfiguration, c.CPUCount)
	}
	if c.CPUCount > MaxCPUs {
		return fmt.Errorf("%w: cpu count %d exceeds %d", memmap.ErrConfiguration, c.CPUCount, MaxCPUs)
	}
	if len(c.ISA) != c.CPUCount {
		return fmt.Errorf("%w: %d isa strings for %d cpus", memmap.ErrConfiguration, len(c.ISA), c.CPUCount)
	}
	if c.Memory == nil {
		return fmt.Errorf("%w: no memory map", memmap.ErrConfiguration)
	}
	return nil
}

// Tree is a built device tree plus the handles other components need.
type Tree struct {
	Root *fdt.Node
	// Handles maps the stable labels (hfclk, rtcclk, plic) to handles.
	Handles map[string]fdt.Handle
	// CoreHandles holds each hart's interrupt-controller handle by hart id.
	CoreHandles []fdt.Handle
	// Console is the path of the UART used for stdout-path and serial0.
	Console string
}

// Blob serializes the tree.
func (t *Tree) Blob() ([]byte, error) {
	return fdt.Build(t.Root)
}

// builder keeps the first error so construction reads as a straight line.
type builder struct {
	cfg     Config
	session *Session
	err     error
}

func (b *builder) subnode(parent *fdt.Node, format string, args ...any) *fdt.Node {
	name := fmt.Sprintf(format, args...)
	if b.err != nil {
		return detached(name)
	}
	n, err := parent.AddSubnode(name)
	if err != nil {
		b.err = fmt.Errorf("%w: %w", ErrInvariant, err)
		return detached(name)
	}
	return n
}

func (b *builder) allocate(n *fdt.Node, label string) fdt.Handle {
	if b.err != nil {
		return 0
	}
	h, err := b.session.Allocate(n, label)
	if err != nil {
		b.err = err
	}
	return h
}

func (b *builder) resolve(path string) fdt.Handle {
	if b.err != nil {
		return 0
	}
	h, err := b.session.Resolve(path)
	if err != nil {
		b.err = err
	}
	return h
}

// detached stands in for a node that could not be attached so the remaining
// steps can run without nil checks; the recorded error is returned instead.
func detached(name string) *fdt.Node {
	n, _ := fdt.NewRoot().AddSubnode(name)
	return n
}

func regCells(r memmap.Region) fdt.Value {
	return fdt.Cells(uint32(r.Base>>32), uint32(r.Base), uint32(r.Size>>32), uint32(r.Size))
}

// Build constructs the board's device tree in a fresh handle session.
func Build(cfg Config) (*Tree, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	b := &builder{cfg: cfg, session: NewSession()}
	mem := cfg.Memory
	root := fdt.NewRoot()

	root.SetProp("model", fdt.String("Ratona FPGA"))
	root.SetProp("compatible", fdt.String("riscv-ratona"))
	root.SetProp("#size-cells", fdt.U32(2))
	root.SetProp("#address-cells", fdt.U32(2))

	soc := b.subnode(root, "soc")
	soc.SetProp("ranges", fdt.Empty())
	soc.SetProp("compatible", fdt.String("simple-bus"))
	soc.SetProp("#size-cells", fdt.U32(2))
	soc.SetProp("#address-cells", fdt.U32(2))

	hfclk := b.fixedClock(root, LabelHFClk, HFClkFrequency)
	b.fixedClock(root, LabelRTCClk, RTCClkFrequency)

	for _, r := range mem.Regions() {
		if r.Name != memmap.DRAM {
			continue
		}
		node := b.subnode(root, "memory@%x", r.Base)
		node.SetProp("reg", regCells(r))
		node.SetProp("device_type", fdt.String("memory"))
	}

	cores := b.cpus(root)
	b.clint(soc, cores)
	plic := b.plic(soc, cores)
	console := b.peripherals(soc, plic, hfclk)

	chosen := b.subnode(root, "chosen")
	chosen.SetProp("stdout-path", fdt.String(console))
	aliases := b.subnode(root, "aliases")
	aliases.SetProp("serial0", fdt.String(console))

	if b.err != nil {
		return nil, b.err
	}
	return &Tree{
		Root:        root,
		Handles:     b.session.Labels(),
		CoreHandles: cores,
		Console:     console,
	}, nil
}

func (b *builder) fixedClock(root *fdt.Node, name string, freq uint32) fdt.Handle {
	n := b.subnode(root, "%s", name)
	h := b.allocate(n, name)
	n.SetProp("clock-output-names", fdt.String(name))
	n.SetProp("clock-frequency", fdt.U32(freq))
	n.SetProp("compatible", fdt.String("fixed-clock"))
	n.SetProp("#clock-cells", fdt.U32(0))
	return h
}

// cpus creates the hart nodes and returns their interrupt-controller handles
// in ascending hart order.
func (b *builder) cpus(root *fdt.Node) []fdt.Handle {
	cpus := b.subnode(root, "cpus")
	cpus.SetProp("timebase-frequency", fdt.U32(TimebaseFrequency))
	cpus.SetProp("#size-cells", fdt.U32(0))
	cpus.SetProp("#address-cells", fdt.U32(1))

	mmuType := "riscv,sv48"
	if b.cfg.Is32Bit {
		mmuType = "riscv,sv32"
	}

	// Subnodes are prepended, so creating harts from the highest id down
	// leaves cpu@0 first in the blob.
	for cpu := b.cfg.CPUCount - 1; cpu >= 0; cpu-- {
		node := b.subnode(cpus, "cpu@%d", cpu)
		intc := b.subnode(node, "interrupt-controller")
		b.allocate(intc, "")

		node.SetProp("mmu-type", fdt.String(mmuType))
		node.SetProp("riscv,isa", fdt.String(b.cfg.ISA[cpu]))
		node.SetProp("compatible", fdt.String("riscv"))
		node.SetProp("status", fdt.String("okay"))
		node.SetProp("reg", fdt.U32(uint32(cpu)))
		node.SetProp("device_type", fdt.String("cpu"))

		intc.SetProp("compatible", fdt.String("riscv,cpu-intc"))
		intc.SetProp("interrupt-controller", fdt.Empty())
		intc.SetProp("#interrupt-cells", fdt.U32(1))
	}

	// Consumers index the routing tables by hart id, so the handles are
	// collected in a separate ascending pass.
	handles := make([]fdt.Handle, b.cfg.CPUCount)
	for cpu := range handles {
		handles[cpu] = b.resolve(fmt.Sprintf("/cpus/cpu@%d/interrupt-controller", cpu))
	}
	return handles
}

func (b *builder) clint(soc *fdt.Node, cores []fdt.Handle) {
	r := b.cfg.Memory.MustLookup(memmap.CLINT)
	n := b.subnode(soc, "clint@%x", r.Base)
	n.SetProp("compatible", fdt.Strings(clintCompat...))
	n.SetProp("reg", regCells(r))
	n.SetProp("interrupts-extended", fdt.Cells(Flatten(CoreLocalBindings(cores))...))
}

func (b *builder) plic(soc *fdt.Node, cores []fdt.Handle) fdt.Handle {
	r := b.cfg.Memory.MustLookup(memmap.PLIC)
	n := b.subnode(soc, "interrupt-controller@%x", r.Base)
	n.SetProp("#interrupt-cells", fdt.U32(1))
	n.SetProp("compatible", fdt.Strings(plicCompat...))
	n.SetProp("interrupt-controller", fdt.Empty())
	n.SetProp("interrupts-extended", fdt.Cells(Flatten(ExternalBindings(cores))...))
	n.SetProp("reg", regCells(r))
	// Source 0 is reserved and not advertised.
	n.SetProp("riscv,ndev", fdt.U32(PLICNumSources-1))
	return b.allocate(n, LabelPLIC)
}

// peripherals adds the SPI/MMC slot, boot ROM and UART and returns the UART
// path.
func (b *builder) peripherals(soc *fdt.Node, plic, hfclk fdt.Handle) string {
	mem := b.cfg.Memory

	qspi := mem.MustLookup(memmap.QSPI0)
	spi := b.subnode(soc, "spi@%x", qspi.Base)
	spi.SetProp("#size-cells", fdt.U32(0))
	spi.SetProp("#address-cells", fdt.U32(1))
	spi.SetProp("interrupts", fdt.U32(QSPI0IRQ))
	spi.SetProp("interrupt-parent", fdt.U32(uint32(plic)))
	spi.SetProp("reg", regCells(qspi))
	spi.SetProp("compatible", fdt.String("sifive,spi0"))
	spi.SetProp("clocks", fdt.U32(uint32(hfclk)))

	mmc := b.subnode(spi, "mmc@0")
	mmc.SetProp("disable-wp", fdt.Empty())
	mmc.SetProp("voltage-ranges", fdt.Cells(3300, 3300))
	mmc.SetProp("spi-max-frequency", fdt.U32(mmcMaxFrequency))
	mmc.SetProp("reg", fdt.U32(0))
	mmc.SetProp("compatible", fdt.String("mmc-spi-slot"))

	bootrom := mem.MustLookup(memmap.BootROM)
	rom := b.subnode(soc, "rom@%x", bootrom.Base)
	rom.SetProp("compatible", fdt.String("sifive,rom0"))
	rom.SetProp("reg", regCells(bootrom))
	rom.SetProp("reg-names", fdt.String("mem"))

	uart0 := mem.MustLookup(memmap.UART0)
	serial := b.subnode(soc, "serial@%x", uart0.Base)
	serial.SetProp("compatible", fdt.String("sifive,uart0"))
	serial.SetProp("reg", regCells(uart0))
	serial.SetProp("interrupt-parent", fdt.U32(uint32(plic)))
	serial.SetProp("interrupts", fdt.U32(UART0IRQ))
	serial.SetProp("clocks", fdt.U32(uint32(hfclk)))

	return serial.Path()
}
