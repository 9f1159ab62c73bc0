package board

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/tinyrange/ratona/internal/bootrom"
	"github.com/tinyrange/ratona/internal/devtree"
	"github.com/tinyrange/ratona/internal/fdt"
	"github.com/tinyrange/ratona/internal/loader"
	"github.com/tinyrange/ratona/internal/memmap"
)

// Blob names placed on the Platform.
const (
	BlobReset    = "mrom.reset"
	BlobFinfo    = "mrom.finfo"
	BlobFDT      = "fdt"
	BlobFirmware = "firmware"
	BlobKernel   = "kernel"
	BlobInitrd   = "initrd"
)

// Placement records where an image was put.
type Placement struct {
	Path   string `yaml:"path" cbor:"1,keyasint"`
	Format string `yaml:"format" cbor:"2,keyasint"`
	Start  uint64 `yaml:"start" cbor:"3,keyasint"`
	End    uint64 `yaml:"end" cbor:"4,keyasint"`
	Entry  uint64 `yaml:"entry" cbor:"5,keyasint"`
}

// Plan is the outcome of Setup: every address the boot depends on.
type Plan struct {
	CPUs   int
	XLEN   int
	ISA    []string
	Memory *memmap.Table

	// Tree is nil when an external device tree was loaded.
	Tree *devtree.Tree
	Root *fdt.Node
	DTB  []byte

	Firmware *Placement
	Kernel   *Placement
	Initrd   *Placement

	FirmwareEnd  uint64
	KernelEntry  uint64
	Entry        uint64
	FDTAddr      uint64
	ResetAddr    uint64
	Vector       bootrom.BootVector
	FirmwareInfo bootrom.FirmwareInfo
	PLIC         PLICConfig
}

// Is32Bit reports whether the plan targets RV32 harts.
func (p *Plan) Is32Bit() bool { return p.XLEN == 32 }

// Option configures Setup.
type Option interface {
	IsOption()
}

type loggerOption struct{ logger *slog.Logger }

func (loggerOption) IsOption()              {}
func (o loggerOption) Logger() *slog.Logger { return o.logger }

// WithLogger sets the logger Setup reports placements to.
func WithLogger(logger *slog.Logger) Option { return loggerOption{logger: logger} }

type setupConfig struct {
	logger *slog.Logger
}

func parseSetupOptions(opts []Option) setupConfig {
	var cfg setupConfig
	for _, opt := range opts {
		switch o := opt.(type) {
		case interface{ Logger() *slog.Logger }:
			cfg.logger = o.Logger()
		}
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	return cfg
}

type setup struct {
	p    Platform
	cfg  Config
	log  *slog.Logger
	mem  *memmap.Table
	plan *Plan
}

func hex(v uint64) string { return fmt.Sprintf("0x%x", v) }

// Setup assembles the board described by cfg on p. The boot vector is the
// last blob placed.
func Setup(p Platform, cfg Config, opts ...Option) (*Plan, error) {
	o := parseSetupOptions(opts)
	if err := cfg.Validate(); err != nil {
		return nil, &Error{Op: "setup", Err: err}
	}

	mem, err := memmap.New(uint64(cfg.Memory))
	if err != nil {
		return nil, &Error{Op: "memory map", Err: err}
	}

	s := &setup{
		p:   p,
		cfg: cfg,
		log: o.logger,
		mem: mem,
		plan: &Plan{
			CPUs:   cfg.CPUs,
			XLEN:   cfg.XLEN,
			Memory: mem,
		},
	}

	steps := []struct {
		op string
		fn func() error
	}{
		{"register regions", s.registerRegions},
		{"connect interrupts", s.connectInterrupts},
		{"device tree", s.deviceTree},
		{"load images", s.loadImages},
		{"place device tree", s.placeTree},
		{"boot rom", s.bootROM},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			var be *Error
			if errors.As(err, &be) {
				return nil, err
			}
			return nil, &Error{Op: step.op, Err: err}
		}
	}

	plan := s.plan
	s.log.Info("board ready",
		"cpus", plan.CPUs,
		"xlen", plan.XLEN,
		"memory", hex(uint64(cfg.Memory)),
		"entry", hex(plan.Entry),
		"fdt", hex(plan.FDTAddr),
		"reset", hex(plan.ResetAddr),
	)
	return plan, nil
}

func (s *setup) registerRegions() error {
	for _, r := range s.mem.Regions() {
		if err := s.p.RegisterMemoryRegion(r.Name, r.Base, r.Size, r.Kind); err != nil {
			return fmt.Errorf("region %s: %w", r.Name, err)
		}
		s.log.Debug("registered region", "name", r.Name, "base", hex(r.Base), "size", hex(r.Size), "kind", r.Kind)
	}
	plic := s.mem.MustLookup(memmap.PLIC)
	s.plan.PLIC = newPLICConfig(plic.Base, plic.Size, s.cfg.CPUs)
	return nil
}

func (s *setup) connectInterrupts() error {
	lines := []struct {
		device string
		line   uint32
	}{
		{memmap.UART0, devtree.UART0IRQ},
		{memmap.QSPI0, devtree.QSPI0IRQ},
	}
	for _, l := range lines {
		if err := s.p.ConnectInterruptLine(memmap.PLIC, l.line, l.device); err != nil {
			return fmt.Errorf("%s: %w", l.device, err)
		}
	}
	return nil
}

func (s *setup) isaStrings() ([]string, error) {
	if len(s.cfg.ISA) != 0 {
		return append([]string(nil), s.cfg.ISA...), nil
	}
	isa := make([]string, s.cfg.CPUs)
	for hart := range isa {
		v, err := s.p.ISAString(hart)
		if err != nil {
			return nil, fmt.Errorf("hart %d: %w", hart, err)
		}
		isa[hart] = v
	}
	return isa, nil
}

func (s *setup) deviceTree() error {
	if s.cfg.DTB != "" {
		data, err := os.ReadFile(s.cfg.DTB)
		if err != nil {
			return &Error{Op: "read dtb", Path: s.cfg.DTB, Err: fmt.Errorf("%w: %w", ErrConfiguration, err)}
		}
		root, err := fdt.Parse(data)
		if err != nil {
			return &Error{Op: "parse dtb", Path: s.cfg.DTB, Err: fmt.Errorf("%w: %w", ErrConfiguration, err)}
		}
		if err := devtree.Verify(root); err != nil {
			return &Error{Op: "verify dtb", Path: s.cfg.DTB, Err: fmt.Errorf("%w: %w", ErrConfiguration, err)}
		}
		s.plan.Root = root
		s.log.Debug("loaded device tree", "path", s.cfg.DTB, "size", len(data))
		return nil
	}

	isa, err := s.isaStrings()
	if err != nil {
		return err
	}
	s.plan.ISA = isa

	tree, err := devtree.Build(devtree.Config{
		CPUCount: s.cfg.CPUs,
		Is32Bit:  s.cfg.Is32Bit(),
		ISA:      isa,
		Memory:   s.mem,
	})
	if err != nil {
		return err
	}
	s.plan.Tree = tree
	s.plan.Root = tree.Root
	return nil
}

func (s *setup) place(name string, data []byte, addr uint64) error {
	if err := s.p.LoadBlobFixed(name, data, addr); err != nil {
		return fmt.Errorf("place %s: %w", name, err)
	}
	s.log.Debug("placed blob", "name", name, "addr", hex(addr), "size", len(data))
	return nil
}

func (s *setup) placeImage(name string, img *loader.Image) error {
	for i, seg := range img.Segments {
		segName := name
		if len(img.Segments) > 1 {
			segName = fmt.Sprintf("%s.%d", name, i)
		}
		if err := s.place(segName, seg.Data, seg.Addr); err != nil {
			return err
		}
	}
	return nil
}

func (s *setup) firmwarePath() (string, bool, error) {
	name := s.cfg.Firmware
	if name == FirmwareNone {
		return "", false, nil
	}
	if name == "" {
		name = loader.DefaultFirmwareName(s.cfg.Is32Bit())
	}
	path, err := loader.FindFirmware(name, s.cfg.DataDirs)
	if err != nil {
		return "", false, &Error{Op: "find firmware", Path: name, Err: fmt.Errorf("%w: %w", ErrConfiguration, err)}
	}
	return path, true, nil
}

func (s *setup) loadImages() error {
	dram := s.mem.MustLookup(memmap.DRAM)
	plan := s.plan

	plan.Entry = dram.Base
	plan.FirmwareEnd = dram.Base

	path, ok, err := s.firmwarePath()
	if err != nil {
		return err
	}
	if ok {
		img, err := loader.LoadFile(path, dram.Base)
		if err != nil {
			return &Error{Op: "load firmware", Path: path, Err: fmt.Errorf("%w: %w", ErrConfiguration, err)}
		}
		if err := s.placeImage(BlobFirmware, img); err != nil {
			return err
		}
		plan.FirmwareEnd = img.End()
		plan.Firmware = &Placement{Path: path, Format: img.Format, Start: img.Start(), End: img.End(), Entry: img.Entry}
	}

	if s.cfg.Kernel != "" {
		start := loader.KernelStart(plan.FirmwareEnd, s.cfg.Is32Bit())
		img, err := loader.LoadFile(s.cfg.Kernel, start)
		if err != nil {
			return &Error{Op: "load kernel", Path: s.cfg.Kernel, Err: fmt.Errorf("%w: %w", ErrConfiguration, err)}
		}
		if err := s.placeImage(BlobKernel, img); err != nil {
			return err
		}
		plan.Kernel = &Placement{Path: s.cfg.Kernel, Format: img.Format, Start: img.Start(), End: img.End(), Entry: img.Entry}
		plan.KernelEntry = img.Entry
		plan.Entry = img.Entry
	}

	if s.cfg.Initrd != "" {
		data, err := os.ReadFile(s.cfg.Initrd)
		if err != nil {
			return &Error{Op: "load initrd", Path: s.cfg.Initrd, Err: fmt.Errorf("%w: %w", ErrConfiguration, err)}
		}
		if len(data) == 0 {
			return &Error{Op: "load initrd", Path: s.cfg.Initrd, Err: fmt.Errorf("%w: %w", ErrConfiguration, loader.ErrEmptyImage)}
		}
		start := loader.InitrdStart(plan.KernelEntry, dram.Size)
		end := start + uint64(len(data))
		if err := s.place(BlobInitrd, data, start); err != nil {
			return err
		}
		if err := devtree.SetInitrd(plan.Root, start, end); err != nil {
			return err
		}
		plan.Initrd = &Placement{Path: s.cfg.Initrd, Format: "raw", Start: start, End: end, Entry: start}
	}

	if s.cfg.Cmdline != "" {
		if err := devtree.SetBootArgs(plan.Root, s.cfg.Cmdline); err != nil {
			return err
		}
	}
	return nil
}

func (s *setup) placeTree() error {
	blob, err := fdt.Build(s.plan.Root)
	if err != nil {
		return err
	}
	dram := s.mem.MustLookup(memmap.DRAM)
	addr, err := loader.FDTAddress(dram.Base, dram.Size, len(blob))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if err := s.place(BlobFDT, blob, addr); err != nil {
		return err
	}
	s.plan.DTB = blob
	s.plan.FDTAddr = addr
	return nil
}

func (s *setup) bootROM() error {
	plan := s.plan
	is32 := s.cfg.Is32Bit()
	mrom := s.mem.MustLookup(memmap.MROM)

	plan.Vector = bootrom.Compose(plan.Entry, plan.FDTAddr, is32)
	plan.FirmwareInfo = bootrom.NewFirmwareInfo(plan.KernelEntry)
	rom, err := bootrom.Image(plan.Vector, plan.FirmwareInfo, is32, mrom.Size)
	if err != nil {
		return err
	}

	if err := s.place(BlobFinfo, rom[bootrom.VectorSize:], mrom.Base+bootrom.VectorSize); err != nil {
		return err
	}
	if err := s.place(BlobReset, rom[:bootrom.VectorSize], mrom.Base); err != nil {
		return err
	}
	plan.ResetAddr = mrom.Base + bootrom.ResetOffset
	return nil
}
