package board

import (
	"bytes"
	"encoding/binary"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyrange/ratona/internal/bootrom"
	"github.com/tinyrange/ratona/internal/devtree"
	"github.com/tinyrange/ratona/internal/fdt"
	"github.com/tinyrange/ratona/internal/image"
	"github.com/tinyrange/ratona/internal/loader"
)

var _ Platform = (*image.Space)(nil)

func writeFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0x13}, size), 0o644))
	return path
}

// testConfig returns the default board without firmware, adjusted by fn.
func testConfig(fn func(c *Config)) Config {
	cfg := DefaultConfig()
	cfg.Firmware = FirmwareNone
	if fn != nil {
		fn(&cfg)
	}
	return cfg
}

func blobNames(s *image.Space) []string {
	var names []string
	for _, b := range s.Snapshot().Blobs {
		names = append(names, b.Name)
	}
	return names
}

func TestSetupWithoutImages(t *testing.T) {
	space := image.NewSpace(DefaultISA(64))
	plan, err := Setup(space, testConfig(func(c *Config) {
		c.CPUs = 2
		c.Memory = 1 << 30
	}))
	require.NoError(t, err)

	assert.Equal(t, uint64(0x80000000), plan.Entry)
	assert.Equal(t, uint64(0), plan.KernelEntry)
	assert.Equal(t, uint64(0xbfe00000), plan.FDTAddr)
	assert.Equal(t, uint64(0x1004), plan.ResetAddr)
	assert.Nil(t, plan.Firmware)
	assert.Nil(t, plan.Kernel)
	require.NotNil(t, plan.Tree)
	assert.Equal(t, []string{DefaultISA(64), DefaultISA(64)}, plan.ISA)

	assert.Equal(t, []string{BlobFDT, BlobFinfo, BlobReset}, blobNames(space))

	rom, err := space.Contents("mrom")
	require.NoError(t, err)
	assert.Equal(t, plan.Vector.Bytes(), rom[:bootrom.VectorSize])
	assert.Equal(t, uint64(bootrom.FirmwareInfoMagic), binary.LittleEndian.Uint64(rom[48:]))
	assert.Equal(t, uint64(0), binary.LittleEndian.Uint64(rom[48+16:]), "next_addr")

	fdtBlob, ok := space.Blob(BlobFDT)
	require.True(t, ok)
	assert.Equal(t, plan.DTB, fdtBlob.Data)
	assert.Equal(t, plan.FDTAddr, plan.Vector.FDT())

	assert.Equal(t, []image.Line{
		{Controller: "plic", Line: devtree.UART0IRQ, Device: "uart0"},
		{Controller: "plic", Line: devtree.QSPI0IRQ, Device: "qspi0"},
	}, space.Snapshot().Lines)

	assert.Equal(t, "MS,MS", plan.PLIC.HartConfig)
	assert.Equal(t, uint64(0xc000000), plan.PLIC.Base)
}

func TestSetupFullBoot(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, loader.DefaultFirmwareName(false), 0x1000)
	kernel := writeFile(t, dir, "Image", 0x100)
	initrd := writeFile(t, dir, "initrd.cpio", 0x80)

	space := image.NewSpace(DefaultISA(64))
	plan, err := Setup(space, testConfig(func(c *Config) {
		c.Memory = 1 << 30
		c.Firmware = ""
		c.Kernel = kernel
		c.Initrd = initrd
		c.Cmdline = "console=ttySIF0"
		c.DataDirs = []string{dir}
	}))
	require.NoError(t, err)

	require.NotNil(t, plan.Firmware)
	assert.Equal(t, uint64(0x80001000), plan.FirmwareEnd)
	require.NotNil(t, plan.Kernel)
	assert.Equal(t, uint64(0x80200000), plan.Kernel.Start)
	assert.Equal(t, uint64(0x80200000), plan.KernelEntry)
	assert.Equal(t, uint64(0x80200000), plan.Entry)
	assert.Equal(t, uint64(0x80200000), plan.Vector.Entry())
	assert.Equal(t, uint64(0x80200000), plan.FirmwareInfo.NextAddr)

	require.NotNil(t, plan.Initrd)
	assert.Equal(t, uint64(0x88200000), plan.Initrd.Start)
	assert.Equal(t, uint64(0x88200080), plan.Initrd.End)

	assert.Equal(t, []string{BlobFirmware, BlobKernel, BlobInitrd, BlobFDT, BlobFinfo, BlobReset}, blobNames(space))

	root, err := fdt.Parse(plan.DTB)
	require.NoError(t, err)
	chosen := root.Lookup("/chosen")
	require.NotNil(t, chosen)
	v, ok := chosen.Prop("bootargs")
	require.True(t, ok)
	args, _ := v.Str()
	assert.Equal(t, "console=ttySIF0", args)
	v, ok = chosen.Prop("linux,initrd-start")
	require.True(t, ok)
	cells, _ := v.Cells()
	assert.Equal(t, []uint32{0, 0x88200000}, cells)
}

func TestSetup32Bit(t *testing.T) {
	dir := t.TempDir()
	kernel := writeFile(t, dir, "Image", 0x40)

	space := image.NewSpace(DefaultISA(32))
	plan, err := Setup(space, testConfig(func(c *Config) {
		c.XLEN = 32
		c.Memory = 512 << 20
		c.Kernel = kernel
	}))
	require.NoError(t, err)

	assert.Equal(t, uint64(0x80000000), plan.Kernel.Start)
	assert.Equal(t, uint32(0), plan.Vector[8])
	assert.Equal(t, uint32(0x0202a583), plan.Vector[4])

	rom, err := space.Contents("mrom")
	require.NoError(t, err)
	assert.Equal(t, uint32(bootrom.FirmwareInfoMagic), binary.LittleEndian.Uint32(rom[48:]))
	assert.Equal(t, uint32(0x80000000), binary.LittleEndian.Uint32(rom[48+8:]), "next_addr")
}

func TestSetupISAFromPlatform(t *testing.T) {
	space := image.NewSpace(DefaultISA(64))
	space.SetISA(1, "rv64imac")

	plan, err := Setup(space, testConfig(func(c *Config) { c.CPUs = 2 }))
	require.NoError(t, err)

	cpu1 := plan.Root.Lookup("/cpus/cpu@1")
	require.NotNil(t, cpu1)
	v, ok := cpu1.Prop("riscv,isa")
	require.True(t, ok)
	isa, _ := v.Str()
	assert.Equal(t, "rv64imac", isa)
}

func TestSetupExternalDTB(t *testing.T) {
	mem := image.NewSpace(DefaultISA(64))
	first, err := Setup(mem, testConfig(func(c *Config) { c.CPUs = 4 }))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "board.dtb")
	require.NoError(t, os.WriteFile(path, first.DTB, 0o644))

	space := image.NewSpace(DefaultISA(64))
	plan, err := Setup(space, testConfig(func(c *Config) {
		c.DTB = path
		c.Cmdline = "quiet"
	}))
	require.NoError(t, err)

	assert.Nil(t, plan.Tree)
	assert.NotNil(t, plan.Root.Lookup("/cpus/cpu@3"))
	v, ok := plan.Root.Lookup("/chosen").Prop("bootargs")
	require.True(t, ok)
	args, _ := v.Str()
	assert.Equal(t, "quiet", args)
}

func TestSetupErrors(t *testing.T) {
	dir := t.TempDir()
	garbage := writeFile(t, dir, "bad.dtb", 64)

	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero value", Config{}},
		{"zero cpus", testConfig(func(c *Config) { c.CPUs = 0 })},
		{"negative cpus", testConfig(func(c *Config) { c.CPUs = -1 })},
		{"too many cpus", testConfig(func(c *Config) { c.CPUs = devtree.MaxCPUs + 1 })},
		{"zero memory", testConfig(func(c *Config) { c.Memory = 0 })},
		{"zero xlen", testConfig(func(c *Config) { c.XLEN = 0 })},
		{"bad xlen", testConfig(func(c *Config) { c.XLEN = 48 })},
		{"isa count", testConfig(func(c *Config) {
			c.CPUs = 2
			c.ISA = []string{"rv64gc"}
		})},
		{"initrd without kernel", testConfig(func(c *Config) { c.Initrd = "initrd" })},
		{"missing firmware", testConfig(func(c *Config) {
			c.Firmware = ""
			c.DataDirs = []string{dir}
		})},
		{"missing kernel", testConfig(func(c *Config) { c.Kernel = filepath.Join(dir, "nope") })},
		{"malformed dtb", testConfig(func(c *Config) { c.DTB = garbage })},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Setup(image.NewSpace(DefaultISA(64)), tt.cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfiguration)
			var be *Error
			assert.True(t, errors.As(err, &be))
		})
	}
}

func TestSetupPlatformErrors(t *testing.T) {
	space := image.NewSpace(DefaultISA(64))
	require.NoError(t, space.RegisterMemoryRegion("shadow", 0x80000000, 0x1000, RegionRAM))

	_, err := Setup(space, testConfig(nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, image.ErrOverlap)
	var be *Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "register regions", be.Op)

	_, err = Setup(image.NewSpace(""), testConfig(nil))
	assert.ErrorIs(t, err, image.ErrNoISA)
}

func TestSetupLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	_, err := Setup(image.NewSpace(DefaultISA(64)), testConfig(nil), WithLogger(logger))
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "name=mrom.reset")
	assert.Contains(t, out, "addr=0x1000")
	assert.Contains(t, out, "board ready")
}

func TestPLICConfig(t *testing.T) {
	assert.Equal(t, "MS", HartConfigString(1))
	assert.Equal(t, "MS,MS,MS", HartConfigString(3))

	p := newPLICConfig(0xc000000, 0x4000000, 2)
	assert.Equal(t, 4, p.Contexts())
	assert.Equal(t, uint64(0xc201000), p.ContextAddr(1))
	assert.Equal(t, uint64(0xc002080), p.EnableAddr(1))
	assert.Equal(t, uint32(54), p.NumSources)
}

func TestErrorFormat(t *testing.T) {
	err := &Error{Op: "load kernel", Path: "/tmp/Image", Err: os.ErrNotExist}
	assert.Equal(t, "load kernel /tmp/Image: file does not exist", err.Error())
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, "setup: x", (&Error{Op: "setup", Err: errors.New("x")}).Error())
}
