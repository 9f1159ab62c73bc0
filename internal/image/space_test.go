package image

import (
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyrange/ratona/internal/memmap"
)

func newTestSpace(t *testing.T) *Space {
	t.Helper()
	s := NewSpace("rv64imac")
	require.NoError(t, s.RegisterMemoryRegion("mrom", 0x1000, 0xf000, memmap.ROM))
	require.NoError(t, s.RegisterMemoryRegion("plic", 0xc000000, 0x4000000, memmap.MMIO))
	require.NoError(t, s.RegisterMemoryRegion("dram", 0x80000000, 0x100000, memmap.RAM))
	return s
}

func TestRegisterMemoryRegion(t *testing.T) {
	s := newTestSpace(t)

	err := s.RegisterMemoryRegion("alias", 0x80080000, 0x1000, memmap.RAM)
	assert.ErrorIs(t, err, ErrOverlap)

	assert.Error(t, s.RegisterMemoryRegion("dram", 0x90000000, 0x1000, memmap.RAM))
	assert.Error(t, s.RegisterMemoryRegion("empty", 0x90000000, 0, memmap.RAM))
	assert.Error(t, s.RegisterMemoryRegion("wrap", ^uint64(0)-0xf, 0x100, memmap.RAM))

	snap := s.Snapshot()
	require.Len(t, snap.Regions, 3)
	assert.Equal(t, "mrom", snap.Regions[0].Name)
	assert.Equal(t, "dram", snap.Regions[2].Name)
}

func TestLoadBlobFixed(t *testing.T) {
	s := newTestSpace(t)

	require.NoError(t, s.LoadBlobFixed("fw", []byte{1, 2, 3, 4}, 0x80000000))

	err := s.LoadBlobFixed("clash", []byte{9}, 0x80000003)
	assert.ErrorIs(t, err, ErrOverlap)

	err = s.LoadBlobFixed("hole", []byte{9}, 0x70000000)
	assert.ErrorIs(t, err, ErrUnmapped)

	err = s.LoadBlobFixed("device", []byte{9}, 0xc000000)
	assert.ErrorIs(t, err, ErrUnmapped)

	err = s.LoadBlobFixed("tail", []byte{1, 2}, 0x800fffff)
	assert.ErrorIs(t, err, ErrUnmapped)

	assert.Error(t, s.LoadBlobFixed("empty", nil, 0x80001000))

	require.NoError(t, s.LoadBlobFixed("next", []byte{5}, 0x80000004))
	b, ok := s.Blob("next")
	require.True(t, ok)
	assert.Equal(t, uint64(0x80000004), b.Addr)
}

func TestLoadBlobCopiesData(t *testing.T) {
	s := newTestSpace(t)
	data := []byte{1, 2, 3}
	require.NoError(t, s.LoadBlobFixed("fw", data, 0x80000000))
	data[0] = 0xff

	b, ok := s.Blob("fw")
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, b.Data)
}

func TestConnectInterruptLine(t *testing.T) {
	s := newTestSpace(t)

	require.NoError(t, s.ConnectInterruptLine("plic", 4, "uart0"))
	require.NoError(t, s.ConnectInterruptLine("plic", 51, "qspi0"))
	assert.Error(t, s.ConnectInterruptLine("plic", 4, "other"))
	assert.Error(t, s.ConnectInterruptLine("plic", 0, "zero"))
	assert.Error(t, s.ConnectInterruptLine("gic", 1, "uart0"))

	assert.Equal(t, []Line{
		{Controller: "plic", Line: 4, Device: "uart0"},
		{Controller: "plic", Line: 51, Device: "qspi0"},
	}, s.Snapshot().Lines)
}

func TestISAString(t *testing.T) {
	s := NewSpace("rv64imac")
	s.SetISA(1, "rv64gc")

	isa, err := s.ISAString(0)
	require.NoError(t, err)
	assert.Equal(t, "rv64imac", isa)

	isa, err = s.ISAString(1)
	require.NoError(t, err)
	assert.Equal(t, "rv64gc", isa)

	_, err = s.ISAString(-1)
	assert.ErrorIs(t, err, ErrNoISA)

	_, err = NewSpace("").ISAString(0)
	assert.ErrorIs(t, err, ErrNoISA)
}

func TestReadAt(t *testing.T) {
	s := newTestSpace(t)
	require.NoError(t, s.LoadBlobFixed("a", []byte{0xaa, 0xbb}, 0x80000002))
	require.NoError(t, s.LoadBlobFixed("b", []byte{0xcc}, 0x80000005))

	buf := make([]byte, 8)
	n, err := s.ReadAt(buf, 0x80000000)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, []byte{0, 0, 0xaa, 0xbb, 0, 0xcc, 0, 0}, buf)

	n, err = s.ReadAt(buf, 0x800ffffc)
	assert.Equal(t, 4, n)
	assert.ErrorIs(t, err, io.EOF)

	_, err = s.ReadAt(buf, 0x70000000)
	assert.ErrorIs(t, err, ErrUnmapped)
}

func TestContents(t *testing.T) {
	s := newTestSpace(t)
	require.NoError(t, s.LoadBlobFixed("vec", []byte{0x97, 0x02}, 0x1004))

	rom, err := s.Contents("mrom")
	require.NoError(t, err)
	assert.Len(t, rom, 0xf000)
	assert.Equal(t, []byte{0, 0, 0, 0, 0x97, 0x02}, rom[:6])

	_, err = s.Contents("plic")
	assert.ErrorIs(t, err, ErrUnmapped)
	_, err = s.Contents("nope")
	assert.Error(t, err)
}

func TestSeal(t *testing.T) {
	s := newTestSpace(t)
	s.Seal()
	assert.True(t, s.Sealed())

	assert.ErrorIs(t, s.LoadBlobFixed("late", []byte{1}, 0x80000000), ErrSealed)
	assert.ErrorIs(t, s.RegisterMemoryRegion("late", 0x90000000, 0x1000, memmap.RAM), ErrSealed)
	assert.ErrorIs(t, s.ConnectInterruptLine("plic", 9, "late"), ErrSealed)
}

func TestConcurrentPlacement(t *testing.T) {
	s := newTestSpace(t)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.LoadBlobFixed("blob", []byte{byte(i)}, 0x80000000+uint64(i)*0x10))
		}(i)
	}
	wg.Wait()
	s.Seal()

	assert.Len(t, s.Snapshot().Blobs, 16)
}
