package riscv

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyrange/ratona/internal/asm"
)

func words(t *testing.T, prog asm.Program) []uint32 {
	t.Helper()
	code := prog.Bytes()
	require.Zero(t, len(code)%4)
	out := make([]uint32, len(code)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	return out
}

func TestEncodings(t *testing.T) {
	tests := []struct {
		name string
		frag asm.Fragment
		want uint32
	}{
		{"auipc t0, 0", Auipc(T0, 0), 0x00000297},
		{"addi a2, t0, 44", Addi(A2, T0, 44), 0x02c28613},
		{"addi a0, a0, -16", Addi(A0, A0, -16), 0xff050513},
		{"csrr a0, mhartid", Csrr(A0, CSRMHartID), 0xf1402573},
		{"lw a1, 32(t0)", LoadWord(A1, T0, 32), 0x0202a583},
		{"lw t0, 24(t0)", LoadWord(T0, T0, 24), 0x0182a283},
		{"ld a1, 32(t0)", MovFromMemory(A1, T0, 32), 0x0202b583},
		{"ld t0, 24(t0)", MovFromMemory(T0, T0, 24), 0x0182b283},
		{"jr t0", Jr(T0), 0x00028067},
		{"word", Word(0xdeadbeef), 0xdeadbeef},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog, err := EmitProgram(tt.frag)
			require.NoError(t, err)
			assert.Equal(t, []uint32{tt.want}, words(t, prog))
		})
	}
}

func TestImmediateRange(t *testing.T) {
	_, err := EmitProgram(Addi(A0, A0, 2048))
	assert.Error(t, err)

	_, err = EmitProgram(Auipc(T0, 1<<19))
	assert.Error(t, err)

	_, err = EmitProgram(Csrr(A0, 0x1000))
	assert.Error(t, err)
}

func TestForwardLabels(t *testing.T) {
	prog, err := EmitProgram(asm.Group{
		asm.MarkLabel("here"),
		Auipc(T0, 0),
		LoadLabel(A1, T0, "data", "here", true),
		AddiLabel(A2, T0, "after", "here"),
		asm.MarkLabel("data"),
		Dword(0x1122334455667788),
		asm.MarkLabel("after"),
	})
	require.NoError(t, err)

	got := words(t, prog)
	assert.Equal(t, []uint32{0x00000297, 0x00c2b583, 0x01428613, 0x55667788, 0x11223344}, got)

	off, ok := prog.Label("data")
	require.True(t, ok)
	assert.Equal(t, 12, off)
}

func TestLabelLoadWidth(t *testing.T) {
	prog, err := EmitProgram(asm.Group{
		asm.MarkLabel("here"),
		Auipc(T0, 0),
		LoadLabel(T0, T0, "data", "here", false),
		asm.MarkLabel("data"),
		Word(0x80000000),
	})
	require.NoError(t, err)
	assert.Equal(t, []uint32{0x00000297, 0x0082a283, 0x80000000}, words(t, prog))
}

func TestLabelOutOfRange(t *testing.T) {
	pad := make(asm.Group, 0, 1024)
	for i := 0; i < 1024; i++ {
		pad = append(pad, Word(0))
	}
	_, err := EmitProgram(asm.Group{
		asm.MarkLabel("here"),
		AddiLabel(A2, T0, "far", "here"),
		pad,
		asm.MarkLabel("far"),
	})
	assert.Error(t, err)
}

func TestUndefinedLabel(t *testing.T) {
	_, err := EmitProgram(asm.Group{
		asm.MarkLabel("here"),
		LoadLabel(A1, T0, "missing", "here", false),
	})
	assert.Error(t, err)
}

func TestDuplicateLabel(t *testing.T) {
	_, err := EmitProgram(asm.Group{
		asm.MarkLabel("x"),
		Word(0),
		asm.MarkLabel("x"),
	})
	assert.Error(t, err)
}
