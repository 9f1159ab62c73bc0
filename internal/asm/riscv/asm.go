package riscv

import (
	"encoding/binary"
	"fmt"

	"github.com/tinyrange/ratona/internal/asm"
)

const (
	X0 asm.Variable = iota
	X1
	X2
	X3
	X4
	X5
	X6
	X7
	X8
	X9
	X10
	X11
	X12
	X13
	X14
	X15
	X16
	X17
	X18
	X19
	X20
	X21
	X22
	X23
	X24
	X25
	X26
	X27
	X28
	X29
	X30
	X31
)

// ABI names used by boot code.
const (
	T0 = X5
	A0 = X10
	A1 = X11
	A2 = X12
)

// Machine-mode CSRs.
const (
	CSRMHartID uint32 = 0xf14
)

const (
	opLoad   = 0x03
	opOpImm  = 0x13
	opAuipc  = 0x17
	opJalr   = 0x67
	opSystem = 0x73

	f3LW    = 2
	f3LD    = 3
	f3CSRRS = 2
)

type immOp struct {
	rd  asm.Variable
	rs1 asm.Variable
	imm int32
	f3  uint32
	op  uint32
}

// Addi emits ADDI rd, rs1, imm.
func Addi(rd, rs1 asm.Variable, imm int32) asm.Fragment {
	return immOp{rd: rd, rs1: rs1, imm: imm, f3: 0, op: opOpImm}
}

// LoadWord emits LW rd, imm(rs1).
func LoadWord(rd, base asm.Variable, imm int32) asm.Fragment {
	return immOp{rd: rd, rs1: base, imm: imm, f3: f3LW, op: opLoad}
}

// MovFromMemory loads [rs1+imm] into rd using LD.
func MovFromMemory(rd, base asm.Variable, imm int32) asm.Fragment {
	return immOp{rd: rd, rs1: base, imm: imm, f3: f3LD, op: opLoad}
}

// Jr emits JALR x0, 0(rs).
func Jr(rs asm.Variable) asm.Fragment {
	return immOp{rd: X0, rs1: rs, imm: 0, f3: 0, op: opJalr}
}

func (i immOp) Emit(ctx asm.Context) error {
	insn, err := encodeI(i.imm, uint32(i.rs1), i.f3, uint32(i.rd), i.op)
	if err != nil {
		return err
	}
	emitInsn(ctx, insn)
	return nil
}

// labelOp is an I-type instruction whose immediate is the distance from
// anchor to target, the %pcrel_lo pairing used after an AUIPC.
type labelOp struct {
	build  func(imm int32) asm.Fragment
	target asm.Label
	anchor asm.Label
}

// AddiLabel emits ADDI rd, rs1, target-anchor.
func AddiLabel(rd, rs1 asm.Variable, target, anchor asm.Label) asm.Fragment {
	return labelOp{
		build:  func(imm int32) asm.Fragment { return Addi(rd, rs1, imm) },
		target: target,
		anchor: anchor,
	}
}

// LoadLabel loads target into rd with rs1 holding anchor's address. When
// wide is set LD is used, otherwise LW.
func LoadLabel(rd, rs1 asm.Variable, target, anchor asm.Label, wide bool) asm.Fragment {
	load := LoadWord
	if wide {
		load = MovFromMemory
	}
	return labelOp{
		build:  func(imm int32) asm.Fragment { return load(rd, rs1, imm) },
		target: target,
		anchor: anchor,
	}
}

func (l labelOp) Emit(ctx asm.Context) error {
	target, ok := ctx.GetLabel(l.target)
	anchor, ok2 := ctx.GetLabel(l.anchor)
	if !ok || !ok2 {
		if resolving, isPass := ctx.(interface{ Resolving() bool }); isPass && resolving.Resolving() {
			emitInsn(ctx, 0)
			return nil
		}
		return fmt.Errorf("riscv: undefined label %q or %q", l.target, l.anchor)
	}
	return l.build(int32(target - anchor)).Emit(ctx)
}

type auipc struct {
	rd  asm.Variable
	imm int32
}

// Auipc emits AUIPC rd, imm20.
func Auipc(rd asm.Variable, imm20 int32) asm.Fragment {
	return auipc{rd: rd, imm: imm20}
}

func (a auipc) Emit(ctx asm.Context) error {
	if a.imm < -(1<<19) || a.imm >= 1<<19 {
		return fmt.Errorf("riscv: immediate %d out of range for U-type", a.imm)
	}
	emitInsn(ctx, encodeU(a.imm, uint32(a.rd), opAuipc))
	return nil
}

type csrRead struct {
	rd  asm.Variable
	csr uint32
}

// Csrr emits CSRRS rd, csr, x0.
func Csrr(rd asm.Variable, csr uint32) asm.Fragment {
	return csrRead{rd: rd, csr: csr}
}

func (c csrRead) Emit(ctx asm.Context) error {
	if c.csr > 0xfff {
		return fmt.Errorf("riscv: csr 0x%x out of range", c.csr)
	}
	emitInsn(ctx, c.csr<<20|uint32(X0)<<15|f3CSRRS<<12|uint32(c.rd)<<7|opSystem)
	return nil
}

type word uint32

// Word emits a raw 32-bit little-endian data word.
func Word(v uint32) asm.Fragment { return word(v) }

func (w word) Emit(ctx asm.Context) error {
	emitInsn(ctx, uint32(w))
	return nil
}

type dword uint64

// Dword emits a 64-bit little-endian data value, low word first.
func Dword(v uint64) asm.Fragment { return dword(v) }

func (d dword) Emit(ctx asm.Context) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(d))
	ctx.EmitBytes(buf[:])
	return nil
}

func emitInsn(ctx asm.Context, insn uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], insn)
	ctx.EmitBytes(buf[:])
}

func encodeI(imm int32, rs1 uint32, funct3 uint32, rd uint32, opcode uint32) (uint32, error) {
	if imm < -2048 || imm > 2047 {
		return 0, fmt.Errorf("riscv: immediate %d out of range for I-type", imm)
	}
	uimm := uint32(imm) & 0xfff
	return (uimm << 20) | (rs1 << 15) | (funct3 << 12) | (rd << 7) | opcode, nil
}

func encodeU(imm int32, rd uint32, opcode uint32) uint32 {
	uimm := uint32(imm) & 0xfffff
	return (uimm << 12) | (rd << 7) | opcode
}
