package riscv

import (
	"fmt"

	"github.com/tinyrange/ratona/internal/asm"
)

type emitter struct {
	code      []byte
	labels    map[asm.Label]int
	resolving bool
}

// EmitBytes implements asm.Context.
func (e *emitter) EmitBytes(data []byte) {
	e.code = append(e.code, data...)
}

// Len implements asm.Context.
func (e *emitter) Len() int { return len(e.code) }

// GetLabel implements asm.Context.
func (e *emitter) GetLabel(label asm.Label) (int, bool) {
	if e.labels == nil {
		return 0, false
	}
	offset, ok := e.labels[label]
	return offset, ok
}

// SetLabel implements asm.Context.
func (e *emitter) SetLabel(label asm.Label) {
	if e.labels == nil {
		e.labels = make(map[asm.Label]int)
	}
	e.labels[label] = len(e.code)
}

// Resolving reports whether forward references may still be unresolved.
func (e *emitter) Resolving() bool { return e.resolving }

// EmitProgram lowers the provided fragment into an asm.Program. Every
// fragment has a fixed size, so a first pass places the labels and a second
// pass emits the final encodings.
func EmitProgram(frag asm.Fragment) (asm.Program, error) {
	if frag == nil {
		return asm.Program{}, fmt.Errorf("riscv: fragment must be non-nil")
	}

	layout := &emitter{
		code:      make([]byte, 0, 64),
		labels:    make(map[asm.Label]int),
		resolving: true,
	}
	if err := frag.Emit(layout); err != nil {
		return asm.Program{}, err
	}

	em := &emitter{
		code:   make([]byte, 0, len(layout.code)),
		labels: layout.labels,
	}
	if err := frag.Emit(em); err != nil {
		return asm.Program{}, err
	}
	if len(em.code) != len(layout.code) {
		return asm.Program{}, fmt.Errorf("riscv: program size changed between passes (%d != %d)", len(layout.code), len(em.code))
	}

	return asm.NewProgram(em.code, em.labels), nil
}
