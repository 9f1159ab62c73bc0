package asm

import (
	"fmt"
)

// Variable names a machine register.
type Variable int

// Context receives the output of fragments as they are emitted.
type Context interface {
	EmitBytes(data []byte)
	// Len returns the number of bytes emitted so far.
	Len() int

	GetLabel(label Label) (int, bool)
	SetLabel(label Label)
}

// Fragment is a piece of code or data that can be emitted into a Context.
type Fragment interface {
	Emit(ctx Context) error
}

type Group []Fragment

var (
	_ Fragment = Group{}
)

func (g Group) Emit(ctx Context) error {
	for _, frag := range g {
		if err := frag.Emit(ctx); err != nil {
			return err
		}
	}
	return nil
}

type Label string

type labelDef struct {
	label Label
}

func MarkLabel(label Label) Fragment {
	return &labelDef{label: label}
}

func (l *labelDef) Emit(ctx Context) error {
	if off, exists := ctx.GetLabel(l.label); exists {
		// Emitters that resolve forward references run fragments twice;
		// the second pass sees the label already placed at this offset.
		if off == ctx.Len() {
			return nil
		}
		return fmt.Errorf("label %q already defined", l.label)
	}
	ctx.SetLabel(l.label)
	return nil
}

type Program struct {
	code   []byte
	labels map[Label]int
}

func (p Program) Bytes() []byte {
	return append([]byte(nil), p.code...)
}

func (p Program) Len() int { return len(p.code) }

// Label returns the offset of a label defined in the program.
func (p Program) Label(label Label) (int, bool) {
	off, ok := p.labels[label]
	return off, ok
}

func NewProgram(code []byte, labels map[Label]int) Program {
	copied := make(map[Label]int, len(labels))
	for k, v := range labels {
		copied[k] = v
	}
	return Program{
		code:   append([]byte(nil), code...),
		labels: copied,
	}
}
