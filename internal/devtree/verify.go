package devtree

import (
	"fmt"

	"github.com/tinyrange/ratona/internal/fdt"
)

// Verify checks that handles are unique and that every interrupt-parent,
// clocks and interrupts-extended reference names an existing node.
func Verify(root *fdt.Node) error {
	nodes := make(map[fdt.Handle]*fdt.Node)
	err := root.Walk(func(n *fdt.Node) error {
		h, ok := n.Phandle()
		if !ok {
			return nil
		}
		if h == 0 || h == 0xffffffff {
			return fmt.Errorf("%w: %s has reserved handle 0x%x", ErrInvariant, n.Path(), uint32(h))
		}
		if prev, dup := nodes[h]; dup {
			return fmt.Errorf("%w: handle %d used by %s and %s", ErrInvariant, h, prev.Path(), n.Path())
		}
		nodes[h] = n
		return nil
	})
	if err != nil {
		return err
	}

	return root.Walk(func(n *fdt.Node) error {
		if v, ok := n.Prop("interrupt-parent"); ok {
			h, ok := v.U32()
			if !ok {
				return fmt.Errorf("%w: %s/interrupt-parent is not a single cell", ErrInvariant, n.Path())
			}
			if _, ok := nodes[fdt.Handle(h)]; !ok {
				return dangling(n, "interrupt-parent", h)
			}
		}
		if err := checkSpecifiers(n, "clocks", "#clock-cells", nodes); err != nil {
			return err
		}
		return checkSpecifiers(n, "interrupts-extended", "#interrupt-cells", nodes)
	})
}

// checkSpecifiers walks a list of (handle, specifier...) entries where the
// specifier length is given by the referenced node's cellsProp.
func checkSpecifiers(n *fdt.Node, prop, cellsProp string, nodes map[fdt.Handle]*fdt.Node) error {
	v, ok := n.Prop(prop)
	if !ok {
		return nil
	}
	cells, ok := v.Cells()
	if !ok {
		return fmt.Errorf("%w: %s/%s is not a cell array", ErrInvariant, n.Path(), prop)
	}
	for i := 0; i < len(cells); {
		target, ok := nodes[fdt.Handle(cells[i])]
		if !ok {
			return dangling(n, prop, cells[i])
		}
		width := uint32(0)
		if w, ok := target.Prop(cellsProp); ok {
			if width, ok = w.U32(); !ok {
				return fmt.Errorf("%w: %s/%s is not a single cell", ErrInvariant, target.Path(), cellsProp)
			}
		}
		i += 1 + int(width)
		if i > len(cells) {
			return fmt.Errorf("%w: %s/%s truncated specifier for %s", ErrInvariant, n.Path(), prop, target.Path())
		}
	}
	return nil
}

func dangling(n *fdt.Node, prop string, h uint32) error {
	return fmt.Errorf("%w: %s/%s references unknown handle %d", ErrInvariant, n.Path(), prop, h)
}
