package devtree

import (
	"fmt"

	"github.com/tinyrange/ratona/internal/fdt"
)

func chosenNode(root *fdt.Node) (*fdt.Node, error) {
	if n := root.Subnode("chosen"); n != nil {
		return n, nil
	}
	n, err := root.AddSubnode("chosen")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvariant, err)
	}
	return n, nil
}

// SetBootArgs sets /chosen/bootargs, creating /chosen when needed.
func SetBootArgs(root *fdt.Node, cmdline string) error {
	chosen, err := chosenNode(root)
	if err != nil {
		return err
	}
	chosen.SetProp("bootargs", fdt.String(cmdline))
	return nil
}

// SetInitrd records the initial ramdisk range [start, end) in /chosen.
func SetInitrd(root *fdt.Node, start, end uint64) error {
	if end < start {
		return fmt.Errorf("devtree: initrd end 0x%x before start 0x%x", end, start)
	}
	chosen, err := chosenNode(root)
	if err != nil {
		return err
	}
	chosen.SetProp("linux,initrd-start", fdt.U64(start))
	chosen.SetProp("linux,initrd-end", fdt.U64(end))
	return nil
}
