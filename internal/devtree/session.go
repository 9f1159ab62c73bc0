package devtree

import (
	"errors"
	"fmt"

	"github.com/tinyrange/ratona/internal/fdt"
)

// ErrInvariant reports a defect in tree construction rather than bad input.
var ErrInvariant = errors.New("devtree: internal invariant violated")

// Session allocates phandles for one tree build. Handles start at 1 and are
// never reused. A Session must not be shared between builds.
type Session struct {
	next   fdt.Handle
	byPath map[string]fdt.Handle
	labels map[string]fdt.Handle
}

// NewSession returns a session whose first handle is 1.
func NewSession() *Session {
	return &Session{
		next:   1,
		byPath: make(map[string]fdt.Handle),
		labels: make(map[string]fdt.Handle),
	}
}

// Allocate assigns the next handle to n, stores it as n's phandle property
// and records it under label when label is non-empty.
func (s *Session) Allocate(n *fdt.Node, label string) (fdt.Handle, error) {
	if _, ok := s.byPath[n.Path()]; ok {
		return 0, fmt.Errorf("%w: %s already has a handle", ErrInvariant, n.Path())
	}
	if label != "" {
		if _, ok := s.labels[label]; ok {
			return 0, fmt.Errorf("%w: label %q already in use", ErrInvariant, label)
		}
	}
	h := s.next
	s.next++
	s.byPath[n.Path()] = h
	if label != "" {
		s.labels[label] = h
	}
	n.SetProp("phandle", fdt.U32(uint32(h)))
	return h, nil
}

// Resolve returns the handle allocated to the node at path.
func (s *Session) Resolve(path string) (fdt.Handle, error) {
	h, ok := s.byPath[path]
	if !ok {
		return 0, fmt.Errorf("%w: %s referenced before a handle was allocated", ErrInvariant, path)
	}
	return h, nil
}

// Labels returns a copy of the label table.
func (s *Session) Labels() map[string]fdt.Handle {
	out := make(map[string]fdt.Handle, len(s.labels))
	for k, v := range s.labels {
		out[k] = v
	}
	return out
}

// Allocated returns the number of handles handed out so far.
func (s *Session) Allocated() int { return int(s.next - 1) }
