// Package fdt models device-tree nodes and converts them to and from the
// Flattened Device Tree (FDT) blob format.
package fdt

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDuplicateNode = errors.New("fdt: duplicate sibling node")
	ErrInvalidName   = errors.New("fdt: invalid node name")
)

// Handle is a phandle: a small integer other nodes use to reference a node.
type Handle uint32

// Property is a named value attached to a node.
type Property struct {
	Name  string
	Value Value
}

// Node is one entry of the device tree. Paths are fixed when a node is
// created and never change.
type Node struct {
	name       string
	path       string
	properties []Property
	children   []*Node
}

// NewRoot returns an empty root node ("/").
func NewRoot() *Node {
	return &Node{path: "/"}
}

// Name returns the node's unit name ("" for the root).
func (n *Node) Name() string { return n.name }

// Path returns the node's absolute path.
func (n *Node) Path() string { return n.path }

// Properties returns the node's properties in insertion order.
func (n *Node) Properties() []Property {
	return append([]Property(nil), n.properties...)
}

// Children returns the node's subnodes in blob order.
func (n *Node) Children() []*Node {
	return append([]*Node(nil), n.children...)
}

// AddSubnode creates a child named name. Like the FDT editing library the
// firmware consumers are built against, the new node is inserted before any
// existing siblings.
func (n *Node) AddSubnode(name string) (*Node, error) {
	child, err := n.newChild(name)
	if err != nil {
		return nil, err
	}
	n.children = append([]*Node{child}, n.children...)
	return child, nil
}

// AppendSubnode creates a child named name after all existing siblings.
func (n *Node) AppendSubnode(name string) (*Node, error) {
	child, err := n.newChild(name)
	if err != nil {
		return nil, err
	}
	n.children = append(n.children, child)
	return child, nil
}

func (n *Node) newChild(name string) (*Node, error) {
	if name == "" || strings.ContainsAny(name, "/\x00") {
		return nil, fmt.Errorf("%w: %q under %s", ErrInvalidName, name, n.path)
	}
	if n.Subnode(name) != nil {
		return nil, fmt.Errorf("%w: %s under %s", ErrDuplicateNode, name, n.path)
	}
	return &Node{name: name, path: joinPath(n.path, name)}, nil
}

// Subnode returns the direct child called name, or nil.
func (n *Node) Subnode(name string) *Node {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

// Lookup resolves an absolute path relative to n, which must be the root.
func (n *Node) Lookup(path string) *Node {
	if path == "/" {
		return n
	}
	cur := n
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		if cur = cur.Subnode(part); cur == nil {
			return nil
		}
	}
	return cur
}

// SetProp sets a property. An existing property keeps its position.
func (n *Node) SetProp(name string, v Value) {
	for i := range n.properties {
		if n.properties[i].Name == name {
			n.properties[i].Value = v
			return
		}
	}
	n.properties = append(n.properties, Property{Name: name, Value: v})
}

// Prop returns the value of the named property.
func (n *Node) Prop(name string) (Value, bool) {
	for _, p := range n.properties {
		if p.Name == name {
			return p.Value, true
		}
	}
	return Value{}, false
}

// Phandle returns the node's phandle, falling back to the legacy
// linux,phandle property.
func (n *Node) Phandle() (Handle, bool) {
	v, ok := n.Prop("phandle")
	if !ok {
		v, ok = n.Prop("linux,phandle")
	}
	if !ok {
		return 0, false
	}
	h, ok := v.U32()
	return Handle(h), ok
}

// Walk visits n and its descendants depth first, parents before children.
func (n *Node) Walk(fn func(*Node) error) error {
	if err := fn(n); err != nil {
		return err
	}
	for _, c := range n.children {
		if err := c.Walk(fn); err != nil {
			return err
		}
	}
	return nil
}

func joinPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}
