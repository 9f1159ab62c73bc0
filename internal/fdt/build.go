package fdt

// Build serializes the tree rooted at root into an FDT blob. Each node emits
// its properties in insertion order followed by its children.
func Build(root *Node) ([]byte, error) {
	b := NewBuilder()
	emitNode(b, root)
	return b.Build()
}

func emitNode(b *Builder, n *Node) {
	b.BeginNode(n.name)
	for _, p := range n.properties {
		b.AddProperty(p.Name, p.Value.Encode())
	}
	for _, child := range n.children {
		emitNode(b, child)
	}
	b.EndNode()
}
