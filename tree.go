package cm3

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// NodeChild is one of the two child slots of a tree node. Index >= 0 is an
// internal node, Index < 0 encodes leaf -1-Index.
type NodeChild struct {
	Min       mgl64.Vec3
	Index     int32
	Max       mgl64.Vec3
	LeafCount int32
}

// Bounds returns the slot bounds.
func (c *NodeChild) Bounds() BB {
	return BB{Min: c.Min, Max: c.Max}
}

func (c *NodeChild) setBounds(bb BB) {
	c.Min = bb.Min
	c.Max = bb.Max
}

// IsLeaf reports whether the slot holds a leaf.
func (c *NodeChild) IsLeaf() bool {
	return c.Index < 0
}

// Node holds two child slots.
type Node struct {
	A, B NodeChild
}

func (n *Node) child(i int32) *NodeChild {
	if i == 0 {
		return &n.A
	}
	return &n.B
}

// Metanode stores the parent link of a node, kept out of Node so traversal touches less memory.
type Metanode struct {
	Parent        int32
	IndexInParent int32
}

// Leaf locates a leaf: the node holding it and which of the node's slots.
type Leaf struct {
	NodeIndex  int32
	ChildIndex int32
}

// Encode converts a leaf index into a child slot index and back.
func Encode(index int32) int32 {
	return -1 - index
}

// Tree is a bounding volume hierarchy over leaf bounds. Node 0 is the root.
// Leaves are dense: removing a leaf moves the last leaf into its slot.
type Tree struct {
	Nodes     []Node
	Metanodes []Metanode
	Leaves    []Leaf
}

// NewTree returns an empty tree with room for capacity leaves.
func NewTree(capacity int) *Tree {
	return &Tree{
		Nodes:     make([]Node, 0, max(capacity-1, 1)),
		Metanodes: make([]Metanode, 0, max(capacity-1, 1)),
		Leaves:    make([]Leaf, 0, capacity),
	}
}

// LeafCount returns the number of leaves.
func (t *Tree) LeafCount() int {
	return len(t.Leaves)
}

// NodeCount returns the number of nodes.
func (t *Tree) NodeCount() int {
	return len(t.Nodes)
}

// Clear removes every leaf and node.
func (t *Tree) Clear() {
	t.Nodes = t.Nodes[:0]
	t.Metanodes = t.Metanodes[:0]
	t.Leaves = t.Leaves[:0]
}

func (t *Tree) allocateNode(parent, indexInParent int32) int32 {
	t.Nodes = append(t.Nodes, Node{})
	t.Metanodes = append(t.Metanodes, Metanode{Parent: parent, IndexInParent: indexInParent})
	return int32(len(t.Nodes) - 1)
}

func (t *Tree) addLeaf(nodeIndex, childIndex int32) int32 {
	t.Leaves = append(t.Leaves, Leaf{NodeIndex: nodeIndex, ChildIndex: childIndex})
	return int32(len(t.Leaves) - 1)
}

// GetBounds returns the bounds stored for a leaf.
func (t *Tree) GetBounds(leafIndex int) BB {
	leaf := t.Leaves[leafIndex]
	return t.Nodes[leaf.NodeIndex].child(leaf.ChildIndex).Bounds()
}

// RootBounds returns the union of every leaf.
func (t *Tree) RootBounds() BB {
	switch len(t.Leaves) {
	case 0:
		return EmptyBB()
	case 1:
		return t.Nodes[0].A.Bounds()
	}
	return t.Nodes[0].A.Bounds().Merge(t.Nodes[0].B.Bounds())
}

// UpdateBounds overwrites a leaf's bounds. Ancestors are not touched until Refit.
func (t *Tree) UpdateBounds(leafIndex int, bb BB) {
	leaf := t.Leaves[leafIndex]
	t.Nodes[leaf.NodeIndex].child(leaf.ChildIndex).setBounds(bb)
}

// Add inserts a leaf with the given bounds and returns its index. The insertion
// point is chosen by the surface area increase of each candidate subtree.
func (t *Tree) Add(bb BB) int {
	leafIndex := int32(len(t.Leaves))
	switch len(t.Leaves) {
	case 0:
		t.allocateNode(-1, -1)
		t.Nodes[0].A = NodeChild{Min: bb.Min, Max: bb.Max, Index: Encode(leafIndex), LeafCount: 1}
		return int(t.addLeaf(0, 0))
	case 1:
		t.Nodes[0].B = NodeChild{Min: bb.Min, Max: bb.Max, Index: Encode(leafIndex), LeafCount: 1}
		return int(t.addLeaf(0, 1))
	}
	nodeIndex := int32(0)
	for {
		node := &t.Nodes[nodeIndex]
		a, b := node.A.Bounds(), node.B.Bounds()
		costA := b.Area() + a.MergedArea(bb)
		costB := a.Area() + b.MergedArea(bb)
		if costA == costB {
			costA = a.Proximity(bb)
			costB = b.Proximity(bb)
		}
		childIndex := int32(0)
		if costB < costA {
			childIndex = 1
		}
		slot := node.child(childIndex)
		merged := slot.Bounds().Merge(bb)
		if slot.IsLeaf() {
			old := *slot
			newNode := t.allocateNode(nodeIndex, childIndex)
			// allocateNode may have moved the node array.
			slot = t.Nodes[nodeIndex].child(childIndex)
			*slot = NodeChild{Min: merged.Min, Max: merged.Max, Index: newNode, LeafCount: 2}
			t.Nodes[newNode].A = old
			t.Nodes[newNode].B = NodeChild{Min: bb.Min, Max: bb.Max, Index: Encode(leafIndex), LeafCount: 1}
			t.Leaves[Encode(old.Index)] = Leaf{NodeIndex: newNode, ChildIndex: 0}
			return int(t.addLeaf(newNode, 1))
		}
		slot.setBounds(merged)
		slot.LeafCount++
		nodeIndex = slot.Index
	}
}

// RemoveAt removes a leaf. The last leaf is moved into the removed slot; its
// former index is returned, or -1 if the removed leaf was the last one.
func (t *Tree) RemoveAt(leafIndex int) int {
	assert(leafIndex >= 0 && leafIndex < len(t.Leaves), "cm3: leaf %d out of range [0, %d)", leafIndex, len(t.Leaves))
	leaf := t.Leaves[leafIndex]
	switch {
	case len(t.Leaves) == 1:
		t.Nodes = t.Nodes[:0]
		t.Metanodes = t.Metanodes[:0]
	case len(t.Leaves) == 2:
		root := &t.Nodes[0]
		if leaf.ChildIndex == 0 {
			root.A = root.B
			t.Leaves[Encode(root.A.Index)] = Leaf{NodeIndex: 0, ChildIndex: 0}
		}
		root.B = NodeChild{}
	default:
		t.collapseNode(leaf)
	}

	lastIndex := len(t.Leaves) - 1
	moved := -1
	if leafIndex != lastIndex {
		last := t.Leaves[lastIndex]
		t.Leaves[leafIndex] = last
		t.Nodes[last.NodeIndex].child(last.ChildIndex).Index = Encode(int32(leafIndex))
		moved = lastIndex
	}
	t.Leaves = t.Leaves[:lastIndex]
	return moved
}

// collapseNode removes the node holding leaf and lets the leaf's sibling take
// the node's place in its parent.
func (t *Tree) collapseNode(leaf Leaf) {
	nodeIndex := leaf.NodeIndex
	sibling := *t.Nodes[nodeIndex].child(1 - leaf.ChildIndex)
	meta := t.Metanodes[nodeIndex]
	if meta.Parent < 0 {
		// The leaf hangs off the root and its sibling is internal: pull the sibling up into the root.
		assert(!sibling.IsLeaf(), "cm3: root with more than two leaves holds two leaves")
		t.Nodes[0] = t.Nodes[sibling.Index]
		t.adoptChildren(0)
		t.removeNode(sibling.Index)
		return
	}
	slot := t.Nodes[meta.Parent].child(meta.IndexInParent)
	*slot = sibling
	if sibling.IsLeaf() {
		t.Leaves[Encode(sibling.Index)] = Leaf{NodeIndex: meta.Parent, ChildIndex: meta.IndexInParent}
	} else {
		t.Metanodes[sibling.Index] = Metanode{Parent: meta.Parent, IndexInParent: meta.IndexInParent}
	}
	for n := meta.Parent; t.Metanodes[n].Parent >= 0; n = t.Metanodes[n].Parent {
		up := t.Metanodes[n]
		node := &t.Nodes[n]
		s := t.Nodes[up.Parent].child(up.IndexInParent)
		s.setBounds(node.A.Bounds().Merge(node.B.Bounds()))
		s.LeafCount = node.A.LeafCount + node.B.LeafCount
	}
	t.removeNode(nodeIndex)
}

// adoptChildren points the children of nodeIndex back at it.
func (t *Tree) adoptChildren(nodeIndex int32) {
	node := &t.Nodes[nodeIndex]
	for i := int32(0); i < 2; i++ {
		c := node.child(i)
		if c.IsLeaf() {
			t.Leaves[Encode(c.Index)] = Leaf{NodeIndex: nodeIndex, ChildIndex: i}
		} else {
			t.Metanodes[c.Index] = Metanode{Parent: nodeIndex, IndexInParent: i}
		}
	}
}

// removeNode deletes a detached node by moving the last node into its slot.
func (t *Tree) removeNode(nodeIndex int32) {
	last := int32(len(t.Nodes) - 1)
	if nodeIndex != last {
		t.Nodes[nodeIndex] = t.Nodes[last]
		t.Metanodes[nodeIndex] = t.Metanodes[last]
		meta := t.Metanodes[nodeIndex]
		if meta.Parent >= 0 {
			t.Nodes[meta.Parent].child(meta.IndexInParent).Index = nodeIndex
		}
		t.adoptChildren(nodeIndex)
	}
	t.Nodes = t.Nodes[:last]
	t.Metanodes = t.Metanodes[:last]
}

// Refit recomputes every internal bound bottom up. Trees with two or fewer
// leaves keep the leaf bounds directly in the root and have nothing to refit.
func (t *Tree) Refit() {
	if len(t.Leaves) <= 2 {
		return
	}
	t.refitNode(0)
}

func (t *Tree) refitNode(nodeIndex int32) BB {
	node := &t.Nodes[nodeIndex]
	if !node.A.IsLeaf() {
		node.A.setBounds(t.refitNode(node.A.Index))
	}
	if !node.B.IsLeaf() {
		node.B.setBounds(t.refitNode(node.B.Index))
	}
	return node.A.Bounds().Merge(node.B.Bounds())
}

// Validate checks the structural links and that every internal bound equals the
// union of its node's children.
func (t *Tree) Validate() error {
	if len(t.Leaves) == 0 {
		if len(t.Nodes) != 0 {
			return fmt.Errorf("empty tree has %d nodes", len(t.Nodes))
		}
		return nil
	}
	if want := max(len(t.Leaves)-1, 1); len(t.Nodes) != want {
		return fmt.Errorf("tree with %d leaves has %d nodes, want %d", len(t.Leaves), len(t.Nodes), want)
	}
	if t.Metanodes[0].Parent != -1 {
		return fmt.Errorf("root has parent %d", t.Metanodes[0].Parent)
	}
	for i, leaf := range t.Leaves {
		slot := t.Nodes[leaf.NodeIndex].child(leaf.ChildIndex)
		if slot.Index != Encode(int32(i)) {
			return fmt.Errorf("leaf %d points at slot holding %d", i, slot.Index)
		}
	}
	if len(t.Leaves) == 1 {
		return nil
	}
	_, count, err := t.validateNode(0)
	if err != nil {
		return err
	}
	if int(count) != len(t.Leaves) {
		return fmt.Errorf("root reaches %d leaves, tree has %d", count, len(t.Leaves))
	}
	return nil
}

func (t *Tree) validateNode(nodeIndex int32) (BB, int32, error) {
	node := &t.Nodes[nodeIndex]
	total := int32(0)
	for i := int32(0); i < 2; i++ {
		c := node.child(i)
		if c.IsLeaf() {
			if c.LeafCount != 1 {
				return BB{}, 0, fmt.Errorf("leaf slot %d of node %d has leaf count %d", i, nodeIndex, c.LeafCount)
			}
			total++
			continue
		}
		meta := t.Metanodes[c.Index]
		if meta.Parent != nodeIndex || meta.IndexInParent != i {
			return BB{}, 0, fmt.Errorf("node %d has metanode %+v, want parent %d slot %d", c.Index, meta, nodeIndex, i)
		}
		bb, count, err := t.validateNode(c.Index)
		if err != nil {
			return BB{}, 0, err
		}
		if bb != c.Bounds() {
			return BB{}, 0, fmt.Errorf("slot %d of node %d holds %v, children union is %v", i, nodeIndex, c.Bounds(), bb)
		}
		if count != c.LeafCount {
			return BB{}, 0, fmt.Errorf("slot %d of node %d counts %d leaves, subtree has %d", i, nodeIndex, c.LeafCount, count)
		}
		total += count
	}
	return node.A.Bounds().Merge(node.B.Bounds()), total, nil
}
