package cm3

import (
	"slices"
)

// SweepBuild discards the tree's contents and builds a balanced hierarchy over
// bounds. Leaf i holds bounds[i].
//
// Each level sorts its leaves by centroid along the axis of greatest centroid
// spread and splits them at the median.
func (t *Tree) SweepBuild(bounds []BB) {
	t.Clear()
	n := len(bounds)
	if n == 0 {
		return
	}
	t.Leaves = slices.Grow(t.Leaves, n)[:n]
	t.allocateNode(-1, -1)
	if n <= 2 {
		for i := range n {
			*t.Nodes[0].child(int32(i)) = NodeChild{Min: bounds[i].Min, Max: bounds[i].Max, Index: Encode(int32(i)), LeafCount: 1}
			t.Leaves[i] = Leaf{NodeIndex: 0, ChildIndex: int32(i)}
		}
		return
	}
	indices := make([]int32, n)
	for i := range indices {
		indices[i] = int32(i)
	}
	t.buildNode(0, indices, bounds)
}

func (t *Tree) buildNode(nodeIndex int32, indices []int32, bounds []BB) {
	centroids := EmptyBB()
	for _, i := range indices {
		centroids = centroids.Expand(bounds[i].Center())
	}
	span := centroids.Max.Sub(centroids.Min)
	axis := 0
	if span[1] > span[axis] {
		axis = 1
	}
	if span[2] > span[axis] {
		axis = 2
	}
	slices.SortStableFunc(indices, func(a, b int32) int {
		ca := bounds[a].Min[axis] + bounds[a].Max[axis]
		cb := bounds[b].Min[axis] + bounds[b].Max[axis]
		switch {
		case ca < cb:
			return -1
		case ca > cb:
			return 1
		}
		return 0
	})
	mid := len(indices) / 2
	halves := [2][]int32{indices[:mid], indices[mid:]}
	for c := int32(0); c < 2; c++ {
		half := halves[c]
		if len(half) == 1 {
			leaf := half[0]
			*t.Nodes[nodeIndex].child(c) = NodeChild{Min: bounds[leaf].Min, Max: bounds[leaf].Max, Index: Encode(leaf), LeafCount: 1}
			t.Leaves[leaf] = Leaf{NodeIndex: nodeIndex, ChildIndex: c}
			continue
		}
		childIndex := t.allocateNode(nodeIndex, c)
		t.buildNode(childIndex, half, bounds)
		child := &t.Nodes[childIndex]
		merged := child.A.Bounds().Merge(child.B.Bounds())
		*t.Nodes[nodeIndex].child(c) = NodeChild{
			Min:       merged.Min,
			Max:       merged.Max,
			Index:     childIndex,
			LeafCount: child.A.LeafCount + child.B.LeafCount,
		}
	}
}
