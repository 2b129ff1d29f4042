package cm3

import (
	"github.com/go-gl/mathgl/mgl64"
)

// GetOverlaps calls visit for every leaf whose bounds intersect bb.
func (t *Tree) GetOverlaps(bb BB, visit func(leafIndex int)) {
	switch len(t.Leaves) {
	case 0:
		return
	case 1:
		if t.Nodes[0].A.Bounds().Intersects(bb) {
			visit(0)
		}
		return
	}
	t.overlapsNode(0, bb, visit)
}

func (t *Tree) overlapsNode(nodeIndex int32, bb BB, visit func(leafIndex int)) {
	node := &t.Nodes[nodeIndex]
	t.overlapsChild(&node.A, bb, visit)
	t.overlapsChild(&node.B, bb, visit)
}

func (t *Tree) overlapsChild(c *NodeChild, bb BB, visit func(leafIndex int)) {
	if !c.Bounds().Intersects(bb) {
		return
	}
	if c.IsLeaf() {
		visit(int(Encode(c.Index)))
	} else {
		t.overlapsNode(c.Index, bb, visit)
	}
}

// RayTester is called for leaves whose bounds the ray enters before *maxT.
// Testers may shrink *maxT to prune the rest of the traversal.
type RayTester func(leafIndex int, maxT *float64)

// RayCast visits leaves along origin + t*direction, t in [0, *maxT], nearer
// subtrees first.
func (t *Tree) RayCast(origin, direction mgl64.Vec3, maxT *float64, test RayTester) {
	t.sweepCast(mgl64.Vec3{}, origin, direction, maxT, test)
}

// Sweep visits leaves touched by a box with the given half extents whose center
// moves along origin + t*direction, t in [0, *maxT].
func (t *Tree) Sweep(halfExtents, origin, direction mgl64.Vec3, maxT *float64, test RayTester) {
	t.sweepCast(halfExtents, origin, direction, maxT, test)
}

func (t *Tree) sweepCast(expansion, origin, direction mgl64.Vec3, maxT *float64, test RayTester) {
	if len(t.Leaves) == 0 {
		return
	}
	ray := treeRay{origin: origin, invDir: invDirection(direction), expansion: expansion}
	if len(t.Leaves) == 1 {
		if ray.entry(&t.Nodes[0].A, *maxT) != infinity {
			test(0, maxT)
		}
		return
	}
	t.rayNode(0, &ray, maxT, test)
}

type treeRay struct {
	origin, invDir, expansion mgl64.Vec3
}

func (r *treeRay) entry(c *NodeChild, maxT float64) float64 {
	return rayBoxT(c.Min.Sub(r.expansion), c.Max.Add(r.expansion), r.origin, r.invDir, maxT)
}

func (t *Tree) rayNode(nodeIndex int32, ray *treeRay, maxT *float64, test RayTester) {
	node := &t.Nodes[nodeIndex]
	tA := ray.entry(&node.A, *maxT)
	tB := ray.entry(&node.B, *maxT)
	first, second := &node.A, &node.B
	if tB < tA {
		first, second = second, first
		tA, tB = tB, tA
	}
	if tA != infinity {
		t.rayChild(first, ray, maxT, test)
	}
	// The first visit may have shrunk maxT past the second entry.
	if tB != infinity && tB <= *maxT {
		t.rayChild(second, ray, maxT, test)
	}
}

func (t *Tree) rayChild(c *NodeChild, ray *treeRay, maxT *float64, test RayTester) {
	if c.IsLeaf() {
		test(int(Encode(c.Index)), maxT)
	} else {
		t.rayNode(c.Index, ray, maxT, test)
	}
}

// GetSelfOverlaps calls visit once for every pair of leaves with intersecting bounds.
func (t *Tree) GetSelfOverlaps(visit func(a, b int)) {
	if len(t.Leaves) < 2 {
		return
	}
	t.selfNode(0, visit)
}

func (t *Tree) selfNode(nodeIndex int32, visit func(a, b int)) {
	node := &t.Nodes[nodeIndex]
	if !node.A.IsLeaf() {
		t.selfNode(node.A.Index, visit)
	}
	if !node.B.IsLeaf() {
		t.selfNode(node.B.Index, visit)
	}
	if node.A.Bounds().Intersects(node.B.Bounds()) {
		dispatchChildPair(t, t, &node.A, &node.B, visit)
	}
}

// dispatchChildPair descends two intersecting slots, possibly from different trees.
func dispatchChildPair(ta, tb *Tree, a, b *NodeChild, visit func(a, b int)) {
	switch {
	case a.IsLeaf() && b.IsLeaf():
		visit(int(Encode(a.Index)), int(Encode(b.Index)))
	case a.IsLeaf():
		node := &tb.Nodes[b.Index]
		dispatchIfIntersecting(ta, tb, a, &node.A, visit)
		dispatchIfIntersecting(ta, tb, a, &node.B, visit)
	case b.IsLeaf():
		node := &ta.Nodes[a.Index]
		dispatchIfIntersecting(ta, tb, &node.A, b, visit)
		dispatchIfIntersecting(ta, tb, &node.B, b, visit)
	default:
		na := &ta.Nodes[a.Index]
		nb := &tb.Nodes[b.Index]
		dispatchIfIntersecting(ta, tb, &na.A, &nb.A, visit)
		dispatchIfIntersecting(ta, tb, &na.A, &nb.B, visit)
		dispatchIfIntersecting(ta, tb, &na.B, &nb.A, visit)
		dispatchIfIntersecting(ta, tb, &na.B, &nb.B, visit)
	}
}

func dispatchIfIntersecting(ta, tb *Tree, a, b *NodeChild, visit func(a, b int)) {
	if a.Bounds().Intersects(b.Bounds()) {
		dispatchChildPair(ta, tb, a, b, visit)
	}
}

// GetOverlapsWith calls visit(leafInT, leafInOther) for every intersecting pair
// of leaves across the two trees.
func (t *Tree) GetOverlapsWith(other *Tree, visit func(a, b int)) {
	if len(t.Leaves) == 0 || len(other.Leaves) == 0 {
		return
	}
	rootA := &t.Nodes[0]
	rootB := &other.Nodes[0]
	childrenA := []*NodeChild{&rootA.A, &rootA.B}[:min(len(t.Leaves), 2)]
	childrenB := []*NodeChild{&rootB.A, &rootB.B}[:min(len(other.Leaves), 2)]
	for _, a := range childrenA {
		for _, b := range childrenB {
			dispatchIfIntersecting(t, other, a, b, visit)
		}
	}
}
