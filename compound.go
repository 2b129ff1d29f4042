package cm3

import (
	"github.com/go-gl/mathgl/mgl64"
)

// CompoundChild is a convex shape placed relative to its compound's origin.
type CompoundChild struct {
	Shape     TypedIndex
	LocalPose RigidPose
}

func validateChildren(children []CompoundChild, shapes *Shapes) {
	assert(len(children) > 0, "cm3: compound needs at least one child")
	for _, child := range children {
		shapes.validateChild(child.Shape)
	}
}

// childLocalBounds returns the bounds of a child in the compound's local space
// after rotating the compound by orientation.
func childLocalBounds(child *CompoundChild, orientation mgl64.Quat, shapes *Shapes) BB {
	pose := RigidPose{Orientation: orientation}.Mult(child.LocalPose)
	min, max := shapes.GetConvex(child.Shape).ComputeBounds(pose.Orientation)
	return BB{Min: min.Add(pose.Position), Max: max.Add(pose.Position)}
}

func childrenBounds(children []CompoundChild, orientation mgl64.Quat, shapes *Shapes) (min, max mgl64.Vec3) {
	bb := EmptyBB()
	for i := range children {
		bb = bb.Merge(childLocalBounds(&children[i], orientation, shapes))
	}
	return bb.Min, bb.Max
}

func childrenRayTest(children []CompoundChild, pose RigidPose, origin, direction mgl64.Vec3, maxT float64, shapes *Shapes) (float64, mgl64.Vec3, int, bool) {
	bestT := maxT
	var bestNormal mgl64.Vec3
	bestChild := -1
	for i := range children {
		if t, n, hit := childRayTest(&children[i], pose, origin, direction, bestT, shapes); hit && (bestChild < 0 || t < bestT) {
			bestT, bestNormal, bestChild = t, n, i
		}
	}
	return bestT, bestNormal, bestChild, bestChild >= 0
}

func childRayTest(child *CompoundChild, pose RigidPose, origin, direction mgl64.Vec3, maxT float64, shapes *Shapes) (float64, mgl64.Vec3, bool) {
	return shapes.GetConvex(child.Shape).RayTest(pose.Mult(child.LocalPose), origin, direction, maxT)
}

// Compound is a small set of convex children tested linearly.
type Compound struct {
	Children []CompoundChild
}

// NewCompound returns a compound over children. Every child must be a convex
// shape already stored in shapes.
func NewCompound(children []CompoundChild, shapes *Shapes) *Compound {
	validateChildren(children, shapes)
	return &Compound{Children: children}
}

func (c *Compound) TypeID() ShapeType { return CompoundType }

func (c *Compound) ChildCount() int { return len(c.Children) }

func (c *Compound) GetChild(index int, shapes *Shapes) (IConvexShape, RigidPose) {
	child := &c.Children[index]
	return shapes.GetConvex(child.Shape), child.LocalPose
}

func (c *Compound) ComputeBounds(orientation mgl64.Quat, shapes *Shapes) (min, max mgl64.Vec3) {
	return childrenBounds(c.Children, orientation, shapes)
}

func (c *Compound) FindLocalOverlaps(min, max mgl64.Vec3, shapes *Shapes, overlap func(childIndex int)) {
	query := BB{Min: min, Max: max}
	identity := mgl64.QuatIdent()
	for i := range c.Children {
		if childLocalBounds(&c.Children[i], identity, shapes).Intersects(query) {
			overlap(i)
		}
	}
}

func (c *Compound) FindLocalSweepOverlaps(min, max, displacement mgl64.Vec3, shapes *Shapes, overlap func(childIndex int)) {
	swept := BB{Min: min, Max: max}.Sweep(displacement)
	c.FindLocalOverlaps(swept.Min, swept.Max, shapes, overlap)
}

func (c *Compound) RayTest(pose RigidPose, origin, direction mgl64.Vec3, maxT float64, shapes *Shapes) (float64, mgl64.Vec3, int, bool) {
	return childrenRayTest(c.Children, pose, origin, direction, maxT, shapes)
}

// ComputeInertia combines the child inertias with the given child masses. It
// returns the inertia about the center of mass and that center in compound space.
func (c *Compound) ComputeInertia(masses []float64, shapes *Shapes) (BodyInertia, mgl64.Vec3) {
	return compoundInertia(c.Children, masses, shapes)
}

// BigCompound is a compound with a tree over its children, for large child counts.
type BigCompound struct {
	Children []CompoundChild
	Tree     *Tree
}

// NewBigCompound returns a tree accelerated compound over children.
func NewBigCompound(children []CompoundChild, shapes *Shapes) *BigCompound {
	validateChildren(children, shapes)
	bounds := make([]BB, len(children))
	identity := mgl64.QuatIdent()
	for i := range children {
		bounds[i] = childLocalBounds(&children[i], identity, shapes)
	}
	tree := NewTree(len(children))
	tree.SweepBuild(bounds)
	return &BigCompound{Children: children, Tree: tree}
}

func (c *BigCompound) TypeID() ShapeType { return BigCompoundType }

func (c *BigCompound) ChildCount() int { return len(c.Children) }

func (c *BigCompound) GetChild(index int, shapes *Shapes) (IConvexShape, RigidPose) {
	child := &c.Children[index]
	return shapes.GetConvex(child.Shape), child.LocalPose
}

func (c *BigCompound) ComputeBounds(orientation mgl64.Quat, shapes *Shapes) (min, max mgl64.Vec3) {
	return childrenBounds(c.Children, orientation, shapes)
}

func (c *BigCompound) FindLocalOverlaps(min, max mgl64.Vec3, shapes *Shapes, overlap func(childIndex int)) {
	c.Tree.GetOverlaps(BB{Min: min, Max: max}, overlap)
}

func (c *BigCompound) FindLocalSweepOverlaps(min, max, displacement mgl64.Vec3, shapes *Shapes, overlap func(childIndex int)) {
	box := BB{Min: min, Max: max}
	maxT := 1.0
	c.Tree.Sweep(box.Extents(), box.Center(), displacement, &maxT, func(leafIndex int, _ *float64) {
		overlap(leafIndex)
	})
}

func (c *BigCompound) RayTest(pose RigidPose, origin, direction mgl64.Vec3, maxT float64, shapes *Shapes) (float64, mgl64.Vec3, int, bool) {
	localOrigin := pose.InverseApply(origin)
	localDirection := pose.InverseApplyVector(direction)
	var bestNormal mgl64.Vec3
	bestChild := -1
	c.Tree.RayCast(localOrigin, localDirection, &maxT, func(leafIndex int, limit *float64) {
		if t, n, hit := childRayTest(&c.Children[leafIndex], pose, origin, direction, *limit, shapes); hit {
			*limit = t
			bestNormal = n
			bestChild = leafIndex
		}
	})
	return maxT, bestNormal, bestChild, bestChild >= 0
}

// ComputeInertia combines the child inertias with the given child masses.
func (c *BigCompound) ComputeInertia(masses []float64, shapes *Shapes) (BodyInertia, mgl64.Vec3) {
	return compoundInertia(c.Children, masses, shapes)
}

func compoundInertia(children []CompoundChild, masses []float64, shapes *Shapes) (BodyInertia, mgl64.Vec3) {
	assert(len(masses) == len(children), "cm3: %d masses for %d children", len(masses), len(children))
	total := 0.0
	var center mgl64.Vec3
	for i, child := range children {
		total += masses[i]
		center = center.Add(child.LocalPose.Position.Mul(masses[i]))
	}
	assert(total > 0, "cm3: compound mass must be positive")
	center = center.Mul(1 / total)
	var tensor mgl64.Mat3
	for i, child := range children {
		local := shapes.GetConvex(child.Shape).ComputeInertia(masses[i]).InverseInertiaTensor.Inv()
		rotated := rotateInertia(local, child.LocalPose.Orientation)
		d := child.LocalPose.Position.Sub(center)
		// Parallel axis: m * (|d|^2 E - d d^T).
		shift := mgl64.Ident3().Mul(d.Dot(d)).Sub(d.OuterProd3(d)).Mul(masses[i])
		tensor = tensor.Add(rotated).Add(shift)
	}
	return BodyInertia{InverseMass: 1 / total, InverseInertiaTensor: tensor.Inv()}, center
}
