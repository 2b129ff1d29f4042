package cm3

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// ShapeType is the small integer type id every shape batch, collision task and
// sweep task is keyed by.
type ShapeType uint8

const (
	SphereType ShapeType = iota
	CapsuleType
	BoxType
	TriangleType
	CylinderType
	ConvexHullType
	CompoundType
	BigCompoundType
	MeshType
	// ShapeTypeNum is the number of built in shape types.
	ShapeTypeNum
)

var shapeTypeNames = [...]string{"Sphere", "Capsule", "Box", "Triangle", "Cylinder", "ConvexHull", "Compound", "BigCompound", "Mesh"}

func (t ShapeType) String() string {
	if int(t) < len(shapeTypeNames) {
		return shapeTypeNames[t]
	}
	return fmt.Sprintf("ShapeType(%d)", uint8(t))
}

// IsConvex reports whether shapes of this type are convex.
func (t ShapeType) IsConvex() bool {
	return t < CompoundType
}

// TypedIndex addresses a shape: the batch type id and the slot within the batch.
type TypedIndex struct {
	Type  ShapeType
	Index int32
}

// NoShape is the TypedIndex of a collidable without shape.
var NoShape = TypedIndex{Index: -1}

// Exists reports whether the index points at a slot.
func (ti TypedIndex) Exists() bool {
	return ti.Index >= 0
}

func (ti TypedIndex) String() string {
	return fmt.Sprintf("%v[%d]", ti.Type, ti.Index)
}

// IShape is implemented by every shape stored in a Shapes registry.
type IShape interface {
	TypeID() ShapeType
}

// IConvexShape is a shape the convex collision routines can work with.
// All geometry is in the shape's local space, centered on its origin.
type IConvexShape interface {
	IShape
	// ComputeBounds returns the bounds of the shape rotated by orientation, relative to its origin.
	ComputeBounds(orientation mgl64.Quat) (min, max mgl64.Vec3)
	// Support returns the furthest local point along direction.
	Support(direction mgl64.Vec3) mgl64.Vec3
	// ContactFeature appends the vertices of the feature most aligned with direction.
	ContactFeature(direction mgl64.Vec3, out []mgl64.Vec3) []mgl64.Vec3
	// RayTest intersects the world space ray origin + t*direction, t in [0, maxT].
	RayTest(pose RigidPose, origin, direction mgl64.Vec3, maxT float64) (t float64, normal mgl64.Vec3, hit bool)
	ComputeInertia(mass float64) BodyInertia
	MaximumRadius() float64
}

// ICompoundShape is a shape made of children. Child shapes are always convex.
type ICompoundShape interface {
	IShape
	ComputeBounds(orientation mgl64.Quat, shapes *Shapes) (min, max mgl64.Vec3)
	ChildCount() int
	// GetChild returns the child shape and its pose relative to the compound.
	GetChild(index int, shapes *Shapes) (IConvexShape, RigidPose)
	// FindLocalOverlaps calls overlap for every child whose local bounds intersect min/max.
	FindLocalOverlaps(min, max mgl64.Vec3, shapes *Shapes, overlap func(childIndex int))
	// FindLocalSweepOverlaps calls overlap for every child the box min/max touches
	// while moving along displacement.
	FindLocalSweepOverlaps(min, max, displacement mgl64.Vec3, shapes *Shapes, overlap func(childIndex int))
	RayTest(pose RigidPose, origin, direction mgl64.Vec3, maxT float64, shapes *Shapes) (t float64, normal mgl64.Vec3, childIndex int, hit bool)
}

// RayHit is the result of a ray or sweep test.
type RayHit struct {
	// T is the parameter along the query direction.
	T float64
	// Position of the hit in world space.
	Position mgl64.Vec3
	// Normal is the surface normal at the hit, facing the query.
	Normal mgl64.Vec3
	// Collidable that was hit.
	Collidable CollidableReference
	// ChildIndex is the child of a compound or mesh that was hit, -1 for convex shapes.
	ChildIndex int
}
