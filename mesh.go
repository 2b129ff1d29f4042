package cm3

import (
	"github.com/go-gl/mathgl/mgl64"
)

// Mesh is a large set of triangles with a tree over them. Triangles are stored
// already scaled.
type Mesh struct {
	Triangles []Triangle
	Scale     mgl64.Vec3
	Tree      *Tree
}

// NewMesh scales triangles and builds the mesh tree.
func NewMesh(triangles []Triangle, scale mgl64.Vec3) *Mesh {
	assert(len(triangles) > 0, "cm3: mesh needs at least one triangle")
	assert(scale[0] != 0 && scale[1] != 0 && scale[2] != 0, "cm3: mesh scale %v has a zero component", scale)
	m := &Mesh{Triangles: make([]Triangle, len(triangles)), Scale: scale}
	bounds := make([]BB, len(triangles))
	for i, t := range triangles {
		m.Triangles[i] = Triangle{A: vscale(t.A, scale), B: vscale(t.B, scale), C: vscale(t.C, scale)}
		bounds[i] = EmptyBB().Expand(m.Triangles[i].A).Expand(m.Triangles[i].B).Expand(m.Triangles[i].C)
	}
	m.Tree = NewTree(len(triangles))
	m.Tree.SweepBuild(bounds)
	return m
}

func (m *Mesh) TypeID() ShapeType { return MeshType }

func (m *Mesh) ChildCount() int { return len(m.Triangles) }

func (m *Mesh) GetChild(index int, shapes *Shapes) (IConvexShape, RigidPose) {
	return &m.Triangles[index], NewPoseIdentity()
}

func (m *Mesh) ComputeBounds(orientation mgl64.Quat, shapes *Shapes) (min, max mgl64.Vec3) {
	bb := EmptyBB()
	for i := range m.Triangles {
		tmin, tmax := m.Triangles[i].ComputeBounds(orientation)
		bb = bb.Merge(BB{Min: tmin, Max: tmax})
	}
	return bb.Min, bb.Max
}

func (m *Mesh) FindLocalOverlaps(min, max mgl64.Vec3, shapes *Shapes, overlap func(childIndex int)) {
	m.Tree.GetOverlaps(BB{Min: min, Max: max}, overlap)
}

func (m *Mesh) FindLocalSweepOverlaps(min, max, displacement mgl64.Vec3, shapes *Shapes, overlap func(childIndex int)) {
	box := BB{Min: min, Max: max}
	maxT := 1.0
	m.Tree.Sweep(box.Extents(), box.Center(), displacement, &maxT, func(leafIndex int, _ *float64) {
		overlap(leafIndex)
	})
}

func (m *Mesh) RayTest(pose RigidPose, origin, direction mgl64.Vec3, maxT float64, shapes *Shapes) (float64, mgl64.Vec3, int, bool) {
	localOrigin := pose.InverseApply(origin)
	localDirection := pose.InverseApplyVector(direction)
	var bestNormal mgl64.Vec3
	bestChild := -1
	m.Tree.RayCast(localOrigin, localDirection, &maxT, func(leafIndex int, limit *float64) {
		tri := &m.Triangles[leafIndex]
		if t, ok := rayTriangle(tri.A, tri.B, tri.C, localOrigin, localDirection, *limit); ok {
			n := tri.Normal()
			if n.Dot(localDirection) > 0 {
				n = n.Mul(-1)
			}
			*limit = t
			bestNormal = pose.ApplyVector(n)
			bestChild = leafIndex
		}
	})
	return maxT, bestNormal, bestChild, bestChild >= 0
}

// sharesEdge reports whether triangles a and b have two vertices in common.
func (m *Mesh) sharesEdge(a, b int) bool {
	ta, tb := &m.Triangles[a], &m.Triangles[b]
	va := [3]mgl64.Vec3{ta.A, ta.B, ta.C}
	vb := [3]mgl64.Vec3{tb.A, tb.B, tb.C}
	shared := 0
	for _, p := range va {
		for _, q := range vb {
			if p == q {
				shared++
				break
			}
		}
	}
	return shared >= 2
}
