package cm3

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// BB is an axis-aligned 3D bounding box.
type BB struct {
	Min, Max mgl64.Vec3
}

// NewBB is convenience constructor for BB structs.
func NewBB(min, max mgl64.Vec3) BB {
	return BB{Min: min, Max: max}
}

// EmptyBB returns an inverted box. Merging anything into it yields that thing.
func EmptyBB() BB {
	return BB{
		Min: mgl64.Vec3{infinity, infinity, infinity},
		Max: mgl64.Vec3{-infinity, -infinity, -infinity},
	}
}

func (bb BB) String() string {
	return fmt.Sprintf("%v %v", bb.Min, bb.Max)
}

// NewBBForExtents constructs a BB centered on a point with the given half sizes.
func NewBBForExtents(c, halfExtents mgl64.Vec3) BB {
	return BB{Min: c.Sub(halfExtents), Max: c.Add(halfExtents)}
}

// NewBBForSphere constructs a BB for a sphere with the given position and radius.
func NewBBForSphere(p mgl64.Vec3, r float64) BB {
	return NewBBForExtents(p, mgl64.Vec3{r, r, r})
}

// Intersects returns true if a and b intersect.
func (bb BB) Intersects(b BB) bool {
	return bb.Min[0] <= b.Max[0] && b.Min[0] <= bb.Max[0] &&
		bb.Min[1] <= b.Max[1] && b.Min[1] <= bb.Max[1] &&
		bb.Min[2] <= b.Max[2] && b.Min[2] <= bb.Max[2]
}

// Contains returns true if other lies completely within bb.
func (bb BB) Contains(other BB) bool {
	return bb.Min[0] <= other.Min[0] && bb.Max[0] >= other.Max[0] &&
		bb.Min[1] <= other.Min[1] && bb.Max[1] >= other.Max[1] &&
		bb.Min[2] <= other.Min[2] && bb.Max[2] >= other.Max[2]
}

// ContainsVect returns true if bb contains p.
func (bb BB) ContainsVect(p mgl64.Vec3) bool {
	return bb.Min[0] <= p[0] && bb.Max[0] >= p[0] &&
		bb.Min[1] <= p[1] && bb.Max[1] >= p[1] &&
		bb.Min[2] <= p[2] && bb.Max[2] >= p[2]
}

// Merge returns a bounding box that holds both bounding boxes.
func (bb BB) Merge(b BB) BB {
	return BB{Min: vmin(bb.Min, b.Min), Max: vmax(bb.Max, b.Max)}
}

// Expand returns a bounding box that holds both bb and p.
func (bb BB) Expand(p mgl64.Vec3) BB {
	return BB{Min: vmin(bb.Min, p), Max: vmax(bb.Max, p)}
}

// Grow pads the box by margin on every side.
func (bb BB) Grow(margin float64) BB {
	m := mgl64.Vec3{margin, margin, margin}
	return BB{Min: bb.Min.Sub(m), Max: bb.Max.Add(m)}
}

// Center returns the center of a bounding box.
func (bb BB) Center() mgl64.Vec3 {
	return bb.Min.Add(bb.Max).Mul(0.5)
}

// Extents returns the half sizes of the box.
func (bb BB) Extents() mgl64.Vec3 {
	return bb.Max.Sub(bb.Min).Mul(0.5)
}

// Area returns the surface area of the bounding box.
func (bb BB) Area() float64 {
	return boxArea(bb.Min, bb.Max)
}

// MergedArea merges a and b and returns the surface area of the merged bounding box.
func (bb BB) MergedArea(b BB) float64 {
	return boxArea(vmin(bb.Min, b.Min), vmax(bb.Max, b.Max))
}

func boxArea(min, max mgl64.Vec3) float64 {
	d := max.Sub(min)
	if d[0] < 0 || d[1] < 0 || d[2] < 0 {
		return 0
	}
	return 2 * (d[0]*d[1] + d[1]*d[2] + d[2]*d[0])
}

// Proximity is the Manhattan distance between the doubled centers.
func (bb BB) Proximity(b BB) float64 {
	return math.Abs(bb.Min[0]+bb.Max[0]-b.Min[0]-b.Max[0]) +
		math.Abs(bb.Min[1]+bb.Max[1]-b.Min[1]-b.Max[1]) +
		math.Abs(bb.Min[2]+bb.Max[2]-b.Min[2]-b.Max[2])
}

// Offset returns a bounding box offseted by v.
func (bb BB) Offset(v mgl64.Vec3) BB {
	return BB{Min: bb.Min.Add(v), Max: bb.Max.Add(v)}
}

// Sweep stretches the box along displacement.
func (bb BB) Sweep(displacement mgl64.Vec3) BB {
	return BB{
		Min: vmin(bb.Min, bb.Min.Add(displacement)),
		Max: vmax(bb.Max, bb.Max.Add(displacement)),
	}
}

// RayQuery returns the entry parameter of the ray origin + t*dir against the box.
// Returns infinity if it doesn't hit within [0, maxT].
func (bb BB) RayQuery(origin, dir mgl64.Vec3, maxT float64) float64 {
	return rayBoxT(bb.Min, bb.Max, origin, invDirection(dir), maxT)
}

// IntersectsRay returns true if the ray hits the box within [0, maxT].
func (bb BB) IntersectsRay(origin, dir mgl64.Vec3, maxT float64) bool {
	return bb.RayQuery(origin, dir, maxT) != infinity
}

// ClampVect clamps a vector to bounding box.
func (bb BB) ClampVect(p mgl64.Vec3) mgl64.Vec3 {
	return vmax(bb.Min, vmin(bb.Max, p))
}

func invDirection(dir mgl64.Vec3) mgl64.Vec3 {
	var inv mgl64.Vec3
	for i := range 3 {
		if dir[i] == 0 {
			inv[i] = math.Inf(1)
		} else {
			inv[i] = 1 / dir[i]
		}
	}
	return inv
}

// rayBoxT is the slab test. Zero direction components produce infinite inverse
// components, which the min/max below handle unless the origin sits exactly on a slab.
func rayBoxT(min, max, origin, invDir mgl64.Vec3, maxT float64) float64 {
	tmin := 0.0
	tmax := maxT
	for i := range 3 {
		if math.IsInf(invDir[i], 0) {
			if origin[i] < min[i] || origin[i] > max[i] {
				return infinity
			}
			continue
		}
		t1 := (min[i] - origin[i]) * invDir[i]
		t2 := (max[i] - origin[i]) * invDir[i]
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tmin = math.Max(tmin, t1)
		tmax = math.Min(tmax, t2)
		if tmin > tmax {
			return infinity
		}
	}
	return tmin
}

// rotatedBounds returns the bounds of a local box rotated by orientation and
// translated by position.
func rotatedBounds(localMin, localMax mgl64.Vec3, pose RigidPose) BB {
	center := localMin.Add(localMax).Mul(0.5)
	extents := localMax.Sub(localMin).Mul(0.5)
	basis := matrixFromQuat(pose.Orientation)
	var worldExtents mgl64.Vec3
	for row := range 3 {
		worldExtents[row] = math.Abs(basis.At(row, 0))*extents[0] +
			math.Abs(basis.At(row, 1))*extents[1] +
			math.Abs(basis.At(row, 2))*extents[2]
	}
	c := pose.Apply(center)
	return BB{Min: c.Sub(worldExtents), Max: c.Add(worldExtents)}
}
