package cm3

import (
	"math"
	"slices"

	"github.com/go-gl/mathgl/mgl64"
)

var (
	unitX = mgl64.Vec3{1, 0, 0}
	unitY = mgl64.Vec3{0, 1, 0}
	unitZ = mgl64.Vec3{0, 0, 1}
)

// Sphere is a ball centered on its origin.
type Sphere struct {
	Radius float64
}

// NewSphere returns a sphere shape.
func NewSphere(radius float64) *Sphere {
	assert(radius > 0, "cm3: sphere radius must be positive, got %v", radius)
	return &Sphere{Radius: radius}
}

func (s *Sphere) TypeID() ShapeType { return SphereType }

func (s *Sphere) ComputeBounds(orientation mgl64.Quat) (min, max mgl64.Vec3) {
	r := mgl64.Vec3{s.Radius, s.Radius, s.Radius}
	return r.Mul(-1), r
}

func (s *Sphere) Support(direction mgl64.Vec3) mgl64.Vec3 {
	return safeNormalize(direction, unitX).Mul(s.Radius)
}

func (s *Sphere) ContactFeature(direction mgl64.Vec3, out []mgl64.Vec3) []mgl64.Vec3 {
	return append(out, s.Support(direction))
}

func (s *Sphere) RayTest(pose RigidPose, origin, direction mgl64.Vec3, maxT float64) (float64, mgl64.Vec3, bool) {
	return SphereRayTest(pose.Position, s.Radius, origin, direction, maxT)
}

func (s *Sphere) ComputeInertia(mass float64) BodyInertia {
	i := 0.4 * mass * s.Radius * s.Radius
	return inertiaFromDiagonal(mass, mgl64.Vec3{i, i, i})
}

func (s *Sphere) MaximumRadius() float64 { return s.Radius }

// SphereRayTest intersects a ray with a sphere at center.
func SphereRayTest(center mgl64.Vec3, radius float64, origin, direction mgl64.Vec3, maxT float64) (float64, mgl64.Vec3, bool) {
	m := origin.Sub(center)
	c := m.Dot(m) - radius*radius
	if c <= 0 {
		return 0, safeNormalize(direction.Mul(-1), unitY), true
	}
	a := direction.Dot(direction)
	b := m.Dot(direction)
	if b > 0 || a == 0 {
		return 0, mgl64.Vec3{}, false
	}
	disc := b*b - a*c
	if disc < 0 {
		return 0, mgl64.Vec3{}, false
	}
	t := (-b - math.Sqrt(disc)) / a
	if t > maxT {
		return 0, mgl64.Vec3{}, false
	}
	normal := m.Add(direction.Mul(t)).Normalize()
	return t, normal, true
}

// Capsule is a swept sphere around a segment along the local Y axis.
type Capsule struct {
	Radius     float64
	HalfLength float64
}

// NewCapsule returns a capsule shape with total length 2*halfLength + 2*radius.
func NewCapsule(radius, halfLength float64) *Capsule {
	assert(radius > 0 && halfLength >= 0, "cm3: invalid capsule dimensions %v, %v", radius, halfLength)
	return &Capsule{Radius: radius, HalfLength: halfLength}
}

func (c *Capsule) TypeID() ShapeType { return CapsuleType }

func (c *Capsule) ComputeBounds(orientation mgl64.Quat) (min, max mgl64.Vec3) {
	axis := vabs(orientation.Rotate(unitY).Mul(c.HalfLength))
	ext := axis.Add(mgl64.Vec3{c.Radius, c.Radius, c.Radius})
	return ext.Mul(-1), ext
}

func (c *Capsule) Support(direction mgl64.Vec3) mgl64.Vec3 {
	y := c.HalfLength
	if direction[1] < 0 {
		y = -y
	}
	return mgl64.Vec3{0, y, 0}.Add(safeNormalize(direction, unitX).Mul(c.Radius))
}

func (c *Capsule) ContactFeature(direction mgl64.Vec3, out []mgl64.Vec3) []mgl64.Vec3 {
	d := safeNormalize(direction, unitX)
	if math.Abs(d[1]) < 0.2 && c.HalfLength > 0 {
		radial := safeNormalize(mgl64.Vec3{d[0], 0, d[2]}, unitX).Mul(c.Radius)
		return append(out,
			mgl64.Vec3{0, c.HalfLength, 0}.Add(radial),
			mgl64.Vec3{0, -c.HalfLength, 0}.Add(radial))
	}
	return append(out, c.Support(d))
}

func (c *Capsule) RayTest(pose RigidPose, origin, direction mgl64.Vec3, maxT float64) (float64, mgl64.Vec3, bool) {
	return rayTestConvex(c, pose, origin, direction, maxT)
}

func (c *Capsule) ComputeInertia(mass float64) BodyInertia {
	r := c.Radius
	l := 2 * c.HalfLength
	cylinderVolume := math.Pi * r * r * l
	sphereVolume := 4.0 / 3.0 * math.Pi * r * r * r
	mc := mass * cylinderVolume / (cylinderVolume + sphereVolume)
	ms := mass - mc
	iy := mc*r*r/2 + ms*2*r*r/5
	ix := mc*(l*l/12+r*r/4) + ms*(2*r*r/5+l*l/4+3*l*r/8)
	return inertiaFromDiagonal(mass, mgl64.Vec3{ix, iy, ix})
}

func (c *Capsule) MaximumRadius() float64 { return c.HalfLength + c.Radius }

// Segment returns the local end points of the inner segment.
func (c *Capsule) Segment() (a, b mgl64.Vec3) {
	return mgl64.Vec3{0, -c.HalfLength, 0}, mgl64.Vec3{0, c.HalfLength, 0}
}

// Box is an oriented box centered on its origin.
type Box struct {
	HalfExtents mgl64.Vec3
}

// NewBox returns a box with the given full width, height and length.
func NewBox(width, height, length float64) *Box {
	assert(width > 0 && height > 0 && length > 0, "cm3: box dimensions must be positive, got %v %v %v", width, height, length)
	return &Box{HalfExtents: mgl64.Vec3{width / 2, height / 2, length / 2}}
}

func (b *Box) TypeID() ShapeType { return BoxType }

func (b *Box) ComputeBounds(orientation mgl64.Quat) (min, max mgl64.Vec3) {
	bb := rotatedBounds(b.HalfExtents.Mul(-1), b.HalfExtents, RigidPose{Orientation: orientation})
	return bb.Min, bb.Max
}

func (b *Box) Support(direction mgl64.Vec3) mgl64.Vec3 {
	var p mgl64.Vec3
	for i := range 3 {
		if direction[i] < 0 {
			p[i] = -b.HalfExtents[i]
		} else {
			p[i] = b.HalfExtents[i]
		}
	}
	return p
}

func (b *Box) ContactFeature(direction mgl64.Vec3, out []mgl64.Vec3) []mgl64.Vec3 {
	axis := 0
	best := -1.0
	for i := range 3 {
		if a := math.Abs(direction[i]); a > best {
			best = a
			axis = i
		}
	}
	j, k := (axis+1)%3, (axis+2)%3
	s := b.HalfExtents[axis]
	if direction[axis] < 0 {
		s = -s
	}
	hj, hk := b.HalfExtents[j], b.HalfExtents[k]
	corners := [4][2]float64{{hj, hk}, {-hj, hk}, {-hj, -hk}, {hj, -hk}}
	for _, c := range corners {
		var p mgl64.Vec3
		p[axis] = s
		p[j] = c[0]
		p[k] = c[1]
		out = append(out, p)
	}
	return out
}

func (b *Box) RayTest(pose RigidPose, origin, direction mgl64.Vec3, maxT float64) (float64, mgl64.Vec3, bool) {
	o := pose.InverseApply(origin)
	d := pose.InverseApplyVector(direction)
	tmin := 0.0
	tmax := maxT
	enterAxis := -1
	var enterSign float64
	for i := range 3 {
		if math.Abs(d[i]) < 1e-15 {
			if o[i] < -b.HalfExtents[i] || o[i] > b.HalfExtents[i] {
				return 0, mgl64.Vec3{}, false
			}
			continue
		}
		inv := 1 / d[i]
		t1 := (-b.HalfExtents[i] - o[i]) * inv
		t2 := (b.HalfExtents[i] - o[i]) * inv
		sign := -1.0
		if t1 > t2 {
			t1, t2 = t2, t1
			sign = 1
		}
		if t1 > tmin {
			tmin = t1
			enterAxis = i
			enterSign = sign
		}
		tmax = math.Min(tmax, t2)
		if tmin > tmax {
			return 0, mgl64.Vec3{}, false
		}
	}
	if enterAxis < 0 {
		return 0, safeNormalize(direction.Mul(-1), unitY), true
	}
	var n mgl64.Vec3
	n[enterAxis] = enterSign
	return tmin, pose.ApplyVector(n), true
}

func (b *Box) ComputeInertia(mass float64) BodyInertia {
	x2 := 4 * b.HalfExtents[0] * b.HalfExtents[0]
	y2 := 4 * b.HalfExtents[1] * b.HalfExtents[1]
	z2 := 4 * b.HalfExtents[2] * b.HalfExtents[2]
	return inertiaFromDiagonal(mass, mgl64.Vec3{mass * (y2 + z2) / 12, mass * (x2 + z2) / 12, mass * (x2 + y2) / 12})
}

func (b *Box) MaximumRadius() float64 { return b.HalfExtents.Len() }

// Triangle is a double sided triangle in local space.
type Triangle struct {
	A, B, C mgl64.Vec3
}

// NewTriangle returns a triangle shape.
func NewTriangle(a, b, c mgl64.Vec3) *Triangle {
	assert(b.Sub(a).Cross(c.Sub(a)).LenSqr() > 0, "cm3: degenerate triangle %v %v %v", a, b, c)
	return &Triangle{A: a, B: b, C: c}
}

func (t *Triangle) TypeID() ShapeType { return TriangleType }

// Normal returns the unit face normal, wound counter clockwise.
func (t *Triangle) Normal() mgl64.Vec3 {
	return safeNormalize(t.B.Sub(t.A).Cross(t.C.Sub(t.A)), unitY)
}

func (t *Triangle) ComputeBounds(orientation mgl64.Quat) (min, max mgl64.Vec3) {
	a := orientation.Rotate(t.A)
	b := orientation.Rotate(t.B)
	c := orientation.Rotate(t.C)
	return vmin(a, vmin(b, c)), vmax(a, vmax(b, c))
}

func (t *Triangle) Support(direction mgl64.Vec3) mgl64.Vec3 {
	best := t.A
	bestDot := t.A.Dot(direction)
	if d := t.B.Dot(direction); d > bestDot {
		best, bestDot = t.B, d
	}
	if d := t.C.Dot(direction); d > bestDot {
		best = t.C
	}
	return best
}

func (t *Triangle) ContactFeature(direction mgl64.Vec3, out []mgl64.Vec3) []mgl64.Vec3 {
	d := safeNormalize(direction, unitY)
	if math.Abs(t.Normal().Dot(d)) > 0.7 {
		return append(out, t.A, t.B, t.C)
	}
	verts := [3]mgl64.Vec3{t.A, t.B, t.C}
	dots := [3]float64{t.A.Dot(d), t.B.Dot(d), t.C.Dot(d)}
	first := 0
	for i := 1; i < 3; i++ {
		if dots[i] > dots[first] {
			first = i
		}
	}
	second := -1
	tolerance := 0.02 * t.MaximumRadius()
	for i := range 3 {
		if i != first && dots[first]-dots[i] < tolerance && (second < 0 || dots[i] > dots[second]) {
			second = i
		}
	}
	out = append(out, verts[first])
	if second >= 0 {
		out = append(out, verts[second])
	}
	return out
}

func (t *Triangle) RayTest(pose RigidPose, origin, direction mgl64.Vec3, maxT float64) (float64, mgl64.Vec3, bool) {
	o := pose.InverseApply(origin)
	d := pose.InverseApplyVector(direction)
	hit, ok := rayTriangle(t.A, t.B, t.C, o, d, maxT)
	if !ok {
		return 0, mgl64.Vec3{}, false
	}
	n := t.Normal()
	if n.Dot(d) > 0 {
		n = n.Mul(-1)
	}
	return hit, pose.ApplyVector(n), true
}

// rayTriangle is the double sided Moller-Trumbore test.
func rayTriangle(a, b, c, origin, direction mgl64.Vec3, maxT float64) (float64, bool) {
	ab := b.Sub(a)
	ac := c.Sub(a)
	p := direction.Cross(ac)
	det := ab.Dot(p)
	if math.Abs(det) < 1e-15 {
		return 0, false
	}
	inv := 1 / det
	s := origin.Sub(a)
	u := s.Dot(p) * inv
	if u < 0 || u > 1 {
		return 0, false
	}
	q := s.Cross(ab)
	v := direction.Dot(q) * inv
	if v < 0 || u+v > 1 {
		return 0, false
	}
	t := ac.Dot(q) * inv
	if t < 0 || t > maxT {
		return 0, false
	}
	return t, true
}

func (t *Triangle) ComputeInertia(mass float64) BodyInertia {
	min, max := t.ComputeBounds(mgl64.QuatIdent())
	return boxInertiaFromBounds(mass, min, max)
}

func (t *Triangle) MaximumRadius() float64 {
	return math.Sqrt(math.Max(t.A.LenSqr(), math.Max(t.B.LenSqr(), t.C.LenSqr())))
}

// Cylinder is a cylinder along the local Y axis.
type Cylinder struct {
	Radius     float64
	HalfLength float64
}

// cylinderCapSides is the number of vertices used to approximate a cap face.
const cylinderCapSides = 8

// NewCylinder returns a cylinder with total length 2*halfLength.
func NewCylinder(radius, halfLength float64) *Cylinder {
	assert(radius > 0 && halfLength > 0, "cm3: invalid cylinder dimensions %v, %v", radius, halfLength)
	return &Cylinder{Radius: radius, HalfLength: halfLength}
}

func (c *Cylinder) TypeID() ShapeType { return CylinderType }

func (c *Cylinder) ComputeBounds(orientation mgl64.Quat) (min, max mgl64.Vec3) {
	axis := orientation.Rotate(unitY)
	var ext mgl64.Vec3
	for i := range 3 {
		ext[i] = math.Abs(axis[i])*c.HalfLength + c.Radius*math.Sqrt(math.Max(0, 1-axis[i]*axis[i]))
	}
	return ext.Mul(-1), ext
}

func (c *Cylinder) Support(direction mgl64.Vec3) mgl64.Vec3 {
	radial := mgl64.Vec3{direction[0], 0, direction[2]}
	var p mgl64.Vec3
	if l := radial.Len(); l > 1e-12 {
		p = radial.Mul(c.Radius / l)
	}
	if direction[1] < 0 {
		p[1] = -c.HalfLength
	} else {
		p[1] = c.HalfLength
	}
	return p
}

func (c *Cylinder) ContactFeature(direction mgl64.Vec3, out []mgl64.Vec3) []mgl64.Vec3 {
	d := safeNormalize(direction, unitY)
	if math.Abs(d[1]) > 0.7 {
		y := c.HalfLength
		if d[1] < 0 {
			y = -y
		}
		for i := range cylinderCapSides {
			angle := 2 * math.Pi * float64(i) / cylinderCapSides
			out = append(out, mgl64.Vec3{c.Radius * math.Cos(angle), y, c.Radius * math.Sin(angle)})
		}
		return out
	}
	if math.Abs(d[1]) < 0.2 {
		radial := safeNormalize(mgl64.Vec3{d[0], 0, d[2]}, unitX).Mul(c.Radius)
		return append(out,
			mgl64.Vec3{radial[0], c.HalfLength, radial[2]},
			mgl64.Vec3{radial[0], -c.HalfLength, radial[2]})
	}
	return append(out, c.Support(d))
}

func (c *Cylinder) RayTest(pose RigidPose, origin, direction mgl64.Vec3, maxT float64) (float64, mgl64.Vec3, bool) {
	return rayTestConvex(c, pose, origin, direction, maxT)
}

func (c *Cylinder) ComputeInertia(mass float64) BodyInertia {
	r2 := c.Radius * c.Radius
	l2 := 4 * c.HalfLength * c.HalfLength
	ix := mass * (3*r2 + l2) / 12
	return inertiaFromDiagonal(mass, mgl64.Vec3{ix, mass * r2 / 2, ix})
}

func (c *Cylinder) MaximumRadius() float64 {
	return math.Sqrt(c.Radius*c.Radius + c.HalfLength*c.HalfLength)
}

// ConvexHull is the convex hull of a point cloud. Points are stored relative to
// the cloud's centroid.
type ConvexHull struct {
	Points []mgl64.Vec3
	radius float64
}

// NewConvexHull recenters points on their centroid and returns the hull with the
// centroid that was subtracted.
func NewConvexHull(points []mgl64.Vec3) (*ConvexHull, mgl64.Vec3) {
	assert(len(points) >= 4, "cm3: a convex hull needs at least 4 points, got %d", len(points))
	var center mgl64.Vec3
	for _, p := range points {
		center = center.Add(p)
	}
	center = center.Mul(1 / float64(len(points)))
	hull := &ConvexHull{Points: make([]mgl64.Vec3, len(points))}
	for i, p := range points {
		hull.Points[i] = p.Sub(center)
		hull.radius = math.Max(hull.radius, hull.Points[i].Len())
	}
	return hull, center
}

func (h *ConvexHull) TypeID() ShapeType { return ConvexHullType }

func (h *ConvexHull) ComputeBounds(orientation mgl64.Quat) (min, max mgl64.Vec3) {
	bb := EmptyBB()
	for _, p := range h.Points {
		bb = bb.Expand(orientation.Rotate(p))
	}
	return bb.Min, bb.Max
}

func (h *ConvexHull) Support(direction mgl64.Vec3) mgl64.Vec3 {
	best := h.Points[0]
	bestDot := best.Dot(direction)
	for _, p := range h.Points[1:] {
		if d := p.Dot(direction); d > bestDot {
			best, bestDot = p, d
		}
	}
	return best
}

func (h *ConvexHull) ContactFeature(direction mgl64.Vec3, out []mgl64.Vec3) []mgl64.Vec3 {
	d := safeNormalize(direction, unitY)
	maxDot := -infinity
	for _, p := range h.Points {
		maxDot = math.Max(maxDot, p.Dot(d))
	}
	tolerance := 0.01 * h.radius
	start := len(out)
	for _, p := range h.Points {
		if maxDot-p.Dot(d) <= tolerance {
			out = append(out, p)
		}
	}
	feature := out[start:]
	if len(feature) > 2 {
		var centroid mgl64.Vec3
		for _, p := range feature {
			centroid = centroid.Add(p)
		}
		centroid = centroid.Mul(1 / float64(len(feature)))
		t1, t2 := tangentBasis(d)
		slices.SortFunc(feature, func(a, b mgl64.Vec3) int {
			ra, rb := a.Sub(centroid), b.Sub(centroid)
			aa := math.Atan2(ra.Dot(t2), ra.Dot(t1))
			ab := math.Atan2(rb.Dot(t2), rb.Dot(t1))
			switch {
			case aa < ab:
				return -1
			case aa > ab:
				return 1
			}
			return 0
		})
	}
	return out
}

func (h *ConvexHull) RayTest(pose RigidPose, origin, direction mgl64.Vec3, maxT float64) (float64, mgl64.Vec3, bool) {
	return rayTestConvex(h, pose, origin, direction, maxT)
}

// ComputeInertia approximates the hull's inertia by its local bounding box.
func (h *ConvexHull) ComputeInertia(mass float64) BodyInertia {
	min, max := h.ComputeBounds(mgl64.QuatIdent())
	return boxInertiaFromBounds(mass, min, max)
}

func (h *ConvexHull) MaximumRadius() float64 { return h.radius }

func inertiaFromDiagonal(mass float64, diagonal mgl64.Vec3) BodyInertia {
	assert(mass > 0, "cm3: mass must be positive, got %v", mass)
	var inv mgl64.Vec3
	for i := range 3 {
		if diagonal[i] > 0 {
			inv[i] = 1 / diagonal[i]
		}
	}
	return BodyInertia{InverseMass: 1 / mass, InverseInertiaTensor: mgl64.Diag3(inv)}
}

func boxInertiaFromBounds(mass float64, min, max mgl64.Vec3) BodyInertia {
	size := vmax(max.Sub(min), mgl64.Vec3{1e-3, 1e-3, 1e-3})
	x2, y2, z2 := size[0]*size[0], size[1]*size[1], size[2]*size[2]
	return inertiaFromDiagonal(mass, mgl64.Vec3{mass * (y2 + z2) / 12, mass * (x2 + z2) / 12, mass * (x2 + y2) / 12})
}
