package cm3

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

type sphereSphereTask struct{}

func (sphereSphereTask) ShapeTypes() (ShapeType, ShapeType) { return SphereType, SphereType }

func (sphereSphereTask) Collide(_ *CollisionContext, a, b IShape, poseA, poseB RigidPose, margin float64, out *ContactManifold) {
	ra, rb := a.(*Sphere).Radius, b.(*Sphere).Radius
	delta := poseB.Position.Sub(poseA.Position)
	dist := delta.Len()
	normal := unitY
	if dist > 1e-12 {
		normal = delta.Mul(1 / dist)
	}
	singleContact(out, delta, normal, ra, ra+rb-dist, margin, mgl64.Vec3{})
}

type sphereCapsuleTask struct{}

func (sphereCapsuleTask) ShapeTypes() (ShapeType, ShapeType) { return SphereType, CapsuleType }

func (sphereCapsuleTask) Collide(_ *CollisionContext, a, b IShape, poseA, poseB RigidPose, margin float64, out *ContactManifold) {
	sphere, capsule := a.(*Sphere), b.(*Capsule)
	s0, s1 := capsule.Segment()
	q, _ := closestPointOnSegment(poseA.Position, poseB.Apply(s0), poseB.Apply(s1))
	delta := q.Sub(poseA.Position)
	dist := delta.Len()
	normal := poseB.ApplyVector(unitX)
	if dist > 1e-12 {
		normal = delta.Mul(1 / dist)
	}
	singleContact(out, poseB.Position.Sub(poseA.Position), normal, sphere.Radius, sphere.Radius+capsule.Radius-dist, margin, mgl64.Vec3{})
}

type sphereBoxTask struct{}

func (sphereBoxTask) ShapeTypes() (ShapeType, ShapeType) { return SphereType, BoxType }

func (sphereBoxTask) Collide(_ *CollisionContext, a, b IShape, poseA, poseB RigidPose, margin float64, out *ContactManifold) {
	sphere, box := a.(*Sphere), b.(*Box)
	h := box.HalfExtents
	c := poseB.InverseApply(poseA.Position)
	q := vmin(vmax(c, h.Mul(-1)), h)
	offsetB := poseB.Position.Sub(poseA.Position)
	if q != c {
		d := q.Sub(c)
		dist := d.Len()
		normal := poseB.ApplyVector(d.Mul(1 / dist))
		singleContact(out, offsetB, normal, sphere.Radius, sphere.Radius-dist, margin, mgl64.Vec3{})
		return
	}
	// Center inside the box: push out through the nearest face.
	axis := 0
	best := infinity
	for i := range 3 {
		if gap := h[i] - math.Abs(c[i]); gap < best {
			axis, best = i, gap
		}
	}
	var local mgl64.Vec3
	local[axis] = -1
	if c[axis] < 0 {
		local[axis] = 1
	}
	singleContact(out, offsetB, poseB.ApplyVector(local), sphere.Radius, sphere.Radius+best, margin, mgl64.Vec3{})
}

type sphereTriangleTask struct{}

func (sphereTriangleTask) ShapeTypes() (ShapeType, ShapeType) { return SphereType, TriangleType }

func (sphereTriangleTask) Collide(_ *CollisionContext, a, b IShape, poseA, poseB RigidPose, margin float64, out *ContactManifold) {
	sphere, tri := a.(*Sphere), b.(*Triangle)
	center := poseA.Position
	ta := poseB.Apply(tri.A).Sub(center)
	tb := poseB.Apply(tri.B).Sub(center)
	tc := poseB.Apply(tri.C).Sub(center)
	p, _, _, _ := closestOnTriangle(ta, tb, tc)
	dist := p.Len()
	var normal mgl64.Vec3
	if dist > 1e-12 {
		normal = p.Mul(1 / dist)
	} else {
		// On the triangle, push out of the face the sphere came from.
		normal = poseB.ApplyVector(tri.Normal()).Mul(-1)
	}
	singleContact(out, poseB.Position.Sub(center), normal, sphere.Radius, sphere.Radius-dist, margin, mgl64.Vec3{})
}

type capsuleCapsuleTask struct{}

func (capsuleCapsuleTask) ShapeTypes() (ShapeType, ShapeType) { return CapsuleType, CapsuleType }

func (capsuleCapsuleTask) Collide(_ *CollisionContext, a, b IShape, poseA, poseB RigidPose, margin float64, out *ContactManifold) {
	ca, cb := a.(*Capsule), b.(*Capsule)
	la0, la1 := ca.Segment()
	lb0, lb1 := cb.Segment()
	a0, a1 := poseA.Apply(la0), poseA.Apply(la1)
	b0, b1 := poseB.Apply(lb0), poseB.Apply(lb1)
	offsetB := poseB.Position.Sub(poseA.Position)
	out.reset(offsetB, true)

	s, t := closestPointsBetweenSegments(a0, a1, b0, b1)
	da, db := a1.Sub(a0), b1.Sub(b0)
	pa := a0.Add(da.Mul(s))
	pb := b0.Add(db.Mul(t))
	delta := pb.Sub(pa)
	dist := delta.Len()
	var normal mgl64.Vec3
	if dist > 1e-12 {
		normal = delta.Mul(1 / dist)
	} else {
		normal, _ = tangentBasis(safeNormalize(da, unitY))
	}
	radii := ca.Radius + cb.Radius

	// Parallel segments touch along an interval, which needs two contacts to rest stably.
	if u := da.Len(); u > 1e-9 && db.Len() > 1e-9 {
		dir := da.Mul(1 / u)
		if dir.Cross(db.Normalize()).Len() < 1e-3 {
			lo, hi := a0.Dot(dir), a1.Dot(dir)
			t0, t1 := b0.Dot(dir), b1.Dot(dir)
			from, to := math.Max(lo, math.Min(t0, t1)), math.Min(hi, math.Max(t0, t1))
			if to-from > 1e-6 {
				for i, tau := range [2]float64{from, to} {
					onA := a0.Add(dir.Mul(tau - lo))
					onB := b0.Add(db.Mul((tau - t0) / (t1 - t0)))
					depth := radii - onB.Sub(onA).Dot(normal)
					if depth < -margin {
						continue
					}
					out.Add(Contact{
						Offset:    onA.Add(normal.Mul(ca.Radius - depth/2)).Sub(poseA.Position),
						Normal:    normal,
						Depth:     depth,
						FeatureID: HashValue(i),
					})
				}
				return
			}
		}
	}
	singleContact(out, offsetB, normal, ca.Radius, radii-dist, margin, pa.Sub(poseA.Position))
}

// convexTask handles any pair of convex shapes with GJK and EPA.
type convexTask struct{ a, b ShapeType }

func (t convexTask) ShapeTypes() (ShapeType, ShapeType) { return t.a, t.b }

func (t convexTask) Collide(ctx *CollisionContext, a, b IShape, poseA, poseB RigidPose, margin float64, out *ContactManifold) {
	ca, cb := a.(IConvexShape), b.(IConvexShape)
	r := gjkDistance(ca, poseA, cb, poseB, mgl64.Vec3{})
	if !r.Intersecting {
		if r.Distance > margin {
			out.reset(poseB.Position.Sub(poseA.Position), true)
			return
		}
		ctx.convexManifold(ca, poseA, cb, poseB, r.Normal, r.PointA, r.PointB, -r.Distance, margin, out)
		return
	}
	m := minkowski{a: ca, b: cb, poseA: poseA, poseB: poseB}
	p, ok := epaPenetration(&m, &r.simplex)
	if !ok {
		ctx.Logger.Debug("penetration depth did not converge", "a", t.a, "b", t.b, "depth", p.Depth)
	}
	ctx.convexManifold(ca, poseA, cb, poseB, p.Normal, p.PointA, p.PointB, p.Depth, margin, out)
}
