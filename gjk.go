package cm3

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

const (
	gjkMaxIterations = 64
	gjkTolerance     = 1e-9
)

// supporter is the one query GJK needs from a shape.
type supporter interface {
	Support(direction mgl64.Vec3) mgl64.Vec3
}

// pointShape is a single point at its origin, used for ray tests.
type pointShape struct{}

func (pointShape) Support(mgl64.Vec3) mgl64.Vec3 { return mgl64.Vec3{} }

// minkowski is the difference A - B of two posed shapes.
type minkowski struct {
	a, b         supporter
	poseA, poseB RigidPose
}

type simplexVertex struct {
	w, a, b mgl64.Vec3
}

func (m *minkowski) support(direction mgl64.Vec3) simplexVertex {
	a := m.poseA.Apply(m.a.Support(m.poseA.InverseApplyVector(direction)))
	b := m.poseB.Apply(m.b.Support(m.poseB.InverseApplyVector(direction.Mul(-1))))
	return simplexVertex{w: a.Sub(b), a: a, b: b}
}

// Simplex holds 1-4 vertices of the Minkowski difference with the barycentric
// weights of the point closest to the origin.
type simplex struct {
	v      [4]simplexVertex
	lambda [4]float64
	n      int
}

func (s *simplex) closestPoints() (a, b mgl64.Vec3) {
	for i := range s.n {
		a = a.Add(s.v[i].a.Mul(s.lambda[i]))
		b = b.Add(s.v[i].b.Mul(s.lambda[i]))
	}
	return
}

// keep compacts the simplex to the vertices with positive weight.
func (s *simplex) keep(weights [4]float64) {
	n := 0
	for i := range s.n {
		if weights[i] > 0 {
			s.v[n] = s.v[i]
			s.lambda[n] = weights[i]
			n++
		}
	}
	s.n = n
}

// solve reduces the simplex to the sub-simplex supporting the closest point to
// the origin and returns that point. It reports whether the origin is enclosed.
func (s *simplex) solve() (mgl64.Vec3, bool) {
	switch s.n {
	case 1:
		s.lambda[0] = 1
		return s.v[0].w, false
	case 2:
		p, u, v := closestOnSegment(s.v[0].w, s.v[1].w)
		s.keep([4]float64{u, v})
		return p, false
	case 3:
		p, u, v, w := closestOnTriangle(s.v[0].w, s.v[1].w, s.v[2].w)
		s.keep([4]float64{u, v, w})
		return p, false
	}
	return s.solveTetrahedron()
}

func (s *simplex) solveTetrahedron() (mgl64.Vec3, bool) {
	faces := [4][4]int{{0, 1, 2, 3}, {0, 3, 1, 2}, {0, 2, 3, 1}, {1, 3, 2, 0}}
	inside := true
	bestDist := infinity
	var best mgl64.Vec3
	var bestWeights [4]float64
	for _, f := range faces {
		a, b, c, d := s.v[f[0]].w, s.v[f[1]].w, s.v[f[2]].w, s.v[f[3]].w
		n := b.Sub(a).Cross(c.Sub(a))
		sideOrigin := a.Mul(-1).Dot(n)
		sideOpposite := d.Sub(a).Dot(n)
		// Flat tetrahedra enclose nothing.
		if math.Abs(sideOpposite) > 1e-14 && sideOrigin*sideOpposite >= 0 {
			continue
		}
		inside = false
		p, u, v, w := closestOnTriangle(a, b, c)
		if dist := p.LenSqr(); dist < bestDist {
			bestDist = dist
			best = p
			bestWeights = [4]float64{}
			bestWeights[f[0]], bestWeights[f[1]], bestWeights[f[2]] = u, v, w
		}
	}
	if inside {
		return mgl64.Vec3{}, true
	}
	s.keep(bestWeights)
	return best, false
}

// closestOnSegment returns the point of segment ab closest to the origin and its weights.
func closestOnSegment(a, b mgl64.Vec3) (mgl64.Vec3, float64, float64) {
	ab := b.Sub(a)
	denom := ab.LenSqr()
	if denom < 1e-18 {
		return a, 1, 0
	}
	t := -a.Dot(ab) / denom
	if t <= 0 {
		return a, 1, 0
	}
	if t >= 1 {
		return b, 0, 1
	}
	return a.Add(ab.Mul(t)), 1 - t, t
}

// closestOnTriangle returns the point of triangle abc closest to the origin and
// its barycentric weights.
func closestOnTriangle(a, b, c mgl64.Vec3) (p mgl64.Vec3, u, v, w float64) {
	ab := b.Sub(a)
	ac := c.Sub(a)
	d1 := ab.Dot(a.Mul(-1))
	d2 := ac.Dot(a.Mul(-1))
	if d1 <= 0 && d2 <= 0 {
		return a, 1, 0, 0
	}
	d3 := ab.Dot(b.Mul(-1))
	d4 := ac.Dot(b.Mul(-1))
	if d3 >= 0 && d4 <= d3 {
		return b, 0, 1, 0
	}
	vc := d1*d4 - d3*d2
	if vc <= 0 && d1 >= 0 && d3 <= 0 {
		t := d1 / (d1 - d3)
		return a.Add(ab.Mul(t)), 1 - t, t, 0
	}
	d5 := ab.Dot(c.Mul(-1))
	d6 := ac.Dot(c.Mul(-1))
	if d6 >= 0 && d5 <= d6 {
		return c, 0, 0, 1
	}
	vb := d5*d2 - d1*d6
	if vb <= 0 && d2 >= 0 && d6 <= 0 {
		t := d2 / (d2 - d6)
		return a.Add(ac.Mul(t)), 1 - t, 0, t
	}
	va := d3*d6 - d5*d4
	if va <= 0 && d4-d3 >= 0 && d5-d6 >= 0 {
		t := (d4 - d3) / ((d4 - d3) + (d5 - d6))
		return b.Add(c.Sub(b).Mul(t)), 0, 1 - t, t
	}
	sum := va + vb + vc
	if math.Abs(sum) < 1e-18 {
		// Degenerate triangle, fall back to its longest edge.
		q, s, t := closestOnSegment(a, b)
		if r, s2, t2 := closestOnSegment(a, c); r.LenSqr() < q.LenSqr() {
			return r, s2, 0, t2
		}
		return q, s, t, 0
	}
	v = vb / sum
	w = vc / sum
	return a.Add(ab.Mul(v)).Add(ac.Mul(w)), 1 - v - w, v, w
}

// gjkResult describes the closest features of two convex shapes.
type gjkResult struct {
	Intersecting bool
	Distance     float64
	// Normal points from A to B. Only set for separated shapes.
	Normal         mgl64.Vec3
	PointA, PointB mgl64.Vec3
	simplex        simplex
}

// gjkDistance finds the distance between two posed convex shapes. guess is an
// initial search direction from A towards B; a zero guess uses the offset between poses.
func gjkDistance(a supporter, poseA RigidPose, b supporter, poseB RigidPose, guess mgl64.Vec3) gjkResult {
	m := minkowski{a: a, b: b, poseA: poseA, poseB: poseB}
	if guess.LenSqr() < 1e-18 {
		guess = poseB.Position.Sub(poseA.Position)
	}
	// The closest point of A - B lies against the A to B direction.
	var s simplex
	s.v[0] = m.support(safeNormalize(guess.Mul(-1), unitX))
	s.n = 1
	v, _ := s.solve()
	for range gjkMaxIterations {
		vv := v.LenSqr()
		if vv < gjkTolerance*gjkTolerance {
			return gjkResult{Intersecting: true, simplex: s}
		}
		w := m.support(v.Mul(-1))
		if vv-v.Dot(w.w) <= gjkTolerance*math.Max(vv, 1) {
			break
		}
		duplicate := false
		for i := range s.n {
			if s.v[i].w.Sub(w.w).LenSqr() < 1e-24 {
				duplicate = true
			}
		}
		if duplicate {
			break
		}
		s.v[s.n] = w
		s.n++
		next, enclosed := s.solve()
		if enclosed {
			return gjkResult{Intersecting: true, simplex: s}
		}
		progress := next.LenSqr() < vv
		v = next
		// No progress means v is as close as this precision allows.
		if !progress {
			break
		}
	}
	dist := v.Len()
	if dist < gjkTolerance {
		return gjkResult{Intersecting: true, simplex: s}
	}
	pa, pb := s.closestPoints()
	return gjkResult{
		Distance: dist,
		Normal:   v.Mul(-1 / dist),
		PointA:   pa,
		PointB:   pb,
		simplex:  s,
	}
}

// rayTestConvex finds where a ray enters a posed convex shape by conservative
// advancement of a point along the ray.
func rayTestConvex(shape IConvexShape, pose RigidPose, origin, direction mgl64.Vec3, maxT float64) (float64, mgl64.Vec3, bool) {
	t := 0.0
	guess := pose.Position.Sub(origin)
	normal := safeNormalize(direction.Mul(-1), unitY)
	for range gjkMaxIterations {
		point := NewPose(origin.Add(direction.Mul(t)))
		r := gjkDistance(pointShape{}, point, shape, pose, guess)
		if r.Intersecting || r.Distance < 1e-7 {
			return t, normal, true
		}
		normal = r.Normal.Mul(-1)
		// r.Normal points from the ray point towards the shape.
		approach := direction.Dot(r.Normal)
		if approach <= 1e-12 {
			return 0, mgl64.Vec3{}, false
		}
		t += r.Distance / approach
		if t > maxT {
			return 0, mgl64.Vec3{}, false
		}
		guess = r.Normal
	}
	return 0, mgl64.Vec3{}, false
}
