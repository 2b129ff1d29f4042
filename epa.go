package cm3

import (
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
)

const (
	epaMaxIterations = 64
	epaTolerance     = 1e-6
)

type epaFace struct {
	i        [3]int
	normal   mgl64.Vec3
	distance float64
}

type epaEdge struct{ a, b int }

// polytope is the expanding hull of the Minkowski difference.
type polytope struct {
	verts   []simplexVertex
	faces   []epaFace
	horizon []epaEdge
}

var polytopePool = sync.Pool{
	New: func() any {
		return &polytope{
			verts:   make([]simplexVertex, 0, 32),
			faces:   make([]epaFace, 0, 64),
			horizon: make([]epaEdge, 0, 32),
		}
	},
}

func (p *polytope) reset() {
	p.verts = p.verts[:0]
	p.faces = p.faces[:0]
	p.horizon = p.horizon[:0]
}

func (p *polytope) addFace(a, b, c int) {
	pa, pb, pc := p.verts[a].w, p.verts[b].w, p.verts[c].w
	n := pb.Sub(pa).Cross(pc.Sub(pa))
	f := epaFace{i: [3]int{a, b, c}, distance: infinity}
	if l := n.Len(); l > 1e-12 {
		f.normal = n.Mul(1 / l)
		f.distance = f.normal.Dot(pa)
	}
	p.faces = append(p.faces, f)
}

func (p *polytope) closestFace() int {
	best := -1
	for i := range p.faces {
		if best < 0 || p.faces[i].distance < p.faces[best].distance {
			best = i
		}
	}
	return best
}

// addHorizonEdge records an edge of a removed face, cancelling it when the
// neighbouring removed face already recorded it in the opposite direction.
func (p *polytope) addHorizonEdge(a, b int) {
	for i, e := range p.horizon {
		if e.a == b && e.b == a {
			p.horizon[i] = p.horizon[len(p.horizon)-1]
			p.horizon = p.horizon[:len(p.horizon)-1]
			return
		}
	}
	p.horizon = append(p.horizon, epaEdge{a, b})
}

// expand adds w to the hull, replacing every face that can see it.
func (p *polytope) expand(w simplexVertex) {
	p.horizon = p.horizon[:0]
	n := 0
	for _, f := range p.faces {
		visible := f.distance != infinity && f.normal.Dot(w.w.Sub(p.verts[f.i[0]].w)) > 0
		if visible {
			p.addHorizonEdge(f.i[0], f.i[1])
			p.addHorizonEdge(f.i[1], f.i[2])
			p.addHorizonEdge(f.i[2], f.i[0])
			continue
		}
		p.faces[n] = f
		n++
	}
	p.faces = p.faces[:n]
	p.verts = append(p.verts, w)
	index := len(p.verts) - 1
	for _, e := range p.horizon {
		p.addFace(e.a, e.b, index)
	}
}

// blowUp grows a GJK simplex that touches the origin into a tetrahedron.
func (p *polytope) blowUp(m *minkowski, s *simplex) bool {
	for i := range s.n {
		p.verts = append(p.verts, s.v[i])
	}
	directions := [6]mgl64.Vec3{unitX, unitY, unitZ, unitX.Mul(-1), unitY.Mul(-1), unitZ.Mul(-1)}
	if len(p.verts) == 1 {
		for _, d := range directions {
			w := m.support(d)
			if w.w.Sub(p.verts[0].w).LenSqr() > 1e-18 {
				p.verts = append(p.verts, w)
				break
			}
		}
	}
	if len(p.verts) == 2 {
		edge := p.verts[1].w.Sub(p.verts[0].w)
		t1, t2 := tangentBasis(safeNormalize(edge, unitX))
		for _, d := range [4]mgl64.Vec3{t1, t2, t1.Mul(-1), t2.Mul(-1)} {
			w := m.support(d)
			if w.w.Sub(p.verts[0].w).Cross(edge).LenSqr() > 1e-18 {
				p.verts = append(p.verts, w)
				break
			}
		}
	}
	if len(p.verts) == 3 {
		a, b, c := p.verts[0].w, p.verts[1].w, p.verts[2].w
		n := safeNormalize(b.Sub(a).Cross(c.Sub(a)), unitY)
		w := m.support(n)
		if math.Abs(w.w.Sub(a).Dot(n)) < 1e-9 {
			w = m.support(n.Mul(-1))
		}
		p.verts = append(p.verts, w)
	}
	if len(p.verts) < 4 {
		return false
	}
	a, b, c, d := p.verts[0].w, p.verts[1].w, p.verts[2].w, p.verts[3].w
	volume := b.Sub(a).Cross(c.Sub(a)).Dot(d.Sub(a))
	if math.Abs(volume) < 1e-15 {
		return false
	}
	// Wind every face so its normal points away from the opposite vertex.
	if volume > 0 {
		p.addFace(0, 2, 1)
		p.addFace(0, 1, 3)
		p.addFace(0, 3, 2)
		p.addFace(1, 2, 3)
	} else {
		p.addFace(0, 1, 2)
		p.addFace(0, 3, 1)
		p.addFace(0, 2, 3)
		p.addFace(1, 3, 2)
	}
	return true
}

// epaResult is the penetration of two intersecting convex shapes.
type epaResult struct {
	// Normal points from A to B.
	Normal         mgl64.Vec3
	Depth          float64
	PointA, PointB mgl64.Vec3
}

// epaPenetration expands the enclosing GJK simplex until the face of A - B
// closest to the origin is found. It reports false when the polytope could not
// be built or did not converge; the result then holds the best estimate, which
// still has a unit normal and a depth of at least zero.
func epaPenetration(m *minkowski, s *simplex) (epaResult, bool) {
	p := polytopePool.Get().(*polytope)
	defer polytopePool.Put(p)
	p.reset()

	if !p.blowUp(m, s) {
		return supportPenetration(m, safeNormalize(m.poseB.Position.Sub(m.poseA.Position), unitY)), false
	}

	converged := false
	best := 0
	for range epaMaxIterations {
		best = p.closestFace()
		f := p.faces[best]
		if f.distance == infinity || f.distance < 0 {
			break
		}
		w := m.support(f.normal)
		if w.w.Dot(f.normal)-f.distance < epaTolerance*math.Max(1, f.distance) {
			converged = true
			break
		}
		p.expand(w)
		if len(p.faces) == 0 {
			return supportPenetration(m, safeNormalize(m.poseB.Position.Sub(m.poseA.Position), unitY)), false
		}
	}
	best = p.closestFace()
	if f := p.faces[best]; f.distance < 0 || f.distance == infinity {
		// The origin fell outside the hull, so the face normal only serves
		// as a direction to measure along.
		return supportPenetration(m, safeNormalize(f.normal, unitY)), false
	}
	return p.result(best), converged
}

// supportPenetration measures the overlap of A and B along normal and its
// opposite and keeps the shallower one. The depth is never negative.
func supportPenetration(m *minkowski, normal mgl64.Vec3) epaResult {
	measure := func(n mgl64.Vec3) epaResult {
		w := m.support(n)
		return epaResult{Normal: n, Depth: math.Max(w.w.Dot(n), 0), PointA: w.a, PointB: w.b}
	}
	forward, backward := measure(normal), measure(normal.Mul(-1))
	if backward.Depth < forward.Depth {
		return backward
	}
	return forward
}

func (p *polytope) result(face int) epaResult {
	f := p.faces[face]
	a, b, c := p.verts[f.i[0]], p.verts[f.i[1]], p.verts[f.i[2]]
	// Barycentric weights of the origin projected onto the face.
	_, u, v, w := closestOnTriangle(a.w, b.w, c.w)
	return epaResult{
		Normal: f.normal,
		Depth:  f.distance,
		PointA: a.a.Mul(u).Add(b.a.Mul(v)).Add(c.a.Mul(w)),
		PointB: a.b.Mul(u).Add(b.b.Mul(v)).Add(c.b.Mul(w)),
	}
}
