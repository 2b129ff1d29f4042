package cm3

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Contact is one point of a contact manifold.
type Contact struct {
	// Offset from A's position to the contact.
	Offset mgl64.Vec3
	// Normal points from A to B.
	Normal mgl64.Vec3
	// Depth is positive when penetrating and negative for speculative contacts.
	Depth     float64
	FeatureID HashValue
}

// ContactManifold holds the contacts found between two collidables.
type ContactManifold struct {
	// OffsetB is B's position minus A's position.
	OffsetB  mgl64.Vec3
	Count    int
	Contacts [MaximumContacts]Contact
	// Convex manifolds share one normal across all contacts.
	Convex bool
}

func (m *ContactManifold) reset(offsetB mgl64.Vec3, convex bool) {
	m.OffsetB = offsetB
	m.Count = 0
	m.Convex = convex
}

// Add appends a contact, silently dropping it when the manifold is full.
func (m *ContactManifold) Add(c Contact) {
	if m.Count < MaximumContacts {
		m.Contacts[m.Count] = c
		m.Count++
	}
}

// Flip converts a manifold computed with A and B swapped back to A's frame.
func (m *ContactManifold) Flip(offsetB mgl64.Vec3) {
	for i := range m.Count {
		c := &m.Contacts[i]
		c.Offset = c.Offset.Add(offsetB)
		c.Normal = c.Normal.Mul(-1)
	}
	m.OffsetB = offsetB
}

// Deepest returns the largest contact depth, or -Inf for an empty manifold.
func (m *ContactManifold) Deepest() float64 {
	d := math.Inf(-1)
	for i := range m.Count {
		d = math.Max(d, m.Contacts[i].Depth)
	}
	return d
}

type clipVertex struct {
	p  mgl64.Vec3
	id HashValue
}

type contactCandidate struct {
	point  mgl64.Vec3
	normal mgl64.Vec3
	depth  float64
	id     HashValue
}

// manifoldScratch holds the buffers used to build convex manifolds. Each
// worker owns one.
type manifoldScratch struct {
	featureA, featureB []mgl64.Vec3
	clip, clipNext     []clipVertex
	candidates         []contactCandidate
}

func worldFeature(shape IConvexShape, pose RigidPose, direction mgl64.Vec3, out []mgl64.Vec3) []mgl64.Vec3 {
	out = shape.ContactFeature(pose.InverseApplyVector(direction), out[:0])
	for i := range out {
		out[i] = pose.Apply(out[i])
	}
	return out
}

// convexManifold builds up to four contacts for two convex shapes whose
// closest features are described by normal, the witness points and depth.
// Contacts separated by more than margin are dropped.
func (s *manifoldScratch) convexManifold(a IConvexShape, poseA RigidPose, b IConvexShape, poseB RigidPose,
	normal, pointA, pointB mgl64.Vec3, depth, margin float64, out *ContactManifold) {
	out.reset(poseB.Position.Sub(poseA.Position), true)
	s.featureA = worldFeature(a, poseA, normal, s.featureA)
	s.featureB = worldFeature(b, poseB, normal.Mul(-1), s.featureB)
	s.candidates = s.candidates[:0]

	na, nb := len(s.featureA), len(s.featureB)
	switch {
	case na == 1 || nb == 1:
	case na == 2 && nb == 2:
		s.clipEdges(normal)
	default:
		s.clipFaces(normal)
	}
	if len(s.candidates) == 0 {
		s.candidates = append(s.candidates, contactCandidate{point: pointA.Add(pointB).Mul(0.5), depth: depth})
	}

	n := 0
	for _, c := range s.candidates {
		if c.depth >= -margin {
			c.normal = normal
			s.candidates[n] = c
			n++
		}
	}
	s.candidates = s.candidates[:n]
	// Clipping against a slightly off normal can push every feature point
	// outside the margin even though the shapes touch.
	if n == 0 && depth >= -margin {
		s.candidates = append(s.candidates, contactCandidate{point: pointA.Add(pointB).Mul(0.5), normal: normal, depth: depth})
	}
	reduceCandidates(s.candidates, normal, poseA.Position, out)
}

// clipEdges handles edge against edge. Nearly parallel edges produce two
// contacts, crossing edges are left to the witness points.
func (s *manifoldScratch) clipEdges(normal mgl64.Vec3) {
	a0, a1 := s.featureA[0], s.featureA[1]
	b0, b1 := s.featureB[0], s.featureB[1]
	da := a1.Sub(a0)
	db := b1.Sub(b0)
	la, lb := da.Len(), db.Len()
	if la < 1e-9 || lb < 1e-9 {
		return
	}
	u := da.Mul(1 / la)
	if u.Cross(db.Mul(1/lb)).Len() > 0.1 {
		return
	}
	lo, hi := a0.Dot(u), a1.Dot(u)
	if lo > hi {
		lo, hi = hi, lo
	}
	t0, t1 := b0.Dot(u), b1.Dot(u)
	if math.Abs(t1-t0) < 1e-12 {
		return
	}
	planeA := math.Max(a0.Dot(normal), a1.Dot(normal))
	for i, t := range [2]float64{clamp(t0, lo, hi), clamp(t1, lo, hi)} {
		p := b0.Add(db.Mul((t - t0) / (t1 - t0)))
		d := planeA - p.Dot(normal)
		s.candidates = append(s.candidates, contactCandidate{point: p.Add(normal.Mul(d / 2)), depth: d, id: HashValue(i)})
	}
}

// clipFaces clips the incident feature against the side planes of the
// reference face, the feature with more vertices.
func (s *manifoldScratch) clipFaces(normal mgl64.Vec3) {
	reference, incident := s.featureA, s.featureB
	referenceIsA := len(s.featureA) >= len(s.featureB)
	var flag HashValue
	if !referenceIsA {
		reference, incident = s.featureB, s.featureA
		flag = 1 << 24
	}

	s.clip = s.clip[:0]
	for i, p := range incident {
		s.clip = append(s.clip, clipVertex{p: p, id: HashValue(i) | flag})
	}

	var center mgl64.Vec3
	for _, p := range reference {
		center = center.Add(p)
	}
	center = center.Mul(1 / float64(len(reference)))

	for k := range reference {
		if len(s.clip) == 0 {
			return
		}
		v1 := reference[k]
		v2 := reference[(k+1)%len(reference)]
		planeNormal := v2.Sub(v1).Cross(normal)
		if planeNormal.LenSqr() < 1e-18 {
			continue
		}
		if center.Sub(v1).Dot(planeNormal) < 0 {
			planeNormal = planeNormal.Mul(-1)
		}
		edgeID := HashValue(k+1) << 16
		if len(s.clip) == 2 {
			s.clipNext = clipSegment(s.clip, v1, planeNormal, edgeID, s.clipNext[:0])
		} else {
			s.clipNext = clipPolygon(s.clip, v1, planeNormal, edgeID, s.clipNext[:0])
		}
		s.clip, s.clipNext = s.clipNext, s.clip
	}

	if referenceIsA {
		plane := -infinity
		for _, p := range reference {
			plane = math.Max(plane, p.Dot(normal))
		}
		for _, v := range s.clip {
			d := plane - v.p.Dot(normal)
			s.candidates = append(s.candidates, contactCandidate{point: v.p.Add(normal.Mul(d / 2)), depth: d, id: v.id})
		}
		return
	}
	plane := infinity
	for _, p := range reference {
		plane = math.Min(plane, p.Dot(normal))
	}
	for _, v := range s.clip {
		d := v.p.Dot(normal) - plane
		s.candidates = append(s.candidates, contactCandidate{point: v.p.Sub(normal.Mul(d / 2)), depth: d, id: v.id})
	}
}

const clipTolerance = 1e-9

func planeIntersect(p1, p2, planePoint, planeNormal mgl64.Vec3) mgl64.Vec3 {
	dir := p2.Sub(p1)
	denom := dir.Dot(planeNormal)
	if math.Abs(denom) < 1e-15 {
		return p1
	}
	t := clamp01(-p1.Sub(planePoint).Dot(planeNormal) / denom)
	return p1.Add(dir.Mul(t))
}

// clipPolygon is one Sutherland-Hodgman pass keeping the side planeNormal points to.
func clipPolygon(polygon []clipVertex, planePoint, planeNormal mgl64.Vec3, edgeID HashValue, out []clipVertex) []clipVertex {
	prev := polygon[len(polygon)-1]
	prevInside := prev.p.Sub(planePoint).Dot(planeNormal) >= -clipTolerance
	for _, cur := range polygon {
		curInside := cur.p.Sub(planePoint).Dot(planeNormal) >= -clipTolerance
		if curInside != prevInside {
			out = append(out, clipVertex{
				p:  planeIntersect(prev.p, cur.p, planePoint, planeNormal),
				id: edgeID | prev.id<<8 | cur.id&0xff,
			})
		}
		if curInside {
			out = append(out, cur)
		}
		prev, prevInside = cur, curInside
	}
	return out
}

func clipSegment(segment []clipVertex, planePoint, planeNormal mgl64.Vec3, edgeID HashValue, out []clipVertex) []clipVertex {
	a, b := segment[0], segment[1]
	da := a.p.Sub(planePoint).Dot(planeNormal)
	db := b.p.Sub(planePoint).Dot(planeNormal)
	insideA, insideB := da >= -clipTolerance, db >= -clipTolerance
	switch {
	case insideA && insideB:
		return append(out, a, b)
	case !insideA && !insideB:
		return out
	}
	x := clipVertex{p: planeIntersect(a.p, b.p, planePoint, planeNormal), id: edgeID | a.id<<8 | b.id&0xff}
	if insideA {
		return append(out, a, x)
	}
	return append(out, x, b)
}

// reduceCandidates keeps at most four candidates: the deepest, the one furthest
// from it, the one spanning the largest triangle with those, and the one
// furthest outside that triangle. Areas are measured in the plane of normal.
func reduceCandidates(candidates []contactCandidate, normal, origin mgl64.Vec3, out *ContactManifold) {
	emit := func(c contactCandidate) {
		out.Add(Contact{Offset: c.point.Sub(origin), Normal: c.normal, Depth: c.depth, FeatureID: c.id})
	}
	if len(candidates) <= MaximumContacts {
		for _, c := range candidates {
			emit(c)
		}
		return
	}

	first := 0
	for i, c := range candidates {
		if c.depth > candidates[first].depth {
			first = i
		}
	}
	p0 := candidates[first].point

	second, best := -1, -1.0
	for i, c := range candidates {
		if d := c.point.Sub(p0).LenSqr(); i != first && d > best {
			second, best = i, d
		}
	}
	p1 := candidates[second].point

	third, best := -1, -1.0
	for i, c := range candidates {
		if i == first || i == second {
			continue
		}
		if area := math.Abs(p1.Sub(p0).Cross(c.point.Sub(p0)).Dot(normal)); area > best {
			third, best = i, area
		}
	}
	p2 := candidates[third].point

	// Orient the triangle so signed areas of points outside an edge are negative.
	winding := 1.0
	if p1.Sub(p0).Cross(p2.Sub(p0)).Dot(normal) < 0 {
		winding = -1
	}
	edges := [3][2]mgl64.Vec3{{p0, p1}, {p1, p2}, {p2, p0}}
	fourth, best := -1, 0.0
	for i, c := range candidates {
		if i == first || i == second || i == third {
			continue
		}
		outside := 0.0
		for _, e := range edges {
			area := winding * e[1].Sub(e[0]).Cross(c.point.Sub(e[0])).Dot(normal)
			outside = math.Min(outside, area)
		}
		if outside < best {
			fourth, best = i, outside
		}
	}

	emit(candidates[first])
	emit(candidates[second])
	emit(candidates[third])
	if fourth >= 0 {
		emit(candidates[fourth])
	}
}
