package cm3

import (
	"github.com/go-gl/mathgl/mgl64"
)

// childContact is a contact between two children of a nonconvex pair, with
// its offset already relative to the parent A.
type childContact struct {
	Contact
	childA, childB int
}

// nonconvexReduction merges child contacts into at most four, preferring the
// deepest and those that span the largest area.
func nonconvexReduction(ctx *CollisionContext, contacts []childContact, out *ContactManifold) {
	if len(contacts) == 0 {
		return
	}
	deepest := 0
	ctx.candidates = ctx.candidates[:0]
	for i, c := range contacts {
		if c.Depth > contacts[deepest].Depth {
			deepest = i
		}
		ctx.candidates = append(ctx.candidates, contactCandidate{point: c.Offset, normal: c.Normal, depth: c.Depth, id: c.FeatureID})
	}
	reduceCandidates(ctx.candidates, contacts[deepest].Normal, mgl64.Vec3{}, out)
}

// meshReduction drops contacts against the back of mesh triangles and replaces
// normals that come off an edge shared with another touched triangle by the
// face normal. With perChild set, only triangles touched by the same child of
// the other shape count as neighbours.
func meshReduction(mesh *Mesh, meshPose RigidPose, meshIsB, perChild bool, contacts []childContact) []childContact {
	triangle := func(c *childContact) int {
		if meshIsB {
			return c.childB
		}
		return c.childA
	}
	other := func(c *childContact) int {
		if meshIsB {
			return c.childA
		}
		return c.childB
	}
	// Face normals oriented like contact normals, from A to B.
	faceNormal := func(c *childContact) mgl64.Vec3 {
		n := meshPose.ApplyVector(mesh.Triangles[triangle(c)].Normal())
		if meshIsB {
			return n.Mul(-1)
		}
		return n
	}

	n := 0
	for i := range contacts {
		c := &contacts[i]
		if c.Normal.Dot(faceNormal(c)) < -1e-6 {
			continue
		}
		contacts[n] = *c
		n++
	}
	contacts = contacts[:n]

	for i := range contacts {
		c := &contacts[i]
		face := faceNormal(c)
		along := c.Normal.Dot(face)
		if along > 1-1e-6 {
			continue
		}
		for j := range contacts {
			if j == i || triangle(&contacts[j]) == triangle(c) {
				continue
			}
			if perChild && other(&contacts[j]) != other(c) {
				continue
			}
			if mesh.sharesEdge(triangle(c), triangle(&contacts[j])) {
				c.Normal = face
				c.Depth *= along
				break
			}
		}
	}
	return contacts
}

// compoundMeshReduction is meshReduction for a compound against a mesh, where
// each compound child is corrected against the triangles it touches.
func compoundMeshReduction(mesh *Mesh, meshPose RigidPose, meshIsB bool, contacts []childContact) []childContact {
	return meshReduction(mesh, meshPose, meshIsB, true, contacts)
}
