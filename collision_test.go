package cm3

import (
	"io"
	"log/slog"
	"math/rand/v2"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/require"
)

func newTestContext() *CollisionContext {
	return NewCollisionContext(NewShapes(), NewCollisionTaskRegistry(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func requireVec(t *testing.T, want, got mgl64.Vec3, delta float64) {
	t.Helper()
	for i := range 3 {
		require.InDelta(t, want[i], got[i], delta, "component %d of %v", i, got)
	}
}

func TestCollideSphereSphere(t *testing.T) {
	ctx := newTestContext()
	var m ContactManifold
	sphere := NewSphere(1)
	require.True(t, ctx.Collide(sphere, sphere, NewPoseIdentity(), NewPose(mgl64.Vec3{1.5, 0, 0}), 0.1, &m))
	require.Equal(t, 1, m.Count)
	require.True(t, m.Convex)
	require.Equal(t, mgl64.Vec3{1.5, 0, 0}, m.OffsetB)
	c := m.Contacts[0]
	require.InDelta(t, 0.5, c.Depth, 1e-12)
	requireVec(t, mgl64.Vec3{1, 0, 0}, c.Normal, 1e-12)
	requireVec(t, mgl64.Vec3{0.75, 0, 0}, c.Offset, 1e-12)

	// Within the margin the contact is speculative.
	ctx.Collide(sphere, sphere, NewPoseIdentity(), NewPose(mgl64.Vec3{2.05, 0, 0}), 0.1, &m)
	require.Equal(t, 1, m.Count)
	require.InDelta(t, -0.05, m.Contacts[0].Depth, 1e-12)

	// Beyond it there is none.
	ctx.Collide(sphere, sphere, NewPoseIdentity(), NewPose(mgl64.Vec3{3, 0, 0}), 0.1, &m)
	require.Zero(t, m.Count)
}

func TestCollideSphereBox(t *testing.T) {
	ctx := newTestContext()
	var m ContactManifold
	sphere, box := NewSphere(1), NewBox(4, 2, 4)
	spherePose := NewPose(mgl64.Vec3{0.5, 1.8, 0})

	ctx.Collide(sphere, box, spherePose, NewPoseIdentity(), 0, &m)
	require.Equal(t, 1, m.Count)
	require.InDelta(t, 0.2, m.Contacts[0].Depth, 1e-12)
	requireVec(t, mgl64.Vec3{0, -1, 0}, m.Contacts[0].Normal, 1e-12)

	// The mirrored query reports the same contact from the box's side.
	var flipped ContactManifold
	ctx.Collide(box, sphere, NewPoseIdentity(), spherePose, 0, &flipped)
	require.Equal(t, 1, flipped.Count)
	require.InDelta(t, 0.2, flipped.Contacts[0].Depth, 1e-12)
	requireVec(t, mgl64.Vec3{0, 1, 0}, flipped.Contacts[0].Normal, 1e-12)
	world := spherePose.Position.Add(m.Contacts[0].Offset)
	requireVec(t, world, flipped.Contacts[0].Offset, 1e-12)
}

func TestCollideBoxBox(t *testing.T) {
	ctx := newTestContext()
	var m ContactManifold
	ground, crate := NewBox(4, 2, 4), NewBox(2, 2, 2)
	cratePose := NewPose(mgl64.Vec3{0.3, 1.9, 0.2})

	ctx.Collide(ground, crate, NewPoseIdentity(), cratePose, 0.05, &m)
	require.Equal(t, 4, m.Count)
	for i := range m.Count {
		c := m.Contacts[i]
		require.InDelta(t, 0.1, c.Depth, 1e-3)
		requireVec(t, mgl64.Vec3{0, 1, 0}, c.Normal, 1e-3)
		// Contacts sit between the touching faces, under the crate.
		require.InDelta(t, 0.95, c.Offset.Y(), 1e-2)
		require.InDelta(t, 0.3, c.Offset.X(), 1+1e-3)
		require.InDelta(t, 0.2, c.Offset.Z(), 1+1e-3)
	}

	// Separated further than the margin.
	ctx.Collide(ground, crate, NewPoseIdentity(), NewPose(mgl64.Vec3{0, 3, 0}), 0.05, &m)
	require.Zero(t, m.Count)
}

func TestShallowConvexOverlapPushesApart(t *testing.T) {
	ctx := newTestContext()
	rng := rand.New(rand.NewPCG(11, 12))
	randomPose := func(spread float64) RigidPose {
		position := mgl64.Vec3{rng.Float64()*2 - 1, rng.Float64()*2 - 1, rng.Float64()*2 - 1}.Mul(spread)
		axis := mgl64.Vec3{rng.Float64() - 0.5, rng.Float64() - 0.5, rng.Float64() + 0.1}
		return NewPoseRotate(position, rng.Float64()*6, axis)
	}
	for _, pair := range []struct {
		name string
		a, b IConvexShape
	}{
		{"box box", NewBox(1, 1, 1), NewBox(1, 1, 1)},
		{"box cylinder", NewBox(1, 1, 1), NewCylinder(0.5, 0.5)},
	} {
		overlaps := 0
		for range 2000 {
			poseA, poseB := randomPose(0.1), randomPose(1.1)
			if !gjkDistance(pair.a, poseA, pair.b, poseB, mgl64.Vec3{}).Intersecting {
				continue
			}
			overlaps++
			var m ContactManifold
			ctx.Collide(pair.a, pair.b, poseA, poseB, 0, &m)
			require.NotZero(t, m.Count, "%s: overlapping shapes without contacts at %v %v", pair.name, poseA, poseB)
			for i := range m.Count {
				c := m.Contacts[i]
				require.GreaterOrEqual(t, c.Depth, 0.0, pair.name)
				require.InDelta(t, 1, c.Normal.Len(), 1e-9, pair.name)
			}
		}
		require.Greater(t, overlaps, 50, pair.name)
	}
}

func TestSupportPenetration(t *testing.T) {
	box := NewBox(2, 2, 2)
	m := minkowski{a: box, b: box, poseA: NewPoseIdentity(), poseB: NewPose(mgl64.Vec3{1.5, 0, 0})}
	// Measured along the wrong axis, the opposite direction is still the shallower one.
	p := supportPenetration(&m, mgl64.Vec3{-1, 0, 0})
	require.InDelta(t, 0.5, p.Depth, 1e-12)
	requireVec(t, mgl64.Vec3{1, 0, 0}, p.Normal, 1e-12)

	// Separated shapes clamp to zero.
	m.poseB = NewPose(mgl64.Vec3{3, 0, 0})
	require.Zero(t, supportPenetration(&m, mgl64.Vec3{1, 0, 0}).Depth)
}

func TestCollideCapsules(t *testing.T) {
	ctx := newTestContext()
	var m ContactManifold
	capsule := NewCapsule(0.5, 1)
	// Parallel capsules lying side by side touch along a segment.
	ctx.Collide(capsule, capsule, NewPoseIdentity(), NewPose(mgl64.Vec3{0.9, 0, 0}), 0.1, &m)
	require.Equal(t, 2, m.Count)
	for i := range m.Count {
		require.InDelta(t, 0.1, m.Contacts[i].Depth, 1e-9)
		requireVec(t, mgl64.Vec3{1, 0, 0}, m.Contacts[i].Normal, 1e-9)
	}
	require.NotEqual(t, m.Contacts[0].FeatureID, m.Contacts[1].FeatureID)
}

func TestCollideSphereMesh(t *testing.T) {
	ctx := newTestContext()
	var m ContactManifold
	// Two triangles forming the square [-2, 2] x [-2, 2] at y = 0, facing up.
	mesh := NewMesh([]Triangle{
		{A: mgl64.Vec3{-2, 0, -2}, B: mgl64.Vec3{-2, 0, 2}, C: mgl64.Vec3{2, 0, -2}},
		{A: mgl64.Vec3{2, 0, -2}, B: mgl64.Vec3{-2, 0, 2}, C: mgl64.Vec3{2, 0, 2}},
	}, mgl64.Vec3{1, 1, 1})
	sphere := NewSphere(0.5)

	require.True(t, ctx.Collide(sphere, mesh, NewPose(mgl64.Vec3{0.5, 0.4, 0.7}), NewPoseIdentity(), 0.05, &m))
	require.False(t, m.Convex)
	require.GreaterOrEqual(t, m.Count, 1)
	require.InDelta(t, 0.1, m.Deepest(), 1e-9)
	for i := range m.Count {
		requireVec(t, mgl64.Vec3{0, -1, 0}, m.Contacts[i].Normal, 1e-9)
	}
}

func TestMeshMeshHasNoTask(t *testing.T) {
	ctx := newTestContext()
	var m ContactManifold
	mesh := NewMesh([]Triangle{{A: mgl64.Vec3{0, 0, 0}, B: mgl64.Vec3{0, 0, 1}, C: mgl64.Vec3{1, 0, 0}}}, mgl64.Vec3{1, 1, 1})
	require.False(t, ctx.Collide(mesh, mesh, NewPoseIdentity(), NewPoseIdentity(), 0, &m))
	require.Zero(t, m.Count)
}

func TestWarmStartMatchesFeatures(t *testing.T) {
	previous := ConvexTwoBodyContact{ContactManifoldConstraint{Count: 2}}
	previous.Contacts[0] = ContactConstraintPoint{FeatureID: 7, NormalImpulse: 3, FrictionImpulse: mgl64.Vec3{1, 0, 0}}
	previous.Contacts[1] = ContactConstraintPoint{FeatureID: 9, NormalImpulse: 5}

	next := ContactManifoldConstraint{Count: 2}
	next.Contacts[0] = ContactConstraintPoint{FeatureID: 9}
	next.Contacts[1] = ContactConstraintPoint{FeatureID: 11}
	warmStart(previous, &next)
	require.Equal(t, 5.0, next.Contacts[0].NormalImpulse)
	require.Zero(t, next.Contacts[1].NormalImpulse)

	// Applying the same warm start twice changes nothing.
	again := next
	warmStart(previous, &again)
	require.Equal(t, next, again)

	// Joints carry no contact impulses.
	fresh := ContactManifoldConstraint{Count: 1}
	warmStart(NewAngularMotor(mgl64.Vec3{}), &fresh)
	require.Zero(t, fresh.Contacts[0].NormalImpulse)
}
