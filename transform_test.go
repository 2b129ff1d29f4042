package cm3

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/require"
)

func TestPoseRoundTrip(t *testing.T) {
	a := NewPoseRotate(mgl64.Vec3{1, 2, 3}, math.Pi/3, mgl64.Vec3{1, 1, 0})
	b := NewPoseRotate(mgl64.Vec3{-4, 0, 2}, -0.7, mgl64.Vec3{0, 0, 1})
	p := mgl64.Vec3{0.5, -1, 2}

	requireVec(t, p, a.InverseApply(a.Apply(p)), 1e-12)
	requireVec(t, p, a.Inverse().Apply(a.Apply(p)), 1e-12)
	requireVec(t, a.Apply(b.Apply(p)), a.Mult(b).Apply(p), 1e-12)

	// b expressed relative to a, then put back.
	rel := b.RelativeTo(a)
	requireVec(t, b.Apply(p), a.Mult(rel).Apply(p), 1e-12)
}

func TestPoseIntegrate(t *testing.T) {
	pose := NewPose(mgl64.Vec3{1, 0, 0})
	moved := pose.Integrate(BodyVelocity{Linear: mgl64.Vec3{0, 2, 0}, Angular: mgl64.Vec3{0, 0, math.Pi}}, 0.5)
	requireVec(t, mgl64.Vec3{1, 1, 0}, moved.Position, 1e-12)
	// Half a turn per second for half a second is a quarter turn about Z.
	requireVec(t, mgl64.Vec3{0, 1, 0}, moved.ApplyVector(mgl64.Vec3{1, 0, 0}), 1e-12)
	require.InDelta(t, 1, moved.Orientation.Len(), 1e-12)

	require.Equal(t, pose, pose.Integrate(BodyVelocity{}, 1))
}

func TestRotateInertia(t *testing.T) {
	local := mgl64.Diag3(mgl64.Vec3{1, 2, 3})
	q := mgl64.QuatRotate(math.Pi/2, mgl64.Vec3{0, 0, 1})
	world := rotateInertia(local, q)
	// A quarter turn about Z swaps the X and Y moments.
	require.InDelta(t, 2, world.At(0, 0), 1e-12)
	require.InDelta(t, 1, world.At(1, 1), 1e-12)
	require.InDelta(t, 3, world.At(2, 2), 1e-12)
}

func TestBB(t *testing.T) {
	bb := NewBB(mgl64.Vec3{-1, -1, -1}, mgl64.Vec3{1, 2, 1})
	require.True(t, bb.ContainsVect(mgl64.Vec3{0, 2, 0}))
	require.False(t, bb.ContainsVect(mgl64.Vec3{0, 2.1, 0}))
	require.Equal(t, mgl64.Vec3{1, -1, 0}, bb.ClampVect(mgl64.Vec3{5, -3, 0}))
	require.Equal(t, mgl64.Vec3{0, 0.5, 0}, bb.Center())
	require.Equal(t, mgl64.Vec3{1, 1.5, 1}, bb.Extents())

	swept := bb.Sweep(mgl64.Vec3{3, 0, -2})
	require.Equal(t, NewBB(mgl64.Vec3{-1, -1, -3}, mgl64.Vec3{4, 2, 1}), swept)
	require.True(t, swept.Contains(bb))
	require.True(t, swept.Contains(bb.Offset(mgl64.Vec3{3, 0, -2})))

	require.Equal(t, 2.0, bb.RayQuery(mgl64.Vec3{-3, 0, 0}, mgl64.Vec3{1, 0, 0}, 10))
	require.False(t, bb.IntersectsRay(mgl64.Vec3{-3, 0, 0}, mgl64.Vec3{1, 0, 0}, 1.5))
	require.False(t, bb.IntersectsRay(mgl64.Vec3{-3, 5, 0}, mgl64.Vec3{1, 0, 0}, 10))
	require.Equal(t, 0.0, bb.RayQuery(mgl64.Vec3{}, mgl64.Vec3{0, 1, 0}, 10), "rays starting inside hit at once")

	// A quarter turn about Z swaps the X and Y extents.
	rotated := rotatedBounds(bb.Min, bb.Max, NewPoseRotate(mgl64.Vec3{}, math.Pi/2, mgl64.Vec3{0, 0, 1}))
	requireVec(t, mgl64.Vec3{1.5, 1, 1}, rotated.Extents(), 1e-12)
}
