package cm3

import (
	"math/rand/v2"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/require"
)

func addTestBodies(bodies *Bodies, n int) []BodyHandle {
	handles := make([]BodyHandle, n)
	for i := range handles {
		pose := NewPose(mgl64.Vec3{float64(i), 0, 0})
		handles[i] = bodies.Add(NewDynamicBodyDescription(pose, NewSphere(0.5).ComputeInertia(1), NoShape))
	}
	return handles
}

// requireBodyMapping checks that handles and slots point at each other.
func requireBodyMapping(t *testing.T, bodies *Bodies) {
	t.Helper()
	for setIndex := range bodies.Sets {
		set := &bodies.Sets[setIndex]
		for i, h := range set.IndexToHandle {
			require.Equal(t, BodyMemoryLocation{SetIndex: int32(setIndex), Index: int32(i)}, bodies.Location(h))
		}
	}
	live := 0
	for h := range bodies.HandleToLocation {
		if bodies.ValidHandle(BodyHandle(h)) {
			live++
		}
	}
	require.Equal(t, bodies.Count(), live)
}

func TestBodiesAddRemove(t *testing.T) {
	bodies := NewBodies(4)
	solver := NewSolver(1, 1)
	handles := addTestBodies(bodies, 64)
	requireBodyMapping(t, bodies)
	for i, h := range handles {
		require.Equal(t, BodyHandle(i), h)
		require.Equal(t, float64(i), bodies.GetDescription(h).Pose.Position.X())
	}

	rng := rand.New(rand.NewPCG(1, 1))
	rng.Shuffle(len(handles), func(i, j int) { handles[i], handles[j] = handles[j], handles[i] })
	removed := handles[:32]
	for _, h := range removed {
		position := bodies.GetDescription(handles[len(handles)-1]).Pose.Position
		bodies.Remove(h, solver)
		require.False(t, bodies.ValidHandle(h))
		requireBodyMapping(t, bodies)
		// Survivors keep their state through the slot moves.
		require.Equal(t, position, bodies.GetDescription(handles[len(handles)-1]).Pose.Position)
	}
	require.Equal(t, 32, bodies.Count())

	// Freed handles are handed out again.
	reused := addTestBodies(bodies, 32)
	for _, h := range reused {
		require.Less(t, int(h), 64)
	}
	requireBodyMapping(t, bodies)
	require.Equal(t, 64, bodies.Count())
}

func TestBodiesKinematic(t *testing.T) {
	bodies := NewBodies(2)
	velocity := BodyVelocity{Linear: mgl64.Vec3{1, 0, 0}}
	h := bodies.Add(NewKinematicBodyDescription(NewPoseIdentity(), velocity, NoShape))
	desc := bodies.GetDescription(h)
	require.True(t, desc.LocalInertia.IsKinematic())
	require.True(t, desc.Activity.Kinematic)

	// Kinematic bodies ignore gravity.
	bodies.integrateVelocities(mgl64.Vec3{0, -10, 0}, 1, 1, 0.1)
	require.Equal(t, velocity, bodies.GetDescription(h).Velocity)

	// Turning it dynamic gives it mass again.
	desc = NewDynamicBodyDescription(NewPoseIdentity(), NewSphere(1).ComputeInertia(2), NoShape)
	bodies.ApplyDescription(h, desc)
	require.False(t, bodies.ActiveSet().Activity[0].Kinematic)
	require.InDelta(t, 0.5, bodies.ActiveSet().LocalInertias[0].InverseMass, 1e-12)
}

func TestBodiesSwap(t *testing.T) {
	bodies := NewBodies(4)
	solver := NewSolver(1, 1)
	handles := addTestBodies(bodies, 4)
	joint := solver.Add(bodies, []BodyHandle{handles[0], handles[3]}, NewBallSocket(NewPoseIdentity(), NewPoseIdentity(), mgl64.Vec3{}))

	bodies.Swap(1, 3, solver)
	requireBodyMapping(t, bodies)
	require.Equal(t, []BodyHandle{handles[0], handles[3]}, solver.BodyHandles(bodies, joint))
	require.Equal(t, int32(1), bodies.Location(handles[3]).Index)
	require.Equal(t, int32(3), bodies.Location(handles[1]).Index)
}

func TestBodyLayoutOptimizer(t *testing.T) {
	bodies := NewBodies(16)
	solver := NewSolver(1, 1)
	handles := addTestBodies(bodies, 16)
	// A chain over bodies spread far apart in memory.
	order := []int{0, 15, 3, 12, 7, 9}
	for i := 0; i+1 < len(order); i++ {
		a, b := handles[order[i]], handles[order[i+1]]
		solver.Add(bodies, []BodyHandle{a, b}, NewBallSocket(NewPoseIdentity(), NewPoseIdentity(), mgl64.Vec3{}))
	}
	optimizer := NewBodyLayoutOptimizer(1)
	for range 4 {
		optimizer.IncrementalOptimize(bodies, solver)
		requireBodyMapping(t, bodies)
	}
	// Every joint still names the same bodies.
	for i := 0; i+1 < len(order); i++ {
		h := ConstraintHandle(i)
		require.Equal(t, []BodyHandle{handles[order[i]], handles[order[i+1]]}, solver.BodyHandles(bodies, h))
	}
	// The head of the chain pulled its neighbour next to it.
	head := bodies.Location(handles[0]).Index
	next := bodies.Location(handles[15]).Index
	require.Equal(t, int32(1), absInt32(head-next))
}

func absInt32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
