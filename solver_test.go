package cm3

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/require"
)

// requireDisjointBatches checks that no body appears twice within a batch and
// that every batch's body set matches its constraints.
func requireDisjointBatches(t *testing.T, solver *Solver, bodies *Bodies) {
	t.Helper()
	active := bodies.ActiveSet()
	for bi := range solver.Batches {
		batch := &solver.Batches[bi]
		seen := map[BodyHandle]bool{}
		for ti := range batch.TypeBatches {
			tb := &batch.TypeBatches[ti]
			for _, index := range tb.BodyIndices {
				h := active.IndexToHandle[index]
				require.False(t, seen[h], "batch %d references %v twice", bi, h)
				require.True(t, batch.BodyHandles.Contains(int32(h)))
				seen[h] = true
			}
			for i, handle := range tb.IndexToHandle {
				require.Equal(t, ConstraintLocation{SetIndex: 0, BatchIndex: int32(bi), TypeID: tb.TypeID, IndexInTypeBatch: int32(i)},
					solver.HandleToConstraint[handle])
			}
		}
		require.Equal(t, len(seen), batch.BodyHandles.Count())
	}
}

func TestSolverBatching(t *testing.T) {
	bodies := NewBodies(32)
	solver := NewSolver(4, 1)
	handles := addTestBodies(bodies, 32)
	rng := rand.New(rand.NewPCG(2, 3))

	var constraints []ConstraintHandle
	for range 100 {
		a := rng.IntN(len(handles))
		b := (a + 1 + rng.IntN(len(handles)-1)) % len(handles)
		var desc ConstraintDescription = NewDistanceLimit(mgl64.Vec3{}, mgl64.Vec3{}, 1, 2)
		if rng.IntN(2) == 0 {
			desc = NewBallSocket(NewPoseIdentity(), NewPoseIdentity(), mgl64.Vec3{})
		}
		constraints = append(constraints, solver.Add(bodies, []BodyHandle{handles[a], handles[b]}, desc))
		requireDisjointBatches(t, solver, bodies)
	}
	require.Equal(t, 100, solver.CountConstraints())
	require.Greater(t, len(solver.Batches), 1)

	rng.Shuffle(len(constraints), func(i, j int) { constraints[i], constraints[j] = constraints[j], constraints[i] })
	for i, c := range constraints {
		solver.Remove(bodies, c)
		require.False(t, solver.ValidHandle(c))
		require.Equal(t, 100-i-1, solver.CountConstraints())
		requireDisjointBatches(t, solver, bodies)
	}
	require.Empty(t, solver.Batches)
	for _, h := range handles {
		require.Empty(t, bodies.ActiveSet().Constraints[bodies.Location(h).Index])
	}
}

func TestSolverRejectsSelfConstraint(t *testing.T) {
	if !debugChecks {
		t.Skip("assertions are compiled out")
	}
	bodies := NewBodies(4)
	solver := NewSolver(4, 1)
	handles := addTestBodies(bodies, 2)
	require.Panics(t, func() {
		solver.Add(bodies, []BodyHandle{handles[0], handles[0]}, NewBallSocket(NewPoseIdentity(), NewPoseIdentity(), mgl64.Vec3{}))
	})
	require.Zero(t, solver.CountConstraints())
	require.Empty(t, bodies.ActiveSet().Constraints[bodies.Location(handles[0]).Index])
}

func TestSolverTypeBatchLifetime(t *testing.T) {
	bodies := NewBodies(4)
	solver := NewSolver(1, 1)
	handles := addTestBodies(bodies, 4)

	joint := solver.Add(bodies, handles[:2], NewBallSocket(NewPoseIdentity(), NewPoseIdentity(), mgl64.Vec3{}))
	motor := solver.Add(bodies, handles[2:], NewAngularMotor(mgl64.Vec3{0, 1, 0}))
	require.Len(t, solver.Batches, 1)
	batch := &solver.Batches[0]
	require.NotNil(t, batch.TypeBatch(BallSocketTypeID))
	require.NotNil(t, batch.TypeBatch(AngularMotorTypeID))

	solver.Remove(bodies, joint)
	require.Nil(t, batch.TypeBatch(BallSocketTypeID))
	require.Len(t, batch.TypeBatches, 1)
	// The surviving type batch was shifted down and its constraint still resolves.
	require.Equal(t, NewAngularMotor(mgl64.Vec3{0, 1, 0}), solver.GetDescription(motor))

	joint = solver.Add(bodies, handles[:2], NewBallSocket(NewPoseIdentity(), NewPoseIdentity(), mgl64.Vec3{1, 0, 0}))
	tb := solver.Batches[0].TypeBatch(BallSocketTypeID)
	require.NotNil(t, tb)
	require.Equal(t, 1, tb.Count())

	solver.Remove(bodies, motor)
	solver.Remove(bodies, joint)
	require.Empty(t, solver.Batches)
}

func TestSolverApplyDescription(t *testing.T) {
	bodies := NewBodies(2)
	solver := NewSolver(1, 1)
	handles := addTestBodies(bodies, 2)

	socket := NewBallSocket(NewPoseIdentity(), NewPose(mgl64.Vec3{1, 0, 0}), mgl64.Vec3{0.5, 0, 0})
	h := solver.Add(bodies, handles, socket)
	require.Equal(t, socket, solver.GetDescription(h))

	socket.LocalOffsetA = mgl64.Vec3{0, 2, 0}
	solver.ApplyDescription(bodies, h, socket)
	require.Equal(t, socket, solver.GetDescription(h))

	// A new type moves the constraint but keeps its handle.
	limit := NewDistanceLimit(mgl64.Vec3{}, mgl64.Vec3{}, 0, 1)
	solver.ApplyDescription(bodies, h, limit)
	require.Equal(t, limit, solver.GetDescription(h))
	require.Equal(t, DistanceLimitTypeID, solver.HandleToConstraint[h].TypeID)
	require.Equal(t, handles, solver.BodyHandles(bodies, h))
	requireDisjointBatches(t, solver, bodies)
}

func TestSolverBallSocketConverges(t *testing.T) {
	bodies := NewBodies(2)
	solver := NewSolver(20, 1)
	inertia := NewSphere(0.5).ComputeInertia(1)
	a := bodies.Add(NewDynamicBodyDescription(NewPose(mgl64.Vec3{0, 0, 0}), inertia, NoShape))
	b := bodies.Add(NewDynamicBodyDescription(NewPose(mgl64.Vec3{2, 0, 0}), inertia, NoShape))
	solver.Add(bodies, []BodyHandle{a, b}, NewBallSocket(NewPose(mgl64.Vec3{0, 0, 0}), NewPose(mgl64.Vec3{2, 0, 0}), mgl64.Vec3{1, 0, 0}))

	// Pull the bodies apart and let the joint hold them.
	active := bodies.ActiveSet()
	active.Velocities[0].Linear = mgl64.Vec3{-1, 0, 0}
	active.Velocities[1].Linear = mgl64.Vec3{1, 0, 0}
	dt := 1.0 / 60
	for range 120 {
		bodies.updateWorldInertias()
		solver.Solve(bodies, dt, 0, 0)
		bodies.integratePoses(dt, 1)
	}
	gap := active.Poses[1].Position.Sub(active.Poses[0].Position).Len()
	require.InDelta(t, 2, gap, 0.05)
}

// addJointPair adds two unit mass spheres of radius 0.5 at the given positions.
func addJointPair(bodies *Bodies, a, b mgl64.Vec3) []BodyHandle {
	inertia := NewSphere(0.5).ComputeInertia(1)
	return []BodyHandle{
		bodies.Add(NewDynamicBodyDescription(NewPose(a), inertia, NoShape)),
		bodies.Add(NewDynamicBodyDescription(NewPose(b), inertia, NoShape)),
	}
}

func TestSolverAngularSpring(t *testing.T) {
	bodies := NewBodies(2)
	solver := NewSolver(4, 1)
	handles := addJointPair(bodies, mgl64.Vec3{}, mgl64.Vec3{2, 0, 0})
	active := bodies.ActiveSet()
	spring := NewAngularSpring(active.Poses[0], active.Poses[1], 10, 2)
	require.Equal(t, mgl64.QuatIdent(), spring.RestOrientation)
	solver.Add(bodies, handles, spring)

	// Twisted away from rest, the spring turns the bodies back.
	active.Poses[1].Orientation = mgl64.QuatRotate(0.5, mgl64.Vec3{0, 0, 1})
	dt := 1.0 / 60
	for range 300 {
		bodies.updateWorldInertias()
		solver.Solve(bodies, dt, 0, 0)
		bodies.integratePoses(dt, 1)
	}
	relative := active.Poses[0].Orientation.Inverse().Mul(active.Poses[1].Orientation)
	require.Less(t, rotationVector(relative).Len(), 1e-3)
	// Equal and opposite torques leave the total spin at zero.
	requireVec(t, mgl64.Vec3{}, active.Velocities[0].Angular.Add(active.Velocities[1].Angular), 1e-9)
}

func TestSolverAngularSpringTorqueFunc(t *testing.T) {
	bodies := NewBodies(2)
	solver := NewSolver(4, 1)
	handles := addJointPair(bodies, mgl64.Vec3{}, mgl64.Vec3{2, 0, 0})
	active := bodies.ActiveSet()
	spring := NewAngularSpring(active.Poses[0], active.Poses[1], 10, 0)
	calls := 0
	spring.SpringTorqueFunc = func(*AngularSpring, mgl64.Vec3) mgl64.Vec3 {
		calls++
		return mgl64.Vec3{}
	}
	solver.Add(bodies, handles, spring)
	active.Poses[1].Orientation = mgl64.QuatRotate(0.5, mgl64.Vec3{0, 0, 1})

	bodies.updateWorldInertias()
	solver.Solve(bodies, 1.0/60, 0, 0)
	require.Equal(t, 1, calls)
	requireVec(t, mgl64.Vec3{}, active.Velocities[1].Angular, 1e-12)
}

func TestRotationVector(t *testing.T) {
	requireVec(t, mgl64.Vec3{0, 0.5, 0}, rotationVector(mgl64.QuatRotate(0.5, mgl64.Vec3{0, 1, 0})), 1e-12)
	// The long way round is reported as the short one.
	requireVec(t, mgl64.Vec3{0, 0, -0.5}, rotationVector(mgl64.QuatRotate(2*math.Pi-0.5, mgl64.Vec3{0, 0, 1})), 1e-9)
	requireVec(t, mgl64.Vec3{}, rotationVector(mgl64.QuatIdent()), 0)
}

func TestSolverAngularAxisGear(t *testing.T) {
	bodies := NewBodies(2)
	solver := NewSolver(4, 1)
	handles := addJointPair(bodies, mgl64.Vec3{}, mgl64.Vec3{2, 0, 0})
	active := bodies.ActiveSet()
	gear := NewAngularAxisGear(active.Poses[0], mgl64.Vec3{0, 0, 3}, 2)
	require.Equal(t, mgl64.Vec3{0, 0, 1}, gear.LocalAxisA)
	h := solver.Add(bodies, handles, gear)

	active.Velocities[0].Angular = mgl64.Vec3{1, 0, 4}
	bodies.updateWorldInertias()
	solver.Solve(bodies, 1.0/60, 0, 0)
	// B ends up turning half as fast as A; spin off the axis is left alone.
	require.InDelta(t, 3.2, active.Velocities[0].Angular.Z(), 1e-9)
	require.InDelta(t, 1.6, active.Velocities[1].Angular.Z(), 1e-9)
	require.InDelta(t, 1, active.Velocities[0].Angular.X(), 1e-12)
	require.Zero(t, active.Velocities[1].Angular.X())

	// A weak gear slips.
	gear.MaxForce = 6
	solver.ApplyDescription(bodies, h, gear)
	active.Velocities[0].Angular = mgl64.Vec3{0, 0, 4}
	active.Velocities[1].Angular = mgl64.Vec3{}
	solver.Solve(bodies, 1.0/60, 0, 0)
	require.InDelta(t, 3.5, active.Velocities[0].Angular.Z(), 1e-9)
	require.InDelta(t, 1, active.Velocities[1].Angular.Z(), 1e-9)
}

func TestSolverPointOnLineServo(t *testing.T) {
	bodies := NewBodies(2)
	solver := NewSolver(8, 1)
	handles := addJointPair(bodies, mgl64.Vec3{}, mgl64.Vec3{0.5, 0, 0})
	active := bodies.ActiveSet()
	servo := NewPointOnLineServo(active.Poses[0], active.Poses[1], mgl64.Vec3{-1, 0, 0}, mgl64.Vec3{1, 0, 0}, mgl64.Vec3{0.5, 0, 0})
	h := solver.Add(bodies, handles, servo)

	// Inside the segment B slides freely along it but not off it.
	active.Velocities[1].Linear = mgl64.Vec3{1, 1, 0}
	bodies.updateWorldInertias()
	solver.Solve(bodies, 1.0/60, 0, 0)
	require.InDelta(t, 1, active.Velocities[1].Linear.X(), 1e-9)
	require.InDelta(t, 0, active.Velocities[0].Linear.X(), 1e-9)
	r1 := mgl64.Vec3{0.5, 0, 0}
	offLine := active.Velocities[1].Linear.Sub(active.Velocities[0].Linear.Add(active.Velocities[0].Angular.Cross(r1)))
	require.InDelta(t, 0, offLine.Y(), 1e-9)
	require.InDelta(t, 0, offLine.Z(), 1e-9)
	require.Greater(t, solver.GetImpulse(h), 0.0)

	// Past the end of the segment B is pulled back.
	active.Poses[1].Position = mgl64.Vec3{1.5, 0, 0}
	active.Velocities[0] = BodyVelocity{}
	active.Velocities[1] = BodyVelocity{Linear: mgl64.Vec3{1, 0, 0}}
	solver.Solve(bodies, 1.0/60, 0, 0)
	require.Less(t, active.Velocities[1].Linear.X()-active.Velocities[0].Linear.X(), 0.0)
}
