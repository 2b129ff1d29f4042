package cm3_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/setanarut/cm3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dt = 1.0 / 60

func testConfig() cm3.Config {
	config := cm3.DefaultConfig()
	config.Workers = 2
	config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return config
}

func addSphere(sim *cm3.Simulation, radius float64, position mgl64.Vec3) cm3.BodyHandle {
	sphere := cm3.NewSphere(radius)
	shape := sim.Shapes.Add(sphere)
	return sim.AddBody(shape, cm3.NewPose(position), cm3.BodyVelocity{}, sphere.ComputeInertia(1))
}

func addGround(sim *cm3.Simulation) cm3.StaticHandle {
	shape := sim.Shapes.Add(cm3.NewBox(20, 2, 20))
	return sim.AddStatic(cm3.NewStaticDescription(cm3.NewPose(mgl64.Vec3{0, -1, 0}), shape))
}

func TestContactLifetime(t *testing.T) {
	sim := cm3.NewSimulation(testConfig())
	a := addSphere(sim, 1, mgl64.Vec3{0, 0, 0})
	b := addSphere(sim, 1, mgl64.Vec3{1.5, 0, 0})

	sim.Timestep(dt)
	require.Equal(t, 1, sim.NarrowPhase.PairCache.Count())
	require.Equal(t, 1, sim.Solver.CountConstraints())
	contacts := 0
	sim.EachContact(func(pair cm3.CollidablePair, _ cm3.RigidPose, m *cm3.ContactManifoldConstraint) {
		contacts += m.Count
		assert.InDelta(t, 0.5, m.Contacts[0].Depth, 1e-6)
		assert.InDelta(t, 1, m.Contacts[0].Normal.Len(), 1e-9)
	})
	require.Equal(t, 1, contacts)

	// The solver pushes the spheres apart.
	assert.Greater(t, sim.Body(b).Position().X()-sim.Body(a).Position().X(), 1.5)

	// Teleported apart, the pair and its constraint go away on the next step.
	sim.Body(a).SetVelocity(cm3.BodyVelocity{})
	sim.Body(b).SetVelocity(cm3.BodyVelocity{})
	sim.Body(b).SetPose(cm3.NewPose(mgl64.Vec3{4, 0, 0}))
	sim.Timestep(dt)
	assert.Zero(t, sim.NarrowPhase.PairCache.Count())
	assert.Zero(t, sim.Solver.CountConstraints())
}

func TestSphereRestsOnGround(t *testing.T) {
	config := testConfig()
	config.Gravity = mgl64.Vec3{0, -10, 0}
	sim := cm3.NewSimulation(config)
	addGround(sim)
	ball := addSphere(sim, 0.5, mgl64.Vec3{0, 0.6, 0})

	for range 120 {
		sim.Timestep(dt)
	}
	body := sim.Body(ball)
	assert.InDelta(t, 0.5, body.Position().Y(), 0.05)
	assert.Less(t, body.Velocity().Linear.Len(), 0.2)
	assert.Equal(t, 1, sim.NarrowPhase.PairCache.Count())
}

func totalNormalImpulse(sim *cm3.Simulation) float64 {
	sum := 0.0
	sim.EachContact(func(_ cm3.CollidablePair, _ cm3.RigidPose, m *cm3.ContactManifoldConstraint) {
		sum += m.TotalNormalImpulse()
	})
	return sum
}

func TestWarmStartCarriesImpulses(t *testing.T) {
	config := testConfig()
	config.Gravity = mgl64.Vec3{0, -10, 0}
	sim := cm3.NewSimulation(config)
	ground := addGround(sim)
	ball := addSphere(sim, 0.5, mgl64.Vec3{0, 0.5, 0})
	for range 3 {
		sim.Timestep(dt)
	}
	pair := cm3.NewCollidablePair(cm3.NewBodyCollidable(ball, false), cm3.NewStaticCollidable(ground))
	require.Equal(t, []cm3.CollidablePair{pair}, sim.NarrowPhase.PairCache.Pairs(cm3.NewStaticCollidable(ground)))
	require.Equal(t, []cm3.CollidablePair{pair}, sim.NarrowPhase.PairCache.Pairs(cm3.NewBodyCollidable(ball, false)))
	entry, ok := sim.NarrowPhase.PairCache.Get(pair)
	require.True(t, ok)
	impulse := totalNormalImpulse(sim)
	require.Greater(t, impulse, 0.0)

	// Without velocity iterations the solver only reapplies the impulses the
	// pair cache carried into the new constraint.
	sim.Config.Iterations = 0
	sim.Timestep(dt)
	next, ok := sim.NarrowPhase.PairCache.Get(pair)
	require.True(t, ok)
	assert.Equal(t, entry.ConstraintHandle, next.ConstraintHandle)
	assert.InDelta(t, impulse, totalNormalImpulse(sim), 1e-12)

	assert.Empty(t, sim.NarrowPhase.PairCache.Pairs(cm3.NewStaticCollidable(cm3.StaticHandle(7))))
}

func TestConfigEditsApplyNextStep(t *testing.T) {
	sim := cm3.NewSimulation(testConfig())
	addSphere(sim, 1, mgl64.Vec3{})
	addSphere(sim, 1, mgl64.Vec3{1.5, 0, 0})
	sim.Timestep(dt)
	require.Len(t, sim.NarrowPhase.PairCache.Workers, 2)

	sim.Config.Iterations = 3
	sim.Config.Workers = 5
	sim.Config.OptimizationFraction = 0.25
	sim.Timestep(dt)
	assert.Equal(t, 3, sim.Solver.Iterations)
	assert.Equal(t, 5, sim.Solver.Workers)
	assert.Len(t, sim.NarrowPhase.PairCache.Workers, 5)
	assert.Equal(t, 0.25, sim.Optimizer.OptimizationFraction)
	assert.Equal(t, 1, sim.NarrowPhase.PairCache.Count())

	sim.Config.Workers = 1
	sim.Timestep(dt)
	assert.Len(t, sim.NarrowPhase.PairCache.Workers, 1)
	assert.Equal(t, 1, sim.NarrowPhase.PairCache.Count())
}

func TestAutomaticSleep(t *testing.T) {
	config := testConfig()
	config.SleepTimeThreshold = 0.5
	sim := cm3.NewSimulation(config)
	h := addSphere(sim, 1, mgl64.Vec3{})
	moving := addSphere(sim, 1, mgl64.Vec3{10, 0, 0})
	sim.Body(moving).SetVelocity(cm3.BodyVelocity{Linear: mgl64.Vec3{0, 0, 1}})

	for range 60 {
		sim.Timestep(dt)
	}
	assert.False(t, sim.Body(h).Awake())
	assert.True(t, sim.Body(moving).Awake())
	assert.Equal(t, 1, sim.Bodies.ActiveSet().Count())
	assert.True(t, sim.Body(h).Exists())

	// Sleeping bodies are still found by queries.
	hit, ok := sim.RayCast(mgl64.Vec3{-5, 0, 0}, mgl64.Vec3{1, 0, 0}, 100, cm3.ShapeFilterAll)
	require.True(t, ok)
	assert.Equal(t, cm3.NewBodyCollidable(h, false), hit.Collidable)

	sim.Body(h).SetVelocity(cm3.BodyVelocity{Linear: mgl64.Vec3{1, 0, 0}})
	assert.True(t, sim.Body(h).Awake())
	assert.Equal(t, mgl64.Vec3{1, 0, 0}, sim.Body(h).Velocity().Linear)
}

func TestExplicitSleep(t *testing.T) {
	sim := cm3.NewSimulation(testConfig())
	a := addSphere(sim, 0.5, mgl64.Vec3{0, 0, 0})
	b := addSphere(sim, 0.5, mgl64.Vec3{3, 0, 0})
	c := addSphere(sim, 0.5, mgl64.Vec3{9, 0, 0})
	sim.AddConstraint(cm3.NewDistanceLimit(mgl64.Vec3{}, mgl64.Vec3{}, 2, 4), a, b)

	// The joint puts a and b on one island.
	require.True(t, sim.Sleep(a))
	assert.False(t, sim.Body(a).Awake())
	assert.False(t, sim.Body(b).Awake())
	assert.True(t, sim.Body(c).Awake())
	assert.Zero(t, sim.Solver.CountConstraints(), "sleeping constraints leave the batches")
	assert.True(t, sim.Sleep(b), "already asleep")

	sim.Timestep(dt)
	sim.Awaken(b)
	assert.True(t, sim.Body(a).Awake())
	assert.True(t, sim.Body(b).Awake())
	assert.Equal(t, 3, sim.Bodies.ActiveSet().Count())
	assert.Equal(t, 1, sim.Solver.CountConstraints())

	// Kinematic bodies keep their island awake.
	k := sim.AddBodyDescription(cm3.NewKinematicBodyDescription(cm3.NewPoseIdentity(), cm3.BodyVelocity{}, cm3.NoShape))
	assert.False(t, sim.Sleep(k))
	assert.True(t, sim.Body(k).Awake())
}

func TestPostStepCallbacks(t *testing.T) {
	sim := cm3.NewSimulation(testConfig())
	h := addSphere(sim, 1, mgl64.Vec3{})

	calls := 0
	remove := func(s *cm3.Simulation, key, data any) {
		calls++
		assert.False(t, s.IsLocked())
		assert.Equal(t, "payload", data)
		s.RemoveBody(key.(cm3.BodyHandle))
	}
	require.True(t, sim.AddPostStepCallback(remove, h, "payload"))
	require.False(t, sim.AddPostStepCallback(remove, h, "again"))
	// Nil keys are never deduplicated.
	require.True(t, sim.AddPostStepCallback(nil, nil, nil))
	require.True(t, sim.AddPostStepCallback(nil, nil, nil))
	require.NotNil(t, sim.PostStepCallback(h))

	sim.Timestep(dt)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sim.PostStepCallbacks)
	assert.False(t, sim.Bodies.ValidHandle(h))

	sim.Timestep(dt)
	assert.Equal(t, 1, calls)
}

func TestRayCast(t *testing.T) {
	sim := cm3.NewSimulation(testConfig())
	box := sim.Shapes.Add(cm3.NewBox(2, 2, 2))
	static := sim.AddStatic(cm3.NewStaticDescription(cm3.NewPoseIdentity(), box))
	origin, direction := mgl64.Vec3{-5, 0, 0}, mgl64.Vec3{1, 0, 0}

	hit, ok := sim.RayCast(origin, direction, 100, cm3.ShapeFilterAll)
	require.True(t, ok)
	assert.InDelta(t, 4, hit.T, 1e-9)
	assert.InDelta(t, -1, hit.Position.X(), 1e-9)
	assert.InDelta(t, -1, hit.Normal.X(), 1e-9)
	assert.Equal(t, cm3.NewStaticCollidable(static), hit.Collidable)

	_, ok = sim.RayCast(origin, direction, 3, cm3.ShapeFilterAll)
	assert.False(t, ok)
	_, ok = sim.RayCast(origin, mgl64.Vec3{0, 1, 0}, 100, cm3.ShapeFilterAll)
	assert.False(t, ok)
	_, ok = sim.RayCast(origin, direction, 100, cm3.ShapeFilterNone)
	assert.False(t, ok)

	// A body in front of the box is hit first.
	ball := addSphere(sim, 0.5, mgl64.Vec3{-3, 0, 0})
	hit, ok = sim.RayCast(origin, direction, 100, cm3.ShapeFilterAll)
	require.True(t, ok)
	assert.InDelta(t, 1.5, hit.T, 1e-9)
	assert.Equal(t, cm3.NewBodyCollidable(ball, false), hit.Collidable)
	assert.Equal(t, -1, hit.ChildIndex)
}

func TestOverlapAndSweep(t *testing.T) {
	sim := cm3.NewSimulation(testConfig())
	box := sim.Shapes.Add(cm3.NewBox(2, 2, 2))
	static := sim.AddStatic(cm3.NewStaticDescription(cm3.NewPoseIdentity(), box))
	query := sim.Shapes.Add(cm3.NewSphere(1))

	var found []cm3.CollidableReference
	ok := sim.Overlap(query, cm3.NewPose(mgl64.Vec3{-1.5, 0, 0}), cm3.ShapeFilterAll, func(ref cm3.CollidableReference, m *cm3.ContactManifold) {
		found = append(found, ref)
		assert.InDelta(t, 0.5, m.Deepest(), 1e-9)
	})
	require.True(t, ok)
	assert.Equal(t, []cm3.CollidableReference{cm3.NewStaticCollidable(static)}, found)
	assert.False(t, sim.Overlap(query, cm3.NewPose(mgl64.Vec3{10, 10, 10}), cm3.ShapeFilterAll, nil))
	// Touching within the margin is not an overlap.
	assert.False(t, sim.Overlap(query, cm3.NewPose(mgl64.Vec3{-2.05, 0, 0}), cm3.ShapeFilterAll, nil))

	hit, ok := sim.Sweep(query, cm3.NewPose(mgl64.Vec3{-5, 0, 0}), cm3.BodyVelocity{Linear: mgl64.Vec3{1, 0, 0}}, 10, cm3.ShapeFilterAll)
	require.True(t, ok)
	assert.InDelta(t, 3, hit.T, 1e-2)
	assert.Equal(t, cm3.NewStaticCollidable(static), hit.Collidable)

	_, ok = sim.Sweep(query, cm3.NewPose(mgl64.Vec3{-5, 0, 0}), cm3.BodyVelocity{Linear: mgl64.Vec3{1, 0, 0}}, 1, cm3.ShapeFilterAll)
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	sim := cm3.NewSimulation(testConfig())
	addGround(sim)
	a := addSphere(sim, 0.5, mgl64.Vec3{0, 0.4, 0})
	b := addSphere(sim, 0.5, mgl64.Vec3{2, 0.4, 0})
	sim.AddConstraint(cm3.NewBallSocket(cm3.NewPose(mgl64.Vec3{0, 0.4, 0}), cm3.NewPose(mgl64.Vec3{2, 0.4, 0}), mgl64.Vec3{1, 0.4, 0}), a, b)
	sim.Timestep(dt)
	require.NotZero(t, sim.NarrowPhase.PairCache.Count())

	sim.Clear()
	assert.Zero(t, sim.Bodies.Count())
	assert.Zero(t, sim.Statics.Count())
	assert.Zero(t, sim.Solver.CountConstraints())
	assert.Zero(t, sim.NarrowPhase.PairCache.Count())

	// Shapes survive and the simulation keeps working.
	addSphere(sim, 0.5, mgl64.Vec3{})
	sim.Timestep(dt)
	assert.Equal(t, 1, sim.Bodies.Count())
	assert.Contains(t, cm3.DebugInfo(sim), "Bodies: 1 active")
}
