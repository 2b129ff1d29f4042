package cm3

import (
	"log/slog"
	"math"
)

// PostStepCallbackFunc is run once when the step that scheduled it ends.
type PostStepCallbackFunc func(sim *Simulation, key, data any)

// PostStepCallback holds a scheduled callback.
type PostStepCallback struct {
	callback PostStepCallbackFunc
	key      any
	data     any
}

// Simulation owns every component and runs the step pipeline over them.
// Components hold no references to each other; the simulation passes them
// into each phase.
type Simulation struct {
	// Config is read again at the start of every step.
	Config      Config
	Logger      *slog.Logger
	Shapes      *Shapes
	Bodies      *Bodies
	Statics     *Statics
	Solver      *Solver
	BroadPhase  *BroadPhase
	NarrowPhase *NarrowPhase
	Sleeper     *IslandSleeper
	Optimizer   *BodyLayoutOptimizer

	PostStepCallbacks []*PostStepCallback

	query        *CollisionContext
	locked       bool
	skipPostStep bool
	rousedBodies []BodyHandle
	stamp        uint
	currDT       float64
}

// NewSimulation returns an empty simulation. A nil logger in config means slog.Default.
func NewSimulation(config Config) *Simulation {
	logger := config.logger()
	workers := config.workers()
	shapes := NewShapes()
	return &Simulation{
		Config:      config,
		Logger:      logger,
		Shapes:      shapes,
		Bodies:      NewBodies(64),
		Statics:     NewStatics(64),
		Solver:      NewSolver(config.Iterations, workers),
		BroadPhase:  NewBroadPhase(64, 64),
		NarrowPhase: NewNarrowPhase(shapes, workers, logger),
		Sleeper:     NewIslandSleeper(),
		Optimizer:   NewBodyLayoutOptimizer(config.OptimizationFraction),
	}
}

// Body returns an accessor for handle.
func (s *Simulation) Body(handle BodyHandle) BodyReference {
	s.Bodies.validate(handle)
	return BodyReference{Handle: handle, sim: s}
}

// AddBody adds an active body with the default collidable settings.
func (s *Simulation) AddBody(shape TypedIndex, pose RigidPose, velocity BodyVelocity, inertia BodyInertia) BodyHandle {
	description := NewDynamicBodyDescription(pose, inertia, shape)
	description.Velocity = velocity
	return s.AddBodyDescription(description)
}

// AddBodyDescription adds an active body and its broad phase leaf.
func (s *Simulation) AddBodyDescription(description BodyDescription) BodyHandle {
	assert(!s.locked, "cm3: bodies cannot be added while the simulation is stepping; use a post-step callback")
	handle := s.Bodies.Add(description)
	loc := s.Bodies.Location(handle)
	set := s.Bodies.ActiveSet()
	c := &set.Collidables[loc.Index]
	if c.Shape.Exists() {
		bb := predictedBounds(s.Shapes, c, set.Poses[loc.Index], set.Velocities[loc.Index], 0, s.Config.SpeculativeMargin)
		c.BroadPhaseIndex = s.BroadPhase.AddActive(NewBodyCollidable(handle, set.Activity[loc.Index].Kinematic), bb)
	}
	return handle
}

// RemoveBody removes a body together with its contacts and joints. A sleeping
// body's island is woken first.
func (s *Simulation) RemoveBody(handle BodyHandle) {
	assert(!s.locked, "cm3: bodies cannot be removed while the simulation is stepping; use a post-step callback")
	s.awaken(handle)
	loc := s.Bodies.Location(handle)
	set := s.Bodies.ActiveSet()
	kinematic := set.Activity[loc.Index].Kinematic
	ref := NewBodyCollidable(handle, kinematic)

	s.NarrowPhase.RemovePairsOf(ref, s.Bodies, s.Solver)
	for len(set.Constraints[s.Bodies.Location(handle).Index]) > 0 {
		joint := set.Constraints[s.Bodies.Location(handle).Index][0].ConnectingConstraintHandle
		s.Solver.Remove(s.Bodies, joint)
	}
	if index := set.Collidables[loc.Index].BroadPhaseIndex; index >= 0 {
		s.removeActiveLeaf(index)
	}
	s.Bodies.Remove(handle, s.Solver)
	if len(s.Bodies.WorldInertias) > set.Count() {
		s.Bodies.WorldInertias = s.Bodies.WorldInertias[:0]
	}
}

// ApplyBodyDescription overwrites a body. Its broad phase leaf follows a change
// of shape, and a sleeping body is woken.
func (s *Simulation) ApplyBodyDescription(handle BodyHandle, description BodyDescription) {
	assert(!s.locked, "cm3: bodies cannot be changed while the simulation is stepping; use a post-step callback")
	s.awaken(handle)
	s.Bodies.ApplyDescription(handle, description)
	loc := s.Bodies.Location(handle)
	set := s.Bodies.ActiveSet()
	c := &set.Collidables[loc.Index]
	ref := NewBodyCollidable(handle, set.Activity[loc.Index].Kinematic)
	if c.BroadPhaseIndex >= 0 {
		s.removeActiveLeaf(c.BroadPhaseIndex)
		c.BroadPhaseIndex = -1
	}
	if c.Shape.Exists() {
		bb := predictedBounds(s.Shapes, c, set.Poses[loc.Index], set.Velocities[loc.Index], 0, s.Config.SpeculativeMargin)
		c.BroadPhaseIndex = s.BroadPhase.AddActive(ref, bb)
	}
}

// AddStatic adds a static and wakes sleeping bodies it touches.
func (s *Simulation) AddStatic(description StaticDescription) StaticHandle {
	assert(!s.locked, "cm3: statics cannot be added while the simulation is stepping; use a post-step callback")
	handle := s.Statics.Add(description)
	index := s.Statics.Index(handle)
	c := &s.Statics.Collidables[index]
	if c.Shape.Exists() {
		bb := s.Shapes.ComputeBounds(c.Shape, s.Statics.Poses[index]).Grow(s.Config.SpeculativeMargin)
		c.BroadPhaseIndex = s.BroadPhase.AddStatic(NewStaticCollidable(handle), bb)
		s.awakenOverlapping(bb)
	}
	return handle
}

// RemoveStatic removes a static and its contacts and wakes sleeping bodies it touched.
func (s *Simulation) RemoveStatic(handle StaticHandle) {
	assert(!s.locked, "cm3: statics cannot be removed while the simulation is stepping; use a post-step callback")
	if leaf := s.Statics.Collidables[s.Statics.Index(handle)].BroadPhaseIndex; leaf >= 0 {
		s.awakenOverlapping(s.BroadPhase.StaticTree.GetBounds(int(leaf)))
		// Woken leaves left the static tree and may have moved this one.
		s.removeStaticLeaf(s.Statics.Collidables[s.Statics.Index(handle)].BroadPhaseIndex)
	}
	s.NarrowPhase.RemovePairsOf(NewStaticCollidable(handle), s.Bodies, s.Solver)
	s.Statics.Remove(handle)
}

func (s *Simulation) awakenOverlapping(bb BB) {
	var sleeping []BodyHandle
	s.BroadPhase.StaticTree.GetOverlaps(bb, func(i int) {
		if ref := s.BroadPhase.StaticLeaves[i]; ref.IsBody() {
			sleeping = append(sleeping, ref.BodyHandle())
		}
	})
	for _, h := range sleeping {
		s.awaken(h)
	}
}

// AddConstraint connects bodies with a joint, waking any sleeping ones.
func (s *Simulation) AddConstraint(description ConstraintDescription, bodies ...BodyHandle) ConstraintHandle {
	assert(!s.locked, "cm3: constraints cannot be added while the simulation is stepping; use a post-step callback")
	for _, h := range bodies {
		s.awaken(h)
	}
	return s.Solver.Add(s.Bodies, bodies, description)
}

// RemoveConstraint removes a joint, waking its island so the bodies respond.
func (s *Simulation) RemoveConstraint(handle ConstraintHandle) {
	assert(!s.locked, "cm3: constraints cannot be removed while the simulation is stepping; use a post-step callback")
	for _, h := range s.Solver.BodyHandles(s.Bodies, handle) {
		s.awaken(h)
	}
	s.Solver.Remove(s.Bodies, handle)
}

// setBroadPhaseIndex points the owner of a leaf at its new slot.
func (s *Simulation) setBroadPhaseIndex(ref CollidableReference, index int32) {
	if !ref.IsBody() {
		s.Statics.Collidables[s.Statics.Index(ref.StaticHandle())].BroadPhaseIndex = index
		return
	}
	loc := s.Bodies.Location(ref.BodyHandle())
	s.Bodies.Sets[loc.SetIndex].Collidables[loc.Index].BroadPhaseIndex = index
}

func (s *Simulation) removeActiveLeaf(index int32) {
	if moved, ok := s.BroadPhase.RemoveActiveAt(index); ok {
		s.setBroadPhaseIndex(moved, index)
	}
}

func (s *Simulation) removeStaticLeaf(index int32) {
	if moved, ok := s.BroadPhase.RemoveStaticAt(index); ok {
		s.setBroadPhaseIndex(moved, index)
	}
}

// TimeStep returns the dt of the current or last step.
func (s *Simulation) TimeStep() float64 {
	return s.currDT
}

// Timestep advances the simulation by dt: sleep heuristic, velocity
// integration, broad phase, narrow phase and flush, solve, pose integration,
// layout optimization and post-step callbacks.
func (s *Simulation) Timestep(dt float64) {
	if dt == 0 {
		return
	}
	s.stamp++
	s.currDT = dt
	s.applyConfig()

	s.Sleeper.Update(s, dt)

	s.Lock()
	{
		s.Bodies.integrateVelocities(s.Config.Gravity,
			math.Pow(s.Config.LinearDamping, dt), math.Pow(s.Config.AngularDamping, dt), dt)

		active := s.Bodies.ActiveSet()
		for i := range active.Count() {
			c := &active.Collidables[i]
			if c.BroadPhaseIndex < 0 {
				continue
			}
			bb := predictedBounds(s.Shapes, c, active.Poses[i], active.Velocities[i], dt, s.Config.SpeculativeMargin)
			s.BroadPhase.UpdateActiveBounds(c.BroadPhaseIndex, bb)
		}
		s.NarrowPhase.collectPairs(s.BroadPhase)

		step := narrowPhaseStep{
			bodies:                  s.Bodies,
			statics:                 s.Statics,
			shapes:                  s.Shapes,
			solver:                  s.Solver,
			dt:                      dt,
			speculativeMargin:       s.Config.SpeculativeMargin,
			continuousThreshold:     s.Config.ContinuousThreshold,
			maximumRecoveryVelocity: s.Config.MaximumRecoveryVelocity,
		}
		s.NarrowPhase.run(&step)
		s.NarrowPhase.flush(&step, s.awaken)

		s.Bodies.updateWorldInertias()
		s.Solver.Solve(s.Bodies, dt, s.Config.CollisionSlop, s.Config.CollisionBias)
		s.Bodies.integratePoses(dt, s.Solver.Workers)
		s.Optimizer.IncrementalOptimize(s.Bodies, s.Solver)

		s.Logger.Debug("step",
			"pairs", len(s.NarrowPhase.pairs),
			"touching", s.NarrowPhase.PairCache.Count(),
			"constraints", s.Solver.CountConstraints(),
			"batches", len(s.Solver.Batches),
			"active", s.Bodies.ActiveSet().Count(),
		)
	}
	s.Unlock(true)
}

// applyConfig carries Config edits made between steps into the solver, the
// narrow phase workers and the layout optimizer.
func (s *Simulation) applyConfig() {
	workers := s.Config.workers()
	s.Solver.Iterations = s.Config.Iterations
	s.Solver.Workers = workers
	s.NarrowPhase.resizeWorkers(s.Shapes, workers)
	s.Optimizer.OptimizationFraction = s.Config.OptimizationFraction
}

// Lock marks the simulation as stepping. Structural changes assert while locked.
func (s *Simulation) Lock() {
	s.locked = true
}

// IsLocked returns true from inside callbacks run during a step.
func (s *Simulation) IsLocked() bool {
	return s.locked
}

// Unlock wakes the bodies roused during the step and optionally runs the
// post-step callbacks.
func (s *Simulation) Unlock(runPostStep bool) {
	s.locked = false
	for _, h := range s.rousedBodies {
		s.awaken(h)
	}
	s.rousedBodies = s.rousedBodies[:0]

	if runPostStep && !s.skipPostStep {
		s.skipPostStep = true
		for _, callback := range s.PostStepCallbacks {
			f := callback.callback
			// Cleared first in case f schedules or runs callbacks again.
			callback.callback = nil
			if f != nil {
				f(s, callback.key, callback.data)
			}
		}
		s.PostStepCallbacks = s.PostStepCallbacks[:0]
		s.skipPostStep = false
	}
}

// PostStepCallback returns the callback scheduled for key, or nil.
func (s *Simulation) PostStepCallback(key any) *PostStepCallback {
	for _, callback := range s.PostStepCallbacks {
		if callback != nil && callback.key == key {
			return callback
		}
	}
	return nil
}

// AddPostStepCallback schedules f to run when the current or next step ends,
// when adding and removing objects is safe. Only one callback per non-nil key
// is kept; scheduling a second one for the same key is a no-op returning false.
func (s *Simulation) AddPostStepCallback(f PostStepCallbackFunc, key, data any) bool {
	if key != nil && s.PostStepCallback(key) != nil {
		return false
	}
	if f == nil {
		f = PostStepDoNothing
	}
	s.PostStepCallbacks = append(s.PostStepCallbacks, &PostStepCallback{callback: f, key: key, data: data})
	return true
}

func PostStepDoNothing(*Simulation, any, any) {}

// Clear removes everything but the registered shapes.
func (s *Simulation) Clear() {
	assert(!s.locked, "cm3: Clear called while the simulation is stepping")
	s.Bodies = NewBodies(64)
	s.Statics = NewStatics(64)
	s.Solver.Clear()
	s.BroadPhase = NewBroadPhase(64, 64)
	s.NarrowPhase.Clear()
	s.Sleeper = NewIslandSleeper()
	s.PostStepCallbacks = s.PostStepCallbacks[:0]
	s.rousedBodies = s.rousedBodies[:0]
}
