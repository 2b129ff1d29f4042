package cm3

import "slices"

// IslandSleeper finds constraint islands whose bodies stayed idle long enough
// and moves them out of the active set.
type IslandSleeper struct {
	visited     IndexSet
	stack       []int32
	island      []int32
	constraints []ConstraintHandle
	pending     []QuickList[BodyHandle]
	pool        *BufferPool[BodyHandle]
}

// NewIslandSleeper returns a sleeper with its own handle pool.
func NewIslandSleeper() *IslandSleeper {
	return &IslandSleeper{pool: NewBufferPool[BodyHandle]()}
}

// collectIsland gathers the active indices of every body connected to start
// through constraints. It reports false if the island holds a body that must
// stay awake.
func (is *IslandSleeper) collectIsland(bodies *Bodies, solver *Solver, start int32) bool {
	set := bodies.ActiveSet()
	is.island = is.island[:0]
	is.stack = append(is.stack[:0], start)
	is.visited.Add(start)
	canSleep := true
	for len(is.stack) > 0 {
		index := is.stack[len(is.stack)-1]
		is.stack = is.stack[:len(is.stack)-1]
		is.island = append(is.island, index)
		if set.Activity[index].Kinematic || set.Activity[index].SleepThreshold < 0 {
			canSleep = false
		}
		bodies.EnumerateConnectedBodyIndices(solver, index, func(other int32) {
			if !is.visited.Contains(other) {
				is.visited.Add(other)
				is.stack = append(is.stack, other)
			}
		})
	}
	return canSleep
}

// updateIdleTimes accumulates how long each active body has been slower than
// its threshold. A body's SleepThreshold overrides the simulation wide speed.
func (is *IslandSleeper) updateIdleTimes(bodies *Bodies, config *Config, dt float64) {
	dv := config.IdleSpeedThreshold
	dvsq := dv * dv
	if dv == 0 {
		dvsq = config.Gravity.LenSqr() * dt * dt
	}
	set := bodies.ActiveSet()
	for i := range set.Count() {
		activity := &set.Activity[i]
		if activity.Kinematic || activity.SleepThreshold < 0 {
			activity.IdleTime = 0
			continue
		}
		threshold := dvsq
		if activity.SleepThreshold > 0 {
			threshold = activity.SleepThreshold * activity.SleepThreshold
		}
		// Speeds are compared as kinetic energies so heavy bodies are not favored.
		mass := 1 / set.LocalInertias[i].InverseMass
		if bodyKineticEnergy(set, int32(i)) > mass*threshold {
			activity.IdleTime = 0
		} else {
			activity.IdleTime += dt
		}
	}
}

// Update runs the automatic sleep heuristic. It does nothing while
// Config.SleepTimeThreshold is infinite.
func (is *IslandSleeper) Update(sim *Simulation, dt float64) {
	if sim.Config.SleepTimeThreshold >= infinity {
		return
	}
	is.updateIdleTimes(sim.Bodies, &sim.Config, dt)

	set := sim.Bodies.ActiveSet()
	is.visited.Clear()
	is.pending = is.pending[:0]
	for i := range int32(set.Count()) {
		if is.visited.Contains(i) {
			continue
		}
		if !is.collectIsland(sim.Bodies, sim.Solver, i) {
			continue
		}
		idle := true
		for _, index := range is.island {
			if set.Activity[index].IdleTime < sim.Config.SleepTimeThreshold {
				idle = false
				break
			}
		}
		if !idle {
			continue
		}
		handles := NewQuickList(is.pool, len(is.island))
		for _, index := range is.island {
			handles.Add(is.pool, set.IndexToHandle[index])
		}
		is.pending = append(is.pending, handles)
	}
	for i := range is.pending {
		sim.sleepIsland(is.pending[i].Slice())
		is.pending[i].Dispose(is.pool)
	}
}

func bodyKineticEnergy(set *BodySet, index int32) float64 {
	inertia := set.LocalInertias[index]
	if inertia.InverseMass == 0 {
		return 0
	}
	vel := set.Velocities[index]
	e := vel.Linear.Dot(vel.Linear) / inertia.InverseMass
	if det := inertia.InverseInertiaTensor.Det(); det != 0 {
		localW := set.Poses[index].InverseApplyVector(vel.Angular)
		e += localW.Dot(inertia.InverseInertiaTensor.Inv().Mul3x1(localW))
	}
	return e
}

// Sleep moves the island holding handle into a new inactive set. Islands with
// a kinematic body or a body that refuses to sleep stay awake; the result
// reports whether the island went to sleep.
func (s *Simulation) Sleep(handle BodyHandle) bool {
	assert(!s.locked, "cm3: Sleep called while the simulation is stepping")
	loc := s.Bodies.Location(handle)
	if loc.SetIndex != 0 {
		return true
	}
	is := s.Sleeper
	is.visited.Clear()
	if !is.collectIsland(s.Bodies, s.Solver, loc.Index) {
		return false
	}
	WithBuffer(is.pool, len(is.island), func(handles []BodyHandle) {
		for i, index := range is.island {
			handles[i] = s.Bodies.ActiveSet().IndexToHandle[index]
		}
		s.sleepIsland(handles)
	})
	return true
}

// sleepIsland moves a whole island: constraints first while their bodies still
// have active indices, then the bodies, then their broad phase leaves.
func (s *Simulation) sleepIsland(handles []BodyHandle) {
	bodies := s.Bodies
	active := bodies.ActiveSet()
	is := s.Sleeper

	is.constraints = is.constraints[:0]
	for _, h := range handles {
		for _, ref := range active.Constraints[bodies.Location(h).Index] {
			if !slices.Contains(is.constraints, ref.ConnectingConstraintHandle) {
				is.constraints = append(is.constraints, ref.ConnectingConstraintHandle)
			}
		}
	}
	setIndex := bodies.allocateSet(len(handles))
	// allocateSet may grow Sets.
	active = bodies.ActiveSet()
	for _, c := range is.constraints {
		s.Solver.sleep(bodies, c, setIndex)
	}

	// Highest slots first, so the body swapped into a freed slot is never part of the island.
	indices := make([]int32, len(handles))
	for i, h := range handles {
		indices[i] = bodies.Location(h).Index
	}
	slices.Sort(indices)
	slices.Reverse(indices)
	target := &bodies.Sets[setIndex]
	for _, index := range indices {
		handle := active.IndexToHandle[index]
		slot := target.add(handle, active.Poses[index], active.Velocities[index], active.LocalInertias[index],
			active.Activity[index], active.Collidables[index], active.Constraints[index])
		target.Activity[slot].IdleTime = 0
		bodies.HandleToLocation[handle] = BodyMemoryLocation{SetIndex: setIndex, Index: slot}
		s.removeActiveSlot(index)
	}

	for i := range target.Count() {
		c := &target.Collidables[i]
		if c.BroadPhaseIndex < 0 {
			continue
		}
		ref := s.BroadPhase.ActiveLeaves[c.BroadPhaseIndex]
		bb := s.BroadPhase.ActiveTree.GetBounds(int(c.BroadPhaseIndex))
		s.removeActiveLeaf(c.BroadPhaseIndex)
		c.BroadPhaseIndex = s.BroadPhase.AddStatic(ref, bb)
	}
	s.Logger.Info("island asleep", "set", setIndex, "bodies", len(handles), "constraints", len(is.constraints))
}

// removeActiveSlot drops an active body slot whose contents were already copied
// elsewhere and repairs the body swapped into it.
func (s *Simulation) removeActiveSlot(index int32) {
	bodies := s.Bodies
	active := bodies.ActiveSet()
	if moved, ok := active.removeAt(index); ok {
		bodies.HandleToLocation[moved] = BodyMemoryLocation{SetIndex: 0, Index: index}
		for _, ref := range active.Constraints[index] {
			if s.Solver.HandleToConstraint[ref.ConnectingConstraintHandle].SetIndex == 0 {
				s.Solver.UpdateForBodyMemoryMove(ref.ConnectingConstraintHandle, ref.BodyIndexInConstraint, index)
			}
		}
	}
	if len(bodies.WorldInertias) > active.Count() {
		bodies.WorldInertias = bodies.WorldInertias[:0]
	}
}

// Awaken moves the island holding handle back into the active set. While the
// simulation is stepping the request is deferred until the step ends.
func (s *Simulation) Awaken(handle BodyHandle) {
	if s.locked {
		s.rousedBodies = append(s.rousedBodies, handle)
		return
	}
	s.awaken(handle)
}

func (s *Simulation) awaken(handle BodyHandle) {
	if !s.Bodies.ValidHandle(handle) {
		return
	}
	setIndex := s.Bodies.Location(handle).SetIndex
	if setIndex == 0 {
		return
	}
	bodies := s.Bodies
	source := &bodies.Sets[setIndex]
	active := bodies.ActiveSet()
	n := source.Count()
	for i := range n {
		h := source.IndexToHandle[i]
		slot := active.add(h, source.Poses[i], source.Velocities[i], source.LocalInertias[i],
			source.Activity[i], source.Collidables[i], source.Constraints[i])
		active.Activity[slot].IdleTime = 0
		bodies.HandleToLocation[h] = BodyMemoryLocation{SetIndex: 0, Index: slot}
	}
	constraints := 0
	if int(setIndex) < len(s.Solver.Sleeping) {
		constraints = len(s.Solver.Sleeping[setIndex])
	}
	s.Solver.awaken(bodies, setIndex)
	bodies.releaseSet(setIndex)

	for i := active.Count() - n; i < active.Count(); i++ {
		c := &active.Collidables[i]
		if c.BroadPhaseIndex < 0 {
			continue
		}
		ref := s.BroadPhase.StaticLeaves[c.BroadPhaseIndex]
		s.removeStaticLeaf(c.BroadPhaseIndex)
		bb := predictedBounds(s.Shapes, c, active.Poses[i], active.Velocities[i], 0, s.Config.SpeculativeMargin)
		c.BroadPhaseIndex = s.BroadPhase.AddActive(ref, bb)
	}
	s.Logger.Info("island awake", "set", setIndex, "bodies", n, "constraints", constraints)
}
