package cm3

import (
	"golang.org/x/sync/errgroup"
)

// solverChunk is the number of constraints one worker job covers.
const solverChunk = 64

// SleepingConstraint is a constraint stored with a sleeping island.
type SleepingConstraint struct {
	Handle      ConstraintHandle
	BodyHandles []BodyHandle
	Description ConstraintDescription
}

// Solver owns every constraint. Active constraints live in batches whose body
// sets are disjoint; batches are solved in order and the constraints inside a
// batch are solved concurrently.
type Solver struct {
	Iterations         int
	Workers            int
	Batches            []ConstraintBatch
	HandleToConstraint []ConstraintLocation
	HandlePool         IdPool
	// Sleeping holds the constraints of each inactive body set, indexed by set.
	Sleeping   [][]SleepingConstraint
	processors []TypeProcessor
	ctx        stepContext
}

// NewSolver returns a solver with every built in constraint type registered.
func NewSolver(iterations, workers int) *Solver {
	s := &Solver{Iterations: iterations, Workers: workers}
	s.Register(NewTypeProcessor[convexOneBodyContactKernel](ConvexOneBodyContactTypeID, 1))
	s.Register(NewTypeProcessor[convexTwoBodyContactKernel](ConvexTwoBodyContactTypeID, 2))
	s.Register(NewTypeProcessor[nonconvexOneBodyContactKernel](NonconvexOneBodyContactTypeID, 1))
	s.Register(NewTypeProcessor[nonconvexTwoBodyContactKernel](NonconvexTwoBodyContactTypeID, 2))
	s.Register(NewTypeProcessor[ballSocketKernel](BallSocketTypeID, 2))
	s.Register(NewTypeProcessor[distanceLimitKernel](DistanceLimitTypeID, 2))
	s.Register(NewTypeProcessor[angularMotorKernel](AngularMotorTypeID, 2))
	s.Register(NewTypeProcessor[oneBodyLinearServoKernel](OneBodyLinearServoTypeID, 1))
	s.Register(NewTypeProcessor[angularSpringKernel](AngularSpringTypeID, 2))
	s.Register(NewTypeProcessor[angularAxisGearKernel](AngularAxisGearTypeID, 2))
	s.Register(NewTypeProcessor[pointOnLineServoKernel](PointOnLineServoTypeID, 2))
	return s
}

// Register adds a constraint type. Registering a type id twice is a programmer error.
func (s *Solver) Register(processor TypeProcessor) {
	typeID := processor.TypeID()
	assert(typeID >= 0, "cm3: negative constraint type id %d", typeID)
	for int(typeID) >= len(s.processors) {
		s.processors = append(s.processors, nil)
	}
	assert(s.processors[typeID] == nil, "cm3: constraint type %d is already registered", typeID)
	s.processors[typeID] = processor
}

func (s *Solver) processor(typeID int32) TypeProcessor {
	assert(int(typeID) < len(s.processors) && s.processors[typeID] != nil, "cm3: constraint type %d is not registered", typeID)
	return s.processors[typeID]
}

// ValidHandle reports whether handle names a live constraint.
func (s *Solver) ValidHandle(handle ConstraintHandle) bool {
	return handle >= 0 && int(handle) < len(s.HandleToConstraint) && s.HandleToConstraint[handle].SetIndex >= 0
}

// CountConstraints returns the number of active constraints.
func (s *Solver) CountConstraints() int {
	n := 0
	for i := range s.Batches {
		n += s.Batches[i].ConstraintCount()
	}
	return n
}

func (s *Solver) typeBatch(loc ConstraintLocation) *TypeBatch {
	return s.Batches[loc.BatchIndex].TypeBatch(loc.TypeID)
}

// Add creates a constraint between active bodies. The constraint joins the
// first batch that references none of its bodies.
func (s *Solver) Add(bodies *Bodies, bodyHandles []BodyHandle, description ConstraintDescription) ConstraintHandle {
	processor := s.processor(description.ConstraintTypeID())
	assert(len(bodyHandles) == processor.BodiesPerConstraint(), "cm3: constraint type %d takes %d bodies, got %d",
		processor.TypeID(), processor.BodiesPerConstraint(), len(bodyHandles))
	for i, a := range bodyHandles {
		for _, b := range bodyHandles[i+1:] {
			assert(a != b, "cm3: constraint references %v twice", a)
		}
	}
	handle := ConstraintHandle(s.HandlePool.Take())
	for int(handle) >= len(s.HandleToConstraint) {
		s.HandleToConstraint = append(s.HandleToConstraint, ConstraintLocation{SetIndex: -1})
	}
	s.allocate(bodies, handle, bodyHandles, description)
	active := bodies.ActiveSet()
	for i, bh := range bodyHandles {
		loc := bodies.Location(bh)
		assert(loc.SetIndex == 0, "cm3: %v must be awake to be constrained", bh)
		active.addConstraint(loc.Index, handle, int32(i))
	}
	return handle
}

// allocate places a constraint into a batch without touching body constraint lists.
func (s *Solver) allocate(bodies *Bodies, handle ConstraintHandle, bodyHandles []BodyHandle, description ConstraintDescription) {
	batchIndex := len(s.Batches)
	for i := range s.Batches {
		if s.Batches[i].CanFit(bodyHandles) {
			batchIndex = i
			break
		}
	}
	if batchIndex == len(s.Batches) {
		s.Batches = append(s.Batches, ConstraintBatch{})
	}
	batch := &s.Batches[batchIndex]
	var indices [4]int32
	bodyIndices := indices[:0]
	for _, bh := range bodyHandles {
		batch.BodyHandles.Add(int32(bh))
		bodyIndices = append(bodyIndices, bodies.Location(bh).Index)
	}
	typeID := description.ConstraintTypeID()
	tb := batch.getOrCreateTypeBatch(s.processor(typeID))
	index := tb.add(handle, bodyIndices, description)
	s.HandleToConstraint[handle] = ConstraintLocation{
		SetIndex:         0,
		BatchIndex:       int32(batchIndex),
		TypeID:           typeID,
		IndexInTypeBatch: index,
	}
}

// BodyHandles returns the handles of the bodies a constraint connects.
func (s *Solver) BodyHandles(bodies *Bodies, handle ConstraintHandle) []BodyHandle {
	assert(s.ValidHandle(handle), "cm3: %v does not exist", handle)
	loc := s.HandleToConstraint[handle]
	if loc.SetIndex > 0 {
		return append([]BodyHandle(nil), s.Sleeping[loc.SetIndex][loc.IndexInTypeBatch].BodyHandles...)
	}
	active := bodies.ActiveSet()
	indices := s.typeBatch(loc).Bodies(loc.IndexInTypeBatch)
	handles := make([]BodyHandle, len(indices))
	for i, index := range indices {
		handles[i] = active.IndexToHandle[index]
	}
	return handles
}

// Remove deletes a constraint. Removing the last constraint of a type batch
// deletes the type batch; trailing empty batches are dropped.
func (s *Solver) Remove(bodies *Bodies, handle ConstraintHandle) {
	assert(s.ValidHandle(handle), "cm3: %v does not exist", handle)
	loc := s.HandleToConstraint[handle]
	if loc.SetIndex > 0 {
		sleeping := s.Sleeping[loc.SetIndex][loc.IndexInTypeBatch]
		set := &bodies.Sets[loc.SetIndex]
		for _, bh := range sleeping.BodyHandles {
			set.removeConstraint(bodies.Location(bh).Index, handle)
		}
		s.removeSleeping(loc)
	} else {
		handles := s.BodyHandles(bodies, handle)
		active := bodies.ActiveSet()
		for _, bh := range handles {
			active.removeConstraint(bodies.Location(bh).Index, handle)
		}
		s.removeFromBatch(loc, handles)
	}
	s.HandleToConstraint[handle] = ConstraintLocation{SetIndex: -1}
	s.HandlePool.Return(int32(handle))
}

func (s *Solver) removeFromBatch(loc ConstraintLocation, bodyHandles []BodyHandle) {
	batch := &s.Batches[loc.BatchIndex]
	for _, bh := range bodyHandles {
		batch.BodyHandles.Remove(int32(bh))
	}
	tb := batch.TypeBatch(loc.TypeID)
	if moved, ok := tb.removeAt(loc.IndexInTypeBatch); ok {
		s.HandleToConstraint[moved].IndexInTypeBatch = loc.IndexInTypeBatch
	}
	if tb.Count() == 0 {
		batch.removeTypeBatch(loc.TypeID)
	}
	for len(s.Batches) > 0 && len(s.Batches[len(s.Batches)-1].TypeBatches) == 0 {
		s.Batches = s.Batches[:len(s.Batches)-1]
	}
}

func (s *Solver) removeSleeping(loc ConstraintLocation) {
	list := s.Sleeping[loc.SetIndex]
	last := int32(len(list) - 1)
	if loc.IndexInTypeBatch != last {
		list[loc.IndexInTypeBatch] = list[last]
		s.HandleToConstraint[list[last].Handle].IndexInTypeBatch = loc.IndexInTypeBatch
	}
	list[last] = SleepingConstraint{}
	s.Sleeping[loc.SetIndex] = list[:last]
}

// GetDescription returns the current description of a constraint, including
// any accumulated impulses the type exposes.
func (s *Solver) GetDescription(handle ConstraintHandle) ConstraintDescription {
	assert(s.ValidHandle(handle), "cm3: %v does not exist", handle)
	loc := s.HandleToConstraint[handle]
	if loc.SetIndex > 0 {
		return s.Sleeping[loc.SetIndex][loc.IndexInTypeBatch].Description
	}
	return s.typeBatch(loc).constraints.description(loc.IndexInTypeBatch)
}

// GetImpulse returns the magnitude of the impulse a constraint applied in the last step.
func (s *Solver) GetImpulse(handle ConstraintHandle) float64 {
	assert(s.ValidHandle(handle), "cm3: %v does not exist", handle)
	loc := s.HandleToConstraint[handle]
	if loc.SetIndex > 0 {
		return 0
	}
	return s.typeBatch(loc).constraints.impulse(loc.IndexInTypeBatch)
}

// ApplyDescription overwrites a constraint's description. A description of a
// different type moves the constraint to the matching type batch and keeps its handle.
func (s *Solver) ApplyDescription(bodies *Bodies, handle ConstraintHandle, description ConstraintDescription) {
	assert(s.ValidHandle(handle), "cm3: %v does not exist", handle)
	loc := s.HandleToConstraint[handle]
	if loc.SetIndex > 0 {
		sleeping := &s.Sleeping[loc.SetIndex][loc.IndexInTypeBatch]
		assert(s.processor(description.ConstraintTypeID()).BodiesPerConstraint() == len(sleeping.BodyHandles),
			"cm3: description changes the body count of %v", handle)
		sleeping.Description = description
		return
	}
	if description.ConstraintTypeID() == loc.TypeID {
		s.typeBatch(loc).constraints.setDescription(loc.IndexInTypeBatch, description)
		return
	}
	handles := s.BodyHandles(bodies, handle)
	assert(s.processor(description.ConstraintTypeID()).BodiesPerConstraint() == len(handles),
		"cm3: description changes the body count of %v", handle)
	s.removeFromBatch(loc, handles)
	s.allocate(bodies, handle, handles, description)
}

// UpdateForBodyMemoryMove points a constraint at a body's new active slot.
func (s *Solver) UpdateForBodyMemoryMove(handle ConstraintHandle, indexInConstraint, newBodyIndex int32) {
	loc := s.HandleToConstraint[handle]
	assert(loc.SetIndex == 0, "cm3: %v is not active", handle)
	s.typeBatch(loc).Bodies(loc.IndexInTypeBatch)[indexInConstraint] = newBodyIndex
}

// EnumerateConnectedBodies calls visit with the active index of each body of an active constraint.
func (s *Solver) EnumerateConnectedBodies(handle ConstraintHandle, visit func(int32)) {
	loc := s.HandleToConstraint[handle]
	assert(loc.SetIndex == 0, "cm3: %v is not active", handle)
	for _, index := range s.typeBatch(loc).Bodies(loc.IndexInTypeBatch) {
		visit(index)
	}
}

// EnumerateConnectedBodyIndices calls visit with every other body sharing a constraint with bodyIndex.
func (s *Solver) EnumerateConnectedBodyIndices(bodies *Bodies, bodyIndex int32, visit func(int32)) {
	bodies.EnumerateConnectedBodyIndices(s, bodyIndex, visit)
}

// sleep moves an active constraint into the sleeping list of setIndex.
func (s *Solver) sleep(bodies *Bodies, handle ConstraintHandle, setIndex int32) {
	loc := s.HandleToConstraint[handle]
	assert(loc.SetIndex == 0, "cm3: %v is already asleep", handle)
	handles := s.BodyHandles(bodies, handle)
	description := s.GetDescription(handle)
	s.removeFromBatch(loc, handles)
	for int(setIndex) >= len(s.Sleeping) {
		s.Sleeping = append(s.Sleeping, nil)
	}
	s.Sleeping[setIndex] = append(s.Sleeping[setIndex], SleepingConstraint{
		Handle:      handle,
		BodyHandles: handles,
		Description: description,
	})
	s.HandleToConstraint[handle] = ConstraintLocation{
		SetIndex:         setIndex,
		IndexInTypeBatch: int32(len(s.Sleeping[setIndex]) - 1),
	}
}

// awaken moves every sleeping constraint of setIndex back into the batches.
// The set's bodies must already be active.
func (s *Solver) awaken(bodies *Bodies, setIndex int32) {
	if int(setIndex) >= len(s.Sleeping) {
		return
	}
	for _, c := range s.Sleeping[setIndex] {
		s.allocate(bodies, c.Handle, c.BodyHandles, c.Description)
	}
	s.Sleeping[setIndex] = nil
}

// Solve runs the prestep, the warm start and the velocity iterations over the
// active bodies.
func (s *Solver) Solve(bodies *Bodies, dt, slop, collisionBias float64) {
	active := bodies.ActiveSet()
	s.ctx = stepContext{
		dt:            dt,
		inverseDt:     1 / dt,
		poses:         active.Poses,
		velocities:    active.Velocities,
		inertias:      bodies.WorldInertias,
		slop:          slop,
		collisionBias: collisionBias,
	}
	for i := range s.Batches {
		s.runBatch(&s.Batches[i], constraintStorage.preStep)
	}
	for i := range s.Batches {
		s.runBatch(&s.Batches[i], constraintStorage.applyCachedImpulse)
	}
	for range s.Iterations {
		for i := range s.Batches {
			s.runBatch(&s.Batches[i], constraintStorage.applyImpulse)
		}
	}
	s.ctx = stepContext{}
}

type batchStage func(storage constraintStorage, ctx *stepContext, start, end int, bodies []int32, stride int)

// runBatch splits a batch into chunks and runs them on up to Workers goroutines.
func (s *Solver) runBatch(batch *ConstraintBatch, stage batchStage) {
	total := batch.ConstraintCount()
	if s.Workers <= 1 || total <= solverChunk {
		for i := range batch.TypeBatches {
			tb := &batch.TypeBatches[i]
			stage(tb.constraints, &s.ctx, 0, tb.Count(), tb.BodyIndices, tb.BodiesPerConstraint)
		}
		return
	}
	var g errgroup.Group
	g.SetLimit(s.Workers)
	for i := range batch.TypeBatches {
		tb := &batch.TypeBatches[i]
		for start := 0; start < tb.Count(); start += solverChunk {
			end := min(start+solverChunk, tb.Count())
			g.Go(func() error {
				stage(tb.constraints, &s.ctx, start, end, tb.BodyIndices, tb.BodiesPerConstraint)
				return nil
			})
		}
	}
	g.Wait()
}

// Clear drops every constraint.
func (s *Solver) Clear() {
	s.Batches = nil
	s.HandleToConstraint = nil
	s.HandlePool.Clear()
	s.Sleeping = nil
}
