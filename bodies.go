package cm3

import (
	"github.com/go-gl/mathgl/mgl64"
	"golang.org/x/sync/errgroup"
)

// integrationChunk is the number of bodies one integration job covers.
const integrationChunk = 256

// Bodies owns every body in the simulation. Set 0 holds active bodies; sleeping
// islands live in the other sets.
type Bodies struct {
	// HandleToLocation maps a body handle to its set and slot. Freed handles have SetIndex -1.
	HandleToLocation []BodyMemoryLocation
	HandlePool       IdPool
	Sets             []BodySet
	// WorldInertias holds the world space inertia of each active body, refreshed every step.
	WorldInertias []BodyInertia
	setPool       IdPool
}

// NewBodies returns an empty body store with room for capacity active bodies.
func NewBodies(capacity int) *Bodies {
	b := &Bodies{Sets: []BodySet{newBodySet(capacity)}}
	// Set 0 is permanently the active set.
	b.setPool.Take()
	return b
}

// ActiveSet returns the set of awake bodies.
func (b *Bodies) ActiveSet() *BodySet {
	return &b.Sets[0]
}

// SetCount returns the number of allocated sets, including the active set.
func (b *Bodies) SetCount() int {
	n := 0
	for i := range b.Sets {
		if b.Sets[i].Allocated() {
			n++
		}
	}
	return n
}

// Count returns the number of bodies across all sets.
func (b *Bodies) Count() int {
	n := 0
	for i := range b.Sets {
		n += b.Sets[i].Count()
	}
	return n
}

// ValidHandle reports whether handle names a live body.
func (b *Bodies) ValidHandle(handle BodyHandle) bool {
	return handle >= 0 && int(handle) < len(b.HandleToLocation) && b.HandleToLocation[handle].SetIndex >= 0
}

func (b *Bodies) validate(handle BodyHandle) {
	assert(b.ValidHandle(handle), "cm3: %v does not exist", handle)
}

// Location returns where the body lives.
func (b *Bodies) Location(handle BodyHandle) BodyMemoryLocation {
	b.validate(handle)
	return b.HandleToLocation[handle]
}

// Add stores a new body in the active set. The body's broad phase index is -1
// until the broad phase picks it up.
func (b *Bodies) Add(description BodyDescription) BodyHandle {
	assert(description.Pose.Orientation.Len() > 0, "cm3: body orientation must be a unit quaternion")
	handle := BodyHandle(b.HandlePool.Take())
	for int(handle) >= len(b.HandleToLocation) {
		b.HandleToLocation = append(b.HandleToLocation, BodyMemoryLocation{SetIndex: -1, Index: -1})
	}
	activity := description.Activity
	inertia := description.LocalInertia
	if activity.Kinematic {
		inertia = BodyInertia{}
	}
	activity.Kinematic = inertia.IsKinematic()
	pose := description.Pose
	pose.Orientation = pose.Orientation.Normalize()
	index := b.ActiveSet().add(handle, pose, description.Velocity, inertia, activity,
		Collidable{CollidableDescription: description.Collidable, BroadPhaseIndex: -1}, nil)
	b.HandleToLocation[handle] = BodyMemoryLocation{SetIndex: 0, Index: index}
	return handle
}

// Remove deletes an active body that has no constraints left. The last active
// body moves into the freed slot and solver references to it are rewritten.
func (b *Bodies) Remove(handle BodyHandle, solver *Solver) {
	b.validate(handle)
	loc := b.HandleToLocation[handle]
	assert(loc.SetIndex == 0, "cm3: %v must be awake to be removed", handle)
	set := b.ActiveSet()
	assert(len(set.Constraints[loc.Index]) == 0, "cm3: %v still has constraints", handle)
	if movedHandle, moved := set.removeAt(loc.Index); moved {
		b.HandleToLocation[movedHandle] = BodyMemoryLocation{SetIndex: 0, Index: loc.Index}
		for _, ref := range set.Constraints[loc.Index] {
			solver.UpdateForBodyMemoryMove(ref.ConnectingConstraintHandle, ref.BodyIndexInConstraint, loc.Index)
		}
	}
	b.HandleToLocation[handle] = BodyMemoryLocation{SetIndex: -1, Index: -1}
	b.HandlePool.Return(int32(handle))
}

// Swap exchanges two active body slots and rewrites the constraints of both.
func (b *Bodies) Swap(a, c int32, solver *Solver) {
	if a == c {
		return
	}
	set := b.ActiveSet()
	set.swap(a, c)
	b.HandleToLocation[set.IndexToHandle[a]] = BodyMemoryLocation{SetIndex: 0, Index: a}
	b.HandleToLocation[set.IndexToHandle[c]] = BodyMemoryLocation{SetIndex: 0, Index: c}
	for _, index := range [2]int32{a, c} {
		for _, ref := range set.Constraints[index] {
			solver.UpdateForBodyMemoryMove(ref.ConnectingConstraintHandle, ref.BodyIndexInConstraint, index)
		}
	}
	if len(b.WorldInertias) == set.Count() {
		b.WorldInertias[a], b.WorldInertias[c] = b.WorldInertias[c], b.WorldInertias[a]
	}
}

// GetDescription reads back a body's description.
func (b *Bodies) GetDescription(handle BodyHandle) BodyDescription {
	b.validate(handle)
	loc := b.HandleToLocation[handle]
	set := &b.Sets[loc.SetIndex]
	return BodyDescription{
		Pose:         set.Poses[loc.Index],
		Velocity:     set.Velocities[loc.Index],
		LocalInertia: set.LocalInertias[loc.Index],
		Collidable:   set.Collidables[loc.Index].CollidableDescription,
		Activity:     set.Activity[loc.Index],
	}
}

// ApplyDescription overwrites a body's state. The broad phase leaf is kept.
func (b *Bodies) ApplyDescription(handle BodyHandle, description BodyDescription) {
	b.validate(handle)
	loc := b.HandleToLocation[handle]
	set := &b.Sets[loc.SetIndex]
	inertia := description.LocalInertia
	if description.Activity.Kinematic {
		inertia = BodyInertia{}
	}
	set.Poses[loc.Index] = description.Pose
	set.Velocities[loc.Index] = description.Velocity
	set.LocalInertias[loc.Index] = inertia
	set.Activity[loc.Index] = description.Activity
	set.Activity[loc.Index].Kinematic = inertia.IsKinematic()
	set.Collidables[loc.Index].CollidableDescription = description.Collidable
}

// EnumerateConnectedBodyIndices calls visit with the active index of every body
// sharing a constraint with the body at bodyIndex. A body connected through
// several constraints is visited once per constraint.
func (b *Bodies) EnumerateConnectedBodyIndices(solver *Solver, bodyIndex int32, visit func(int32)) {
	for _, ref := range b.ActiveSet().Constraints[bodyIndex] {
		solver.EnumerateConnectedBodies(ref.ConnectingConstraintHandle, func(index int32) {
			if index != bodyIndex {
				visit(index)
			}
		})
	}
}

// updateWorldInertias rotates each active body's local inertia into world space.
func (b *Bodies) updateWorldInertias() {
	set := b.ActiveSet()
	if cap(b.WorldInertias) < set.Count() {
		b.WorldInertias = make([]BodyInertia, set.Count())
	}
	b.WorldInertias = b.WorldInertias[:set.Count()]
	for i := range set.Count() {
		local := set.LocalInertias[i]
		b.WorldInertias[i] = BodyInertia{
			InverseMass:          local.InverseMass,
			InverseInertiaTensor: rotateInertia(local.InverseInertiaTensor, set.Poses[i].Orientation),
		}
	}
}

// integrateVelocities applies gravity and damping to active dynamic bodies.
func (b *Bodies) integrateVelocities(gravity mgl64.Vec3, linearDamping, angularDamping, dt float64) {
	set := b.ActiveSet()
	for i := range set.Count() {
		if set.Activity[i].Kinematic {
			continue
		}
		vel := &set.Velocities[i]
		vel.Linear = vel.Linear.Mul(linearDamping).Add(gravity.Mul(dt))
		vel.Angular = vel.Angular.Mul(angularDamping)
	}
}

// integratePoses moves active bodies by their velocities, split across workers.
func (b *Bodies) integratePoses(dt float64, workers int) {
	set := b.ActiveSet()
	n := set.Count()
	if workers <= 1 || n <= integrationChunk {
		for i := range n {
			set.Poses[i] = set.Poses[i].Integrate(set.Velocities[i], dt)
		}
		return
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for start := 0; start < n; start += integrationChunk {
		end := min(start+integrationChunk, n)
		g.Go(func() error {
			for i := start; i < end; i++ {
				set.Poses[i] = set.Poses[i].Integrate(set.Velocities[i], dt)
			}
			return nil
		})
	}
	g.Wait()
}

// allocateSet claims an inactive set slot.
func (b *Bodies) allocateSet(capacity int) int32 {
	index := b.setPool.Take()
	for int(index) >= len(b.Sets) {
		b.Sets = append(b.Sets, BodySet{})
	}
	b.Sets[index] = newBodySet(capacity)
	return index
}

func (b *Bodies) releaseSet(index int32) {
	assert(index > 0, "cm3: the active set cannot be released")
	b.Sets[index].clear()
	b.setPool.Return(index)
	for len(b.Sets) > 1 && !b.Sets[len(b.Sets)-1].Allocated() {
		b.Sets = b.Sets[:len(b.Sets)-1]
	}
}
