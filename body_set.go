package cm3

// BodySet stores bodies in dense parallel slices. Set 0 of Bodies is the active
// set; the others hold sleeping islands.
type BodySet struct {
	IndexToHandle []BodyHandle
	Poses         []RigidPose
	Velocities    []BodyVelocity
	LocalInertias []BodyInertia
	Activity      []BodyActivity
	Collidables   []Collidable
	Constraints   [][]BodyConstraintReference
}

// Count returns the number of bodies in the set.
func (s *BodySet) Count() int {
	return len(s.IndexToHandle)
}

// Allocated reports whether the set is in use.
func (s *BodySet) Allocated() bool {
	return s.IndexToHandle != nil
}

func newBodySet(capacity int) BodySet {
	return BodySet{
		IndexToHandle: make([]BodyHandle, 0, capacity),
		Poses:         make([]RigidPose, 0, capacity),
		Velocities:    make([]BodyVelocity, 0, capacity),
		LocalInertias: make([]BodyInertia, 0, capacity),
		Activity:      make([]BodyActivity, 0, capacity),
		Collidables:   make([]Collidable, 0, capacity),
		Constraints:   make([][]BodyConstraintReference, 0, capacity),
	}
}

func (s *BodySet) add(handle BodyHandle, pose RigidPose, velocity BodyVelocity, inertia BodyInertia,
	activity BodyActivity, collidable Collidable, constraints []BodyConstraintReference) int32 {
	s.IndexToHandle = append(s.IndexToHandle, handle)
	s.Poses = append(s.Poses, pose)
	s.Velocities = append(s.Velocities, velocity)
	s.LocalInertias = append(s.LocalInertias, inertia)
	s.Activity = append(s.Activity, activity)
	s.Collidables = append(s.Collidables, collidable)
	s.Constraints = append(s.Constraints, constraints)
	return int32(len(s.IndexToHandle) - 1)
}

// removeAt moves the last body into index. It returns the handle of the moved
// body and whether a move happened.
func (s *BodySet) removeAt(index int32) (BodyHandle, bool) {
	last := int32(len(s.IndexToHandle) - 1)
	moved := index != last
	if moved {
		s.IndexToHandle[index] = s.IndexToHandle[last]
		s.Poses[index] = s.Poses[last]
		s.Velocities[index] = s.Velocities[last]
		s.LocalInertias[index] = s.LocalInertias[last]
		s.Activity[index] = s.Activity[last]
		s.Collidables[index] = s.Collidables[last]
		s.Constraints[index] = s.Constraints[last]
	}
	s.Constraints[last] = nil
	s.IndexToHandle = s.IndexToHandle[:last]
	s.Poses = s.Poses[:last]
	s.Velocities = s.Velocities[:last]
	s.LocalInertias = s.LocalInertias[:last]
	s.Activity = s.Activity[:last]
	s.Collidables = s.Collidables[:last]
	s.Constraints = s.Constraints[:last]
	if !moved {
		return 0, false
	}
	return s.IndexToHandle[index], true
}

func (s *BodySet) swap(a, b int32) {
	s.IndexToHandle[a], s.IndexToHandle[b] = s.IndexToHandle[b], s.IndexToHandle[a]
	s.Poses[a], s.Poses[b] = s.Poses[b], s.Poses[a]
	s.Velocities[a], s.Velocities[b] = s.Velocities[b], s.Velocities[a]
	s.LocalInertias[a], s.LocalInertias[b] = s.LocalInertias[b], s.LocalInertias[a]
	s.Activity[a], s.Activity[b] = s.Activity[b], s.Activity[a]
	s.Collidables[a], s.Collidables[b] = s.Collidables[b], s.Collidables[a]
	s.Constraints[a], s.Constraints[b] = s.Constraints[b], s.Constraints[a]
}

func (s *BodySet) addConstraint(index int32, handle ConstraintHandle, indexInConstraint int32) {
	s.Constraints[index] = append(s.Constraints[index], BodyConstraintReference{
		ConnectingConstraintHandle: handle,
		BodyIndexInConstraint:      indexInConstraint,
	})
}

func (s *BodySet) removeConstraint(index int32, handle ConstraintHandle) {
	list := s.Constraints[index]
	for i, ref := range list {
		if ref.ConnectingConstraintHandle == handle {
			last := len(list) - 1
			list[i] = list[last]
			s.Constraints[index] = list[:last]
			return
		}
	}
	assert(false, "cm3: constraint %d is not attached to body slot %d", handle, index)
}

func (s *BodySet) clear() {
	*s = BodySet{}
}
