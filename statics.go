package cm3

import "fmt"

// StaticHandle is the stable id of a static collidable.
type StaticHandle int32

func (h StaticHandle) String() string {
	return fmt.Sprint("Static ", int32(h))
}

// StaticDescription holds everything needed to add a static.
type StaticDescription struct {
	Pose       RigidPose
	Collidable CollidableDescription
}

// NewStaticDescription returns a static with the default material and filter.
func NewStaticDescription(pose RigidPose, shape TypedIndex) StaticDescription {
	return StaticDescription{Pose: pose, Collidable: NewCollidableDescription(shape)}
}

// Statics stores immovable collidables densely. Statics never take part in the
// solver except as the implicit second body of one-body constraints.
type Statics struct {
	HandleToIndex []int32
	IndexToHandle []StaticHandle
	Poses         []RigidPose
	Collidables   []Collidable
	HandlePool    IdPool
}

// NewStatics returns an empty static store.
func NewStatics(capacity int) *Statics {
	return &Statics{
		IndexToHandle: make([]StaticHandle, 0, capacity),
		Poses:         make([]RigidPose, 0, capacity),
		Collidables:   make([]Collidable, 0, capacity),
	}
}

// Count returns the number of statics.
func (s *Statics) Count() int {
	return len(s.IndexToHandle)
}

// ValidHandle reports whether handle names a live static.
func (s *Statics) ValidHandle(handle StaticHandle) bool {
	return handle >= 0 && int(handle) < len(s.HandleToIndex) && s.HandleToIndex[handle] >= 0
}

// Index returns the dense slot of a static.
func (s *Statics) Index(handle StaticHandle) int32 {
	assert(s.ValidHandle(handle), "cm3: %v does not exist", handle)
	return s.HandleToIndex[handle]
}

// Add stores a static. Its broad phase index is -1 until the broad phase picks it up.
func (s *Statics) Add(description StaticDescription) StaticHandle {
	handle := StaticHandle(s.HandlePool.Take())
	for int(handle) >= len(s.HandleToIndex) {
		s.HandleToIndex = append(s.HandleToIndex, -1)
	}
	pose := description.Pose
	pose.Orientation = pose.Orientation.Normalize()
	s.HandleToIndex[handle] = int32(len(s.IndexToHandle))
	s.IndexToHandle = append(s.IndexToHandle, handle)
	s.Poses = append(s.Poses, pose)
	s.Collidables = append(s.Collidables, Collidable{CollidableDescription: description.Collidable, BroadPhaseIndex: -1})
	return handle
}

// Remove deletes a static, moving the last one into its slot.
func (s *Statics) Remove(handle StaticHandle) {
	index := s.Index(handle)
	last := int32(len(s.IndexToHandle) - 1)
	if index != last {
		moved := s.IndexToHandle[last]
		s.IndexToHandle[index] = moved
		s.Poses[index] = s.Poses[last]
		s.Collidables[index] = s.Collidables[last]
		s.HandleToIndex[moved] = index
	}
	s.IndexToHandle = s.IndexToHandle[:last]
	s.Poses = s.Poses[:last]
	s.Collidables = s.Collidables[:last]
	s.HandleToIndex[handle] = -1
	s.HandlePool.Return(int32(handle))
}

// GetDescription reads back a static's description.
func (s *Statics) GetDescription(handle StaticHandle) StaticDescription {
	index := s.Index(handle)
	return StaticDescription{Pose: s.Poses[index], Collidable: s.Collidables[index].CollidableDescription}
}
