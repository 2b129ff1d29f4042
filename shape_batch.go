package cm3

import (
	"github.com/go-gl/mathgl/mgl64"
)

// ShapeBatch stores every shape of one type. Slots are recycled through an IdPool.
type ShapeBatch struct {
	typeID ShapeType
	shapes []IShape
	ids    IdPool
	count  int
}

// TypeID returns the type id of the shapes in the batch.
func (b *ShapeBatch) TypeID() ShapeType { return b.typeID }

// Count returns the number of live shapes.
func (b *ShapeBatch) Count() int { return b.count }

// Capacity returns the slot span of the batch.
func (b *ShapeBatch) Capacity() int { return len(b.shapes) }

func (b *ShapeBatch) add(shape IShape) int32 {
	slot := b.ids.Take()
	if int(slot) >= len(b.shapes) {
		b.shapes = append(b.shapes, make([]IShape, int(slot)+1-len(b.shapes))...)
	}
	b.shapes[slot] = shape
	b.count++
	return slot
}

func (b *ShapeBatch) remove(slot int32) {
	b.shapes[slot] = nil
	b.ids.Return(slot)
	b.count--
}

// Shapes is the registry of every shape the simulation knows, one batch per type id.
type Shapes struct {
	batches []*ShapeBatch
}

// NewShapes returns an empty registry.
func NewShapes() *Shapes {
	return &Shapes{}
}

// Add stores shape and returns its typed index. The batch for its type is created on demand.
func (s *Shapes) Add(shape IShape) TypedIndex {
	assert(shape != nil, "cm3: nil shape")
	id := shape.TypeID()
	if int(id) >= len(s.batches) {
		s.batches = append(s.batches, make([]*ShapeBatch, int(id)+1-len(s.batches))...)
	}
	if s.batches[id] == nil {
		s.batches[id] = &ShapeBatch{typeID: id}
	}
	return TypedIndex{Type: id, Index: s.batches[id].add(shape)}
}

func (s *Shapes) validateChild(child TypedIndex) {
	s.validate(child)
	assert(child.Type.IsConvex(), "cm3: compound child %v is not convex", child)
}

func (s *Shapes) validate(index TypedIndex) {
	assert(int(index.Type) < len(s.batches) && s.batches[index.Type] != nil,
		"cm3: shape type %v is not registered", index.Type)
	batch := s.batches[index.Type]
	assert(index.Index >= 0 && int(index.Index) < len(batch.shapes) && batch.shapes[index.Index] != nil,
		"cm3: shape slot %v out of range for capacity %d", index, len(batch.shapes))
}

// Get returns the shape at index.
func (s *Shapes) Get(index TypedIndex) IShape {
	s.validate(index)
	return s.batches[index.Type].shapes[index.Index]
}

// GetConvex returns the convex shape at index.
func (s *Shapes) GetConvex(index TypedIndex) IConvexShape {
	convex, ok := s.Get(index).(IConvexShape)
	assert(ok, "cm3: shape %v is not convex", index)
	return convex
}

// Batch returns the batch of a type, nil if none was created.
func (s *Shapes) Batch(id ShapeType) *ShapeBatch {
	if int(id) >= len(s.batches) {
		return nil
	}
	return s.batches[id]
}

// Remove releases the slot of index. Compound children are not removed.
func (s *Shapes) Remove(index TypedIndex) {
	s.validate(index)
	s.batches[index.Type].remove(index.Index)
}

// RecursivelyRemove removes index and, for compounds, every child shape.
func (s *Shapes) RecursivelyRemove(index TypedIndex) {
	switch c := s.Get(index).(type) {
	case *Compound:
		for _, child := range c.Children {
			s.Remove(child.Shape)
		}
	case *BigCompound:
		for _, child := range c.Children {
			s.Remove(child.Shape)
		}
	}
	s.Remove(index)
}

// ComputeBounds returns the world bounds of the shape at pose.
func (s *Shapes) ComputeBounds(index TypedIndex, pose RigidPose) BB {
	var min, max mgl64.Vec3
	switch shape := s.Get(index).(type) {
	case IConvexShape:
		min, max = shape.ComputeBounds(pose.Orientation)
	case ICompoundShape:
		min, max = shape.ComputeBounds(pose.Orientation, s)
	}
	return BB{Min: min.Add(pose.Position), Max: max.Add(pose.Position)}
}

// RayTest intersects a world space ray with the shape at pose.
func (s *Shapes) RayTest(index TypedIndex, pose RigidPose, origin, direction mgl64.Vec3, maxT float64) (t float64, normal mgl64.Vec3, childIndex int, hit bool) {
	switch shape := s.Get(index).(type) {
	case IConvexShape:
		t, normal, hit = shape.RayTest(pose, origin, direction, maxT)
		return t, normal, -1, hit
	case ICompoundShape:
		return shape.RayTest(pose, origin, direction, maxT, s)
	}
	return 0, mgl64.Vec3{}, -1, false
}

// MaximumRadius returns the largest distance from the shape origin to its surface.
func (s *Shapes) MaximumRadius(index TypedIndex) float64 {
	switch shape := s.Get(index).(type) {
	case IConvexShape:
		return shape.MaximumRadius()
	case ICompoundShape:
		min, max := shape.ComputeBounds(mgl64.QuatIdent(), s)
		return vmax(vabs(min), vabs(max)).Len()
	}
	return 0
}

// Count returns the number of live shapes across all batches.
func (s *Shapes) Count() int {
	n := 0
	for _, b := range s.batches {
		if b != nil {
			n += b.count
		}
	}
	return n
}
