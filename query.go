package cm3

import (
	"github.com/go-gl/mathgl/mgl64"
)

// collidableOf returns the collidable and pose behind a broad phase reference.
func (s *Simulation) collidableOf(ref CollidableReference) (*Collidable, RigidPose) {
	if !ref.IsBody() {
		i := s.Statics.Index(ref.StaticHandle())
		return &s.Statics.Collidables[i], s.Statics.Poses[i]
	}
	loc := s.Bodies.Location(ref.BodyHandle())
	set := &s.Bodies.Sets[loc.SetIndex]
	return &set.Collidables[loc.Index], set.Poses[loc.Index]
}

func (s *Simulation) queryContext() *CollisionContext {
	if s.query == nil {
		s.query = NewCollisionContext(s.Shapes, s.NarrowPhase.Collisions, s.Logger)
	}
	return s.query
}

// RayCast returns the first collidable hit by origin + t*direction, t in [0, maxT].
func (s *Simulation) RayCast(origin, direction mgl64.Vec3, maxT float64, filter ShapeFilter) (RayHit, bool) {
	best := RayHit{T: maxT}
	found := false
	test := func(leaves []CollidableReference) RayTester {
		return func(leafIndex int, maxT *float64) {
			ref := leaves[leafIndex]
			c, pose := s.collidableOf(ref)
			if filter.Reject(c.Filter) {
				return
			}
			t, normal, child, hit := s.Shapes.RayTest(c.Shape, pose, origin, direction, *maxT)
			if !hit || t > *maxT {
				return
			}
			*maxT = t
			found = true
			best = RayHit{
				T:          t,
				Position:   origin.Add(direction.Mul(t)),
				Normal:     normal,
				Collidable: ref,
				ChildIndex: child,
			}
		}
	}
	limit := maxT
	s.BroadPhase.refitStatic()
	s.BroadPhase.ActiveTree.RayCast(origin, direction, &limit, test(s.BroadPhase.ActiveLeaves))
	s.BroadPhase.StaticTree.RayCast(origin, direction, &limit, test(s.BroadPhase.StaticLeaves))
	return best, found
}

// Overlap calls visit for every collidable the shape at pose penetrates, with
// the manifold from the query shape to it. It reports whether anything was found.
func (s *Simulation) Overlap(shape TypedIndex, pose RigidPose, filter ShapeFilter, visit func(ref CollidableReference, manifold *ContactManifold)) bool {
	ctx := s.queryContext()
	defer ctx.Dispose()
	query := s.Shapes.Get(shape)
	var manifold ContactManifold
	var refs []CollidableReference
	s.BroadPhase.GetOverlaps(s.Shapes.ComputeBounds(shape, pose), func(ref CollidableReference) {
		refs = append(refs, ref)
	})
	found := false
	for _, ref := range refs {
		c, otherPose := s.collidableOf(ref)
		if filter.Reject(c.Filter) {
			continue
		}
		if !ctx.Collide(query, s.Shapes.Get(c.Shape), pose, otherPose, 0, &manifold) {
			continue
		}
		if manifold.Count == 0 || manifold.Deepest() < 0 {
			continue
		}
		found = true
		if visit != nil {
			visit(ref, &manifold)
		}
	}
	return found
}

// Sweep moves the shape from pose with velocity for maxT time units and
// returns the first collidable it touches. Everything else is treated as
// stationary during the sweep.
func (s *Simulation) Sweep(shape TypedIndex, pose RigidPose, velocity BodyVelocity, maxT float64, filter ShapeFilter) (RayHit, bool) {
	ctx := s.queryContext()
	defer ctx.Dispose()
	query := s.Shapes.Get(shape)
	c := Collidable{CollidableDescription: NewCollidableDescription(shape)}
	bounds := predictedBounds(s.Shapes, &c, pose, velocity, maxT, sweepTolerance)

	var refs []CollidableReference
	s.BroadPhase.GetOverlaps(bounds, func(ref CollidableReference) {
		refs = append(refs, ref)
	})
	best := RayHit{T: maxT}
	found := false
	for _, ref := range refs {
		other, otherPose := s.collidableOf(ref)
		if filter.Reject(other.Filter) {
			continue
		}
		target := s.Shapes.Get(other.Shape)
		task, flip := s.NarrowPhase.Sweeps.Lookup(query.TypeID(), target.TypeID())
		if task == nil {
			continue
		}
		var t float64
		var hit bool
		if flip {
			t, hit = task.Sweep(ctx, target, otherPose, BodyVelocity{}, query, pose, velocity, best.T)
		} else {
			t, hit = task.Sweep(ctx, query, pose, velocity, target, otherPose, BodyVelocity{}, best.T)
		}
		if !hit || (found && t >= best.T) {
			continue
		}
		found = true
		best = s.sweepHit(ctx, query, pose.Integrate(velocity, t), velocity, target, otherPose)
		best.T = t
		best.Collidable = ref
	}
	return best, found
}

// sweepHit describes the touching point of a sweep from the contacts at the time of impact.
func (s *Simulation) sweepHit(ctx *CollisionContext, query IShape, pose RigidPose, velocity BodyVelocity, target IShape, targetPose RigidPose) RayHit {
	hit := RayHit{
		Position:   pose.Position,
		Normal:     safeNormalize(velocity.Linear.Mul(-1), unitY),
		ChildIndex: -1,
	}
	var manifold ContactManifold
	if !ctx.Collide(query, target, pose, targetPose, sweepTolerance*4, &manifold) || manifold.Count == 0 {
		return hit
	}
	deepest := 0
	for i := 1; i < manifold.Count; i++ {
		if manifold.Contacts[i].Depth > manifold.Contacts[deepest].Depth {
			deepest = i
		}
	}
	contact := manifold.Contacts[deepest]
	hit.Position = pose.Position.Add(contact.Offset)
	hit.Normal = contact.Normal.Mul(-1)
	return hit
}

// EachCollidable calls f for every body and static with a shape, awake or not.
func (s *Simulation) EachCollidable(f func(ref CollidableReference, shape TypedIndex, pose RigidPose)) {
	for i := range s.Bodies.Sets {
		set := &s.Bodies.Sets[i]
		for j := range set.Count() {
			c := set.Collidables[j]
			if !c.Shape.Exists() {
				continue
			}
			ref := NewBodyCollidable(set.IndexToHandle[j], set.LocalInertias[j].IsKinematic())
			f(ref, c.Shape, set.Poses[j])
		}
	}
	for i := range s.Statics.Count() {
		c := s.Statics.Collidables[i]
		if c.Shape.Exists() {
			f(NewStaticCollidable(s.Statics.IndexToHandle[i]), c.Shape, s.Statics.Poses[i])
		}
	}
}

// EachContact calls f for every touching pair with the pose of its A side and
// the contacts of its constraint.
func (s *Simulation) EachContact(f func(pair CollidablePair, poseA RigidPose, contacts *ContactManifoldConstraint)) {
	for _, e := range s.NarrowPhase.PairCache.Entries {
		if !s.Solver.ValidHandle(e.ConstraintHandle) {
			continue
		}
		data, ok := contactData(s.Solver.GetDescription(e.ConstraintHandle))
		if !ok {
			continue
		}
		_, pose := s.collidableOf(e.Pair.A)
		f(e.Pair, pose, data)
	}
}

// EachConstraint calls f for every live constraint that is not a contact.
func (s *Simulation) EachConstraint(f func(handle ConstraintHandle, description ConstraintDescription, bodies []BodyHandle)) {
	for i := range s.Solver.HandleToConstraint {
		handle := ConstraintHandle(i)
		if !s.Solver.ValidHandle(handle) {
			continue
		}
		desc := s.Solver.GetDescription(handle)
		if _, ok := contactData(desc); ok {
			continue
		}
		f(handle, desc, s.Solver.BodyHandles(s.Bodies, handle))
	}
}
