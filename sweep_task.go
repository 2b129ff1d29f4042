package cm3

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

const (
	sweepMaxIterations = 32
	// sweepTolerance is the distance at which a sweep reports contact.
	sweepTolerance = 1e-4
)

// SweepTask finds the time of impact of one ordered pair of shape types.
type SweepTask interface {
	ShapeTypes() (a, b ShapeType)
	// Sweep returns the earliest time in [0, maxT] at which a and b, moving with
	// constant velocities from poseA and poseB, come within touching distance.
	Sweep(ctx *CollisionContext, a IShape, poseA RigidPose, velocityA BodyVelocity,
		b IShape, poseB RigidPose, velocityB BodyVelocity, maxT float64) (t float64, hit bool)
}

type registeredSweep struct {
	task SweepTask
	flip bool
}

// SweepTaskRegistry maps pairs of shape types to sweep tasks.
type SweepTaskRegistry struct {
	tasks [ShapeTypeNum][ShapeTypeNum]registeredSweep
}

// NewSweepTaskRegistry returns a registry with every built-in pair registered
// except mesh against mesh.
func NewSweepTaskRegistry() *SweepTaskRegistry {
	r := &SweepTaskRegistry{}
	r.Register(sphereSphereSweep{})
	for a := ShapeType(0); a < ShapeTypeNum; a++ {
		for b := a; b < ShapeTypeNum; b++ {
			if r.tasks[a][b].task != nil {
				continue
			}
			switch {
			case a.IsConvex() && b.IsConvex():
				r.Register(convexSweep{a, b})
			case a == MeshType && b == MeshType:
			default:
				r.Register(nonconvexSweep{a, b})
			}
		}
	}
	return r
}

// Register adds a sweep task and its mirrored entry.
func (r *SweepTaskRegistry) Register(task SweepTask) {
	a, b := task.ShapeTypes()
	assert(a < ShapeTypeNum && b < ShapeTypeNum, "cm3: sweep task for unknown shape types %v, %v", a, b)
	assert(r.tasks[a][b].task == nil, "cm3: sweep task for %v, %v registered twice", a, b)
	r.tasks[a][b] = registeredSweep{task: task}
	if a != b {
		r.tasks[b][a] = registeredSweep{task: task, flip: true}
	}
}

// Lookup returns the task for the pair and whether its arguments must be swapped.
func (r *SweepTaskRegistry) Lookup(a, b ShapeType) (SweepTask, bool) {
	t := r.tasks[a][b]
	return t.task, t.flip
}

type sphereSphereSweep struct{}

func (sphereSphereSweep) ShapeTypes() (ShapeType, ShapeType) { return SphereType, SphereType }

func (sphereSphereSweep) Sweep(_ *CollisionContext, a IShape, poseA RigidPose, velocityA BodyVelocity,
	b IShape, poseB RigidPose, velocityB BodyVelocity, maxT float64) (float64, bool) {
	r := a.(*Sphere).Radius + b.(*Sphere).Radius
	d := poseB.Position.Sub(poseA.Position)
	v := velocityB.Linear.Sub(velocityA.Linear)
	c := d.Dot(d) - r*r
	if c <= 0 {
		return 0, true
	}
	qa := v.Dot(v)
	qb := 2 * d.Dot(v)
	disc := qb*qb - 4*qa*c
	if qa < 1e-18 || qb >= 0 || disc < 0 {
		return 0, false
	}
	t := (-qb - math.Sqrt(disc)) / (2 * qa)
	return t, t <= maxT
}

// sweepBody is a convex piece rigidly attached to a moving parent.
type sweepBody struct {
	shape    IConvexShape
	pose     RigidPose
	local    RigidPose
	velocity BodyVelocity
	// radius bounds the distance of any point of the piece from the parent origin.
	radius float64
}

func (s *sweepBody) at(t float64) RigidPose {
	return s.pose.Integrate(s.velocity, t).Mult(s.local)
}

// conservativeAdvancement steps time forward by the distance between the pieces
// divided by a bound on their approach speed until they touch or maxT passes.
func conservativeAdvancement(a, b *sweepBody, maxT float64) (float64, bool) {
	t := 0.0
	var guess mgl64.Vec3
	for range sweepMaxIterations {
		r := gjkDistance(a.shape, a.at(t), b.shape, b.at(t), guess)
		if r.Intersecting || r.Distance < sweepTolerance {
			return t, true
		}
		closing := a.velocity.Linear.Sub(b.velocity.Linear).Dot(r.Normal) +
			a.velocity.Angular.Len()*a.radius + b.velocity.Angular.Len()*b.radius
		if closing <= 1e-12 {
			return 0, false
		}
		t += (r.Distance - sweepTolerance*0.5) / closing
		if t > maxT {
			return 0, false
		}
		guess = r.Normal
	}
	// Out of iterations while still closing in counts as a hit at the last safe time.
	return t, true
}

type convexSweep struct{ a, b ShapeType }

func (t convexSweep) ShapeTypes() (ShapeType, ShapeType) { return t.a, t.b }

func (convexSweep) Sweep(_ *CollisionContext, a IShape, poseA RigidPose, velocityA BodyVelocity,
	b IShape, poseB RigidPose, velocityB BodyVelocity, maxT float64) (float64, bool) {
	ca, cb := a.(IConvexShape), b.(IConvexShape)
	sa := sweepBody{shape: ca, pose: poseA, local: NewPoseIdentity(), velocity: velocityA, radius: ca.MaximumRadius()}
	sb := sweepBody{shape: cb, pose: poseB, local: NewPoseIdentity(), velocity: velocityB, radius: cb.MaximumRadius()}
	return conservativeAdvancement(&sa, &sb, maxT)
}

// nonconvexSweep sweeps every pair of children that may meet during the step
// and keeps the earliest impact.
type nonconvexSweep struct{ a, b ShapeType }

func (t nonconvexSweep) ShapeTypes() (ShapeType, ShapeType) { return t.a, t.b }

func (nonconvexSweep) Sweep(ctx *CollisionContext, a IShape, poseA RigidPose, velocityA BodyVelocity,
	b IShape, poseB RigidPose, velocityB BodyVelocity, maxT float64) (float64, bool) {
	boundsA := shapeBounds(a, poseA, ctx.Shapes)
	boundsB := shapeBounds(b, poseB, ctx.Shapes)
	spin := (velocityA.Angular.Len()*boundsRadius(boundsA, poseA.Position) +
		velocityB.Angular.Len()*boundsRadius(boundsB, poseB.Position)) * maxT
	relative := velocityB.Linear.Sub(velocityA.Linear).Mul(maxT)
	// Children of A that B's bounds pass over, and children of B that A's do.
	queryA, queryB := boundsB.Grow(spin), boundsA.Grow(spin)

	best, hit := maxT, false
	ctx.forEachSweptChild(a, poseA, queryA, relative, func(childA IConvexShape, localA RigidPose, _ int) {
		sa := sweepBody{shape: childA, pose: poseA, local: localA, velocity: velocityA,
			radius: localA.Position.Len() + childA.MaximumRadius()}
		ctx.forEachSweptChild(b, poseB, queryB, relative.Mul(-1), func(childB IConvexShape, localB RigidPose, _ int) {
			if best == 0 {
				return
			}
			sb := sweepBody{shape: childB, pose: poseB, local: localB, velocity: velocityB,
				radius: localB.Position.Len() + childB.MaximumRadius()}
			if t, ok := conservativeAdvancement(&sa, &sb, best); ok && t <= best {
				best, hit = t, true
			}
		})
	})
	if !hit {
		return 0, false
	}
	return best, true
}

// forEachSweptChild visits the convex pieces of shape, with poses relative to
// the parent, that the world space box touches while moving by displacement.
func (ctx *CollisionContext) forEachSweptChild(shape IShape, pose RigidPose, bounds BB, displacement mgl64.Vec3, visit func(IConvexShape, RigidPose, int)) {
	switch s := shape.(type) {
	case IConvexShape:
		visit(s, NewPoseIdentity(), -1)
	case ICompoundShape:
		local := rotatedBounds(bounds.Min, bounds.Max, pose.Inverse())
		s.FindLocalSweepOverlaps(local.Min, local.Max, pose.InverseApplyVector(displacement), ctx.Shapes, func(i int) {
			child, childPose := s.GetChild(i, ctx.Shapes)
			visit(child, childPose, i)
		})
	}
}

// boundsRadius is the distance from center to the furthest corner of bb.
func boundsRadius(bb BB, center mgl64.Vec3) float64 {
	return vmax(vabs(bb.Min.Sub(center)), vabs(bb.Max.Sub(center))).Len()
}
