package cm3

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

const (
	infinity     float64 = math.MaxFloat64
	magicEpsilon float64 = 1e-5

	// MaximumContacts is the contact capacity of one manifold.
	MaximumContacts = 4
	// MaximumSwapsPerBody bounds the layout optimizer's work for a single body.
	MaximumSwapsPerBody = 32
)

const (
	// Value for group signifying that a collidable is in no group.
	NoGroup uint = 0
	// Value for collidable categories signifying that it is in every category.
	AllCategories uint = ^uint(0)
)

// ShapeFilterAll is a collision filter value for a collidable that will collide with
// anything except ShapeFilterNone.
var ShapeFilterAll = ShapeFilter{NoGroup, AllCategories, AllCategories}

// ShapeFilterNone is a collision filter value for a collidable that does not collide
// with anything.
var ShapeFilterNone = ShapeFilter{NoGroup, ^AllCategories, ^AllCategories}

// ShapeFilter is fast collision filtering type that is used to determine if two collidables
// collide before any narrow phase work is done.
type ShapeFilter struct {
	// Two objects with the same non-zero group value do not collide.
	// This is generally used to group objects in a composite object together to disable self collisions.
	Group uint
	// A bitmask of user definable categories that this object belongs to.
	Categories uint
	// A bitmask of user definable category types that this object object collides with.
	Mask uint
}

// Reject checks whether two ShapeFilter objects should be considered incompatible.
// It returns true if both filters belong to the same non-zero group, or if the
// category/mask combination of either filter does not match the other.
func (sf ShapeFilter) Reject(other ShapeFilter) bool {
	return (sf.Group != 0 && sf.Group == other.Group) ||
		(sf.Categories&other.Mask) == 0 ||
		(other.Categories&sf.Mask) == 0
}

// Material describes the surface of a collidable.
type Material struct {
	Friction float64
	// Elasticity of the surface. 0 gives no bounce, 1 a perfect bounce.
	Elasticity float64
}

// DefaultMaterial is applied to collidables created without a material.
var DefaultMaterial = Material{Friction: 0.7, Elasticity: 0}

// PairMaterial is the combined material of a contact manifold.
type PairMaterial struct {
	FrictionCoefficient     float64
	Restitution             float64
	MaximumRecoveryVelocity float64
}

// combineMaterials multiplies coefficients.
func combineMaterials(a, b Material, maximumRecoveryVelocity float64) PairMaterial {
	return PairMaterial{
		FrictionCoefficient:     a.Friction * b.Friction,
		Restitution:             a.Elasticity * b.Elasticity,
		MaximumRecoveryVelocity: maximumRecoveryVelocity,
	}
}

// HashValue is used for contact feature ids and pair hashing.
type HashValue uint32

const hashCoef = 3344921057

// HashPair mixes two hash values.
func HashPair(a, b HashValue) HashValue {
	return a*hashCoef ^ b*hashCoef
}

// assert panics with a formatted message when cond is false and debug checks are enabled.
func assert(cond bool, format string, args ...any) {
	if debugChecks && !cond {
		panic(fmt.Sprintf(format, args...))
	}
}

func biasCoef(errorBias, dt float64) float64 {
	return 1.0 - math.Pow(errorBias, dt)
}

func clamp(f, min, max float64) float64 {
	if f > min {
		return math.Min(f, max)
	} else {
		return math.Min(min, max)
	}
}

func clamp01(f float64) float64 {
	return math.Max(0, math.Min(f, 1))
}

func vmin(a, b mgl64.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{math.Min(a[0], b[0]), math.Min(a[1], b[1]), math.Min(a[2], b[2])}
}

func vmax(a, b mgl64.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{math.Max(a[0], b[0]), math.Max(a[1], b[1]), math.Max(a[2], b[2])}
}

func vabs(a mgl64.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{math.Abs(a[0]), math.Abs(a[1]), math.Abs(a[2])}
}

func vscale(a, b mgl64.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{a[0] * b[0], a[1] * b[1], a[2] * b[2]}
}

// safeNormalize returns fallback for near zero vectors.
func safeNormalize(v, fallback mgl64.Vec3) mgl64.Vec3 {
	l := v.Len()
	if l < 1e-12 {
		return fallback
	}
	return v.Mul(1 / l)
}

// clampMag clamps this vector magnitude to m.
func clampMag(v mgl64.Vec3, m float64) mgl64.Vec3 {
	if v.Dot(v) > m*m {
		return v.Normalize().Mul(m)
	}
	return v
}

// tangentBasis builds two unit vectors perpendicular to n and to each other.
func tangentBasis(n mgl64.Vec3) (t1, t2 mgl64.Vec3) {
	if math.Abs(n[0]) > 0.57735 {
		t1 = mgl64.Vec3{n[1], -n[0], 0}
	} else {
		t1 = mgl64.Vec3{0, n[2], -n[1]}
	}
	t1 = t1.Normalize()
	t2 = n.Cross(t1)
	return
}

// skew returns the cross product matrix of v, so skew(v) * x == v x x.
func skew(v mgl64.Vec3) mgl64.Mat3 {
	return mgl64.Mat3{
		0, v[2], -v[1],
		-v[2], 0, v[0],
		v[1], -v[0], 0,
	}
}

func closestPointOnSegment(p, a, b mgl64.Vec3) (mgl64.Vec3, float64) {
	ab := b.Sub(a)
	denom := ab.LenSqr()
	if denom < 1e-18 {
		return a, 0
	}
	t := clamp01(p.Sub(a).Dot(ab) / denom)
	return a.Add(ab.Mul(t)), t
}

// closestPointsBetweenSegments returns the parameters s, t of the closest points
// p1 + s*d1 and p2 + t*d2.
func closestPointsBetweenSegments(p1, q1, p2, q2 mgl64.Vec3) (s, t float64) {
	d1 := q1.Sub(p1)
	d2 := q2.Sub(p2)
	r := p1.Sub(p2)
	a := d1.LenSqr()
	e := d2.LenSqr()
	f := d2.Dot(r)
	if a <= 1e-18 && e <= 1e-18 {
		return 0, 0
	}
	if a <= 1e-18 {
		return 0, clamp01(f / e)
	}
	c := d1.Dot(r)
	if e <= 1e-18 {
		return clamp01(-c / a), 0
	}
	b := d1.Dot(d2)
	denom := a*e - b*b
	if denom > 1e-18 {
		s = clamp01((b*f - c*e) / denom)
	}
	t = (b*s + f) / e
	if t < 0 {
		t = 0
		s = clamp01(-c / a)
	} else if t > 1 {
		t = 1
		s = clamp01((b - c) / a)
	}
	return
}

// DebugInfo returns a summary of the simulation state.
func DebugInfo(sim *Simulation) string {
	active := sim.Bodies.ActiveSet()
	var ke float64
	for i := range active.Count() {
		inertia := active.LocalInertias[i]
		if inertia.InverseMass == 0 {
			continue
		}
		vel := active.Velocities[i]
		ke += vel.Linear.Dot(vel.Linear) / inertia.InverseMass
	}
	constraints := 0
	for _, batch := range sim.Solver.Batches {
		for i := range batch.TypeBatches {
			constraints += batch.TypeBatches[i].Count()
		}
	}
	return fmt.Sprintf(`Bodies: %d active, %d sets - Statics: %d
Pairs: %d - Constraints: %d in %d batches, Iterations: %d
Linear KE: %e`, active.Count(), sim.Bodies.SetCount(), sim.Statics.Count(),
		sim.NarrowPhase.PairCache.Count(), constraints, len(sim.Solver.Batches), sim.Solver.Iterations, ke)
}
