package cm3

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// ContactConstraintPoint is one contact of a contact constraint, with the
// impulses accumulated for it during the last step.
type ContactConstraintPoint struct {
	// Offset from body A's position to the contact.
	Offset mgl64.Vec3
	// Normal points from A to B.
	Normal mgl64.Vec3
	// Depth is positive when penetrating and negative for speculative contacts.
	Depth           float64
	FeatureID       HashValue
	NormalImpulse   float64
	FrictionImpulse mgl64.Vec3
}

// ContactManifoldConstraint is the data shared by the four contact constraint types.
type ContactManifoldConstraint struct {
	Count    int
	Contacts [MaximumContacts]ContactConstraintPoint
	// OffsetB is B's position minus A's position.
	OffsetB  mgl64.Vec3
	Material PairMaterial
}

// TotalNormalImpulse sums the accumulated normal impulses.
func (c *ContactManifoldConstraint) TotalNormalImpulse() float64 {
	sum := 0.0
	for i := range c.Count {
		sum += c.Contacts[i].NormalImpulse
	}
	return sum
}

// ConvexOneBodyContact is a convex manifold between a body and a static or sleeping collidable.
type ConvexOneBodyContact struct{ ContactManifoldConstraint }

// ConvexTwoBodyContact is a convex manifold between two bodies.
type ConvexTwoBodyContact struct{ ContactManifoldConstraint }

// NonconvexOneBodyContact is a reduced compound or mesh manifold against a static.
type NonconvexOneBodyContact struct{ ContactManifoldConstraint }

// NonconvexTwoBodyContact is a reduced compound or mesh manifold between two bodies.
type NonconvexTwoBodyContact struct{ ContactManifoldConstraint }

func (ConvexOneBodyContact) ConstraintTypeID() int32    { return ConvexOneBodyContactTypeID }
func (ConvexTwoBodyContact) ConstraintTypeID() int32    { return ConvexTwoBodyContactTypeID }
func (NonconvexOneBodyContact) ConstraintTypeID() int32 { return NonconvexOneBodyContactTypeID }
func (NonconvexTwoBodyContact) ConstraintTypeID() int32 { return NonconvexTwoBodyContactTypeID }

// newContactDescription picks the contact constraint type for a manifold.
func newContactDescription(data ContactManifoldConstraint, convex, twoBody bool) ConstraintDescription {
	switch {
	case convex && twoBody:
		return ConvexTwoBodyContact{data}
	case convex:
		return ConvexOneBodyContact{data}
	case twoBody:
		return NonconvexTwoBodyContact{data}
	}
	return NonconvexOneBodyContact{data}
}

// contactData extracts the shared data of any contact description.
func contactData(desc ConstraintDescription) (*ContactManifoldConstraint, bool) {
	switch d := desc.(type) {
	case ConvexOneBodyContact:
		return &d.ContactManifoldConstraint, true
	case ConvexTwoBodyContact:
		return &d.ContactManifoldConstraint, true
	case NonconvexOneBodyContact:
		return &d.ContactManifoldConstraint, true
	case NonconvexTwoBodyContact:
		return &d.ContactManifoldConstraint, true
	}
	return nil, false
}

type contactPrestep struct {
	r1, r2, n, t1, t2      mgl64.Vec3
	nMass, t1Mass, t2Mass float64
	target                float64
}

type contactKernel struct {
	data  ContactManifoldConstraint
	steps [MaximumContacts]contactPrestep
}

func (k *contactKernel) preStep(ctx *stepContext, bodies []int32) {
	a, b := bodyPair(bodies)
	bias := biasCoef(ctx.collisionBias, ctx.dt)
	for i := range k.data.Count {
		con := &k.data.Contacts[i]
		p := &k.steps[i]
		p.r1 = con.Offset
		p.r2 = con.Offset.Sub(k.data.OffsetB)
		p.n = con.Normal
		p.t1, p.t2 = tangentBasis(p.n)

		p.nMass = 1 / kScalar(ctx, a, b, p.r1, p.r2, p.n)
		p.t1Mass = 1 / kScalar(ctx, a, b, p.r1, p.r2, p.t1)
		p.t2Mass = 1 / kScalar(ctx, a, b, p.r1, p.r2, p.t2)

		if con.Depth > 0 {
			p.target = math.Min(bias*math.Max(con.Depth-ctx.slop, 0)*ctx.inverseDt, k.data.Material.MaximumRecoveryVelocity)
			// bounce
			if e := k.data.Material.Restitution; e > 0 {
				vrn := relativeVelocity(ctx, a, b, p.r1, p.r2).Dot(p.n)
				p.target = math.Max(p.target, -e*vrn)
			}
		} else {
			// Speculative: allow the approach that exactly closes the gap.
			p.target = con.Depth * ctx.inverseDt
		}
	}
}

func (k *contactKernel) applyCachedImpulse(ctx *stepContext, bodies []int32) {
	a, b := bodyPair(bodies)
	for i := range k.data.Count {
		con := &k.data.Contacts[i]
		p := &k.steps[i]
		// Friction carried from the last frame may point out of the new tangent plane.
		con.FrictionImpulse = con.FrictionImpulse.Sub(p.n.Mul(con.FrictionImpulse.Dot(p.n)))
		applyImpulses(ctx, a, b, p.r1, p.r2, p.n.Mul(con.NormalImpulse).Add(con.FrictionImpulse))
	}
}

func (k *contactKernel) applyImpulse(ctx *stepContext, bodies []int32) {
	a, b := bodyPair(bodies)
	mu := k.data.Material.FrictionCoefficient
	for i := range k.data.Count {
		con := &k.data.Contacts[i]
		p := &k.steps[i]

		vrn := relativeVelocity(ctx, a, b, p.r1, p.r2).Dot(p.n)
		jn := (p.target - vrn) * p.nMass
		jnOld := con.NormalImpulse
		con.NormalImpulse = math.Max(jnOld+jn, 0)
		applyImpulses(ctx, a, b, p.r1, p.r2, p.n.Mul(con.NormalImpulse-jnOld))

		vr := relativeVelocity(ctx, a, b, p.r1, p.r2)
		jt := p.t1.Mul(-vr.Dot(p.t1) * p.t1Mass).Add(p.t2.Mul(-vr.Dot(p.t2) * p.t2Mass))
		jtOld := con.FrictionImpulse
		con.FrictionImpulse = clampMag(jtOld.Add(jt), mu*con.NormalImpulse)
		applyImpulses(ctx, a, b, p.r1, p.r2, con.FrictionImpulse.Sub(jtOld))
	}
}

func (k *contactKernel) impulse() float64 {
	return k.data.TotalNormalImpulse()
}

type convexOneBodyContactKernel struct{ contactKernel }

func (k *convexOneBodyContactKernel) description() ConstraintDescription {
	return ConvexOneBodyContact{k.data}
}

func (k *convexOneBodyContactKernel) setDescription(d ConstraintDescription) {
	k.data = d.(ConvexOneBodyContact).ContactManifoldConstraint
}

type convexTwoBodyContactKernel struct{ contactKernel }

func (k *convexTwoBodyContactKernel) description() ConstraintDescription {
	return ConvexTwoBodyContact{k.data}
}

func (k *convexTwoBodyContactKernel) setDescription(d ConstraintDescription) {
	k.data = d.(ConvexTwoBodyContact).ContactManifoldConstraint
}

type nonconvexOneBodyContactKernel struct{ contactKernel }

func (k *nonconvexOneBodyContactKernel) description() ConstraintDescription {
	return NonconvexOneBodyContact{k.data}
}

func (k *nonconvexOneBodyContactKernel) setDescription(d ConstraintDescription) {
	k.data = d.(NonconvexOneBodyContact).ContactManifoldConstraint
}

type nonconvexTwoBodyContactKernel struct{ contactKernel }

func (k *nonconvexTwoBodyContactKernel) description() ConstraintDescription {
	return NonconvexTwoBodyContact{k.data}
}

func (k *nonconvexTwoBodyContactKernel) setDescription(d ConstraintDescription) {
	k.data = d.(NonconvexTwoBodyContact).ContactManifoldConstraint
}
