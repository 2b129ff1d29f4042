package cm3

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// AngularAxisGear couples the spins of A and B about an axis fixed in A so
// that B turns Ratio times slower than A. Only velocities are constrained;
// the bodies may drift apart in phase.
type AngularAxisGear struct {
	LocalAxisA mgl64.Vec3
	Ratio      float64
	JointSettings
}

func (AngularAxisGear) ConstraintTypeID() int32 { return AngularAxisGearTypeID }

// NewAngularAxisGear gears B to A about a world space axis.
func NewAngularAxisGear(poseA RigidPose, axis mgl64.Vec3, ratio float64) AngularAxisGear {
	assert(ratio != 0, "cm3: gear ratio must not be zero")
	return AngularAxisGear{
		LocalAxisA:    poseA.InverseApplyVector(axis.Normalize()),
		Ratio:         ratio,
		JointSettings: DefaultJointSettings(),
	}
}

type angularAxisGearKernel struct {
	desc AngularAxisGear

	n        mgl64.Vec3
	ratioInv float64
	iSum     float64
	jAcc     float64
}

func (joint *angularAxisGearKernel) description() ConstraintDescription { return joint.desc }

func (joint *angularAxisGearKernel) setDescription(d ConstraintDescription) {
	joint.desc = d.(AngularAxisGear)
}

func (joint *angularAxisGearKernel) preStep(ctx *stepContext, bodies []int32) {
	a, b := bodies[0], bodies[1]
	ratio := joint.desc.Ratio
	joint.ratioInv = 1 / ratio
	joint.n = ctx.poses[a].ApplyVector(joint.desc.LocalAxisA)

	// calculate moment of inertia coefficient.
	momentA := joint.n.Dot(ctx.inertias[a].InverseInertiaTensor.Mul3x1(joint.n))
	momentB := joint.n.Dot(ctx.inertias[b].InverseInertiaTensor.Mul3x1(joint.n))
	joint.iSum = 0
	if k := momentA*joint.ratioInv + ratio*momentB; k != 0 {
		joint.iSum = 1 / k
	}
}

func (joint *angularAxisGearKernel) applyCachedImpulse(ctx *stepContext, bodies []int32) {
	joint.apply(ctx, bodies, joint.jAcc)
}

func (joint *angularAxisGearKernel) apply(ctx *stepContext, bodies []int32, j float64) {
	applyAngularImpulse(ctx, bodies[0], joint.n.Mul(-j*joint.ratioInv))
	applyAngularImpulse(ctx, bodies[1], joint.n.Mul(j))
}

func (joint *angularAxisGearKernel) applyImpulse(ctx *stepContext, bodies []int32) {
	a, b := bodies[0], bodies[1]

	// compute relative rotational velocity
	wr := ctx.velocities[b].Angular.Dot(joint.n)*joint.desc.Ratio - ctx.velocities[a].Angular.Dot(joint.n)

	jMax := joint.desc.MaxForce * ctx.dt

	j := -wr * joint.iSum
	jOld := joint.jAcc
	joint.jAcc = clamp(jOld+j, -jMax, jMax)
	joint.apply(ctx, bodies, joint.jAcc-jOld)
}

func (joint *angularAxisGearKernel) impulse() float64 {
	return math.Abs(joint.jAcc)
}
