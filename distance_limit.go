package cm3

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// DistanceLimit keeps the distance between two anchor points within [Min, Max].
type DistanceLimit struct {
	LocalOffsetA, LocalOffsetB mgl64.Vec3
	Min, Max                   float64
	JointSettings
}

func (DistanceLimit) ConstraintTypeID() int32 { return DistanceLimitTypeID }

// NewDistanceLimit limits the distance between local anchors of two bodies.
func NewDistanceLimit(anchorA, anchorB mgl64.Vec3, min, max float64) DistanceLimit {
	assert(min <= max, "cm3: distance limit min %v exceeds max %v", min, max)
	return DistanceLimit{
		LocalOffsetA:  anchorA,
		LocalOffsetB:  anchorB,
		Min:           min,
		Max:           max,
		JointSettings: DefaultJointSettings(),
	}
}

// NewDistanceJoint holds two anchors at their current distance.
func NewDistanceJoint(poseA, poseB RigidPose, anchorA, anchorB mgl64.Vec3) DistanceLimit {
	dist := poseB.Apply(anchorB).Sub(poseA.Apply(anchorA)).Len()
	return NewDistanceLimit(anchorA, anchorB, dist, dist)
}

type distanceLimitKernel struct {
	desc DistanceLimit

	r1, r2, n mgl64.Vec3
	nMass     float64

	jnAcc, bias float64
}

func (joint *distanceLimitKernel) description() ConstraintDescription { return joint.desc }

func (joint *distanceLimitKernel) setDescription(d ConstraintDescription) { joint.desc = d.(DistanceLimit) }

func (joint *distanceLimitKernel) preStep(ctx *stepContext, bodies []int32) {
	a, b := bodies[0], bodies[1]
	poseA, poseB := ctx.poses[a], ctx.poses[b]

	joint.r1 = poseA.ApplyVector(joint.desc.LocalOffsetA)
	joint.r2 = poseB.ApplyVector(joint.desc.LocalOffsetB)

	delta := poseB.Position.Add(joint.r2).Sub(poseA.Position.Add(joint.r1))
	dist := delta.Len()
	pdist := 0.0
	if dist > joint.desc.Max {
		pdist = dist - joint.desc.Max
		joint.n = safeNormalize(delta, unitY)
	} else if dist < joint.desc.Min {
		pdist = joint.desc.Min - dist
		joint.n = safeNormalize(delta, unitY).Mul(-1)
	} else {
		joint.n = mgl64.Vec3{}
		joint.jnAcc = 0
		return
	}

	// calculate the mass normal
	joint.nMass = 1.0 / kScalar(ctx, a, b, joint.r1, joint.r2, joint.n)

	// calculate bias velocity
	maxBias := joint.desc.MaxBias
	joint.bias = clamp(-biasCoef(joint.desc.ErrorBias, ctx.dt)*pdist*ctx.inverseDt, -maxBias, maxBias)
}

func (joint *distanceLimitKernel) applyCachedImpulse(ctx *stepContext, bodies []int32) {
	applyImpulses(ctx, bodies[0], bodies[1], joint.r1, joint.r2, joint.n.Mul(joint.jnAcc))
}

func (joint *distanceLimitKernel) applyImpulse(ctx *stepContext, bodies []int32) {
	if joint.n == (mgl64.Vec3{}) {
		return
	}
	a, b := bodies[0], bodies[1]

	vrn := relativeVelocity(ctx, a, b, joint.r1, joint.r2).Dot(joint.n)

	jn := (joint.bias - vrn) * joint.nMass
	jnOld := joint.jnAcc
	joint.jnAcc = clamp(jnOld+jn, -joint.desc.MaxForce*ctx.dt, 0)
	jn = joint.jnAcc - jnOld

	applyImpulses(ctx, a, b, joint.r1, joint.r2, joint.n.Mul(jn))
}

func (joint *distanceLimitKernel) impulse() float64 {
	return math.Abs(joint.jnAcc)
}
