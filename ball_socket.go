package cm3

import "github.com/go-gl/mathgl/mgl64"

// BallSocket pins a point of body A to a point of body B.
type BallSocket struct {
	LocalOffsetA, LocalOffsetB mgl64.Vec3
	JointSettings
}

func (BallSocket) ConstraintTypeID() int32 { return BallSocketTypeID }

// NewBallSocket joins two bodies at a world space pivot.
func NewBallSocket(poseA, poseB RigidPose, pivot mgl64.Vec3) BallSocket {
	return BallSocket{
		LocalOffsetA:  poseA.InverseApply(pivot),
		LocalOffsetB:  poseB.InverseApply(pivot),
		JointSettings: DefaultJointSettings(),
	}
}

type ballSocketKernel struct {
	desc BallSocket

	r1, r2 mgl64.Vec3
	k      mgl64.Mat3

	jAcc, bias mgl64.Vec3
}

func (joint *ballSocketKernel) description() ConstraintDescription { return joint.desc }

func (joint *ballSocketKernel) setDescription(d ConstraintDescription) { joint.desc = d.(BallSocket) }

func (joint *ballSocketKernel) preStep(ctx *stepContext, bodies []int32) {
	a, b := bodies[0], bodies[1]
	poseA, poseB := ctx.poses[a], ctx.poses[b]

	joint.r1 = poseA.ApplyVector(joint.desc.LocalOffsetA)
	joint.r2 = poseB.ApplyVector(joint.desc.LocalOffsetB)

	// Calculate mass tensor
	joint.k = kTensor(ctx, a, b, joint.r1, joint.r2)

	// calculate bias velocity
	delta := poseB.Position.Add(joint.r2).Sub(poseA.Position.Add(joint.r1))
	joint.bias = clampMag(delta.Mul(-biasCoef(joint.desc.ErrorBias, ctx.dt)*ctx.inverseDt), joint.desc.MaxBias)
}

func (joint *ballSocketKernel) applyCachedImpulse(ctx *stepContext, bodies []int32) {
	applyImpulses(ctx, bodies[0], bodies[1], joint.r1, joint.r2, joint.jAcc)
}

func (joint *ballSocketKernel) applyImpulse(ctx *stepContext, bodies []int32) {
	a, b := bodies[0], bodies[1]

	vr := relativeVelocity(ctx, a, b, joint.r1, joint.r2)

	j := joint.k.Mul3x1(joint.bias.Sub(vr))
	jOld := joint.jAcc
	joint.jAcc = clampMag(joint.jAcc.Add(j), joint.desc.MaxForce*ctx.dt)
	j = joint.jAcc.Sub(jOld)

	applyImpulses(ctx, a, b, joint.r1, joint.r2, j)
}

func (joint *ballSocketKernel) impulse() float64 {
	return joint.jAcc.Len()
}
