package cm3

import "github.com/go-gl/mathgl/mgl64"

// PointOnLineServo keeps a point of B on a segment fixed in A. The point
// slides freely between the ends of the segment.
type PointOnLineServo struct {
	LocalStartA, LocalEndA mgl64.Vec3
	LocalOffsetB           mgl64.Vec3
	JointSettings
}

func (PointOnLineServo) ConstraintTypeID() int32 { return PointOnLineServoTypeID }

// NewPointOnLineServo runs a world space segment through A and anchors B at a
// world point.
func NewPointOnLineServo(poseA, poseB RigidPose, start, end, anchor mgl64.Vec3) PointOnLineServo {
	assert(end.Sub(start).LenSqr() > 0, "cm3: point on line servo needs a segment of nonzero length")
	return PointOnLineServo{
		LocalStartA:   poseA.InverseApply(start),
		LocalEndA:     poseA.InverseApply(end),
		LocalOffsetB:  poseB.InverseApply(anchor),
		JointSettings: DefaultJointSettings(),
	}
}

type pointOnLineServoKernel struct {
	desc PointOnLineServo

	direction mgl64.Vec3
	// clamp is 1 at the start of the segment, -1 at its end and 0 between.
	clamp  float64
	r1, r2 mgl64.Vec3
	k      mgl64.Mat3

	jAcc, bias mgl64.Vec3
}

func (joint *pointOnLineServoKernel) description() ConstraintDescription { return joint.desc }

func (joint *pointOnLineServoKernel) setDescription(d ConstraintDescription) {
	joint.desc = d.(PointOnLineServo)
}

func (joint *pointOnLineServoKernel) preStep(ctx *stepContext, bodies []int32) {
	a, b := bodies[0], bodies[1]
	poseA, poseB := ctx.poses[a], ctx.poses[b]

	ta := poseA.Apply(joint.desc.LocalStartA)
	tb := poseA.Apply(joint.desc.LocalEndA)
	length := tb.Sub(ta).Len()
	joint.direction = tb.Sub(ta).Mul(1 / length)
	joint.r2 = poseB.ApplyVector(joint.desc.LocalOffsetB)

	anchor := poseB.Position.Add(joint.r2)
	switch td := anchor.Sub(ta).Dot(joint.direction); {
	case td <= 0:
		joint.clamp = 1
		joint.r1 = ta.Sub(poseA.Position)
	case td >= length:
		joint.clamp = -1
		joint.r1 = tb.Sub(poseA.Position)
	default:
		joint.clamp = 0
		joint.r1 = ta.Add(joint.direction.Mul(td)).Sub(poseA.Position)
	}

	joint.k = kTensor(ctx, a, b, joint.r1, joint.r2)

	delta := anchor.Sub(poseA.Position.Add(joint.r1))
	joint.bias = clampMag(delta.Mul(-biasCoef(joint.desc.ErrorBias, ctx.dt)*ctx.inverseDt), joint.desc.MaxBias)
}

func (joint *pointOnLineServoKernel) applyCachedImpulse(ctx *stepContext, bodies []int32) {
	applyImpulses(ctx, bodies[0], bodies[1], joint.r1, joint.r2, joint.jAcc)
}

// constrain drops the part of j along the segment unless it pushes B back
// inside from an end.
func (joint *pointOnLineServoKernel) constrain(j mgl64.Vec3, dt float64) mgl64.Vec3 {
	if along := j.Dot(joint.direction); joint.clamp*along <= 0 {
		j = j.Sub(joint.direction.Mul(along))
	}
	return clampMag(j, joint.desc.MaxForce*dt)
}

func (joint *pointOnLineServoKernel) applyImpulse(ctx *stepContext, bodies []int32) {
	a, b := bodies[0], bodies[1]

	vr := relativeVelocity(ctx, a, b, joint.r1, joint.r2)

	j := joint.k.Mul3x1(joint.bias.Sub(vr))
	jOld := joint.jAcc
	joint.jAcc = joint.constrain(jOld.Add(j), ctx.dt)
	j = joint.jAcc.Sub(jOld)

	applyImpulses(ctx, a, b, joint.r1, joint.r2, j)
}

func (joint *pointOnLineServoKernel) impulse() float64 {
	return joint.jAcc.Len()
}
