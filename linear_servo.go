package cm3

import "github.com/go-gl/mathgl/mgl64"

// OneBodyLinearServo pulls a point of a body towards a world space target,
// like dragging the body with a mouse.
type OneBodyLinearServo struct {
	LocalOffset mgl64.Vec3
	Target      mgl64.Vec3
	JointSettings
}

func (OneBodyLinearServo) ConstraintTypeID() int32 { return OneBodyLinearServoTypeID }

// NewOneBodyLinearServo grabs the body at a world point and holds it there.
func NewOneBodyLinearServo(pose RigidPose, grab mgl64.Vec3) OneBodyLinearServo {
	return OneBodyLinearServo{
		LocalOffset:   pose.InverseApply(grab),
		Target:        grab,
		JointSettings: DefaultJointSettings(),
	}
}

type oneBodyLinearServoKernel struct {
	desc OneBodyLinearServo

	r    mgl64.Vec3
	k    mgl64.Mat3
	bias mgl64.Vec3
	jAcc mgl64.Vec3
}

func (servo *oneBodyLinearServoKernel) description() ConstraintDescription { return servo.desc }

func (servo *oneBodyLinearServoKernel) setDescription(d ConstraintDescription) {
	servo.desc = d.(OneBodyLinearServo)
}

func (servo *oneBodyLinearServoKernel) preStep(ctx *stepContext, bodies []int32) {
	a := bodies[0]
	pose := ctx.poses[a]
	servo.r = pose.ApplyVector(servo.desc.LocalOffset)
	servo.k = kTensor(ctx, a, -1, servo.r, mgl64.Vec3{})

	// The target plays body B.
	delta := servo.desc.Target.Sub(pose.Position.Add(servo.r))
	servo.bias = clampMag(delta.Mul(-biasCoef(servo.desc.ErrorBias, ctx.dt)*ctx.inverseDt), servo.desc.MaxBias)
}

func (servo *oneBodyLinearServoKernel) applyCachedImpulse(ctx *stepContext, bodies []int32) {
	applyImpulses(ctx, bodies[0], -1, servo.r, mgl64.Vec3{}, servo.jAcc)
}

func (servo *oneBodyLinearServoKernel) applyImpulse(ctx *stepContext, bodies []int32) {
	a := bodies[0]
	vr := relativeVelocity(ctx, a, -1, servo.r, mgl64.Vec3{})

	j := servo.k.Mul3x1(servo.bias.Sub(vr))
	jOld := servo.jAcc
	servo.jAcc = clampMag(servo.jAcc.Add(j), servo.desc.MaxForce*ctx.dt)
	j = servo.jAcc.Sub(jOld)

	applyImpulses(ctx, a, -1, servo.r, mgl64.Vec3{}, j)
}

func (servo *oneBodyLinearServoKernel) impulse() float64 {
	return servo.jAcc.Len()
}
