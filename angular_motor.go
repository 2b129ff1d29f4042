package cm3

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// AngularMotor drives the angular velocity of B relative to A towards TargetVelocity.
type AngularMotor struct {
	TargetVelocity mgl64.Vec3
	MaxForce       float64
}

func (AngularMotor) ConstraintTypeID() int32 { return AngularMotorTypeID }

// NewAngularMotor returns a motor with unlimited torque.
func NewAngularMotor(targetVelocity mgl64.Vec3) AngularMotor {
	return AngularMotor{TargetVelocity: targetVelocity, MaxForce: math.Inf(1)}
}

type angularMotorKernel struct {
	desc AngularMotor

	iSum mgl64.Mat3
	jAcc mgl64.Vec3
}

func (motor *angularMotorKernel) description() ConstraintDescription { return motor.desc }

func (motor *angularMotorKernel) setDescription(d ConstraintDescription) { motor.desc = d.(AngularMotor) }

func (motor *angularMotorKernel) preStep(ctx *stepContext, bodies []int32) {
	moment := ctx.inertias[bodies[0]].InverseInertiaTensor.Add(ctx.inertias[bodies[1]].InverseInertiaTensor)
	if moment.Det() == 0 {
		motor.iSum = mgl64.Mat3{}
		return
	}
	motor.iSum = moment.Inv()
}

func (motor *angularMotorKernel) applyCachedImpulse(ctx *stepContext, bodies []int32) {
	applyAngularImpulse(ctx, bodies[0], motor.jAcc.Mul(-1))
	applyAngularImpulse(ctx, bodies[1], motor.jAcc)
}

func (motor *angularMotorKernel) applyImpulse(ctx *stepContext, bodies []int32) {
	a, b := bodies[0], bodies[1]

	// compute relative rotational velocity
	wr := ctx.velocities[b].Angular.Sub(ctx.velocities[a].Angular).Sub(motor.desc.TargetVelocity)

	j := motor.iSum.Mul3x1(wr).Mul(-1)
	jOld := motor.jAcc
	motor.jAcc = clampMag(jOld.Add(j), motor.desc.MaxForce*ctx.dt)
	j = motor.jAcc.Sub(jOld)

	applyAngularImpulse(ctx, a, j.Mul(-1))
	applyAngularImpulse(ctx, b, j)
}

func (motor *angularMotorKernel) impulse() float64 {
	return motor.jAcc.Len()
}
