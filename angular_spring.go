package cm3

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// AngularSpring pulls the orientation of B relative to A towards
// RestOrientation with a damped spring.
type AngularSpring struct {
	// RestOrientation is B's orientation in A's frame at rest.
	RestOrientation    mgl64.Quat
	Stiffness, Damping float64
	// SpringTorqueFunc maps the rotation vector taking the rest orientation to
	// B's orientation onto the torque acting on B. Nil means a linear spring.
	SpringTorqueFunc func(spring *AngularSpring, rotation mgl64.Vec3) mgl64.Vec3
}

func (AngularSpring) ConstraintTypeID() int32 { return AngularSpringTypeID }

func defaultAngularSpringTorque(spring *AngularSpring, rotation mgl64.Vec3) mgl64.Vec3 {
	return rotation.Mul(-spring.Stiffness)
}

// NewAngularSpring rests at the current relative orientation of the bodies.
func NewAngularSpring(poseA, poseB RigidPose, stiffness, damping float64) AngularSpring {
	return AngularSpring{
		RestOrientation: poseA.Orientation.Inverse().Mul(poseB.Orientation).Normalize(),
		Stiffness:       stiffness,
		Damping:         damping,
	}
}

// rotationVector returns the axis scaled by the angle of the shortest rotation q describes.
func rotationVector(q mgl64.Quat) mgl64.Vec3 {
	if q.W < 0 {
		q = q.Scale(-1)
	}
	s := q.V.Len()
	if s < 1e-12 {
		return q.V.Mul(2)
	}
	return q.V.Mul(2 * math.Atan2(s, q.W) / s)
}

type angularSpringKernel struct {
	desc AngularSpring

	targetWr mgl64.Vec3
	wCoef    float64
	iSum     mgl64.Mat3
	jAcc     mgl64.Vec3
}

func (spring *angularSpringKernel) description() ConstraintDescription { return spring.desc }

func (spring *angularSpringKernel) setDescription(d ConstraintDescription) {
	spring.desc = d.(AngularSpring)
}

func (spring *angularSpringKernel) preStep(ctx *stepContext, bodies []int32) {
	a, b := bodies[0], bodies[1]

	moment := ctx.inertias[a].InverseInertiaTensor.Add(ctx.inertias[b].InverseInertiaTensor)
	spring.iSum = mgl64.Mat3{}
	if moment.Det() != 0 {
		spring.iSum = moment.Inv()
	}

	// Damping sees the summed inverse inertia as isotropic.
	spring.wCoef = 1.0 - math.Exp(-spring.desc.Damping*ctx.dt*moment.Trace()/3)
	spring.targetWr = mgl64.Vec3{}

	rest := ctx.poses[a].Orientation.Mul(spring.desc.RestOrientation)
	rotation := rotationVector(ctx.poses[b].Orientation.Mul(rest.Inverse()))
	torque := spring.desc.SpringTorqueFunc
	if torque == nil {
		torque = defaultAngularSpringTorque
	}
	jSpring := torque(&spring.desc, rotation).Mul(ctx.dt)
	spring.jAcc = jSpring

	applyAngularImpulse(ctx, a, jSpring.Mul(-1))
	applyAngularImpulse(ctx, b, jSpring)
}

func (spring *angularSpringKernel) applyCachedImpulse(*stepContext, []int32) {
	// nothing to do here
}

func (spring *angularSpringKernel) applyImpulse(ctx *stepContext, bodies []int32) {
	a, b := bodies[0], bodies[1]

	wr := ctx.velocities[b].Angular.Sub(ctx.velocities[a].Angular)

	wDamp := spring.targetWr.Sub(wr).Mul(spring.wCoef)
	spring.targetWr = wr.Add(wDamp)

	jDamp := spring.iSum.Mul3x1(wDamp)
	spring.jAcc = spring.jAcc.Add(jDamp)

	applyAngularImpulse(ctx, a, jDamp.Mul(-1))
	applyAngularImpulse(ctx, b, jDamp)
}

func (spring *angularSpringKernel) impulse() float64 {
	return spring.jAcc.Len()
}
