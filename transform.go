package cm3

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// RigidPose is a rigid transformation: a rotation followed by a translation.
//
// A point p in local space maps to world space as
//
//	p' = Orientation * p + Position
type RigidPose struct {
	Position    mgl64.Vec3
	Orientation mgl64.Quat
}

// NewPoseIdentity returns the identity pose.
func NewPoseIdentity() RigidPose {
	return RigidPose{Orientation: mgl64.QuatIdent()}
}

// NewPose returns a pose at position with the identity orientation.
func NewPose(position mgl64.Vec3) RigidPose {
	return RigidPose{Position: position, Orientation: mgl64.QuatIdent()}
}

// NewPoseRotate returns a pose rotated by angle (radians) around axis.
func NewPoseRotate(position mgl64.Vec3, angle float64, axis mgl64.Vec3) RigidPose {
	return RigidPose{Position: position, Orientation: mgl64.QuatRotate(angle, axis.Normalize())}
}

// Apply transforms a local point into world space.
func (t RigidPose) Apply(p mgl64.Vec3) mgl64.Vec3 {
	return t.Orientation.Rotate(p).Add(t.Position)
}

// ApplyVector rotates a local vector. Translation is ignored.
func (t RigidPose) ApplyVector(v mgl64.Vec3) mgl64.Vec3 {
	return t.Orientation.Rotate(v)
}

// Inverse returns the inverse of this pose.
func (t RigidPose) Inverse() RigidPose {
	inv := t.Orientation.Conjugate()
	return RigidPose{Position: inv.Rotate(t.Position.Mul(-1)), Orientation: inv}
}

// InverseApply transforms a world point into the local space of t.
func (t RigidPose) InverseApply(p mgl64.Vec3) mgl64.Vec3 {
	return t.Orientation.Conjugate().Rotate(p.Sub(t.Position))
}

// InverseApplyVector rotates a world vector into the local space of t.
func (t RigidPose) InverseApplyVector(v mgl64.Vec3) mgl64.Vec3 {
	return t.Orientation.Conjugate().Rotate(v)
}

// Mult composes the poses: the result applies t2 first, then t.
func (t RigidPose) Mult(t2 RigidPose) RigidPose {
	return RigidPose{
		Position:    t.Apply(t2.Position),
		Orientation: t.Orientation.Mul(t2.Orientation).Normalize(),
	}
}

// RelativeTo returns t expressed in the local space of other.
func (t RigidPose) RelativeTo(other RigidPose) RigidPose {
	return other.Inverse().Mult(t)
}

// Integrate advances the pose by velocity over dt.
func (t RigidPose) Integrate(velocity BodyVelocity, dt float64) RigidPose {
	return RigidPose{
		Position:    t.Position.Add(velocity.Linear.Mul(dt)),
		Orientation: integrateOrientation(t.Orientation, velocity.Angular, dt),
	}
}

// integrateOrientation rotates q by the angular velocity w over dt using the
// exact axis-angle step.
func integrateOrientation(q mgl64.Quat, w mgl64.Vec3, dt float64) mgl64.Quat {
	speed := w.Len()
	if speed < 1e-12 {
		return q
	}
	angle := speed * dt
	axis := w.Mul(1 / speed)
	half := angle * 0.5
	dq := mgl64.Quat{W: math.Cos(half), V: axis.Mul(math.Sin(half))}
	return dq.Mul(q).Normalize()
}

func matrixFromQuat(q mgl64.Quat) mgl64.Mat3 {
	return mgl64.Mat3FromCols(
		q.Rotate(mgl64.Vec3{1, 0, 0}),
		q.Rotate(mgl64.Vec3{0, 1, 0}),
		q.Rotate(mgl64.Vec3{0, 0, 1}),
	)
}

// rotateInertia returns R * I * R^T.
func rotateInertia(local mgl64.Mat3, q mgl64.Quat) mgl64.Mat3 {
	r := matrixFromQuat(q)
	return r.Mul3(local).Mul3(r.Transpose())
}
