package cm3

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// BodyHandle is the stable id of a body. It survives moves between memory slots and sets.
type BodyHandle int32

func (h BodyHandle) String() string {
	return fmt.Sprint("Body ", int32(h))
}

// BodyVelocity is the linear and angular velocity of a body.
type BodyVelocity struct {
	Linear  mgl64.Vec3
	Angular mgl64.Vec3
}

// BodyInertia holds inverse mass properties. A zero value describes a body of
// infinite mass that no impulse can move, which is how kinematic bodies are stored.
type BodyInertia struct {
	InverseMass          float64
	InverseInertiaTensor mgl64.Mat3
}

// IsKinematic reports whether the inertia is infinite.
func (i BodyInertia) IsKinematic() bool {
	return i.InverseMass == 0 && i.InverseInertiaTensor == mgl64.Mat3{}
}

// ContinuousDetectionMode selects how a collidable is protected against tunneling.
type ContinuousDetectionMode uint8

const (
	// Discrete collidables rely on speculative contacts only.
	Discrete ContinuousDetectionMode = iota
	// Continuous collidables run sweep tests against everything they may pass
	// through when they move further than the continuous threshold in a step.
	Continuous
)

// CollidableDescription describes the collision geometry of a body or static.
type CollidableDescription struct {
	Shape TypedIndex
	// SpeculativeMargin is the distance at which contacts start being generated.
	// Zero uses the simulation default.
	SpeculativeMargin float64
	Continuity        ContinuousDetectionMode
	Material          Material
	Filter            ShapeFilter
}

// NewCollidableDescription returns a description with the default material and filter.
func NewCollidableDescription(shape TypedIndex) CollidableDescription {
	return CollidableDescription{Shape: shape, Material: DefaultMaterial, Filter: ShapeFilterAll}
}

// Collidable is the stored collision state of a body or static.
type Collidable struct {
	CollidableDescription
	// BroadPhaseIndex is the collidable's leaf in the broad phase tree it currently lives in.
	BroadPhaseIndex int32
}

// BodyActivity tracks when a body may fall asleep.
type BodyActivity struct {
	// SleepThreshold is the speed below which the body counts as idle. Negative values keep the body awake.
	SleepThreshold float64
	IdleTime       float64
	Kinematic      bool
}

// BodyDescription holds everything needed to add a body.
type BodyDescription struct {
	Pose         RigidPose
	Velocity     BodyVelocity
	LocalInertia BodyInertia
	Collidable   CollidableDescription
	Activity     BodyActivity
}

// NewDynamicBodyDescription returns a description for a body that responds to forces and contacts.
func NewDynamicBodyDescription(pose RigidPose, inertia BodyInertia, shape TypedIndex) BodyDescription {
	return BodyDescription{
		Pose:         pose,
		LocalInertia: inertia,
		Collidable:   NewCollidableDescription(shape),
	}
}

// NewKinematicBodyDescription returns a description for a body moved only by its velocity.
func NewKinematicBodyDescription(pose RigidPose, velocity BodyVelocity, shape TypedIndex) BodyDescription {
	return BodyDescription{
		Pose:       pose,
		Velocity:   velocity,
		Collidable: NewCollidableDescription(shape),
		Activity:   BodyActivity{Kinematic: true, SleepThreshold: -1},
	}
}

// BodyMemoryLocation is where a body lives: the set (0 is active) and the slot in that set.
type BodyMemoryLocation struct {
	SetIndex int32
	Index    int32
}

// BodyConstraintReference links a body to one of its constraints.
type BodyConstraintReference struct {
	ConnectingConstraintHandle ConstraintHandle
	BodyIndexInConstraint      int32
}

// BodyReference is a convenience accessor for one body, valid until the body is removed.
type BodyReference struct {
	Handle BodyHandle
	sim    *Simulation
}

func (r BodyReference) location() (*BodySet, int32) {
	loc := r.sim.Bodies.HandleToLocation[r.Handle]
	return &r.sim.Bodies.Sets[loc.SetIndex], loc.Index
}

// Exists reports whether the handle still names a body.
func (r BodyReference) Exists() bool {
	return r.sim.Bodies.ValidHandle(r.Handle)
}

// Awake reports whether the body is in the active set.
func (r BodyReference) Awake() bool {
	return r.sim.Bodies.HandleToLocation[r.Handle].SetIndex == 0
}

// Pose returns the body's pose.
func (r BodyReference) Pose() RigidPose {
	set, index := r.location()
	return set.Poses[index]
}

// SetPose teleports the body and wakes it.
func (r BodyReference) SetPose(pose RigidPose) {
	r.sim.Awaken(r.Handle)
	set, index := r.location()
	set.Poses[index] = pose
}

// Position returns the body's position.
func (r BodyReference) Position() mgl64.Vec3 {
	return r.Pose().Position
}

// Velocity returns the body's velocity.
func (r BodyReference) Velocity() BodyVelocity {
	set, index := r.location()
	return set.Velocities[index]
}

// SetVelocity wakes the body and sets its velocity.
func (r BodyReference) SetVelocity(velocity BodyVelocity) {
	r.sim.Awaken(r.Handle)
	set, index := r.location()
	set.Velocities[index] = velocity
}

// LocalInertia returns the body's inertia in its local frame.
func (r BodyReference) LocalInertia() BodyInertia {
	set, index := r.location()
	return set.LocalInertias[index]
}

// Collidable returns the body's collidable.
func (r BodyReference) Collidable() Collidable {
	set, index := r.location()
	return set.Collidables[index]
}

// Constraints returns the constraints connected to the body.
func (r BodyReference) Constraints() []BodyConstraintReference {
	set, index := r.location()
	return set.Constraints[index]
}

// ApplyImpulse wakes the body and applies impulse at a world point.
func (r BodyReference) ApplyImpulse(impulse, worldPoint mgl64.Vec3) {
	r.sim.Awaken(r.Handle)
	set, index := r.location()
	inertia := set.LocalInertias[index]
	pose := set.Poses[index]
	world := rotateInertia(inertia.InverseInertiaTensor, pose.Orientation)
	vel := &set.Velocities[index]
	vel.Linear = vel.Linear.Add(impulse.Mul(inertia.InverseMass))
	vel.Angular = vel.Angular.Add(world.Mul3x1(worldPoint.Sub(pose.Position).Cross(impulse)))
}

// VelocityAtWorldPoint returns the velocity of the body's material at point.
func (r BodyReference) VelocityAtWorldPoint(point mgl64.Vec3) mgl64.Vec3 {
	set, index := r.location()
	vel := set.Velocities[index]
	return vel.Linear.Add(vel.Angular.Cross(point.Sub(set.Poses[index].Position)))
}

// KineticEnergy returns the body's kinetic energy.
func (r BodyReference) KineticEnergy() float64 {
	set, index := r.location()
	inertia := set.LocalInertias[index]
	if inertia.InverseMass == 0 {
		return 0
	}
	vel := set.Velocities[index]
	e := vel.Linear.Dot(vel.Linear) / inertia.InverseMass
	localW := set.Poses[index].InverseApplyVector(vel.Angular)
	if det := inertia.InverseInertiaTensor.Det(); det != 0 {
		e += localW.Dot(inertia.InverseInertiaTensor.Inv().Mul3x1(localW))
	}
	return 0.5 * e
}
