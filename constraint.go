package cm3

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// ConstraintHandle is the stable id of a constraint.
type ConstraintHandle int32

func (h ConstraintHandle) String() string {
	return fmt.Sprint("Constraint ", int32(h))
}

// ConstraintLocation is where a constraint lives. Active constraints (SetIndex 0)
// are addressed by batch, type and slot; sleeping ones by their slot in the
// set's sleeping list. Freed handles have SetIndex -1.
type ConstraintLocation struct {
	SetIndex         int32
	BatchIndex       int32
	TypeID           int32
	IndexInTypeBatch int32
}

// ConstraintDescription is the user facing data of one constraint type.
type ConstraintDescription interface {
	ConstraintTypeID() int32
}

// Built in constraint type ids.
const (
	ConvexOneBodyContactTypeID int32 = iota
	ConvexTwoBodyContactTypeID
	NonconvexOneBodyContactTypeID
	NonconvexTwoBodyContactTypeID
	BallSocketTypeID
	DistanceLimitTypeID
	AngularMotorTypeID
	OneBodyLinearServoTypeID
	AngularSpringTypeID
	AngularAxisGearTypeID
	PointOnLineServoTypeID
	builtinConstraintTypeCount
)

// stepContext is the per step state shared by every constraint kernel.
type stepContext struct {
	dt, inverseDt float64
	poses         []RigidPose
	velocities    []BodyVelocity
	inertias      []BodyInertia
	// contact settings
	slop, collisionBias float64
}

// constraintKernel is the solver side of a constraint type. Kernels read and
// write only the bodies listed for them, which is what makes every constraint
// of a batch safe to run concurrently.
type constraintKernel[T any] interface {
	*T
	description() ConstraintDescription
	setDescription(ConstraintDescription)
	preStep(ctx *stepContext, bodies []int32)
	applyCachedImpulse(ctx *stepContext, bodies []int32)
	applyImpulse(ctx *stepContext, bodies []int32)
	impulse() float64
}

// constraintStorage holds the kernels of one type batch.
type constraintStorage interface {
	count() int
	add(desc ConstraintDescription) int32
	removeAt(index int32)
	description(index int32) ConstraintDescription
	setDescription(index int32, desc ConstraintDescription)
	impulse(index int32) float64
	preStep(ctx *stepContext, start, end int, bodies []int32, stride int)
	applyCachedImpulse(ctx *stepContext, start, end int, bodies []int32, stride int)
	applyImpulse(ctx *stepContext, start, end int, bodies []int32, stride int)
}

type kernelStorage[T any, PT constraintKernel[T]] struct {
	items []T
}

func (s *kernelStorage[T, PT]) count() int {
	return len(s.items)
}

func (s *kernelStorage[T, PT]) add(desc ConstraintDescription) int32 {
	var item T
	PT(&item).setDescription(desc)
	s.items = append(s.items, item)
	return int32(len(s.items) - 1)
}

func (s *kernelStorage[T, PT]) removeAt(index int32) {
	last := len(s.items) - 1
	s.items[index] = s.items[last]
	var zero T
	s.items[last] = zero
	s.items = s.items[:last]
}

func (s *kernelStorage[T, PT]) description(index int32) ConstraintDescription {
	return PT(&s.items[index]).description()
}

func (s *kernelStorage[T, PT]) setDescription(index int32, desc ConstraintDescription) {
	PT(&s.items[index]).setDescription(desc)
}

func (s *kernelStorage[T, PT]) impulse(index int32) float64 {
	return PT(&s.items[index]).impulse()
}

func (s *kernelStorage[T, PT]) preStep(ctx *stepContext, start, end int, bodies []int32, stride int) {
	for i := start; i < end; i++ {
		PT(&s.items[i]).preStep(ctx, bodies[i*stride:(i+1)*stride])
	}
}

func (s *kernelStorage[T, PT]) applyCachedImpulse(ctx *stepContext, start, end int, bodies []int32, stride int) {
	for i := start; i < end; i++ {
		PT(&s.items[i]).applyCachedImpulse(ctx, bodies[i*stride:(i+1)*stride])
	}
}

func (s *kernelStorage[T, PT]) applyImpulse(ctx *stepContext, start, end int, bodies []int32, stride int) {
	for i := start; i < end; i++ {
		PT(&s.items[i]).applyImpulse(ctx, bodies[i*stride:(i+1)*stride])
	}
}

// TypeProcessor describes a constraint type to the solver.
type TypeProcessor interface {
	TypeID() int32
	BodiesPerConstraint() int
	newStorage() constraintStorage
}

type typeProcessor[T any, PT constraintKernel[T]] struct {
	typeID int32
	bodies int
}

// NewTypeProcessor returns the processor for kernel type T.
func NewTypeProcessor[T any, PT constraintKernel[T]](typeID int32, bodiesPerConstraint int) TypeProcessor {
	return typeProcessor[T, PT]{typeID: typeID, bodies: bodiesPerConstraint}
}

func (p typeProcessor[T, PT]) TypeID() int32 { return p.typeID }

func (p typeProcessor[T, PT]) BodiesPerConstraint() int { return p.bodies }

func (p typeProcessor[T, PT]) newStorage() constraintStorage {
	return &kernelStorage[T, PT]{}
}

// Velocity helpers shared by the kernels. An index of -1 is the immovable world.

func (ctx *stepContext) bodyVelocity(index int32, r mgl64.Vec3) mgl64.Vec3 {
	if index < 0 {
		return mgl64.Vec3{}
	}
	vel := &ctx.velocities[index]
	return vel.Linear.Add(vel.Angular.Cross(r))
}

func relativeVelocity(ctx *stepContext, a, b int32, r1, r2 mgl64.Vec3) mgl64.Vec3 {
	return ctx.bodyVelocity(b, r2).Sub(ctx.bodyVelocity(a, r1))
}

func applyImpulse(ctx *stepContext, index int32, r, j mgl64.Vec3) {
	if index < 0 {
		return
	}
	inertia := &ctx.inertias[index]
	vel := &ctx.velocities[index]
	vel.Linear = vel.Linear.Add(j.Mul(inertia.InverseMass))
	vel.Angular = vel.Angular.Add(inertia.InverseInertiaTensor.Mul3x1(r.Cross(j)))
}

// applyImpulses pushes A by -j and B by j.
func applyImpulses(ctx *stepContext, a, b int32, r1, r2, j mgl64.Vec3) {
	applyImpulse(ctx, a, r1, j.Mul(-1))
	applyImpulse(ctx, b, r2, j)
}

func applyAngularImpulse(ctx *stepContext, index int32, j mgl64.Vec3) {
	if index < 0 {
		return
	}
	vel := &ctx.velocities[index]
	vel.Angular = vel.Angular.Add(ctx.inertias[index].InverseInertiaTensor.Mul3x1(j))
}

// kScalarBody is the effective inverse mass of one body at offset r along n.
func kScalarBody(ctx *stepContext, index int32, r, n mgl64.Vec3) float64 {
	if index < 0 {
		return 0
	}
	inertia := &ctx.inertias[index]
	rcn := r.Cross(n)
	return inertia.InverseMass + rcn.Dot(inertia.InverseInertiaTensor.Mul3x1(rcn))
}

func kScalar(ctx *stepContext, a, b int32, r1, r2, n mgl64.Vec3) float64 {
	value := kScalarBody(ctx, a, r1, n) + kScalarBody(ctx, b, r2, n)
	assert(value != 0, "cm3: unsolvable constraint")
	return value
}

func kTensorBody(ctx *stepContext, index int32, r mgl64.Vec3) mgl64.Mat3 {
	if index < 0 {
		return mgl64.Mat3{}
	}
	inertia := &ctx.inertias[index]
	s := skew(r)
	k := mgl64.Ident3().Mul(inertia.InverseMass)
	return k.Sub(s.Mul3(inertia.InverseInertiaTensor).Mul3(s))
}

// kTensor returns the inverse of the point mass matrix of a two point coupling.
func kTensor(ctx *stepContext, a, b int32, r1, r2 mgl64.Vec3) mgl64.Mat3 {
	k := kTensorBody(ctx, a, r1).Add(kTensorBody(ctx, b, r2))
	det := k.Det()
	assert(det != 0, "cm3: unsolvable constraint")
	if det == 0 {
		return mgl64.Mat3{}
	}
	return k.Inv()
}

// bodyPair splits a kernel's body list into A and B, B being -1 for one body constraints.
func bodyPair(bodies []int32) (int32, int32) {
	if len(bodies) == 1 {
		return bodies[0], -1
	}
	return bodies[0], bodies[1]
}
