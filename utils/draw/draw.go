// Package draw renders a cm3 simulation through a 2D drawing backend by
// projecting it onto one of the coordinate planes.
package draw

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/setanarut/cm3"
	"github.com/setanarut/vec"
)

// Draw flags
const (
	DrawShapes          = 1 << 0
	DrawConstraints     = 1 << 1
	DrawCollisionPoints = 1 << 2
)

// silhouetteSides is the number of support directions sampled to outline a convex shape.
const silhouetteSides = 16

// 16 bytes
type FColor struct {
	R, G, B, A float32
}

// Drawer is a 2D backend. Positions and radii are already projected.
type Drawer interface {
	DrawCircle(pos vec.Vec2, radius float64, outline, fill FColor, data any)
	DrawSegment(a, b vec.Vec2, fill FColor, data any)
	DrawFatSegment(a, b vec.Vec2, radius float64, outline, fill FColor, data any)
	DrawPolygon(verts []vec.Vec2, radius float64, outline, fill FColor, data any)
	DrawDot(size float64, pos vec.Vec2, fill FColor, data any)

	Flags() uint
	OutlineColor() FColor
	ShapeColor(ref cm3.CollidableReference, data any) FColor
	ConstraintColor() FColor
	CollisionPointColor() FColor
	Data() any
}

// Plane selects the two world axes mapped to screen X and Y.
type Plane uint8

const (
	PlaneXY Plane = iota
	PlaneXZ
	PlaneZY
)

// Projection maps world space to the drawer's 2D space.
type Projection struct {
	Plane  Plane
	Scale  float64
	Offset vec.Vec2
}

// NewProjection returns a projection onto plane with the given scale and no offset.
func NewProjection(plane Plane, scale float64) Projection {
	return Projection{Plane: plane, Scale: scale}
}

func (p Projection) axes() (u, v mgl64.Vec3) {
	switch p.Plane {
	case PlaneXZ:
		return mgl64.Vec3{1, 0, 0}, mgl64.Vec3{0, 0, 1}
	case PlaneZY:
		return mgl64.Vec3{0, 0, 1}, mgl64.Vec3{0, 1, 0}
	}
	return mgl64.Vec3{1, 0, 0}, mgl64.Vec3{0, 1, 0}
}

// Point projects a world position.
func (p Projection) Point(w mgl64.Vec3) vec.Vec2 {
	return p.Vector(w).Add(p.Offset)
}

// Vector projects a world direction, ignoring Offset.
func (p Projection) Vector(w mgl64.Vec3) vec.Vec2 {
	u, v := p.axes()
	return vec.Vec2{X: w.Dot(u) * p.Scale, Y: w.Dot(v) * p.Scale}
}

// Length scales a world distance.
func (p Projection) Length(l float64) float64 {
	return l * p.Scale
}

// DrawShape draws one collidable. Compounds and meshes draw every child.
func DrawShape(shapes *cm3.Shapes, ref cm3.CollidableReference, shape cm3.TypedIndex, pose cm3.RigidPose, drawer Drawer, proj Projection) {
	data := drawer.Data()
	outline := drawer.OutlineColor()
	fill := drawer.ShapeColor(ref, data)

	switch s := shapes.Get(shape).(type) {
	case cm3.ICompoundShape:
		for i := range s.ChildCount() {
			child, local := s.GetChild(i, shapes)
			drawConvex(child, pose.Mult(local), drawer, proj, outline, fill, data)
		}
	case cm3.IConvexShape:
		drawConvex(s, pose, drawer, proj, outline, fill, data)
	}
}

func drawConvex(shape cm3.IConvexShape, pose cm3.RigidPose, drawer Drawer, proj Projection, outline, fill FColor, data any) {
	switch s := shape.(type) {
	case *cm3.Sphere:
		drawer.DrawCircle(proj.Point(pose.Position), proj.Length(s.Radius), outline, fill, data)
	case *cm3.Capsule:
		a, b := s.Segment()
		drawer.DrawFatSegment(proj.Point(pose.Apply(a)), proj.Point(pose.Apply(b)), proj.Length(s.Radius), outline, fill, data)
	default:
		drawer.DrawPolygon(silhouette(shape, pose, proj), 0, outline, fill, data)
	}
}

// silhouette outlines a convex shape by sampling its support function along
// directions in the projection plane.
func silhouette(shape cm3.IConvexShape, pose cm3.RigidPose, proj Projection) []vec.Vec2 {
	u, v := proj.axes()
	verts := make([]vec.Vec2, 0, silhouetteSides)
	for i := range silhouetteSides {
		angle := 2 * math.Pi * float64(i) / silhouetteSides
		dir := u.Mul(math.Cos(angle)).Add(v.Mul(math.Sin(angle)))
		p := proj.Point(pose.Apply(shape.Support(pose.InverseApplyVector(dir))))
		// Flat faces return the same vertex for neighbouring directions.
		if n := len(verts); n > 0 && p == verts[n-1] {
			continue
		}
		verts = append(verts, p)
	}
	if n := len(verts); n > 1 && verts[0] == verts[n-1] {
		verts = verts[:n-1]
	}
	return verts
}

// DrawConstraint draws a joint between the bodies it connects. Motors are not drawn.
func DrawConstraint(sim *cm3.Simulation, description cm3.ConstraintDescription, bodies []cm3.BodyHandle, drawer Drawer, proj Projection) {
	data := drawer.Data()
	color := drawer.ConstraintColor()

	anchors := func(offsetA, offsetB mgl64.Vec3) {
		a := proj.Point(sim.Body(bodies[0]).Pose().Apply(offsetA))
		b := proj.Point(sim.Body(bodies[1]).Pose().Apply(offsetB))
		drawer.DrawDot(5, a, color, data)
		drawer.DrawDot(5, b, color, data)
		drawer.DrawSegment(a, b, color, data)
	}

	switch joint := description.(type) {
	case cm3.BallSocket:
		anchors(joint.LocalOffsetA, joint.LocalOffsetB)
	case cm3.DistanceLimit:
		anchors(joint.LocalOffsetA, joint.LocalOffsetB)
	case cm3.OneBodyLinearServo:
		a := proj.Point(sim.Body(bodies[0]).Pose().Apply(joint.LocalOffset))
		b := proj.Point(joint.Target)
		drawer.DrawDot(5, a, color, data)
		drawer.DrawDot(3, b, color, data)
		drawer.DrawSegment(a, b, color, data)
	case cm3.PointOnLineServo:
		poseA := sim.Body(bodies[0]).Pose()
		a := proj.Point(poseA.Apply(joint.LocalStartA))
		b := proj.Point(poseA.Apply(joint.LocalEndA))
		drawer.DrawSegment(a, b, color, data)
		drawer.DrawDot(5, proj.Point(sim.Body(bodies[1]).Pose().Apply(joint.LocalOffsetB)), color, data)
	// no anchors to draw
	case cm3.AngularMotor, cm3.AngularSpring, cm3.AngularAxisGear:
	}
}

// DrawSimulation draws everything selected by the drawer's flags.
func DrawSimulation(sim *cm3.Simulation, drawer Drawer, proj Projection) {
	flags := drawer.Flags()
	if flags&DrawShapes != 0 {
		sim.EachCollidable(func(ref cm3.CollidableReference, shape cm3.TypedIndex, pose cm3.RigidPose) {
			DrawShape(sim.Shapes, ref, shape, pose, drawer, proj)
		})
	}
	if flags&DrawConstraints != 0 {
		sim.EachConstraint(func(_ cm3.ConstraintHandle, description cm3.ConstraintDescription, bodies []cm3.BodyHandle) {
			DrawConstraint(sim, description, bodies, drawer, proj)
		})
	}
	if flags&DrawCollisionPoints == 0 {
		return
	}
	data := drawer.Data()
	color := drawer.CollisionPointColor()
	sim.EachContact(func(_ cm3.CollidablePair, poseA cm3.RigidPose, contacts *cm3.ContactManifoldConstraint) {
		for i := range contacts.Count {
			c := &contacts.Contacts[i]
			p := proj.Point(poseA.Position.Add(c.Offset))
			n := proj.Vector(c.Normal)
			if l := math.Sqrt(n.Dot(n)); l > 0 {
				n = n.Scale(2 / l)
				drawer.DrawSegment(p.Sub(n), p.Add(n), color, data)
			}
			drawer.DrawDot(2, p, color, data)
		}
	})
}
