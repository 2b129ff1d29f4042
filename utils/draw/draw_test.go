package draw_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/setanarut/cm3"
	"github.com/setanarut/cm3/utils/draw"
	"github.com/setanarut/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type circle struct {
	pos    vec.Vec2
	radius float64
}

type segment struct {
	a, b   vec.Vec2
	radius float64
}

// recorder is a Drawer that keeps every call.
type recorder struct {
	flags    uint
	circles  []circle
	segments []segment
	fat      []segment
	polygons [][]vec.Vec2
	dots     []vec.Vec2
	colored  []cm3.CollidableReference
}

func (r *recorder) DrawCircle(pos vec.Vec2, radius float64, outline, fill draw.FColor, data any) {
	r.circles = append(r.circles, circle{pos, radius})
}

func (r *recorder) DrawSegment(a, b vec.Vec2, fill draw.FColor, data any) {
	r.segments = append(r.segments, segment{a: a, b: b})
}

func (r *recorder) DrawFatSegment(a, b vec.Vec2, radius float64, outline, fill draw.FColor, data any) {
	r.fat = append(r.fat, segment{a, b, radius})
}

func (r *recorder) DrawPolygon(verts []vec.Vec2, radius float64, outline, fill draw.FColor, data any) {
	r.polygons = append(r.polygons, verts)
}

func (r *recorder) DrawDot(size float64, pos vec.Vec2, fill draw.FColor, data any) {
	r.dots = append(r.dots, pos)
}

func (r *recorder) Flags() uint               { return r.flags }
func (r *recorder) OutlineColor() draw.FColor { return draw.FColor{R: 1, G: 1, B: 1, A: 1} }
func (r *recorder) ShapeColor(ref cm3.CollidableReference, data any) draw.FColor {
	r.colored = append(r.colored, ref)
	return draw.FColor{R: 0.5, A: 1}
}
func (r *recorder) ConstraintColor() draw.FColor     { return draw.FColor{G: 1, A: 1} }
func (r *recorder) CollisionPointColor() draw.FColor { return draw.FColor{R: 1, A: 1} }
func (r *recorder) Data() any                        { return nil }

type scene struct {
	sim     *cm3.Simulation
	ball    cm3.BodyHandle
	capsule cm3.BodyHandle
	ground  cm3.StaticHandle
}

func newScene() scene {
	config := cm3.DefaultConfig()
	config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	sim := cm3.NewSimulation(config)

	sphere := cm3.NewSphere(0.5)
	ball := sim.AddBody(sim.Shapes.Add(sphere), cm3.NewPose(mgl64.Vec3{2, 3, 4}), cm3.BodyVelocity{}, sphere.ComputeInertia(1))
	capsule := cm3.NewCapsule(0.5, 1)
	stick := sim.AddBody(sim.Shapes.Add(capsule), cm3.NewPose(mgl64.Vec3{-3, 0, 0}), cm3.BodyVelocity{}, capsule.ComputeInertia(1))
	ground := sim.AddStatic(cm3.NewStaticDescription(cm3.NewPose(mgl64.Vec3{0, -10, 0}), sim.Shapes.Add(cm3.NewBox(2, 2, 2))))
	return scene{sim: sim, ball: ball, capsule: stick, ground: ground}
}

func TestProjection(t *testing.T) {
	p := draw.NewProjection(draw.PlaneXZ, 2)
	p.Offset = vec.Vec2{X: 1, Y: 1}
	assert.Equal(t, vec.Vec2{X: 3, Y: 7}, p.Point(mgl64.Vec3{1, 100, 3}))
	assert.Equal(t, vec.Vec2{X: 2, Y: 6}, p.Vector(mgl64.Vec3{1, 100, 3}))
	assert.Equal(t, 5.0, p.Length(2.5))

	zy := draw.NewProjection(draw.PlaneZY, 1)
	assert.Equal(t, vec.Vec2{X: 3, Y: 2}, zy.Point(mgl64.Vec3{1, 2, 3}))
}

func TestDrawShapes(t *testing.T) {
	s := newScene()
	r := &recorder{flags: draw.DrawShapes}
	draw.DrawSimulation(s.sim, r, draw.NewProjection(draw.PlaneXY, 10))

	require.Len(t, r.circles, 1)
	assert.Equal(t, circle{vec.Vec2{X: 20, Y: 30}, 5}, r.circles[0])

	require.Len(t, r.fat, 1)
	assert.InDelta(t, -30, r.fat[0].a.X, 1e-9)
	assert.InDelta(t, -10, r.fat[0].a.Y, 1e-9)
	assert.InDelta(t, 10, r.fat[0].b.Y, 1e-9)
	assert.Equal(t, 5.0, r.fat[0].radius)

	// The box outline is made of its projected corners.
	require.Len(t, r.polygons, 1)
	require.GreaterOrEqual(t, len(r.polygons[0]), 4)
	for _, v := range r.polygons[0] {
		assert.InDelta(t, 10, abs(v.X), 1e-9)
		assert.InDelta(t, 10, abs(v.Y+100), 1e-9)
	}

	assert.ElementsMatch(t, []cm3.CollidableReference{
		cm3.NewBodyCollidable(s.ball, false),
		cm3.NewBodyCollidable(s.capsule, false),
		cm3.NewStaticCollidable(s.ground),
	}, r.colored)
	assert.Empty(t, r.segments)
	assert.Empty(t, r.dots)
}

func TestDrawConstraints(t *testing.T) {
	s := newScene()
	s.sim.AddConstraint(cm3.NewBallSocket(s.sim.Body(s.ball).Pose(), s.sim.Body(s.capsule).Pose(), mgl64.Vec3{0, 1, 0}), s.ball, s.capsule)
	s.sim.AddConstraint(cm3.NewAngularMotor(mgl64.Vec3{0, 1, 0}), s.ball, s.capsule)

	r := &recorder{flags: draw.DrawConstraints}
	draw.DrawSimulation(s.sim, r, draw.NewProjection(draw.PlaneXY, 1))
	assert.Empty(t, r.circles)
	assert.Empty(t, r.polygons)
	require.Len(t, r.segments, 1)
	require.Len(t, r.dots, 2)
	// Both anchors sit on the pivot.
	for _, d := range r.dots {
		assert.InDelta(t, 0, d.X, 1e-9)
		assert.InDelta(t, 1, d.Y, 1e-9)
	}
}

func TestDrawPointOnLineServo(t *testing.T) {
	s := newScene()
	poseA, poseB := s.sim.Body(s.ball).Pose(), s.sim.Body(s.capsule).Pose()
	s.sim.AddConstraint(cm3.NewPointOnLineServo(poseA, poseB, mgl64.Vec3{2, 0, 0}, mgl64.Vec3{2, 6, 0}, mgl64.Vec3{-3, 0, 0}), s.ball, s.capsule)
	s.sim.AddConstraint(cm3.NewAngularSpring(poseA, poseB, 1, 0), s.ball, s.capsule)
	s.sim.AddConstraint(cm3.NewAngularAxisGear(poseA, mgl64.Vec3{0, 1, 0}, 2), s.ball, s.capsule)

	r := &recorder{flags: draw.DrawConstraints}
	draw.DrawSimulation(s.sim, r, draw.NewProjection(draw.PlaneXY, 1))
	require.Len(t, r.segments, 1)
	require.Len(t, r.dots, 1)
	assert.InDelta(t, 2, r.segments[0].a.X, 1e-9)
	assert.InDelta(t, 0, r.segments[0].a.Y, 1e-9)
	assert.InDelta(t, 6, r.segments[0].b.Y, 1e-9)
	assert.InDelta(t, -3, r.dots[0].X, 1e-9)
}

func TestDrawCollisionPoints(t *testing.T) {
	config := cm3.DefaultConfig()
	config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	sim := cm3.NewSimulation(config)
	sphere := cm3.NewSphere(1)
	shape := sim.Shapes.Add(sphere)
	sim.AddBody(shape, cm3.NewPoseIdentity(), cm3.BodyVelocity{}, sphere.ComputeInertia(1))
	sim.AddBody(shape, cm3.NewPose(mgl64.Vec3{1.5, 0, 0}), cm3.BodyVelocity{}, sphere.ComputeInertia(1))
	sim.Timestep(1.0 / 60)

	r := &recorder{flags: draw.DrawCollisionPoints}
	draw.DrawSimulation(sim, r, draw.NewProjection(draw.PlaneXY, 1))
	require.Len(t, r.dots, 1)
	require.Len(t, r.segments, 1)
	// The normal marker is centered on the contact.
	mid := r.segments[0].a.Add(r.segments[0].b).Scale(0.5)
	assert.InDelta(t, r.dots[0].X, mid.X, 1e-9)
	assert.InDelta(t, r.dots[0].Y, mid.Y, 1e-9)
	assert.Empty(t, r.circles)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
