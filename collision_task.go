package cm3

import (
	"log/slog"

	"github.com/go-gl/mathgl/mgl64"
)

// CollisionTask generates contacts for one ordered pair of shape types.
type CollisionTask interface {
	// ShapeTypes returns the pair the task expects, in argument order.
	ShapeTypes() (a, b ShapeType)
	// Collide writes the contacts between a at poseA and b at poseB into out.
	// Contacts separated by more than margin may be omitted.
	Collide(ctx *CollisionContext, a, b IShape, poseA, poseB RigidPose, margin float64, out *ContactManifold)
}

type registeredTask struct {
	task CollisionTask
	flip bool
}

// CollisionTaskRegistry maps pairs of shape types to collision tasks.
type CollisionTaskRegistry struct {
	tasks [ShapeTypeNum][ShapeTypeNum]registeredTask
}

// NewCollisionTaskRegistry returns a registry with every built-in pair
// registered except mesh against mesh.
func NewCollisionTaskRegistry() *CollisionTaskRegistry {
	r := &CollisionTaskRegistry{}
	r.Register(sphereSphereTask{})
	r.Register(sphereCapsuleTask{})
	r.Register(sphereBoxTask{})
	r.Register(sphereTriangleTask{})
	r.Register(capsuleCapsuleTask{})
	for a := ShapeType(0); a < ShapeTypeNum; a++ {
		for b := a; b < ShapeTypeNum; b++ {
			if r.tasks[a][b].task != nil {
				continue
			}
			switch {
			case a.IsConvex() && b.IsConvex():
				r.Register(convexTask{a, b})
			case a == MeshType && b == MeshType:
			default:
				r.Register(nonconvexTask{a, b})
			}
		}
	}
	return r
}

// Register adds a task. Registering a second task for the same pair panics.
func (r *CollisionTaskRegistry) Register(task CollisionTask) {
	a, b := task.ShapeTypes()
	assert(a < ShapeTypeNum && b < ShapeTypeNum, "cm3: collision task for unknown shape types %v, %v", a, b)
	assert(r.tasks[a][b].task == nil, "cm3: collision task for %v, %v registered twice", a, b)
	r.tasks[a][b] = registeredTask{task: task}
	if a != b {
		r.tasks[b][a] = registeredTask{task: task, flip: true}
	}
}

// Lookup returns the task for the pair and whether its arguments must be swapped.
// The task is nil when no task handles the pair.
func (r *CollisionTaskRegistry) Lookup(a, b ShapeType) (CollisionTask, bool) {
	t := r.tasks[a][b]
	return t.task, t.flip
}

// CollisionContext is the state a worker hands to collision tasks.
type CollisionContext struct {
	Shapes   *Shapes
	Registry *CollisionTaskRegistry
	Logger   *slog.Logger

	manifoldScratch
	child    ContactManifold
	children QuickList[childContact]
	pool     *BufferPool[childContact]
}

// NewCollisionContext returns a context for one worker.
func NewCollisionContext(shapes *Shapes, registry *CollisionTaskRegistry, logger *slog.Logger) *CollisionContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &CollisionContext{Shapes: shapes, Registry: registry, Logger: logger, pool: NewBufferPool[childContact]()}
}

// Dispose returns the child contact scratch to the context's pool. The context
// stays usable and takes a new span on demand.
func (ctx *CollisionContext) Dispose() {
	ctx.children.Dispose(ctx.pool)
}

// Collide runs the registered task for the two shapes. Contacts are relative to
// poseA and normals point from a to b. It reports false when no task handles the pair.
func (ctx *CollisionContext) Collide(a, b IShape, poseA, poseB RigidPose, margin float64, out *ContactManifold) bool {
	task, flip := ctx.Registry.Lookup(a.TypeID(), b.TypeID())
	offsetB := poseB.Position.Sub(poseA.Position)
	if task == nil {
		out.reset(offsetB, true)
		return false
	}
	if flip {
		task.Collide(ctx, b, a, poseB, poseA, margin, out)
		out.Flip(offsetB)
		return true
	}
	task.Collide(ctx, a, b, poseA, poseB, margin, out)
	return true
}

// CollideIndices resolves both shapes from ctx.Shapes and collides them.
func (ctx *CollisionContext) CollideIndices(a, b TypedIndex, poseA, poseB RigidPose, margin float64, out *ContactManifold) bool {
	return ctx.Collide(ctx.Shapes.Get(a), ctx.Shapes.Get(b), poseA, poseB, margin, out)
}

// shapeBounds returns the bounds of any shape at pose.
func shapeBounds(shape IShape, pose RigidPose, shapes *Shapes) BB {
	var min, max mgl64.Vec3
	switch s := shape.(type) {
	case IConvexShape:
		min, max = s.ComputeBounds(pose.Orientation)
	case ICompoundShape:
		min, max = s.ComputeBounds(pose.Orientation, shapes)
	}
	return BB{Min: min.Add(pose.Position), Max: max.Add(pose.Position)}
}

// singleContact fills out with one contact for the common case of a pair of
// rounded shapes: the contact sits halfway into the overlap along normal.
func singleContact(out *ContactManifold, offsetB, normal mgl64.Vec3, radiusA, depth, margin float64, base mgl64.Vec3) {
	out.reset(offsetB, true)
	if depth < -margin {
		return
	}
	out.Add(Contact{
		Offset: base.Add(normal.Mul(radiusA - depth/2)),
		Normal: normal,
		Depth:  depth,
	})
}
