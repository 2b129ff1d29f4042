package cm3

// nonconvexTask collides pairs where at least one side is a compound or mesh
// by colliding their overlapping convex children.
type nonconvexTask struct{ a, b ShapeType }

func (t nonconvexTask) ShapeTypes() (ShapeType, ShapeType) { return t.a, t.b }

func (t nonconvexTask) Collide(ctx *CollisionContext, a, b IShape, poseA, poseB RigidPose, margin float64, out *ContactManifold) {
	out.reset(poseB.Position.Sub(poseA.Position), false)
	ctx.children.Clear()

	boundsB := shapeBounds(b, poseB, ctx.Shapes).Grow(margin)
	ctx.forEachChild(a, poseA, boundsB, func(childA IConvexShape, childPoseA RigidPose, ia int) {
		boundsA := shapeBounds(childA, childPoseA, ctx.Shapes).Grow(margin)
		ctx.forEachChild(b, poseB, boundsA, func(childB IConvexShape, childPoseB RigidPose, ib int) {
			if !ctx.Collide(childA, childB, childPoseA, childPoseB, margin, &ctx.child) {
				return
			}
			shift := childPoseA.Position.Sub(poseA.Position)
			children := HashPair(HashValue(ia+1), HashValue(ib+1)<<12)
			for i := range ctx.child.Count {
				c := ctx.child.Contacts[i]
				c.Offset = c.Offset.Add(shift)
				c.FeatureID = HashPair(children, c.FeatureID)
				ctx.children.Add(ctx.pool, childContact{Contact: c, childA: ia, childB: ib})
			}
		})
	})

	contacts := ctx.children.Slice()
	if mesh, ok := b.(*Mesh); ok {
		contacts = reduceAgainstMesh(mesh, poseB, true, a, contacts)
	} else if mesh, ok := a.(*Mesh); ok {
		contacts = reduceAgainstMesh(mesh, poseA, false, b, contacts)
	}
	nonconvexReduction(ctx, contacts, out)
}

func reduceAgainstMesh(mesh *Mesh, meshPose RigidPose, meshIsB bool, other IShape, contacts []childContact) []childContact {
	if _, ok := other.(ICompoundShape); ok {
		return compoundMeshReduction(mesh, meshPose, meshIsB, contacts)
	}
	return meshReduction(mesh, meshPose, meshIsB, false, contacts)
}

// forEachChild visits the convex pieces of shape whose bounds may touch the
// world space box, with their world poses. A convex shape is its own single
// piece with index -1.
func (ctx *CollisionContext) forEachChild(shape IShape, pose RigidPose, bounds BB, visit func(IConvexShape, RigidPose, int)) {
	switch s := shape.(type) {
	case IConvexShape:
		visit(s, pose, -1)
	case ICompoundShape:
		local := rotatedBounds(bounds.Min, bounds.Max, pose.Inverse())
		s.FindLocalOverlaps(local.Min, local.Max, ctx.Shapes, func(i int) {
			child, childPose := s.GetChild(i, ctx.Shapes)
			visit(child, pose.Mult(childPose), i)
		})
	}
}
