package cm3

import (
	"log/slog"
	"math"

	"golang.org/x/sync/errgroup"
)

// narrowPhaseChunk is the fewest pairs worth handing to another worker.
const narrowPhaseChunk = 32

// PairCallbacks lets the user filter pairs and edit their contacts.
// AllowContactGeneration and ConfigureContactManifold run concurrently on the
// narrow phase workers; PairAdded and PairRemoved run during the single
// threaded flush and may not add or remove bodies, statics or constraints.
type PairCallbacks interface {
	// AllowContactGeneration is called for every broad phase pair that passed the filters.
	AllowContactGeneration(worker int, pair CollidablePair) bool
	// ConfigureContactManifold may edit the manifold and material. Returning
	// false discards the contacts of this frame.
	ConfigureContactManifold(worker int, pair CollidablePair, manifold *ContactManifold, material *PairMaterial) bool
	// PairAdded is called when a pair starts touching.
	PairAdded(pair CollidablePair, handle ConstraintHandle)
	// PairRemoved is called when a pair stops touching or one of its collidables is removed.
	PairRemoved(pair CollidablePair, handle ConstraintHandle)
}

// DefaultPairCallbacks accepts every pair unchanged.
type DefaultPairCallbacks struct{}

func (DefaultPairCallbacks) AllowContactGeneration(int, CollidablePair) bool { return true }

func (DefaultPairCallbacks) ConfigureContactManifold(int, CollidablePair, *ContactManifold, *PairMaterial) bool {
	return true
}

func (DefaultPairCallbacks) PairAdded(CollidablePair, ConstraintHandle)   {}
func (DefaultPairCallbacks) PairRemoved(CollidablePair, ConstraintHandle) {}

// NarrowPhase turns broad phase pairs into contact constraints.
type NarrowPhase struct {
	PairCache  *PairCache
	Collisions *CollisionTaskRegistry
	Sweeps     *SweepTaskRegistry
	Callbacks  PairCallbacks
	Logger     *slog.Logger

	pairs []CollidablePair
}

// NewNarrowPhase returns a narrow phase with the built in collision and sweep
// tasks and one pair cache per worker.
func NewNarrowPhase(shapes *Shapes, workers int, logger *slog.Logger) *NarrowPhase {
	if logger == nil {
		logger = slog.Default()
	}
	np := &NarrowPhase{
		PairCache:  newPairCache(),
		Collisions: NewCollisionTaskRegistry(),
		Sweeps:     NewSweepTaskRegistry(),
		Callbacks:  DefaultPairCallbacks{},
		Logger:     logger,
	}
	np.resizeWorkers(shapes, workers)
	return np
}

// resizeWorkers adds or drops worker caches between steps.
func (np *NarrowPhase) resizeWorkers(shapes *Shapes, workers int) {
	workers = max(workers, 1)
	cache := np.PairCache
	for len(cache.Workers) < workers {
		ctx := NewCollisionContext(shapes, np.Collisions, np.Logger)
		cache.Workers = append(cache.Workers, newWorkerPairCache(int32(len(cache.Workers)), ctx))
	}
	clear(cache.Workers[workers:])
	cache.Workers = cache.Workers[:workers]
}

// narrowPhaseStep carries what the narrow phase reads during one step.
type narrowPhaseStep struct {
	bodies  *Bodies
	statics *Statics
	shapes  *Shapes
	solver  *Solver

	dt                      float64
	speculativeMargin       float64
	continuousThreshold     float64
	maximumRecoveryVelocity float64
}

type collidableState struct {
	collidable *Collidable
	pose       RigidPose
	velocity   BodyVelocity
	body       bool
	active     bool
	kinematic  bool
}

func (s *narrowPhaseStep) resolve(ref CollidableReference) collidableState {
	if !ref.IsBody() {
		i := s.statics.Index(ref.StaticHandle())
		return collidableState{collidable: &s.statics.Collidables[i], pose: s.statics.Poses[i]}
	}
	loc := s.bodies.Location(ref.BodyHandle())
	set := &s.bodies.Sets[loc.SetIndex]
	return collidableState{
		collidable: &set.Collidables[loc.Index],
		pose:       set.Poses[loc.Index],
		velocity:   set.Velocities[loc.Index],
		body:       true,
		active:     loc.SetIndex == 0,
		kinematic:  set.Activity[loc.Index].Kinematic,
	}
}

func (s *narrowPhaseStep) margin(c *Collidable) float64 {
	if c.SpeculativeMargin > 0 {
		return c.SpeculativeMargin
	}
	return s.speculativeMargin
}

// collectPairs gathers the overlapping pairs of the broad phase in tree order.
func (np *NarrowPhase) collectPairs(bp *BroadPhase) {
	np.pairs = np.pairs[:0]
	bp.Update(func(a, b CollidableReference) {
		np.pairs = append(np.pairs, NewCollidablePair(a, b))
	})
}

// run processes the collected pairs. Each worker takes one contiguous range so
// that concatenating worker results in worker order reproduces pair order.
func (np *NarrowPhase) run(step *narrowPhaseStep) {
	cache := np.PairCache
	cache.frame++
	for i := range cache.Workers {
		cache.Workers[i].reset()
	}
	workers := len(cache.Workers)
	n := len(np.pairs)
	if workers == 1 || n <= narrowPhaseChunk {
		for _, pair := range np.pairs {
			np.processPair(&cache.Workers[0], step, pair)
		}
		return
	}
	per := max((n+workers-1)/workers, narrowPhaseChunk)
	var g errgroup.Group
	for i := range workers {
		start := i * per
		if start >= n {
			break
		}
		end := min(start+per, n)
		w := &cache.Workers[i]
		g.Go(func() error {
			for _, pair := range np.pairs[start:end] {
				np.processPair(w, step, pair)
			}
			return nil
		})
	}
	g.Wait()
}

func (np *NarrowPhase) processPair(w *WorkerPairCache, step *narrowPhaseStep, pair CollidablePair) {
	a, b := step.resolve(pair.A), step.resolve(pair.B)
	if a.collidable.Filter.Reject(b.collidable.Filter) {
		return
	}
	// A sleeping body only meets active leaves here; the sleeper is woken at flush.
	if (a.body && !a.active) || (b.body && !b.active) {
		if a.active && b.body {
			w.PendingWake = append(w.PendingWake, pair.B.BodyHandle())
		}
		if b.active && a.body {
			w.PendingWake = append(w.PendingWake, pair.A.BodyHandle())
		}
		return
	}
	if (!a.body || a.kinematic) && (!b.body || b.kinematic) {
		return
	}
	if !np.Callbacks.AllowContactGeneration(int(w.Worker), pair) {
		return
	}

	relative := b.velocity.Linear.Sub(a.velocity.Linear)
	margin := math.Max(step.margin(a.collidable), step.margin(b.collidable)) + relative.Len()*step.dt
	manifold := &w.manifold
	np.collide(w, step, &a, &b, margin, manifold)

	material := combineMaterials(a.collidable.Material, b.collidable.Material, step.maximumRecoveryVelocity)
	if manifold.Count > 0 && !np.Callbacks.ConfigureContactManifold(int(w.Worker), pair, manifold, &material) {
		manifold.Count = 0
	}

	entry, existing := np.PairCache.Mapping[pair]
	if manifold.Count == 0 {
		if existing {
			w.PendingRemove = append(w.PendingRemove, entry)
		}
		return
	}

	data := ContactManifoldConstraint{Count: manifold.Count, OffsetB: manifold.OffsetB, Material: material}
	for i := range manifold.Count {
		c := &manifold.Contacts[i]
		data.Contacts[i] = ContactConstraintPoint{Offset: c.Offset, Normal: c.Normal, Depth: c.Depth, FeatureID: c.FeatureID}
	}
	p := pendingConstraint{Pair: pair, Entry: -1, Normal: manifold.Contacts[0].Normal}
	if existing {
		p.Entry = entry
		warmStart(step.solver.GetDescription(np.PairCache.Entries[entry].ConstraintHandle), &data)
	}
	p.Bodies[0] = pair.A.BodyHandle()
	p.BodyCount = 1
	if b.body {
		p.Bodies[1] = pair.B.BodyHandle()
		p.BodyCount = 2
	}
	p.Description = newContactDescription(data, manifold.Convex, b.body)
	w.add(p)
}

// collide generates the manifold of a pair at the current poses. Pairs moving
// fast enough are swept first; a hit later in the step yields contacts at the
// time of impact whose depths are pushed back by the remaining approach.
func (np *NarrowPhase) collide(w *WorkerPairCache, step *narrowPhaseStep, a, b *collidableState, margin float64, out *ContactManifold) {
	shapeA := step.shapes.Get(a.collidable.Shape)
	shapeB := step.shapes.Get(b.collidable.Shape)
	relative := b.velocity.Linear.Sub(a.velocity.Linear)
	continuous := a.collidable.Continuity == Continuous || b.collidable.Continuity == Continuous ||
		relative.Len()*step.dt > step.continuousThreshold
	if continuous {
		if t, hit := np.sweep(w.ctx, shapeA, a, shapeB, b, step.dt); hit && t > 0 {
			poseA := a.pose.Integrate(a.velocity, t)
			poseB := b.pose.Integrate(b.velocity, t)
			if w.ctx.Collide(shapeA, shapeB, poseA, poseB, margin, out) {
				for i := range out.Count {
					c := &out.Contacts[i]
					c.Depth += relative.Dot(c.Normal) * t
				}
				out.OffsetB = b.pose.Position.Sub(a.pose.Position)
				return
			}
		}
	}
	if !w.ctx.Collide(shapeA, shapeB, a.pose, b.pose, margin, out) {
		np.Logger.Warn("no collision task for pair", "a", shapeA.TypeID(), "b", shapeB.TypeID())
	}
}

func (np *NarrowPhase) sweep(ctx *CollisionContext, shapeA IShape, a *collidableState, shapeB IShape, b *collidableState, dt float64) (float64, bool) {
	task, flip := np.Sweeps.Lookup(shapeA.TypeID(), shapeB.TypeID())
	if task == nil {
		return 0, false
	}
	if flip {
		return task.Sweep(ctx, shapeB, b.pose, b.velocity, shapeA, a.pose, a.velocity, dt)
	}
	return task.Sweep(ctx, shapeA, a.pose, a.velocity, shapeB, b.pose, b.velocity, dt)
}

// flush applies the worker caches to the pair cache and the solver in worker
// order, removes pairs that stopped overlapping and finally wakes the sleeping
// bodies that active ones ran into.
func (np *NarrowPhase) flush(step *narrowPhaseStep, wake func(BodyHandle)) {
	cache := np.PairCache
	for wi := range cache.Workers {
		w := &cache.Workers[wi]
		for _, index := range w.PendingUpdate {
			p := w.pending(index)
			e := &cache.Entries[p.Entry]
			step.solver.ApplyDescription(step.bodies, e.ConstraintHandle, p.Description)
			e.Normal = p.Normal
			e.stamp = cache.frame
		}
		for _, index := range w.PendingAdd {
			p := w.pending(index)
			handle := step.solver.Add(step.bodies, p.Bodies[:p.BodyCount], p.Description)
			cache.Entries = append(cache.Entries, PairCacheEntry{
				Pair:             p.Pair,
				ConstraintHandle: handle,
				Normal:           p.Normal,
				stamp:            cache.frame,
			})
			np.Callbacks.PairAdded(p.Pair, handle)
		}
		for _, entry := range w.PendingRemove {
			np.removeEntry(step, &cache.Entries[entry])
		}
		w.dispose()
	}

	// Pairs of a sleeping island keep their constraints until it wakes.
	for i := range cache.Entries {
		e := &cache.Entries[i]
		if e.ConstraintHandle < 0 || e.stamp == cache.frame || !step.touchesActive(e.Pair) {
			continue
		}
		np.removeEntry(step, e)
	}
	cache.compact()

	for wi := range cache.Workers {
		for _, handle := range cache.Workers[wi].PendingWake {
			wake(handle)
		}
	}
}

func (s *narrowPhaseStep) touchesActive(pair CollidablePair) bool {
	active := func(ref CollidableReference) bool {
		return ref.IsBody() && s.bodies.Location(ref.BodyHandle()).SetIndex == 0
	}
	return active(pair.A) || active(pair.B)
}

func (np *NarrowPhase) removeEntry(step *narrowPhaseStep, e *PairCacheEntry) {
	if e.ConstraintHandle < 0 {
		return
	}
	handle := e.ConstraintHandle
	step.solver.Remove(step.bodies, handle)
	e.ConstraintHandle = -1
	np.Callbacks.PairRemoved(e.Pair, handle)
}

// RemovePairsOf deletes every pair involving ref along with its contact constraint.
func (np *NarrowPhase) RemovePairsOf(ref CollidableReference, bodies *Bodies, solver *Solver) {
	step := narrowPhaseStep{bodies: bodies, solver: solver}
	cache := np.PairCache
	removed := false
	for i := range cache.Entries {
		e := &cache.Entries[i]
		if e.Pair.A.Handle == ref.Handle && e.Pair.A.IsBody() == ref.IsBody() ||
			e.Pair.B.Handle == ref.Handle && e.Pair.B.IsBody() == ref.IsBody() {
			np.removeEntry(&step, e)
			removed = true
		}
	}
	if removed {
		cache.compact()
	}
}

// Clear drops every cached pair without touching the solver.
func (np *NarrowPhase) Clear() {
	np.PairCache.clear()
	np.pairs = np.pairs[:0]
}
