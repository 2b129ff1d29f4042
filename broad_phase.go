package cm3

import (
	"fmt"
	"math"
)

// CollidableMobility tells which store a collidable reference points into.
type CollidableMobility uint8

const (
	Dynamic CollidableMobility = iota
	Kinematic
	Static
)

func (m CollidableMobility) String() string {
	switch m {
	case Dynamic:
		return "Dynamic"
	case Kinematic:
		return "Kinematic"
	}
	return "Static"
}

// CollidableReference names the owner of a broad phase leaf.
type CollidableReference struct {
	Mobility CollidableMobility
	Handle   int32
}

// NewBodyCollidable returns a reference to a body collidable.
func NewBodyCollidable(handle BodyHandle, kinematic bool) CollidableReference {
	if kinematic {
		return CollidableReference{Mobility: Kinematic, Handle: int32(handle)}
	}
	return CollidableReference{Mobility: Dynamic, Handle: int32(handle)}
}

// NewStaticCollidable returns a reference to a static collidable.
func NewStaticCollidable(handle StaticHandle) CollidableReference {
	return CollidableReference{Mobility: Static, Handle: int32(handle)}
}

// IsBody reports whether the reference points at a body.
func (r CollidableReference) IsBody() bool {
	return r.Mobility != Static
}

func (r CollidableReference) BodyHandle() BodyHandle {
	assert(r.IsBody(), "cm3: %v is not a body", r)
	return BodyHandle(r.Handle)
}

func (r CollidableReference) StaticHandle() StaticHandle {
	assert(!r.IsBody(), "cm3: %v is not a static", r)
	return StaticHandle(r.Handle)
}

func (r CollidableReference) String() string {
	return fmt.Sprintf("%v %d", r.Mobility, r.Handle)
}

// packed orders statics after bodies, then by handle.
func (r CollidableReference) packed() uint64 {
	if r.Mobility == Static {
		return 1<<32 | uint64(uint32(r.Handle))
	}
	return uint64(uint32(r.Handle))
}

// CollidablePair is an unordered pair stored in canonical order: a static is
// always B, otherwise the lower handle is A.
type CollidablePair struct {
	A, B CollidableReference
}

// NewCollidablePair returns the canonical pair of a and b.
func NewCollidablePair(a, b CollidableReference) CollidablePair {
	if a.packed() > b.packed() {
		a, b = b, a
	}
	return CollidablePair{A: a, B: b}
}

func (p CollidablePair) String() string {
	return fmt.Sprintf("(%v, %v)", p.A, p.B)
}

// BroadPhase keeps moving collidables in the active tree and statics plus
// sleeping bodies in the static tree. Active leaves are tested against each
// other and against the static tree; static leaves are never tested against
// each other.
type BroadPhase struct {
	ActiveTree   *Tree
	StaticTree   *Tree
	ActiveLeaves []CollidableReference
	StaticLeaves []CollidableReference
	staticDirty  bool
}

// NewBroadPhase returns an empty broad phase.
func NewBroadPhase(activeCapacity, staticCapacity int) *BroadPhase {
	return &BroadPhase{
		ActiveTree:   NewTree(activeCapacity),
		StaticTree:   NewTree(staticCapacity),
		ActiveLeaves: make([]CollidableReference, 0, activeCapacity),
		StaticLeaves: make([]CollidableReference, 0, staticCapacity),
	}
}

// AddActive inserts a leaf into the active tree.
func (bp *BroadPhase) AddActive(ref CollidableReference, bb BB) int32 {
	index := bp.ActiveTree.Add(bb)
	bp.ActiveLeaves = append(bp.ActiveLeaves, ref)
	assert(index == len(bp.ActiveLeaves)-1, "cm3: active leaf mapping out of sync")
	return int32(index)
}

// AddStatic inserts a leaf into the static tree.
func (bp *BroadPhase) AddStatic(ref CollidableReference, bb BB) int32 {
	bp.refitStatic()
	index := bp.StaticTree.Add(bb)
	bp.StaticLeaves = append(bp.StaticLeaves, ref)
	assert(index == len(bp.StaticLeaves)-1, "cm3: static leaf mapping out of sync")
	return int32(index)
}

// RemoveActiveAt removes an active leaf. If another leaf moved into the slot,
// its owner is returned so the caller can fix the owner's broad phase index.
func (bp *BroadPhase) RemoveActiveAt(index int32) (CollidableReference, bool) {
	return removeLeaf(bp.ActiveTree, &bp.ActiveLeaves, index)
}

// RemoveStaticAt removes a static tree leaf.
func (bp *BroadPhase) RemoveStaticAt(index int32) (CollidableReference, bool) {
	bp.refitStatic()
	return removeLeaf(bp.StaticTree, &bp.StaticLeaves, index)
}

func removeLeaf(tree *Tree, leaves *[]CollidableReference, index int32) (CollidableReference, bool) {
	movedFrom := tree.RemoveAt(int(index))
	list := *leaves
	last := len(list) - 1
	var moved CollidableReference
	if movedFrom >= 0 {
		assert(movedFrom == last, "cm3: tree moved leaf %d, expected %d", movedFrom, last)
		moved = list[last]
		list[index] = moved
	}
	*leaves = list[:last]
	return moved, movedFrom >= 0
}

// UpdateActiveBounds overwrites an active leaf's bounds. The tree is refit in Update.
func (bp *BroadPhase) UpdateActiveBounds(index int32, bb BB) {
	bp.ActiveTree.UpdateBounds(int(index), bb)
}

// UpdateStaticBounds overwrites a static leaf's bounds.
func (bp *BroadPhase) UpdateStaticBounds(index int32, bb BB) {
	bp.StaticTree.UpdateBounds(int(index), bb)
	bp.staticDirty = true
}

func (bp *BroadPhase) refitStatic() {
	if bp.staticDirty {
		bp.StaticTree.Refit()
		bp.staticDirty = false
	}
}

// Update refits the trees and reports every overlapping pair of leaves that
// involves at least one active leaf.
func (bp *BroadPhase) Update(visit func(a, b CollidableReference)) {
	bp.ActiveTree.Refit()
	bp.refitStatic()
	bp.ActiveTree.GetSelfOverlaps(func(a, b int) {
		visit(bp.ActiveLeaves[a], bp.ActiveLeaves[b])
	})
	bp.ActiveTree.GetOverlapsWith(bp.StaticTree, func(a, b int) {
		visit(bp.ActiveLeaves[a], bp.StaticLeaves[b])
	})
}

// GetOverlaps reports every leaf of both trees whose bounds intersect bb.
func (bp *BroadPhase) GetOverlaps(bb BB, visit func(CollidableReference)) {
	bp.refitStatic()
	bp.ActiveTree.GetOverlaps(bb, func(i int) { visit(bp.ActiveLeaves[i]) })
	bp.StaticTree.GetOverlaps(bb, func(i int) { visit(bp.StaticLeaves[i]) })
}

// Validate checks both trees and the leaf mappings.
func (bp *BroadPhase) Validate() error {
	if err := bp.ActiveTree.Validate(); err != nil {
		return fmt.Errorf("active tree: %w", err)
	}
	bp.refitStatic()
	if err := bp.StaticTree.Validate(); err != nil {
		return fmt.Errorf("static tree: %w", err)
	}
	if bp.ActiveTree.LeafCount() != len(bp.ActiveLeaves) || bp.StaticTree.LeafCount() != len(bp.StaticLeaves) {
		return fmt.Errorf("leaf mapping has %d/%d entries for %d/%d leaves", len(bp.ActiveLeaves),
			len(bp.StaticLeaves), bp.ActiveTree.LeafCount(), bp.StaticTree.LeafCount())
	}
	return nil
}

// predictedBounds returns the bounds of a collidable over the coming step.
// The bounds grow along the linear motion, by the worst case angular sweep,
// and by the speculative margin.
func predictedBounds(shapes *Shapes, collidable *Collidable, pose RigidPose, velocity BodyVelocity, dt, defaultMargin float64) BB {
	bb := shapes.ComputeBounds(collidable.Shape, pose)
	bb = bb.Sweep(velocity.Linear.Mul(dt))
	if w := velocity.Angular.Len(); w > 0 {
		r := shapes.MaximumRadius(collidable.Shape)
		bb = bb.Grow(math.Min(w*dt, 2) * r)
	}
	margin := collidable.SpeculativeMargin
	if margin == 0 {
		margin = defaultMargin
	}
	return bb.Grow(margin)
}
