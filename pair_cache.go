package cm3

import (
	"github.com/go-gl/mathgl/mgl64"
)

// contactTypeCount is the number of contact constraint types, which are the
// type ids 0 through 3.
const contactTypeCount = 4

// PairCacheIndex points at a pending constraint in a worker's type specific cache.
type PairCacheIndex struct {
	Worker int32
	// Cache is the contact constraint type id.
	Cache int32
	Index int32
}

// PairCacheEntry is the persistent record of a touching pair.
type PairCacheEntry struct {
	Pair             CollidablePair
	ConstraintHandle ConstraintHandle
	// Normal is the last contact normal, the next frame's search direction.
	Normal mgl64.Vec3
	// stamp is the last frame the pair produced contacts.
	stamp uint64
}

// pendingConstraint is a contact constraint a worker wants created or updated.
type pendingConstraint struct {
	Pair        CollidablePair
	Entry       int32
	Bodies      [2]BodyHandle
	BodyCount   int
	Description ConstraintDescription
	Normal      mgl64.Vec3
}

// WorkerPairCache collects one worker's results during the parallel narrow
// phase. It only appends; the flush applies it.
type WorkerPairCache struct {
	Worker      int32
	Constraints [contactTypeCount]QuickList[pendingConstraint]
	// PendingAdd and PendingUpdate point into Constraints in discovery order.
	PendingAdd    []PairCacheIndex
	PendingUpdate []PairCacheIndex
	// PendingRemove holds entries of pairs that are still overlapping but stopped touching.
	PendingRemove []int32
	// PendingWake holds sleeping bodies touched by active ones.
	PendingWake []BodyHandle

	pool     *BufferPool[pendingConstraint]
	ctx      *CollisionContext
	manifold ContactManifold
}

func newWorkerPairCache(worker int32, ctx *CollisionContext) WorkerPairCache {
	return WorkerPairCache{Worker: worker, pool: NewBufferPool[pendingConstraint](), ctx: ctx}
}

// dispose returns the worker's spans to its pools once the flush has consumed them.
func (w *WorkerPairCache) dispose() {
	for i := range w.Constraints {
		w.Constraints[i].Dispose(w.pool)
	}
	w.ctx.Dispose()
}

func (w *WorkerPairCache) reset() {
	for i := range w.Constraints {
		w.Constraints[i].Clear()
	}
	w.PendingAdd = w.PendingAdd[:0]
	w.PendingUpdate = w.PendingUpdate[:0]
	w.PendingRemove = w.PendingRemove[:0]
	w.PendingWake = w.PendingWake[:0]
}

func (w *WorkerPairCache) add(p pendingConstraint) {
	typeID := p.Description.ConstraintTypeID()
	list := &w.Constraints[typeID]
	index := PairCacheIndex{Worker: w.Worker, Cache: typeID, Index: int32(list.Count)}
	list.Add(w.pool, p)
	if p.Entry < 0 {
		w.PendingAdd = append(w.PendingAdd, index)
	} else {
		w.PendingUpdate = append(w.PendingUpdate, index)
	}
}

func (w *WorkerPairCache) pending(index PairCacheIndex) *pendingConstraint {
	return &w.Constraints[index.Cache].Slice()[index.Index]
}

// PairCache maps touching pairs to their contact constraints.
type PairCache struct {
	Mapping map[CollidablePair]int32
	Entries []PairCacheEntry
	Workers []WorkerPairCache
	frame   uint64
}

func newPairCache() *PairCache {
	return &PairCache{Mapping: make(map[CollidablePair]int32)}
}

// Count returns the number of touching pairs.
func (c *PairCache) Count() int {
	return len(c.Entries)
}

// Get returns the entry of a pair.
func (c *PairCache) Get(pair CollidablePair) (PairCacheEntry, bool) {
	index, ok := c.Mapping[pair]
	if !ok {
		return PairCacheEntry{}, false
	}
	return c.Entries[index], true
}

// Pairs returns every touching pair involving ref.
func (c *PairCache) Pairs(ref CollidableReference) []CollidablePair {
	var pairs []CollidablePair
	for _, e := range c.Entries {
		if e.Pair.A == ref || e.Pair.B == ref {
			pairs = append(pairs, e.Pair)
		}
	}
	return pairs
}

// compact drops entries whose handle was cleared and rebuilds Mapping.
func (c *PairCache) compact() {
	n := 0
	for _, e := range c.Entries {
		if e.ConstraintHandle < 0 {
			continue
		}
		c.Entries[n] = e
		n++
	}
	clear(c.Entries[n:])
	c.Entries = c.Entries[:n]
	clear(c.Mapping)
	for i, e := range c.Entries {
		c.Mapping[e.Pair] = int32(i)
	}
}

func (c *PairCache) clear() {
	c.Entries = c.Entries[:0]
	clear(c.Mapping)
}

// warmStart copies accumulated impulses from the previous constraint into
// contacts with matching feature ids.
func warmStart(previous ConstraintDescription, next *ContactManifoldConstraint) {
	old, ok := contactData(previous)
	if !ok {
		return
	}
	for i := range next.Count {
		c := &next.Contacts[i]
		for j := range old.Count {
			if old.Contacts[j].FeatureID == c.FeatureID {
				c.NormalImpulse = old.Contacts[j].NormalImpulse
				c.FrictionImpulse = old.Contacts[j].FrictionImpulse
				break
			}
		}
	}
}
