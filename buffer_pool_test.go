package cm3

import (
	"io"
	"log/slog"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/require"
)

func TestBufferPoolReuse(t *testing.T) {
	pool := NewBufferPool[int]()
	a := pool.Take(5)
	require.Equal(t, 8, a.Len())
	require.Equal(t, 1, pool.Outstanding())
	a.Span[0] = 42
	first := &a.Span[0]

	pool.Return(&a)
	require.False(t, a.Allocated())
	require.Zero(t, pool.Outstanding())

	b := pool.Take(7)
	require.Same(t, first, &b.Span[0])
	require.Zero(t, b.Span[0], "reused spans are cleared")

	// Returning an unallocated buffer is a no-op.
	pool.Return(&a)
	require.Equal(t, 1, pool.Outstanding())
}

func TestBufferPoolResize(t *testing.T) {
	pool := NewBufferPool[int]()
	b := pool.Take(2)
	b.Span[0], b.Span[1] = 1, 2
	pool.Resize(&b, 2, 2)
	require.Equal(t, 2, b.Len())

	pool.Resize(&b, 9, 2)
	require.Equal(t, 16, b.Len())
	require.Equal(t, []int{1, 2}, b.Span[:2])
	require.Equal(t, 1, pool.Outstanding())

	var empty Buffer[int]
	pool.Resize(&empty, 3, 0)
	require.Equal(t, 4, empty.Len())
	require.Equal(t, 2, pool.Outstanding())
}

func TestWithBuffer(t *testing.T) {
	pool := NewBufferPool[float64]()
	WithBuffer(pool, 10, func(span []float64) {
		require.Len(t, span, 10)
		require.Equal(t, 1, pool.Outstanding())
	})
	require.Zero(t, pool.Outstanding())

	require.Panics(t, func() {
		WithBuffer(pool, 3, func([]float64) { panic("boom") })
	})
	require.Zero(t, pool.Outstanding())
}

func TestQuickList(t *testing.T) {
	pool := NewBufferPool[int]()
	list := NewQuickList(pool, 1)
	for i := range 100 {
		list.Add(pool, i)
	}
	require.Equal(t, 100, list.Count)
	require.Equal(t, 1, pool.Outstanding())
	for i, v := range list.Slice() {
		require.Equal(t, i, v)
	}

	*list.Allocate(pool) = 7
	require.Equal(t, 7, list.Slice()[100])
	require.Equal(t, 101, list.Count)

	list.Clear()
	require.Empty(t, list.Slice())
	list.Dispose(pool)
	require.Zero(t, pool.Outstanding())
}

func TestIdPool(t *testing.T) {
	var pool IdPool
	for i := range 5 {
		require.Equal(t, int32(i), pool.Take())
	}
	pool.Return(1)
	pool.Return(3)
	require.Equal(t, 2, pool.AvailableCount())
	require.Equal(t, int32(3), pool.Take())
	require.Equal(t, int32(1), pool.Take())
	require.Equal(t, int32(5), pool.Take())

	// Returning the newest id shrinks the claimed range.
	pool.Return(5)
	require.Equal(t, int32(5), pool.HighestPossiblyClaimedId())
	require.Zero(t, pool.AvailableCount())

	pool.Clear()
	require.Equal(t, int32(0), pool.Take())
}

func TestIndexSet(t *testing.T) {
	var set IndexSet
	require.False(t, set.Contains(1000))
	set.Add(3)
	set.Add(64)
	set.Add(1000)
	require.True(t, set.Contains(3))
	require.True(t, set.Contains(64))
	require.True(t, set.Contains(1000))
	require.False(t, set.Contains(65))
	require.Equal(t, 3, set.Count())

	require.False(t, set.CanFit([]BodyHandle{1, 64}))
	require.True(t, set.CanFit([]BodyHandle{1, 2, 5000}))

	set.Remove(64)
	set.Remove(9999)
	require.False(t, set.Contains(64))
	require.Equal(t, 2, set.Count())

	set.Clear()
	require.Zero(t, set.Count())
}

func cachedSpans[T any](p *BufferPool[T]) int {
	n := 0
	for _, stack := range p.free {
		n += len(stack)
	}
	return n
}

func TestStepReturnsScratch(t *testing.T) {
	config := DefaultConfig()
	config.Workers = 2
	config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	config.SleepTimeThreshold = 0.1
	sim := NewSimulation(config)
	sim.AddStatic(NewStaticDescription(NewPose(mgl64.Vec3{0, -1, 0}), sim.Shapes.Add(NewBox(20, 2, 20))))

	sphere := sim.Shapes.Add(NewSphere(0.5))
	dumbbell := NewCompound([]CompoundChild{
		{Shape: sphere, LocalPose: NewPose(mgl64.Vec3{-1, 0, 0})},
		{Shape: sphere, LocalPose: NewPose(mgl64.Vec3{1, 0, 0})},
	}, sim.Shapes)
	inertia, _ := dumbbell.ComputeInertia([]float64{1, 1}, sim.Shapes)
	shape := sim.Shapes.Add(dumbbell)
	body := sim.AddBody(shape, NewPose(mgl64.Vec3{0, 0.4, 0}), BodyVelocity{}, inertia)

	sim.Timestep(1.0 / 60)
	require.Equal(t, 1, sim.NarrowPhase.PairCache.Count())
	for i := range sim.NarrowPhase.PairCache.Workers {
		w := &sim.NarrowPhase.PairCache.Workers[i]
		require.Zero(t, w.pool.Outstanding(), "worker %d", i)
		require.Zero(t, w.ctx.pool.Outstanding(), "worker %d", i)
	}
	// The span used for the dumbbell's child contacts went back to the pool.
	require.Positive(t, cachedSpans(sim.NarrowPhase.PairCache.Workers[0].ctx.pool))
	require.Positive(t, cachedSpans(sim.NarrowPhase.PairCache.Workers[0].pool))

	require.True(t, sim.Overlap(shape, NewPose(mgl64.Vec3{0, 0.2, 0}), ShapeFilterAll, nil))
	require.Zero(t, sim.query.pool.Outstanding())

	require.True(t, sim.Sleep(body))
	require.Zero(t, sim.Sleeper.pool.Outstanding())
	require.Equal(t, 1, cachedSpans(sim.Sleeper.pool))

	// Automatic sleep rents its island lists from the same pool.
	idle := sim.AddBody(sphere, NewPose(mgl64.Vec3{10, 10, 0}), BodyVelocity{}, NewSphere(0.5).ComputeInertia(1))
	for range 30 {
		sim.Timestep(1.0 / 60)
	}
	require.False(t, sim.Body(idle).Awake())
	require.Zero(t, sim.Sleeper.pool.Outstanding())
}
