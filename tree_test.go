package cm3

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/require"
)

func randomBounds(rng *rand.Rand, n int, spread float64) []BB {
	bounds := make([]BB, n)
	for i := range bounds {
		c := mgl64.Vec3{rng.Float64() * spread, rng.Float64() * spread, rng.Float64() * spread}
		h := mgl64.Vec3{0.5 + rng.Float64()*2, 0.5 + rng.Float64()*2, 0.5 + rng.Float64()*2}
		bounds[i] = NewBBForExtents(c, h)
	}
	return bounds
}

func unionOf(bounds []BB) BB {
	u := EmptyBB()
	for _, bb := range bounds {
		u = u.Merge(bb)
	}
	return u
}

type leafPair [2]int

func orderedPair(a, b int) leafPair {
	if a > b {
		a, b = b, a
	}
	return leafPair{a, b}
}

func bruteSelfOverlaps(bounds []BB) map[leafPair]bool {
	pairs := make(map[leafPair]bool)
	for i := range bounds {
		for j := i + 1; j < len(bounds); j++ {
			if bounds[i].Intersects(bounds[j]) {
				pairs[leafPair{i, j}] = true
			}
		}
	}
	return pairs
}

func treeSelfOverlaps(t *testing.T, tree *Tree) map[leafPair]bool {
	pairs := make(map[leafPair]bool)
	tree.GetSelfOverlaps(func(a, b int) {
		require.NotEqual(t, a, b)
		p := orderedPair(a, b)
		require.False(t, pairs[p], "pair %v reported twice", p)
		pairs[p] = true
	})
	return pairs
}

func buildTree(bounds []BB) *Tree {
	tree := NewTree(len(bounds))
	for _, bb := range bounds {
		tree.Add(bb)
	}
	return tree
}

func TestTreeAdd(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	bounds := randomBounds(rng, 300, 100)
	tree := NewTree(4)
	for i, bb := range bounds {
		require.Equal(t, i, tree.Add(bb))
		require.NoError(t, tree.Validate())
	}
	require.Equal(t, len(bounds), tree.LeafCount())
	require.Equal(t, len(bounds)-1, tree.NodeCount())
	for i, bb := range bounds {
		require.Equal(t, bb, tree.GetBounds(i))
	}
	require.Equal(t, unionOf(bounds), tree.RootBounds())
}

func TestTreeSmall(t *testing.T) {
	tree := NewTree(0)
	require.NoError(t, tree.Validate())
	require.Equal(t, EmptyBB(), tree.RootBounds())

	a := NewBBForSphere(mgl64.Vec3{}, 1)
	b := NewBBForSphere(mgl64.Vec3{5, 0, 0}, 1)
	tree.Add(a)
	require.NoError(t, tree.Validate())
	require.Equal(t, a, tree.RootBounds())
	tree.Add(b)
	require.NoError(t, tree.Validate())
	require.Equal(t, a.Merge(b), tree.RootBounds())

	require.Equal(t, 1, tree.RemoveAt(0))
	require.NoError(t, tree.Validate())
	require.Equal(t, b, tree.GetBounds(0))
	require.Equal(t, -1, tree.RemoveAt(0))
	require.NoError(t, tree.Validate())
	require.Zero(t, tree.NodeCount())
}

func TestTreeRemove(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	bounds := randomBounds(rng, 200, 60)
	tree := buildTree(bounds)

	for len(bounds) > 0 {
		i := rng.IntN(len(bounds))
		moved := tree.RemoveAt(i)
		last := len(bounds) - 1
		if i != last {
			require.Equal(t, last, moved)
			bounds[i] = bounds[last]
		} else {
			require.Equal(t, -1, moved)
		}
		bounds = bounds[:last]

		require.NoError(t, tree.Validate())
		require.Equal(t, len(bounds), tree.LeafCount())
		for j, bb := range bounds {
			require.Equal(t, bb, tree.GetBounds(j))
		}
	}
}

func TestTreeRefit(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	bounds := randomBounds(rng, 128, 50)
	tree := buildTree(bounds)

	for i := range bounds {
		bounds[i] = bounds[i].Offset(mgl64.Vec3{rng.Float64()*10 - 5, rng.Float64()*10 - 5, 0})
		tree.UpdateBounds(i, bounds[i])
	}
	tree.Refit()
	require.NoError(t, tree.Validate())
	require.Equal(t, unionOf(bounds), tree.RootBounds())

	// Adding after a refit keeps the tree consistent.
	extra := randomBounds(rng, 10, 50)
	for _, bb := range extra {
		tree.Add(bb)
	}
	require.NoError(t, tree.Validate())
}

func TestTreeSweepBuild(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 8))
	for _, n := range []int{0, 1, 2, 3, 17, 1000} {
		bounds := randomBounds(rng, n, 200)
		tree := NewTree(n)
		tree.SweepBuild(bounds)
		require.NoError(t, tree.Validate(), "n=%d", n)
		require.Equal(t, n, tree.LeafCount())
		for i, bb := range bounds {
			require.Equal(t, bb, tree.GetBounds(i))
		}
		if n > 0 {
			require.Equal(t, unionOf(bounds), tree.RootBounds())
		}
	}
}

func TestTreeSelfOverlaps(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 10))
	bounds := randomBounds(rng, 400, 40)
	want := bruteSelfOverlaps(bounds)
	require.NotEmpty(t, want)

	require.Equal(t, want, treeSelfOverlaps(t, buildTree(bounds)))

	built := NewTree(len(bounds))
	built.SweepBuild(bounds)
	require.Equal(t, want, treeSelfOverlaps(t, built))
}

func TestTreeOverlapsWith(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 12))
	a := randomBounds(rng, 150, 40)
	b := randomBounds(rng, 90, 40)
	want := make(map[leafPair]bool)
	for i := range a {
		for j := range b {
			if a[i].Intersects(b[j]) {
				want[leafPair{i, j}] = true
			}
		}
	}
	got := make(map[leafPair]bool)
	buildTree(a).GetOverlapsWith(buildTree(b), func(i, j int) {
		got[leafPair{i, j}] = true
	})
	require.Equal(t, want, got)
}

func TestTreeGetOverlaps(t *testing.T) {
	rng := rand.New(rand.NewPCG(13, 14))
	bounds := randomBounds(rng, 250, 80)
	tree := buildTree(bounds)
	for range 20 {
		query := randomBounds(rng, 1, 80)[0].Grow(5)
		want := map[int]bool{}
		for i, bb := range bounds {
			if bb.Intersects(query) {
				want[i] = true
			}
		}
		got := map[int]bool{}
		tree.GetOverlaps(query, func(i int) {
			got[i] = true
		})
		require.Equal(t, want, got)
	}
}

func TestTreeRayCast(t *testing.T) {
	rng := rand.New(rand.NewPCG(15, 16))
	bounds := randomBounds(rng, 400, 20)
	tree := buildTree(bounds)
	origin := mgl64.Vec3{-5, 10, 10}
	direction := mgl64.Vec3{1, 0.05, -0.02}
	maxT := 50.0

	want := map[int]bool{}
	best := math.Inf(1)
	for i, bb := range bounds {
		if bb.IntersectsRay(origin, direction, maxT) {
			want[i] = true
			best = math.Min(best, bb.RayQuery(origin, direction, maxT))
		}
	}
	require.NotEmpty(t, want)

	got := map[int]bool{}
	limit := maxT
	tree.RayCast(origin, direction, &limit, func(i int, _ *float64) {
		got[i] = true
	})
	require.Equal(t, want, got)

	// Testers shrinking maxT still find the nearest entry.
	closest := math.Inf(1)
	limit = maxT
	tree.RayCast(origin, direction, &limit, func(i int, tMax *float64) {
		if tt := bounds[i].RayQuery(origin, direction, *tMax); tt <= *tMax {
			closest = math.Min(closest, tt)
			*tMax = tt
		}
	})
	require.Equal(t, best, closest)
}
