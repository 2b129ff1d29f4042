package cm3

import "math"

// BodyLayoutOptimizer slowly reorders the active set so that bodies sharing
// constraints end up in neighbouring slots. Each pass only looks at a small
// fraction of the bodies, continuing where the last pass stopped.
type BodyLayoutOptimizer struct {
	OptimizationFraction float64
	cursor               int32
	connected            []int32
}

// NewBodyLayoutOptimizer returns an optimizer visiting fraction of the active
// bodies per pass.
func NewBodyLayoutOptimizer(fraction float64) *BodyLayoutOptimizer {
	return &BodyLayoutOptimizer{OptimizationFraction: fraction}
}

// IncrementalOptimize runs one pass. For every visited body, connected bodies
// found further right are pulled into the slots right after it.
func (o *BodyLayoutOptimizer) IncrementalOptimize(bodies *Bodies, solver *Solver) {
	n := int32(bodies.ActiveSet().Count())
	if n <= 2 || o.OptimizationFraction <= 0 {
		return
	}
	count := int(math.Ceil(o.OptimizationFraction * float64(n)))
	for range count {
		if o.cursor >= n-1 {
			o.cursor = 0
		}
		o.optimize(bodies, solver, o.cursor, n)
		o.cursor++
	}
}

func (o *BodyLayoutOptimizer) optimize(bodies *Bodies, solver *Solver, index, n int32) {
	o.connected = o.connected[:0]
	bodies.EnumerateConnectedBodyIndices(solver, index, func(c int32) {
		o.connected = append(o.connected, c)
	})
	next := index + 1
	swaps := 0
	for i := 0; i < len(o.connected) && swaps < MaximumSwapsPerBody && next < n; i++ {
		c := o.connected[i]
		switch {
		case c == next:
			next++
		case c > next:
			bodies.Swap(next, c, solver)
			// Later entries may name either of the two swapped slots.
			for j := i + 1; j < len(o.connected); j++ {
				switch o.connected[j] {
				case next:
					o.connected[j] = c
				case c:
					o.connected[j] = next
				}
			}
			next++
			swaps++
		}
	}
}
