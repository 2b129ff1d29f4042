package cm3

import "math/bits"

// maximumSpanPower bounds the largest span a pool hands out (2^30 elements).
const maximumSpanPower = 30

// Buffer is a span checked out of a BufferPool. The zero value is an unallocated buffer.
type Buffer[T any] struct {
	Span  []T
	power int
}

// Len returns the capacity of the span.
func (b Buffer[T]) Len() int {
	return len(b.Span)
}

// Allocated reports whether the buffer currently holds a span.
func (b Buffer[T]) Allocated() bool {
	return b.Span != nil
}

// BufferPool hands out power-of-two sized spans of T and takes them back for reuse.
// A pool is confined to one goroutine at a time; workers own their own pools.
type BufferPool[T any] struct {
	free        [maximumSpanPower + 1][][]T
	outstanding int
}

// NewBufferPool returns an empty pool.
func NewBufferPool[T any]() *BufferPool[T] {
	return &BufferPool[T]{}
}

func spanPower(count int) int {
	if count <= 1 {
		return 0
	}
	return bits.Len(uint(count - 1))
}

// Take checks out a span holding at least count elements. The span is zeroed.
func (p *BufferPool[T]) Take(count int) Buffer[T] {
	assert(count >= 0, "cm3: negative buffer size %d", count)
	power := spanPower(count)
	assert(power <= maximumSpanPower, "cm3: buffer size %d exceeds the pool limit", count)
	p.outstanding++
	stack := p.free[power]
	if n := len(stack); n > 0 {
		span := stack[n-1]
		p.free[power] = stack[:n-1]
		clear(span)
		return Buffer[T]{Span: span, power: power}
	}
	return Buffer[T]{Span: make([]T, 1<<power), power: power}
}

// Return gives the span back to the pool and resets the buffer.
func (p *BufferPool[T]) Return(b *Buffer[T]) {
	if !b.Allocated() {
		return
	}
	assert(len(b.Span) == 1<<b.power, "cm3: returned span of %d elements does not match its pool slot %d", len(b.Span), 1<<b.power)
	assert(p.outstanding > 0, "cm3: buffer returned to a pool with no outstanding spans")
	p.outstanding--
	p.free[b.power] = append(p.free[b.power], b.Span)
	*b = Buffer[T]{}
}

// Resize replaces b with a span of at least count elements, copying the first
// copyCount elements across.
func (p *BufferPool[T]) Resize(b *Buffer[T], count, copyCount int) {
	if b.Allocated() && spanPower(count) == b.power {
		return
	}
	next := p.Take(count)
	if b.Allocated() {
		assert(copyCount <= len(b.Span) && copyCount <= len(next.Span), "cm3: copy count %d out of range", copyCount)
		copy(next.Span, b.Span[:copyCount])
		p.Return(b)
	}
	*b = next
}

// Outstanding returns the number of spans currently checked out.
func (p *BufferPool[T]) Outstanding() int {
	return p.outstanding
}

// Clear drops all cached spans. Outstanding spans stay valid.
func (p *BufferPool[T]) Clear() {
	for i := range p.free {
		p.free[i] = nil
	}
}

// WithBuffer checks out a span of count elements for the duration of f and
// returns it on every exit path, panics included.
func WithBuffer[T any](p *BufferPool[T], count int, f func(span []T)) {
	buf := p.Take(count)
	defer p.Return(&buf)
	f(buf.Span[:count])
}

// QuickList is a growable list backed by pooled spans.
type QuickList[T any] struct {
	Buffer Buffer[T]
	Count  int
}

// NewQuickList takes an initial span from the pool.
func NewQuickList[T any](pool *BufferPool[T], capacity int) QuickList[T] {
	return QuickList[T]{Buffer: pool.Take(max(capacity, 1))}
}

// Add appends item, growing through the pool when full.
func (l *QuickList[T]) Add(pool *BufferPool[T], item T) {
	*l.Allocate(pool) = item
}

// Allocate appends a zero element and returns a pointer to it.
func (l *QuickList[T]) Allocate(pool *BufferPool[T]) *T {
	if l.Count == l.Buffer.Len() {
		pool.Resize(&l.Buffer, max(l.Count*2, 4), l.Count)
	}
	item := &l.Buffer.Span[l.Count]
	var zero T
	*item = zero
	l.Count++
	return item
}

// Slice returns the live elements.
func (l *QuickList[T]) Slice() []T {
	return l.Buffer.Span[:l.Count]
}

// Clear empties the list without releasing the span.
func (l *QuickList[T]) Clear() {
	l.Count = 0
}

// Dispose returns the span to the pool.
func (l *QuickList[T]) Dispose(pool *BufferPool[T]) {
	pool.Return(&l.Buffer)
	l.Count = 0
}
