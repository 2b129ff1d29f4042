package cm3

// IdPool recycles small integer ids. Returned ids are handed out again before new ones.
type IdPool struct {
	nextIndex int32
	available []int32
}

// Take returns an unused id.
func (p *IdPool) Take() int32 {
	if n := len(p.available); n > 0 {
		id := p.available[n-1]
		p.available = p.available[:n-1]
		return id
	}
	id := p.nextIndex
	p.nextIndex++
	return id
}

// Return releases id for reuse. Returning the most recently created id shrinks the pool.
func (p *IdPool) Return(id int32) {
	assert(id >= 0 && id < p.nextIndex, "cm3: id %d was never taken", id)
	if id == p.nextIndex-1 {
		p.nextIndex--
		return
	}
	p.available = append(p.available, id)
}

// HighestPossiblyClaimedId is the exclusive upper bound of ids handed out so far.
func (p *IdPool) HighestPossiblyClaimedId() int32 {
	return p.nextIndex
}

// AvailableCount returns the number of ids waiting for reuse.
func (p *IdPool) AvailableCount() int {
	return len(p.available)
}

// Clear forgets every id.
func (p *IdPool) Clear() {
	p.nextIndex = 0
	p.available = p.available[:0]
}
