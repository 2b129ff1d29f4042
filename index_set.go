package cm3

import "math/bits"

// IndexSet is a growable bitset of non-negative indices.
type IndexSet struct {
	flags []uint64
}

// Contains reports whether index is set.
func (s *IndexSet) Contains(index int32) bool {
	word := int(index >> 6)
	return word < len(s.flags) && s.flags[word]&(1<<(uint(index)&63)) != 0
}

// Add sets index.
func (s *IndexSet) Add(index int32) {
	word := int(index >> 6)
	for word >= len(s.flags) {
		s.flags = append(s.flags, 0)
	}
	s.flags[word] |= 1 << (uint(index) & 63)
}

// Remove clears index.
func (s *IndexSet) Remove(index int32) {
	if word := int(index >> 6); word < len(s.flags) {
		s.flags[word] &^= 1 << (uint(index) & 63)
	}
}

// CanFit reports whether none of the body handles are set.
func (s *IndexSet) CanFit(handles []BodyHandle) bool {
	for _, h := range handles {
		if s.Contains(int32(h)) {
			return false
		}
	}
	return true
}

// Count returns the number of set indices.
func (s *IndexSet) Count() int {
	n := 0
	for _, f := range s.flags {
		n += bits.OnesCount64(f)
	}
	return n
}

// Clear unsets every index.
func (s *IndexSet) Clear() {
	clear(s.flags)
}
