// Package mask implements the fixed-capacity bit set used throughout
// dagcore to identify selected elements of an output vector, along with
// the (Output, Mask) pairing used to key dependency-cache requests.
package mask

import (
	"math/bits"

	"github.com/cespare/xxhash/v2"
)

const wordBits = 64

// Mask is a fixed-capacity bit set. The zero value is a capacity-0 empty
// mask. Two masks are equal iff their bit contents are equal, regardless
// of capacity padding, so capacity is not part of Equal's contract beyond
// what the set bits imply.
type Mask struct {
	capacity int
	words    []uint64
}

// New returns an empty mask able to hold bits [0, capacity).
func New(capacity int) Mask {
	if capacity <= 0 {
		return Mask{}
	}
	return Mask{capacity: capacity, words: make([]uint64, wordCount(capacity))}
}

// All returns the all-ones mask of the given capacity.
func All(capacity int) Mask {
	m := New(capacity)
	for i := range m.words {
		m.words[i] = ^uint64(0)
	}
	m.clearTail()
	return m
}

func wordCount(capacity int) int {
	return (capacity + wordBits - 1) / wordBits
}

// Capacity returns the number of addressable bit positions.
func (m Mask) Capacity() int { return m.capacity }

// clearTail zeroes bits beyond capacity in the last word so popcount,
// equality and hashing never see stray high bits from All/Clone.
func (m Mask) clearTail() {
	if m.capacity == 0 || m.capacity%wordBits == 0 {
		return
	}
	last := len(m.words) - 1
	validBits := uint(m.capacity % wordBits)
	m.words[last] &= (uint64(1) << validBits) - 1
}

// Clone returns an independent copy.
func (m Mask) Clone() Mask {
	if m.capacity == 0 {
		return Mask{}
	}
	words := make([]uint64, len(m.words))
	copy(words, m.words)
	return Mask{capacity: m.capacity, words: words}
}

// Set marks bit i as present. Panics if i is out of range.
func (m Mask) Set(i int) {
	m.checkRange(i)
	m.words[i/wordBits] |= uint64(1) << uint(i%wordBits)
}

// Clear removes bit i.
func (m Mask) Clear(i int) {
	m.checkRange(i)
	m.words[i/wordBits] &^= uint64(1) << uint(i%wordBits)
}

// Test reports whether bit i is present.
func (m Mask) Test(i int) bool {
	m.checkRange(i)
	return m.words[i/wordBits]&(uint64(1)<<uint(i%wordBits)) != 0
}

func (m Mask) checkRange(i int) {
	if i < 0 || i >= m.capacity {
		panic("mask: bit index out of range")
	}
}

// IsEmpty reports whether no bits are set.
func (m Mask) IsEmpty() bool {
	for _, w := range m.words {
		if w != 0 {
			return false
		}
	}
	return true
}

// Count returns the number of set bits, using a hardware popcount per word.
func (m Mask) Count() int {
	n := 0
	for _, w := range m.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// First returns the lowest set bit position, or -1 if empty.
func (m Mask) First() int {
	for wi, w := range m.words {
		if w != 0 {
			return wi*wordBits + bits.TrailingZeros64(w)
		}
	}
	return -1
}

// Last returns the highest set bit position, or -1 if empty.
func (m Mask) Last() int {
	for wi := len(m.words) - 1; wi >= 0; wi-- {
		if w := m.words[wi]; w != 0 {
			return wi*wordBits + (wordBits - 1 - bits.LeadingZeros64(w))
		}
	}
	return -1
}

// ForEachSet calls fn for every set bit position, in increasing order.
// Iteration stops early if fn returns false.
func (m Mask) ForEachSet(fn func(pos int) bool) {
	for wi, w := range m.words {
		for w != 0 {
			tz := bits.TrailingZeros64(w)
			pos := wi*wordBits + tz
			if !fn(pos) {
				return
			}
			w &= w - 1
		}
	}
}

// maxWords returns the larger of the two masks' word counts.
// Differently-capacitated masks are padded to the longer's word count;
// this mirrors fixed-capacity semantics where capacity is a property of
// the producing output and union/intersect only ever happen between
// masks of the same output.
func maxWords(a, b Mask) int {
	if len(a.words) > len(b.words) {
		return len(a.words)
	}
	return len(b.words)
}

func wordAt(m Mask, i int) uint64 {
	if i < len(m.words) {
		return m.words[i]
	}
	return 0
}

// Union returns the bitwise union (OR) of a and b.
func Union(a, b Mask) Mask {
	n := maxWords(a, b)
	cap := a.capacity
	if b.capacity > cap {
		cap = b.capacity
	}
	out := Mask{capacity: cap, words: make([]uint64, n)}
	for i := 0; i < n; i++ {
		out.words[i] = wordAt(a, i) | wordAt(b, i)
	}
	out.clearTail()
	return out
}

// Intersect returns the bitwise intersection (AND) of a and b.
func Intersect(a, b Mask) Mask {
	n := maxWords(a, b)
	cap := a.capacity
	if b.capacity > cap {
		cap = b.capacity
	}
	out := Mask{capacity: cap, words: make([]uint64, n)}
	for i := 0; i < n; i++ {
		out.words[i] = wordAt(a, i) & wordAt(b, i)
	}
	out.clearTail()
	return out
}

// Difference returns bits set in a but not in b (a &^ b).
func Difference(a, b Mask) Mask {
	n := maxWords(a, b)
	cap := a.capacity
	if b.capacity > cap {
		cap = b.capacity
	}
	out := Mask{capacity: cap, words: make([]uint64, n)}
	for i := 0; i < n; i++ {
		out.words[i] = wordAt(a, i) &^ wordAt(b, i)
	}
	out.clearTail()
	return out
}

// Intersects reports whether a and b share any set bit, without
// allocating a combined mask.
func Intersects(a, b Mask) bool {
	n := maxWords(a, b)
	for i := 0; i < n; i++ {
		if wordAt(a, i)&wordAt(b, i) != 0 {
			return true
		}
	}
	return false
}

// Equal reports whether a and b have identical bit contents.
func Equal(a, b Mask) bool {
	n := maxWords(a, b)
	for i := 0; i < n; i++ {
		if wordAt(a, i) != wordAt(b, i) {
			return false
		}
	}
	return true
}

// FastHash returns a cheap hash of the mask's contents. Rather than
// hashing every word (expensive for wide masks used as map keys in hot
// traversal paths), it samples the word count, the first two words and
// the last word — enough entropy to keep collision rates low for the
// request-keying use case without walking the whole bit vector.
func (m Mask) FastHash() uint64 {
	var buf [4 * 8]byte
	putWord := func(off int, w uint64) {
		for i := 0; i < 8; i++ {
			buf[off+i] = byte(w >> (8 * i))
		}
	}
	putWord(0, uint64(len(m.words)))
	putWord(8, wordAt(m, 0))
	putWord(16, wordAt(m, 1))
	last := uint64(0)
	if n := len(m.words); n > 0 {
		last = m.words[n-1]
	}
	putWord(24, last)
	return xxhash.Sum64(buf[:])
}
