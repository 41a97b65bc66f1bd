// Package databuffer implements the per-output buffer lifecycle (C7):
// three slots per output — private, public, scratch — each a value
// vector paired with a mask of valid elements, with the ownership
// transfer rules the parallel executor engine (C8) relies on.
package databuffer

import (
	"sync"

	"github.com/flowmesh/dagcore/pkg/mask"
)

// Slot is one (value vector, validity mask) pair.
type Slot struct {
	Values []any
	Valid  mask.Mask
}

// newSlot allocates a slot sized for capacity, empty.
func newSlot(capacity int) Slot {
	return Slot{Values: make([]any, capacity), Valid: mask.New(capacity)}
}

// Merge writes src's elements selected by keep into the receiver,
// growing Values if necessary, and returns the updated slot. Used to
// fold a private buffer into scratch, or to absorb residual public
// data before a publish.
func (s Slot) Merge(src Slot, keep mask.Mask) Slot {
	if len(s.Values) < len(src.Values) {
		grown := make([]any, len(src.Values))
		copy(grown, s.Values)
		s.Values = grown
	}
	if s.Valid.Capacity() < src.Valid.Capacity() {
		grown := mask.New(src.Valid.Capacity())
		s.Valid.ForEachSet(func(i int) bool { grown.Set(i); return true })
		s.Valid = grown
	}
	keep.ForEachSet(func(i int) bool {
		if i >= len(src.Values) || !src.Valid.Test(i) {
			return true
		}
		s.Values[i] = src.Values[i]
		s.Valid.Set(i)
		return true
	})
	return s
}

// Buffer holds the private/public/scratch slots for a single output.
type Buffer struct {
	mu      sync.RWMutex
	Private Slot
	Public  Slot
	Scratch Slot
}

// New allocates an output's buffer, every slot empty with the given
// element capacity.
func New(capacity int) *Buffer {
	return &Buffer{
		Private: newSlot(capacity),
		Public:  newSlot(capacity),
		Scratch: newSlot(capacity),
	}
}

// EnsureScratchSized grows Scratch to at least capacity elements. Must
// be called during PrepNode so concurrent invocations never trigger a
// resize of a slot another goroutine is merging into.
func (b *Buffer) EnsureScratchSized(capacity int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.Scratch.Values) >= capacity {
		return
	}
	grown := newSlot(capacity)
	grown = grown.Merge(b.Scratch, b.Scratch.Valid)
	b.Scratch = grown
}

// TakePrivate transfers ownership of the private slot to the caller,
// resetting the buffer's own copy to empty. This is the zero-copy
// pointer-move the spec calls for: the caller becomes sole owner of the
// returned slice and mask.
func (b *Buffer) TakePrivate(capacity int) Slot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.Private
	b.Private = newSlot(capacity)
	return s
}

// SetPrivate installs a freshly computed private slot, as the owning
// compute task.
func (b *Buffer) SetPrivate(s Slot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Private = s
}

// MergeIntoScratch folds src's keep-masked elements into Scratch.
func (b *Buffer) MergeIntoScratch(src Slot, keep mask.Mask) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Scratch = b.Scratch.Merge(src, keep)
}

// PublishPrivate makes the private slot the new public value,
// transferring ownership (no copy), then resets private to empty.
func (b *Buffer) PublishPrivate(capacity int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Public = b.Private
	b.Private = newSlot(capacity)
}

// PublishScratch makes the scratch slot the new public value,
// transferring ownership, then resets scratch to empty.
func (b *Buffer) PublishScratch(capacity int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Public = b.Scratch
	b.Scratch = newSlot(capacity)
}

// AbsorbPublicResidual folds any still-valid public element not covered
// by private's mask into scratch, preserving data a partial compute
// would otherwise clobber (mung-buffer-lock preservation).
func (b *Buffer) AbsorbPublicResidual() {
	b.mu.Lock()
	defer b.mu.Unlock()
	residual := mask.Difference(b.Public.Valid, b.Private.Valid)
	b.Scratch = b.Scratch.Merge(b.Public, residual)
}

// Invalidate resets every slot (private, public, scratch) to empty,
// forcing the next consumer to observe a cache-miss and recompute. This
// is stronger than ResetComputedMasks: it also clears Public, which
// ResetComputedMasks deliberately leaves alone for the interruption
// case.
func (b *Buffer) Invalidate(capacity int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Private = newSlot(capacity)
	b.Public = newSlot(capacity)
	b.Scratch = newSlot(capacity)
}

// ReadPublic returns a read-only snapshot of the public slot.
func (b *Buffer) ReadPublic() Slot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.Public
}

// ResetComputedMasks clears Private and Scratch validity without
// touching Public, used when a task is interrupted so downstream
// consumers observe cache-miss rather than a partially computed value.
func (b *Buffer) ResetComputedMasks(capacity int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Private = newSlot(capacity)
	b.Scratch = newSlot(capacity)
}
