package utils

import (
	"iter"

	"github.com/pkg/errors"
)

// ErrRingIndexOutOfRange is returned by Ring.At for a slot outside [0, Len()).
var ErrRingIndexOutOfRange = errors.New("ring index out of range")

// Ring is a fixed-capacity circular store with overwrite-oldest eviction. The backing slice is
// allocated once by NewRing and never grows. Ring is not safe for concurrent use.
type Ring[T any] struct {
	items   []T
	next    int
	count   int
	written uint64
}

// NewRing allocates a ring holding at most capacity items. capacity must be positive.
func NewRing[T any](capacity int) (*Ring[T], error) {
	if capacity <= 0 {
		return nil, errors.Errorf("ring capacity must be positive, got %d", capacity)
	}
	return &Ring[T]{items: make([]T, capacity)}, nil
}

// Push stores v in the next slot, evicting the oldest item once the ring is full.
func (r *Ring[T]) Push(v T) {
	r.items[r.next] = v
	r.next++
	if r.next == len(r.items) {
		r.next = 0
	}
	if r.count < len(r.items) {
		r.count++
	}
	r.written++
}

// Len is the number of valid items, saturating at Cap.
func (r *Ring[T]) Len() int {
	return r.count
}

// Cap is the fixed capacity.
func (r *Ring[T]) Cap() int {
	return len(r.items)
}

// Next is the physical slot the next Push writes to.
func (r *Ring[T]) Next() int {
	return r.next
}

// Written is the number of items ever pushed, including evicted ones.
func (r *Ring[T]) Written() uint64 {
	return r.written
}

// At returns the item in physical slot i.
func (r *Ring[T]) At(i int) (T, error) {
	var zero T
	if i < 0 || i >= r.count {
		return zero, errors.Wrapf(ErrRingIndexOutOfRange, "slot %d with %d valid", i, r.count)
	}
	return r.items[i], nil
}

// oldest is the physical slot of the oldest surviving item.
func (r *Ring[T]) oldest() int {
	if r.count < len(r.items) {
		return 0
	}
	return r.next
}

// All yields the valid items from oldest to newest.
func (r *Ring[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		start := r.oldest()
		for i := 0; i < r.count; i++ {
			slot := start + i
			if slot >= len(r.items) {
				slot -= len(r.items)
			}
			if !yield(r.items[slot]) {
				return
			}
		}
	}
}

// AppendTo appends the valid items, oldest first, to dst and returns the extended slice.
func (r *Ring[T]) AppendTo(dst []T) []T {
	start := r.oldest()
	head := r.items[start:]
	if len(head) > r.count {
		head = head[:r.count]
	}
	dst = append(dst, head...)
	return append(dst, r.items[:r.count-len(head)]...)
}

// Reset forgets every item without releasing the backing storage.
func (r *Ring[T]) Reset() {
	clear(r.items[:r.count])
	r.next = 0
	r.count = 0
	r.written = 0
}
