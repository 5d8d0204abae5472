package pointcloud

import (
	"iter"
	"slices"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/guidedgrasp/depthcloud/utils"
)

// MaxCapacity is the largest ring buffer NewRingBuffer will allocate.
const MaxCapacity = 50_000_000

var (
	// ErrInvalidCapacity is returned for a non-positive or oversized capacity.
	ErrInvalidCapacity = errors.New("invalid ring buffer capacity")
	// ErrIndexOutOfRange is returned when reading a slot that holds no point.
	ErrIndexOutOfRange = errors.New("index out of range")
)

// RingBuffer is a fixed-capacity store of accumulated points. Once full, every write overwrites
// the oldest surviving point. Storage is allocated once and never grows.
//
// A RingBuffer is safe for one writer and any number of concurrent readers. A batch passed to
// Write becomes visible to readers all at once.
type RingBuffer struct {
	mu      sync.RWMutex
	ring    *utils.Ring[AccumulatedPoint]
	version uint64
}

// NewRingBuffer allocates a buffer for capacity points.
func NewRingBuffer(capacity int) (*RingBuffer, error) {
	if capacity <= 0 || capacity > MaxCapacity {
		return nil, errors.Wrapf(ErrInvalidCapacity, "%d not in [1, %d]", capacity, MaxCapacity)
	}
	ring, err := utils.NewRing[AccumulatedPoint](capacity)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidCapacity, err.Error())
	}
	return &RingBuffer{ring: ring}, nil
}

// Write appends the batch in order, wrapping around once the buffer is full.
func (rb *RingBuffer) Write(points []AccumulatedPoint) {
	if len(points) == 0 {
		return
	}
	rb.mu.Lock()
	defer rb.mu.Unlock()
	for _, p := range points {
		rb.ring.Push(p)
	}
	rb.version++
}

// WriteSeq drains seq and writes the points as a single batch.
func (rb *RingBuffer) WriteSeq(seq iter.Seq[AccumulatedPoint]) int {
	points := slices.Collect(seq)
	rb.Write(points)
	return len(points)
}

// At returns the point in physical slot i, for i in [0, Size()).
func (rb *RingBuffer) At(i int) (AccumulatedPoint, error) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	p, err := rb.ring.At(i)
	if err != nil {
		return AccumulatedPoint{}, errors.Wrapf(ErrIndexOutOfRange, "slot %d of %d", i, rb.ring.Len())
	}
	return p, nil
}

// Snapshot copies the valid points, oldest first.
func (rb *RingBuffer) Snapshot() Points {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.ring.AppendTo(make(Points, 0, rb.ring.Len()))
}

// Positions copies the positions of the valid points, oldest first.
func (rb *RingBuffer) Positions() []r3.Vector {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	out := make([]r3.Vector, 0, rb.ring.Len())
	for p := range rb.ring.All() {
		out = append(out, p.Position)
	}
	return out
}

// Iterate calls fn for every valid point, oldest first, while holding the read lock. fn must not
// write to the buffer.
func (rb *RingBuffer) Iterate(fn func(p AccumulatedPoint) bool) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	for p := range rb.ring.All() {
		if !fn(p) {
			return
		}
	}
}

// Size returns the number of valid points. It saturates at Capacity.
func (rb *RingBuffer) Size() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.ring.Len()
}

// Capacity returns the fixed capacity.
func (rb *RingBuffer) Capacity() int {
	return rb.ring.Cap()
}

// WriteIndex returns the slot the next point will be written to.
func (rb *RingBuffer) WriteIndex() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.ring.Next()
}

// TotalWritten returns the number of points ever written, including overwritten ones.
func (rb *RingBuffer) TotalWritten() uint64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.ring.Written()
}

// Version changes every time the contents change.
func (rb *RingBuffer) Version() uint64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.version
}

// Reset empties the buffer.
func (rb *RingBuffer) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.ring.Reset()
	rb.version++
}
