package pointcloud

import (
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func numberedPoints(from, to int) []AccumulatedPoint {
	out := make([]AccumulatedPoint, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, NewColoredPoint(NewVector(float64(i), 0, 0), uint8(i), 0, 0))
	}
	return out
}

func TestRingBufferCapacity(t *testing.T) {
	for _, capacity := range []int{0, -1, MaxCapacity + 1} {
		_, err := NewRingBuffer(capacity)
		test.That(t, errors.Is(err, ErrInvalidCapacity), test.ShouldBeTrue)
	}
}

func TestRingBufferWraparound(t *testing.T) {
	rb, err := NewRingBuffer(5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rb.Size(), test.ShouldEqual, 0)
	test.That(t, rb.Snapshot(), test.ShouldBeEmpty)

	all := numberedPoints(0, 7)
	for _, p := range all {
		rb.Write([]AccumulatedPoint{p})
		test.That(t, rb.Size(), test.ShouldBeLessThanOrEqualTo, rb.Capacity())
		test.That(t, rb.WriteIndex(), test.ShouldBeGreaterThanOrEqualTo, 0)
		test.That(t, rb.WriteIndex(), test.ShouldBeLessThan, rb.Capacity())
	}
	test.That(t, rb.Size(), test.ShouldEqual, 5)
	test.That(t, rb.Capacity(), test.ShouldEqual, 5)
	test.That(t, rb.WriteIndex(), test.ShouldEqual, 2)
	test.That(t, rb.TotalWritten(), test.ShouldEqual, uint64(7))
	test.That(t, rb.Snapshot(), test.ShouldResemble, Points(all[2:]))

	// slot 0 was overwritten by P5
	p, err := rb.At(0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p, test.ShouldResemble, all[5])
	_, err = rb.At(5)
	test.That(t, errors.Is(err, ErrIndexOutOfRange), test.ShouldBeTrue)

	var iterated []AccumulatedPoint
	rb.Iterate(func(p AccumulatedPoint) bool {
		iterated = append(iterated, p)
		return len(iterated) < 3
	})
	test.That(t, iterated, test.ShouldResemble, all[2:5])
	test.That(t, rb.Positions()[0], test.ShouldResemble, all[2].Position)
}

func TestRingBufferBatchWrite(t *testing.T) {
	rb, err := NewRingBuffer(4)
	test.That(t, err, test.ShouldBeNil)
	v0 := rb.Version()

	rb.Write(nil)
	test.That(t, rb.Version(), test.ShouldEqual, v0)

	rb.Write(numberedPoints(0, 3))
	test.That(t, rb.Version(), test.ShouldEqual, v0+1)
	n := rb.WriteSeq(slices.Values(numberedPoints(3, 9)))
	test.That(t, n, test.ShouldEqual, 6)
	test.That(t, rb.Snapshot(), test.ShouldResemble, Points(numberedPoints(5, 9)))
	test.That(t, rb.TotalWritten(), test.ShouldEqual, uint64(9))

	rb.Reset()
	test.That(t, rb.Size(), test.ShouldEqual, 0)
	test.That(t, rb.WriteIndex(), test.ShouldEqual, 0)
	test.That(t, rb.Capacity(), test.ShouldEqual, 4)
	test.That(t, rb.Version(), test.ShouldEqual, v0+3)
}

func TestRingBufferConcurrentReaders(t *testing.T) {
	rb, err := NewRingBuffer(100)
	test.That(t, err, test.ShouldBeNil)
	batch := numberedPoints(0, 10)

	var torn atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			rb.Write(batch)
		}
	}()
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if len(rb.Snapshot())%len(batch) != 0 {
					torn.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	// batches are never torn
	test.That(t, torn.Load(), test.ShouldEqual, int32(0))
	test.That(t, rb.Size(), test.ShouldEqual, 100)
}
