package utils

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.viam.com/test"
	gutils "go.viam.com/utils"
)

func TestChunkBounds(t *testing.T) {
	covered := 0
	for i := range 4 {
		from, to := chunkBounds(i, 4, 10)
		test.That(t, from, test.ShouldEqual, covered)
		covered = to
	}
	test.That(t, covered, test.ShouldEqual, 10)

	from, to := chunkBounds(3, 4, 10)
	test.That(t, from, test.ShouldEqual, 6)
	test.That(t, to, test.ShouldEqual, 10)
}

func TestParallelFilterMap(t *testing.T) {
	for _, total := range []int{0, 1, 7, 1000} {
		var calls atomic.Int32
		evens, err := ParallelFilterMap(context.Background(), total, func(i int) (int, bool) {
			calls.Add(1)
			return i * 10, i%2 == 0
		})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, int(calls.Load()), test.ShouldEqual, total)
		test.That(t, len(evens), test.ShouldEqual, (total+1)/2)
		for j, v := range evens {
			test.That(t, v, test.ShouldEqual, j*20)
		}
	}
}

func TestParallelFilterMapCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := ParallelFilterMap(ctx, 100, func(i int) (int, bool) {
		t.Error("work ran after cancellation")
		return i, true
	})
	test.That(t, err, test.ShouldBeError, context.Canceled)
	test.That(t, out, test.ShouldBeNil)
}

func TestStoppableWorkers(t *testing.T) {
	var ticks atomic.Int32
	workers := NewStoppableWorkers(func(ctx context.Context) {
		for gutils.SelectContextOrWait(ctx, time.Millisecond) {
			ticks.Add(1)
		}
	})
	test.That(t, workers.Stopped(), test.ShouldBeFalse)
	time.Sleep(20 * time.Millisecond)
	workers.Stop()
	workers.Stop()
	test.That(t, workers.Stopped(), test.ShouldBeTrue)
	stopped := ticks.Load()
	test.That(t, stopped, test.ShouldBeGreaterThan, 0)

	workers.Add(func(ctx context.Context) { ticks.Add(100) })
	time.Sleep(5 * time.Millisecond)
	test.That(t, ticks.Load(), test.ShouldEqual, stopped)
}
