// Package utils contains small concurrency and container helpers shared by the pipeline packages.
package utils

import (
	"context"
	"runtime"
	"sync"

	"go.viam.com/utils"
)

// ParallelFactor is the most goroutines a single parallel operation fans out to. Tests may lower
// it when parallelism slows them down in aggregate.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
	quarterProcs := float64(ParallelFactor) * .25
	if quarterProcs > 8 {
		ParallelFactor = int(quarterProcs)
	}
}

// chunkBounds returns the half-open range of chunk i when total items are split into n chunks.
// The last chunk takes the remainder.
func chunkBounds(i, n, total int) (int, int) {
	size := total / n
	from := size * i
	to := from + size
	if i == n-1 {
		to = total
	}
	return from, to
}

// ParallelFilterMap runs fn on every index of [0, total), split into at most ParallelFactor
// contiguous chunks that run concurrently. The values for which fn reports true are returned in
// index order. Chunks check ctx between items; once it is done ParallelFilterMap returns the
// context error and no values.
func ParallelFilterMap[T any](ctx context.Context, total int, fn func(i int) (T, bool)) ([]T, error) {
	numChunks := min(ParallelFactor, total)
	if numChunks <= 0 {
		return nil, ctx.Err()
	}

	chunks := make([][]T, numChunks)
	var wait sync.WaitGroup
	wait.Add(numChunks)
	for chunk := range numChunks {
		utils.PanicCapturingGo(func() {
			defer wait.Done()
			from, to := chunkBounds(chunk, numChunks, total)
			found := make([]T, 0, to-from)
			for i := from; i < to; i++ {
				if ctx.Err() != nil {
					return
				}
				if v, ok := fn(i); ok {
					found = append(found, v)
				}
			}
			chunks[chunk] = found
		})
	}
	wait.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	count := 0
	for _, c := range chunks {
		count += len(c)
	}
	out := make([]T, 0, count)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out, nil
}
