package rimage

import (
	"math"
	"sync"

	"github.com/golang/geo/r2"
)

// BuildSampleGrid lays roughly targetCount points over a width x height image on a staggered
// grid. Rows are spacing apart, with odd rows shifted right by half a spacing. The spacing is
// computed in single precision. Points that rounding or the stagger push past the bottom or right edge
// are dropped, so every point lies in [0, width) x [0, height). Non-positive inputs yield an empty
// grid.
func BuildSampleGrid(width, height, targetCount int) []r2.Point {
	if width <= 0 || height <= 0 || targetCount <= 0 {
		return nil
	}
	w, h := float32(width), float32(height)
	spacing := float32(math.Sqrt(float64(w * h / float32(targetCount))))
	cols := int(math.Round(float64(w / spacing)))
	rows := int(math.Round(float64(h / spacing)))

	grid := make([]r2.Point, 0, rows*cols)
	for r := 0; r < rows; r++ {
		offsetX := float32(r%2) * spacing / 2
		y := (float32(r) + 0.5) * spacing
		if y >= h {
			break
		}
		for c := 0; c < cols; c++ {
			x := offsetX + (float32(c)+0.5)*spacing
			if x >= w {
				break
			}
			grid = append(grid, r2.Point{X: float64(x), Y: float64(y)})
		}
	}
	return grid
}

// SampleGridCache keeps the grid for the last seen resolution and rebuilds it only when the
// resolution changes. It is safe for concurrent use.
type SampleGridCache struct {
	mu          sync.Mutex
	targetCount int
	width       int
	height      int
	grid        []r2.Point
	builds      int
}

// NewSampleGridCache returns a cache producing grids of about targetCount points.
func NewSampleGridCache(targetCount int) *SampleGridCache {
	return &SampleGridCache{targetCount: targetCount}
}

// Grid returns the grid for a width x height image. The returned slice is shared and must not be
// modified.
func (c *SampleGridCache) Grid(width, height int) []r2.Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.builds == 0 || width != c.width || height != c.height {
		c.grid = BuildSampleGrid(width, height, c.targetCount)
		c.width, c.height = width, height
		c.builds++
	}
	return c.grid
}

// SetTargetCount changes the target point count, invalidating the cached grid.
func (c *SampleGridCache) SetTargetCount(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n != c.targetCount {
		c.targetCount = n
		c.builds = 0
	}
}

// Builds returns how many times a grid has been computed since creation or the last target change.
func (c *SampleGridCache) Builds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.builds
}
