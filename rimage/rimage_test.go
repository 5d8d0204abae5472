package rimage

import (
	"bytes"
	"image"
	"image/color"
	"math"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"
)

func TestBuildSampleGridSmall(t *testing.T) {
	grid := BuildSampleGrid(4, 2, 8)
	test.That(t, grid, test.ShouldResemble, []r2.Point{
		{X: 0.5, Y: 0.5}, {X: 1.5, Y: 0.5}, {X: 2.5, Y: 0.5}, {X: 3.5, Y: 0.5},
		{X: 1, Y: 1.5}, {X: 2, Y: 1.5}, {X: 3, Y: 1.5},
	})
}

func TestBuildSampleGridStaysInBounds(t *testing.T) {
	// a rounded-up row count would put the last row on the bottom edge
	test.That(t, BuildSampleGrid(4, 1, 1), test.ShouldBeEmpty)
	oneRow := BuildSampleGrid(4, 1, 9)
	test.That(t, len(oneRow), test.ShouldEqual, 6)
	for _, p := range oneRow {
		test.That(t, p.Y, test.ShouldAlmostEqual, 1.0/3, 1e-6)
	}

	for w := 1; w <= 48; w++ {
		for h := 1; h <= 48; h++ {
			for _, n := range []int{1, 2, 3, 5, 9, 17, 64} {
				for _, p := range BuildSampleGrid(w, h, n) {
					if p.X < 0 || p.X >= float64(w) || p.Y < 0 || p.Y >= float64(h) {
						t.Fatalf("BuildSampleGrid(%d, %d, %d) produced (%v, %v)", w, h, n, p.X, p.Y)
					}
				}
			}
		}
	}
}

func TestBuildSampleGridEmpty(t *testing.T) {
	test.That(t, BuildSampleGrid(0, 1440, 500), test.ShouldBeEmpty)
	test.That(t, BuildSampleGrid(1920, -1, 500), test.ShouldBeEmpty)
	test.That(t, BuildSampleGrid(1920, 1440, 0), test.ShouldBeEmpty)
	test.That(t, BuildSampleGrid(1920, 1440, -3), test.ShouldBeEmpty)
}

func TestBuildSampleGridCoverage(t *testing.T) {
	grid := BuildSampleGrid(1920, 1440, 500)
	// 19 rows of 26 columns, the last column of the 9 odd rows falls off the right edge
	test.That(t, len(grid), test.ShouldEqual, 19*26-9)

	spacing := math.Sqrt(1920 * 1440 / 500.0)
	rowStarts := 0
	for i, p := range grid {
		test.That(t, p.X, test.ShouldBeGreaterThanOrEqualTo, 0)
		test.That(t, p.X, test.ShouldBeLessThan, 1920)
		test.That(t, p.Y, test.ShouldBeGreaterThanOrEqualTo, 0)
		test.That(t, p.Y, test.ShouldBeLessThan, 1440)
		if i == 0 || p.Y != grid[i-1].Y {
			row := int(p.Y / spacing)
			test.That(t, row, test.ShouldEqual, rowStarts)
			test.That(t, p.X, test.ShouldAlmostEqual, spacing/2+float64(row%2)*spacing/2, 1e-3)
			rowStarts++
		}
	}
	test.That(t, rowStarts, test.ShouldEqual, 19)

	again := BuildSampleGrid(1920, 1440, 500)
	test.That(t, again, test.ShouldResemble, grid)
}

func TestSampleGridCache(t *testing.T) {
	cache := NewSampleGridCache(500)
	g1 := cache.Grid(1920, 1440)
	g2 := cache.Grid(1920, 1440)
	test.That(t, cache.Builds(), test.ShouldEqual, 1)
	test.That(t, &g1[0] == &g2[0], test.ShouldBeTrue)

	g3 := cache.Grid(256, 192)
	test.That(t, cache.Builds(), test.ShouldEqual, 2)
	test.That(t, g3, test.ShouldResemble, BuildSampleGrid(256, 192, 500))

	cache.SetTargetCount(100)
	test.That(t, cache.Builds(), test.ShouldEqual, 0)
	test.That(t, cache.Grid(256, 192), test.ShouldResemble, BuildSampleGrid(256, 192, 100))
	test.That(t, cache.Builds(), test.ShouldEqual, 1)
}

func TestDepthMapRoundTrip(t *testing.T) {
	dm := NewEmptyDepthMap(3, 2)
	dm.Set(0, 0, 1.25)
	dm.Set(2, 1, 0.5)
	test.That(t, dm.GetDepth(2, 1), test.ShouldEqual, float32(0.5))
	test.That(t, dm.Bounds(), test.ShouldResemble, image.Rect(0, 0, 3, 2))
	test.That(t, dm.Contains(3, 0), test.ShouldBeFalse)

	var buf bytes.Buffer
	n, err := dm.WriteTo(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, int64(16+4*6))

	back, err := ReadDepthMap(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, back.Width(), test.ShouldEqual, 3)
	test.That(t, back.Height(), test.ShouldEqual, 2)
	test.That(t, back.GetDepth(0, 0), test.ShouldEqual, float32(1.25))
	test.That(t, back.GetDepth(2, 1), test.ShouldEqual, float32(0.5))

	fn := filepath.Join(t.TempDir(), "frame.dat.gz")
	test.That(t, dm.WriteToFile(fn), test.ShouldBeNil)
	back, err = ParseDepthMap(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, back.GetDepth(0, 0), test.ShouldEqual, float32(1.25))

	_, err = ReadDepthMap(bytes.NewReader([]byte{1, 2, 3}))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewDepthMapFromSlice(2, 2, []float32{1, 2, 3})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestConfidenceMap(t *testing.T) {
	cm, err := NewConfidenceMapFromBytes(2, 1, []byte{0, 2})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cm.Get(0, 0), test.ShouldEqual, ConfidenceLow)
	test.That(t, cm.Get(1, 0), test.ShouldEqual, ConfidenceHigh)
	test.That(t, cm.Get(1, 0).String(), test.ShouldEqual, "high")
	cm.Fill(ConfidenceMedium)
	test.That(t, cm.Get(0, 0), test.ShouldEqual, ConfidenceMedium)

	_, err = NewConfidenceMapFromBytes(2, 2, []byte{0})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestNearestColor(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	img.SetNRGBA(3, 3, color.NRGBA{R: 200, A: 255})
	img.SetNRGBA(0, 0, color.NRGBA{G: 100, A: 255})

	test.That(t, NearestColor(img, r2.Point{X: 3.5, Y: 3.5}, 4, 4), test.ShouldResemble, color.NRGBA{R: 200, A: 255})
	// depth space is 2x2, color space is 4x4
	test.That(t, NearestColor(img, r2.Point{X: 1.9, Y: 1.9}, 2, 2), test.ShouldResemble, color.NRGBA{R: 200, A: 255})
	test.That(t, NearestColor(img, r2.Point{X: 0.2, Y: 0.2}, 2, 2), test.ShouldResemble, color.NRGBA{G: 100, A: 255})
	// clamped
	test.That(t, NearestColor(img, r2.Point{X: 10, Y: 10}, 4, 4), test.ShouldResemble, color.NRGBA{R: 200, A: 255})
	test.That(t, NearestColor(nil, r2.Point{}, 4, 4), test.ShouldResemble, NoColor)

	gray := image.NewGray(image.Rect(0, 0, 1, 1))
	gray.SetGray(0, 0, color.Gray{Y: 50})
	test.That(t, NearestColor(gray, r2.Point{}, 1, 1), test.ShouldResemble, color.NRGBA{R: 50, G: 50, B: 50, A: 255})
}

func TestNearestDepthAndConfidence(t *testing.T) {
	dm, err := NewDepthMapFromSlice(2, 2, []float32{1, 2, 3, 4})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dm.Nearest(r2.Point{X: 1.5, Y: 0.5}, 2, 2), test.ShouldEqual, float32(2))
	// camera space is 8x8, depth is 2x2
	test.That(t, dm.Nearest(r2.Point{X: 6.5, Y: 7.5}, 8, 8), test.ShouldEqual, float32(4))
	test.That(t, dm.Nearest(r2.Point{X: 3.9, Y: 4.1}, 8, 8), test.ShouldEqual, float32(3))
	test.That(t, dm.Nearest(r2.Point{X: -5, Y: 100}, 8, 8), test.ShouldEqual, float32(3))
	var empty *DepthMap
	test.That(t, empty.Nearest(r2.Point{}, 1, 1), test.ShouldEqual, float32(0))

	cm, err := NewConfidenceMapFromBytes(2, 2, []byte{0, 1, 2, 2})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cm.Nearest(r2.Point{X: 7, Y: 1}, 8, 8), test.ShouldEqual, ConfidenceMedium)
	test.That(t, cm.Nearest(r2.Point{X: 0.1, Y: 0.1}, 8, 8), test.ShouldEqual, ConfidenceLow)
	var noConfidence *ConfidenceMap
	test.That(t, noConfidence.Nearest(r2.Point{}, 1, 1), test.ShouldEqual, ConfidenceLow)
}
