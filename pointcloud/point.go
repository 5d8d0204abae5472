package pointcloud

import (
	"image/color"

	"github.com/golang/geo/r3"
)

// NewVector convenience method for creating a vector.
func NewVector(x, y, z float64) r3.Vector {
	return r3.Vector{X: x, Y: y, Z: z}
}

// AccumulatedPoint is a world-space point with the color sampled where it was observed.
// Positions are in meters.
type AccumulatedPoint struct {
	Position r3.Vector
	Color    color.NRGBA
}

// NewColoredPoint returns an opaque point of the given color.
func NewColoredPoint(p r3.Vector, r, g, b uint8) AccumulatedPoint {
	return AccumulatedPoint{Position: p, Color: color.NRGBA{R: r, G: g, B: b, A: 255}}
}

// RGB255 returns the color components of the point.
func (p AccumulatedPoint) RGB255() (uint8, uint8, uint8) {
	return p.Color.R, p.Color.G, p.Color.B
}

// Points is a plain slice of points. It implements Cloud.
type Points []AccumulatedPoint

// Size returns the number of points.
func (ps Points) Size() int {
	return len(ps)
}

// Iterate calls fn for each point in order until fn returns false.
func (ps Points) Iterate(fn func(p AccumulatedPoint) bool) {
	for _, p := range ps {
		if !fn(p) {
			return
		}
	}
}

// Positions returns the positions of the points.
func (ps Points) Positions() []r3.Vector {
	out := make([]r3.Vector, len(ps))
	for i, p := range ps {
		out[i] = p.Position
	}
	return out
}

func colorToPCDInt(c color.NRGBA) int {
	x := 0
	x |= int(c.R) << 16
	x |= int(c.G) << 8
	x |= int(c.B) << 0
	return x
}

func pcdIntToColor(c int) color.NRGBA {
	r := uint8(0xFF & (c >> 16))
	g := uint8(0xFF & (c >> 8))
	b := uint8(0xFF & (c >> 0))
	return color.NRGBA{r, g, b, 255}
}
