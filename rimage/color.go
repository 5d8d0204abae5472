package rimage

import (
	"image"
	"image/color"
	"math"

	"github.com/golang/geo/r2"
)

// NoColor is returned when there is no image to sample from.
var NoColor = color.NRGBA{A: 255}

// NearestColor samples img at the pixel nearest to p, where p is expressed in a srcWidth x srcHeight
// image space (the camera resolution). When img has a different resolution, p is scaled
// proportionally onto it. Coordinates outside the image clamp to the border.
func NearestColor(img image.Image, p r2.Point, srcWidth, srcHeight int) color.NRGBA {
	if img == nil {
		return NoColor
	}
	b := img.Bounds()
	if b.Empty() {
		return NoColor
	}
	px, py := nearestPixel(p, srcWidth, srcHeight, b.Dx(), b.Dy())
	px += b.Min.X
	py += b.Min.Y

	switch typed := img.(type) {
	case *image.NRGBA:
		return typed.NRGBAAt(px, py)
	case *image.RGBA:
		return color.NRGBAModel.Convert(typed.RGBAAt(px, py)).(color.NRGBA)
	default:
		return color.NRGBAModel.Convert(img.At(px, py)).(color.NRGBA)
	}
}

// nearestPixel maps p from a srcWidth x srcHeight space onto a dstWidth x dstHeight grid and returns
// the pixel containing it, clamped to the grid.
func nearestPixel(p r2.Point, srcWidth, srcHeight, dstWidth, dstHeight int) (int, int) {
	x, y := p.X, p.Y
	if srcWidth > 0 && srcHeight > 0 && (srcWidth != dstWidth || srcHeight != dstHeight) {
		x *= float64(dstWidth) / float64(srcWidth)
		y *= float64(dstHeight) / float64(srcHeight)
	}
	return clampInt(int(math.Floor(x)), 0, dstWidth-1), clampInt(int(math.Floor(y)), 0, dstHeight-1)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
