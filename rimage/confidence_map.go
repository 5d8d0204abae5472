package rimage

import (
	"image"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// ConfidenceLevel is the ordinal confidence of a depth reading. Higher is more reliable.
type ConfidenceLevel uint8

// Confidence levels reported by the depth sensor.
const (
	ConfidenceLow ConfidenceLevel = iota
	ConfidenceMedium
	ConfidenceHigh
)

func (c ConfidenceLevel) String() string {
	switch c {
	case ConfidenceLow:
		return "low"
	case ConfidenceMedium:
		return "medium"
	case ConfidenceHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ConfidenceMap is a row-major grid of confidence levels aligned with a DepthMap.
type ConfidenceMap struct {
	width  int
	height int

	data []ConfidenceLevel
}

// NewEmptyConfidenceMap returns a map where every pixel is ConfidenceLow.
func NewEmptyConfidenceMap(width, height int) *ConfidenceMap {
	return &ConfidenceMap{
		width:  width,
		height: height,
		data:   make([]ConfidenceLevel, width*height),
	}
}

// NewConfidenceMapFromBytes wraps raw ordinals as produced by the sensor, one byte per pixel.
func NewConfidenceMapFromBytes(width, height int, raw []byte) (*ConfidenceMap, error) {
	if width < 0 || height < 0 || len(raw) != width*height {
		return nil, errors.Errorf("confidence data of length %d does not match %dx%d", len(raw), width, height)
	}
	cm := NewEmptyConfidenceMap(width, height)
	for i, b := range raw {
		cm.data[i] = ConfidenceLevel(b)
	}
	return cm, nil
}

// Width returns the horizontal size of the map.
func (cm *ConfidenceMap) Width() int {
	return cm.width
}

// Height returns the vertical size of the map.
func (cm *ConfidenceMap) Height() int {
	return cm.height
}

// Bounds returns the rectangle dimensions of the map.
func (cm *ConfidenceMap) Bounds() image.Rectangle {
	return image.Rect(0, 0, cm.width, cm.height)
}

// Get returns the confidence at (x, y).
func (cm *ConfidenceMap) Get(x, y int) ConfidenceLevel {
	return cm.data[y*cm.width+x]
}

// Set stores the confidence at (x, y).
func (cm *ConfidenceMap) Set(x, y int, c ConfidenceLevel) {
	cm.data[y*cm.width+x] = c
}

// Fill sets every pixel to c.
func (cm *ConfidenceMap) Fill(c ConfidenceLevel) {
	for i := range cm.data {
		cm.data[i] = c
	}
}

// Nearest returns the confidence at the pixel nearest to p, where p is expressed in a
// srcWidth x srcHeight image space.
func (cm *ConfidenceMap) Nearest(p r2.Point, srcWidth, srcHeight int) ConfidenceLevel {
	if cm == nil || cm.width <= 0 || cm.height <= 0 {
		return ConfidenceLow
	}
	x, y := nearestPixel(p, srcWidth, srcHeight, cm.width, cm.height)
	return cm.data[y*cm.width+x]
}
