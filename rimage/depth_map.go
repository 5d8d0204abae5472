// Package rimage holds the per-frame image inputs of the accumulation pipeline: depth and
// confidence maps, color sampling, and the sparse sample grid that selects which pixels are
// unprojected.
package rimage

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"image"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// maxDepthMapSide bounds the dimensions accepted when reading a serialized depth map.
const maxDepthMapSide = 100000

// DepthMap is a row-major grid of depths in meters. A zero value means no reading.
type DepthMap struct {
	width  int
	height int

	data []float32
}

// NewEmptyDepthMap returns a zero-filled depth map.
func NewEmptyDepthMap(width, height int) *DepthMap {
	return &DepthMap{
		width:  width,
		height: height,
		data:   make([]float32, width*height),
	}
}

// NewDepthMapFromSlice wraps row-major data without copying it.
func NewDepthMapFromSlice(width, height int, data []float32) (*DepthMap, error) {
	if width < 0 || height < 0 || len(data) != width*height {
		return nil, errors.Errorf("depth data of length %d does not match %dx%d", len(data), width, height)
	}
	return &DepthMap{width: width, height: height, data: data}, nil
}

// Width returns the horizontal size of the DepthMap.
func (dm *DepthMap) Width() int {
	return dm.width
}

// Height returns the vertical size of the DepthMap.
func (dm *DepthMap) Height() int {
	return dm.height
}

// Bounds returns the rectangle dimensions of the image.
func (dm *DepthMap) Bounds() image.Rectangle {
	return image.Rect(0, 0, dm.width, dm.height)
}

// Contains reports whether (x, y) is a pixel of the map.
func (dm *DepthMap) Contains(x, y int) bool {
	return x >= 0 && y >= 0 && x < dm.width && y < dm.height
}

// GetDepth returns the depth in meters at (x, y).
func (dm *DepthMap) GetDepth(x, y int) float32 {
	return dm.data[y*dm.width+x]
}

// Nearest returns the depth at the pixel nearest to p, where p is expressed in a srcWidth x srcHeight
// image space. An empty map reads as zero depth.
func (dm *DepthMap) Nearest(p r2.Point, srcWidth, srcHeight int) float32 {
	if dm == nil || dm.width <= 0 || dm.height <= 0 {
		return 0
	}
	x, y := nearestPixel(p, srcWidth, srcHeight, dm.width, dm.height)
	return dm.data[y*dm.width+x]
}

// Set stores a depth in meters at (x, y).
func (dm *DepthMap) Set(x, y int, val float32) {
	dm.data[y*dm.width+x] = val
}

// Fill sets every pixel to val.
func (dm *DepthMap) Fill(val float32) {
	for i := range dm.data {
		dm.data[i] = val
	}
}

// WriteTo writes the map as little-endian width and height followed by float32 depths in row order.
func (dm *DepthMap) WriteTo(out io.Writer) (int64, error) {
	w := bufio.NewWriter(out)
	var n int64
	header := make([]byte, 8)
	for _, v := range []int{dm.width, dm.height} {
		binary.LittleEndian.PutUint64(header, uint64(v))
		written, err := w.Write(header)
		n += int64(written)
		if err != nil {
			return n, err
		}
	}
	buf := make([]byte, 4)
	for _, d := range dm.data {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(d))
		written, err := w.Write(buf)
		n += int64(written)
		if err != nil {
			return n, err
		}
	}
	return n, w.Flush()
}

// ReadDepthMap reads a map in the layout produced by WriteTo.
func ReadDepthMap(r io.Reader) (*DepthMap, error) {
	header := make([]byte, 16)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, errors.Wrap(err, "cannot read depth map header")
	}
	width := int64(binary.LittleEndian.Uint64(header[:8]))
	height := int64(binary.LittleEndian.Uint64(header[8:]))
	if width <= 0 || width >= maxDepthMapSide || height <= 0 || height >= maxDepthMapSide {
		return nil, errors.Errorf("bad width or height for depth map %v %v", width, height)
	}

	dm := NewEmptyDepthMap(int(width), int(height))
	raw := make([]byte, 4*len(dm.data))
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, errors.Wrapf(err, "cannot read %dx%d depth values", width, height)
	}
	for i := range dm.data {
		dm.data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return dm, nil
}

// ParseDepthMap reads a depth map file, decompressing it when the name ends in .gz.
func ParseDepthMap(fn string) (dm *DepthMap, err error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	var r io.Reader = f
	if filepath.Ext(fn) == ".gz" {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer func() {
			err = multierr.Combine(err, gz.Close())
		}()
		r = gz
	}
	return ReadDepthMap(bufio.NewReader(r))
}

// WriteToFile writes the map to fn, gzip compressed when the name ends in .gz.
func (dm *DepthMap) WriteToFile(fn string) (err error) {
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	var out io.Writer = f
	if filepath.Ext(fn) == ".gz" {
		gz := gzip.NewWriter(f)
		defer func() {
			err = multierr.Combine(err, gz.Close())
		}()
		out = gz
	}
	_, err = dm.WriteTo(out)
	return err
}
