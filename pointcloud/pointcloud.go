// Package pointcloud stores the accumulated world-space point cloud and answers spatial queries
// over it.
//
// Points live in a fixed-capacity RingBuffer that overwrites the oldest point once full. A KDTree
// built from a snapshot of the buffer answers nearest-neighbor and within-distance queries. Clouds
// can be exported to PLY, PCD, LAS and a plain XYZRGB text format.
package pointcloud

import (
	"math"
)

// Cloud is a read-only sequence of points.
type Cloud interface {
	// Size returns the number of points in the cloud.
	Size() int

	// Iterate calls fn for every point from oldest to newest. If fn returns false,
	// iteration stops after the function returns.
	Iterate(fn func(p AccumulatedPoint) bool)
}

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	Count int

	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

// NewMetaData returns meta data with empty bounds.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64,
		MinY: math.MaxFloat64,
		MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64,
		MaxY: -math.MaxFloat64,
		MaxZ: -math.MaxFloat64,
	}
}

// Merge updates the meta data with the new point.
func (meta *MetaData) Merge(p AccumulatedPoint) {
	v := p.Position
	meta.Count++

	if v.X > meta.MaxX {
		meta.MaxX = v.X
	}
	if v.Y > meta.MaxY {
		meta.MaxY = v.Y
	}
	if v.Z > meta.MaxZ {
		meta.MaxZ = v.Z
	}

	if v.X < meta.MinX {
		meta.MinX = v.X
	}
	if v.Y < meta.MinY {
		meta.MinY = v.Y
	}
	if v.Z < meta.MinZ {
		meta.MinZ = v.Z
	}
}

// ComputeMetaData scans the cloud once and returns its bounds.
func ComputeMetaData(cloud Cloud) MetaData {
	meta := NewMetaData()
	cloud.Iterate(func(p AccumulatedPoint) bool {
		meta.Merge(p)
		return true
	})
	return meta
}
