// Package guidance evaluates the tracked hand against the accumulated cloud and tells the user
// where the target is.
package guidance

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/guidedgrasp/depthcloud/pointcloud"
)

// NearestFinder answers nearest-point queries. *pointcloud.KDTree implements it.
type NearestFinder interface {
	Nearest(q r3.Vector) (r3.Vector, float64, error)
}

// Collision is the result of checking one query point against the cloud.
type Collision struct {
	Colliding       bool
	Nearest         r3.Vector
	DistanceSquared float64
}

// Distance is the distance to the nearest surface point in meters.
func (c Collision) Distance() float64 {
	return math.Sqrt(c.DistanceSquared)
}

// CollisionChecker flags query points that come within SafeDistance meters of any point.
type CollisionChecker struct {
	SafeDistance float64
}

// NewCollisionChecker returns a checker with the given safe distance in meters.
func NewCollisionChecker(safeDistance float64) *CollisionChecker {
	return &CollisionChecker{SafeDistance: safeDistance}
}

// Check compares q against the nearest indexed point. A point exactly SafeDistance away collides.
// An index without points fails with pointcloud.ErrEmptyIndex rather than reporting no collision.
// A negative SafeDistance never collides, matching KDTree.WithinDistance.
func (c *CollisionChecker) Check(index NearestFinder, q r3.Vector) (Collision, error) {
	if index == nil {
		return Collision{}, errors.Wrap(pointcloud.ErrEmptyIndex, "no index")
	}
	nearest, distSq, err := index.Nearest(q)
	if err != nil {
		return Collision{}, err
	}
	return Collision{
		Colliding:       c.SafeDistance >= 0 && distSq <= c.SafeDistance*c.SafeDistance,
		Nearest:         nearest,
		DistanceSquared: distSq,
	}, nil
}
