package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/guidedgrasp/depthcloud/utils"
)

// ErrEmptyIndex is returned by queries against a tree with no points.
var ErrEmptyIndex = errors.New("spatial index is empty")

// ErrNonFiniteQuery is returned by queries whose point has a NaN or infinite coordinate.
var ErrNonFiniteQuery = errors.New("query point is not finite")

func checkQuery(q r3.Vector) error {
	for _, c := range [3]float64{q.X, q.Y, q.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return errors.Wrapf(ErrNonFiniteQuery, "(%v, %v, %v)", q.X, q.Y, q.Z)
		}
	}
	return nil
}

// parallelBuildThreshold is the subtree size above which construction forks.
const parallelBuildThreshold = 1 << 14

// KDTree is an immutable balanced 3-d tree over a fixed set of points. The tree is stored
// implicitly: the median of every range [lo, hi) sits at (lo+hi)/2 with the left subtree before it
// and the right subtree after it. Splits cycle through x, y and z by depth.
//
// A KDTree is safe for concurrent queries.
type KDTree struct {
	points []r3.Vector
}

// Neighbor is a point returned by a k-nearest query with its squared distance to the query.
type Neighbor struct {
	Point           r3.Vector
	DistanceSquared float64
}

// NewKDTree builds a tree over a copy of points. Large inputs are split across goroutines.
func NewKDTree(points []r3.Vector) *KDTree {
	return newKDTreeInPlace(append([]r3.Vector(nil), points...))
}

// NewKDTreeFromCloud builds a tree over the current points of cloud.
func NewKDTreeFromCloud(cloud Cloud) *KDTree {
	if rb, ok := cloud.(*RingBuffer); ok {
		return newKDTreeInPlace(rb.Positions())
	}
	positions := make([]r3.Vector, 0, cloud.Size())
	cloud.Iterate(func(p AccumulatedPoint) bool {
		positions = append(positions, p.Position)
		return true
	})
	return newKDTreeInPlace(positions)
}

// newKDTreeInPlace takes ownership of points and reorders them into tree order.
func newKDTreeInPlace(points []r3.Vector) *KDTree {
	t := &KDTree{points: points}
	var g errgroup.Group
	g.SetLimit(utils.ParallelFactor)
	t.build(&g, 0, len(t.points), 0)
	//nolint:errcheck
	g.Wait()
	return t
}

// Size returns the number of indexed points.
func (t *KDTree) Size() int {
	if t == nil {
		return 0
	}
	return len(t.points)
}

func (t *KDTree) build(g *errgroup.Group, lo, hi, depth int) {
	if hi-lo <= 1 {
		return
	}
	mid := (lo + hi) / 2
	selectNth(t.points[lo:hi], mid-lo, depth%3)
	if hi-lo > parallelBuildThreshold && g.TryGo(func() error {
		t.build(g, lo, mid, depth+1)
		return nil
	}) {
		t.build(g, mid+1, hi, depth+1)
		return
	}
	t.build(g, lo, mid, depth+1)
	t.build(g, mid+1, hi, depth+1)
}

func coord(v r3.Vector, axis int) float64 {
	switch axis {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

// selectNth partially orders pts so that pts[k] holds the element that would be there if pts were
// sorted along axis, with nothing greater before it and nothing smaller after it. Runs of equal
// coordinates, common for points on a wall, are partitioned in one pass.
func selectNth(pts []r3.Vector, k, axis int) {
	lo, hi := 0, len(pts)-1
	for lo < hi {
		pivot := medianOfThree(coord(pts[lo], axis), coord(pts[lo+(hi-lo)/2], axis), coord(pts[hi], axis))
		lt, i, gt := lo, lo, hi
		for i <= gt {
			c := coord(pts[i], axis)
			switch {
			case c < pivot:
				pts[lt], pts[i] = pts[i], pts[lt]
				lt++
				i++
			case c > pivot:
				pts[i], pts[gt] = pts[gt], pts[i]
				gt--
			default:
				i++
			}
		}
		switch {
		case k < lt:
			hi = lt - 1
		case k > gt:
			lo = gt + 1
		default:
			return
		}
	}
}

func medianOfThree(a, b, c float64) float64 {
	if a > b {
		a, b = b, a
	}
	if b > c {
		b = c
	}
	if a > b {
		return a
	}
	return b
}

// Nearest returns the indexed point closest to q and its squared distance to q.
func (t *KDTree) Nearest(q r3.Vector) (r3.Vector, float64, error) {
	if t == nil || len(t.points) == 0 {
		return r3.Vector{}, 0, ErrEmptyIndex
	}
	if err := checkQuery(q); err != nil {
		return r3.Vector{}, 0, err
	}
	best := -1
	bestDist := math.Inf(1)
	t.nearest(q, 0, len(t.points), 0, &best, &bestDist)
	if best < 0 {
		// every indexed point is itself non-finite
		return r3.Vector{}, 0, errors.New("no indexed point is at a finite distance")
	}
	return t.points[best], bestDist, nil
}

func (t *KDTree) nearest(q r3.Vector, lo, hi, depth int, best *int, bestDist *float64) {
	if lo >= hi {
		return
	}
	mid := (lo + hi) / 2
	p := t.points[mid]
	if d := p.Sub(q).Norm2(); d < *bestDist {
		*best, *bestDist = mid, d
	}
	axis := depth % 3
	diff := coord(q, axis) - coord(p, axis)
	nearLo, nearHi, farLo, farHi := lo, mid, mid+1, hi
	if diff > 0 {
		nearLo, nearHi, farLo, farHi = mid+1, hi, lo, mid
	}
	t.nearest(q, nearLo, nearHi, depth+1, best, bestDist)
	if diff*diff < *bestDist {
		t.nearest(q, farLo, farHi, depth+1, best, bestDist)
	}
}

// WithinDistance reports whether any indexed point lies at distance radius or less from q. The
// comparison is made on squared distances. A negative radius matches nothing.
func (t *KDTree) WithinDistance(q r3.Vector, radius float64) (bool, error) {
	if t == nil || len(t.points) == 0 {
		return false, ErrEmptyIndex
	}
	if err := checkQuery(q); err != nil {
		return false, err
	}
	if !(radius >= 0) {
		return false, nil
	}
	return t.within(q, radius*radius, 0, len(t.points), 0), nil
}

func (t *KDTree) within(q r3.Vector, radiusSq float64, lo, hi, depth int) bool {
	if lo >= hi {
		return false
	}
	mid := (lo + hi) / 2
	p := t.points[mid]
	if p.Sub(q).Norm2() <= radiusSq {
		return true
	}
	axis := depth % 3
	diff := coord(q, axis) - coord(p, axis)
	nearLo, nearHi, farLo, farHi := lo, mid, mid+1, hi
	if diff > 0 {
		nearLo, nearHi, farLo, farHi = mid+1, hi, lo, mid
	}
	if t.within(q, radiusSq, nearLo, nearHi, depth+1) {
		return true
	}
	return diff*diff <= radiusSq && t.within(q, radiusSq, farLo, farHi, depth+1)
}

// KNearest returns up to k indexed points closest to q, nearest first.
func (t *KDTree) KNearest(q r3.Vector, k int) ([]Neighbor, error) {
	if t == nil || len(t.points) == 0 {
		return nil, ErrEmptyIndex
	}
	if err := checkQuery(q); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	found := make([]Neighbor, 0, min(k, len(t.points)))
	t.kNearest(q, k, 0, len(t.points), 0, &found)
	return found, nil
}

// kNearest keeps found sorted by squared distance while searching.
func (t *KDTree) kNearest(q r3.Vector, k, lo, hi, depth int, found *[]Neighbor) {
	if lo >= hi {
		return
	}
	mid := (lo + hi) / 2
	p := t.points[mid]
	d := p.Sub(q).Norm2()
	if len(*found) < k || d < (*found)[len(*found)-1].DistanceSquared {
		if len(*found) == k {
			*found = (*found)[:k-1]
		}
		i := len(*found)
		for i > 0 && (*found)[i-1].DistanceSquared > d {
			i--
		}
		*found = append(*found, Neighbor{})
		copy((*found)[i+1:], (*found)[i:])
		(*found)[i] = Neighbor{Point: p, DistanceSquared: d}
	}
	axis := depth % 3
	diff := coord(q, axis) - coord(p, axis)
	nearLo, nearHi, farLo, farHi := lo, mid, mid+1, hi
	if diff > 0 {
		nearLo, nearHi, farLo, farHi = mid+1, hi, lo, mid
	}
	t.kNearest(q, k, nearLo, nearHi, depth+1, found)
	if len(*found) < k || diff*diff < (*found)[len(*found)-1].DistanceSquared {
		t.kNearest(q, k, farLo, farHi, depth+1, found)
	}
}
