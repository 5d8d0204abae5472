package pointcloud

import (
	"math"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Spacing summarizes the distance from indexed points to their nearest other point, in meters.
type Spacing struct {
	Samples int
	Mean    float64
	Median  float64
	P90     float64
}

// SpacingStats measures the nearest-neighbor spacing of up to samples points spread evenly through
// the tree. It needs at least two points.
func (t *KDTree) SpacingStats(samples int) (Spacing, error) {
	if t.Size() < 2 {
		return Spacing{}, errors.Wrap(ErrEmptyIndex, "spacing needs at least two points")
	}
	if samples <= 0 {
		return Spacing{}, errors.Errorf("samples must be positive, got %d", samples)
	}
	step := max(1, len(t.points)/samples)
	dists := make(stats.Float64Data, 0, min(samples, len(t.points)))
	for i := 0; i < len(t.points) && len(dists) < samples; i += step {
		// the first neighbor is the sample itself
		found, err := t.KNearest(t.points[i], 2)
		if err != nil {
			return Spacing{}, err
		}
		dists = append(dists, math.Sqrt(found[1].DistanceSquared))
	}

	mean, errMean := dists.Mean()
	median, errMedian := dists.Median()
	p90, errP90 := dists.Percentile(90)
	if err := multierr.Combine(errMean, errMedian, errP90); err != nil {
		return Spacing{}, errors.Wrap(err, "cannot summarize spacing")
	}
	return Spacing{Samples: len(dists), Mean: mean, Median: median, P90: p90}, nil
}
