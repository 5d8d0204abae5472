package accumulate

import (
	"context"
	"iter"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/guidedgrasp/depthcloud/pointcloud"
	"github.com/guidedgrasp/depthcloud/rimage"
	"github.com/guidedgrasp/depthcloud/rimage/transform"
	"github.com/guidedgrasp/depthcloud/utils"
)

// ErrFrameAborted is returned when a frame goes stale before its batch completes. No points of an
// aborted batch are kept.
var ErrFrameAborted = errors.New("frame aborted")

// sourceSize is the resolution grid coordinates are expressed in.
func sourceSize(frame *Frame) (int, int) {
	if frame.Intrinsics != nil {
		return frame.Intrinsics.Width, frame.Intrinsics.Height
	}
	return frame.Depth.Width(), frame.Depth.Height()
}

// unprojectPixel back-projects the grid pixel p. It returns false when the sample is filtered out.
func unprojectPixel(
	p r2.Point,
	frame *Frame,
	transforms *transform.FrameTransforms,
	threshold rimage.ConfidenceLevel,
	srcWidth, srcHeight int,
) (pointcloud.AccumulatedPoint, bool) {
	if frame.Confidence != nil && frame.Confidence.Nearest(p, srcWidth, srcHeight) < threshold {
		return pointcloud.AccumulatedPoint{}, false
	}
	d := frame.Depth.Nearest(p, srcWidth, srcHeight)
	if !(d > 0) || math.IsInf(float64(d), 0) {
		return pointcloud.AccumulatedPoint{}, false
	}
	ray := transforms.InverseIntrinsics.Mul3x1(mgl32.Vec3{float32(p.X), float32(p.Y), 1}).Mul(d)
	world := transforms.LocalToWorld.Mul4x1(ray.Vec4(1))
	return pointcloud.AccumulatedPoint{
		Position: r3.Vector{X: float64(world.X()), Y: float64(world.Y()), Z: float64(world.Z())},
		Color:    rimage.NearestColor(frame.Color, p, srcWidth, srcHeight),
	}, true
}

// Unproject lazily back-projects every grid pixel of frame whose confidence is at least threshold
// and whose depth is positive and finite. At most len(grid) points are yielded.
func Unproject(
	grid []r2.Point,
	frame *Frame,
	transforms transform.FrameTransforms,
	threshold rimage.ConfidenceLevel,
) iter.Seq[pointcloud.AccumulatedPoint] {
	return func(yield func(pointcloud.AccumulatedPoint) bool) {
		if frame == nil || frame.Depth == nil {
			return
		}
		srcWidth, srcHeight := sourceSize(frame)
		for _, p := range grid {
			pt, ok := unprojectPixel(p, frame, &transforms, threshold, srcWidth, srcHeight)
			if !ok {
				continue
			}
			if !yield(pt) {
				return
			}
		}
	}
}

// UnprojectBatch back-projects the grid in parallel chunks and returns the points in grid order.
// If ctx ends before the batch completes, it returns ErrFrameAborted and no points.
func UnprojectBatch(
	ctx context.Context,
	grid []r2.Point,
	frame *Frame,
	transforms transform.FrameTransforms,
	threshold rimage.ConfidenceLevel,
) ([]pointcloud.AccumulatedPoint, error) {
	if frame == nil || frame.Depth == nil {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(ErrFrameAborted, err.Error())
	}
	srcWidth, srcHeight := sourceSize(frame)

	points, err := utils.ParallelFilterMap(ctx, len(grid), func(i int) (pointcloud.AccumulatedPoint, bool) {
		return unprojectPixel(grid[i], frame, &transforms, threshold, srcWidth, srcHeight)
	})
	if err != nil {
		return nil, errors.Wrap(ErrFrameAborted, err.Error())
	}
	return points, nil
}
