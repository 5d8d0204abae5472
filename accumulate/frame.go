package accumulate

import (
	"image"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"github.com/guidedgrasp/depthcloud/rimage"
	"github.com/guidedgrasp/depthcloud/rimage/transform"
)

// Frame is one synchronized set of sensor inputs delivered by the tracking collaborator.
type Frame struct {
	Timestamp time.Time
	// CameraTransform is the rigid camera-to-world pose.
	CameraTransform mgl32.Mat4
	// Intrinsics describe the camera image. The sample grid is laid out in this resolution. When
	// nil, the accumulator falls back to its configured intrinsics.
	Intrinsics *transform.PinholeCameraIntrinsics
	// Viewport is the display size the projection is fitted to. A zero viewport means the image size.
	Viewport r2.Point

	Depth *rimage.DepthMap
	// Confidence may be nil, in which case every depth sample is accepted.
	Confidence *rimage.ConfidenceMap
	// Color may be nil, in which case points are black.
	Color image.Image
}

// Validate checks the frame carries what unprojection needs.
func (f *Frame) Validate() error {
	if f.Depth == nil {
		return errors.New("frame has no depth map")
	}
	if f.Depth.Width() <= 0 || f.Depth.Height() <= 0 {
		return errors.Errorf("frame depth map is empty (%dx%d)", f.Depth.Width(), f.Depth.Height())
	}
	if f.Intrinsics == nil {
		return transform.NewNoIntrinsicsError("frame")
	}
	return nil
}
