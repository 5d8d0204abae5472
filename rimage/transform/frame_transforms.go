package transform

import (
	"math"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// ErrDegenerateTransform is returned when a camera transform is not a rigid transform.
var ErrDegenerateTransform = errors.New("camera transform is not a rigid transform")

// rigidTolerance bounds how far a rotation block may drift from orthonormal.
const rigidTolerance = 1e-3

// Orientation is the interface orientation the session renders in.
type Orientation int

// Supported orientations. LandscapeRight is the sensor's native orientation.
const (
	LandscapeRight Orientation = iota
	LandscapeLeft
	Portrait
	PortraitUpsideDown
)

var orientationNames = map[Orientation]string{
	LandscapeRight:     "landscape-right",
	LandscapeLeft:      "landscape-left",
	Portrait:           "portrait",
	PortraitUpsideDown: "portrait-upside-down",
}

func (o Orientation) String() string {
	if name, ok := orientationNames[o]; ok {
		return name
	}
	return "unknown"
}

// ParseOrientation parses the names produced by Orientation.String. The empty string is LandscapeRight.
func ParseOrientation(s string) (Orientation, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return LandscapeRight, nil
	}
	for o, name := range orientationNames {
		if name == s {
			return o, nil
		}
	}
	return LandscapeRight, errors.Errorf("unknown orientation %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (o Orientation) MarshalText() ([]byte, error) {
	if _, ok := orientationNames[o]; !ok {
		return nil, errors.Errorf("unknown orientation %d", int(o))
	}
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Orientation) UnmarshalText(text []byte) error {
	parsed, err := ParseOrientation(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// CameraToDisplayRotation is the rotation in degrees from the sensor image to the display.
func (o Orientation) CameraToDisplayRotation() int {
	switch o {
	case LandscapeLeft:
		return 180
	case Portrait:
		return 90
	case PortraitUpsideDown:
		return -90
	default:
		return 0
	}
}

func (o Orientation) rotation() mgl32.Mat4 {
	return mgl32.HomogRotate3DZ(mgl32.DegToRad(float32(o.CameraToDisplayRotation())))
}

// sideways reports whether the display is rotated a quarter turn from the sensor.
func (o Orientation) sideways() bool {
	return o == Portrait || o == PortraitUpsideDown
}

// flipYZ converts the image frame (y down, z forward) to the camera frame (y up, z backward).
var flipYZ = mgl32.Diag4(mgl32.Vec4{1, -1, -1, 1})

// DeviceToWorldRotation is the fixed flip and rotation applied to back-projected points before the
// inverse view matrix.
func DeviceToWorldRotation(o Orientation) mgl32.Mat4 {
	return flipYZ.Mul4(o.rotation())
}

// ViewMatrix maps world coordinates into the display-rotated camera frame.
func ViewMatrix(cameraTransform mgl32.Mat4, o Orientation) mgl32.Mat4 {
	return cameraTransform.Mul4(o.rotation()).Inv()
}

// ProjectionParams are the clip planes of the projection. A zero ZFar means an infinite far plane.
type ProjectionParams struct {
	ZNear float32
	ZFar  float32
}

// DefaultProjectionParams are the clip planes used for point rendering.
var DefaultProjectionParams = ProjectionParams{ZNear: 0.001, ZFar: 0}

// ProjectionMatrix builds a perspective projection from the intrinsics, producing clip coordinates
// with depth in [0, 1]. The image is rotated into the display orientation and scaled to fill the
// viewport. A viewport with a non-positive side is treated as matching the image.
func ProjectionMatrix(
	intrinsics *PinholeCameraIntrinsics, o Orientation, viewport r2.Point, params ProjectionParams,
) (mgl32.Mat4, error) {
	if err := intrinsics.CheckValid(); err != nil {
		return mgl32.Mat4{}, err
	}
	if params.ZNear <= 0 || (params.ZFar != 0 && params.ZFar <= params.ZNear) {
		return mgl32.Mat4{}, errors.Errorf("invalid clip planes near=%v far=%v", params.ZNear, params.ZFar)
	}
	w, h := float32(intrinsics.Width), float32(intrinsics.Height)

	var p mgl32.Mat4
	p.Set(0, 0, 2*float32(intrinsics.Fx)/w)
	p.Set(0, 2, 1-2*float32(intrinsics.Ppx)/w)
	p.Set(1, 1, 2*float32(intrinsics.Fy)/h)
	p.Set(1, 2, 2*float32(intrinsics.Ppy)/h-1)
	if params.ZFar == 0 {
		p.Set(2, 2, -1)
		p.Set(2, 3, -params.ZNear)
	} else {
		p.Set(2, 2, params.ZFar/(params.ZNear-params.ZFar))
		p.Set(2, 3, params.ZNear*params.ZFar/(params.ZNear-params.ZFar))
	}
	p.Set(3, 2, -1)

	displayW, displayH := w, h
	if o.sideways() {
		displayW, displayH = h, w
	}
	scaleX, scaleY := float32(1), float32(1)
	if viewport.X > 0 && viewport.Y > 0 {
		imageAspect := displayW / displayH
		viewAspect := float32(viewport.X / viewport.Y)
		if viewAspect > imageAspect {
			scaleY = viewAspect / imageAspect
		} else {
			scaleX = imageAspect / viewAspect
		}
	}
	rot := o.rotation()
	return mgl32.Scale3D(scaleX, scaleY, 1).Mul4(rot.Inv()).Mul4(p).Mul4(rot), nil
}

// FrameTransforms are the per-frame matrices derived from the camera pose.
type FrameTransforms struct {
	// ViewProjection maps world coordinates to clip coordinates.
	ViewProjection mgl32.Mat4
	// LocalToWorld maps image-frame points (x right, y down, z forward) to world coordinates.
	LocalToWorld mgl32.Mat4
	// InverseIntrinsics maps homogeneous pixel coordinates to image-frame rays at unit depth.
	InverseIntrinsics mgl32.Mat3
	CameraTransform   mgl32.Mat4
}

// ComputeFrameTransforms derives the view-projection, local-to-world and inverse intrinsics
// matrices for one frame. It has no side effects.
func ComputeFrameTransforms(
	cameraTransform mgl32.Mat4,
	intrinsics *PinholeCameraIntrinsics,
	o Orientation,
	viewport r2.Point,
	params ProjectionParams,
) (FrameTransforms, error) {
	if err := CheckRigid(cameraTransform); err != nil {
		return FrameTransforms{}, err
	}
	inverseIntrinsics, err := intrinsics.InverseMatrix()
	if err != nil {
		return FrameTransforms{}, err
	}
	projection, err := ProjectionMatrix(intrinsics, o, viewport, params)
	if err != nil {
		return FrameTransforms{}, err
	}
	view := ViewMatrix(cameraTransform, o)
	return FrameTransforms{
		ViewProjection:    projection.Mul4(view),
		LocalToWorld:      view.Inv().Mul4(DeviceToWorldRotation(o)),
		InverseIntrinsics: inverseIntrinsics,
		CameraTransform:   cameraTransform,
	}, nil
}

// CheckRigid returns ErrDegenerateTransform unless m is a proper rotation plus a translation.
func CheckRigid(m mgl32.Mat4) error {
	for _, v := range m {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return errors.Wrap(ErrDegenerateTransform, "non-finite entry")
		}
	}
	bottom := m.Row(3)
	if !bottom.ApproxEqualThreshold(mgl32.Vec4{0, 0, 0, 1}, rigidTolerance) {
		return errors.Wrapf(ErrDegenerateTransform, "bottom row %v", bottom)
	}
	rot := m.Mat3()
	if !rot.Transpose().Mul3(rot).ApproxEqualThreshold(mgl32.Ident3(), rigidTolerance) {
		return errors.Wrap(ErrDegenerateTransform, "rotation is not orthonormal")
	}
	if det := rot.Det(); det < 0 {
		return errors.Wrapf(ErrDegenerateTransform, "rotation has determinant %v", det)
	}
	return nil
}
