// Package transform converts camera intrinsics, device orientation and camera poses into the
// matrices used to back-project depth samples into world space.
package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrNoIntrinsics is returned when a frame or configuration carries no usable intrinsics.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// ErrDegenerateIntrinsics is returned when the camera matrix cannot be inverted.
var ErrDegenerateIntrinsics = errors.New("camera intrinsics are not invertible")

// NewNoIntrinsicsError wraps ErrNoIntrinsics with msg.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective projection of a 3D scene to the 2D plane.
// Width and Height are the resolution the focal lengths and principal point are expressed in.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// CheckValid reports the first parameter that cannot describe a real camera. Every failure wraps
// ErrNoIntrinsics.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("intrinsics are nil")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("image size %dx%d is empty", params.Width, params.Height))
	}
	for _, p := range []struct {
		name     string
		value    float64
		positive bool
	}{
		{"fx", params.Fx, true},
		{"fy", params.Fy, true},
		{"ppx", params.Ppx, false},
		{"ppy", params.Ppy, false},
	} {
		if math.IsNaN(p.value) || p.value < 0 || (p.positive && p.value == 0) {
			return NewNoIntrinsicsError(fmt.Sprintf("%s = %v is out of range", p.name, p.value))
		}
	}
	return nil
}

// NewPinholeCameraIntrinsicsFromJSONFile reads intrinsics written in the same JSON form the
// configuration file uses. The result is not validated.
func NewPinholeCameraIntrinsicsFromJSONFile(jsonPath string) (*PinholeCameraIntrinsics, error) {
	//nolint:gosec
	raw, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read intrinsics from %q", jsonPath)
	}
	var intrinsics PinholeCameraIntrinsics
	if err := json.Unmarshal(raw, &intrinsics); err != nil {
		return nil, errors.Wrapf(err, "cannot parse intrinsics in %q", jsonPath)
	}
	return &intrinsics, nil
}

// PixelToPoint transforms a pixel with depth to a 3D point in the camera frame, x right, y down
// and z forward.
func (params *PinholeCameraIntrinsics) PixelToPoint(x, y, z float64) (float64, float64, float64) {
	if params == nil {
		return 0, 0, 0
	}
	xOverZ := (x - params.Ppx) / params.Fx
	yOverZ := (y - params.Ppy) / params.Fy
	return xOverZ * z, yOverZ * z, z
}

// PointToPixel projects a 3D point in the camera frame to a pixel in the image plane. A point with
// zero depth maps to (-1, -1), which is outside every image.
func (params *PinholeCameraIntrinsics) PointToPixel(x, y, z float64) (float64, float64) {
	if z != 0 {
		return (x/z)*params.Fx + params.Ppx, (y/z)*params.Fy + params.Ppy
	}
	return -1.0, -1.0
}

// GetCameraMatrix returns K, the 3x3 matrix taking camera-frame rays to homogeneous pixels.
func (params *PinholeCameraIntrinsics) GetCameraMatrix() *mat.Dense {
	if params == nil {
		return nil
	}
	return mat.NewDense(3, 3, []float64{
		params.Fx, 0, params.Ppx,
		0, params.Fy, params.Ppy,
		0, 0, 1,
	})
}

// InverseMatrix inverts the camera matrix and narrows it to single precision. Singular or badly
// conditioned matrices fail with ErrDegenerateIntrinsics.
func (params *PinholeCameraIntrinsics) InverseMatrix() (mgl32.Mat3, error) {
	if params == nil {
		return mgl32.Mat3{}, NewNoIntrinsicsError("intrinsics are nil")
	}
	var inv mat.Dense
	if err := inv.Inverse(params.GetCameraMatrix()); err != nil {
		return mgl32.Mat3{}, errors.Wrapf(ErrDegenerateIntrinsics, "fx=%v fy=%v: %v", params.Fx, params.Fy, err)
	}
	var out mgl32.Mat3
	for r := range 3 {
		for c := range 3 {
			out.Set(r, c, float32(inv.At(r, c)))
		}
	}
	return out, nil
}
