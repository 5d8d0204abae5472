// Package scene renders synthetic depth frames of a box-shaped room. It stands in for the camera
// and tracking collaborators when replaying or testing the pipeline.
package scene

import (
	"image"
	"image/color"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/golang/geo/r3"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/guidedgrasp/depthcloud/accumulate"
	"github.com/guidedgrasp/depthcloud/rimage"
	"github.com/guidedgrasp/depthcloud/rimage/transform"
)

// Plane is the set of points x with Normal·x = Offset.
type Plane struct {
	Normal r3.Vector
	Offset float64
	Color  color.NRGBA
}

// Room is a set of planes seen through a pinhole camera.
type Room struct {
	Planes     []Plane
	Intrinsics *transform.PinholeCameraIntrinsics
	// MaxRange is the depth beyond which samples are reported with low confidence.
	MaxRange float64
}

// DefaultIntrinsics match a 256x192 depth sensor.
func DefaultIntrinsics() *transform.PinholeCameraIntrinsics {
	return &transform.PinholeCameraIntrinsics{Width: 256, Height: 192, Fx: 211, Fy: 211, Ppx: 128, Ppy: 96}
}

// DefaultRoom has a back wall 2 m ahead, a floor 1 m below and a side wall 1.5 m to the left.
func DefaultRoom() *Room {
	return &Room{
		Planes: []Plane{
			{Normal: r3.Vector{Z: 1}, Offset: -2, Color: color.NRGBA{R: 120, G: 140, B: 200, A: 255}},
			{Normal: r3.Vector{Y: 1}, Offset: -1, Color: color.NRGBA{R: 150, G: 110, B: 70, A: 255}},
			{Normal: r3.Vector{X: 1}, Offset: -1.5, Color: color.NRGBA{R: 200, G: 200, B: 190, A: 255}},
		},
		Intrinsics: DefaultIntrinsics(),
		MaxRange:   4,
	}
}

// Intersect returns the ray parameter of the first plane hit from origin along dir, and that plane.
func (r *Room) Intersect(origin, dir r3.Vector) (float64, *Plane) {
	best := math.Inf(1)
	var hit *Plane
	for i := range r.Planes {
		p := &r.Planes[i]
		denom := p.Normal.Dot(dir)
		if math.Abs(denom) < 1e-9 {
			continue
		}
		t := (p.Offset - p.Normal.Dot(origin)) / denom
		if t > 0 && t < best {
			best, hit = t, p
		}
	}
	return best, hit
}

// Render produces the frame seen from pose. Pixels that see nothing have zero depth and a
// two-pixel border is reported with low confidence.
func (r *Room) Render(pose mgl32.Mat4, t time.Time) *accumulate.Frame {
	intr := r.Intrinsics
	depth := rimage.NewEmptyDepthMap(intr.Width, intr.Height)
	confidence := rimage.NewEmptyConfidenceMap(intr.Width, intr.Height)
	img := image.NewNRGBA(image.Rect(0, 0, intr.Width, intr.Height))

	rot := pose.Mat3()
	col := pose.Col(3)
	origin := r3.Vector{X: float64(col.X()), Y: float64(col.Y()), Z: float64(col.Z())}
	for y := 0; y < intr.Height; y++ {
		for x := 0; x < intr.Width; x++ {
			// image frame is x right, y down, z forward; the camera frame looks down -z with y up
			rx, ry, _ := intr.PixelToPoint(float64(x), float64(y), 1)
			d := rot.Mul3x1(mgl32.Vec3{float32(rx), float32(-ry), -1})
			dir := r3.Vector{X: float64(d.X()), Y: float64(d.Y()), Z: float64(d.Z())}

			dist, plane := r.Intersect(origin, dir)
			if plane == nil {
				continue
			}
			depth.Set(x, y, float32(dist))
			level := rimage.ConfidenceHigh
			switch {
			case x < 2 || y < 2 || x >= intr.Width-2 || y >= intr.Height-2:
				level = rimage.ConfidenceLow
			case r.MaxRange > 0 && dist > r.MaxRange:
				level = rimage.ConfidenceMedium
			}
			confidence.Set(x, y, level)
			img.SetNRGBA(x, y, shade(plane.Color, origin.Add(dir.Mul(dist))))
		}
	}
	return &accumulate.Frame{
		Timestamp:       t,
		CameraTransform: pose,
		Intrinsics:      intr,
		Depth:           depth,
		Confidence:      confidence,
		Color:           img,
	}
}

// shade darkens alternate 20 cm tiles, keeping their hue.
func shade(c color.NRGBA, p r3.Vector) color.NRGBA {
	tile := int(math.Floor(p.X*5)) + int(math.Floor(p.Y*5)) + int(math.Floor(p.Z*5))
	if tile%2 == 0 {
		return c
	}
	cc, ok := colorful.MakeColor(c)
	if !ok {
		return c
	}
	h, chroma, l := cc.Hcl()
	r, g, b := colorful.Hcl(h, chroma, l*0.6).Clamped().RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: c.A}
}

// Sweep returns n camera poses panning left to right across the room while sliding sideways.
func Sweep(n int) []mgl32.Mat4 {
	poses := make([]mgl32.Mat4, 0, n)
	for i := 0; i < n; i++ {
		f := float32(0)
		if n > 1 {
			f = float32(i) / float32(n-1)
		}
		pose := mgl32.Translate3D(-0.4+0.8*f, 0, 0).
			Mul4(mgl32.HomogRotate3DY(mgl32.DegToRad(15 - 30*f))).
			Mul4(mgl32.HomogRotate3DX(mgl32.DegToRad(-10)))
		poses = append(poses, pose)
	}
	return poses
}
