package guidance

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// Direction tells the user which way to turn the camera toward the target.
type Direction int

// Directions, from the target's position on screen.
const (
	OnScreen Direction = iota
	GoUp
	GoDown
	GoLeft
	GoRight
	// TurnAround means the target is behind the camera.
	TurnAround
)

func (d Direction) String() string {
	switch d {
	case OnScreen:
		return "on Screen"
	case GoUp:
		return "go Up"
	case GoDown:
		return "go Down"
	case GoLeft:
		return "go Left"
	case GoRight:
		return "go Right"
	case TurnAround:
		return "turn Around"
	default:
		return "unknown"
	}
}

// ScreenPosition projects a world point with a view-projection matrix into normalized screen
// coordinates, where (0, 0) is the bottom left and (1, 1) the top right. It returns false when the
// point is behind the camera.
func ScreenPosition(viewProjection mgl32.Mat4, p r3.Vector) (r2.Point, bool) {
	clip := viewProjection.Mul4x1(mgl32.Vec4{float32(p.X), float32(p.Y), float32(p.Z), 1})
	if clip.W() <= 0 {
		return r2.Point{}, false
	}
	return r2.Point{
		X: (float64(clip.X()/clip.W()) + 1) / 2,
		Y: (float64(clip.Y()/clip.W()) + 1) / 2,
	}, true
}

// DirectionFor picks the direction for a target at the given normalized screen position.
func DirectionFor(screen r2.Point) Direction {
	switch {
	case screen.X >= 0.2 && screen.X <= 0.8 && screen.Y >= 0.1 && screen.Y <= 0.9:
		return OnScreen
	case screen.X < 0.2:
		return GoLeft
	case screen.X > 0.8:
		return GoRight
	case screen.Y < 0.2:
		return GoDown
	default:
		return GoUp
	}
}

// Message is the text shown for a direction. On-screen targets include the distance in meters.
func Message(d Direction, distance float64) string {
	if d == OnScreen {
		return fmt.Sprintf("%s\n%.2f m", d, distance)
	}
	return d.String()
}

// Phase is the stage of a guidance session.
type Phase int

// Guidance phases.
const (
	// Scanning lasts until a target position is known.
	Scanning Phase = iota
	Guiding
	Complete
)

// ReachedDistance is how close the camera must be to the target for guidance to complete.
const ReachedDistance = 0.25

func (p Phase) String() string {
	switch p {
	case Scanning:
		return "scanning"
	case Guiding:
		return "guiding"
	case Complete:
		return "complete"
	default:
		return "unknown"
	}
}

// PhaseFor is the phase for a camera distance meters from the target.
func PhaseFor(distance float64) Phase {
	if distance < ReachedDistance {
		return Complete
	}
	return Guiding
}

// Proximity buckets the distance to the target for haptic feedback.
type Proximity int

// Proximity bands.
const (
	Far Proximity = iota
	Mid
	Near
)

func (p Proximity) String() string {
	switch p {
	case Near:
		return "near"
	case Mid:
		return "mid"
	default:
		return "far"
	}
}

// ProximityFor returns Near under 0.45 m, Mid under 0.65 m and Far otherwise.
func ProximityFor(distance float64) Proximity {
	switch {
	case distance < 0.45:
		return Near
	case distance < 0.65:
		return Mid
	default:
		return Far
	}
}
