// Package accumulate turns a stream of depth frames into an accumulated world-space point cloud.
// Frames pass a motion gate, a sparse set of their pixels is back-projected, and each accepted
// batch is written whole into a bounded ring buffer.
package accumulate

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/guidedgrasp/depthcloud/config"
)

// GateConfig holds the motion thresholds in the form ShouldAccumulate compares against.
type GateConfig struct {
	RotationThresholdCos        float32
	TranslationThresholdSquared float32
}

// NewGateConfig derives the gate thresholds from cfg.
func NewGateConfig(cfg *config.Config) GateConfig {
	return GateConfig{
		RotationThresholdCos:        cfg.RotationThresholdCos(),
		TranslationThresholdSquared: cfg.TranslationThresholdSquared(),
	}
}

// ShouldAccumulate reports whether the camera at current has moved far enough from last to be
// worth capturing. The forward axis is the third column and the position the fourth. Both
// comparisons are inclusive.
func ShouldAccumulate(current, last mgl32.Mat4, rotationThresholdCos, translationThresholdSquared float32, hasNoPointsYet bool) bool {
	if hasNoPointsYet {
		return true
	}
	if current.Col(2).Vec3().Dot(last.Col(2).Vec3()) <= rotationThresholdCos {
		return true
	}
	return current.Col(3).Vec3().Sub(last.Col(3).Vec3()).LenSqr() >= translationThresholdSquared
}

// Accept is ShouldAccumulate with the thresholds of g.
func (g GateConfig) Accept(current, last mgl32.Mat4, hasNoPointsYet bool) bool {
	return ShouldAccumulate(current, last, g.RotationThresholdCos, g.TranslationThresholdSquared, hasNoPointsYet)
}

// MotionState is the camera pose at the last accepted frame.
type MotionState struct {
	LastTransform mgl32.Mat4
	// Valid is false until a frame has been accepted.
	Valid bool
}

// Update records current as the last accepted pose.
func (m *MotionState) Update(current mgl32.Mat4) {
	m.LastTransform = current
	m.Valid = true
}
