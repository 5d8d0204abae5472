// Package config defines the tunables of the accumulation pipeline and how to read them from a
// JSON file.
package config

import (
	"math"
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/guidedgrasp/depthcloud/logging"
	"github.com/guidedgrasp/depthcloud/rimage/transform"
)

// Reference values used when a field is not set.
const (
	DefaultCapacity              = 10_000_000
	DefaultTargetGridPoints      = 500
	DefaultConfidenceThreshold   = 2
	DefaultRotationThresholdDeg  = 2.0
	DefaultTranslationThresholdM = 0.02
	DefaultMaxInFlight           = 3
	DefaultZNear                 = 0.001
	DefaultSafeDistanceM         = 0.05
	DefaultGuidanceInterval      = 100 * time.Millisecond
	DefaultPoseHistorySize       = 1024
	DefaultTargetRangeM          = 0.75
)

// Config holds every tunable of the pipeline. Thresholds have no documented derivation and are
// meant to be adjusted per device.
type Config struct {
	ConfigFilePath string `json:"-"`

	// Capacity is the number of points the ring buffer holds.
	Capacity int `json:"capacity"`
	// TargetGridPoints is the approximate number of pixels unprojected per frame.
	TargetGridPoints int `json:"target_grid_points"`
	// ConfidenceThreshold is the lowest confidence ordinal that is unprojected.
	ConfidenceThreshold int `json:"confidence_threshold"`
	// RotationThresholdDeg is how far the camera must turn before a frame is accumulated.
	RotationThresholdDeg float64 `json:"rotation_threshold_deg"`
	// TranslationThresholdM is how far the camera must move before a frame is accumulated.
	TranslationThresholdM float64 `json:"translation_threshold_m"`
	// MaxInFlight bounds the unprojection batches outstanding at once.
	MaxInFlight int `json:"max_in_flight"`

	Orientation transform.Orientation `json:"orientation"`
	ZNear       float64               `json:"z_near"`
	// ZFar of zero means an infinite far plane.
	ZFar float64 `json:"z_far"`

	SafeDistanceM float64 `json:"safe_distance_m"`
	// TargetRangeM is the farthest from the camera a target may be placed. Zero means no limit.
	TargetRangeM     float64          `json:"target_range_m"`
	GuidanceInterval goutils.Duration `json:"guidance_interval"`
	PoseHistorySize  int              `json:"pose_history_size"`
	LogLevel         logging.Level    `json:"log_level"`

	// Intrinsics are used for frames that do not carry their own.
	Intrinsics *transform.PinholeCameraIntrinsics `json:"intrinsics,omitempty"`
}

// Default returns the reference configuration.
func Default() Config {
	return Config{
		Capacity:              DefaultCapacity,
		TargetGridPoints:      DefaultTargetGridPoints,
		ConfidenceThreshold:   DefaultConfidenceThreshold,
		RotationThresholdDeg:  DefaultRotationThresholdDeg,
		TranslationThresholdM: DefaultTranslationThresholdM,
		MaxInFlight:           DefaultMaxInFlight,
		Orientation:           transform.LandscapeRight,
		ZNear:                 DefaultZNear,
		ZFar:                  0,
		SafeDistanceM:         DefaultSafeDistanceM,
		TargetRangeM:          DefaultTargetRangeM,
		GuidanceInterval:      goutils.Duration(DefaultGuidanceInterval),
		PoseHistorySize:       DefaultPoseHistorySize,
		LogLevel:              logging.INFO,
	}
}

// Validate returns the first invalid field, if any.
func (c *Config) Validate(path string) error {
	if c.Capacity <= 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "capacity")
	}
	if c.TargetGridPoints <= 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "target_grid_points")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > math.MaxUint8 {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("confidence_threshold must be in [0, 255], got %d", c.ConfidenceThreshold))
	}
	if c.RotationThresholdDeg < 0 || c.RotationThresholdDeg > 180 {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("rotation_threshold_deg must be in [0, 180], got %v", c.RotationThresholdDeg))
	}
	if c.TranslationThresholdM < 0 {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("translation_threshold_m must not be negative, got %v", c.TranslationThresholdM))
	}
	if c.MaxInFlight <= 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "max_in_flight")
	}
	if c.ZNear <= 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "z_near")
	}
	if c.ZFar != 0 && c.ZFar <= c.ZNear {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("z_far must be 0 or beyond z_near, got %v", c.ZFar))
	}
	if c.SafeDistanceM < 0 {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("safe_distance_m must not be negative, got %v", c.SafeDistanceM))
	}
	if c.TargetRangeM < 0 {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("target_range_m must not be negative, got %v", c.TargetRangeM))
	}
	if c.GuidanceInterval <= 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "guidance_interval")
	}
	if c.PoseHistorySize <= 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "pose_history_size")
	}
	if c.Intrinsics != nil {
		if err := c.Intrinsics.CheckValid(); err != nil {
			return goutils.NewConfigValidationError(path+".intrinsics", err)
		}
	}
	return nil
}

// RotationThresholdCos is the cosine the gate compares forward-axis dot products against.
func (c *Config) RotationThresholdCos() float32 {
	return float32(math.Cos(c.RotationThresholdDeg * math.Pi / 180))
}

// TranslationThresholdSquared is the squared distance the gate compares camera movement against.
func (c *Config) TranslationThresholdSquared() float32 {
	t := float32(c.TranslationThresholdM)
	return t * t
}

// ProjectionParams returns the clip planes.
func (c *Config) ProjectionParams() transform.ProjectionParams {
	return transform.ProjectionParams{ZNear: float32(c.ZNear), ZFar: float32(c.ZFar)}
}
