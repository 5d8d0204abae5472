package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/guidedgrasp/depthcloud/logging"
	"github.com/guidedgrasp/depthcloud/rimage/transform"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	test.That(t, cfg.Validate("config"), test.ShouldBeNil)
	test.That(t, cfg.Capacity, test.ShouldEqual, 10_000_000)
	test.That(t, cfg.TargetGridPoints, test.ShouldEqual, 500)
	test.That(t, cfg.ConfidenceThreshold, test.ShouldEqual, 2)
	test.That(t, cfg.MaxInFlight, test.ShouldEqual, 3)
	test.That(t, cfg.Orientation, test.ShouldEqual, transform.LandscapeRight)
	test.That(t, time.Duration(cfg.GuidanceInterval), test.ShouldEqual, 100*time.Millisecond)

	test.That(t, cfg.RotationThresholdCos(), test.ShouldAlmostEqual, math.Cos(2*math.Pi/180), 1e-7)
	test.That(t, cfg.TranslationThresholdSquared(), test.ShouldAlmostEqual, 0.0004, 1e-9)
	test.That(t, cfg.ProjectionParams(), test.ShouldResemble, transform.DefaultProjectionParams)
}

func TestFromReader(t *testing.T) {
	logger := logging.NewTestLogger(t)
	cfg, err := FromReader("inline", strings.NewReader(`{
		"capacity": 1000,
		"orientation": "portrait",
		"guidance_interval": "250ms",
		"log_level": "debug",
		"intrinsics": {"width_px": 256, "height_px": 192, "fx": 200, "fy": 200, "ppx": 128, "ppy": 96}
	}`), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.ConfigFilePath, test.ShouldEqual, "inline")
	test.That(t, cfg.Capacity, test.ShouldEqual, 1000)
	test.That(t, cfg.Orientation, test.ShouldEqual, transform.Portrait)
	test.That(t, time.Duration(cfg.GuidanceInterval), test.ShouldEqual, 250*time.Millisecond)
	test.That(t, cfg.LogLevel, test.ShouldEqual, logging.DEBUG)
	test.That(t, cfg.Intrinsics.Width, test.ShouldEqual, 256)
	// untouched fields keep their defaults
	test.That(t, cfg.TargetGridPoints, test.ShouldEqual, DefaultTargetGridPoints)

	_, err = FromReader("inline", strings.NewReader(`{"capacity": 0}`), logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "capacity")

	_, err = FromReader("inline", strings.NewReader(`{"capacty": 10}`), logger)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = FromReader("inline", strings.NewReader(`{"orientation": "sideways"}`), logger)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = FromReader("inline", strings.NewReader(`{"intrinsics": {"width_px": 0}}`), logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"grid", func(c *Config) { c.TargetGridPoints = 0 }, "target_grid_points"},
		{"confidence", func(c *Config) { c.ConfidenceThreshold = 256 }, "confidence_threshold"},
		{"rotation", func(c *Config) { c.RotationThresholdDeg = -1 }, "rotation_threshold_deg"},
		{"translation", func(c *Config) { c.TranslationThresholdM = -0.1 }, "translation_threshold_m"},
		{"in flight", func(c *Config) { c.MaxInFlight = 0 }, "max_in_flight"},
		{"near", func(c *Config) { c.ZNear = 0 }, "z_near"},
		{"far", func(c *Config) { c.ZFar = 0.0001 }, "z_far"},
		{"safe distance", func(c *Config) { c.SafeDistanceM = -1 }, "safe_distance_m"},
		{"target range", func(c *Config) { c.TargetRangeM = -0.5 }, "target_range_m"},
		{"interval", func(c *Config) { c.GuidanceInterval = 0 }, "guidance_interval"},
		{"history", func(c *Config) { c.PoseHistorySize = 0 }, "pose_history_size"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate("config")
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.field)
		})
	}
}

func TestReadSubstitutesEnvironment(t *testing.T) {
	t.Setenv("DEPTHCLOUD_CAPACITY", "4096")
	fn := filepath.Join(t.TempDir(), "config.json")
	test.That(t, os.WriteFile(fn, []byte(`{"capacity": ${DEPTHCLOUD_CAPACITY}, "safe_distance_m": 0.1}`), 0o600), test.ShouldBeNil)

	cfg, err := Read(fn, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Capacity, test.ShouldEqual, 4096)
	test.That(t, cfg.SafeDistanceM, test.ShouldEqual, 0.1)
	test.That(t, cfg.ConfigFilePath, test.ShouldEqual, fn)

	_, err = Read(filepath.Join(t.TempDir(), "missing.json"), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}
