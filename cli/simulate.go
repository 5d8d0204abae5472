package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/guidedgrasp/depthcloud/accumulate"
	"github.com/guidedgrasp/depthcloud/guidance"
	"github.com/guidedgrasp/depthcloud/internal/scene"
	"github.com/guidedgrasp/depthcloud/logging"
	"github.com/guidedgrasp/depthcloud/pointcloud"
)

const (
	// simulateCapacity replaces the default capacity when no configuration file is given.
	simulateCapacity = 1_000_000
	frameInterval    = time.Second / 60
	spacingSamples   = 2000
)

// staticSource reports the same observation on every call.
type staticSource struct {
	obs guidance.Observation
}

func (s staticSource) Latest(ctx context.Context) (guidance.Observation, error) {
	return s.obs, nil
}

// SimulateAction renders a camera sweep through a synthetic room, accumulates every frame and
// prints the resulting statistics.
func SimulateAction(c *cli.Context) (err error) {
	logger := newLogger(c, "simulate")
	cfg, err := loadConfig(c, logger)
	if err != nil {
		return err
	}
	if c.String(flagConfig) == "" {
		cfg.Capacity = simulateCapacity
	}
	if c.IsSet(flagCapacity) {
		cfg.Capacity = c.Int(flagCapacity)
	}
	if c.IsSet(flagSafeDistance) {
		if cfg.SafeDistanceM = c.Float64(flagSafeDistance); !(cfg.SafeDistanceM >= 0) {
			return errors.Errorf("--%s must not be negative", flagSafeDistance)
		}
	}
	frames := c.Int(flagFrames)
	if frames <= 0 {
		return errors.Errorf("--%s must be positive", flagFrames)
	}

	var hand, target *r3.Vector
	for name, dst := range map[string]**r3.Vector{flagHand: &hand, flagTarget: &target} {
		if !c.IsSet(name) {
			continue
		}
		v, err := parseVector(c.String(name))
		if err != nil {
			return errors.Wrapf(err, "invalid --%s", name)
		}
		*dst = &v
	}

	room := scene.DefaultRoom()
	if cfg.Intrinsics != nil {
		room.Intrinsics = cfg.Intrinsics
	}
	acc, err := accumulate.NewAccumulator(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, acc.Close(c.Context))
	}()

	start := time.Now()
	for i, pose := range scene.Sweep(frames) {
		frame := room.Render(pose, start.Add(time.Duration(i)*frameInterval))
		ctx := c.Context
		if c.Bool(flagTrace) {
			ctx = logging.EnableTracing(ctx, fmt.Sprintf("frame-%d", i))
		}
		if _, err := acc.ProcessFrame(ctx, frame); err != nil {
			return errors.Wrapf(err, "frame %d", i)
		}
	}
	elapsed := time.Since(start)

	stats := acc.Stats()
	printf(c, "session:   %s", stats.Session)
	printf(c, "frames:    %d processed, %d accumulated, %d gated, %d skipped, %d aborted",
		stats.FramesProcessed, stats.FramesAccepted, stats.FramesGated, stats.FramesSkipped, stats.FramesAborted)
	printf(c, "points:    %d stored of %d capacity, %d written", stats.Size, stats.Capacity, stats.TotalWritten)
	meta := pointcloud.ComputeMetaData(acc.Cloud())
	if stats.Size > 0 {
		printf(c, "bounds:    x [%.3f, %.3f] y [%.3f, %.3f] z [%.3f, %.3f]",
			meta.MinX, meta.MaxX, meta.MinY, meta.MaxY, meta.MinZ, meta.MaxZ)
	}
	if stats.Size >= 2 {
		spacing, err := acc.SpatialIndex().SpacingStats(spacingSamples)
		if err != nil {
			return err
		}
		printf(c, "spacing:   mean %.4f m, median %.4f m, p90 %.4f m over %d points",
			spacing.Mean, spacing.Median, spacing.P90, spacing.Samples)
	}
	printf(c, "elapsed:   %s", elapsed.Round(time.Millisecond))

	if out := c.String(flagOut); out != "" {
		if err := pointcloud.WriteToFile(acc.Snapshot(), out); err != nil {
			return errors.Wrapf(err, "cannot export cloud to %q", out)
		}
		printf(c, "wrote %d points to %s", stats.Size, out)
	}
	if posesPath := c.String(flagPoses); posesPath != "" {
		if err := writePoses(acc, posesPath); err != nil {
			return err
		}
		printf(c, "wrote pose history to %s", posesPath)
	}

	if hand == nil && target == nil {
		return nil
	}
	source := staticSource{obs: lastObservation(acc, hand)}
	return reportGuidance(c, guidance.NewGuide(cfg, acc, source, logger.Sublogger("guidance")), target)
}

func writePoses(acc *accumulate.Accumulator, path string) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "cannot create %q", path)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return acc.WritePoses(f)
}

// lastObservation is what a hand tracker would report at the last camera pose of the sweep.
func lastObservation(acc *accumulate.Accumulator, hand *r3.Vector) guidance.Observation {
	var obs guidance.Observation
	if poses := acc.PoseHistory(); len(poses) > 0 {
		last := poses[len(poses)-1]
		obs.Time = last.Time
		obs.Camera = last.Position
		obs.ViewProjection = last.ViewProjection
	}
	if hand != nil {
		obs.Hand = *hand
		obs.HandFound = true
	}
	return obs
}

// reportGuidance runs a single guidance step and prints the advisory.
func reportGuidance(c *cli.Context, guide *guidance.Guide, target *r3.Vector) error {
	if target != nil {
		guide.SetTarget(*target)
	}
	adv, err := guide.Step(c.Context)
	if err != nil {
		return err
	}

	switch {
	case adv.Collision != nil:
		printf(c, "hand:      nearest point %.3f m away at (%.3f, %.3f, %.3f), colliding: %t",
			adv.Collision.Distance(), adv.Collision.Nearest.X, adv.Collision.Nearest.Y, adv.Collision.Nearest.Z,
			adv.Collision.Colliding)
	case adv.IndexEmpty:
		printf(c, "hand:      no points to check against")
	}
	if target != nil {
		printf(c, "guidance:  %s, %s (%s)", adv.Phase, adv.Direction, adv.Proximity)
		printf(c, "%s", adv.Message)
	}
	return nil
}

func printf(c *cli.Context, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(c.App.Writer, format+"\n", a...)
}
