package cli

import (
	"fmt"
	"math"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/guidedgrasp/depthcloud/guidance"
	"github.com/guidedgrasp/depthcloud/pointcloud"
)

// QueryAction loads an exported cloud, indexes it and reports the points nearest to --hand and
// whether the hand is within the safe distance of any of them.
func QueryAction(c *cli.Context) error {
	logger := newLogger(c, "query")
	cfg, err := loadConfig(c, logger)
	if err != nil {
		return err
	}
	if c.IsSet(flagSafeDistance) {
		if cfg.SafeDistanceM = c.Float64(flagSafeDistance); !(cfg.SafeDistanceM >= 0) {
			return errors.Errorf("--%s must not be negative", flagSafeDistance)
		}
	}
	hand, err := parseVector(c.String(flagHand))
	if err != nil {
		return errors.Wrapf(err, "invalid --%s", flagHand)
	}
	k := c.Int(flagK)
	if k <= 0 {
		return errors.Errorf("--%s must be positive", flagK)
	}

	in := c.String(flagIn)
	cloud, err := pointcloud.NewFromFile(in, logger)
	if err != nil {
		return errors.Wrapf(err, "cannot read %q", in)
	}
	tree := pointcloud.NewKDTreeFromCloud(cloud)
	logger.Debugw("indexed cloud", "file", in, "points", tree.Size())

	col, err := guidance.NewCollisionChecker(cfg.SafeDistanceM).Check(tree, hand)
	if err != nil {
		return errors.Wrapf(err, "cannot query %q", in)
	}
	neighbors, err := tree.KNearest(hand, k)
	if err != nil {
		return err
	}

	printf(c, "points:    %d", tree.Size())
	printf(c, "colliding: %t (safe distance %.3f m, nearest %.4f m)", col.Colliding, cfg.SafeDistanceM, col.Distance())
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "X", "Y", "Z", "Distance (m)"})
	for i, n := range neighbors {
		t.AppendRow(table.Row{
			i,
			fmt.Sprintf("%.4f", n.Point.X),
			fmt.Sprintf("%.4f", n.Point.Y),
			fmt.Sprintf("%.4f", n.Point.Z),
			fmt.Sprintf("%.4f", math.Sqrt(n.DistanceSquared)),
		})
	}
	printf(c, "%s", t.Render())
	return nil
}
