// Package cli contains the depthcloud command line: replaying synthetic scans through the
// accumulation pipeline and querying exported clouds.
package cli

import (
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/guidedgrasp/depthcloud/config"
	"github.com/guidedgrasp/depthcloud/logging"
)

const (
	// Global flags.
	flagConfig = "config"
	flagDebug  = "debug"

	// Simulate flags.
	flagFrames   = "frames"
	flagCapacity = "capacity"
	flagOut      = "out"
	flagPoses    = "poses"
	flagTarget   = "target"
	flagTrace    = "trace"

	// Shared by simulate and query.
	flagHand         = "hand"
	flagSafeDistance = "safe-distance"

	// Query flags.
	flagIn = "in"
	flagK  = "k"
)

var app = &cli.App{
	Name:            "depthcloud",
	Usage:           "accumulate depth frames into a point cloud and query it",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    flagConfig,
			Aliases: []string{"c"},
			Usage:   "load pipeline configuration from `FILE`",
		},
		&cli.BoolFlag{
			Name:    flagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
	},
	Commands: []*cli.Command{
		{
			Name:      "simulate",
			Usage:     "scan a synthetic room with a camera sweep and accumulate the frames",
			UsageText: "depthcloud [global options] simulate [--frames N] [--out FILE] [--poses FILE] [--hand x,y,z]",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  flagFrames,
					Value: 60,
					Usage: "number of frames in the sweep",
				},
				&cli.IntFlag{
					Name:  flagCapacity,
					Usage: "override the point capacity of the configuration",
				},
				&cli.StringFlag{
					Name:  flagOut,
					Usage: "export the cloud to `FILE` (.ply, .pcd, .xyz or .las)",
				},
				&cli.StringFlag{
					Name:  flagPoses,
					Usage: "write the pose history as CSV to `FILE`",
				},
				&cli.StringFlag{
					Name:  flagHand,
					Usage: "check a hand at `x,y,z` against the accumulated cloud",
				},
				&cli.StringFlag{
					Name:  flagTarget,
					Usage: "report guidance from the last pose toward `x,y,z`",
				},
				&cli.Float64Flag{
					Name:  flagSafeDistance,
					Usage: "override the safe distance in meters",
				},
				&cli.BoolFlag{
					Name:  flagTrace,
					Usage: "log every batch written, tagged with its frame number",
				},
			},
			Action: SimulateAction,
		},
		{
			Name:      "query",
			Usage:     "find the points of an exported cloud nearest to a hand position",
			UsageText: "depthcloud [global options] query --in FILE --hand x,y,z [--k N]",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     flagIn,
					Required: true,
					Usage:    "read the cloud from `FILE` (.ply, .pcd, .xyz or .las)",
				},
				&cli.StringFlag{
					Name:     flagHand,
					Required: true,
					Usage:    "query position `x,y,z` in meters",
				},
				&cli.Float64Flag{
					Name:  flagSafeDistance,
					Usage: "override the safe distance in meters",
				},
				&cli.IntFlag{
					Name:  flagK,
					Value: 1,
					Usage: "number of nearest points to list",
				},
			},
			Action: QueryAction,
		},
	},
}

// NewApp returns the CLI application writing results to out and logs and errors to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}

// newLogger logs to the app's error writer so command output stays parseable.
func newLogger(c *cli.Context, name string) logging.Logger {
	logger := logging.NewBlankLogger(name)
	logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	logger.SetLevel(logging.INFO)
	if c.Bool(flagDebug) {
		logger.SetLevel(logging.DEBUG)
	}
	return logger
}

// loadConfig reads the --config file, or returns the defaults. The file's log level applies unless
// --debug was given.
func loadConfig(c *cli.Context, logger logging.Logger) (*config.Config, error) {
	path := c.String(flagConfig)
	if path == "" {
		cfg := config.Default()
		return &cfg, nil
	}
	cfg, err := config.Read(path, logger)
	if err != nil {
		return nil, err
	}
	if !c.Bool(flagDebug) {
		logger.SetLevel(cfg.LogLevel)
	}
	return cfg, nil
}

// parseVector parses "x,y,z".
func parseVector(s string) (r3.Vector, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return r3.Vector{}, errors.Errorf("expected x,y,z but got %q", s)
	}
	var coords [3]float64
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return r3.Vector{}, errors.Wrapf(err, "invalid coordinate %q", part)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return r3.Vector{}, errors.Errorf("coordinate %q is not finite", part)
		}
		coords[i] = f
	}
	return r3.Vector{X: coords[0], Y: coords[1], Z: coords[2]}, nil
}
