package guidance

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/guidedgrasp/depthcloud/config"
	"github.com/guidedgrasp/depthcloud/logging"
	"github.com/guidedgrasp/depthcloud/pointcloud"
)

// ErrTargetOutOfRange is returned when a target is placed too far from the camera.
var ErrTargetOutOfRange = errors.New("target is out of range")

// Observation is the latest state reported by the hand tracking collaborator.
type Observation struct {
	Time time.Time
	// Hand is the tracked hand in world coordinates. It is only meaningful when HandFound is set.
	Hand      r3.Vector
	HandFound bool
	// Camera is the camera position in world coordinates.
	Camera         r3.Vector
	ViewProjection mgl32.Mat4
}

// HandSource delivers the latest observation.
type HandSource interface {
	Latest(ctx context.Context) (Observation, error)
}

// Indexer hands out a spatial index over the current cloud. *accumulate.Accumulator implements it.
type Indexer interface {
	SpatialIndex() *pointcloud.KDTree
}

// Advisory is what the guidance loop publishes on every tick.
type Advisory struct {
	Time      time.Time
	Phase     Phase
	Direction Direction
	Proximity Proximity
	Message   string
	// TargetDistance is the camera distance to the target, when a target is set.
	TargetDistance float64

	// Collision is nil when no hand was found or the cloud is still empty.
	Collision *Collision
	// IndexEmpty is set when a hand was found but there are no points to check it against.
	IndexEmpty bool
}

// Guide periodically checks the hand against the cloud and steers the camera toward the target.
type Guide struct {
	logger   logging.Logger
	indexer  Indexer
	source   HandSource
	checker     *CollisionChecker
	interval    time.Duration
	targetRange float64
	clock       clock.Clock

	mu     sync.Mutex
	target *r3.Vector
	phase  Phase

	advisories chan Advisory
}

// NewGuide builds a guide using the safe distance and interval of cfg.
func NewGuide(cfg *config.Config, indexer Indexer, source HandSource, logger logging.Logger) *Guide {
	return NewGuideWithClock(cfg, indexer, source, clock.New(), logger)
}

// NewGuideWithClock is NewGuide with the clock that paces Run.
func NewGuideWithClock(
	cfg *config.Config, indexer Indexer, source HandSource, clk clock.Clock, logger logging.Logger,
) *Guide {
	return &Guide{
		logger:     logger,
		indexer:    indexer,
		source:     source,
		checker:     NewCollisionChecker(cfg.SafeDistanceM),
		interval:    time.Duration(cfg.GuidanceInterval),
		targetRange: cfg.TargetRangeM,
		clock:       clk,
		advisories:  make(chan Advisory, 1),
	}
}

// SetTarget sets the world position to guide toward and restarts guidance.
func (g *Guide) SetTarget(target r3.Vector) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.target = &target
	g.phase = Guiding
	g.logger.Infow("target set", "x", target.X, "y", target.Y, "z", target.Z)
}

// AcquireTarget sets target only when it lies within the configured range of the current camera
// position. A target out of range fails with ErrTargetOutOfRange and leaves the guide unchanged.
func (g *Guide) AcquireTarget(ctx context.Context, target r3.Vector) error {
	obs, err := g.source.Latest(ctx)
	if err != nil {
		return errors.Wrap(err, "cannot get camera position")
	}
	if dist := obs.Camera.Distance(target); g.targetRange > 0 && !(dist <= g.targetRange) {
		return errors.Wrapf(ErrTargetOutOfRange, "target is %.2f m away, limit %.2f m", dist, g.targetRange)
	}
	g.SetTarget(target)
	return nil
}

// ClearTarget returns the guide to scanning.
func (g *Guide) ClearTarget() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.target = nil
	g.phase = Scanning
}

// Phase is the current phase.
func (g *Guide) Phase() Phase {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.phase
}

// Advisories receives the most recent advisory of each tick. Slow readers miss advisories rather
// than delaying the loop. The channel is closed when Run returns.
func (g *Guide) Advisories() <-chan Advisory {
	return g.advisories
}

// Step evaluates the latest observation once.
func (g *Guide) Step(ctx context.Context) (Advisory, error) {
	obs, err := g.source.Latest(ctx)
	if err != nil {
		return Advisory{}, errors.Wrap(err, "cannot get hand observation")
	}
	adv := Advisory{Time: obs.Time}

	if obs.HandFound {
		col, err := g.checker.Check(g.indexer.SpatialIndex(), obs.Hand)
		switch {
		case errors.Is(err, pointcloud.ErrEmptyIndex):
			adv.IndexEmpty = true
		case err != nil:
			return Advisory{}, err
		default:
			adv.Collision = &col
			if col.Colliding {
				g.logger.CDebugw(ctx, "hand near surface", "distance", col.Distance())
			}
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.target == nil || g.phase == Complete {
		adv.Phase = g.phase
		adv.Message = g.phase.String()
		return adv, nil
	}
	adv.TargetDistance = obs.Camera.Distance(*g.target)
	adv.Proximity = ProximityFor(adv.TargetDistance)
	if phase := PhaseFor(adv.TargetDistance); phase != g.phase {
		g.logger.Infow("guidance phase changed", "from", g.phase.String(), "to", phase.String(),
			"distance", adv.TargetDistance)
		g.phase = phase
	}
	adv.Phase = g.phase
	if g.phase == Complete {
		adv.Message = g.phase.String()
		return adv, nil
	}
	adv.Direction = TurnAround
	if screen, ok := ScreenPosition(obs.ViewProjection, *g.target); ok {
		adv.Direction = DirectionFor(screen)
	}
	adv.Message = Message(adv.Direction, adv.TargetDistance)
	return adv, nil
}

func (g *Guide) publish(adv Advisory) {
	select {
	case g.advisories <- adv:
		return
	default:
	}
	// replace the unread advisory with the newer one
	select {
	case <-g.advisories:
	default:
	}
	select {
	case g.advisories <- adv:
	default:
	}
}

// Run steps on every tick of the interval until ctx is done. Failed steps are logged and skipped.
// Run must be called at most once.
func (g *Guide) Run(ctx context.Context) {
	defer close(g.advisories)
	ticker := g.clock.Ticker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		adv, err := g.Step(ctx)
		if err != nil {
			g.logger.Debugw("guidance step failed", "error", err)
			continue
		}
		g.publish(adv)
	}
}
