package accumulate

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
	"golang.org/x/sync/semaphore"

	"github.com/guidedgrasp/depthcloud/config"
	"github.com/guidedgrasp/depthcloud/logging"
	"github.com/guidedgrasp/depthcloud/pointcloud"
	"github.com/guidedgrasp/depthcloud/rimage"
	"github.com/guidedgrasp/depthcloud/rimage/transform"
	"github.com/guidedgrasp/depthcloud/utils"
)

// Stats is a point-in-time summary of an Accumulator.
type Stats struct {
	Session uuid.UUID

	FramesProcessed uint64
	FramesAccepted  uint64
	FramesGated     uint64
	FramesSkipped   uint64
	FramesAborted   uint64
	FramesDropped   uint64

	PointsWritten uint64
	Size          int
	Capacity      int
	TotalWritten  uint64
}

// job is an accepted frame waiting for an in-flight slot.
type job struct {
	frame      *Frame
	transforms transform.FrameTransforms
	generation uint64
	sessionCtx context.Context
	logger     logging.Logger
}

// Accumulator owns the accumulated cloud and the per-session state that feeds it. Frames are
// gated on camera motion, unprojected with at most MaxInFlight batches outstanding, and written
// to the ring buffer one whole batch at a time.
type Accumulator struct {
	cfg       config.Config
	logger    logging.Logger
	gate      GateConfig
	threshold rimage.ConfidenceLevel

	ring     *pointcloud.RingBuffer
	grids    *rimage.SampleGridCache
	inFlight *semaphore.Weighted
	mailbox  *Mailbox

	// writeMu serializes batch writes and resets at the ring boundary. It is taken before mu.
	writeMu sync.Mutex

	mu            sync.Mutex
	motion        MotionState
	poses         *utils.Ring[PoseRecord]
	session       uuid.UUID
	sessionLogger logging.Logger
	generation    uint64
	sessionCtx    context.Context
	sessionCancel context.CancelFunc

	indexMu      sync.Mutex
	index        *pointcloud.KDTree
	indexVersion uint64

	workersMu sync.Mutex
	workers   *utils.StoppableWorkers
	pending   sync.WaitGroup

	// afterAcquire runs once a batch holds an in-flight slot. Tests use it to hold batches open.
	afterAcquire func()

	framesProcessed atomic.Uint64
	framesAccepted  atomic.Uint64
	framesGated     atomic.Uint64
	framesSkipped   atomic.Uint64
	framesAborted   atomic.Uint64
	pointsWritten   atomic.Uint64
	batchesInFlight atomic.Int64
}

// NewAccumulator allocates the ring buffer and the per-session state described by cfg. Failing to
// allocate the ring buffer is the only fatal error of the pipeline.
func NewAccumulator(cfg *config.Config, logger logging.Logger) (*Accumulator, error) {
	if err := cfg.Validate("config"); err != nil {
		return nil, err
	}
	ring, err := pointcloud.NewRingBuffer(cfg.Capacity)
	if err != nil {
		return nil, errors.Wrap(err, "cannot allocate point cloud")
	}
	poses, err := utils.NewRing[PoseRecord](cfg.PoseHistorySize)
	if err != nil {
		return nil, errors.Wrap(err, "cannot allocate pose history")
	}
	sessionCtx, sessionCancel := context.WithCancel(context.Background())
	a := &Accumulator{
		cfg:           *cfg,
		logger:        logger,
		gate:          NewGateConfig(cfg),
		threshold:     rimage.ConfidenceLevel(cfg.ConfidenceThreshold),
		ring:          ring,
		grids:         rimage.NewSampleGridCache(cfg.TargetGridPoints),
		inFlight:      semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		mailbox:       NewMailbox(),
		poses:         poses,
		session:       uuid.New(),
		sessionCtx:    sessionCtx,
		sessionCancel: sessionCancel,
	}
	a.sessionLogger = logger.WithFields("session", a.session.String())
	logger.Infow("accumulator ready",
		"session", a.session.String(),
		"capacity", cfg.Capacity,
		"max_in_flight", cfg.MaxInFlight,
		"target_grid_points", cfg.TargetGridPoints)
	return a, nil
}

// prepare computes the frame transforms, records the pose, and runs the motion gate. It returns
// nil when the frame is not to be accumulated.
func (a *Accumulator) prepare(frame *Frame) (*job, error) {
	a.framesProcessed.Add(1)
	if frame == nil {
		a.framesSkipped.Add(1)
		return nil, errors.New("nil frame")
	}
	if frame.Intrinsics == nil && a.cfg.Intrinsics != nil {
		withIntrinsics := *frame
		withIntrinsics.Intrinsics = a.cfg.Intrinsics
		frame = &withIntrinsics
	}
	if err := frame.Validate(); err != nil {
		a.framesSkipped.Add(1)
		a.sessionLog().Warnw("skipping frame", "time", frame.Timestamp, "error", err)
		return nil, err
	}
	transforms, err := transform.ComputeFrameTransforms(
		frame.CameraTransform, frame.Intrinsics, a.cfg.Orientation, frame.Viewport, a.cfg.ProjectionParams())
	if err != nil {
		a.framesSkipped.Add(1)
		a.sessionLog().Warnw("skipping frame with degenerate geometry", "time", frame.Timestamp, "error", err)
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	accept := a.gate.Accept(frame.CameraTransform, a.motion.LastTransform, a.ring.Size() == 0 || !a.motion.Valid)
	pose := NewPoseRecord(a.session, frame.Timestamp, frame.CameraTransform, transforms.ViewProjection)
	pose.Accumulated = accept
	a.poses.Push(pose)
	if !accept {
		a.framesGated.Add(1)
		return nil, nil
	}
	a.motion.Update(frame.CameraTransform)
	a.framesAccepted.Add(1)
	return &job{
		frame:      frame,
		transforms: transforms,
		generation: a.generation,
		sessionCtx: a.sessionCtx,
		logger:     a.sessionLogger,
	}, nil
}

// run unprojects an accepted frame and writes the batch. The caller holds an in-flight slot.
func (a *Accumulator) run(ctx context.Context, j *job) (int, error) {
	a.batchesInFlight.Add(1)
	defer a.batchesInFlight.Add(-1)
	if a.afterAcquire != nil {
		a.afterAcquire()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(j.sessionCtx, cancel)
	defer stop()

	grid := a.grids.Grid(j.frame.Intrinsics.Width, j.frame.Intrinsics.Height)
	points, err := UnprojectBatch(runCtx, grid, j.frame, j.transforms, a.threshold)
	if err != nil {
		a.framesAborted.Add(1)
		j.logger.CDebugw(ctx, "batch aborted", "time", j.frame.Timestamp, "error", err)
		return 0, err
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if a.currentGeneration() != j.generation || runCtx.Err() != nil {
		a.framesAborted.Add(1)
		j.logger.CDebugw(ctx, "batch aborted before write", "time", j.frame.Timestamp)
		return 0, errors.Wrap(ErrFrameAborted, "session reset")
	}
	a.ring.Write(points)
	a.pointsWritten.Add(uint64(len(points)))
	j.logger.CDebugw(ctx, "batch written", "time", j.frame.Timestamp, "points", len(points), "size", a.ring.Size())
	return len(points), nil
}

func (a *Accumulator) sessionLog() logging.Logger {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionLogger
}

func (a *Accumulator) currentGeneration() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.generation
}

// ProcessFrame runs one frame through the pipeline and returns how many points it added. Frames
// rejected by the gate add nothing and return no error. A frame with invalid geometry is skipped
// and its error returned; the pipeline stays usable. ProcessFrame blocks while MaxInFlight batches
// are outstanding.
func (a *Accumulator) ProcessFrame(ctx context.Context, frame *Frame) (int, error) {
	j, err := a.prepare(frame)
	if err != nil || j == nil {
		return 0, err
	}
	if err := a.inFlight.Acquire(ctx, 1); err != nil {
		a.framesAborted.Add(1)
		return 0, errors.Wrap(ErrFrameAborted, err.Error())
	}
	defer a.inFlight.Release(1)
	return a.run(ctx, j)
}

// dispatch is ProcessFrame for the drain loop: once a slot is held the batch runs in the
// background so the next frame can be gated.
func (a *Accumulator) dispatch(ctx context.Context, frame *Frame) {
	j, err := a.prepare(frame)
	if err != nil || j == nil {
		return
	}
	if err := a.inFlight.Acquire(ctx, 1); err != nil {
		a.framesAborted.Add(1)
		return
	}
	a.pending.Add(1)
	goutils.PanicCapturingGo(func() {
		defer a.pending.Done()
		defer a.inFlight.Release(1)
		if _, err := a.run(ctx, j); err != nil && !errors.Is(err, ErrFrameAborted) {
			a.logger.Warnw("batch failed", "error", err)
		}
	})
}

// Start launches the loop that drains frames handed to Submit. It is a no-op if already started.
func (a *Accumulator) Start() {
	a.workersMu.Lock()
	defer a.workersMu.Unlock()
	if a.workers != nil {
		return
	}
	a.workers = utils.NewStoppableWorkers(func(ctx context.Context) {
		for {
			frame, err := a.mailbox.Take(ctx)
			if err != nil {
				return
			}
			a.dispatch(ctx, frame)
		}
	})
}

// Submit hands a frame to the drain loop. A frame not yet picked up is replaced, and Submit
// reports whether that happened.
func (a *Accumulator) Submit(frame *Frame) bool {
	return a.mailbox.Put(frame)
}

// Close stops the drain loop and waits for outstanding batches.
func (a *Accumulator) Close(ctx context.Context) error {
	a.mailbox.Close()
	a.workersMu.Lock()
	workers := a.workers
	a.workersMu.Unlock()
	if workers != nil {
		workers.Stop()
	}
	a.pending.Wait()
	a.mu.Lock()
	a.sessionCancel()
	a.mu.Unlock()
	a.logger.CDebugw(ctx, "accumulator closed", "points", a.ring.Size())
	return nil
}

// Reset starts a new session. Outstanding batches of the old session write nothing, and the cloud,
// motion state and pose history are cleared.
func (a *Accumulator) Reset() uuid.UUID {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	a.mu.Lock()
	defer a.mu.Unlock()

	a.generation++
	a.sessionCancel()
	a.sessionCtx, a.sessionCancel = context.WithCancel(context.Background())
	old := a.session
	a.session = uuid.New()
	a.sessionLogger = a.logger.WithFields("session", a.session.String())
	a.motion = MotionState{}
	a.poses.Reset()
	a.ring.Reset()
	a.logger.Infow("session reset", "old_session", old.String(), "session", a.session.String())
	return a.session
}

// Session is the id of the current session.
func (a *Accumulator) Session() uuid.UUID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// Cloud is the live ring buffer. Use Snapshot for a copy that does not change.
func (a *Accumulator) Cloud() *pointcloud.RingBuffer {
	return a.ring
}

// Snapshot copies the accumulated points, oldest first.
func (a *Accumulator) Snapshot() pointcloud.Points {
	return a.ring.Snapshot()
}

// SpatialIndex returns a k-d tree over the accumulated points. The tree is rebuilt only when
// points were written since the last call.
func (a *Accumulator) SpatialIndex() *pointcloud.KDTree {
	a.indexMu.Lock()
	defer a.indexMu.Unlock()
	version := a.ring.Version()
	if a.index != nil && a.indexVersion == version {
		return a.index
	}
	a.index = pointcloud.NewKDTreeFromCloud(a.ring)
	a.indexVersion = version
	return a.index
}

// PoseHistory returns the retained pose records, oldest first.
func (a *Accumulator) PoseHistory() []PoseRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.poses.AppendTo(nil)
}

// WritePoses writes the retained pose history as CSV.
func (a *Accumulator) WritePoses(out io.Writer) error {
	return WritePoseCSV(out, a.PoseHistory())
}

// InFlight is the number of batches currently holding a slot.
func (a *Accumulator) InFlight() int {
	return int(a.batchesInFlight.Load())
}

// Stats summarizes the accumulator.
func (a *Accumulator) Stats() Stats {
	return Stats{
		Session:         a.Session(),
		FramesProcessed: a.framesProcessed.Load(),
		FramesAccepted:  a.framesAccepted.Load(),
		FramesGated:     a.framesGated.Load(),
		FramesSkipped:   a.framesSkipped.Load(),
		FramesAborted:   a.framesAborted.Load(),
		FramesDropped:   a.mailbox.Dropped(),
		PointsWritten:   a.pointsWritten.Load(),
		Size:            a.ring.Size(),
		Capacity:        a.ring.Capacity(),
		TotalWritten:    a.ring.TotalWritten(),
	}
}
