package accumulate

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// PoseRecord is the camera state logged for every processed frame.
type PoseRecord struct {
	Session  uuid.UUID
	Time     time.Time
	Position r3.Vector
	// Roll, Pitch and Yaw are in radians about the z, x and y axes, applied in that order.
	Roll, Pitch, Yaw float64
	ViewProjection   mgl32.Mat4
	Accumulated      bool
}

// EulerAngles decomposes the rotation of a camera transform as Ry(yaw) * Rx(pitch) * Rz(roll).
func EulerAngles(m mgl32.Mat4) (roll, pitch, yaw float64) {
	at := func(row, col int) float64 { return float64(m.At(row, col)) }
	sinPitch := math.Max(-1, math.Min(1, -at(1, 2)))
	pitch = math.Asin(sinPitch)
	roll = math.Atan2(at(1, 0), at(1, 1))
	yaw = math.Atan2(at(0, 2), at(2, 2))
	return roll, pitch, yaw
}

// NewPoseRecord captures the pose of one frame.
func NewPoseRecord(session uuid.UUID, t time.Time, cameraTransform, viewProjection mgl32.Mat4) PoseRecord {
	roll, pitch, yaw := EulerAngles(cameraTransform)
	pos := cameraTransform.Col(3)
	return PoseRecord{
		Session:        session,
		Time:           t,
		Position:       r3.Vector{X: float64(pos.X()), Y: float64(pos.Y()), Z: float64(pos.Z())},
		Roll:           roll,
		Pitch:          pitch,
		Yaw:            yaw,
		ViewProjection: viewProjection,
	}
}

var poseCSVHeader = func() []string {
	header := []string{"session", "time", "roll", "pitch", "yaw", "x", "y", "z", "accumulated"}
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			header = append(header, fmt.Sprintf("vp%d%d", row, col))
		}
	}
	return header
}()

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// WritePoseCSV writes records as CSV with a header row. Times are unix seconds and the
// view-projection matrix follows in column-major order.
func WritePoseCSV(out io.Writer, records []PoseRecord) error {
	w := csv.NewWriter(out)
	if err := w.Write(poseCSVHeader); err != nil {
		return errors.Wrap(err, "writing pose header")
	}
	row := make([]string, 0, len(poseCSVHeader))
	for _, rec := range records {
		row = row[:0]
		row = append(row,
			rec.Session.String(),
			strconv.FormatFloat(float64(rec.Time.UnixNano())/1e9, 'f', 6, 64),
			formatFloat(rec.Roll),
			formatFloat(rec.Pitch),
			formatFloat(rec.Yaw),
			formatFloat(rec.Position.X),
			formatFloat(rec.Position.Y),
			formatFloat(rec.Position.Z),
			strconv.FormatBool(rec.Accumulated),
		)
		for _, v := range rec.ViewProjection {
			row = append(row, strconv.FormatFloat(float64(v), 'g', -1, 32))
		}
		if err := w.Write(row); err != nil {
			return errors.Wrap(err, "writing pose record")
		}
	}
	w.Flush()
	return w.Error()
}
